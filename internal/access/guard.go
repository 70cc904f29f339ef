package access

import (
	"github.com/nestnotes/backend/internal/accounts"
	"github.com/nestnotes/backend/internal/fault"
)

const reasonNotAuthorized = "not_authorized"

// CanRead reports whether the viewer may read resources owned by ownerID.
// Owners always read their own resources; a parent additionally reads the
// resources of every linked child.
func CanRead(viewer accounts.Record, ownerID string) bool {
	if viewer.ID == ownerID {
		return true
	}
	return viewer.Role == accounts.RoleParent && viewer.HasChild(ownerID)
}

// CanWrite reports whether the viewer may create, modify, or delete resources
// owned by ownerID. Only the owner writes; the parent link never grants write.
func CanWrite(viewer accounts.Record, ownerID string) bool {
	return viewer.ID == ownerID
}

// RequireRead returns a forbidden fault coded under the caller's operation
// when the viewer may not read resources owned by ownerID.
func RequireRead(operation string, viewer accounts.Record, ownerID string) error {
	if CanRead(viewer, ownerID) {
		return nil
	}
	return fault.New(fault.Forbidden, operation, reasonNotAuthorized, nil)
}

// RequireWrite returns a forbidden fault coded under the caller's operation
// when the viewer may not write resources owned by ownerID.
func RequireWrite(operation string, viewer accounts.Record, ownerID string) error {
	if CanWrite(viewer, ownerID) {
		return nil
	}
	return fault.New(fault.Forbidden, operation, reasonNotAuthorized, nil)
}
