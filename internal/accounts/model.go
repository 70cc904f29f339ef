package accounts

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/datatypes"
)

// Role discriminates the two account variants.
type Role string

const (
	// RoleParent marks supervising accounts that hold a family code.
	RoleParent Role = "parent"
	// RoleChild marks supervised accounts that own notes and folders.
	RoleChild Role = "child"
)

var (
	// ErrInvalidRole indicates an unrecognized role value.
	ErrInvalidRole = errors.New("accounts: invalid role")
	// ErrRoleMismatch indicates a record was narrowed to the wrong role view.
	ErrRoleMismatch = errors.New("accounts: role mismatch")
)

// ParseRole validates a raw role value.
func ParseRole(rawInput string) (Role, error) {
	switch strings.ToLower(strings.TrimSpace(rawInput)) {
	case string(RoleParent):
		return RoleParent, nil
	case string(RoleChild):
		return RoleChild, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidRole, rawInput)
	}
}

// NormalizeEmail lowercases and trims an email address so lookups and the
// uniqueness constraint are case-insensitive.
func NormalizeEmail(rawInput string) string {
	return strings.ToLower(strings.TrimSpace(rawInput))
}

// Record is the persisted account row. Both role variants share the table;
// the role-specific columns stay null for the other variant.
type Record struct {
	ID                         string                      `gorm:"column:account_id;primaryKey;size:190;not null"`
	Email                      string                      `gorm:"column:email;size:320;not null;uniqueIndex"`
	DisplayName                string                      `gorm:"column:display_name;size:320;not null"`
	PasswordHash               string                      `gorm:"column:password_hash;size:190;not null"`
	Role                       Role                        `gorm:"column:role;size:16;not null;index"`
	FamilyCode                 *string                     `gorm:"column:family_code;size:16;uniqueIndex"`
	FamilyCodeExpiresAtSeconds *int64                      `gorm:"column:family_code_expires_at_s"`
	ChildrenIDs                datatypes.JSONSlice[string] `gorm:"column:children_ids"`
	ParentID                   *string                     `gorm:"column:parent_id;size:190;index"`
	CreatedAtSeconds           int64                       `gorm:"column:created_at_s;not null"`
	UpdatedAtSeconds           int64                       `gorm:"column:updated_at_s;not null"`
}

// TableName provides the explicit table binding for GORM.
func (Record) TableName() string {
	return "accounts"
}

// CreatedAt exposes the creation timestamp as wall-clock time.
func (r Record) CreatedAt() time.Time {
	return time.Unix(r.CreatedAtSeconds, 0).UTC()
}

// HasChild reports whether childID is present in the children set.
func (r Record) HasChild(childID string) bool {
	for _, id := range r.ChildrenIDs {
		if id == childID {
			return true
		}
	}
	return false
}

// AddChild inserts childID preserving set semantics.
func (r *Record) AddChild(childID string) {
	if r.HasChild(childID) {
		return
	}
	r.ChildrenIDs = append(r.ChildrenIDs, childID)
}

// RemoveChild drops childID from the children set and reports whether it was
// present.
func (r *Record) RemoveChild(childID string) bool {
	for index, id := range r.ChildrenIDs {
		if id == childID {
			r.ChildrenIDs = append(r.ChildrenIDs[:index], r.ChildrenIDs[index+1:]...)
			return true
		}
	}
	return false
}

// FamilyCodeExpired reports whether the stored code expiry has passed. A nil
// expiry never expires; the code itself stays stored either way.
func (r Record) FamilyCodeExpired(now time.Time) bool {
	return r.FamilyCodeExpiresAtSeconds != nil && *r.FamilyCodeExpiresAtSeconds < now.UTC().Unix()
}

// Parent is the role-narrowed view of a parent record.
type Parent struct {
	ID                  string
	Email               string
	DisplayName         string
	FamilyCode          *string
	FamilyCodeExpiresAt *time.Time
	ChildIDs            []string
	CreatedAt           time.Time
}

// Child is the role-narrowed view of a child record.
type Child struct {
	ID          string
	Email       string
	DisplayName string
	ParentID    *string
	CreatedAt   time.Time
}

// AsParent narrows the record to its parent view.
func (r Record) AsParent() (Parent, error) {
	if r.Role != RoleParent {
		return Parent{}, fmt.Errorf("%w: expected %s, got %s", ErrRoleMismatch, RoleParent, r.Role)
	}
	view := Parent{
		ID:          r.ID,
		Email:       r.Email,
		DisplayName: r.DisplayName,
		FamilyCode:  r.FamilyCode,
		ChildIDs:    append([]string(nil), r.ChildrenIDs...),
		CreatedAt:   r.CreatedAt(),
	}
	if r.FamilyCodeExpiresAtSeconds != nil {
		expiry := time.Unix(*r.FamilyCodeExpiresAtSeconds, 0).UTC()
		view.FamilyCodeExpiresAt = &expiry
	}
	return view, nil
}

// AsChild narrows the record to its child view.
func (r Record) AsChild() (Child, error) {
	if r.Role != RoleChild {
		return Child{}, fmt.Errorf("%w: expected %s, got %s", ErrRoleMismatch, RoleChild, r.Role)
	}
	return Child{
		ID:          r.ID,
		Email:       r.Email,
		DisplayName: r.DisplayName,
		ParentID:    r.ParentID,
		CreatedAt:   r.CreatedAt(),
	}, nil
}
