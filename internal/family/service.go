package family

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/nestnotes/backend/internal/accounts"
	"github.com/nestnotes/backend/internal/fault"
)

var (
	errMissingDatabase = errors.New("database handle is required")
	noOpLogger         = zap.NewNop()
)

const (
	opServiceNew     = "family.service.new"
	opIssueCode      = "family.issue_code"
	opAttachAtSignup = "family.attach_child"
	opRegenerateCode = "family.regenerate_code"
	opJoin           = "family.join"
	opLeave          = "family.leave"
	opRemoveChild    = "family.remove_child"
	opLinkByEmail    = "family.link_by_email"
	opDashboard      = "family.dashboard"
	opMyParent       = "family.my_parent"
)

const (
	reasonMissingDatabase = "missing_database"
	reasonRoleMismatch    = "role_mismatch"
	reasonAccountMissing  = "account_missing"
	reasonInvalidCode     = "invalid_code"
	reasonCodeExpired     = "code_expired"
	reasonAlreadyLinked   = "already_linked"
	reasonNotLinked       = "not_linked"
	reasonChildNotFound   = "child_not_found"
	reasonInvalidEmail    = "invalid_email"
	reasonInvalidExpiry   = "invalid_expiry"
	reasonCodeExhausted   = "code_generation_exhausted"
	reasonLookupFailed    = "lookup_failed"
	reasonSaveFailed      = "save_failed"
)

const (
	// MessageNotLinked is reported to a child with no membership link.
	MessageNotLinked = "Not linked to any parent account"
	// MessageParentGone is reported when a child's parent reference dangles.
	MessageParentGone = "Parent account no longer exists"
)

type ServiceConfig struct {
	Database *gorm.DB
	Clock    func() time.Time
	Logger   *zap.Logger
}

// Service owns the membership link between parent and child accounts. Every
// transition writes both sides of the link inside one transaction.
type Service struct {
	db     *gorm.DB
	store  *accounts.Store
	clock  func() time.Time
	logger *zap.Logger
}

func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, fault.New(fault.Internal, opServiceNew, reasonMissingDatabase, errMissingDatabase)
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}

	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}

	return &Service{
		db:     cfg.Database,
		store:  accounts.NewStore(cfg.Database),
		clock:  clock,
		logger: logger,
	}, nil
}

// CodeGrant describes a freshly issued family code.
type CodeGrant struct {
	Code      string
	ExpiresAt *time.Time
}

// LinkResult identifies the parent a child just linked to.
type LinkResult struct {
	ParentID   string
	ParentName string
}

// ChildSummary is the parent-facing view of a linked child account.
type ChildSummary struct {
	ID          string
	Email       string
	DisplayName string
	CreatedAt   time.Time
}

// DashboardView aggregates a parent's code and linked children.
type DashboardView struct {
	FamilyCode          *string
	FamilyCodeExpiresAt *time.Time
	Children            []ChildSummary
}

// ParentSummary is the child-facing view of the linked parent account.
type ParentSummary struct {
	ID          string
	Email       string
	DisplayName string
}

// ParentStatus reports the linked parent, or a message explaining its absence.
type ParentStatus struct {
	Parent  *ParentSummary
	Message string
}

// IssueCode generates a family code that no parent currently holds. The
// uniqueness check runs against the supplied transaction handle so callers
// can issue codes atomically with the write that stores them.
func (s *Service) IssueCode(ctx context.Context, tx *gorm.DB) (string, error) {
	store := accounts.NewStore(tx)
	for attempt := 0; attempt < maxCodeAttempts; attempt++ {
		code, err := GenerateCode()
		if err != nil {
			s.logError(opIssueCode, "generation_failed", err)
			return "", fault.New(fault.Internal, opIssueCode, "generation_failed", err)
		}
		taken, err := store.FamilyCodeExists(ctx, code)
		if err != nil {
			s.logError(opIssueCode, reasonLookupFailed, err)
			return "", fault.New(fault.Unavailable, opIssueCode, reasonLookupFailed, err)
		}
		if !taken {
			return code, nil
		}
	}
	s.logError(opIssueCode, reasonCodeExhausted, nil)
	return "", fault.New(fault.Unavailable, opIssueCode, reasonCodeExhausted, nil)
}

// AttachChildAtSignup links a child record that is about to be created to the
// parent holding the supplied code. An unknown code rejects the signup as a
// whole; an expired code leaves the child unlinked without failing signup.
func (s *Service) AttachChildAtSignup(ctx context.Context, tx *gorm.DB, child *accounts.Record, rawCode string) error {
	code := NormalizeCode(rawCode)
	if code == "" {
		return fault.New(fault.Conflict, opAttachAtSignup, reasonInvalidCode, nil)
	}

	store := accounts.NewStore(tx)
	parent, err := store.FindParentByCodeForUpdate(ctx, code)
	if errors.Is(err, accounts.ErrNotFound) {
		return fault.New(fault.Conflict, opAttachAtSignup, reasonInvalidCode, nil)
	}
	if err != nil {
		s.logError(opAttachAtSignup, reasonLookupFailed, err)
		return fault.New(fault.Unavailable, opAttachAtSignup, reasonLookupFailed, err)
	}

	now := s.clock().UTC()
	if parent.FamilyCodeExpired(now) {
		return nil
	}

	parent.AddChild(child.ID)
	parent.UpdatedAtSeconds = now.Unix()
	if err := store.Save(ctx, &parent); err != nil {
		s.logError(opAttachAtSignup, reasonSaveFailed, err, zap.String("parent_id", parent.ID))
		return fault.New(fault.Unavailable, opAttachAtSignup, reasonSaveFailed, err)
	}
	child.ParentID = &parent.ID
	return nil
}

// RegenerateCode replaces the parent's family code. The old code becomes
// permanently invalid; the new one expires after the optional day count.
func (s *Service) RegenerateCode(ctx context.Context, viewer accounts.Record, expiresInDays *int) (CodeGrant, error) {
	if viewer.Role != accounts.RoleParent {
		return CodeGrant{}, fault.New(fault.Forbidden, opRegenerateCode, reasonRoleMismatch, nil)
	}
	if expiresInDays != nil && *expiresInDays < 0 {
		return CodeGrant{}, fault.New(fault.Validation, opRegenerateCode, reasonInvalidExpiry, nil)
	}

	var grant CodeGrant
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		store := accounts.NewStore(tx)
		parent, err := store.FindByIDForUpdate(ctx, viewer.ID)
		if errors.Is(err, accounts.ErrNotFound) {
			return fault.New(fault.NotFound, opRegenerateCode, reasonAccountMissing, err)
		}
		if err != nil {
			s.logError(opRegenerateCode, reasonLookupFailed, err, zap.String("parent_id", viewer.ID))
			return fault.New(fault.Unavailable, opRegenerateCode, reasonLookupFailed, err)
		}

		code, err := s.IssueCode(ctx, tx)
		if err != nil {
			return err
		}

		now := s.clock().UTC()
		parent.FamilyCode = &code
		parent.FamilyCodeExpiresAtSeconds = nil
		grant = CodeGrant{Code: code}
		if expiresInDays != nil {
			expiresAt := now.AddDate(0, 0, *expiresInDays)
			expirySeconds := expiresAt.Unix()
			parent.FamilyCodeExpiresAtSeconds = &expirySeconds
			grant.ExpiresAt = &expiresAt
		}
		parent.UpdatedAtSeconds = now.Unix()

		if err := store.Save(ctx, &parent); err != nil {
			s.logError(opRegenerateCode, reasonSaveFailed, err, zap.String("parent_id", parent.ID))
			return fault.New(fault.Unavailable, opRegenerateCode, reasonSaveFailed, err)
		}
		return nil
	})
	if txErr != nil {
		return CodeGrant{}, txErr
	}
	return grant, nil
}

// Join links the calling child to the parent holding the supplied code.
func (s *Service) Join(ctx context.Context, viewer accounts.Record, rawCode string) (LinkResult, error) {
	if viewer.Role != accounts.RoleChild {
		return LinkResult{}, fault.New(fault.Forbidden, opJoin, reasonRoleMismatch, nil)
	}
	code := NormalizeCode(rawCode)
	if code == "" {
		return LinkResult{}, fault.New(fault.Conflict, opJoin, reasonInvalidCode, nil)
	}

	var result LinkResult
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		store := accounts.NewStore(tx)
		child, err := store.FindByIDForUpdate(ctx, viewer.ID)
		if errors.Is(err, accounts.ErrNotFound) {
			return fault.New(fault.NotFound, opJoin, reasonAccountMissing, err)
		}
		if err != nil {
			s.logError(opJoin, reasonLookupFailed, err, zap.String("child_id", viewer.ID))
			return fault.New(fault.Unavailable, opJoin, reasonLookupFailed, err)
		}
		if child.ParentID != nil {
			return fault.New(fault.Conflict, opJoin, reasonAlreadyLinked, nil)
		}

		parent, err := store.FindParentByCodeForUpdate(ctx, code)
		if errors.Is(err, accounts.ErrNotFound) {
			return fault.New(fault.Conflict, opJoin, reasonInvalidCode, nil)
		}
		if err != nil {
			s.logError(opJoin, reasonLookupFailed, err, zap.String("child_id", viewer.ID))
			return fault.New(fault.Unavailable, opJoin, reasonLookupFailed, err)
		}

		now := s.clock().UTC()
		if parent.FamilyCodeExpired(now) {
			return fault.New(fault.Conflict, opJoin, reasonCodeExpired, nil)
		}

		parent.AddChild(child.ID)
		parent.UpdatedAtSeconds = now.Unix()
		child.ParentID = &parent.ID
		child.UpdatedAtSeconds = now.Unix()

		if err := store.Save(ctx, &parent); err != nil {
			s.logError(opJoin, reasonSaveFailed, err, zap.String("parent_id", parent.ID))
			return fault.New(fault.Unavailable, opJoin, reasonSaveFailed, err)
		}
		if err := store.Save(ctx, &child); err != nil {
			s.logError(opJoin, reasonSaveFailed, err, zap.String("child_id", child.ID))
			return fault.New(fault.Unavailable, opJoin, reasonSaveFailed, err)
		}

		result = LinkResult{ParentID: parent.ID, ParentName: parent.DisplayName}
		return nil
	})
	if txErr != nil {
		return LinkResult{}, txErr
	}
	return result, nil
}

// Leave severs the calling child's membership link. A dangling parent
// reference is cleared even when the parent record no longer exists.
func (s *Service) Leave(ctx context.Context, viewer accounts.Record) error {
	if viewer.Role != accounts.RoleChild {
		return fault.New(fault.Forbidden, opLeave, reasonRoleMismatch, nil)
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		store := accounts.NewStore(tx)
		child, err := store.FindByIDForUpdate(ctx, viewer.ID)
		if errors.Is(err, accounts.ErrNotFound) {
			return fault.New(fault.NotFound, opLeave, reasonAccountMissing, err)
		}
		if err != nil {
			s.logError(opLeave, reasonLookupFailed, err, zap.String("child_id", viewer.ID))
			return fault.New(fault.Unavailable, opLeave, reasonLookupFailed, err)
		}
		if child.ParentID == nil {
			return fault.New(fault.Conflict, opLeave, reasonNotLinked, nil)
		}

		now := s.clock().UTC()
		parent, err := store.FindByIDForUpdate(ctx, *child.ParentID)
		switch {
		case errors.Is(err, accounts.ErrNotFound):
			// Parent already gone; clearing the child side is all that is left.
		case err != nil:
			s.logError(opLeave, reasonLookupFailed, err, zap.String("parent_id", *child.ParentID))
			return fault.New(fault.Unavailable, opLeave, reasonLookupFailed, err)
		default:
			parent.RemoveChild(child.ID)
			parent.UpdatedAtSeconds = now.Unix()
			if err := store.Save(ctx, &parent); err != nil {
				s.logError(opLeave, reasonSaveFailed, err, zap.String("parent_id", parent.ID))
				return fault.New(fault.Unavailable, opLeave, reasonSaveFailed, err)
			}
		}

		child.ParentID = nil
		child.UpdatedAtSeconds = now.Unix()
		if err := store.Save(ctx, &child); err != nil {
			s.logError(opLeave, reasonSaveFailed, err, zap.String("child_id", child.ID))
			return fault.New(fault.Unavailable, opLeave, reasonSaveFailed, err)
		}
		return nil
	})
}

// RemoveChild severs the link to one of the parent's children. A child id
// still in the set after the child record was deleted is removed anyway.
func (s *Service) RemoveChild(ctx context.Context, viewer accounts.Record, childID string) error {
	if viewer.Role != accounts.RoleParent {
		return fault.New(fault.Forbidden, opRemoveChild, reasonRoleMismatch, nil)
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		store := accounts.NewStore(tx)
		parent, err := store.FindByIDForUpdate(ctx, viewer.ID)
		if errors.Is(err, accounts.ErrNotFound) {
			return fault.New(fault.NotFound, opRemoveChild, reasonAccountMissing, err)
		}
		if err != nil {
			s.logError(opRemoveChild, reasonLookupFailed, err, zap.String("parent_id", viewer.ID))
			return fault.New(fault.Unavailable, opRemoveChild, reasonLookupFailed, err)
		}
		if !parent.HasChild(childID) {
			return fault.New(fault.NotFound, opRemoveChild, reasonChildNotFound, nil)
		}

		now := s.clock().UTC()
		child, err := store.FindByIDForUpdate(ctx, childID)
		switch {
		case errors.Is(err, accounts.ErrNotFound):
			// Child record already gone; still drop the id from the set.
		case err != nil:
			s.logError(opRemoveChild, reasonLookupFailed, err, zap.String("child_id", childID))
			return fault.New(fault.Unavailable, opRemoveChild, reasonLookupFailed, err)
		default:
			if child.ParentID != nil && *child.ParentID == parent.ID {
				child.ParentID = nil
				child.UpdatedAtSeconds = now.Unix()
				if err := store.Save(ctx, &child); err != nil {
					s.logError(opRemoveChild, reasonSaveFailed, err, zap.String("child_id", child.ID))
					return fault.New(fault.Unavailable, opRemoveChild, reasonSaveFailed, err)
				}
			}
		}

		parent.RemoveChild(childID)
		parent.UpdatedAtSeconds = now.Unix()
		if err := store.Save(ctx, &parent); err != nil {
			s.logError(opRemoveChild, reasonSaveFailed, err, zap.String("parent_id", parent.ID))
			return fault.New(fault.Unavailable, opRemoveChild, reasonSaveFailed, err)
		}
		return nil
	})
}

// LinkChildByEmail links an existing unlinked child account to the calling
// parent, looked up by its registered email.
func (s *Service) LinkChildByEmail(ctx context.Context, viewer accounts.Record, email string) (ChildSummary, error) {
	if viewer.Role != accounts.RoleParent {
		return ChildSummary{}, fault.New(fault.Forbidden, opLinkByEmail, reasonRoleMismatch, nil)
	}
	normalized := accounts.NormalizeEmail(email)
	if normalized == "" {
		return ChildSummary{}, fault.New(fault.Validation, opLinkByEmail, reasonInvalidEmail, nil)
	}

	var summary ChildSummary
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		store := accounts.NewStore(tx)
		parent, err := store.FindByIDForUpdate(ctx, viewer.ID)
		if errors.Is(err, accounts.ErrNotFound) {
			return fault.New(fault.NotFound, opLinkByEmail, reasonAccountMissing, err)
		}
		if err != nil {
			s.logError(opLinkByEmail, reasonLookupFailed, err, zap.String("parent_id", viewer.ID))
			return fault.New(fault.Unavailable, opLinkByEmail, reasonLookupFailed, err)
		}

		child, err := store.FindByEmailForUpdate(ctx, normalized)
		if errors.Is(err, accounts.ErrNotFound) {
			return fault.New(fault.NotFound, opLinkByEmail, reasonChildNotFound, nil)
		}
		if err != nil {
			s.logError(opLinkByEmail, reasonLookupFailed, err)
			return fault.New(fault.Unavailable, opLinkByEmail, reasonLookupFailed, err)
		}
		if child.Role != accounts.RoleChild {
			return fault.New(fault.NotFound, opLinkByEmail, reasonChildNotFound, nil)
		}
		if child.ParentID != nil {
			return fault.New(fault.Conflict, opLinkByEmail, reasonAlreadyLinked, nil)
		}

		now := s.clock().UTC()
		parent.AddChild(child.ID)
		parent.UpdatedAtSeconds = now.Unix()
		child.ParentID = &parent.ID
		child.UpdatedAtSeconds = now.Unix()

		if err := store.Save(ctx, &parent); err != nil {
			s.logError(opLinkByEmail, reasonSaveFailed, err, zap.String("parent_id", parent.ID))
			return fault.New(fault.Unavailable, opLinkByEmail, reasonSaveFailed, err)
		}
		if err := store.Save(ctx, &child); err != nil {
			s.logError(opLinkByEmail, reasonSaveFailed, err, zap.String("child_id", child.ID))
			return fault.New(fault.Unavailable, opLinkByEmail, reasonSaveFailed, err)
		}

		summary = ChildSummary{
			ID:          child.ID,
			Email:       child.Email,
			DisplayName: child.DisplayName,
			CreatedAt:   child.CreatedAt(),
		}
		return nil
	})
	if txErr != nil {
		return ChildSummary{}, txErr
	}
	return summary, nil
}

// Dashboard returns the parent's current code and the children still linked.
// Ids in the set whose records no longer exist are skipped.
func (s *Service) Dashboard(ctx context.Context, viewer accounts.Record) (DashboardView, error) {
	if viewer.Role != accounts.RoleParent {
		return DashboardView{}, fault.New(fault.Forbidden, opDashboard, reasonRoleMismatch, nil)
	}

	record, err := s.store.FindByID(ctx, viewer.ID)
	if errors.Is(err, accounts.ErrNotFound) {
		return DashboardView{}, fault.New(fault.NotFound, opDashboard, reasonAccountMissing, err)
	}
	if err != nil {
		s.logError(opDashboard, reasonLookupFailed, err, zap.String("parent_id", viewer.ID))
		return DashboardView{}, fault.New(fault.Unavailable, opDashboard, reasonLookupFailed, err)
	}
	parent, err := record.AsParent()
	if err != nil {
		return DashboardView{}, fault.New(fault.Forbidden, opDashboard, reasonRoleMismatch, err)
	}

	records, err := s.store.FindByIDs(ctx, parent.ChildIDs)
	if err != nil {
		s.logError(opDashboard, reasonLookupFailed, err, zap.String("parent_id", viewer.ID))
		return DashboardView{}, fault.New(fault.Unavailable, opDashboard, reasonLookupFailed, err)
	}
	byID := make(map[string]accounts.Record, len(records))
	for _, childRecord := range records {
		byID[childRecord.ID] = childRecord
	}

	view := DashboardView{
		FamilyCode:          parent.FamilyCode,
		FamilyCodeExpiresAt: parent.FamilyCodeExpiresAt,
		Children:            make([]ChildSummary, 0, len(parent.ChildIDs)),
	}
	for _, childID := range parent.ChildIDs {
		childRecord, ok := byID[childID]
		if !ok {
			continue
		}
		view.Children = append(view.Children, ChildSummary{
			ID:          childRecord.ID,
			Email:       childRecord.Email,
			DisplayName: childRecord.DisplayName,
			CreatedAt:   childRecord.CreatedAt(),
		})
	}
	return view, nil
}

// MyParent reports the calling child's linked parent. A dangling reference is
// cleared as a side effect and reported as a message instead of an error.
func (s *Service) MyParent(ctx context.Context, viewer accounts.Record) (ParentStatus, error) {
	if viewer.Role != accounts.RoleChild {
		return ParentStatus{}, fault.New(fault.Forbidden, opMyParent, reasonRoleMismatch, nil)
	}

	record, err := s.store.FindByID(ctx, viewer.ID)
	if errors.Is(err, accounts.ErrNotFound) {
		return ParentStatus{}, fault.New(fault.NotFound, opMyParent, reasonAccountMissing, err)
	}
	if err != nil {
		s.logError(opMyParent, reasonLookupFailed, err, zap.String("child_id", viewer.ID))
		return ParentStatus{}, fault.New(fault.Unavailable, opMyParent, reasonLookupFailed, err)
	}
	child, err := record.AsChild()
	if err != nil {
		return ParentStatus{}, fault.New(fault.Forbidden, opMyParent, reasonRoleMismatch, err)
	}
	if child.ParentID == nil {
		return ParentStatus{Message: MessageNotLinked}, nil
	}

	parent, err := s.store.FindByID(ctx, *child.ParentID)
	if errors.Is(err, accounts.ErrNotFound) {
		s.healDanglingParent(ctx, child.ID, *child.ParentID)
		return ParentStatus{Message: MessageParentGone}, nil
	}
	if err != nil {
		s.logError(opMyParent, reasonLookupFailed, err, zap.String("parent_id", *child.ParentID))
		return ParentStatus{}, fault.New(fault.Unavailable, opMyParent, reasonLookupFailed, err)
	}

	return ParentStatus{Parent: &ParentSummary{
		ID:          parent.ID,
		Email:       parent.Email,
		DisplayName: parent.DisplayName,
	}}, nil
}

// healDanglingParent clears a child's parent reference after the parent
// record disappeared. Failures are logged, not surfaced; the read that
// discovered the dangle still reports its result.
func (s *Service) healDanglingParent(ctx context.Context, childID string, danglingParentID string) {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		store := accounts.NewStore(tx)
		child, err := store.FindByIDForUpdate(ctx, childID)
		if err != nil {
			return err
		}
		if child.ParentID == nil || *child.ParentID != danglingParentID {
			return nil
		}
		child.ParentID = nil
		child.UpdatedAtSeconds = s.clock().UTC().Unix()
		return store.Save(ctx, &child)
	})
	if err != nil {
		s.logError(opMyParent, "heal_failed", err,
			zap.String("child_id", childID),
			zap.String("parent_id", danglingParentID))
	}
}

func (s *Service) loggerOrDefault() *zap.Logger {
	if s == nil || s.logger == nil {
		return noOpLogger
	}
	return s.logger
}

func (s *Service) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	s.loggerOrDefault().Error("family service error", attrs...)
}
