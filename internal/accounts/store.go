package accounts

import (
	"context"
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrNotFound indicates that no account matched the lookup.
var ErrNotFound = errors.New("accounts: account not found")

const (
	queryByID         = "account_id = ?"
	queryByEmail      = "email = ?"
	queryParentByCode = "role = ? AND family_code = ?"
	queryByIDList     = "account_id IN ?"
)

// Store reads and writes account records through a gorm handle. Wrap the
// transaction handle when operating inside a transaction.
type Store struct {
	db *gorm.DB
}

// NewStore binds a store to the provided handle.
func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

// Create inserts a new account record.
func (s *Store) Create(ctx context.Context, record *Record) error {
	return s.db.WithContext(ctx).Create(record).Error
}

// Save persists the full record state keyed by its identifier.
func (s *Store) Save(ctx context.Context, record *Record) error {
	return s.db.WithContext(ctx).Save(record).Error
}

// FindByID loads one account by identifier.
func (s *Store) FindByID(ctx context.Context, accountID string) (Record, error) {
	return s.findOne(ctx, false, queryByID, accountID)
}

// FindByIDForUpdate loads one account by identifier holding a row lock for
// the enclosing transaction.
func (s *Store) FindByIDForUpdate(ctx context.Context, accountID string) (Record, error) {
	return s.findOne(ctx, true, queryByID, accountID)
}

// FindByEmail loads one account by normalized email.
func (s *Store) FindByEmail(ctx context.Context, email string) (Record, error) {
	return s.findOne(ctx, false, queryByEmail, NormalizeEmail(email))
}

// FindByEmailForUpdate loads one account by normalized email holding a row
// lock for the enclosing transaction.
func (s *Store) FindByEmailForUpdate(ctx context.Context, email string) (Record, error) {
	return s.findOne(ctx, true, queryByEmail, NormalizeEmail(email))
}

// FindParentByCode loads the parent account holding the family code.
func (s *Store) FindParentByCode(ctx context.Context, code string) (Record, error) {
	return s.findOne(ctx, false, queryParentByCode, RoleParent, code)
}

// FindParentByCodeForUpdate loads the parent account holding the family code
// with a row lock for the enclosing transaction.
func (s *Store) FindParentByCodeForUpdate(ctx context.Context, code string) (Record, error) {
	return s.findOne(ctx, true, queryParentByCode, RoleParent, code)
}

// FindByIDs loads the accounts matching ids. Missing ids are skipped rather
// than reported; callers that care compare lengths.
func (s *Store) FindByIDs(ctx context.Context, ids []string) ([]Record, error) {
	if len(ids) == 0 {
		return []Record{}, nil
	}
	var records []Record
	if err := s.db.WithContext(ctx).Where(queryByIDList, ids).Find(&records).Error; err != nil {
		return nil, err
	}
	return records, nil
}

// EmailExists reports whether any account holds the normalized email.
func (s *Store) EmailExists(ctx context.Context, email string) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).
		Model(&Record{}).
		Where(queryByEmail, NormalizeEmail(email)).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// FamilyCodeExists reports whether any parent already holds the code.
func (s *Store) FamilyCodeExists(ctx context.Context, code string) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).
		Model(&Record{}).
		Where(queryParentByCode, RoleParent, code).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (s *Store) findOne(ctx context.Context, forUpdate bool, query string, args ...interface{}) (Record, error) {
	scope := s.db.WithContext(ctx)
	if forUpdate {
		scope = scope.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	var record Record
	err := scope.Where(query, args...).Take(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Record{}, ErrNotFound
	}
	if err != nil {
		return Record{}, err
	}
	return record, nil
}
