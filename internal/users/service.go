package users

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/nestnotes/backend/internal/accounts"
	"github.com/nestnotes/backend/internal/fault"
)

var (
	errMissingDatabase     = errors.New("database handle is required")
	errMissingIDProvider   = errors.New("id provider is required")
	errMissingHasher       = errors.New("password hasher is required")
	errMissingTokenMinter  = errors.New("token minter is required")
	errMissingFamilyLinker = errors.New("family linker is required")
	noOpLogger             = zap.NewNop()
)

const (
	opServiceNew = "users.service.new"
	opRegister   = "users.register"
	opSignIn     = "users.sign_in"
	opRefresh    = "users.refresh"
)

const (
	reasonMissingDatabase    = "missing_database"
	reasonMissingIDProvider  = "missing_id_provider"
	reasonMissingHasher      = "missing_hasher"
	reasonMissingTokens      = "missing_token_minter"
	reasonMissingFamily      = "missing_family_linker"
	reasonInvalidEmail       = "invalid_email"
	reasonInvalidPassword    = "invalid_password"
	reasonInvalidDisplayName = "invalid_display_name"
	reasonInvalidRole        = "invalid_role"
	reasonEmailTaken         = "email_already_registered"
	reasonInvalidCredentials = "invalid_credentials"
	reasonAccountMissing     = "account_missing"
	reasonHashFailed         = "hash_failed"
	reasonIDGeneration       = "id_generation_failed"
	reasonLookupFailed       = "lookup_failed"
	reasonSaveFailed         = "save_failed"
	reasonTokenFailed        = "token_issue_failed"
)

const (
	minPasswordLength = 8
	// bcrypt ignores everything beyond 72 bytes, so longer inputs are rejected
	// instead of silently truncated.
	maxPasswordLength = 72
	maxEmailLength    = 320
	maxNameLength     = 320
)

// PasswordHasher derives and verifies password digests.
type PasswordHasher interface {
	Hash(password string) (string, error)
	Compare(digest string, password string) error
}

// TokenMinter issues session tokens for authenticated accounts.
type TokenMinter interface {
	IssueToken(ctx context.Context, accountID string, role string) (string, int64, error)
}

// FamilyLinker hooks account creation into the membership model: parents get
// an initial family code, children may link to a parent by code.
type FamilyLinker interface {
	IssueCode(ctx context.Context, tx *gorm.DB) (string, error)
	AttachChildAtSignup(ctx context.Context, tx *gorm.DB, child *accounts.Record, code string) error
}

type IDProvider interface {
	NewID() (string, error)
}

type ServiceConfig struct {
	Database   *gorm.DB
	Clock      func() time.Time
	IDProvider IDProvider
	Hasher     PasswordHasher
	Tokens     TokenMinter
	Family     FamilyLinker
	Logger     *zap.Logger
}

// Service owns account registration and credential exchange.
type Service struct {
	db         *gorm.DB
	store      *accounts.Store
	clock      func() time.Time
	idProvider IDProvider
	hasher     PasswordHasher
	tokens     TokenMinter
	family     FamilyLinker
	logger     *zap.Logger
}

func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, fault.New(fault.Internal, opServiceNew, reasonMissingDatabase, errMissingDatabase)
	}
	if cfg.IDProvider == nil {
		return nil, fault.New(fault.Internal, opServiceNew, reasonMissingIDProvider, errMissingIDProvider)
	}
	if cfg.Hasher == nil {
		return nil, fault.New(fault.Internal, opServiceNew, reasonMissingHasher, errMissingHasher)
	}
	if cfg.Tokens == nil {
		return nil, fault.New(fault.Internal, opServiceNew, reasonMissingTokens, errMissingTokenMinter)
	}
	if cfg.Family == nil {
		return nil, fault.New(fault.Internal, opServiceNew, reasonMissingFamily, errMissingFamilyLinker)
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
		db:         cfg.Database,
		store:      accounts.NewStore(cfg.Database),
		clock:      clock,
		idProvider: cfg.IDProvider,
		hasher:     cfg.Hasher,
		tokens:     cfg.Tokens,
		family:     cfg.Family,
		logger:     logger,
	}, nil
}

// RegisterRequest carries the fields accepted at signup.
type RegisterRequest struct {
	Email       string
	Password    string
	DisplayName string
	Role        string
	FamilyCode  string
}

// TokenGrant bundles a freshly minted session token with its account.
type TokenGrant struct {
	AccessToken string
	ExpiresIn   int64
	Account     accounts.Record
}

// Register creates an account. Parents receive a non-expiring family code at
// signup; a child supplying a family code is linked in the same transaction,
// and an unknown code rejects the signup as a whole.
func (s *Service) Register(ctx context.Context, request RegisterRequest) (TokenGrant, error) {
	email := accounts.NormalizeEmail(request.Email)
	if !validEmail(email) {
		return TokenGrant{}, fault.New(fault.Validation, opRegister, reasonInvalidEmail, nil)
	}
	if len(request.Password) < minPasswordLength || len(request.Password) > maxPasswordLength {
		return TokenGrant{}, fault.New(fault.Validation, opRegister, reasonInvalidPassword, nil)
	}
	displayName := strings.TrimSpace(request.DisplayName)
	if displayName == "" || len(displayName) > maxNameLength {
		return TokenGrant{}, fault.New(fault.Validation, opRegister, reasonInvalidDisplayName, nil)
	}
	role, err := accounts.ParseRole(request.Role)
	if err != nil {
		return TokenGrant{}, fault.New(fault.Validation, opRegister, reasonInvalidRole, err)
	}

	digest, err := s.hasher.Hash(request.Password)
	if err != nil {
		s.logError(opRegister, reasonHashFailed, err)
		return TokenGrant{}, fault.New(fault.Internal, opRegister, reasonHashFailed, err)
	}
	accountID, err := s.idProvider.NewID()
	if err != nil {
		s.logError(opRegister, reasonIDGeneration, err)
		return TokenGrant{}, fault.New(fault.Internal, opRegister, reasonIDGeneration, err)
	}

	now := s.clock().UTC().Unix()
	record := accounts.Record{
		ID:               accountID,
		Email:            email,
		DisplayName:      displayName,
		PasswordHash:     digest,
		Role:             role,
		CreatedAtSeconds: now,
		UpdatedAtSeconds: now,
	}

	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		store := accounts.NewStore(tx)
		taken, err := store.EmailExists(ctx, email)
		if err != nil {
			s.logError(opRegister, reasonLookupFailed, err)
			return fault.New(fault.Unavailable, opRegister, reasonLookupFailed, err)
		}
		if taken {
			return fault.New(fault.Conflict, opRegister, reasonEmailTaken, nil)
		}

		switch role {
		case accounts.RoleParent:
			code, err := s.family.IssueCode(ctx, tx)
			if err != nil {
				return err
			}
			record.FamilyCode = &code
		case accounts.RoleChild:
			if strings.TrimSpace(request.FamilyCode) != "" {
				if err := s.family.AttachChildAtSignup(ctx, tx, &record, request.FamilyCode); err != nil {
					return err
				}
			}
		}

		if err := store.Create(ctx, &record); err != nil {
			s.logError(opRegister, reasonSaveFailed, err, zap.String("account_id", record.ID))
			return fault.New(fault.Unavailable, opRegister, reasonSaveFailed, err)
		}
		return nil
	})
	if txErr != nil {
		return TokenGrant{}, txErr
	}

	return s.grantFor(ctx, opRegister, record)
}

// SignIn exchanges credentials for a session token. An unknown email and a
// wrong password are indistinguishable to the caller.
func (s *Service) SignIn(ctx context.Context, email string, password string) (TokenGrant, error) {
	normalized := accounts.NormalizeEmail(email)
	if normalized == "" || password == "" {
		return TokenGrant{}, fault.New(fault.Unauthorized, opSignIn, reasonInvalidCredentials, nil)
	}

	record, err := s.store.FindByEmail(ctx, normalized)
	if errors.Is(err, accounts.ErrNotFound) {
		return TokenGrant{}, fault.New(fault.Unauthorized, opSignIn, reasonInvalidCredentials, nil)
	}
	if err != nil {
		s.logError(opSignIn, reasonLookupFailed, err)
		return TokenGrant{}, fault.New(fault.Unavailable, opSignIn, reasonLookupFailed, err)
	}
	if err := s.hasher.Compare(record.PasswordHash, password); err != nil {
		return TokenGrant{}, fault.New(fault.Unauthorized, opSignIn, reasonInvalidCredentials, nil)
	}

	return s.grantFor(ctx, opSignIn, record)
}

// Refresh mints a fresh token for an already authenticated account.
func (s *Service) Refresh(ctx context.Context, viewer accounts.Record) (TokenGrant, error) {
	record, err := s.store.FindByID(ctx, viewer.ID)
	if errors.Is(err, accounts.ErrNotFound) {
		return TokenGrant{}, fault.New(fault.Unauthorized, opRefresh, reasonAccountMissing, nil)
	}
	if err != nil {
		s.logError(opRefresh, reasonLookupFailed, err, zap.String("account_id", viewer.ID))
		return TokenGrant{}, fault.New(fault.Unavailable, opRefresh, reasonLookupFailed, err)
	}

	return s.grantFor(ctx, opRefresh, record)
}

func (s *Service) grantFor(ctx context.Context, operation string, record accounts.Record) (TokenGrant, error) {
	token, expiresIn, err := s.tokens.IssueToken(ctx, record.ID, string(record.Role))
	if err != nil {
		s.logError(operation, reasonTokenFailed, err, zap.String("account_id", record.ID))
		return TokenGrant{}, fault.New(fault.Internal, operation, reasonTokenFailed, err)
	}
	return TokenGrant{AccessToken: token, ExpiresIn: expiresIn, Account: record}, nil
}

func validEmail(email string) bool {
	if email == "" || len(email) > maxEmailLength {
		return false
	}
	local, domain, found := strings.Cut(email, "@")
	return found && local != "" && strings.Contains(domain, ".")
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
	s.loggerOrDefault().Error("users service error", attrs...)
}
