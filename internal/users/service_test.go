package users

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/nestnotes/backend/internal/accounts"
	"github.com/nestnotes/backend/internal/auth"
	"github.com/nestnotes/backend/internal/family"
	"github.com/nestnotes/backend/internal/fault"
)

var testNow = time.Unix(1700000000, 0).UTC()

type sequentialIDs struct {
	prefix string
	next   int
}

func (g *sequentialIDs) NewID() (string, error) {
	g.next++
	return fmt.Sprintf("%s-%d", g.prefix, g.next), nil
}

func newTestService(t *testing.T) (*Service, *accounts.Store, *gorm.DB, *auth.TokenIssuer) {
	t.Helper()

	dsn := fmt.Sprintf("file:users_test_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Silent)})
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	if err := db.AutoMigrate(&accounts.Record{}); err != nil {
		t.Fatalf("migrate schema: %v", err)
	}

	clock := func() time.Time { return testNow }
	issuer, err := auth.NewTokenIssuer(auth.TokenIssuerConfig{
		SigningSecret: []byte("test-secret"),
		Issuer:        "nestnotes-auth",
		Audience:      "nestnotes-api",
		TokenTTL:      time.Hour,
		Clock:         clock,
	})
	if err != nil {
		t.Fatalf("construct token issuer: %v", err)
	}
	familyService, err := family.NewService(family.ServiceConfig{Database: db, Clock: clock})
	if err != nil {
		t.Fatalf("construct family service: %v", err)
	}

	service, err := NewService(ServiceConfig{
		Database:   db,
		Clock:      clock,
		IDProvider: &sequentialIDs{prefix: "account"},
		Hasher:     auth.NewPasswordHasher(bcrypt.MinCost),
		Tokens:     issuer,
		Family:     familyService,
	})
	if err != nil {
		t.Fatalf("construct users service: %v", err)
	}
	return service, accounts.NewStore(db), db, issuer
}

func expectFault(t *testing.T, err error, kind fault.Kind, code string) {
	t.Helper()

	if err == nil {
		t.Fatalf("expected fault %s, got nil", code)
	}
	if got := fault.KindOf(err); got != kind {
		t.Fatalf("unexpected fault kind %v for %v", got, err)
	}
	if got := fault.CodeOf(err); got != code {
		t.Fatalf("unexpected fault code %q for %v", got, err)
	}
}

func parentRequest(email string) RegisterRequest {
	return RegisterRequest{
		Email:       email,
		Password:    "hunter2hunter2",
		DisplayName: "Pat",
		Role:        "parent",
	}
}

func childRequest(email string, code string) RegisterRequest {
	return RegisterRequest{
		Email:       email,
		Password:    "hunter2hunter2",
		DisplayName: "Kim",
		Role:        "child",
		FamilyCode:  code,
	}
}

func TestRegisterParentReceivesFamilyCode(t *testing.T) {
	service, store, _, issuer := newTestService(t)

	grant, err := service.Register(context.Background(), parentRequest("parent@example.com"))
	if err != nil {
		t.Fatalf("register parent: %v", err)
	}
	if grant.AccessToken == "" || grant.ExpiresIn <= 0 {
		t.Fatalf("unexpected grant %+v", grant)
	}
	if grant.Account.FamilyCode == nil || len(*grant.Account.FamilyCode) != 8 {
		t.Fatalf("expected 8-character family code, got %v", grant.Account.FamilyCode)
	}
	if grant.Account.FamilyCodeExpiresAtSeconds != nil {
		t.Fatalf("expected signup code to carry no expiry, got %v", *grant.Account.FamilyCodeExpiresAtSeconds)
	}
	for _, forbidden := range "0O1I" {
		if strings.ContainsRune(*grant.Account.FamilyCode, forbidden) {
			t.Fatalf("code %q contains ambiguous character", *grant.Account.FamilyCode)
		}
	}

	session, err := issuer.ValidateToken(grant.AccessToken)
	if err != nil {
		t.Fatalf("validate issued token: %v", err)
	}
	if session.AccountID != grant.Account.ID || session.Role != "parent" {
		t.Fatalf("unexpected session %+v", session)
	}

	stored, err := store.FindByEmail(context.Background(), "parent@example.com")
	if err != nil {
		t.Fatalf("load stored account: %v", err)
	}
	if stored.PasswordHash == "hunter2hunter2" || stored.PasswordHash == "" {
		t.Fatalf("expected hashed password, got %q", stored.PasswordHash)
	}
}

func TestRegisterChildWithCodeLinks(t *testing.T) {
	service, store, _, _ := newTestService(t)

	parentGrant, err := service.Register(context.Background(), parentRequest("parent@example.com"))
	if err != nil {
		t.Fatalf("register parent: %v", err)
	}

	childGrant, err := service.Register(context.Background(), childRequest("kid@example.com", *parentGrant.Account.FamilyCode))
	if err != nil {
		t.Fatalf("register child: %v", err)
	}
	if childGrant.Account.ParentID == nil || *childGrant.Account.ParentID != parentGrant.Account.ID {
		t.Fatalf("expected child linked to parent, got %v", childGrant.Account.ParentID)
	}

	parent, err := store.FindByID(context.Background(), parentGrant.Account.ID)
	if err != nil {
		t.Fatalf("load parent: %v", err)
	}
	if !parent.HasChild(childGrant.Account.ID) {
		t.Fatalf("expected parent set to contain child, got %v", parent.ChildrenIDs)
	}
}

func TestRegisterChildWithUnknownCodeRejectsSignup(t *testing.T) {
	service, store, _, _ := newTestService(t)

	_, err := service.Register(context.Background(), childRequest("kid@example.com", "AAAA2222"))
	expectFault(t, err, fault.Conflict, "family.attach_child.invalid_code")

	if _, err := store.FindByEmail(context.Background(), "kid@example.com"); err == nil {
		t.Fatalf("expected no account to be created")
	}
}

func TestRegisterChildWithExpiredCodeStaysUnlinked(t *testing.T) {
	service, store, _, _ := newTestService(t)

	parentGrant, err := service.Register(context.Background(), parentRequest("parent@example.com"))
	if err != nil {
		t.Fatalf("register parent: %v", err)
	}
	parent := parentGrant.Account
	past := testNow.Add(-time.Hour).Unix()
	parent.FamilyCodeExpiresAtSeconds = &past
	if err := store.Save(context.Background(), &parent); err != nil {
		t.Fatalf("expire family code: %v", err)
	}

	childGrant, err := service.Register(context.Background(), childRequest("kid@example.com", *parent.FamilyCode))
	if err != nil {
		t.Fatalf("register child with expired code: %v", err)
	}
	if childGrant.Account.ParentID != nil {
		t.Fatalf("expected child to stay unlinked, got %v", *childGrant.Account.ParentID)
	}
}

func TestRegisterChildWithoutCode(t *testing.T) {
	service, _, _, _ := newTestService(t)

	grant, err := service.Register(context.Background(), childRequest("kid@example.com", ""))
	if err != nil {
		t.Fatalf("register child: %v", err)
	}
	if grant.Account.ParentID != nil {
		t.Fatalf("expected unlinked child, got %v", *grant.Account.ParentID)
	}
	if grant.Account.FamilyCode != nil {
		t.Fatalf("expected no family code on child, got %v", *grant.Account.FamilyCode)
	}
}

func TestRegisterRejectsDuplicateEmail(t *testing.T) {
	service, _, _, _ := newTestService(t)

	if _, err := service.Register(context.Background(), parentRequest("parent@example.com")); err != nil {
		t.Fatalf("register first account: %v", err)
	}

	_, err := service.Register(context.Background(), parentRequest("Parent@Example.COM"))
	expectFault(t, err, fault.Conflict, "users.register.email_already_registered")
}

func TestRegisterValidation(t *testing.T) {
	service, _, _, _ := newTestService(t)

	testCases := []struct {
		name    string
		request RegisterRequest
		code    string
	}{
		{
			name:    "missing-at-sign",
			request: RegisterRequest{Email: "nope", Password: "hunter2hunter2", DisplayName: "Pat", Role: "parent"},
			code:    "users.register.invalid_email",
		},
		{
			name:    "short-password",
			request: RegisterRequest{Email: "a@example.com", Password: "short", DisplayName: "Pat", Role: "parent"},
			code:    "users.register.invalid_password",
		},
		{
			name:    "blank-display-name",
			request: RegisterRequest{Email: "a@example.com", Password: "hunter2hunter2", DisplayName: "  ", Role: "parent"},
			code:    "users.register.invalid_display_name",
		},
		{
			name:    "unknown-role",
			request: RegisterRequest{Email: "a@example.com", Password: "hunter2hunter2", DisplayName: "Pat", Role: "admin"},
			code:    "users.register.invalid_role",
		},
	}

	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			_, err := service.Register(context.Background(), testCase.request)
			expectFault(t, err, fault.Validation, testCase.code)
		})
	}
}

func TestSignIn(t *testing.T) {
	service, _, _, issuer := newTestService(t)

	registered, err := service.Register(context.Background(), parentRequest("parent@example.com"))
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	grant, err := service.SignIn(context.Background(), "Parent@Example.COM", "hunter2hunter2")
	if err != nil {
		t.Fatalf("sign in: %v", err)
	}
	if grant.Account.ID != registered.Account.ID {
		t.Fatalf("unexpected account %s", grant.Account.ID)
	}
	session, err := issuer.ValidateToken(grant.AccessToken)
	if err != nil {
		t.Fatalf("validate issued token: %v", err)
	}
	if session.AccountID != registered.Account.ID {
		t.Fatalf("unexpected session subject %s", session.AccountID)
	}
}

func TestSignInFailuresAreIndistinguishable(t *testing.T) {
	service, _, _, _ := newTestService(t)

	if _, err := service.Register(context.Background(), parentRequest("parent@example.com")); err != nil {
		t.Fatalf("register: %v", err)
	}

	_, wrongPassword := service.SignIn(context.Background(), "parent@example.com", "not-the-password")
	expectFault(t, wrongPassword, fault.Unauthorized, "users.sign_in.invalid_credentials")

	_, unknownEmail := service.SignIn(context.Background(), "nobody@example.com", "hunter2hunter2")
	expectFault(t, unknownEmail, fault.Unauthorized, "users.sign_in.invalid_credentials")
}

func TestRefreshMintsFreshToken(t *testing.T) {
	service, _, db, issuer := newTestService(t)

	registered, err := service.Register(context.Background(), parentRequest("parent@example.com"))
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	grant, err := service.Refresh(context.Background(), registered.Account)
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	session, err := issuer.ValidateToken(grant.AccessToken)
	if err != nil {
		t.Fatalf("validate refreshed token: %v", err)
	}
	if session.AccountID != registered.Account.ID {
		t.Fatalf("unexpected session subject %s", session.AccountID)
	}

	if err := db.Delete(&accounts.Record{}, "account_id = ?", registered.Account.ID).Error; err != nil {
		t.Fatalf("delete account: %v", err)
	}
	_, refreshErr := service.Refresh(context.Background(), registered.Account)
	expectFault(t, refreshErr, fault.Unauthorized, "users.refresh.account_missing")
}
