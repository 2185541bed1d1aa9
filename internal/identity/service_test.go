package identity_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"go.uber.org/zap"

	"github.com/brightlabs/schoolsync/internal/auth"
	"github.com/brightlabs/schoolsync/internal/database"
	"github.com/brightlabs/schoolsync/internal/identity"
)

func newTestService(t *testing.T) *identity.Service {
	t.Helper()
	db, err := database.OpenSQLite(filepath.Join(t.TempDir(), "identity.db"), zap.NewNop())
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	service, err := identity.NewService(identity.ServiceConfig{Database: db})
	if err != nil {
		t.Fatalf("failed to build service: %v", err)
	}
	return service
}

func registerAda(t *testing.T, service *identity.Service) {
	t.Helper()
	err := service.Register(context.Background(), identity.Account{
		UserID:      "user-a",
		Email:       "Ada@Example.edu",
		DisplayName: "Ada",
		Role:        auth.RoleEditor,
	}, "ada-password")
	if err != nil {
		t.Fatalf("failed to register account: %v", err)
	}
}

func TestAuthenticateSucceedsWithCorrectPassword(t *testing.T) {
	service := newTestService(t)
	registerAda(t, service)

	// Email comparison is case-insensitive.
	principal, err := service.Authenticate(context.Background(), "ada@example.edu", "ada-password")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if principal.UserID != "user-a" || principal.DisplayName != "Ada" || principal.Role != auth.RoleEditor {
		t.Fatalf("unexpected principal: %+v", principal)
	}
}

func TestAuthenticateRejectsWrongPassword(t *testing.T) {
	service := newTestService(t)
	registerAda(t, service)

	if _, err := service.Authenticate(context.Background(), "ada@example.edu", "wrong"); !errors.Is(err, identity.ErrBadCredentials) {
		t.Fatalf("expected ErrBadCredentials, got %v", err)
	}
}

func TestAuthenticateRejectsUnknownEmail(t *testing.T) {
	service := newTestService(t)
	registerAda(t, service)

	if _, err := service.Authenticate(context.Background(), "ghost@example.edu", "ada-password"); !errors.Is(err, identity.ErrUnknownAccount) {
		t.Fatalf("expected ErrUnknownAccount, got %v", err)
	}
}

func TestAuthenticateRejectsEmptyCredentials(t *testing.T) {
	service := newTestService(t)

	if _, err := service.Authenticate(context.Background(), "", ""); !errors.Is(err, identity.ErrBadCredentials) {
		t.Fatalf("expected ErrBadCredentials, got %v", err)
	}
}

func TestResolvePrincipalCachesLookups(t *testing.T) {
	service := newTestService(t)
	registerAda(t, service)

	first, err := service.ResolvePrincipal(context.Background(), "user-a")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if first.DisplayName != "Ada" {
		t.Fatalf("unexpected principal: %+v", first)
	}

	// Cached entries survive the row disappearing underneath.
	if err := identity.ServiceDB(service).Where("user_id = ?", "user-a").Delete(&identity.Account{}).Error; err != nil {
		t.Fatalf("failed to delete row: %v", err)
	}
	second, err := service.ResolvePrincipal(context.Background(), "user-a")
	if err != nil {
		t.Fatalf("expected cached principal, got error: %v", err)
	}
	if second != first {
		t.Fatalf("expected cached principal %+v, got %+v", first, second)
	}

	if _, err := service.ResolvePrincipal(context.Background(), "user-z"); !errors.Is(err, identity.ErrUnknownAccount) {
		t.Fatalf("expected ErrUnknownAccount, got %v", err)
	}
}

func TestRegisterDefaultsRoleAndRejectsDuplicates(t *testing.T) {
	service := newTestService(t)

	err := service.Register(context.Background(), identity.Account{
		UserID:      "user-b",
		Email:       "ben@example.edu",
		DisplayName: "Ben",
	}, "ben-password")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	principal, err := service.Authenticate(context.Background(), "ben@example.edu", "ben-password")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if principal.Role != auth.RoleEditor {
		t.Fatalf("expected default editor role, got %q", principal.Role)
	}

	err = service.Register(context.Background(), identity.Account{
		UserID: "user-b2",
		Email:  "ben@example.edu",
	}, "other")
	if err == nil {
		t.Fatalf("expected duplicate email to be rejected")
	}
}
