package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"github.com/brightlabs/schoolsync/internal/auth"
)

var (
	// ErrUnknownAccount indicates no account matches the supplied email or id.
	ErrUnknownAccount = errors.New("identity: unknown account")
	// ErrBadCredentials indicates the password check failed.
	ErrBadCredentials = errors.New("identity: bad credentials")
)

// ServiceConfig describes the dependencies required for account resolution.
type ServiceConfig struct {
	Database *gorm.DB
	Clock    func() time.Time
}

// Service manages admin accounts and credential checks.
type Service struct {
	db    *gorm.DB
	now   func() time.Time
	cache sync.Map
}

// NewService constructs the identity service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, fmt.Errorf("identity: database connection required")
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Service{
		db:  cfg.Database,
		now: clock,
	}, nil
}

// Authenticate verifies the email/password pair and returns the matching principal.
func (s *Service) Authenticate(ctx context.Context, email, password string) (auth.Principal, error) {
	email = normalizeEmail(email)
	if email == "" || password == "" {
		return auth.Principal{}, ErrBadCredentials
	}

	var account Account
	err := s.db.WithContext(ctx).Where("email = ?", email).First(&account).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return auth.Principal{}, ErrUnknownAccount
	}
	if err != nil {
		return auth.Principal{}, err
	}

	if bcrypt.CompareHashAndPassword([]byte(account.PasswordHash), []byte(password)) != nil {
		return auth.Principal{}, ErrBadCredentials
	}

	_ = s.db.WithContext(ctx).Model(&Account{}).
		Where("user_id = ?", account.UserID).
		Update("last_seen_at", s.now()).Error

	return accountPrincipal(account), nil
}

// ResolvePrincipal returns the principal record for a known user id.
// Lookups are cached because the gateway resolves display names per connection.
func (s *Service) ResolvePrincipal(ctx context.Context, userID string) (auth.Principal, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return auth.Principal{}, ErrUnknownAccount
	}

	if cached, ok := s.cache.Load(userID); ok {
		if principal, ok := cached.(auth.Principal); ok {
			return principal, nil
		}
	}

	var account Account
	err := s.db.WithContext(ctx).Where("user_id = ?", userID).First(&account).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return auth.Principal{}, ErrUnknownAccount
	}
	if err != nil {
		return auth.Principal{}, err
	}

	principal := accountPrincipal(account)
	s.cache.Store(userID, principal)
	return principal, nil
}

// Register creates an account with the provided credentials.
func (s *Service) Register(ctx context.Context, account Account, password string) error {
	account.Email = normalizeEmail(account.Email)
	if account.Email == "" || strings.TrimSpace(account.UserID) == "" {
		return fmt.Errorf("identity: user id and email are required")
	}
	if account.Role == "" {
		account.Role = auth.RoleEditor
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	account.PasswordHash = string(hash)

	return s.db.WithContext(ctx).Create(&account).Error
}

func accountPrincipal(account Account) auth.Principal {
	return auth.Principal{
		UserID:      account.UserID,
		DisplayName: account.DisplayName,
		Role:        account.Role,
	}
}
