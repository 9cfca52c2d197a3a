// Package account provides email/password account management for syncd.
package account

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"github.com/lurioneli/Sleep-Suivour/internal/store"
	"github.com/lurioneli/Sleep-Suivour/internal/util"
)

var (
	ErrEmailTaken         = errors.New("email already registered")
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrWeakPassword       = errors.New("password must be at least 8 characters")
	ErrInvalidEmail       = errors.New("invalid email address")
)

// AccountStore defines the storage interface for accounts.
type AccountStore interface {
	CreateAccount(ctx context.Context, account store.Account) error
	GetAccountByEmail(ctx context.Context, email string) (store.Account, error)
	GetAccountByID(ctx context.Context, id string) (store.Account, error)
}

type Service struct {
	store AccountStore
}

func NewService(store AccountStore) *Service {
	return &Service{store: store}
}

// SignUp creates a new account with a bcrypt-hashed password.
func (s *Service) SignUp(ctx context.Context, email, password, displayName string) (store.Account, error) {
	email = normalizeEmail(email)
	if _, err := mail.ParseAddress(email); err != nil {
		return store.Account{}, ErrInvalidEmail
	}
	if len(password) < 8 {
		return store.Account{}, ErrWeakPassword
	}

	if _, err := s.store.GetAccountByEmail(ctx, email); err == nil {
		return store.Account{}, ErrEmailTaken
	} else if !errors.Is(err, store.ErrNotFound) {
		return store.Account{}, fmt.Errorf("check email: %w", err)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return store.Account{}, fmt.Errorf("hash password: %w", err)
	}

	account := store.Account{
		ID:           util.NewID("acct"),
		Email:        email,
		DisplayName:  displayName,
		PasswordHash: string(hash),
	}
	if err := s.store.CreateAccount(ctx, account); err != nil {
		return store.Account{}, fmt.Errorf("create account: %w", err)
	}
	return account, nil
}

// SignIn authenticates an account. Lookup and password failures collapse to
// the same error so callers cannot probe registered emails.
func (s *Service) SignIn(ctx context.Context, email, password string) (store.Account, error) {
	account, err := s.store.GetAccountByEmail(ctx, normalizeEmail(email))
	if err != nil {
		return store.Account{}, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(account.PasswordHash), []byte(password)); err != nil {
		return store.Account{}, ErrInvalidCredentials
	}
	return account, nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
