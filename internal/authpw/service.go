// Package authpw provides username/password authentication for staff accounts.
package authpw

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"suggestbox/api/internal/store"
)

const MinPasswordLength = 8

var (
	// ErrInvalidCredentials covers unknown usernames and wrong passwords alike.
	ErrInvalidCredentials = errors.New("invalid username or password")
	ErrWeakPassword       = fmt.Errorf("password must be at least %d characters", MinPasswordLength)
)

// StaffStore defines the storage interface for auth
type StaffStore interface {
	GetStaffByUsername(ctx context.Context, username string) (store.StaffAccount, error)
}

// Service checks staff credentials
type Service struct {
	store StaffStore
	cost  int
	// dummy is compared against when the username is unknown so both failure
	// paths pay for a bcrypt comparison.
	dummy []byte
}

func NewService(staff StaffStore) *Service {
	return NewServiceWithCost(staff, bcrypt.DefaultCost)
}

// NewServiceWithCost lets tests use bcrypt.MinCost.
func NewServiceWithCost(staff StaffStore, cost int) *Service {
	dummy, _ := bcrypt.GenerateFromPassword([]byte("suggestbox-dummy-password"), cost)
	return &Service{store: staff, cost: cost, dummy: dummy}
}

// Hash validates and hashes a new password.
func (s *Service) Hash(password string) (string, error) {
	if len(password) < MinPasswordLength {
		return "", ErrWeakPassword
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.cost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hash), nil
}

// Authenticate returns the account when username and password match.
func (s *Service) Authenticate(ctx context.Context, username, password string) (store.StaffAccount, error) {
	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		return store.StaffAccount{}, ErrInvalidCredentials
	}

	account, err := s.store.GetStaffByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			_ = bcrypt.CompareHashAndPassword(s.dummy, []byte(password))
			return store.StaffAccount{}, ErrInvalidCredentials
		}
		return store.StaffAccount{}, fmt.Errorf("lookup staff: %w", err)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(account.PasswordHash), []byte(password)); err != nil {
		return store.StaffAccount{}, ErrInvalidCredentials
	}
	return account, nil
}
