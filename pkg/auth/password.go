package auth

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"github.com/platinummonkey/invoicer/pkg/users"
)

var (
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrWeakPassword       = errors.New("password must be at least 8 characters")
	ErrInvalidEmail       = errors.New("a valid email address is required")
)

// MinPasswordLength is the shortest password accepted at registration
const MinPasswordLength = 8

// PasswordAuthenticator registers and authenticates users with bcrypt
// password hashes
type PasswordAuthenticator struct {
	users users.Repository
	cost  int
}

// NewPasswordAuthenticator creates a password authenticator
func NewPasswordAuthenticator(repo users.Repository) *PasswordAuthenticator {
	return &PasswordAuthenticator{users: repo, cost: bcrypt.DefaultCost}
}

// ValidateCredential checks the password meets minimum requirements
func (a *PasswordAuthenticator) ValidateCredential(password string) error {
	if len(password) < MinPasswordLength {
		return ErrWeakPassword
	}
	return nil
}

// Register creates a free account. A taken email yields users.ErrEmailTaken.
func (a *PasswordAuthenticator) Register(ctx context.Context, email, password, companyName string) (*users.User, error) {
	email = users.NormalizeEmail(email)
	if _, err := mail.ParseAddress(email); err != nil || !strings.Contains(email, "@") {
		return nil, ErrInvalidEmail
	}
	if err := a.ValidateCredential(password); err != nil {
		return nil, err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), a.cost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	user := &users.User{
		Email:        email,
		PasswordHash: string(hash),
		CompanyName:  strings.TrimSpace(companyName),
	}
	if err := a.users.Create(ctx, user); err != nil {
		return nil, err
	}
	return user, nil
}

// Authenticate verifies an email and password
func (a *PasswordAuthenticator) Authenticate(ctx context.Context, email, password string) (*users.User, error) {
	user, err := a.users.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, users.ErrNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}
	if user.PasswordHash == "" {
		// single sign-on account
		return nil, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}
	return user, nil
}
