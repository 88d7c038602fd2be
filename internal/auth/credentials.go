package auth

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// Default demo credentials.
const (
	DefaultUsername = "admin"
	DefaultPassword = "admin123"
)

// CredentialChecker verifies a username/password pair.
type CredentialChecker interface {
	Check(ctx context.Context, username, password string) error
}

// StaticCredentials accepts exactly one configured account.
type StaticCredentials struct {
	admin Admin
}

// NewStaticCredentials builds a checker from a username and either a bcrypt
// hash or a plaintext password. The hash wins when both are set.
func NewStaticCredentials(username, password, passwordHash string) (*StaticCredentials, error) {
	if username == "" {
		return nil, errors.New("auth: admin username required")
	}
	if passwordHash == "" {
		if password == "" {
			return nil, errors.New("auth: admin password or hash required")
		}
		hashed, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
		if err != nil {
			return nil, fmt.Errorf("auth: hash admin password: %w", err)
		}
		passwordHash = string(hashed)
	} else if _, err := bcrypt.Cost([]byte(passwordHash)); err != nil {
		return nil, fmt.Errorf("auth: admin password hash: %w", err)
	}
	return &StaticCredentials{admin: Admin{Username: username, PasswordHash: passwordHash}}, nil
}

// Check implements CredentialChecker.
func (s *StaticCredentials) Check(_ context.Context, username, password string) error {
	userOK := subtle.ConstantTimeCompare([]byte(username), []byte(s.admin.Username)) == 1
	passErr := bcrypt.CompareHashAndPassword([]byte(s.admin.PasswordHash), []byte(password))
	if !userOK || passErr != nil {
		return ErrInvalidCredentials
	}
	return nil
}

var _ CredentialChecker = (*StaticCredentials)(nil)
