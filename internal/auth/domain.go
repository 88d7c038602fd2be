package auth

import "errors"

// ErrInvalidCredentials indicates the admin login was rejected.
var ErrInvalidCredentials = errors.New("invalid credentials")

// Admin describes the single console account.
type Admin struct {
	Username     string
	PasswordHash string
}
