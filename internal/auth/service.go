package auth

import (
	"context"
	"log/slog"
)

// Service is the admin session gate.
type Service struct {
	checker CredentialChecker
	logger  *slog.Logger
}

// NewService constructs a new Service.
func NewService(checker CredentialChecker, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{checker: checker, logger: logger}
}

// Login reports whether the credentials open an admin session.
func (s *Service) Login(ctx context.Context, username, password string) bool {
	if err := s.checker.Check(ctx, username, password); err != nil {
		s.logger.Info("admin login rejected", slog.String("username", username))
		return false
	}
	s.logger.Info("admin login", slog.String("username", username))
	return true
}
