package auth

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"time"

	"log/slog"

	"github.com/Ethaniconic/Swalambh-mvp/internal/domain"
	"github.com/Ethaniconic/Swalambh-mvp/internal/repository"
	"github.com/Ethaniconic/Swalambh-mvp/pkg/config"
	"github.com/Ethaniconic/Swalambh-mvp/pkg/crypto"
	jwtpkg "github.com/Ethaniconic/Swalambh-mvp/pkg/jwt"
)

// Validation and credential errors surfaced to the HTTP layer.
var (
	ErrInvalidEmail       = errors.New("invalid email format")
	ErrPasswordTooShort   = errors.New("password must be at least 8 characters")
	ErrEmailTaken         = errors.New("email already registered")
	ErrInvalidCredentials = errors.New("invalid credentials")
)

var emailPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

const minPasswordLength = 8

// Service handles credential and session workflows.
type Service struct {
	users  repository.UserRepository
	resets repository.ResetTokenRepository
	logger *slog.Logger
	cfg    config.APIConfig
}

// New constructs a Service.
func New(users repository.UserRepository, resets repository.ResetTokenRepository, logger *slog.Logger, cfg config.APIConfig) Service {
	return Service{users: users, resets: resets, logger: logger, cfg: cfg}
}

// Signup registers a new user. Emails are compared case-insensitively, so
// the stored form is always lowercase. Nothing is persisted on failure.
func (s Service) Signup(ctx context.Context, email, password string, fullName, role *string) (*domain.User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if !emailPattern.MatchString(email) {
		return nil, ErrInvalidEmail
	}
	if len(password) < minPasswordLength {
		return nil, ErrPasswordTooShort
	}
	hash, err := crypto.HashPassword(password)
	if err != nil {
		return nil, err
	}
	user := &domain.User{
		ID:           domain.NewID(),
		Email:        email,
		FullName:     fullName,
		Role:         role,
		PasswordHash: hash,
		CreatedAt:    time.Now().UTC(),
	}
	if err := s.users.CreateUser(ctx, user); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			return nil, ErrEmailTaken
		}
		return nil, err
	}
	s.logger.Info("user registered", "user_id", user.ID)
	return user, nil
}

// Login authenticates a user and issues an access token. A missing account
// and a wrong password return the same error so callers cannot probe for
// registered emails.
func (s Service) Login(ctx context.Context, email, password string) (*domain.User, string, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	user, err := s.users.GetUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, "", ErrInvalidCredentials
		}
		return nil, "", err
	}
	if err := crypto.ComparePassword(user.PasswordHash, password); err != nil {
		return nil, "", ErrInvalidCredentials
	}
	token, err := jwtpkg.GenerateToken(user.ID, s.cfg.SecretKey, s.cfg.AccessTokenTTL)
	if err != nil {
		return nil, "", err
	}
	s.logger.Info("user logged in", "user_id", user.ID)
	return user, token, nil
}

// Forgot starts password recovery. The caller always observes the same
// outcome; a reset token is created only when the email belongs to a user.
func (s Service) Forgot(ctx context.Context, email string) error {
	email = strings.ToLower(strings.TrimSpace(email))
	user, err := s.users.GetUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil
		}
		return err
	}
	token := &domain.ResetToken{
		ID:        domain.NewID(),
		UserID:    user.ID,
		Used:      false,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.resets.Save(ctx, token, domain.ResetTokenTTL); err != nil {
		return err
	}
	s.logger.Info("reset token issued", "user_id", user.ID)
	return nil
}

// Authorize validates a bearer token and returns the subject user id.
// Verification is stateless; no store lookup happens here.
func (s Service) Authorize(_ context.Context, token string) (string, error) {
	trimmed := strings.TrimSpace(token)
	if trimmed == "" {
		return "", errors.New("token required")
	}
	return jwtpkg.Parse(trimmed, s.cfg.SecretKey)
}
