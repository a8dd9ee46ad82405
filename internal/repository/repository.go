package repository

import (
	"context"
	"time"

	"github.com/Ethaniconic/Swalambh-mvp/internal/domain"
)

// UserRepository persists users. CreateUser returns ErrConflict when the
// email is already registered; email lookups are case-insensitive because
// emails are stored lowercased and compared the same way.
type UserRepository interface {
	CreateUser(ctx context.Context, user *domain.User) error
	GetUserByEmail(ctx context.Context, email string) (*domain.User, error)
	GetUserByID(ctx context.Context, id string) (*domain.User, error)
}

// CaseRepository persists triage cases.
type CaseRepository interface {
	CreateCase(ctx context.Context, c *domain.TriageCase) error
	ListCases(ctx context.Context, limit, offset int) ([]domain.TriageCase, error)
	GetCaseByID(ctx context.Context, id string) (*domain.TriageCase, error)
}

// ResetTokenRepository stores recovery tokens with store-level expiry: a
// saved token must be absent once its ttl elapses, whether or not it was
// consumed. Consume retrieves a token and removes it atomically so it can
// never authorize twice.
type ResetTokenRepository interface {
	Save(ctx context.Context, token *domain.ResetToken, ttl time.Duration) error
	Get(ctx context.Context, id string) (*domain.ResetToken, error)
	Consume(ctx context.Context, id string) (*domain.ResetToken, error)
}
