package domain

import "time"

// ResetTokenTTL is how long a password-reset token survives in the store.
// Eviction happens at the store level regardless of whether the token was
// ever consumed.
const ResetTokenTTL = 24 * time.Hour

// ResetToken is a single-use password-recovery artifact. It references its
// owner by id only.
type ResetToken struct {
	ID        string
	UserID    string
	Used      bool
	CreatedAt time.Time
}
