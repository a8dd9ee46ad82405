package domain

import "time"

// User represents a registered account. The password hash never leaves the
// server; handlers serialize users through PublicUser.
type User struct {
	ID           string
	Email        string
	FullName     *string
	Role         *string
	PasswordHash []byte
	CreatedAt    time.Time
}

// PublicUser is the outward-facing view of a User.
type PublicUser struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	FullName  *string   `json:"full_name"`
	Role      *string   `json:"role"`
	CreatedAt time.Time `json:"created_at"`
}

// Public strips credential material from a User.
func (u *User) Public() PublicUser {
	return PublicUser{
		ID:        u.ID,
		Email:     u.Email,
		FullName:  u.FullName,
		Role:      u.Role,
		CreatedAt: u.CreatedAt,
	}
}
