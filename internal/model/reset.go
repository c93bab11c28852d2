package model

import "time"

// PasswordReset binds the digest of a delivered reset token to one user.
type PasswordReset struct {
	UserID    string    `json:"user_id"`
	TokenHash string    `json:"token_hash"`
	ExpiresAt time.Time `json:"expires_at"`
	CreatedAt time.Time `json:"created_at"`
}

func (r PasswordReset) ExpiredAt(now time.Time) bool {
	return !now.Before(r.ExpiresAt)
}
