package model

import "time"

// User is an identity record in the `users` table.  It is owned by the
// identity provider; the rest of the application reads it through
// sessions and never writes it directly.
//
// Fields:
//  ID           – primary key identifier, shared with profiles.id.
//  Email        – unique, lower-cased email address.
//  PasswordHash – bcrypt hash.
//  Role         – profiles.user_type at the time of the read ("user" when no profile yet).
//  Metadata     – free-form sign-up data (e.g. the chosen display name).
type User struct {
	ID           uint64            `json:"id"`
	Email        string            `json:"email"`
	PasswordHash string            `json:"-"`
	Role         string            `json:"role"`
	Metadata     map[string]string `json:"metadata,omitempty"`
	IsActive     bool              `json:"is_active"`
	CreatedAt    time.Time         `json:"created_at"`
}

// RefreshToken models an entry in the `refresh_tokens` table.  Only the
// SHA-256 hash of the token value is stored.  DeviceID ties the token to
// the client agent that signed in.
type RefreshToken struct {
	ID        uint64     // refresh_tokens.id
	UserID    uint64     // refresh_tokens.user_id
	DeviceID  string     // refresh_tokens.device_id
	TokenHash string     // refresh_tokens.token_hash
	ExpiresAt time.Time  // refresh_tokens.expires_at
	RevokedAt *time.Time // refresh_tokens.revoked_at (nullable)
	CreatedAt time.Time  // refresh_tokens.created_at
}
