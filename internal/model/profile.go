package model

import "time"

// User types stored in profiles.user_type.
const (
	UserTypeUser      = "user"
	UserTypeModerator = "moderator"
	UserTypeAdmin     = "admin"
)

// ValidUserType reports whether t is one of the three known user types.
func ValidUserType(t string) bool {
	switch t {
	case UserTypeUser, UserTypeModerator, UserTypeAdmin:
		return true
	}
	return false
}

// Profile is the application-side record of an authenticated identity,
// one-to-one with users.id.  It is created lazily on first sign-in and is
// never deleted by the application.
type Profile struct {
	ID        uint64    `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	Phone     string    `json:"phone"`
	City      string    `json:"city"`
	Country   string    `json:"country"`
	BirthDate string    `json:"birth_date,omitempty"` // YYYY-MM-DD, empty when unknown
	UserType  string    `json:"user_type"`
	AvatarURL string    `json:"avatar_url"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
