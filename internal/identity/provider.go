// Package identity issues and validates CineDB sessions.  The rest of the
// application talks to it through Provider, the same shape a hosted
// identity service exposes: password sign-in, sign-up, sign-out, token
// refresh and a stream of auth state events.
package identity

import (
	"context"
	"errors"
	"time"

	"github.com/cinedb/cinedb/internal/model"
)

// EventKind names an auth state transition.
type EventKind string

const (
	SignedIn       EventKind = "SIGNED_IN"
	SignedOut      EventKind = "SIGNED_OUT"
	TokenRefreshed EventKind = "TOKEN_REFRESHED"
	UserUpdated    EventKind = "USER_UPDATED"
)

var (
	ErrInvalidCredentials = errors.New("invalid login credentials")
	ErrEmailExists        = errors.New("user already registered")
	ErrWeakPassword       = errors.New("password should be at least 6 characters")
	ErrInvalidRefresh     = errors.New("invalid refresh token")
	ErrNoSession          = errors.New("no active session")
)

// Session is a signed-in identity on one device.
type Session struct {
	User           model.User `json:"user"`
	DeviceID       string     `json:"device_id"`
	AccessToken    string     `json:"access_token"`
	AccessExpires  time.Time  `json:"access_expires"`
	RefreshToken   string     `json:"refresh_token"`
	RefreshExpires time.Time  `json:"refresh_expires"`
}

// Event is delivered to every listener.  Session is nil for SignedOut.
type Event struct {
	Kind     EventKind
	DeviceID string
	Session  *Session
}

// Listener receives auth events.  It runs on the goroutine that caused the
// transition while the provider holds its dispatch lock, so it must not
// call back into the provider; defer such work to another goroutine.
type Listener func(Event)

// Provider is the identity service as the session layer sees it.  Every
// call is scoped to a device.
type Provider interface {
	SignInWithPassword(ctx context.Context, deviceID, email, password string) (*Session, error)
	SignUp(ctx context.Context, deviceID, email, password string, metadata map[string]string) (*Session, error)
	SignOut(ctx context.Context, deviceID string) error
	Refresh(ctx context.Context, deviceID, refreshToken string) (*Session, error)
	GetSession(ctx context.Context, deviceID string) (*Session, error)
	// UpdatePassword changes the password of userID, who must be the user
	// signed in on deviceID.
	UpdatePassword(ctx context.Context, deviceID string, userID uint64, newPassword string) error
	OnAuthStateChange(fn Listener) (unsubscribe func())
}
