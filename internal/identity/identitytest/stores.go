// Package identitytest provides in-memory user and token stores for tests
// that need a real identity.Local without a database.
package identitytest

import (
	"context"
	"sync"
	"time"

	"github.com/cinedb/cinedb/internal/model"
	"github.com/cinedb/cinedb/internal/repository"
)

// Users is an in-memory identity.UserStore.  Emails match exactly; the
// provider normalizes them.
type Users struct {
	mu     sync.Mutex
	nextID uint64
	byID   map[uint64]model.User
	// Roles overrides the role returned for a user id, standing in for
	// profiles.user_type.
	Roles map[uint64]string
}

func NewUsers() *Users {
	return &Users{byID: make(map[uint64]model.User), Roles: make(map[uint64]string)}
}

func (u *Users) Create(_ context.Context, email, passwordHash string, metadata map[string]string) (uint64, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	for _, existing := range u.byID {
		if existing.Email == email {
			return 0, repository.ErrEmailExists
		}
	}
	u.nextID++
	u.byID[u.nextID] = model.User{
		ID:           u.nextID,
		Email:        email,
		PasswordHash: passwordHash,
		Role:         model.UserTypeUser,
		Metadata:     metadata,
		IsActive:     true,
		CreatedAt:    time.Now().UTC(),
	}
	return u.nextID, nil
}

func (u *Users) GetByEmail(_ context.Context, email string) (model.User, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	for _, existing := range u.byID {
		if existing.Email == email {
			return u.withRole(existing), nil
		}
	}
	return model.User{}, repository.ErrNotFound
}

func (u *Users) GetByID(_ context.Context, id uint64) (model.User, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	existing, ok := u.byID[id]
	if !ok {
		return model.User{}, repository.ErrNotFound
	}
	return u.withRole(existing), nil
}

func (u *Users) UpdatePassword(_ context.Context, id uint64, passwordHash string) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	existing, ok := u.byID[id]
	if !ok {
		return repository.ErrNotFound
	}
	existing.PasswordHash = passwordHash
	u.byID[id] = existing
	return nil
}

func (u *Users) withRole(m model.User) model.User {
	if r, ok := u.Roles[m.ID]; ok {
		m.Role = r
	}
	return m
}

type token struct {
	userID   uint64
	deviceID string
	exp      time.Time
	revoked  bool
}

// Tokens is an in-memory identity.TokenStore.
type Tokens struct {
	mu     sync.Mutex
	byHash map[string]*token
}

func NewTokens() *Tokens { return &Tokens{byHash: make(map[string]*token)} }

func (t *Tokens) StoreRefresh(_ context.Context, userID uint64, deviceID, tokenHash string, exp time.Time) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.byHash[tokenHash] = &token{userID: userID, deviceID: deviceID, exp: exp}
	return nil
}

func (t *Tokens) ValidateRefresh(_ context.Context, tokenHash string) (uint64, string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	tok, ok := t.byHash[tokenHash]
	if !ok || tok.revoked || time.Now().After(tok.exp) {
		return 0, "", repository.ErrNotFound
	}
	return tok.userID, tok.deviceID, nil
}

func (t *Tokens) RevokeByHash(_ context.Context, tokenHash string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if tok, ok := t.byHash[tokenHash]; ok {
		tok.revoked = true
	}
	return nil
}

func (t *Tokens) RevokeDevice(_ context.Context, userID uint64, deviceID string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, tok := range t.byHash {
		if tok.userID == userID && tok.deviceID == deviceID {
			tok.revoked = true
		}
	}
	return nil
}

// Active counts unrevoked tokens held by userID.
func (t *Tokens) Active(userID uint64) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for _, tok := range t.byHash {
		if tok.userID == userID && !tok.revoked {
			n++
		}
	}
	return n
}
