package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/cinedb/cinedb/internal/model"
	"github.com/cinedb/cinedb/internal/repository"
	"github.com/cinedb/cinedb/internal/utils"
	"github.com/cinedb/cinedb/internal/validate"
)

// UserStore is the subset of repository.UserRepo the provider needs.
type UserStore interface {
	Create(ctx context.Context, email, passwordHash string, metadata map[string]string) (uint64, error)
	GetByEmail(ctx context.Context, email string) (model.User, error)
	GetByID(ctx context.Context, id uint64) (model.User, error)
	UpdatePassword(ctx context.Context, id uint64, passwordHash string) error
}

// TokenStore is the subset of repository.TokenRepo the provider needs.
type TokenStore interface {
	StoreRefresh(ctx context.Context, userID uint64, deviceID, tokenHash string, exp time.Time) error
	ValidateRefresh(ctx context.Context, tokenHash string) (uint64, string, error)
	RevokeByHash(ctx context.Context, tokenHash string) error
	RevokeDevice(ctx context.Context, userID uint64, deviceID string) error
}

// Options configures token lifetimes and hashing.
type Options struct {
	Secret         string
	AccessTTLMin   int
	RefreshTTLDays int
	BcryptCost     int
}

// Local is a Provider backed by the users and refresh_tokens tables.
// Access tokens are HS256 JWTs; refresh tokens are random and stored
// hashed, rotated on every refresh.
type Local struct {
	users  UserStore
	tokens TokenStore
	opts   Options
	log    logrus.FieldLogger

	sessMu   sync.RWMutex
	sessions map[string]*Session

	dispatchMu sync.Mutex
	nextID     int
	listeners  map[int]Listener
}

func NewLocal(users UserStore, tokens TokenStore, opts Options, log logrus.FieldLogger) *Local {
	return &Local{
		users:     users,
		tokens:    tokens,
		opts:      opts,
		log:       log.WithField("component", "identity"),
		sessions:  make(map[string]*Session),
		listeners: make(map[int]Listener),
	}
}

func (p *Local) OnAuthStateChange(fn Listener) func() {
	p.dispatchMu.Lock()
	id := p.nextID
	p.nextID++
	p.listeners[id] = fn
	p.dispatchMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			p.dispatchMu.Lock()
			delete(p.listeners, id)
			p.dispatchMu.Unlock()
		})
	}
}

func (p *Local) emit(kind EventKind, deviceID string, s *Session) {
	p.dispatchMu.Lock()
	defer p.dispatchMu.Unlock()
	ev := Event{Kind: kind, DeviceID: deviceID}
	if s != nil {
		cp := *s
		ev.Session = &cp
	}
	for _, fn := range p.listeners {
		fn(ev)
	}
}

func (p *Local) SignInWithPassword(ctx context.Context, deviceID, email, password string) (*Session, error) {
	email = normalizeEmail(email)
	u, err := p.users.GetByEmail(ctx, email)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, fmt.Errorf("load user: %w", err)
	}
	if !u.IsActive || !utils.VerifyPassword(u.PasswordHash, password) {
		return nil, ErrInvalidCredentials
	}
	s, err := p.issue(ctx, u, deviceID)
	if err != nil {
		return nil, err
	}
	p.emit(SignedIn, deviceID, s)
	return s, nil
}

// SignUp creates the account and signs it in on the device.
func (p *Local) SignUp(ctx context.Context, deviceID, email, password string, metadata map[string]string) (*Session, error) {
	email = normalizeEmail(email)
	if !validate.Email(email) {
		return nil, fmt.Errorf("invalid email %q", email)
	}
	if !validate.Password(password) {
		return nil, ErrWeakPassword
	}
	hash, err := utils.HashPassword(password, p.opts.BcryptCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}
	id, err := p.users.Create(ctx, email, hash, metadata)
	if errors.Is(err, repository.ErrEmailExists) {
		return nil, ErrEmailExists
	}
	if err != nil {
		return nil, fmt.Errorf("create user: %w", err)
	}
	u, err := p.users.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load new user: %w", err)
	}
	s, err := p.issue(ctx, u, deviceID)
	if err != nil {
		return nil, err
	}
	p.emit(SignedIn, deviceID, s)
	return s, nil
}

// SignOut revokes the device's refresh tokens and forgets its session.
// Signing out a device with no session still emits SignedOut.
func (p *Local) SignOut(ctx context.Context, deviceID string) error {
	p.sessMu.Lock()
	s := p.sessions[deviceID]
	delete(p.sessions, deviceID)
	p.sessMu.Unlock()

	if s != nil {
		if err := p.tokens.RevokeDevice(ctx, s.User.ID, deviceID); err != nil {
			p.log.WithError(err).WithField("device_id", deviceID).Warn("revoke device tokens failed")
		}
	}
	p.emit(SignedOut, deviceID, nil)
	return nil
}

// Refresh rotates a refresh token.  When deviceID is empty the device the
// token was issued to is used.
func (p *Local) Refresh(ctx context.Context, deviceID, refreshToken string) (*Session, error) {
	hash := utils.HashRefreshRaw(strings.TrimSpace(refreshToken))
	userID, tokenDevice, err := p.tokens.ValidateRefresh(ctx, hash)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrInvalidRefresh
	}
	if err != nil {
		return nil, fmt.Errorf("validate refresh: %w", err)
	}
	if deviceID == "" {
		deviceID = tokenDevice
	}
	if tokenDevice != "" && tokenDevice != deviceID {
		return nil, ErrInvalidRefresh
	}
	if err := p.tokens.RevokeByHash(ctx, hash); err != nil {
		return nil, fmt.Errorf("revoke refresh: %w", err)
	}
	u, err := p.users.GetByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load user: %w", err)
	}
	if !u.IsActive {
		return nil, ErrInvalidRefresh
	}
	s, err := p.issue(ctx, u, deviceID)
	if err != nil {
		return nil, err
	}
	p.emit(TokenRefreshed, deviceID, s)
	return s, nil
}

// GetSession returns the device's current session, or nil when signed out.
func (p *Local) GetSession(_ context.Context, deviceID string) (*Session, error) {
	p.sessMu.RLock()
	defer p.sessMu.RUnlock()
	s, ok := p.sessions[deviceID]
	if !ok {
		return nil, nil
	}
	cp := *s
	return &cp, nil
}

// UpdatePassword refuses with ErrNoSession unless userID is signed in on
// deviceID.
func (p *Local) UpdatePassword(ctx context.Context, deviceID string, userID uint64, newPassword string) error {
	if !validate.Password(newPassword) {
		return ErrWeakPassword
	}
	p.sessMu.RLock()
	s, ok := p.sessions[deviceID]
	p.sessMu.RUnlock()
	if !ok || s.User.ID != userID {
		return ErrNoSession
	}
	hash, err := utils.HashPassword(newPassword, p.opts.BcryptCost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	if err := p.users.UpdatePassword(ctx, s.User.ID, hash); err != nil {
		return fmt.Errorf("update password: %w", err)
	}
	u, err := p.users.GetByID(ctx, s.User.ID)
	if err != nil {
		return fmt.Errorf("load user: %w", err)
	}
	u.PasswordHash = ""

	p.sessMu.Lock()
	cur, ok := p.sessions[deviceID]
	if ok && cur.User.ID == userID {
		cur.User = u
	} else {
		ok = false
	}
	p.sessMu.Unlock()
	if ok {
		p.emit(UserUpdated, deviceID, cur)
	}
	return nil
}

// issue mints an access/refresh pair for u on deviceID and records the
// session.
func (p *Local) issue(ctx context.Context, u model.User, deviceID string) (*Session, error) {
	u.PasswordHash = ""
	access, err := utils.NewAccessToken(p.opts.Secret, utils.Claims{
		UserID:   u.ID,
		Email:    u.Email,
		Role:     u.Role,
		DeviceID: deviceID,
	}, p.opts.AccessTTLMin)
	if err != nil {
		return nil, fmt.Errorf("issue access: %w", err)
	}
	refresh, err := utils.NewRefreshToken(p.opts.RefreshTTLDays)
	if err != nil {
		return nil, fmt.Errorf("issue refresh: %w", err)
	}
	if err := p.tokens.StoreRefresh(ctx, u.ID, deviceID, utils.HashRefreshRaw(refresh.Raw), refresh.Exp); err != nil {
		return nil, fmt.Errorf("save refresh: %w", err)
	}
	s := &Session{
		User:           u,
		DeviceID:       deviceID,
		AccessToken:    access.Token,
		AccessExpires:  access.Exp,
		RefreshToken:   refresh.Raw,
		RefreshExpires: refresh.Exp,
	}
	p.sessMu.Lock()
	p.sessions[deviceID] = s
	p.sessMu.Unlock()
	cp := *s
	return &cp, nil
}

// EnsureAccount creates an account for email unless one exists.  It never
// changes the password of an existing account.
func (p *Local) EnsureAccount(ctx context.Context, email, password string, metadata map[string]string) (id uint64, created bool, err error) {
	email = normalizeEmail(email)
	u, err := p.users.GetByEmail(ctx, email)
	if err == nil {
		return u.ID, false, nil
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return 0, false, fmt.Errorf("load user: %w", err)
	}
	if !validate.Password(password) {
		return 0, false, ErrWeakPassword
	}
	hash, err := utils.HashPassword(password, p.opts.BcryptCost)
	if err != nil {
		return 0, false, fmt.Errorf("hash password: %w", err)
	}
	id, err = p.users.Create(ctx, email, hash, metadata)
	if err != nil {
		return 0, false, fmt.Errorf("create user: %w", err)
	}
	return id, true, nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
