// Package session keeps one authoritative auth State per device in step
// with the identity provider's event stream, mirrors the small flags a
// client reads into a per-device key/value store, and resolves the
// caller's admin and moderator rights from their profile.
package session

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/cinedb/cinedb/internal/identity"
	"github.com/cinedb/cinedb/internal/model"
	"github.com/cinedb/cinedb/internal/repository"
)

// ErrNotFound is returned by SignIn when a user name matches no account,
// or more than one.
var ErrNotFound = errors.New("no account matches that user name")

const mirrorTimeout = 3 * time.Second

// ProfileStore is the subset of repository.ProfileRepo the synchronizer
// needs.
type ProfileStore interface {
	GetByID(ctx context.Context, id uint64) (*model.Profile, error)
	Ensure(ctx context.Context, id uint64, name, email string) error
	EmailsByName(ctx context.Context, name string) ([]string, error)
}

// Notifier shows a transient message on one device.
type Notifier interface {
	Notify(deviceID, level, message string)
}

type noopNotifier struct{}

func (noopNotifier) Notify(string, string, string) {}

// State is a device's auth state.  IsLoading is true until the first
// snapshot has been applied.
type State struct {
	Session     *identity.Session `json:"session"`
	User        *model.User       `json:"user"`
	Profile     *model.Profile    `json:"profile"`
	IsAdmin     bool              `json:"is_admin"`
	IsModerator bool              `json:"is_moderator"`
	IsLoading   bool              `json:"is_loading"`
}

func (s State) clone() State {
	if s.Session != nil {
		cp := *s.Session
		s.Session = &cp
	}
	if s.User != nil {
		cp := *s.User
		s.User = &cp
	}
	if s.Profile != nil {
		cp := *s.Profile
		s.Profile = &cp
	}
	return s
}

// Deps are the collaborators every synchronizer shares.
type Deps struct {
	Provider identity.Provider
	Profiles ProfileStore
	Mirror   Mirror
	Notifier Notifier
	// AdminEmail grants admin rights to the identity with this email
	// regardless of its profile.  Empty disables it.
	AdminEmail string
	Log        logrus.FieldLogger
	Now        func() time.Time
}

// Synchronizer owns one device's State.  Nothing else writes it.
type Synchronizer struct {
	deviceID string
	deps     Deps
	log      logrus.FieldLogger

	mu      sync.RWMutex
	state   State
	issued  uint64 // last profile load sequence handed out
	applied uint64 // sequence of the load currently reflected in state

	unsubscribe func()
	loads       sync.WaitGroup
}

func newSynchronizer(deviceID string, deps Deps) *Synchronizer {
	if deps.Notifier == nil {
		deps.Notifier = noopNotifier{}
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Log == nil {
		deps.Log = logrus.StandardLogger()
	}
	return &Synchronizer{
		deviceID: deviceID,
		deps:     deps,
		log:      deps.Log.WithFields(logrus.Fields{"component": "session", "device_id": deviceID}),
		state:    State{IsLoading: true},
	}
}

// DeviceID returns the device this synchronizer serves.
func (s *Synchronizer) DeviceID() string { return s.deviceID }

// State returns a copy of the current state.
func (s *Synchronizer) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.clone()
}

// Start subscribes to auth events, then applies the provider's current
// session for the device and loads its profile.  Subscribing first means
// no transition between the snapshot and the subscription is lost.
func (s *Synchronizer) Start(ctx context.Context) error {
	s.unsubscribe = s.deps.Provider.OnAuthStateChange(s.handle)

	cur, err := s.deps.Provider.GetSession(ctx, s.deviceID)
	if err != nil {
		s.mu.Lock()
		s.state.IsLoading = false
		s.mu.Unlock()
		return fmt.Errorf("get session: %w", err)
	}
	if cur == nil {
		s.mu.Lock()
		s.state.IsLoading = false
		s.mu.Unlock()
		return nil
	}
	seq := s.setSession(cur)
	s.writeMirror(map[string]string{KeyIsLoggedIn: "true", KeyUsername: username(cur.User)})
	s.loadProfile(ctx, seq, cur.User)
	s.mu.Lock()
	s.state.IsLoading = false
	s.mu.Unlock()
	return nil
}

// Close stops listening for auth events and waits for pending profile
// loads.
func (s *Synchronizer) Close() {
	if s.unsubscribe != nil {
		s.unsubscribe()
	}
	s.loads.Wait()
}

// Wait blocks until every profile load started so far has finished.
func (s *Synchronizer) Wait() { s.loads.Wait() }

// handle runs under the provider's dispatch lock, so the profile fetch is
// handed to another goroutine.
func (s *Synchronizer) handle(ev identity.Event) {
	if ev.DeviceID != s.deviceID {
		return
	}
	switch ev.Kind {
	case identity.SignedOut:
		s.mu.Lock()
		s.state = State{}
		s.issued++
		s.applied = s.issued
		s.mu.Unlock()
		ctx, cancel := context.WithTimeout(context.Background(), mirrorTimeout)
		defer cancel()
		if err := s.deps.Mirror.Delete(ctx, s.deviceID, AllKeys...); err != nil {
			s.log.WithError(err).Warn("clear mirror failed")
		}
	case identity.SignedIn, identity.TokenRefreshed:
		if ev.Session == nil {
			return
		}
		seq := s.setSession(ev.Session)
		s.writeMirror(map[string]string{KeyIsLoggedIn: "true", KeyUsername: username(ev.Session.User)})
		u := ev.Session.User
		s.loads.Add(1)
		go func() {
			defer s.loads.Done()
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			s.loadProfile(ctx, seq, u)
		}()
	case identity.UserUpdated:
		if ev.Session == nil {
			return
		}
		s.mu.Lock()
		sess := *ev.Session
		user := sess.User
		s.state.Session = &sess
		s.state.User = &user
		s.mu.Unlock()
	}
}

// setSession records sess and hands out the sequence number for the
// profile load that follows it.
func (s *Synchronizer) setSession(sess *identity.Session) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *sess
	user := cp.User
	s.state.Session = &cp
	s.state.User = &user
	s.issued++
	return s.issued
}

// loadProfile fetches, or lazily creates, the profile for u and applies
// it.  Failures are logged and leave the state as it was.
func (s *Synchronizer) loadProfile(ctx context.Context, seq uint64, u model.User) {
	p, err := s.deps.Profiles.GetByID(ctx, u.ID)
	if errors.Is(err, repository.ErrNotFound) {
		if err = s.deps.Profiles.Ensure(ctx, u.ID, username(u), u.Email); err == nil {
			p, err = s.deps.Profiles.GetByID(ctx, u.ID)
		}
	}
	if err != nil {
		s.log.WithError(err).WithField("user_id", u.ID).Warn("profile fetch failed")
		return
	}
	s.applyProfile(seq, u, p)
}

// applyProfile is the single place profile-derived state is written.  A
// response issued before the one already applied is dropped.
func (s *Synchronizer) applyProfile(seq uint64, u model.User, p *model.Profile) {
	s.mu.Lock()
	if seq <= s.applied || s.state.User == nil || s.state.User.ID != u.ID {
		s.mu.Unlock()
		return
	}
	s.applied = seq
	cp := *p
	s.state.Profile = &cp
	s.state.IsAdmin = isAdmin(p.UserType, u.Email, s.deps.AdminEmail)
	s.state.IsModerator = p.UserType == model.UserTypeModerator
	s.mu.Unlock()

	s.writeMirror(map[string]string{KeyUserType: p.UserType})
}

func isAdmin(userType, email, adminEmail string) bool {
	if userType == model.UserTypeAdmin {
		return true
	}
	return adminEmail != "" && strings.EqualFold(email, adminEmail)
}

func (s *Synchronizer) writeMirror(values map[string]string) {
	ctx, cancel := context.WithTimeout(context.Background(), mirrorTimeout)
	defer cancel()
	if err := s.deps.Mirror.Set(ctx, s.deviceID, values); err != nil {
		s.log.WithError(err).Warn("write mirror failed")
	}
}

// username is the name chosen at sign-up, or the email when none was.
func username(u model.User) string {
	if n := strings.TrimSpace(u.Metadata["name"]); n != "" {
		return n
	}
	return u.Email
}

// SignIn authenticates with an email, or with a profile name that
// resolves to exactly one email.  On success rememberMe and the activity
// time are stored; on failure the device is notified and the error
// returned.
func (s *Synchronizer) SignIn(ctx context.Context, identifier, password string, rememberMe bool) (*identity.Session, error) {
	identifier = strings.TrimSpace(identifier)
	email := identifier
	if !strings.Contains(identifier, "@") {
		emails, err := s.deps.Profiles.EmailsByName(ctx, identifier)
		if err != nil {
			s.fail("Sign in failed")
			return nil, fmt.Errorf("look up user name: %w", err)
		}
		if len(emails) != 1 {
			s.fail(ErrNotFound.Error())
			return nil, ErrNotFound
		}
		email = emails[0]
	}

	sess, err := s.deps.Provider.SignInWithPassword(ctx, s.deviceID, email, password)
	if err != nil {
		s.fail(failureMessage(err))
		return nil, err
	}
	s.writeMirror(map[string]string{
		KeyRememberMe:       strconv.FormatBool(rememberMe),
		KeyLastActivityTime: s.stamp(),
	})
	return sess, nil
}

// SignUp creates an account.  Errors are returned without notifying so the
// caller can branch on identity.ErrEmailExists.
func (s *Synchronizer) SignUp(ctx context.Context, email, password string, metadata map[string]string) (*identity.Session, error) {
	sess, err := s.deps.Provider.SignUp(ctx, s.deviceID, email, password, metadata)
	if err != nil {
		return nil, err
	}
	s.writeMirror(map[string]string{KeyLastActivityTime: s.stamp()})
	return sess, nil
}

// SignOut asks the provider to end the session.  State and mirror are
// cleared by the resulting SignedOut event.
func (s *Synchronizer) SignOut(ctx context.Context) error {
	return s.deps.Provider.SignOut(ctx, s.deviceID)
}

// Refresh rotates the device's refresh token.
func (s *Synchronizer) Refresh(ctx context.Context, refreshToken string) (*identity.Session, error) {
	sess, err := s.deps.Provider.Refresh(ctx, s.deviceID, refreshToken)
	if err != nil {
		s.fail(failureMessage(err))
		return nil, err
	}
	return sess, nil
}

// UpdatePassword changes the password of userID, the user signed in on
// the device.
func (s *Synchronizer) UpdatePassword(ctx context.Context, userID uint64, newPassword string) error {
	if err := s.deps.Provider.UpdatePassword(ctx, s.deviceID, userID, newPassword); err != nil {
		s.fail(failureMessage(err))
		return err
	}
	s.deps.Notifier.Notify(s.deviceID, "success", "Password updated")
	return nil
}

// Touch records user activity for the idle watcher.
func (s *Synchronizer) Touch(ctx context.Context) error {
	return s.deps.Mirror.Set(ctx, s.deviceID, map[string]string{KeyLastActivityTime: s.stamp()})
}

func (s *Synchronizer) stamp() string {
	return strconv.FormatInt(s.deps.Now().UnixMilli(), 10)
}

func (s *Synchronizer) fail(msg string) {
	s.deps.Notifier.Notify(s.deviceID, "error", msg)
}

// failureMessage passes provider errors through and hides everything else
// behind a generic message.
func failureMessage(err error) string {
	for _, known := range []error{
		identity.ErrInvalidCredentials,
		identity.ErrEmailExists,
		identity.ErrWeakPassword,
		identity.ErrInvalidRefresh,
		identity.ErrNoSession,
	} {
		if errors.Is(err, known) {
			return known.Error()
		}
	}
	return "Something went wrong, please try again"
}
