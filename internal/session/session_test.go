package session

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/cinedb/cinedb/internal/identity"
	"github.com/cinedb/cinedb/internal/identity/identitytest"
	"github.com/cinedb/cinedb/internal/model"
	"github.com/cinedb/cinedb/internal/repository"
)

const adminEmail = "owner@cinedb.test"

type fakeProfiles struct {
	mu      sync.Mutex
	byID    map[uint64]*model.Profile
	names   map[string][]string
	lookups int
	ensured int
	failGet error
}

func newFakeProfiles() *fakeProfiles {
	return &fakeProfiles{byID: map[uint64]*model.Profile{}, names: map[string][]string{}}
}

func (f *fakeProfiles) GetByID(_ context.Context, id uint64) (*model.Profile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failGet != nil {
		return nil, f.failGet
	}
	p, ok := f.byID[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (f *fakeProfiles) Ensure(_ context.Context, id uint64, name, email string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ensured++
	if _, ok := f.byID[id]; !ok {
		f.byID[id] = &model.Profile{ID: id, Name: name, Email: email, UserType: model.UserTypeUser}
	}
	return nil
}

func (f *fakeProfiles) EmailsByName(_ context.Context, name string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lookups++
	return f.names[name], nil
}

func (f *fakeProfiles) setType(id uint64, userType string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if p, ok := f.byID[id]; ok {
		p.UserType = userType
	}
}

type note struct{ device, level, msg string }

type fakeNotifier struct {
	mu    sync.Mutex
	notes []note
}

func (n *fakeNotifier) Notify(deviceID, level, message string) {
	n.mu.Lock()
	n.notes = append(n.notes, note{deviceID, level, message})
	n.mu.Unlock()
}

func (n *fakeNotifier) count(level string) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	c := 0
	for _, x := range n.notes {
		if x.level == level {
			c++
		}
	}
	return c
}

type fixture struct {
	provider *identity.Local
	profiles *fakeProfiles
	mirror   *MemoryMirror
	notifier *fakeNotifier
	manager  *Manager
	now      time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	log := logrus.New()
	log.SetOutput(io.Discard)
	f := &fixture{
		provider: identity.NewLocal(identitytest.NewUsers(), identitytest.NewTokens(), identity.Options{
			Secret: "s", AccessTTLMin: 15, RefreshTTLDays: 1, BcryptCost: 4,
		}, log),
		profiles: newFakeProfiles(),
		mirror:   NewMemoryMirror(),
		notifier: &fakeNotifier{},
		now:      time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
	}
	f.manager = NewManager(Deps{
		Provider:   f.provider,
		Profiles:   f.profiles,
		Mirror:     f.mirror,
		Notifier:   f.notifier,
		AdminEmail: adminEmail,
		Log:        log,
		Now:        func() time.Time { return f.now },
	})
	t.Cleanup(f.manager.Close)
	return f
}

func (f *fixture) sync(t *testing.T, device string) *Synchronizer {
	t.Helper()
	s, err := f.manager.For(context.Background(), device)
	if err != nil {
		t.Fatalf("For(%s): %v", device, err)
	}
	return s
}

func (f *fixture) register(t *testing.T, email, name string) uint64 {
	t.Helper()
	id, _, err := f.provider.EnsureAccount(context.Background(), email, "secret1", map[string]string{"name": name})
	if err != nil {
		t.Fatal(err)
	}
	return id
}

func TestSignInLoadsProfileAndMirrors(t *testing.T) {
	f := newFixture(t)
	f.register(t, "ana@example.com", "ana")
	s := f.sync(t, "dev-1")
	if s.State().IsLoading {
		t.Fatal("still loading after Start")
	}

	if _, err := s.SignIn(context.Background(), "ana@example.com", "secret1", false); err != nil {
		t.Fatalf("SignIn: %v", err)
	}
	s.Wait()

	st := s.State()
	if st.Session == nil || st.User == nil || st.User.Email != "ana@example.com" {
		t.Fatalf("state = %+v", st)
	}
	if st.Profile == nil || st.Profile.Name != "ana" {
		t.Fatalf("profile = %+v", st.Profile)
	}
	if st.IsAdmin || st.IsModerator {
		t.Errorf("flags = admin %v moderator %v", st.IsAdmin, st.IsModerator)
	}
	if f.profiles.ensured != 1 {
		t.Errorf("missing profile created %d times", f.profiles.ensured)
	}

	got, _ := f.mirror.All(context.Background(), "dev-1")
	want := map[string]string{
		KeyIsLoggedIn:       "true",
		KeyUsername:         "ana",
		KeyUserType:         "user",
		KeyRememberMe:       "false",
		KeyLastActivityTime: "1714564800000",
	}
	for k, v := range want {
		if got[k] != v {
			t.Errorf("mirror[%s] = %q, want %q", k, got[k], v)
		}
	}
}

func TestIsAdminDisjuncts(t *testing.T) {
	tests := []struct {
		name, userType, email, admin string
		want                         bool
	}{
		{"admin user type", model.UserTypeAdmin, "x@example.com", adminEmail, true},
		{"sentinel email", model.UserTypeUser, adminEmail, adminEmail, true},
		{"sentinel email any case", model.UserTypeUser, "OWNER@cinedb.test", adminEmail, true},
		{"neither", model.UserTypeModerator, "x@example.com", adminEmail, false},
		{"sentinel disabled", model.UserTypeUser, "", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := isAdmin(tt.userType, tt.email, tt.admin); got != tt.want {
				t.Errorf("isAdmin = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestAdminFlagsThroughSignIn(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	sentinel := f.register(t, adminEmail, "owner")
	s := f.sync(t, "dev-a")
	if _, err := s.SignIn(ctx, adminEmail, "secret1", true); err != nil {
		t.Fatal(err)
	}
	s.Wait()
	if st := s.State(); !st.IsAdmin || st.Profile.UserType != model.UserTypeUser || st.User.ID != sentinel {
		t.Errorf("sentinel email state = %+v", st)
	}

	mod := f.register(t, "mod@example.com", "mod")
	_ = f.profiles.Ensure(ctx, mod, "mod", "mod@example.com")
	f.profiles.setType(mod, model.UserTypeModerator)
	m := f.sync(t, "dev-m")
	if _, err := m.SignIn(ctx, "mod@example.com", "secret1", true); err != nil {
		t.Fatal(err)
	}
	m.Wait()
	if st := m.State(); st.IsAdmin || !st.IsModerator {
		t.Errorf("moderator state = admin %v moderator %v", st.IsAdmin, st.IsModerator)
	}

	adm := f.register(t, "boss@example.com", "boss")
	_ = f.profiles.Ensure(ctx, adm, "boss", "boss@example.com")
	f.profiles.setType(adm, model.UserTypeAdmin)
	a := f.sync(t, "dev-b")
	if _, err := a.SignIn(ctx, "boss@example.com", "secret1", true); err != nil {
		t.Fatal(err)
	}
	a.Wait()
	if st := a.State(); !st.IsAdmin || st.IsModerator {
		t.Errorf("admin state = admin %v moderator %v", st.IsAdmin, st.IsModerator)
	}
}

func TestSignInNameLookup(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.register(t, "ana@example.com", "ana")
	s := f.sync(t, "dev-1")

	if _, err := s.SignIn(ctx, "ana@example.com", "secret1", false); err != nil {
		t.Fatal(err)
	}
	if f.profiles.lookups != 0 {
		t.Fatalf("email sign-in looked up a name %d times", f.profiles.lookups)
	}
	_ = s.SignOut(ctx)

	f.profiles.names["ana"] = []string{"ana@example.com"}
	if _, err := s.SignIn(ctx, "ana", "secret1", false); err != nil {
		t.Fatalf("name sign-in: %v", err)
	}
	if f.profiles.lookups != 1 {
		t.Fatalf("name sign-in looked up %d times", f.profiles.lookups)
	}
	_ = s.SignOut(ctx)

	if _, err := s.SignIn(ctx, "ghost", "secret1", false); !errors.Is(err, ErrNotFound) {
		t.Errorf("unknown name err = %v", err)
	}
	f.profiles.names["twin"] = []string{"a@example.com", "b@example.com"}
	if _, err := s.SignIn(ctx, "twin", "secret1", false); !errors.Is(err, ErrNotFound) {
		t.Errorf("ambiguous name err = %v", err)
	}
	if f.profiles.lookups != 3 {
		t.Errorf("lookups = %d, want 3", f.profiles.lookups)
	}
	if n := f.notifier.count("error"); n != 2 {
		t.Errorf("error notifications = %d, want 2", n)
	}
}

func TestSignInFailureNotifies(t *testing.T) {
	f := newFixture(t)
	f.register(t, "ana@example.com", "ana")
	s := f.sync(t, "dev-1")
	_, err := s.SignIn(context.Background(), "ana@example.com", "nope", true)
	if !errors.Is(err, identity.ErrInvalidCredentials) {
		t.Fatalf("err = %v", err)
	}
	if f.notifier.count("error") != 1 || f.notifier.notes[0].msg != identity.ErrInvalidCredentials.Error() {
		t.Errorf("notes = %+v", f.notifier.notes)
	}
	if _, ok, _ := f.mirror.Get(context.Background(), "dev-1", KeyRememberMe); ok {
		t.Error("rememberMe written on failed sign in")
	}
}

func TestSignUpDoesNotNotify(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.register(t, "ana@example.com", "ana")
	s := f.sync(t, "dev-1")
	if _, err := s.SignUp(ctx, "ana@example.com", "secret1", nil); !errors.Is(err, identity.ErrEmailExists) {
		t.Fatalf("err = %v", err)
	}
	if len(f.notifier.notes) != 0 {
		t.Errorf("notes = %+v", f.notifier.notes)
	}
	if _, err := s.SignUp(ctx, "new@example.com", "secret1", map[string]string{"name": "newbie"}); err != nil {
		t.Fatal(err)
	}
	s.Wait()
	if st := s.State(); st.Profile == nil || st.Profile.Name != "newbie" {
		t.Errorf("profile = %+v", st.Profile)
	}
}

func TestSignedOutClearsEveryKey(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.register(t, "ana@example.com", "ana")
	s := f.sync(t, "dev-1")
	if _, err := s.SignIn(ctx, "ana@example.com", "secret1", true); err != nil {
		t.Fatal(err)
	}
	s.Wait()
	_ = f.mirror.Set(ctx, "dev-1", map[string]string{KeyUserType: "admin", KeyUsername: "someone else"})
	_ = f.mirror.Set(ctx, "dev-2", map[string]string{KeyIsLoggedIn: "true"})

	if err := s.SignOut(ctx); err != nil {
		t.Fatal(err)
	}
	for _, k := range AllKeys {
		if _, ok, _ := f.mirror.Get(ctx, "dev-1", k); ok {
			t.Errorf("%s still set after sign out", k)
		}
	}
	if _, ok, _ := f.mirror.Get(ctx, "dev-2", KeyIsLoggedIn); !ok {
		t.Error("sign out on dev-1 cleared dev-2")
	}
	st := s.State()
	if st.Session != nil || st.Profile != nil || st.IsAdmin || st.IsModerator {
		t.Errorf("state after sign out = %+v", st)
	}
}

func TestSignedOutWithoutPriorState(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	s := f.sync(t, "dev-1")
	_ = f.mirror.Set(ctx, "dev-1", map[string]string{KeyRememberMe: "true", KeyLastActivityTime: "1"})
	_ = s.SignOut(ctx)
	if vals, _ := f.mirror.All(ctx, "dev-1"); len(vals) != 0 {
		t.Errorf("mirror = %v", vals)
	}
}

func TestStaleProfileIsDiscarded(t *testing.T) {
	f := newFixture(t)
	s := newSynchronizer("dev-1", f.manager.deps)
	u := model.User{ID: 7, Email: "x@example.com"}
	s.setSession(&identity.Session{User: u})
	second := s.setSession(&identity.Session{User: u})
	first := second - 1

	s.applyProfile(second, u, &model.Profile{ID: 7, UserType: model.UserTypeAdmin})
	s.applyProfile(first, u, &model.Profile{ID: 7, UserType: model.UserTypeUser})

	st := s.State()
	if !st.IsAdmin || st.Profile.UserType != model.UserTypeAdmin {
		t.Errorf("older response overwrote newer: %+v", st.Profile)
	}
}

func TestProfileAfterSignOutIsDiscarded(t *testing.T) {
	f := newFixture(t)
	s := newSynchronizer("dev-1", f.manager.deps)
	u := model.User{ID: 7, Email: "x@example.com"}
	seq := s.setSession(&identity.Session{DeviceID: "dev-1", User: u})
	s.handle(identity.Event{Kind: identity.SignedOut, DeviceID: "dev-1"})
	s.applyProfile(seq, u, &model.Profile{ID: 7, UserType: model.UserTypeAdmin})
	if st := s.State(); st.Profile != nil || st.IsAdmin {
		t.Errorf("late profile applied after sign out: %+v", st)
	}
}

func TestProfileFetchFailureIsSwallowed(t *testing.T) {
	f := newFixture(t)
	f.register(t, "ana@example.com", "ana")
	f.profiles.failGet = errors.New("db down")
	s := f.sync(t, "dev-1")
	if _, err := s.SignIn(context.Background(), "ana@example.com", "secret1", false); err != nil {
		t.Fatalf("SignIn: %v", err)
	}
	s.Wait()
	st := s.State()
	if st.Session == nil || st.Profile != nil {
		t.Errorf("state = %+v", st)
	}
}

func TestStartPicksUpExistingSession(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.register(t, "ana@example.com", "ana")
	if _, err := f.provider.SignInWithPassword(ctx, "dev-9", "ana@example.com", "secret1"); err != nil {
		t.Fatal(err)
	}
	s := f.sync(t, "dev-9")
	st := s.State()
	if st.IsLoading || st.Session == nil || st.Profile == nil {
		t.Errorf("state after Start = %+v", st)
	}
}

func TestEventsForOtherDevicesAreIgnored(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.register(t, "ana@example.com", "ana")
	a := f.sync(t, "dev-a")
	b := f.sync(t, "dev-b")
	if _, err := a.SignIn(ctx, "ana@example.com", "secret1", false); err != nil {
		t.Fatal(err)
	}
	a.Wait()
	if b.State().Session != nil {
		t.Error("dev-b picked up dev-a's sign in")
	}
}

func TestIdleWatcher(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.register(t, "ana@example.com", "ana")
	f.register(t, "bo@example.com", "bo")
	idle := f.sync(t, "dev-idle")
	kept := f.sync(t, "dev-kept")
	if _, err := idle.SignIn(ctx, "ana@example.com", "secret1", false); err != nil {
		t.Fatal(err)
	}
	if _, err := kept.SignIn(ctx, "bo@example.com", "secret1", true); err != nil {
		t.Fatal(err)
	}
	idle.Wait()
	kept.Wait()

	w := &IdleWatcher{
		Manager:  f.manager,
		Mirror:   f.mirror,
		Notifier: f.notifier,
		Timeout:  30 * time.Minute,
		Interval: time.Minute,
		Log:      logrus.New(),
		Now:      func() time.Time { return f.now.Add(29 * time.Minute) },
	}
	if n := w.Sweep(ctx); n != 0 {
		t.Fatalf("swept %d before timeout", n)
	}
	w.Now = func() time.Time { return f.now.Add(31 * time.Minute) }
	if n := w.Sweep(ctx); n != 1 {
		t.Fatalf("swept %d, want 1", n)
	}
	if _, ok := f.manager.Get("dev-idle"); ok {
		t.Error("idle device still tracked")
	}
	if kept.State().Session == nil {
		t.Error("remembered device was signed out")
	}
	if f.notifier.count("info") != 1 {
		t.Errorf("notes = %+v", f.notifier.notes)
	}
}

func TestTouchResetsIdleClock(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.register(t, "ana@example.com", "ana")
	s := f.sync(t, "dev-1")
	if _, err := s.SignIn(ctx, "ana@example.com", "secret1", false); err != nil {
		t.Fatal(err)
	}
	s.Wait()
	f.now = f.now.Add(20 * time.Minute)
	if err := s.Touch(ctx); err != nil {
		t.Fatal(err)
	}
	w := &IdleWatcher{
		Manager: f.manager, Mirror: f.mirror, Timeout: 30 * time.Minute, Log: logrus.New(),
		Now: func() time.Time { return f.now.Add(15 * time.Minute) },
	}
	if n := w.Sweep(ctx); n != 0 {
		t.Errorf("touched device swept")
	}
}

func TestRedisMirror(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()
	m := NewRedisMirror(rdb, "test:device", time.Hour)

	if err := m.Set(ctx, "d1", map[string]string{KeyIsLoggedIn: "true", KeyUsername: "ana"}); err != nil {
		t.Fatal(err)
	}
	if v, ok, err := m.Get(ctx, "d1", KeyUsername); err != nil || !ok || v != "ana" {
		t.Errorf("Get = %q %v %v", v, ok, err)
	}
	if ttl := mr.TTL("test:device:d1"); ttl != time.Hour {
		t.Errorf("ttl = %v", ttl)
	}
	if err := m.Delete(ctx, "d1", AllKeys...); err != nil {
		t.Fatal(err)
	}
	if _, ok, _ := m.Get(ctx, "d1", KeyUsername); ok {
		t.Error("key survived Delete")
	}
	if vals, _ := m.All(ctx, "d1"); len(vals) != 0 {
		t.Errorf("All = %v", vals)
	}
}

// signInDuringSnapshot signs the device in right after the snapshot is
// read, the way a concurrent request on the same device would.
type signInDuringSnapshot struct {
	*identity.Local
	mu    sync.Mutex
	calls []string
}

func (p *signInDuringSnapshot) record(call string) {
	p.mu.Lock()
	p.calls = append(p.calls, call)
	p.mu.Unlock()
}

func (p *signInDuringSnapshot) OnAuthStateChange(fn identity.Listener) func() {
	p.record("subscribe")
	return p.Local.OnAuthStateChange(fn)
}

func (p *signInDuringSnapshot) GetSession(ctx context.Context, deviceID string) (*identity.Session, error) {
	p.record("snapshot")
	cur, err := p.Local.GetSession(ctx, deviceID)
	if err != nil {
		return nil, err
	}
	if _, err := p.Local.SignInWithPassword(ctx, deviceID, "kit@example.com", "secret1"); err != nil {
		return nil, err
	}
	return cur, nil
}

func TestStartSubscribesBeforeSnapshot(t *testing.T) {
	f := newFixture(t)
	f.register(t, "kit@example.com", "kit")
	p := &signInDuringSnapshot{Local: f.provider}
	s := newSynchronizer("dev-race", Deps{
		Provider: p,
		Profiles: f.profiles,
		Mirror:   f.mirror,
		Notifier: f.notifier,
		Now:      func() time.Time { return f.now },
	})
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer s.Close()
	s.Wait()

	if len(p.calls) != 2 || p.calls[0] != "subscribe" || p.calls[1] != "snapshot" {
		t.Fatalf("calls = %v", p.calls)
	}
	st := s.State()
	if st.Session == nil || st.User == nil || st.User.Email != "kit@example.com" {
		t.Fatalf("sign-in during snapshot lost: %+v", st)
	}
	if st.Profile == nil || st.Profile.Name != "kit" || st.IsLoading {
		t.Errorf("state = %+v", st)
	}
}
