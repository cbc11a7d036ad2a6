package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/milearning/milearning/internal/kv"
	"go.uber.org/zap"
)

const (
	DefaultSessionKey = "app_user"
	DefaultDelay      = 800 * time.Millisecond
)

// Messages rendered to the user. Causes are not distinguished beyond these.
const (
	MsgInvalidCredentials = "Invalid username or password"
	MsgUsernameTaken      = "Username already exists"
	MsgNotAuthenticated   = "Not authenticated"
	MsgLoginFailed        = "An error occurred during login"
	MsgRegisterFailed     = "An error occurred during registration"
	MsgUpdateFailed       = "An error occurred while updating your profile"
)

type RegisterInput struct {
	Username string
	Password string
	Email    string
	Name     string
}

// Store is one client's authentication state. The current profile is mirrored
// to the key-value store under a single key.
type Store struct {
	dir   *Directory
	kv    kv.Store
	key   string
	clock clockwork.Clock
	delay time.Duration
	log   *zap.Logger
	newID func() string

	mu        sync.Mutex
	current   *Profile
	loading   bool
	errMsg    string
	observers []func(*Profile)
}

type Option func(*Store)

func WithClock(c clockwork.Clock) Option {
	return func(s *Store) { s.clock = c }
}

// WithDelay sets the simulated network delay; zero or negative disables it.
func WithDelay(d time.Duration) Option {
	return func(s *Store) { s.delay = d }
}

func WithKey(key string) Option {
	return func(s *Store) { s.key = key }
}

func WithLogger(l *zap.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.log = l
		}
	}
}

func withIDGenerator(fn func() string) Option {
	return func(s *Store) { s.newID = fn }
}

func NewStore(dir *Directory, store kv.Store, opts ...Option) *Store {
	s := &Store{
		dir:     dir,
		kv:      store,
		key:     DefaultSessionKey,
		clock:   clockwork.NewRealClock(),
		delay:   DefaultDelay,
		log:     zap.NewNop(),
		newID:   func() string { return "user_" + uuid.NewString() },
		loading: true,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) Key() string { return s.key }

// OnUserChange registers fn to run whenever the current user is replaced or cleared.
// fn receives a copy of the new profile, or nil after logout.
func (s *Store) OnUserChange(fn func(*Profile)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.observers = append(s.observers, fn)
}

// Restore loads a previously persisted session. A blob that cannot be decoded
// is removed and the store stays logged out.
func (s *Store) Restore(ctx context.Context) error {
	defer s.setLoading(false)

	raw, err := s.kv.Get(ctx, s.key)
	if errors.Is(err, kv.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("restore session %s: %w", s.key, err)
	}

	var p Profile
	if err := json.Unmarshal(raw, &p); err != nil || p.ID == "" {
		s.log.Warn("discarding unreadable session blob", zap.String("key", s.key), zap.Error(err))
		if delErr := s.kv.Delete(ctx, s.key); delErr != nil {
			s.log.Error("failed to remove session blob", zap.String("key", s.key), zap.Error(delErr))
		}
		return nil
	}
	p.ensureLists()
	s.setCurrent(&p)
	return nil
}

func (s *Store) Login(ctx context.Context, username, password string) bool {
	return s.run(ctx, "login", MsgLoginFailed, func() (*Profile, func() error, error) {
		p, err := s.dir.Authenticate(username, password)
		if err != nil {
			return nil, nil, err
		}
		return &p, nil, nil
	})
}

func (s *Store) Register(ctx context.Context, in RegisterInput) bool {
	return s.run(ctx, "register", MsgRegisterFailed, func() (*Profile, func() error, error) {
		if s.dir.Exists(in.Username) {
			return nil, nil, ErrUsernameTaken
		}
		p := Profile{
			ID:          s.newID(),
			Username:    strings.TrimSpace(in.Username),
			Email:       strings.TrimSpace(in.Email),
			Name:        strings.TrimSpace(in.Name),
			AvatarURL:   DefaultAvatar,
			Preferences: Preferences{Autoplay: true, Notifications: true},
		}
		p.ensureLists()
		return &p, func() error { return s.dir.Add(p, in.Password) }, nil
	})
}

func (s *Store) UpdateProfile(ctx context.Context, patch ProfilePatch) bool {
	return s.run(ctx, "update profile", MsgUpdateFailed, func() (*Profile, func() error, error) {
		cur := s.Current()
		if cur == nil {
			return nil, nil, ErrNotAuthenticated
		}
		updated := cur.Apply(patch)
		return &updated, func() error {
			s.dir.Save(updated)
			return nil
		}, nil
	})
}

// SyncLists persists the saved and liked ids of the current user without the
// simulated delay and without touching the loading or error state.
func (s *Store) SyncLists(ctx context.Context, saved, liked []string) error {
	s.mu.Lock()
	if s.current == nil {
		s.mu.Unlock()
		return ErrNotAuthenticated
	}
	s.current.SavedVideos = slices.Clone(saved)
	s.current.LikedVideos = slices.Clone(liked)
	s.current.ensureLists()
	snapshot := s.current.Clone()
	s.mu.Unlock()

	if err := s.persist(ctx, snapshot); err != nil {
		return err
	}
	s.dir.Save(snapshot)
	return nil
}

// Logout clears the current user. The in-memory state is cleared even when the
// blob cannot be removed.
func (s *Store) Logout(ctx context.Context) error {
	err := s.kv.Delete(ctx, s.key)
	s.setCurrent(nil)
	if err != nil {
		return fmt.Errorf("remove session %s: %w", s.key, err)
	}
	return nil
}

func (s *Store) Current() *Profile {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return nil
	}
	p := s.current.Clone()
	return &p
}

func (s *Store) IsAuthenticated() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current != nil
}

func (s *Store) IsLoading() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loading
}

func (s *Store) Error() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.errMsg
}

func (s *Store) ClearError() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errMsg = ""
}

// run wraps one simulated request: loading on, delay, op, persist, commit,
// loading off. op returns the new profile and an optional commit that touches
// the shared directory; commit runs only after the blob is written, and a
// failed commit restores the previous blob.
func (s *Store) run(ctx context.Context, name, generic string, op func() (*Profile, func() error, error)) bool {
	s.mu.Lock()
	s.loading = true
	s.errMsg = ""
	s.mu.Unlock()
	defer s.setLoading(false)

	err := s.wait(ctx)
	var (
		p      *Profile
		commit func() error
	)
	if err == nil {
		p, commit, err = op()
	}
	if err == nil {
		err = s.persist(ctx, *p)
		if err == nil && commit != nil {
			if err = commit(); err != nil {
				s.restoreBlob(ctx)
			}
		}
	}
	if err != nil {
		msg := displayMessage(err)
		if msg == "" {
			s.log.Error(name+" failed", zap.String("key", s.key), zap.Error(err))
			msg = generic
		}
		s.mu.Lock()
		s.errMsg = msg
		s.mu.Unlock()
		return false
	}

	s.setCurrent(p)
	return true
}

func displayMessage(err error) string {
	switch {
	case errors.Is(err, ErrInvalidCredentials):
		return MsgInvalidCredentials
	case errors.Is(err, ErrUsernameTaken):
		return MsgUsernameTaken
	case errors.Is(err, ErrNotAuthenticated):
		return MsgNotAuthenticated
	default:
		return ""
	}
}

func (s *Store) wait(ctx context.Context) error {
	if s.delay <= 0 {
		return ctx.Err()
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-s.clock.After(s.delay):
		return nil
	}
}

// restoreBlob writes back the current profile, or removes the blob when nobody is logged in.
func (s *Store) restoreBlob(ctx context.Context) {
	var err error
	if cur := s.Current(); cur != nil {
		err = s.persist(ctx, *cur)
	} else {
		err = s.kv.Delete(ctx, s.key)
	}
	if err != nil {
		s.log.Error("failed to restore session blob", zap.String("key", s.key), zap.Error(err))
	}
}

func (s *Store) persist(ctx context.Context, p Profile) error {
	raw, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	if err := s.kv.Set(ctx, s.key, raw); err != nil {
		return fmt.Errorf("write session %s: %w", s.key, err)
	}
	return nil
}

func (s *Store) setLoading(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loading = v
}

func (s *Store) setCurrent(p *Profile) {
	s.mu.Lock()
	s.current = p
	observers := slices.Clone(s.observers)
	s.mu.Unlock()

	for _, fn := range observers {
		if p == nil {
			fn(nil)
			continue
		}
		cp := p.Clone()
		fn(&cp)
	}
}
