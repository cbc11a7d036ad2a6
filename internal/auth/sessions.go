package auth

import (
	"context"
	"sync"

	"github.com/milearning/milearning/internal/kv"
)

// Sessions keeps one Store per client session. Each session's blob lives under
// "<key>:<session id>" so sessions never overwrite each other.
type Sessions struct {
	dir  *Directory
	kv   kv.Store
	key  string
	opts []Option

	mu        sync.Mutex
	stores    map[string]*Store
	restoring map[string]*restore
	hooks     []func(sessionID string, s *Store)
	drops     []func(sessionID string)
}

// restore is an in-flight first use of a session shared by concurrent callers.
type restore struct {
	done  chan struct{}
	store *Store
	err   error
}

func NewSessions(dir *Directory, store kv.Store, key string, opts ...Option) *Sessions {
	if key == "" {
		key = DefaultSessionKey
	}
	return &Sessions{
		dir:    dir,
		kv:     store,
		key:    key,
		opts:      opts,
		stores:    make(map[string]*Store),
		restoring: make(map[string]*restore),
	}
}

// OnCreate registers fn to run for every new Store before its session is restored,
// so observers attached there also see the restored user.
func (m *Sessions) OnCreate(fn func(sessionID string, s *Store)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hooks = append(m.hooks, fn)
}

// Get returns the Store for sessionID, restoring it from the key-value store on
// first use. The restore runs without holding the registry lock; concurrent
// callers for the same session wait for the one in flight. When the restore
// fails the drop hooks run, since the create hooks already saw the Store.
func (m *Sessions) Get(ctx context.Context, sessionID string) (*Store, error) {
	m.mu.Lock()
	if s, ok := m.stores[sessionID]; ok {
		m.mu.Unlock()
		return s, nil
	}
	if r, ok := m.restoring[sessionID]; ok {
		m.mu.Unlock()
		select {
		case <-r.done:
			return r.store, r.err
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	r := &restore{done: make(chan struct{})}
	m.restoring[sessionID] = r
	hooks := append([]func(string, *Store){}, m.hooks...)
	drops := append([]func(string){}, m.drops...)
	m.mu.Unlock()

	opts := append(append([]Option{}, m.opts...), WithKey(m.key+":"+sessionID))
	s := NewStore(m.dir, m.kv, opts...)
	for _, fn := range hooks {
		fn(sessionID, s)
	}
	err := s.Restore(ctx)

	m.mu.Lock()
	delete(m.restoring, sessionID)
	if err == nil {
		m.stores[sessionID] = s
		r.store = s
	}
	r.err = err
	m.mu.Unlock()
	close(r.done)

	if err != nil {
		for _, fn := range drops {
			fn(sessionID)
		}
		return nil, err
	}
	return s, nil
}

// OnDrop registers fn to run after a session is forgotten.
func (m *Sessions) OnDrop(fn func(sessionID string)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.drops = append(m.drops, fn)
}

// Drop forgets the in-memory Store for sessionID. The persisted blob is untouched.
func (m *Sessions) Drop(sessionID string) {
	m.mu.Lock()
	_, existed := m.stores[sessionID]
	delete(m.stores, sessionID)
	drops := append([]func(string){}, m.drops...)
	m.mu.Unlock()

	if !existed {
		return
	}
	for _, fn := range drops {
		fn(sessionID)
	}
}

func (m *Sessions) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.stores)
}
