package videostate

import (
	"sync"

	"github.com/milearning/milearning/internal/catalog"
)

// Registry holds one State per session over a shared catalog.
type Registry struct {
	catalog     *catalog.Catalog
	opts        []Option
	newListener func(sessionID string) Listener

	mu     sync.Mutex
	states map[string]*State
}

func NewRegistry(c *catalog.Catalog, opts ...Option) *Registry {
	return &Registry{catalog: c, opts: opts, states: make(map[string]*State)}
}

// SetListenerFactory makes every State created afterwards report to the
// listener built for its session.
func (r *Registry) SetListenerFactory(fn func(sessionID string) Listener) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.newListener = fn
}

func (r *Registry) Get(sessionID string) *State {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.states[sessionID]; ok {
		return s
	}
	opts := append([]Option{}, r.opts...)
	if r.newListener != nil {
		opts = append(opts, WithListener(r.newListener(sessionID)))
	}
	s := New(r.catalog, opts...)
	r.states[sessionID] = s
	return s
}

func (r *Registry) Drop(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.states, sessionID)
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.states)
}

func (r *Registry) Catalog() *catalog.Catalog { return r.catalog }
