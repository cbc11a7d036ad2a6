package auth

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/milearning/milearning/internal/kv"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSessions_IsolatesKeys(t *testing.T) {
	mem := kv.NewMemory()
	sessions := NewSessions(newTestDirectory(t), mem, "", WithDelay(0))

	a, err := sessions.Get(context.Background(), "a")
	require.NoError(t, err)
	b, err := sessions.Get(context.Background(), "b")
	require.NoError(t, err)

	require.True(t, a.Login(context.Background(), "alice", "secret"))

	assert.Equal(t, "app_user:a", a.Key())
	assert.False(t, b.IsAuthenticated())
	_, err = mem.Get(context.Background(), "app_user:a")
	assert.NoError(t, err)
	_, err = mem.Get(context.Background(), "app_user:b")
	assert.ErrorIs(t, err, kv.ErrNotFound)
	assert.Equal(t, 2, sessions.Len())
}

func TestSessions_GetReturnsSameStore(t *testing.T) {
	sessions := NewSessions(newTestDirectory(t), kv.NewMemory(), "app_user", WithDelay(0))

	first, err := sessions.Get(context.Background(), "s")
	require.NoError(t, err)
	second, err := sessions.Get(context.Background(), "s")
	require.NoError(t, err)

	assert.Same(t, first, second)
}

func TestSessions_RestoresAfterDrop(t *testing.T) {
	sessions := NewSessions(newTestDirectory(t), kv.NewMemory(), "app_user", WithDelay(0))
	s, err := sessions.Get(context.Background(), "s")
	require.NoError(t, err)
	require.True(t, s.Login(context.Background(), "alice", "secret"))

	sessions.Drop("s")
	restored, err := sessions.Get(context.Background(), "s")
	require.NoError(t, err)

	assert.NotSame(t, s, restored)
	assert.True(t, restored.IsAuthenticated())
}

func TestSessions_OnCreateSeesRestoredUser(t *testing.T) {
	mem := kv.NewMemory()
	dir := newTestDirectory(t)
	seed := NewSessions(dir, mem, "app_user", WithDelay(0))
	s, err := seed.Get(context.Background(), "s")
	require.NoError(t, err)
	require.True(t, s.Login(context.Background(), "alice", "secret"))

	sessions := NewSessions(dir, mem, "app_user", WithDelay(0))
	var restored []string
	sessions.OnCreate(func(sessionID string, store *Store) {
		store.OnUserChange(func(p *Profile) {
			if p != nil {
				restored = append(restored, sessionID+"="+p.Username)
			}
		})
	})

	_, err = sessions.Get(context.Background(), "s")
	require.NoError(t, err)
	assert.Equal(t, []string{"s=alice"}, restored)
}

func TestSessions_OnDrop(t *testing.T) {
	sessions := NewSessions(newTestDirectory(t), kv.NewMemory(), "", WithDelay(0))
	var dropped []string
	sessions.OnDrop(func(sessionID string) { dropped = append(dropped, sessionID) })

	_, err := sessions.Get(context.Background(), "a")
	require.NoError(t, err)

	sessions.Drop("a")
	sessions.Drop("a")
	sessions.Drop("never-created")

	assert.Equal(t, []string{"a"}, dropped)
	assert.Equal(t, 0, sessions.Len())
}

type brokenGetKV struct {
	kv.Store
}

func (brokenGetKV) Get(context.Context, string) ([]byte, error) {
	return nil, errors.New("connection reset")
}

func TestSessions_FailedRestoreRunsDropHooks(t *testing.T) {
	sessions := NewSessions(newTestDirectory(t), brokenGetKV{Store: kv.NewMemory()}, "", WithDelay(0))
	var created, dropped []string
	sessions.OnCreate(func(sessionID string, _ *Store) { created = append(created, sessionID) })
	sessions.OnDrop(func(sessionID string) { dropped = append(dropped, sessionID) })

	_, err := sessions.Get(context.Background(), "a")

	require.Error(t, err)
	assert.Equal(t, []string{"a"}, created)
	assert.Equal(t, []string{"a"}, dropped)
	assert.Equal(t, 0, sessions.Len())
}

// gatedKV holds reads of one key until release is closed.
type gatedKV struct {
	kv.Store
	key     string
	release chan struct{}
}

func (g gatedKV) Get(ctx context.Context, key string) ([]byte, error) {
	if key == g.key {
		select {
		case <-g.release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return g.Store.Get(ctx, key)
}

func TestSessions_SlowRestoreDoesNotBlockOtherSessions(t *testing.T) {
	gate := gatedKV{Store: kv.NewMemory(), key: "app_user:slow", release: make(chan struct{})}
	sessions := NewSessions(newTestDirectory(t), gate, "", WithDelay(0))

	var creates atomic.Int32
	sessions.OnCreate(func(string, *Store) { creates.Add(1) })

	var wg sync.WaitGroup
	results := make([]*Store, 2)
	for i := range results {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s, err := sessions.Get(context.Background(), "slow")
			assert.NoError(t, err)
			results[i] = s
		}()
	}

	done := make(chan struct{})
	go func() {
		_, err := sessions.Get(context.Background(), "fast")
		assert.NoError(t, err)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("restore of one session blocked another")
	}

	close(gate.release)
	wg.Wait()

	require.NotNil(t, results[0])
	assert.Same(t, results[0], results[1])
	assert.Equal(t, int32(2), creates.Load(), "one create for slow, one for fast")
	assert.Equal(t, 2, sessions.Len())
}

func TestSessions_WaiterHonoursContext(t *testing.T) {
	gate := gatedKV{Store: kv.NewMemory(), key: "app_user:s", release: make(chan struct{})}
	sessions := NewSessions(newTestDirectory(t), gate, "", WithDelay(0))

	first := make(chan error, 1)
	go func() {
		_, err := sessions.Get(context.Background(), "s")
		first <- err
	}()
	require.Eventually(t, func() bool {
		sessions.mu.Lock()
		defer sessions.mu.Unlock()
		return sessions.restoring["s"] != nil
	}, 2*time.Second, 5*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := sessions.Get(ctx, "s")
	assert.ErrorIs(t, err, context.Canceled)

	close(gate.release)
	assert.NoError(t, <-first)
}
