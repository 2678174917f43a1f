package service

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/yukihoshiii/zfh-project/internal/model"
	"github.com/yukihoshiii/zfh-project/internal/repository"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

type testEnv struct {
	repo     *repository.MemorySnapshotRepository
	store    *Store
	channels *ChannelRegistry
	auth     *AuthService
	hub      *WSHub
	blobs    *repository.DiskBlobRepository
	router   *Router
	clock    *fakeClock
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	ctx := context.Background()

	clock := &fakeClock{now: time.UnixMilli(1_700_000_000_000)}
	repo := repository.NewMemorySnapshotRepository(nil)
	store := NewStore(repo)
	store.now = clock.Now
	require.NoError(t, store.Open(ctx, []string{"Home", "general"}))

	blobs, err := repository.NewDiskBlobRepository(t.TempDir())
	require.NoError(t, err)

	channels := NewChannelRegistry(store)
	auth := NewAuthService(store, "test-secret", time.Hour, []string{"admin"})
	auth.cost = bcrypt.MinCost
	auth.now = clock.Now
	hub := NewWSHub(channels)
	router := NewRouter(hub, channels, store, auth, blobs, RouterConfig{HistoryLimit: 50})

	return &testEnv{
		repo:     repo,
		store:    store,
		channels: channels,
		auth:     auth,
		hub:      hub,
		blobs:    blobs,
		router:   router,
		clock:    clock,
	}
}

// addUser registers a user straight into the store.
func (e *testEnv) addUser(t *testing.T, name string, role model.Role) model.Identity {
	t.Helper()
	require.NoError(t, e.store.AddUser(context.Background(), model.User{Username: name, Role: role}))
	return model.Identity{Username: name, Role: role}
}

// connect opens a fake connection signed in as identity, optionally joined to channel.
func (e *testEnv) connect(t *testing.T, identity model.Identity, channel string) *WSClient {
	t.Helper()
	c := NewWSClient()
	e.hub.Register(c)
	e.hub.SetIdentity(c, identity, "")
	if channel != "" {
		require.NoError(t, e.hub.Join(c, channel))
	}
	t.Cleanup(func() { e.hub.Unregister(c) })
	return c
}

func (e *testEnv) frame(t *testing.T, c *WSClient, v any) {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	e.router.HandleFrame(context.Background(), c, data)
}

// received drains everything queued for c without blocking.
func received(c *WSClient) []map[string]any {
	var out []map[string]any
	for {
		select {
		case data, ok := <-c.Send:
			if !ok {
				return out
			}
			var ev map[string]any
			if err := json.Unmarshal(data, &ev); err == nil {
				out = append(out, ev)
			}
		default:
			return out
		}
	}
}

func ofType(events []map[string]any, typ string) []map[string]any {
	var out []map[string]any
	for _, ev := range events {
		if ev["type"] == typ {
			out = append(out, ev)
		}
	}
	return out
}
