package cache

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"

	"github.com/mesh-intelligence/smartnotifier/pkg/types"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// fakeStore is a loader backed by a map, counting loads.
type fakeStore struct {
	mu    sync.Mutex
	rules map[string][]types.Rule
	loads atomic.Int64
	gate  chan struct{}
	err   error
}

func (f *fakeStore) load(_ context.Context, channelID string) ([]types.Rule, error) {
	f.loads.Add(1)
	if f.gate != nil {
		<-f.gate
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return append([]types.Rule{}, f.rules[channelID]...), nil
}

func (f *fakeStore) set(channelID string, rules ...types.Rule) {
	f.mu.Lock()
	f.rules[channelID] = rules
	f.mu.Unlock()
}

func newFake() *fakeStore {
	return &fakeStore{rules: make(map[string][]types.Rule)}
}

func TestRuleCache_ReadThrough(t *testing.T) {
	ctx := context.Background()
	store := newFake()
	store.set("task", types.Rule{SearchText: "alert"})
	c := New(store.load)

	got, err := c.Get(ctx, "task")
	require.NoError(t, err)
	require.Len(t, got, 1)

	got, err = c.Get(ctx, "task")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.EqualValues(t, 1, store.loads.Load())

	stats := c.Stats()
	assert.EqualValues(t, 1, stats.Hits)
	assert.EqualValues(t, 1, stats.Misses)
	assert.Equal(t, 1, stats.Channels)
}

func TestRuleCache_ReturnsCopies(t *testing.T) {
	ctx := context.Background()
	store := newFake()
	store.set("task", types.Rule{SearchText: "alert"})
	c := New(store.load)

	got, err := c.Get(ctx, "task")
	require.NoError(t, err)
	got[0].SearchText = "mutated"

	again, err := c.Get(ctx, "task")
	require.NoError(t, err)
	assert.Equal(t, "alert", again[0].SearchText)
}

func TestRuleCache_Invalidate(t *testing.T) {
	ctx := context.Background()
	store := newFake()
	store.set("task", types.Rule{SearchText: "old"})
	c := New(store.load)

	_, err := c.Get(ctx, "task")
	require.NoError(t, err)

	store.set("task", types.Rule{SearchText: "new"})
	c.Invalidate("task")
	got, err := c.Get(ctx, "task")
	require.NoError(t, err)
	assert.Equal(t, "new", got[0].SearchText)

	store.set("task", types.Rule{SearchText: "newer"})
	c.InvalidateAll()
	got, err = c.Get(ctx, "task")
	require.NoError(t, err)
	assert.Equal(t, "newer", got[0].SearchText)
	assert.EqualValues(t, 2, c.Stats().Invalidations)
}

func TestRuleCache_LoadErrorNotCached(t *testing.T) {
	ctx := context.Background()
	store := newFake()
	store.err = errors.New("disk gone")
	c := New(store.load)

	_, err := c.Get(ctx, "task")
	require.Error(t, err)

	store.mu.Lock()
	store.err = nil
	store.mu.Unlock()
	_, err = c.Get(ctx, "task")
	require.NoError(t, err)
	assert.EqualValues(t, 2, store.loads.Load())
}

// A load that started before an invalidation must not be stored.
func TestRuleCache_StaleLoadDiscarded(t *testing.T) {
	ctx := context.Background()
	store := newFake()
	store.set("task", types.Rule{SearchText: "old"})
	store.gate = make(chan struct{})
	c := New(store.load)

	done := make(chan []types.Rule)
	go func() {
		rules, _ := c.Get(ctx, "task")
		done <- rules
	}()
	require.Eventually(t, func() bool { return store.loads.Load() == 1 }, time.Second, time.Millisecond)

	c.Invalidate("task")
	close(store.gate)
	<-done

	store.set("task", types.Rule{SearchText: "new"})
	got, err := c.Get(ctx, "task")
	require.NoError(t, err)
	assert.Equal(t, "new", got[0].SearchText)
}

func TestRuleCache_ConcurrentMissesShareLoad(t *testing.T) {
	ctx := context.Background()
	store := newFake()
	store.set("task", types.Rule{SearchText: "alert"})
	store.gate = make(chan struct{})
	c := New(store.load)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			rules, err := c.Get(ctx, "task")
			assert.NoError(t, err)
			assert.Len(t, rules, 1)
		}()
	}
	require.Eventually(t, func() bool { return c.Stats().Misses == 8 }, time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	close(store.gate)
	wg.Wait()

	assert.EqualValues(t, 1, store.loads.Load())
	assert.Equal(t, 1, c.Stats().Channels)
}

func TestWatch_InvalidatesOnFileChange(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	store := newFake()
	store.set("task", types.Rule{SearchText: "old"})
	c := New(store.load)

	w, err := Watch(c, dir, zaptest.NewLogger(t))
	require.NoError(t, err)
	defer w.Close()

	_, err = c.Get(ctx, "task")
	require.NoError(t, err)
	require.Equal(t, 1, c.Stats().Channels)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "task.rules"), []byte("x\n"), 0o644))
	require.Eventually(t, func() bool { return c.Stats().Channels == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestWatch_MissingDir(t *testing.T) {
	_, err := Watch(New(newFake().load), filepath.Join(t.TempDir(), "missing"), nil)
	assert.Error(t, err)
}
