package dispatch

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type job struct {
	key string
	seq int
}

func jobKey(j job) string { return j.key }

func TestNewPool_Defaults(t *testing.T) {
	p := NewPool(0, 0, jobKey, func(context.Context, job) error { return nil })
	assert.Equal(t, DefaultWorkers, p.workers)
	assert.Equal(t, DefaultQueueSize, p.queueSize)
	assert.Len(t, p.queues, DefaultWorkers)

	assert.PanicsWithValue(t, ErrNilProcessor, func() {
		NewPool[job](1, 1, jobKey, nil)
	})
	assert.PanicsWithValue(t, ErrNilProcessor, func() {
		NewPool(1, 1, nil, func(context.Context, job) error { return nil })
	})
}

func TestPool_Lifecycle(t *testing.T) {
	p := NewPool(2, 4, jobKey, func(context.Context, job) error { return nil })

	assert.ErrorIs(t, p.Submit(job{key: "a"}), ErrPoolNotStarted)
	assert.NoError(t, p.Stop(time.Second), "stop before start is a no-op")

	require.NoError(t, p.Start(context.Background()))
	assert.ErrorIs(t, p.Start(context.Background()), ErrPoolAlreadyStarted)

	require.NoError(t, p.Submit(job{key: "a"}))
	require.NoError(t, p.Stop(time.Second))
	require.NoError(t, p.Stop(time.Second))
	assert.ErrorIs(t, p.Submit(job{key: "a"}), ErrPoolStopped)
	assert.Equal(t, int64(1), p.Stats().Processed)
}

func TestPool_SameKeySerialized(t *testing.T) {
	var (
		mu       sync.Mutex
		order    = map[string][]int{}
		inflight = map[string]*atomic.Int32{"a": {}, "b": {}, "c": {}, "d": {}}
		overlap  atomic.Bool
	)
	p := NewPool(3, 1000, jobKey, func(_ context.Context, j job) error {
		if inflight[j.key].Add(1) > 1 {
			overlap.Store(true)
		}
		time.Sleep(50 * time.Microsecond)
		mu.Lock()
		order[j.key] = append(order[j.key], j.seq)
		mu.Unlock()
		inflight[j.key].Add(-1)
		return nil
	})
	require.NoError(t, p.Start(context.Background()))

	const n = 100
	for i := range n {
		for _, k := range []string{"a", "b", "c", "d"} {
			require.NoError(t, p.Submit(job{key: k, seq: i}))
		}
	}
	require.NoError(t, p.Stop(5*time.Second))

	assert.False(t, overlap.Load(), "jobs sharing a key ran concurrently")
	for k, seqs := range order {
		require.Len(t, seqs, n, k)
		for i, s := range seqs {
			assert.Equal(t, i, s, k)
		}
	}
}

func TestPool_QueueFull(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	p := NewPool(1, 1, jobKey, func(context.Context, job) error {
		once.Do(func() { close(started) })
		<-release
		return nil
	})
	require.NoError(t, p.Start(context.Background()))

	require.NoError(t, p.Submit(job{key: "a", seq: 1}))
	<-started
	require.NoError(t, p.Submit(job{key: "a", seq: 2}))
	assert.ErrorIs(t, p.Submit(job{key: "a", seq: 3}), ErrQueueFull)
	assert.Equal(t, int64(1), p.Stats().Dropped)
	assert.Equal(t, 1, p.Stats().QueueDepth)

	close(release)
	require.NoError(t, p.Stop(5*time.Second))
	assert.Equal(t, int64(2), p.Stats().Processed)
}

func TestPool_StopTimeout(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	p := NewPool(1, 1, jobKey, func(context.Context, job) error {
		close(started)
		<-release
		return nil
	})
	require.NoError(t, p.Start(context.Background()))
	require.NoError(t, p.Submit(job{key: "a"}))
	<-started

	assert.ErrorIs(t, p.Stop(10*time.Millisecond), ErrStopTimeout)
	close(release)
	require.Eventually(t, func() bool { return p.Stats().Processed == 1 }, time.Second, 5*time.Millisecond)
	p.wg.Wait()
}

func TestPool_CountsFailures(t *testing.T) {
	p := NewPool(2, 8, jobKey, func(_ context.Context, j job) error {
		if j.seq%2 == 1 {
			return errors.New("odd")
		}
		return nil
	})
	require.NoError(t, p.Start(context.Background()))
	for i := range 6 {
		require.NoError(t, p.Submit(job{key: "k", seq: i}))
	}
	require.NoError(t, p.Stop(time.Second))

	stats := p.Stats()
	assert.Equal(t, int64(6), stats.Submitted)
	assert.Equal(t, int64(6), stats.Processed)
	assert.Equal(t, int64(3), stats.Failed)
}
