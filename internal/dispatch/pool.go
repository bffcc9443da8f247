package dispatch

import (
	"context"
	"hash/fnv"
	"sync"
	"sync/atomic"
	"time"
)

// Pool is a keyed worker pool. Each worker owns a bounded queue and work is
// routed to a worker by hashing its key, so items sharing a key are
// processed one at a time in submission order.
type Pool[T any] struct {
	workers   int
	queueSize int
	key       func(T) string
	processor func(context.Context, T) error

	queues []chan T
	wg     sync.WaitGroup

	lifecycleMu sync.Mutex
	started     bool
	stopped     bool

	submitted atomic.Int64
	processed atomic.Int64
	failed    atomic.Int64
	dropped   atomic.Int64

	metrics *Metrics
}

// PoolStats reports pool counters.
type PoolStats struct {
	Workers    int   `json:"workers"`
	QueueSize  int   `json:"queue_size"`
	QueueDepth int   `json:"queue_depth"`
	Submitted  int64 `json:"submitted"`
	Processed  int64 `json:"processed"`
	Failed     int64 `json:"failed"`
	Dropped    int64 `json:"dropped"`
}

// Default pool dimensions.
const (
	DefaultWorkers   = 4
	DefaultQueueSize = 256
)

// NewPool creates a pool. queueSize is per worker. Non-positive sizes fall
// back to the defaults.
func NewPool[T any](workers, queueSize int, key func(T) string, processor func(context.Context, T) error) *Pool[T] {
	if workers <= 0 {
		workers = DefaultWorkers
	}
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	if key == nil || processor == nil {
		panic(ErrNilProcessor)
	}
	p := &Pool[T]{
		workers:   workers,
		queueSize: queueSize,
		key:       key,
		processor: processor,
		queues:    make([]chan T, workers),
	}
	for i := range p.queues {
		p.queues[i] = make(chan T, queueSize)
	}
	return p
}

// shard maps a key onto a worker index.
func (p *Pool[T]) shard(key string) int {
	h := fnv.New32a()
	h.Write([]byte(key))
	return int(h.Sum32() % uint32(p.workers))
}

// Submit enqueues work without blocking. It returns ErrQueueFull when the
// worker owning the key is backed up.
func (p *Pool[T]) Submit(work T) error {
	p.lifecycleMu.Lock()
	defer p.lifecycleMu.Unlock()

	if !p.started {
		return ErrPoolNotStarted
	}
	if p.stopped {
		return ErrPoolStopped
	}

	select {
	case p.queues[p.shard(p.key(work))] <- work:
		p.submitted.Add(1)
		return nil
	default:
		p.dropped.Add(1)
		if p.metrics != nil {
			p.metrics.dropped.Inc()
		}
		return ErrQueueFull
	}
}

// Start launches the workers. Workers exit when ctx is done or when Stop
// closes their queues.
func (p *Pool[T]) Start(ctx context.Context) error {
	p.lifecycleMu.Lock()
	defer p.lifecycleMu.Unlock()

	if p.started {
		return ErrPoolAlreadyStarted
	}
	for i := range p.queues {
		p.wg.Add(1)
		go p.worker(ctx, p.queues[i])
	}
	p.started = true
	return nil
}

// Stop closes the queues and waits up to timeout for queued work to drain.
// Stop is idempotent; submissions after Stop fail with ErrPoolStopped.
func (p *Pool[T]) Stop(timeout time.Duration) error {
	p.lifecycleMu.Lock()
	if !p.started || p.stopped {
		p.lifecycleMu.Unlock()
		return nil
	}
	p.stopped = true
	for _, q := range p.queues {
		close(q)
	}
	p.lifecycleMu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-done:
		return nil
	case <-timer.C:
		return ErrStopTimeout
	}
}

// Stats returns current pool statistics.
func (p *Pool[T]) Stats() PoolStats {
	depth := 0
	for _, q := range p.queues {
		depth += len(q)
	}
	return PoolStats{
		Workers:    p.workers,
		QueueSize:  p.queueSize,
		QueueDepth: depth,
		Submitted:  p.submitted.Load(),
		Processed:  p.processed.Load(),
		Failed:     p.failed.Load(),
		Dropped:    p.dropped.Load(),
	}
}

func (p *Pool[T]) worker(ctx context.Context, queue <-chan T) {
	defer p.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case work, ok := <-queue:
			if !ok {
				return
			}
			err := p.processor(ctx, work)
			p.processed.Add(1)
			if err != nil {
				p.failed.Add(1)
			}
		}
	}
}
