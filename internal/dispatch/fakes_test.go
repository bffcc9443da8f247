package dispatch

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/mesh-intelligence/smartnotifier/pkg/types"
)

type fakeRules struct {
	mu    sync.Mutex
	rules map[string][]types.Rule
	err   error
	reads atomic.Int32
}

func (f *fakeRules) GetByChannel(_ context.Context, channelID string) ([]types.Rule, error) {
	f.reads.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return append([]types.Rule(nil), f.rules[channelID]...), nil
}

type fakeSource struct {
	mu        sync.Mutex
	cancelled []string
	err       error
}

func (f *fakeSource) Cancel(_ context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.cancelled = append(f.cancelled, key)
	return nil
}

func (f *fakeSource) keys() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.cancelled...)
}

type emission struct {
	sink     types.SinkHandle
	title    string
	body     string
	priority types.Priority
}

type fakeSinks struct {
	mu        sync.Mutex
	created   []types.SinkHandle
	emitted   []emission
	ensureErr error
	emitErr   error
	ensures   atomic.Int32
}

func (f *fakeSinks) EnsureSink(_ context.Context, key, sound, label string) (types.SinkHandle, error) {
	f.ensures.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.ensureErr != nil {
		return types.SinkHandle{}, f.ensureErr
	}
	h := types.SinkHandle{Key: key, Sound: sound, Label: label}
	f.created = append(f.created, h)
	return h, nil
}

func (f *fakeSinks) Emit(_ context.Context, sink types.SinkHandle, title, body string, priority types.Priority) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.emitErr != nil {
		return f.emitErr
	}
	f.emitted = append(f.emitted, emission{sink: sink, title: title, body: body, priority: priority})
	return nil
}

func (f *fakeSinks) emissions() []emission {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]emission(nil), f.emitted...)
}

type gateFunc func() bool

func (g gateFunc) CanEmit(context.Context) bool { return g() }

type labels map[string]string

func (l labels) Label(sound string) string { return l[sound] }
