// Package rules is the rule store service. It selects and owns the durable
// backend and layers normalization, caching and one-time channel
// initialization on top of it.
package rules

import (
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/mesh-intelligence/smartnotifier/internal/flatfile"
	"github.com/mesh-intelligence/smartnotifier/internal/logging"
	"github.com/mesh-intelligence/smartnotifier/internal/sqlite"
	"github.com/mesh-intelligence/smartnotifier/pkg/types"
)

// NewBackend returns an unattached backend for cfg.Backend.
func NewBackend(cfg types.Config, log *zap.Logger) (types.Backend, error) {
	switch cfg.Backend {
	case types.BackendSQLite:
		return sqlite.NewBackend(sqlite.WithLogger(log)), nil
	case types.BackendFlatFile:
		return flatfile.NewBackend(flatfile.WithLogger(log)), nil
	case "":
		return nil, types.ErrBackendEmpty
	default:
		return nil, fmt.Errorf("%w: %q", types.ErrBackendUnknown, cfg.Backend)
	}
}

// Open creates the backend named by cfg and attaches it.
func Open(cfg types.Config, log *zap.Logger) (types.Backend, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	b, err := NewBackend(cfg, log)
	if err != nil {
		return nil, err
	}
	if err := b.Attach(cfg); err != nil {
		return nil, fmt.Errorf("attach %s backend: %w", cfg.Backend, err)
	}
	return b, nil
}

// Provider hands out one process-wide backend, constructed on first use.
type Provider struct {
	cfg types.Config
	log *zap.Logger

	mu      sync.Mutex
	backend types.Backend
}

// NewProvider creates a provider for cfg. Nothing is opened until Get.
func NewProvider(cfg types.Config, log *zap.Logger) *Provider {
	return &Provider{cfg: cfg, log: logging.OrNop(log)}
}

// Get returns the shared backend, opening it on the first call. Concurrent
// first calls construct it once.
func (p *Provider) Get() (types.Backend, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.backend != nil {
		return p.backend, nil
	}
	b, err := Open(p.cfg, p.log)
	if err != nil {
		return nil, err
	}
	p.log.Debug("rule backend opened",
		zap.String("backend", p.cfg.Backend),
		zap.String("data_dir", p.cfg.DataDir))
	p.backend = b
	return b, nil
}

// Close detaches the shared backend if it was opened. A later Get opens a
// fresh one.
func (p *Provider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.backend == nil {
		return nil
	}
	err := p.backend.Detach()
	p.backend = nil
	return err
}
