// Package sqlite implements the transactional SQLite rule backend.
// Rules live in one table keyed by rule_id with a unique
// (channel_id, position) index; every write runs in a transaction.
package sqlite

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/mesh-intelligence/smartnotifier/internal/logging"
	"github.com/mesh-intelligence/smartnotifier/pkg/types"
)

// DBFileName is the database file created inside DataDir.
const DBFileName = "rules.db"

// Compile-time interface check.
var _ types.Backend = (*Backend)(nil)

// Backend implements types.Backend on SQLite.
//
// Operations hold mu for reading while they run; Detach takes it for writing,
// so an in-flight transaction always completes before the connection closes.
// The pool is limited to one connection, which serializes statements and
// keeps readers from observing a replace in progress.
type Backend struct {
	mu       sync.RWMutex
	attached bool
	config   types.Config
	db       *sql.DB
	log      *zap.Logger
}

// Option configures a Backend.
type Option func(*Backend)

// WithLogger sets the logger used for diagnostics.
func WithLogger(l *zap.Logger) Option {
	return func(b *Backend) { b.log = l }
}

// NewBackend creates a new SQLite backend instance.
// The backend is not attached; call Attach with a Config to initialize.
func NewBackend(opts ...Option) *Backend {
	b := &Backend{}
	for _, opt := range opts {
		opt(b)
	}
	b.log = logging.OrNop(b.log).Named("sqlite")
	return b
}

// Attach opens (or creates) DataDir/rules.db and applies the schema.
// Returns ErrAlreadyAttached if already attached.
func (b *Backend) Attach(config types.Config) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.attached {
		return types.ErrAlreadyAttached
	}
	if err := config.Validate(); err != nil {
		return err
	}

	dataDir := config.DataDir
	if dataDir == "" {
		dataDir = "."
	}
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return types.WrapStorage("create data dir", err)
	}

	dbPath := filepath.Join(dataDir, DBFileName)
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", dbPath)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return types.WrapStorage("open database", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	for _, stmt := range schemaDDL {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return types.WrapStorage("apply schema", err)
		}
	}

	b.db = db
	b.config = config
	b.attached = true
	b.log.Debug("attached", zap.String("path", dbPath))
	return nil
}

// Detach waits for in-flight operations and closes the connection.
// Detach is idempotent.
func (b *Backend) Detach() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.attached {
		return nil
	}
	if err := b.db.Close(); err != nil {
		return types.WrapStorage("close database", err)
	}
	b.db = nil
	b.attached = false
	return nil
}

// acquire takes the read lock and returns the database handle, or
// ErrDetached. The caller must call release when done.
func (b *Backend) acquire() (*sql.DB, error) {
	b.mu.RLock()
	if !b.attached {
		b.mu.RUnlock()
		return nil, types.ErrDetached
	}
	return b.db, nil
}

func (b *Backend) release() {
	b.mu.RUnlock()
}
