// Tests for the SQLite backend.
package sqlite

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/mesh-intelligence/smartnotifier/internal/backendtest"
	"github.com/mesh-intelligence/smartnotifier/pkg/types"
)

// setupBackend creates an attached Backend in a temp dir with a
// cleanup-deferred detach.
func setupBackend(t *testing.T) *Backend {
	t.Helper()
	b := NewBackend(WithLogger(zaptest.NewLogger(t)))
	require.NoError(t, b.Attach(types.Config{
		Backend: types.BackendSQLite,
		DataDir: t.TempDir(),
	}))
	t.Cleanup(func() { b.Detach() })
	return b
}

func TestBackendContract(t *testing.T) {
	backendtest.Run(t, func(t *testing.T) types.Backend {
		return setupBackend(t)
	})
}

func TestBackend_Attach(t *testing.T) {
	tmpDir := t.TempDir()
	b := NewBackend()
	config := types.Config{Backend: types.BackendSQLite, DataDir: tmpDir}

	require.NoError(t, b.Attach(config))
	defer b.Detach()

	_, err := os.Stat(filepath.Join(tmpDir, DBFileName))
	require.NoError(t, err, "rules.db not created")

	assert.ErrorIs(t, b.Attach(config), types.ErrAlreadyAttached)
}

func TestBackend_AttachInvalidConfig(t *testing.T) {
	b := NewBackend()
	assert.ErrorIs(t, b.Attach(types.Config{}), types.ErrBackendEmpty)
}

func TestBackend_Detached(t *testing.T) {
	b := NewBackend()
	require.NoError(t, b.Attach(types.Config{Backend: types.BackendSQLite, DataDir: t.TempDir()}))
	require.NoError(t, b.Detach())
	backendtest.RunDetached(t, b)
}

func TestBackend_ReopenKeepsRules(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	config := types.Config{Backend: types.BackendSQLite, DataDir: dir}

	b := NewBackend()
	require.NoError(t, b.Attach(config))
	require.NoError(t, b.ReplaceForChannel(ctx, "task", []types.Rule{
		{Order: 0, SearchText: "alert", Sound: "bell", Enabled: true},
	}))
	require.NoError(t, b.Detach())

	b2 := NewBackend()
	require.NoError(t, b2.Attach(config))
	defer b2.Detach()

	rules, err := b2.GetByChannel(ctx, "task")
	require.NoError(t, err)
	require.Len(t, rules, 1)
	assert.Equal(t, "alert", rules[0].SearchText)
	assert.Equal(t, "bell", rules[0].Sound)
}

// A failure in the middle of a replace must roll back the delete.
func TestBackend_ReplaceRollsBack(t *testing.T) {
	ctx := context.Background()
	b := setupBackend(t)

	require.NoError(t, b.ReplaceForChannel(ctx, "other", []types.Rule{{Order: 0, SearchText: "x"}}))
	other, err := b.GetByChannel(ctx, "other")
	require.NoError(t, err)

	require.NoError(t, b.ReplaceForChannel(ctx, "task", []types.Rule{
		{Order: 0, SearchText: "a"},
		{Order: 1, SearchText: "b"},
	}))

	// Reusing a rule_id owned by another channel violates the primary key
	// on the second insert.
	err = b.ReplaceForChannel(ctx, "task", []types.Rule{
		{Order: 0, SearchText: "new"},
		{ID: other[0].ID, Order: 1, SearchText: "clash"},
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, types.ErrStorage)

	rules, err := b.GetByChannel(ctx, "task")
	require.NoError(t, err)
	require.Len(t, rules, 2)
	assert.Equal(t, "a", rules[0].SearchText)
	assert.Equal(t, "b", rules[1].SearchText)
}

func TestBackend_UpsertMovesChannel(t *testing.T) {
	ctx := context.Background()
	b := setupBackend(t)

	r, err := b.Upsert(ctx, types.NewRule{Rule: types.Rule{ChannelID: "a", SearchText: "x", Enabled: true}})
	require.NoError(t, err)
	r.ChannelID = "b"
	_, err = b.Upsert(ctx, types.ExistingRule{ID: r.ID, Rule: r})
	require.NoError(t, err)

	a, err := b.GetByChannel(ctx, "a")
	require.NoError(t, err)
	assert.Empty(t, a)
	moved, err := b.GetByChannel(ctx, "b")
	require.NoError(t, err)
	require.Len(t, moved, 1)
	assert.Equal(t, r.ID, moved[0].ID)
}
