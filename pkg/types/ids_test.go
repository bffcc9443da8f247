package types

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRuleID(t *testing.T) {
	id, err := uuid.Parse(NewRuleID())
	require.NoError(t, err)
	assert.Equal(t, uuid.Version(7), id.Version())
	assert.NotEqual(t, NewRuleID(), NewRuleID())
}

func TestPrepareReplace(t *testing.T) {
	now := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	created := now.Add(-time.Hour)

	t.Run("stamps ids channel and times", func(t *testing.T) {
		in := []Rule{
			{ChannelID: "other", Order: 0, SearchText: "a", Enabled: true},
			{ID: "keep", Order: 1, SearchText: "b", CreatedAt: created},
		}
		out, err := PrepareReplace("task", in, now)
		require.NoError(t, err)
		require.Len(t, out, 2)

		assert.NotEmpty(t, out[0].ID)
		assert.Equal(t, "task", out[0].ChannelID)
		assert.Equal(t, now, out[0].CreatedAt)
		assert.Equal(t, "keep", out[1].ID)
		assert.Equal(t, created, out[1].CreatedAt)
		assert.Equal(t, now, out[1].UpdatedAt)

		assert.Equal(t, "other", in[0].ChannelID, "input must not be modified")
	})

	t.Run("rejects duplicate order", func(t *testing.T) {
		_, err := PrepareReplace("task", []Rule{{Order: 1}, {Order: 1}}, now)
		assert.ErrorIs(t, err, ErrValidation)
	})

	t.Run("rejects duplicate id", func(t *testing.T) {
		_, err := PrepareReplace("task", []Rule{{ID: "x", Order: 0}, {ID: "x", Order: 1}}, now)
		assert.ErrorIs(t, err, ErrValidation)
	})

	t.Run("rejects invalid row", func(t *testing.T) {
		_, err := PrepareReplace("task", []Rule{{Order: 0, Enabled: true}}, now)
		assert.ErrorIs(t, err, ErrValidation)
	})

	t.Run("empty set is valid", func(t *testing.T) {
		out, err := PrepareReplace("task", nil, now)
		require.NoError(t, err)
		assert.Empty(t, out)
	})
}
