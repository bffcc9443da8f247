// Package backendtest holds the contract every types.Backend must satisfy.
// Backend packages run it from their own tests with a factory that returns
// an attached backend.
package backendtest

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mesh-intelligence/smartnotifier/pkg/types"
)

// Factory returns an attached backend whose Detach is registered with
// t.Cleanup.
type Factory func(t *testing.T) types.Backend

// Run executes the backend contract as subtests.
func Run(t *testing.T, newBackend Factory) {
	tests := []struct {
		name string
		run  func(t *testing.T, b types.Backend)
	}{
		{"unknown channel is empty", testUnknownChannel},
		{"replace then get returns rules by order", testReplaceThenGet},
		{"replace swaps the whole set", testReplaceSwapsSet},
		{"invalid replace leaves prior rows", testInvalidReplace},
		{"round trip keeps text and sound", testRoundTrip},
		{"upsert creates and updates", testUpsert},
		{"upsert unknown id fails", testUpsertUnknown},
		{"upsert replaces row at same order", testUpsertReplacesPosition},
		{"delete by channel", testDeleteByChannel},
		{"delete by id", testDelete},
		{"channels", testChannels},
		{"long fields round trip", testLongFields},
		{"replace rejects ids held by another channel", testReplaceForeignID},
		{"concurrent readers never see partial sets", testConcurrentReplace},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.run(t, newBackend(t))
		})
	}
}

// RunDetached checks that a detached backend refuses work.
func RunDetached(t *testing.T, b types.Backend) {
	ctx := context.Background()
	_, err := b.GetByChannel(ctx, "task")
	assert.ErrorIs(t, err, types.ErrDetached)
	_, err = b.Upsert(ctx, types.NewRule{Rule: types.Rule{ChannelID: "task"}})
	assert.ErrorIs(t, err, types.ErrDetached)
	assert.ErrorIs(t, b.ReplaceForChannel(ctx, "task", nil), types.ErrDetached)
	assert.ErrorIs(t, b.Delete(ctx, "x"), types.ErrDetached)
	assert.NoError(t, b.Detach(), "detach must be idempotent")
}

func rule(order int, text string, enabled bool) types.Rule {
	return types.Rule{Order: order, SearchText: text, Sound: "sound-" + text, Enabled: enabled}
}

func texts(rules []types.Rule) []string {
	out := make([]string, len(rules))
	for i, r := range rules {
		out[i] = r.SearchText
	}
	return out
}

func testUnknownChannel(t *testing.T, b types.Backend) {
	rules, err := b.GetByChannel(context.Background(), "nobody")
	require.NoError(t, err)
	assert.NotNil(t, rules)
	assert.Empty(t, rules)
}

func testReplaceThenGet(t *testing.T, b types.Backend) {
	ctx := context.Background()
	in := []types.Rule{rule(2, "c", true), rule(0, "a", true), rule(1, "b", false)}
	require.NoError(t, b.ReplaceForChannel(ctx, "task", in))

	got, err := b.GetByChannel(ctx, "task")
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, texts(got))
	for i, r := range got {
		assert.Equal(t, i, r.Order)
		assert.Equal(t, "task", r.ChannelID)
		assert.NotEmpty(t, r.ID)
	}
	assert.False(t, got[1].Enabled)
}

func testReplaceSwapsSet(t *testing.T, b types.Backend) {
	ctx := context.Background()
	require.NoError(t, b.ReplaceForChannel(ctx, "task", []types.Rule{rule(0, "old1", true), rule(1, "old2", true)}))
	require.NoError(t, b.ReplaceForChannel(ctx, "other", []types.Rule{rule(0, "keep", true)}))
	require.NoError(t, b.ReplaceForChannel(ctx, "task", []types.Rule{rule(0, "new", true)}))

	got, err := b.GetByChannel(ctx, "task")
	require.NoError(t, err)
	assert.Equal(t, []string{"new"}, texts(got))

	other, err := b.GetByChannel(ctx, "other")
	require.NoError(t, err)
	assert.Equal(t, []string{"keep"}, texts(other))
}

func testInvalidReplace(t *testing.T, b types.Backend) {
	ctx := context.Background()
	require.NoError(t, b.ReplaceForChannel(ctx, "task", []types.Rule{rule(0, "a", true)}))

	err := b.ReplaceForChannel(ctx, "task", []types.Rule{rule(0, "b", true), rule(1, "  ", true)})
	require.ErrorIs(t, err, types.ErrValidation)

	got, err := b.GetByChannel(ctx, "task")
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, texts(got))
}

func testRoundTrip(t *testing.T, b types.Backend) {
	ctx := context.Background()
	samples := []string{
		"System alert",
		"  leading and trailing  ",
		"comma,separated;and|pipes",
		`"quoted" \ backslash`,
		"ünïcödé 通知 🔔",
	}
	in := make([]types.Rule, len(samples))
	for i, s := range samples {
		in[i] = types.Rule{Order: i, SearchText: s, Sound: "content://media/" + s, Enabled: true, Priority: i}
	}
	require.NoError(t, b.ReplaceForChannel(ctx, "task", in))

	got, err := b.GetByChannel(ctx, "task")
	require.NoError(t, err)
	require.Len(t, got, len(samples))
	for i, r := range got {
		assert.Equal(t, samples[i], r.SearchText)
		assert.Equal(t, "content://media/"+samples[i], r.Sound)
		assert.Equal(t, i, r.Priority)
		assert.True(t, r.Enabled)
	}

	blank, err := b.Upsert(ctx, types.NewRule{Rule: types.Rule{ChannelID: "quiet", Order: 0}})
	require.NoError(t, err)
	back, err := b.Get(ctx, blank.ID)
	require.NoError(t, err)
	assert.Empty(t, back.Sound, "default sound stays empty")
	assert.Empty(t, back.SearchText)
}

func testUpsert(t *testing.T, b types.Backend) {
	ctx := context.Background()
	created, err := b.Upsert(ctx, types.NewRule{Rule: types.Rule{ChannelID: "task", Order: 0, SearchText: "alert", Enabled: true}})
	require.NoError(t, err)
	require.NotEmpty(t, created.ID)
	assert.False(t, created.CreatedAt.IsZero())

	got, err := b.Get(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, "alert", got.SearchText)

	updated := created
	updated.SearchText = "warning"
	updated.Enabled = false
	saved, err := b.Upsert(ctx, types.ExistingRule{ID: created.ID, Rule: updated})
	require.NoError(t, err)
	assert.Equal(t, created.ID, saved.ID)

	rules, err := b.GetByChannel(ctx, "task")
	require.NoError(t, err)
	require.Len(t, rules, 1)
	assert.Equal(t, "warning", rules[0].SearchText)
	assert.False(t, rules[0].Enabled)
	assert.True(t, rules[0].CreatedAt.Equal(created.CreatedAt))

	_, err = b.Upsert(ctx, types.NewRule{Rule: types.Rule{ChannelID: "task", Order: 1, Enabled: true}})
	assert.ErrorIs(t, err, types.ErrValidation)
}

func testUpsertUnknown(t *testing.T, b types.Backend) {
	ctx := context.Background()
	_, err := b.Upsert(ctx, types.ExistingRule{ID: types.NewRuleID(), Rule: types.Rule{ChannelID: "task", SearchText: "x"}})
	require.ErrorIs(t, err, types.ErrNotFound)

	rules, err := b.GetByChannel(ctx, "task")
	require.NoError(t, err)
	assert.Empty(t, rules)

	_, err = b.Get(ctx, "missing")
	assert.ErrorIs(t, err, types.ErrNotFound)
}

func testUpsertReplacesPosition(t *testing.T, b types.Backend) {
	ctx := context.Background()
	require.NoError(t, b.ReplaceForChannel(ctx, "task", []types.Rule{rule(0, "a", true), rule(1, "b", true)}))

	z := rule(1, "z", true)
	z.ChannelID = "task"
	_, err := b.Upsert(ctx, types.NewRule{Rule: z})
	require.NoError(t, err)

	got, err := b.GetByChannel(ctx, "task")
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "z"}, texts(got))
}

func testDeleteByChannel(t *testing.T, b types.Backend) {
	ctx := context.Background()
	require.NoError(t, b.ReplaceForChannel(ctx, "task", []types.Rule{rule(0, "a", true)}))
	require.NoError(t, b.DeleteByChannel(ctx, "task"))
	require.NoError(t, b.DeleteByChannel(ctx, "never-existed"))

	got, err := b.GetByChannel(ctx, "task")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func testDelete(t *testing.T, b types.Backend) {
	ctx := context.Background()
	require.NoError(t, b.ReplaceForChannel(ctx, "task", []types.Rule{rule(0, "a", true), rule(1, "b", true)}))
	rules, err := b.GetByChannel(ctx, "task")
	require.NoError(t, err)

	require.NoError(t, b.Delete(ctx, rules[0].ID))
	assert.ErrorIs(t, b.Delete(ctx, rules[0].ID), types.ErrNotFound)

	got, err := b.GetByChannel(ctx, "task")
	require.NoError(t, err)
	assert.Equal(t, []string{"b"}, texts(got))
}

func testChannels(t *testing.T, b types.Backend) {
	ctx := context.Background()
	require.NoError(t, b.ReplaceForChannel(ctx, "b/slash", []types.Rule{rule(0, "x", true)}))
	require.NoError(t, b.ReplaceForChannel(ctx, "a", []types.Rule{rule(0, "y", true)}))
	require.NoError(t, b.ReplaceForChannel(ctx, "empty", nil))

	got, err := b.Channels(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b/slash"}, got)
}

// testConcurrentReplace alternates between a 3-row and a 5-row set while
// readers check that every snapshot is exactly one of them.
func testConcurrentReplace(t *testing.T, b types.Backend) {
	ctx := context.Background()
	set := func(prefix string, n int) []types.Rule {
		rows := make([]types.Rule, n)
		for i := range rows {
			rows[i] = rule(i, fmt.Sprintf("%s-%d", prefix, i), true)
		}
		return rows
	}
	setA, setB := set("a", 3), set("b", 5)
	require.NoError(t, b.ReplaceForChannel(ctx, "task", setA))

	const rounds = 40
	var wg sync.WaitGroup
	done := make(chan struct{})
	errs := make(chan error, 8)

	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-done:
					return
				default:
				}
				rules, err := b.GetByChannel(ctx, "task")
				if err != nil {
					errs <- err
					return
				}
				if err := checkSnapshot(rules); err != nil {
					errs <- err
					return
				}
			}
		}()
	}

	for i := 0; i < rounds; i++ {
		next := setA
		if i%2 == 0 {
			next = setB
		}
		require.NoError(t, b.ReplaceForChannel(ctx, "task", next))
	}
	close(done)
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}
}

func testLongFields(t *testing.T, b types.Backend) {
	ctx := context.Background()
	long := strings.Repeat("x", types.MaxFieldLen)
	require.NoError(t, b.ReplaceForChannel(ctx, "task", []types.Rule{
		{Order: 0, SearchText: long, Sound: long, Enabled: true},
		{Order: 1, SearchText: "short", Enabled: true},
	}))

	rules, err := b.GetByChannel(ctx, "task")
	require.NoError(t, err)
	require.Len(t, rules, 2)
	assert.Equal(t, long, rules[0].SearchText)
	assert.Equal(t, long, rules[0].Sound)
	assert.Equal(t, "short", rules[1].SearchText)

	got, err := b.Get(ctx, rules[1].ID)
	require.NoError(t, err)
	assert.Equal(t, "short", got.SearchText)

	err = b.ReplaceForChannel(ctx, "task", []types.Rule{{Order: 0, SearchText: long + "x"}})
	require.ErrorIs(t, err, types.ErrValidation)
	_, err = b.Upsert(ctx, types.NewRule{Rule: types.Rule{ChannelID: "task", Sound: long + "x"}})
	require.ErrorIs(t, err, types.ErrValidation)

	rules, err = b.GetByChannel(ctx, "task")
	require.NoError(t, err)
	assert.Len(t, rules, 2)
}

func testReplaceForeignID(t *testing.T, b types.Backend) {
	ctx := context.Background()
	require.NoError(t, b.ReplaceForChannel(ctx, "a", []types.Rule{rule(0, "one", true), rule(1, "two", true)}))
	held, err := b.GetByChannel(ctx, "a")
	require.NoError(t, err)
	require.Len(t, held, 2)

	require.NoError(t, b.ReplaceForChannel(ctx, "b", []types.Rule{rule(0, "mine", true)}))
	stolen := rule(1, "stolen", true)
	stolen.ID = held[1].ID
	err = b.ReplaceForChannel(ctx, "b", []types.Rule{rule(0, "new", true), stolen})
	require.ErrorIs(t, err, types.ErrValidation)
	assert.Contains(t, err.Error(), held[1].ID)

	rules, err := b.GetByChannel(ctx, "b")
	require.NoError(t, err)
	assert.Equal(t, []string{"mine"}, texts(rules))
	rules, err = b.GetByChannel(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, []string{"one", "two"}, texts(rules))

	got, err := b.Get(ctx, held[1].ID)
	require.NoError(t, err)
	assert.Equal(t, "a", got.ChannelID)

	// Re-replacing the owning channel with its own IDs is allowed.
	require.NoError(t, b.ReplaceForChannel(ctx, "a", held[:1]))
	stolen.ID = held[1].ID
	require.NoError(t, b.ReplaceForChannel(ctx, "b", []types.Rule{stolen}))
	got, err = b.Get(ctx, held[1].ID)
	require.NoError(t, err)
	assert.Equal(t, "b", got.ChannelID)
}

func checkSnapshot(rules []types.Rule) error {
	if len(rules) != 3 && len(rules) != 5 {
		return fmt.Errorf("observed %d rows", len(rules))
	}
	prefix := "a-"
	if len(rules) == 5 {
		prefix = "b-"
	}
	for i, r := range rules {
		if !strings.HasPrefix(r.SearchText, prefix) || r.Order != i {
			return fmt.Errorf("mixed snapshot: %v", texts(rules))
		}
	}
	return nil
}
