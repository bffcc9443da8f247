package rules

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/mesh-intelligence/smartnotifier/internal/cache"
	"github.com/mesh-intelligence/smartnotifier/internal/logging"
	"github.com/mesh-intelligence/smartnotifier/pkg/types"
)

// Store is the rule service used by the dispatcher and the CLI. Reads go
// through a per-channel snapshot cache; every successful write invalidates
// the snapshots it touched.
type Store struct {
	backend types.Backend
	cache   *cache.RuleCache
	log     *zap.Logger

	initGroup singleflight.Group
	// writeMu serializes every write with the empty check of
	// EnsureInitialized, so a write racing a seed is never overwritten.
	writeMu sync.Mutex
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithStoreLogger sets the store logger.
func WithStoreLogger(l *zap.Logger) StoreOption {
	return func(s *Store) { s.log = l }
}

// NewStore wraps an attached backend.
func NewStore(backend types.Backend, opts ...StoreOption) *Store {
	s := &Store{backend: backend}
	for _, opt := range opts {
		opt(s)
	}
	s.log = logging.OrNop(s.log).Named("rules")
	s.cache = cache.New(backend.GetByChannel)
	return s
}

// Backend returns the underlying backend.
func (s *Store) Backend() types.Backend { return s.backend }

// Cache returns the snapshot cache, for wiring an external invalidator.
func (s *Store) Cache() *cache.RuleCache { return s.cache }

// GetByChannel returns the channel's rules ordered by Order.
func (s *Store) GetByChannel(ctx context.Context, channelID string) ([]types.Rule, error) {
	return s.cache.Get(ctx, channelID)
}

// Get returns one rule by ID.
func (s *Store) Get(ctx context.Context, id string) (types.Rule, error) {
	return s.backend.Get(ctx, id)
}

// Channels lists channels holding at least one rule.
func (s *Store) Channels(ctx context.Context) ([]string, error) {
	return s.backend.Channels(ctx)
}

// Upsert creates or updates one rule.
func (s *Store) Upsert(ctx context.Context, u types.Upsert) (types.Rule, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	var prevChannel string
	if e, ok := u.(types.ExistingRule); ok && e.ID != "" {
		if prev, err := s.backend.Get(ctx, e.ID); err == nil {
			prevChannel = prev.ChannelID
		}
	}

	stored, err := s.backend.Upsert(ctx, u)
	if err != nil {
		return types.Rule{}, err
	}
	s.cache.Invalidate(stored.ChannelID)
	if prevChannel != "" && prevChannel != stored.ChannelID {
		s.cache.Invalidate(prevChannel)
	}
	return stored, nil
}

// Replace atomically swaps the channel's rule set for rules after
// normalizing them (see Normalize).
func (s *Store) Replace(ctx context.Context, channelID string, rules []types.Rule) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.replace(ctx, channelID, rules)
}

func (s *Store) replace(ctx context.Context, channelID string, rules []types.Rule) error {
	normalized := Normalize(channelID, rules)
	if err := s.backend.ReplaceForChannel(ctx, channelID, normalized); err != nil {
		s.log.Warn("replace failed", zap.String("channel", channelID), zap.Error(err))
		return err
	}
	s.cache.Invalidate(channelID)
	s.log.Debug("channel replaced", zap.String("channel", channelID), zap.Int("rules", len(normalized)))
	return nil
}

// DeleteByChannel removes every rule of the channel.
func (s *Store) DeleteByChannel(ctx context.Context, channelID string) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if err := s.backend.DeleteByChannel(ctx, channelID); err != nil {
		return err
	}
	s.cache.Invalidate(channelID)
	return nil
}

// Delete removes one rule by ID.
func (s *Store) Delete(ctx context.Context, id string) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	r, err := s.backend.Get(ctx, id)
	if err != nil {
		return err
	}
	if err := s.backend.Delete(ctx, id); err != nil {
		return err
	}
	s.cache.Invalidate(r.ChannelID)
	return nil
}

// EnsureInitialized seeds an empty channel with template. IDs on the
// template are discarded and ChannelID is forced. It reports whether the
// template was written; callers that joined a concurrent initialization of
// the same channel share its result. A channel that already holds rules is
// left unchanged.
func (s *Store) EnsureInitialized(ctx context.Context, channelID string, template []types.Rule) (bool, error) {
	v, err, _ := s.initGroup.Do(channelID, func() (any, error) {
		s.writeMu.Lock()
		defer s.writeMu.Unlock()

		existing, err := s.backend.GetByChannel(ctx, channelID)
		if err != nil {
			return false, err
		}
		if len(existing) > 0 {
			return false, nil
		}

		seed := make([]types.Rule, len(template))
		for i, r := range template {
			r.ID = ""
			seed[i] = r
		}
		if err := s.replace(ctx, channelID, seed); err != nil {
			return false, err
		}
		s.log.Info("channel initialized from template",
			zap.String("channel", channelID), zap.Int("rules", len(seed)))
		return true, nil
	})
	if err != nil {
		return false, err
	}
	return v.(bool), nil
}

// SetEnabled flips the enabled flag of the rule at position index in the
// channel's ordered list.
func (s *Store) SetEnabled(ctx context.Context, channelID string, index int, enabled bool) (types.Rule, error) {
	rules, err := s.GetByChannel(ctx, channelID)
	if err != nil {
		return types.Rule{}, err
	}
	if index < 0 || index >= len(rules) {
		return types.Rule{}, &types.ValidationError{
			Field:  "index",
			Reason: fmt.Sprintf("%d out of range, channel %q has %d rules", index, channelID, len(rules)),
		}
	}
	r := rules[index]
	r.Enabled = enabled
	return s.Upsert(ctx, types.ExistingRule{ID: r.ID, Rule: r})
}

// Normalize prepares a whole-channel set: ChannelID is forced, rows are
// stably sorted by Order and renumbered 0..n-1. The input is not modified.
func Normalize(channelID string, rules []types.Rule) []types.Rule {
	out := slices.Clone(rules)
	slices.SortStableFunc(out, func(a, b types.Rule) int { return a.Order - b.Order })
	for i := range out {
		out[i].ChannelID = channelID
		out[i].Order = i
	}
	return out
}
