// Package flatfile implements the file-backed rule backend. Each channel is
// one file under DataDir/rules holding one rule per line; every write goes
// to a temporary sibling that is renamed over the target, so readers see
// either the old file or the new one.
package flatfile

import (
	"context"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/mesh-intelligence/smartnotifier/internal/logging"
	"github.com/mesh-intelligence/smartnotifier/pkg/types"
)

// Layout constants.
const (
	RulesDirName = "rules"
	FileExt      = ".rules"
)

// Compile-time interface check.
var _ types.Backend = (*Backend)(nil)

// Backend implements types.Backend on per-channel files.
//
// mu guards the attached state: every operation holds it for reading and
// Detach holds it for writing. writeMu serializes read-modify-write cycles.
type Backend struct {
	mu       sync.RWMutex
	writeMu  sync.Mutex
	attached bool
	dir      string
	log      *zap.Logger

	writeFile func(path string, rules []types.Rule) error
}

// Option configures a Backend.
type Option func(*Backend)

// WithLogger sets the logger used for skipped-line warnings.
func WithLogger(l *zap.Logger) Option {
	return func(b *Backend) { b.log = l }
}

// NewBackend creates a new flat-file backend. Call Attach before use.
func NewBackend(opts ...Option) *Backend {
	b := &Backend{writeFile: writeRules}
	for _, opt := range opts {
		opt(b)
	}
	b.log = logging.OrNop(b.log).Named("flatfile")
	return b
}

// Attach creates DataDir/rules if needed.
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
	dir := filepath.Join(dataDir, RulesDirName)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return types.WrapStorage("create rules dir", err)
	}
	b.dir = dir
	b.attached = true
	return nil
}

// Detach waits for in-flight operations. Idempotent.
func (b *Backend) Detach() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.attached = false
	return nil
}

// Dir returns the directory holding the channel files.
func (b *Backend) Dir() string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.dir
}

func (b *Backend) acquire() error {
	b.mu.RLock()
	if !b.attached {
		b.mu.RUnlock()
		return types.ErrDetached
	}
	return nil
}

func (b *Backend) release() {
	b.mu.RUnlock()
}

func (b *Backend) channelPath(channelID string) string {
	return filepath.Join(b.dir, url.PathEscape(channelID)+FileExt)
}

func (b *Backend) read(channelID string) ([]types.Rule, error) {
	path := b.channelPath(channelID)
	rules, err := readRules(path, channelID, func(err error) {
		b.log.Warn("skipping malformed rule line",
			zap.String("channel", channelID),
			zap.String("path", path),
			zap.Error(err))
	})
	if err != nil {
		return nil, types.WrapStorage("read channel", err)
	}
	return rules, nil
}

func (b *Backend) write(channelID string, rules []types.Rule) error {
	if err := b.writeFile(b.channelPath(channelID), rules); err != nil {
		return types.WrapStorage("write channel", err)
	}
	return nil
}

// GetByChannel returns the channel's rules ordered by Order.
func (b *Backend) GetByChannel(ctx context.Context, channelID string) ([]types.Rule, error) {
	if err := b.acquire(); err != nil {
		return nil, err
	}
	defer b.release()
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return b.read(channelID)
}

// Get scans every channel for the rule with the given ID.
func (b *Backend) Get(ctx context.Context, id string) (types.Rule, error) {
	if err := b.acquire(); err != nil {
		return types.Rule{}, err
	}
	defer b.release()

	return b.find(ctx, id)
}

// find locates a rule by ID across all channels.
func (b *Backend) find(ctx context.Context, id string) (types.Rule, error) {
	channels, err := b.channels()
	if err != nil {
		return types.Rule{}, err
	}
	for _, c := range channels {
		if err := ctx.Err(); err != nil {
			return types.Rule{}, err
		}
		rules, err := b.read(c)
		if err != nil {
			return types.Rule{}, err
		}
		for _, r := range rules {
			if r.ID == id {
				return r, nil
			}
		}
	}
	return types.Rule{}, &types.NotFoundError{ID: id}
}

// Upsert inserts or updates one rule. Any other rule at the same order in
// the target channel is replaced. Moving an existing rule to another channel
// removes it from the source first and then writes the target; if the target
// write fails the source is restored. Between the two renames a reader may
// find the rule in neither channel, never in both.
func (b *Backend) Upsert(ctx context.Context, u types.Upsert) (types.Rule, error) {
	rec := types.Record(u)
	if _, ok := u.(types.ExistingRule); ok && rec.ID == "" {
		return types.Rule{}, &types.ValidationError{Field: "id", Reason: "existing rule requires an id"}
	}
	if err := rec.Validate(); err != nil {
		return types.Rule{}, err
	}

	if err := b.acquire(); err != nil {
		return types.Rule{}, err
	}
	defer b.release()
	b.writeMu.Lock()
	defer b.writeMu.Unlock()

	now := time.Now().UTC()
	sourceChannel := ""
	if rec.ID == "" {
		rec.ID = types.NewRuleID()
		rec.CreatedAt = now
	} else {
		prev, err := b.find(ctx, rec.ID)
		if err != nil {
			return types.Rule{}, err
		}
		rec.CreatedAt = prev.CreatedAt
		sourceChannel = prev.ChannelID
	}
	rec.UpdatedAt = now

	rules, err := b.read(rec.ChannelID)
	if err != nil {
		return types.Rule{}, err
	}
	next := make([]types.Rule, 0, len(rules)+1)
	for _, r := range rules {
		if r.ID == rec.ID || r.Order == rec.Order {
			continue
		}
		next = append(next, r)
	}
	next = append(next, rec)
	sort.SliceStable(next, func(i, j int) bool { return next[i].Order < next[j].Order })

	moved := sourceChannel != "" && sourceChannel != rec.ChannelID
	var source []types.Rule
	if moved {
		if source, err = b.read(sourceChannel); err != nil {
			return types.Rule{}, err
		}
		if err := b.write(sourceChannel, withoutID(source, rec.ID)); err != nil {
			return types.Rule{}, err
		}
	}

	if err := b.write(rec.ChannelID, next); err != nil {
		if moved {
			if rerr := b.write(sourceChannel, source); rerr != nil {
				b.log.Error("restoring source channel after failed move",
					zap.String("rule", rec.ID),
					zap.String("channel", sourceChannel),
					zap.Error(rerr))
			}
		}
		return types.Rule{}, err
	}
	return rec, nil
}

// withoutID returns a copy of rules minus the one with the given ID.
func withoutID(rules []types.Rule, id string) []types.Rule {
	kept := make([]types.Rule, 0, len(rules))
	for _, r := range rules {
		if r.ID != id {
			kept = append(kept, r)
		}
	}
	return kept
}

// ReplaceForChannel writes the full new set in one rename. An ID owned by a
// rule in another channel is a validation error.
func (b *Backend) ReplaceForChannel(ctx context.Context, channelID string, rules []types.Rule) error {
	prepared, err := types.PrepareReplace(channelID, rules, time.Now().UTC())
	if err != nil {
		return err
	}
	sort.SliceStable(prepared, func(i, j int) bool { return prepared[i].Order < prepared[j].Order })

	if err := b.acquire(); err != nil {
		return err
	}
	defer b.release()
	b.writeMu.Lock()
	defer b.writeMu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	if err := b.checkOwnership(channelID, prepared); err != nil {
		return err
	}
	return b.write(channelID, prepared)
}

// checkOwnership rejects rules whose ID another channel already holds.
func (b *Backend) checkOwnership(channelID string, rules []types.Rule) error {
	if len(rules) == 0 {
		return nil
	}
	ids := make(map[string]struct{}, len(rules))
	for _, r := range rules {
		ids[r.ID] = struct{}{}
	}
	channels, err := b.channels()
	if err != nil {
		return err
	}
	for _, c := range channels {
		if c == channelID {
			continue
		}
		held, err := b.read(c)
		if err != nil {
			return err
		}
		for _, r := range held {
			if _, ok := ids[r.ID]; ok {
				return types.HeldByChannel(r.ID, c)
			}
		}
	}
	return nil
}

// DeleteByChannel removes the channel file.
func (b *Backend) DeleteByChannel(ctx context.Context, channelID string) error {
	return b.ReplaceForChannel(ctx, channelID, nil)
}

// Delete removes one rule by ID.
func (b *Backend) Delete(ctx context.Context, id string) error {
	if err := b.acquire(); err != nil {
		return err
	}
	defer b.release()
	b.writeMu.Lock()
	defer b.writeMu.Unlock()

	r, err := b.find(ctx, id)
	if err != nil {
		return err
	}
	rules, err := b.read(r.ChannelID)
	if err != nil {
		return err
	}
	return b.write(r.ChannelID, withoutID(rules, id))
}

// Channels lists channels that have a rule file.
func (b *Backend) Channels(ctx context.Context) ([]string, error) {
	if err := b.acquire(); err != nil {
		return nil, err
	}
	defer b.release()
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return b.channels()
}

func (b *Backend) channels() ([]string, error) {
	entries, err := os.ReadDir(b.dir)
	if err != nil {
		return nil, types.WrapStorage("list channels", err)
	}
	channels := []string{}
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, FileExt) {
			continue
		}
		c, err := url.PathUnescape(strings.TrimSuffix(name, FileExt))
		if err != nil {
			b.log.Warn("skipping unreadable channel file", zap.String("file", name))
			continue
		}
		channels = append(channels, c)
	}
	sort.Strings(channels)
	return channels, nil
}
