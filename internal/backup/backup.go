// Package backup exports every channel's rules to a JSONL file and restores
// them. One line holds one rule; a restore replaces each channel it names
// as a whole.
package backup

import (
	"context"
	"encoding/json"
	"slices"

	"go.uber.org/zap"

	"github.com/mesh-intelligence/smartnotifier/internal/logging"
	"github.com/mesh-intelligence/smartnotifier/pkg/types"
)

// Source is read by Export.
type Source interface {
	Channels(ctx context.Context) ([]string, error)
	GetByChannel(ctx context.Context, channelID string) ([]types.Rule, error)
}

// Target is written by Import.
type Target interface {
	Replace(ctx context.Context, channelID string, rules []types.Rule) error
}

// Result summarizes an import.
type Result struct {
	Channels int `json:"channels"`
	Rules    int `json:"rules"`
	Skipped  int `json:"skipped"`
}

// Export writes all rules of all channels to path and returns the number of
// rules written.
func Export(ctx context.Context, src Source, path string) (int, error) {
	channels, err := src.Channels(ctx)
	if err != nil {
		return 0, err
	}
	var records []json.RawMessage
	for _, ch := range channels {
		rules, err := src.GetByChannel(ctx, ch)
		if err != nil {
			return 0, err
		}
		for _, r := range rules {
			data, err := json.Marshal(r)
			if err != nil {
				return 0, types.WrapStorage("encode rule", err)
			}
			records = append(records, data)
		}
	}
	if err := writeJSONL(path, records); err != nil {
		return 0, types.WrapStorage("write export", err)
	}
	return len(records), nil
}

// Import reads path and replaces every channel found in it. Malformed lines
// and rules without a channel are skipped with a warning. Rule IDs are
// preserved. Channels absent from the file are not touched.
func Import(ctx context.Context, dst Target, path string, log *zap.Logger) (Result, error) {
	log = logging.OrNop(log).Named("backup")

	var res Result
	records, err := readJSONL(path, func(line int) {
		log.Warn("skipping malformed backup line", zap.String("path", path), zap.Int("line", line))
		res.Skipped++
	})
	if err != nil {
		return res, types.WrapStorage("read backup", err)
	}

	byChannel := map[string][]types.Rule{}
	var order []string
	for i, rec := range records {
		var r types.Rule
		if err := json.Unmarshal(rec, &r); err != nil || r.ChannelID == "" {
			log.Warn("skipping backup record", zap.String("path", path), zap.Int("record", i+1), zap.Error(err))
			res.Skipped++
			continue
		}
		if _, ok := byChannel[r.ChannelID]; !ok {
			order = append(order, r.ChannelID)
		}
		byChannel[r.ChannelID] = append(byChannel[r.ChannelID], r)
	}

	for _, ch := range order {
		rules := byChannel[ch]
		slices.SortStableFunc(rules, func(a, b types.Rule) int { return a.Order - b.Order })
		if err := dst.Replace(ctx, ch, rules); err != nil {
			return res, err
		}
		res.Channels++
		res.Rules += len(rules)
	}
	return res, nil
}
