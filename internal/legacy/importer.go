// Package legacy imports rule files written by earlier releases: one CSV
// file per channel with rows "package,sound,enabled,priority,searchText".
// The import runs once; a marker file records that it has happened.
package legacy

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/mesh-intelligence/smartnotifier/internal/logging"
	"github.com/mesh-intelligence/smartnotifier/pkg/types"
)

// MarkerFileName is written to the marker directory after a completed import.
const MarkerFileName = ".csv_migrated_flag"

// CSV column positions.
const (
	colPackage = iota
	colSound
	colEnabled
	colPriority
	colSearchText
)

// Upserter stores one rule. rules.Store implements it.
type Upserter interface {
	Upsert(ctx context.Context, u types.Upsert) (types.Rule, error)
}

// Options control an import run.
type Options struct {
	// SourceDir holds the *.csv files. A missing directory imports nothing.
	SourceDir string
	// MarkerDir receives the marker file.
	MarkerDir string
	// Force ignores an existing marker.
	Force bool
}

// Result summarizes an import run.
type Result struct {
	// AlreadyDone is set when the marker was present and nothing ran.
	AlreadyDone bool `json:"already_done"`
	Files       int  `json:"files"`
	Imported    int  `json:"imported"`
	Skipped     int  `json:"skipped"`
}

// Import loads every CSV file in opts.SourceDir into store, unless the
// marker shows a previous run completed. The channel ID is the file name
// without its extension and a row's Order is its line position. Rows that
// cannot be stored are skipped with a warning. The marker is written only
// when every file was read.
func Import(ctx context.Context, store Upserter, opts Options, log *zap.Logger) (Result, error) {
	log = logging.OrNop(log).Named("legacy")
	marker := filepath.Join(opts.MarkerDir, MarkerFileName)

	if !opts.Force {
		if _, err := os.Stat(marker); err == nil {
			return Result{AlreadyDone: true}, nil
		} else if !errors.Is(err, os.ErrNotExist) {
			return Result{}, types.WrapStorage("stat marker", err)
		}
	}

	files, err := csvFiles(opts.SourceDir)
	if err != nil {
		return Result{}, err
	}

	var res Result
	for _, path := range files {
		channelID := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
		rows, err := readFile(path, channelID)
		if err != nil {
			return res, err
		}
		res.Files++
		for _, row := range rows {
			if err := ctx.Err(); err != nil {
				return res, err
			}
			if _, err := store.Upsert(ctx, types.NewRule{Rule: row}); err != nil {
				if errors.Is(err, types.ErrValidation) {
					log.Warn("skipping legacy row",
						zap.String("file", path),
						zap.Int("line", row.Order+1),
						zap.Error(err))
					res.Skipped++
					continue
				}
				return res, err
			}
			res.Imported++
		}
		log.Info("imported legacy file", zap.String("file", path), zap.String("channel", channelID), zap.Int("rows", len(rows)))
	}

	if err := os.MkdirAll(opts.MarkerDir, 0o755); err != nil {
		return res, types.WrapStorage("create marker dir", err)
	}
	if err := os.WriteFile(marker, []byte("done"), 0o644); err != nil {
		return res, types.WrapStorage("write marker", err)
	}
	return res, nil
}

func csvFiles(dir string) ([]string, error) {
	if dir == "" {
		return nil, nil
	}
	entries, err := os.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, types.WrapStorage("list legacy dir", err)
	}
	var files []string
	for _, e := range entries {
		if !e.IsDir() && strings.EqualFold(filepath.Ext(e.Name()), ".csv") {
			files = append(files, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(files)
	return files, nil
}

func readFile(path, channelID string) ([]types.Rule, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, types.WrapStorage("open legacy file", err)
	}
	defer f.Close()
	rows, err := parse(f, channelID)
	if err != nil {
		return nil, types.WrapStorage(fmt.Sprintf("read %s", filepath.Base(path)), err)
	}
	return rows, nil
}

// parse reads legacy rows. Missing columns take defaults: enabled true,
// priority 0, no sound, no search text. A row with blank search text is
// kept disabled since it can never match. A header row naming the package
// column is ignored.
func parse(r io.Reader, channelID string) ([]types.Rule, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	var rules []types.Rule
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			return rules, nil
		}
		if err != nil {
			return nil, err
		}
		if len(rules) == 0 && strings.EqualFold(column(rec, colPackage), "package") {
			continue
		}
		rule := types.Rule{
			ChannelID:  channelID,
			Order:      len(rules),
			Sound:      strings.TrimSpace(column(rec, colSound)),
			Enabled:    true,
			SearchText: column(rec, colSearchText),
		}
		if v, err := strconv.ParseBool(strings.TrimSpace(column(rec, colEnabled))); err == nil {
			rule.Enabled = v
		}
		if v, err := strconv.Atoi(strings.TrimSpace(column(rec, colPriority))); err == nil {
			rule.Priority = v
		}
		if strings.TrimSpace(rule.SearchText) == "" {
			rule.Enabled = false
		}
		rules = append(rules, rule)
	}
}

func column(rec []string, i int) string {
	if i < len(rec) {
		return rec[i]
	}
	return ""
}
