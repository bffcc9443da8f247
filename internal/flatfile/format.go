// This file implements the line format of the flat-file backend and its
// atomic writer.
package flatfile

import (
	"bufio"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/mesh-intelligence/smartnotifier/internal/atomicfile"
	"github.com/mesh-intelligence/smartnotifier/pkg/types"
)

// Field positions within a line.
const (
	fieldID = iota
	fieldOrder
	fieldEnabled
	fieldPriority
	fieldSound
	fieldSearchText
	fieldCreatedAt
	fieldUpdatedAt
	fieldCount
)

const timeLayout = time.RFC3339Nano

// maxLineLen bounds one encoded line: four text fields at MaxFieldLen plus
// the numeric fields, timestamps and delimiters.
const maxLineLen = 4*types.MaxFieldLen + 1024

// encodeRule renders one rule as a line without the trailing newline.
func encodeRule(r types.Rule) string {
	fields := make([]string, fieldCount)
	fields[fieldID] = r.ID
	fields[fieldOrder] = strconv.Itoa(r.Order)
	fields[fieldEnabled] = strconv.FormatBool(r.Enabled)
	fields[fieldPriority] = strconv.Itoa(r.Priority)
	fields[fieldSound] = r.Sound
	fields[fieldSearchText] = r.SearchText
	fields[fieldCreatedAt] = formatTime(r.CreatedAt)
	fields[fieldUpdatedAt] = formatTime(r.UpdatedAt)
	return strings.Join(fields, types.FieldDelimiter)
}

// decodeRule parses one line. lineNo is 1-based and only used in errors.
func decodeRule(channelID, line string, lineNo int) (types.Rule, error) {
	fields := strings.Split(line, types.FieldDelimiter)
	if len(fields) != fieldCount {
		return types.Rule{}, &types.ValidationError{
			Field: "line", Line: lineNo,
			Reason: fmt.Sprintf("expected %d fields, got %d", fieldCount, len(fields)),
		}
	}

	r := types.Rule{
		ID:         fields[fieldID],
		ChannelID:  channelID,
		Sound:      fields[fieldSound],
		SearchText: fields[fieldSearchText],
	}
	if r.ID == "" {
		return types.Rule{}, &types.ValidationError{Field: "id", Line: lineNo, Reason: "missing"}
	}

	var err error
	if r.Order, err = strconv.Atoi(fields[fieldOrder]); err != nil || r.Order < 0 {
		return types.Rule{}, &types.ValidationError{Field: "order", Line: lineNo, Reason: "not a non-negative integer"}
	}
	if r.Enabled, err = strconv.ParseBool(fields[fieldEnabled]); err != nil {
		return types.Rule{}, &types.ValidationError{Field: "enabled", Line: lineNo, Reason: "not a boolean"}
	}
	if r.Priority, err = strconv.Atoi(fields[fieldPriority]); err != nil {
		return types.Rule{}, &types.ValidationError{Field: "priority", Line: lineNo, Reason: "not an integer"}
	}
	if r.CreatedAt, err = parseTime(fields[fieldCreatedAt]); err != nil {
		return types.Rule{}, &types.ValidationError{Field: "created_at", Line: lineNo, Reason: err.Error()}
	}
	if r.UpdatedAt, err = parseTime(fields[fieldUpdatedAt]); err != nil {
		return types.Rule{}, &types.ValidationError{Field: "updated_at", Line: lineNo, Reason: err.Error()}
	}
	return r, nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse(timeLayout, s)
}

// readRules reads a channel file. A missing file yields no rules. Malformed
// lines are passed to skip and left out of the result.
func readRules(path, channelID string, skip func(error)) ([]types.Rule, error) {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return []types.Rule{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()

	rules := []types.Rule{}
	seen := make(map[int]bool)
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineLen)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := scanner.Text()
		if line == "" {
			continue
		}
		r, err := decodeRule(channelID, line, lineNo)
		if err != nil {
			skip(err)
			continue
		}
		if seen[r.Order] {
			skip(&types.ValidationError{Field: "order", Line: lineNo, Reason: "duplicate order"})
			continue
		}
		seen[r.Order] = true
		rules = append(rules, r)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scanning %s: %w", path, err)
	}

	sort.SliceStable(rules, func(i, j int) bool { return rules[i].Order < rules[j].Order })
	return rules, nil
}

// writeRules atomically replaces path with rules. An empty set removes the
// file.
func writeRules(path string, rules []types.Rule) error {
	if len(rules) == 0 {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("removing %s: %w", path, err)
		}
		return nil
	}
	return atomicfile.WriteLines(path, ".rules-*.tmp", len(rules), func(i int) []byte {
		return []byte(encodeRule(rules[i]))
	})
}
