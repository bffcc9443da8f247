package backup

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"

	"github.com/mesh-intelligence/smartnotifier/internal/atomicfile"
	"github.com/mesh-intelligence/smartnotifier/pkg/types"
)

// maxLineLen bounds one exported record. JSON escaping can grow each text
// field up to six times.
const maxLineLen = 6*4*types.MaxFieldLen + 4096

// readJSONL returns each non-empty, well-formed line of path. skip is called
// with the 1-based line number of every malformed line.
func readJSONL(path string, skip func(line int)) ([]json.RawMessage, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()

	var records []json.RawMessage
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineLen)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		if !json.Valid(line) {
			skip(lineNo)
			continue
		}
		cp := make([]byte, len(line))
		copy(cp, line)
		records = append(records, json.RawMessage(cp))
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scanning %s: %w", path, err)
	}
	return records, nil
}

// writeJSONL writes records to path atomically, so path holds either its
// old content or the complete new content.
func writeJSONL(path string, records []json.RawMessage) error {
	return atomicfile.WriteLines(path, ".jsonl-*.tmp", len(records), func(i int) []byte {
		return records[i]
	})
}
