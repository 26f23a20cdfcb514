package transcript

import (
	"bufio"
	"encoding/json"
	"errors"
	"os"

	"github.com/devsessions/devsessions/internal/debug"
)

const (
	scannerInitialBuffer = 1024 * 1024
	scannerMaxBuffer     = 64 * 1024 * 1024
)

// ReadFile parses the transcript at path into an ordered sequence of
// entries. A missing file yields an empty sequence, not an error; a
// malformed line is skipped (and logged), never aborting the whole read.
func ReadFile(path string) ([]Entry, error) {
	f, err := os.Open(path) // #nosec G304 - path derived from workspace sanitizer
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	return readEntries(f)
}

func readEntries(f *os.File) ([]Entry, error) {
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, scannerInitialBuffer), scannerMaxBuffer)

	var entries []Entry
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var entry Entry
		if err := json.Unmarshal(line, &entry); err != nil {
			debug.Logf("transcript: skipping malformed line %d: %v\n", lineNum, err)
			continue
		}
		entries = append(entries, entry)
	}

	if err := scanner.Err(); err != nil {
		debug.Logf("transcript: scan error, returning entries read so far: %v\n", err)
		return entries, nil
	}

	return entries, nil
}
