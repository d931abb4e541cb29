// Package journal keeps an append-only JSON-lines audit trail of
// reconciliation passes and bulk actions.
package journal

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"
)

// DefaultPrefix names journal files "<prefix>-<timestamp>.jsonl".
const DefaultPrefix = "tally"

// EntryType defines the type of journal entry
type EntryType string

const (
	EntryPassStarted  EntryType = "pass_started"
	EntryCreated      EntryType = "created"
	EntryUpdated      EntryType = "updated"
	EntryDeleted      EntryType = "deleted"
	EntryFailed       EntryType = "failed"
	EntryPassFinished EntryType = "pass_finished"
	EntryPassAborted  EntryType = "pass_aborted"
	EntryBulkAction   EntryType = "bulk_action"
)

// Entry represents a single journal entry
type Entry struct {
	Timestamp  time.Time       `json:"timestamp"`
	Sequence   int64           `json:"sequence"`
	Type       EntryType       `json:"type"`
	RunID      string          `json:"run_id,omitempty"`
	Scope      string          `json:"scope,omitempty"`
	ResourceID string          `json:"resource_id,omitempty"`
	Data       json.RawMessage `json:"data,omitempty"`
	Error      string          `json:"error,omitempty"`
}

// Journal appends entries to a file in dir.
type Journal struct {
	mu       sync.Mutex
	file     *os.File
	writer   *bufio.Writer
	sequence int64
	dir      string
	prefix   string
	now      func() time.Time
}

// Open creates a new journal file in dir, continuing the sequence of the
// most recent existing file.
func Open(dir, prefix string) (*Journal, error) {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create journal directory: %w", err)
	}

	last, err := lastSequence(dir, prefix)
	if err != nil {
		return nil, err
	}

	filename := fmt.Sprintf("%s-%s.jsonl", prefix, time.Now().UTC().Format("20060102-150405.000000000"))
	path := filepath.Join(dir, filename)

	file, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open journal file: %w", err)
	}

	return &Journal{
		file:     file,
		writer:   bufio.NewWriter(file),
		sequence: last,
		dir:      dir,
		prefix:   prefix,
		now:      time.Now,
	}, nil
}

// Path returns the file being written.
func (j *Journal) Path() string {
	return j.file.Name()
}

// Close flushes and closes the journal
func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if err := j.writer.Flush(); err != nil {
		return err
	}
	return j.file.Close()
}

// Append adds an entry to the journal
func (j *Journal) Append(entryType EntryType, runID, scope, resourceID string, data any) error {
	return j.append(entryType, runID, scope, resourceID, data, nil)
}

// AppendError adds an entry carrying a failure
func (j *Journal) AppendError(entryType EntryType, runID, scope, resourceID string, data any, errToLog error) error {
	return j.append(entryType, runID, scope, resourceID, data, errToLog)
}

func (j *Journal) append(entryType EntryType, runID, scope, resourceID string, data any, errToLog error) error {
	var raw json.RawMessage
	if data != nil {
		b, err := json.Marshal(data)
		if err != nil {
			return fmt.Errorf("marshal data: %w", err)
		}
		raw = b
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	j.sequence++
	entry := Entry{
		Timestamp:  j.now(),
		Sequence:   j.sequence,
		Type:       entryType,
		RunID:      runID,
		Scope:      scope,
		ResourceID: resourceID,
		Data:       raw,
	}
	if errToLog != nil {
		entry.Error = errToLog.Error()
	}

	return j.writeEntry(entry)
}

// writeEntry writes a single entry and syncs it to disk.
func (j *Journal) writeEntry(entry Entry) error {
	line, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal entry: %w", err)
	}

	if _, err := j.writer.Write(line); err != nil {
		return fmt.Errorf("write entry: %w", err)
	}
	if err := j.writer.WriteByte('\n'); err != nil {
		return fmt.Errorf("write newline: %w", err)
	}
	if err := j.writer.Flush(); err != nil {
		return fmt.Errorf("flush: %w", err)
	}

	return j.file.Sync()
}

// files returns the journal files in dir in name (creation) order.
func files(dir, prefix string) ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(dir, prefix+"-*.jsonl"))
	if err != nil {
		return nil, fmt.Errorf("list journal files: %w", err)
	}
	sort.Strings(matches)
	return matches, nil
}

// lastSequence reads the sequence of the final entry of the newest file.
func lastSequence(dir, prefix string) (int64, error) {
	all, err := files(dir, prefix)
	if err != nil {
		return 0, err
	}
	for i := len(all) - 1; i >= 0; i-- {
		seq, err := lastSequenceIn(all[i])
		if err != nil {
			return 0, err
		}
		if seq > 0 {
			return seq, nil
		}
	}
	return 0, nil
}

func lastSequenceIn(path string) (int64, error) {
	r, err := NewReader(path)
	if err != nil {
		return 0, err
	}
	defer r.Close()

	var last int64
	for {
		entry, err := r.Next()
		if errors.Is(err, io.EOF) {
			return last, nil
		}
		if err != nil {
			// A torn final line from a crash ends the file.
			return last, nil
		}
		last = entry.Sequence
	}
}

// Reader provides journal replay functionality
type Reader struct {
	scanner *bufio.Scanner
	file    *os.File
}

// NewReader creates a reader for the specified file
func NewReader(path string) (*Reader, error) {
	file, err := os.Open(path) // #nosec G304 -- journal files are tally's own
	if err != nil {
		return nil, fmt.Errorf("open journal file: %w", err)
	}

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	return &Reader{
		scanner: scanner,
		file:    file,
	}, nil
}

// Next reads the next entry
func (r *Reader) Next() (*Entry, error) {
	if !r.scanner.Scan() {
		if err := r.scanner.Err(); err != nil {
			return nil, err
		}
		return nil, io.EOF
	}

	var entry Entry
	if err := json.Unmarshal(r.scanner.Bytes(), &entry); err != nil {
		return nil, fmt.Errorf("unmarshal entry: %w", err)
	}

	return &entry, nil
}

// Close closes the reader
func (r *Reader) Close() error {
	return r.file.Close()
}

// Replay calls handler for every entry written after since, oldest file first.
func Replay(dir, prefix string, since time.Time, handler func(*Entry) error) error {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	all, err := files(dir, prefix)
	if err != nil {
		return err
	}

	for _, path := range all {
		if err := replayFile(path, since, handler); err != nil {
			return err
		}
	}
	return nil
}

func replayFile(path string, since time.Time, handler func(*Entry) error) error {
	reader, err := NewReader(path)
	if err != nil {
		return err
	}
	defer reader.Close()

	for {
		entry, err := reader.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("%s: %w", filepath.Base(path), err)
		}

		if entry.Timestamp.After(since) {
			if err := handler(entry); err != nil {
				return err
			}
		}
	}
}
