// Package wal implements the append-only, crash-safe write-ahead log
// that backs the storage engine. Every mutation is serialized to a
// single JSON line, appended, and (optionally) fsynced before the
// engine applies it to memory. Replay-on-open tolerates a torn
// trailing line left by a crash mid-append; any other parse failure
// is fatal.
package wal

import (
	"bytes"
	"fmt"
	"os"
	"sync"

	json "github.com/goccy/go-json"

	"github.com/finch-kv/durakv/internal/errs"
)

// Op identifies the kind of mutation a Record describes.
type Op string

const (
	OpSet     Op = "set"
	OpDelete  Op = "delete"
	OpBulkSet Op = "bulk_set"
)

// Pair is a single (key, value) item inside a bulk_set record. It
// marshals as a two-element JSON array, matching the wire format
// described by the spec's "items" field.
type Pair [2]string

// Record is the on-disk (and in-flight) shape of one WAL entry. Only
// the fields relevant to Op are populated; the rest are left zero and
// omitted from the serialized line.
type Record struct {
	Op      Op     `json:"op"`
	Key     string `json:"key,omitempty"`
	Value   string `json:"value,omitempty"`
	Items   []Pair `json:"items,omitempty"`
	Version *int64 `json:"version,omitempty"`
}

// WAL owns a single log file for the lifetime of the process. It is
// safe for concurrent use; Append serializes callers with a mutex that
// also covers the fsync, so ordering on disk matches call order.
type WAL struct {
	mu   sync.Mutex
	f    *os.File
	path string
}

// Open opens (creating if necessary) the log at path, replays any
// well-formed records, and returns both the handle and the replayed
// sequence so the caller can rebuild in-memory state. A torn trailing
// line is discarded and the file truncated to drop it; any other
// parse failure is returned wrapped in errs.ErrCorruptLog.
func Open(path string) (*WAL, []Record, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("wal: open %s: %w", path, err)
	}

	records, validLen, err := readAndValidate(path)
	if err != nil {
		f.Close()
		return nil, nil, err
	}
	if stat, statErr := f.Stat(); statErr == nil && stat.Size() != validLen {
		if truncErr := f.Truncate(validLen); truncErr != nil {
			f.Close()
			return nil, nil, fmt.Errorf("wal: truncate torn tail of %s: %w", path, truncErr)
		}
	}

	return &WAL{f: f, path: path}, records, nil
}

// readAndValidate scans path from the start, returning every
// well-formed record in order plus the byte length of the valid
// prefix (i.e. excluding any torn trailing line).
func readAndValidate(path string) ([]Record, int64, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, 0, fmt.Errorf("wal: read %s: %w", path, err)
	}
	if len(data) == 0 {
		return nil, 0, nil
	}

	hasTrailingNL := data[len(data)-1] == '\n'
	content := data
	if hasTrailingNL {
		content = data[:len(data)-1]
	}
	lines := bytes.Split(content, []byte("\n"))

	torn := !hasTrailingNL
	effective := lines
	if torn {
		effective = lines[:len(lines)-1]
	}

	var records []Record
	var validLen int64
	for i, line := range effective {
		var rec Record
		if err := json.Unmarshal(line, &rec); err != nil {
			if i == len(effective)-1 && hasTrailingNL {
				// Last well-terminated line failed to parse: also a
				// torn write, just one that happened to end in a
				// newline mid-crash. Discard it the same way.
				torn = true
				break
			}
			return nil, 0, fmt.Errorf("wal: %s at line %d: %w", path, i+1, errs.ErrCorruptLog)
		}
		records = append(records, rec)
		validLen += int64(len(line)) + 1 // +1 for the newline we split on
	}

	return records, validLen, nil
}

// Append serializes rec to a single line and writes it to the log. If
// sync is true, fsync is called before returning; the caller is
// responsible for holding off on applying the mutation to in-memory
// state until Append returns nil (invariant I1).
func (w *WAL) Append(rec Record, sync bool) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("wal: marshal record: %w", err)
	}
	data = append(data, '\n')

	w.mu.Lock()
	defer w.mu.Unlock()

	if _, err := w.f.Write(data); err != nil {
		return fmt.Errorf("wal: append: %w: %v", errs.ErrIO, err)
	}
	if sync {
		if err := w.f.Sync(); err != nil {
			return fmt.Errorf("wal: fsync: %w: %v", errs.ErrIO, err)
		}
	}
	return nil
}

// Close flushes and closes the underlying file. The WAL must not be
// used afterward.
func (w *WAL) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.f.Close()
}

// Path returns the filesystem path this WAL was opened against.
func (w *WAL) Path() string {
	return w.path
}

// Compact rewrites the log to contain exactly one set record per
// entry in records (the engine's current live state), replacing the
// file atomically via rename. The caller must already hold whatever
// lock serializes this WAL's writers; Compact does not itself
// exclude concurrent Append calls beyond its own file swap.
func (w *WAL) Compact(records []Record) error {
	tmpPath := w.path + ".compact"
	tmp, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("wal: create compaction file: %w", err)
	}
	defer func() {
		tmp.Close()
		os.Remove(tmpPath)
	}()

	for _, rec := range records {
		data, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("wal: marshal record during compaction: %w", err)
		}
		data = append(data, '\n')
		if _, err := tmp.Write(data); err != nil {
			return fmt.Errorf("wal: write compaction file: %w: %v", errs.ErrIO, err)
		}
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("wal: fsync compaction file: %w: %v", errs.ErrIO, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("wal: close compaction file: %w", err)
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.f.Close(); err != nil {
		return fmt.Errorf("wal: close active log before compaction swap: %w", err)
	}
	if err := os.Rename(tmpPath, w.path); err != nil {
		return fmt.Errorf("wal: swap compacted log into place: %w", err)
	}

	newFile, err := os.OpenFile(w.path, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("wal: reopen compacted log: %w", err)
	}
	w.f = newFile
	return nil
}
