package wal

import (
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/finch-kv/durakv/internal/errs"
)

func tempPath(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "test.wal")
}

func TestAppendAndReopen(t *testing.T) {
	path := tempPath(t)

	w, records, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if len(records) != 0 {
		t.Fatalf("expected empty log, got %d records", len(records))
	}

	if err := w.Append(Record{Op: OpSet, Key: "a", Value: "1"}, true); err != nil {
		t.Fatalf("Append set a: %v", err)
	}
	if err := w.Append(Record{Op: OpSet, Key: "b", Value: "2"}, true); err != nil {
		t.Fatalf("Append set b: %v", err)
	}
	if err := w.Append(Record{Op: OpDelete, Key: "a"}, true); err != nil {
		t.Fatalf("Append delete a: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	_, records, err = Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("expected 3 records on replay, got %d", len(records))
	}
	if records[0].Key != "a" || records[0].Value != "1" {
		t.Fatalf("unexpected first record: %+v", records[0])
	}
	if records[2].Op != OpDelete || records[2].Key != "a" {
		t.Fatalf("unexpected third record: %+v", records[2])
	}
}

func TestBulkSetRecordRoundTrips(t *testing.T) {
	path := tempPath(t)
	w, _, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	items := []Pair{{"a", "1"}, {"b", "2"}}
	if err := w.Append(Record{Op: OpBulkSet, Items: items}, true); err != nil {
		t.Fatalf("Append bulk_set: %v", err)
	}
	w.Close()

	_, records, err := Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if len(records) != 1 || len(records[0].Items) != 2 {
		t.Fatalf("expected one bulk_set record with 2 items, got %+v", records)
	}
	if records[0].Items[0] != (Pair{"a", "1"}) || records[0].Items[1] != (Pair{"b", "2"}) {
		t.Fatalf("items out of order or wrong: %+v", records[0].Items)
	}
}

// TestTornTrailingLine reproduces spec scenario 3: a WAL with valid
// lines followed by a truncated, unterminated final line. Open must
// recover the valid prefix and not error.
func TestTornTrailingLine(t *testing.T) {
	path := tempPath(t)

	content := `{"op":"set","key":"k1","value":"v1"}
{"op":"set","key":"k2","value":"v2"}
{"op":"set","ke`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	w, records, err := Open(path)
	if err != nil {
		t.Fatalf("Open on torn tail: %v", err)
	}
	defer w.Close()

	if len(records) != 2 {
		t.Fatalf("expected 2 well-formed records, got %d: %+v", len(records), records)
	}
	if records[0].Key != "k1" || records[1].Key != "k2" {
		t.Fatalf("unexpected records: %+v", records)
	}

	// The torn tail must have been truncated from disk, so a fresh
	// Append lands right after the last good record.
	if err := w.Append(Record{Op: OpSet, Key: "k3", Value: "v3"}, true); err != nil {
		t.Fatalf("append after truncation: %v", err)
	}
	w.Close()

	_, records, err = Open(path)
	if err != nil {
		t.Fatalf("reopen after truncation: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("expected 3 records after append, got %d: %+v", len(records), records)
	}
}

// TestTornTrailingLineWithNewline covers the other torn-tail shape: a
// final line that does end in a newline but still fails to parse.
func TestTornTrailingLineWithNewline(t *testing.T) {
	path := tempPath(t)

	content := "{\"op\":\"set\",\"key\":\"k1\",\"value\":\"v1\"}\n{\"op\":\"set\",\"ke\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	w, records, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer w.Close()

	if len(records) != 1 || records[0].Key != "k1" {
		t.Fatalf("expected only k1 to survive, got %+v", records)
	}
}

// TestCorruptMidFileIsFatal covers the other half of spec §4.1's
// replay rule: a parse failure anywhere but the last line is fatal.
func TestCorruptMidFileIsFatal(t *testing.T) {
	path := tempPath(t)

	content := "{\"op\":\"set\",\"key\":\"first\",\"value\":\"100\"}\nnot json at all\n{\"op\":\"set\",\"key\":\"second\",\"value\":\"200\"}\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	_, _, err := Open(path)
	if err == nil {
		t.Fatal("expected Open to fail on mid-file corruption")
	}
	if !errors.Is(err, errs.ErrCorruptLog) {
		t.Fatalf("expected ErrCorruptLog, got: %v", err)
	}
}

func TestCompactRewritesLog(t *testing.T) {
	path := tempPath(t)
	w, _, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	w.Append(Record{Op: OpSet, Key: "a", Value: "1"}, true)
	w.Append(Record{Op: OpSet, Key: "a", Value: "the string"}, true)
	w.Append(Record{Op: OpSet, Key: "b", Value: "2"}, true)
	w.Append(Record{Op: OpDelete, Key: "b"}, true)
	w.Append(Record{Op: OpSet, Key: "c", Value: "3"}, true)

	if err := w.Compact([]Record{
		{Op: OpSet, Key: "a", Value: "the string"},
		{Op: OpSet, Key: "c", Value: "3"},
	}); err != nil {
		t.Fatalf("Compact: %v", err)
	}

	if err := w.Append(Record{Op: OpSet, Key: "d", Value: "4"}, true); err != nil {
		t.Fatalf("append after compact: %v", err)
	}
	w.Close()

	_, records, err := Open(path)
	if err != nil {
		t.Fatalf("reopen after compact: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("expected 3 records post-compaction, got %d: %+v", len(records), records)
	}
}

// TestReplaySequenceMatchesWhatWasWritten checks that replay returns
// set, bulk_set and delete records (with and without a version)
// exactly as they were appended, in order.
func TestReplaySequenceMatchesWhatWasWritten(t *testing.T) {
	path := tempPath(t)
	w, _, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	v1 := int64(1)
	written := []Record{
		{Op: OpSet, Key: "a", Value: "1", Version: &v1},
		{Op: OpBulkSet, Items: []Pair{{"x", "y"}, {"z", "w"}}},
		{Op: OpDelete, Key: "a"},
	}
	for _, rec := range written {
		if err := w.Append(rec, true); err != nil {
			t.Fatalf("Append %+v: %v", rec, err)
		}
	}
	w.Close()

	_, got, err := Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if diff := cmp.Diff(written, got); diff != "" {
		t.Fatalf("replayed records differ from what was written (-want +got):\n%s", diff)
	}
}

// TestConcurrentAppend exercises the lock-spans-write-and-fsync
// discipline under many goroutines; replay must see every record.
func TestConcurrentAppend(t *testing.T) {
	path := tempPath(t)
	w, _, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	const numRoutines = 20
	const numPerRoutine = 10

	var wg sync.WaitGroup
	for i := 0; i < numRoutines; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < numPerRoutine; j++ {
				key := "k_" + strconv.Itoa(i) + "_" + strconv.Itoa(j)
				if err := w.Append(Record{Op: OpSet, Key: key, Value: "v"}, true); err != nil {
					t.Errorf("append %s: %v", key, err)
				}
			}
		}(i)
	}
	wg.Wait()
	w.Close()

	_, records, err := Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if len(records) != numRoutines*numPerRoutine {
		t.Fatalf("expected %d records, got %d", numRoutines*numPerRoutine, len(records))
	}
}
