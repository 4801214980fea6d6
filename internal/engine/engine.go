// Package engine implements the single-node storage engine (spec
// component B): a crash-safe in-memory map with a write-ahead log, an
// inverted full-text index, and a fixed-dimension bag-of-words
// embedding index, all kept consistent under one reader/writer lock.
package engine

import (
	"fmt"
	"math/rand"
	"sync"

	"github.com/finch-kv/durakv/internal/errs"
	"github.com/finch-kv/durakv/internal/logging"
	"github.com/finch-kv/durakv/internal/wal"
	"github.com/rs/zerolog"
)

// Options configures Open.
type Options struct {
	// Path is the WAL file this engine owns for its lifetime.
	Path string
}

// SetOpts configures a single Set call. The zero value is a plain,
// fully durable, unversioned write.
type SetOpts struct {
	// Unreliable, when true, makes fsync skip with probability 0.01
	// on this call. For durability testing only; the in-memory update
	// still happens, so an acked write can diverge from what replay
	// recovers. Has no equivalent on Delete or BulkSet.
	Unreliable bool
	// Version, when non-nil, applies last-writer-wins conflict
	// resolution: the write is a no-op if a version already recorded
	// for this key is >= Version.
	Version *int64
}

// MutateOpts configures a single Delete or BulkSet call.
type MutateOpts struct {
	Version *int64
}

// Engine is a single-node storage engine. It owns its WAL file
// exclusively for its lifetime; the zero value is not usable, use
// Open.
type Engine struct {
	mu sync.RWMutex

	wal *wal.WAL

	kv         map[string]string
	version    map[string]int64
	inverted   map[string]map[string]struct{}
	embeddings map[string][embeddingDim]int

	log zerolog.Logger
}

// Open opens or creates the WAL at opts.Path, replays it into memory,
// and returns a ready engine. Replay uses the same application logic
// as live writes, without re-appending or fsyncing.
func Open(opts Options) (*Engine, error) {
	w, records, err := wal.Open(opts.Path)
	if err != nil {
		return nil, err
	}

	e := &Engine{
		wal:        w,
		kv:         make(map[string]string),
		version:    make(map[string]int64),
		inverted:   make(map[string]map[string]struct{}),
		embeddings: make(map[string][embeddingDim]int),
		log:        logging.WithComponent("engine"),
	}
	for _, rec := range records {
		e.applyRecord(rec)
	}
	e.log.Info().Str("path", opts.Path).Int("records_replayed", len(records)).Msg("engine opened")
	return e, nil
}

// applyRecord applies one WAL record's effect to in-memory state. It
// is used both at replay (single-threaded, no lock needed) and from
// live mutators (called with e.mu already held).
func (e *Engine) applyRecord(rec wal.Record) {
	switch rec.Op {
	case wal.OpSet:
		e.applySetLocked(rec.Key, rec.Value, rec.Version)
	case wal.OpDelete:
		e.applyDeleteLocked(rec.Key, rec.Version)
	case wal.OpBulkSet:
		e.applyBulkSetLocked(rec.Items, rec.Version)
	}
}

// applyBulkSetLocked applies a batch of pairs so that later pairs for
// the same key override earlier ones, per §4.1. Items are collapsed to
// their final per-key value before calling applySetLocked exactly once
// per key — calling it once per raw item would apply the first
// occurrence under the batch's shared version, then skip every later
// occurrence of the same key as a no-op (equal version never
// overrides). Caller must hold e.mu for writing.
func (e *Engine) applyBulkSetLocked(items []wal.Pair, version *int64) {
	final := make(map[string]string, len(items))
	order := make([]string, 0, len(items))
	for _, item := range items {
		if _, seen := final[item[0]]; !seen {
			order = append(order, item[0])
		}
		final[item[0]] = item[1]
	}
	for _, key := range order {
		e.applySetLocked(key, final[key], version)
	}
}

// applySetLocked applies a single key/value write under the LWW rule:
// a non-nil version that does not exceed the key's recorded version
// is a no-op. Caller must hold e.mu for writing.
func (e *Engine) applySetLocked(key, value string, version *int64) bool {
	if version != nil {
		if cur, ok := e.version[key]; ok && cur >= *version {
			return false
		}
		e.version[key] = *version
	}
	if old, existed := e.kv[key]; existed {
		e.removeFromInvertedLocked(key, old)
	}
	e.kv[key] = value
	e.addToInvertedLocked(key, value)
	e.embeddings[key] = embed(value)
	return true
}

// applyDeleteLocked removes key under the same LWW rule as
// applySetLocked. existed reports whether the key was present before
// this call, independent of whether the delete itself was applied.
func (e *Engine) applyDeleteLocked(key string, version *int64) (applied, existed bool) {
	if version != nil {
		if cur, ok := e.version[key]; ok && cur >= *version {
			_, existed = e.kv[key]
			return false, existed
		}
		e.version[key] = *version
	}
	val, existed := e.kv[key]
	if existed {
		delete(e.kv, key)
		e.removeFromInvertedLocked(key, val)
		delete(e.embeddings, key)
	}
	return true, existed
}

func (e *Engine) addToInvertedLocked(key, value string) {
	for tok := range tokenSet(value) {
		bucket, ok := e.inverted[tok]
		if !ok {
			bucket = make(map[string]struct{})
			e.inverted[tok] = bucket
		}
		bucket[key] = struct{}{}
	}
}

func (e *Engine) removeFromInvertedLocked(key, value string) {
	for tok := range tokenSet(value) {
		bucket, ok := e.inverted[tok]
		if !ok {
			continue
		}
		delete(bucket, key)
		if len(bucket) == 0 {
			delete(e.inverted, tok)
		}
	}
}

// Set durably writes key=value, then applies it in memory. See
// SetOpts for the unreliable-fsync and version knobs.
func (e *Engine) Set(key, value string, opts SetOpts) error {
	rec := wal.Record{Op: wal.OpSet, Key: key, Value: value, Version: opts.Version}

	sync := true
	if opts.Unreliable && rand.Float64() < 0.01 {
		sync = false
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.wal.Append(rec, sync); err != nil {
		return fmt.Errorf("engine: set %q: %w", key, err)
	}
	e.applySetLocked(key, value, opts.Version)
	return nil
}

// Delete durably removes key, reporting whether it existed
// beforehand. Always fsyncs; unreliable mode does not apply.
func (e *Engine) Delete(key string, opts MutateOpts) (bool, error) {
	rec := wal.Record{Op: wal.OpDelete, Key: key, Version: opts.Version}

	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.wal.Append(rec, true); err != nil {
		return false, fmt.Errorf("engine: delete %q: %w", key, err)
	}
	_, existed := e.applyDeleteLocked(key, opts.Version)
	return existed, nil
}

// BulkSet applies items in order under a single WAL record and a
// single lock span, so concurrent observers see either every item or
// none of them (invariant I3). Later items for the same key override
// earlier ones. Always fsyncs; unreliable mode does not apply.
func (e *Engine) BulkSet(items []wal.Pair, opts MutateOpts) error {
	rec := wal.Record{Op: wal.OpBulkSet, Items: items, Version: opts.Version}

	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.wal.Append(rec, true); err != nil {
		return fmt.Errorf("engine: bulk_set: %w", err)
	}
	e.applyBulkSetLocked(items, opts.Version)
	return nil
}

// Get returns the current value for key and whether it is present.
func (e *Engine) Get(key string) (string, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	v, ok := e.kv[key]
	return v, ok
}

// Version returns the last applied write version for key, if any.
// Used by the quorum cluster's read path to pick the freshest replica.
func (e *Engine) Version(key string) int64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.version[key]
}

// SearchFullText returns the set of keys whose value's token set is a
// superset of query's token set (AND semantics). An empty query
// returns an empty set.
func (e *Engine) SearchFullText(query string) map[string]struct{} {
	qtokens := tokenSet(query)
	result := make(map[string]struct{})
	if len(qtokens) == 0 {
		return result
	}

	e.mu.RLock()
	defer e.mu.RUnlock()

	first := true
	for tok := range qtokens {
		bucket, ok := e.inverted[tok]
		if !ok {
			return make(map[string]struct{})
		}
		if first {
			for k := range bucket {
				result[k] = struct{}{}
			}
			first = false
			continue
		}
		for k := range result {
			if _, ok := bucket[k]; !ok {
				delete(result, k)
			}
		}
	}
	return result
}

// SearchEmbedding returns up to topK keys ordered by descending cosine
// similarity to query's embedding, ties broken by key ascending.
// topK <= 0 returns nil.
func (e *Engine) SearchEmbedding(query string, topKN int) []ScoredKey {
	if topKN <= 0 {
		return nil
	}
	qvec := embed(query)

	e.mu.RLock()
	candidates := make([]ScoredKey, 0, len(e.embeddings))
	for key, vec := range e.embeddings {
		candidates = append(candidates, ScoredKey{Key: key, Score: cosineSimilarity(qvec, vec)})
	}
	e.mu.RUnlock()

	return TopK(candidates, topKN)
}

// Compact rewrites the WAL to hold one set record per live key,
// discarding history for deleted and superseded keys. Replay of the
// compacted log reproduces the same keys, values and indexes, and the
// versions of live keys; the versions recorded for deleted keys are
// not kept.
func (e *Engine) Compact() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	records := make([]wal.Record, 0, len(e.kv))
	for key, value := range e.kv {
		var verPtr *int64
		if v, ok := e.version[key]; ok {
			vv := v
			verPtr = &vv
		}
		records = append(records, wal.Record{Op: wal.OpSet, Key: key, Value: value, Version: verPtr})
	}
	if err := e.wal.Compact(records); err != nil {
		return fmt.Errorf("engine: compact: %w", err)
	}
	e.log.Info().Int("keys", len(records)).Msg("compacted WAL")
	return nil
}

// Close releases the WAL file. The engine must not be used afterward.
func (e *Engine) Close() error {
	if err := e.wal.Close(); err != nil {
		return fmt.Errorf("engine: close: %w: %v", errs.ErrIO, err)
	}
	return nil
}
