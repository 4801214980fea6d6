// Package durakv is the public facade over the storage engine,
// primary-secondary cluster, and masterless quorum cluster that make
// up the durable, cluster-aware key-value store. The implementation
// lives under internal/; this package just re-exports the pieces a
// caller (an adapter translating a wire protocol, or a test) needs.
package durakv

import (
	"github.com/finch-kv/durakv/internal/adapter"
	"github.com/finch-kv/durakv/internal/cluster"
	"github.com/finch-kv/durakv/internal/engine"
	"github.com/finch-kv/durakv/internal/errs"
	"github.com/finch-kv/durakv/internal/wal"
)

// Sentinel errors, matching spec.md §7's abstract error kinds.
// Callers should compare with errors.Is.
var (
	ErrIO         = errs.ErrIO
	ErrCorruptLog = errs.ErrCorruptLog
	ErrNoQuorum   = errs.ErrNoQuorum
	ErrNotFound   = errs.ErrNotFound
	ErrProtocol   = errs.ErrProtocol
)

// Pair is a (key, value) item in a bulk_set batch.
type Pair = wal.Pair

// ScoredKey is one ranked result of a search_embedding query.
type ScoredKey = engine.ScoredKey

// Engine is the single-node storage engine (spec component B).
type Engine = engine.Engine

// EngineOptions configures OpenEngine.
type EngineOptions = engine.Options

// SetOpts configures a single Set call (unreliable-fsync, version).
type SetOpts = engine.SetOpts

// MutateOpts configures a single Delete or BulkSet call (version).
type MutateOpts = engine.MutateOpts

// OpenEngine opens or creates a single-node storage engine backed by
// the WAL at opts.Path, replaying it into memory.
func OpenEngine(opts EngineOptions) (*Engine, error) {
	return engine.Open(opts)
}

// PrimaryCluster is the primary-secondary cluster (spec component D).
type PrimaryCluster = cluster.Primary

// NewPrimaryCluster opens a primary-secondary cluster over the given
// ordered node ids, one WAL per node under dir.
func NewPrimaryCluster(ids []string, dir string) (*PrimaryCluster, error) {
	return cluster.NewPrimary(ids, dir)
}

// QuorumCluster is the masterless quorum cluster (spec component E).
type QuorumCluster = cluster.Quorum

// NewQuorumCluster opens a quorum cluster over the given node ids, one
// WAL per node under dir. quorumSize <= 0 means the default
// floor(N/2)+1.
func NewQuorumCluster(ids []string, dir string, quorumSize int) (*QuorumCluster, error) {
	return cluster.NewQuorum(ids, dir, quorumSize)
}

// Backend is the operation set the adapter surface (spec component F)
// dispatches against.
type Backend = adapter.Backend

// Request and Response are the adapter's frame shapes.
type Request = adapter.Request
type Response = adapter.Response

// Dispatch translates a Request into a call against b.
func Dispatch(b Backend, req Request) Response {
	return adapter.Dispatch(b, req)
}

// EngineBackend, PrimaryBackend, and QuorumBackend adapt the three
// concrete stores to Backend.
type EngineBackend = adapter.EngineBackend
type PrimaryBackend = adapter.PrimaryBackend
type QuorumBackend = adapter.QuorumBackend
