// Package cluster implements the primary-secondary cluster (spec
// component D) and the masterless quorum cluster (spec component E)
// on top of the storage engine. Both share the same node topology and
// the same in-process peer transport (component C); only the
// coordination logic differs.
package cluster

import (
	"github.com/finch-kv/durakv/internal/engine"
	"github.com/finch-kv/durakv/internal/wal"
)

// Peer is the capability interface the cluster layers program
// against. It is deliberately narrow — apply_set, apply_delete,
// apply_bulk_set, fetch, plus the two search operations — so that a
// network transport could satisfy it without the cluster caring
// whether a call crossed a socket or a function boundary.
type Peer interface {
	ApplySet(key, value string, version *int64) error
	ApplyDelete(key string, version *int64) (existed bool, err error)
	ApplyBulkSet(items []wal.Pair, version *int64) error
	Fetch(key string) (value string, version int64, ok bool)
	SearchFullText(query string) map[string]struct{}
	SearchEmbedding(query string, topK int) []engine.ScoredKey
	Close() error
}

// inProcessPeer is the only shipped Peer implementation: a direct,
// synchronous call into a local *engine.Engine. A network transport
// satisfying the same interface is a drop-in replacement per node.
type inProcessPeer struct {
	eng *engine.Engine
}

func newInProcessPeer(eng *engine.Engine) Peer {
	return &inProcessPeer{eng: eng}
}

func (p *inProcessPeer) ApplySet(key, value string, version *int64) error {
	return p.eng.Set(key, value, engine.SetOpts{Version: version})
}

func (p *inProcessPeer) ApplyDelete(key string, version *int64) (bool, error) {
	return p.eng.Delete(key, engine.MutateOpts{Version: version})
}

func (p *inProcessPeer) ApplyBulkSet(items []wal.Pair, version *int64) error {
	return p.eng.BulkSet(items, engine.MutateOpts{Version: version})
}

func (p *inProcessPeer) Fetch(key string) (string, int64, bool) {
	v, ok := p.eng.Get(key)
	if !ok {
		return "", 0, false
	}
	return v, p.eng.Version(key), true
}

func (p *inProcessPeer) SearchFullText(query string) map[string]struct{} {
	return p.eng.SearchFullText(query)
}

func (p *inProcessPeer) SearchEmbedding(query string, topK int) []engine.ScoredKey {
	return p.eng.SearchEmbedding(query, topK)
}

func (p *inProcessPeer) Close() error {
	return p.eng.Close()
}
