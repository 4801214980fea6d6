package cluster

import (
	"fmt"
	"sync"

	"github.com/finch-kv/durakv/internal/engine"
	"github.com/finch-kv/durakv/internal/errs"
	"github.com/finch-kv/durakv/internal/wal"
)

// Quorum is a masterless quorum cluster (spec component E): every
// write is versioned by a monotonic coordinator clock and dispatched
// to all alive nodes concurrently; success requires acks from at
// least Q of them. Reads poll the first Q responses and return the
// value at the highest version seen. Conflict resolution is
// last-writer-wins, applied independently by each node (see
// engine.applySetLocked / applyDeleteLocked).
type Quorum struct {
	topo *topology

	clockMu sync.Mutex
	clock   int64

	quorumSize int
}

// NewQuorum opens one engine per id under dir. quorumSize <= 0 means
// the default floor(N/2)+1.
func NewQuorum(ids []string, dir string, quorumSize int) (*Quorum, error) {
	topo, err := openTopology(ids, dir, "cluster.quorum")
	if err != nil {
		return nil, err
	}
	if quorumSize <= 0 {
		quorumSize = len(ids)/2 + 1
	}
	return &Quorum{topo: topo, quorumSize: quorumSize}, nil
}

// MarkDown takes a node out of quorum consideration.
func (c *Quorum) MarkDown(id string) { c.topo.MarkDown(id) }

// MarkUp returns a node to quorum consideration.
func (c *Quorum) MarkUp(id string) { c.topo.MarkUp(id) }

// nextVersion assigns the next value of the cluster's monotonic
// clock; strictly increasing per process, no cross-node coordination.
func (c *Quorum) nextVersion() int64 {
	c.clockMu.Lock()
	defer c.clockMu.Unlock()
	c.clock++
	return c.clock
}

// dispatch fans fn out to every alive node concurrently with the same
// freshly-assigned version, and succeeds once at least quorumSize
// acks are collected. Individual peer errors are logged, not
// returned, per spec.md §7.
func (c *Quorum) dispatch(fn func(p Peer, version int64) error) (int64, error) {
	alive := c.topo.AliveNodes()
	if len(alive) < c.quorumSize {
		return 0, fmt.Errorf("cluster: %d/%d alive nodes: %w", len(alive), c.quorumSize, errs.ErrNoQuorum)
	}

	version := c.nextVersion()

	type result struct {
		node nodeEntry
		err  error
	}
	results := make(chan result, len(alive))
	for _, n := range alive {
		go func(n nodeEntry) {
			results <- result{node: n, err: fn(n.peer, version)}
		}(n)
	}

	acked := 0
	for i := 0; i < len(alive); i++ {
		r := <-results
		if r.err != nil {
			r.node.log.Warn().Err(r.err).Msg("quorum peer write failed")
			continue
		}
		acked++
	}

	if acked >= c.quorumSize {
		return version, nil
	}
	return version, fmt.Errorf("cluster: only %d/%d acks: %w", acked, c.quorumSize, errs.ErrNoQuorum)
}

// Set assigns a new version and writes key=value to every alive node,
// succeeding once a quorum acknowledges.
func (c *Quorum) Set(key, value string) error {
	_, err := c.dispatch(func(p Peer, version int64) error {
		v := version
		return p.ApplySet(key, value, &v)
	})
	return err
}

// Delete assigns a new version and removes key from every alive node,
// succeeding once a quorum acknowledges.
func (c *Quorum) Delete(key string) error {
	_, err := c.dispatch(func(p Peer, version int64) error {
		v := version
		_, err := p.ApplyDelete(key, &v)
		return err
	})
	return err
}

// BulkSet assigns a single shared version to the whole batch and
// applies it atomically on every alive node; within a node, items
// with a stale version relative to that node's local state are
// skipped, but the batch as a whole still counts as acked.
func (c *Quorum) BulkSet(items []wal.Pair) error {
	_, err := c.dispatch(func(p Peer, version int64) error {
		v := version
		return p.ApplyBulkSet(items, &v)
	})
	return err
}

// Get requires a quorum of alive nodes, queries all of them
// concurrently, and returns the value reported at the highest
// version among the first quorumSize responses collected. An absent
// entry counts as value ⊥ at version 0.
func (c *Quorum) Get(key string) (string, error) {
	alive := c.topo.AliveNodes()
	if len(alive) < c.quorumSize {
		return "", fmt.Errorf("cluster: %d/%d alive nodes: %w", len(alive), c.quorumSize, errs.ErrNoQuorum)
	}

	type resp struct {
		value   string
		version int64
		ok      bool
	}
	results := make(chan resp, len(alive))
	for _, n := range alive {
		go func(n nodeEntry) {
			v, ver, ok := n.peer.Fetch(key)
			results <- resp{value: v, version: ver, ok: ok}
		}(n)
	}

	var (
		bestVersion int64 = -1
		bestValue   string
		bestOK      bool
	)
	for i := 0; i < c.quorumSize; i++ {
		r := <-results
		version := int64(0)
		if r.ok {
			version = r.version
		}
		if version > bestVersion {
			bestVersion = version
			bestValue = r.value
			bestOK = r.ok
		}
	}

	if !bestOK {
		return "", errs.ErrNotFound
	}
	return bestValue, nil
}

// SearchFullText requires a quorum of alive nodes and returns the
// union of each queried node's full-text match set. Not specified by
// the original per-key quorum read contract; see DESIGN.md.
func (c *Quorum) SearchFullText(query string) (map[string]struct{}, error) {
	alive := c.topo.AliveNodes()
	if len(alive) < c.quorumSize {
		return nil, fmt.Errorf("cluster: %d/%d alive nodes: %w", len(alive), c.quorumSize, errs.ErrNoQuorum)
	}

	type resp struct{ keys map[string]struct{} }
	results := make(chan resp, len(alive))
	for _, n := range alive {
		go func(n nodeEntry) {
			results <- resp{keys: n.peer.SearchFullText(query)}
		}(n)
	}

	union := make(map[string]struct{})
	for i := 0; i < len(alive); i++ {
		r := <-results
		for k := range r.keys {
			union[k] = struct{}{}
		}
	}
	return union, nil
}

// SearchEmbedding requires a quorum of alive nodes, merges each
// queried node's top-K candidates by taking the max score per key,
// and re-ranks the merged set.
func (c *Quorum) SearchEmbedding(query string, topK int) ([]engine.ScoredKey, error) {
	alive := c.topo.AliveNodes()
	if len(alive) < c.quorumSize {
		return nil, fmt.Errorf("cluster: %d/%d alive nodes: %w", len(alive), c.quorumSize, errs.ErrNoQuorum)
	}

	type resp struct{ results []engine.ScoredKey }
	results := make(chan resp, len(alive))
	for _, n := range alive {
		go func(n nodeEntry) {
			results <- resp{results: n.peer.SearchEmbedding(query, topK)}
		}(n)
	}

	best := make(map[string]float64)
	for i := 0; i < len(alive); i++ {
		r := <-results
		for _, sk := range r.results {
			if cur, ok := best[sk.Key]; !ok || sk.Score > cur {
				best[sk.Key] = sk.Score
			}
		}
	}

	merged := make([]engine.ScoredKey, 0, len(best))
	for k, score := range best {
		merged = append(merged, engine.ScoredKey{Key: k, Score: score})
	}
	return engine.TopK(merged, topK), nil
}

// Close shuts down every node's engine.
func (c *Quorum) Close() error {
	return c.topo.Close()
}
