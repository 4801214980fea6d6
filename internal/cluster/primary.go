package cluster

import (
	"fmt"
	"sync"

	"github.com/finch-kv/durakv/internal/engine"
	"github.com/finch-kv/durakv/internal/errs"
	"github.com/finch-kv/durakv/internal/wal"
)

// Primary is a primary-secondary cluster (spec component D): writes
// go to the first alive node synchronously, then fan out best-effort
// to the rest; reads always come from the current primary. There is
// no election protocol — the primary is recomputed at the start of
// every operation.
type Primary struct {
	topo *topology
}

// NewPrimary opens one engine per id under dir (named "<id>.wal") and
// marks every node alive, with ids[0] the initial primary.
func NewPrimary(ids []string, dir string) (*Primary, error) {
	topo, err := openTopology(ids, dir, "cluster.primary")
	if err != nil {
		return nil, err
	}
	return &Primary{topo: topo}, nil
}

// MarkDown takes a node out of routing consideration.
func (c *Primary) MarkDown(id string) { c.topo.MarkDown(id) }

// MarkUp returns a node to routing consideration.
func (c *Primary) MarkUp(id string) { c.topo.MarkUp(id) }

// replicate applies fn on the primary synchronously, then fans it out
// to every other alive node via fanOutSecondaries. Returns the
// primary's own error, if any.
func (c *Primary) replicate(fn func(Peer) error) error {
	primaryNode, ok := c.topo.FirstAlive()
	if !ok {
		return fmt.Errorf("cluster: no alive primary: %w", errs.ErrNoQuorum)
	}

	if err := fn(primaryNode.peer); err != nil {
		return fmt.Errorf("cluster: primary %q: %w", primaryNode.id, err)
	}

	c.fanOutSecondaries(primaryNode.id, fn)
	return nil
}

// fanOutSecondaries applies fn on every alive node other than
// excludeID concurrently, logging (but not failing on) errors. It
// does not wait for the primary's own call, nor report anything back
// to the caller — fn must not write to caller state from here, since
// these goroutines run concurrently with each other.
func (c *Primary) fanOutSecondaries(excludeID string, fn func(Peer) error) {
	var wg sync.WaitGroup
	for _, n := range c.topo.AliveNodes() {
		if n.id == excludeID {
			continue
		}
		wg.Add(1)
		go func(n nodeEntry) {
			defer wg.Done()
			if err := fn(n.peer); err != nil {
				n.log.Warn().Err(err).Msg("secondary replication failed")
			}
		}(n)
	}
	wg.Wait()
}

// Set writes key=value to the primary, then best-effort to followers.
func (c *Primary) Set(key, value string) error {
	return c.replicate(func(p Peer) error {
		return p.ApplySet(key, value, nil)
	})
}

// Delete removes key from the primary, then best-effort from
// followers, reporting whether it existed on the primary. existed is
// read solely from the synchronous primary call; the secondary
// fan-out never touches it, since those calls run concurrently with
// each other.
func (c *Primary) Delete(key string) (bool, error) {
	primaryNode, ok := c.topo.FirstAlive()
	if !ok {
		return false, fmt.Errorf("cluster: no alive primary: %w", errs.ErrNoQuorum)
	}

	existed, err := primaryNode.peer.ApplyDelete(key, nil)
	if err != nil {
		return false, fmt.Errorf("cluster: primary %q: %w", primaryNode.id, err)
	}

	c.fanOutSecondaries(primaryNode.id, func(p Peer) error {
		_, err := p.ApplyDelete(key, nil)
		return err
	})
	return existed, nil
}

// BulkSet atomically applies items on the primary, then best-effort on
// followers.
func (c *Primary) BulkSet(items []wal.Pair) error {
	return c.replicate(func(p Peer) error {
		return p.ApplyBulkSet(items, nil)
	})
}

// Get reads key from the current primary only.
func (c *Primary) Get(key string) (string, bool, error) {
	primaryNode, ok := c.topo.FirstAlive()
	if !ok {
		return "", false, fmt.Errorf("cluster: no alive primary: %w", errs.ErrNoQuorum)
	}
	value, _, found := primaryNode.peer.Fetch(key)
	return value, found, nil
}

// SearchFullText queries the current primary only, matching Get's
// read-from-primary rule.
func (c *Primary) SearchFullText(query string) (map[string]struct{}, error) {
	primaryNode, ok := c.topo.FirstAlive()
	if !ok {
		return nil, fmt.Errorf("cluster: no alive primary: %w", errs.ErrNoQuorum)
	}
	return primaryNode.peer.SearchFullText(query), nil
}

// SearchEmbedding queries the current primary only.
func (c *Primary) SearchEmbedding(query string, topK int) ([]engine.ScoredKey, error) {
	primaryNode, ok := c.topo.FirstAlive()
	if !ok {
		return nil, fmt.Errorf("cluster: no alive primary: %w", errs.ErrNoQuorum)
	}
	return primaryNode.peer.SearchEmbedding(query, topK), nil
}

// Close shuts down every node's engine.
func (c *Primary) Close() error {
	return c.topo.Close()
}
