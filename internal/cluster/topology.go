package cluster

import (
	"errors"
	"fmt"
	"path/filepath"

	"github.com/puzpuzpuz/xsync/v3"
	"github.com/rs/zerolog"

	"github.com/finch-kv/durakv/internal/engine"
	"github.com/finch-kv/durakv/internal/logging"
)

// nodeEntry pairs a declared node id with its peer handle. The slice
// holding these is built once, in declaration order, and never
// reordered — primary selection depends on that order being stable.
type nodeEntry struct {
	id   string
	peer Peer
	log  zerolog.Logger
}

// topology is the shared bookkeeping both cluster flavors need: a
// fixed, ordered node list, and liveness tracked independently of
// whether the underlying engine is actually running. Liveness lives
// in a lock-free concurrent map (unlike the engine's own kv/inverted/
// embeddings state, see DESIGN.md) because many goroutines — failover
// checks, quorum dispatch — read it concurrently and a flip only ever
// touches one entry.
type topology struct {
	nodes []nodeEntry
	alive *xsync.MapOf[string, bool]
	log   zerolog.Logger
}

// openTopology opens one engine per node id, named "<id>.wal" under
// dir, and marks every node alive.
func openTopology(ids []string, dir, component string) (*topology, error) {
	if len(ids) == 0 {
		return nil, fmt.Errorf("cluster: node list must not be empty")
	}

	alive := xsync.NewMapOf[string, bool]()
	nodes := make([]nodeEntry, 0, len(ids))
	for _, id := range ids {
		eng, err := engine.Open(engine.Options{Path: filepath.Join(dir, id+".wal")})
		if err != nil {
			return nil, fmt.Errorf("cluster: open engine for node %q: %w", id, err)
		}
		nodes = append(nodes, nodeEntry{id: id, peer: newInProcessPeer(eng), log: logging.WithNode(component, id)})
		alive.Store(id, true)
	}

	return &topology{nodes: nodes, alive: alive, log: logging.WithComponent(component)}, nil
}

func (t *topology) MarkDown(id string) { t.alive.Store(id, false) }
func (t *topology) MarkUp(id string)   { t.alive.Store(id, true) }

func (t *topology) IsAlive(id string) bool {
	v, _ := t.alive.Load(id)
	return v
}

// AliveNodes returns the alive subset of nodes, preserving declaration
// order.
func (t *topology) AliveNodes() []nodeEntry {
	out := make([]nodeEntry, 0, len(t.nodes))
	for _, n := range t.nodes {
		if t.IsAlive(n.id) {
			out = append(out, n)
		}
	}
	return out
}

// FirstAlive returns the first alive node in declaration order — the
// deterministic primary-selection rule of the primary-secondary
// cluster. The quorum cluster does not use it.
func (t *topology) FirstAlive() (nodeEntry, bool) {
	for _, n := range t.nodes {
		if t.IsAlive(n.id) {
			return n, true
		}
	}
	return nodeEntry{}, false
}

// Close shuts down every node's engine, joining any errors.
func (t *topology) Close() error {
	var errs []error
	for _, n := range t.nodes {
		if err := n.peer.Close(); err != nil {
			errs = append(errs, fmt.Errorf("node %q: %w", n.id, err))
		}
	}
	return errors.Join(errs...)
}
