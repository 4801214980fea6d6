package adapter

import (
	"errors"

	"github.com/finch-kv/durakv/internal/cluster"
	"github.com/finch-kv/durakv/internal/engine"
	"github.com/finch-kv/durakv/internal/errs"
	"github.com/finch-kv/durakv/internal/wal"
)

// EngineBackend adapts a bare *engine.Engine to Backend, for
// single-node deployments with no cluster layer above them.
type EngineBackend struct {
	Engine *engine.Engine
}

func (b EngineBackend) Set(key, value string) error {
	return b.Engine.Set(key, value, engine.SetOpts{})
}

func (b EngineBackend) Get(key string) (string, bool, error) {
	v, ok := b.Engine.Get(key)
	return v, ok, nil
}

func (b EngineBackend) Delete(key string) error {
	_, err := b.Engine.Delete(key, engine.MutateOpts{})
	return err
}

func (b EngineBackend) DeleteReportingExisted(key string) (bool, error) {
	return b.Engine.Delete(key, engine.MutateOpts{})
}

func (b EngineBackend) BulkSet(items []wal.Pair) error {
	return b.Engine.BulkSet(items, engine.MutateOpts{})
}

func (b EngineBackend) SearchFullText(query string) (map[string]struct{}, error) {
	return b.Engine.SearchFullText(query), nil
}

func (b EngineBackend) SearchEmbedding(query string, topK int) ([]engine.ScoredKey, error) {
	return b.Engine.SearchEmbedding(query, topK), nil
}

// PrimaryBackend adapts a *cluster.Primary to Backend.
type PrimaryBackend struct {
	Cluster *cluster.Primary
}

func (b PrimaryBackend) Set(key, value string) error { return b.Cluster.Set(key, value) }

func (b PrimaryBackend) Get(key string) (string, bool, error) { return b.Cluster.Get(key) }

func (b PrimaryBackend) Delete(key string) error {
	_, err := b.Cluster.Delete(key)
	return err
}

func (b PrimaryBackend) DeleteReportingExisted(key string) (bool, error) {
	return b.Cluster.Delete(key)
}

func (b PrimaryBackend) BulkSet(items []wal.Pair) error { return b.Cluster.BulkSet(items) }

func (b PrimaryBackend) SearchFullText(query string) (map[string]struct{}, error) {
	return b.Cluster.SearchFullText(query)
}

func (b PrimaryBackend) SearchEmbedding(query string, topK int) ([]engine.ScoredKey, error) {
	return b.Cluster.SearchEmbedding(query, topK)
}

// QuorumBackend adapts a *cluster.Quorum to Backend. It does not
// implement ExistedReporter: no single node in a quorum cluster can
// speak for whether a key existed cluster-wide before a delete.
type QuorumBackend struct {
	Cluster *cluster.Quorum
}

func (b QuorumBackend) Set(key, value string) error { return b.Cluster.Set(key, value) }

func (b QuorumBackend) Get(key string) (string, bool, error) {
	v, err := b.Cluster.Get(key)
	if errors.Is(err, errs.ErrNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return v, true, nil
}

func (b QuorumBackend) Delete(key string) error { return b.Cluster.Delete(key) }

func (b QuorumBackend) BulkSet(items []wal.Pair) error { return b.Cluster.BulkSet(items) }

func (b QuorumBackend) SearchFullText(query string) (map[string]struct{}, error) {
	return b.Cluster.SearchFullText(query)
}

func (b QuorumBackend) SearchEmbedding(query string, topK int) ([]engine.ScoredKey, error) {
	return b.Cluster.SearchEmbedding(query, topK)
}
