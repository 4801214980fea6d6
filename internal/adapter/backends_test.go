package adapter

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/finch-kv/durakv/internal/cluster"
	"github.com/finch-kv/durakv/internal/wal"
)

func TestPrimaryBackendImplementsExistedReporter(t *testing.T) {
	c, err := cluster.NewPrimary([]string{"n1", "n2"}, t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })

	b := PrimaryBackend{Cluster: c}
	var _ Backend = b
	var _ ExistedReporter = b

	require.NoError(t, b.Set("k", "v"))
	existed, err := b.DeleteReportingExisted("k")
	require.NoError(t, err)
	require.True(t, existed)
}

func TestQuorumBackendDoesNotImplementExistedReporter(t *testing.T) {
	c, err := cluster.NewQuorum([]string{"n1", "n2", "n3"}, t.TempDir(), 0)
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })

	b := QuorumBackend{Cluster: c}
	var _ Backend = b
	if _, ok := any(b).(ExistedReporter); ok {
		t.Fatal("QuorumBackend must not implement ExistedReporter")
	}
}

func TestQuorumBackendGetTranslatesNotFound(t *testing.T) {
	c, err := cluster.NewQuorum([]string{"n1", "n2", "n3"}, t.TempDir(), 0)
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })

	b := QuorumBackend{Cluster: c}
	v, ok, err := b.Get("missing")
	require.NoError(t, err)
	require.False(t, ok)
	require.Empty(t, v)
}

func TestEngineBackendBulkSet(t *testing.T) {
	b := newTestEngineBackend(t)

	require.NoError(t, b.BulkSet([]wal.Pair{{"a", "1"}, {"b", "2"}}))
	v, ok, err := b.Get("a")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "1", v)
}
