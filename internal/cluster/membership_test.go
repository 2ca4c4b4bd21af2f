package cluster_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kvmesh/kvmesh/internal/cluster"
)

func TestAddFirstEntryBecomesSelf(t *testing.T) {
	m := cluster.NewMembership(10)

	idx, err := m.Add("10.0.0.1", 8080)
	require.NoError(t, err)
	assert.Equal(t, 0, idx)
	assert.Equal(t, 0, m.SelfIndex())

	self, ok := m.Self()
	require.True(t, ok)
	assert.Equal(t, "10.0.0.1", self.IP)
	assert.Equal(t, 8080, self.Port)
}

func TestAddIsIdempotentByIPPort(t *testing.T) {
	m := cluster.NewMembership(10)
	_, err := m.Add("10.0.0.1", 8080)
	require.NoError(t, err)

	idx, err := m.Add("10.0.0.1", 8080)
	require.NoError(t, err)
	assert.Equal(t, 0, idx)
	assert.Len(t, m.Peers(), 1)
}

func TestRemoveReassignsSelfToNextActive(t *testing.T) {
	m := cluster.NewMembership(10)
	_, err := m.Add("10.0.0.1", 8080) // self, idx 0
	require.NoError(t, err)
	_, err = m.Add("10.0.0.2", 8081) // idx 1
	require.NoError(t, err)

	require.NoError(t, m.Remove("10.0.0.1", 8080))
	assert.Equal(t, 1, m.SelfIndex())
}

func TestRemoveLeavesSelfUnknownWhenNoPeersRemain(t *testing.T) {
	m := cluster.NewMembership(10)
	_, err := m.Add("10.0.0.1", 8080)
	require.NoError(t, err)

	require.NoError(t, m.Remove("10.0.0.1", 8080))
	assert.Equal(t, -1, m.SelfIndex())
}

func TestCapacityEnforced(t *testing.T) {
	m := cluster.NewMembership(1)
	_, err := m.Add("10.0.0.1", 8080)
	require.NoError(t, err)

	_, err = m.Add("10.0.0.2", 8081)
	assert.Error(t, err)
}

func TestNodeForKeyNoActivePeers(t *testing.T) {
	m := cluster.NewMembership(10)
	assert.Equal(t, -1, m.NodeForKey([]byte("anything")))
}

func TestNodeForKeySingleActiveNode(t *testing.T) {
	m := cluster.NewMembership(10)
	idx, err := m.Add("10.0.0.1", 8080)
	require.NoError(t, err)

	for _, k := range []string{"a", "bb", "ccc", "", "unicode-key-\xff"} {
		assert.Equal(t, idx, m.NodeForKey([]byte(k)))
	}
}

func TestNodeForKeyIsPure(t *testing.T) {
	m := cluster.NewMembership(10)
	_, err := m.Add("10.0.0.1", 8080)
	require.NoError(t, err)
	_, err = m.Add("10.0.0.2", 8081)
	require.NoError(t, err)

	key := []byte("stable-key")
	first := m.NodeForKey(key)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, m.NodeForKey(key))
	}
}

func TestHashKeyMatchesPJWFold(t *testing.T) {
	var want uint32
	key := []byte("hello")
	for _, b := range key {
		want = want*31 + uint32(b)
	}
	assert.Equal(t, want, cluster.HashKey(key))
}
