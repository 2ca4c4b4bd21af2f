package cluster_test

import (
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kvmesh/kvmesh/internal/cluster"
	"github.com/kvmesh/kvmesh/internal/frame"
)

// echoPeer starts a listener that accepts exactly one connection, reads one
// frame, records it, and replies OK. It returns the bound address and a
// channel that receives the frames it observed.
func echoPeer(t *testing.T) (addr string, received chan frame.Frame) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = ln.Close() })

	received = make(chan frame.Frame, 8)
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func(c net.Conn) {
				defer c.Close()
				req, err := frame.Read(c)
				if err != nil {
					return
				}
				received <- req
				_ = frame.Write(c, frame.Frame{Tag: req.Tag, Status: frame.StatusOK})
			}(conn)
		}
	}()
	return ln.Addr().String(), received
}

func splitHostPort(t *testing.T, addr string) (string, int) {
	t.Helper()
	host, portStr, err := net.SplitHostPort(addr)
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)
	return host, port
}

func TestReplicatePutReachesActivePeer(t *testing.T) {
	m := cluster.NewMembership(cluster.MaxPeers)
	_, err := m.Add("127.0.0.1", 9999) // self
	require.NoError(t, err)

	addr, received := echoPeer(t)
	host, port := splitHostPort(t, addr)
	_, err = m.Add(host, port)
	require.NoError(t, err)

	r := cluster.NewReplicator(m, nil, zerolog.Nop())
	r.ReplicatePut([]byte("k"), []byte("v"))

	select {
	case got := <-received:
		assert.Equal(t, frame.OpReplicatePut, got.Tag)
		assert.Equal(t, []byte("k"), got.Key)
		assert.Equal(t, []byte("v"), got.Value)
	case <-time.After(2 * time.Second):
		t.Fatal("peer never received the replicated frame")
	}

	peers := m.ActivePeersExcept(m.SelfIndex())
	require.Len(t, peers, 1)
	assert.True(t, peers[0].Active)
}

func TestReplicateDeleteMarksUnreachablePeerInactive(t *testing.T) {
	m := cluster.NewMembership(cluster.MaxPeers)
	_, err := m.Add("127.0.0.1", 9999) // self

	require.NoError(t, err)

	// A closed listener: nothing is bound here, so dialing it fails fast.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	host, port := splitHostPort(t, addr)
	_, err = m.Add(host, port)
	require.NoError(t, err)

	r := cluster.NewReplicator(m, nil, zerolog.Nop())
	r.ReplicateDelete([]byte("k"))

	peers := m.Peers()
	require.Len(t, peers, 2)
	assert.False(t, peers[1].Active, "peer should be marked inactive after a failed send")
}

func TestReplicateFanoutSkipsSelf(t *testing.T) {
	m := cluster.NewMembership(cluster.MaxPeers)
	_, err := m.Add("127.0.0.1", 9999) // self, only entry
	require.NoError(t, err)

	r := cluster.NewReplicator(m, nil, zerolog.Nop())
	// No peers besides self: this must be a no-op, not a dial attempt
	// against self.
	r.ReplicatePut([]byte("k"), []byte("v"))

	peers := m.Peers()
	require.Len(t, peers, 1)
	assert.True(t, peers[0].Active)
}
