package cluster

import (
	"fmt"
	"net"
	"time"

	"github.com/rs/zerolog"

	"github.com/kvmesh/kvmesh/internal/frame"
	"github.com/kvmesh/kvmesh/internal/metrics"
)

// Replicator fans a locally-applied PUT or DELETE out to every other active
// peer, fire-per-peer and sequentially, under the Membership lock (spec
// §4.5). It does not wait for quorum and does not reconcile versions —
// replication here is eager and best-effort, not a consensus protocol.
type Replicator struct {
	membership *Membership
	dialer     net.Dialer
	metrics    *metrics.Metrics // nil disables metrics recording
	log        zerolog.Logger
}

// NewReplicator creates a Replicator bound to the given membership table.
func NewReplicator(m *Membership, mx *metrics.Metrics, log zerolog.Logger) *Replicator {
	return &Replicator{
		membership: m,
		dialer:     net.Dialer{Timeout: 3 * time.Second},
		metrics:    mx,
		log:        log,
	}
}

// ReplicatePut fans a PUT out to every other active peer.
func (r *Replicator) ReplicatePut(key, value []byte) {
	r.fanout(frame.OpReplicatePut, key, value)
}

// ReplicateDelete fans a DELETE out to every other active peer.
func (r *Replicator) ReplicateDelete(key []byte) {
	r.fanout(frame.OpReplicateDel, key, nil)
}

// fanout performs the send-one-frame-read-one-ack exchange against each
// active peer except self, under the Membership lock. Any failure — dial,
// write, or read — marks that peer inactive and replication moves on to the
// next peer; it never retries or blocks waiting for acknowledgement beyond
// the dial/IO deadline (spec §4.5 steps 1-5).
func (r *Replicator) fanout(tag frame.Tag, key, value []byte) {
	r.membership.ReplicateFanout(func(peer PeerEntry) error {
		err := r.sendOne(peer, tag, key, value)
		outcome := "ok"
		if err != nil {
			outcome = "failed"
			r.log.Warn().Err(err).Str("peer", peer.String()).Str("tag", tag.String()).
				Msg("replication to peer failed, marking inactive")
		}
		if r.metrics != nil {
			r.metrics.ReplicationTotal.WithLabelValues(outcome).Inc()
		}
		return err
	})

	if r.metrics != nil {
		r.metrics.ActivePeers.Set(float64(len(r.membership.ActivePeersExcept(r.membership.SelfIndex()))))
	}
}

func (r *Replicator) sendOne(peer PeerEntry, tag frame.Tag, key, value []byte) error {
	addr := fmt.Sprintf("%s:%d", peer.IP, peer.Port)
	conn, err := r.dialer.Dial("tcp", addr)
	if err != nil {
		return fmt.Errorf("dial %s: %w", addr, err)
	}
	defer conn.Close()

	deadline := time.Now().Add(3 * time.Second)
	if err := conn.SetDeadline(deadline); err != nil {
		return fmt.Errorf("set deadline: %w", err)
	}

	req := frame.Frame{Tag: tag, Key: key, Value: value}
	if err := frame.Write(conn, req); err != nil {
		return fmt.Errorf("send replication frame: %w", err)
	}

	if _, err := frame.Read(conn); err != nil {
		return fmt.Errorf("read replication ack: %w", err)
	}
	return nil
}
