// Package kvserver wires the store, membership table, and replicator
// together into the per-connection request/response cycle described by the
// wire protocol: read one frame, dispatch on its tag, write one response
// frame, close the connection.
package kvserver

import (
	"bytes"
	"strconv"

	"github.com/rs/zerolog"

	"github.com/kvmesh/kvmesh/internal/cluster"
	"github.com/kvmesh/kvmesh/internal/frame"
	"github.com/kvmesh/kvmesh/internal/metrics"
	"github.com/kvmesh/kvmesh/internal/store"
)

// Dispatcher handles exactly one frame at a time and produces the response
// frame for it. It holds no per-connection state; a single Dispatcher is
// shared across every connection the listener accepts.
type Dispatcher struct {
	Store      *store.Store
	Membership *cluster.Membership
	Replicator *cluster.Replicator
	Metrics    *metrics.Metrics // nil disables metrics recording
	Log        zerolog.Logger
}

// Handle dispatches one request frame and returns the response. The
// response reuses the request's buffers: any field the handler doesn't
// touch retains the caller-supplied bytes (spec §4.6).
func (d *Dispatcher) Handle(req frame.Frame) frame.Frame {
	resp := d.dispatch(req)
	if d.Metrics != nil {
		d.Metrics.RequestsTotal.WithLabelValues(req.Tag.String(), resp.Status.String()).Inc()
		d.Metrics.StoreSize.Set(float64(d.Store.Len()))
	}
	return resp
}

func (d *Dispatcher) dispatch(req frame.Frame) frame.Frame {
	resp := req

	switch req.Tag {
	case frame.OpGet:
		if redirect, ok := d.checkOwnership(req.Key, &resp); !ok {
			return redirect
		}
		val, err := d.Store.Get(req.Key)
		if err != nil {
			resp.Status = frame.StatusFail
			return resp
		}
		resp.Value = val
		resp.Status = frame.StatusOK

	case frame.OpPut:
		if redirect, ok := d.checkOwnership(req.Key, &resp); !ok {
			return redirect
		}
		if err := d.Store.Put(req.Key, req.Value); err != nil {
			resp.Status = frame.StatusFail
			return resp
		}
		resp.Status = frame.StatusOK
		d.Replicator.ReplicatePut(req.Key, req.Value)

	case frame.OpDelete:
		if redirect, ok := d.checkOwnership(req.Key, &resp); !ok {
			return redirect
		}
		if err := d.Store.Delete(req.Key); err != nil {
			resp.Status = frame.StatusFail
			return resp
		}
		resp.Status = frame.StatusOK
		d.Replicator.ReplicateDelete(req.Key)

	case frame.OpReplicatePut:
		if err := d.Store.ApplyReplicatedPut(req.Key, req.Value); err != nil {
			d.Log.Warn().Err(err).Msg("applying replicated put")
		}
		resp.Status = frame.StatusOK

	case frame.OpReplicateDel:
		if err := d.Store.ApplyReplicatedDelete(req.Key); err != nil {
			d.Log.Warn().Err(err).Msg("applying replicated delete")
		}
		resp.Status = frame.StatusOK

	case frame.OpNodeJoin:
		port, err := strconv.Atoi(string(req.Value))
		if err != nil {
			resp.Status = frame.StatusFail
			return resp
		}
		if _, err := d.Membership.Add(string(req.Key), port); err != nil {
			d.Log.Warn().Err(err).Str("ip", string(req.Key)).Int("port", port).Msg("node join rejected")
		}
		resp.Status = frame.StatusOK
		// Redistribution placeholder: a production version would iterate
		// owned keys, recompute ownership under the new membership, and
		// hand off any key that now routes elsewhere (spec §9).

	case frame.OpNodeLeave:
		port, err := strconv.Atoi(string(req.Value))
		if err != nil {
			resp.Status = frame.StatusFail
			return resp
		}
		if err := d.Membership.Remove(string(req.Key), port); err != nil {
			d.Log.Warn().Err(err).Str("ip", string(req.Key)).Int("port", port).Msg("node leave rejected")
		}
		resp.Status = frame.StatusOK

	case frame.OpListKeys:
		resp.Value = formatKeyList(d.Store.ListKeys())
		resp.Status = frame.StatusOK

	default:
		resp.Status = frame.StatusUnknown
	}

	return resp
}

// checkOwnership returns (zero Frame, true) when the local node owns key (or
// no peer is active) and the caller should continue, or (redirectFrame,
// false) with resp.Status already set to REDIRECT when it doesn't.
func (d *Dispatcher) checkOwnership(key []byte, resp *frame.Frame) (frame.Frame, bool) {
	owner := d.Membership.NodeForKey(key)
	self := d.Membership.SelfIndex()
	if owner != self && owner != -1 {
		resp.Status = frame.StatusRedirect
		return *resp, false
	}
	return frame.Frame{}, true
}

// formatKeyList concatenates keys with a trailing newline each, stopping
// before any key that would overflow the value field (spec §4.2
// list_keys()).
func formatKeyList(keys [][]byte) []byte {
	var buf bytes.Buffer
	limit := frame.ValueSize - 1 // leave room for the NUL terminator
	for _, k := range keys {
		needed := len(k) + 1 // key plus newline
		if buf.Len()+needed > limit {
			break
		}
		buf.Write(k)
		buf.WriteByte('\n')
	}
	return buf.Bytes()
}
