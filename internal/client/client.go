// Package client is a Go SDK over the raw fixed-frame wire protocol: one
// connection per call, one frame out, one frame back. It does not implement
// any cluster awareness — a redirect response is simply returned to the
// caller to act on, the same "client-side peer discovery is left
// unspecified" gap the wire protocol documents.
package client

import (
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/kvmesh/kvmesh/internal/frame"
)

// ErrNotFound is returned by Get/Delete when the server reports status FAIL/NOT_FOUND.
var ErrNotFound = errors.New("client: not found")

// ErrRedirect is returned when the contacted node does not own the key.
var ErrRedirect = errors.New("client: redirect, key owned by another node")

// ErrUnknownOp is returned when the server didn't recognize the request tag.
var ErrUnknownOp = errors.New("client: unknown operation")

// Client talks to exactly one kvmesh node over a plain TCP connection,
// opening and closing a fresh connection for every call — mirroring the
// wire protocol's "one frame per connection" contract.
type Client struct {
	addr    string
	timeout time.Duration
}

// New creates a Client targeting addr ("host:port"). A zero timeout
// defaults to 10 seconds.
func New(addr string, timeout time.Duration) *Client {
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	return &Client{addr: addr, timeout: timeout}
}

func (c *Client) roundTrip(req frame.Frame) (frame.Frame, error) {
	conn, err := net.DialTimeout("tcp", c.addr, c.timeout)
	if err != nil {
		return frame.Frame{}, fmt.Errorf("client: dial %s: %w", c.addr, err)
	}
	defer conn.Close()

	if err := conn.SetDeadline(time.Now().Add(c.timeout)); err != nil {
		return frame.Frame{}, fmt.Errorf("client: set deadline: %w", err)
	}

	if err := frame.Write(conn, req); err != nil {
		return frame.Frame{}, fmt.Errorf("client: send request: %w", err)
	}

	resp, err := frame.Read(conn)
	if err != nil {
		return frame.Frame{}, fmt.Errorf("client: read response: %w", err)
	}
	return resp, nil
}

// Put stores key=value.
func (c *Client) Put(key, value string) error {
	resp, err := c.roundTrip(frame.Frame{Tag: frame.OpPut, Key: []byte(key), Value: []byte(value)})
	if err != nil {
		return err
	}
	return statusToErr(resp.Status)
}

// Get retrieves the value stored under key.
func (c *Client) Get(key string) (string, error) {
	resp, err := c.roundTrip(frame.Frame{Tag: frame.OpGet, Key: []byte(key)})
	if err != nil {
		return "", err
	}
	if err := statusToErr(resp.Status); err != nil {
		return "", err
	}
	return string(resp.Value), nil
}

// Delete removes key.
func (c *Client) Delete(key string) error {
	resp, err := c.roundTrip(frame.Frame{Tag: frame.OpDelete, Key: []byte(key)})
	if err != nil {
		return err
	}
	return statusToErr(resp.Status)
}

// ListKeys returns the newline-delimited key listing the node reports for
// itself, split into a slice.
func (c *Client) ListKeys() ([]string, error) {
	resp, err := c.roundTrip(frame.Frame{Tag: frame.OpListKeys})
	if err != nil {
		return nil, err
	}
	if err := statusToErr(resp.Status); err != nil {
		return nil, err
	}
	return splitLines(resp.Value), nil
}

// Join tells the contacted node about a peer at ip:port.
func (c *Client) Join(ip string, port int) error {
	resp, err := c.roundTrip(frame.Frame{
		Tag:   frame.OpNodeJoin,
		Key:   []byte(ip),
		Value: []byte(fmt.Sprintf("%d", port)),
	})
	if err != nil {
		return err
	}
	return statusToErr(resp.Status)
}

// Leave tells the contacted node to mark ip:port inactive.
func (c *Client) Leave(ip string, port int) error {
	resp, err := c.roundTrip(frame.Frame{
		Tag:   frame.OpNodeLeave,
		Key:   []byte(ip),
		Value: []byte(fmt.Sprintf("%d", port)),
	})
	if err != nil {
		return err
	}
	return statusToErr(resp.Status)
}

func statusToErr(s frame.Status) error {
	switch s {
	case frame.StatusOK:
		return nil
	case frame.StatusFail:
		return ErrNotFound
	case frame.StatusRedirect:
		return ErrRedirect
	case frame.StatusUnknown:
		return ErrUnknownOp
	default:
		return fmt.Errorf("client: unexpected status %s", s)
	}
}

func splitLines(b []byte) []string {
	var out []string
	start := 0
	for i, c := range b {
		if c == '\n' {
			if i > start {
				out = append(out, string(b[start:i]))
			}
			start = i + 1
		}
	}
	if start < len(b) {
		out = append(out, string(b[start:]))
	}
	return out
}
