package kvserver

import (
	"context"
	"errors"
	"fmt"
	"net"
	"syscall"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sys/unix"

	"github.com/kvmesh/kvmesh/internal/frame"
)

// Listener accepts connections on (0.0.0.0, port) and spawns one detached
// worker per connection, each of which reads exactly one frame, dispatches
// it, writes the response, and closes (spec §4.7).
type Listener struct {
	Port       int
	Dispatcher *Dispatcher
	Log        zerolog.Logger

	ln net.Listener
}

// reuseAddrControl enables SO_REUSEADDR on the listening socket, matching
// the reference server's setsockopt call so a restart doesn't have to wait
// out TIME_WAIT.
func reuseAddrControl(_, _ string, c syscall.RawConn) error {
	var sockErr error
	if err := c.Control(func(fd uintptr) {
		sockErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
	}); err != nil {
		return err
	}
	return sockErr
}

// Bind opens the listening socket and registers the local node as self in
// Membership — self must be the very first entry Membership ever sees so
// that self_idx comes out as 0 (spec §4.4 add()). Callers that want to
// preload other peers (e.g. from a cluster topology file) must do so after
// Bind returns and before calling Serve.
func (l *Listener) Bind() error {
	lc := net.ListenConfig{Control: reuseAddrControl}
	ln, err := lc.Listen(context.Background(), "tcp", fmt.Sprintf("0.0.0.0:%d", l.Port))
	if err != nil {
		return fmt.Errorf("kvserver: listen on port %d: %w", l.Port, err)
	}
	l.ln = ln

	selfIP, err := localIPv4()
	if err != nil {
		ln.Close()
		return fmt.Errorf("kvserver: resolve local address: %w", err)
	}
	if _, err := l.Dispatcher.Membership.Add(selfIP, l.Port); err != nil {
		ln.Close()
		return fmt.Errorf("kvserver: register self in membership: %w", err)
	}
	l.Log.Info().Str("ip", selfIP).Int("port", l.Port).Msg("registered self")
	return nil
}

// Serve accepts connections until ctx is cancelled. Bind must be called
// first.
func (l *Listener) Serve(ctx context.Context) error {
	ln := l.ln

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	l.Log.Info().Int("port", l.Port).Msg("accepting connections")
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			l.Log.Warn().Err(err).Msg("accept failed")
			continue
		}
		go l.serve(conn)
	}
}

// serve owns conn for its lifetime: one frame in, one frame out, then close.
func (l *Listener) serve(conn net.Conn) {
	connID := uuid.NewString()
	defer conn.Close()

	req, err := frame.Read(conn)
	if err != nil {
		if !errors.Is(err, net.ErrClosed) {
			l.Log.Debug().Err(err).Str("conn", connID).Msg("dropping connection: bad request frame")
		}
		return
	}

	resp := l.Dispatcher.Handle(req)

	if err := frame.Write(conn, resp); err != nil {
		l.Log.Debug().Err(err).Str("conn", connID).Msg("dropping connection: write failed")
	}
}

// localIPv4 picks an IPv4 address for the local node: the source address the
// OS would use for outbound UDP traffic, else the first non-loopback IPv4
// interface address, else 127.0.0.1. It does not resolve the machine's
// hostname.
func localIPv4() (string, error) {
	conn, err := net.Dial("udp", "8.8.8.8:80")
	if err == nil {
		defer conn.Close()
		if addr, ok := conn.LocalAddr().(*net.UDPAddr); ok && addr.IP.To4() != nil {
			return addr.IP.String(), nil
		}
	}

	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return "", fmt.Errorf("enumerate interfaces: %w", err)
	}
	for _, a := range addrs {
		ipNet, ok := a.(*net.IPNet)
		if !ok || ipNet.IP.IsLoopback() {
			continue
		}
		if ip4 := ipNet.IP.To4(); ip4 != nil {
			return ip4.String(), nil
		}
	}
	return "127.0.0.1", nil
}
