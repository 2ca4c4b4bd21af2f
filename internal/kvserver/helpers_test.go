package kvserver_test

import (
	"fmt"
	"net"
	"testing"

	"github.com/stretchr/testify/require"
)

// freePort asks the OS for an ephemeral port and releases it immediately.
// There's a small window where another process could grab it first, but
// that's the standard trick short of threading a listener object through
// Bind's signature.
func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	require.NoError(t, ln.Close())
	return port
}

func addrFor(port int) string {
	return fmt.Sprintf("127.0.0.1:%d", port)
}
