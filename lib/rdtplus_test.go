package lib

import (
	"bytes"
	"fmt"
	"testing"
	"time"

	"github.com/Clouded-Sabre/Pseudo-RDT/config"
	"github.com/Clouded-Sabre/Pseudo-RDT/netsim"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newPlusServer(t *testing.T, n *netsim.Network, cfg *config.Config) (*RDTPlus, *netsim.Conn) {
	t.Helper()
	conn, err := n.Listen("server")
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	server, err := NewRDTPlus(conn, true, nil, cfg)
	require.NoError(t, err)
	t.Cleanup(server.Shutdown)
	return server, conn
}

func newPlusClient(t *testing.T, n *netsim.Network, name string, serverAddr netsim.Addr, cfg *config.Config) (*RDTPlus, *netsim.Conn) {
	t.Helper()
	conn, err := n.Listen(name)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	client, err := NewRDTPlus(conn, false, serverAddr, cfg)
	require.NoError(t, err)
	t.Cleanup(client.Shutdown)
	return client, conn
}

func TestRDTPlusEndToEnd(t *testing.T) {
	tests := []struct {
		name       string
		dropEveryN int
	}{
		{name: "clean channel"},
		{name: "every 4th datagram lost", dropEveryN: 4},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig()
			n := netsim.NewNetwork()
			server, serverConn := newPlusServer(t, n, cfg)
			serverConn.SetDropEveryN(tt.dropEveryN)

			client, clientConn := newPlusClient(t, n, "client-1", serverConn.LocalAddr().(netsim.Addr), cfg)
			clientConn.SetDropEveryN(tt.dropEveryN)

			big := bytes.Repeat([]byte("x"), 5000)
			require.True(t, client.Send([][]byte{[]byte("hello"), big}, nil))

			got := map[string]int{}
			for i := 0; i < 2; i++ {
				obj, from, err := server.Recv(ctxWithTimeout(t, waitFor))
				require.NoError(t, err)
				assert.Equal(t, clientConn.LocalAddr().String(), from.String())
				got[string(obj)]++
			}
			assert.Equal(t, map[string]int{"hello": 1, string(big): 1}, got)

			require.True(t, server.Send([][]byte{[]byte("ok")}, clientConn.LocalAddr()))
			obj, _, err := client.Recv(ctxWithTimeout(t, waitFor))
			require.NoError(t, err)
			assert.Equal(t, "ok", string(obj))

			require.NoError(t, client.Close(ctxWithTimeout(t, waitFor)))
			assert.Equal(t, StateClosed, client.Transport().State())
			require.Eventually(t, func() bool { return server.Transport().State() == StateClosed }, waitFor, tick)
			server.ResetServerState()

			// object ids restart at zero for the next session
			next, nextConn := newPlusClient(t, n, "client-2", serverConn.LocalAddr().(netsim.Addr), cfg)
			nextConn.SetDropEveryN(tt.dropEveryN)
			require.True(t, next.Send([][]byte{[]byte("again")}, nil))

			obj, from, err := server.Recv(ctxWithTimeout(t, waitFor))
			require.NoError(t, err)
			assert.Equal(t, "again", string(obj))
			assert.Equal(t, nextConn.LocalAddr().String(), from.String())
			require.NoError(t, next.Close(ctxWithTimeout(t, waitFor)))
		})
	}
}

func TestRDTPlusNewPeerWithoutReset(t *testing.T) {
	cfg := testConfig()
	n := netsim.NewNetwork()
	server, serverConn := newPlusServer(t, n, cfg)
	serverAddr := serverConn.LocalAddr().(netsim.Addr)

	first, firstConn := newPlusClient(t, n, "client-1", serverAddr, cfg)
	require.True(t, first.Send([][]byte{[]byte("from first")}, nil))
	obj, _, err := server.Recv(ctxWithTimeout(t, waitFor))
	require.NoError(t, err)
	assert.Equal(t, "from first", string(obj))
	require.True(t, server.Send([][]byte{[]byte("ok")}, firstConn.LocalAddr()))
	obj, _, err = first.Recv(ctxWithTimeout(t, waitFor))
	require.NoError(t, err)
	assert.Equal(t, "ok", string(obj))

	// the first client vanishes without a close handshake and the server
	// never calls ResetServerState
	first.Shutdown()

	second, secondConn := newPlusClient(t, n, "client-2", serverAddr, cfg)
	require.True(t, second.Send([][]byte{[]byte("from second")}, nil))
	obj, from, err := server.Recv(ctxWithTimeout(t, waitFor))
	require.NoError(t, err)
	assert.Equal(t, "from second", string(obj))
	assert.Equal(t, secondConn.LocalAddr().String(), from.String())

	server.mu.Lock()
	assert.Equal(t, uint32(0), server.nextObjectID)
	server.mu.Unlock()

	require.True(t, server.Send([][]byte{[]byte("welcome")}, secondConn.LocalAddr()))
	obj, _, err = second.Recv(ctxWithTimeout(t, waitFor))
	require.NoError(t, err)
	assert.Equal(t, "welcome", string(obj))
}

func TestRDTPlusManyObjects(t *testing.T) {
	cfg := testConfig()
	cfg.WindowSize = 32
	n := netsim.NewNetwork()
	server, serverConn := newPlusServer(t, n, cfg)
	client, _ := newPlusClient(t, n, "client", serverConn.LocalAddr().(netsim.Addr), cfg)

	want := map[string]int{}
	var objects [][]byte
	for i := 0; i < 20; i++ {
		obj := bytes.Repeat([]byte(fmt.Sprintf("%02d", i)), i*300+1)
		objects = append(objects, obj)
		want[string(obj)]++
	}
	require.True(t, client.Send(objects, nil))

	got := map[string]int{}
	for range objects {
		obj, _, err := server.Recv(ctxWithTimeout(t, waitFor))
		require.NoError(t, err)
		got[string(obj)]++
	}
	assert.Equal(t, want, got)
}

func TestRDTPlusSkipsNilObjects(t *testing.T) {
	cfg := testConfig()
	n := netsim.NewNetwork()
	server, serverConn := newPlusServer(t, n, cfg)
	client, _ := newPlusClient(t, n, "client", serverConn.LocalAddr().(netsim.Addr), cfg)

	require.True(t, client.Send([][]byte{nil, []byte("only"), nil}, nil))
	obj, _, err := server.Recv(ctxWithTimeout(t, waitFor))
	require.NoError(t, err)
	assert.Equal(t, "only", string(obj))

	_, _, err = server.Recv(ctxWithTimeout(t, 100*time.Millisecond))
	assert.True(t, isTimeout(err))
}

func TestRDTPlusValues(t *testing.T) {
	cfg := testConfig()
	n := netsim.NewNetwork()
	server, serverConn := newPlusServer(t, n, cfg)
	client, _ := newPlusClient(t, n, "client", serverConn.LocalAddr().(netsim.Addr), cfg)

	payload := bytes.Repeat([]byte{0x00, '\n'}, 3000)
	require.NoError(t, client.SendValues([]any{[]any{"send", payload}}, nil))

	v, _, err := server.RecvValue(ctxWithTimeout(t, waitFor))
	require.NoError(t, err)
	assert.Equal(t, []any{"send", payload}, v)
}

func TestRDTPlusSendRejectedAfterClose(t *testing.T) {
	cfg := testConfig()
	n := netsim.NewNetwork()
	_, serverConn := newPlusServer(t, n, cfg)
	client, _ := newPlusClient(t, n, "client", serverConn.LocalAddr().(netsim.Addr), cfg)

	require.NoError(t, client.Close(ctxWithTimeout(t, waitFor)))
	assert.False(t, client.Send([][]byte{[]byte("late")}, nil))
	assert.ErrorIs(t, client.SendValues([]any{"late"}, nil), ErrClosed)
}

func TestNewRDTPlusErrors(t *testing.T) {
	t.Run("client without server", func(t *testing.T) {
		conn, _ := netsim.Pipe("a", "b")
		defer conn.Close()

		_, err := NewRDTPlus(conn, false, nil, testConfig())
		assert.ErrorIs(t, err, ErrConfiguration)
	})

	t.Run("no answer", func(t *testing.T) {
		cfg := testConfig()
		cfg.HandshakeTimeoutMs = 100

		n := netsim.NewNetwork()
		conn, err := n.Listen("client")
		require.NoError(t, err)
		defer conn.Close()

		_, err = NewRDTPlus(conn, false, netsim.Addr("nobody"), cfg)
		assert.ErrorIs(t, err, ErrHandshakeFailed)
	})
}
