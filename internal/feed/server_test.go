package feed

import (
	"bufio"
	"context"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startServer(t *testing.T) (*Server, chan []byte, context.CancelFunc, <-chan error) {
	t.Helper()
	broadcast := make(chan []byte)
	srv, err := Listen("127.0.0.1:0", broadcast)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case <-done:
		case <-time.After(2 * time.Second):
		}
	})
	return srv, broadcast, cancel, done
}

func dial(t *testing.T, srv *Server) (net.Conn, *bufio.Reader) {
	t.Helper()
	before := srv.Stats().Accepted
	conn, err := net.Dial("tcp", srv.Addr().String())
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.Eventually(t, func() bool { return srv.Stats().Accepted > before }, 2*time.Second, 5*time.Millisecond)
	return conn, bufio.NewReader(conn)
}

func readLine(t *testing.T, conn net.Conn, r *bufio.Reader) string {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	line, err := r.ReadString('\n')
	require.NoError(t, err)
	return line
}

func TestServer_BroadcastsNDJSON(t *testing.T) {
	srv, broadcast, _, _ := startServer(t)
	c1, r1 := dial(t, srv)
	c2, r2 := dial(t, srv)

	broadcast <- []byte(`{"n":1}`)
	broadcast <- []byte(`{"n":2}`)

	assert.Equal(t, "{\"n\":1}\n", readLine(t, c1, r1))
	assert.Equal(t, "{\"n\":2}\n", readLine(t, c1, r1))
	assert.Equal(t, "{\"n\":1}\n", readLine(t, c2, r2))
	assert.Equal(t, "{\"n\":2}\n", readLine(t, c2, r2))

	assert.Equal(t, []byte(`{"n":2}`), srv.Latest())
	clients := srv.Clients()
	require.Len(t, clients, 2)
	for _, c := range clients {
		assert.NotEmpty(t, c.ID)
		assert.Equal(t, uint64(2), c.Sent)
	}
	assert.Equal(t, uint64(2), srv.Stats().Broadcasts)
}

func TestServer_LateClientMissesEarlierPayloads(t *testing.T) {
	srv, broadcast, _, _ := startServer(t)
	broadcast <- []byte("early")

	c, r := dial(t, srv)
	broadcast <- []byte("late")
	assert.Equal(t, "late\n", readLine(t, c, r))
}

func TestServer_DropsDisconnectedClient(t *testing.T) {
	srv, broadcast, _, _ := startServer(t)
	keep, keepReader := dial(t, srv)
	gone, _ := dial(t, srv)

	broadcast <- []byte("first")
	assert.Equal(t, "first\n", readLine(t, keep, keepReader))
	require.Equal(t, 2, srv.Stats().Clients)

	gone.Close()
	deadline := time.Now().Add(5 * time.Second)
	for srv.Stats().Clients != 1 {
		if time.Now().After(deadline) {
			t.Fatalf("disconnected client was not dropped, stats %+v", srv.Stats())
		}
		broadcast <- []byte("tick")
		assert.Equal(t, "tick\n", readLine(t, keep, keepReader))
		time.Sleep(10 * time.Millisecond)
	}
	assert.GreaterOrEqual(t, srv.Stats().Dropped, uint64(1))
}

func TestServer_Subscribe(t *testing.T) {
	srv, broadcast, _, _ := startServer(t)
	id, ch := srv.Subscribe()

	broadcast <- []byte("hello")
	select {
	case got := <-ch:
		assert.Equal(t, []byte("hello"), got)
	case <-time.After(2 * time.Second):
		t.Fatal("subscriber did not receive payload")
	}

	srv.Unsubscribe(id)
	_, ok := <-ch
	assert.False(t, ok, "channel should be closed after Unsubscribe")
	srv.Unsubscribe(id)
}

func TestServer_SlowSubscriberDoesNotBlock(t *testing.T) {
	srv, broadcast, _, _ := startServer(t)
	_, ch := srv.Subscribe()

	for i := 0; i < subscriberBuffer*2; i++ {
		select {
		case broadcast <- []byte("x"):
		case <-time.After(2 * time.Second):
			t.Fatalf("broadcast %d blocked", i)
		}
	}
	assert.Len(t, ch, subscriberBuffer)
}

func TestServer_ContextCancelClosesEverything(t *testing.T) {
	srv, _, cancel, done := startServer(t)
	conn, r := dial(t, srv)
	_, ch := srv.Subscribe()

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}

	_, ok := <-ch
	assert.False(t, ok)

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, err := r.ReadString('\n')
	assert.Error(t, err)

	_, err = net.Dial("tcp", srv.Addr().String())
	assert.Error(t, err)
}

func TestServer_ClosedBroadcastEndsRun(t *testing.T) {
	broadcast := make(chan []byte)
	srv, err := Listen("127.0.0.1:0", broadcast)
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- srv.Run(context.Background()) }()
	close(broadcast)

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after broadcast closed")
	}
}

// failOnceListener fails its first Accept with a transient error.
type failOnceListener struct {
	net.Listener
	once sync.Once
}

func (l *failOnceListener) Accept() (net.Conn, error) {
	var err error
	l.once.Do(func() { err = errors.New("accept: too many open files") })
	if err != nil {
		return nil, err
	}
	return l.Listener.Accept()
}

func TestServer_TransientAcceptErrorKeepsServing(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	broadcast := make(chan []byte)
	srv := NewServer(&failOnceListener{Listener: ln}, broadcast)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	_, sub := srv.Subscribe()
	conn, r := dial(t, srv)
	assert.Equal(t, uint64(1), srv.Stats().AcceptErrors)

	select {
	case err := <-done:
		t.Fatalf("Run returned after a transient accept error: %v", err)
	default:
	}

	broadcast <- []byte(`{"n":1}`)
	assert.Equal(t, "{\"n\":1}\n", readLine(t, conn, r))
	select {
	case got := <-sub:
		assert.Equal(t, []byte(`{"n":1}`), got)
	case <-time.After(2 * time.Second):
		t.Fatal("subscriber missed the payload")
	}
}

func TestServer_ClosedListenerKeepsExistingClients(t *testing.T) {
	srv, broadcast, _, done := startServer(t)
	conn, r := dial(t, srv)

	require.NoError(t, srv.ln.Close())
	broadcast <- []byte(`{"n":1}`)
	assert.Equal(t, "{\"n\":1}\n", readLine(t, conn, r))

	select {
	case err := <-done:
		t.Fatalf("Run returned after the listener closed: %v", err)
	default:
	}
}
