package feed

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// startGRPC serves srv over an in-memory listener and returns a client
// connection to it.
func startGRPC(t *testing.T, srv *Server) (*grpc.ClientConn, <-chan error, context.CancelFunc) {
	t.Helper()
	ln := bufconn.Listen(1 << 20)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.ServeGRPC(ctx, ln) }()

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return ln.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		conn.Close()
		cancel()
		select {
		case <-done:
		case <-time.After(2 * time.Second):
		}
	})
	return conn, done, cancel
}

func subscribe(t *testing.T, ctx context.Context, conn *grpc.ClientConn) grpc.ClientStream {
	t.Helper()
	stream, err := conn.NewStream(ctx, &GRPCServiceDesc.Streams[0], SubscribeMethod)
	require.NoError(t, err)
	require.NoError(t, stream.SendMsg(&emptypb.Empty{}))
	require.NoError(t, stream.CloseSend())
	return stream
}

func subscribers(srv *Server) int {
	srv.subscriberMu.Lock()
	defer srv.subscriberMu.Unlock()
	return len(srv.subscribers)
}

func TestGRPC_StreamsBroadcastPayloads(t *testing.T) {
	srv, broadcast, _, _ := startServer(t)
	conn, _, _ := startGRPC(t, srv)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	stream := subscribe(t, ctx, conn)
	require.Eventually(t, func() bool { return subscribers(srv) == 1 }, 2*time.Second, 5*time.Millisecond)

	broadcast <- []byte(`{"n":1}`)
	broadcast <- []byte(`{"n":2}`)

	for _, want := range []string{`{"n":1}`, `{"n":2}`} {
		msg := new(wrapperspb.BytesValue)
		require.NoError(t, stream.RecvMsg(msg))
		assert.Equal(t, want, string(msg.GetValue()))
	}
}

func TestGRPC_ClientCancelUnsubscribes(t *testing.T) {
	srv, _, _, _ := startServer(t)
	conn, _, _ := startGRPC(t, srv)

	ctx, cancel := context.WithCancel(context.Background())
	subscribe(t, ctx, conn)
	require.Eventually(t, func() bool { return subscribers(srv) == 1 }, 2*time.Second, 5*time.Millisecond)

	cancel()
	require.Eventually(t, func() bool { return subscribers(srv) == 0 }, 2*time.Second, 5*time.Millisecond)
}

func TestGRPC_FeedShutdownEndsStream(t *testing.T) {
	srv, _, stopFeed, feedDone := startServer(t)
	conn, _, _ := startGRPC(t, srv)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	stream := subscribe(t, ctx, conn)
	require.Eventually(t, func() bool { return subscribers(srv) == 1 }, 2*time.Second, 5*time.Millisecond)

	stopFeed()
	<-feedDone
	assert.Error(t, stream.RecvMsg(new(wrapperspb.BytesValue)))
}

func TestServeGRPC_ReturnsOnCancel(t *testing.T) {
	srv, _, _, _ := startServer(t)
	_, done, cancel := startGRPC(t, srv)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("ServeGRPC did not return after cancel")
	}
}
