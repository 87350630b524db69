package feed

import (
	"context"
	"net"
	"sync/atomic"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/banshee-data/spectro.cam/internal/monitoring"
)

// GRPCServiceName is the full name of the streaming feed service.
const GRPCServiceName = "spectrocam.feed.v1.SpectrumFeed"

// grpcStopTimeout bounds GracefulStop before open streams are cut.
const grpcStopTimeout = time.Second

// SpectrumFeedServer is the handler interface of GRPCServiceDesc.
type SpectrumFeedServer interface {
	Subscribe(*emptypb.Empty, grpc.ServerStream) error
}

// GRPCServiceDesc describes a server-streaming RPC:
//
//	rpc Subscribe(google.protobuf.Empty) returns (stream google.protobuf.BytesValue)
//
// Every message carries one JSON spectrum snapshot, the same payload a TCP
// client reads as one line.
var GRPCServiceDesc = grpc.ServiceDesc{
	ServiceName: GRPCServiceName,
	HandlerType: (*SpectrumFeedServer)(nil),
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "Subscribe",
			Handler:       subscribeHandler,
			ServerStreams: true,
		},
	},
	Metadata: "spectrocam/feed/v1/feed.proto",
}

// SubscribeMethod is the full method name used by clients.
const SubscribeMethod = "/" + GRPCServiceName + "/Subscribe"

func subscribeHandler(srv any, stream grpc.ServerStream) error {
	req := new(emptypb.Empty)
	if err := stream.RecvMsg(req); err != nil {
		return err
	}
	return srv.(SpectrumFeedServer).Subscribe(req, stream)
}

// GRPCService streams feed payloads to gRPC clients.
type GRPCService struct {
	feed    *Server
	streams atomic.Int64
}

var _ SpectrumFeedServer = (*GRPCService)(nil)

// NewGRPCService serves payloads broadcast by feed.
func NewGRPCService(feed *Server) *GRPCService {
	return &GRPCService{feed: feed}
}

// RegisterService registers svc on gs.
func RegisterService(gs *grpc.Server, svc *GRPCService) {
	gs.RegisterService(&GRPCServiceDesc, svc)
}

// Streams is the number of open Subscribe streams.
func (g *GRPCService) Streams() int64 {
	return g.streams.Load()
}

// Subscribe sends every broadcast payload until the client goes away or the
// feed stops. A payload the stream is too slow for is skipped.
func (g *GRPCService) Subscribe(_ *emptypb.Empty, stream grpc.ServerStream) error {
	id, payloads := g.feed.Subscribe()
	defer g.feed.Unsubscribe(id)

	g.streams.Add(1)
	defer g.streams.Add(-1)
	monitoring.Logf("[gRPC] feed stream %s opened", id)

	ctx := stream.Context()
	for {
		select {
		case <-ctx.Done():
			monitoring.Logf("[gRPC] feed stream %s closed: %v", id, ctx.Err())
			return ctx.Err()
		case payload, ok := <-payloads:
			if !ok {
				monitoring.Logf("[gRPC] feed stopped, ending stream %s", id)
				return nil
			}
			if err := stream.SendMsg(wrapperspb.Bytes(payload)); err != nil {
				monitoring.Logf("[gRPC] send error on stream %s: %v", id, err)
				return err
			}
		}
	}
}

// ServeGRPC serves the feed over gRPC on ln until ctx is cancelled.
func (s *Server) ServeGRPC(ctx context.Context, ln net.Listener) error {
	gs := grpc.NewServer()
	RegisterService(gs, NewGRPCService(s))

	errc := make(chan error, 1)
	go func() {
		monitoring.Logf("[gRPC] feed listening on %s", ln.Addr())
		errc <- gs.Serve(ln)
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	stopped := make(chan struct{})
	go func() {
		gs.GracefulStop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(grpcStopTimeout):
		gs.Stop()
		<-stopped
	}
	monitoring.Logf("[gRPC] feed server stopped")
	return <-errc
}
