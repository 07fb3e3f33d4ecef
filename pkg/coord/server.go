package coord

import (
	"context"
	"net"
	"sync"

	"github.com/fedepedron/QUICK/pkg/catalog"
	log "github.com/sirupsen/logrus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/reflection"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

const serviceName = "mgpu.v1.CoordService"

// CoordServer is the device-list broadcast service the lead serves.
type CoordServer interface {
	PingServer(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetDevices(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetDeviceInfo(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

type handlerFunc func(CoordServer, context.Context, *structpb.Struct) (*structpb.Struct, error)

func unaryHandler(method string, fn handlerFunc) func(interface{}, context.Context, func(interface{}) error, grpc.UnaryServerInterceptor) (interface{}, error) {
	return func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return fn(srv.(CoordServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + serviceName + "/" + method}
		handler := func(ctx context.Context, req interface{}) (interface{}, error) {
			return fn(srv.(CoordServer), ctx, req.(*structpb.Struct))
		}
		return interceptor(ctx, in, info, handler)
	}
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*CoordServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "PingServer",
			Handler:    unaryHandler("PingServer", CoordServer.PingServer),
		},
		{
			MethodName: "GetDevices",
			Handler:    unaryHandler("GetDevices", CoordServer.GetDevices),
		},
		{
			MethodName: "GetDeviceInfo",
			Handler:    unaryHandler("GetDeviceInfo", CoordServer.GetDeviceInfo),
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "mgpu/v1/coord.proto",
}

// Server broadcasts the device catalog of the lead to the other ranks.
type Server struct {
	cat    *catalog.Catalog
	digest uint64
	secret string

	mu      sync.Mutex
	fetched map[int]bool
	done    chan struct{}

	srvMu      sync.Mutex
	grpcServer *grpc.Server
}

// NewServer serves cat. Workers presenting an input digest other than
// digest are refused. When secret is set every call except PingServer needs
// a worker token signed with it.
func NewServer(cat *catalog.Catalog, digest uint64, secret string) *Server {
	s := &Server{
		cat:     cat,
		digest:  digest,
		secret:  secret,
		fetched: make(map[int]bool),
		done:    make(chan struct{}),
	}
	if cat.Count() <= 1 {
		close(s.done)
	}
	return s
}

func (s *Server) Start(addr string) (net.Addr, error) {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	log.Infof("coordination server listening on %s", lis.Addr())
	go func() {
		if err := s.Serve(lis); err != nil {
			log.Errorf("coordination server stopped, err: %s", err)
		}
	}()
	return lis.Addr(), nil
}

func (s *Server) Serve(lis net.Listener) error {
	opts := []grpc.ServerOption{
		grpc.UnaryInterceptor(s.unaryServerInterceptor()),
	}
	srv := grpc.NewServer(opts...)
	srv.RegisterService(&serviceDesc, s)
	reflection.Register(srv)
	s.srvMu.Lock()
	s.grpcServer = srv
	s.srvMu.Unlock()
	return srv.Serve(lis)
}

// Stop waits for the calls in flight and closes the listener.
func (s *Server) Stop() {
	s.srvMu.Lock()
	srv := s.grpcServer
	s.srvMu.Unlock()
	if srv != nil {
		srv.GracefulStop()
	}
}

// WaitForWorkers blocks until every non-lead rank fetched the device list.
func (s *Server) WaitForWorkers(ctx context.Context) error {
	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		s.mu.Lock()
		defer s.mu.Unlock()
		return status.Errorf(codes.DeadlineExceeded, "%d of %d workers fetched the device list: %s",
			len(s.fetched), s.cat.Count()-1, ctx.Err())
	}
}

func (s *Server) PingServer(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	return structpb.NewStruct(map[string]interface{}{
		"worldSize": s.cat.Count(),
		"digest":    formatDigest(s.digest),
	})
}

func (s *Server) GetDevices(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	rank, err := s.validRank(in)
	if err != nil {
		return nil, err
	}
	if claimed, ok := claimedRank(ctx); ok && claimed != rank {
		return nil, status.Errorf(codes.PermissionDenied, "token of rank %d can't fetch for rank %d", claimed, rank)
	}
	digest, err := requestDigest(in)
	if err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "malformed input digest: %s", err)
	}
	if digest != s.digest {
		return nil, status.Errorf(codes.FailedPrecondition, "rank %d loaded input %s, lead loaded %s",
			rank, formatDigest(digest), formatDigest(s.digest))
	}
	out, err := devicesResponse(s.cat, s.digest)
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	s.markFetched(rank)
	return out, nil
}

func (s *Server) GetDeviceInfo(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	rank, err := s.validRank(in)
	if err != nil {
		return nil, err
	}
	info, err := s.cat.Info(rank)
	if err != nil {
		return nil, status.Error(codes.NotFound, err.Error())
	}
	out, err := infoResponse(info)
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return out, nil
}

func (s *Server) validRank(in *structpb.Struct) (int, error) {
	rank, err := requestRank(in)
	if err != nil {
		return 0, status.Error(codes.InvalidArgument, err.Error())
	}
	if rank < 0 || rank >= s.cat.Count() {
		return 0, status.Errorf(codes.InvalidArgument, "rank %d outside of world size %d", rank, s.cat.Count())
	}
	return rank, nil
}

func (s *Server) fetchedCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.fetched)
}

func (s *Server) markFetched(rank int) {
	if rank == 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fetched[rank] {
		return
	}
	s.fetched[rank] = true
	log.Debugf("rank %d fetched the device list (%d/%d)", rank, len(s.fetched), s.cat.Count()-1)
	if len(s.fetched) == s.cat.Count()-1 {
		close(s.done)
	}
}
