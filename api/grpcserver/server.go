// Package grpcserver exposes the sequencer over gRPC and provides the client
// peers use to reach it.
package grpcserver

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"seqlog/api/wire"
	"seqlog/domain/replog"
)

// ErrInvalidRequest is returned for requests the server refuses to run.
var ErrInvalidRequest = errors.New("grpcserver: invalid request")

// MaxMessageSize caps one Accept batch or Range page on both ends. Peers
// page their pulls, so a page only has to fit, not the whole log.
const MaxMessageSize = 64 << 20

// Backend is the sequencer behind the server.
type Backend interface {
	Accept(ctx context.Context, msg replog.SyncMessage) error
	Range(ctx context.Context, from, to replog.NullUint64) ([]replog.Record, error)
	Head() replog.NullUint64
}

// Server adapts a Backend to SequencerServer.
type Server struct {
	backend Backend
	log     *zap.Logger
}

func NewServer(b Backend, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	return &Server{backend: b, log: log.Named("grpc")}
}

func (s *Server) Accept(ctx context.Context, msg *replog.SyncMessage) (*wire.Ack, error) {
	if err := s.backend.Accept(ctx, *msg); err != nil {
		return nil, toStatus(err)
	}
	return &wire.Ack{Head: s.backend.Head()}, nil
}

func (s *Server) Range(ctx context.Context, req *wire.RangeRequest) (*wire.RangeResponse, error) {
	if req.From.Valid && req.To.Valid && req.From.Uint64 > req.To.Uint64 {
		return nil, status.Errorf(codes.InvalidArgument, "range from %d is past to %d", req.From.Uint64, req.To.Uint64)
	}
	items, err := s.backend.Range(ctx, req.From, req.To)
	if err != nil {
		return nil, toStatus(err)
	}
	return &wire.RangeResponse{Items: items}, nil
}

func (s *Server) Head(ctx context.Context, _ *wire.HeadRequest) (*wire.Ack, error) {
	return &wire.Ack{Head: s.backend.Head()}, nil
}

// ServerOptions returns the options every sequencer grpc.Server needs,
// followed by extra.
func (s *Server) ServerOptions(extra ...grpc.ServerOption) []grpc.ServerOption {
	opts := []grpc.ServerOption{
		grpc.ForceServerCodec(wire.Codec{}),
		grpc.MaxRecvMsgSize(MaxMessageSize),
		grpc.MaxSendMsgSize(MaxMessageSize),
		grpc.ChainUnaryInterceptor(s.logCalls),
	}
	return append(opts, extra...)
}

// NewGRPCServer builds a grpc.Server with the service registered.
func NewGRPCServer(b Backend, log *zap.Logger, extra ...grpc.ServerOption) *grpc.Server {
	srv := NewServer(b, log)
	g := grpc.NewServer(srv.ServerOptions(extra...)...)
	Register(g, srv)
	return g
}

func (s *Server) logCalls(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
	start := time.Now()
	resp, err := handler(ctx, req)
	fields := []zap.Field{
		zap.String("method", info.FullMethod),
		zap.Duration("elapsed", time.Since(start)),
	}
	if m, ok := req.(*replog.SyncMessage); ok {
		fields = append(fields, zap.Int("items", len(m.Items)))
	}
	if err != nil {
		s.log.Warn("call failed", append(fields, zap.Error(err))...)
	} else {
		s.log.Debug("call", fields...)
	}
	return resp, err
}

func toStatus(err error) error {
	switch {
	case errors.Is(err, replog.ErrConflict):
		return status.Error(codes.FailedPrecondition, err.Error())
	case errors.Is(err, replog.ErrDataIntegrity):
		return status.Error(codes.DataLoss, err.Error())
	case errors.Is(err, ErrInvalidRequest):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	}
	return status.Error(codes.Internal, err.Error())
}

// fromStatus maps protocol failures back onto the replog sentinels so that
// errors.Is and replog.IsFatal hold on the client side.
func fromStatus(err error) error {
	st, ok := status.FromError(err)
	if !ok {
		return err
	}
	switch st.Code() {
	case codes.FailedPrecondition:
		return fmt.Errorf("%w: %s", replog.ErrConflict, st.Message())
	case codes.DataLoss:
		return fmt.Errorf("%w: %s", replog.ErrDataIntegrity, st.Message())
	case codes.InvalidArgument:
		return fmt.Errorf("%w: %s", ErrInvalidRequest, st.Message())
	}
	return err
}
