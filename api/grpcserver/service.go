package grpcserver

import (
	"context"

	"google.golang.org/grpc"

	"seqlog/api/wire"
	"seqlog/domain/replog"
)

const ServiceName = "seqlog.Sequencer"

const (
	acceptMethod = "/" + ServiceName + "/Accept"
	rangeMethod  = "/" + ServiceName + "/Range"
	headMethod   = "/" + ServiceName + "/Head"
)

// SequencerServer is the server API of the sequencer service.
type SequencerServer interface {
	Accept(context.Context, *replog.SyncMessage) (*wire.Ack, error)
	Range(context.Context, *wire.RangeRequest) (*wire.RangeResponse, error)
	Head(context.Context, *wire.HeadRequest) (*wire.Ack, error)
}

// ServiceDesc is written by hand since the messages are encoded by
// wire.Codec rather than generated types.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*SequencerServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Accept", Handler: acceptHandler},
		{MethodName: "Range", Handler: rangeHandler},
		{MethodName: "Head", Handler: headHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "seqlog.proto",
}

// Register attaches srv to s.
func Register(s grpc.ServiceRegistrar, srv SequencerServer) {
	s.RegisterService(&ServiceDesc, srv)
}

func acceptHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(replog.SyncMessage)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(SequencerServer).Accept(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: acceptMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(SequencerServer).Accept(ctx, req.(*replog.SyncMessage))
	}
	return interceptor(ctx, in, info, handler)
}

func rangeHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(wire.RangeRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(SequencerServer).Range(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: rangeMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(SequencerServer).Range(ctx, req.(*wire.RangeRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func headHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(wire.HeadRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(SequencerServer).Head(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: headMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(SequencerServer).Head(ctx, req.(*wire.HeadRequest))
	}
	return interceptor(ctx, in, info, handler)
}
