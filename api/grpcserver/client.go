package grpcserver

import (
	"context"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"seqlog/api/wire"
	"seqlog/domain/replog"
)

// Client reaches a remote sequencer. It satisfies peer.Upstream.
type Client struct {
	cc grpc.ClientConnInterface
}

// NewClient wraps a connection dialed with DialOptions.
func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

// DialOptions returns the options a connection to the sequencer needs,
// followed by extra.
func DialOptions(extra ...grpc.DialOption) []grpc.DialOption {
	opts := []grpc.DialOption{
		grpc.WithDefaultCallOptions(
			grpc.ForceCodec(wire.Codec{}),
			grpc.MaxCallRecvMsgSize(MaxMessageSize),
			grpc.MaxCallSendMsgSize(MaxMessageSize),
		),
	}
	return append(opts, extra...)
}

// Dial connects to target without transport security.
func Dial(target string, extra ...grpc.DialOption) (*Client, *grpc.ClientConn, error) {
	opts := DialOptions(append([]grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}, extra...)...)
	cc, err := grpc.NewClient(target, opts...)
	if err != nil {
		return nil, nil, fmt.Errorf("dial %s: %w", target, err)
	}
	return NewClient(cc), cc, nil
}

func (c *Client) Accept(ctx context.Context, msg replog.SyncMessage) error {
	var ack wire.Ack
	if err := c.cc.Invoke(ctx, acceptMethod, &msg, &ack); err != nil {
		return fromStatus(err)
	}
	return nil
}

func (c *Client) Range(ctx context.Context, from, to replog.NullUint64) ([]replog.Record, error) {
	var resp wire.RangeResponse
	if err := c.cc.Invoke(ctx, rangeMethod, &wire.RangeRequest{From: from, To: to}, &resp); err != nil {
		return nil, fromStatus(err)
	}
	return resp.Items, nil
}

// Head returns the remote sequencer's last assigned position.
func (c *Client) Head(ctx context.Context) (replog.NullUint64, error) {
	var ack wire.Ack
	if err := c.cc.Invoke(ctx, headMethod, &wire.HeadRequest{}, &ack); err != nil {
		return replog.None, fromStatus(err)
	}
	return ack.Head, nil
}
