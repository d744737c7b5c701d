package wire

import (
	"fmt"

	"seqlog/domain/replog"
)

// Codec implements grpc's encoding.Codec for the sequencer service
// messages.
type Codec struct{}

// Name is registered as the grpc content-subtype.
func (Codec) Name() string { return "seqlog" }

func (Codec) Marshal(v any) ([]byte, error) {
	switch m := v.(type) {
	case *replog.SyncMessage:
		return MarshalRecords(m.Items), nil
	case *RangeResponse:
		return MarshalRecords(m.Items), nil
	case *RangeRequest:
		return marshalRange(m), nil
	case *Ack:
		return appendOptional(nil, fieldHead, m.Head), nil
	case *HeadRequest:
		return nil, nil
	}
	return nil, fmt.Errorf("%w: %T", ErrUnknownMessage, v)
}

func (Codec) Unmarshal(data []byte, v any) error {
	switch m := v.(type) {
	case *replog.SyncMessage:
		items, err := UnmarshalRecords(data)
		m.Items = items
		return err
	case *RangeResponse:
		items, err := UnmarshalRecords(data)
		m.Items = items
		return err
	case *RangeRequest:
		return unmarshalRange(data, m)
	case *Ack:
		return unmarshalAck(data, m)
	case *HeadRequest:
		return nil
	}
	return fmt.Errorf("%w: %T", ErrUnknownMessage, v)
}
