// Package wire encodes sync messages in protobuf wire format.
//
//	message Record        { optional uint64 global_position = 1; optional uint64 local_sequence = 2;
//	                        optional string peer_id = 3; bytes payload = 4; }
//	message SyncMessage   { repeated Record items = 1; }
//	message RangeRequest  { optional uint64 from = 1; optional uint64 to = 2; }
//	message RangeResponse { repeated Record items = 1; }
//	message Ack           { optional uint64 head = 1; }
//	message HeadRequest   {}
package wire

import (
	"errors"
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"

	"seqlog/domain/replog"
)

var ErrUnknownMessage = errors.New("wire: unknown message type")

// RangeRequest asks for sequenced records in [From, To].
type RangeRequest struct {
	From replog.NullUint64
	To   replog.NullUint64
}

// RangeResponse carries the records of a range query.
type RangeResponse struct {
	Items []replog.Record
}

// Ack acknowledges an accepted batch with the sequencer's head.
type Ack struct {
	Head replog.NullUint64
}

// HeadRequest asks for the sequencer's head.
type HeadRequest struct{}

const (
	fieldPosition = protowire.Number(1)
	fieldSequence = protowire.Number(2)
	fieldPeer     = protowire.Number(3)
	fieldPayload  = protowire.Number(4)

	fieldItems = protowire.Number(1)

	fieldFrom = protowire.Number(1)
	fieldTo   = protowire.Number(2)

	fieldHead = protowire.Number(1)
)

func appendOptional(b []byte, num protowire.Number, v replog.NullUint64) []byte {
	if !v.Valid {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, v.Uint64)
}

// AppendRecord appends the encoding of r to b.
func AppendRecord(b []byte, r replog.Record) []byte {
	b = appendOptional(b, fieldPosition, r.GlobalPosition)
	b = appendOptional(b, fieldSequence, r.LocalSequence)
	if r.PeerID != "" {
		b = protowire.AppendTag(b, fieldPeer, protowire.BytesType)
		b = protowire.AppendString(b, string(r.PeerID))
	}
	if len(r.Payload) > 0 {
		b = protowire.AppendTag(b, fieldPayload, protowire.BytesType)
		b = protowire.AppendBytes(b, r.Payload)
	}
	return b
}

// UnmarshalRecord decodes one record. The payload is copied out of b.
func UnmarshalRecord(b []byte) (replog.Record, error) {
	var r replog.Record
	err := walkFields(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch {
		case num == fieldPosition && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			r.GlobalPosition = replog.Some(v)
			return n, nil
		case num == fieldSequence && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			r.LocalSequence = replog.Some(v)
			return n, nil
		case num == fieldPeer && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(b)
			r.PeerID = replog.PeerID(v)
			return n, nil
		case num == fieldPayload && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			r.Payload = append([]byte(nil), v...)
			return n, nil
		}
		return protowire.ConsumeFieldValue(num, typ, b), nil
	})
	return r, err
}

// MarshalRecords encodes records as a repeated field 1, which is the
// layout of SyncMessage and RangeResponse alike.
func MarshalRecords(recs []replog.Record) []byte {
	var b []byte
	for _, r := range recs {
		b = protowire.AppendTag(b, fieldItems, protowire.BytesType)
		b = protowire.AppendBytes(b, AppendRecord(nil, r))
	}
	return b
}

func UnmarshalRecords(b []byte) ([]replog.Record, error) {
	var out []replog.Record
	err := walkFields(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		if num != fieldItems || typ != protowire.BytesType {
			return protowire.ConsumeFieldValue(num, typ, b), nil
		}
		v, n := protowire.ConsumeBytes(b)
		if n < 0 {
			return n, nil
		}
		r, err := UnmarshalRecord(v)
		if err != nil {
			return 0, err
		}
		out = append(out, r)
		return n, nil
	})
	return out, err
}

func marshalRange(req *RangeRequest) []byte {
	var b []byte
	b = appendOptional(b, fieldFrom, req.From)
	return appendOptional(b, fieldTo, req.To)
}

func unmarshalRange(b []byte, req *RangeRequest) error {
	*req = RangeRequest{}
	return walkFields(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		if typ != protowire.VarintType || (num != fieldFrom && num != fieldTo) {
			return protowire.ConsumeFieldValue(num, typ, b), nil
		}
		v, n := protowire.ConsumeVarint(b)
		if num == fieldFrom {
			req.From = replog.Some(v)
		} else {
			req.To = replog.Some(v)
		}
		return n, nil
	})
}

func unmarshalAck(b []byte, ack *Ack) error {
	*ack = Ack{}
	return walkFields(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		if num != fieldHead || typ != protowire.VarintType {
			return protowire.ConsumeFieldValue(num, typ, b), nil
		}
		v, n := protowire.ConsumeVarint(b)
		ack.Head = replog.Some(v)
		return n, nil
	})
}

// walkFields calls fn for every field of b. fn consumes the field value
// and returns its length, negative on a protowire parse error.
func walkFields(b []byte, fn func(protowire.Number, protowire.Type, []byte) (int, error)) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return fmt.Errorf("wire: %w", protowire.ParseError(n))
		}
		b = b[n:]
		m, err := fn(num, typ, b)
		if err != nil {
			return err
		}
		if m < 0 {
			return fmt.Errorf("wire: field %d: %w", num, protowire.ParseError(m))
		}
		b = b[m:]
	}
	return nil
}
