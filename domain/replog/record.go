package replog

import (
	"database/sql/driver"
	"fmt"
	"math"
	"strconv"
)

// NullUint64 is an optional unsigned position or sequence number.
// The zero value is "absent".
type NullUint64 struct {
	Uint64 uint64
	Valid  bool
}

// Some returns a present NullUint64.
func Some(v uint64) NullUint64 {
	return NullUint64{Uint64: v, Valid: true}
}

// None is the absent value, used for unbounded range sides.
var None = NullUint64{}

func (n NullUint64) String() string {
	if !n.Valid {
		return "-"
	}
	return strconv.FormatUint(n.Uint64, 10)
}

// Scan implements sql.Scanner.
func (n *NullUint64) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*n = None
	case int64:
		if v < 0 {
			return fmt.Errorf("replog: negative value %d for NullUint64", v)
		}
		*n = Some(uint64(v))
	default:
		return fmt.Errorf("replog: cannot scan %T into NullUint64", src)
	}
	return nil
}

// Value implements driver.Valuer. SQLite integers are signed 64-bit, so
// values above math.MaxInt64 are refused rather than stored negative.
func (n NullUint64) Value() (driver.Value, error) {
	if !n.Valid {
		return nil, nil
	}
	if n.Uint64 > math.MaxInt64 {
		return nil, fmt.Errorf("%w: %d exceeds a signed 64-bit column", ErrOutOfRange, n.Uint64)
	}
	return int64(n.Uint64), nil
}

// PeerID identifies the peer that created a record. Empty means absent.
type PeerID string

// Record is an immutable log entry. (PeerID, LocalSequence) is its durable
// identity; GlobalPosition is assigned once by the sequencer.
type Record struct {
	GlobalPosition NullUint64
	LocalSequence  NullUint64
	PeerID         PeerID
	Payload        []byte
}

type identity struct {
	peer PeerID
	seq  uint64
}

func (r *Record) identity() (identity, bool) {
	if r.PeerID == "" || !r.LocalSequence.Valid {
		return identity{}, false
	}
	return identity{peer: r.PeerID, seq: r.LocalSequence.Uint64}, true
}

// HasIdentity reports whether both PeerID and LocalSequence are present.
func (r *Record) HasIdentity() bool {
	_, ok := r.identity()
	return ok
}

// Clone returns a copy that shares no memory with r.
func (r Record) Clone() Record {
	if r.Payload != nil {
		p := make([]byte, len(r.Payload))
		copy(p, r.Payload)
		r.Payload = p
	}
	return r
}

func (r Record) String() string {
	return fmt.Sprintf("%s [%s %s] %q", r.GlobalPosition, r.PeerID, r.LocalSequence, r.Payload)
}

// CloneRecords deep-copies a slice of records.
func CloneRecords(in []Record) []Record {
	if in == nil {
		return nil
	}
	out := make([]Record, len(in))
	for i := range in {
		out[i] = in[i].Clone()
	}
	return out
}

// SyncMessage is the batch a peer pushes to the sequencer.
type SyncMessage struct {
	Items []Record
}

// Clone returns an independent copy of the message.
func (m SyncMessage) Clone() SyncMessage {
	return SyncMessage{Items: CloneRecords(m.Items)}
}
