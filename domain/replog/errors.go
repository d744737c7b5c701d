package replog

import (
	"errors"
	"fmt"
)

var (
	// ErrConflict marks a protocol-invariant violation: one identity with two
	// positions, or one position with two records. It is never retried.
	ErrConflict = errors.New("replog: conflict")

	// ErrDataIntegrity marks a range response carrying unsequenced records.
	ErrDataIntegrity = errors.New("replog: data integrity")

	// ErrOutOfRange marks a number a signed 64-bit store column cannot hold.
	ErrOutOfRange = errors.New("replog: out of range")
)

// ConflictError describes the record that could not be merged.
type ConflictError struct {
	PeerID        PeerID
	LocalSequence NullUint64
	Existing      NullUint64
	Incoming      NullUint64
	// Position is set when the incoming position is already held by a
	// different record.
	Position bool
}

func (e *ConflictError) Error() string {
	if e.Position {
		return fmt.Sprintf("replog: conflict: position %s already holds a different record (incoming peer=%q seq=%s)",
			e.Incoming, e.PeerID, e.LocalSequence)
	}
	return fmt.Sprintf("replog: conflict: peer=%q seq=%s already at position %s, incoming %s",
		e.PeerID, e.LocalSequence, e.Existing, e.Incoming)
}

func (e *ConflictError) Unwrap() error { return ErrConflict }

// DataIntegrityError reports an unsequenced record at Index of a range
// response.
type DataIntegrityError struct {
	Index  int
	Record Record
}

func (e *DataIntegrityError) Error() string {
	return fmt.Sprintf("replog: data integrity: record %d (peer=%q seq=%s) has no global position",
		e.Index, e.Record.PeerID, e.Record.LocalSequence)
}

func (e *DataIntegrityError) Unwrap() error { return ErrDataIntegrity }

// IsFatal reports whether err is a protocol violation that must halt the
// round instead of being retried.
func IsFatal(err error) bool {
	return errors.Is(err, ErrConflict) || errors.Is(err, ErrDataIntegrity) || errors.Is(err, ErrOutOfRange)
}

// CheckSequenced returns a *DataIntegrityError for the first record in recs
// without a global position.
func CheckSequenced(recs []Record) error {
	for i := range recs {
		if !recs[i].GlobalPosition.Valid {
			return &DataIntegrityError{Index: i, Record: recs[i]}
		}
	}
	return nil
}
