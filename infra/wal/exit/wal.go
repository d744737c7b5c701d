// Package exit is the broadcast outbox: every sequenced record is stored by
// position with a delivery state until the feed has acknowledged it.
package exit

import (
	"encoding/binary"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/cockroachdb/pebble"

	"seqlog/api/wire"
	"seqlog/domain/replog"
)

type ExitState uint8

const (
	StateNew ExitState = iota
	StateSent
	StateAcked
	StateFailed
)

func (s ExitState) String() string {
	switch s {
	case StateNew:
		return "NEW"
	case StateSent:
		return "SENT"
	case StateAcked:
		return "ACKED"
	case StateFailed:
		return "FAILED"
	default:
		return "UNKNOWN"
	}
}

var ErrNotFound = errors.New("outbox: not found")

// ExitRecord is one outbox entry. Record is the sequenced record to publish.
type ExitRecord struct {
	State       ExitState
	Retries     uint32
	LastAttempt int64
	Record      replog.Record
}

const stateSize = 1 + 4 + 8

// binary encoding: [state:1][retries:4][lastAttempt:8][record]
func encodeRecord(r ExitRecord) []byte {
	buf := make([]byte, stateSize, stateSize+len(r.Record.Payload)+32)
	buf[0] = byte(r.State)
	binary.BigEndian.PutUint32(buf[1:5], r.Retries)
	binary.BigEndian.PutUint64(buf[5:13], uint64(r.LastAttempt))
	return wire.AppendRecord(buf, r.Record)
}

func decodeRecord(b []byte) (ExitRecord, error) {
	if len(b) < stateSize {
		return ExitRecord{}, errors.New("outbox: invalid record length")
	}
	rec, err := wire.UnmarshalRecord(b[stateSize:])
	if err != nil {
		return ExitRecord{}, fmt.Errorf("outbox: %w", err)
	}
	return ExitRecord{
		State:       ExitState(b[0]),
		Retries:     binary.BigEndian.Uint32(b[1:5]),
		LastAttempt: int64(binary.BigEndian.Uint64(b[5:13])),
		Record:      rec,
	}, nil
}

type ExitWAL struct {
	db *pebble.DB
}

func Open(dir string) (*ExitWAL, error) {
	db, err := pebble.Open(dir, &pebble.Options{})
	if err != nil {
		return nil, err
	}
	return &ExitWAL{db: db}, nil
}

func (w *ExitWAL) Close() error {
	return w.db.Close()
}

// PutNew stores a committed batch as NEW entries in one synced write.
func (w *ExitWAL) PutNew(batch []replog.Record) error {
	b := w.db.NewBatch()
	defer b.Close()
	for _, rec := range batch {
		if !rec.GlobalPosition.Valid {
			return fmt.Errorf("outbox: %w", replog.CheckSequenced([]replog.Record{rec}))
		}
		v := encodeRecord(ExitRecord{State: StateNew, Record: rec})
		if err := b.Set(keyFor(rec.GlobalPosition.Uint64), v, nil); err != nil {
			return err
		}
	}
	return b.Commit(pebble.Sync)
}

// PutMissing stores as NEW the records of batch that have no entry yet.
// Recovery uses it to refill entries lost between WAL and outbox writes.
func (w *ExitWAL) PutMissing(batch []replog.Record) error {
	var missing []replog.Record
	for _, rec := range batch {
		_, err := w.Get(rec.GlobalPosition.Uint64)
		switch {
		case errors.Is(err, ErrNotFound):
			missing = append(missing, rec)
		case err != nil:
			return err
		}
	}
	if len(missing) == 0 {
		return nil
	}
	return w.PutNew(missing)
}

// UpdateState records a delivery attempt for the entry at pos.
func (w *ExitWAL) UpdateState(pos uint64, state ExitState, retries uint32) error {
	rec, err := w.Get(pos)
	if err != nil {
		return err
	}
	rec.State = state
	rec.Retries = retries
	rec.LastAttempt = time.Now().UnixNano()
	return w.db.Set(keyFor(pos), encodeRecord(rec), pebble.Sync)
}

func (w *ExitWAL) Delete(pos uint64) error {
	return w.db.Delete(keyFor(pos), pebble.Sync)
}

func (w *ExitWAL) Get(pos uint64) (ExitRecord, error) {
	val, closer, err := w.db.Get(keyFor(pos))
	if errors.Is(err, pebble.ErrNotFound) {
		return ExitRecord{}, fmt.Errorf("%w: position %d", ErrNotFound, pos)
	}
	if err != nil {
		return ExitRecord{}, err
	}
	defer closer.Close()

	return decodeRecord(val)
}

// ScanByState visits entries in the given state in position order.
// fn must not write to the outbox.
func (w *ExitWAL) ScanByState(state ExitState, fn func(pos uint64, rec ExitRecord) error) error {
	return w.scan(func(s ExitState) bool { return s == state }, fn)
}

// ScanPending visits NEW and SENT entries in position order. A SENT entry
// is one whose publish was never confirmed.
func (w *ExitWAL) ScanPending(fn func(pos uint64, rec ExitRecord) error) error {
	return w.scan(func(s ExitState) bool { return s == StateNew || s == StateSent }, fn)
}

func (w *ExitWAL) scan(match func(ExitState) bool, fn func(pos uint64, rec ExitRecord) error) error {
	iter, err := w.db.NewIter(&pebble.IterOptions{
		LowerBound: []byte(keyPrefix),
		UpperBound: []byte(keyPrefix + "~"),
	})
	if err != nil {
		return err
	}
	defer iter.Close()

	for iter.First(); iter.Valid(); iter.Next() {
		if !match(ExitState(iter.Value()[0])) {
			continue
		}
		rec, err := decodeRecord(iter.Value())
		if err != nil {
			return err
		}
		pos, err := parseKey(iter.Key())
		if err != nil {
			return err
		}
		if err := fn(pos, rec); err != nil {
			return err
		}
	}
	return iter.Error()
}

// TruncateAckedUpTo deletes ACKED entries at positions <= pos and returns
// how many it removed.
func (w *ExitWAL) TruncateAckedUpTo(pos uint64) (int, error) {
	var acked []uint64
	err := w.ScanByState(StateAcked, func(p uint64, _ ExitRecord) error {
		if p <= pos {
			acked = append(acked, p)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	if len(acked) == 0 {
		return 0, nil
	}

	b := w.db.NewBatch()
	defer b.Close()
	for _, p := range acked {
		if err := b.Delete(keyFor(p), nil); err != nil {
			return 0, err
		}
	}
	if err := b.Commit(pebble.Sync); err != nil {
		return 0, err
	}
	return len(acked), nil
}

const keyPrefix = "pos/"

func keyFor(pos uint64) []byte {
	return []byte(fmt.Sprintf("%s%020d", keyPrefix, pos))
}

func parseKey(b []byte) (uint64, error) {
	return strconv.ParseUint(string(b[len(keyPrefix):]), 10, 64)
}
