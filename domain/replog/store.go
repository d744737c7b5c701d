// Package replog holds the replicated log's data model and its in-memory
// Log Store.
//
// A Store keeps sequenced records in a red-black tree keyed by global
// position and unsequenced records in an insertion-ordered queue, so full
// iteration always yields ascending positions followed by pending records.
// A Store is not safe for concurrent use; its owner serializes access.
package replog

import (
	"bytes"
	"fmt"
	"io"
)

type Store struct {
	byPos   *rbTree
	pending pendingQueue
	byID    map[identity]*entry
	maxSeq  map[PeerID]uint64
}

func NewStore() *Store {
	return &Store{
		byPos:  newRBTree(),
		byID:   make(map[identity]*entry),
		maxSeq: make(map[PeerID]uint64),
	}
}

type opKind uint8

const (
	opAppend opKind = iota
	opAdopt
)

type insertOp struct {
	kind opKind
	rec  Record
	e    *entry
}

type posHolder struct {
	id      identity
	hasID   bool
	payload []byte
}

// insertPlan stages a batch against the current store state so that
// Insert either applies every record or none.
type insertPlan struct {
	s        *Store
	ops      []insertOp
	ids      map[identity]NullUint64
	newOps   map[identity]int
	adopting map[*entry]int
	claimed  map[uint64]posHolder
}

// Insert merges records into the store. Records whose identity is already
// present adopt the incoming position when they have none; an identity bound
// to two different positions, or a position bound to two different records,
// fails with *ConflictError and leaves the store unchanged. Inserting the
// same records again is a no-op.
func (s *Store) Insert(records []Record) error {
	commit, err := s.Prepare(records)
	if err != nil {
		return err
	}
	commit()
	return nil
}

// Prepare validates records against the store without changing it. The
// returned commit applies them; no other mutation may run in between.
func (s *Store) Prepare(records []Record) (commit func(), err error) {
	p := &insertPlan{
		s:        s,
		ids:      make(map[identity]NullUint64),
		newOps:   make(map[identity]int),
		adopting: make(map[*entry]int),
		claimed:  make(map[uint64]posHolder),
	}
	for i := range records {
		if err := p.stage(records[i].Clone()); err != nil {
			return nil, err
		}
	}
	return func() { s.apply(p.ops) }, nil
}

func (p *insertPlan) stage(rec Record) error {
	id, hasID := rec.identity()
	if !hasID {
		return p.stageAnonymous(rec)
	}

	cur, known := p.ids[id]
	existing := p.s.byID[id]
	if !known && existing != nil {
		cur, known = existing.rec.GlobalPosition, true
	}
	if !known {
		if rec.GlobalPosition.Valid {
			if err := p.claim(rec, posHolder{id: id, hasID: true}); err != nil {
				return err
			}
		}
		p.ids[id] = rec.GlobalPosition
		p.newOps[id] = len(p.ops)
		p.ops = append(p.ops, insertOp{kind: opAppend, rec: rec})
		return nil
	}

	switch {
	case !rec.GlobalPosition.Valid:
		// Never clear an assigned position; pending duplicates are no-ops.
		return nil
	case cur.Valid && cur != rec.GlobalPosition:
		return &ConflictError{
			PeerID:        rec.PeerID,
			LocalSequence: rec.LocalSequence,
			Existing:      cur,
			Incoming:      rec.GlobalPosition,
		}
	case cur.Valid:
		return nil
	}

	if err := p.claim(rec, posHolder{id: id, hasID: true}); err != nil {
		return err
	}
	p.ids[id] = rec.GlobalPosition
	if i, ok := p.newOps[id]; ok {
		p.ops[i].rec.GlobalPosition = rec.GlobalPosition
		return nil
	}
	if i, ok := p.adopting[existing]; ok {
		p.ops[i].rec.GlobalPosition = rec.GlobalPosition
		return nil
	}
	p.adopting[existing] = len(p.ops)
	p.ops = append(p.ops, insertOp{kind: opAdopt, rec: rec, e: existing})
	return nil
}

func (p *insertPlan) stageAnonymous(rec Record) error {
	if !rec.GlobalPosition.Valid {
		p.ops = append(p.ops, insertOp{kind: opAppend, rec: rec})
		return nil
	}
	pos := rec.GlobalPosition.Uint64
	if h, ok := p.claimed[pos]; ok {
		if !h.hasID && bytes.Equal(h.payload, rec.Payload) {
			return nil
		}
		return positionConflict(rec)
	}
	if e := p.s.byPos.Find(pos); e != nil {
		if !e.rec.HasIdentity() && bytes.Equal(e.rec.Payload, rec.Payload) {
			return nil
		}
		return positionConflict(rec)
	}
	p.claimed[pos] = posHolder{payload: rec.Payload}
	p.ops = append(p.ops, insertOp{kind: opAppend, rec: rec})
	return nil
}

// claim reserves rec's position for holder, failing if another record
// already occupies it.
func (p *insertPlan) claim(rec Record, holder posHolder) error {
	pos := rec.GlobalPosition.Uint64
	if h, ok := p.claimed[pos]; ok && (!h.hasID || h.id != holder.id) {
		return positionConflict(rec)
	}
	if e := p.s.byPos.Find(pos); e != nil {
		if id, ok := e.rec.identity(); !ok || id != holder.id {
			return positionConflict(rec)
		}
	}
	p.claimed[pos] = holder
	return nil
}

func positionConflict(rec Record) error {
	return &ConflictError{
		PeerID:        rec.PeerID,
		LocalSequence: rec.LocalSequence,
		Incoming:      rec.GlobalPosition,
		Position:      true,
	}
}

func (s *Store) apply(ops []insertOp) {
	for _, op := range ops {
		switch op.kind {
		case opAppend:
			e := &entry{rec: op.rec}
			if op.rec.GlobalPosition.Valid {
				s.byPos.Put(op.rec.GlobalPosition.Uint64, e)
			} else {
				s.pending.Enqueue(e)
			}
			if id, ok := op.rec.identity(); ok {
				s.byID[id] = e
				if cur, seen := s.maxSeq[id.peer]; !seen || id.seq > cur {
					s.maxSeq[id.peer] = id.seq
				}
			}
		case opAdopt:
			s.pending.Remove(op.e)
			op.e.rec.GlobalPosition = op.rec.GlobalPosition
			s.byPos.Put(op.rec.GlobalPosition.Uint64, op.e)
		}
	}
}

// Range returns sequenced records with from <= position <= to. An absent
// bound is unbounded on that side.
func (s *Store) Range(from, to NullUint64) []Record {
	var start uint64
	if from.Valid {
		start = from.Uint64
	}
	if to.Valid && to.Uint64 < start {
		return nil
	}
	var out []Record
	s.byPos.walkFrom(start, func(e *entry) bool {
		if to.Valid && e.rec.GlobalPosition.Uint64 > to.Uint64 {
			return false
		}
		out = append(out, e.rec.Clone())
		return true
	})
	return out
}

// Pending returns up to limit unsequenced records in insertion order.
// A limit <= 0 returns all of them.
func (s *Store) Pending(limit int) []Record {
	n := s.pending.Len()
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]Record, 0, n)
	for e := s.pending.Head(); e != nil && len(out) < n; e = e.next {
		out = append(out, e.rec.Clone())
	}
	return out
}

// MaxLocalSequence returns the highest local sequence stored for peer, or -1.
func (s *Store) MaxLocalSequence(peer PeerID) int64 {
	v, ok := s.maxSeq[peer]
	if !ok {
		return -1
	}
	return int64(v)
}

// MaxGlobalPosition returns the highest assigned position.
func (s *Store) MaxGlobalPosition() NullUint64 {
	e := s.byPos.Max()
	if e == nil {
		return None
	}
	return e.rec.GlobalPosition
}

// Lookup returns the record stored under (peer, seq).
func (s *Store) Lookup(peer PeerID, seq uint64) (Record, bool) {
	e, ok := s.byID[identity{peer: peer, seq: seq}]
	if !ok {
		return Record{}, false
	}
	return e.rec.Clone(), true
}

// All returns every record: sequenced ones by position, then pending ones
// in insertion order.
func (s *Store) All() []Record {
	out := make([]Record, 0, s.Len())
	s.byPos.walkAsc(func(e *entry) {
		out = append(out, e.rec.Clone())
	})
	for e := s.pending.Head(); e != nil; e = e.next {
		out = append(out, e.rec.Clone())
	}
	return out
}

func (s *Store) Len() int {
	return s.byPos.Len() + s.pending.Len()
}

// Dump writes one line per record, for debugging.
func (s *Store) Dump(w io.Writer) {
	for _, r := range s.All() {
		fmt.Fprintf(w, "%-4s [%-10s %-4s] %s\n", r.GlobalPosition, r.PeerID, r.LocalSequence, r.Payload)
	}
}
