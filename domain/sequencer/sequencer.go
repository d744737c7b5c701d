// Package sequencer implements the single authority that assigns global
// order. Global order is arrival order: every record of one Accept call gets
// a contiguous run of positions, in message order.
package sequencer

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"seqlog/domain/replog"
	"seqlog/infra/sequence"
)

// Journal persists an assigned batch before it becomes visible. An error
// rejects the whole batch.
type Journal interface {
	Append(batch []replog.Record) error
}

// Observer is told about every committed batch, in commit order, while the
// write lock is held.
type Observer func(batch []replog.Record)

type recordKey struct {
	peer replog.PeerID
	seq  uint64
}

type Sequencer struct {
	mu      sync.RWMutex
	store   *replog.Store
	next    *sequence.Counter
	journal Journal
	observe Observer
	log     *zap.Logger
}

type Option func(*Sequencer)

func WithJournal(j Journal) Option {
	return func(s *Sequencer) { s.journal = j }
}

func WithObserver(fn Observer) Option {
	return func(s *Sequencer) { s.observe = fn }
}

func WithLogger(l *zap.Logger) Option {
	return func(s *Sequencer) { s.log = l }
}

func New(opts ...Option) *Sequencer {
	s := &Sequencer{
		store: replog.NewStore(),
		next:  sequence.New(0),
		log:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.Named("sequencer")
	return s
}

// Restore seeds the store with already-sequenced records, as recovered from
// a snapshot or the journal. It must run before the sequencer serves.
func (s *Sequencer) Restore(records []replog.Record) error {
	if err := replog.CheckSequenced(records); err != nil {
		return fmt.Errorf("restore: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.store.Insert(records); err != nil {
		return fmt.Errorf("restore: %w", err)
	}
	if head := s.store.MaxGlobalPosition(); head.Valid {
		s.next.Reset(head.Uint64 + 1)
	}
	return nil
}

// Accept assigns positions to the records of msg and commits them as one
// batch. Records already sequenced (a peer retransmitting after a lost
// acknowledgement) are skipped and consume no position.
func (s *Sequencer) Accept(ctx context.Context, msg replog.SyncMessage) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	msg = msg.Clone()

	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.next.Next()
	batch := make([]replog.Record, 0, len(msg.Items))
	inBatch := make(map[recordKey]struct{}, len(msg.Items))
	skipped := 0
	for _, rec := range msg.Items {
		if rec.HasIdentity() {
			key := recordKey{rec.PeerID, rec.LocalSequence.Uint64}
			if _, dup := inBatch[key]; dup {
				skipped++
				continue
			}
			inBatch[key] = struct{}{}
			if existing, ok := s.store.Lookup(rec.PeerID, rec.LocalSequence.Uint64); ok && existing.GlobalPosition.Valid {
				skipped++
				continue
			}
		}
		rec.GlobalPosition = replog.Some(next)
		next++
		batch = append(batch, rec)
	}
	if len(batch) == 0 {
		return nil
	}

	// Validate before journaling so the journal never holds a batch the
	// store refused.
	commit, err := s.store.Prepare(batch)
	if err != nil {
		s.log.Error("batch rejected", zap.Error(err))
		return err
	}
	if s.journal != nil {
		if err := s.journal.Append(batch); err != nil {
			return fmt.Errorf("journal batch: %w", err)
		}
	}
	commit()
	s.next.Commit(uint64(len(batch)))

	s.log.Debug("batch sequenced",
		zap.Uint64("first", batch[0].GlobalPosition.Uint64),
		zap.Int("count", len(batch)),
		zap.Int("skipped", skipped),
	)
	if s.observe != nil {
		s.observe(replog.CloneRecords(batch))
	}
	return nil
}

// Range returns the sequenced records in [from, to].
func (s *Sequencer) Range(ctx context.Context, from, to replog.NullUint64) ([]replog.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.store.Range(from, to), nil
}

// Head returns the last assigned position.
func (s *Sequencer) Head() replog.NullUint64 {
	if h, ok := s.next.Head(); ok {
		return replog.Some(h)
	}
	return replog.None
}

// Snapshot returns every record with its head position, consistently.
func (s *Sequencer) Snapshot() (replog.NullUint64, []replog.Record) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.store.MaxGlobalPosition(), s.store.All()
}
