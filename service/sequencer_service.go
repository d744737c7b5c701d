package service

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"seqlog/api/wire"
	"seqlog/domain/replog"
	"seqlog/domain/sequencer"
	entrywal "seqlog/infra/wal/entry"
	exitwal "seqlog/infra/wal/exit"
	"seqlog/snapshot"
)

/*
SequencerService is the only write entry point of the sequencer process.

Every accepted batch is framed into the entry WAL before it becomes visible,
then handed to the outbox for broadcasting. Snapshots bound the WAL.
*/
type SequencerService struct {
	seq      *sequencer.Sequencer
	entryWAL *entrywal.WAL
	outbox   *exitwal.ExitWAL
	snaps    *snapshot.Writer
	log      *zap.Logger
}

type Config struct {
	EntryWAL *entrywal.WAL
	// Outbox is optional; without it nothing is broadcast.
	Outbox *exitwal.ExitWAL
	// SnapshotDir is optional; without it recovery replays the whole WAL.
	SnapshotDir string
	Logger      *zap.Logger
}

func New(cfg Config) *SequencerService {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	s := &SequencerService{
		entryWAL: cfg.EntryWAL,
		outbox:   cfg.Outbox,
		log:      cfg.Logger.Named("service"),
	}
	if cfg.SnapshotDir != "" {
		s.snaps = &snapshot.Writer{Dir: cfg.SnapshotDir}
	}

	opts := []sequencer.Option{sequencer.WithLogger(cfg.Logger)}
	if s.entryWAL != nil {
		opts = append(opts, sequencer.WithJournal(walJournal{s.entryWAL}))
	}
	if s.outbox != nil {
		opts = append(opts, sequencer.WithObserver(s.enqueue))
	}
	s.seq = sequencer.New(opts...)
	return s
}

// walJournal frames one batch per WAL record, keyed by its last position.
type walJournal struct {
	w *entrywal.WAL
}

func (j walJournal) Append(batch []replog.Record) error {
	last := batch[len(batch)-1].GlobalPosition.Uint64
	return j.w.Append(entrywal.NewFrame(entrywal.FrameBatch, last, wire.MarshalRecords(batch)))
}

// enqueue runs after commit. A failure here leaves the records in the WAL
// only; Recover puts them back into the outbox.
func (s *SequencerService) enqueue(batch []replog.Record) {
	if err := s.outbox.PutNew(batch); err != nil {
		s.log.Error("outbox write failed",
			zap.Uint64("first", batch[0].GlobalPosition.Uint64),
			zap.Int("count", len(batch)),
			zap.Error(err),
		)
	}
}

func (s *SequencerService) Accept(ctx context.Context, msg replog.SyncMessage) error {
	return s.seq.Accept(ctx, msg)
}

func (s *SequencerService) Range(ctx context.Context, from, to replog.NullUint64) ([]replog.Record, error) {
	return s.seq.Range(ctx, from, to)
}

func (s *SequencerService) Head() replog.NullUint64 {
	return s.seq.Head()
}

// Recover rebuilds the log from the latest snapshot plus the WAL frames
// written after it. It must run before the service takes traffic.
func (s *SequencerService) Recover(walDir string) error {
	var records []replog.Record
	var covered replog.NullUint64

	if s.snaps != nil {
		snap, err := snapshot.Load(s.snaps.Dir)
		if err != nil {
			return fmt.Errorf("recover: %w", err)
		}
		if snap != nil {
			records = snap.Records
			covered = replog.Some(snap.Head)
		}
	}
	fromSnapshot := len(records)

	lastSeq, err := entrywal.Replay(walDir, func(f *entrywal.Frame) error {
		if f.Type != entrywal.FrameBatch {
			return nil
		}
		if covered.Valid && f.Seq <= covered.Uint64 {
			return nil
		}
		batch, err := wire.UnmarshalRecords(f.Data)
		if err != nil {
			return fmt.Errorf("frame %d: %w", f.Seq, err)
		}
		records = append(records, batch...)
		return nil
	})
	if err != nil {
		return fmt.Errorf("recover: wal replay: %w", err)
	}

	if err := s.seq.Restore(records); err != nil {
		return fmt.Errorf("recover: %w", err)
	}
	if s.outbox != nil {
		if err := s.outbox.PutMissing(records[fromSnapshot:]); err != nil {
			return fmt.Errorf("recover: outbox: %w", err)
		}
	}

	s.log.Info("recovered",
		zap.Int("snapshot_records", fromSnapshot),
		zap.Int("wal_records", len(records)-fromSnapshot),
		zap.Uint64("last_frame", lastSeq),
		zap.Stringer("head", s.seq.Head()),
	)
	return nil
}
