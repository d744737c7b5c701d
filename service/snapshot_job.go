package service

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
)

var errNoSnapshots = errors.New("service: no snapshot directory configured")

// TakeSnapshot writes the current log, then drops the WAL segments and
// acknowledged outbox entries it covers.
func (s *SequencerService) TakeSnapshot() error {
	if s.snaps == nil {
		return errNoSnapshots
	}
	head, records := s.seq.Snapshot()
	if !head.Valid {
		return nil
	}
	if err := s.snaps.Write(head.Uint64, records); err != nil {
		return err
	}

	if s.entryWAL != nil {
		if err := s.entryWAL.TruncateBefore(head.Uint64); err != nil {
			s.log.Warn("entry wal truncation failed", zap.Error(err))
		}
	}
	if s.outbox != nil {
		n, err := s.outbox.TruncateAckedUpTo(head.Uint64)
		if err != nil {
			s.log.Warn("outbox gc failed", zap.Error(err))
		} else if n > 0 {
			s.log.Debug("outbox gc", zap.Int("removed", n))
		}
	}
	s.log.Info("snapshot written", zap.Uint64("head", head.Uint64), zap.Int("records", len(records)))
	return nil
}

// StartSnapshotJob snapshots every interval until ctx is done.
func (s *SequencerService) StartSnapshotJob(ctx context.Context, interval time.Duration) {
	go func() {
		t := time.NewTicker(interval)
		defer t.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				if err := s.TakeSnapshot(); err != nil {
					s.log.Error("snapshot failed", zap.Error(err))
				}
			}
		}
	}()
}
