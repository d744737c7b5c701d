// Package syncer runs a peer's sync rounds in the background.
package syncer

import (
	"context"
	"time"

	"go.uber.org/zap"

	"seqlog/domain/peer"
	"seqlog/domain/replog"
	"seqlog/infra/retry"
)

const DefaultInterval = time.Second

type Syncer struct {
	peer     *peer.Peer
	up       peer.Upstream
	interval time.Duration
	backoff  func() *retry.Backoff
	log      *zap.Logger
}

type Option func(*Syncer)

func WithInterval(d time.Duration) Option {
	return func(s *Syncer) { s.interval = d }
}

// WithBackoff sets the retry policy applied within one tick.
func WithBackoff(fn func() *retry.Backoff) Option {
	return func(s *Syncer) { s.backoff = fn }
}

func WithLogger(l *zap.Logger) Option {
	return func(s *Syncer) { s.log = l }
}

func New(p *peer.Peer, up peer.Upstream, opts ...Option) *Syncer {
	s := &Syncer{
		peer:     p,
		up:       up,
		interval: DefaultInterval,
		backoff: func() *retry.Backoff {
			return retry.NewBackoff(100*time.Millisecond, 2, 5*time.Second, 5)
		},
		log: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.Named("syncer").With(zap.String("peer", string(p.ID())))
	return s
}

// SyncNow runs one round, retrying transport failures.
func (s *Syncer) SyncNow(ctx context.Context) error {
	return retry.Do(ctx, s.backoff(), func(ctx context.Context) error {
		return s.peer.Round(ctx, s.up)
	})
}

// Run syncs every interval until ctx is done. A fatal protocol error ends
// the loop and is returned; other failures are logged and retried on the
// next tick.
func (s *Syncer) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		err := s.SyncNow(ctx)
		switch {
		case err == nil:
		case replog.IsFatal(err):
			s.log.Error("sync halted", zap.Error(err))
			return err
		case ctx.Err() == nil:
			s.log.Warn("sync round failed", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}
