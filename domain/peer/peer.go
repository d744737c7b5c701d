// Package peer implements a participant of the replicated log: it appends
// records locally (visible immediately, unsequenced) and exchanges batches
// with the sequencer in sync rounds.
package peer

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"seqlog/domain/replog"
)

// DefaultBatchLimit bounds how many pending records one push carries.
const DefaultBatchLimit = 100

// DefaultPageSize bounds how many records one Range call of a pull asks for.
const DefaultPageSize = 256

// Upstream is the sequencer as a peer sees it, over whatever transport.
type Upstream interface {
	Accept(ctx context.Context, msg replog.SyncMessage) error
	Range(ctx context.Context, from, to replog.NullUint64) ([]replog.Record, error)
}

type Peer struct {
	id    replog.PeerID
	limit int
	page  uint64
	log   *zap.Logger

	// mu serializes store access. It is never held across Upstream calls.
	mu    sync.Mutex
	store Store
}

type Option func(*Peer)

// WithStore replaces the default in-memory store.
func WithStore(s Store) Option {
	return func(p *Peer) { p.store = s }
}

// WithBatchLimit caps the records pushed per round. Contiguity of a peer's
// records only holds within one push.
func WithBatchLimit(n int) Option {
	return func(p *Peer) { p.limit = n }
}

// WithPageSize caps the records fetched per Range call when pulling.
func WithPageSize(n int) Option {
	return func(p *Peer) {
		if n > 0 {
			p.page = uint64(n)
		}
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(p *Peer) { p.log = l }
}

func New(id replog.PeerID, opts ...Option) *Peer {
	p := &Peer{
		id:    id,
		limit: DefaultBatchLimit,
		page:  DefaultPageSize,
		log:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.store == nil {
		p.store = NewMemoryStore()
	}
	p.log = p.log.Named("peer").With(zap.String("peer", string(id)))
	return p
}

func (p *Peer) ID() replog.PeerID { return p.id }

// Append creates a record for payload and stores it unsequenced. The
// record is returned before any network round-trip.
func (p *Peer) Append(payload []byte) (replog.Record, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	last, err := p.store.MaxLocalSequence(p.id)
	if err != nil {
		return replog.Record{}, fmt.Errorf("append: %w", err)
	}
	rec := replog.Record{
		LocalSequence: replog.Some(uint64(last + 1)),
		PeerID:        p.id,
		Payload:       payload,
	}.Clone()
	if err := p.store.Insert([]replog.Record{rec}); err != nil {
		return replog.Record{}, fmt.Errorf("append: %w", err)
	}
	p.log.Debug("appended", zap.Uint64("seq", rec.LocalSequence.Uint64))
	return rec, nil
}

// BuildSyncMessage snapshots up to limit pending records (the peer's
// configured limit when limit <= 0). It returns nil when nothing is pending.
func (p *Peer) BuildSyncMessage(limit int) (*replog.SyncMessage, error) {
	if limit <= 0 {
		limit = p.limit
	}
	p.mu.Lock()
	items, err := p.store.Pending(limit)
	p.mu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("build sync message: %w", err)
	}
	if len(items) == 0 {
		return nil, nil
	}
	return &replog.SyncMessage{Items: replog.CloneRecords(items)}, nil
}

// SyncTo pushes pending records to the sequencer.
func (p *Peer) SyncTo(ctx context.Context, up Upstream) error {
	msg, err := p.BuildSyncMessage(p.limit)
	if err != nil || msg == nil {
		return err
	}
	if err := up.Accept(ctx, *msg); err != nil {
		return fmt.Errorf("sync to: %w", err)
	}
	p.log.Debug("pushed", zap.Int("count", len(msg.Items)))
	return nil
}

// SyncFrom pulls every record past the local high-water mark and merges it,
// one page at a time. Each page is merged before the next is requested, so
// an interrupted pull resumes where it stopped.
func (p *Peer) SyncFrom(ctx context.Context, up Upstream) error {
	p.mu.Lock()
	head, err := p.store.MaxGlobalPosition()
	p.mu.Unlock()
	if err != nil {
		return fmt.Errorf("sync from: %w", err)
	}

	var from uint64
	if head.Valid {
		from = head.Uint64 + 1
	}
	for {
		n, err := p.pullPage(ctx, up, from)
		if err != nil {
			return fmt.Errorf("sync from: %w", err)
		}
		if n < p.page {
			return nil
		}
		from += p.page
	}
}

// pullPage merges the records in [from, from+page-1] and returns how many
// the upstream sent.
func (p *Peer) pullPage(ctx context.Context, up Upstream, from uint64) (uint64, error) {
	to := replog.None
	if last := from + p.page - 1; last >= from {
		to = replog.Some(last)
	}
	got, err := up.Range(ctx, replog.Some(from), to)
	if err != nil {
		return 0, err
	}
	got = replog.CloneRecords(got)
	if err := replog.CheckSequenced(got); err != nil {
		return 0, err
	}
	if len(got) == 0 {
		return 0, nil
	}

	p.mu.Lock()
	err = p.store.Insert(got)
	p.mu.Unlock()
	if err != nil {
		return 0, err
	}
	p.log.Debug("pulled", zap.Uint64("from", from), zap.Int("count", len(got)))
	return uint64(len(got)), nil
}

// Round is one push followed by one pull, so the peer sees the positions
// of its own batch in the same round.
func (p *Peer) Round(ctx context.Context, up Upstream) error {
	if err := p.SyncTo(ctx, up); err != nil {
		return err
	}
	return p.SyncFrom(ctx, up)
}

// Records returns the full local view: sequenced records by position, then
// pending ones.
func (p *Peer) Records() ([]replog.Record, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.store.All()
}

// Range returns local sequenced records in [from, to].
func (p *Peer) Range(from, to replog.NullUint64) ([]replog.Record, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.store.Range(from, to)
}
