// Package peertest provides a convergence bench for driving many peers
// against one sequencer in tests.
package peertest

import (
	"context"
	"fmt"
	"io"

	"seqlog/domain/peer"
	"seqlog/domain/replog"
)

// Bench drives a set of peers against one upstream.
type Bench struct {
	Upstream peer.Upstream
	Peers    []*peer.Peer

	newStore func(id replog.PeerID) (peer.Store, error)
	opts     []peer.Option
}

type Option func(*Bench)

// WithStores makes every added peer use a store from fn.
func WithStores(fn func(id replog.PeerID) (peer.Store, error)) Option {
	return func(b *Bench) { b.newStore = fn }
}

// WithPeerOptions applies opts to every added peer.
func WithPeerOptions(opts ...peer.Option) Option {
	return func(b *Bench) { b.opts = append(b.opts, opts...) }
}

func New(up peer.Upstream, opts ...Option) *Bench {
	b := &Bench{Upstream: up}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// AddPeers adds count peers named peer1, peer2, ...
func (b *Bench) AddPeers(count int) error {
	for i := 0; i < count; i++ {
		id := replog.PeerID(fmt.Sprintf("peer%d", len(b.Peers)+1))
		opts := append([]peer.Option(nil), b.opts...)
		if b.newStore != nil {
			s, err := b.newStore(id)
			if err != nil {
				return fmt.Errorf("store for %s: %w", id, err)
			}
			opts = append(opts, peer.WithStore(s))
		}
		b.Peers = append(b.Peers, peer.New(id, opts...))
	}
	return nil
}

// SyncPeer runs one full round for the peer at index i.
func (b *Bench) SyncPeer(ctx context.Context, i int) error {
	return b.Peers[i].Round(ctx, b.Upstream)
}

// SyncAll pushes every peer, then pulls every peer.
func (b *Bench) SyncAll(ctx context.Context) error {
	for _, p := range b.Peers {
		if err := p.SyncTo(ctx, b.Upstream); err != nil {
			return err
		}
	}
	for _, p := range b.Peers {
		if err := p.SyncFrom(ctx, b.Upstream); err != nil {
			return err
		}
	}
	return nil
}

// Authoritative returns the upstream's full sequenced log.
func (b *Bench) Authoritative(ctx context.Context) ([]replog.Record, error) {
	return b.Upstream.Range(ctx, replog.None, replog.None)
}

// Dump writes the upstream log and every peer's log to w.
func (b *Bench) Dump(ctx context.Context, w io.Writer) error {
	auth, err := b.Authoritative(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintln(w, "Sequencer:")
	for _, r := range auth {
		fmt.Fprintln(w, " ", r)
	}
	for _, p := range b.Peers {
		recs, err := p.Records()
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "%s:\n", p.ID())
		for _, r := range recs {
			fmt.Fprintln(w, " ", r)
		}
	}
	return nil
}

// CheckConverged returns an error unless every peer holds exactly the
// upstream's log, in the same order, with nothing pending.
func (b *Bench) CheckConverged(ctx context.Context) error {
	auth, err := b.Authoritative(ctx)
	if err != nil {
		return err
	}
	for _, p := range b.Peers {
		recs, err := p.Records()
		if err != nil {
			return err
		}
		if err := Equal(auth, recs); err != nil {
			return fmt.Errorf("%s diverges: %w", p.ID(), err)
		}
	}
	return nil
}

// Equal compares two logs record by record.
func Equal(want, got []replog.Record) error {
	if len(want) != len(got) {
		return fmt.Errorf("length %d, want %d", len(got), len(want))
	}
	for i := range want {
		w, g := want[i], got[i]
		if w.GlobalPosition != g.GlobalPosition || w.LocalSequence != g.LocalSequence ||
			w.PeerID != g.PeerID || string(w.Payload) != string(g.Payload) {
			return fmt.Errorf("record %d is %v, want %v", i, g, w)
		}
	}
	return nil
}

// CheckContiguous returns an error unless the records of peer occupy
// consecutive slots of log, in increasing local sequence order.
func CheckContiguous(log []replog.Record, id replog.PeerID) error {
	first, last := -1, -1
	var prev replog.NullUint64
	for i, r := range log {
		if r.PeerID != id {
			continue
		}
		if first < 0 {
			first = i
		} else if i != last+1 {
			return fmt.Errorf("%s interleaved at index %d", id, i)
		} else if r.LocalSequence.Uint64 <= prev.Uint64 {
			return fmt.Errorf("%s local sequence not increasing at index %d", id, i)
		}
		last = i
		prev = r.LocalSequence
	}
	return nil
}

// CheckOrdered returns an error unless sequenced records ascend strictly
// and every unsequenced record comes after them.
func CheckOrdered(log []replog.Record) error {
	var prev replog.NullUint64
	pendingSeen := false
	for i, r := range log {
		if !r.GlobalPosition.Valid {
			pendingSeen = true
			continue
		}
		if pendingSeen {
			return fmt.Errorf("sequenced record at index %d after a pending one", i)
		}
		if prev.Valid && r.GlobalPosition.Uint64 <= prev.Uint64 {
			return fmt.Errorf("position %d at index %d does not ascend", r.GlobalPosition.Uint64, i)
		}
		prev = r.GlobalPosition
	}
	return nil
}
