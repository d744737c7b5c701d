package peertest

import (
	"context"
	"fmt"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"

	"seqlog/domain/peer"
	"seqlog/domain/replog"
)

// NewUpstream returns a fresh, empty sequencer for one scenario.
type NewUpstream func(t *testing.T) peer.Upstream

// RunScenarios runs the reference convergence scenarios against the
// upstream and bench options supplied by the caller.
func RunScenarios(t *testing.T, newUpstream NewUpstream, opts ...Option) {
	t.Run("SinglePeer", func(t *testing.T) { singlePeer(t, New(newUpstream(t), opts...)) })
	t.Run("TwoPeersCausal", func(t *testing.T) { twoPeersCausal(t, New(newUpstream(t), opts...)) })
	t.Run("TwoPeersConcurrent", func(t *testing.T) { twoPeersConcurrent(t, New(newUpstream(t), opts...)) })
	t.Run("OfflinePeers", func(t *testing.T) { offlinePeers(t, New(newUpstream(t), opts...)) })
	t.Run("ManyPeersRandom", func(t *testing.T) { manyPeersRandom(t, New(newUpstream(t), opts...)) })
}

func appendAll(t *testing.T, p *peer.Peer, payloads ...string) {
	t.Helper()
	for _, s := range payloads {
		_, err := p.Append([]byte(s))
		require.NoError(t, err)
	}
}

func records(t *testing.T, p *peer.Peer) []replog.Record {
	t.Helper()
	recs, err := p.Records()
	require.NoError(t, err)
	return recs
}

func byPeer(recs []replog.Record, id replog.PeerID) []replog.Record {
	var out []replog.Record
	for _, r := range recs {
		if r.PeerID == id {
			out = append(out, r)
		}
	}
	return out
}

func singlePeer(t *testing.T, b *Bench) {
	ctx := context.Background()
	require.NoError(t, b.AddPeers(1))
	p := b.Peers[0]

	appendAll(t, p, "msg1", "msg2")
	require.NoError(t, b.SyncPeer(ctx, 0))

	recs := records(t, p)
	require.Len(t, recs, 2)
	for _, r := range recs {
		require.True(t, r.GlobalPosition.Valid)
	}
	require.Equal(t, "msg1", string(recs[0].Payload))
	require.Equal(t, "msg2", string(recs[1].Payload))
}

func twoPeersCausal(t *testing.T, b *Bench) {
	ctx := context.Background()
	require.NoError(t, b.AddPeers(2))
	p1, p2 := b.Peers[0], b.Peers[1]

	appendAll(t, p1, "p1.msg1", "p1.msg2")
	require.NoError(t, b.SyncPeer(ctx, 0))

	require.NoError(t, b.SyncPeer(ctx, 1))
	appendAll(t, p2, "p2.msg1", "p2.msg2")
	require.NoError(t, b.SyncPeer(ctx, 1))

	require.NoError(t, b.SyncAll(ctx))
	require.NoError(t, b.CheckConverged(ctx))

	recs := records(t, p1)
	require.Len(t, recs, 4)
	first, second := byPeer(recs, p1.ID()), byPeer(recs, p2.ID())
	require.Less(t, first[0].GlobalPosition.Uint64, second[0].GlobalPosition.Uint64)
	require.Less(t, first[1].GlobalPosition.Uint64, second[0].GlobalPosition.Uint64)
}

func twoPeersConcurrent(t *testing.T, b *Bench) {
	ctx := context.Background()
	require.NoError(t, b.AddPeers(2))
	p1, p2 := b.Peers[0], b.Peers[1]

	appendAll(t, p1, "p1.msg1", "p1.msg2")
	appendAll(t, p2, "p2.msg1", "p2.msg2")

	require.NoError(t, b.SyncAll(ctx))
	require.NoError(t, b.CheckConverged(ctx))

	recs := records(t, p1)
	require.Len(t, recs, 4)
	require.Len(t, byPeer(recs, p1.ID()), 2)
	require.Len(t, byPeer(recs, p2.ID()), 2)
	require.NoError(t, CheckOrdered(recs))
	require.NoError(t, CheckContiguous(recs, p1.ID()))
	require.NoError(t, CheckContiguous(recs, p2.ID()))
}

func offlinePeers(t *testing.T, b *Bench) {
	ctx := context.Background()
	require.NoError(t, b.AddPeers(3))

	appendAll(t, b.Peers[0], "initial")
	require.NoError(t, b.SyncAll(ctx))

	for i, p := range b.Peers {
		appendAll(t, p, fmt.Sprintf("p%d.concurrent1", i+1), fmt.Sprintf("p%d.concurrent2", i+1))
	}
	require.NoError(t, b.SyncAll(ctx))
	require.NoError(t, b.CheckConverged(ctx))

	recs := records(t, b.Peers[0])
	require.Len(t, recs, 7)
	for _, p := range b.Peers {
		require.NoError(t, CheckContiguous(recs[1:], p.ID()))
	}
}

func manyPeersRandom(t *testing.T, b *Bench) {
	const peerCount, perPeer = 10, 5
	ctx := context.Background()
	require.NoError(t, b.AddPeers(peerCount))

	for i, p := range b.Peers {
		for j := 0; j < perPeer; j++ {
			appendAll(t, p, fmt.Sprintf("p%d.msg%d", i, j))
		}
	}

	rnd := rand.New(rand.NewSource(42))
	for i := 0; i < peerCount*2; i++ {
		require.NoError(t, b.SyncPeer(ctx, rnd.Intn(peerCount)))
	}
	require.NoError(t, b.SyncAll(ctx))
	require.NoError(t, b.CheckConverged(ctx))

	recs := records(t, b.Peers[0])
	require.Len(t, recs, peerCount*perPeer)
	require.NoError(t, CheckOrdered(recs))
	for _, p := range b.Peers {
		mine := byPeer(recs, p.ID())
		require.Len(t, mine, perPeer)
		for i := 1; i < len(mine); i++ {
			require.Equal(t, mine[i-1].LocalSequence.Uint64+1, mine[i].LocalSequence.Uint64)
		}
	}
}
