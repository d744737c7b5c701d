package peer_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"seqlog/domain/peer"
	"seqlog/domain/peer/peertest"
	"seqlog/domain/replog"
	"seqlog/domain/sequencer"
)

func newSequencer(*testing.T) peer.Upstream { return sequencer.New() }

func TestScenarios(t *testing.T) {
	peertest.RunScenarios(t, newSequencer)
}

func TestAppendIsVisibleLocally(t *testing.T) {
	p := peer.New("a")

	r0, err := p.Append([]byte("one"))
	require.NoError(t, err)
	r1, err := p.Append([]byte("two"))
	require.NoError(t, err)

	require.Equal(t, replog.Some(0), r0.LocalSequence)
	require.Equal(t, replog.Some(1), r1.LocalSequence)
	require.False(t, r1.GlobalPosition.Valid)
	require.Equal(t, replog.PeerID("a"), r1.PeerID)

	recs, err := p.Records()
	require.NoError(t, err)
	require.Len(t, recs, 2)
}

func TestBuildSyncMessage(t *testing.T) {
	p := peer.New("a")

	msg, err := p.BuildSyncMessage(10)
	require.NoError(t, err)
	require.Nil(t, msg)

	for _, s := range []string{"x", "y", "z"} {
		_, err := p.Append([]byte(s))
		require.NoError(t, err)
	}
	msg, err = p.BuildSyncMessage(2)
	require.NoError(t, err)
	require.Len(t, msg.Items, 2)
	require.Equal(t, "x", string(msg.Items[0].Payload))

	// The message is a snapshot: mutating it leaves the store untouched.
	msg.Items[0].Payload[0] = 'X'
	recs, err := p.Records()
	require.NoError(t, err)
	require.Equal(t, "x", string(recs[0].Payload))
}

func TestBatchLimitSplitsPushes(t *testing.T) {
	ctx := context.Background()
	seq := sequencer.New()
	a := peer.New("a", peer.WithBatchLimit(2))
	b := peer.New("b")

	for _, s := range []string{"a0", "a1", "a2"} {
		_, err := a.Append([]byte(s))
		require.NoError(t, err)
	}
	require.NoError(t, a.Round(ctx, seq))

	_, err := b.Append([]byte("b0"))
	require.NoError(t, err)
	require.NoError(t, b.Round(ctx, seq))
	require.NoError(t, a.Round(ctx, seq))
	require.NoError(t, b.Round(ctx, seq))

	recs, err := a.Records()
	require.NoError(t, err)
	require.Equal(t, []string{"a0", "a1", "b0", "a2"}, payloadsOf(recs))

	bRecs, err := b.Records()
	require.NoError(t, err)
	require.NoError(t, peertest.Equal(recs, bRecs))
}

func payloadsOf(recs []replog.Record) []string {
	out := make([]string, len(recs))
	for i, r := range recs {
		out[i] = string(r.Payload)
	}
	return out
}

// corruptUpstream answers Range with an unsequenced record.
type corruptUpstream struct{ peer.Upstream }

func (c corruptUpstream) Range(context.Context, replog.NullUint64, replog.NullUint64) ([]replog.Record, error) {
	return []replog.Record{{PeerID: "z", LocalSequence: replog.Some(0)}}, nil
}

func TestSyncFromRejectsUnsequencedRecords(t *testing.T) {
	p := peer.New("a")
	err := p.SyncFrom(context.Background(), corruptUpstream{sequencer.New()})

	var die *replog.DataIntegrityError
	require.True(t, errors.As(err, &die))
	require.True(t, replog.IsFatal(err))

	recs, err := p.Records()
	require.NoError(t, err)
	require.Empty(t, recs)
}

// lossyUpstream applies every push but reports a transport failure for the
// first fail calls, as if the acknowledgement was lost.
type lossyUpstream struct {
	*sequencer.Sequencer
	fail int
}

var errLostAck = errors.New("connection reset")

func (l *lossyUpstream) Accept(ctx context.Context, msg replog.SyncMessage) error {
	if err := l.Sequencer.Accept(ctx, msg); err != nil {
		return err
	}
	if l.fail > 0 {
		l.fail--
		return errLostAck
	}
	return nil
}

func TestRetryAfterLostAckIsIdempotent(t *testing.T) {
	ctx := context.Background()
	up := &lossyUpstream{Sequencer: sequencer.New(), fail: 2}
	p := peer.New("a")

	_, err := p.Append([]byte("only"))
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		err := p.Round(ctx, up)
		require.ErrorIs(t, err, errLostAck)
		require.False(t, replog.IsFatal(err))
	}
	require.NoError(t, p.Round(ctx, up))

	recs, err := p.Records()
	require.NoError(t, err)
	require.Len(t, recs, 1)
	require.Equal(t, replog.Some(0), recs[0].GlobalPosition)
	require.Equal(t, replog.Some(0), up.Head())
}

func TestRepeatedSyncFromIsNoop(t *testing.T) {
	ctx := context.Background()
	seq := sequencer.New()
	p := peer.New("a")
	_, err := p.Append([]byte("x"))
	require.NoError(t, err)

	require.NoError(t, p.Round(ctx, seq))
	before, err := p.Records()
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		require.NoError(t, p.SyncFrom(ctx, seq))
	}
	after, err := p.Records()
	require.NoError(t, err)
	require.Equal(t, before, after)
}

// countingUpstream records the bounds of every Range call.
type countingUpstream struct {
	*sequencer.Sequencer
	calls [][2]replog.NullUint64
}

func (c *countingUpstream) Range(ctx context.Context, from, to replog.NullUint64) ([]replog.Record, error) {
	c.calls = append(c.calls, [2]replog.NullUint64{from, to})
	return c.Sequencer.Range(ctx, from, to)
}

func TestSyncFromPullsInPages(t *testing.T) {
	ctx := context.Background()
	up := &countingUpstream{Sequencer: sequencer.New()}
	writer := peer.New("w")
	for _, s := range []string{"0", "1", "2", "3", "4"} {
		_, err := writer.Append([]byte(s))
		require.NoError(t, err)
	}
	require.NoError(t, writer.SyncTo(ctx, up))

	reader := peer.New("r", peer.WithPageSize(2))
	require.NoError(t, reader.SyncFrom(ctx, up))

	require.Equal(t, [][2]replog.NullUint64{
		{replog.Some(0), replog.Some(1)},
		{replog.Some(2), replog.Some(3)},
		{replog.Some(4), replog.Some(5)},
	}, up.calls)

	recs, err := reader.Records()
	require.NoError(t, err)
	require.Equal(t, []string{"0", "1", "2", "3", "4"}, payloadsOf(recs))

	// The next pull resumes past the local head.
	up.calls = nil
	_, err = writer.Append([]byte("5"))
	require.NoError(t, err)
	require.NoError(t, writer.SyncTo(ctx, up))
	require.NoError(t, reader.SyncFrom(ctx, up))
	require.Equal(t, [][2]replog.NullUint64{{replog.Some(5), replog.Some(6)}}, up.calls)
}
