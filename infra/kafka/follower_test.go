package kafka

import (
	"context"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/require"

	"seqlog/api/wire"
	"seqlog/domain/replog"
)

// chanReader hands out queued messages, then blocks until ctx is done.
type chanReader struct {
	msgs chan kafka.Message

	mu        sync.Mutex
	committed []int64
}

func newChanReader(msgs ...kafka.Message) *chanReader {
	r := &chanReader{msgs: make(chan kafka.Message, len(msgs))}
	for _, m := range msgs {
		r.msgs <- m
	}
	return r
}

func (r *chanReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	select {
	case m := <-r.msgs:
		return m, nil
	case <-ctx.Done():
		return kafka.Message{}, ctx.Err()
	}
}

func (r *chanReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range msgs {
		r.committed = append(r.committed, m.Offset)
	}
	return nil
}

func (r *chanReader) Close() error { return nil }

func message(offset int64, rec replog.Record) kafka.Message {
	return kafka.Message{
		Offset: offset,
		Value:  wire.AppendRecord(nil, rec),
		Headers: []kafka.Header{{
			Key:   HeaderPosition,
			Value: []byte(strconv.FormatUint(rec.GlobalPosition.Uint64, 10)),
		}},
	}
}

func sequenced(pos, seq uint64, peer, data string) replog.Record {
	return replog.Record{
		GlobalPosition: replog.Some(pos),
		LocalSequence:  replog.Some(seq),
		PeerID:         replog.PeerID(peer),
		Payload:        []byte(data),
	}
}

func TestApplyIsIdempotent(t *testing.T) {
	f := NewFollower(newChanReader())
	m := message(0, sequenced(0, 0, "a", "x"))

	require.NoError(t, f.Apply(m))
	require.NoError(t, f.Apply(m))

	recs, err := f.Range(context.Background(), replog.None, replog.None)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	require.Equal(t, replog.Some(0), f.Head())
}

func TestApplyRejectsUnsequenced(t *testing.T) {
	f := NewFollower(newChanReader())
	err := f.Apply(kafka.Message{Value: wire.AppendRecord(nil, replog.Record{PeerID: "a", LocalSequence: replog.Some(0)})})
	require.ErrorIs(t, err, replog.ErrDataIntegrity)
}

func TestApplyRejectsConflictingPosition(t *testing.T) {
	f := NewFollower(newChanReader())
	require.NoError(t, f.Apply(message(0, sequenced(0, 0, "a", "x"))))
	err := f.Apply(message(1, sequenced(0, 0, "b", "y")))
	require.ErrorIs(t, err, replog.ErrConflict)
}

func TestRunAppliesAndCommits(t *testing.T) {
	r := newChanReader(
		message(10, sequenced(0, 0, "a", "x")),
		kafka.Message{Offset: 11, Value: []byte{0xff}},
		message(12, sequenced(1, 0, "b", "y")),
		message(13, sequenced(0, 0, "a", "x")),
	)
	f := NewFollower(r)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.Run(ctx) }()

	require.Eventually(t, func() bool {
		r.mu.Lock()
		defer r.mu.Unlock()
		return len(r.committed) == 4
	}, 2*time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	recs, err := f.Range(context.Background(), replog.None, replog.None)
	require.NoError(t, err)
	require.Equal(t, []string{"x", "y"}, []string{string(recs[0].Payload), string(recs[1].Payload)})
	require.Equal(t, []int64{10, 11, 12, 13}, r.committed)
}

func TestRunStopsOnConflict(t *testing.T) {
	r := newChanReader(
		message(0, sequenced(0, 0, "a", "x")),
		message(1, sequenced(0, 0, "b", "y")),
	)
	err := NewFollower(r).Run(context.Background())
	require.ErrorIs(t, err, replog.ErrConflict)
	require.Equal(t, []int64{0}, r.committed)
}
