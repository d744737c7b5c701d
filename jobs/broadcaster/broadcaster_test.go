package broadcaster

import (
	"context"
	"errors"
	"testing"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/stretchr/testify/require"

	"seqlog/api/wire"
	"seqlog/domain/replog"
	exitwal "seqlog/infra/wal/exit"
)

func setup(t *testing.T, recs ...replog.Record) (*exitwal.ExitWAL, *mocks.SyncProducer) {
	t.Helper()
	outbox, err := exitwal.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = outbox.Close() })
	require.NoError(t, outbox.PutNew(recs))

	cfg := mocks.NewTestConfig()
	cfg.Producer.Return.Successes = true
	return outbox, mocks.NewSyncProducer(t, cfg)
}

func rec(pos uint64, data string) replog.Record {
	return replog.Record{GlobalPosition: replog.Some(pos), LocalSequence: replog.Some(pos), PeerID: "a", Payload: []byte(data)}
}

func states(t *testing.T, outbox *exitwal.ExitWAL, positions ...uint64) []exitwal.ExitState {
	t.Helper()
	out := make([]exitwal.ExitState, len(positions))
	for i, p := range positions {
		r, err := outbox.Get(p)
		require.NoError(t, err)
		out[i] = r.State
	}
	return out
}

func TestFlushPublishesInOrder(t *testing.T) {
	outbox, producer := setup(t, rec(0, "x"), rec(1, "y"))
	var seen []uint64
	check := func(val []byte) error {
		r, err := wire.UnmarshalRecord(val)
		if err != nil {
			return err
		}
		seen = append(seen, r.GlobalPosition.Uint64)
		return nil
	}
	producer.ExpectSendMessageWithCheckerFunctionAndSucceed(check)
	producer.ExpectSendMessageWithCheckerFunctionAndSucceed(check)

	b := New(outbox, producer, "log")
	n, err := b.Flush(context.Background())
	require.NoError(t, err)
	require.Equal(t, 2, n)
	require.Equal(t, []uint64{0, 1}, seen)
	require.Equal(t, []exitwal.ExitState{exitwal.StateAcked, exitwal.StateAcked}, states(t, outbox, 0, 1))
	require.NoError(t, b.Close())
}

func TestFlushStopsAtTransientFailure(t *testing.T) {
	outbox, producer := setup(t, rec(0, "x"), rec(1, "y"))
	producer.ExpectSendMessageAndFail(sarama.ErrNotEnoughReplicas)

	b := New(outbox, producer, "log")
	n, err := b.Flush(context.Background())
	require.True(t, errors.Is(err, sarama.ErrNotEnoughReplicas))
	require.Zero(t, n)

	r, err := outbox.Get(0)
	require.NoError(t, err)
	require.Equal(t, exitwal.StateNew, r.State)
	require.Equal(t, uint32(1), r.Retries)

	// The next pass retries from the same record.
	producer.ExpectSendMessageAndSucceed()
	producer.ExpectSendMessageAndSucceed()
	n, err = b.Flush(context.Background())
	require.NoError(t, err)
	require.Equal(t, 2, n)
	require.NoError(t, b.Close())
}

func TestFlushSkipsPermanentFailure(t *testing.T) {
	outbox, producer := setup(t, rec(0, "x"), rec(1, "y"))
	producer.ExpectSendMessageAndFail(sarama.ErrMessageSizeTooLarge)
	producer.ExpectSendMessageAndSucceed()

	b := New(outbox, producer, "log")
	n, err := b.Flush(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, n)
	require.Equal(t, []exitwal.ExitState{exitwal.StateFailed, exitwal.StateAcked}, states(t, outbox, 0, 1))
	require.NoError(t, b.Close())
}

func TestFlushHonoursBatch(t *testing.T) {
	outbox, producer := setup(t, rec(0, "x"), rec(1, "y"), rec(2, "z"))
	producer.ExpectSendMessageAndSucceed()
	producer.ExpectSendMessageAndSucceed()

	b := New(outbox, producer, "log", WithBatch(2))
	n, err := b.Flush(context.Background())
	require.NoError(t, err)
	require.Equal(t, 2, n)
	require.Equal(t, []exitwal.ExitState{exitwal.StateNew}, states(t, outbox, 2))

	producer.ExpectSendMessageAndSucceed()
	n, err = b.Flush(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, n)
	require.NoError(t, b.Close())
}
