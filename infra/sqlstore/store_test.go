package sqlstore_test

import (
	"math"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"seqlog/domain/peer"
	"seqlog/domain/peer/peertest"
	"seqlog/domain/replog"
	"seqlog/domain/sequencer"
	"seqlog/infra/sqlstore"
)

func open(t *testing.T) *sqlstore.Store {
	t.Helper()
	s, err := sqlstore.Open(filepath.Join(t.TempDir(), "peer.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func rec(peer string, seq uint64, pos replog.NullUint64, data string) replog.Record {
	return replog.Record{GlobalPosition: pos, LocalSequence: replog.Some(seq), PeerID: replog.PeerID(peer), Payload: []byte(data)}
}

func payloads(t *testing.T, recs []replog.Record, err error) []string {
	t.Helper()
	require.NoError(t, err)
	out := make([]string, len(recs))
	for i, r := range recs {
		out[i] = string(r.Payload)
	}
	return out
}

func TestScenariosOnSQLite(t *testing.T) {
	peertest.RunScenarios(t,
		func(*testing.T) peer.Upstream { return sequencer.New() },
		peertest.WithStores(func(replog.PeerID) (peer.Store, error) {
			s, err := sqlstore.Open(filepath.Join(t.TempDir(), "peer.db"))
			if err != nil {
				return nil, err
			}
			t.Cleanup(func() { _ = s.Close() })
			return s, nil
		}),
	)
}

func TestOrderAndAdopt(t *testing.T) {
	s := open(t)
	require.NoError(t, s.Insert([]replog.Record{
		rec("a", 0, replog.None, "pending0"),
		rec("a", 1, replog.None, "pending1"),
		rec("b", 0, replog.Some(1), "b0"),
		rec("c", 0, replog.Some(0), "c0"),
	}))
	recs, err := s.All()
	require.Equal(t, []string{"c0", "b0", "pending0", "pending1"}, payloads(t, recs, err))

	require.NoError(t, s.Insert([]replog.Record{rec("a", 1, replog.Some(2), "pending1")}))
	recs, err = s.All()
	require.Equal(t, []string{"c0", "b0", "pending1", "pending0"}, payloads(t, recs, err))

	pending, err := s.Pending(10)
	require.Equal(t, []string{"pending0"}, payloads(t, pending, err))

	head, err := s.MaxGlobalPosition()
	require.NoError(t, err)
	require.Equal(t, replog.Some(2), head)
}

func TestInsertIsIdempotentAndNeverClears(t *testing.T) {
	s := open(t)
	batch := []replog.Record{rec("a", 0, replog.Some(0), "x")}
	require.NoError(t, s.Insert(batch))
	require.NoError(t, s.Insert(batch))
	require.NoError(t, s.Insert([]replog.Record{rec("a", 0, replog.None, "x")}))

	recs, err := s.All()
	require.NoError(t, err)
	require.Len(t, recs, 1)
	require.Equal(t, replog.Some(0), recs[0].GlobalPosition)
}

func TestConflictsRollBack(t *testing.T) {
	s := open(t)
	require.NoError(t, s.Insert([]replog.Record{rec("a", 0, replog.Some(0), "x")}))

	err := s.Insert([]replog.Record{
		rec("b", 0, replog.Some(1), "y"),
		rec("a", 0, replog.Some(5), "x"),
	})
	var ce *replog.ConflictError
	require.ErrorAs(t, err, &ce)
	require.False(t, ce.Position)

	err = s.Insert([]replog.Record{rec("c", 0, replog.Some(0), "z")})
	require.ErrorAs(t, err, &ce)
	require.True(t, ce.Position)

	recs, err := s.All()
	require.Equal(t, []string{"x"}, payloads(t, recs, err))
}

func TestOversizedPositionIsRefused(t *testing.T) {
	s := open(t)
	err := s.Insert([]replog.Record{
		rec("a", 0, replog.Some(0), "x"),
		rec("a", 1, replog.Some(math.MaxInt64+1), "y"),
	})
	require.ErrorIs(t, err, replog.ErrOutOfRange)
	require.Contains(t, err.Error(), "sqlstore:")

	recs, err := s.All()
	require.Empty(t, payloads(t, recs, err))
}

func TestAnonymousRecords(t *testing.T) {
	s := open(t)
	anon := replog.Record{GlobalPosition: replog.Some(3), Payload: []byte("anon")}
	require.NoError(t, s.Insert([]replog.Record{anon}))
	require.NoError(t, s.Insert([]replog.Record{anon}))

	err := s.Insert([]replog.Record{{GlobalPosition: replog.Some(3), Payload: []byte("other")}})
	require.ErrorIs(t, err, replog.ErrConflict)

	recs, err := s.Range(replog.Some(3), replog.Some(3))
	require.Equal(t, []string{"anon"}, payloads(t, recs, err))
}

func TestMaxLocalSequenceAndRange(t *testing.T) {
	s := open(t)
	n, err := s.MaxLocalSequence("a")
	require.NoError(t, err)
	require.Equal(t, int64(-1), n)

	require.NoError(t, s.Insert([]replog.Record{
		rec("a", 0, replog.Some(0), "a0"),
		rec("b", 4, replog.Some(1), "b4"),
		rec("a", 1, replog.Some(2), "a1"),
	}))
	n, err = s.MaxLocalSequence("a")
	require.NoError(t, err)
	require.Equal(t, int64(1), n)

	recs, err := s.Range(replog.Some(1), replog.None)
	require.Equal(t, []string{"b4", "a1"}, payloads(t, recs, err))
	recs, err = s.Range(replog.None, replog.Some(0))
	require.Equal(t, []string{"a0"}, payloads(t, recs, err))
}
