package config

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func TestServerDefaults(t *testing.T) {
	cfg, err := LoadServer()
	require.NoError(t, err)
	require.Equal(t, ":50051", cfg.GRPCAddr)
	require.Equal(t, time.Minute, cfg.SegmentDuration)
	require.Empty(t, cfg.Brokers)
}

func TestServerOverrides(t *testing.T) {
	t.Setenv("SEQLOG_KAFKA_BROKERS", "k1:9092, k2:9092,")
	t.Setenv("SEQLOG_SNAPSHOT_INTERVAL", "30s")
	t.Setenv("SEQLOG_WAL_SEGMENT_BYTES", "4096")

	cfg, err := LoadServer()
	require.NoError(t, err)
	require.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Brokers)
	require.Equal(t, 30*time.Second, cfg.SnapshotInterval)
	require.Equal(t, int64(4096), cfg.SegmentSize)
}

func TestInvalidValue(t *testing.T) {
	t.Setenv("SEQLOG_SYNC_INTERVAL", "soon")
	_, err := LoadPeer()
	require.ErrorContains(t, err, "SEQLOG_SYNC_INTERVAL")
}

func TestPeerIDDefaultsToUUID(t *testing.T) {
	cfg, err := LoadPeer()
	require.NoError(t, err)
	_, err = uuid.Parse(cfg.PeerID)
	require.NoError(t, err)
}

func TestDurableStoreNeedsPeerID(t *testing.T) {
	t.Setenv("SEQLOG_STORE_PATH", "peer.db")
	_, err := LoadPeer()
	require.Error(t, err)

	t.Setenv("SEQLOG_PEER_ID", "laptop")
	cfg, err := LoadPeer()
	require.NoError(t, err)
	require.Equal(t, "laptop", cfg.PeerID)
}
