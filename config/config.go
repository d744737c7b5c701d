// Package config reads process settings from SEQLOG_* environment
// variables, falling back to defaults suitable for a single host.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

type ServerConfig struct {
	GRPCAddr string
	HTTPAddr string

	WALDir          string
	SegmentSize     int64
	SegmentDuration time.Duration

	OutboxDir        string
	SnapshotDir      string
	SnapshotInterval time.Duration

	// Brokers empty disables the Kafka feed.
	Brokers []string
	Topic   string

	Debug bool
}

type PeerConfig struct {
	PeerID        string
	SequencerAddr string
	// StorePath empty keeps the replica in memory.
	StorePath    string
	SyncInterval time.Duration
	BatchLimit   int
	Debug        bool
}

type FollowerConfig struct {
	Brokers  []string
	Topic    string
	GroupID  string
	HTTPAddr string
	Debug    bool
}

func LoadServer() (ServerConfig, error) {
	var p parser
	cfg := ServerConfig{
		GRPCAddr:         envOrDefault("SEQLOG_GRPC_ADDR", ":50051"),
		HTTPAddr:         envOrDefault("SEQLOG_HTTP_ADDR", ":8080"),
		WALDir:           envOrDefault("SEQLOG_WAL_DIR", "./wal_entry"),
		SegmentSize:      p.int64("SEQLOG_WAL_SEGMENT_BYTES", 2*1024*1024),
		SegmentDuration:  p.duration("SEQLOG_WAL_SEGMENT_DURATION", time.Minute),
		OutboxDir:        envOrDefault("SEQLOG_OUTBOX_DIR", "./wal_exit"),
		SnapshotDir:      envOrDefault("SEQLOG_SNAPSHOT_DIR", "./snapshots"),
		SnapshotInterval: p.duration("SEQLOG_SNAPSHOT_INTERVAL", 5*time.Minute),
		Brokers:          list(os.Getenv("SEQLOG_KAFKA_BROKERS")),
		Topic:            envOrDefault("SEQLOG_KAFKA_TOPIC", "seqlog.records"),
		Debug:            p.bool("SEQLOG_DEBUG", false),
	}
	return cfg, p.err
}

// LoadPeer reads peer settings. Without SEQLOG_PEER_ID the peer gets a
// random identity, which is only safe together with an in-memory store.
func LoadPeer() (PeerConfig, error) {
	var p parser
	cfg := PeerConfig{
		PeerID:        envOrDefault("SEQLOG_PEER_ID", uuid.NewString()),
		SequencerAddr: envOrDefault("SEQLOG_SEQUENCER_ADDR", "localhost:50051"),
		StorePath:     os.Getenv("SEQLOG_STORE_PATH"),
		SyncInterval:  p.duration("SEQLOG_SYNC_INTERVAL", time.Second),
		BatchLimit:    int(p.int64("SEQLOG_BATCH_LIMIT", 100)),
		Debug:         p.bool("SEQLOG_DEBUG", false),
	}
	if p.err == nil && cfg.StorePath != "" && os.Getenv("SEQLOG_PEER_ID") == "" {
		p.err = fmt.Errorf("config: SEQLOG_PEER_ID is required with a durable store")
	}
	return cfg, p.err
}

func LoadFollower() (FollowerConfig, error) {
	var p parser
	cfg := FollowerConfig{
		Brokers:  list(envOrDefault("SEQLOG_KAFKA_BROKERS", "localhost:9092")),
		Topic:    envOrDefault("SEQLOG_KAFKA_TOPIC", "seqlog.records"),
		GroupID:  envOrDefault("SEQLOG_KAFKA_GROUP", "seqlog-follower"),
		HTTPAddr: envOrDefault("SEQLOG_HTTP_ADDR", ":8081"),
		Debug:    p.bool("SEQLOG_DEBUG", false),
	}
	return cfg, p.err
}

// NewLogger builds a development logger when debug is set and a
// production one otherwise.
func NewLogger(debug bool) (*zap.Logger, error) {
	if debug {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func list(v string) []string {
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// parser keeps the first conversion error so callers check once.
type parser struct {
	err error
}

func (p *parser) fail(key, v string, err error) {
	if p.err == nil {
		p.err = fmt.Errorf("config: %s=%q: %w", key, v, err)
	}
}

func (p *parser) int64(key string, def int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		p.fail(key, v, err)
		return def
	}
	return n
}

func (p *parser) duration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		p.fail(key, v, err)
		return def
	}
	return d
}

func (p *parser) bool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		p.fail(key, v, err)
		return def
	}
	return b
}
