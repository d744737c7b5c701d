// Package kafka tails the sequenced-record topic into a read-only replica.
package kafka

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"seqlog/api/wire"
	"seqlog/domain/replog"
)

// HeaderPosition matches the header the broadcaster stamps on each message.
const HeaderPosition = "seqlog-position"

// MessageReader is the part of *kafka.Reader the follower uses.
type MessageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// NewReader joins groupID on topic. Offsets are committed explicitly after
// each record is applied.
func NewReader(brokers []string, topic, groupID string) *kafka.Reader {
	return kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers,
		GroupID:  groupID,
		Topic:    topic,
		MinBytes: 1,
		MaxBytes: 10e6,
	})
}

// Follower applies the feed to an in-memory store. Delivery is at least
// once; redelivered records are absorbed by the store's idempotent insert.
type Follower struct {
	reader MessageReader
	log    *zap.Logger

	mu    sync.RWMutex
	store *replog.Store
}

type Option func(*Follower)

func WithLogger(l *zap.Logger) Option {
	return func(f *Follower) { f.log = l }
}

func NewFollower(r MessageReader, opts ...Option) *Follower {
	f := &Follower{
		reader: r,
		log:    zap.NewNop(),
		store:  replog.NewStore(),
	}
	for _, opt := range opts {
		opt(f)
	}
	f.log = f.log.Named("follower")
	return f
}

// Run applies messages until ctx is done or the feed violates the log's
// invariants, in which case the error is returned and the offset is left
// uncommitted.
func (f *Follower) Run(ctx context.Context) error {
	f.log.Info("started")
	for {
		msg, err := f.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				f.log.Info("stopped")
				return nil
			}
			return fmt.Errorf("fetch: %w", err)
		}
		if err := f.Apply(msg); err != nil {
			if replog.IsFatal(err) {
				f.log.Error("feed rejected", zap.Int64("offset", msg.Offset), zap.Error(err))
				return err
			}
			f.log.Warn("skipping undecodable message", zap.Int64("offset", msg.Offset), zap.Error(err))
		}
		if err := f.reader.CommitMessages(ctx, msg); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("commit offset %d: %w", msg.Offset, err)
		}
	}
}

var errBadMessage = errors.New("follower: bad message")

// Apply merges one feed message into the replica.
func (f *Follower) Apply(msg kafka.Message) error {
	rec, err := wire.UnmarshalRecord(msg.Value)
	if err != nil {
		return fmt.Errorf("%w: %v", errBadMessage, err)
	}
	if err := replog.CheckSequenced([]replog.Record{rec}); err != nil {
		return err
	}
	for _, h := range msg.Headers {
		if h.Key != HeaderPosition {
			continue
		}
		if want := strconv.FormatUint(rec.GlobalPosition.Uint64, 10); string(h.Value) != want {
			return fmt.Errorf("%w: header position %s, record position %s", errBadMessage, h.Value, want)
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	return f.store.Insert([]replog.Record{rec})
}

// Range returns replicated records in [from, to].
func (f *Follower) Range(ctx context.Context, from, to replog.NullUint64) ([]replog.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.store.Range(from, to), nil
}

// Head returns the highest replicated position.
func (f *Follower) Head() replog.NullUint64 {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.store.MaxGlobalPosition()
}

func (f *Follower) Close() error {
	return f.reader.Close()
}
