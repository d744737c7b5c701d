// Package broadcaster publishes sequenced records from the outbox to Kafka,
// in position order, at least once.
package broadcaster

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/IBM/sarama"
	"go.uber.org/zap"

	"seqlog/api/wire"
	"seqlog/domain/replog"
	exitwal "seqlog/infra/wal/exit"
)

const (
	DefaultInterval = 250 * time.Millisecond
	DefaultBatch    = 256
)

// HeaderPosition carries the record's global position in decimal.
const HeaderPosition = "seqlog-position"

type Broadcaster struct {
	outbox   *exitwal.ExitWAL
	producer sarama.SyncProducer
	topic    string
	interval time.Duration
	batch    int
	log      *zap.Logger
}

type Option func(*Broadcaster)

func WithInterval(d time.Duration) Option {
	return func(b *Broadcaster) { b.interval = d }
}

// WithBatch caps the records published per pass.
func WithBatch(n int) Option {
	return func(b *Broadcaster) { b.batch = n }
}

func WithLogger(l *zap.Logger) Option {
	return func(b *Broadcaster) { b.log = l }
}

func New(outbox *exitwal.ExitWAL, producer sarama.SyncProducer, topic string, opts ...Option) *Broadcaster {
	b := &Broadcaster{
		outbox:   outbox,
		producer: producer,
		topic:    topic,
		interval: DefaultInterval,
		batch:    DefaultBatch,
		log:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(b)
	}
	b.log = b.log.Named("broadcaster")
	return b
}

// NewProducer dials brokers with the producer settings the feed relies on:
// acknowledged by all replicas, and every record on partition 0 so that the
// topic keeps global order.
func NewProducer(brokers []string, clientID string) (sarama.SyncProducer, error) {
	cfg := sarama.NewConfig()
	cfg.ClientID = clientID
	cfg.Producer.Return.Successes = true
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Producer.Retry.Max = 5
	cfg.Producer.Idempotent = true
	cfg.Net.MaxOpenRequests = 1
	cfg.Producer.Partitioner = sarama.NewManualPartitioner
	return sarama.NewSyncProducer(brokers, cfg)
}

// Run publishes on every tick until ctx is done.
func (b *Broadcaster) Run(ctx context.Context) {
	b.log.Info("started", zap.String("topic", b.topic))
	ticker := time.NewTicker(b.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			b.log.Info("stopped")
			return
		case <-ticker.C:
			if _, err := b.Flush(ctx); err != nil {
				b.log.Warn("publish pass failed", zap.Error(err))
			}
		}
	}
}

var errBatchFull = errors.New("batch full")

// Flush makes one publish pass and returns how many records were acked.
// It stops at the first transient failure so that the topic never holds
// a record ahead of an earlier one.
func (b *Broadcaster) Flush(ctx context.Context) (int, error) {
	var pending []exitwal.ExitRecord
	err := b.outbox.ScanPending(func(_ uint64, rec exitwal.ExitRecord) error {
		pending = append(pending, rec)
		if len(pending) >= b.batch {
			return errBatchFull
		}
		return nil
	})
	if err != nil && !errors.Is(err, errBatchFull) {
		return 0, err
	}

	acked := 0
	for _, rec := range pending {
		if err := ctx.Err(); err != nil {
			return acked, err
		}
		pos := rec.Record.GlobalPosition.Uint64

		if err := b.outbox.UpdateState(pos, exitwal.StateSent, rec.Retries); err != nil {
			return acked, err
		}
		if _, _, err := b.producer.SendMessage(b.message(rec.Record)); err != nil {
			if isPermanent(err) {
				b.log.Error("dropping record", zap.Uint64("position", pos), zap.Error(err))
				if err := b.outbox.UpdateState(pos, exitwal.StateFailed, rec.Retries+1); err != nil {
					return acked, err
				}
				continue
			}
			if uerr := b.outbox.UpdateState(pos, exitwal.StateNew, rec.Retries+1); uerr != nil {
				return acked, uerr
			}
			return acked, err
		}
		if err := b.outbox.UpdateState(pos, exitwal.StateAcked, rec.Retries); err != nil {
			return acked, err
		}
		acked++
	}
	if acked > 0 {
		b.log.Debug("published", zap.Int("count", acked))
	}
	return acked, nil
}

func (b *Broadcaster) message(rec replog.Record) *sarama.ProducerMessage {
	return &sarama.ProducerMessage{
		Topic:     b.topic,
		Partition: 0,
		Key:       sarama.StringEncoder(rec.PeerID),
		Value:     sarama.ByteEncoder(wire.AppendRecord(nil, rec)),
		Headers: []sarama.RecordHeader{{
			Key:   []byte(HeaderPosition),
			Value: []byte(strconv.FormatUint(rec.GlobalPosition.Uint64, 10)),
		}},
	}
}

func isPermanent(err error) bool {
	return errors.Is(err, sarama.ErrMessageSizeTooLarge) || errors.Is(err, sarama.ErrInvalidMessage)
}

func (b *Broadcaster) Close() error {
	return b.producer.Close()
}
