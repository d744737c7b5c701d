// Package entry is the sequencer's write-ahead log: a directory of
// append-only segments holding one checksummed frame per sequenced batch.
package entry

import (
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"

	"seqlog/infra/memory"
)

var ErrClosed = errors.New("entry wal: closed")

var framePool = memory.NewBufferPool(4096)

type Config struct {
	Dir             string
	SegmentSize     int64
	SegmentDuration time.Duration
	// NoSync skips fsync after each frame. Tests only.
	NoSync bool
	Logger *zap.Logger
}

type WAL struct {
	mu         sync.Mutex
	dir        string
	segSize    int64
	segDur     time.Duration
	sync       bool
	current    *segment
	lastRotate time.Time
	log        *zap.Logger
}

// Open resumes the highest existing segment, cutting off a torn frame left
// by a crash, or starts segment 0 in an empty directory.
func Open(cfg Config) (*WAL, error) {
	if cfg.SegmentSize <= 0 {
		cfg.SegmentSize = 64 << 20
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, err
	}

	idx, err := listSegments(cfg.Dir)
	if err != nil {
		return nil, err
	}
	log := cfg.Logger.Named("entry-wal")
	last := 0
	if len(idx) > 0 {
		last = idx[len(idx)-1]
		path := segmentPath(cfg.Dir, last)
		valid, torn, err := scanSegment(path, nil)
		if err != nil {
			return nil, err
		}
		if torn {
			log.Warn("truncating torn tail", zap.String("segment", path), zap.Int64("valid", valid))
			if err := os.Truncate(path, valid); err != nil {
				return nil, fmt.Errorf("truncate torn tail: %w", err)
			}
		}
	}

	seg, err := openSegment(cfg.Dir, last)
	if err != nil {
		return nil, err
	}
	return &WAL{
		dir:        cfg.Dir,
		segSize:    cfg.SegmentSize,
		segDur:     cfg.SegmentDuration,
		sync:       !cfg.NoSync,
		current:    seg,
		lastRotate: time.Now(),
		log:        log,
	}, nil
}

func (w *WAL) Append(f *Frame) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.current == nil {
		return ErrClosed
	}
	bp := framePool.Get()
	buf := f.appendTo((*bp)[:0])
	err := w.current.append(buf, w.sync)
	*bp = buf[:0]
	framePool.Put(bp)
	if err != nil {
		return err
	}

	full := w.current.offset >= w.segSize
	stale := w.segDur > 0 && time.Since(w.lastRotate) >= w.segDur
	if full || stale {
		return w.rotate()
	}
	return nil
}

func (w *WAL) rotate() error {
	next := w.current.index + 1
	if err := w.current.close(); err != nil {
		return err
	}

	seg, err := openSegment(w.dir, next)
	if err != nil {
		w.current = nil
		return err
	}
	w.current = seg
	w.lastRotate = time.Now()
	w.log.Debug("rotated", zap.Int("segment", next))
	return nil
}

// TruncateBefore removes every closed segment whose frames all have
// seq <= seq. The segment being written is never removed.
func (w *WAL) TruncateBefore(seq uint64) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	idx, err := listSegments(w.dir)
	if err != nil {
		return err
	}
	for _, i := range idx {
		if w.current != nil && i >= w.current.index {
			break
		}
		path := segmentPath(w.dir, i)
		maxSeq, ok, err := maxSeqInSegment(path)
		if err != nil {
			w.log.Warn("skip unreadable segment", zap.String("segment", path), zap.Error(err))
			continue
		}
		if !ok || maxSeq <= seq {
			if err := os.Remove(path); err != nil {
				return err
			}
			w.log.Debug("removed segment", zap.String("segment", path))
		}
	}
	return nil
}

func (w *WAL) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.current == nil {
		return nil
	}
	err := w.current.close()
	w.current = nil
	return err
}
