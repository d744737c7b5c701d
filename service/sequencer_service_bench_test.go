package service

import (
	"context"
	"strconv"
	"sync/atomic"
	"testing"

	"seqlog/domain/replog"
	entrywal "seqlog/infra/wal/entry"
	exitwal "seqlog/infra/wal/exit"
)

func BenchmarkAccept_Core(b *testing.B) {
	entryWAL, _ := entrywal.Open(entrywal.Config{
		Dir:         b.TempDir(),
		SegmentSize: 64 << 20,
		NoSync:      true,
	})
	defer entryWAL.Close()
	exitWAL, _ := exitwal.Open(b.TempDir())
	defer exitWAL.Close()

	svc := New(Config{EntryWAL: entryWAL, Outbox: exitWAL})

	var peers atomic.Int64
	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		id := replog.PeerID("peer" + strconv.FormatInt(peers.Add(1), 10))
		var seq uint64
		for pb.Next() {
			msg := replog.SyncMessage{Items: []replog.Record{{
				PeerID:        id,
				LocalSequence: replog.Some(seq),
				Payload:       []byte("payload"),
			}}}
			seq++
			if err := svc.Accept(context.Background(), msg); err != nil {
				b.Fatal(err)
			}
		}
	})
}
