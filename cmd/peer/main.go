// Command peer appends each line of stdin to the replicated log and keeps
// its replica in sync with the sequencer.
package main

import (
	"bufio"
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"seqlog/api/grpcserver"
	"seqlog/config"
	"seqlog/domain/peer"
	"seqlog/domain/replog"
	"seqlog/infra/sqlstore"
	"seqlog/jobs/syncer"
)

func main() {
	cfg, err := config.LoadPeer()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logger, err := config.NewLogger(cfg.Debug)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	opts := []peer.Option{
		peer.WithBatchLimit(cfg.BatchLimit),
		peer.WithLogger(logger),
	}
	if cfg.StorePath != "" {
		store, err := sqlstore.Open(cfg.StorePath)
		if err != nil {
			logger.Fatal("store init failed", zap.String("path", cfg.StorePath), zap.Error(err))
		}
		defer store.Close()
		opts = append(opts, peer.WithStore(store))
	}
	p := peer.New(replog.PeerID(cfg.PeerID), opts...)

	client, conn, err := grpcserver.Dial(cfg.SequencerAddr)
	if err != nil {
		logger.Fatal("dial failed", zap.Error(err))
	}
	defer conn.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sy := syncer.New(p, client, syncer.WithInterval(cfg.SyncInterval), syncer.WithLogger(logger))
	go func() {
		if err := sy.Run(ctx); err != nil {
			logger.Error("sync stopped", zap.Error(err))
			stop()
		}
	}()

	logger.Info("peer running", zap.String("peer", cfg.PeerID), zap.String("sequencer", cfg.SequencerAddr))

	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(os.Stdin)
		for sc.Scan() {
			lines <- sc.Text()
		}
	}()

loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case line, ok := <-lines:
			if !ok {
				break loop
			}
			rec, err := p.Append([]byte(line))
			if err != nil {
				logger.Error("append failed", zap.Error(err))
				continue
			}
			fmt.Printf("appended %s\n", rec)
		}
	}

	flushCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := sy.SyncNow(flushCtx); err != nil {
		logger.Warn("final sync failed", zap.Error(err))
	}

	recs, err := p.Records()
	if err != nil {
		logger.Fatal("read replica", zap.Error(err))
	}
	for _, r := range recs {
		fmt.Println(r)
	}
}
