package main

import (
	"context"
	"errors"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"seqlog/api/grpcserver"
	"seqlog/api/httpapi"
	"seqlog/config"
	entrywal "seqlog/infra/wal/entry"
	exitwal "seqlog/infra/wal/exit"
	"seqlog/jobs/broadcaster"
	"seqlog/service"
)

func main() {
	cfg, err := config.LoadServer()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logger, err := config.NewLogger(cfg.Debug)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	// ---------------- Entry WAL ----------------

	entryWAL, err := entrywal.Open(entrywal.Config{
		Dir:             cfg.WALDir,
		SegmentSize:     cfg.SegmentSize,
		SegmentDuration: cfg.SegmentDuration,
		Logger:          logger,
	})
	if err != nil {
		logger.Fatal("entry WAL init failed", zap.Error(err))
	}
	defer entryWAL.Close()

	// ---------------- Outbox ----------------

	outbox, err := exitwal.Open(cfg.OutboxDir)
	if err != nil {
		logger.Fatal("outbox init failed", zap.Error(err))
	}
	defer outbox.Close()

	// ---------------- Service + recovery ----------------

	svc := service.New(service.Config{
		EntryWAL:    entryWAL,
		Outbox:      outbox,
		SnapshotDir: cfg.SnapshotDir,
		Logger:      logger,
	})
	if err := svc.Recover(cfg.WALDir); err != nil {
		logger.Fatal("recovery failed", zap.Error(err))
	}

	// ---------------- Background jobs ----------------

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	svc.StartSnapshotJob(ctx, cfg.SnapshotInterval)

	if len(cfg.Brokers) > 0 {
		producer, err := broadcaster.NewProducer(cfg.Brokers, "seqlog-server")
		if err != nil {
			logger.Fatal("kafka producer init failed", zap.Error(err))
		}
		bc := broadcaster.New(outbox, producer, cfg.Topic, broadcaster.WithLogger(logger))
		defer bc.Close()
		go bc.Run(ctx)
	} else {
		logger.Info("no kafka brokers configured, feed disabled")
	}

	// ---------------- gRPC + admin HTTP ----------------

	lis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		logger.Fatal("listen failed", zap.String("addr", cfg.GRPCAddr), zap.Error(err))
	}
	grpcSrv := grpcserver.NewGRPCServer(svc, logger)
	go func() {
		if err := grpcSrv.Serve(lis); err != nil {
			logger.Error("gRPC server exited", zap.Error(err))
			stop()
		}
	}()

	httpSrv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           httpapi.NewRouter(svc),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("admin server exited", zap.Error(err))
			stop()
		}
	}()

	logger.Info("sequencer running",
		zap.String("grpc", cfg.GRPCAddr),
		zap.String("http", cfg.HTTPAddr),
		zap.Stringer("head", svc.Head()),
	)

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = httpSrv.Shutdown(shutdownCtx)
	grpcSrv.GracefulStop()

	if err := svc.TakeSnapshot(); err != nil {
		logger.Warn("final snapshot failed", zap.Error(err))
	}
}
