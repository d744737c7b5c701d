// Command follower tails the sequencer's Kafka feed into a read replica
// and serves it over the admin HTTP API.
package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"seqlog/api/httpapi"
	"seqlog/config"
	"seqlog/infra/kafka"
)

func main() {
	cfg, err := config.LoadFollower()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logger, err := config.NewLogger(cfg.Debug)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	f := kafka.NewFollower(kafka.NewReader(cfg.Brokers, cfg.Topic, cfg.GroupID), kafka.WithLogger(logger))
	defer f.Close()

	go func() {
		if err := f.Run(ctx); err != nil {
			logger.Error("follower stopped", zap.Error(err))
			stop()
		}
	}()

	httpSrv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           httpapi.NewRouter(f),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("admin server exited", zap.Error(err))
			stop()
		}
	}()

	logger.Info("follower running", zap.String("topic", cfg.Topic), zap.String("http", cfg.HTTPAddr))
	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = httpSrv.Shutdown(shutdownCtx)
}
