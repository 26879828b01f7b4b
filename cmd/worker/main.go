// Package main runs the pipeline job worker: asset generation, scene regeneration,
// render, and the stale-run sweeper.
package main

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"go.uber.org/zap"

	"github.com/aura-studio/reelsmith/config"
	"github.com/aura-studio/reelsmith/internal/app"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		app.NewLogger(config.LogConfig{}).Fatal("load config", zap.Error(err))
	}
	logger := app.NewLogger(cfg.Log)
	defer logger.Sync()

	a, err := app.New(context.Background(), cfg, logger)
	if err != nil {
		logger.Fatal("startup", zap.Error(err))
	}
	defer a.Close()

	workerCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() { defer wg.Done(); a.Processor().Run(workerCtx) }()
	go func() { defer wg.Done(); a.Reclaimer().Run(workerCtx) }()
	logger.Info("worker started", zap.Int("concurrency", cfg.Worker.Concurrency))

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	// Interrupted renders record render_failed; interrupted asset runs are failed by the
	// sweeper once their TTL expires.
	cancel()
	wg.Wait()
	logger.Info("worker stopped")
}
