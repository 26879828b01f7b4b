// Package main runs the video pipeline HTTP API with graceful shutdown.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

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

	ctx := context.Background()
	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("startup", zap.Error(err))
	}
	defer a.Close()

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      a.Router(),
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}

	// Optional in-process worker for single-binary deployments.
	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()
	var wg sync.WaitGroup
	if cfg.Worker.Inline {
		wg.Add(2)
		go func() { defer wg.Done(); a.Processor().Run(workerCtx) }()
		go func() { defer wg.Done(); a.Reclaimer().Run(workerCtx) }()
		logger.Info("inline pipeline worker started", zap.Int("concurrency", cfg.Worker.Concurrency))
	}

	go func() {
		logger.Info("server listening", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", zap.Error(err))
	}
	workerCancel()
	wg.Wait()
	logger.Info("server stopped")
}
