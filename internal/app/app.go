// Package app wires the pipeline components shared by the API server and the worker.
package app

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/aura-studio/reelsmith/config"
	"github.com/aura-studio/reelsmith/internal/assets"
	"github.com/aura-studio/reelsmith/internal/events"
	"github.com/aura-studio/reelsmith/internal/middleware"
	"github.com/aura-studio/reelsmith/internal/providers"
	"github.com/aura-studio/reelsmith/internal/render"
	"github.com/aura-studio/reelsmith/internal/runs"
	"github.com/aura-studio/reelsmith/internal/videos"
	"github.com/aura-studio/reelsmith/internal/worker"
	"github.com/aura-studio/reelsmith/pkg/database"
	"github.com/aura-studio/reelsmith/pkg/queue"
	"github.com/aura-studio/reelsmith/pkg/redis"
	"github.com/aura-studio/reelsmith/pkg/response"
	"github.com/aura-studio/reelsmith/pkg/storage"
)

// App holds the connected infrastructure and the pipeline services built on it.
type App struct {
	Config *config.Config
	Logger *zap.Logger

	Pool   *pgxpool.Pool
	Redis  *redis.Client
	S3     *storage.S3
	Videos *videos.Repository
	Runs   *runs.Registry
	Events *events.RedisPubSub
	Queue  *queue.Queue

	Assets *assets.Orchestrator
	Render *render.Engine
}

// NewLogger builds the production JSON logger. File output goes through a rotating writer.
func NewLogger(cfg config.LogConfig) *zap.Logger {
	enc := zap.NewProductionEncoderConfig()
	enc.TimeKey = "timestamp"
	enc.EncodeTime = zapcore.ISO8601TimeEncoder

	level := zap.NewAtomicLevelAt(zapcore.InfoLevel)
	if cfg.Level != "" {
		if l, err := zapcore.ParseLevel(cfg.Level); err == nil {
			level.SetLevel(l)
		}
	}

	var sinks []zapcore.WriteSyncer
	if cfg.Output == "file" || cfg.Output == "both" {
		sinks = append(sinks, zapcore.AddSync(&lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
			Compress:   cfg.Compress,
		}))
	}
	if cfg.Output != "file" {
		sinks = append(sinks, zapcore.Lock(os.Stdout))
	}

	core := zapcore.NewCore(zapcore.NewJSONEncoder(enc), zapcore.NewMultiWriteSyncer(sinks...), level)
	return zap.New(core, zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel))
}

// New connects to Postgres, Redis and S3, applies migrations and builds the services.
// Close releases every connection.
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*App, error) {
	a := &App{Config: cfg, Logger: logger, Runs: runs.NewRegistry()}

	pool, err := database.NewPostgresPool(ctx, cfg.Database.DSN(), database.PoolOptions{
		MaxConns:        int32(cfg.Database.MaxConns),
		MaxConnLifetime: cfg.Database.MaxConnLifetime,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("database: %w", err)
	}
	a.Pool = pool
	if err := database.Migrate(ctx, pool, logger); err != nil {
		a.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	rdb, err := redis.NewClient(ctx, redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
		PoolSize: cfg.Worker.Concurrency + 10,
	}, logger)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("redis: %w", err)
	}
	a.Redis = rdb

	s3Client, err := storage.NewS3(ctx, storage.S3Config{
		Region:          cfg.AWS.Region,
		AccessKeyID:     cfg.AWS.AccessKeyID,
		SecretAccessKey: cfg.AWS.SecretAccessKey,
		Bucket:          cfg.AWS.Bucket,
		Endpoint:        cfg.AWS.Endpoint,
		PublicBaseURL:   cfg.AWS.PublicBaseURL,
		PublicRead:      cfg.AWS.PublicRead,
	}, logger)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("s3: %w", err)
	}
	a.S3 = s3Client

	a.Videos = videos.NewRepository(pool)
	a.Events = events.NewRedisPubSub(rdb.Client, logger)
	a.Queue = queue.NewQueue(rdb.Client, logger)

	httpClient := &http.Client{Timeout: cfg.Providers.HTTPClientTimeout}
	a.Assets = assets.NewOrchestrator(a.Videos, s3Client,
		speechChain(cfg.Providers, httpClient, logger),
		imageChain(cfg.Providers, cfg.Assets, httpClient, logger),
		providers.NewFFprobe(cfg.Providers.FFprobeBinary, nil),
		a.Events, a.Runs,
		assets.Config{
			ImageConcurrency:  cfg.Assets.ImageConcurrency,
			PlaceholderURL:    cfg.Assets.PlaceholderURL,
			Width:             cfg.Assets.Width,
			Height:            cfg.Assets.Height,
			WorkDir:           cfg.Assets.WorkDir,
			DefaultSceneCount: cfg.Assets.DefaultSceneCount,
		}, logger.Named("assets"))

	a.Render = render.NewEngine(a.Videos, s3Client, render.NewAssetFetcher(s3Client, httpClient), nil,
		a.Events, a.Runs, renderConfig(cfg), logger.Named("render"))
	return a, nil
}

func speechChain(cfg config.ProvidersConfig, client *http.Client, logger *zap.Logger) *providers.SpeechChain {
	var tiers []providers.SpeechSynthesizer
	if cfg.SpeechEndpoint != "" {
		tiers = append(tiers, providers.NewHTTPSpeech(cfg.SpeechEndpoint, cfg.SpeechAPIKey, cfg.DefaultVoice, client))
	}
	tiers = append(tiers, providers.NewEdgeTTS(cfg.EdgeTTSBinary, cfg.DefaultVoice, "", nil))
	return providers.NewSpeechChain(cfg.Timeout, logger.Named("speech"), tiers...)
}

func imageChain(cfg config.ProvidersConfig, size config.AssetsConfig, client *http.Client, logger *zap.Logger) *providers.ImageChain {
	var tiers []providers.ImageSynthesizer
	if cfg.ImageEndpoint != "" {
		tiers = append(tiers, providers.NewHTTPImage(cfg.ImageEndpoint, cfg.ImageAPIKey, size.Width, size.Height, client))
	}
	tiers = append(tiers, providers.NewPollinations(cfg.PollinationsURL, cfg.PollinationsModel, size.Width, size.Height, client))
	return providers.NewImageChain(cfg.Timeout, logger.Named("image"), tiers...)
}

func renderConfig(cfg *config.Config) render.Config {
	return render.Config{
		FFmpegBinary:     cfg.Render.FFmpegBinary,
		Timeout:          cfg.Render.Timeout,
		WorkDir:          cfg.Render.WorkDir,
		OutputDir:        cfg.Render.OutputDir,
		LocalCopyDir:     cfg.Render.LocalCopyDir,
		DisableSubtitles: !cfg.Render.Subtitles,
		Preset:           cfg.Render.Preset,
		CRF:              cfg.Render.CRF,
		Look: render.Look{
			Width:         cfg.Assets.Width,
			Height:        cfg.Assets.Height,
			FPS:           cfg.Render.FPS,
			MaxZoom:       cfg.Render.MaxZoom,
			Grade:         cfg.Render.Grade,
			Vignette:      cfg.Render.Vignette,
			SubtitleStyle: cfg.Render.SubtitleStyle,
		},
	}
}

// Router builds the HTTP API.
func (a *App) Router() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.CORS(a.Config.Server.CORSAllowedOrigins))
	router.Use(middleware.Logger(a.Logger))

	router.GET("/health", a.health)

	h := videos.NewHandler(a.Videos, a.Assets, a.Render, a.Queue, a.Events, videos.Options{
		RetryAfter:        a.Config.Server.RetryAfter,
		DefaultSceneCount: a.Config.Assets.DefaultSceneCount,
	}, a.Logger.Named("videos"))
	h.Register(router)
	return router
}

func (a *App) health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()
	if err := a.Pool.Ping(ctx); err != nil {
		response.ServiceUnavailable(c, "database unavailable")
		return
	}
	if err := a.Redis.Ping(ctx).Err(); err != nil {
		response.ServiceUnavailable(c, "redis unavailable")
		return
	}
	response.OK(c, gin.H{"status": "ok"})
}

// Processor builds the job consumer.
func (a *App) Processor() *worker.Processor {
	return worker.NewProcessor(a.Queue, a.Assets, a.Render, a.Config.Worker.Concurrency, a.Logger.Named("worker"))
}

// Reclaimer builds the stale-run sweeper.
func (a *App) Reclaimer() *worker.Reclaimer {
	return worker.NewReclaimer(a.Videos, a.Runs, a.Events, a.Config.Worker.StaleTTL, a.Config.Worker.ReclaimInterval, a.Logger.Named("reclaim"))
}

// Close releases connections in reverse order of acquisition.
func (a *App) Close() {
	if a.Redis != nil {
		_ = a.Redis.Close()
	}
	if a.Pool != nil {
		a.Pool.Close()
	}
}
