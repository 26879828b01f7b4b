package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration loaded from environment.
type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	AWS       AWSConfig
	Providers ProvidersConfig
	Assets    AssetsConfig
	Render    RenderConfig
	Worker    WorkerConfig
	Log       LogConfig
}

// LogConfig selects log level and destination. File output is rotated.
type LogConfig struct {
	Level      string // debug, info, warn, error
	Output     string // stdout, file, both
	File       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port               string
	ReadTimeout        int
	WriteTimeout       int
	CORSAllowedOrigins string // comma-separated, or "*" for all
	// RetryAfter is advertised on 202 responses for queued runs.
	RetryAfter time.Duration
}

// DatabaseConfig holds PostgreSQL connection settings.
type DatabaseConfig struct {
	URL             string // if set, used as-is (e.g. postgres://localhost:5432/reelsmith?sslmode=disable)
	Host            string
	Port            string
	User            string
	Password        string
	DBName          string
	SSLMode         string
	MaxConns        int
	MaxConnLifetime time.Duration
}

// RedisConfig holds Redis connection settings.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// AWSConfig holds credentials and the asset bucket.
type AWSConfig struct {
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	Bucket          string
	Endpoint        string // MinIO / LocalStack
	PublicBaseURL   string // CDN in front of the bucket
	PublicRead      bool
}

// ProvidersConfig configures the speech and image tiers. Empty endpoints disable the HTTP tier.
type ProvidersConfig struct {
	SpeechEndpoint    string
	SpeechAPIKey      string
	DefaultVoice      string
	EdgeTTSBinary     string
	ImageEndpoint     string
	ImageAPIKey       string
	PollinationsURL   string
	PollinationsModel string
	FFprobeBinary     string
	Timeout           time.Duration
	HTTPClientTimeout time.Duration
}

// AssetsConfig tunes asset generation.
type AssetsConfig struct {
	ImageConcurrency  int
	PlaceholderURL    string
	Width             int
	Height            int
	DefaultSceneCount int
	WorkDir           string
}

// RenderConfig tunes the encoder step.
type RenderConfig struct {
	FFmpegBinary  string
	Timeout       time.Duration
	WorkDir       string
	OutputDir     string
	LocalCopyDir  string
	FPS           int
	MaxZoom       float64
	Grade         bool
	Vignette      bool
	Subtitles     bool
	SubtitleStyle string
	Preset        string
	CRF           int
}

// WorkerConfig controls job consumers and the stale-run sweeper.
type WorkerConfig struct {
	Concurrency     int
	StaleTTL        time.Duration
	ReclaimInterval time.Duration
	// Inline runs the job consumer inside the API server process.
	Inline bool
}

// DSN returns the PostgreSQL connection string.
// If DatabaseConfig.URL is set (e.g. DATABASE_URL env), it is used as-is; otherwise built from components.
func (c DatabaseConfig) DSN() string {
	if c.URL != "" {
		return c.URL
	}
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.DBName, c.SSLMode,
	)
}

// Load reads configuration from environment, with optional .env file.
func Load() (*Config, error) {
	_ = godotenv.Load()      // .env
	_ = godotenv.Load("env") // env (no leading dot)

	cfg := &Config{
		Server: ServerConfig{
			Port:               getEnv("PORT", "8080"),
			ReadTimeout:        getEnvInt("READ_TIMEOUT_SEC", 30),
			WriteTimeout:       getEnvInt("WRITE_TIMEOUT_SEC", 30),
			CORSAllowedOrigins: getEnv("CORS_ALLOWED_ORIGINS", "http://localhost:3000"),
			RetryAfter:         getEnvDuration("RETRY_AFTER", 5*time.Second),
		},
		Database: DatabaseConfig{
			URL:             getEnv("DATABASE_URL", ""),
			Host:            getEnv("DB_HOST", "localhost"),
			Port:            getEnv("DB_PORT", "5432"),
			User:            getEnv("DB_USER", "postgres"),
			Password:        getEnv("DB_PASSWORD", "postgres"),
			DBName:          getEnv("DB_NAME", "reelsmith"),
			SSLMode:         getEnv("DB_SSLMODE", "disable"),
			MaxConns:        getEnvInt("DB_MAX_CONNS", 10),
			MaxConnLifetime: getEnvDuration("DB_MAX_CONN_LIFETIME", time.Hour),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
		},
		AWS: AWSConfig{
			Region:          getEnv("AWS_REGION", "us-east-1"),
			AccessKeyID:     getEnv("AWS_ACCESS_KEY_ID", ""),
			SecretAccessKey: getEnv("AWS_SECRET_ACCESS_KEY", ""),
			Bucket:          getEnv("AWS_S3_BUCKET", "reelsmith-assets"),
			Endpoint:        getEnv("AWS_S3_ENDPOINT", ""),
			PublicBaseURL:   getEnv("AWS_S3_PUBLIC_BASE_URL", ""),
			PublicRead:      getEnvBool("AWS_S3_PUBLIC_READ", false),
		},
		Providers: ProvidersConfig{
			SpeechEndpoint:    getEnv("SPEECH_ENDPOINT", ""),
			SpeechAPIKey:      getEnv("SPEECH_API_KEY", ""),
			DefaultVoice:      getEnv("DEFAULT_VOICE", "en-US-AriaNeural"),
			EdgeTTSBinary:     getEnv("EDGE_TTS_BINARY", "edge-tts"),
			ImageEndpoint:     getEnv("IMAGE_ENDPOINT", ""),
			ImageAPIKey:       getEnv("IMAGE_API_KEY", ""),
			PollinationsURL:   getEnv("POLLINATIONS_URL", "https://image.pollinations.ai"),
			PollinationsModel: getEnv("POLLINATIONS_MODEL", "flux"),
			FFprobeBinary:     getEnv("FFPROBE_BINARY", "ffprobe"),
			Timeout:           getEnvDuration("PROVIDER_TIMEOUT", 90*time.Second),
			HTTPClientTimeout: getEnvDuration("PROVIDER_HTTP_TIMEOUT", 2*time.Minute),
		},
		Assets: AssetsConfig{
			ImageConcurrency:  getEnvInt("IMAGE_CONCURRENCY", 3),
			PlaceholderURL:    getEnv("PLACEHOLDER_IMAGE_URL", ""),
			Width:             getEnvInt("VIDEO_WIDTH", 1920),
			Height:            getEnvInt("VIDEO_HEIGHT", 1080),
			DefaultSceneCount: getEnvInt("DEFAULT_SCENE_COUNT", 6),
			WorkDir:           getEnv("ASSET_WORK_DIR", ""),
		},
		Render: RenderConfig{
			FFmpegBinary:  getEnv("FFMPEG_BINARY", "ffmpeg"),
			Timeout:       getEnvDuration("RENDER_TIMEOUT", 10*time.Minute),
			WorkDir:       getEnv("RENDER_WORK_DIR", ""),
			OutputDir:     getEnv("RENDER_OUTPUT_DIR", ""),
			LocalCopyDir:  getEnv("RENDER_LOCAL_COPY_DIR", ""),
			FPS:           getEnvInt("RENDER_FPS", 30),
			MaxZoom:       getEnvFloat("RENDER_MAX_ZOOM", 1.1),
			Grade:         getEnvBool("RENDER_GRADE", true),
			Vignette:      getEnvBool("RENDER_VIGNETTE", false),
			Subtitles:     getEnvBool("RENDER_SUBTITLES", true),
			SubtitleStyle: getEnv("RENDER_SUBTITLE_STYLE", "FontName=Arial,FontSize=22,Outline=2"),
			Preset:        getEnv("RENDER_PRESET", "medium"),
			CRF:           getEnvInt("RENDER_CRF", 20),
		},
		Worker: WorkerConfig{
			Concurrency:     getEnvInt("WORKER_CONCURRENCY", 2),
			StaleTTL:        getEnvDuration("WORKER_STALE_TTL", 30*time.Minute),
			ReclaimInterval: getEnvDuration("WORKER_RECLAIM_INTERVAL", time.Minute),
			Inline:          getEnvBool("WORKER_INLINE", false),
		},
		Log: LogConfig{
			Level:      getEnv("LOG_LEVEL", "info"),
			Output:     getEnv("LOG_OUTPUT", "stdout"),
			File:       getEnv("LOG_FILE", "logs/reelsmith.log"),
			MaxSizeMB:  getEnvInt("LOG_MAX_SIZE_MB", 100),
			MaxBackups: getEnvInt("LOG_MAX_BACKUPS", 5),
			MaxAgeDays: getEnvInt("LOG_MAX_AGE_DAYS", 14),
			Compress:   getEnvBool("LOG_COMPRESS", true),
		},
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.Render.Timeout <= 0 {
		return fmt.Errorf("RENDER_TIMEOUT must be positive")
	}
	if c.Worker.StaleTTL > 0 && c.Worker.StaleTTL <= c.Render.Timeout {
		return fmt.Errorf("WORKER_STALE_TTL (%s) must exceed RENDER_TIMEOUT (%s)", c.Worker.StaleTTL, c.Render.Timeout)
	}
	switch c.Log.Output {
	case "stdout", "file", "both":
	default:
		return fmt.Errorf("LOG_OUTPUT must be stdout, file or both, got %q", c.Log.Output)
	}
	if c.Assets.DefaultSceneCount <= 0 {
		return fmt.Errorf("DEFAULT_SCENE_COUNT must be positive")
	}
	return nil
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

// getEnvDuration accepts Go durations ("90s") or bare seconds ("90").
func getEnvDuration(key string, fallback time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if n, err := strconv.Atoi(v); err == nil {
		return time.Duration(n) * time.Second
	}
	return fallback
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
