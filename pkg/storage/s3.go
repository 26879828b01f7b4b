package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"go.uber.org/zap"
)

// FolderVideos is the S3 prefix for every generated asset.
const FolderVideos = "videos"

var contentTypes = map[string]string{
	".png":  "image/png",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".webp": "image/webp",
	".mp3":  "audio/mpeg",
	".srt":  "application/x-subrip",
	".mp4":  "video/mp4",
}

// S3Config holds S3 client configuration.
type S3Config struct {
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	Bucket          string
	// Endpoint overrides the S3 endpoint (MinIO, LocalStack). Path-style addressing is used when set.
	Endpoint string
	// PublicBaseURL, when set, replaces the virtual-hosted bucket URL in returned object URLs (CDN).
	PublicBaseURL string
	PublicRead    bool
}

// S3 stores generated assets in a single bucket.
type S3 struct {
	client   *s3.Client
	uploader *manager.Uploader
	cfg      S3Config
	logger   *zap.Logger
}

// NewS3 creates an S3 client using credentials from config or the environment (AWS_ACCESS_KEY_ID, AWS_SECRET_ACCESS_KEY).
func NewS3(ctx context.Context, cfg S3Config, logger *zap.Logger) (*S3, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	accessKey := cfg.AccessKeyID
	secretKey := cfg.SecretAccessKey
	if accessKey == "" || secretKey == "" {
		accessKey = os.Getenv("AWS_ACCESS_KEY_ID")
		secretKey = os.Getenv("AWS_SECRET_ACCESS_KEY")
	}
	opts := []func(*config.LoadOptions) error{
		config.WithRegion(cfg.Region),
	}
	if accessKey != "" && secretKey != "" {
		opts = append(opts, config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			accessKey, secretKey, "",
		)))
		logger.Info("S3 client using static credentials", zap.String("region", cfg.Region), zap.String("bucket", cfg.Bucket))
	} else {
		logger.Warn("S3 client using default credential chain (AWS_ACCESS_KEY_ID/AWS_SECRET_ACCESS_KEY not set)")
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})
	uploader := manager.NewUploader(client, func(u *manager.Uploader) {
		u.PartSize = 5 * 1024 * 1024 // 5MB parts for streaming
	})
	return &S3{
		client:   client,
		uploader: uploader,
		cfg:      cfg,
		logger:   logger,
	}, nil
}

// ContentTypeFor returns the MIME type for a key's extension.
func ContentTypeFor(key string) string {
	if ct, ok := contentTypes[strings.ToLower(path.Ext(key))]; ok {
		return ct
	}
	return "application/octet-stream"
}

// SceneKey returns videos/{video_id}/scene_{NNN}_{run}.png. The run suffix gives each
// regeneration a fresh URL so caches never serve a stale image.
func SceneKey(videoID string, index int, run string) string {
	return path.Join(FolderVideos, videoID, fmt.Sprintf("scene_%03d_%s.png", index, shortRun(run)))
}

// AudioKey returns videos/{video_id}/audio_{run}.mp3.
func AudioKey(videoID, run string) string {
	return path.Join(FolderVideos, videoID, fmt.Sprintf("audio_%s.mp3", shortRun(run)))
}

// CaptionsKey returns videos/{video_id}/captions_{run}.srt.
func CaptionsKey(videoID, run string) string {
	return path.Join(FolderVideos, videoID, fmt.Sprintf("captions_%s.srt", shortRun(run)))
}

// FinalKey returns videos/{video_id}/final_{run}.mp4.
func FinalKey(videoID, run string) string {
	return path.Join(FolderVideos, videoID, fmt.Sprintf("final_%s.mp4", shortRun(run)))
}

// PlaceholderKey is the shared object used for scenes whose image could not be generated.
func PlaceholderKey() string {
	return path.Join(FolderVideos, "_shared", "placeholder.png")
}

func shortRun(run string) string {
	run = strings.ReplaceAll(run, "-", "")
	if len(run) > 12 {
		run = run[:12]
	}
	if run == "" {
		run = "0"
	}
	return run
}

// Bucket returns the asset bucket name.
func (s *S3) Bucket() string { return s.cfg.Bucket }

// PublicURL returns the URL under which key is served.
func (s *S3) PublicURL(key string) string {
	if s.cfg.PublicBaseURL != "" {
		return strings.TrimRight(s.cfg.PublicBaseURL, "/") + "/" + key
	}
	if s.cfg.Endpoint != "" {
		return fmt.Sprintf("%s/%s/%s", strings.TrimRight(s.cfg.Endpoint, "/"), s.cfg.Bucket, key)
	}
	return fmt.Sprintf("https://%s.s3.%s.amazonaws.com/%s", s.cfg.Bucket, s.cfg.Region, key)
}

// Put streams body to key and returns its public URL.
func (s *S3) Put(ctx context.Context, key, contentType string, body io.Reader, size int64) (string, error) {
	if contentType == "" {
		contentType = ContentTypeFor(key)
	}
	var contentLength *int64
	if size > 0 {
		contentLength = &size
	}
	input := &s3.PutObjectInput{
		Bucket:        aws.String(s.cfg.Bucket),
		Key:           aws.String(key),
		Body:          body,
		ContentType:   aws.String(contentType),
		ContentLength: contentLength,
	}
	if s.cfg.PublicRead {
		input.ACL = types.ObjectCannedACLPublicRead
	}
	if _, err := s.uploader.Upload(ctx, input); err != nil {
		return "", fmt.Errorf("upload %s: %w", key, err)
	}
	s.logger.Debug("object uploaded", zap.String("key", key), zap.Int64("size", size))
	return s.PublicURL(key), nil
}

// Open returns the body of an object. Caller must close it.
func (s *S3) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.cfg.Bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("get object: %w", err)
	}
	return out.Body, nil
}

// KeyForURL maps a URL returned by PublicURL back to its key.
func (s *S3) KeyForURL(rawURL string) (string, bool) {
	prefix := s.PublicURL("")
	if !strings.HasPrefix(rawURL, prefix) {
		return "", false
	}
	return strings.TrimPrefix(rawURL, prefix), true
}
