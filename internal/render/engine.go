// Package render turns a video's generated assets into the final encoded MP4.
package render

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/aura-studio/reelsmith/internal/events"
	"github.com/aura-studio/reelsmith/internal/models"
	"github.com/aura-studio/reelsmith/internal/runs"
	"github.com/aura-studio/reelsmith/pkg/procrun"
	"github.com/aura-studio/reelsmith/pkg/storage"
)

// Store persists videos. Update writes the record only when fn returns nil.
type Store interface {
	Get(ctx context.Context, id uuid.UUID) (*models.Video, error)
	Update(ctx context.Context, id uuid.UUID, fn func(*models.Video) error) (*models.Video, error)
}

// BlobStore uploads the encoded video and returns its public URL.
type BlobStore interface {
	Put(ctx context.Context, key, contentType string, body io.Reader, size int64) (string, error)
}

// DefaultTimeout bounds a single encoder invocation.
const DefaultTimeout = 10 * time.Minute

// Config tunes the engine.
type Config struct {
	FFmpegBinary string
	Timeout      time.Duration
	// WorkDir holds downloaded inputs; each run uses its own subdirectory.
	WorkDir string
	// OutputDir holds encoded files until they are uploaded.
	OutputDir string
	// LocalCopyDir, when set, receives a copy of every completed video as <id>.mp4.
	LocalCopyDir     string
	DisableSubtitles bool
	Preset           string
	CRF              int
	Look             Look
}

func (c *Config) setDefaults() {
	if c.FFmpegBinary == "" {
		c.FFmpegBinary = "ffmpeg"
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	if c.WorkDir == "" {
		c.WorkDir = os.TempDir()
	}
	if c.OutputDir == "" {
		c.OutputDir = filepath.Join(c.WorkDir, "encoded")
	}
	if c.Preset == "" {
		c.Preset = "medium"
	}
	if c.CRF <= 0 {
		c.CRF = 20
	}
	if c.Look.Width <= 0 {
		c.Look.Width = 1920
	}
	if c.Look.Height <= 0 {
		c.Look.Height = 1080
	}
	if c.Look.FPS <= 0 {
		c.Look.FPS = 30
	}
}

// Outcome reports the state of a video after a render run.
type Outcome struct {
	VideoID       uuid.UUID     `json:"video_id"`
	Status        models.Status `json:"status"`
	FinalVideoURL string        `json:"final_video_url,omitempty"`
	Subtitles     bool          `json:"subtitles"`
	// Reused is set when a previously encoded file was uploaded without re-encoding.
	Reused bool `json:"reused"`
}

// failureIndicators are encoder messages that mean the output is unusable even when
// the process exits zero.
var failureIndicators = []string{
	"Error opening filters",
	"Error initializing filter",
	"Error reinitializing filters",
	"Unable to parse option value",
	"Invalid data found when processing input",
	"Error while opening encoder",
	"Conversion failed!",
	"No such file or directory",
	"Unable to open",
	"Could not open",
}

// Engine renders videos whose assets are complete.
type Engine struct {
	store  Store
	blobs  BlobStore
	fetch  Fetcher
	run    procrun.Runner
	events events.Publisher
	runs   *runs.Registry
	cfg    Config
	logger *zap.Logger
	now    func() time.Time
}

// NewEngine wires the engine. A nil runner executes real processes.
func NewEngine(store Store, blobs BlobStore, fetch Fetcher, run procrun.Runner, pub events.Publisher,
	reg *runs.Registry, cfg Config, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	if pub == nil {
		pub = events.Nop{}
	}
	if reg == nil {
		reg = runs.NewRegistry()
	}
	if fetch == nil {
		fetch = NewAssetFetcher(nil, nil)
	}
	cfg.setDefaults()
	return &Engine{
		store:  store,
		blobs:  blobs,
		fetch:  fetch,
		run:    procrun.OrExec(run),
		events: pub,
		runs:   reg,
		cfg:    cfg,
		logger: logger,
		now:    time.Now,
	}
}

// Render claims the video and renders it, waiting for the result.
func (e *Engine) Render(ctx context.Context, videoID uuid.UUID) (*Outcome, error) {
	token, err := e.Claim(ctx, videoID)
	if err != nil {
		return nil, err
	}
	return e.Run(ctx, videoID, token)
}

// Claim checks that every input is ready and moves the video to rendering under a
// fresh run token. A failed check returns *PreconditionError and writes nothing.
func (e *Engine) Claim(ctx context.Context, videoID uuid.UUID) (string, error) {
	var token string
	v, err := e.store.Update(ctx, videoID, func(v *models.Video) error {
		if v.Status.IsRunning() {
			return &models.ConflictError{VideoID: v.ID, Status: v.Status}
		}
		if v.Status.IsTerminal() {
			return models.ErrVideoClosed
		}
		missing := missingInputs(v)
		if len(missing) > 0 || (v.Status != models.StatusAssetsGenerated && v.Status != models.StatusRenderFailed) {
			return &PreconditionError{Status: v.Status, Missing: missing}
		}
		t, err := v.BeginRun(models.StatusRendering, e.now())
		if err != nil {
			return err
		}
		token = t
		return nil
	})
	if err != nil {
		return "", err
	}
	e.publish(ctx, v)
	e.logger.Info("render claimed", zap.String("video_id", videoID.String()), zap.String("run", token))
	return token, nil
}

func missingInputs(v *models.Video) []string {
	var missing []string
	if len(v.Storyboard) == 0 {
		missing = append(missing, "storyboard")
	}
	for i, s := range v.Storyboard {
		switch {
		case !s.ImageReady():
			missing = append(missing, fmt.Sprintf("scene %d image", i))
		case v.IsDirty(i):
			missing = append(missing, fmt.Sprintf("scene %d image (edited)", i))
		}
	}
	if !models.IsReadyURL(v.AudioURL) {
		missing = append(missing, "audio")
	}
	if !models.IsReadyURL(v.CaptionsURL) {
		missing = append(missing, "captions")
	}
	return missing
}

// Run encodes and uploads a claimed video. Every failure leaves the video in
// render_failed and is returned alongside the outcome.
func (e *Engine) Run(ctx context.Context, videoID uuid.UUID, token string) (*Outcome, error) {
	ctx, done := e.runs.Start(ctx, videoID, token)
	defer done()
	log := e.logger.With(zap.String("video_id", videoID.String()), zap.String("run", token))

	v, err := e.store.Get(ctx, videoID)
	if err != nil {
		if ctx.Err() != nil {
			return nil, models.ErrStaleRun
		}
		return e.fail(ctx, videoID, token, err, log)
	}
	if !v.OwnsRun(token, models.StatusRendering) {
		log.Info("run no longer owns video", zap.String("status", string(v.Status)))
		return nil, models.ErrStaleRun
	}

	out := &Outcome{VideoID: videoID}
	encoded := v.EncodedPath
	if encoded != "" && fileExists(encoded) {
		out.Reused = true
		log.Info("uploading previously encoded file", zap.String("path", encoded))
	} else {
		start := e.now()
		encoded, out.Subtitles, err = e.encode(ctx, v, token, log)
		if err != nil {
			return e.fail(ctx, videoID, token, err, log)
		}
		log.Info("encode finished", zap.Duration("took", e.now().Sub(start)), zap.Bool("subtitles", out.Subtitles))
		if _, err := e.store.Update(ctx, videoID, func(cur *models.Video) error {
			if !cur.OwnsRun(token, models.StatusRendering) {
				return models.ErrStaleRun
			}
			cur.EncodedPath = encoded
			return nil
		}); err != nil {
			os.Remove(encoded)
			if errors.Is(err, models.ErrStaleRun) || ctx.Err() != nil {
				return nil, models.ErrStaleRun
			}
			return e.fail(ctx, videoID, token, err, log)
		}
	}

	key := storage.FinalKey(videoID.String(), token)
	finalURL, err := e.upload(ctx, key, encoded)
	if err != nil {
		return e.fail(ctx, videoID, token, &UploadError{Key: key, Err: err}, log)
	}
	if e.cfg.LocalCopyDir != "" {
		if err := copyFile(encoded, filepath.Join(e.cfg.LocalCopyDir, videoID.String()+".mp4")); err != nil {
			log.Warn("local copy failed", zap.Error(err))
		}
	}

	v, err = e.store.Update(ctx, videoID, func(cur *models.Video) error {
		if !cur.OwnsRun(token, models.StatusRendering) {
			return models.ErrStaleRun
		}
		if err := cur.Transition(models.StatusCompleted); err != nil {
			return err
		}
		cur.FinalVideoURL = finalURL
		cur.EncodedPath = ""
		return nil
	})
	if err != nil {
		if errors.Is(err, models.ErrStaleRun) || ctx.Err() != nil {
			return nil, models.ErrStaleRun
		}
		return e.fail(ctx, videoID, token, fmt.Errorf("record completion: %w", err), log)
	}
	os.Remove(encoded)
	e.publish(ctx, v)
	log.Info("render completed", zap.String("url", finalURL))
	out.Status = v.Status
	out.FinalVideoURL = v.FinalVideoURL
	return out, nil
}

// fail records cause on the video as render_failed. The write outlives a cancelled
// caller so the video never stays in rendering.
func (e *Engine) fail(ctx context.Context, videoID uuid.UUID, token string, cause error, log *zap.Logger) (*Outcome, error) {
	log.Warn("render failed", zap.Error(cause))
	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	v, err := e.store.Update(wctx, videoID, func(cur *models.Video) error {
		if !cur.OwnsRun(token, models.StatusRendering) {
			return models.ErrStaleRun
		}
		if err := cur.Transition(models.StatusRenderFailed); err != nil {
			return err
		}
		cur.ErrorMessage = "render: " + cause.Error()
		return nil
	})
	if err != nil {
		if errors.Is(err, models.ErrStaleRun) {
			return nil, models.ErrStaleRun
		}
		return nil, fmt.Errorf("record render failure: %w (cause: %v)", err, cause)
	}
	e.publish(wctx, v)
	return &Outcome{VideoID: videoID, Status: v.Status}, cause
}

func (e *Engine) publish(ctx context.Context, v *models.Video) {
	if err := e.events.Publish(ctx, events.FromVideo(v)); err != nil {
		e.logger.Debug("event publish failed", zap.String("video_id", v.ID.String()), zap.Error(err))
	}
}

type inputs struct {
	clips    []Clip
	audio    string
	captions string
}

// download fetches every input into dir. Scene timing is re-split over the narration
// so the concat always spans the audio.
func (e *Engine) download(ctx context.Context, v *models.Video, dir string) (*inputs, error) {
	scenes := append([]models.Scene(nil), v.Storyboard...)
	models.AllocateDurations(scenes, v.AudioDuration)
	durations := make([]float64, len(scenes))
	for i, s := range scenes {
		durations[i] = s.Duration
	}
	secs := clipDurations(durations, v.AudioDuration)

	in := &inputs{
		clips:    make([]Clip, len(v.Storyboard)),
		audio:    filepath.Join(dir, "narration"+extOf(v.AudioURL, ".mp3")),
		captions: filepath.Join(dir, "captions.srt"),
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for i, s := range v.Storyboard {
		dest := filepath.Join(dir, fmt.Sprintf("scene_%03d%s", i, extOf(s.ImageURL, ".png")))
		in.clips[i] = Clip{Path: dest, Duration: secs[i]}
		src := s.ImageURL
		g.Go(func() error { return e.fetch.Fetch(gctx, src, dest) })
	}
	g.Go(func() error { return e.fetch.Fetch(gctx, v.AudioURL, in.audio) })
	g.Go(func() error { return e.fetch.Fetch(gctx, v.CaptionsURL, in.captions) })
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("fetch inputs: %w", err)
	}
	return in, nil
}

// encode produces the MP4 in OutputDir. A failed attempt with subtitles is retried
// once without them.
func (e *Engine) encode(ctx context.Context, v *models.Video, token string, log *zap.Logger) (string, bool, error) {
	if err := os.MkdirAll(e.cfg.WorkDir, 0o755); err != nil {
		return "", false, err
	}
	if err := os.MkdirAll(e.cfg.OutputDir, 0o755); err != nil {
		return "", false, err
	}
	dir, err := os.MkdirTemp(e.cfg.WorkDir, "render-"+v.ID.String()+"-")
	if err != nil {
		return "", false, err
	}
	defer os.RemoveAll(dir)

	in, err := e.download(ctx, v, dir)
	if err != nil {
		return "", false, err
	}
	manifest := filepath.Join(dir, "scenes.txt")
	if err := os.WriteFile(manifest, []byte(BuildManifest(in.clips)), 0o644); err != nil {
		return "", false, err
	}
	out := filepath.Join(e.cfg.OutputDir, fmt.Sprintf("%s_%s.mp4", v.ID, shortToken(token)))

	if !e.cfg.DisableSubtitles {
		err := e.ffmpeg(ctx, e.args(manifest, in.audio, BuildGraph(e.cfg.Look, in.captions), out), out)
		if err == nil {
			return out, true, nil
		}
		if ctx.Err() != nil {
			return "", false, err
		}
		log.Warn("encode with subtitles failed; retrying without", zap.Error(err))
	}
	if err := e.ffmpeg(ctx, e.args(manifest, in.audio, BuildGraph(e.cfg.Look, ""), out), out); err != nil {
		os.Remove(out)
		return "", false, err
	}
	return out, false, nil
}

func (e *Engine) args(manifest, audio string, graph *Graph, out string) []string {
	return []string{
		"-y", "-hide_banner", "-nostats",
		"-f", "concat", "-safe", "0", "-i", manifest,
		"-i", audio,
		"-vf", graph.String(),
		"-map", "0:v", "-map", "1:a",
		"-c:v", "libx264", "-preset", e.cfg.Preset, "-crf", fmt.Sprintf("%d", e.cfg.CRF), "-pix_fmt", "yuv420p",
		"-c:a", "aac", "-b:a", "192k",
		"-shortest", "-movflags", "+faststart",
		out,
	}
}

// ffmpeg runs one encoder attempt. Output is scanned for failure indicators even when
// the process exits zero.
func (e *Engine) ffmpeg(ctx context.Context, args []string, out string) error {
	tctx, cancel := context.WithTimeout(ctx, e.cfg.Timeout)
	defer cancel()
	output, err := e.run(tctx, e.cfg.FFmpegBinary, args...)
	if errors.Is(tctx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
		return &TimeoutError{After: e.cfg.Timeout}
	}
	text := string(output)
	if ind := failureIndicator(text); ind != "" {
		return &EncodeError{Indicator: ind, Output: tail(text, 2000), Err: err}
	}
	if err != nil {
		return &EncodeError{Output: tail(text, 2000), Err: err}
	}
	info, serr := os.Stat(out)
	if serr != nil || info.Size() == 0 {
		return &EncodeError{Output: tail(text, 2000), Err: fmt.Errorf("encoder produced no output at %s", out)}
	}
	return nil
}

func failureIndicator(output string) string {
	for _, ind := range failureIndicators {
		if strings.Contains(output, ind) {
			return ind
		}
	}
	return ""
}

func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}

func (e *Engine) upload(ctx context.Context, key, file string) (string, error) {
	f, err := os.Open(file)
	if err != nil {
		return "", err
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return "", err
	}
	return e.blobs.Put(ctx, key, "video/mp4", f, info.Size())
}

func copyFile(src, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

func fileExists(p string) bool {
	info, err := os.Stat(p)
	return err == nil && !info.IsDir() && info.Size() > 0
}

// extOf returns the extension of a URL path, or def when it has none.
func extOf(rawURL, def string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return def
	}
	if ext := path.Ext(u.Path); ext != "" && len(ext) <= 5 {
		return ext
	}
	return def
}

func shortToken(token string) string {
	t := strings.ReplaceAll(token, "-", "")
	if len(t) > 12 {
		t = t[:12]
	}
	if t == "" {
		return "0"
	}
	return t
}
