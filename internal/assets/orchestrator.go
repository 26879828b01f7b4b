package assets

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/aura-studio/reelsmith/internal/events"
	"github.com/aura-studio/reelsmith/internal/models"
	"github.com/aura-studio/reelsmith/internal/providers"
	"github.com/aura-studio/reelsmith/internal/runs"
	"github.com/aura-studio/reelsmith/pkg/storage"
)

// Store persists videos. Update runs fn against the locked current record and writes the
// result only when fn returns nil.
type Store interface {
	Get(ctx context.Context, id uuid.UUID) (*models.Video, error)
	Update(ctx context.Context, id uuid.UUID, fn func(*models.Video) error) (*models.Video, error)
}

// BlobStore uploads generated files and returns their public URL.
type BlobStore interface {
	Put(ctx context.Context, key, contentType string, body io.Reader, size int64) (string, error)
}

// Config tunes the orchestrator.
type Config struct {
	ImageConcurrency  int
	PlaceholderURL    string
	Width             int
	Height            int
	WorkDir           string
	DefaultSceneCount int
}

func (c *Config) setDefaults() {
	if c.ImageConcurrency <= 0 {
		c.ImageConcurrency = 3
	}
	if c.Width <= 0 {
		c.Width = 1920
	}
	if c.Height <= 0 {
		c.Height = 1080
	}
}

// Scope limits what a run generates.
type Scope struct {
	// Scene restricts the run to one scene image; nil means every missing or dirty asset.
	Scene *int `json:"scene,omitempty"`
}

// SceneScope returns a Scope for scene i only.
func SceneScope(i int) Scope { return Scope{Scene: &i} }

func (s Scope) needs(v *models.Video) models.Needs {
	n := v.Needs()
	if n.Audio {
		n.Captions = true
	}
	if s.Scene == nil {
		return n
	}
	out := models.Needs{}
	for _, i := range n.Scenes {
		if i == *s.Scene {
			out.Scenes = []int{i}
		}
	}
	return out
}

// Result reports the state of a video after a claim or run.
type Result struct {
	VideoID   uuid.UUID        `json:"video_id"`
	Status    models.Status    `json:"status"`
	Readiness models.Readiness `json:"readiness"`
	Failures  []Failure        `json:"failures,omitempty"`
	// Token identifies the run a claim started; empty when nothing needed generating.
	Token string `json:"-"`
}

func resultOf(v *models.Video) *Result {
	return &Result{VideoID: v.ID, Status: v.Status, Readiness: v.Readiness()}
}

// Orchestrator produces the images, narration audio and captions of a video.
type Orchestrator struct {
	store  Store
	blobs  BlobStore
	speech providers.SpeechSynthesizer
	images providers.ImageSynthesizer
	prober providers.DurationProber
	events events.Publisher
	runs   *runs.Registry
	cfg    Config
	logger *zap.Logger
	now    func() time.Time

	placeholderMu sync.Mutex
	placeholder   string
}

// NewOrchestrator wires the orchestrator. A nil publisher or registry gets a no-op default.
func NewOrchestrator(store Store, blobs BlobStore, speech providers.SpeechSynthesizer, images providers.ImageSynthesizer,
	prober providers.DurationProber, pub events.Publisher, reg *runs.Registry, cfg Config, logger *zap.Logger) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if pub == nil {
		pub = events.Nop{}
	}
	if reg == nil {
		reg = runs.NewRegistry()
	}
	cfg.setDefaults()
	return &Orchestrator{
		store:  store,
		blobs:  blobs,
		speech: speech,
		images: images,
		prober: prober,
		events: pub,
		runs:   reg,
		cfg:    cfg,
		logger: logger,
		now:    time.Now,
	}
}

// EnsureAssets generates whatever the video is missing and waits for the run to finish.
func (o *Orchestrator) EnsureAssets(ctx context.Context, videoID uuid.UUID) (*Result, error) {
	res, err := o.Claim(ctx, videoID, Scope{}, nil)
	if err != nil || res.Token == "" {
		return res, err
	}
	return o.Run(ctx, videoID, res.Token, Scope{})
}

// RegenerateScene regenerates scene i, optionally with a new image prompt, and waits.
func (o *Orchestrator) RegenerateScene(ctx context.Context, videoID uuid.UUID, i int, prompt *string) (*Result, error) {
	scope := SceneScope(i)
	res, err := o.Claim(ctx, videoID, scope, prompt)
	if err != nil || res.Token == "" {
		return res, err
	}
	return o.Run(ctx, videoID, res.Token, scope)
}

// Claim decides what a run must generate and, if anything, moves the video to
// assets_generating under a fresh run token. When nothing is needed it returns the
// current state without writing. For a scene scope the scene is marked dirty first,
// with prompt applied when non-nil.
func (o *Orchestrator) Claim(ctx context.Context, videoID uuid.UUID, scope Scope, prompt *string) (*Result, error) {
	var token string
	v, err := o.store.Update(ctx, videoID, func(v *models.Video) error {
		if v.Status.IsRunning() {
			return &models.ConflictError{VideoID: v.ID, Status: v.Status}
		}
		if strings.TrimSpace(v.ScriptText) == "" {
			return ErrMissingScript
		}
		if v.Status.IsTerminal() && scope.Scene != nil {
			return models.ErrVideoClosed
		}
		if len(v.Storyboard) == 0 {
			if err := v.SetStoryboard(models.DeriveScenes(v.ScriptText, o.cfg.DefaultSceneCount)); err != nil {
				return err
			}
		}
		if scope.Scene != nil {
			i := *scope.Scene
			if i < 0 || i >= len(v.Storyboard) {
				return fmt.Errorf("%w: index %d out of range (storyboard has %d scenes)", models.ErrInvalidScene, i, len(v.Storyboard))
			}
			if prompt != nil {
				if err := v.EditScene(i, models.SceneEdit{ImagePrompt: prompt}); err != nil {
					return err
				}
			}
			v.MarkDirty(i)
		}
		if scope.needs(v).Empty() && settled(v.Status) {
			return errNothingToDo
		}
		if v.Status.IsTerminal() {
			return models.ErrVideoClosed
		}
		t, err := v.BeginRun(models.StatusAssetsGenerating, o.now())
		if err != nil {
			return err
		}
		token = t
		return nil
	})
	if errors.Is(err, errNothingToDo) {
		cur, gerr := o.store.Get(ctx, videoID)
		if gerr != nil {
			return nil, gerr
		}
		return resultOf(cur), nil
	}
	if err != nil {
		return nil, err
	}
	o.publish(ctx, v)
	o.logger.Info("asset run claimed", zap.String("video_id", videoID.String()), zap.String("run", token))
	res := resultOf(v)
	res.Token = token
	return res, nil
}

// settled reports statuses in which complete assets need no new run.
func settled(s models.Status) bool {
	switch s {
	case models.StatusAssetsGenerated, models.StatusRenderFailed, models.StatusCompleted:
		return true
	}
	return false
}

// Run executes a claimed run. Every write checks the run token, so a cancelled or
// superseded run stops persisting and returns models.ErrStaleRun.
func (o *Orchestrator) Run(ctx context.Context, videoID uuid.UUID, token string, scope Scope) (*Result, error) {
	ctx, done := o.runs.Start(ctx, videoID, token)
	defer done()
	log := o.logger.With(zap.String("video_id", videoID.String()), zap.String("run", token))

	v, err := o.store.Get(ctx, videoID)
	if err != nil {
		if ctx.Err() != nil {
			return nil, models.ErrStaleRun
		}
		return nil, o.abandon(ctx, videoID, token, err, log)
	}
	if !v.OwnsRun(token, models.StatusAssetsGenerating) {
		log.Info("run no longer owns video", zap.String("status", string(v.Status)))
		return nil, models.ErrStaleRun
	}
	needs := scope.needs(v)
	log.Info("asset run started",
		zap.Bool("audio", needs.Audio),
		zap.Bool("captions", needs.Captions),
		zap.Ints("scenes", needs.Scenes),
	)

	var (
		mu       sync.Mutex
		failures []Failure
		narrFail bool
	)
	record := func(f Failure, narration bool) {
		mu.Lock()
		defer mu.Unlock()
		failures = append(failures, f)
		narrFail = narrFail || narration
		log.Warn("asset failed", zap.String("asset", f.Asset), zap.String("kind", string(f.Kind)), zap.String("error", f.Message))
	}

	g, gctx := errgroup.WithContext(ctx)
	if needs.Audio || needs.Captions {
		g.Go(func() error { return o.narration(gctx, v, token, needs, record) })
	}
	if len(needs.Scenes) > 0 {
		g.Go(func() error { return o.sceneImages(gctx, v, token, needs.Scenes, record) })
	}
	err = g.Wait()
	if errors.Is(err, models.ErrStaleRun) || ctx.Err() != nil {
		log.Info("asset run stopped; later writes dropped", zap.Error(err))
		return nil, models.ErrStaleRun
	}
	if err != nil {
		record(Failure{Asset: "storage", Kind: providers.KindOther, Message: err.Error()}, true)
	}
	res, err := o.finalize(ctx, videoID, token, failures, narrFail)
	if err != nil && !errors.Is(err, models.ErrStaleRun) {
		return nil, o.abandon(ctx, videoID, token, err, log)
	}
	return res, err
}

// abandon records cause as assets_failed when the run cannot finish normally. The
// write outlives a cancelled caller; cause is returned either way.
func (o *Orchestrator) abandon(ctx context.Context, videoID uuid.UUID, token string, cause error, log *zap.Logger) error {
	log.Warn("asset run abandoned", zap.Error(cause))
	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	v, err := o.store.Update(wctx, videoID, func(cur *models.Video) error {
		if !cur.OwnsRun(token, models.StatusAssetsGenerating) {
			return models.ErrStaleRun
		}
		if err := cur.Transition(models.StatusAssetsFailed); err != nil {
			return err
		}
		cur.ErrorMessage = "asset generation: " + cause.Error()
		return nil
	})
	if errors.Is(err, models.ErrStaleRun) {
		return models.ErrStaleRun
	}
	if err != nil {
		log.Error("record asset failure", zap.Error(err))
		return cause
	}
	o.publish(wctx, v)
	return cause
}

func (o *Orchestrator) finalize(ctx context.Context, videoID uuid.UUID, token string, failures []Failure, narrationFailed bool) (*Result, error) {
	v, err := o.store.Update(ctx, videoID, func(v *models.Video) error {
		if !v.OwnsRun(token, models.StatusAssetsGenerating) {
			return models.ErrStaleRun
		}
		r := v.Readiness()
		to := models.StatusAssetsPartial
		switch {
		case narrationFailed:
			to = models.StatusAssetsFailed
		case r.Complete():
			to = models.StatusAssetsGenerated
		}
		if err := v.Transition(to); err != nil {
			return err
		}
		if to != models.StatusAssetsGenerated {
			v.ErrorMessage = summarize(failures)
			if v.ErrorMessage == "" {
				v.ErrorMessage = missingSummary(v, r)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	o.publish(ctx, v)
	o.logger.Info("asset run finished",
		zap.String("video_id", videoID.String()),
		zap.String("status", string(v.Status)),
		zap.Int("images_done", v.Readiness().ImagesDone),
		zap.Int("failures", len(failures)),
	)
	res := resultOf(v)
	res.Failures = failures
	return res, nil
}

func missingSummary(v *models.Video, r models.Readiness) string {
	var missing []string
	if !r.AudioReady {
		missing = append(missing, "audio")
	}
	if !r.CaptionsReady {
		missing = append(missing, "captions")
	}
	for _, i := range v.Needs().Scenes {
		missing = append(missing, sceneAsset(i))
	}
	return "missing: " + strings.Join(missing, ", ")
}

// persist applies fn to the record if token still owns the run.
func (o *Orchestrator) persist(ctx context.Context, videoID uuid.UUID, token string, fn func(*models.Video)) error {
	v, err := o.store.Update(ctx, videoID, func(v *models.Video) error {
		if !v.OwnsRun(token, models.StatusAssetsGenerating) {
			return models.ErrStaleRun
		}
		fn(v)
		v.EncodedPath = ""
		return nil
	})
	if err != nil {
		if ctx.Err() != nil {
			return models.ErrStaleRun
		}
		return err
	}
	o.publish(ctx, v)
	return nil
}

func (o *Orchestrator) publish(ctx context.Context, v *models.Video) {
	if err := o.events.Publish(ctx, events.FromVideo(v)); err != nil {
		o.logger.Debug("event publish failed", zap.String("video_id", v.ID.String()), zap.Error(err))
	}
}

// narration synthesizes and uploads the audio, then derives and uploads captions.
func (o *Orchestrator) narration(ctx context.Context, v *models.Video, token string, needs models.Needs, record func(Failure, bool)) error {
	duration := v.AudioDuration
	if needs.Audio {
		data, err := o.speech.SynthesizeSpeech(ctx, v.ScriptText, v.VoiceParams)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			record(newFailure("audio", err), true)
			return nil
		}
		d, err := o.measure(ctx, data)
		if err != nil {
			record(newFailure("audio", err), true)
			return nil
		}
		url, err := o.blobs.Put(ctx, storage.AudioKey(v.ID.String(), token), "audio/mpeg", bytes.NewReader(data), int64(len(data)))
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			record(newFailure("audio", err), true)
			return nil
		}
		if err := o.persist(ctx, v.ID, token, func(cur *models.Video) {
			cur.AudioURL = url
			cur.AudioDuration = d
			cur.CaptionsURL = ""
			cur.Retime()
		}); err != nil {
			return err
		}
		duration = d
	} else if duration <= 0 {
		d, err := o.prober.Duration(ctx, v.AudioURL)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			record(newFailure("captions", fmt.Errorf("measure existing audio: %w", err)), true)
			return nil
		}
		if err := o.persist(ctx, v.ID, token, func(cur *models.Video) {
			cur.AudioDuration = d
			cur.Retime()
		}); err != nil {
			return err
		}
		duration = d
	}

	cues := providers.BuildCaptions(v.ScriptText, duration)
	if len(cues) == 0 {
		record(newFailure("captions", fmt.Errorf("no caption cues for %.2fs of audio", duration)), true)
		return nil
	}
	srt := []byte(providers.FormatSRT(cues))
	url, err := o.blobs.Put(ctx, storage.CaptionsKey(v.ID.String(), token), "application/x-subrip", bytes.NewReader(srt), int64(len(srt)))
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		record(newFailure("captions", err), true)
		return nil
	}
	return o.persist(ctx, v.ID, token, func(cur *models.Video) {
		cur.CaptionsURL = url
	})
}

// measure writes audio to a temp file and probes its length.
func (o *Orchestrator) measure(ctx context.Context, data []byte) (float64, error) {
	f, err := os.CreateTemp(o.cfg.WorkDir, "narration-*.mp3")
	if err != nil {
		return 0, fmt.Errorf("create temp audio: %w", err)
	}
	path := f.Name()
	defer os.Remove(path)
	if _, err := f.Write(data); err != nil {
		f.Close()
		return 0, fmt.Errorf("write temp audio: %w", err)
	}
	if err := f.Close(); err != nil {
		return 0, fmt.Errorf("close temp audio: %w", err)
	}
	d, err := o.prober.Duration(ctx, path)
	if err != nil {
		return 0, fmt.Errorf("measure audio: %w", err)
	}
	return d, nil
}

// sceneImages generates the given scenes with bounded concurrency. One scene's failure
// never affects another.
func (o *Orchestrator) sceneImages(ctx context.Context, v *models.Video, token string, indices []int, record func(Failure, bool)) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.cfg.ImageConcurrency)
	for _, i := range indices {
		i := i
		scene := v.Storyboard[i]
		g.Go(func() error { return o.sceneImage(gctx, v.ID, token, i, scene, record) })
	}
	return g.Wait()
}

func (o *Orchestrator) sceneImage(ctx context.Context, videoID uuid.UUID, token string, i int, scene models.Scene, record func(Failure, bool)) error {
	prompt := scene.Prompt()
	data, err := o.images.SynthesizeImage(ctx, prompt)
	if err != nil && providers.IsContentPolicy(err) {
		o.logger.Info("image rejected on content policy; retrying softened prompt",
			zap.String("video_id", videoID.String()), zap.Int("scene", i))
		data, err = o.images.SynthesizeImage(ctx, SoftenPrompt(prompt))
	}
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return o.usePlaceholder(ctx, videoID, token, i, err, record)
	}
	url, err := o.blobs.Put(ctx, storage.SceneKey(videoID.String(), i, token), storage.ContentTypeFor(".png"), bytes.NewReader(data), int64(len(data)))
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		record(newFailure(sceneAsset(i), err), false)
		return nil
	}
	return o.persist(ctx, videoID, token, func(cur *models.Video) {
		if i >= len(cur.Storyboard) {
			return
		}
		cur.Storyboard[i].ImageURL = url
		cur.Storyboard[i].Placeholder = ""
		cur.ClearDirty(i)
	})
}

// usePlaceholder stands in the placeholder image for a scene whose generation failed
// with cause. The scene counts as ready; the failure is still reported.
func (o *Orchestrator) usePlaceholder(ctx context.Context, videoID uuid.UUID, token string, i int, cause error, record func(Failure, bool)) error {
	url, err := o.placeholderURL(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		record(newFailure(sceneAsset(i), err), false)
		return nil
	}
	reason := providers.KindOf(cause)
	record(Failure{Asset: sceneAsset(i), Kind: reason, Message: "placeholder used: " + cause.Error()}, false)
	return o.persist(ctx, videoID, token, func(cur *models.Video) {
		if i >= len(cur.Storyboard) {
			return
		}
		cur.Storyboard[i].ImageURL = url
		cur.Storyboard[i].Placeholder = string(reason)
		cur.ClearDirty(i)
	})
}

// Cancel moves the video to cancelled, invalidating any active run, and stops the
// in-process run if there is one.
func (o *Orchestrator) Cancel(ctx context.Context, videoID uuid.UUID) (*models.Video, error) {
	v, err := o.store.Update(ctx, videoID, func(v *models.Video) error {
		return v.Transition(models.StatusCancelled)
	})
	if err != nil {
		return nil, err
	}
	if o.runs.Cancel(videoID) {
		o.logger.Info("in-process run cancelled", zap.String("video_id", videoID.String()))
	}
	o.publish(ctx, v)
	return v, nil
}
