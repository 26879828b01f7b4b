package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/aura-studio/reelsmith/internal/assets"
	"github.com/aura-studio/reelsmith/internal/models"
	"github.com/aura-studio/reelsmith/internal/render"
	"github.com/aura-studio/reelsmith/pkg/queue"
)

// AssetRunner executes claimed asset runs.
type AssetRunner interface {
	Run(ctx context.Context, id uuid.UUID, token string, scope assets.Scope) (*assets.Result, error)
}

// RenderRunner executes claimed render runs.
type RenderRunner interface {
	Run(ctx context.Context, id uuid.UUID, token string) (*render.Outcome, error)
}

// Source yields jobs and takes back failed ones.
type Source interface {
	Dequeue(ctx context.Context) (*queue.Job, error)
	Retry(ctx context.Context, job *queue.Job) error
}

// Processor executes pipeline jobs: asset generation, scene regeneration and render.
type Processor struct {
	jobs        Source
	assets      AssetRunner
	render      RenderRunner
	concurrency int
	backoff     time.Duration
	logger      *zap.Logger
}

// NewProcessor creates a job processor running concurrency jobs at a time.
func NewProcessor(jobs Source, assetRunner AssetRunner, renderRunner RenderRunner, concurrency int, logger *zap.Logger) *Processor {
	if logger == nil {
		logger = zap.NewNop()
	}
	if concurrency <= 0 {
		concurrency = 1
	}
	return &Processor{
		jobs:        jobs,
		assets:      assetRunner,
		render:      renderRunner,
		concurrency: concurrency,
		backoff:     queue.RetryBackoff,
		logger:      logger,
	}
}

// Process executes one job. Outcomes already recorded on the video (failed assets,
// failed renders, superseded runs) are not errors; only infrastructure failures are
// returned for retry.
func (p *Processor) Process(ctx context.Context, job *queue.Job) error {
	payload, err := job.VideoPayload()
	if err != nil {
		return err
	}
	log := p.logger.With(zap.String("job_id", job.ID), zap.String("video_id", payload.VideoID.String()))

	switch job.Type {
	case queue.JobTypeEnsureAssets:
		var res *assets.Result
		res, err = p.assets.Run(ctx, payload.VideoID, payload.Token, assets.Scope{})
		if err == nil {
			log.Info("asset job finished", zap.String("status", string(res.Status)), zap.Int("failures", len(res.Failures)))
		}
	case queue.JobTypeRegenerateScene:
		if payload.Scene == nil {
			return fmt.Errorf("regenerate job without scene index")
		}
		var res *assets.Result
		res, err = p.assets.Run(ctx, payload.VideoID, payload.Token, assets.Scope{Scene: payload.Scene})
		if err == nil {
			log.Info("scene job finished", zap.Int("scene", *payload.Scene), zap.String("status", string(res.Status)))
		}
	case queue.JobTypeRender:
		var out *render.Outcome
		out, err = p.render.Run(ctx, payload.VideoID, payload.Token)
		if err == nil {
			log.Info("render job finished", zap.String("url", out.FinalVideoURL), zap.Bool("reused", out.Reused))
		} else if recorded(err) {
			log.Warn("render job failed", zap.Error(err))
			return nil
		}
	default:
		return fmt.Errorf("unknown job type: %s", job.Type)
	}

	if errors.Is(err, models.ErrStaleRun) {
		log.Info("run superseded or cancelled; job dropped")
		return nil
	}
	return err
}

// recorded reports render failures that have already moved the video to render_failed.
func recorded(err error) bool {
	var (
		ee *render.EncodeError
		ue *render.UploadError
		te *render.TimeoutError
	)
	return errors.As(err, &ee) || errors.As(err, &ue) || errors.As(err, &te)
}

// Run starts the worker loops and blocks until ctx is done.
func (p *Processor) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for i := 0; i < p.concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.loop(ctx)
		}()
	}
	wg.Wait()
	p.logger.Info("pipeline worker stopped")
}

func (p *Processor) loop(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		job, err := p.jobs.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			p.logger.Warn("dequeue error", zap.Error(err))
			sleep(ctx, p.backoff)
			continue
		}
		if job == nil {
			continue
		}

		p.logger.Debug("processing job", zap.String("job_id", job.ID), zap.String("type", string(job.Type)))
		if err := p.Process(ctx, job); err != nil {
			p.logger.Error("job failed", zap.String("job_id", job.ID), zap.Error(err))
			if reErr := p.jobs.Retry(context.WithoutCancel(ctx), job); reErr != nil {
				p.logger.Error("retry enqueue failed", zap.Error(reErr))
			}
			sleep(ctx, p.backoff)
		}
	}
}

func sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
