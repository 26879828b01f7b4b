package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/aura-studio/reelsmith/internal/events"
	"github.com/aura-studio/reelsmith/internal/models"
	"github.com/aura-studio/reelsmith/internal/runs"
)

// StaleStore finds and updates runs that stopped making progress.
type StaleStore interface {
	ListStale(ctx context.Context, cutoff time.Time, limit int) ([]*models.Video, error)
	Update(ctx context.Context, id uuid.UUID, fn func(*models.Video) error) (*models.Video, error)
}

const reclaimBatch = 50

// Reclaimer fails runs older than a TTL so a crashed worker never leaves a video in a
// running status.
type Reclaimer struct {
	store    StaleStore
	runs     *runs.Registry
	events   events.Publisher
	ttl      time.Duration
	interval time.Duration
	logger   *zap.Logger
	now      func() time.Time
}

// NewReclaimer creates a reclaimer sweeping every interval for runs older than ttl.
func NewReclaimer(store StaleStore, reg *runs.Registry, pub events.Publisher, ttl, interval time.Duration, logger *zap.Logger) *Reclaimer {
	if logger == nil {
		logger = zap.NewNop()
	}
	if pub == nil {
		pub = events.Nop{}
	}
	if interval <= 0 {
		interval = time.Minute
	}
	return &Reclaimer{store: store, runs: reg, events: pub, ttl: ttl, interval: interval, logger: logger, now: time.Now}
}

// Sweep fails every stale run once and returns how many were reclaimed.
func (r *Reclaimer) Sweep(ctx context.Context) (int, error) {
	stale, err := r.store.ListStale(ctx, r.now().Add(-r.ttl), reclaimBatch)
	if err != nil {
		return 0, fmt.Errorf("list stale runs: %w", err)
	}
	n := 0
	for _, v := range stale {
		token, running := v.RunToken, v.Status
		updated, err := r.store.Update(ctx, v.ID, func(cur *models.Video) error {
			if !cur.OwnsRun(token, running) {
				return models.ErrStaleRun
			}
			to := models.StatusAssetsFailed
			stage := "asset generation"
			if running == models.StatusRendering {
				to, stage = models.StatusRenderFailed, "render"
			}
			if err := cur.Transition(to); err != nil {
				return err
			}
			cur.ErrorMessage = fmt.Sprintf("%s: run abandoned after %s without finishing", stage, r.ttl)
			return nil
		})
		if errors.Is(err, models.ErrStaleRun) {
			continue
		}
		if err != nil {
			r.logger.Warn("reclaim failed", zap.String("video_id", v.ID.String()), zap.Error(err))
			continue
		}
		if r.runs != nil {
			r.runs.Cancel(v.ID)
		}
		if err := r.events.Publish(ctx, events.FromVideo(updated)); err != nil {
			r.logger.Debug("event publish failed", zap.Error(err))
		}
		r.logger.Warn("stale run reclaimed",
			zap.String("video_id", v.ID.String()),
			zap.String("from", string(running)),
			zap.String("to", string(updated.Status)),
		)
		n++
	}
	return n, nil
}

// Run sweeps on every tick until ctx is done.
func (r *Reclaimer) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := r.Sweep(ctx); err != nil && ctx.Err() == nil {
				r.logger.Warn("reclaim sweep failed", zap.Error(err))
			}
		}
	}
}
