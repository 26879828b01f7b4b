package videos

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/aura-studio/reelsmith/internal/models"
)

const videoColumns = `id, status, script_text, storyboard, dirty_scenes, audio_url, audio_duration, captions_url,
	final_video_url, error_message, storyboard_version, voice_params, run_token, run_started_at, encoded_path,
	created_at, updated_at`

// Repository handles video persistence. The whole aggregate lives in one row.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a video repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Create inserts a new video and returns the stored record.
func (r *Repository) Create(ctx context.Context, v *models.Video) (*models.Video, error) {
	if v.Status == "" {
		v.Status = models.StatusDraft
	}
	storyboard, voice, err := encodeJSON(v)
	if err != nil {
		return nil, err
	}
	const q = `INSERT INTO videos (status, script_text, storyboard, dirty_scenes, voice_params)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING ` + videoColumns
	return scanVideo(r.pool.QueryRow(ctx, q, v.Status, v.ScriptText, storyboard, toInt32s(v.DirtyScenes), voice))
}

// Get returns a video by ID.
func (r *Repository) Get(ctx context.Context, id uuid.UUID) (*models.Video, error) {
	const q = `SELECT ` + videoColumns + ` FROM videos WHERE id = $1`
	return scanVideo(r.pool.QueryRow(ctx, q, id))
}

// Update locks the row, applies fn and writes the result when fn returns nil. Concurrent
// updates of one video are serialised by the row lock.
func (r *Repository) Update(ctx context.Context, id uuid.UUID, fn func(*models.Video) error) (*models.Video, error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	const sel = `SELECT ` + videoColumns + ` FROM videos WHERE id = $1 FOR UPDATE`
	v, err := scanVideo(tx.QueryRow(ctx, sel, id))
	if err != nil {
		return nil, err
	}
	if err := fn(v); err != nil {
		return nil, err
	}
	storyboard, voice, err := encodeJSON(v)
	if err != nil {
		return nil, err
	}
	const upd = `UPDATE videos SET status = $1, script_text = $2, storyboard = $3, dirty_scenes = $4, audio_url = $5,
		audio_duration = $6, captions_url = $7, final_video_url = $8, error_message = $9, storyboard_version = $10,
		voice_params = $11, run_token = $12, run_started_at = $13, encoded_path = $14, updated_at = NOW()
		WHERE id = $15
		RETURNING updated_at`
	err = tx.QueryRow(ctx, upd, v.Status, v.ScriptText, storyboard, toInt32s(v.DirtyScenes), v.AudioURL,
		v.AudioDuration, v.CaptionsURL, v.FinalVideoURL, v.ErrorMessage, v.StoryboardVersion,
		voice, v.RunToken, v.RunStartedAt, v.EncodedPath, id).Scan(&v.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("update video: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return v, nil
}

// ListStale returns videos whose running stage started before cutoff, oldest first.
func (r *Repository) ListStale(ctx context.Context, cutoff time.Time, limit int) ([]*models.Video, error) {
	const q = `SELECT ` + videoColumns + ` FROM videos
		WHERE status IN ('assets_generating', 'rendering') AND run_started_at < $1
		ORDER BY run_started_at
		LIMIT $2`
	rows, err := r.pool.Query(ctx, q, cutoff, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var list []*models.Video
	for rows.Next() {
		v, err := scanVideo(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, v)
	}
	return list, rows.Err()
}

func scanVideo(row pgx.Row) (*models.Video, error) {
	var (
		v          models.Video
		storyboard []byte
		voice      []byte
		dirty      []int32
	)
	err := row.Scan(&v.ID, &v.Status, &v.ScriptText, &storyboard, &dirty, &v.AudioURL, &v.AudioDuration, &v.CaptionsURL,
		&v.FinalVideoURL, &v.ErrorMessage, &v.StoryboardVersion, &voice, &v.RunToken, &v.RunStartedAt, &v.EncodedPath,
		&v.CreatedAt, &v.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if len(storyboard) > 0 {
		if err := json.Unmarshal(storyboard, &v.Storyboard); err != nil {
			return nil, fmt.Errorf("decode storyboard: %w", err)
		}
	}
	if len(voice) > 0 {
		if err := json.Unmarshal(voice, &v.VoiceParams); err != nil {
			return nil, fmt.Errorf("decode voice params: %w", err)
		}
	}
	for _, d := range dirty {
		v.DirtyScenes = append(v.DirtyScenes, int(d))
	}
	return &v, nil
}

func encodeJSON(v *models.Video) (storyboard, voice []byte, err error) {
	scenes := v.Storyboard
	if scenes == nil {
		scenes = []models.Scene{}
	}
	if storyboard, err = json.Marshal(scenes); err != nil {
		return nil, nil, fmt.Errorf("encode storyboard: %w", err)
	}
	if voice, err = json.Marshal(v.VoiceParams); err != nil {
		return nil, nil, fmt.Errorf("encode voice params: %w", err)
	}
	return storyboard, voice, nil
}

func toInt32s(in []int) []int32 {
	out := make([]int32, len(in))
	for i, d := range in {
		out[i] = int32(d)
	}
	return out
}
