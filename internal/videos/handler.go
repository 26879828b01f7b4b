package videos

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/aura-studio/reelsmith/internal/assets"
	"github.com/aura-studio/reelsmith/internal/events"
	"github.com/aura-studio/reelsmith/internal/models"
	"github.com/aura-studio/reelsmith/internal/render"
	"github.com/aura-studio/reelsmith/pkg/queue"
	"github.com/aura-studio/reelsmith/pkg/response"
)

// Store is the persistence the handler needs.
type Store interface {
	Create(ctx context.Context, v *models.Video) (*models.Video, error)
	Get(ctx context.Context, id uuid.UUID) (*models.Video, error)
	Update(ctx context.Context, id uuid.UUID, fn func(*models.Video) error) (*models.Video, error)
}

// AssetService generates assets.
type AssetService interface {
	Claim(ctx context.Context, id uuid.UUID, scope assets.Scope, prompt *string) (*assets.Result, error)
	Run(ctx context.Context, id uuid.UUID, token string, scope assets.Scope) (*assets.Result, error)
	Cancel(ctx context.Context, id uuid.UUID) (*models.Video, error)
}

// RenderService renders finished assets.
type RenderService interface {
	Claim(ctx context.Context, id uuid.UUID) (string, error)
	Run(ctx context.Context, id uuid.UUID, token string) (*render.Outcome, error)
}

// Enqueuer hands claimed runs to the worker.
type Enqueuer interface {
	Enqueue(ctx context.Context, t queue.JobType, payload queue.VideoPayload) error
}

// Options tunes the handler.
type Options struct {
	// RetryAfter is the polling hint sent with 202 responses.
	RetryAfter        time.Duration
	DefaultSceneCount int
}

// Handler handles video HTTP endpoints.
type Handler struct {
	store  Store
	assets AssetService
	render RenderService
	jobs   Enqueuer
	events Subscriber
	opts   Options
	logger *zap.Logger
}

// NewHandler creates a video handler.
func NewHandler(store Store, assetSvc AssetService, renderSvc RenderService, jobs Enqueuer, sub Subscriber, opts Options, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.RetryAfter <= 0 {
		opts.RetryAfter = 5 * time.Second
	}
	return &Handler{store: store, assets: assetSvc, render: renderSvc, jobs: jobs, events: sub, opts: opts, logger: logger}
}

// Register mounts the video routes.
func (h *Handler) Register(r gin.IRoutes) {
	r.POST("/videos", h.Create)
	r.GET("/videos/:id/status", h.Status)
	r.PUT("/videos/:id/script", h.SetScript)
	r.POST("/videos/:id/script/approve", h.ApproveScript)
	r.PUT("/videos/:id/storyboard", h.SetStoryboard)
	r.POST("/videos/:id/scenes", h.InsertScene)
	r.POST("/videos/:id/scenes/reorder", h.ReorderScenes)
	r.PATCH("/videos/:id/scenes/:index", h.EditScene)
	r.DELETE("/videos/:id/scenes/:index", h.DeleteScene)
	r.POST("/videos/:id/scenes/:index/regenerate", h.RegenerateScene)
	r.POST("/videos/:id/assets", h.EnsureAssets)
	r.POST("/videos/:id/render", h.Render)
	r.POST("/videos/:id/cancel", h.Cancel)
	r.GET("/videos/:id/events", h.Events)
}

// CreateRequest is the body for POST /videos.
type CreateRequest struct {
	ScriptText  string             `json:"script_text"`
	VoiceParams models.VoiceParams `json:"voice_params"`
}

// ScriptRequest is the body for the script endpoints.
type ScriptRequest struct {
	ScriptText string `json:"script_text"`
}

// SceneInput describes one scene in a storyboard or insert request.
type SceneInput struct {
	Description string   `json:"description" binding:"required"`
	ImagePrompt string   `json:"image_prompt"`
	Duration    *float64 `json:"duration"`
}

func (s SceneInput) scene() models.Scene {
	sc := models.Scene{Description: s.Description, ImagePrompt: s.ImagePrompt}
	if s.Duration != nil && *s.Duration > 0 {
		sc.Duration = *s.Duration
		sc.DurationLocked = true
	}
	return sc
}

// StoryboardRequest is the body for PUT /videos/:id/storyboard. Without scenes the
// storyboard is derived from the approved script.
type StoryboardRequest struct {
	Scenes     []SceneInput `json:"scenes" binding:"omitempty,dive"`
	SceneCount int          `json:"scene_count" binding:"omitempty,min=1"`
}

// InsertRequest is the body for POST /videos/:id/scenes.
type InsertRequest struct {
	Index *int `json:"index"`
	SceneInput
}

// ReorderRequest is the body for POST /videos/:id/scenes/reorder.
type ReorderRequest struct {
	Order []int `json:"order" binding:"required"`
}

// RegenerateRequest is the body for POST /videos/:id/scenes/:index/regenerate.
type RegenerateRequest struct {
	ImagePrompt *string `json:"image_prompt"`
}

// Create handles POST /videos.
func (h *Handler) Create(c *gin.Context) {
	var req CreateRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, "invalid request: "+err.Error())
			return
		}
	}
	v := &models.Video{Status: models.StatusDraft, VoiceParams: req.VoiceParams}
	if req.ScriptText != "" {
		if err := v.SetScript(req.ScriptText); err != nil {
			h.fail(c, err)
			return
		}
	}
	created, err := h.store.Create(c.Request.Context(), v)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Created(c, created)
}

// Status handles GET /videos/:id/status.
func (h *Handler) Status(c *gin.Context) {
	id, ok := videoID(c)
	if !ok {
		return
	}
	v, err := h.store.Get(c.Request.Context(), id)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.OK(c, events.FromVideo(v))
}

// SetScript handles PUT /videos/:id/script.
func (h *Handler) SetScript(c *gin.Context) {
	var req ScriptRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.ScriptText == "" {
		response.BadRequest(c, "script_text is required")
		return
	}
	h.mutate(c, func(v *models.Video) error { return v.SetScript(req.ScriptText) })
}

// ApproveScript handles POST /videos/:id/script/approve. An empty body approves the
// stored script as is.
func (h *Handler) ApproveScript(c *gin.Context) {
	var req ScriptRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, "invalid request: "+err.Error())
			return
		}
	}
	h.mutate(c, func(v *models.Video) error { return v.ApproveScript(req.ScriptText) })
}

// SetStoryboard handles PUT /videos/:id/storyboard.
func (h *Handler) SetStoryboard(c *gin.Context) {
	var req StoryboardRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	count := req.SceneCount
	if count == 0 {
		count = h.opts.DefaultSceneCount
	}
	h.mutate(c, func(v *models.Video) error {
		if len(req.Scenes) == 0 {
			return v.SetStoryboard(models.DeriveScenes(v.ScriptText, count))
		}
		scenes := make([]models.Scene, len(req.Scenes))
		for i, s := range req.Scenes {
			scenes[i] = s.scene()
		}
		return v.SetStoryboard(scenes)
	})
}

// InsertScene handles POST /videos/:id/scenes. Without an index the scene is appended.
func (h *Handler) InsertScene(c *gin.Context) {
	var req InsertRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	h.mutate(c, func(v *models.Video) error {
		i := len(v.Storyboard)
		if req.Index != nil {
			i = *req.Index
		}
		return v.InsertScene(i, req.scene())
	})
}

// ReorderScenes handles POST /videos/:id/scenes/reorder.
func (h *Handler) ReorderScenes(c *gin.Context) {
	var req ReorderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	h.mutate(c, func(v *models.Video) error { return v.ReorderScenes(req.Order) })
}

// EditScene handles PATCH /videos/:id/scenes/:index.
func (h *Handler) EditScene(c *gin.Context) {
	i, ok := sceneIndex(c)
	if !ok {
		return
	}
	var edit models.SceneEdit
	if err := c.ShouldBindJSON(&edit); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	h.mutate(c, func(v *models.Video) error { return v.EditScene(i, edit) })
}

// DeleteScene handles DELETE /videos/:id/scenes/:index.
func (h *Handler) DeleteScene(c *gin.Context) {
	i, ok := sceneIndex(c)
	if !ok {
		return
	}
	h.mutate(c, func(v *models.Video) error { return v.DeleteScene(i) })
}

// EnsureAssets handles POST /videos/:id/assets. With ?wait=true the run executes within
// the request; otherwise it is queued and 202 is returned.
func (h *Handler) EnsureAssets(c *gin.Context) {
	h.generate(c, assets.Scope{}, nil, queue.JobTypeEnsureAssets)
}

// RegenerateScene handles POST /videos/:id/scenes/:index/regenerate.
func (h *Handler) RegenerateScene(c *gin.Context) {
	i, ok := sceneIndex(c)
	if !ok {
		return
	}
	var req RegenerateRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, "invalid request: "+err.Error())
			return
		}
	}
	h.generate(c, assets.SceneScope(i), req.ImagePrompt, queue.JobTypeRegenerateScene)
}

func (h *Handler) generate(c *gin.Context, scope assets.Scope, prompt *string, job queue.JobType) {
	id, ok := videoID(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()
	res, err := h.assets.Claim(ctx, id, scope, prompt)
	if err != nil {
		h.fail(c, err)
		return
	}
	if res.Token == "" {
		response.OK(c, res)
		return
	}
	if wait(c) {
		res, err := h.assets.Run(ctx, id, res.Token, scope)
		if err != nil {
			h.fail(c, err)
			return
		}
		response.OK(c, res)
		return
	}
	if err := h.jobs.Enqueue(ctx, job, queue.VideoPayload{VideoID: id, Token: res.Token, Scene: scope.Scene}); err != nil {
		h.releaseClaim(ctx, id, res.Token, models.StatusAssetsGenerating, models.StatusAssetsFailed, err)
		response.ServiceUnavailable(c, "could not queue asset generation")
		return
	}
	response.Accepted(c, res, h.opts.RetryAfter)
}

// Render handles POST /videos/:id/render. With ?wait=true the encode runs within the
// request; otherwise it is queued and 202 is returned.
func (h *Handler) Render(c *gin.Context) {
	id, ok := videoID(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()
	token, err := h.render.Claim(ctx, id)
	if err != nil {
		h.fail(c, err)
		return
	}
	if wait(c) {
		out, err := h.render.Run(ctx, id, token)
		if err != nil {
			h.fail(c, err)
			return
		}
		response.OK(c, out)
		return
	}
	if err := h.jobs.Enqueue(ctx, queue.JobTypeRender, queue.VideoPayload{VideoID: id, Token: token}); err != nil {
		h.releaseClaim(ctx, id, token, models.StatusRendering, models.StatusRenderFailed, err)
		response.ServiceUnavailable(c, "could not queue render")
		return
	}
	response.Accepted(c, gin.H{"video_id": id, "status": models.StatusRendering}, h.opts.RetryAfter)
}

// Cancel handles POST /videos/:id/cancel.
func (h *Handler) Cancel(c *gin.Context) {
	id, ok := videoID(c)
	if !ok {
		return
	}
	v, err := h.assets.Cancel(c.Request.Context(), id)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.OK(c, events.FromVideo(v))
}

// releaseClaim fails a claimed run that never reached the queue so the video is not
// left in a running status.
func (h *Handler) releaseClaim(ctx context.Context, id uuid.UUID, token string, running, failed models.Status, cause error) {
	h.logger.Error("enqueue failed", zap.String("video_id", id.String()), zap.Error(cause))
	_, err := h.store.Update(context.WithoutCancel(ctx), id, func(v *models.Video) error {
		if !v.OwnsRun(token, running) {
			return models.ErrStaleRun
		}
		if err := v.Transition(failed); err != nil {
			return err
		}
		v.ErrorMessage = "queue: " + cause.Error()
		return nil
	})
	if err != nil && !errors.Is(err, models.ErrStaleRun) {
		h.logger.Error("release claim failed", zap.String("video_id", id.String()), zap.Error(err))
	}
}

func (h *Handler) mutate(c *gin.Context, fn func(*models.Video) error) {
	id, ok := videoID(c)
	if !ok {
		return
	}
	v, err := h.store.Update(c.Request.Context(), id, fn)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.OK(c, v)
}

// fail maps domain errors onto HTTP statuses.
func (h *Handler) fail(c *gin.Context, err error) {
	var (
		te *models.TransitionError
		pe *render.PreconditionError
		ee *render.EncodeError
		ue *render.UploadError
		to *render.TimeoutError
	)
	switch {
	case errors.Is(err, models.ErrNotFound):
		response.NotFound(c, err.Error())
	case models.IsConflict(err), errors.As(err, &te), errors.Is(err, models.ErrVideoClosed), errors.Is(err, models.ErrStaleRun):
		response.Conflict(c, err.Error())
	case errors.As(err, &pe):
		response.PreconditionFailed(c, err.Error())
	case errors.Is(err, assets.ErrMissingScript):
		response.Unprocessable(c, err.Error())
	case errors.Is(err, models.ErrInvalidScene):
		response.BadRequest(c, err.Error())
	case errors.As(err, &ee), errors.As(err, &ue), errors.As(err, &to):
		response.BadGateway(c, err.Error())
	default:
		h.logger.Error("request failed", zap.String("path", c.FullPath()), zap.Error(err))
		response.Internal(c, "internal error")
	}
}

func videoID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid video id")
		return uuid.Nil, false
	}
	return id, true
}

func sceneIndex(c *gin.Context) (int, bool) {
	i, err := strconv.Atoi(c.Param("index"))
	if err != nil {
		response.BadRequest(c, "invalid scene index")
		return 0, false
	}
	return i, true
}

func wait(c *gin.Context) bool {
	w, _ := strconv.ParseBool(c.Query("wait"))
	return w
}
