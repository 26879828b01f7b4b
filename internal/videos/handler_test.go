package videos

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aura-studio/reelsmith/internal/assets"
	"github.com/aura-studio/reelsmith/internal/events"
	"github.com/aura-studio/reelsmith/internal/models"
	"github.com/aura-studio/reelsmith/internal/render"
	"github.com/aura-studio/reelsmith/internal/runs"
	"github.com/aura-studio/reelsmith/internal/testsupport"
	"github.com/aura-studio/reelsmith/pkg/queue"
)

type queuedJob struct {
	Type    queue.JobType
	Payload queue.VideoPayload
}

type fakeQueue struct {
	mu   sync.Mutex
	jobs []queuedJob
	err  error
}

func (q *fakeQueue) Enqueue(ctx context.Context, t queue.JobType, p queue.VideoPayload) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil {
		return q.err
	}
	q.jobs = append(q.jobs, queuedJob{Type: t, Payload: p})
	return nil
}

func (q *fakeQueue) Jobs() []queuedJob {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]queuedJob(nil), q.jobs...)
}

type fakeSubscriber struct {
	mu       sync.Mutex
	handlers map[uuid.UUID]func(events.Event)
}

func (s *fakeSubscriber) Subscribe(ctx context.Context, id uuid.UUID, handler func(events.Event)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.handlers == nil {
		s.handlers = make(map[uuid.UUID]func(events.Event))
	}
	s.handlers[id] = handler
	return nil
}

func (s *fakeSubscriber) emit(ev events.Event) {
	s.mu.Lock()
	h := s.handlers[ev.VideoID]
	s.mu.Unlock()
	if h != nil {
		h(ev)
	}
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
}

type api struct {
	store  *testsupport.MemStore
	images *testsupport.FakeImages
	jobs   *fakeQueue
	sub    *fakeSubscriber
	router *gin.Engine
}

const script = "Rain falls on the old quarter. A lamp flickers. Someone hurries home. The square empties."

func newAPI(t *testing.T) *api {
	t.Helper()
	gin.SetMode(gin.TestMode)
	a := &api{
		store:  testsupport.NewMemStore(),
		images: &testsupport.FakeImages{},
		jobs:   &fakeQueue{},
		sub:    &fakeSubscriber{},
	}
	blobs := testsupport.NewMemBlobs()
	reg := runs.NewRegistry()
	orch := assets.NewOrchestrator(a.store, blobs, &testsupport.FakeSpeech{}, a.images, testsupport.FakeProber{Seconds: 12},
		nil, reg, assets.Config{Width: 16, Height: 9, WorkDir: t.TempDir()}, nil)
	eng := render.NewEngine(a.store, blobs, nil, nil, nil, reg, render.Config{WorkDir: t.TempDir()}, nil)
	h := NewHandler(a.store, orch, eng, a.jobs, a.sub, Options{RetryAfter: 3 * time.Second}, nil)
	a.router = gin.New()
	h.Register(a.router)
	return a
}

func (a *api) do(t *testing.T, method, path string, body interface{}) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	var req *http.Request
	if body == nil {
		req = httptest.NewRequest(method, path, nil)
	} else {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		req = httptest.NewRequest(method, path, bytes.NewReader(raw))
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	a.router.ServeHTTP(w, req)
	var env envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env), w.Body.String())
	return w, env
}

func decode[T any](t *testing.T, env envelope) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(env.Data, &out))
	return out
}

func (a *api) current(t *testing.T, id uuid.UUID) *models.Video {
	t.Helper()
	v, err := a.store.Get(context.Background(), id)
	require.NoError(t, err)
	return v
}

func illustrated(status models.Status, n int) *models.Video {
	v := testsupport.Video(status, n)
	for i := range v.Storyboard {
		v.Storyboard[i].ImageURL = fmt.Sprintf("%sscene_%d.png", testsupport.BlobBaseURL, i)
		v.Storyboard[i].Duration = 3
	}
	v.AudioURL = testsupport.BlobBaseURL + "narration.mp3"
	v.AudioDuration = float64(3 * n)
	v.CaptionsURL = testsupport.BlobBaseURL + "captions.srt"
	return v
}

func TestPipelineThroughRender(t *testing.T) {
	a := newAPI(t)

	w, env := a.do(t, http.MethodPost, "/videos", CreateRequest{ScriptText: script})
	require.Equal(t, http.StatusCreated, w.Code)
	created := decode[models.Video](t, env)
	assert.Equal(t, models.StatusScriptGenerated, created.Status)
	base := "/videos/" + created.ID.String()

	w, env = a.do(t, http.MethodPost, base+"/script/approve", nil)
	require.Equal(t, http.StatusOK, w.Code, env.Error)
	assert.Equal(t, models.StatusScriptApproved, decode[models.Video](t, env).Status)

	w, env = a.do(t, http.MethodPut, base+"/storyboard", StoryboardRequest{SceneCount: 2})
	require.Equal(t, http.StatusOK, w.Code, env.Error)
	board := decode[models.Video](t, env)
	assert.Equal(t, models.StatusStoryboardGenerated, board.Status)
	require.Len(t, board.Storyboard, 2)
	assert.Equal(t, "Rain falls on the old quarter. A lamp flickers.", board.Storyboard[0].Description)

	w, env = a.do(t, http.MethodPost, base+"/assets?wait=true", nil)
	require.Equal(t, http.StatusOK, w.Code, env.Error)
	res := decode[assets.Result](t, env)
	assert.Equal(t, models.StatusAssetsGenerated, res.Status)
	assert.Equal(t, 2, res.Readiness.ImagesDone)

	w, _ = a.do(t, http.MethodPost, base+"/assets", nil)
	assert.Equal(t, http.StatusOK, w.Code, "complete assets need no new run")
	assert.Empty(t, a.jobs.Jobs())

	w, env = a.do(t, http.MethodPost, base+"/render", nil)
	require.Equal(t, http.StatusAccepted, w.Code, env.Error)
	assert.Equal(t, "3", w.Header().Get("Retry-After"))
	jobs := a.jobs.Jobs()
	require.Len(t, jobs, 1)
	assert.Equal(t, queue.JobTypeRender, jobs[0].Type)
	cur := a.current(t, created.ID)
	assert.Equal(t, models.StatusRendering, cur.Status)
	assert.Equal(t, cur.RunToken, jobs[0].Payload.Token)

	w, env = a.do(t, http.MethodGet, base+"/status", nil)
	require.Equal(t, http.StatusOK, w.Code)
	st := decode[events.Event](t, env)
	assert.Equal(t, models.StatusRendering, st.Status)
	assert.True(t, st.Readiness.Complete())
}

func TestEnsureAssetsQueuesRun(t *testing.T) {
	a := newAPI(t)
	v := a.store.Seed(testsupport.Video(models.StatusStoryboardGenerated, 3))
	path := "/videos/" + v.ID.String() + "/assets"

	w, env := a.do(t, http.MethodPost, path, nil)
	require.Equal(t, http.StatusAccepted, w.Code, env.Error)
	assert.Equal(t, "3", w.Header().Get("Retry-After"))
	assert.Equal(t, models.StatusAssetsGenerating, decode[assets.Result](t, env).Status)

	jobs := a.jobs.Jobs()
	require.Len(t, jobs, 1)
	assert.Equal(t, queue.JobTypeEnsureAssets, jobs[0].Type)
	assert.Equal(t, v.ID, jobs[0].Payload.VideoID)
	assert.Nil(t, jobs[0].Payload.Scene)
	assert.Equal(t, a.current(t, v.ID).RunToken, jobs[0].Payload.Token)

	w, _ = a.do(t, http.MethodPost, path, nil)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Zero(t, a.images.Calls())
}

func TestEnqueueFailureReleasesClaim(t *testing.T) {
	a := newAPI(t)
	a.jobs.err = errors.New("redis down")
	v := a.store.Seed(testsupport.Video(models.StatusStoryboardGenerated, 2))

	w, _ := a.do(t, http.MethodPost, "/videos/"+v.ID.String()+"/assets", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	cur := a.current(t, v.ID)
	assert.Equal(t, models.StatusAssetsFailed, cur.Status)
	assert.Contains(t, cur.ErrorMessage, "redis down")
	assert.Empty(t, cur.RunToken)
}

func TestRenderPreconditionAndMissingScript(t *testing.T) {
	a := newAPI(t)
	partial := illustrated(models.StatusAssetsPartial, 3)
	partial.Storyboard[2].ImageURL = ""
	partial = a.store.Seed(partial)

	w, env := a.do(t, http.MethodPost, "/videos/"+partial.ID.String()+"/render", nil)
	assert.Equal(t, http.StatusPreconditionFailed, w.Code)
	assert.Contains(t, env.Error, "scene 2 image")
	assert.Equal(t, models.StatusAssetsPartial, a.current(t, partial.ID).Status)

	draft := a.store.Seed(&models.Video{Status: models.StatusDraft})
	w, _ = a.do(t, http.MethodPost, "/videos/"+draft.ID.String()+"/assets", nil)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
}

func TestSceneEditsKeepIndicesAligned(t *testing.T) {
	a := newAPI(t)
	v := a.store.Seed(illustrated(models.StatusAssetsGenerated, 3))
	base := "/videos/" + v.ID.String()

	desc := "The lamp goes out."
	w, env := a.do(t, http.MethodPatch, base+"/scenes/1", models.SceneEdit{Description: &desc})
	require.Equal(t, http.StatusOK, w.Code, env.Error)
	assert.Equal(t, []int{1}, decode[models.Video](t, env).DirtyScenes)

	w, env = a.do(t, http.MethodPost, base+"/scenes/reorder", ReorderRequest{Order: []int{2, 0, 1}})
	require.Equal(t, http.StatusOK, w.Code, env.Error)
	reordered := decode[models.Video](t, env)
	assert.Equal(t, []int{2}, reordered.DirtyScenes)
	assert.Equal(t, desc, reordered.Storyboard[2].Description)

	idx := 0
	w, env = a.do(t, http.MethodPost, base+"/scenes", InsertRequest{Index: &idx, SceneInput: SceneInput{Description: "Opening shot of the rooftops."}})
	require.Equal(t, http.StatusOK, w.Code, env.Error)
	inserted := decode[models.Video](t, env)
	require.Len(t, inserted.Storyboard, 4)
	assert.Equal(t, []int{3}, inserted.DirtyScenes)
	assert.Empty(t, inserted.Storyboard[0].ImageURL)

	w, _ = a.do(t, http.MethodDelete, base+"/scenes/9", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	w, _ = a.do(t, http.MethodDelete, base+"/scenes/abc", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, env = a.do(t, http.MethodGet, base+"/status", nil)
	require.Equal(t, http.StatusOK, w.Code)
	st := decode[events.Event](t, env)
	assert.Equal(t, models.StatusAssetsGenerated, st.Status, "edits never move status backward")
	assert.Equal(t, 2, st.Readiness.ImagesDone)
	assert.Equal(t, 4, st.Readiness.ImagesTotal)
}

func TestRegenerateSceneWithPrompt(t *testing.T) {
	a := newAPI(t)
	v := a.store.Seed(illustrated(models.StatusAssetsGenerated, 3))

	prompt := "rain on cobblestones, night"
	w, env := a.do(t, http.MethodPost, "/videos/"+v.ID.String()+"/scenes/1/regenerate?wait=true", RegenerateRequest{ImagePrompt: &prompt})
	require.Equal(t, http.StatusOK, w.Code, env.Error)
	assert.Equal(t, models.StatusAssetsGenerated, decode[assets.Result](t, env).Status)
	assert.Equal(t, []string{prompt}, a.images.Prompts())

	w, env = a.do(t, http.MethodPost, "/videos/"+v.ID.String()+"/scenes/2/regenerate", nil)
	require.Equal(t, http.StatusAccepted, w.Code, env.Error)
	jobs := a.jobs.Jobs()
	require.Len(t, jobs, 1)
	assert.Equal(t, queue.JobTypeRegenerateScene, jobs[0].Type)
	require.NotNil(t, jobs[0].Payload.Scene)
	assert.Equal(t, 2, *jobs[0].Payload.Scene)
}

func TestCancelClosesVideo(t *testing.T) {
	a := newAPI(t)
	v := a.store.Seed(testsupport.Video(models.StatusStoryboardGenerated, 2))
	base := "/videos/" + v.ID.String()

	w, env := a.do(t, http.MethodPost, base+"/cancel", nil)
	require.Equal(t, http.StatusOK, w.Code, env.Error)
	assert.Equal(t, models.StatusCancelled, decode[events.Event](t, env).Status)

	desc := "too late"
	w, _ = a.do(t, http.MethodPatch, base+"/scenes/0", models.SceneEdit{Description: &desc})
	assert.Equal(t, http.StatusConflict, w.Code)
	w, _ = a.do(t, http.MethodPost, base+"/cancel", nil)
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestUnknownAndMalformedIDs(t *testing.T) {
	a := newAPI(t)
	w, _ := a.do(t, http.MethodGet, "/videos/"+uuid.NewString()+"/status", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	w, _ = a.do(t, http.MethodGet, "/videos/not-a-uuid/status", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	w, _ = a.do(t, http.MethodPut, "/videos/"+uuid.NewString()+"/script", ScriptRequest{})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestEventsStream(t *testing.T) {
	a := newAPI(t)
	v := a.store.Seed(illustrated(models.StatusRendering, 1))
	srv := httptest.NewServer(a.router)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/videos/" + v.ID.String() + "/events"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	var msg StreamMessage
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, "snapshot", msg.Event)
	assert.Equal(t, models.StatusRendering, msg.Data.Status)

	a.sub.emit(events.Event{VideoID: v.ID, Status: models.StatusCompleted, FinalVideoURL: testsupport.BlobBaseURL + "final.mp4"})
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, "status", msg.Event)
	assert.Equal(t, models.StatusCompleted, msg.Data.Status)

	_, _, err = conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "stream closes after a terminal status: %v", err)
}
