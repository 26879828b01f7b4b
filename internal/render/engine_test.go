package render

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aura-studio/reelsmith/internal/models"
	"github.com/aura-studio/reelsmith/internal/runs"
	"github.com/aura-studio/reelsmith/internal/testsupport"
)

type fetchFunc func(ctx context.Context, url, dest string) error

func (f fetchFunc) Fetch(ctx context.Context, url, dest string) error { return f(ctx, url, dest) }

func copyURL(ctx context.Context, url, dest string) error {
	return os.WriteFile(dest, []byte("data:"+url), 0o644)
}

type fakeFFmpeg struct {
	mu      sync.Mutex
	calls   [][]string
	respond func(ctx context.Context, args []string) ([]byte, error)
}

func (f *fakeFFmpeg) run(ctx context.Context, name string, args ...string) ([]byte, error) {
	f.mu.Lock()
	f.calls = append(f.calls, args)
	respond := f.respond
	f.mu.Unlock()
	if respond != nil {
		return respond(ctx, args)
	}
	return nil, writeOutput(args)
}

func (f *fakeFFmpeg) Calls() [][]string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]string(nil), f.calls...)
}

func writeOutput(args []string) error {
	return os.WriteFile(args[len(args)-1], []byte("mp4"), 0o644)
}

func argAfter(args []string, flag string) string {
	for i := 0; i < len(args)-1; i++ {
		if args[i] == flag {
			return args[i+1]
		}
	}
	return ""
}

type renderHarness struct {
	store  *testsupport.MemStore
	blobs  *testsupport.MemBlobs
	ffmpeg *fakeFFmpeg
	events *testsupport.EventRecorder
	runs   *runs.Registry
	cfg    Config
}

func newRenderHarness(t *testing.T) *renderHarness {
	t.Helper()
	dir := t.TempDir()
	return &renderHarness{
		store:  testsupport.NewMemStore(),
		blobs:  testsupport.NewMemBlobs(),
		ffmpeg: &fakeFFmpeg{},
		events: &testsupport.EventRecorder{},
		runs:   runs.NewRegistry(),
		cfg: Config{
			WorkDir:   dir + "/work",
			OutputDir: dir + "/out",
			Look:      Look{Width: 16, Height: 9, FPS: 25, MaxZoom: 1.08, Grade: true, Vignette: true},
		},
	}
}

func (h *renderHarness) engine() *Engine {
	return NewEngine(h.store, h.blobs, fetchFunc(copyURL), h.ffmpeg.run, h.events, h.runs, h.cfg, nil)
}

// readyVideo returns a video with every asset generated.
func readyVideo(n int) *models.Video {
	v := testsupport.Video(models.StatusAssetsGenerated, n)
	for i := range v.Storyboard {
		v.Storyboard[i].ImageURL = fmt.Sprintf("%svideos/x/scene_%03d.png", testsupport.BlobBaseURL, i)
		v.Storyboard[i].Duration = 2
	}
	v.AudioURL = testsupport.BlobBaseURL + "videos/x/narration.mp3"
	v.AudioDuration = float64(2 * n)
	v.CaptionsURL = testsupport.BlobBaseURL + "videos/x/captions.srt"
	return v
}

func TestRenderCompletes(t *testing.T) {
	h := newRenderHarness(t)
	var manifest string
	h.ffmpeg.respond = func(ctx context.Context, args []string) ([]byte, error) {
		data, err := os.ReadFile(argAfter(args, "-i"))
		if err != nil {
			return nil, err
		}
		manifest = string(data)
		return []byte("frame=  75 fps=25"), writeOutput(args)
	}
	v := h.store.Seed(readyVideo(3))

	out, err := h.engine().Render(context.Background(), v.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, out.Status)
	assert.True(t, out.Subtitles)
	assert.False(t, out.Reused)

	cur, err := h.store.Get(context.Background(), v.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, cur.Status)
	assert.True(t, models.IsReadyURL(cur.FinalVideoURL))
	assert.Empty(t, cur.EncodedPath)
	assert.Empty(t, cur.RunToken)
	data, ok := h.blobs.ObjectAt(cur.FinalVideoURL)
	require.True(t, ok)
	assert.Equal(t, "mp4", string(data))

	calls := h.ffmpeg.Calls()
	require.Len(t, calls, 1)
	vf := argAfter(calls[0], "-vf")
	assert.Contains(t, vf, "subtitles=")
	assert.Contains(t, vf, "zoompan=")
	assert.Equal(t, 4, strings.Count(manifest, "file "))
	assert.Equal(t, 3, strings.Count(manifest, "duration 2.000"))

	assert.Equal(t, []models.Status{models.StatusRendering, models.StatusCompleted}, h.events.Statuses())
}

func TestRenderWhilePartialIsPrecondition(t *testing.T) {
	h := newRenderHarness(t)
	v := readyVideo(3)
	v.Status = models.StatusAssetsPartial
	v.Storyboard[1].ImageURL = ""
	v = h.store.Seed(v)

	_, err := h.engine().Render(context.Background(), v.ID)
	var pe *PreconditionError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, []string{"scene 1 image"}, pe.Missing)
	assert.Contains(t, err.Error(), "scene 1 image")
	assert.Zero(t, h.store.Writes())
	assert.Empty(t, h.ffmpeg.Calls())

	cur, err := h.store.Get(context.Background(), v.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusAssetsPartial, cur.Status)
}

func TestRenderRejectsDirtyScene(t *testing.T) {
	h := newRenderHarness(t)
	v := readyVideo(2)
	v.DirtyScenes = []int{0}
	v = h.store.Seed(v)

	_, err := h.engine().Render(context.Background(), v.ID)
	assert.True(t, IsPrecondition(err))
	assert.Contains(t, err.Error(), "scene 0 image (edited)")
}

func TestRenderConflictWhileRendering(t *testing.T) {
	h := newRenderHarness(t)
	v := readyVideo(2)
	v.Status = models.StatusRendering
	v.RunToken = "other"
	v = h.store.Seed(v)

	_, err := h.engine().Render(context.Background(), v.ID)
	assert.True(t, models.IsConflict(err))
}

func TestRenderSubtitleFallback(t *testing.T) {
	h := newRenderHarness(t)
	h.ffmpeg.respond = func(ctx context.Context, args []string) ([]byte, error) {
		if strings.Contains(argAfter(args, "-vf"), "subtitles=") {
			return []byte("[Parsed_subtitles_7] Unable to open captions.srt\nError opening filters!"), errors.New("exit status 1")
		}
		return nil, writeOutput(args)
	}
	v := h.store.Seed(readyVideo(2))

	out, err := h.engine().Render(context.Background(), v.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, out.Status)
	assert.False(t, out.Subtitles)

	calls := h.ffmpeg.Calls()
	require.Len(t, calls, 2)
	assert.NotContains(t, argAfter(calls[1], "-vf"), "subtitles")
	assert.Equal(t, argAfter(calls[0], "-i"), argAfter(calls[1], "-i"))
}

func TestRenderCatchesFailureIndicatorOnCleanExit(t *testing.T) {
	h := newRenderHarness(t)
	h.ffmpeg.respond = func(ctx context.Context, args []string) ([]byte, error) {
		return []byte("Conversion failed!"), writeOutput(args)
	}
	v := h.store.Seed(readyVideo(2))

	out, err := h.engine().Render(context.Background(), v.ID)
	var ee *EncodeError
	require.ErrorAs(t, err, &ee)
	assert.Equal(t, "Conversion failed!", ee.Indicator)
	assert.Equal(t, models.StatusRenderFailed, out.Status)
	assert.Len(t, h.ffmpeg.Calls(), 2, "one attempt with subtitles, one without")

	cur, err := h.store.Get(context.Background(), v.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusRenderFailed, cur.Status)
	assert.True(t, strings.HasPrefix(cur.ErrorMessage, "render: "))
	assert.Empty(t, cur.EncodedPath)
	assert.Empty(t, cur.RunToken)
}

func TestRenderUploadFailureThenUploadOnlyRetry(t *testing.T) {
	h := newRenderHarness(t)
	h.blobs.Fail = func(key string) error { return errors.New("bucket unavailable") }
	v := h.store.Seed(readyVideo(2))
	eng := h.engine()

	_, err := eng.Render(context.Background(), v.ID)
	var ue *UploadError
	require.ErrorAs(t, err, &ue)
	cur, err := h.store.Get(context.Background(), v.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusRenderFailed, cur.Status)
	assert.Contains(t, cur.ErrorMessage, "bucket unavailable")
	require.NotEmpty(t, cur.EncodedPath)
	assert.FileExists(t, cur.EncodedPath)
	encoded := cur.EncodedPath

	h.blobs.Fail = nil
	out, err := eng.Render(context.Background(), v.ID)
	require.NoError(t, err)
	assert.True(t, out.Reused)
	assert.Equal(t, models.StatusCompleted, out.Status)
	assert.Len(t, h.ffmpeg.Calls(), 1, "second render must not re-encode")
	assert.NoFileExists(t, encoded)

	cur, err = h.store.Get(context.Background(), v.ID)
	require.NoError(t, err)
	assert.Empty(t, cur.EncodedPath)
	assert.True(t, models.IsReadyURL(cur.FinalVideoURL))
}

func TestRenderTimeout(t *testing.T) {
	h := newRenderHarness(t)
	h.cfg.Timeout = 50 * time.Millisecond
	h.cfg.DisableSubtitles = true
	h.ffmpeg.respond = func(ctx context.Context, args []string) ([]byte, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	v := h.store.Seed(readyVideo(1))

	out, err := h.engine().Render(context.Background(), v.ID)
	var te *TimeoutError
	require.ErrorAs(t, err, &te)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, models.StatusRenderFailed, out.Status)
	assert.Len(t, h.ffmpeg.Calls(), 1)
}

func TestRenderCancelledRunWritesNothing(t *testing.T) {
	h := newRenderHarness(t)
	started := make(chan struct{})
	h.ffmpeg.respond = func(ctx context.Context, args []string) ([]byte, error) {
		close(started)
		<-ctx.Done()
		return nil, ctx.Err()
	}
	v := h.store.Seed(readyVideo(1))
	eng := h.engine()
	token, err := eng.Claim(context.Background(), v.ID)
	require.NoError(t, err)

	errc := make(chan error, 1)
	go func() {
		_, err := eng.Run(context.Background(), v.ID, token)
		errc <- err
	}()
	<-started
	h.store.Mutate(v.ID, func(cur *models.Video) { require.NoError(t, cur.Transition(models.StatusCancelled)) })
	assert.True(t, h.runs.Cancel(v.ID))

	assert.ErrorIs(t, <-errc, models.ErrStaleRun)
	cur, err := h.store.Get(context.Background(), v.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCancelled, cur.Status)
	assert.Empty(t, cur.FinalVideoURL)
}

func TestRenderClosedVideo(t *testing.T) {
	h := newRenderHarness(t)
	v := readyVideo(1)
	v.Status = models.StatusCompleted
	v = h.store.Seed(v)

	_, err := h.engine().Render(context.Background(), v.ID)
	assert.ErrorIs(t, err, models.ErrVideoClosed)
}

func TestRenderManifestSpansNarrationAfterSceneDelete(t *testing.T) {
	h := newRenderHarness(t)
	var manifest string
	h.ffmpeg.respond = func(ctx context.Context, args []string) ([]byte, error) {
		data, err := os.ReadFile(argAfter(args, "-i"))
		if err != nil {
			return nil, err
		}
		manifest = string(data)
		return nil, writeOutput(args)
	}
	// Durations were split over three scenes before one was dropped.
	v := readyVideo(3)
	v.Storyboard = v.Storyboard[:2]
	v = h.store.Seed(v)

	_, err := h.engine().Render(context.Background(), v.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, strings.Count(manifest, "duration 3.000"), manifest)
}

func TestRenderStoreFailureRecordsRenderFailed(t *testing.T) {
	down := errors.New("connection reset")

	t.Run("initial read", func(t *testing.T) {
		h := newRenderHarness(t)
		v := h.store.Seed(readyVideo(1))
		eng := h.engine()
		token, err := eng.Claim(context.Background(), v.ID)
		require.NoError(t, err)

		h.store.FailWhen(func(op string, _ *models.Video) error {
			if op == "get" {
				return down
			}
			return nil
		})
		out, err := eng.Run(context.Background(), v.ID, token)
		assert.ErrorIs(t, err, down)
		require.NotNil(t, out)
		assert.Equal(t, models.StatusRenderFailed, out.Status)
		assert.Empty(t, h.ffmpeg.Calls())
		h.store.FailWhen(nil)

		cur, err := h.store.Get(context.Background(), v.ID)
		require.NoError(t, err)
		assert.Equal(t, models.StatusRenderFailed, cur.Status)
		assert.Empty(t, cur.RunToken)
	})

	t.Run("completion write", func(t *testing.T) {
		h := newRenderHarness(t)
		v := h.store.Seed(readyVideo(1))
		h.store.FailWhen(func(op string, next *models.Video) error {
			if op == "update" && next.Status == models.StatusCompleted {
				return down
			}
			return nil
		})

		_, err := h.engine().Render(context.Background(), v.ID)
		assert.ErrorIs(t, err, down)
		cur, err := h.store.Get(context.Background(), v.ID)
		require.NoError(t, err)
		assert.Equal(t, models.StatusRenderFailed, cur.Status)
		assert.Contains(t, cur.ErrorMessage, "record completion")
		assert.NotEmpty(t, cur.EncodedPath, "a retry uploads the encoded file again")
	})
}
