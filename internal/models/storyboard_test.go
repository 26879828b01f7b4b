package models

import (
	"fmt"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func illustrated(n int) *Video {
	v := &Video{Status: StatusAssetsGenerated, ScriptText: "script"}
	for i := 0; i < n; i++ {
		v.Storyboard = append(v.Storyboard, Scene{
			Description: fmt.Sprintf("scene %d", i),
			ImageURL:    fmt.Sprintf("https://cdn.example.com/%d.png", i),
		})
	}
	return v
}

func TestEditSceneMarksDirtyOnlyWhenImageExists(t *testing.T) {
	v := illustrated(5)
	prompt := "a quiet harbor at dawn"
	require.NoError(t, v.EditScene(2, SceneEdit{ImagePrompt: &prompt}))
	assert.Equal(t, []int{2}, v.DirtyScenes)
	assert.Equal(t, 1, v.StoryboardVersion)
	assert.Equal(t, StatusAssetsGenerated, v.Status)

	v.Storyboard[3].ImageURL = ""
	text := "new narration"
	require.NoError(t, v.EditScene(3, SceneEdit{Description: &text}))
	assert.Equal(t, []int{2}, v.DirtyScenes)

	same := "scene 0"
	require.NoError(t, v.EditScene(0, SceneEdit{Description: &same}))
	assert.Equal(t, []int{2}, v.DirtyScenes)
}

func TestEditSceneDurationLocks(t *testing.T) {
	v := illustrated(2)
	d := 4.5
	require.NoError(t, v.EditScene(1, SceneEdit{Duration: &d}))
	assert.True(t, v.Storyboard[1].DurationLocked)
	assert.Empty(t, v.DirtyScenes)

	bad := -1.0
	assert.ErrorIs(t, v.EditScene(1, SceneEdit{Duration: &bad}), ErrInvalidScene)
}

func TestDeleteSceneShiftsDirty(t *testing.T) {
	v := illustrated(5)
	v.DirtyScenes = []int{1, 2, 4}
	require.NoError(t, v.DeleteScene(2))
	assert.Len(t, v.Storyboard, 4)
	assert.Equal(t, []int{1, 3}, v.DirtyScenes)
	assert.Equal(t, "scene 3", v.Storyboard[2].Description)
	assert.Equal(t, "https://cdn.example.com/3.png", v.Storyboard[2].ImageURL)
}

func TestDeleteOnlySceneRejected(t *testing.T) {
	v := illustrated(1)
	assert.ErrorIs(t, v.DeleteScene(0), ErrInvalidScene)
}

func TestReorderScenesRemapsDirty(t *testing.T) {
	v := illustrated(4)
	v.DirtyScenes = []int{0, 3}
	require.NoError(t, v.ReorderScenes([]int{3, 2, 1, 0}))
	assert.Equal(t, "scene 3", v.Storyboard[0].Description)
	assert.Equal(t, "https://cdn.example.com/3.png", v.Storyboard[0].ImageURL)
	assert.Equal(t, []int{0, 3}, v.DirtyScenes)

	v.DirtyScenes = []int{1}
	require.NoError(t, v.ReorderScenes([]int{1, 0, 2, 3}))
	assert.Equal(t, []int{0}, v.DirtyScenes)

	assert.ErrorIs(t, v.ReorderScenes([]int{0, 0, 1, 2}), ErrInvalidScene)
	assert.ErrorIs(t, v.ReorderScenes([]int{0, 1}), ErrInvalidScene)
}

func TestInsertSceneShiftsDirty(t *testing.T) {
	v := illustrated(3)
	v.DirtyScenes = []int{0, 2}
	require.NoError(t, v.InsertScene(1, Scene{Description: "inserted", ImageURL: "https://x/y.png"}))
	assert.Equal(t, []int{0, 3}, v.DirtyScenes)
	assert.Equal(t, "inserted", v.Storyboard[1].Description)
	assert.Empty(t, v.Storyboard[1].ImageURL)
	assert.Contains(t, v.Needs().Scenes, 1)
}

func TestStoryboardMutationsRejectedWhileRunning(t *testing.T) {
	v := illustrated(3)
	v.Status = StatusAssetsGenerating
	assert.True(t, IsConflict(v.DeleteScene(0)))
	assert.True(t, IsConflict(v.ReorderScenes([]int{2, 1, 0})))
}

// Any sequence of structural edits keeps per-scene data and the dirty set aligned.
func TestIndexAlignmentUnderRandomEdits(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	for run := 0; run < 200; run++ {
		v := illustrated(2 + rng.Intn(8))
		for i := range v.Storyboard {
			if rng.Intn(3) == 0 {
				v.MarkDirty(i)
			}
		}
		for step := 0; step < 20; step++ {
			n := len(v.Storyboard)
			switch rng.Intn(4) {
			case 0:
				if n > 1 {
					require.NoError(t, v.DeleteScene(rng.Intn(n)))
				}
			case 1:
				require.NoError(t, v.ReorderScenes(rng.Perm(n)))
			case 2:
				require.NoError(t, v.InsertScene(rng.Intn(n+1), Scene{Description: "new"}))
			case 3:
				p := fmt.Sprintf("prompt %d", step)
				require.NoError(t, v.EditScene(rng.Intn(n), SceneEdit{ImagePrompt: &p}))
			}
			for _, d := range v.DirtyScenes {
				require.GreaterOrEqual(t, d, 0)
				require.Less(t, d, len(v.Storyboard))
			}
			for k := 1; k < len(v.DirtyScenes); k++ {
				require.Less(t, v.DirtyScenes[k-1], v.DirtyScenes[k])
			}
		}
	}
}

func TestApproveScriptReArmsPipeline(t *testing.T) {
	v := illustrated(3)
	v.AudioURL = "https://cdn.example.com/a.mp3"
	v.CaptionsURL = "https://cdn.example.com/c.srt"
	require.NoError(t, v.ApproveScript("script"))
	assert.Empty(t, v.DirtyScenes)

	require.NoError(t, v.ApproveScript("a different script"))
	assert.Equal(t, []int{0, 1, 2}, v.DirtyScenes)
	assert.Empty(t, v.AudioURL)
	assert.Equal(t, StatusAssetsGenerated, v.Status)
}

func TestScriptLifecycle(t *testing.T) {
	v := &Video{Status: StatusDraft}
	require.NoError(t, v.SetScript("One. Two. Three."))
	assert.Equal(t, StatusScriptGenerated, v.Status)
	require.NoError(t, v.ApproveScript(""))
	assert.Equal(t, StatusScriptApproved, v.Status)
	require.NoError(t, v.SetStoryboard(DeriveScenes(v.ScriptText, 2)))
	assert.Equal(t, StatusStoryboardGenerated, v.Status)
	require.Len(t, v.Storyboard, 2)
	assert.Equal(t, "One. Two.", v.Storyboard[0].Description)
	assert.Equal(t, "Three.", v.Storyboard[1].Description)
}

func TestNeedsAndReadiness(t *testing.T) {
	v := illustrated(3)
	v.Storyboard[1].ImageURL = "not a url"
	v.Storyboard[2].Placeholder = "content_policy"
	v.DirtyScenes = []int{0}
	n := v.Needs()
	assert.True(t, n.Audio)
	assert.True(t, n.Captions)
	assert.Equal(t, []int{0, 1}, n.Scenes)

	r := v.Readiness()
	assert.Equal(t, 1, r.ImagesDone)
	assert.Equal(t, 3, r.ImagesTotal)
	assert.Equal(t, []int{2}, r.Placeholders)
	assert.False(t, r.Complete())
}
