package models

import (
	"fmt"
	"strings"

	"github.com/aura-studio/reelsmith/pkg/utils"
)

// SceneEdit carries the optional fields of a scene edit.
type SceneEdit struct {
	Description *string  `json:"description,omitempty"`
	ImagePrompt *string  `json:"image_prompt,omitempty"`
	Duration    *float64 `json:"duration,omitempty"`
}

func (v *Video) checkEditable() error {
	if v.Status.IsTerminal() {
		return ErrVideoClosed
	}
	if v.Status.IsRunning() {
		return &ConflictError{VideoID: v.ID, Status: v.Status}
	}
	return nil
}

func (v *Video) checkIndex(i int) error {
	if i < 0 || i >= len(v.Storyboard) {
		return fmt.Errorf("%w: index %d out of range (storyboard has %d scenes)", ErrInvalidScene, i, len(v.Storyboard))
	}
	return nil
}

// SetScript stores generated narration text.
func (v *Video) SetScript(text string) error {
	if v.Status.IsTerminal() {
		return ErrVideoClosed
	}
	if v.Status != StatusDraft && v.Status != StatusScriptGenerated {
		return &TransitionError{From: v.Status, To: StatusScriptGenerated}
	}
	v.ScriptText = strings.TrimSpace(text)
	if v.Status == StatusDraft {
		return v.Transition(StatusScriptGenerated)
	}
	return nil
}

// ApproveScript saves the narration the user approved. Re-approving changed text after
// images exist re-arms the pipeline by marking every illustrated scene dirty; status never
// moves backward.
func (v *Video) ApproveScript(text string) error {
	if err := v.checkEditable(); err != nil {
		return err
	}
	text = strings.TrimSpace(text)
	if text == "" {
		text = v.ScriptText
	}
	if strings.TrimSpace(text) == "" {
		return fmt.Errorf("%w: script text is empty", ErrInvalidScene)
	}
	if v.Status == StatusScriptGenerated {
		v.ScriptText = text
		return v.Transition(StatusScriptApproved)
	}
	if v.Status == StatusDraft {
		return &TransitionError{From: v.Status, To: StatusScriptApproved}
	}
	if text != v.ScriptText {
		v.ScriptText = text
		// Narration changes invalidate the audio and caption timing as well.
		v.AudioURL, v.AudioDuration, v.CaptionsURL = "", 0, ""
		for i, s := range v.Storyboard {
			if s.ImageURL != "" {
				v.MarkDirty(i)
			}
		}
		v.EncodedPath = ""
	}
	return nil
}

// SetStoryboard replaces the storyboard with freshly derived scenes.
func (v *Video) SetStoryboard(scenes []Scene) error {
	if err := v.checkEditable(); err != nil {
		return err
	}
	if len(scenes) == 0 {
		return fmt.Errorf("%w: storyboard must contain at least one scene", ErrInvalidScene)
	}
	for i, s := range scenes {
		if strings.TrimSpace(s.Description) == "" {
			return fmt.Errorf("%w: scene %d has no description", ErrInvalidScene, i)
		}
	}
	v.Storyboard = append([]Scene(nil), scenes...)
	v.DirtyScenes = nil
	v.Retime()
	v.StoryboardVersion++
	v.EncodedPath = ""
	if v.Status == StatusScriptApproved {
		return v.Transition(StatusStoryboardGenerated)
	}
	return nil
}

// EditScene changes a scene's narration text, image prompt or duration. Text or prompt
// changes on a scene that already has an image mark it dirty.
func (v *Video) EditScene(i int, edit SceneEdit) error {
	if err := v.checkEditable(); err != nil {
		return err
	}
	if err := v.checkIndex(i); err != nil {
		return err
	}
	s := &v.Storyboard[i]
	changed := false
	if edit.Description != nil {
		d := strings.TrimSpace(*edit.Description)
		if d == "" {
			return fmt.Errorf("%w: scene %d description cannot be empty", ErrInvalidScene, i)
		}
		if d != s.Description {
			s.Description = d
			changed = true
		}
	}
	if edit.ImagePrompt != nil {
		p := strings.TrimSpace(*edit.ImagePrompt)
		if p != s.ImagePrompt {
			s.ImagePrompt = p
			changed = true
		}
	}
	if edit.Duration != nil {
		if *edit.Duration <= 0 {
			return fmt.Errorf("%w: scene %d duration must be positive", ErrInvalidScene, i)
		}
		s.Duration = *edit.Duration
		s.DurationLocked = true
	}
	if changed && s.ImageURL != "" {
		v.MarkDirty(i)
	}
	v.Retime()
	v.StoryboardVersion++
	v.EncodedPath = ""
	return nil
}

// InsertScene inserts scene at index i (i == len appends), shifting later indices.
// Scene durations are re-split over the narration once audio exists, as they are
// after every edit that changes the scene set or its text.
func (v *Video) InsertScene(i int, scene Scene) error {
	if err := v.checkEditable(); err != nil {
		return err
	}
	if i < 0 || i > len(v.Storyboard) {
		return fmt.Errorf("%w: insert index %d out of range", ErrInvalidScene, i)
	}
	if strings.TrimSpace(scene.Description) == "" {
		return fmt.Errorf("%w: scene description is required", ErrInvalidScene)
	}
	scene.ImageURL, scene.Placeholder = "", ""
	v.Storyboard = append(v.Storyboard, Scene{})
	copy(v.Storyboard[i+1:], v.Storyboard[i:])
	v.Storyboard[i] = scene
	for k, d := range v.DirtyScenes {
		if d >= i {
			v.DirtyScenes[k] = d + 1
		}
	}
	v.Retime()
	v.StoryboardVersion++
	v.EncodedPath = ""
	return nil
}

// DeleteScene removes scene i and renumbers every later index reference.
func (v *Video) DeleteScene(i int) error {
	if err := v.checkEditable(); err != nil {
		return err
	}
	if err := v.checkIndex(i); err != nil {
		return err
	}
	if len(v.Storyboard) == 1 {
		return fmt.Errorf("%w: cannot delete the only scene", ErrInvalidScene)
	}
	v.Storyboard = append(v.Storyboard[:i], v.Storyboard[i+1:]...)
	dirty := make([]int, 0, len(v.DirtyScenes))
	for _, d := range v.DirtyScenes {
		switch {
		case d == i:
		case d > i:
			dirty = append(dirty, d-1)
		default:
			dirty = append(dirty, d)
		}
	}
	v.DirtyScenes = dirty
	v.Retime()
	v.StoryboardVersion++
	v.EncodedPath = ""
	return nil
}

// ReorderScenes rearranges the storyboard so that new position k holds old scene order[k].
func (v *Video) ReorderScenes(order []int) error {
	if err := v.checkEditable(); err != nil {
		return err
	}
	if len(order) != len(v.Storyboard) {
		return fmt.Errorf("%w: order has %d entries, storyboard has %d", ErrInvalidScene, len(order), len(v.Storyboard))
	}
	seen := make([]bool, len(order))
	newIndex := make([]int, len(order))
	for k, old := range order {
		if old < 0 || old >= len(order) || seen[old] {
			return fmt.Errorf("%w: order must be a permutation of 0..%d", ErrInvalidScene, len(order)-1)
		}
		seen[old] = true
		newIndex[old] = k
	}
	scenes := make([]Scene, len(order))
	for k, old := range order {
		scenes[k] = v.Storyboard[old]
	}
	v.Storyboard = scenes
	dirty := v.DirtyScenes
	v.DirtyScenes = nil
	for _, d := range dirty {
		v.MarkDirty(newIndex[d])
	}
	v.StoryboardVersion++
	v.EncodedPath = ""
	return nil
}

// DeriveScenes splits script into count scenes of consecutive sentences (one scene per
// sentence when count <= 0 or exceeds the sentence count). Earlier scenes take the extra
// sentence when the split is uneven.
func DeriveScenes(script string, count int) []Scene {
	sentences := utils.SplitSentences(script)
	if len(sentences) == 0 {
		return nil
	}
	if count <= 0 || count > len(sentences) {
		count = len(sentences)
	}
	scenes := make([]Scene, 0, count)
	per, extra := len(sentences)/count, len(sentences)%count
	next := 0
	for k := 0; k < count; k++ {
		n := per
		if k < extra {
			n++
		}
		scenes = append(scenes, Scene{Description: strings.Join(sentences[next:next+n], " ")})
		next += n
	}
	return scenes
}
