package models

import (
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

// VoiceParams are passed through to narration synthesis untouched.
type VoiceParams struct {
	Voice    string  `json:"voice,omitempty"`
	Language string  `json:"language,omitempty"`
	Speed    float64 `json:"speed,omitempty"`
}

// Scene is one storyboard entry. Its index in Video.Storyboard is its identity.
type Scene struct {
	Description    string  `json:"description"`
	ImagePrompt    string  `json:"image_prompt,omitempty"`
	ImageURL       string  `json:"image_url,omitempty"`
	Duration       float64 `json:"duration"`
	DurationLocked bool    `json:"duration_locked,omitempty"`
	// Placeholder holds the failure reason when ImageURL points at the static placeholder image.
	Placeholder string `json:"placeholder,omitempty"`
}

// Prompt returns the text sent to image synthesis.
func (s Scene) Prompt() string {
	if p := strings.TrimSpace(s.ImagePrompt); p != "" {
		return p
	}
	return strings.TrimSpace(s.Description)
}

// ImageReady reports whether the scene has a usable image.
func (s Scene) ImageReady() bool {
	return IsReadyURL(s.ImageURL)
}

// IsReadyURL reports whether raw is a well-formed absolute URL.
func IsReadyURL(raw string) bool {
	if strings.TrimSpace(raw) == "" {
		return false
	}
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return u.IsAbs() && u.Host != ""
}

// Video is the root aggregate persisted as one record.
type Video struct {
	ID                uuid.UUID   `json:"id"`
	Status            Status      `json:"status"`
	ScriptText        string      `json:"script_text"`
	Storyboard        []Scene     `json:"storyboard"`
	DirtyScenes       []int       `json:"dirty_scenes"`
	AudioURL          string      `json:"audio_url,omitempty"`
	AudioDuration     float64     `json:"audio_duration,omitempty"`
	CaptionsURL       string      `json:"captions_url,omitempty"`
	FinalVideoURL     string      `json:"final_video_url,omitempty"`
	ErrorMessage      string      `json:"error_message,omitempty"`
	StoryboardVersion int         `json:"storyboard_version"`
	VoiceParams       VoiceParams `json:"voice_params"`
	RunToken          string      `json:"-"`
	RunStartedAt      *time.Time  `json:"-"`
	EncodedPath       string      `json:"-"`
	CreatedAt         time.Time   `json:"created_at"`
	UpdatedAt         time.Time   `json:"updated_at"`
}

// Clone returns a deep copy so callers can mutate without aliasing the stored record.
func (v *Video) Clone() *Video {
	if v == nil {
		return nil
	}
	c := *v
	c.Storyboard = append([]Scene(nil), v.Storyboard...)
	c.DirtyScenes = append([]int(nil), v.DirtyScenes...)
	if v.RunStartedAt != nil {
		t := *v.RunStartedAt
		c.RunStartedAt = &t
	}
	return &c
}

// Transition moves the video to status to, or returns a *TransitionError.
func (v *Video) Transition(to Status) error {
	if !CanTransition(v.Status, to) {
		return &TransitionError{From: v.Status, To: to}
	}
	v.Status = to
	switch to {
	case StatusScriptGenerated, StatusScriptApproved, StatusStoryboardGenerated, StatusAssetsGenerated, StatusCompleted:
		v.ErrorMessage = ""
	}
	if !to.IsRunning() {
		v.RunToken = ""
		v.RunStartedAt = nil
	}
	return nil
}

// BeginRun stamps a fresh generation token and moves the video into a running status.
func (v *Video) BeginRun(to Status, now time.Time) (string, error) {
	if v.Status == to {
		return "", &ConflictError{VideoID: v.ID, Status: v.Status}
	}
	if v.Status.IsRunning() {
		return "", &ConflictError{VideoID: v.ID, Status: v.Status}
	}
	if err := v.Transition(to); err != nil {
		return "", err
	}
	token := uuid.NewString()
	v.RunToken = token
	t := now.UTC()
	v.RunStartedAt = &t
	return token, nil
}

// OwnsRun reports whether token still identifies the active run in status running.
func (v *Video) OwnsRun(token string, running Status) bool {
	return token != "" && v.RunToken == token && v.Status == running
}

// IsDirty reports whether scene i is marked for regeneration.
func (v *Video) IsDirty(i int) bool {
	for _, d := range v.DirtyScenes {
		if d == i {
			return true
		}
	}
	return false
}

// MarkDirty adds i to the dirty set.
func (v *Video) MarkDirty(i int) {
	if v.IsDirty(i) {
		return
	}
	v.DirtyScenes = append(v.DirtyScenes, i)
	sort.Ints(v.DirtyScenes)
}

// ClearDirty removes i from the dirty set.
func (v *Video) ClearDirty(i int) {
	out := v.DirtyScenes[:0]
	for _, d := range v.DirtyScenes {
		if d != i {
			out = append(out, d)
		}
	}
	v.DirtyScenes = out
}

// Needs is the set of assets a generation run has to produce.
type Needs struct {
	Audio    bool  `json:"audio"`
	Captions bool  `json:"captions"`
	Scenes   []int `json:"scenes"`
}

// Empty reports whether nothing needs generating.
func (n Needs) Empty() bool {
	return !n.Audio && !n.Captions && len(n.Scenes) == 0
}

// Needs computes the missing or dirty assets.
func (v *Video) Needs() Needs {
	n := Needs{
		Audio:    strings.TrimSpace(v.AudioURL) == "",
		Captions: strings.TrimSpace(v.CaptionsURL) == "",
	}
	for i, s := range v.Storyboard {
		if !s.ImageReady() || v.IsDirty(i) {
			n.Scenes = append(n.Scenes, i)
		}
	}
	return n
}

// Readiness summarises persisted asset state.
type Readiness struct {
	ImagesDone    int   `json:"images_done"`
	ImagesTotal   int   `json:"images_total"`
	AudioReady    bool  `json:"audio_ready"`
	CaptionsReady bool  `json:"captions_ready"`
	Placeholders  []int `json:"placeholders,omitempty"`
}

// ImagesReady reports whether every scene has a ready, non-dirty image.
func (r Readiness) ImagesReady() bool {
	return r.ImagesTotal > 0 && r.ImagesDone == r.ImagesTotal
}

// Complete reports whether every asset is ready.
func (r Readiness) Complete() bool {
	return r.ImagesReady() && r.AudioReady && r.CaptionsReady
}

// Readiness computes the progress counters from persisted fields.
func (v *Video) Readiness() Readiness {
	r := Readiness{
		ImagesTotal:   len(v.Storyboard),
		AudioReady:    IsReadyURL(v.AudioURL),
		CaptionsReady: IsReadyURL(v.CaptionsURL),
	}
	for i, s := range v.Storyboard {
		if s.ImageReady() && !v.IsDirty(i) {
			r.ImagesDone++
		}
		if s.Placeholder != "" {
			r.Placeholders = append(r.Placeholders, i)
		}
	}
	return r
}
