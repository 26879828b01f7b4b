package models

import "fmt"

// Status is the pipeline state of a video.
type Status string

const (
	StatusDraft               Status = "draft"
	StatusScriptGenerated     Status = "script_generated"
	StatusScriptApproved      Status = "script_approved"
	StatusStoryboardGenerated Status = "storyboard_generated"
	StatusAssetsGenerating    Status = "assets_generating"
	StatusAssetsGenerated     Status = "assets_generated"
	StatusAssetsPartial       Status = "assets_partial"
	StatusAssetsFailed        Status = "assets_failed"
	StatusRendering           Status = "rendering"
	StatusCompleted           Status = "completed"
	StatusRenderFailed        Status = "render_failed"
	StatusCancelled           Status = "cancelled"
)

var allStatuses = []Status{
	StatusDraft,
	StatusScriptGenerated,
	StatusScriptApproved,
	StatusStoryboardGenerated,
	StatusAssetsGenerating,
	StatusAssetsGenerated,
	StatusAssetsPartial,
	StatusAssetsFailed,
	StatusRendering,
	StatusCompleted,
	StatusRenderFailed,
	StatusCancelled,
}

// transitions lists every allowed edge except "any non-terminal -> cancelled", which is implicit.
var transitions = map[Status][]Status{
	StatusDraft:               {StatusScriptGenerated},
	StatusScriptGenerated:     {StatusScriptApproved},
	StatusScriptApproved:      {StatusStoryboardGenerated, StatusAssetsGenerating},
	StatusStoryboardGenerated: {StatusAssetsGenerating},
	StatusAssetsGenerating:    {StatusAssetsGenerated, StatusAssetsPartial, StatusAssetsFailed},
	StatusAssetsPartial:       {StatusAssetsGenerating},
	StatusAssetsFailed:        {StatusAssetsGenerating},
	// Re-entering generation picks up scenes edited after a complete asset pass.
	StatusAssetsGenerated: {StatusRendering, StatusAssetsGenerating},
	StatusRendering:       {StatusCompleted, StatusRenderFailed},
	StatusRenderFailed:    {StatusRendering, StatusAssetsGenerating},
}

// AllStatuses returns the ordered list of known statuses.
func AllStatuses() []Status {
	out := make([]Status, len(allStatuses))
	copy(out, allStatuses)
	return out
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	for _, known := range allStatuses {
		if s == known {
			return true
		}
	}
	return false
}

// IsTerminal reports whether s accepts no further transitions.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// IsRunning reports whether a stage run owns the video in this status.
func (s Status) IsRunning() bool {
	return s == StatusAssetsGenerating || s == StatusRendering
}

// CanTransition reports whether from -> to is an allowed edge.
func CanTransition(from, to Status) bool {
	if from.IsTerminal() || !from.Valid() || !to.Valid() {
		return false
	}
	if to == StatusCancelled {
		return true
	}
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// TransitionError reports a forbidden status change.
type TransitionError struct {
	From Status
	To   Status
}

func (e *TransitionError) Error() string {
	if e.From.IsTerminal() {
		return fmt.Sprintf("video is %s; status can no longer change (requested %s)", e.From, e.To)
	}
	return fmt.Sprintf("status transition %s -> %s not allowed", e.From, e.To)
}
