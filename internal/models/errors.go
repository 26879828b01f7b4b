package models

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

var (
	// ErrNotFound is returned when a video does not exist.
	ErrNotFound = errors.New("video not found")
	// ErrStaleRun is returned when a worker's run token no longer owns the video (cancelled or superseded).
	ErrStaleRun = errors.New("run is no longer active for this video")
	// ErrInvalidScene is returned for out-of-range scene indices or malformed storyboard edits.
	ErrInvalidScene = errors.New("invalid scene")
	// ErrVideoClosed is returned when mutating a completed or cancelled video.
	ErrVideoClosed = errors.New("video is completed or cancelled")
)

// ConflictError is returned when a stage is already running for the video.
type ConflictError struct {
	VideoID uuid.UUID
	Status  Status
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("video %s is busy (%s); wait for the current run to finish", e.VideoID, e.Status)
}

// IsConflict reports whether err is (or wraps) a *ConflictError.
func IsConflict(err error) bool {
	var ce *ConflictError
	return errors.As(err, &ce)
}
