package render

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aura-studio/reelsmith/internal/models"
)

// PreconditionError is returned by Claim when the video is not ready to render.
type PreconditionError struct {
	Status  models.Status
	Missing []string
}

func (e *PreconditionError) Error() string {
	if len(e.Missing) == 0 {
		return fmt.Sprintf("video is %s; render requires assets_generated", e.Status)
	}
	return fmt.Sprintf("video is not ready to render (%s): missing %s", e.Status, strings.Join(e.Missing, ", "))
}

// EncodeError is an encoder failure. Output holds the tail of the combined encoder output.
type EncodeError struct {
	Indicator string
	Output    string
	Err       error
}

func (e *EncodeError) Error() string {
	switch {
	case e.Indicator != "" && e.Err != nil:
		return fmt.Sprintf("encode failed (%s): %v", e.Indicator, e.Err)
	case e.Indicator != "":
		return fmt.Sprintf("encode failed: encoder reported %q", e.Indicator)
	default:
		return fmt.Sprintf("encode failed: %v", e.Err)
	}
}

func (e *EncodeError) Unwrap() error { return e.Err }

// UploadError is returned when the encoded file could not be stored.
type UploadError struct {
	Key string
	Err error
}

func (e *UploadError) Error() string {
	return fmt.Sprintf("upload %s: %v", e.Key, e.Err)
}

func (e *UploadError) Unwrap() error { return e.Err }

// TimeoutError is returned when the encoder exceeds its time limit.
type TimeoutError struct {
	After time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("encoder timed out after %s", e.After)
}

func (e *TimeoutError) Unwrap() error { return context.DeadlineExceeded }

// IsPrecondition reports whether err is a *PreconditionError.
func IsPrecondition(err error) bool {
	var pe *PreconditionError
	return errors.As(err, &pe)
}
