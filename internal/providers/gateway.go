package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/aura-studio/reelsmith/internal/models"
)

// Kind classifies an upstream failure.
type Kind string

const (
	KindAuth          Kind = "auth"
	KindQuota         Kind = "quota"
	KindTimeout       Kind = "timeout"
	KindContentPolicy Kind = "content_policy"
	KindOther         Kind = "other"
)

// UpstreamError is the single error shape returned by every provider.
type UpstreamError struct {
	Kind     Kind
	Provider string
	Status   int
	Err      error
}

func (e *UpstreamError) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Provider, e.Kind)
	if e.Status != 0 {
		msg += fmt.Sprintf(" (http %d)", e.Status)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *UpstreamError) Unwrap() error { return e.Err }

// KindOf returns the Kind of err, KindTimeout for deadline errors, or KindOther.
func KindOf(err error) Kind {
	var ue *UpstreamError
	if errors.As(err, &ue) {
		return ue.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	return KindOther
}

// IsContentPolicy reports whether err is a content policy rejection.
func IsContentPolicy(err error) bool {
	return err != nil && KindOf(err) == KindContentPolicy
}

// SpeechSynthesizer turns narration text into audio bytes.
type SpeechSynthesizer interface {
	SynthesizeSpeech(ctx context.Context, text string, voice models.VoiceParams) ([]byte, error)
	Name() string
}

// ImageSynthesizer turns a prompt into image bytes.
type ImageSynthesizer interface {
	SynthesizeImage(ctx context.Context, prompt string) ([]byte, error)
	Name() string
}

// DurationProber measures the playback length of a media file in seconds.
type DurationProber interface {
	Duration(ctx context.Context, path string) (float64, error)
}

var contentPolicyMarkers = []string{"content_policy", "content policy", "safety", "moderation", "nsfw", "blocked"}

// classifyResponse decodes a non-2xx provider response into an UpstreamError.
func classifyResponse(provider string, status int, body []byte) *UpstreamError {
	detail := errorDetail(body)
	ue := &UpstreamError{Kind: KindOther, Provider: provider, Status: status}
	if detail != "" {
		ue.Err = errors.New(detail)
	}
	lower := strings.ToLower(detail)
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		ue.Kind = KindAuth
	case status == http.StatusTooManyRequests || status == http.StatusPaymentRequired:
		ue.Kind = KindQuota
	case status == http.StatusRequestTimeout || status == http.StatusGatewayTimeout:
		ue.Kind = KindTimeout
	case status == http.StatusUnavailableForLegalReasons:
		ue.Kind = KindContentPolicy
	case status == http.StatusBadRequest || status == http.StatusUnprocessableEntity:
		for _, m := range contentPolicyMarkers {
			if strings.Contains(lower, m) {
				ue.Kind = KindContentPolicy
				break
			}
		}
	}
	if ue.Kind == KindOther && strings.Contains(lower, "quota") {
		ue.Kind = KindQuota
	}
	return ue
}

// classifyTransport wraps a transport-level failure.
func classifyTransport(provider string, err error) *UpstreamError {
	kind := KindOther
	if errors.Is(err, context.DeadlineExceeded) || isTimeout(err) {
		kind = KindTimeout
	}
	return &UpstreamError{Kind: kind, Provider: provider, Err: err}
}

func isTimeout(err error) bool {
	var t interface{ Timeout() bool }
	return errors.As(err, &t) && t.Timeout()
}

// errorDetail extracts a message from common JSON error envelopes, or returns the raw text.
func errorDetail(body []byte) string {
	var env struct {
		Error json.RawMessage `json:"error"`
		Code  string          `json:"code"`
		Msg   string          `json:"message"`
	}
	if err := json.Unmarshal(body, &env); err == nil {
		var nested struct {
			Code    string `json:"code"`
			Type    string `json:"type"`
			Message string `json:"message"`
		}
		if len(env.Error) > 0 && json.Unmarshal(env.Error, &nested) == nil {
			return strings.TrimSpace(strings.Join([]string{nested.Code, nested.Type, nested.Message}, " "))
		}
		var s string
		if len(env.Error) > 0 && json.Unmarshal(env.Error, &s) == nil {
			return strings.TrimSpace(env.Code + " " + s)
		}
		if env.Code != "" || env.Msg != "" {
			return strings.TrimSpace(env.Code + " " + env.Msg)
		}
	}
	s := strings.TrimSpace(string(body))
	if len(s) > 300 {
		s = s[:300]
	}
	return s
}
