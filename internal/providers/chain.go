package providers

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/aura-studio/reelsmith/internal/models"
)

// DefaultTimeout bounds every single provider call.
const DefaultTimeout = 60 * time.Second

// SpeechChain tries speech tiers in order. It is itself a SpeechSynthesizer.
type SpeechChain struct {
	tiers   []SpeechSynthesizer
	timeout time.Duration
	logger  *zap.Logger
}

// NewSpeechChain builds a chain with primary first and fallbacks after it.
func NewSpeechChain(timeout time.Duration, logger *zap.Logger, tiers ...SpeechSynthesizer) *SpeechChain {
	if logger == nil {
		logger = zap.NewNop()
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &SpeechChain{tiers: tiers, timeout: timeout, logger: logger}
}

func (c *SpeechChain) Name() string { return "speech-chain" }

// SynthesizeSpeech returns the first tier's successful result.
func (c *SpeechChain) SynthesizeSpeech(ctx context.Context, text string, voice models.VoiceParams) ([]byte, error) {
	names := make([]string, len(c.tiers))
	calls := make([]func(context.Context) ([]byte, error), len(c.tiers))
	for i, t := range c.tiers {
		t := t
		names[i] = t.Name()
		calls[i] = func(ctx context.Context) ([]byte, error) { return t.SynthesizeSpeech(ctx, text, voice) }
	}
	return runTiers(ctx, c.timeout, c.logger.With(zap.String("capability", "speech")), names, calls)
}

// ImageChain tries image tiers in order. It is itself an ImageSynthesizer.
type ImageChain struct {
	tiers   []ImageSynthesizer
	timeout time.Duration
	logger  *zap.Logger
}

// NewImageChain builds a chain with primary first and fallbacks after it.
func NewImageChain(timeout time.Duration, logger *zap.Logger, tiers ...ImageSynthesizer) *ImageChain {
	if logger == nil {
		logger = zap.NewNop()
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &ImageChain{tiers: tiers, timeout: timeout, logger: logger}
}

func (c *ImageChain) Name() string { return "image-chain" }

// SynthesizeImage returns the first tier's successful result.
func (c *ImageChain) SynthesizeImage(ctx context.Context, prompt string) ([]byte, error) {
	names := make([]string, len(c.tiers))
	calls := make([]func(context.Context) ([]byte, error), len(c.tiers))
	for i, t := range c.tiers {
		t := t
		names[i] = t.Name()
		calls[i] = func(ctx context.Context) ([]byte, error) { return t.SynthesizeImage(ctx, prompt) }
	}
	return runTiers(ctx, c.timeout, c.logger.With(zap.String("capability", "image")), names, calls)
}

// runTiers calls each tier once under its own deadline. A content policy rejection
// ends the chain; other failures move on to the next tier.
func runTiers(ctx context.Context, timeout time.Duration, logger *zap.Logger, names []string, calls []func(context.Context) ([]byte, error)) ([]byte, error) {
	if len(calls) == 0 {
		return nil, &UpstreamError{Kind: KindOther, Provider: "none", Err: errors.New("no provider configured")}
	}
	var last error
	for i, call := range calls {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		tierCtx, cancel := context.WithTimeout(ctx, timeout)
		out, err := call(tierCtx)
		expired := errors.Is(tierCtx.Err(), context.DeadlineExceeded)
		cancel()
		if err == nil {
			if i > 0 {
				logger.Info("fallback provider succeeded", zap.String("provider", names[i]))
			}
			return out, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if expired && KindOf(err) != KindTimeout {
			err = &UpstreamError{Kind: KindTimeout, Provider: names[i], Err: err}
		}
		logger.Warn("provider call failed",
			zap.String("provider", names[i]),
			zap.String("kind", string(KindOf(err))),
			zap.Error(err),
		)
		if IsContentPolicy(err) {
			return nil, err
		}
		last = err
	}
	return nil, fmt.Errorf("all %d providers failed: %w", len(calls), last)
}
