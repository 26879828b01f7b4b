package providers

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/aura-studio/reelsmith/internal/models"
	"github.com/aura-studio/reelsmith/pkg/procrun"
)

// EdgeTTS shells out to the edge-tts CLI. It needs no credentials, so it serves as the
// speech fallback when the HTTP provider is unavailable.
type EdgeTTS struct {
	binary       string
	defaultVoice string
	workDir      string
	run          procrun.Runner
}

// NewEdgeTTS creates the fallback speech provider. An empty binary means "edge-tts" on PATH.
func NewEdgeTTS(binary, defaultVoice, workDir string, run procrun.Runner) *EdgeTTS {
	if binary == "" {
		binary = "edge-tts"
	}
	if defaultVoice == "" {
		defaultVoice = "en-US-GuyNeural"
	}
	return &EdgeTTS{binary: binary, defaultVoice: defaultVoice, workDir: workDir, run: procrun.OrExec(run)}
}

func (p *EdgeTTS) Name() string { return "edge-tts" }

// SynthesizeSpeech writes the narration to a temp mp3 via edge-tts and returns its bytes.
func (p *EdgeTTS) SynthesizeSpeech(ctx context.Context, text string, voice models.VoiceParams) ([]byte, error) {
	dir, err := os.MkdirTemp(p.workDir, "edge-tts-*")
	if err != nil {
		return nil, &UpstreamError{Kind: KindOther, Provider: p.Name(), Err: err}
	}
	defer os.RemoveAll(dir)

	out := filepath.Join(dir, "speech.mp3")
	v := voice.Voice
	if v == "" {
		v = p.defaultVoice
	}
	args := []string{"--voice", v, "--text", text, "--write-media", out}
	if voice.Speed > 0 && voice.Speed != 1 {
		args = append(args, fmt.Sprintf("--rate=%+d%%", int((voice.Speed-1)*100)))
	}
	combined, err := p.run(ctx, p.binary, args...)
	if err != nil {
		kind := KindOther
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			kind = KindTimeout
		}
		return nil, &UpstreamError{Kind: kind, Provider: p.Name(), Err: fmt.Errorf("%w: %s", err, strings.TrimSpace(string(combined)))}
	}
	data, err := os.ReadFile(out)
	if err != nil || len(data) == 0 {
		return nil, &UpstreamError{Kind: KindOther, Provider: p.Name(), Err: fmt.Errorf("no audio written: %v", err)}
	}
	return data, nil
}
