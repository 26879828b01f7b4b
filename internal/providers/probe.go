package providers

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/aura-studio/reelsmith/pkg/procrun"
)

// FFprobe measures media duration with ffprobe.
type FFprobe struct {
	binary string
	run    procrun.Runner
}

// NewFFprobe creates a prober. An empty binary means "ffprobe" on PATH.
func NewFFprobe(binary string, run procrun.Runner) *FFprobe {
	if binary == "" {
		binary = "ffprobe"
	}
	return &FFprobe{binary: binary, run: procrun.OrExec(run)}
}

// Duration returns the container duration of path in seconds.
func (p *FFprobe) Duration(ctx context.Context, path string) (float64, error) {
	out, err := p.run(ctx, p.binary,
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		path,
	)
	if err != nil {
		return 0, fmt.Errorf("ffprobe %s: %w", path, err)
	}
	return parseDuration(string(out))
}

func parseDuration(out string) (float64, error) {
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || line == "N/A" {
			continue
		}
		d, err := strconv.ParseFloat(line, 64)
		if err != nil {
			continue
		}
		if d <= 0 {
			return 0, fmt.Errorf("non-positive duration %q", line)
		}
		return d, nil
	}
	return 0, fmt.Errorf("no duration in ffprobe output %q", strings.TrimSpace(out))
}
