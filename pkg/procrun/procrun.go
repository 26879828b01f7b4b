package procrun

import (
	"context"
	"fmt"
	"os/exec"
)

// Runner executes name with args and returns the combined stdout and stderr.
// Tests substitute a fake to avoid spawning ffmpeg, ffprobe or edge-tts.
type Runner func(ctx context.Context, name string, args ...string) ([]byte, error)

// Exec is the default Runner backed by os/exec.
func Exec(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...) //nolint:gosec
	out, err := cmd.CombinedOutput()
	if err != nil {
		return out, fmt.Errorf("%s: %w", name, err)
	}
	return out, nil
}

// OrExec returns r, or Exec when r is nil.
func OrExec(r Runner) Runner {
	if r == nil {
		return Exec
	}
	return r
}
