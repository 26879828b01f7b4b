package render

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/aura-studio/reelsmith/pkg/ffpath"
)

// Clip is one still image shown for Duration seconds.
type Clip struct {
	Path     string
	Duration float64
}

// BuildManifest writes a concat demuxer manifest for clips. The last file is listed a
// second time without a duration so the demuxer holds it for its full length.
func BuildManifest(clips []Clip) string {
	if len(clips) == 0 {
		return ""
	}
	var b strings.Builder
	for _, c := range clips {
		fmt.Fprintf(&b, "file %s\n", ffpath.ManifestEntry(c.Path))
		fmt.Fprintf(&b, "duration %s\n", strconv.FormatFloat(c.Duration, 'f', 3, 64))
	}
	fmt.Fprintf(&b, "file %s\n", ffpath.ManifestEntry(clips[len(clips)-1].Path))
	return b.String()
}

// minClipSeconds keeps a zero-length scene from vanishing from the concat.
const minClipSeconds = 0.5

// clipDurations returns the on-screen time of each scene. Unset durations split the
// audio time left over by the set ones, never dropping below minClipSeconds.
func clipDurations(durations []float64, audio float64) []float64 {
	out := make([]float64, len(durations))
	set, unset := 0.0, 0
	for _, d := range durations {
		if d > 0 {
			set += d
		} else {
			unset++
		}
	}
	even := 0.0
	if unset > 0 {
		even = (audio - set) / float64(unset)
	}
	for i, d := range durations {
		switch {
		case d > 0:
			out[i] = d
		case even > 0:
			out[i] = even
		}
		if out[i] < minClipSeconds {
			out[i] = minClipSeconds
		}
	}
	return out
}
