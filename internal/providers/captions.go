package providers

import (
	"fmt"
	"math"
	"strings"

	"github.com/aura-studio/reelsmith/pkg/utils"
)

// Cue is one caption line with its display window in seconds.
type Cue struct {
	Index int
	Start float64
	End   float64
	Text  string
}

// BuildCaptions splits text into sentences and gives each a share of total proportional
// to its character count. Cues are contiguous and the last one ends exactly at total.
// Timing does not follow the actual speech rate of the audio.
func BuildCaptions(text string, total float64) []Cue {
	sentences := utils.SplitSentences(text)
	if len(sentences) == 0 || total <= 0 {
		return nil
	}
	weights := make([]int, len(sentences))
	sum := 0
	for i, s := range sentences {
		w := utils.CharCount(s)
		if w < 1 {
			w = 1
		}
		weights[i] = w
		sum += w
	}

	cues := make([]Cue, len(sentences))
	cum := 0
	for i, s := range sentences {
		start := total * float64(cum) / float64(sum)
		cum += weights[i]
		end := total * float64(cum) / float64(sum)
		if i == len(sentences)-1 {
			end = total
		}
		cues[i] = Cue{Index: i + 1, Start: start, End: end, Text: s}
	}
	return cues
}

// FormatSRT renders cues as a SubRip document.
func FormatSRT(cues []Cue) string {
	var b strings.Builder
	for i, c := range cues {
		if i > 0 {
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "%d\n%s --> %s\n%s\n", c.Index, srtTimestamp(c.Start), srtTimestamp(c.End), c.Text)
	}
	return b.String()
}

func srtTimestamp(sec float64) string {
	ms := int64(math.Round(sec * 1000))
	if ms < 0 {
		ms = 0
	}
	h := ms / 3_600_000
	ms -= h * 3_600_000
	m := ms / 60_000
	ms -= m * 60_000
	s := ms / 1000
	ms -= s * 1000
	return fmt.Sprintf("%02d:%02d:%02d,%03d", h, m, s, ms)
}
