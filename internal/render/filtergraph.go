package render

import (
	"fmt"
	"strings"

	"github.com/aura-studio/reelsmith/pkg/ffpath"
)

// Stage is one filter in a linear video filter chain.
type Stage struct {
	Name string
	Args string
}

func (s Stage) String() string {
	if s.Args == "" {
		return s.Name
	}
	return s.Name + "=" + s.Args
}

// Graph is an ordered filter chain rendered as the value of -vf.
type Graph struct {
	stages []Stage
}

// Add appends a stage.
func (g *Graph) Add(name, args string) *Graph {
	g.stages = append(g.stages, Stage{Name: name, Args: args})
	return g
}

// Stages returns the stages in order.
func (g *Graph) Stages() []Stage {
	return append([]Stage(nil), g.stages...)
}

// Has reports whether a stage named name is present.
func (g *Graph) Has(name string) bool {
	for _, s := range g.stages {
		if s.Name == name {
			return true
		}
	}
	return false
}

func (g *Graph) String() string {
	parts := make([]string, len(g.stages))
	for i, s := range g.stages {
		parts[i] = s.String()
	}
	return strings.Join(parts, ",")
}

// Look controls the optional stages of the filter chain.
type Look struct {
	Width  int
	Height int
	FPS    int
	// MaxZoom bounds the slow push-in; values <= 1 disable it.
	MaxZoom  float64
	Grade    bool
	Vignette bool
	// SubtitleStyle is an ASS force_style override, e.g. "FontSize=22,Outline=2".
	SubtitleStyle string
}

// BuildGraph assembles the chain: scale and pad, frame rate, zoom, colour grade,
// vignette, then subtitles when subtitlesPath is non-empty.
func BuildGraph(look Look, subtitlesPath string) *Graph {
	w, h := look.Width, look.Height
	g := &Graph{}
	g.Add("scale", fmt.Sprintf("%d:%d:force_original_aspect_ratio=decrease", w, h))
	g.Add("pad", fmt.Sprintf("%d:%d:(ow-iw)/2:(oh-ih)/2:color=black", w, h))
	g.Add("setsar", "1")
	g.Add("fps", fmt.Sprintf("%d", look.FPS))
	if look.MaxZoom > 1 {
		g.Add("zoompan", fmt.Sprintf("z='min(zoom+0.0005,%.2f)':d=1:x='iw/2-(iw/zoom/2)':y='ih/2-(ih/zoom/2)':s=%dx%d:fps=%d",
			look.MaxZoom, w, h, look.FPS))
	}
	if look.Grade {
		g.Add("eq", "contrast=1.05:saturation=1.08:brightness=0.01")
	}
	if look.Vignette {
		g.Add("vignette", "PI/5")
	}
	if subtitlesPath != "" {
		args := ffpath.QuoteArg(ffpath.Normalize(subtitlesPath))
		if look.SubtitleStyle != "" {
			args += ":force_style=" + ffpath.QuoteArg(look.SubtitleStyle)
		}
		g.Add("subtitles", args)
	}
	return g
}
