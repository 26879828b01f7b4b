package assets

import (
	"errors"
	"fmt"
	"strings"

	"github.com/aura-studio/reelsmith/internal/providers"
)

// ErrMissingScript is returned when asset generation is requested before narration exists.
var ErrMissingScript = errors.New("video has no approved script")

// errNothingToDo aborts a claim without writing when every asset is already present.
var errNothingToDo = errors.New("no assets to generate")

// Failure describes one asset that could not be produced in a run.
type Failure struct {
	Asset   string         `json:"asset"`
	Kind    providers.Kind `json:"kind"`
	Message string         `json:"message"`
}

func newFailure(asset string, err error) Failure {
	return Failure{Asset: asset, Kind: providers.KindOf(err), Message: err.Error()}
}

func sceneAsset(i int) string { return fmt.Sprintf("scene %d image", i) }

func summarize(failures []Failure) string {
	parts := make([]string, 0, len(failures))
	for _, f := range failures {
		parts = append(parts, fmt.Sprintf("%s: %s", f.Asset, f.Message))
	}
	return strings.Join(parts, "; ")
}
