package models

import "github.com/aura-studio/reelsmith/pkg/utils"

// AllocateDurations fits scene durations to the narration length. Locked durations are
// kept; the remaining time is split across unlocked scenes by description length.
func AllocateDurations(scenes []Scene, total float64) {
	if total <= 0 || len(scenes) == 0 {
		return
	}
	locked := 0.0
	weight := 0
	for _, s := range scenes {
		if s.DurationLocked {
			locked += s.Duration
			continue
		}
		weight += sceneWeight(s)
	}
	if weight == 0 {
		return
	}
	remaining := total - locked
	if remaining < 0 {
		remaining = 0
	}
	for i := range scenes {
		if scenes[i].DurationLocked {
			continue
		}
		scenes[i].Duration = remaining * float64(sceneWeight(scenes[i])) / float64(weight)
	}
}

func sceneWeight(s Scene) int {
	if n := utils.CharCount(s.Description); n > 0 {
		return n
	}
	return 1
}

// Retime re-splits the narration across the current storyboard. It does nothing until
// the audio length is known.
func (v *Video) Retime() {
	AllocateDurations(v.Storyboard, v.AudioDuration)
}
