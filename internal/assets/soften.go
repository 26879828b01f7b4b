package assets

import (
	"regexp"
	"sort"
	"strings"
)

// NeutralFraming is prepended to prompts that were rejected on content grounds.
const NeutralFraming = "A tasteful, non-graphic editorial illustration of"

// sensitiveTerms maps words that commonly trip image moderation to milder substitutes.
// An empty substitute drops the word.
var sensitiveTerms = map[string]string{
	"blood":       "",
	"bloody":      "",
	"bloodied":    "",
	"gore":        "",
	"gory":        "",
	"corpse":      "silhouette",
	"dead body":   "silhouette",
	"body bag":    "covered stretcher",
	"murder":      "mystery",
	"murdered":    "lost",
	"murderer":    "suspect",
	"killed":      "lost",
	"killing":     "incident",
	"kill":        "confront",
	"stabbed":     "attacked",
	"shot":        "confronted",
	"gun":         "shadowy object",
	"guns":        "shadowy objects",
	"knife":       "shadowy object",
	"weapon":      "object",
	"weapons":     "objects",
	"violent":     "tense",
	"violence":    "tension",
	"torture":     "hardship",
	"nude":        "",
	"naked":       "",
	"suicide":     "tragedy",
	"explosion":   "bright flash",
	"massacre":    "tragedy",
	"crime scene": "quiet street at night",
}

var termPatterns = buildTermPatterns()

type termPattern struct {
	re  *regexp.Regexp
	sub string
}

func buildTermPatterns() []termPattern {
	terms := make([]string, 0, len(sensitiveTerms))
	for t := range sensitiveTerms {
		terms = append(terms, t)
	}
	// Multi-word and longer terms first so "dead body" wins over "body".
	sort.Slice(terms, func(i, j int) bool {
		if len(terms[i]) != len(terms[j]) {
			return len(terms[i]) > len(terms[j])
		}
		return terms[i] < terms[j]
	})
	out := make([]termPattern, 0, len(terms))
	for _, t := range terms {
		out = append(out, termPattern{
			re:  regexp.MustCompile(`(?i)\b` + regexp.QuoteMeta(t) + `\b`),
			sub: sensitiveTerms[t],
		})
	}
	return out
}

var spaces = regexp.MustCompile(`\s+`)

// SoftenPrompt rewrites a rejected prompt: sensitive terms are replaced or removed and a
// neutral framing phrase is prepended. The result is deterministic.
func SoftenPrompt(prompt string) string {
	p := prompt
	for _, tp := range termPatterns {
		p = tp.re.ReplaceAllString(p, tp.sub)
	}
	p = spaces.ReplaceAllString(p, " ")
	p = strings.Trim(p, " ,;:-")
	if p == "" {
		p = "a calm, neutral scene"
	}
	return NeutralFraming + " " + p
}
