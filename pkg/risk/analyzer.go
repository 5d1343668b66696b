// Package risk scores free text for suspicious patterns before it reaches the
// conversation. Analysis is pure and deterministic: same text, same verdict.
package risk

import (
	"unicode"

	"golang.org/x/text/unicode/norm"

	"github.com/Saidelocha/lepitch-funnel/pkg/patterns"
)

// Level is the coarse classification of how likely a text is adversarial.
type Level string

const (
	LevelLow    Level = "low"
	LevelMedium Level = "medium"
	LevelHigh   Level = "high"
)

// Score thresholds. Intentionally conservative: a high verdict hard-blocks
// the message (403) while medium is accept-with-warning, so false positives
// at high are costlier than at medium.
const (
	highThreshold   = 70
	mediumThreshold = 30
)

// Procedural check identifiers, reported alongside registry pattern names.
const (
	patternControlChars   = "control_chars"
	patternCharRepetition = "char_repetition"
)

const (
	controlCharSeverity = 40
	repetitionSeverity  = 35

	// minimum same-rune run length treated as flooding
	repetitionRunLength = 10
)

// Assessment is the verdict for one message. Computed fresh per message and
// never stored beyond the request that produced it.
type Assessment struct {
	Level             Level    `json:"level"`
	Score             int      `json:"score"`
	MatchedPatterns   []string `json:"matched_patterns,omitempty"`
	MatchedCategories []string `json:"matched_categories,omitempty"`
	Confidence        float64  `json:"confidence"`
}

// InjectionAttempt reports whether an injection category (script, command or
// prompt) matched, as opposed to flooding or abusive language.
func (a Assessment) InjectionAttempt() bool {
	for _, cat := range a.MatchedCategories {
		switch patterns.Category(cat) {
		case patterns.CategoryScriptInjection, patterns.CategoryCommandInjection, patterns.CategoryPromptInjection:
			return true
		}
	}
	return false
}

// scoredCategories are the registry categories that contribute to the score.
// Closure phrases classify assistant replies, not user risk.
var scoredCategories = []patterns.Category{
	patterns.CategoryScriptInjection,
	patterns.CategoryCommandInjection,
	patterns.CategoryPromptInjection,
	patterns.CategoryCharFlooding,
	patterns.CategoryAbusivePhrase,
}

// Analyze evaluates text against every scored pattern category plus two
// procedural checks (control-character density, repeated-rune flooding).
// The score is the sum of the highest matched severity per category, clamped
// to [0,100]; each category contributes at most once so a single noisy
// category cannot fake a multi-vector attack.
func Analyze(text string) Assessment {
	// NFKC folds homoglyph and full-width evasion into the canonical form the
	// regexes expect.
	normalized := norm.NFKC.String(text)

	reg := patterns.Get()

	var matched []string
	categoryMax := make(map[patterns.Category]int)

	for _, cat := range scoredCategories {
		for _, p := range reg.GetByCategory(cat) {
			if p.Regex.MatchString(normalized) {
				matched = append(matched, p.Name)
				if p.Severity > categoryMax[cat] {
					categoryMax[cat] = p.Severity
				}
			}
		}
	}

	score := 0
	var matchedCats []string
	for _, cat := range scoredCategories {
		if sev, ok := categoryMax[cat]; ok {
			score += sev
			matchedCats = append(matchedCats, string(cat))
		}
	}
	independent := len(categoryMax)

	if hasControlCharFlood(normalized) {
		matched = append(matched, patternControlChars)
		score += controlCharSeverity
		independent++
	}
	if hasRepeatedRuneFlood(normalized) {
		matched = append(matched, patternCharRepetition)
		score += repetitionSeverity
		independent++
	}

	if score > 100 {
		score = 100
	}

	return Assessment{
		Level:             levelFor(score),
		Score:             score,
		MatchedPatterns:   matched,
		MatchedCategories: matchedCats,
		Confidence:        confidenceFor(independent),
	}
}

func levelFor(score int) Level {
	switch {
	case score >= highThreshold:
		return LevelHigh
	case score >= mediumThreshold:
		return LevelMedium
	default:
		return LevelLow
	}
}

// confidenceFor maps the number of independently matched categories to a
// confidence in [0,1]. Zero matches is a confident clean verdict; a single
// category is a weak signal; each additional independent category raises it.
func confidenceFor(independent int) float64 {
	if independent == 0 {
		return 1.0
	}
	c := 0.5 + 0.15*float64(independent-1)
	if c > 0.95 {
		c = 0.95
	}
	return c
}

// hasControlCharFlood reports whether the text carries an abnormal amount of
// non-printable characters. Tabs and newlines are normal chat input.
func hasControlCharFlood(text string) bool {
	total := 0
	control := 0
	for _, r := range text {
		total++
		if r == '\n' || r == '\r' || r == '\t' {
			continue
		}
		switch r {
		case '\u200b', '\u200c', '\u200d', '\ufeff': // zero-width space/joiners, BOM
			control++
			continue
		}
		if unicode.IsControl(r) {
			control++
		}
	}
	if total == 0 {
		return false
	}
	return control >= 5 || (control > 0 && control*10 >= total)
}

// hasRepeatedRuneFlood reports whether any single rune repeats consecutively
// beyond the flood threshold. Go regexp has no backreferences so this stays
// procedural.
func hasRepeatedRuneFlood(text string) bool {
	var prev rune
	run := 0
	for _, r := range text {
		if r == prev {
			run++
			if run >= repetitionRunLength {
				return true
			}
		} else {
			prev = r
			run = 1
		}
	}
	return false
}
