// Package scoring grades a completed session's collected information into a
// lead qualification. Score is a pure function: no clock, no randomness, no
// state, so it stays independently testable from the state machine.
package scoring

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/Saidelocha/lepitch-funnel/pkg/session"
)

// Grade is the letter summary of how promising the lead is.
type Grade string

const (
	GradeAPlus Grade = "A+"
	GradeA     Grade = "A"
	GradeB     Grade = "B"
	GradeC     Grade = "C"
	GradeD     Grade = "D"
)

// Priority drives the follow-up queue.
type Priority string

const (
	PriorityUrgent Priority = "URGENT"
	PriorityHigh   Priority = "HIGH"
	PriorityMedium Priority = "MEDIUM"
	PriorityLow    Priority = "LOW"
)

// Subscores are the explainable components, each 0-100.
type Subscores struct {
	NeedClarity     int `json:"need_clarity"`
	Urgency         int `json:"urgency"`
	CommitmentLevel int `json:"commitment_level"`
	Experience      int `json:"experience"`
	Seriousness     int `json:"seriousness"`
}

// Result is the qualification verdict. Recomputed, never mutated in place.
type Result struct {
	Grade               Grade     `json:"grade"`
	NumericScore        int       `json:"numeric_score"`
	Priority            Priority  `json:"priority"`
	RecommendedDelay    string    `json:"recommended_delay"`
	ContributingFactors []string  `json:"contributing_factors"`
	Subscores           Subscores `json:"subscores"`
}

// Composite weights, fixed at design time.
const (
	weightNeedClarity = 0.25
	weightUrgency     = 0.25
	weightCommitment  = 0.20
	weightExperience  = 0.10
	weightSeriousness = 0.20
)

// Experience is rarely collected in conversation-derived sessions; it
// defaults to the neutral midpoint rather than dragging the grade down.
const neutralExperience = 50

var reLeadingHours = regexp.MustCompile(`^(\d{1,3})`)

// specificity markers in the stated need: numbers, deadlines, audience or
// outcome words suggest a thought-through project.
var specificityMarkers = []string{
	"client", "vente", "lancer", "lancement", "pitch", "levée", "levee",
	"investisseur", "deadline", "présentation", "presentation", "startup",
	"launch", "investor", "fundrais", "demo",
}

// Score maps collected lead info plus the raw conversation text to a
// qualification. Deterministic: identical inputs yield identical output.
func Score(collected session.CollectedInfo, conversationText string) Result {
	sub := Subscores{
		NeedClarity:     scoreNeedClarity(collected.Need),
		Urgency:         scoreUrgency(collected),
		CommitmentLevel: scoreCommitment(collected.Commitment),
		Experience:      neutralExperience,
		Seriousness:     scoreSeriousness(collected, conversationText),
	}

	composite := weightNeedClarity*float64(sub.NeedClarity) +
		weightUrgency*float64(sub.Urgency) +
		weightCommitment*float64(sub.CommitmentLevel) +
		weightExperience*float64(sub.Experience) +
		weightSeriousness*float64(sub.Seriousness)

	numeric := int(composite + 0.5)
	if numeric > 100 {
		numeric = 100
	}

	grade := gradeFor(numeric)
	priority := priorityFor(grade, collected.IsUrgent())

	return Result{
		Grade:               grade,
		NumericScore:        numeric,
		Priority:            priority,
		RecommendedDelay:    delayFor(priority),
		ContributingFactors: factors(sub, collected),
		Subscores:           sub,
	}
}

func gradeFor(score int) Grade {
	switch {
	case score >= 90:
		return GradeAPlus
	case score >= 75:
		return GradeA
	case score >= 60:
		return GradeB
	case score >= 40:
		return GradeC
	default:
		return GradeD
	}
}

// priorityFor mirrors urgency primarily, with the grade as tiebreaker.
func priorityFor(grade Grade, urgent bool) Priority {
	switch grade {
	case GradeAPlus, GradeA:
		if urgent {
			return PriorityUrgent
		}
		return PriorityHigh
	case GradeB:
		return PriorityMedium
	default:
		return PriorityLow
	}
}

func delayFor(p Priority) string {
	switch p {
	case PriorityUrgent:
		return "immediate"
	case PriorityHigh:
		return "24-48h"
	default:
		return "best effort"
	}
}

// scoreNeedClarity rewards length and specificity of the stated need.
func scoreNeedClarity(need string) int {
	need = strings.TrimSpace(need)
	if need == "" {
		return 0
	}

	words := len(strings.Fields(need))
	score := words * 8
	if score > 70 {
		score = 70
	}

	lower := strings.ToLower(need)
	for _, marker := range specificityMarkers {
		if strings.Contains(lower, marker) {
			score += 15
			break
		}
	}
	if strings.ContainsAny(need, "0123456789") {
		score += 10
	}

	if score > 100 {
		score = 100
	}
	return score
}

func scoreUrgency(collected session.CollectedInfo) int {
	switch {
	case collected.IsUrgent():
		return 90
	case collected.Urgency == "":
		return 20
	case strings.EqualFold(collected.Urgency, "low"):
		return 30
	default:
		return 60
	}
}

// scoreCommitment maps the weekly time-investment tier; higher tiers score
// higher.
func scoreCommitment(commitment string) int {
	m := reLeadingHours.FindString(strings.TrimSpace(commitment))
	if m == "" {
		return 20
	}
	hours, err := strconv.Atoi(m)
	if err != nil {
		return 20
	}
	switch {
	case hours >= 10:
		return 90
	case hours >= 6:
		return 80
	case hours >= 3:
		return 60
	case hours >= 1:
		return 40
	default:
		return 20
	}
}

// scoreSeriousness combines contact completeness with conversational
// engagement.
func scoreSeriousness(collected session.CollectedInfo, conversationText string) int {
	score := 10
	if collected.ContactInfo != "" {
		score += 30
	}
	if collected.Name != "" {
		score += 20
	}
	if collected.ContactPreference != "" {
		score += 10
	}

	switch n := len(conversationText); {
	case n > 500:
		score += 30
	case n > 200:
		score += 20
	case n > 50:
		score += 10
	}

	if score > 100 {
		score = 100
	}
	return score
}

func factors(sub Subscores, collected session.CollectedInfo) []string {
	var out []string
	if sub.NeedClarity >= 60 {
		out = append(out, "clearly stated need")
	} else if sub.NeedClarity > 0 {
		out = append(out, "vague need description")
	} else {
		out = append(out, "no stated need")
	}

	if collected.IsUrgent() {
		out = append(out, "urgent timeline")
	}
	if sub.CommitmentLevel >= 60 {
		out = append(out, fmt.Sprintf("strong time commitment (%s)", collected.Commitment))
	}
	if collected.ContactInfo != "" {
		out = append(out, "contact details provided")
	}
	return out
}
