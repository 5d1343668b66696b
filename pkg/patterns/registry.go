// Package patterns provides a centralized, compile-once pattern registry for
// chat abuse detection. All regexes are compiled at package init and shared by
// every request.
//
// Design principles:
// - COMPILE ONCE: All patterns compiled at init, not per-request
// - DRY: Single source of truth for all abuse patterns
// - CATEGORIZED: Patterns organized by category for weighted scoring
// - EXTENSIBLE: Adding a pattern never touches analyzer code
package patterns

import (
	"regexp"
	"sync"
)

// Category represents an abuse pattern category.
type Category string

const (
	// CategoryScriptInjection covers markup and script payloads pasted into
	// the chat box.
	CategoryScriptInjection Category = "script_injection"
	// CategoryCommandInjection covers shell-style command tokens.
	CategoryCommandInjection Category = "command_injection"
	// CategoryPromptInjection covers attempts to steer the assistant off its
	// qualification script.
	CategoryPromptInjection Category = "prompt_injection"
	// CategoryCharFlooding covers repeated-character and filler flooding.
	CategoryCharFlooding Category = "char_flooding"
	// CategoryAbusivePhrase covers the known abusive phrase list (FR + EN).
	CategoryAbusivePhrase Category = "abusive_phrase"
	// CategoryClosurePhrase matches assistant replies that announce a forced
	// end of conversation; used for ban severity, never for risk scoring.
	CategoryClosurePhrase Category = "closure_phrase"
)

// Pattern holds a compiled regex with metadata.
type Pattern struct {
	Name        string         // Identifier reported in RiskAssessment
	Regex       *regexp.Regexp // Compiled regex (never nil after init)
	Category    Category       // Abuse category
	Severity    int            // Risk score contribution (0-100)
	Description string         // What this pattern detects
}

// Registry holds all compiled patterns, organized by category.
type Registry struct {
	mu         sync.RWMutex
	byCategory map[Category][]*Pattern
	all        []*Pattern
}

// global singleton - initialized once at package load
var (
	globalRegistry *Registry
	initOnce       sync.Once
)

// Get returns the global pattern registry (singleton).
// Thread-safe and guaranteed to be initialized.
func Get() *Registry {
	initOnce.Do(func() {
		globalRegistry = newRegistry()
	})
	return globalRegistry
}

func newRegistry() *Registry {
	r := &Registry{
		byCategory: make(map[Category][]*Pattern),
		all:        make([]*Pattern, 0, 64),
	}

	r.registerScriptInjectionPatterns()
	r.registerCommandInjectionPatterns()
	r.registerPromptInjectionPatterns()
	r.registerCharFloodingPatterns()
	r.registerAbusivePhrasePatterns()
	r.registerClosurePhrasePatterns()

	return r
}

func (r *Registry) register(name string, pattern string, category Category, severity int, description string) {
	compiled := regexp.MustCompile(pattern)
	p := &Pattern{
		Name:        name,
		Regex:       compiled,
		Category:    category,
		Severity:    severity,
		Description: description,
	}

	r.byCategory[category] = append(r.byCategory[category], p)
	r.all = append(r.all, p)
}

// GetByCategory returns all patterns for a specific category.
// Returns empty slice if category not found (never nil).
func (r *Registry) GetByCategory(cat Category) []*Pattern {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if patterns, ok := r.byCategory[cat]; ok {
		return patterns
	}
	return []*Pattern{}
}

// MatchAny checks if text matches any pattern in the given categories.
// Returns the first matching pattern or nil, exiting early on first match.
func (r *Registry) MatchAny(text string, cats ...Category) *Pattern {
	for _, cat := range cats {
		for _, p := range r.GetByCategory(cat) {
			if p.Regex.MatchString(text) {
				return p
			}
		}
	}
	return nil
}

// MatchAll returns all patterns that match the text in the given categories,
// in registration order. Use when every match contributes to a score.
func (r *Registry) MatchAll(text string, cats ...Category) []*Pattern {
	var matches []*Pattern
	for _, cat := range cats {
		for _, p := range r.GetByCategory(cat) {
			if p.Regex.MatchString(text) {
				matches = append(matches, p)
			}
		}
	}
	return matches
}

// TotalPatterns returns the total count of registered patterns.
func (r *Registry) TotalPatterns() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.all)
}

// CategoryCount returns the number of patterns in a category.
func (r *Registry) CategoryCount(cat Category) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byCategory[cat])
}
