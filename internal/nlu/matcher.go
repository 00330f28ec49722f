package nlu

import (
	"log/slog"
	"strings"

	"github.com/dexxdean/lvc/internal/wake"
)

const (
	// DefaultMinConfidence is the floor below which no intent is returned.
	DefaultMinConfidence = 0.6

	// containmentScore is the minimum confidence when the pattern appears
	// verbatim inside the utterance.
	containmentScore = 0.9

	// subsetBoost is added to the word-set similarity when every pattern
	// word appears in the utterance.
	subsetBoost = 0.3
)

// Matcher scores utterances against the configured command table.
type Matcher struct {
	commands      []Command
	minConfidence float64
}

// NewMatcher returns a matcher over commands. Nil or empty commands selects
// DefaultCommands; a minConfidence outside (0, 1] selects the default floor.
func NewMatcher(commands []Command, minConfidence float64) *Matcher {
	if len(commands) == 0 {
		commands = DefaultCommands()
	}
	if minConfidence <= 0 || minConfidence > 1 {
		minConfidence = DefaultMinConfidence
	}
	return &Matcher{
		commands:      commands,
		minConfidence: minConfidence,
	}
}

// Parse matches text against every command pattern and returns the
// best-scoring intent, or false when no command reaches the confidence floor.
// Ties go to the command listed first in the configuration.
func (m *Matcher) Parse(text string) (*RecognizedIntent, bool) {
	if text == "" {
		return nil, false
	}

	normalized := wake.Normalize(text)
	if normalized == "" {
		return nil, false
	}

	var best *Command
	bestScore := 0.0

	for i := range m.commands {
		cmd := &m.commands[i]
		for _, pattern := range cmd.Patterns {
			p := wake.Normalize(pattern)
			if p == "" {
				continue
			}
			score := patternScore(p, normalized)
			if score > bestScore {
				bestScore = score
				best = cmd
			}
		}
	}

	if best == nil || bestScore < m.minConfidence {
		slog.Debug("no intent matched", "text", normalized, "best", bestScore)
		return nil, false
	}

	slog.Info("intent recognized", "intent", best.Intent, "confidence", bestScore)
	return &RecognizedIntent{
		Name:       best.Intent,
		Confidence: bestScore,
		Text:       text,
		Action:     best.Action,
		Feedback:   best.Feedback,
	}, true
}

// Commands returns the configured command table.
func (m *Matcher) Commands() []Command {
	return m.commands
}

// patternScore scores one normalized pattern against the normalized
// utterance. It takes the maximum of the sequence similarity (raised to the
// containment floor when the pattern is a substring) and the boosted Jaccard
// word-set similarity. Always in [0, 1].
func patternScore(pattern, text string) float64 {
	score := wake.Similarity(pattern, text)
	if strings.Contains(text, pattern) && score < containmentScore {
		score = containmentScore
	}

	patternWords := fieldSet(pattern)
	textWords := fieldSet(text)
	if len(patternWords) > 0 && len(textWords) > 0 {
		intersection := 0
		for w := range patternWords {
			if _, ok := textWords[w]; ok {
				intersection++
			}
		}
		union := len(patternWords) + len(textWords) - intersection
		wordScore := float64(intersection) / float64(union)

		if intersection == len(patternWords) {
			wordScore += subsetBoost
			if wordScore > 1 {
				wordScore = 1
			}
		}
		if wordScore > score {
			score = wordScore
		}
	}
	return score
}

func fieldSet(s string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, w := range strings.Fields(s) {
		set[w] = struct{}{}
	}
	return set
}
