// Package wake detects a configured wake phrase in transcribed text. It works
// purely on text: exact substring matches short-circuit, and fuzzy scoring
// absorbs the transcription errors that come with accents, noise and partial
// phrases.
package wake

import (
	"log/slog"
	"strings"
	"sync"
	"unicode"

	"github.com/antzucaro/matchr"
)

const (
	// DefaultThreshold is used when the configured threshold is out of range.
	DefaultThreshold = 0.6

	// containmentBoost is added to the whole-string score when the phrase
	// appears verbatim inside the text.
	containmentBoost = 0.3

	// wordSimilarityFloor is the per-word similarity above which a phrase
	// word counts as present in the text.
	wordSimilarityFloor = 0.7
)

// DefaultPhrases trigger command capture out of the box.
var DefaultPhrases = []string{
	"hey logic",
	"hallo logic",
	"logic",
	"computer",
	"hey computer",
	"aufnahme starten",
	"logik",
	"hallo logik",
	"hey logik",
}

// Detector holds the wake phrase set and its similarity threshold. Phrases
// and threshold may be changed at runtime; all methods are safe for
// concurrent use.
type Detector struct {
	mu        sync.RWMutex
	phrases   []string
	threshold float64
}

// NewDetector returns a detector over phrases. Nil or empty phrases selects
// DefaultPhrases; a threshold outside (0, 1] selects DefaultThreshold.
func NewDetector(phrases []string, threshold float64) *Detector {
	if len(phrases) == 0 {
		phrases = DefaultPhrases
	}
	if threshold <= 0 || threshold > 1 {
		threshold = DefaultThreshold
	}
	return &Detector{
		phrases:   append([]string(nil), phrases...),
		threshold: threshold,
	}
}

// Detect reports whether any configured phrase was spoken in text.
func (d *Detector) Detect(text string) bool {
	if text == "" {
		return false
	}

	cleaned := Normalize(text)
	if cleaned == "" {
		return false
	}

	// Copy under the lock: RemovePhrase compacts the backing array in place,
	// so iterating a bare snapshot would race with mutation.
	d.mu.RLock()
	phrases := append([]string(nil), d.phrases...)
	threshold := d.threshold
	d.mu.RUnlock()

	for _, phrase := range phrases {
		p := Normalize(phrase)
		if p == "" {
			continue
		}

		if strings.Contains(cleaned, p) {
			slog.Debug("wake phrase matched", "phrase", phrase, "kind", "substring")
			return true
		}

		if score := phraseScore(p, cleaned); score >= threshold {
			slog.Debug("wake phrase matched", "phrase", phrase, "kind", "fuzzy", "score", score)
			return true
		}
	}
	return false
}

// AddPhrase adds a phrase to the set if not already present.
func (d *Detector) AddPhrase(phrase string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, p := range d.phrases {
		if p == phrase {
			return
		}
	}
	d.phrases = append(d.phrases, phrase)
	slog.Info("wake phrase added", "phrase", phrase)
}

// RemovePhrase removes a phrase. The set is never emptied: removing the last
// phrase is refused.
func (d *Detector) RemovePhrase(phrase string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.phrases) <= 1 {
		slog.Warn("refusing to remove the last wake phrase", "phrase", phrase)
		return false
	}
	for i, p := range d.phrases {
		if p == phrase {
			d.phrases = append(d.phrases[:i], d.phrases[i+1:]...)
			slog.Info("wake phrase removed", "phrase", phrase)
			return true
		}
	}
	return false
}

// SetThreshold updates the similarity threshold, clamped to [0, 1].
func (d *Detector) SetThreshold(threshold float64) {
	if threshold < 0 {
		threshold = 0
	}
	if threshold > 1 {
		threshold = 1
	}
	d.mu.Lock()
	d.threshold = threshold
	d.mu.Unlock()
	slog.Info("wake threshold set", "threshold", threshold)
}

// Phrases returns a copy of the current phrase set.
func (d *Detector) Phrases() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return append([]string(nil), d.phrases...)
}

// Normalize lowercases text, replaces punctuation with spaces and collapses
// whitespace. Normalizing an already-normalized string is a no-op.
func Normalize(text string) string {
	var b strings.Builder
	b.Grow(len(text))
	for _, r := range strings.ToLower(text) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.IsSpace(r) {
			b.WriteRune(r)
		} else {
			b.WriteRune(' ')
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

// Similarity computes a [0, 1] similarity between two normalized strings
// from their Levenshtein distance.
func Similarity(a, b string) float64 {
	if a == b {
		return 1
	}
	la, lb := len([]rune(a)), len([]rune(b))
	longest := la
	if lb > longest {
		longest = lb
	}
	if longest == 0 {
		return 1
	}
	dist := matchr.Levenshtein(a, b)
	if dist > longest {
		dist = longest
	}
	return 1 - float64(dist)/float64(longest)
}

// phraseScore combines whole-string similarity (boosted on verbatim
// containment) with, for multi-word phrases, the fraction of phrase words
// that have a sufficiently similar text word. Both inputs must already be
// normalized; containment is handled by the caller before this runs.
func phraseScore(phrase, text string) float64 {
	score := Similarity(phrase, text)
	if strings.Contains(text, phrase) {
		score += containmentBoost
		if score > 1 {
			score = 1
		}
		return score
	}

	phraseWords := strings.Fields(phrase)
	if len(phraseWords) < 2 {
		return score
	}
	textWords := strings.Fields(text)
	if len(textWords) == 0 {
		return score
	}

	matched := 0
	for _, pw := range phraseWords {
		best := 0.0
		for _, tw := range textWords {
			if s := Similarity(pw, tw); s > best {
				best = s
			}
		}
		if best > wordSimilarityFloor {
			matched++
		}
	}
	wordScore := float64(matched) / float64(len(phraseWords))
	if wordScore > score {
		score = wordScore
	}
	return score
}
