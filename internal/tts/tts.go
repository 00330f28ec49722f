// Package tts speaks feedback text through the system speech synthesizer.
// Speech is best effort: failures are logged and swallowed so a broken
// synthesizer never takes down the daemon.
package tts

import (
	"context"
	"log/slog"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

// speakTimeout bounds one utterance. Feedback sentences are short; anything
// longer than this means the synthesizer is stuck.
const speakTimeout = 10 * time.Second

// Speaker voices feedback text. A disabled speaker is a no-op so callers
// never branch on the configuration.
type Speaker struct {
	enabled bool
	voice   string
	rate    int
}

// NewSpeaker returns a speaker using the given voice and words-per-minute
// rate. Zero values fall back to the synthesizer defaults.
func NewSpeaker(enabled bool, voice string, rate int) *Speaker {
	return &Speaker{enabled: enabled, voice: voice, rate: rate}
}

// Say voices text synchronously. Returns only after the utterance finished
// or the timeout expired; errors are logged, never returned, since feedback
// is not worth failing a command over.
func (s *Speaker) Say(ctx context.Context, text string) {
	if !s.enabled || strings.TrimSpace(text) == "" {
		return
	}

	ctx, cancel := context.WithTimeout(ctx, speakTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "say", s.args(text)...)
	if out, err := cmd.CombinedOutput(); err != nil {
		slog.Warn("speech synthesis failed", "err", err, "output", strings.TrimSpace(string(out)))
	}
}

func (s *Speaker) args(text string) []string {
	var args []string
	if s.voice != "" {
		args = append(args, "-v", s.voice)
	}
	if s.rate > 0 {
		args = append(args, "-r", strconv.Itoa(s.rate))
	}
	return append(args, text)
}
