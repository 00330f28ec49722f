// Package notify plays short audio cues marking wake detection and capture
// completion. Cues are optional polish: every failure is logged and swallowed.
package notify

import (
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/faiface/beep"
	"github.com/faiface/beep/mp3"
	"github.com/faiface/beep/speaker"
)

// Cues plays configured mp3 cue files. The zero value is a disabled player.
type Cues struct {
	wakePath string
	donePath string

	initOnce sync.Once
	initErr  error
}

// NewCues returns a cue player. Empty paths disable the respective cue.
func NewCues(wakePath, donePath string) *Cues {
	return &Cues{wakePath: wakePath, donePath: donePath}
}

// Wake plays the wake-detected cue, blocking until it finished.
func (c *Cues) Wake() {
	c.play(c.wakePath)
}

// Done plays the capture-complete cue, blocking until it finished.
func (c *Cues) Done() {
	c.play(c.donePath)
}

func (c *Cues) play(path string) {
	if c == nil || path == "" {
		return
	}
	if err := c.playFile(path); err != nil {
		slog.Warn("cue playback failed", "path", path, "err", err)
	}
}

func (c *Cues) playFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open cue: %w", err)
	}
	defer f.Close()

	streamer, format, err := mp3.Decode(f)
	if err != nil {
		return fmt.Errorf("decode cue: %w", err)
	}
	defer streamer.Close()

	// speaker.Init is once per process; it fixes the output rate to the
	// first cue's format.
	c.initOnce.Do(func() {
		c.initErr = speaker.Init(format.SampleRate, format.SampleRate.N(time.Second/10))
	})
	if c.initErr != nil {
		return fmt.Errorf("init speaker: %w", c.initErr)
	}

	done := make(chan struct{})
	speaker.Play(beep.Seq(streamer, beep.Callback(func() {
		close(done)
	})))
	<-done
	return nil
}
