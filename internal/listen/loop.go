// Package listen runs the always-on capture loop: it feeds microphone frames
// into a rolling window, checks the window for a wake phrase, records the
// following command until silence, and hands the transcript to the intent
// matcher and dispatcher.
package listen

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/dexxdean/lvc/internal/audio"
	"github.com/dexxdean/lvc/internal/nlu"
	"github.com/dexxdean/lvc/internal/wake"
)

// Phases of the capture loop, exposed for the control socket's status reply.
const (
	PhaseListening = "listening"
	PhaseCapturing = "capturing"
)

// Spoken feedback lines.
const (
	ackWake     = "Ja, ich höre"
	ackNothing  = "Nichts gehört"
	ackNoIntent = "Befehl nicht verstanden"
	errorPrefix = "Fehler: "
)

// frameWait is how long one NextFrame call blocks before the loop re-checks
// its context.
const frameWait = 100 * time.Millisecond

// FrameSource produces fixed-size microphone frames. Satisfied by
// *audio.Source.
type FrameSource interface {
	NextFrame(timeout time.Duration) ([]int16, error)
}

// Transcriber turns PCM into text. Empty or silent input yields empty text.
type Transcriber interface {
	Transcribe(ctx context.Context, pcm []int16, sampleRate int) (string, error)
}

// Speaker voices feedback. Satisfied by *tts.Speaker.
type Speaker interface {
	Say(ctx context.Context, text string)
}

// Notifier plays the wake and capture-complete cues. Satisfied by
// *notify.Cues.
type Notifier interface {
	Wake()
	Done()
}

// Ducker lowers other playback while a command is being captured. Satisfied
// by *audio.Ducker.
type Ducker interface {
	Duck(ctx context.Context) error
	Restore(ctx context.Context) error
}

// Config holds the loop timing. Durations translate to frame counts using
// SampleRate and FrameSize.
type Config struct {
	SampleRate int
	FrameSize  int

	// Window is the rolling buffer length checked for the wake phrase.
	Window time.Duration
	// MinWindow is how much audio must accumulate before the first check.
	MinWindow time.Duration
	// CheckInterval is the wake check cadence.
	CheckInterval time.Duration
	// MaxCapture bounds one command recording.
	MaxCapture time.Duration
	// SilenceTimeout ends a recording after this much trailing silence,
	// counted only once speech was heard.
	SilenceTimeout time.Duration
	// EnergyThreshold gates wake checks; windows quieter than this are
	// never transcribed.
	EnergyThreshold float64
}

// DefaultConfig returns the loop timing used when the configuration does not
// override it.
func DefaultConfig() Config {
	return Config{
		SampleRate:      16000,
		FrameSize:       512,
		Window:          2 * time.Second,
		MinWindow:       500 * time.Millisecond,
		CheckInterval:   500 * time.Millisecond,
		MaxCapture:      5 * time.Second,
		SilenceTimeout:  1500 * time.Millisecond,
		EnergyThreshold: audio.DefaultEnergyThreshold,
	}
}

func (c *Config) normalize() {
	d := DefaultConfig()
	if c.SampleRate <= 0 {
		c.SampleRate = d.SampleRate
	}
	if c.FrameSize <= 0 {
		c.FrameSize = d.FrameSize
	}
	if c.Window <= 0 {
		c.Window = d.Window
	}
	if c.MinWindow <= 0 {
		c.MinWindow = d.MinWindow
	}
	if c.CheckInterval <= 0 {
		c.CheckInterval = d.CheckInterval
	}
	if c.MaxCapture <= 0 {
		c.MaxCapture = d.MaxCapture
	}
	if c.SilenceTimeout <= 0 {
		c.SilenceTimeout = d.SilenceTimeout
	}
	if c.EnergyThreshold <= 0 {
		c.EnergyThreshold = d.EnergyThreshold
	}
}

// Deps are the loop's collaborators. Speaker, Cues and Ducker may be nil.
type Deps struct {
	Source      FrameSource
	Transcriber Transcriber
	Detector    *wake.Detector
	Matcher     *nlu.Matcher
	Dispatcher  *nlu.Dispatcher
	Speaker     Speaker
	Cues        Notifier
	Ducker      Ducker
}

// Loop is the capture state machine. Run owns all mutable state; Trigger and
// Phase are the only concurrent entry points.
type Loop struct {
	cfg  Config
	deps Deps

	gate       *audio.Gate
	window     *audio.Window
	classifier *audio.Classifier

	trigger chan struct{}
	phase   atomic.Value // string
}

// New returns a loop. Source, Transcriber, Detector, Matcher and Dispatcher
// are required.
func New(cfg Config, deps Deps) (*Loop, error) {
	cfg.normalize()

	if deps.Source == nil || deps.Transcriber == nil {
		return nil, errors.New("listen: source and transcriber are required")
	}
	if deps.Detector == nil || deps.Matcher == nil || deps.Dispatcher == nil {
		return nil, errors.New("listen: detector, matcher and dispatcher are required")
	}

	classifier, err := audio.NewClassifier(audio.ClassifierConfig{
		SampleRate: cfg.SampleRate,
		FrameMs:    30,
	})
	if err != nil {
		return nil, fmt.Errorf("listen: %w", err)
	}

	frameDur := frameDuration(cfg.FrameSize, cfg.SampleRate)
	maxFrames := int(cfg.Window / frameDur)
	if maxFrames < 1 {
		maxFrames = 1
	}

	l := &Loop{
		cfg:        cfg,
		deps:       deps,
		gate:       audio.NewGate(cfg.EnergyThreshold),
		window:     audio.NewWindow(cfg.FrameSize, maxFrames),
		classifier: classifier,
		trigger:    make(chan struct{}, 1),
	}
	l.phase.Store(PhaseListening)
	return l, nil
}

// Trigger forces a command capture as if a wake phrase had just been heard.
// Non-blocking; a trigger during an ongoing capture is dropped.
func (l *Loop) Trigger() {
	select {
	case l.trigger <- struct{}{}:
	default:
	}
}

// Phase reports the loop's current phase.
func (l *Loop) Phase() string {
	return l.phase.Load().(string)
}

// Run executes the loop until ctx is cancelled or an exit intent is
// dispatched. The frame source must already be started; Run never touches
// the device lifecycle.
func (l *Loop) Run(ctx context.Context) error {
	slog.Info("listening for wake phrase", "phrases", l.deps.Detector.Phrases())

	lastCheck := time.Now()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-l.trigger:
			slog.Info("capture triggered externally")
			if done, err := l.handleCommand(ctx); err != nil || done {
				return err
			}
			l.window.Clear()
			lastCheck = time.Now()
			continue
		default:
		}

		frame, err := l.deps.Source.NextFrame(frameWait)
		if err != nil {
			if errors.Is(err, audio.ErrNoFrame) {
				continue
			}
			return fmt.Errorf("listen: read frame: %w", err)
		}
		if err := l.window.Append(frame); err != nil {
			slog.Warn("dropping malformed frame", "err", err)
			continue
		}

		if time.Since(lastCheck) < l.cfg.CheckInterval {
			continue
		}
		lastCheck = time.Now()

		if l.window.Duration(l.cfg.SampleRate) < l.cfg.MinWindow {
			continue
		}

		samples := l.window.Samples()
		if !l.gate.Open(samples) {
			slog.Debug("window below energy threshold", "rms", audio.RMS(samples))
			continue
		}

		text, err := l.deps.Transcriber.Transcribe(ctx, samples, l.cfg.SampleRate)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			slog.Warn("wake check transcription failed", "err", err)
			continue
		}
		if text == "" {
			continue
		}
		slog.Debug("heard", "text", text)

		if !l.deps.Detector.Detect(text) {
			continue
		}

		slog.Info("wake phrase detected", "text", text)
		l.window.Clear()
		if l.deps.Cues != nil {
			l.deps.Cues.Wake()
		}
		l.say(ctx, ackWake)

		if done, err := l.handleCommand(ctx); err != nil || done {
			return err
		}

		slog.Info("listening for wake phrase again")
		lastCheck = time.Now()
	}
}

// handleCommand records, transcribes and dispatches one command. It returns
// done=true when an exit intent was executed.
func (l *Loop) handleCommand(ctx context.Context) (done bool, err error) {
	l.phase.Store(PhaseCapturing)
	defer l.phase.Store(PhaseListening)

	if l.deps.Ducker != nil {
		if err := l.deps.Ducker.Duck(ctx); err != nil {
			slog.Warn("ducking playback failed", "err", err)
		}
		defer func() {
			if err := l.deps.Ducker.Restore(ctx); err != nil {
				slog.Warn("restoring playback volume failed", "err", err)
			}
		}()
	}

	pcm, err := l.capture(ctx)
	if err != nil {
		return false, err
	}
	if l.deps.Cues != nil {
		l.deps.Cues.Done()
	}
	if len(pcm) == 0 {
		slog.Warn("no command audio captured")
		l.say(ctx, ackNothing)
		return false, nil
	}

	text, err := l.deps.Transcriber.Transcribe(ctx, pcm, l.cfg.SampleRate)
	if err != nil {
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		slog.Warn("command transcription failed", "err", err)
		l.say(ctx, ackNothing)
		return false, nil
	}
	if text == "" {
		slog.Warn("no command transcribed")
		l.say(ctx, ackNothing)
		return false, nil
	}
	slog.Info("command", "text", text)

	intent, ok := l.deps.Matcher.Parse(text)
	if !ok {
		l.say(ctx, ackNoIntent)
		return false, nil
	}

	result := l.deps.Dispatcher.Execute(ctx, intent)
	if !result.Success {
		slog.Error("command failed", "intent", intent.Name, "err", result.Err)
		l.say(ctx, errorPrefix+result.Feedback)
		return false, nil
	}

	l.say(ctx, result.Feedback)
	if intent.Action.Kind == nlu.ActionExit {
		slog.Info("exit command received")
		return true, nil
	}
	return false, nil
}

// capture records frames until the capture ceiling or until trailing silence
// after the first speech frame. The ceiling is enforced both as a frame count
// and as wall-clock time, so a starving source cannot extend the capture.
func (l *Loop) capture(ctx context.Context) ([]int16, error) {
	frameDur := frameDuration(l.cfg.FrameSize, l.cfg.SampleRate)
	maxFrames := framesFor(l.cfg.MaxCapture, frameDur)
	maxSilent := framesFor(l.cfg.SilenceTimeout, frameDur)
	deadline := time.Now().Add(l.cfg.MaxCapture)

	l.classifier.Reset()

	var pcm []int16
	collected := 0
	silent := 0
	speechSeen := false

	for collected < maxFrames {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if time.Now().After(deadline) {
			break
		}

		frame, err := l.deps.Source.NextFrame(frameWait)
		if err != nil {
			if errors.Is(err, audio.ErrNoFrame) {
				continue
			}
			return nil, fmt.Errorf("listen: read frame: %w", err)
		}

		pcm = append(pcm, frame...)
		collected++

		if l.isSpeech(frame) {
			speechSeen = true
			silent = 0
		} else if speechSeen {
			silent++
			if silent >= maxSilent {
				slog.Debug("silence detected", "frames", collected)
				break
			}
		}
	}
	return pcm, nil
}

// isSpeech classifies the leading classifier-sized slice of a frame. Frames
// shorter than one classifier frame count as silence.
func (l *Loop) isSpeech(frame []int16) bool {
	n := l.classifier.FrameSize()
	if len(frame) < n {
		return false
	}
	speech, err := l.classifier.IsSpeech(frame[:n])
	if err != nil {
		return false
	}
	return speech
}

// say voices feedback when a speaker is configured.
func (l *Loop) say(ctx context.Context, text string) {
	if l.deps.Speaker == nil || text == "" {
		return
	}
	l.deps.Speaker.Say(ctx, text)
}

func frameDuration(frameSize, sampleRate int) time.Duration {
	return time.Duration(frameSize) * time.Second / time.Duration(sampleRate)
}

func framesFor(d, frameDur time.Duration) int {
	n := int(d / frameDur)
	if n < 1 {
		n = 1
	}
	return n
}
