package listen

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/dexxdean/lvc/internal/audio"
	"github.com/dexxdean/lvc/internal/nlu"
	"github.com/dexxdean/lvc/internal/wake"
)

const (
	testRate  = 16000
	testFrame = 512
)

func loudFrame() []int16 {
	frame := make([]int16, testFrame)
	for i := range frame {
		frame[i] = int16(8000 * math.Sin(2*math.Pi*1000*float64(i)/testRate))
	}
	return frame
}

func quietFrame() []int16 {
	return make([]int16, testFrame)
}

// scriptSource plays back a fixed list of frames, then keeps returning
// copies of repeat; a nil repeat yields ErrNoFrame once the list runs out.
type scriptSource struct {
	mu     sync.Mutex
	frames [][]int16
	repeat []int16
}

func (s *scriptSource) NextFrame(time.Duration) ([]int16, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.frames) > 0 {
		frame := s.frames[0]
		s.frames = s.frames[1:]
		return frame, nil
	}
	if s.repeat == nil {
		return nil, audio.ErrNoFrame
	}
	return append([]int16(nil), s.repeat...), nil
}

// scriptTranscriber answers from a fixed list, then empty text.
type scriptTranscriber struct {
	mu        sync.Mutex
	responses []string
	calls     int
	lastPCM   []int16
}

func (s *scriptTranscriber) Transcribe(_ context.Context, pcm []int16, _ int) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	s.lastPCM = append([]int16(nil), pcm...)
	if len(s.responses) > 0 {
		text := s.responses[0]
		s.responses = s.responses[1:]
		return text, nil
	}
	return "", nil
}

func (s *scriptTranscriber) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

type recordingSpeaker struct {
	mu    sync.Mutex
	texts []string
}

func (r *recordingSpeaker) Say(_ context.Context, text string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.texts = append(r.texts, text)
}

func (r *recordingSpeaker) spoke(text string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, t := range r.texts {
		if t == text {
			return true
		}
	}
	return false
}

type countingCues struct {
	mu         sync.Mutex
	wake, done int
}

func (c *countingCues) Wake() { c.mu.Lock(); c.wake++; c.mu.Unlock() }
func (c *countingCues) Done() { c.mu.Lock(); c.done++; c.mu.Unlock() }

func testConfig() Config {
	return Config{
		SampleRate:      testRate,
		FrameSize:       testFrame,
		Window:          64 * time.Millisecond,
		MinWindow:       32 * time.Millisecond,
		CheckInterval:   time.Nanosecond,
		MaxCapture:      128 * time.Millisecond, // 4 frames
		SilenceTimeout:  64 * time.Millisecond,  // 2 frames
		EnergyThreshold: audio.DefaultEnergyThreshold,
	}
}

func newTestLoop(t *testing.T, cfg Config, source FrameSource, stt Transcriber, extra func(*Deps)) (*Loop, *recordingSpeaker) {
	t.Helper()

	speaker := &recordingSpeaker{}
	deps := Deps{
		Source:      source,
		Transcriber: stt,
		Detector:    wake.NewDetector(nil, wake.DefaultThreshold),
		Matcher:     nlu.NewMatcher(nil, 0.6),
		Dispatcher:  nlu.NewDispatcher(true, nil, nil),
		Speaker:     speaker,
	}
	if extra != nil {
		extra(&deps)
	}

	loop, err := New(cfg, deps)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return loop, speaker
}

func runLoop(t *testing.T, ctx context.Context, loop *Loop) error {
	t.Helper()

	done := make(chan error, 1)
	go func() { done <- loop.Run(ctx) }()
	select {
	case err := <-done:
		return err
	case <-time.After(5 * time.Second):
		t.Fatal("loop did not finish")
		return nil
	}
}

func TestRun_QuietAudioNeverTranscribes(t *testing.T) {
	source := &scriptSource{repeat: quietFrame()}
	stt := &scriptTranscriber{responses: []string{"should never be heard"}}
	loop, _ := newTestLoop(t, testConfig(), source, stt, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	err := runLoop(t, ctx, loop)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Run = %v, want deadline exceeded", err)
	}
	if stt.callCount() != 0 {
		t.Errorf("transcriber called %d times for silent audio", stt.callCount())
	}
}

func TestRun_WakeThenExitCommand(t *testing.T) {
	source := &scriptSource{repeat: loudFrame()}
	stt := &scriptTranscriber{responses: []string{"hey logic", "stop"}}
	cues := &countingCues{}
	loop, speaker := newTestLoop(t, testConfig(), source, stt, func(d *Deps) {
		d.Cues = cues
	})

	if err := runLoop(t, context.Background(), loop); err != nil {
		t.Fatalf("Run = %v, want nil after exit intent", err)
	}

	if stt.callCount() != 2 {
		t.Errorf("transcriber calls = %d, want 2 (wake check + command)", stt.callCount())
	}
	if !speaker.spoke("Ja, ich höre") {
		t.Error("wake acknowledgement not spoken")
	}
	if !speaker.spoke("Auf Wiedersehen") {
		t.Error("exit feedback not spoken")
	}
	if cues.wake != 1 || cues.done != 1 {
		t.Errorf("cues wake=%d done=%d, want 1/1", cues.wake, cues.done)
	}

	hist := loop.deps.Dispatcher.History()
	if len(hist) != 1 || hist[0].Intent != "stop" {
		t.Errorf("history = %+v", hist)
	}
}

func TestRun_TriggerSkipsWakeCheck(t *testing.T) {
	source := &scriptSource{repeat: loudFrame()}
	stt := &scriptTranscriber{responses: []string{"beenden"}}
	loop, _ := newTestLoop(t, testConfig(), source, stt, nil)

	loop.Trigger()
	if err := runLoop(t, context.Background(), loop); err != nil {
		t.Fatalf("Run = %v", err)
	}

	// The single transcription is the command; no wake check happened.
	if stt.callCount() != 1 {
		t.Errorf("transcriber calls = %d, want 1", stt.callCount())
	}
}

func TestRun_CancelWhileListening(t *testing.T) {
	source := &scriptSource{} // never produces a frame
	stt := &scriptTranscriber{}
	loop, _ := newTestLoop(t, testConfig(), source, stt, nil)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	if err := runLoop(t, ctx, loop); !errors.Is(err, context.Canceled) {
		t.Fatalf("Run = %v, want context.Canceled", err)
	}
}

func TestCapture_StopsAtMaxDuration(t *testing.T) {
	cfg := testConfig()
	cfg.MaxCapture = 320 * time.Millisecond // 10 frames

	source := &scriptSource{repeat: loudFrame()}
	loop, _ := newTestLoop(t, cfg, source, &scriptTranscriber{}, nil)

	pcm, err := loop.capture(context.Background())
	if err != nil {
		t.Fatalf("capture: %v", err)
	}
	if len(pcm) != 10*testFrame {
		t.Errorf("captured %d samples, want %d", len(pcm), 10*testFrame)
	}
}

func TestCapture_StopsOnTrailingSilence(t *testing.T) {
	cfg := testConfig()
	cfg.MaxCapture = 320 * time.Millisecond // 10 frame ceiling

	source := &scriptSource{
		frames: [][]int16{loudFrame(), loudFrame()},
		repeat: quietFrame(),
	}
	loop, _ := newTestLoop(t, cfg, source, &scriptTranscriber{}, nil)

	pcm, err := loop.capture(context.Background())
	if err != nil {
		t.Fatalf("capture: %v", err)
	}
	// 2 speech frames + 2 silence frames (64 ms at 32 ms per frame).
	if len(pcm) != 4*testFrame {
		t.Errorf("captured %d samples, want %d", len(pcm), 4*testFrame)
	}
}

func TestCapture_SilenceBeforeSpeechDoesNotTerminate(t *testing.T) {
	cfg := testConfig()
	cfg.MaxCapture = 320 * time.Millisecond

	// Leading silence, then speech, then silence. The leading quiet frames
	// must not count toward the silence timeout.
	source := &scriptSource{
		frames: [][]int16{quietFrame(), quietFrame(), quietFrame(), loudFrame()},
		repeat: quietFrame(),
	}
	loop, _ := newTestLoop(t, cfg, source, &scriptTranscriber{}, nil)

	pcm, err := loop.capture(context.Background())
	if err != nil {
		t.Fatalf("capture: %v", err)
	}
	// 3 leading quiet + 1 speech + 2 trailing silence.
	if len(pcm) != 6*testFrame {
		t.Errorf("captured %d samples, want %d", len(pcm), 6*testFrame)
	}
}

func TestCapture_StarvedSourceStopsAtMaxDuration(t *testing.T) {
	cfg := testConfig()
	cfg.MaxCapture = 100 * time.Millisecond

	source := &scriptSource{} // never produces a frame
	loop, _ := newTestLoop(t, cfg, source, &scriptTranscriber{}, nil)

	start := time.Now()
	pcm, err := loop.capture(context.Background())
	if err != nil {
		t.Fatalf("capture: %v", err)
	}
	if len(pcm) != 0 {
		t.Errorf("captured %d samples from a starved source", len(pcm))
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("capture ran %v, want bounded by max duration", elapsed)
	}
}

func TestHandleCommand_EmptyCaptureSkipsTranscription(t *testing.T) {
	cfg := testConfig()
	cfg.MaxCapture = 50 * time.Millisecond

	source := &scriptSource{} // starved: the capture window stays empty
	stt := &scriptTranscriber{responses: []string{"should never be heard"}}
	loop, speaker := newTestLoop(t, cfg, source, stt, nil)

	done, err := loop.handleCommand(context.Background())
	if err != nil || done {
		t.Fatalf("handleCommand = (%v, %v)", done, err)
	}
	if stt.callCount() != 0 {
		t.Errorf("transcriber called %d times for an empty capture", stt.callCount())
	}
	if !speaker.spoke("Nichts gehört") {
		t.Errorf("expected 'nothing heard' feedback, spoke %v", speaker.texts)
	}
}

func TestCapture_CancelledMidCapture(t *testing.T) {
	source := &scriptSource{} // starves the capture
	loop, _ := newTestLoop(t, testConfig(), source, &scriptTranscriber{}, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	if _, err := loop.capture(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("capture = %v, want deadline exceeded", err)
	}
}

func TestHandleCommand_NothingHeard(t *testing.T) {
	source := &scriptSource{repeat: quietFrame()}
	stt := &scriptTranscriber{} // transcribes to empty text
	loop, speaker := newTestLoop(t, testConfig(), source, stt, nil)

	done, err := loop.handleCommand(context.Background())
	if err != nil || done {
		t.Fatalf("handleCommand = (%v, %v)", done, err)
	}
	if !speaker.spoke("Nichts gehört") {
		t.Errorf("expected 'nothing heard' feedback, spoke %v", speaker.texts)
	}
}

func TestHandleCommand_UnmatchedIntent(t *testing.T) {
	source := &scriptSource{repeat: loudFrame()}
	stt := &scriptTranscriber{responses: []string{"spiele etwas musik"}}
	loop, speaker := newTestLoop(t, testConfig(), source, stt, nil)

	done, err := loop.handleCommand(context.Background())
	if err != nil || done {
		t.Fatalf("handleCommand = (%v, %v)", done, err)
	}
	if !speaker.spoke("Befehl nicht verstanden") {
		t.Errorf("expected unmatched-intent feedback, spoke %v", speaker.texts)
	}
}

func TestPhaseReporting(t *testing.T) {
	source := &scriptSource{}
	loop, _ := newTestLoop(t, testConfig(), source, &scriptTranscriber{}, nil)

	if loop.Phase() != PhaseListening {
		t.Errorf("initial phase = %q", loop.Phase())
	}
}

func TestNew_RequiresCollaborators(t *testing.T) {
	_, err := New(testConfig(), Deps{})
	if err == nil {
		t.Error("New accepted empty deps")
	}
}
