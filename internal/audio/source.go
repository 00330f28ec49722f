// Package audio owns microphone capture and the signal-level checks that gate
// the rest of the pipeline: frame buffering, RMS energy, and the per-frame
// voice classifier used during command capture.
package audio

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gordonklaus/portaudio"
)

var (
	// ErrNoFrame is returned by NextFrame when no frame arrived in time.
	ErrNoFrame = errors.New("audio: no frame available")

	// ErrDeviceUnavailable is returned by Start when no usable input device
	// can be opened.
	ErrDeviceUnavailable = errors.New("audio: input device unavailable")
)

// SourceConfig configures microphone capture.
type SourceConfig struct {
	// DeviceName selects the input device by case-insensitive substring
	// match. Empty selects the system default.
	DeviceName string

	// SampleRate in Hz. The pipeline runs at 16000.
	SampleRate int

	// FrameSize is the number of samples per frame.
	FrameSize int

	// QueueDepth bounds the frame queue between the capture callback and the
	// control loop. A full queue drops the newest frame.
	QueueDepth int
}

// DeviceInfo describes one audio input device.
type DeviceInfo struct {
	Name       string
	Channels   int
	SampleRate float64
}

// Source captures fixed-size int16 PCM frames from the microphone. The
// portaudio callback pushes frames into a bounded queue; the control loop
// drains it with NextFrame. Capture must never stall the device driver, so a
// full queue drops the incoming frame instead of blocking.
type Source struct {
	cfg SourceConfig

	mu      sync.Mutex
	stream  *portaudio.Stream
	frames  chan []int16
	started bool
	dropped atomic.Uint64
}

// NewSource returns an unstarted Source.
func NewSource(cfg SourceConfig) *Source {
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = 16000
	}
	if cfg.FrameSize <= 0 {
		cfg.FrameSize = 512
	}
	if cfg.QueueDepth <= 0 {
		cfg.QueueDepth = 64
	}
	return &Source{
		cfg:    cfg,
		frames: make(chan []int16, cfg.QueueDepth),
	}
}

// Start opens the device and begins continuous capture.
func (s *Source) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return nil
	}

	if err := portaudio.Initialize(); err != nil {
		return fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
	}

	dev, err := s.selectDevice()
	if err != nil {
		portaudio.Terminate()
		return err
	}

	params := portaudio.LowLatencyParameters(dev, nil)
	params.Input.Channels = 1
	params.SampleRate = float64(s.cfg.SampleRate)
	params.FramesPerBuffer = s.cfg.FrameSize

	stream, err := portaudio.OpenStream(params, func(in []int16) {
		s.push(in)
	})
	if err != nil {
		portaudio.Terminate()
		return fmt.Errorf("%w: open stream: %v", ErrDeviceUnavailable, err)
	}

	if err := stream.Start(); err != nil {
		stream.Close()
		portaudio.Terminate()
		return fmt.Errorf("%w: start stream: %v", ErrDeviceUnavailable, err)
	}

	s.stream = stream
	s.started = true

	slog.Info("audio capture started",
		"device", dev.Name,
		"rate", s.cfg.SampleRate,
		"frame", s.cfg.FrameSize,
	)
	return nil
}

// NextFrame returns the next captured frame, waiting up to timeout. It
// returns ErrNoFrame when nothing arrives in time.
func (s *Source) NextFrame(timeout time.Duration) ([]int16, error) {
	select {
	case frame := <-s.frames:
		return frame, nil
	default:
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case frame := <-s.frames:
		return frame, nil
	case <-timer.C:
		return nil, ErrNoFrame
	}
}

// Stop halts capture and releases the device. Safe to call more than once.
func (s *Source) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return nil
	}
	s.started = false

	var err error
	if s.stream != nil {
		if e := s.stream.Stop(); e != nil {
			err = e
		}
		if e := s.stream.Close(); e != nil && err == nil {
			err = e
		}
		s.stream = nil
	}
	if e := portaudio.Terminate(); e != nil && err == nil {
		err = e
	}

	if n := s.dropped.Load(); n > 0 {
		slog.Warn("frames dropped during capture", "count", n)
	}
	slog.Info("audio capture stopped")
	return err
}

// Dropped reports how many frames were discarded because the queue was full.
func (s *Source) Dropped() uint64 {
	return s.dropped.Load()
}

// push copies the callback buffer into the queue. Runs on the portaudio
// callback goroutine and must not block.
func (s *Source) push(in []int16) {
	frame := make([]int16, len(in))
	copy(frame, in)

	select {
	case s.frames <- frame:
	default:
		s.dropped.Add(1)
	}
}

func (s *Source) selectDevice() (*portaudio.DeviceInfo, error) {
	def, err := portaudio.DefaultInputDevice()
	if err != nil {
		return nil, fmt.Errorf("%w: no default input device: %v", ErrDeviceUnavailable, err)
	}

	if s.cfg.DeviceName == "" {
		return def, nil
	}

	devices, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("%w: enumerate devices: %v", ErrDeviceUnavailable, err)
	}

	want := strings.ToLower(s.cfg.DeviceName)
	for _, d := range devices {
		if d.MaxInputChannels > 0 && strings.Contains(strings.ToLower(d.Name), want) {
			return d, nil
		}
	}

	slog.Warn("input device not found, falling back to default",
		"wanted", s.cfg.DeviceName,
		"default", def.Name,
	)
	return def, nil
}

// ListDevices enumerates the available input devices. It initializes and
// terminates portaudio itself, so it must not be called while a Source is
// running.
func ListDevices() ([]DeviceInfo, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, err
	}
	defer portaudio.Terminate()

	devices, err := portaudio.Devices()
	if err != nil {
		return nil, err
	}

	var out []DeviceInfo
	for _, d := range devices {
		if d.MaxInputChannels <= 0 {
			continue
		}
		out = append(out, DeviceInfo{
			Name:       d.Name,
			Channels:   d.MaxInputChannels,
			SampleRate: d.DefaultSampleRate,
		})
	}
	return out, nil
}
