package audio

import (
	"fmt"

	"github.com/mjibson/go-dsp/fft"
)

// Voice band bounds in Hz. Most speech energy sits between these.
const (
	voiceBandLow  = 200.0
	voiceBandHigh = 3500.0
)

// ClassifierConfig tunes the per-frame voice classifier.
type ClassifierConfig struct {
	// SampleRate of the incoming frames in Hz.
	SampleRate int

	// FrameMs is the frame duration; must be 10, 20 or 30.
	FrameMs int

	// SpeechFloor is the RMS level required to enter speech.
	SpeechFloor float64

	// SilenceFloor is the RMS level below which speech ends. Must be below
	// SpeechFloor; the gap keeps the decision from flickering at the
	// boundary.
	SilenceFloor float64

	// BandRatio is the minimum fraction of spectral energy inside the voice
	// band for a frame to count as speech.
	BandRatio float64
}

// Classifier makes a binary speech/non-speech decision per frame. It is
// stricter (and more expensive) than the energy gate, so it only runs during
// command capture where the cost is amortized over a single command. It
// combines an RMS check with dual-threshold hysteresis and a spectral check
// that most of the frame's energy falls in the voice band.
//
// A Classifier is owned by one capture loop; it is not safe for concurrent
// use.
type Classifier struct {
	cfg       ClassifierConfig
	frameSize int
	inSpeech  bool
}

// NewClassifier validates cfg and returns a classifier. FrameMs must be one
// of 10, 20 or 30.
func NewClassifier(cfg ClassifierConfig) (*Classifier, error) {
	if cfg.SampleRate <= 0 {
		return nil, fmt.Errorf("audio: classifier sample rate %d", cfg.SampleRate)
	}
	switch cfg.FrameMs {
	case 10, 20, 30:
	default:
		return nil, fmt.Errorf("audio: classifier frame must be 10, 20 or 30 ms, got %d", cfg.FrameMs)
	}
	if cfg.SpeechFloor <= 0 {
		cfg.SpeechFloor = 0.015
	}
	if cfg.SilenceFloor <= 0 || cfg.SilenceFloor >= cfg.SpeechFloor {
		cfg.SilenceFloor = cfg.SpeechFloor / 2
	}
	if cfg.BandRatio <= 0 {
		cfg.BandRatio = 0.5
	}
	return &Classifier{
		cfg:       cfg,
		frameSize: cfg.SampleRate * cfg.FrameMs / 1000,
	}, nil
}

// FrameSize returns the expected samples per frame.
func (c *Classifier) FrameSize() int {
	return c.frameSize
}

// IsSpeech classifies one frame. The frame length must match FrameSize.
func (c *Classifier) IsSpeech(frame []int16) (bool, error) {
	if len(frame) != c.frameSize {
		return false, fmt.Errorf("audio: classifier got %d samples, expects %d", len(frame), c.frameSize)
	}

	level := RMS(frame)

	if c.inSpeech {
		if level < c.cfg.SilenceFloor {
			c.inSpeech = false
		}
		return c.inSpeech, nil
	}

	if level < c.cfg.SpeechFloor {
		return false, nil
	}
	if voiceBandFraction(frame, c.cfg.SampleRate) < c.cfg.BandRatio {
		return false, nil
	}

	c.inSpeech = true
	return true, nil
}

// Reset clears the hysteresis state between capture segments.
func (c *Classifier) Reset() {
	c.inSpeech = false
}

// voiceBandFraction returns the share of spectral energy between
// voiceBandLow and voiceBandHigh, ignoring the DC bin.
func voiceBandFraction(frame []int16, sampleRate int) float64 {
	n := len(frame)
	x := make([]float64, n)
	for i, s := range frame {
		x[i] = float64(s) / 32768.0
	}

	spec := fft.FFTReal(x)
	binHz := float64(sampleRate) / float64(n)

	var band, total float64
	for k := 1; k <= n/2; k++ {
		mag := real(spec[k])*real(spec[k]) + imag(spec[k])*imag(spec[k])
		total += mag
		f := float64(k) * binHz
		if f >= voiceBandLow && f <= voiceBandHigh {
			band += mag
		}
	}
	if total == 0 {
		return 0
	}
	return band / total
}
