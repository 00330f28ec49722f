// Package stt provides speech-to-text transcription backends. The pipeline
// treats transcription as a black box: silent or empty input yields empty
// text, and backend failures are surfaced as errors the caller degrades to
// empty text.
package stt

import (
	"context"
	"time"
)

// Transcriber converts captured PCM audio into text.
type Transcriber interface {
	// Transcribe converts mono int16 PCM at sampleRate into text. Empty or
	// silent input returns ("", nil).
	Transcribe(ctx context.Context, pcm []int16, sampleRate int) (string, error)

	// TranscribeFile decodes the audio file at path and transcribes it.
	TranscribeFile(ctx context.Context, path string) (string, error)

	// Close releases backend resources.
	Close() error
}

// Options tunes a transcription backend.
type Options struct {
	Language      string // e.g. "auto", "en", "de"
	TranslateToEn bool
	Threads       int // <=0 => NumCPU()
	InitialPrompt string
	BeamSize      int           // 0 = greedy
	MaxTokens     uint          // 0 = no limit
	Timeout       time.Duration // per-call ceiling; 0 = caller's context only
}

// Segment is one timed span of recognized speech.
type Segment struct {
	Text     string
	StartSec float64
	EndSec   float64
}

// Result carries the full transcription of one audio window.
type Result struct {
	Text     string
	Segments []Segment
	Language string
}
