package stt

import (
	"context"
	"errors"
	"fmt"
	"io"
	"runtime"
	"strings"

	"github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"

	"github.com/dexxdean/lvc/pkg/audioconv"
)

// Whisper transcribes locally through the whisper.cpp bindings.
type Whisper struct {
	model whisper.Model
	opt   Options
}

// NewWhisper loads the ggml model at modelPath.
func NewWhisper(modelPath string, opt Options) (*Whisper, error) {
	if modelPath == "" {
		return nil, errors.New("empty model path")
	}
	m, err := whisper.New(modelPath)
	if err != nil {
		return nil, fmt.Errorf("load model: %w", err)
	}
	if opt.Language == "" {
		opt.Language = "auto"
	}
	return &Whisper{model: m, opt: opt}, nil
}

// Close releases the loaded model.
func (w *Whisper) Close() error {
	if w.model == nil {
		return nil
	}
	return w.model.Close()
}

// Transcribe converts mono int16 PCM into text. Empty input returns empty
// text without touching the model.
func (w *Whisper) Transcribe(ctx context.Context, pcm []int16, sampleRate int) (string, error) {
	if len(pcm) == 0 {
		return "", nil
	}
	samples := audioconv.Int16ToFloat32(pcm)
	if sampleRate != audioconv.TargetRate {
		samples = audioconv.Resample(samples, sampleRate, audioconv.TargetRate)
	}
	res, err := w.run(ctx, samples)
	if err != nil {
		return "", err
	}
	return res.Text, nil
}

// TranscribeFile decodes path and transcribes it.
func (w *Whisper) TranscribeFile(ctx context.Context, path string) (string, error) {
	samples, err := audioconv.DecodeFile(path)
	if err != nil {
		return "", fmt.Errorf("decode %s: %w", path, err)
	}
	if len(samples) == 0 {
		return "", nil
	}
	res, err := w.run(ctx, samples)
	if err != nil {
		return "", err
	}
	return res.Text, nil
}

func (w *Whisper) run(ctx context.Context, samples []float32) (Result, error) {
	if w.model == nil {
		return Result{}, errors.New("nil model")
	}
	if w.opt.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, w.opt.Timeout)
		defer cancel()
	}

	wctx, err := w.model.NewContext()
	if err != nil {
		return Result{}, fmt.Errorf("new context: %w", err)
	}

	if err := wctx.SetLanguage(w.opt.Language); err != nil {
		return Result{}, fmt.Errorf("set language: %w", err)
	}
	wctx.SetTranslate(w.opt.TranslateToEn)

	threads := w.opt.Threads
	if threads <= 0 {
		threads = runtime.NumCPU()
	}
	wctx.SetThreads(uint(threads))

	if w.opt.MaxTokens > 0 {
		wctx.SetMaxTokensPerSegment(w.opt.MaxTokens)
	}
	if w.opt.BeamSize > 0 {
		wctx.SetBeamSize(w.opt.BeamSize)
	}
	if w.opt.InitialPrompt != "" {
		wctx.SetInitialPrompt(w.opt.InitialPrompt)
	}

	if err := wctx.Process(samples, nil, nil, nil); err != nil {
		return Result{}, fmt.Errorf("process: %w", err)
	}

	var res Result
	for {
		select {
		case <-ctx.Done():
			return Result{}, ctx.Err()
		default:
		}

		s, err := wctx.NextSegment()
		if err == io.EOF {
			break
		}
		if err != nil {
			return Result{}, fmt.Errorf("next segment: %w", err)
		}
		res.Segments = append(res.Segments, Segment{
			Text:     s.Text,
			StartSec: s.Start.Seconds(),
			EndSec:   s.End.Seconds(),
		})
		if res.Text == "" {
			res.Text = strings.TrimSpace(s.Text)
		} else {
			res.Text += " " + strings.TrimSpace(s.Text)
		}
	}

	res.Language = wctx.DetectedLanguage()
	if res.Language == "" {
		res.Language = wctx.Language()
	}
	return res, nil
}
