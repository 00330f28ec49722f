package audio

import (
	"fmt"
	"time"
)

// Window accumulates consecutive fixed-size frames in arrival order. With a
// frame cap it acts as a rolling window that evicts the oldest frames; without
// one it grows until cleared, which is how command capture uses it. The sample
// count is always frameCount * frameSize.
type Window struct {
	frameSize int
	maxFrames int // 0 = unbounded
	data      []int16
}

// NewWindow returns a window for frames of frameSize samples. maxFrames > 0
// makes it rolling.
func NewWindow(frameSize, maxFrames int) *Window {
	w := &Window{
		frameSize: frameSize,
		maxFrames: maxFrames,
	}
	if maxFrames > 0 {
		w.data = make([]int16, 0, maxFrames*frameSize)
	}
	return w
}

// Append copies frame into the window, evicting the oldest frame first when
// the window is rolling and full. The frame must match the window's frame
// size.
func (w *Window) Append(frame []int16) error {
	if len(frame) != w.frameSize {
		return fmt.Errorf("audio: frame has %d samples, window expects %d", len(frame), w.frameSize)
	}
	if w.maxFrames > 0 && w.Frames() >= w.maxFrames {
		copy(w.data, w.data[w.frameSize:])
		w.data = w.data[:len(w.data)-w.frameSize]
	}
	w.data = append(w.data, frame...)
	return nil
}

// Samples returns a copy of the buffered audio, oldest first.
func (w *Window) Samples() []int16 {
	out := make([]int16, len(w.data))
	copy(out, w.data)
	return out
}

// Frames reports how many frames are buffered.
func (w *Window) Frames() int {
	return len(w.data) / w.frameSize
}

// Len reports the buffered sample count.
func (w *Window) Len() int {
	return len(w.data)
}

// Duration reports the buffered audio length at the given sample rate.
func (w *Window) Duration(sampleRate int) time.Duration {
	if sampleRate <= 0 {
		return 0
	}
	return time.Duration(len(w.data)) * time.Second / time.Duration(sampleRate)
}

// Clear empties the window, keeping its capacity.
func (w *Window) Clear() {
	w.data = w.data[:0]
}
