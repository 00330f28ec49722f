package audio

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"
)

var percentRe = regexp.MustCompile(`(\d+)\s*%`)

// Ducker lowers the volume of other applications' audio streams while a
// command is being captured, so playback does not bleed into the microphone,
// and restores them afterwards. It drives PulseAudio through pactl; every
// failure is non-fatal for the capture loop.
type Ducker struct {
	mu          sync.Mutex
	active      bool
	selfNames   []string // application.name values we never touch
	originalVol map[int]int
	duckVolume  int // percent other streams are faded to
	fade        time.Duration
}

type sinkInput struct {
	ID      int
	Volume  int
	AppName string
}

// NewDucker returns a ducker that fades foreign streams down to duckVolume
// percent. Streams whose application.name is in selfNames are left alone.
func NewDucker(selfNames []string, duckVolume int, fade time.Duration) *Ducker {
	if duckVolume < 0 {
		duckVolume = 0
	}
	if duckVolume > 100 {
		duckVolume = 100
	}
	return &Ducker{
		selfNames:   append([]string(nil), selfNames...),
		originalVol: make(map[int]int),
		duckVolume:  duckVolume,
		fade:        fade,
	}
}

// Duck fades all foreign streams down. Calling it while already ducked is a
// no-op.
func (d *Ducker) Duck(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.active {
		return nil
	}

	streams, err := listSinkInputs(ctx)
	if err != nil {
		return fmt.Errorf("list streams: %w", err)
	}

	d.originalVol = make(map[int]int)
	for _, s := range streams {
		if d.isSelf(s) || s.Volume <= d.duckVolume {
			continue
		}
		d.originalVol[s.ID] = s.Volume
		if err := fadeTo(ctx, s.ID, s.Volume, d.duckVolume, d.fade); err != nil {
			slog.Warn("failed to duck stream", "id", s.ID, "err", err)
		}
	}

	d.active = true
	return nil
}

// Restore fades previously ducked streams back to their original volume.
// Streams that disappeared while ducked are skipped.
func (d *Ducker) Restore(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.active {
		return nil
	}

	streams, err := listSinkInputs(ctx)
	if err != nil {
		return fmt.Errorf("list streams: %w", err)
	}

	current := make(map[int]int, len(streams))
	for _, s := range streams {
		current[s.ID] = s.Volume
	}

	for id, orig := range d.originalVol {
		from, ok := current[id]
		if !ok {
			continue
		}
		if err := fadeTo(ctx, id, from, orig, d.fade); err != nil {
			slog.Warn("failed to restore stream", "id", id, "err", err)
		}
	}

	d.originalVol = make(map[int]int)
	d.active = false
	return nil
}

func (d *Ducker) isSelf(s sinkInput) bool {
	for _, name := range d.selfNames {
		if s.AppName == name {
			return true
		}
	}
	return false
}

// fadeTo steps a sink input's volume from from to to over the fade duration.
func fadeTo(ctx context.Context, id, from, to int, fade time.Duration) error {
	const step = 25 * time.Millisecond

	steps := int(fade / step)
	if steps < 1 {
		return setSinkInputVolume(ctx, id, to)
	}

	for i := 1; i <= steps; i++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		frac := float64(i) / float64(steps)
		v := int(math.Round(float64(from) + float64(to-from)*frac))
		if err := setSinkInputVolume(ctx, id, v); err != nil {
			return err
		}
		if i < steps {
			time.Sleep(step)
		}
	}
	return nil
}

func listSinkInputs(ctx context.Context) ([]sinkInput, error) {
	out, err := exec.CommandContext(ctx, "pactl", "list", "sink-inputs").Output()
	if err != nil {
		return nil, fmt.Errorf("pactl list sink-inputs: %w", err)
	}

	blocks := strings.Split(string(out), "Sink Input #")
	var res []sinkInput
	for _, block := range blocks[1:] {
		nl := strings.IndexByte(block, '\n')
		if nl <= 0 {
			continue
		}
		id, err := strconv.Atoi(strings.TrimSpace(block[:nl]))
		if err != nil {
			continue
		}

		s := sinkInput{ID: id}
		for _, line := range strings.Split(block[nl+1:], "\n") {
			line = strings.TrimSpace(line)
			if strings.HasPrefix(line, "Volume:") && s.Volume == 0 {
				if m := percentRe.FindStringSubmatch(line); len(m) >= 2 {
					if v, err := strconv.Atoi(m[1]); err == nil {
						s.Volume = v
					}
				}
			}
			if strings.HasPrefix(line, "application.name =") && s.AppName == "" {
				if i := strings.Index(line, `"`); i >= 0 {
					rest := line[i+1:]
					if j := strings.Index(rest, `"`); j >= 0 {
						s.AppName = rest[:j]
					}
				}
			}
		}
		if s.Volume == 0 && s.AppName == "" {
			continue
		}
		res = append(res, s)
	}
	return res, nil
}

func setSinkInputVolume(ctx context.Context, id, percent int) error {
	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}
	arg := fmt.Sprintf("%d%%", percent)
	return exec.CommandContext(ctx, "pactl", "set-sink-input-volume", strconv.Itoa(id), arg).Run()
}
