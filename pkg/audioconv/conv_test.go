package audioconv

import (
	"bytes"
	"encoding/binary"
	"math"
	"os"
	"path/filepath"
	"testing"
)

// writeWAV writes a canonical PCM wav file for decode tests.
func writeWAV(t *testing.T, path string, samples []int16, rate, channels int) {
	t.Helper()

	var data bytes.Buffer
	for _, s := range samples {
		binary.Write(&data, binary.LittleEndian, s)
	}

	var f bytes.Buffer
	f.WriteString("RIFF")
	binary.Write(&f, binary.LittleEndian, uint32(36+data.Len()))
	f.WriteString("WAVE")
	f.WriteString("fmt ")
	binary.Write(&f, binary.LittleEndian, uint32(16))
	binary.Write(&f, binary.LittleEndian, uint16(1)) // PCM
	binary.Write(&f, binary.LittleEndian, uint16(channels))
	binary.Write(&f, binary.LittleEndian, uint32(rate))
	binary.Write(&f, binary.LittleEndian, uint32(rate*channels*2))
	binary.Write(&f, binary.LittleEndian, uint16(channels*2))
	binary.Write(&f, binary.LittleEndian, uint16(16))
	f.WriteString("data")
	binary.Write(&f, binary.LittleEndian, uint32(data.Len()))
	f.Write(data.Bytes())

	if err := os.WriteFile(path, f.Bytes(), 0o644); err != nil {
		t.Fatalf("write wav: %v", err)
	}
}

func TestInt16ToFloat32(t *testing.T) {
	in := []int16{0, 16384, -16384, 32767, -32768}
	out := Int16ToFloat32(in)

	if len(out) != len(in) {
		t.Fatalf("length mismatch: got %d, want %d", len(out), len(in))
	}
	if out[0] != 0 {
		t.Errorf("zero sample converted to %f", out[0])
	}
	if math.Abs(float64(out[1])-0.5) > 0.001 {
		t.Errorf("16384 should be ~0.5, got %f", out[1])
	}
	if math.Abs(float64(out[2])+0.5) > 0.001 {
		t.Errorf("-16384 should be ~-0.5, got %f", out[2])
	}
	for i, v := range out {
		if v < -1 || v > 1 {
			t.Errorf("sample %d out of [-1,1]: %f", i, v)
		}
	}
}

func TestFloat32ToInt16_Clamps(t *testing.T) {
	out := Float32ToInt16([]float32{0, 0.5, -0.5, 2.0, -2.0})
	if out[0] != 0 {
		t.Errorf("zero sample converted to %d", out[0])
	}
	if out[3] != 32767 {
		t.Errorf("overdriven sample should clamp to 32767, got %d", out[3])
	}
	if out[4] != -32768 {
		t.Errorf("overdriven negative sample should clamp to -32768, got %d", out[4])
	}
}

func TestDownmix(t *testing.T) {
	stereo := []float32{1, 0, 0.5, 0.5, -1, 1}
	mono := Downmix(stereo, 2)

	want := []float32{0.5, 0.5, 0}
	if len(mono) != len(want) {
		t.Fatalf("length mismatch: got %d, want %d", len(mono), len(want))
	}
	for i := range want {
		if math.Abs(float64(mono[i]-want[i])) > 0.0001 {
			t.Errorf("frame %d: got %f, want %f", i, mono[i], want[i])
		}
	}
}

func TestResample(t *testing.T) {
	t.Run("same rate is a no-op", func(t *testing.T) {
		in := []float32{1, 2, 3}
		out := Resample(in, 16000, 16000)
		if len(out) != 3 {
			t.Fatalf("expected unchanged slice, got len %d", len(out))
		}
	})

	t.Run("halving the rate halves the length", func(t *testing.T) {
		in := make([]float32, 32000)
		out := Resample(in, 32000, 16000)
		if len(out) != 16000 {
			t.Errorf("expected 16000 samples, got %d", len(out))
		}
	})

	t.Run("constant signal stays constant", func(t *testing.T) {
		in := make([]float32, 4410)
		for i := range in {
			in[i] = 0.25
		}
		out := Resample(in, 44100, 16000)
		for i, v := range out {
			if math.Abs(float64(v)-0.25) > 0.001 {
				t.Fatalf("sample %d drifted: %f", i, v)
			}
		}
	})
}

func TestRoundTrip(t *testing.T) {
	in := []int16{100, -100, 2000, -2000, 32000}
	back := Float32ToInt16(Int16ToFloat32(in))
	for i := range in {
		diff := int(in[i]) - int(back[i])
		if diff < -1 || diff > 1 {
			t.Errorf("sample %d: %d -> %d", i, in[i], back[i])
		}
	}
}

func TestDecodeFile_WAVMono16k(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mono.wav")
	in := []int16{0, 16384, -16384, 32767}
	writeWAV(t, path, in, TargetRate, 1)

	out, err := DecodeFile(path)
	if err != nil {
		t.Fatalf("DecodeFile: %v", err)
	}
	if len(out) != len(in) {
		t.Fatalf("decoded %d samples, want %d", len(out), len(in))
	}
	want := []float32{0, 0.5, -0.5, 32767.0 / 32768.0}
	for i := range want {
		if math.Abs(float64(out[i]-want[i])) > 1e-3 {
			t.Errorf("sample %d = %f, want %f", i, out[i], want[i])
		}
	}
}

func TestDecodeFile_WAVStereoResampled(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stereo.wav")
	// Four stereo frames at 32 kHz: downmix to mono, resample to 16 kHz.
	in := []int16{8000, 8000, -8000, -8000, 8000, 8000, -8000, -8000}
	writeWAV(t, path, in, 2*TargetRate, 2)

	out, err := DecodeFile(path)
	if err != nil {
		t.Fatalf("DecodeFile: %v", err)
	}
	if len(out) != 2 {
		t.Fatalf("decoded %d samples, want 2 (4 frames halved)", len(out))
	}
	for i, v := range out {
		if math.Abs(float64(v)) > 1.0 {
			t.Errorf("sample %d = %f out of range", i, v)
		}
	}
}

func TestDecodeFile_SniffsWAVWithoutExtension(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cue.bin")
	writeWAV(t, path, []int16{100, 200, 300}, TargetRate, 1)

	out, err := DecodeFile(path)
	if err != nil {
		t.Fatalf("DecodeFile: %v", err)
	}
	if len(out) != 3 {
		t.Errorf("decoded %d samples, want 3", len(out))
	}
}

func TestDecodeFile_UnsupportedFormat(t *testing.T) {
	path := filepath.Join(t.TempDir(), "noise.dat")
	if err := os.WriteFile(path, []byte("not audio at all"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := DecodeFile(path); err == nil {
		t.Error("expected an error for an unsupported format")
	}
}

func TestDecodeFile_Missing(t *testing.T) {
	if _, err := DecodeFile(filepath.Join(t.TempDir(), "absent.wav")); err == nil {
		t.Error("expected an error for a missing file")
	}
}
