package audio_test

import (
	"encoding/binary"
	"math"
	"testing"

	"github.com/MrWong99/lingoxa/pkg/audio"
)

// samplesToBytes converts a slice of int16 samples to little-endian byte representation.
func samplesToBytes(samples []int16) []byte {
	buf := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(s))
	}
	return buf
}

func approxEqual(a, b, eps float64) bool { return math.Abs(a-b) <= eps }

func TestPCM16ToFloat32(t *testing.T) {
	got := audio.PCM16ToFloat32(samplesToBytes([]int16{0, 16384, -32768}))
	want := []float32{0, 0.5, -1}
	if len(got) != len(want) {
		t.Fatalf("length = %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("sample %d: got %v, want %v", i, got[i], want[i])
		}
	}
}

func TestFloat32ToPCM16_Clips(t *testing.T) {
	pcm := audio.Float32ToPCM16([]float32{2, -2, 0})
	got := []int16{
		int16(binary.LittleEndian.Uint16(pcm[0:])),
		int16(binary.LittleEndian.Uint16(pcm[2:])),
		int16(binary.LittleEndian.Uint16(pcm[4:])),
	}
	want := []int16{32767, -32768, 0}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("sample %d: got %d, want %d", i, got[i], want[i])
		}
	}
}

func TestDownmix(t *testing.T) {
	got := audio.Downmix([]float32{0.2, 0.4, -0.2, -0.4}, 2)
	if len(got) != 2 {
		t.Fatalf("length = %d, want 2", len(got))
	}
	if !approxEqual(float64(got[0]), 0.3, 1e-6) || !approxEqual(float64(got[1]), -0.3, 1e-6) {
		t.Errorf("got %v, want [0.3 -0.3]", got)
	}
}

func TestDownmix_MonoPassthrough(t *testing.T) {
	in := []float32{1, 2, 3}
	got := audio.Downmix(in, 1)
	if &got[0] != &in[0] {
		t.Error("mono input should be returned unchanged")
	}
}

func TestResampleFloat32(t *testing.T) {
	tests := []struct {
		name    string
		n       int
		src     int
		dst     int
		wantLen int
	}{
		{name: "downsample 48k to 16k", n: 480, src: 48000, dst: 16000, wantLen: 160},
		{name: "upsample 16k to 48k", n: 160, src: 16000, dst: 48000, wantLen: 480},
		{name: "44.1k to 16k", n: 44100, src: 44100, dst: 16000, wantLen: 16000},
		{name: "same rate", n: 100, src: 16000, dst: 16000, wantLen: 100},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := audio.ResampleFloat32(make([]float32, tt.n), tt.src, tt.dst)
			if len(got) != tt.wantLen {
				t.Errorf("length = %d, want %d", len(got), tt.wantLen)
			}
		})
	}
}

func TestResampleFloat32_Interpolates(t *testing.T) {
	got := audio.ResampleFloat32([]float32{0, 1}, 1, 2)
	want := []float32{0, 0.5, 1, 1}
	if len(got) != len(want) {
		t.Fatalf("length = %d, want %d", len(got), len(want))
	}
	for i := range want {
		if !approxEqual(float64(got[i]), float64(want[i]), 1e-6) {
			t.Errorf("sample %d: got %v, want %v", i, got[i], want[i])
		}
	}
}

func TestRMS(t *testing.T) {
	tests := []struct {
		name    string
		samples []float32
		want    float64
	}{
		{name: "empty", samples: nil, want: 0},
		{name: "silence", samples: make([]float32, 100), want: 0},
		{name: "constant", samples: []float32{0.5, -0.5, 0.5, -0.5}, want: 0.5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := audio.RMS(tt.samples); !approxEqual(got, tt.want, 1e-9) {
				t.Errorf("RMS = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestNormalizer_StereoResample(t *testing.T) {
	n := &audio.Normalizer{TargetRate: 16000}
	// 480 stereo frames at 48 kHz (10 ms) of L=R=16384.
	pcm := make([]int16, 960)
	for i := range pcm {
		pcm[i] = 16384
	}
	got := n.Normalize(audio.AudioFrame{Data: samplesToBytes(pcm), SampleRate: 48000, Channels: 2})
	if len(got) != 160 {
		t.Fatalf("length = %d, want 160", len(got))
	}
	for i, s := range got {
		if !approxEqual(float64(s), 0.5, 1e-6) {
			t.Fatalf("sample %d = %v, want 0.5", i, s)
		}
	}
}

func TestNormalizer_MisalignedFrameDropped(t *testing.T) {
	n := &audio.Normalizer{TargetRate: 16000}
	got := n.Normalize(audio.AudioFrame{Data: []byte{1, 2, 3, 4, 5, 6}, SampleRate: 16000, Channels: 2})
	if got != nil {
		t.Errorf("expected nil for misaligned stereo frame, got %d samples", len(got))
	}
}

func TestDuration(t *testing.T) {
	if got := audio.Duration(44100, 44100); got != 1 {
		t.Errorf("Duration = %v, want 1", got)
	}
	if got := audio.Duration(100, 0); got != 0 {
		t.Errorf("Duration with zero rate = %v, want 0", got)
	}
}
