package audio

import (
	"encoding/binary"
	"fmt"
	"log/slog"
	"math"
	"sync"
)

// Normalizer converts [AudioFrame] values of any format into mono float32
// samples at TargetRate. It logs a warning on the first format mismatch and
// drops frames whose PCM data is not aligned to whole sample frames.
// Create one per stream; not designed for shared use across goroutines.
type Normalizer struct {
	TargetRate int

	warnedMismatch sync.Once
	warnedCorrupt  sync.Once
}

// Normalize converts a frame to mono float32 at the target rate. Conversion
// order: decode, down-mix, then resample (avoids resampling every channel).
// Returns nil for empty or misaligned frames.
func (n *Normalizer) Normalize(frame AudioFrame) []float32 {
	channels := frame.channels()
	if len(frame.Data) == 0 {
		return nil
	}
	if !frame.Aligned() {
		n.warnedCorrupt.Do(func() {
			slog.Warn("audio normalizer: PCM data not aligned to sample frames, dropping frame",
				"bytes", len(frame.Data),
				"sampleRate", frame.SampleRate,
				"channels", channels,
			)
		})
		return nil
	}

	if frame.SampleRate != n.TargetRate || channels != 1 {
		n.warnedMismatch.Do(func() {
			slog.Info("audio format mismatch: converting",
				"from", formatString(frame.SampleRate, channels),
				"to", formatString(n.TargetRate, 1),
			)
		})
	}

	samples := Downmix(PCM16ToFloat32(frame.Data), channels)
	return ResampleFloat32(samples, frame.SampleRate, n.TargetRate)
}

// PCM16ToFloat32 converts 16-bit signed little-endian PCM to float32 samples
// normalised to [-1.0, 1.0). A trailing odd byte is ignored.
func PCM16ToFloat32(pcm []byte) []float32 {
	n := len(pcm) / 2
	out := make([]float32, n)
	for i := range n {
		s := int16(binary.LittleEndian.Uint16(pcm[i*2 : i*2+2]))
		out[i] = float32(s) / 32768.0
	}
	return out
}

// Float32ToPCM16 converts float32 samples to 16-bit signed little-endian PCM.
// Values outside [-1.0, 1.0] are clipped.
func Float32ToPCM16(samples []float32) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		v := float64(s) * 32767.0
		if v > 32767 {
			v = 32767
		} else if v < -32768 {
			v = -32768
		}
		binary.LittleEndian.PutUint16(out[i*2:], uint16(int16(v)))
	}
	return out
}

// Downmix averages interleaved multi-channel samples into a mono slice. For
// channels <= 1 the input is returned unchanged.
func Downmix(samples []float32, channels int) []float32 {
	if channels <= 1 {
		return samples
	}
	frames := len(samples) / channels
	out := make([]float32, frames)
	for i := range frames {
		var sum float32
		for ch := range channels {
			sum += samples[i*channels+ch]
		}
		out[i] = sum / float32(channels)
	}
	return out
}

// ResampleFloat32 resamples mono float32 audio from srcRate to dstRate using
// linear interpolation. If the rates match (or either is invalid) the input is
// returned unchanged.
func ResampleFloat32(samples []float32, srcRate, dstRate int) []float32 {
	if srcRate <= 0 || dstRate <= 0 || srcRate == dstRate || len(samples) == 0 {
		return samples
	}
	dstLen := int(int64(len(samples)) * int64(dstRate) / int64(srcRate))
	if dstLen == 0 {
		return nil
	}

	out := make([]float32, dstLen)
	ratio := float64(srcRate) / float64(dstRate)
	for i := range dstLen {
		pos := float64(i) * ratio
		idx := int(pos)
		frac := float32(pos - float64(idx))

		s0 := samples[idx]
		s1 := s0
		if idx+1 < len(samples) {
			s1 = samples[idx+1]
		}
		out[i] = s0*(1-frac) + s1*frac
	}
	return out
}

// RMS returns the root-mean-square energy of float32 samples in the same units
// as the samples (0–1 for normalised audio). Returns 0 for an empty slice.
func RMS(samples []float32) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		v := float64(s)
		sum += v * v
	}
	return math.Sqrt(sum / float64(len(samples)))
}

// Duration returns the length in seconds of n mono samples at sampleRate.
func Duration(n, sampleRate int) float64 {
	if sampleRate <= 0 {
		return 0
	}
	return float64(n) / float64(sampleRate)
}

// formatString returns a human-readable string for a sample rate and channel count,
// e.g. "48000Hz stereo".
func formatString(rate, channels int) string {
	ch := "mono"
	if channels == 2 {
		ch = "stereo"
	} else if channels > 2 {
		ch = fmt.Sprintf("%dch", channels)
	}
	return fmt.Sprintf("%dHz %s", rate, ch)
}
