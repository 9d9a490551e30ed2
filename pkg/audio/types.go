package audio

import "time"

// bytesPerSample is the width of one 16-bit PCM sample.
const bytesPerSample = 2

// AudioFrame is a block of interleaved 16-bit little-endian PCM as delivered
// by a [Source], in the source's native format. The capture loop normalises
// frames to mono float32 at the pipeline rate.
type AudioFrame struct {
	Data       []byte
	SampleRate int
	Channels   int

	// Timestamp is the frame's offset from the start of the stream.
	Timestamp time.Duration
}

// channels treats a missing channel count as mono.
func (f AudioFrame) channels() int {
	return max(f.Channels, 1)
}

// Aligned reports whether Data holds whole sample frames.
func (f AudioFrame) Aligned() bool {
	return len(f.Data)%(bytesPerSample*f.channels()) == 0
}

// SampleFrames is the number of samples per channel in Data.
func (f AudioFrame) SampleFrames() int {
	return len(f.Data) / (bytesPerSample * f.channels())
}

// Duration is the playback length of the frame, or 0 without a sample rate.
func (f AudioFrame) Duration() time.Duration {
	if f.SampleRate <= 0 {
		return 0
	}
	return time.Duration(f.SampleFrames()) * time.Second / time.Duration(f.SampleRate)
}

// StreamInfo describes an opened input stream. It is published with the
// stream-opened event so display clients can show the active device.
type StreamInfo struct {
	DeviceName string `json:"device_name"`
	SampleRate int    `json:"sample_rate"`
	Channels   int    `json:"channels"`
}

// BytesFor returns the size in bytes of d worth of PCM in this format.
func (i StreamInfo) BytesFor(d time.Duration) int {
	frames := int(int64(i.SampleRate) * int64(d) / int64(time.Second))
	return frames * max(i.Channels, 1) * bytesPerSample
}
