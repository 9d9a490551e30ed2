// Package wavfile provides an [audio.Source] that plays back a 16-bit PCM WAV
// file. With real-time pacing enabled it behaves like a live input device,
// which makes it the standard way to exercise the full pipeline without audio
// hardware.
package wavfile

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/MrWong99/lingoxa/pkg/audio"
)

const defaultFrameMs = 20

var _ audio.Source = (*Source)(nil)

// Option is a functional option for configuring a Source.
type Option func(*Source)

// WithRealtime paces Read so that frames are delivered no faster than their
// audio duration. Defaults to false (read as fast as possible).
func WithRealtime(realtime bool) Option {
	return func(s *Source) { s.realtime = realtime }
}

// WithFrameMs sets the duration of each delivered frame. Defaults to 20 ms.
func WithFrameMs(ms int) Option {
	return func(s *Source) {
		if ms > 0 {
			s.frameMs = ms
		}
	}
}

// Source reads PCM frames from a WAV file.
type Source struct {
	path     string
	f        *os.File
	r        *bufio.Reader
	info     audio.WAVInfo
	realtime bool
	frameMs  int

	remaining int
	pos       time.Duration
	started   time.Time
}

// Open opens path and parses its header.
func Open(path string, opts ...Option) (*Source, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("wavfile: open %q: %w", path, err)
	}
	r := bufio.NewReader(f)
	info, err := audio.ReadWAVHeader(r)
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("wavfile: %q: %w", path, err)
	}
	if info.SampleRate <= 0 || info.Channels <= 0 {
		_ = f.Close()
		return nil, fmt.Errorf("wavfile: %q: invalid format %d Hz / %d ch", path, info.SampleRate, info.Channels)
	}

	s := &Source{
		path:      path,
		f:         f,
		r:         r,
		info:      info,
		frameMs:   defaultFrameMs,
		remaining: info.DataSize,
	}
	for _, o := range opts {
		o(s)
	}
	return s, nil
}

// Info reports the file's native format.
func (s *Source) Info() audio.StreamInfo {
	return audio.StreamInfo{
		DeviceName: "file:" + filepath.Base(s.path),
		SampleRate: s.info.SampleRate,
		Channels:   s.info.Channels,
	}
}

// Read returns the next frame or [audio.ErrEndOfStream].
func (s *Source) Read(ctx context.Context) (audio.AudioFrame, error) {
	if err := ctx.Err(); err != nil {
		return audio.AudioFrame{}, err
	}
	if s.started.IsZero() {
		s.started = time.Now()
	}

	frameBytes := s.Info().BytesFor(time.Duration(s.frameMs) * time.Millisecond)
	if s.info.DataSize > 0 {
		if s.remaining <= 0 {
			return audio.AudioFrame{}, audio.ErrEndOfStream
		}
		frameBytes = min(frameBytes, s.remaining)
	}
	buf := make([]byte, frameBytes)
	read, err := io.ReadFull(s.r, buf)
	s.remaining -= read
	// Keep whole sample frames only.
	n := read - read%(2*s.info.Channels)
	if n == 0 {
		if err == nil || errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return audio.AudioFrame{}, audio.ErrEndOfStream
		}
		return audio.AudioFrame{}, fmt.Errorf("wavfile: read: %w", err)
	}

	frame := audio.AudioFrame{
		Data:       buf[:n],
		SampleRate: s.info.SampleRate,
		Channels:   s.info.Channels,
		Timestamp:  s.pos,
	}
	s.pos += frame.Duration()

	if s.realtime {
		if wait := time.Until(s.started.Add(frame.Timestamp)); wait > 0 {
			t := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				t.Stop()
				return audio.AudioFrame{}, ctx.Err()
			case <-t.C:
			}
		}
	}
	return frame, nil
}

// Close closes the file.
func (s *Source) Close() error {
	return s.f.Close()
}
