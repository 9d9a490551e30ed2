// Package mock provides an in-memory implementation of [audio.Source] for use
// in unit tests.
//
// The mock is safe for concurrent use. It records every method call so that
// tests can assert on call counts, and exposes exported fields that the test
// can set to control return values.
//
// Typical usage:
//
//	src := &mock.Source{
//	    InfoResult: audio.StreamInfo{DeviceName: "test", SampleRate: 16000, Channels: 1},
//	    Frames:     []audio.AudioFrame{frame1, frame2},
//	}
//	// Read returns frame1, frame2, then audio.ErrEndOfStream.
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/lingoxa/pkg/audio"
)

// Source is a mock implementation of [audio.Source].
type Source struct {
	mu sync.Mutex

	// InfoResult is returned by [Source.Info].
	InfoResult audio.StreamInfo

	// Frames are delivered in order by [Source.Read].
	Frames []audio.AudioFrame

	// Block makes Read wait for ctx cancellation once Frames are exhausted
	// instead of returning [audio.ErrEndOfStream]. Use it to emulate a live
	// device.
	Block bool

	// ReadErr, if non-nil, is returned by Read after Frames are exhausted.
	ReadErr error

	// CloseErr is returned by [Source.Close].
	CloseErr error

	// CallCountRead records how many times Read was called.
	CallCountRead int

	// CallCountClose records how many times Close was called.
	CallCountClose int

	pos int
}

// Info returns InfoResult.
func (s *Source) Info() audio.StreamInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.InfoResult
}

// Read returns the next queued frame.
func (s *Source) Read(ctx context.Context) (audio.AudioFrame, error) {
	s.mu.Lock()
	s.CallCountRead++
	if s.pos < len(s.Frames) {
		f := s.Frames[s.pos]
		s.pos++
		s.mu.Unlock()
		return f, nil
	}
	block, readErr := s.Block, s.ReadErr
	s.mu.Unlock()

	if readErr != nil {
		return audio.AudioFrame{}, readErr
	}
	if block {
		<-ctx.Done()
		return audio.AudioFrame{}, ctx.Err()
	}
	return audio.AudioFrame{}, audio.ErrEndOfStream
}

// Close records the call and returns CloseErr.
func (s *Source) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CallCountClose++
	return s.CloseErr
}

// Closed reports how many times Close was called. Thread-safe.
func (s *Source) Closed() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.CallCountClose
}

var _ audio.Source = (*Source)(nil)
