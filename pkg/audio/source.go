// Package audio defines the input side of the lingoxa pipeline: the [Source]
// abstraction that delivers raw PCM from a device, file or voice channel, and
// the conversion helpers that turn those frames into the mono float32 samples
// consumed by the chunk processor and the recognizers.
//
// Implementations of [Source] live in sub-packages (audio/wavfile,
// audio/discord). This package lives under pkg/ because external code is
// expected to provide additional sources.
package audio

import (
	"context"
	"errors"
)

// ErrEndOfStream is returned by [Source.Read] when a finite source (e.g. a
// file) has delivered all of its audio.
var ErrEndOfStream = errors.New("audio: end of stream")

// Source is a blocking producer of audio frames.
//
// Read blocks until a frame is available, ctx is cancelled, or the source is
// exhausted ([ErrEndOfStream]). Close releases the underlying device; it is
// called by the capture loop only after the reading goroutine has exited.
//
// Implementations need not be safe for concurrent Read calls; Info and Close
// may be called from any goroutine.
type Source interface {
	// Info reports the native format and a human-readable device name.
	Info() StreamInfo

	// Read returns the next frame in the source's native format.
	Read(ctx context.Context) (AudioFrame, error)

	// Close releases all resources held by the source.
	Close() error
}
