// Package chunk slices a continuous mono sample stream into fixed-length,
// overlapping windows and publishes each one as [bus.Chunk] on
// [bus.TopicChunkReady].
//
// With a chunk length of C samples and an overlap of O samples the window
// slides by C-O samples per chunk, so the last O samples of chunk n equal the
// first O samples of chunk n+1.
package chunk

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/MrWong99/lingoxa/internal/bus"
)

// ErrInvalidWindow is returned by [New] when the chunk and overlap durations
// do not describe a sliding window.
var ErrInvalidWindow = errors.New("chunk: invalid window")

// Processor buffers samples and emits chunks. It is safe for concurrent use,
// but samples pushed from several goroutines interleave in call order.
type Processor struct {
	pub        bus.Publisher
	sampleRate int
	size       int
	overlap    int
	step       int

	mu     sync.Mutex
	buf    []float32
	nextID uint64
}

// New creates a processor for a stream at sampleRate Hz emitting chunkMs
// windows that share overlapMs with their predecessor.
func New(sampleRate, chunkMs, overlapMs int, pub bus.Publisher) (*Processor, error) {
	if sampleRate <= 0 {
		return nil, fmt.Errorf("%w: sample rate must be positive, got %d", ErrInvalidWindow, sampleRate)
	}
	if chunkMs <= 0 || overlapMs < 0 {
		return nil, fmt.Errorf("%w: chunk %d ms, overlap %d ms", ErrInvalidWindow, chunkMs, overlapMs)
	}
	size := sampleRate * chunkMs / 1000
	overlap := sampleRate * overlapMs / 1000
	if size <= 0 {
		return nil, fmt.Errorf("%w: %d ms at %d Hz is less than one sample", ErrInvalidWindow, chunkMs, sampleRate)
	}
	if overlap >= size {
		return nil, fmt.Errorf("%w: overlap (%d samples) must be smaller than chunk (%d samples)", ErrInvalidWindow, overlap, size)
	}
	return &Processor{
		pub:        pub,
		sampleRate: sampleRate,
		size:       size,
		overlap:    overlap,
		step:       size - overlap,
		nextID:     1,
	}, nil
}

// Size returns the chunk length in samples.
func (p *Processor) Size() int { return p.size }

// Step returns how many samples the window advances per chunk.
func (p *Processor) Step() int { return p.step }

// Push appends samples and publishes every chunk that became complete.
// Chunks are published after the internal lock is released so that
// subscribers may call back into the processor.
func (p *Processor) Push(samples []float32) {
	if len(samples) == 0 {
		return
	}
	p.mu.Lock()
	p.buf = append(p.buf, samples...)
	var ready []bus.Chunk
	for len(p.buf) >= p.size {
		c := bus.Chunk{
			ID:         p.nextID,
			DurationMs: float64(p.size) * 1000 / float64(p.sampleRate),
			OverlapMs:  float64(p.overlap) * 1000 / float64(p.sampleRate),
			SampleRate: p.sampleRate,
			Samples:    make([]float32, p.size),
			CreatedAt:  time.Now(),
		}
		copy(c.Samples, p.buf[:p.size])
		p.nextID++
		ready = append(ready, c)
		p.buf = p.buf[p.step:]
	}
	// Compact so the backing array does not grow without bound.
	if len(p.buf) > 0 && cap(p.buf) > 4*p.size {
		p.buf = append(make([]float32, 0, 2*p.size), p.buf...)
	}
	p.mu.Unlock()

	for _, c := range ready {
		p.pub.Publish(bus.TopicChunkReady, c)
	}
}

// Buffered returns the number of samples waiting for the next chunk.
func (p *Processor) Buffered() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.buf)
}

// Reset discards buffered samples. Chunk IDs keep increasing.
func (p *Processor) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.buf = nil
}
