// Package capture runs the audio producer goroutine: it reads frames from an
// [audio.Source], normalises them to mono float32 at the pipeline rate,
// optionally records them to a WAV file, and pushes them into the chunker.
package capture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/MrWong99/lingoxa/internal/bus"
	"github.com/MrWong99/lingoxa/internal/observe"
	"github.com/MrWong99/lingoxa/pkg/audio"
)

// ErrAlreadyRunning is returned by [Capture.Start] while a stream is active.
var ErrAlreadyRunning = errors.New("capture: already running")

// Opener opens the audio source for one capture run.
type Opener func(ctx context.Context) (audio.Source, error)

// Sink receives normalised samples. [chunk.Processor] implements it.
type Sink interface {
	Push(samples []float32)
	Reset()
}

// Config parameterises a [Capture].
type Config struct {
	// SampleRate is the pipeline sample rate every frame is converted to.
	SampleRate int

	// RecordDir, when set, receives a capture_<timestamp>.wav file with the
	// normalised audio of each run.
	RecordDir string
}

// Capture owns the producer goroutine. Start and Stop may be called
// repeatedly; each Start opens a fresh source.
//
// All methods are safe for concurrent use.
type Capture struct {
	pub  bus.Publisher
	sink Sink
	cfg  Config

	mu      sync.Mutex
	open    Opener
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
	info    audio.StreamInfo
}

// New returns a stopped capture that will read from sources produced by open.
func New(pub bus.Publisher, sink Sink, open Opener, cfg Config) (*Capture, error) {
	if cfg.SampleRate <= 0 {
		return nil, fmt.Errorf("capture: sample rate must be positive, got %d", cfg.SampleRate)
	}
	if open == nil {
		return nil, errors.New("capture: opener must not be nil")
	}
	return &Capture{pub: pub, sink: sink, cfg: cfg, open: open}, nil
}

// SetOpener replaces the source used by the next Start.
func (c *Capture) SetOpener(open Opener) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.open = open
}

// Running reports whether a stream is active.
func (c *Capture) Running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

// Info returns the format of the active (or last) stream.
func (c *Capture) Info() audio.StreamInfo {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.info
}

// Done returns a channel closed when the current (or last) stream ends,
// either through Stop or because the source ran out. It returns nil before
// the first Start.
func (c *Capture) Done() <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.done
}

// Start opens the source and launches the producer goroutine. The goroutine
// is stopped by Stop, by cancelling ctx, or by the end of the stream.
func (c *Capture) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running {
		return ErrAlreadyRunning
	}

	src, err := c.open(ctx)
	if err != nil {
		return fmt.Errorf("capture: open source: %w", err)
	}
	info := src.Info()

	var rec *audio.WAVWriter
	if c.cfg.RecordDir != "" {
		path := filepath.Join(c.cfg.RecordDir, "capture_"+time.Now().Format("20060102_150405")+".wav")
		rec, err = audio.CreateWAV(path, c.cfg.SampleRate)
		if err != nil {
			_ = src.Close()
			return fmt.Errorf("capture: create recording: %w", err)
		}
		observe.Logger(ctx).Info("capture: recording stream", "path", path)
	}

	c.sink.Reset()
	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	c.running, c.cancel, c.done, c.info = true, cancel, done, info

	c.pub.Publish(bus.TopicStreamOpened, streamInfo(info))
	observe.Logger(ctx).Info("capture: stream opened", "device", info.DeviceName, "sample_rate", info.SampleRate, "channels", info.Channels)

	go c.run(runCtx, src, rec, done)
	return nil
}

// Stop ends the active stream and waits for the producer goroutine to exit
// and release its resources. Stopping a stopped capture is a no-op.
func (c *Capture) Stop() {
	c.mu.Lock()
	running, cancel, done := c.running, c.cancel, c.done
	c.mu.Unlock()
	if !running {
		return
	}
	cancel()
	<-done
}

func (c *Capture) run(ctx context.Context, src audio.Source, rec *audio.WAVWriter, done chan struct{}) {
	defer func() {
		if err := src.Close(); err != nil {
			slog.Warn("capture: failed to close source", "err", err)
		}
		if rec != nil {
			if err := rec.Close(); err != nil {
				slog.Warn("capture: failed to finalise recording", "err", err)
			}
		}
		info := src.Info()
		c.pub.Publish(bus.TopicStreamClosed, streamInfo(info))
		slog.Info("capture: stream closed", "device", info.DeviceName)

		c.mu.Lock()
		c.cancel()
		c.running, c.cancel = false, nil
		c.mu.Unlock()
		close(done)
	}()

	norm := &audio.Normalizer{TargetRate: c.cfg.SampleRate}
	for {
		frame, err := src.Read(ctx)
		if err != nil {
			switch {
			case errors.Is(err, audio.ErrEndOfStream):
				observe.Logger(ctx).Info("capture: end of stream")
			case ctx.Err() != nil:
			default:
				observe.Logger(ctx).Error("capture: read failed, stopping stream", "err", err)
			}
			return
		}
		samples := norm.Normalize(frame)
		if len(samples) == 0 {
			continue
		}
		if rec != nil {
			if err := rec.Write(samples); err != nil {
				observe.Logger(ctx).Warn("capture: recording write failed, recording disabled", "err", err)
				_ = rec.Close()
				rec = nil
			}
		}
		c.sink.Push(samples)
	}
}

func streamInfo(i audio.StreamInfo) bus.StreamInfo {
	return bus.StreamInfo{DeviceName: i.DeviceName, SampleRate: i.SampleRate, Channels: i.Channels}
}
