// Package stt schedules speech recognition over the chunk stream.
//
// [Manager] consumes [bus.Chunk] values through a bounded queue, accumulates
// them into an utterance buffer gated by an RMS voice-activity heuristic, and
// asks a [stt.Transcriber] for text either periodically (partial results) or
// when the utterance ends (final sentences). [Assembler] is the alternative
// punctuation-based sentence detector for engines whose output does not line
// up with utterance boundaries.
package stt

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/MrWong99/lingoxa/internal/bus"
	"github.com/MrWong99/lingoxa/internal/observe"
	"github.com/MrWong99/lingoxa/pkg/audio"
	"github.com/MrWong99/lingoxa/pkg/provider/stt"
)

// Segmentation modes.
const (
	// SegmentVAD finalizes sentences on silence or on the buffer cap.
	SegmentVAD = "vad"

	// SegmentPunctuation routes transcripts through the [Assembler], which
	// finalizes on terminal punctuation.
	SegmentPunctuation = "punctuation"
)

var (
	// ErrAlreadyRunning is returned by [Manager.Run] when the consumer loop is
	// already active.
	ErrAlreadyRunning = errors.New("stt: consumer loop already running")

	// ErrNoFactory is returned by operations that need to build an engine when
	// the manager was created without one.
	ErrNoFactory = errors.New("stt: no engine factory configured")
)

// EngineSettings selects and parameterises a recognition engine.
type EngineSettings struct {
	// Provider is the registered engine name (e.g. "whisper", "openai").
	Provider string

	// Model is the engine model name or path.
	Model string

	// Device and ComputeType are passed through to local engines.
	Device      string
	ComputeType string

	// Language is the recognition language; "" or "auto" means auto-detect.
	Language string
}

// Factory builds a recognition engine from settings.
type Factory func(ctx context.Context, s EngineSettings) (stt.Transcriber, error)

// Config tunes the buffering state machine. Zero fields take the defaults
// listed next to them.
type Config struct {
	// QueueSize is the chunk queue capacity. Default 20.
	QueueSize int

	// VADThreshold is the RMS level below which a chunk counts as silence.
	// Default 0.005.
	VADThreshold float64

	// SilenceChunks is the number of consecutive silent chunks that ends an
	// utterance. Default 1.
	SilenceChunks int

	// MinBuffer is the shortest buffer worth transcribing. Default 100 ms.
	MinBuffer time.Duration

	// MinFinalize is the buffer length silence must exceed to finalize.
	// Default 300 ms.
	MinFinalize time.Duration

	// MaxBuffer forces finalization regardless of speech. Default 10 s.
	MaxBuffer time.Duration

	// TranscribeInterval is the number of chunks between partial
	// transcriptions. One more chunk is waited for when the engine
	// auto-detects the language. Default 2.
	TranscribeInterval int

	// Segmentation is [SegmentVAD] (default) or [SegmentPunctuation].
	Segmentation string
}

func (c *Config) applyDefaults() {
	if c.QueueSize <= 0 {
		c.QueueSize = 20
	}
	if c.VADThreshold <= 0 {
		c.VADThreshold = 0.005
	}
	if c.SilenceChunks <= 0 {
		c.SilenceChunks = 1
	}
	if c.MinBuffer <= 0 {
		c.MinBuffer = 100 * time.Millisecond
	}
	if c.MinFinalize <= 0 {
		c.MinFinalize = 300 * time.Millisecond
	}
	if c.MaxBuffer <= 0 {
		c.MaxBuffer = 10 * time.Second
	}
	if c.TranscribeInterval <= 0 {
		c.TranscribeInterval = 2
	}
	if c.Segmentation == "" {
		c.Segmentation = SegmentVAD
	}
}

// Option configures a [Manager].
type Option func(*Manager)

// WithConfig replaces the buffering parameters.
func WithConfig(cfg Config) Option {
	return func(m *Manager) { m.cfg = cfg }
}

// WithFactory sets the engine factory used by [Manager.Reconfigure] and by
// [Manager.SetModel] for engines that cannot reload in place.
func WithFactory(f Factory) Option {
	return func(m *Manager) { m.factory = f }
}

// WithSettings records the settings the initial engine was built with.
func WithSettings(s EngineSettings) Option {
	return func(m *Manager) { m.settings = s }
}

// WithMetrics overrides the metrics sink. Default: [observe.DefaultMetrics].
func WithMetrics(met *observe.Metrics) Option {
	return func(m *Manager) { m.metrics = met }
}

// Corrector rewrites recognized text before it is published.
type Corrector interface {
	Correct(text string) string
}

// WithCorrector applies c to every non-empty transcription.
func WithCorrector(c Corrector) Option {
	return func(m *Manager) { m.corrector = c }
}

type ctrlRequest struct {
	ctx  context.Context
	fn   func(context.Context) error
	done chan error
}

// Manager owns the utterance buffer and the recognition engine.
//
// Chunks and control requests are processed strictly one at a time on the
// goroutine running [Manager.Run]; when Run is not active, control requests
// execute inline on the caller's goroutine. Enqueue never blocks.
type Manager struct {
	pub       bus.Publisher
	cfg       Config
	factory   Factory
	metrics   *observe.Metrics
	corrector Corrector

	queue chan bus.Chunk
	ctrl  chan ctrlRequest

	// mu guards loopDone and serialises inline control requests.
	mu       sync.Mutex
	loopDone chan struct{}

	// statusMu guards settings for readers outside the loop.
	statusMu sync.RWMutex
	settings EngineSettings

	// Loop-owned state.
	engine          stt.Transcriber
	buf             []float32
	sampleRate      int
	silenceRun      int
	sinceTranscribe int
}

// New creates a manager that publishes to pub and transcribes with engine.
// A nil engine is allowed: chunks are then consumed and ignored.
func New(pub bus.Publisher, engine stt.Transcriber, opts ...Option) *Manager {
	m := &Manager{pub: pub, engine: engine}
	for _, o := range opts {
		o(m)
	}
	m.cfg.applyDefaults()
	if m.metrics == nil {
		m.metrics = observe.DefaultMetrics()
	}
	m.queue = make(chan bus.Chunk, m.cfg.QueueSize)
	m.ctrl = make(chan ctrlRequest)
	return m
}

// Attach subscribes the manager to chunk events on b.
func (m *Manager) Attach(b *bus.Bus) (detach func()) {
	return b.Subscribe(bus.TopicChunkReady, func(ev bus.Event) {
		if c, ok := ev.Payload.(bus.Chunk); ok {
			m.Enqueue(c)
		}
	})
}

// Enqueue hands a chunk to the consumer loop. When the queue is full the
// chunk is dropped and false is returned.
func (m *Manager) Enqueue(c bus.Chunk) bool {
	select {
	case m.queue <- c:
		m.metrics.STTQueueDepth.Add(context.Background(), 1)
		return true
	default:
		slog.Warn("stt: chunk queue full, dropping chunk", "chunk_id", c.ID, "capacity", cap(m.queue))
		m.metrics.ChunksDropped.Add(context.Background(), 1)
		return false
	}
}

// Running reports whether the consumer loop is active.
func (m *Manager) Running() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.loopDone != nil
}

// Settings returns the current engine settings.
func (m *Manager) Settings() EngineSettings {
	m.statusMu.RLock()
	defer m.statusMu.RUnlock()
	return m.settings
}

// Run is the consumer loop. It blocks until ctx is cancelled and returns nil
// in that case. Queued chunks that were not processed stay in the queue.
func (m *Manager) Run(ctx context.Context) error {
	m.mu.Lock()
	if m.loopDone != nil {
		m.mu.Unlock()
		return ErrAlreadyRunning
	}
	done := make(chan struct{})
	m.loopDone = done
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		m.loopDone = nil
		close(done)
		m.mu.Unlock()
	}()

	observe.Logger(ctx).Info("stt: consumer loop started", "provider", m.Settings().Provider, "segmentation", m.cfg.Segmentation)
	for {
		select {
		case <-ctx.Done():
			observe.Logger(ctx).Info("stt: consumer loop stopped")
			return nil
		case req := <-m.ctrl:
			req.done <- req.fn(req.ctx)
		case c := <-m.queue:
			m.metrics.STTQueueDepth.Add(ctx, -1)
			m.process(ctx, c)
		}
	}
}

// do runs fn on the consumer goroutine, or inline when the loop is idle.
func (m *Manager) do(ctx context.Context, fn func(context.Context) error) error {
	m.mu.Lock()
	loopDone := m.loopDone
	if loopDone == nil {
		defer m.mu.Unlock()
		return fn(ctx)
	}
	m.mu.Unlock()

	req := ctrlRequest{ctx: ctx, fn: fn, done: make(chan error, 1)}
	select {
	case m.ctrl <- req:
	case <-loopDone:
		return m.do(ctx, fn)
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-req.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SetLanguage switches the recognition language. "" and "auto" enable
// auto-detection.
func (m *Manager) SetLanguage(ctx context.Context, code string) error {
	return m.do(ctx, func(context.Context) error {
		ls, ok := m.engine.(stt.LanguageSetter)
		if !ok {
			slog.Warn("stt: engine does not support language switching", "language", code)
			return fmt.Errorf("stt: set language: %w", stt.ErrNotSupported)
		}
		ls.SetLanguage(code)
		m.updateSettings(func(s *EngineSettings) { s.Language = code })
		slog.Info("stt: language changed", "language", code)
		return nil
	})
}

// SetModel switches the engine model. Engines that cannot reload in place
// are rebuilt through the factory. Setting the current model is a no-op.
func (m *Manager) SetModel(ctx context.Context, name string) error {
	return m.do(ctx, func(ctx context.Context) error {
		cur := m.Settings()
		if name == cur.Model && m.engine != nil {
			return nil
		}
		if mr, ok := m.engine.(stt.ModelReloader); ok {
			if err := mr.ReloadModel(ctx, name); err != nil {
				slog.Error("stt: model reload failed", "model", name, "err", err)
				return fmt.Errorf("stt: reload model %q: %w", name, err)
			}
			m.updateSettings(func(s *EngineSettings) { s.Model = name })
			m.resetState()
			slog.Info("stt: model reloaded", "model", name)
			return nil
		}
		next := cur
		next.Model = name
		return m.rebuild(ctx, next)
	})
}

// Reconfigure rebuilds the engine from s. On failure the previous engine is
// kept.
func (m *Manager) Reconfigure(ctx context.Context, s EngineSettings) error {
	return m.do(ctx, func(ctx context.Context) error {
		return m.rebuild(ctx, s)
	})
}

// Reset drops queued chunks, the utterance buffer and the voice-activity
// counters.
func (m *Manager) Reset(ctx context.Context) error {
	return m.do(ctx, func(ctx context.Context) error {
	drain:
		for {
			select {
			case <-m.queue:
				m.metrics.STTQueueDepth.Add(ctx, -1)
			default:
				break drain
			}
		}
		m.resetState()
		return nil
	})
}

// Close releases the engine if it holds resources. It must not be called
// while Run is active.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.engine.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

func (m *Manager) rebuild(ctx context.Context, s EngineSettings) error {
	if m.factory == nil {
		return ErrNoFactory
	}
	eng, err := m.factory(ctx, s)
	if err != nil {
		slog.Error("stt: engine rebuild failed, keeping previous engine", "provider", s.Provider, "model", s.Model, "err", err)
		return fmt.Errorf("stt: build engine %q: %w", s.Provider, err)
	}
	if ls, ok := eng.(stt.LanguageSetter); ok && s.Language != "" {
		ls.SetLanguage(s.Language)
	}
	if c, ok := m.engine.(io.Closer); ok {
		if err := c.Close(); err != nil {
			slog.Warn("stt: failed to close previous engine", "err", err)
		}
	}
	m.engine = eng
	m.updateSettings(func(cur *EngineSettings) { *cur = s })
	m.resetState()
	slog.Info("stt: engine rebuilt", "provider", s.Provider, "model", s.Model, "language", s.Language)
	return nil
}

func (m *Manager) updateSettings(fn func(*EngineSettings)) {
	m.statusMu.Lock()
	defer m.statusMu.Unlock()
	fn(&m.settings)
}

func (m *Manager) resetState() {
	m.buf = nil
	m.silenceRun = 0
	m.sinceTranscribe = 0
}

// bufferDuration returns the buffered audio length in seconds.
func (m *Manager) bufferDuration() float64 {
	return audio.Duration(len(m.buf), m.sampleRate)
}

// process runs one chunk through the buffering state machine.
func (m *Manager) process(ctx context.Context, c bus.Chunk) {
	if m.engine == nil || len(c.Samples) == 0 || c.SampleRate <= 0 {
		return
	}
	m.metrics.ChunksProcessed.Add(ctx, 1)

	if m.sampleRate != c.SampleRate {
		if len(m.buf) > 0 {
			slog.Warn("stt: sample rate changed, dropping buffer", "from", m.sampleRate, "to", c.SampleRate)
		}
		m.resetState()
		m.sampleRate = c.SampleRate
	}

	if audio.RMS(c.Samples) < m.cfg.VADThreshold {
		m.silenceRun++
	} else {
		m.silenceRun = 0
	}

	m.buf = append(m.buf, c.Samples...)
	m.sinceTranscribe++

	dur := m.bufferDuration()
	if dur < m.cfg.MinBuffer.Seconds() {
		return
	}

	finalize := (m.silenceRun >= m.cfg.SilenceChunks && dur > m.cfg.MinFinalize.Seconds()) ||
		dur > m.cfg.MaxBuffer.Seconds()

	interval := m.cfg.TranscribeInterval
	if ad, ok := m.engine.(stt.AutoDetector); ok && ad.IsAutoDetect() {
		interval++
	}
	if !finalize && m.sinceTranscribe < interval {
		return
	}
	m.sinceTranscribe = 0

	m.pub.Publish(bus.TopicDecodeStarted, bus.DecodeStarted{BufferSeconds: dur, Finalizing: finalize})

	start := time.Now()
	tctx, span := observe.StartSpan(ctx, "stt.transcribe")
	text, err := m.engine.Transcribe(tctx, m.buf, m.sampleRate)
	if err != nil {
		span.RecordError(err)
	}
	span.End()
	provider := m.Settings().Provider
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		m.metrics.RecordTranscription(ctx, provider, time.Since(start), err)
		observe.Logger(ctx).Error("stt: transcription failed, dropping buffer", "buffer_seconds", dur, "err", err)
		m.resetState()
		return
	}
	m.metrics.RecordTranscription(ctx, provider, time.Since(start), nil)
	if text != "" && m.corrector != nil {
		text = m.corrector.Correct(text)
	}

	switch {
	case text == "":
		if finalize {
			m.resetState()
		}
	case finalize:
		m.resetState()
		if m.cfg.Segmentation == SegmentPunctuation {
			m.pub.Publish(bus.TopicPartial, bus.Partial{Text: text})
			return
		}
		observe.Logger(ctx).Debug("stt: final sentence", "text", text, "buffer_seconds", dur)
		m.pub.Publish(bus.TopicFinalSentence, bus.FinalSentence{Text: text, DetectedAt: time.Now()})
	default:
		if m.cfg.Segmentation == SegmentPunctuation {
			m.pub.Publish(bus.TopicPartialTranscript, bus.Partial{Text: text})
			return
		}
		m.pub.Publish(bus.TopicPartial, bus.Partial{Text: text})
	}
}
