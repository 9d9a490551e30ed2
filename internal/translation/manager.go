// Package translation turns final sentences into context-aware translations.
//
// [Manager] handles every [bus.FinalSentence] on its own goroutine: it
// translates the sentence against the current scenario context, publishes
// the result, and every N sentences asks the model to fold the batch into a
// new context summary. Context summaries are dispatched one at a time and
// each one starts from the latest committed context.
package translation

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/MrWong99/lingoxa/internal/bus"
	"github.com/MrWong99/lingoxa/internal/dialogue"
	"github.com/MrWong99/lingoxa/internal/observe"
)

// Config holds the orchestration settings.
type Config struct {
	// ContextUpdateInterval is the number of translated sentences batched
	// into one context summary. Values below 1 mean 1.
	ContextUpdateInterval int

	// UseOriginalForContext feeds source sentences instead of translations
	// into the context summary.
	UseOriginalForContext bool

	// SessionID is stamped on every dialogue record.
	SessionID string
}

// Option configures a [Manager].
type Option func(*Manager)

// WithDialogue appends a record per translated sentence to w.
func WithDialogue(w dialogue.Writer) Option {
	return func(m *Manager) { m.dialogue = w }
}

// WithContextStore shares an existing context store.
func WithContextStore(s *ContextStore) Option {
	return func(m *Manager) { m.store = s }
}

// WithMetrics overrides the metrics sink. Default: [observe.DefaultMetrics].
func WithMetrics(met *observe.Metrics) Option {
	return func(m *Manager) { m.metrics = met }
}

// Manager orchestrates translation and context maintenance.
//
// All methods are safe for concurrent use.
type Manager struct {
	pub        bus.Publisher
	translator Translator
	store      *ContextStore
	latency    *LatencyTracker
	dialogue   dialogue.Writer
	metrics    *observe.Metrics
	sessionID  string

	nextID   atomic.Uint64
	inflight atomic.Int64
	wg       sync.WaitGroup

	// mu guards the pending batch, the batch ticket counter and the live
	// settings.
	mu          sync.Mutex
	pending     []string
	tickets     uint64
	interval    int
	useOriginal bool

	// summaryMu guards turn. Summaries run in ticket order, one at a time.
	summaryMu   sync.Mutex
	summaryTurn *sync.Cond
	turn        uint64
}

// NewManager returns a manager that translates with t and publishes to pub.
func NewManager(pub bus.Publisher, t Translator, cfg Config, opts ...Option) *Manager {
	m := &Manager{
		pub:         pub,
		translator:  t,
		latency:     NewLatencyTracker(),
		sessionID:   cfg.SessionID,
		interval:    max(cfg.ContextUpdateInterval, 1),
		useOriginal: cfg.UseOriginalForContext,
	}
	m.summaryTurn = sync.NewCond(&m.summaryMu)
	for _, o := range opts {
		o(m)
	}
	if m.store == nil {
		m.store = &ContextStore{}
	}
	if m.metrics == nil {
		m.metrics = observe.DefaultMetrics()
	}
	return m
}

// Context returns the context store.
func (m *Manager) Context() *ContextStore { return m.store }

// Attach subscribes to final sentences on b. Sentence IDs are assigned on
// the publisher's goroutine, in arrival order; each sentence is then
// processed on a new goroutine bound to ctx. Use [Manager.Wait] to join them.
func (m *Manager) Attach(ctx context.Context, b *bus.Bus) (detach func()) {
	return b.Subscribe(bus.TopicFinalSentence, func(ev bus.Event) {
		fs, ok := ev.Payload.(bus.FinalSentence)
		if !ok {
			return
		}
		text := strings.TrimSpace(fs.Text)
		if text == "" {
			return
		}
		id := m.begin()
		m.inflight.Add(1)
		m.wg.Add(1)
		go func() {
			defer m.wg.Done()
			defer m.inflight.Add(-1)
			m.handleSentence(ctx, id, text)
		}()
	})
}

// begin assigns the next sentence ID and starts its latency timer.
func (m *Manager) begin() uint64 {
	id := m.nextID.Add(1)
	m.latency.Start(id)
	return id
}

// Wait blocks until all sentence goroutines started by Attach have finished.
func (m *Manager) Wait() { m.wg.Wait() }

// SetTargetLanguage changes the translation output language.
func (m *Manager) SetTargetLanguage(lang string) {
	m.translator.SetTargetLanguage(lang)
	slog.Info("translation: target language changed", "language", lang)
}

// TargetLanguage returns the translation output language.
func (m *Manager) TargetLanguage() string { return m.translator.TargetLanguage() }

// SetContextUpdateInterval changes the batch size for context summaries.
// Values below 1 mean 1. Sentences already pending count toward the new size.
func (m *Manager) SetContextUpdateInterval(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.interval = max(n, 1)
}

// SetUseOriginalForContext selects whether source sentences or translations
// feed the context summary.
func (m *Manager) SetUseOriginalForContext(v bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.useOriginal = v
}

// Pending returns the number of sentences waiting for a context summary.
func (m *Manager) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pending)
}

// InFlight returns the number of sentences started by Attach whose workflow
// has not finished yet.
func (m *Manager) InFlight() int { return int(m.inflight.Load()) }

// ResetContext clears the scenario context and announces the empty context.
// Pending sentences and in-flight translations are not affected.
func (m *Manager) ResetContext() {
	m.store.Reset()
	m.pub.Publish(bus.TopicContextUpdated, bus.ContextUpdated{Context: ""})
	slog.Info("translation: context reset")
}

// HandleSentence runs the full workflow for one final sentence and returns
// when its dialogue record has been written.
func (m *Manager) HandleSentence(ctx context.Context, fs bus.FinalSentence) {
	text := strings.TrimSpace(fs.Text)
	if text == "" {
		return
	}
	m.handleSentence(ctx, m.begin(), text)
}

// handleSentence runs the workflow for sentence id, whose latency timer is
// already running.
func (m *Manager) handleSentence(ctx context.Context, id uint64, text string) {
	ctx, span := observe.StartSpan(ctx, "translation.sentence",
		trace.WithAttributes(observe.AttrSentenceID.Int64(int64(id))))
	defer span.End()
	log := observe.Logger(ctx).With("sentence_id", id)

	scenario := m.store.Get()
	log.Debug("translation: started", "text", text)

	m.pub.Publish(bus.TopicTranslateStarted, bus.TranslateStarted{SentenceID: id, Original: text})

	res, err := m.translator.Translate(ctx, text, scenario)
	if err == nil && strings.TrimSpace(res.Text) == "" {
		err = ErrEmptyResponse
	}
	if err != nil {
		m.latency.Discard(id)
		m.metrics.RecordSentence(ctx, observe.SentenceFailed, 0)
		span.RecordError(err)
		log.Warn("translation: failed, dropping sentence", "err", err)
		return
	}

	update := bus.Translation{
		SentenceID: id,
		Original:   text,
		Translated: res.Text,
		Context:    scenario,
		LatencyMs:  m.latency.Elapsed(id),
	}
	m.pub.Publish(bus.TopicFormattedUpdate, update)
	m.pub.Publish(bus.TopicTranslationReady, update)

	latency := m.latency.Stop(id)
	m.metrics.RecordSentence(ctx, observe.SentenceTranslated, time.Duration(latency*float64(time.Millisecond)))

	committed := scenario
	if batch, ticket, useOriginal := m.enqueueForContext(text, res.Text); batch != nil {
		committed = m.updateContext(ctx, id, ticket, batch, useOriginal)
	}

	log.Info("translation: finished", "latency_ms", latency)

	if m.dialogue == nil {
		return
	}
	rec := dialogue.Record{
		Timestamp:  time.Now(),
		SessionID:  m.sessionID,
		SentenceID: id,
		Source:     text,
		Translated: res.Text,
		Context:    committed,
		TokensIn:   res.TokensIn,
		TokensOut:  res.TokensOut,
		LatencyMs:  latency,
	}
	if err := m.dialogue.Append(ctx, rec); err != nil {
		log.Warn("translation: failed to write dialogue record", "err", err)
	}
}

// enqueueForContext appends the sentence's context contribution and, when the
// interval is reached, takes the whole batch together with its ticket.
func (m *Manager) enqueueForContext(original, translated string) (batch []string, ticket uint64, useOriginal bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.useOriginal {
		m.pending = append(m.pending, original)
	} else {
		m.pending = append(m.pending, translated)
	}
	if len(m.pending) < m.interval {
		slog.Debug("translation: buffering context update", "pending", len(m.pending), "interval", m.interval)
		return nil, 0, false
	}
	batch, m.pending = m.pending, nil
	ticket = m.tickets
	m.tickets++
	return batch, ticket, m.useOriginal
}

// updateContext waits for the batch's turn, summarises it into the latest
// committed context and returns the context in effect afterwards. On failure
// the previous context is kept. Every ticket handed out must pass through
// here exactly once or later batches wait forever.
func (m *Manager) updateContext(ctx context.Context, id, ticket uint64, batch []string, useOriginal bool) string {
	m.summaryMu.Lock()
	for m.turn != ticket {
		m.summaryTurn.Wait()
	}
	defer func() {
		m.turn++
		m.summaryTurn.Broadcast()
		m.summaryMu.Unlock()
	}()

	m.pub.Publish(bus.TopicContextUpdateStarted, bus.ContextUpdateStarted{SentenceID: id, Pending: len(batch)})

	old := m.store.Get()
	next, err := m.translator.Summarize(ctx, old, strings.Join(batch, " "), useOriginal)
	if err == nil && strings.TrimSpace(next) == "" {
		err = ErrEmptyResponse
	}
	m.metrics.RecordContextUpdate(ctx, err)
	if err != nil {
		observe.Logger(ctx).Warn("translation: context update failed, keeping previous context", "sentence_id", id, "err", err)
		next = old
	} else {
		m.store.Update(next)
	}
	m.pub.Publish(bus.TopicContextUpdated, bus.ContextUpdated{Context: next})
	return next
}
