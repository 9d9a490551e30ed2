package stt

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/lingoxa/internal/bus"
	"github.com/MrWong99/lingoxa/internal/observe"
	"github.com/MrWong99/lingoxa/pkg/provider/stt"
	sttmock "github.com/MrWong99/lingoxa/pkg/provider/stt/mock"
	"go.opentelemetry.io/otel/metric/noop"
)

// ─── test helpers ─────────────────────────────────────────────────────────────

const testRate = 1000 // 100 samples per 100 ms chunk

// eventLog records every event published on a bus.
type eventLog struct {
	mu     sync.Mutex
	events []bus.Event
}

func (l *eventLog) handle(ev bus.Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, ev)
}

func (l *eventLog) topics() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]string, len(l.events))
	for i, ev := range l.events {
		out[i] = ev.Topic
	}
	return out
}

func (l *eventLog) byTopic(topic string) []bus.Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []bus.Event
	for _, ev := range l.events {
		if ev.Topic == topic {
			out = append(out, ev)
		}
	}
	return out
}

func testMetrics(t *testing.T) *observe.Metrics {
	t.Helper()
	m, err := observe.NewMetrics(noop.NewMeterProvider())
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m
}

func newTestManager(t *testing.T, eng stt.Transcriber, opts ...Option) (*Manager, *bus.Bus, *eventLog) {
	t.Helper()
	b := bus.New()
	log := &eventLog{}
	b.SubscribeAll(log.handle)
	opts = append([]Option{WithMetrics(testMetrics(t))}, opts...)
	return New(b, eng, opts...), b, log
}

var chunkID uint64

func loud() bus.Chunk  { return mkChunk(0.1) }
func quiet() bus.Chunk { return mkChunk(0) }

func mkChunk(level float32) bus.Chunk {
	chunkID++
	s := make([]float32, testRate/10)
	for i := range s {
		s[i] = level
	}
	return bus.Chunk{ID: chunkID, SampleRate: testRate, Samples: s}
}

func feed(m *Manager, chunks ...bus.Chunk) {
	for _, c := range chunks {
		m.process(context.Background(), c)
	}
}

// plainEngine supports transcription only.
type plainEngine struct{ text string }

func (p plainEngine) Transcribe(context.Context, []float32, int) (string, error) { return p.text, nil }

// ─── buffering state machine ──────────────────────────────────────────────────

func TestProcess_SilenceFinalizesWithoutText(t *testing.T) {
	eng := &sttmock.Transcriber{Language: "en"}
	m, _, log := newTestManager(t, eng)

	feed(m, quiet(), quiet(), quiet())
	if len(m.buf) != 300 {
		t.Fatalf("buffer = %d samples, want 300", len(m.buf))
	}
	feed(m, quiet()) // 0.4 s of silence: finalize

	if len(m.buf) != 0 || m.silenceRun != 0 {
		t.Errorf("buffer/silence = %d/%d after finalize, want 0/0", len(m.buf), m.silenceRun)
	}
	if n := len(eng.Calls()); n != 2 {
		t.Errorf("transcribe calls = %d, want 2 (one partial, one finalize)", n)
	}
	if n := len(log.byTopic(bus.TopicFinalSentence)); n != 0 {
		t.Errorf("final sentences = %d, want 0", n)
	}
}

func TestProcess_ForcedFinalizeOnMaxBuffer(t *testing.T) {
	eng := &sttmock.Transcriber{Language: "en", Text: "still talking"}
	m, _, log := newTestManager(t, eng, WithConfig(Config{
		MaxBuffer:          time.Second,
		TranscribeInterval: 100,
	}))

	for range 10 {
		feed(m, loud())
	}
	if n := len(eng.Calls()); n != 0 {
		t.Fatalf("transcribe calls before cap = %d, want 0", n)
	}
	feed(m, loud()) // 1.1 s

	calls := eng.Calls()
	if len(calls) != 1 || len(calls[0].Samples) != 1100 {
		t.Fatalf("calls = %d, want 1 call over 1100 samples", len(calls))
	}
	if calls[0].SampleRate != testRate {
		t.Errorf("sample rate = %d, want %d", calls[0].SampleRate, testRate)
	}
	finals := log.byTopic(bus.TopicFinalSentence)
	if len(finals) != 1 {
		t.Fatalf("final sentences = %d, want 1", len(finals))
	}
	fs := finals[0].Payload.(bus.FinalSentence)
	if fs.Text != "still talking" || fs.DetectedAt.IsZero() {
		t.Errorf("final = %+v", fs)
	}
	if len(m.buf) != 0 {
		t.Errorf("buffer not cleared")
	}
}

func TestProcess_PartialThenFinal(t *testing.T) {
	eng := &sttmock.Transcriber{
		Language: "en",
		Results:  []sttmock.Result{{Text: "hello"}, {Text: "hello world."}},
	}
	m, _, log := newTestManager(t, eng)

	feed(m, loud(), loud(), quiet(), quiet())

	want := []string{
		bus.TopicDecodeStarted, bus.TopicPartial,
		bus.TopicDecodeStarted, bus.TopicFinalSentence,
	}
	got := log.topics()
	if len(got) != len(want) {
		t.Fatalf("topics = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("topic[%d] = %q, want %q", i, got[i], want[i])
		}
	}

	calls := eng.Calls()
	if len(calls) != 2 || len(calls[0].Samples) != 200 || len(calls[1].Samples) != 400 {
		t.Errorf("transcribe sees the whole buffer: got %d calls", len(calls))
	}
	if p := log.byTopic(bus.TopicPartial)[0].Payload.(bus.Partial); p.Text != "hello" {
		t.Errorf("partial = %q", p.Text)
	}
}

// upperCorrector upper-cases every transcription.
type upperCorrector struct{ calls int }

func (u *upperCorrector) Correct(text string) string {
	u.calls++
	return strings.ToUpper(text)
}

func TestProcess_CorrectorRewritesText(t *testing.T) {
	eng := &sttmock.Transcriber{
		Results: []sttmock.Result{{Text: "hello"}, {Text: "hello world."}},
	}
	c := &upperCorrector{}
	m, _, log := newTestManager(t, eng, WithCorrector(c))

	feed(m, loud(), loud(), quiet(), quiet())

	if p := log.byTopic(bus.TopicPartial)[0].Payload.(bus.Partial); p.Text != "HELLO" {
		t.Errorf("partial = %q, want HELLO", p.Text)
	}
	if f := log.byTopic(bus.TopicFinalSentence)[0].Payload.(bus.FinalSentence); f.Text != "HELLO WORLD." {
		t.Errorf("final = %q, want HELLO WORLD.", f.Text)
	}
	if c.calls != 2 {
		t.Errorf("corrector calls = %d, want 2", c.calls)
	}
}

func TestProcess_MinBufferSkipsInference(t *testing.T) {
	eng := &sttmock.Transcriber{Language: "en", Text: "x"}
	m, _, _ := newTestManager(t, eng, WithConfig(Config{
		MinBuffer:          250 * time.Millisecond,
		TranscribeInterval: 1,
	}))

	feed(m, loud(), loud())
	if n := len(eng.Calls()); n != 0 {
		t.Fatalf("calls below min buffer = %d, want 0", n)
	}
	feed(m, loud())
	if n := len(eng.Calls()); n != 1 {
		t.Errorf("calls = %d, want 1", n)
	}
}

func TestProcess_ErrorClearsBufferAndContinues(t *testing.T) {
	eng := &sttmock.Transcriber{
		Language: "en",
		Results:  []sttmock.Result{{Err: errors.New("gpu on fire")}},
		Text:     "recovered",
	}
	m, _, log := newTestManager(t, eng)

	feed(m, loud(), loud())
	if len(m.buf) != 0 || m.sinceTranscribe != 0 {
		t.Fatalf("state not reset after error: buf=%d since=%d", len(m.buf), m.sinceTranscribe)
	}

	feed(m, loud(), loud())
	if n := len(log.byTopic(bus.TopicPartial)); n != 1 {
		t.Errorf("partials after recovery = %d, want 1", n)
	}
}

func TestProcess_AutoDetectWidensInterval(t *testing.T) {
	eng := &sttmock.Transcriber{Text: "x"} // Language "" => auto-detect
	m, _, _ := newTestManager(t, eng)

	feed(m, loud(), loud())
	if n := len(eng.Calls()); n != 0 {
		t.Fatalf("calls after 2 chunks = %d, want 0", n)
	}
	feed(m, loud())
	if n := len(eng.Calls()); n != 1 {
		t.Errorf("calls after 3 chunks = %d, want 1", n)
	}
}

func TestProcess_SilenceResetOnSpeech(t *testing.T) {
	eng := &sttmock.Transcriber{Language: "en"}
	m, _, _ := newTestManager(t, eng, WithConfig(Config{SilenceChunks: 3, TranscribeInterval: 100}))

	feed(m, quiet(), quiet(), loud(), quiet())
	if m.silenceRun != 1 {
		t.Errorf("silenceRun = %d, want 1", m.silenceRun)
	}
}

func TestProcess_NoEngine(t *testing.T) {
	m, _, log := newTestManager(t, nil)
	feed(m, loud(), loud(), quiet(), quiet())
	if n := len(log.topics()); n != 0 {
		t.Errorf("events without engine = %d, want 0", n)
	}
}

func TestProcess_PunctuationSegmentation(t *testing.T) {
	eng := &sttmock.Transcriber{
		Language: "en",
		Results:  []sttmock.Result{{Text: "so anyway"}, {Text: "So anyway, hi."}},
	}
	m, b, log := newTestManager(t, eng, WithConfig(Config{Segmentation: SegmentPunctuation}))
	NewAssembler(b).Attach(b)

	feed(m, loud(), loud(), quiet(), quiet())

	partials := log.byTopic(bus.TopicPartialTranscript)
	if len(partials) != 1 || partials[0].Payload.(bus.Partial).Text != "so anyway" {
		t.Errorf("partial transcripts = %v", partials)
	}
	finals := log.byTopic(bus.TopicFinalSentence)
	if len(finals) != 1 || finals[0].Payload.(bus.FinalSentence).Text != "So anyway, hi." {
		t.Errorf("final sentences = %v", finals)
	}
}

// ─── queue & loop ─────────────────────────────────────────────────────────────

func TestEnqueue_DropsWhenFull(t *testing.T) {
	m, _, _ := newTestManager(t, &sttmock.Transcriber{}, WithConfig(Config{QueueSize: 2}))

	if !m.Enqueue(loud()) || !m.Enqueue(loud()) {
		t.Fatal("Enqueue rejected chunk below capacity")
	}
	if m.Enqueue(loud()) {
		t.Error("Enqueue accepted chunk over capacity")
	}
}

func TestReset_DrainsQueueAndBuffer(t *testing.T) {
	m, _, _ := newTestManager(t, &sttmock.Transcriber{}, WithConfig(Config{QueueSize: 2}))
	feed(m, loud())
	m.Enqueue(loud())
	m.Enqueue(loud())

	if err := m.Reset(context.Background()); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	if n := len(m.queue); n != 0 {
		t.Errorf("queued after Reset = %d, want 0", n)
	}
	if len(m.buf) != 0 {
		t.Errorf("buffer after Reset = %d samples, want 0", len(m.buf))
	}
}

func TestAttach_EnqueuesChunks(t *testing.T) {
	m, b, _ := newTestManager(t, &sttmock.Transcriber{})
	detach := m.Attach(b)
	b.Publish(bus.TopicChunkReady, loud())
	detach()
	b.Publish(bus.TopicChunkReady, loud())

	if n := len(m.queue); n != 1 {
		t.Errorf("queued = %d, want 1", n)
	}
}

func startLoop(t *testing.T, m *Manager) (cancel func() error) {
	t.Helper()
	ctx, stop := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- m.Run(ctx) }()

	deadline := time.Now().Add(2 * time.Second)
	for !m.Running() {
		if time.Now().After(deadline) {
			t.Fatal("consumer loop did not start")
		}
		time.Sleep(time.Millisecond)
	}
	return func() error {
		stop()
		select {
		case err := <-errc:
			return err
		case <-time.After(2 * time.Second):
			t.Fatal("consumer loop did not stop")
			return nil
		}
	}
}

func TestRun_ProcessesQueueAndStops(t *testing.T) {
	eng := &sttmock.Transcriber{Language: "en", Text: "hi."}
	m, _, log := newTestManager(t, eng)
	stop := startLoop(t, m)

	for _, c := range []bus.Chunk{loud(), loud(), quiet(), quiet()} {
		m.Enqueue(c)
	}

	deadline := time.Now().Add(2 * time.Second)
	for len(log.byTopic(bus.TopicFinalSentence)) == 0 {
		if time.Now().After(deadline) {
			t.Fatal("no final sentence from running loop")
		}
		time.Sleep(time.Millisecond)
	}

	if err := m.Run(context.Background()); !errors.Is(err, ErrAlreadyRunning) {
		t.Errorf("second Run = %v, want ErrAlreadyRunning", err)
	}
	if err := stop(); err != nil {
		t.Errorf("Run returned %v", err)
	}
	if m.Running() {
		t.Error("Running after stop")
	}
}

func TestControl_RunsOnLoopAndInline(t *testing.T) {
	eng := &sttmock.Transcriber{Language: "en"}
	m, _, _ := newTestManager(t, eng)

	// Inline while idle.
	if err := m.SetLanguage(context.Background(), "de"); err != nil {
		t.Fatalf("SetLanguage inline: %v", err)
	}

	stop := startLoop(t, m)
	if err := m.SetLanguage(context.Background(), "auto"); err != nil {
		t.Fatalf("SetLanguage on loop: %v", err)
	}
	if err := m.Reset(context.Background()); err != nil {
		t.Fatalf("Reset on loop: %v", err)
	}
	if err := stop(); err != nil {
		t.Fatalf("stop: %v", err)
	}

	if got := eng.SetLanguageCalls; len(got) != 2 || got[0] != "de" || got[1] != "auto" {
		t.Errorf("SetLanguage calls = %v", got)
	}
	if !eng.IsAutoDetect() {
		t.Error("engine not in auto-detect after SetLanguage(auto)")
	}
	if s := m.Settings(); s.Language != "auto" {
		t.Errorf("settings language = %q", s.Language)
	}
}

func TestSetLanguage_Unsupported(t *testing.T) {
	m, _, _ := newTestManager(t, plainEngine{})
	if err := m.SetLanguage(context.Background(), "en"); !errors.Is(err, stt.ErrNotSupported) {
		t.Errorf("err = %v, want ErrNotSupported", err)
	}
}

func TestSetModel_ReloadsInPlace(t *testing.T) {
	eng := &sttmock.Transcriber{Model: "base"}
	m, _, _ := newTestManager(t, eng, WithSettings(EngineSettings{Provider: "mock", Model: "base"}))
	ctx := context.Background()

	if err := m.SetModel(ctx, "base"); err != nil {
		t.Fatalf("SetModel same: %v", err)
	}
	if n := len(eng.ReloadModelCalls); n != 0 {
		t.Errorf("reloads for unchanged model = %d, want 0", n)
	}

	if err := m.SetModel(ctx, "large"); err != nil {
		t.Fatalf("SetModel: %v", err)
	}
	if eng.Model != "large" || m.Settings().Model != "large" {
		t.Errorf("model = %q / settings %q", eng.Model, m.Settings().Model)
	}

	eng.ReloadErr = errors.New("out of memory")
	if err := m.SetModel(ctx, "huge"); err == nil {
		t.Fatal("expected reload error")
	}
	if m.Settings().Model != "large" {
		t.Errorf("settings changed despite failed reload: %q", m.Settings().Model)
	}
}

func TestSetModel_RebuildsWithoutReloader(t *testing.T) {
	var built []EngineSettings
	factory := func(_ context.Context, s EngineSettings) (stt.Transcriber, error) {
		built = append(built, s)
		return plainEngine{text: s.Model}, nil
	}
	m, _, _ := newTestManager(t, plainEngine{}, WithFactory(factory),
		WithSettings(EngineSettings{Provider: "plain", Model: "a"}))

	if err := m.SetModel(context.Background(), "b"); err != nil {
		t.Fatalf("SetModel: %v", err)
	}
	if len(built) != 1 || built[0].Model != "b" || built[0].Provider != "plain" {
		t.Errorf("factory calls = %+v", built)
	}
}

func TestReconfigure(t *testing.T) {
	old := &sttmock.Transcriber{}
	next := &sttmock.Transcriber{}
	fail := true
	factory := func(_ context.Context, s EngineSettings) (stt.Transcriber, error) {
		if fail {
			return nil, errors.New("cuda unavailable")
		}
		return next, nil
	}
	m, _, _ := newTestManager(t, old, WithFactory(factory))
	ctx := context.Background()
	settings := EngineSettings{Provider: "mock", Model: "small", Device: "cuda", ComputeType: "float16", Language: "ja"}

	if err := m.Reconfigure(ctx, settings); err == nil {
		t.Fatal("expected factory error")
	}
	if m.engine != old || old.CloseCount != 0 {
		t.Fatal("previous engine not kept after failed rebuild")
	}

	fail = false
	feed(m, loud())
	if err := m.Reconfigure(ctx, settings); err != nil {
		t.Fatalf("Reconfigure: %v", err)
	}
	if m.engine != next {
		t.Error("engine not swapped")
	}
	if old.CloseCount != 1 {
		t.Errorf("old engine closed %d times, want 1", old.CloseCount)
	}
	if next.Language != "ja" {
		t.Errorf("new engine language = %q, want ja", next.Language)
	}
	if len(m.buf) != 0 {
		t.Error("buffer not reset by rebuild")
	}
	if got := m.Settings(); got != settings {
		t.Errorf("settings = %+v", got)
	}
}

func TestReconfigure_NoFactory(t *testing.T) {
	m, _, _ := newTestManager(t, &sttmock.Transcriber{})
	if err := m.Reconfigure(context.Background(), EngineSettings{Provider: "x"}); !errors.Is(err, ErrNoFactory) {
		t.Errorf("err = %v, want ErrNoFactory", err)
	}
}
