package app_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"go.opentelemetry.io/otel/metric/noop"

	"github.com/MrWong99/lingoxa/internal/app"
	"github.com/MrWong99/lingoxa/internal/bus"
	"github.com/MrWong99/lingoxa/internal/config"
	"github.com/MrWong99/lingoxa/internal/observe"
	"github.com/MrWong99/lingoxa/internal/translation"
	"github.com/MrWong99/lingoxa/pkg/audio"
	audiomock "github.com/MrWong99/lingoxa/pkg/audio/mock"
	sttmock "github.com/MrWong99/lingoxa/pkg/provider/stt/mock"
)

const testRate = 16000

// fakeTranslator prefixes every sentence with "T:" and appends summaries.
type fakeTranslator struct {
	mu     sync.Mutex
	target string
}

var _ translation.Translator = (*fakeTranslator)(nil)

func (f *fakeTranslator) Translate(_ context.Context, sentence, _ string) (translation.Result, error) {
	return translation.Result{Text: "T:" + sentence, TokensIn: 3, TokensOut: 2}, nil
}

func (f *fakeTranslator) Summarize(_ context.Context, old, newText string, _ bool) (string, error) {
	return old + newText, nil
}

func (f *fakeTranslator) SetTargetLanguage(lang string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.target = lang
}

func (f *fakeTranslator) TargetLanguage() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.target
}

// sourceLog hands out a fresh mock source per open and records the configs.
type sourceLog struct {
	mu      sync.Mutex
	frames  []audio.AudioFrame
	opened  []config.AudioConfig
	sources []*audiomock.Source
}

func (l *sourceLog) open(_ context.Context, ac config.AudioConfig) (audio.Source, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	src := &audiomock.Source{
		InfoResult: audio.StreamInfo{DeviceName: "mock:" + ac.Input, SampleRate: testRate, Channels: 1},
		Frames:     l.frames,
		Block:      true,
	}
	l.opened = append(l.opened, ac)
	l.sources = append(l.sources, src)
	return src, nil
}

func (l *sourceLog) configs() []config.AudioConfig {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]config.AudioConfig(nil), l.opened...)
}

// speechFrames returns loud then silent mono frames of 100 ms each.
func speechFrames(loud, quiet time.Duration) []audio.AudioFrame {
	var frames []audio.AudioFrame
	add := func(d time.Duration, level float32) {
		for range int(d / (100 * time.Millisecond)) {
			s := make([]float32, testRate/10)
			for i := range s {
				s[i] = level
			}
			frames = append(frames, audio.AudioFrame{Data: audio.Float32ToPCM16(s), SampleRate: testRate, Channels: 1})
		}
	}
	add(loud, 0.1)
	add(quiet, 0)
	return frames
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := &config.Config{}
	cfg.Audio.Input = "a.wav"
	cfg.Dialogue.Dir = t.TempDir()
	config.ApplyDefaults(cfg)
	return cfg
}

func testMetrics(t *testing.T) *observe.Metrics {
	t.Helper()
	m, err := observe.NewMetrics(noop.NewMeterProvider())
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m
}

type fixture struct {
	app        *app.App
	cfg        *config.Config
	engine     *sttmock.Transcriber
	translator *fakeTranslator
	sources    *sourceLog
}

func newFixture(t *testing.T, mutate func(*config.Config, *app.Providers)) *fixture {
	t.Helper()
	f := &fixture{
		cfg:        testConfig(t),
		engine:     &sttmock.Transcriber{Text: "Hello there."},
		translator: &fakeTranslator{target: "Traditional Chinese"},
		sources:    &sourceLog{},
	}
	providers := &app.Providers{
		STT:        f.engine,
		Translator: f.translator,
		Audio:      f.sources.open,
	}
	if mutate != nil {
		mutate(f.cfg, providers)
	}
	a, err := app.New(context.Background(), f.cfg, providers, app.WithMetrics(testMetrics(t)))
	if err != nil {
		t.Fatalf("app.New: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = a.Shutdown(ctx)
	})
	f.app = a
	return f
}

// collect subscribes to topic and returns a channel of its payloads.
func collect(t *testing.T, b *bus.Bus, topic string) <-chan any {
	t.Helper()
	ch := make(chan any, 16)
	unsub := b.Subscribe(topic, func(ev bus.Event) {
		select {
		case ch <- ev.Payload:
		default:
		}
	})
	t.Cleanup(unsub)
	return ch
}

func waitFor(t *testing.T, ch <-chan any) any {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for event")
		return nil
	}
}
