package config

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/MrWong99/lingoxa/pkg/audio"
	"github.com/MrWong99/lingoxa/pkg/provider/llm"
	"github.com/MrWong99/lingoxa/pkg/provider/stt"
)

// ErrProviderNotRegistered is returned when a config names a provider no
// factory was registered for.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

type (
	// LLMFactory builds a chat model from its config entry.
	LLMFactory func(ProviderEntry) (llm.Provider, error)

	// STTFactory builds a recognizer from its config entry.
	STTFactory func(ProviderEntry) (stt.Transcriber, error)

	// AudioFactory opens an audio source from the audio configuration.
	AudioFactory func(ctx context.Context, cfg AudioConfig) (audio.Source, error)
)

// factories is one kind of provider keyed by name.
type factories[K ~string, F any] struct {
	kind string
	m    map[K]F
}

func (f *factories[K, F]) lookup(name K) (F, error) {
	fn, ok := f.m[name]
	if !ok {
		return fn, fmt.Errorf("%w: %s/%q", ErrProviderNotRegistered, f.kind, name)
	}
	return fn, nil
}

func (f *factories[K, F]) names() []string {
	out := make([]string, 0, len(f.m))
	for k := range f.m {
		out = append(out, string(k))
	}
	slices.Sort(out)
	return out
}

// Registry maps the provider names used in config files to constructors.
// Registering a name again replaces the earlier factory. It is safe for
// concurrent use.
type Registry struct {
	mu    sync.RWMutex
	llm   factories[string, LLMFactory]
	stt   factories[string, STTFactory]
	audio factories[AudioSource, AudioFactory]
}

// NewRegistry returns an empty [Registry].
func NewRegistry() *Registry {
	return &Registry{
		llm:   factories[string, LLMFactory]{kind: "llm", m: map[string]LLMFactory{}},
		stt:   factories[string, STTFactory]{kind: "stt", m: map[string]STTFactory{}},
		audio: factories[AudioSource, AudioFactory]{kind: "audio", m: map[AudioSource]AudioFactory{}},
	}
}

// RegisterLLM registers a chat model factory under name.
func (r *Registry) RegisterLLM(name string, f LLMFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.llm.m[name] = f
}

// RegisterSTT registers a recognizer factory under name.
func (r *Registry) RegisterSTT(name string, f STTFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stt.m[name] = f
}

// RegisterAudio registers the factory for an audio source.
func (r *Registry) RegisterAudio(source AudioSource, f AudioFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.audio.m[source] = f
}

// CreateLLM builds the chat model named by entry.Name.
func (r *Registry) CreateLLM(entry ProviderEntry) (llm.Provider, error) {
	r.mu.RLock()
	f, err := r.llm.lookup(entry.Name)
	r.mu.RUnlock()
	if err != nil {
		return nil, err
	}
	return f(entry)
}

// CreateSTT builds the recognizer named by entry.Name.
func (r *Registry) CreateSTT(entry ProviderEntry) (stt.Transcriber, error) {
	r.mu.RLock()
	f, err := r.stt.lookup(entry.Name)
	r.mu.RUnlock()
	if err != nil {
		return nil, err
	}
	return f(entry)
}

// OpenAudio opens the source selected by cfg.Source.
func (r *Registry) OpenAudio(ctx context.Context, cfg AudioConfig) (audio.Source, error) {
	r.mu.RLock()
	f, err := r.audio.lookup(cfg.Source)
	r.mu.RUnlock()
	if err != nil {
		return nil, err
	}
	return f(ctx, cfg)
}

// STTNames returns the registered recognizer names, sorted.
func (r *Registry) STTNames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.stt.names()
}

// Names returns the registered names of every provider kind, sorted.
func (r *Registry) Names() map[string][]string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return map[string][]string{
		r.llm.kind:   r.llm.names(),
		r.stt.kind:   r.stt.names(),
		r.audio.kind: r.audio.names(),
	}
}

// Check reports every provider cfg names that has no registered factory, so
// a typo fails at startup instead of when the pipeline first needs the
// provider. An empty summary_llm name is allowed.
func (r *Registry) Check(cfg *Config) error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var errs []error
	add := func(err error, field string) {
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", field, err))
		}
	}
	_, err := r.stt.lookup(cfg.STT.Provider.Name)
	add(err, "stt.provider")
	for i, fb := range cfg.STT.Fallbacks {
		_, err := r.stt.lookup(fb.Name)
		add(err, fmt.Sprintf("stt.fallbacks[%d]", i))
	}
	_, err = r.llm.lookup(cfg.Translation.LLM.Name)
	add(err, "translation.llm")
	if name := cfg.Translation.SummaryLLM.Name; name != "" {
		_, err := r.llm.lookup(name)
		add(err, "translation.summary_llm")
	}
	for i, fb := range cfg.Translation.Fallbacks {
		_, err := r.llm.lookup(fb.Name)
		add(err, fmt.Sprintf("translation.fallbacks[%d]", i))
	}
	_, err = r.audio.lookup(cfg.Audio.Source)
	add(err, "audio.source")
	return errors.Join(errs...)
}
