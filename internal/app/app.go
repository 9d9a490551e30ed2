// Package app wires all Lingoxa subsystems into a running application.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Run serves the control API and blocks, and Shutdown tears
// everything down in order. Pipeline runs are started and stopped through
// the [SessionManager], either from the control API or at startup.
//
// For testing, inject doubles via [Providers] and the functional options
// (WithDialogueWriter, WithMetrics, etc.). When an option is not provided,
// New creates real implementations from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/lingoxa/internal/bus"
	"github.com/MrWong99/lingoxa/internal/capture"
	"github.com/MrWong99/lingoxa/internal/chunk"
	"github.com/MrWong99/lingoxa/internal/config"
	"github.com/MrWong99/lingoxa/internal/dialogue"
	"github.com/MrWong99/lingoxa/internal/display"
	"github.com/MrWong99/lingoxa/internal/glossary"
	"github.com/MrWong99/lingoxa/internal/health"
	"github.com/MrWong99/lingoxa/internal/observe"
	sttmgr "github.com/MrWong99/lingoxa/internal/stt"
	"github.com/MrWong99/lingoxa/internal/translation"
	"github.com/MrWong99/lingoxa/pkg/audio"
	"github.com/MrWong99/lingoxa/pkg/provider/stt"
)

// Providers holds the engines built by main.go via the config registry.
type Providers struct {
	// STT is the recognition engine. Nil means chunks are consumed and
	// ignored until an engine is configured through the control API.
	STT stt.Transcriber

	// STTFactory rebuilds the recognition engine on engine and model swaps.
	STTFactory sttmgr.Factory

	// Translator performs translations and context summaries. Required.
	Translator translation.Translator

	// Audio opens the capture source. Required.
	Audio config.AudioFactory
}

// breakerReporter is implemented by the resilience fallbacks.
type breakerReporter interface {
	States() map[string]string
}

// App owns all subsystem lifetimes and orchestrates the Lingoxa pipeline.
type App struct {
	cfg       *config.Config
	providers *Providers
	metrics   *observe.Metrics

	// Subsystems, initialised in New and torn down in Shutdown.
	bus      *bus.Bus
	chunker  *chunk.Processor
	stt      *sttmgr.Manager
	store    *translation.ContextStore
	capture  *capture.Capture
	sessions *SessionManager
	hub      *display.Hub
	bridge   *display.Bridge
	health   *health.Handler
	dialogue dialogue.Writer
	handler  http.Handler

	// mu guards audio.
	mu    sync.Mutex
	audio config.AudioConfig

	// listener, if set, is served instead of listening on ListenAddr.
	listener net.Listener

	detach  []func()
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithMetrics overrides the metrics sink. Default: [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithDialogueWriter injects a shared dialogue sink instead of creating a
// Postgres writer from config.
func WithDialogueWriter(w dialogue.Writer) Option {
	return func(a *App) { a.dialogue = w }
}

// WithContextStore injects the scenario context store.
func WithContextStore(s *translation.ContextStore) Option {
	return func(a *App) { a.store = s }
}

// WithListener makes Run serve on l instead of server.listen_addr.
func WithListener(l net.Listener) Option {
	return func(a *App) { a.listener = l }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together. The providers struct
// comes from main.go (populated via the config registry).
//
// New performs all initialisation synchronously: chunking, the STT manager,
// context cache loading, the dialogue database, display feeds and health
// checks. No audio is captured until a pipeline run is started.
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	if providers == nil || providers.Translator == nil {
		return nil, errors.New("app: a translator is required")
	}
	if providers.Audio == nil {
		return nil, errors.New("app: an audio factory is required")
	}
	a := &App{
		cfg:       cfg,
		providers: providers,
		audio:     cfg.Audio,
	}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}
	a.bus = bus.New()

	// ── 1. Chunking and recognition ─────────────────────────────────────
	if err := a.initSTT(); err != nil {
		return nil, fmt.Errorf("app: init stt: %w", err)
	}

	// ── 2. Scenario context ──────────────────────────────────────────────
	if a.store == nil {
		a.store = &translation.ContextStore{}
		if path := cfg.Translation.ContextCachePath; path != "" {
			a.store.LoadCache(path)
			a.closers = append(a.closers, func() error {
				a.store.SaveCache(path)
				return nil
			})
		}
	}

	// ── 3. Dialogue database ─────────────────────────────────────────────
	if err := a.initDialogue(ctx); err != nil {
		return nil, fmt.Errorf("app: init dialogue: %w", err)
	}

	// ── 4. Capture and sessions ──────────────────────────────────────────
	capt, err := capture.New(a.bus, a.chunker, a.opener(cfg.Audio), capture.Config{
		SampleRate: cfg.Audio.SampleRate,
		RecordDir:  cfg.Audio.RecordDir,
	})
	if err != nil {
		return nil, fmt.Errorf("app: init capture: %w", err)
	}
	a.capture = capt
	a.sessions = NewSessionManager(SessionManagerConfig{
		Bus:            a.bus,
		STT:            a.stt,
		Chunker:        a.chunker,
		Capture:        a.capture,
		Translator:     providers.Translator,
		Context:        a.store,
		Metrics:        a.metrics,
		Dialogue:       a.dialogue,
		DialogueDir:    cfg.Dialogue.Dir,
		DialogueFormat: string(cfg.Dialogue.Format),
		Translation: translation.Config{
			ContextUpdateInterval: cfg.Translation.ContextUpdateInterval,
			UseOriginalForContext: cfg.Translation.UseOriginalTextForContext,
		},
	})

	// ── 5. Display feeds ─────────────────────────────────────────────────
	a.initDisplay()

	// ── 6. Health and routes ─────────────────────────────────────────────
	a.initHealth()
	a.handler = a.routes()

	return a, nil
}

// ─── Init helpers ────────────────────────────────────────────────────────────

// initSTT creates the chunk processor, the STT manager and, in punctuation
// mode, the sentence assembler.
func (a *App) initSTT() error {
	ac := a.cfg.Audio
	proc, err := chunk.New(ac.SampleRate, ac.ChunkMs, ac.OverlapMs, a.bus)
	if err != nil {
		return err
	}
	a.chunker = proc

	sc := a.cfg.STT
	opts := []sttmgr.Option{
		sttmgr.WithConfig(sttConfig(sc)),
		sttmgr.WithFactory(a.providers.STTFactory),
		sttmgr.WithSettings(engineSettings(sc)),
		sttmgr.WithMetrics(a.metrics),
	}
	if g := glossary.New(sc.Glossary.Terms,
		glossary.WithPhoneticThreshold(sc.Glossary.PhoneticThreshold),
		glossary.WithFuzzyThreshold(sc.Glossary.FuzzyThreshold),
	); g.Len() > 0 {
		opts = append(opts, sttmgr.WithCorrector(g))
		slog.Info("stt: glossary correction enabled", "terms", g.Len())
	}
	a.stt = sttmgr.New(a.bus, a.providers.STT, opts...)
	a.detach = append(a.detach, a.stt.Attach(a.bus))
	if sc.Segmentation == config.SegmentPunctuation {
		a.detach = append(a.detach, sttmgr.NewAssembler(a.bus).Attach(a.bus))
	}
	a.closers = append(a.closers, a.stt.Close)
	return nil
}

// initDialogue connects the Postgres dialogue table unless a writer was
// injected.
func (a *App) initDialogue(ctx context.Context) error {
	if a.dialogue != nil {
		return nil
	}
	dsn := a.cfg.Dialogue.PostgresDSN
	if dsn == "" {
		return nil
	}
	w, err := dialogue.NewPostgresWriter(ctx, dsn)
	if err != nil {
		return err
	}
	a.dialogue = w
	a.closers = append(a.closers, w.Close)
	slog.Info("dialogue records mirrored to postgres")
	return nil
}

// initDisplay creates the WebSocket hub and, when a broker is configured,
// the MQTT bridge.
func (a *App) initDisplay() {
	dc := a.cfg.Display
	hubOpts := []display.HubOption{
		display.WithSnapshot(func() any { return a.Status() }),
		display.WithHubMetrics(a.metrics),
	}
	if len(dc.Topics) > 0 {
		hubOpts = append(hubOpts, display.WithTopics(dc.Topics...))
	}
	if dc.ClientBuffer > 0 {
		hubOpts = append(hubOpts, display.WithClientBuffer(dc.ClientBuffer))
	}
	if len(dc.OriginPatterns) > 0 {
		hubOpts = append(hubOpts, display.WithOriginPatterns(dc.OriginPatterns...))
	}
	a.hub = display.NewHub(hubOpts...)
	a.detach = append(a.detach, a.hub.Attach(a.bus))

	if mc := dc.MQTT; mc.BrokerURL != "" {
		a.bridge = display.NewBridge(display.MQTTConfig{
			BrokerURL:   mc.BrokerURL,
			ClientID:    mc.ClientID,
			Username:    mc.Username,
			Password:    mc.Password,
			TopicPrefix: mc.TopicPrefix,
			QoS:         mc.QoS,
			Topics:      dc.Topics,
			QueueSize:   mc.QueueSize,
		})
	}
}

// initHealth registers the readiness checks.
func (a *App) initHealth() {
	a.health = health.New(
		health.Flag("translator", func() bool { return a.providers.Translator != nil }, "no translator configured"),
	)
	if a.cfg.Server.AutoStart {
		a.health.Add(health.Flag("pipeline", a.sessions.IsActive, "pipeline not running"))
		a.health.Add(health.Flag("stt_loop", a.stt.Running, "stt consumer loop not running"))
	}
	if dir := a.cfg.Dialogue.Dir; dir != "" {
		a.health.Add(health.WritableDir("dialogue_dir", dir))
	}
	if dir := a.cfg.Audio.RecordDir; dir != "" {
		a.health.Add(health.WritableDir("record_dir", dir))
	}
}

// opener returns a capture opener for ac.
func (a *App) opener(ac config.AudioConfig) capture.Opener {
	return func(ctx context.Context) (audio.Source, error) {
		return a.providers.Audio(ctx, ac)
	}
}

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run serves the control API and the event feeds and blocks until ctx is
// cancelled. With server.auto_start a pipeline run is started first.
// Run returns nil after a clean cancellation.
func (a *App) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	if a.bridge != nil {
		if err := a.bridge.Start(gctx); err != nil {
			return fmt.Errorf("app: start mqtt bridge: %w", err)
		}
		a.detach = append(a.detach, a.bridge.Attach(a.bus))
	}

	srv := &http.Server{
		Addr:              a.cfg.Server.ListenAddr,
		Handler:           a.handler,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return gctx },
	}
	g.Go(func() error {
		err := a.serve(srv)
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	})
	g.Go(func() error {
		<-gctx.Done()
		a.hub.Close()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if a.cfg.Server.AutoStart {
		if err := a.sessions.Start(gctx); err != nil {
			slog.Error("app: auto start failed", "err", err)
		}
	}

	slog.Info("app running", "listen_addr", a.cfg.Server.ListenAddr, "auto_start", a.cfg.Server.AutoStart)
	return g.Wait()
}

func (a *App) serve(srv *http.Server) error {
	tls := a.cfg.Server.TLS
	switch {
	case a.listener != nil && tls != nil:
		return srv.ServeTLS(a.listener, tls.CertFile, tls.KeyFile)
	case a.listener != nil:
		return srv.Serve(a.listener)
	case tls != nil:
		return srv.ListenAndServeTLS(tls.CertFile, tls.KeyFile)
	default:
		return srv.ListenAndServe()
	}
}

// Handler returns the HTTP handler serving the control API, the event feed,
// health and metrics.
func (a *App) Handler() http.Handler { return a.handler }

// Bus returns the event bus.
func (a *App) Bus() *bus.Bus { return a.bus }

// Sessions returns the pipeline run manager.
func (a *App) Sessions() *SessionManager { return a.sessions }

// ─── Control ─────────────────────────────────────────────────────────────────

// StartPipeline starts a pipeline run.
func (a *App) StartPipeline(ctx context.Context) error { return a.sessions.Start(ctx) }

// StopPipeline stops the active pipeline run.
func (a *App) StopPipeline(ctx context.Context) error { return a.sessions.Stop(ctx) }

// ResetContext clears the scenario context.
func (a *App) ResetContext() { a.sessions.ResetContext() }

// SetSTTLanguage switches the recognition language.
func (a *App) SetSTTLanguage(ctx context.Context, code string) error {
	return a.stt.SetLanguage(ctx, code)
}

// SetSTTModel switches the recognition model.
func (a *App) SetSTTModel(ctx context.Context, name string) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("%w: model must not be empty", ErrInvalidArgument)
	}
	return a.stt.SetModel(ctx, name)
}

// SetSTTEngine rebuilds the recognition engine.
func (a *App) SetSTTEngine(ctx context.Context, s sttmgr.EngineSettings) error {
	if s.Provider == "" {
		return fmt.Errorf("%w: engine provider must not be empty", ErrInvalidArgument)
	}
	return a.stt.Reconfigure(ctx, s)
}

// SetTargetLanguage changes the translation output language.
func (a *App) SetTargetLanguage(lang string) error {
	lang = strings.TrimSpace(lang)
	if lang == "" {
		return fmt.Errorf("%w: target language must not be empty", ErrInvalidArgument)
	}
	a.providers.Translator.SetTargetLanguage(lang)
	slog.Info("translation: target language changed", "language", lang)
	return nil
}

// SetAudioSource switches capture to another source. A running stream is
// replaced immediately.
func (a *App) SetAudioSource(source config.AudioSource, input string) error {
	if !source.IsValid() {
		return fmt.Errorf("%w: unknown audio source %q", ErrInvalidArgument, source)
	}
	a.mu.Lock()
	ac := a.audio
	ac.Source = source
	if input != "" || source != a.audio.Source {
		ac.Input = input
	}
	a.audio = ac
	a.mu.Unlock()

	return a.sessions.SwapSource(a.opener(ac))
}

// ApplyConfig applies the hot-reloadable changes between old and new. The
// log level is handled by the caller, which owns the handler.
func (a *App) ApplyConfig(ctx context.Context, old, new *config.Config) {
	d := config.Diff(old, new)
	if !d.Changed() {
		return
	}

	switch {
	case d.STTEngineChanged:
		if err := a.stt.Reconfigure(ctx, engineSettings(new.STT)); err != nil {
			slog.Error("config reload: stt engine rebuild failed", "err", err)
		}
	default:
		if d.STTModelChanged {
			if err := a.stt.SetModel(ctx, d.NewSTTModel); err != nil {
				slog.Error("config reload: stt model change failed", "err", err)
			}
		}
		if d.STTLanguageChanged {
			if err := a.stt.SetLanguage(ctx, d.NewSTTLanguage); err != nil {
				slog.Error("config reload: stt language change failed", "err", err)
			}
		}
	}
	if d.TargetLanguageChanged {
		if err := a.SetTargetLanguage(d.NewTargetLanguage); err != nil {
			slog.Error("config reload: target language change failed", "err", err)
		}
	}
	if d.ContextIntervalChanged {
		a.sessions.SetContextUpdateInterval(d.NewContextInterval)
	}
	if d.UseOriginalChanged {
		a.sessions.SetUseOriginalForContext(d.NewUseOriginal)
	}
	if len(d.RestartRequired) > 0 {
		slog.Warn("config reload: some changes require a restart", "sections", d.RestartRequired)
	}
}

// ─── Status ──────────────────────────────────────────────────────────────────

// STTStatus describes the recognition engine.
type STTStatus struct {
	Provider     string `json:"provider"`
	Model        string `json:"model"`
	Language     string `json:"language"`
	Segmentation string `json:"segmentation"`
	LoopRunning  bool   `json:"loop_running"`
}

// Status is a point-in-time snapshot of the application.
type Status struct {
	Running               bool               `json:"running"`
	Session               *SessionInfo       `json:"session,omitempty"`
	Capturing             bool               `json:"capturing"`
	Source                config.AudioSource `json:"source"`
	Input                 string             `json:"input,omitempty"`
	STT                   STTStatus          `json:"stt"`
	TargetLanguage        string             `json:"target_language"`
	ContextUpdateInterval int                `json:"context_update_interval"`
	UseOriginalForContext bool               `json:"use_original_for_context"`
	Context               string             `json:"context"`
	PendingTranslations   int                `json:"pending_translations"`
	PendingContext        int                `json:"pending_context"`
	DisplayClients        int                `json:"display_clients"`
	Breakers              map[string]string  `json:"breakers,omitempty"`
}

// Status returns the current application status.
func (a *App) Status() Status {
	a.mu.Lock()
	ac := a.audio
	a.mu.Unlock()

	settings := a.stt.Settings()
	tr := a.sessions.TranslationSettings()
	st := Status{
		Running:   a.sessions.IsActive(),
		Capturing: a.capture.Running(),
		Source:    ac.Source,
		Input:     ac.Input,
		STT: STTStatus{
			Provider:     settings.Provider,
			Model:        settings.Model,
			Language:     settings.Language,
			Segmentation: string(a.cfg.STT.Segmentation),
			LoopRunning:  a.stt.Running(),
		},
		TargetLanguage:        a.providers.Translator.TargetLanguage(),
		ContextUpdateInterval: max(tr.ContextUpdateInterval, 1),
		UseOriginalForContext: tr.UseOriginalForContext,
		Context:               a.store.Get(),
		PendingTranslations:   a.sessions.Pending(),
		PendingContext:        a.sessions.PendingContext(),
		DisplayClients:        a.hub.Clients(),
	}
	if st.Running {
		info := a.sessions.Info()
		st.Session = &info
	}
	for _, p := range []any{a.providers.STT, a.providers.Translator} {
		if br, ok := p.(breakerReporter); ok {
			if st.Breakers == nil {
				st.Breakers = make(map[string]string)
			}
			for name, state := range br.States() {
				st.Breakers[name] = state
			}
		}
	}
	return st
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown stops the active run and tears down all subsystems in order. It
// respects the context deadline: if ctx expires before all closers finish,
// remaining closers are skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))

		if err := a.sessions.Stop(ctx); err != nil && !errors.Is(err, ErrNoSession) {
			slog.Warn("pipeline stop error", "err", err)
		}
		for _, d := range a.detach {
			d()
		}
		a.hub.Close()

		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}

		slog.Info("shutdown complete")
	})
	return shutdownErr
}

// ─── Helpers ─────────────────────────────────────────────────────────────────

// sttConfig converts the STT section to the manager's buffering parameters.
func sttConfig(sc config.STTConfig) sttmgr.Config {
	return sttmgr.Config{
		QueueSize:          sc.QueueSize,
		VADThreshold:       sc.VAD.Threshold,
		SilenceChunks:      sc.VAD.SilenceChunks,
		MinBuffer:          sc.VAD.MinBuffer,
		MinFinalize:        sc.VAD.MinFinalize,
		MaxBuffer:          sc.VAD.MaxBuffer,
		TranscribeInterval: sc.VAD.TranscribeInterval,
		Segmentation:       string(sc.Segmentation),
	}
}

// engineSettings converts the STT section to engine settings.
func engineSettings(sc config.STTConfig) sttmgr.EngineSettings {
	return sttmgr.EngineSettings{
		Provider:    sc.Provider.Name,
		Model:       sc.Provider.Model,
		Device:      sc.Device,
		ComputeType: sc.ComputeType,
		Language:    sc.Language,
	}
}
