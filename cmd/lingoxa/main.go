// Command lingoxa is the main entry point for the lingoxa live translation
// server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/MrWong99/lingoxa/internal/app"
	"github.com/MrWong99/lingoxa/internal/config"
	"github.com/MrWong99/lingoxa/internal/observe"
	"github.com/MrWong99/lingoxa/internal/resilience"
	sttmgr "github.com/MrWong99/lingoxa/internal/stt"
	"github.com/MrWong99/lingoxa/internal/translation"
	"github.com/MrWong99/lingoxa/pkg/audio"
	"github.com/MrWong99/lingoxa/pkg/audio/discord"
	"github.com/MrWong99/lingoxa/pkg/audio/wavfile"
	"github.com/MrWong99/lingoxa/pkg/provider/llm"
	"github.com/MrWong99/lingoxa/pkg/provider/llm/anyllm"
	oallm "github.com/MrWong99/lingoxa/pkg/provider/llm/openai"
	"github.com/MrWong99/lingoxa/pkg/provider/stt"
	"github.com/MrWong99/lingoxa/pkg/provider/stt/deepgram"
	oastt "github.com/MrWong99/lingoxa/pkg/provider/stt/openai"
	"github.com/MrWong99/lingoxa/pkg/provider/stt/whisper"
)

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	source := flag.String("source", "", "override audio.source (wav or discord)")
	input := flag.String("input", "", "override audio.input (WAV file path)")
	flag.Parse()

	overrides := func(cfg *config.Config) {
		if *source != "" {
			cfg.Audio.Source = config.AudioSource(*source)
		}
		if *input != "" {
			cfg.Audio.Input = *input
		}
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	var level slog.LevelVar
	slog.SetDefault(newLogger(&level))

	// ── Load configuration (and watch for changes) ────────────────────────────
	var current atomic.Pointer[app.App]
	watcher, err := config.NewWatcher(*configPath, func(old, new *config.Config) {
		overrides(old)
		overrides(new)
		level.Set(slogLevel(new.Server.LogLevel))
		if a := current.Load(); a != nil {
			a.ApplyConfig(context.Background(), old, new)
		}
	})
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "lingoxa: config file %q not found\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "lingoxa: %v\n", err)
		}
		return 1
	}
	defer watcher.Stop()

	cfg := watcher.Current()
	overrides(cfg)
	if !cfg.Audio.Source.IsValid() {
		fmt.Fprintf(os.Stderr, "lingoxa: unknown audio source %q\n", cfg.Audio.Source)
		return 1
	}
	level.Set(slogLevel(cfg.Server.LogLevel))

	slog.Info("lingoxa starting",
		"version", version,
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	go reloadOnHangup(ctx, watcher)

	// ── Telemetry ─────────────────────────────────────────────────────────────
	shutdownTelemetry, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceVersion: version,
		InstanceID:     cfg.Server.InstanceID,
		SampleRatio:    cfg.Server.TraceSampleRatio,
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(sctx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()
	metrics := observe.DefaultMetrics()

	// ── Provider registry ─────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinProviders(reg)
	if err := reg.Check(cfg); err != nil {
		slog.Error("config names unregistered providers", "err", err)
		return 1
	}

	providers, err := buildProviders(cfg, reg, metrics)
	if err != nil {
		slog.Error("failed to build providers", "err", err)
		return 1
	}

	// ── Startup summary ───────────────────────────────────────────────────────
	printStartupSummary(cfg)

	application, err := app.New(ctx, cfg, providers, app.WithMetrics(metrics))
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}
	current.Store(application)

	slog.Info("server ready, press Ctrl+C to shut down")

	runErr := application.Run(ctx)
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		slog.Error("run error", "err", runErr)
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	slog.Info("shutdown signal received, stopping…")
	current.Store(nil)
	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// reloadOnHangup re-reads the config file whenever SIGHUP arrives.
func reloadOnHangup(ctx context.Context, w *config.Watcher) {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)
	for {
		select {
		case <-ctx.Done():
			return
		case <-hup:
			changed, err := w.Reload()
			if err != nil {
				slog.Warn("config reload on SIGHUP rejected", "err", err)
				continue
			}
			slog.Info("config reload on SIGHUP", "changed", changed)
		}
	}
}

// ── Provider wiring ───────────────────────────────────────────────────────────

// registerBuiltinProviders wires all built-in provider factories into reg.
func registerBuiltinProviders(reg *config.Registry) {
	// ── LLM ───────────────────────────────────────────────────────────────────
	// Everything but openai goes through any-llm-go. Self-hosted backends
	// take their address from base_url and never an API key.
	for _, name := range anyllm.Backends() {
		if name == "openai" {
			continue
		}
		reg.RegisterLLM(name, func(entry config.ProviderEntry) (llm.Provider, error) {
			var opts []anyllmlib.Option
			if key := entry.ResolveAPIKey(); key != "" && !anyllm.IsLocal(name) {
				opts = append(opts, anyllmlib.WithAPIKey(key))
			}
			if entry.BaseURL != "" {
				opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
			}
			return anyllm.New(name, entry.Model, opts...)
		})
	}

	// openai talks to the official SDK directly so any compatible endpoint
	// can be targeted with base_url.
	reg.RegisterLLM("openai", func(entry config.ProviderEntry) (llm.Provider, error) {
		var opts []oallm.Option
		if entry.BaseURL != "" {
			opts = append(opts, oallm.WithBaseURL(entry.BaseURL))
		}
		if org := optString(entry.Options, "organization"); org != "" {
			opts = append(opts, oallm.WithOrganization(org))
		}
		if seed, ok := entry.Options["seed"].(int); ok {
			opts = append(opts, oallm.WithSeed(int64(seed)))
		}
		return oallm.New(entry.ResolveAPIKey(), entry.Model, opts...)
	})

	// ── STT ───────────────────────────────────────────────────────────────────

	reg.RegisterSTT("deepgram", func(entry config.ProviderEntry) (stt.Transcriber, error) {
		var opts []deepgram.Option
		if entry.Model != "" {
			opts = append(opts, deepgram.WithModel(entry.Model))
		}
		if lang := optString(entry.Options, "language"); lang != "" {
			opts = append(opts, deepgram.WithLanguage(lang))
		}
		if entry.BaseURL != "" {
			opts = append(opts, deepgram.WithEndpoint(entry.BaseURL))
		}
		return deepgram.New(entry.ResolveAPIKey(), opts...)
	})

	reg.RegisterSTT("openai", func(entry config.ProviderEntry) (stt.Transcriber, error) {
		var opts []oastt.Option
		if entry.Model != "" {
			opts = append(opts, oastt.WithModel(entry.Model))
		}
		if entry.BaseURL != "" {
			opts = append(opts, oastt.WithBaseURL(entry.BaseURL))
		}
		if lang := optString(entry.Options, "language"); lang != "" {
			opts = append(opts, oastt.WithLanguage(lang))
		}
		if prompt := optString(entry.Options, "prompt"); prompt != "" {
			opts = append(opts, oastt.WithPrompt(prompt))
		}
		return oastt.New(entry.ResolveAPIKey(), opts...)
	})

	reg.RegisterSTT("whisper", func(entry config.ProviderEntry) (stt.Transcriber, error) {
		var opts []whisper.Option
		if entry.Model != "" {
			opts = append(opts, whisper.WithModel(entry.Model))
		}
		if lang := optString(entry.Options, "language"); lang != "" {
			opts = append(opts, whisper.WithLanguage(lang))
		}
		return whisper.New(entry.BaseURL, opts...)
	})

	reg.RegisterSTT("whisper-native", func(entry config.ProviderEntry) (stt.Transcriber, error) {
		modelPath := entry.Model
		if modelPath == "" {
			modelPath = optString(entry.Options, "model_path")
		}
		var opts []whisper.NativeOption
		if lang := optString(entry.Options, "language"); lang != "" {
			opts = append(opts, whisper.WithNativeLanguage(lang))
		}
		return whisper.NewNative(modelPath, opts...)
	})

	// ── Audio ─────────────────────────────────────────────────────────────────

	reg.RegisterAudio(config.SourceWAV, func(_ context.Context, ac config.AudioConfig) (audio.Source, error) {
		return wavfile.Open(ac.Input, wavfile.WithRealtime(ac.Realtime))
	})

	reg.RegisterAudio(config.SourceDiscord, func(ctx context.Context, ac config.AudioConfig) (audio.Source, error) {
		d := ac.Discord
		return discord.Open(ctx, d.ResolveToken(), d.GuildID, d.ChannelID)
	})

	for kind, names := range reg.Names() {
		slog.Debug("registered providers", "kind", kind, "names", names)
	}
}

// buildProviders instantiates the recognizer and translator named in cfg,
// each wrapped with its configured fallbacks.
func buildProviders(cfg *config.Config, reg *config.Registry, metrics *observe.Metrics) (*app.Providers, error) {
	ps := &app.Providers{Audio: reg.OpenAudio}

	// ── STT ───────────────────────────────────────────────────────────────────
	sc := cfg.STT
	primary, err := reg.CreateSTT(sttEntry(sc.Provider, sc.Language))
	if err != nil {
		return nil, fmt.Errorf("create stt provider %q: %w", sc.Provider.Name, err)
	}
	slog.Info("provider created", "kind", "stt", "name", sc.Provider.Name)
	if len(sc.Fallbacks) > 0 {
		group := resilience.NewSTTFallback(primary, sc.Provider.Name, resilience.FallbackConfig{Metrics: metrics})
		for _, fb := range sc.Fallbacks {
			t, err := reg.CreateSTT(sttEntry(fb, sc.Language))
			if err != nil {
				return nil, fmt.Errorf("create stt fallback %q: %w", fb.Name, err)
			}
			group.AddFallback(fb.Name, t)
			slog.Info("provider created", "kind", "stt", "name", fb.Name, "role", "fallback")
		}
		ps.STT = group
	} else {
		ps.STT = primary
	}

	// Engine swaps from the control API rebuild a single engine; credentials
	// are taken from the configured entry when the provider name matches.
	ps.STTFactory = func(_ context.Context, s sttmgr.EngineSettings) (stt.Transcriber, error) {
		entry := config.ProviderEntry{Name: s.Provider}
		if s.Provider == sc.Provider.Name {
			entry = sc.Provider
		}
		entry.Model = s.Model
		entry.Options = mergeOptions(entry.Options, map[string]any{
			"device":       s.Device,
			"compute_type": s.ComputeType,
		})
		return reg.CreateSTT(sttEntry(entry, s.Language))
	}

	// ── Translation ───────────────────────────────────────────────────────────
	tc := cfg.Translation
	translate, err := buildLLM(reg, tc.LLM, tc.Fallbacks, metrics)
	if err != nil {
		return nil, err
	}
	opts := []translation.LLMOption{
		translation.WithTargetLanguage(tc.TargetLanguage),
		translation.WithCallTimeout(tc.Timeout),
		translation.WithLLMMetrics(metrics),
	}
	if tc.SummaryLLM.Name != "" {
		summary, err := buildLLM(reg, tc.SummaryLLM, tc.Fallbacks, metrics)
		if err != nil {
			return nil, err
		}
		opts = append(opts, translation.WithSummaryProvider(summary))
	}
	tr, err := translation.NewLLMTranslator(translate, opts...)
	if err != nil {
		return nil, fmt.Errorf("create translator: %w", err)
	}
	ps.Translator = tr

	return ps, nil
}

// buildLLM creates entry's provider and wraps it with fallbacks if any.
func buildLLM(reg *config.Registry, entry config.ProviderEntry, fallbacks []config.ProviderEntry, metrics *observe.Metrics) (llm.Provider, error) {
	p, err := reg.CreateLLM(entry)
	if err != nil {
		return nil, fmt.Errorf("create llm provider %q: %w", entry.Name, err)
	}
	slog.Info("provider created", "kind", "llm", "name", entry.Name, "model", entry.Model)
	if len(fallbacks) == 0 {
		return p, nil
	}
	group := resilience.NewLLMFallback(p, entry.Name, resilience.FallbackConfig{Metrics: metrics})
	for _, fb := range fallbacks {
		fp, err := reg.CreateLLM(fb)
		if err != nil {
			return nil, fmt.Errorf("create llm fallback %q: %w", fb.Name, err)
		}
		group.AddFallback(fb.Name, fp)
		slog.Info("provider created", "kind", "llm", "name", fb.Name, "model", fb.Model, "role", "fallback")
	}
	return group, nil
}

// sttEntry copies entry with the recognition language set in its options.
func sttEntry(entry config.ProviderEntry, language string) config.ProviderEntry {
	if language == "" {
		return entry
	}
	entry.Options = mergeOptions(entry.Options, map[string]any{"language": language})
	return entry
}

// mergeOptions returns a copy of base with the non-empty string values of
// extra added.
func mergeOptions(base map[string]any, extra map[string]any) map[string]any {
	out := make(map[string]any, len(base)+len(extra))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range extra {
		if s, ok := v.(string); ok && s == "" {
			continue
		}
		out[k] = v
	}
	return out
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║         lingoxa · startup summary     ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printProvider("STT", cfg.STT.Provider.Name, cfg.STT.Provider.Model)
	printProvider("Translate", cfg.Translation.LLM.Name, cfg.Translation.LLM.Model)
	printProvider("Summary", cfg.Translation.SummaryLLM.Name, cfg.Translation.SummaryLLM.Model)
	printProvider("Audio", string(cfg.Audio.Source), cfg.Audio.Input)
	fmt.Printf("║  Target lang     : %-19s ║\n", truncate(cfg.Translation.TargetLanguage))
	fmt.Printf("║  Segmentation    : %-19s ║\n", cfg.STT.Segmentation)
	fmt.Printf("║  Chunk / overlap : %-19s ║\n", fmt.Sprintf("%d / %d ms", cfg.Audio.ChunkMs, cfg.Audio.OverlapMs))
	if cfg.Display.MQTT.BrokerURL != "" {
		fmt.Printf("║  MQTT bridge     : %-19s ║\n", "enabled")
	} else {
		fmt.Printf("║  MQTT bridge     : %-19s ║\n", "(disabled)")
	}
	if cfg.Server.ListenAddr != "" {
		fmt.Printf("║  Listen addr     : %-19s ║\n", cfg.Server.ListenAddr)
	}
	fmt.Println("╚═══════════════════════════════════════╝")
}

func printProvider(kind, name, model string) {
	value := name
	if value == "" {
		value = "(not configured)"
	} else if model != "" {
		value = name + " / " + model
	}
	fmt.Printf("║  %-12s    : %-19s ║\n", kind, truncate(value))
}

func truncate(s string) string {
	r := []rune(s)
	if len(r) > 19 {
		return string(r[:18]) + "…"
	}
	return s
}

// ── Logger ─────────────────────────────────────────────────────────────────────

func newLogger(level *slog.LevelVar) *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

func slogLevel(level config.LogLevel) slog.Level {
	switch level {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// ── Helpers ───────────────────────────────────────────────────────────────────

// optString extracts a string value from a provider Options map[string]any.
// Returns "" if the map is nil, the key is absent, or the value is not a string.
func optString(opts map[string]any, key string) string {
	if opts == nil {
		return ""
	}
	v, ok := opts[key]
	if !ok {
		return ""
	}
	s, ok := v.(string)
	if !ok {
		return ""
	}
	return s
}
