package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/MrWong99/lingoxa/internal/bus"
	"github.com/MrWong99/lingoxa/internal/capture"
	"github.com/MrWong99/lingoxa/internal/chunk"
	"github.com/MrWong99/lingoxa/internal/dialogue"
	"github.com/MrWong99/lingoxa/internal/observe"
	sttmgr "github.com/MrWong99/lingoxa/internal/stt"
	"github.com/MrWong99/lingoxa/internal/translation"
)

var (
	// ErrSessionActive is returned by [SessionManager.Start] while a
	// pipeline run is in progress.
	ErrSessionActive = errors.New("app: pipeline already running")

	// ErrNoSession is returned by [SessionManager.Stop] when nothing runs.
	ErrNoSession = errors.New("app: pipeline not running")

	// ErrInvalidArgument is returned by control operations for malformed
	// input.
	ErrInvalidArgument = errors.New("app: invalid argument")
)

// SessionInfo holds metadata about the active pipeline run.
type SessionInfo struct {
	// SessionID stamps every dialogue record of the run.
	SessionID string `json:"session_id"`

	// StartedAt is when the run was started.
	StartedAt time.Time `json:"started_at"`

	// DialoguePath is the dialogue log file of the run, if file logging is on.
	DialoguePath string `json:"dialogue_path,omitempty"`
}

// SessionManagerConfig holds all dependencies for a [SessionManager].
type SessionManagerConfig struct {
	Bus        *bus.Bus
	STT        *sttmgr.Manager
	Chunker    *chunk.Processor
	Capture    *capture.Capture
	Translator translation.Translator
	Context    *translation.ContextStore
	Metrics    *observe.Metrics

	// Dialogue receives records of every run and is not closed by the
	// manager. May be nil.
	Dialogue dialogue.Writer

	// DialogueDir and DialogueFormat configure the per-run dialogue file.
	// An empty dir disables file logging.
	DialogueDir    string
	DialogueFormat string

	// Translation holds the initial live translation settings.
	Translation translation.Config
}

// SessionManager starts and stops pipeline runs. A run owns the STT consumer
// loop, a translation orchestrator, a dialogue file and the capture
// goroutine. Only one run can be active at a time; the scenario context and
// the engines outlive runs.
//
// All exported methods are safe for concurrent use.
type SessionManager struct {
	deps SessionManagerConfig
	now  func() time.Time

	mu         sync.Mutex
	active     bool
	info       SessionInfo
	trCfg      translation.Config
	runCtx     context.Context
	cancel     context.CancelFunc
	sttDone    chan struct{}
	translator *translation.Manager
	trCancel   context.CancelFunc
	detach     func()
	file       *dialogue.FileWriter
}

// NewSessionManager creates an idle SessionManager.
func NewSessionManager(cfg SessionManagerConfig) *SessionManager {
	if cfg.Context == nil {
		cfg.Context = &translation.ContextStore{}
	}
	if cfg.Metrics == nil {
		cfg.Metrics = observe.DefaultMetrics()
	}
	return &SessionManager{deps: cfg, trCfg: cfg.Translation, now: time.Now}
}

// Start begins a pipeline run: it opens the dialogue log, starts the STT
// consumer loop and the translation orchestrator, then starts capture.
// Background work is not bound to ctx; use [SessionManager.Stop].
func (sm *SessionManager) Start(ctx context.Context) error {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	if sm.active {
		return fmt.Errorf("%w (session %s)", ErrSessionActive, sm.info.SessionID)
	}

	now := sm.now()
	sessionID := dialogue.NewSessionID(now)
	info := SessionInfo{SessionID: sessionID, StartedAt: now}

	file, writer, err := sm.openDialogue(sessionID)
	if err != nil {
		return err
	}
	if file != nil {
		info.DialoguePath = file.Path()
	}

	if err := sm.deps.STT.Reset(ctx); err != nil {
		slog.Warn("app: stt reset before run failed", "err", err)
	}
	sm.deps.Chunker.Reset()

	base := observe.WithSession(context.WithoutCancel(ctx), sessionID)
	runCtx, cancel := context.WithCancel(base)
	sttDone := make(chan struct{})
	go func() {
		defer close(sttDone)
		if err := sm.deps.STT.Run(runCtx); err != nil {
			observe.Logger(runCtx).Error("app: stt loop failed", "err", err)
		}
	}()

	trCfg := sm.trCfg
	trCfg.SessionID = sessionID
	opts := []translation.Option{
		translation.WithContextStore(sm.deps.Context),
		translation.WithMetrics(sm.deps.Metrics),
	}
	if writer != nil {
		opts = append(opts, translation.WithDialogue(writer))
	}
	mgr := translation.NewManager(sm.deps.Bus, sm.deps.Translator, trCfg, opts...)
	trCtx, trCancel := context.WithCancel(base)
	detach := mgr.Attach(trCtx, sm.deps.Bus)

	if err := sm.deps.Capture.Start(runCtx); err != nil {
		detach()
		cancel()
		<-sttDone
		trCancel()
		if file != nil {
			_ = file.Close()
		}
		return fmt.Errorf("app: start capture: %w", err)
	}

	sm.active = true
	sm.info = info
	sm.runCtx = runCtx
	sm.cancel = cancel
	sm.sttDone = sttDone
	sm.translator = mgr
	sm.trCancel = trCancel
	sm.detach = detach
	sm.file = file

	observe.Logger(base).Info("session started",
		"source", sm.deps.Capture.Info().DeviceName,
		"dialogue", info.DialoguePath,
	)
	return nil
}

// Stop ends the active run. Capture is joined first, then the STT loop is
// cancelled and in-flight translations are awaited until ctx expires, after
// which they are cancelled. The dialogue file is closed last.
func (sm *SessionManager) Stop(ctx context.Context) error {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	if !sm.active {
		return ErrNoSession
	}
	log := observe.Logger(sm.runCtx)

	sm.deps.Capture.Stop()
	sm.cancel()
	<-sm.sttDone
	sm.detach()

	waited := make(chan struct{})
	go func() {
		sm.translator.Wait()
		close(waited)
	}()
	select {
	case <-waited:
	case <-ctx.Done():
		log.Warn("app: cancelling in-flight translations", "in_flight", sm.translator.InFlight())
		sm.trCancel()
		<-waited
	}
	sm.trCancel()

	if sm.file != nil {
		if err := sm.file.Close(); err != nil {
			log.Warn("app: dialogue close error", "err", err)
		}
	}
	if err := sm.deps.STT.Reset(context.WithoutCancel(ctx)); err != nil {
		log.Warn("app: stt reset after run failed", "err", err)
	}
	sm.deps.Chunker.Reset()

	sm.active = false
	sm.info = SessionInfo{}
	sm.runCtx = nil
	sm.cancel = nil
	sm.sttDone = nil
	sm.translator = nil
	sm.trCancel = nil
	sm.detach = nil
	sm.file = nil

	log.Info("session stopped")
	return nil
}

// SwapSource replaces the capture source. During a run the current stream is
// stopped and the new one started in its place.
func (sm *SessionManager) SwapSource(open capture.Opener) error {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	sm.deps.Capture.Stop()
	sm.deps.Capture.SetOpener(open)
	if !sm.active {
		return nil
	}
	if err := sm.deps.Capture.Start(sm.runCtx); err != nil {
		return fmt.Errorf("app: restart capture: %w", err)
	}
	observe.Logger(sm.runCtx).Info("session: audio source swapped", "source", sm.deps.Capture.Info().DeviceName)
	return nil
}

// IsActive reports whether a run is in progress.
func (sm *SessionManager) IsActive() bool {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return sm.active
}

// Info returns metadata about the active run, or the zero value.
func (sm *SessionManager) Info() SessionInfo {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return sm.info
}

// Pending returns the number of sentences of the active run still waiting
// for their translation.
func (sm *SessionManager) Pending() int {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	if sm.translator == nil {
		return 0
	}
	return sm.translator.InFlight()
}

// PendingContext returns the number of translated sentences of the active
// run batched for the next context summary.
func (sm *SessionManager) PendingContext() int {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	if sm.translator == nil {
		return 0
	}
	return sm.translator.Pending()
}

// ResetContext clears the scenario context and announces the empty context.
func (sm *SessionManager) ResetContext() {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	if sm.translator != nil {
		sm.translator.ResetContext()
		return
	}
	sm.deps.Context.Reset()
	sm.deps.Bus.Publish(bus.TopicContextUpdated, bus.ContextUpdated{})
	slog.Info("session: scenario context reset")
}

// SetContextUpdateInterval changes the summary batch size for the active and
// later runs.
func (sm *SessionManager) SetContextUpdateInterval(n int) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.trCfg.ContextUpdateInterval = n
	if sm.translator != nil {
		sm.translator.SetContextUpdateInterval(n)
	}
}

// SetUseOriginalForContext selects the summary input for the active and
// later runs.
func (sm *SessionManager) SetUseOriginalForContext(v bool) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.trCfg.UseOriginalForContext = v
	if sm.translator != nil {
		sm.translator.SetUseOriginalForContext(v)
	}
}

// TranslationSettings returns the live translation settings.
func (sm *SessionManager) TranslationSettings() translation.Config {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return sm.trCfg
}

// openDialogue creates the run's dialogue file and combines it with the
// shared writer. Both results are nil when no dialogue sink is configured.
func (sm *SessionManager) openDialogue(sessionID string) (*dialogue.FileWriter, dialogue.Writer, error) {
	var file *dialogue.FileWriter
	if sm.deps.DialogueDir != "" {
		fw, err := dialogue.NewFileWriter(sm.deps.DialogueDir, sessionID, sm.deps.DialogueFormat)
		if err != nil {
			return nil, nil, fmt.Errorf("app: open dialogue log: %w", err)
		}
		file = fw
	}

	switch {
	case file != nil && sm.deps.Dialogue != nil:
		return file, dialogue.MultiWriter{file, sm.deps.Dialogue}, nil
	case file != nil:
		return file, file, nil
	case sm.deps.Dialogue != nil:
		return nil, sm.deps.Dialogue, nil
	default:
		return nil, nil, nil
	}
}
