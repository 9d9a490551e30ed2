package translation

import (
	"encoding/json"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
)

// contextCache is the on-disk form of the scenario context.
type contextCache struct {
	Context string `json:"context"`
}

// ContextStore holds the scenario context shared by all translations.
//
// All methods are safe for concurrent use.
type ContextStore struct {
	mu      sync.RWMutex
	context string
}

// Get returns the committed context.
func (s *ContextStore) Get() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.context
}

// Update replaces the context.
func (s *ContextStore) Update(ctx string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.context = ctx
}

// Reset clears the context.
func (s *ContextStore) Reset() { s.Update("") }

// SaveCache writes the context to path as JSON. Failures are logged, never
// returned: losing the cache only means the next session starts empty.
func (s *ContextStore) SaveCache(path string) {
	data, err := json.MarshalIndent(contextCache{Context: s.Get()}, "", "  ")
	if err != nil {
		slog.Warn("translation: failed to encode context cache", "err", err)
		return
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			slog.Warn("translation: failed to create context cache directory", "path", path, "err", err)
			return
		}
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		slog.Warn("translation: failed to save context cache", "path", path, "err", err)
		return
	}
	slog.Debug("translation: context cache saved", "path", path)
}

// LoadCache restores the context from path. A missing file leaves the context
// untouched; other failures are logged.
func (s *ContextStore) LoadCache(path string) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return
	}
	if err != nil {
		slog.Warn("translation: failed to read context cache", "path", path, "err", err)
		return
	}
	var c contextCache
	if err := json.Unmarshal(data, &c); err != nil {
		slog.Warn("translation: failed to parse context cache", "path", path, "err", err)
		return
	}
	s.Update(c.Context)
	slog.Info("translation: context cache loaded", "path", path, "chars", len(c.Context))
}
