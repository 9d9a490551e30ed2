package translation_test

import (
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/MrWong99/lingoxa/internal/translation"
)

func TestContextStore_GetUpdateReset(t *testing.T) {
	t.Parallel()

	var s translation.ContextStore
	if s.Get() != "" {
		t.Fatal("zero store not empty")
	}
	s.Update("a dinner party")
	if got := s.Get(); got != "a dinner party" {
		t.Errorf("Get = %q", got)
	}
	s.Reset()
	if s.Get() != "" {
		t.Error("Reset did not clear")
	}
}

func TestContextStore_CacheRoundTrip(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "cache", "context.json")
	var s translation.ContextStore
	s.Update("兩位朋友在餐廳")
	s.SaveCache(path)

	var loaded translation.ContextStore
	loaded.LoadCache(path)
	if got := loaded.Get(); got != "兩位朋友在餐廳" {
		t.Errorf("loaded = %q", got)
	}
}

func TestContextStore_LoadCacheFailuresAreSwallowed(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	bad := filepath.Join(dir, "bad.json")
	if err := os.WriteFile(bad, []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name string
		path string
	}{
		{"missing", filepath.Join(dir, "missing.json")},
		{"malformed", bad},
		{"directory", dir},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var s translation.ContextStore
			s.Update("keep")
			s.LoadCache(tt.path)
			if got := s.Get(); got != "keep" {
				t.Errorf("context = %q, want unchanged", got)
			}
		})
	}
}

func TestContextStore_SaveCacheFailureIsSwallowed(t *testing.T) {
	t.Parallel()

	var s translation.ContextStore
	s.Update("x")
	// The target is an existing directory, so the write fails.
	s.SaveCache(t.TempDir())
}

func TestContextStore_Concurrent(t *testing.T) {
	t.Parallel()

	var s translation.ContextStore
	var wg sync.WaitGroup
	for i := range 10 {
		wg.Add(2)
		go func() { defer wg.Done(); s.Update(string(rune('a' + i))) }()
		go func() { defer wg.Done(); _ = s.Get() }()
	}
	wg.Wait()
}
