package whisper

import (
	"context"
	"errors"
	"os"
	"testing"

	whisperlib "github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"
)

// fakeModel satisfies whisperlib.Model; only Close is exercised.
type fakeModel struct {
	whisperlib.Model
	closed int
}

func (m *fakeModel) Close() error { m.closed++; return nil }

func newFakeNative(loaded *fakeModel, load func(string) (whisperlib.Model, error)) *NativeProvider {
	return &NativeProvider{model: loaded, modelPath: "base.bin", loadModel: load}
}

func TestNewNative_EmptyPath_ReturnsError(t *testing.T) {
	if _, err := NewNative(""); err == nil {
		t.Fatal("expected error for empty model path, got nil")
	}
}

func TestNewNative_InvalidPath_ReturnsError(t *testing.T) {
	if _, err := NewNative("/nonexistent/path/to/model.bin"); err == nil {
		t.Fatal("expected error for invalid model path, got nil")
	}
}

func TestNativeReloadModel_SameModelIsNoop(t *testing.T) {
	loads := 0
	p := newFakeNative(&fakeModel{}, func(string) (whisperlib.Model, error) {
		loads++
		return &fakeModel{}, nil
	})
	if err := p.ReloadModel(context.Background(), "base.bin"); err != nil {
		t.Fatalf("ReloadModel: %v", err)
	}
	if loads != 0 {
		t.Errorf("loadModel called %d times, want 0", loads)
	}
}

func TestNativeReloadModel_SwapsAndReleasesPrevious(t *testing.T) {
	old := &fakeModel{}
	next := &fakeModel{}
	p := newFakeNative(old, func(path string) (whisperlib.Model, error) {
		if path != "small.bin" {
			t.Errorf("load path = %q, want small.bin", path)
		}
		return next, nil
	})
	if err := p.ReloadModel(context.Background(), "small.bin"); err != nil {
		t.Fatalf("ReloadModel: %v", err)
	}
	if old.closed != 1 {
		t.Errorf("previous model closed %d times, want 1", old.closed)
	}
	if p.model != next || p.modelPath != "small.bin" {
		t.Error("new model not installed")
	}
}

func TestNativeReloadModel_FailureKeepsPrevious(t *testing.T) {
	old := &fakeModel{}
	p := newFakeNative(old, func(string) (whisperlib.Model, error) {
		return nil, errors.New("no such file")
	})
	if err := p.ReloadModel(context.Background(), "missing.bin"); err == nil {
		t.Fatal("expected error")
	}
	if p.model != old || old.closed != 0 {
		t.Error("previous model must remain active after a failed reload")
	}
}

func TestNativeLanguage(t *testing.T) {
	p := newFakeNative(&fakeModel{}, nil)
	if !p.IsAutoDetect() {
		t.Error("default should auto-detect")
	}
	p.SetLanguage("en")
	if p.IsAutoDetect() {
		t.Error("IsAutoDetect true after SetLanguage(en)")
	}
	p.SetLanguage("auto")
	if !p.IsAutoDetect() {
		t.Error("IsAutoDetect false after SetLanguage(auto)")
	}
}

func TestNativeTranscribe_AfterClose(t *testing.T) {
	p := newFakeNative(&fakeModel{}, nil)
	if err := p.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if _, err := p.Transcribe(context.Background(), make([]float32, 16000), 16000); err == nil {
		t.Fatal("expected error after Close")
	}
}

// TestNativeTranscribe_RealModel runs a real decode when WHISPER_MODEL_PATH is set.
func TestNativeTranscribe_RealModel(t *testing.T) {
	path := os.Getenv("WHISPER_MODEL_PATH")
	if path == "" {
		t.Skip("WHISPER_MODEL_PATH not set; skipping native whisper test")
	}
	p, err := NewNative(path, WithNativeLanguage("en"))
	if err != nil {
		t.Fatalf("NewNative: %v", err)
	}
	defer p.Close()

	text, err := p.Transcribe(context.Background(), make([]float32, 44100), 44100)
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	t.Logf("silence decoded as %q", text)
}
