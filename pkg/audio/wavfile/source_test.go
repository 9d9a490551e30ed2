package wavfile_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/MrWong99/lingoxa/pkg/audio"
	"github.com/MrWong99/lingoxa/pkg/audio/wavfile"
)

// writeTestWAV writes n samples of silence at rate into a temp file.
func writeTestWAV(t *testing.T, n, rate int) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "in.wav")
	w, err := audio.CreateWAV(path, rate)
	if err != nil {
		t.Fatalf("CreateWAV: %v", err)
	}
	if err := w.Write(make([]float32, n)); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	return path
}

func TestSource_ReadsAllFrames(t *testing.T) {
	t.Parallel()
	path := writeTestWAV(t, 1600, 16000) // 100 ms

	src, err := wavfile.Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer src.Close()

	info := src.Info()
	if info.SampleRate != 16000 || info.Channels != 1 || info.DeviceName != "file:in.wav" {
		t.Errorf("Info = %+v", info)
	}

	var frames, samples int
	for {
		f, err := src.Read(context.Background())
		if errors.Is(err, audio.ErrEndOfStream) {
			break
		}
		if err != nil {
			t.Fatalf("Read: %v", err)
		}
		frames++
		samples += len(f.Data) / 2
	}
	if frames != 5 {
		t.Errorf("frames = %d, want 5", frames)
	}
	if samples != 1600 {
		t.Errorf("samples = %d, want 1600", samples)
	}
}

func TestSource_RealtimeHonoursCancellation(t *testing.T) {
	t.Parallel()
	path := writeTestWAV(t, 16000, 16000) // 1 s

	src, err := wavfile.Open(path, wavfile.WithRealtime(true), wavfile.WithFrameMs(500))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer src.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	// The first frame is due immediately; the second must wait ~500 ms.
	if _, err := src.Read(ctx); err != nil {
		t.Fatalf("first Read: %v", err)
	}
	if _, err := src.Read(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("second Read error = %v, want deadline exceeded", err)
	}
}

func TestOpen_MissingFile(t *testing.T) {
	t.Parallel()
	if _, err := wavfile.Open(filepath.Join(t.TempDir(), "missing.wav")); err == nil {
		t.Fatal("expected error for missing file")
	}
}
