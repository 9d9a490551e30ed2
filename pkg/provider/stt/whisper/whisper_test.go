package whisper_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/MrWong99/lingoxa/pkg/audio"
	"github.com/MrWong99/lingoxa/pkg/provider/stt/whisper"
)

// ---- helpers ----------------------------------------------------------------

// capturedRequest is what the mock server saw on its last request.
type capturedRequest struct {
	path     string
	fields   map[string]string
	fileSize int
	wavRate  int
}

// mockServer answers /inference with responseText and /load with 200.
type mockServer struct {
	*httptest.Server
	mu       sync.Mutex
	requests []capturedRequest
}

func newMockServer(t *testing.T, status int, responseText string) *mockServer {
	t.Helper()
	m := &mockServer{}
	m.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		if err := r.ParseMultipartForm(10 << 20); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		req := capturedRequest{path: r.URL.Path, fields: map[string]string{}}
		for k, v := range r.MultipartForm.Value {
			req.fields[k] = v[0]
		}
		if f, _, err := r.FormFile("file"); err == nil {
			data, _ := io.ReadAll(f)
			req.fileSize = len(data)
			if info, err := audio.ReadWAVHeader(bytes.NewReader(data)); err == nil {
				req.wavRate = info.SampleRate
			}
		}
		m.mu.Lock()
		m.requests = append(m.requests, req)
		m.mu.Unlock()

		if status != http.StatusOK {
			http.Error(w, "boom", status)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"text": responseText})
	}))
	t.Cleanup(m.Close)
	return m
}

func (m *mockServer) last(t *testing.T) capturedRequest {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.requests) == 0 {
		t.Fatal("server received no requests")
	}
	return m.requests[len(m.requests)-1]
}

func (m *mockServer) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.requests)
}

// ---- provider construction --------------------------------------------------

func TestNew_EmptyServerURL_ReturnsError(t *testing.T) {
	if _, err := whisper.New(""); err == nil {
		t.Fatal("expected error for empty serverURL, got nil")
	}
}

// ---- Transcribe -------------------------------------------------------------

func TestTranscribe_UploadsResampledWAV(t *testing.T) {
	srv := newMockServer(t, http.StatusOK, "  hello world  ")
	p, err := whisper.New(srv.URL, whisper.WithLanguage("en"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	text, err := p.Transcribe(context.Background(), make([]float32, 44100), 44100)
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if text != "hello world" {
		t.Errorf("text = %q, want trimmed %q", text, "hello world")
	}

	req := srv.last(t)
	if req.path != "/inference" {
		t.Errorf("path = %q, want /inference", req.path)
	}
	if req.fields["language"] != "en" {
		t.Errorf("language = %q, want en", req.fields["language"])
	}
	if req.wavRate != 16000 {
		t.Errorf("uploaded WAV rate = %d, want 16000", req.wavRate)
	}
	if want := 44 + 16000*2; req.fileSize != want {
		t.Errorf("uploaded WAV size = %d, want %d", req.fileSize, want)
	}
}

func TestTranscribe_AutoLanguage(t *testing.T) {
	srv := newMockServer(t, http.StatusOK, "bonjour")
	p, _ := whisper.New(srv.URL)
	if !p.IsAutoDetect() {
		t.Fatal("default provider should auto-detect")
	}
	if _, err := p.Transcribe(context.Background(), make([]float32, 1600), 16000); err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if got := srv.last(t).fields["language"]; got != "auto" {
		t.Errorf("language = %q, want auto", got)
	}

	p.SetLanguage("de")
	if p.IsAutoDetect() {
		t.Error("IsAutoDetect true after SetLanguage(de)")
	}
}

func TestTranscribe_ServerError(t *testing.T) {
	srv := newMockServer(t, http.StatusInternalServerError, "")
	p, _ := whisper.New(srv.URL)
	if _, err := p.Transcribe(context.Background(), make([]float32, 1600), 16000); err == nil {
		t.Fatal("expected error on HTTP 500")
	}
}

// ---- ReloadModel ------------------------------------------------------------

func TestReloadModel_PostsLoadOnce(t *testing.T) {
	srv := newMockServer(t, http.StatusOK, "")
	p, _ := whisper.New(srv.URL, whisper.WithModel("models/base.bin"))

	if err := p.ReloadModel(context.Background(), "models/base.bin"); err != nil {
		t.Fatalf("ReloadModel same: %v", err)
	}
	if srv.count() != 0 {
		t.Fatalf("reloading the same model sent %d requests, want 0", srv.count())
	}

	if err := p.ReloadModel(context.Background(), "models/small.bin"); err != nil {
		t.Fatalf("ReloadModel: %v", err)
	}
	req := srv.last(t)
	if req.path != "/load" || req.fields["model"] != "models/small.bin" {
		t.Errorf("request = %+v, want /load with model=models/small.bin", req)
	}

	if err := p.ReloadModel(context.Background(), "models/small.bin"); err != nil {
		t.Fatalf("ReloadModel again: %v", err)
	}
	if srv.count() != 1 {
		t.Errorf("requests = %d, want 1", srv.count())
	}
}
