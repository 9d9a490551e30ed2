package app

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/MrWong99/lingoxa/internal/config"
	"github.com/MrWong99/lingoxa/internal/observe"
	sttmgr "github.com/MrWong99/lingoxa/internal/stt"
	"github.com/MrWong99/lingoxa/pkg/provider/stt"
)

// maxBodyBytes caps control request bodies.
const maxBodyBytes = 64 << 10

// routes builds the HTTP handler.
func (a *App) routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/pipeline/start", a.handleStart)
	mux.HandleFunc("POST /api/pipeline/stop", a.handleStop)
	mux.HandleFunc("POST /api/context/reset", a.handleResetContext)
	mux.HandleFunc("PUT /api/stt/language", a.handleSTTLanguage)
	mux.HandleFunc("PUT /api/stt/model", a.handleSTTModel)
	mux.HandleFunc("PUT /api/stt/engine", a.handleSTTEngine)
	mux.HandleFunc("PUT /api/translation/target-language", a.handleTargetLanguage)
	mux.HandleFunc("PUT /api/audio/source", a.handleAudioSource)
	mux.HandleFunc("GET /api/status", a.handleStatus)

	mux.Handle("GET /events", a.hub)
	a.health.Register(mux)
	mux.Handle("GET /metrics", promhttp.Handler())

	return observe.Middleware(a.metrics)(mux)
}

type errorBody struct {
	Error string `json:"error"`
}

type languageRequest struct {
	Language string `json:"language"`
}

type modelRequest struct {
	Model string `json:"model"`
}

type engineRequest struct {
	Provider    string `json:"provider"`
	Model       string `json:"model"`
	Device      string `json:"device"`
	ComputeType string `json:"compute_type"`
	Language    string `json:"language"`
}

type sourceRequest struct {
	Source config.AudioSource `json:"source"`
	Input  string             `json:"input"`
}

func (a *App) handleStart(w http.ResponseWriter, r *http.Request) {
	if err := a.StartPipeline(r.Context()); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, a.Status())
}

func (a *App) handleStop(w http.ResponseWriter, r *http.Request) {
	if err := a.StopPipeline(r.Context()); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, a.Status())
}

func (a *App) handleResetContext(w http.ResponseWriter, _ *http.Request) {
	a.ResetContext()
	w.WriteHeader(http.StatusNoContent)
}

func (a *App) handleSTTLanguage(w http.ResponseWriter, r *http.Request) {
	var req languageRequest
	if !decode(w, r, &req) {
		return
	}
	if err := a.SetSTTLanguage(r.Context(), req.Language); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, a.Status().STT)
}

func (a *App) handleSTTModel(w http.ResponseWriter, r *http.Request) {
	var req modelRequest
	if !decode(w, r, &req) {
		return
	}
	if err := a.SetSTTModel(r.Context(), req.Model); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, a.Status().STT)
}

func (a *App) handleSTTEngine(w http.ResponseWriter, r *http.Request) {
	var req engineRequest
	if !decode(w, r, &req) {
		return
	}
	err := a.SetSTTEngine(r.Context(), sttmgr.EngineSettings{
		Provider:    req.Provider,
		Model:       req.Model,
		Device:      req.Device,
		ComputeType: req.ComputeType,
		Language:    req.Language,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, a.Status().STT)
}

func (a *App) handleTargetLanguage(w http.ResponseWriter, r *http.Request) {
	var req languageRequest
	if !decode(w, r, &req) {
		return
	}
	if err := a.SetTargetLanguage(req.Language); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"target_language": a.providers.Translator.TargetLanguage()})
}

func (a *App) handleAudioSource(w http.ResponseWriter, r *http.Request) {
	var req sourceRequest
	if !decode(w, r, &req) {
		return
	}
	if err := a.SetAudioSource(req.Source, req.Input); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, a.Status())
}

func (a *App) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, a.Status())
}

// decode reads a JSON body into v and answers 400 on failure.
func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid request body: " + err.Error()})
		return false
	}
	return true
}

// writeError maps control errors to status codes.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, ErrInvalidArgument):
		status = http.StatusBadRequest
	case errors.Is(err, ErrSessionActive), errors.Is(err, ErrNoSession):
		status = http.StatusConflict
	case errors.Is(err, stt.ErrNotSupported), errors.Is(err, sttmgr.ErrNoFactory),
		errors.Is(err, config.ErrProviderNotRegistered):
		status = http.StatusUnprocessableEntity
	}
	if status == http.StatusInternalServerError {
		slog.Error("app: control request failed", "err", err)
	}
	writeJSON(w, status, errorBody{Error: err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("app: write response", "err", err)
	}
}
