package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/prabhanshu11/omarchy-voice-typing/internal/audio"
	"github.com/prabhanshu11/omarchy-voice-typing/internal/config"
	"github.com/prabhanshu11/omarchy-voice-typing/internal/metrics"
	"github.com/prabhanshu11/omarchy-voice-typing/internal/model"
)

// HTTPServer exposes the sidecar's HTTP API
type HTTPServer struct {
	server  *http.Server
	logger  *slog.Logger
	config  *config.Config
	manager *model.Manager
	metrics *metrics.Metrics

	startTime time.Time
}

// TranscribeResponse is the payload returned by POST /transcribe
type TranscribeResponse struct {
	Text           string  `json:"text"`
	Duration       float64 `json:"duration"`
	TranscribeTime float64 `json:"transcribe_time"`
	Model          string  `json:"model"`
	Language       string  `json:"language"`
}

// switchResponse is the payload returned by GET /switch
type switchResponse struct {
	Status string `json:"status"`
	Model  string `json:"model"`
}

// errorResponse is the shape of every error payload
type errorResponse struct {
	Error   string   `json:"error"`
	Status  string   `json:"status,omitempty"`
	Allowed []string `json:"allowed,omitempty"`
}

// NewHTTPServer creates the sidecar HTTP server
func NewHTTPServer(cfg *config.Config, logger *slog.Logger, manager *model.Manager, m *metrics.Metrics) *HTTPServer {
	h := &HTTPServer{
		logger:    logger,
		config:    cfg,
		manager:   manager,
		metrics:   m,
		startTime: time.Now(),
	}

	mux := http.NewServeMux()
	h.setupRoutes(mux)

	h.server = &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Server.Address, cfg.Server.Port),
		Handler: mux,
		// No write timeout: transcription of long audio on slow
		// hardware may legitimately take a while.
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	return h
}

// setupRoutes configures HTTP API routes
func (h *HTTPServer) setupRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/transcribe", h.withMetrics("/transcribe", h.handleTranscribe))
	mux.HandleFunc("/health", h.withMetrics("/health", h.handleHealth))
	mux.HandleFunc("/switch", h.withMetrics("/switch", h.handleSwitch))
	mux.HandleFunc("/config", h.withMetrics("/config", h.handleConfig))

	// Prometheus metrics endpoint
	mux.Handle("/metrics", promhttp.Handler())

	// Root endpoint with API documentation; also serves JSON 404s
	mux.HandleFunc("/", h.withMetrics("/", h.handleRoot))
}

// withMetrics wraps an HTTP handler with metrics collection
func (h *HTTPServer) withMetrics(endpoint string, handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		startTime := time.Now()

		ww := &responseWriter{ResponseWriter: w, statusCode: 200}

		handler(ww, r)

		duration := time.Since(startTime).Seconds()
		statusCode := fmt.Sprintf("%d", ww.statusCode)

		h.metrics.RecordHTTPRequest(r.Method, endpoint, statusCode, duration)

		if ww.statusCode >= 400 {
			errorType := "client_error"
			if ww.statusCode >= 500 {
				errorType = "server_error"
			}
			h.metrics.RecordHTTPError(r.Method, endpoint, errorType)
		}
	}
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Handler returns the HTTP handler, used by tests
func (h *HTTPServer) Handler() http.Handler {
	return h.server.Handler
}

// Start starts the HTTP server. Failing to bind the port is the one
// condition that terminates the process.
func (h *HTTPServer) Start() error {
	h.logger.Info("Starting HTTP server",
		slog.String("address", h.server.Addr),
	)

	go func() {
		if err := h.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			h.logger.Error("HTTP server error", slog.String("error", err.Error()))
		}
	}()

	return nil
}

// Stop gracefully stops the HTTP server
func (h *HTTPServer) Stop(ctx context.Context) error {
	h.logger.Info("Stopping HTTP server...")

	return h.server.Shutdown(ctx)
}

// handleTranscribe implements POST /transcribe
func (h *HTTPServer) handleTranscribe(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		h.writeJSON(w, http.StatusMethodNotAllowed, errorResponse{Error: "method not allowed"})
		return
	}

	if status := h.manager.CurrentStatus(); status.State != model.StateReady {
		h.writeJSON(w, http.StatusServiceUnavailable, errorResponse{
			Error:  "model not ready",
			Status: string(status.State),
		})
		return
	}

	requestID := uuid.NewString()

	body, err := io.ReadAll(r.Body)
	if err != nil {
		h.logger.Error("failed to read request body",
			slog.String("request_id", requestID),
			slog.String("error", err.Error()),
		)
		h.writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "failed to read request body"})
		return
	}

	if len(body) == 0 {
		h.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "empty body"})
		return
	}

	normalized, err := audio.Normalize(body)
	if err != nil {
		h.metrics.RecordDecodeError()
		h.logger.Warn("failed to decode upload",
			slog.String("request_id", requestID),
			slog.Int("bytes", len(body)),
			slog.String("error", err.Error()),
		)
		h.writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}

	result, err := h.manager.RunInference(r.Context(), normalized)
	if err != nil {
		if errors.Is(err, model.ErrNotReady) {
			h.writeJSON(w, http.StatusServiceUnavailable, errorResponse{
				Error:  "model not ready",
				Status: string(h.manager.CurrentStatus().State),
			})
			return
		}

		h.logger.Error("inference failed",
			slog.String("request_id", requestID),
			slog.String("error", err.Error()),
		)
		h.writeJSON(w, http.StatusInternalServerError, errorResponse{Error: err.Error()})
		return
	}

	h.logger.Info("transcription served",
		slog.String("request_id", requestID),
		slog.String("model", result.ModelName),
		slog.String("language", result.Language),
		slog.Float64("duration", result.AudioSeconds),
		slog.Float64("transcribe_time", result.InferenceSeconds),
		slog.Int("text_length", len(result.Text)),
	)

	h.writeJSON(w, http.StatusOK, TranscribeResponse{
		Text:           result.Text,
		Duration:       round2(result.AudioSeconds),
		TranscribeTime: round2(result.InferenceSeconds),
		Model:          result.ModelName,
		Language:       result.Language,
	})
}

// handleHealth implements GET /health. It only reads the status snapshot
// and never touches the inference lock.
func (h *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		h.writeJSON(w, http.StatusMethodNotAllowed, errorResponse{Error: "method not allowed"})
		return
	}

	h.writeJSON(w, http.StatusOK, h.manager.CurrentStatus())
}

// handleSwitch implements GET /switch?model=<name>. The load itself runs
// off the request path; the response only acknowledges the transition.
func (h *HTTPServer) handleSwitch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		h.writeJSON(w, http.StatusMethodNotAllowed, errorResponse{Error: "method not allowed"})
		return
	}

	name := r.URL.Query().Get("model")
	if name == "" {
		h.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "missing ?model= parameter"})
		return
	}

	err := h.manager.RequestLoad(name)

	var unknown *model.UnknownModelError
	switch {
	case errors.As(err, &unknown):
		h.writeJSON(w, http.StatusBadRequest, errorResponse{
			Error:   fmt.Sprintf("unknown model: %s", name),
			Allowed: unknown.Allowed,
		})

	case errors.Is(err, model.ErrAlreadyLoaded):
		h.writeJSON(w, http.StatusOK, switchResponse{Status: "already_loaded", Model: name})

	case errors.Is(err, model.ErrSwitchInProgress):
		// 409, not 400: the request is well-formed, it conflicts with a
		// transition already in flight. Callers retry after /health
		// settles.
		h.writeJSON(w, http.StatusConflict, errorResponse{
			Error:  "model switch already in progress",
			Status: string(h.manager.CurrentStatus().State),
		})

	case err != nil:
		h.writeJSON(w, http.StatusInternalServerError, errorResponse{Error: err.Error()})

	default:
		h.logger.Info("model switch requested", slog.String("model", name))
		h.writeJSON(w, http.StatusOK, switchResponse{Status: "switching", Model: name})
	}
}

// handleConfig implements GET /config with a sanitized configuration dump
func (h *HTTPServer) handleConfig(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		h.writeJSON(w, http.StatusMethodNotAllowed, errorResponse{Error: "method not allowed"})
		return
	}

	sanitized := map[string]interface{}{
		"server": map[string]interface{}{
			"port":    h.config.Server.Port,
			"address": h.config.Server.Address,
		},
		"whisper": map[string]interface{}{
			"model":           h.config.Whisper.Model,
			"compute_profile": h.config.Whisper.ComputeProfile,
			"models_dir":      h.config.Whisper.ModelsDir,
			"allowed_models":  h.manager.AllowedModels(),
		},
		"logging": map[string]interface{}{
			"level":  h.config.Logging.Level,
			"format": h.config.Logging.Format,
			"output": h.config.Logging.Output,
		},
	}

	h.writeJSON(w, http.StatusOK, sanitized)
}

// handleRoot implements the / endpoint with API documentation
func (h *HTTPServer) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		h.writeJSON(w, http.StatusNotFound, errorResponse{Error: "not found"})
		return
	}

	if r.Method != http.MethodGet {
		h.writeJSON(w, http.StatusMethodNotAllowed, errorResponse{Error: "method not allowed"})
		return
	}

	apiDoc := map[string]interface{}{
		"service": "whisper-sidecar",
		"uptime":  time.Since(h.startTime).String(),
		"endpoints": map[string]interface{}{
			"GET /":                "API documentation",
			"GET /health":          "Model status",
			"GET /switch?model=x":  "Hot-swap the active model",
			"POST /transcribe":     "Transcribe WAV or raw PCM-16 audio",
			"GET /config":          "Service configuration",
			"GET /metrics":         "Prometheus metrics",
		},
	}

	h.writeJSON(w, http.StatusOK, apiDoc)
}

// writeJSON writes a JSON response with the given status code
func (h *HTTPServer) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("failed to encode response", slog.String("error", err.Error()))
	}
}

// round2 rounds to two decimal places, matching the wire contract
func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
