// Package api declares HTTP contracts and route registration helpers.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/okian/argos/internal/adapters/repository"
	"github.com/okian/argos/internal/domain/dedupe"
	"github.com/okian/argos/internal/domain/model"
	"github.com/okian/argos/internal/domain/passes"
)

const defaultMaxBodyBytes = 4 << 20

// Dependencies required by HTTP handlers. Using an interface bundle keeps
// the handler layer loosely coupled to implementations in other packages.
type Dependencies interface {
	dedupe.Deduper

	// Enqueue pushes a batch for async evaluation. It fails with
	// queue.ErrQueueFull on backpressure and queue.ErrQueueClosed on shutdown.
	Enqueue(ctx context.Context, b model.Batch) error

	// Read operations expose stored evaluations.
	Latest(ctx context.Context, platformID string) (model.Evaluation, error)
	Pass(ctx context.Context, platformID string, n int) (passes.Result, error)
	Platforms(ctx context.Context) ([]string, error)

	// RequireCRC is the default for requests that do not say.
	RequireCRC() bool
}

// Server wires HTTP routes for the business API.
type Server struct {
	healthHandler    *HealthHandler
	statsHandler     *StatsHandler
	decodeHandler    *DecodeHandler
	platformsHandler *PlatformsHandler
}

// Option configures a Server.
type Option func(*serverConfig)

type serverConfig struct {
	maxBodyBytes    int64
	passConcurrency int
}

// WithMaxBodyBytes caps request bodies.
func WithMaxBodyBytes(n int64) Option {
	return func(c *serverConfig) {
		if n > 0 {
			c.maxBodyBytes = n
		}
	}
}

// WithPassConcurrency bounds parallel pass evaluation of POST /evaluate.
func WithPassConcurrency(n int) Option {
	return func(c *serverConfig) {
		if n > 0 {
			c.passConcurrency = n
		}
	}
}

// NewServer creates a new API server with all handlers.
func NewServer(deps Dependencies, statsProvider StatsProvider, opts ...Option) *Server {
	cfg := serverConfig{maxBodyBytes: defaultMaxBodyBytes, passConcurrency: 1}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Server{
		healthHandler:    NewHealthHandler(),
		statsHandler:     NewStatsHandler(statsProvider),
		decodeHandler:    NewDecodeHandler(deps, cfg),
		platformsHandler: NewPlatformsHandler(deps, cfg),
	}
}

// Register attaches all HTTP routes to mux.
func (s *Server) Register(_ context.Context, mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", MetricsMiddleware(s.healthHandler.HandleHealth, "healthz"))
	mux.HandleFunc("GET /stats", MetricsMiddleware(s.statsHandler.HandleStats, "stats"))
	mux.HandleFunc("POST /decode", MetricsMiddleware(s.decodeHandler.HandleDecode, "decode"))
	mux.HandleFunc("POST /checksum", MetricsMiddleware(s.decodeHandler.HandleChecksum, "checksum"))
	mux.HandleFunc("POST /evaluate", MetricsMiddleware(s.decodeHandler.HandleEvaluate, "evaluate"))
	mux.HandleFunc("GET /platforms", MetricsMiddleware(s.platformsHandler.HandleList, "platforms"))
	mux.HandleFunc("POST /platforms/{id}/batches", MetricsMiddleware(s.platformsHandler.HandlePostBatch, "batches"))
	mux.HandleFunc("GET /platforms/{id}/passes", MetricsMiddleware(s.platformsHandler.HandleGetPasses, "passes"))
	mux.HandleFunc("GET /platforms/{id}/passes/{n}", MetricsMiddleware(s.platformsHandler.HandleGetPass, "pass"))
}

type frameRequest struct {
	Frame string `json:"frame"`
}

// evaluateRequest is the body of POST /evaluate and JSON batch submissions.
type evaluateRequest struct {
	BatchID    string        `json:"batch_id"`
	RequireCRC *bool         `json:"require_crc"`
	Passes     []passes.Pass `json:"passes"`
}

func (e evaluateRequest) validate() error {
	if e.Passes == nil {
		return errors.New("missing passes")
	}
	return nil
}

type checksumResponse struct {
	Valid  bool `json:"valid"`
	Length int  `json:"length"`
}

type evaluationResponse struct {
	BatchID     string          `json:"batch_id,omitempty"`
	PlatformID  string          `json:"platform_id,omitempty"`
	EvaluatedAt string          `json:"evaluated_at,omitempty"`
	Summary     passes.Summary  `json:"summary"`
	Results     []passes.Result `json:"results"`
}

type ackResponse struct {
	Status    string `json:"status"`
	BatchID   string `json:"batch_id"`
	Duplicate bool   `json:"duplicate"`
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code string, err error) {
	msg := http.StatusText(status)
	if err != nil {
		msg = err.Error()
	}
	writeJSON(w, status, errorResponse{Code: code, Message: msg})
}

// readErrorStatus maps a body read failure to a status and error code.
func readErrorStatus(err error) (int, string) {
	if errors.Is(err, ErrTooLarge) {
		return http.StatusRequestEntityTooLarge, "too_large"
	}
	return http.StatusBadRequest, "bad_request"
}

// storeErrorStatus translates store errors to HTTP statuses.
func storeErrorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, repository.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, passes.ErrPassOutOfRange):
		return http.StatusNotFound, "pass_out_of_range"
	case errors.Is(err, repository.ErrClosed):
		return http.StatusServiceUnavailable, "unavailable"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}
