package api

import (
	"errors"
	"fmt"
	"mime"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/okian/argos/internal/adapters/argosxml"
	"github.com/okian/argos/internal/adapters/mq/queue"
	"github.com/okian/argos/internal/domain/model"
)

// PlatformsHandler serves batch ingestion and stored evaluation reads.
type PlatformsHandler struct {
	deps Dependencies
	cfg  serverConfig
}

// NewPlatformsHandler creates a new platforms handler.
func NewPlatformsHandler(deps Dependencies, cfg serverConfig) *PlatformsHandler {
	return &PlatformsHandler{deps: deps, cfg: cfg}
}

type platformsResponse struct {
	Platforms []string `json:"platforms"`
	Count     int      `json:"count"`
}

// HandleList handles GET /platforms requests.
func (h *PlatformsHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	ids, err := h.deps.Platforms(r.Context())
	if err != nil {
		status, code := storeErrorStatus(err)
		writeError(w, status, code, err)
		return
	}
	writeJSON(w, http.StatusOK, platformsResponse{Platforms: ids, Count: len(ids)})
}

// HandlePostBatch handles POST /platforms/{id}/batches requests. The body is
// either a JSON evaluate request or, with an XML content type, a getXml
// document from which the platform's passes are extracted.
func (h *PlatformsHandler) HandlePostBatch(w http.ResponseWriter, r *http.Request) {
	const op = "api.post_batch"
	platformID := r.PathValue("id")

	b, status, code, err := h.readBatch(w, r, platformID)
	if err != nil {
		writeError(w, status, code, WrapKind(op, ErrBadRequest, err))
		return
	}

	// Idempotency check - mark as seen first
	if h.deps.SeenAndRecord(r.Context(), b.ID) {
		writeJSON(w, http.StatusOK, ackResponse{Status: "duplicate", BatchID: b.ID, Duplicate: true})
		return
	}

	if err := h.deps.Enqueue(r.Context(), b); err != nil {
		// Rollback the "seen" status since enqueue failed
		h.deps.Unrecord(r.Context(), b.ID)
		switch {
		case errors.Is(err, queue.ErrQueueFull):
			writeError(w, http.StatusTooManyRequests, "backpressure", WrapKind(op, ErrBackpressure, err))
		case errors.Is(err, queue.ErrQueueClosed):
			writeError(w, http.StatusServiceUnavailable, "unavailable", WrapKind(op, ErrUnavailable, err))
		default:
			writeError(w, http.StatusInternalServerError, "internal_error", err)
		}
		return
	}
	writeJSON(w, http.StatusAccepted, ackResponse{Status: "accepted", BatchID: b.ID})
}

func (h *PlatformsHandler) readBatch(w http.ResponseWriter, r *http.Request, platformID string) (model.Batch, int, string, error) {
	b := model.Batch{
		PlatformID: platformID,
		RequireCRC: h.deps.RequireCRC(),
		ReceivedAt: time.Now(),
	}

	mediaType := "application/json"
	if ct := r.Header.Get("Content-Type"); ct != "" {
		mt, _, err := mime.ParseMediaType(ct)
		if err != nil {
			return b, http.StatusUnsupportedMediaType, "unsupported_media_type", WrapKind("content-type", ErrUnsupportedMedia, err)
		}
		mediaType = mt
	}

	switch mediaType {
	case "application/json":
		var req evaluateRequest
		if err := decodeBody(w, r, h.cfg.maxBodyBytes, &req); err != nil {
			status, code := readErrorStatus(err)
			return b, status, code, err
		}
		if err := req.validate(); err != nil {
			return b, http.StatusBadRequest, "bad_request", err
		}
		b.ID = req.BatchID
		b.Passes = req.Passes
		if req.RequireCRC != nil {
			b.RequireCRC = *req.RequireCRC
		}

	case "application/xml", "text/xml":
		doc, err := argosxml.Parse(http.MaxBytesReader(w, r.Body, h.cfg.maxBodyBytes))
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				return b, http.StatusRequestEntityTooLarge, "too_large", errors.Join(ErrTooLarge, err)
			}
			return b, http.StatusBadRequest, "malformed_document", err
		}
		if b.Passes, err = doc.Passes(platformID); err != nil {
			return b, http.StatusUnprocessableEntity, "platform_not_found", err
		}
		q := r.URL.Query()
		b.ID = q.Get("batch_id")
		if v := q.Get("require_crc"); v != "" {
			if b.RequireCRC, err = strconv.ParseBool(v); err != nil {
				return b, http.StatusBadRequest, "bad_request", fmt.Errorf("invalid require_crc %q", v)
			}
		}

	default:
		return b, http.StatusUnsupportedMediaType, "unsupported_media_type", NewKind(mediaType, ErrUnsupportedMedia)
	}

	if b.ID == "" {
		b.ID = uuid.NewString()
	}
	return b, 0, "", nil
}

// HandleGetPasses handles GET /platforms/{id}/passes requests.
func (h *PlatformsHandler) HandleGetPasses(w http.ResponseWriter, r *http.Request) {
	eval, err := h.deps.Latest(r.Context(), r.PathValue("id"))
	if err != nil {
		status, code := storeErrorStatus(err)
		writeError(w, status, code, err)
		return
	}
	writeJSON(w, http.StatusOK, evaluationResponse{
		BatchID:     eval.BatchID,
		PlatformID:  eval.PlatformID,
		EvaluatedAt: eval.EvaluatedAt.UTC().Format(time.RFC3339Nano),
		Summary:     eval.Summary,
		Results:     eval.Results,
	})
}

// HandleGetPass handles GET /platforms/{id}/passes/{n} requests.
func (h *PlatformsHandler) HandleGetPass(w http.ResponseWriter, r *http.Request) {
	const op = "api.get_pass"
	n, err := strconv.Atoi(r.PathValue("n"))
	if err != nil || n < 0 {
		writeError(w, http.StatusBadRequest, "bad_request", WrapKind(op, ErrBadRequest, fmt.Errorf("invalid pass number %q", r.PathValue("n"))))
		return
	}

	result, err := h.deps.Pass(r.Context(), r.PathValue("id"), n)
	if err != nil {
		status, code := storeErrorStatus(err)
		writeError(w, status, code, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}
