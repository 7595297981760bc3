package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/okian/argos/internal/domain/frame"
	"github.com/okian/argos/internal/domain/passes"
	"github.com/okian/argos/pkg/metrics"
)

// DecodeDependencies defines what the stateless decode routes need.
type DecodeDependencies interface {
	RequireCRC() bool
}

// DecodeHandler serves frame decoding, checksum and synchronous evaluation.
type DecodeHandler struct {
	deps DecodeDependencies
	cfg  serverConfig
}

// NewDecodeHandler creates a new decode handler.
func NewDecodeHandler(deps DecodeDependencies, cfg serverConfig) *DecodeHandler {
	return &DecodeHandler{deps: deps, cfg: cfg}
}

// HandleDecode handles POST /decode requests.
func (h *DecodeHandler) HandleDecode(w http.ResponseWriter, r *http.Request) {
	const op = "api.decode"
	var req frameRequest
	if err := decodeBody(w, r, h.cfg.maxBodyBytes, &req); err != nil {
		status, code := readErrorStatus(err)
		writeError(w, status, code, WrapKind(op, ErrBadRequest, err))
		return
	}
	if req.Frame == "" {
		writeError(w, http.StatusBadRequest, "bad_request", WrapKind(op, ErrBadRequest, errors.New("missing frame")))
		return
	}

	msg, err := frame.Decode(req.Frame)
	if err != nil {
		metrics.RecordDecodeError()
		writeError(w, http.StatusBadRequest, "malformed_frame", WrapKind(op, ErrBadRequest, err))
		return
	}
	metrics.RecordFrameDecoded()
	metrics.RecordChecksum(msg.CRCValid)
	writeJSON(w, http.StatusOK, msg)
}

// HandleChecksum handles POST /checksum requests.
func (h *DecodeHandler) HandleChecksum(w http.ResponseWriter, r *http.Request) {
	const op = "api.checksum"
	var req frameRequest
	if err := decodeBody(w, r, h.cfg.maxBodyBytes, &req); err != nil {
		status, code := readErrorStatus(err)
		writeError(w, status, code, WrapKind(op, ErrBadRequest, err))
		return
	}

	valid, err := frame.Checksum(req.Frame)
	if err != nil {
		metrics.RecordDecodeError()
		writeError(w, http.StatusBadRequest, "malformed_frame", WrapKind(op, ErrBadRequest, err))
		return
	}
	metrics.RecordChecksum(valid)
	writeJSON(w, http.StatusOK, checksumResponse{Valid: valid, Length: len(req.Frame)})
}

// HandleEvaluate handles POST /evaluate requests. Nothing is stored.
func (h *DecodeHandler) HandleEvaluate(w http.ResponseWriter, r *http.Request) {
	const op = "api.evaluate"
	var req evaluateRequest
	if err := decodeBody(w, r, h.cfg.maxBodyBytes, &req); err != nil {
		status, code := readErrorStatus(err)
		writeError(w, status, code, WrapKind(op, ErrBadRequest, err))
		return
	}
	if err := req.validate(); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", WrapKind(op, ErrBadRequest, err))
		return
	}

	requireCRC := h.deps.RequireCRC()
	if req.RequireCRC != nil {
		requireCRC = *req.RequireCRC
	}
	results := passes.Evaluate(req.Passes,
		passes.WithRequireCRC(requireCRC),
		passes.WithConcurrency(h.cfg.passConcurrency),
	)
	recordResults(results)
	writeJSON(w, http.StatusOK, evaluationResponse{
		Summary: passes.Summarize(results),
		Results: results,
	})
}

// recordResults feeds per-pass outcomes into the decode and selection series.
func recordResults(results []passes.Result) {
	for _, r := range results {
		metrics.RecordSelection(r.Tier.String())
		switch {
		case r.Err != nil:
			metrics.RecordDecodeError()
		case r.Message != nil:
			metrics.RecordFrameDecoded()
			metrics.RecordChecksum(r.Message.CRCValid)
		}
	}
}

// decodeBody reads one JSON value from a size-limited body.
func decodeBody(w http.ResponseWriter, r *http.Request, limit int64, v any) error {
	body := http.MaxBytesReader(w, r.Body, limit)
	if err := json.NewDecoder(body).Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return errors.Join(ErrTooLarge, err)
		}
		if errors.Is(err, io.EOF) {
			return errors.New("empty body")
		}
		return err
	}
	return nil
}
