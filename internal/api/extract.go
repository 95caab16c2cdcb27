package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/MikeSquared-Agency/quill/internal/extractor"
	"github.com/MikeSquared-Agency/quill/internal/store"
)

// ExtractRequest is the body of POST /api/v1/extract. Transcript takes any
// form the normalizer accepts: a JSON string, a message list or an object
// with a messages array.
type ExtractRequest struct {
	Summary    string          `json:"summary"`
	Transcript json.RawMessage `json:"transcript,omitempty"`
}

type ExtractResponse struct {
	Fields extractor.FieldMap `json:"fields"`
	Count  int                `json:"count"`
}

// extract handles POST /api/v1/extract. It runs the engine only; nothing is
// stored or pushed.
func (s *Server) extract(w http.ResponseWriter, r *http.Request) {
	var req ExtractRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	var payload any
	if len(req.Transcript) > 0 && string(req.Transcript) != "null" {
		payload = req.Transcript
	}

	fields, err := s.deps.Extractor.Extract(r.Context(), req.Summary, payload)
	if err != nil {
		s.logger.Error("extract request failed", "error", err)
		writeError(w, http.StatusInternalServerError, "extraction failed")
		return
	}
	writeJSON(w, http.StatusOK, ExtractResponse{Fields: fields, Count: len(fields)})
}

type runResponse struct {
	ID        string             `json:"id"`
	CallID    string             `json:"call_id"`
	ContactID string             `json:"contact_id"`
	Fallback  bool               `json:"fallback"`
	CreatedAt string             `json:"created_at"`
	Fields    extractor.FieldMap `json:"fields"`
}

// getRun handles GET /api/v1/runs/{id}
func (s *Server) getRun(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid run id")
		return
	}

	run, err := s.deps.Runs.GetRun(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "run not found")
		return
	}
	if err != nil {
		s.logger.Error("get run failed", "run_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "lookup failed")
		return
	}

	writeJSON(w, http.StatusOK, runResponse{
		ID:        run.ID.String(),
		CallID:    run.CallID,
		ContactID: run.ContactID,
		Fallback:  run.Fallback,
		CreatedAt: run.CreatedAt.UTC().Format("2006-01-02T15:04:05Z"),
		Fields:    run.Fields,
	})
}
