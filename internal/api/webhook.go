package api

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/MikeSquared-Agency/quill/internal/crm"
	"github.com/MikeSquared-Agency/quill/internal/dedup"
	"github.com/MikeSquared-Agency/quill/internal/processor"
)

// maxBodyBytes caps every JSON request body.
const maxBodyBytes = 10 << 20

// WebhookSecretMiddleware rejects requests whose x-vapi-secret header does not
// match secret. An empty secret disables the check.
func WebhookSecretMiddleware(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if secret != "" {
				got := r.Header.Get("x-vapi-secret")
				if subtle.ConstantTimeCompare([]byte(got), []byte(secret)) != 1 {
					writeError(w, http.StatusUnauthorized, "invalid webhook secret")
					return
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}

// vapiWebhook handles POST /webhooks/vapi
func (s *Server) vapiWebhook(w http.ResponseWriter, r *http.Request) {
	var hook processor.Webhook
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&hook); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	report := hook.Message

	if s.deps.Metrics != nil {
		s.deps.Metrics.Webhooks.WithLabelValues(report.Type).Inc()
	}

	if report.Type != processor.TypeEndOfCallReport {
		writeJSON(w, http.StatusOK, map[string]string{"message": "webhook received but not processed"})
		return
	}
	if report.Call == nil {
		writeError(w, http.StatusBadRequest, "no call in report")
		return
	}

	res, err := s.deps.Processor.HandleCallReport(r.Context(), report)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, res)
	case errors.Is(err, dedup.ErrDuplicate):
		writeJSON(w, http.StatusOK, map[string]string{"message": "duplicate call report ignored", "call_id": report.Call.ID})
	case errors.Is(err, crm.ErrNoContact), errors.Is(err, processor.ErrNoCall):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		s.logger.Error("webhook processing failed", "call_id", report.Call.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "processing failed")
	}
}
