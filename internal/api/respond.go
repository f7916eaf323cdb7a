package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/mikey/mail-trust/internal/classifier"
	"github.com/mikey/mail-trust/internal/core"
	"github.com/mikey/mail-trust/internal/feedback"
	"github.com/mikey/mail-trust/internal/reputation"
	"github.com/mikey/mail-trust/internal/rules"
	"go.uber.org/zap"
)

// errorResponse is the envelope for failed requests
type errorResponse struct {
	Error string `json:"error"`
}

// writeJSON serialises v as JSON and writes it to w with the given status code
func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("Failed to write JSON response", zap.Error(err))
	}
}

func (s *Server) badRequest(w http.ResponseWriter, msg string) {
	s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: msg})
}

// writeError maps service errors onto status codes. Unexpected errors are logged and
// reported without detail.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, core.ErrNotFound):
		s.writeJSON(w, http.StatusNotFound, errorResponse{Error: "not found"})
	case errors.Is(err, rules.ErrInvalidRule),
		errors.Is(err, feedback.ErrInvalidFeedback),
		errors.Is(err, classifier.ErrInvalidEmail),
		errors.Is(err, reputation.ErrInvalidSender),
		errors.Is(err, reputation.ErrUnknownCategory),
		errors.Is(err, reputation.ErrUnknownAction):
		s.badRequest(w, err.Error())
	case errors.Is(err, core.ErrVersionConflict):
		s.writeJSON(w, http.StatusConflict, errorResponse{Error: "concurrent update, retry"})
	default:
		s.logger.Error("Request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Error(err))
		s.writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal server error"})
	}
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) error {
	return json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(v)
}
