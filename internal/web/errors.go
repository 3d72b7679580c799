package web

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/nao1215/sheetpreview"
	"github.com/nao1215/sheetpreview/internal/logging"
)

// ErrorResponse is the JSON body of every error response.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
	// Field names the offending query parameter of a validation error.
	Field string `json:"field,omitempty"`
}

// statusFor maps an error kind to an HTTP status and a machine-readable code.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, sheetpreview.ErrValidation):
		return http.StatusBadRequest, "INVALID_PARAMETER"
	case errors.Is(err, sheetpreview.ErrNotFound):
		return http.StatusNotFound, "NOT_FOUND"
	case errors.Is(err, sheetpreview.ErrSchema):
		return http.StatusUnprocessableEntity, "SCHEMA_ERROR"
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "TIMEOUT"
	default:
		return http.StatusInternalServerError, "INTERNAL_ERROR"
	}
}

// respondError logs err and writes the matching error response.
// Storage and unknown failures are reported without their details.
func (s *Server) respondError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := statusFor(err)

	resp := ErrorResponse{Error: err.Error(), Code: code}
	var verr *sheetpreview.ValidationError
	if errors.As(err, &verr) {
		resp.Field = verr.Field
	}

	logger := s.requestLogger(r)
	if status >= http.StatusInternalServerError {
		logger.Error("request error", "path", r.URL.Path, "status", status, "error", err.Error())
		resp.Error = http.StatusText(status)
	} else {
		logger.Debug("request rejected", "path", r.URL.Path, "status", status, "error", err.Error())
	}

	s.writeJSON(w, r, status, resp)
}

func (s *Server) requestLogger(r *http.Request) *slog.Logger {
	return logging.WithRequestID(r.Context(), s.logger)
}
