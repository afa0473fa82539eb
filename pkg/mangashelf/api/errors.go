package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/render"

	"github.com/tendant/mangashelf/pkg/mangashelf"
	"github.com/tendant/mangashelf/pkg/mangashelf/catalog"
)

// ErrorResponse is the body of every error reply
type ErrorResponse struct {
	Error string `json:"error"`
}

// writeError maps an error to its status. Unexpected errors are logged and
// reported without detail.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	msg := http.StatusText(status)

	var validation *mangashelf.ValidationError
	switch {
	case errors.As(err, &validation):
		status, msg = http.StatusBadRequest, validation.Reason
	case errors.Is(err, mangashelf.ErrValidation):
		status, msg = http.StatusBadRequest, err.Error()
	case errors.Is(err, mangashelf.ErrNotFound):
		status, msg = http.StatusNotFound, err.Error()
	case errors.Is(err, mangashelf.ErrUnauthenticated), errors.Is(err, catalog.ErrInvalidCredentials):
		status, msg = http.StatusUnauthorized, err.Error()
	case errors.Is(err, mangashelf.ErrPermissionDenied):
		status, msg = http.StatusForbidden, err.Error()
	case errors.Is(err, mangashelf.ErrVersionConflict):
		status, msg = http.StatusConflict, err.Error()
	default:
		slog.ErrorContext(r.Context(), "Request failed", "method", r.Method, "path", r.URL.Path, "error", err)
	}

	render.Status(r, status)
	render.JSON(w, r, ErrorResponse{Error: msg})
}

func badRequest(w http.ResponseWriter, r *http.Request, format string, args ...any) {
	writeError(w, r, mangashelf.Invalid(format, args...))
}
