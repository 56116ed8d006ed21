package api

import (
	"errors"
	"log/slog"
	"net/http"

	"learnhub-media/internal/auth"
	"learnhub-media/internal/media"
	"learnhub-media/internal/observability/logging"
)

var errInternal = errors.New("internal server error")

// statusForError maps service errors onto HTTP statuses. Only 4xx errors
// expose their message to the client.
func statusForError(err error) int {
	var unsatisfiable *media.RangeNotSatisfiableError
	switch {
	case err == nil:
		return http.StatusOK
	case media.IsFileTooLarge(err):
		return http.StatusRequestEntityTooLarge
	case media.IsValidation(err):
		return http.StatusBadRequest
	case errors.As(err, &unsatisfiable):
		return http.StatusRequestedRangeNotSatisfiable
	case errors.Is(err, media.ErrInvalidState):
		return http.StatusConflict
	case errors.Is(err, media.ErrAssetNotFound), errors.Is(err, media.ErrObjectNotFound):
		return http.StatusNotFound
	case errors.Is(err, auth.ErrMissingToken), errors.Is(err, auth.ErrInvalidToken):
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusForError(err)
	if status >= http.StatusInternalServerError {
		logging.FromContext(r.Context(), h.logger()).Error("request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"error", err)
		WriteError(w, status, errInternal)
		return
	}
	WriteError(w, status, err)
}

func (h *Handler) logger() *slog.Logger {
	if h.Logger == nil {
		return slog.Default()
	}
	return h.Logger
}
