package api

import (
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"learnhub-media/internal/media"
	"learnhub-media/internal/observability/logging"
)

const defaultStreamContentType = "video/mp4"

type presignResponse struct {
	URL string `json:"url"`
}

// Stream serves an object with single-range support.
func (h *Handler) Stream(w http.ResponseWriter, r *http.Request) {
	stream, err := h.Assets.StreamByKey(r.Context(), mux.Vars(r)["key"], r.Header.Get("Range"))
	if err != nil {
		var unsatisfiable *media.RangeNotSatisfiableError
		if errors.As(err, &unsatisfiable) {
			w.Header().Set("Content-Range", unsatisfiable.ContentRange())
		}
		h.writeServiceError(w, r, err)
		return
	}
	defer stream.Body.Close()

	contentType := stream.ContentType
	if contentType == "" {
		contentType = defaultStreamContentType
	}
	header := w.Header()
	header.Set("Content-Type", contentType)
	header.Set("Accept-Ranges", "bytes")
	header.Set("Content-Length", strconv.FormatInt(stream.Length(), 10))
	status := http.StatusOK
	if stream.Partial {
		header.Set("Content-Range", stream.ContentRange())
		status = http.StatusPartialContent
	}
	w.WriteHeader(status)
	if r.Method == http.MethodHead {
		return
	}
	if _, err := io.Copy(w, stream.Body); err != nil {
		logging.FromContext(r.Context(), h.logger()).Debug("stream copy interrupted", "error", err)
	}
}

// Presign returns a short-lived URL for an existing object.
func (h *Handler) Presign(w http.ResponseWriter, r *http.Request) {
	url, err := h.Assets.PresignByKey(r.Context(), mux.Vars(r)["key"])
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, presignResponse{URL: url})
}
