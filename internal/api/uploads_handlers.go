package api

import (
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	"learnhub-media/internal/media"
	"learnhub-media/internal/observability/logging"
)

const (
	multipartMemory   = 32 << 20
	multipartOverhead = 1 << 20
)

var (
	errInvalidMediaAssetID = errors.New("media_asset_id must be a positive integer")
	errFileTooLarge        = errors.New("file too large")
)

// IngestVideo accepts a multipart upload with a `file` part and an optional
// `media_asset_id` field naming a registered asset.
func (h *Handler) IngestVideo(w http.ResponseWriter, r *http.Request) {
	principal, ok := h.requirePrincipal(w, r)
	if !ok {
		return
	}
	maxBytes := h.maxUploadBytes()
	r.Body = http.MaxBytesReader(w, r.Body, maxBytes+multipartOverhead)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			WriteError(w, http.StatusRequestEntityTooLarge, errFileTooLarge)
			return
		}
		WriteError(w, http.StatusBadRequest, fmt.Errorf("invalid multipart body: %w", err))
		return
	}
	defer func() {
		if r.MultipartForm != nil {
			_ = r.MultipartForm.RemoveAll()
		}
	}()

	req := media.IngestRequest{OwnerUserID: principal.UserID}
	if raw := strings.TrimSpace(r.FormValue("media_asset_id")); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || id <= 0 {
			WriteError(w, http.StatusBadRequest, errInvalidMediaAssetID)
			return
		}
		req.ExistingAssetID = &id
	}

	file, header, err := r.FormFile("file")
	switch {
	case errors.Is(err, http.ErrMissingFile):
		// Empty data is reported by the ingestor with its own message.
	case err != nil:
		WriteError(w, http.StatusBadRequest, fmt.Errorf("read file part: %w", err))
		return
	default:
		defer file.Close()
		data, err := io.ReadAll(io.LimitReader(file, maxBytes+1))
		if err != nil {
			WriteError(w, http.StatusBadRequest, fmt.Errorf("read file part: %w", err))
			return
		}
		if header.Size > maxBytes || int64(len(data)) > maxBytes {
			WriteError(w, http.StatusRequestEntityTooLarge, errFileTooLarge)
			return
		}
		req.Data = data
		req.Filename = header.Filename
		req.Size = header.Size
		req.MimeType = partMimeType(header.Header.Get("Content-Type"), header.Filename)
	}

	ctx := r.Context()
	if req.ExistingAssetID != nil {
		ctx = logging.ContextWithAssetID(ctx, *req.ExistingAssetID)
		asset, err := h.Assets.LoadAsset(ctx, *req.ExistingAssetID)
		if err != nil {
			h.writeServiceError(w, r, err)
			return
		}
		if !canManage(principal, asset.OwnerUserID) {
			WriteError(w, http.StatusForbidden, errForbidden)
			return
		}
	}
	result, err := h.Assets.Ingest(ctx, req)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusCreated, result)
}

func (h *Handler) maxUploadBytes() int64 {
	if h.MaxUploadBytes > 0 {
		return h.MaxUploadBytes
	}
	return media.DefaultMaxBytes
}

// partMimeType prefers the declared part type and falls back to the file
// extension when the client sent a generic type.
func partMimeType(declared, filename string) string {
	declared = strings.TrimSpace(declared)
	if declared != "" && !strings.EqualFold(declared, "application/octet-stream") {
		return declared
	}
	if byExt := mime.TypeByExtension(strings.ToLower(filepath.Ext(filename))); byExt != "" {
		return byExt
	}
	return declared
}
