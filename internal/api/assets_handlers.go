package api

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"learnhub-media/internal/media"
	"learnhub-media/internal/models"
	"learnhub-media/internal/observability/logging"
	"learnhub-media/internal/storage"
)

type registerUploadRequest struct {
	Filename  string `json:"filename"`
	MimeType  string `json:"mimeType"`
	SizeBytes int64  `json:"sizeBytes"`
}

type deleteResponse struct {
	Deleted bool `json:"deleted"`
}

type listResponse struct {
	Assets []models.VideoAsset `json:"assets"`
}

func (h *Handler) RegisterUpload(w http.ResponseWriter, r *http.Request) {
	principal, ok := h.requirePrincipal(w, r)
	if !ok {
		return
	}
	var req registerUploadRequest
	if err := decodeJSON(r, &req); err != nil {
		WriteError(w, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
		return
	}
	asset, err := h.Assets.RegisterUpload(r.Context(), media.RegisterRequest{
		OwnerUserID: principal.UserID,
		Filename:    req.Filename,
		MimeType:    req.MimeType,
		Size:        req.SizeBytes,
	})
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusCreated, asset)
}

func (h *Handler) ListAssets(w http.ResponseWriter, r *http.Request) {
	principal, ok := h.requirePrincipal(w, r)
	if !ok {
		return
	}
	query := r.URL.Query()
	limit := 0
	if raw := strings.TrimSpace(query.Get("limit")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			WriteError(w, http.StatusBadRequest, errors.New("limit must be a non-negative integer"))
			return
		}
		limit = parsed
	}
	// Anonymous callers see only anonymous uploads.
	owner := principal.UserID
	if principal.HasRole(roleAdmin) {
		owner = storage.AnyOwner
		if raw := strings.TrimSpace(query.Get("ownerUserId")); raw != "" {
			parsed, err := strconv.ParseInt(raw, 10, 64)
			if err != nil || parsed < 0 {
				WriteError(w, http.StatusBadRequest, errors.New("ownerUserId must be a non-negative integer"))
				return
			}
			owner = parsed
		}
	}
	assets, err := h.Assets.ListAssets(r.Context(), owner, limit)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	if assets == nil {
		assets = []models.VideoAsset{}
	}
	WriteJSON(w, http.StatusOK, listResponse{Assets: assets})
}

func (h *Handler) GetAsset(w http.ResponseWriter, r *http.Request) {
	id, err := assetIDFromRequest(r)
	if err != nil {
		WriteError(w, http.StatusBadRequest, err)
		return
	}
	asset, err := h.Assets.GetAsset(logging.ContextWithAssetID(r.Context(), id), id)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, asset)
}

func (h *Handler) DeleteAsset(w http.ResponseWriter, r *http.Request) {
	principal, ok := h.requirePrincipal(w, r)
	if !ok {
		return
	}
	id, err := assetIDFromRequest(r)
	if err != nil {
		WriteError(w, http.StatusBadRequest, err)
		return
	}
	ctx := logging.ContextWithAssetID(r.Context(), id)
	asset, err := h.Assets.LoadAsset(ctx, id)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	if !canManage(principal, asset.OwnerUserID) {
		WriteError(w, http.StatusForbidden, errForbidden)
		return
	}
	if err := h.Assets.DeleteAsset(ctx, id); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, deleteResponse{Deleted: true})
}
