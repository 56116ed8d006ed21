package api

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"

	"learnhub-media/internal/media"
)

// Handler serves the media routes.
type Handler struct {
	Assets       *media.Service
	HealthChecks []HealthCheck
	Logger       *slog.Logger
	// MaxUploadBytes bounds the multipart body. Zero uses media.DefaultMaxBytes.
	MaxUploadBytes int64
	// AllowAnonymous lets protected routes run without a principal.
	AllowAnonymous bool
}

func NewHandler(assets *media.Service, logger *slog.Logger) *Handler {
	return &Handler{Assets: assets, Logger: logger}
}

// Register mounts every media route on router.
func (h *Handler) Register(router *mux.Router) {
	router.HandleFunc("/healthz", h.Health).Methods(http.MethodGet, http.MethodHead)

	api := router.PathPrefix("/api/media").Subrouter()
	api.HandleFunc("/uploads", h.RegisterUpload).Methods(http.MethodPost)
	api.HandleFunc("/videos", h.IngestVideo).Methods(http.MethodPost)
	api.HandleFunc("/assets", h.ListAssets).Methods(http.MethodGet)
	api.HandleFunc("/assets/{id}", h.GetAsset).Methods(http.MethodGet)
	api.HandleFunc("/assets/{id}", h.DeleteAsset).Methods(http.MethodDelete)
	api.HandleFunc("/stream/{key:.+}", h.Stream).Methods(http.MethodGet, http.MethodHead)
	api.HandleFunc("/presign/{key:.+}", h.Presign).Methods(http.MethodGet)
}

var errInvalidAssetID = errors.New("asset id must be a positive integer")

func assetIDFromRequest(r *http.Request) (int64, error) {
	raw := strings.TrimSpace(mux.Vars(r)["id"])
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, errInvalidAssetID
	}
	return id, nil
}
