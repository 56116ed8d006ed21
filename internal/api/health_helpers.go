package api

import (
	"context"
	"net/http"
	"time"
)

// HealthCheck checks one dependency for /healthz.
type HealthCheck struct {
	Component string
	Ping      func(ctx context.Context) error
}

type componentStatus struct {
	Component string `json:"component"`
	Status    string `json:"status"`
	Error     string `json:"error,omitempty"`
}

type healthResponse struct {
	Status     string            `json:"status"`
	Components []componentStatus `json:"components"`
}

const healthTimeout = 3 * time.Second

func (h *Handler) componentHealth(ctx context.Context) ([]componentStatus, string, int) {
	overallStatus := "ok"
	statusCode := http.StatusOK
	components := make([]componentStatus, 0, len(h.HealthChecks))
	for _, check := range h.HealthChecks {
		if check.Ping == nil {
			continue
		}
		status := componentStatus{Component: check.Component, Status: "ok"}
		if err := check.Ping(ctx); err != nil {
			status.Status = "degraded"
			status.Error = err.Error()
			overallStatus = "degraded"
			statusCode = http.StatusServiceUnavailable
		}
		components = append(components, status)
	}
	return components, overallStatus, statusCode
}

// Health reports the state of every registered dependency.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
	defer cancel()
	components, status, code := h.componentHealth(ctx)
	WriteJSON(w, code, healthResponse{Status: status, Components: components})
}
