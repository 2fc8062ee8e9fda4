package api

import (
	"net/http"

	"avsync/internal/session"
)

// HealthHandler reports daemon readiness.
type HealthHandler struct {
	store  *session.Store
	status StatusProvider
}

// NewHealthHandler creates a new health handler.
func NewHealthHandler(store *session.Store, status StatusProvider) *HealthHandler {
	return &HealthHandler{store: store, status: status}
}

// HealthResponse is the JSON payload of GET /healthz.
type HealthResponse struct {
	Status   string                 `json:"status"`
	Running  bool                   `json:"running"`
	Sessions session.HealthSummary  `json:"sessions"`
	Stages   map[string]StageStatus `json:"stages,omitempty"`
	Error    string                 `json:"error,omitempty"`
}

// StageStatus reports one stage's readiness.
type StageStatus struct {
	Ready  bool   `json:"ready"`
	Detail string `json:"detail,omitempty"`
}

func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{Status: "ok"}

	if h.status != nil {
		summary := h.status.Status(r.Context())
		resp.Running = summary.Running
		resp.Sessions = summary.Sessions
		resp.Error = summary.LastError
		resp.Stages = make(map[string]StageStatus, len(summary.StageHealth))
		for name, health := range summary.StageHealth {
			resp.Stages[name] = StageStatus{Ready: health.Ready, Detail: health.Detail}
			if !health.Ready {
				resp.Status = "degraded"
			}
		}
		if !summary.Running {
			resp.Status = "degraded"
		}
	} else if summary, err := h.store.Health(r.Context()); err == nil {
		resp.Sessions = summary
	}

	status := http.StatusOK
	if resp.Status != "ok" {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, resp)
}
