package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/amaumene/shelfsync/internal/scheduler"
	"github.com/sirupsen/logrus"
)

// SyncHandler forwards client visibility and focus events to the scheduler
type SyncHandler struct {
	scheduler *scheduler.Scheduler
	logger    *logrus.Logger
}

// NewSyncHandler creates a new sync handler
func NewSyncHandler(s *scheduler.Scheduler, logger *logrus.Logger) *SyncHandler {
	return &SyncHandler{
		scheduler: s,
		logger:    logger,
	}
}

// TriggerResponse reports whether the event caused a reload
type TriggerResponse struct {
	Reloaded bool `json:"reloaded"`
}

// Visibility handles POST /api/sync/visibility
func (h *SyncHandler) Visibility(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Visible *bool `json:"visible"`
	}
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1024)).Decode(&payload); err != nil || payload.Visible == nil {
		http.Error(w, "Invalid payload", http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusOK, TriggerResponse{
		Reloaded: h.scheduler.OnVisibilityChange(r.Context(), *payload.Visible),
	})
}

// Focus handles POST /api/sync/focus
func (h *SyncHandler) Focus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, TriggerResponse{Reloaded: h.scheduler.OnFocus(r.Context())})
}
