package handlers

import (
	"net/http"
	"time"

	"github.com/amaumene/shelfsync/internal/controllers"
	"github.com/sirupsen/logrus"
)

// StatusHandler handles status requests
type StatusHandler struct {
	library *controllers.LibraryController
	logger  *logrus.Logger
}

// NewStatusHandler creates a new status handler
func NewStatusHandler(library *controllers.LibraryController, logger *logrus.Logger) *StatusHandler {
	return &StatusHandler{
		library: library,
		logger:  logger,
	}
}

// StatusResponse represents the status response
type StatusResponse struct {
	TotalItems       int            `json:"total_items"`
	ItemsByStatus    map[string]int `json:"items_by_status"`
	ItemsByCategory  map[string]int `json:"items_by_category"`
	LastSync         *time.Time     `json:"last_sync,omitempty"`
	Subscribers      int            `json:"subscribers"`
	MutationInFlight bool           `json:"mutation_in_flight"`
}

// ServeHTTP reports on the in-memory snapshot without touching the remote
func (h *StatusHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	items := h.library.Snapshot()

	response := StatusResponse{
		TotalItems:       len(items),
		ItemsByStatus:    make(map[string]int),
		ItemsByCategory:  make(map[string]int),
		Subscribers:      h.library.SubscriberCount(),
		MutationInFlight: h.library.MutationInFlight(),
	}
	if last := h.library.LastSyncTime(); !last.IsZero() {
		response.LastSync = &last
	}

	for _, item := range items {
		response.ItemsByStatus[string(item.Status)]++
		response.ItemsByCategory[string(item.Category)]++
	}

	writeJSON(w, http.StatusOK, response)
}
