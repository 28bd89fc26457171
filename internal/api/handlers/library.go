package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/amaumene/shelfsync/internal/controllers"
	"github.com/amaumene/shelfsync/internal/models"
	"github.com/sirupsen/logrus"
)

// maxBodyBytes caps a request body. Items carry overviews and cast lists, so
// give them room.
const maxBodyBytes = 1 << 20

// LibraryHandler exposes the library operations over HTTP
type LibraryHandler struct {
	library *controllers.LibraryController
	logger  *logrus.Logger
}

// NewLibraryHandler creates a new library handler
func NewLibraryHandler(library *controllers.LibraryController, logger *logrus.Logger) *LibraryHandler {
	return &LibraryHandler{
		library: library,
		logger:  logger,
	}
}

// AddRequest is the body of POST /api/library
type AddRequest struct {
	Item   models.LibraryItem `json:"item"`
	Status models.Status      `json:"status"`
}

// List reloads the library and returns it
func (h *LibraryHandler) List(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.library.LoadLibrary(r.Context()))
}

// Add stores a new item
func (h *LibraryHandler) Add(w http.ResponseWriter, r *http.Request) {
	var req AddRequest
	if !h.decode(w, r, &req) {
		return
	}
	if !req.Status.Valid() {
		http.Error(w, "Invalid status", http.StatusBadRequest)
		return
	}
	req.Item.Status = req.Status
	if err := req.Item.Validate(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	writeMutation(w, h.library.AddItem(r.Context(), req.Item, req.Status))
}

// Update applies a partial update to the item named in the path
func (h *LibraryHandler) Update(w http.ResponseWriter, r *http.Request) {
	var update models.ItemUpdate
	if !h.decode(w, r, &update) {
		return
	}
	if err := update.Validate(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	writeMutation(w, h.library.UpdateItem(r.Context(), r.PathValue("id"), update))
}

// Delete removes the item named in the path
func (h *LibraryHandler) Delete(w http.ResponseWriter, r *http.Request) {
	writeMutation(w, h.library.DeleteItem(r.Context(), r.PathValue("id")))
}

func (h *LibraryHandler) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		h.logger.WithError(err).WithField("path", r.URL.Path).Warn("Failed to decode request body")
		http.Error(w, "Invalid payload", http.StatusBadRequest)
		return false
	}
	return true
}
