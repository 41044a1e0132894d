package handler

import (
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/harvardpoops/app/internal/auth"
	"github.com/harvardpoops/app/internal/model"
	"github.com/harvardpoops/app/internal/service"
)

// EventHandler holds the event CRUD and image HTTP surface.
type EventHandler struct {
	events *service.EventService
	images *service.ImageService
	auth   *auth.Manager
}

// NewEventHandler constructs an EventHandler.
func NewEventHandler(events *service.EventService, images *service.ImageService, auth *auth.Manager) *EventHandler {
	return &EventHandler{events: events, images: images, auth: auth}
}

// Create handles POST /events
func (h *EventHandler) Create(w http.ResponseWriter, r *http.Request) {
	sess := sessionFrom(r)

	var req model.CreateEventRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	hostName := sess.Email
	if profile, perr := h.auth.ProfileByID(r.Context(), sess.UserID); perr == nil {
		hostName = profile.FullName
	}
	event, err := h.events.Create(r.Context(), req, sess.UserID, hostName)
	if err != nil {
		writeBackendError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, event)
}

// ListUpcoming handles GET /events
// Returns published events from today onward, soonest first.
func (h *EventHandler) ListUpcoming(w http.ResponseWriter, r *http.Request) {
	events, err := h.events.ListPublishedUpcoming(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list events")
		return
	}

	// Return an empty array rather than null for better client compatibility.
	if events == nil {
		events = []model.Event{}
	}

	writeJSON(w, http.StatusOK, events)
}

// ListMine handles GET /events/mine
// Returns the caller's hosted events, newest first.
func (h *EventHandler) ListMine(w http.ResponseWriter, r *http.Request) {
	sess := sessionFrom(r)

	events, err := h.events.ListByHost(r.Context(), sess.UserID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list events")
		return
	}
	if events == nil {
		events = []model.Event{}
	}

	writeJSON(w, http.StatusOK, events)
}

// Get handles GET /events/{id}
func (h *EventHandler) Get(w http.ResponseWriter, r *http.Request) {
	event, err := h.events.GetByID(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeBackendError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, event)
}

// Update handles PATCH /events/{id}
// Only the host may update an event.
func (h *EventHandler) Update(w http.ResponseWriter, r *http.Request) {
	sess := sessionFrom(r)
	id := chi.URLParam(r, "id")

	event, err := h.events.GetByID(r.Context(), id)
	if err != nil {
		writeBackendError(w, err)
		return
	}
	if event.HostID != sess.UserID {
		writeError(w, http.StatusForbidden, "only the host can update this event")
		return
	}

	var req model.UpdateEventRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	updated, err := h.events.Update(r.Context(), id, req)
	if err != nil {
		writeBackendError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

// Delete handles DELETE /events/{id}
// Only the host may delete; RSVPs, messages and votes cascade.
func (h *EventHandler) Delete(w http.ResponseWriter, r *http.Request) {
	sess := sessionFrom(r)
	id := chi.URLParam(r, "id")

	event, err := h.events.GetByID(r.Context(), id)
	if err != nil {
		writeBackendError(w, err)
		return
	}
	if event.HostID != sess.UserID {
		writeError(w, http.StatusForbidden, "only the host can delete this event")
		return
	}

	if err := h.events.Delete(r.Context(), id); err != nil {
		writeBackendError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// UploadImage handles POST /events/images
// Accepts a multipart "image" part and returns its public URL.
func (h *EventHandler) UploadImage(w http.ResponseWriter, r *http.Request) {
	sess := sessionFrom(r)

	if err := r.ParseMultipartForm(8 << 20); err != nil {
		writeError(w, http.StatusBadRequest, "invalid multipart form")
		return
	}
	file, header, err := r.FormFile("image")
	if err != nil {
		writeError(w, http.StatusBadRequest, "missing image part")
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read image")
		return
	}

	url, err := h.images.Upload(r.Context(), sess.UserID, header.Filename, data, header.Header.Get("Content-Type"))
	if err != nil {
		writeBackendError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"url": url})
}
