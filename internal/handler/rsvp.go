package handler

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/harvardpoops/app/internal/auth"
	"github.com/harvardpoops/app/internal/service"
)

// RSVPHandler holds the RSVP HTTP surface.
type RSVPHandler struct {
	rsvps *service.RSVPService
	auth  *auth.Manager
}

// NewRSVPHandler constructs an RSVPHandler.
func NewRSVPHandler(rsvps *service.RSVPService, auth *auth.Manager) *RSVPHandler {
	return &RSVPHandler{rsvps: rsvps, auth: auth}
}

// Create handles POST /events/{id}/rsvp
func (h *RSVPHandler) Create(w http.ResponseWriter, r *http.Request) {
	sess := sessionFrom(r)
	eventID := chi.URLParam(r, "id")

	userName := ""
	if profile, err := h.auth.ProfileByID(r.Context(), sess.UserID); err == nil {
		userName = profile.FullName
	}

	rsvp, err := h.rsvps.Create(r.Context(), eventID, sess.UserID, sess.Email, userName)
	if err != nil {
		if errors.Is(err, service.ErrAlreadyRSVPed) {
			writeError(w, http.StatusConflict, "you already RSVPed to this event")
			return
		}
		writeBackendError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, rsvp)
}

// Delete handles DELETE /events/{id}/rsvp
// Cancelling without an RSVP is a no-op success.
func (h *RSVPHandler) Delete(w http.ResponseWriter, r *http.Request) {
	sess := sessionFrom(r)

	if err := h.rsvps.Cancel(r.Context(), sess.UserID, chi.URLParam(r, "id")); err != nil {
		writeBackendError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Status handles GET /events/{id}/rsvp
// Reports the caller's RSVP flag and the event's attendee count.
func (h *RSVPHandler) Status(w http.ResponseWriter, r *http.Request) {
	sess := sessionFrom(r)
	eventID := chi.URLParam(r, "id")

	rsvped, err := h.rsvps.HasRSVPed(r.Context(), sess.UserID, eventID)
	if err != nil {
		writeBackendError(w, err)
		return
	}
	count, err := h.rsvps.CountForEvent(r.Context(), eventID)
	if err != nil {
		writeBackendError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"rsvped": rsvped,
		"count":  count,
	})
}

// ListMine handles GET /me/rsvps
// Returns the caller's RSVPs joined with their published events.
func (h *RSVPHandler) ListMine(w http.ResponseWriter, r *http.Request) {
	sess := sessionFrom(r)

	joined, err := h.rsvps.ListForUserWithEvents(r.Context(), sess.UserID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list RSVPs")
		return
	}
	if joined == nil {
		joined = []service.RSVPWithEvent{}
	}

	writeJSON(w, http.StatusOK, joined)
}
