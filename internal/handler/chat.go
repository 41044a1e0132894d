package handler

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/harvardpoops/app/internal/auth"
	"github.com/harvardpoops/app/internal/model"
	"github.com/harvardpoops/app/internal/service"
)

// ChatHandler holds the event-chat HTTP surface.
type ChatHandler struct {
	chat *service.ChatService
	auth *auth.Manager
}

// NewChatHandler constructs a ChatHandler.
func NewChatHandler(chat *service.ChatService, auth *auth.Manager) *ChatHandler {
	return &ChatHandler{chat: chat, auth: auth}
}

// List handles GET /events/{id}/messages
// Returns the most recent window of messages, oldest first. ?limit=
// overrides the default window.
func (h *ChatHandler) List(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}

	msgs, err := h.chat.Messages(r.Context(), chi.URLParam(r, "id"), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list messages")
		return
	}
	if msgs == nil {
		msgs = []model.ChatMessage{}
	}

	writeJSON(w, http.StatusOK, msgs)
}

// Send handles POST /events/{id}/messages
func (h *ChatHandler) Send(w http.ResponseWriter, r *http.Request) {
	sess := sessionFrom(r)

	var req model.SendMessageRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	userName := sess.Email
	if profile, err := h.auth.ProfileByID(r.Context(), sess.UserID); err == nil {
		userName = profile.FullName
	}

	msg, err := h.chat.Send(r.Context(), chi.URLParam(r, "id"), sess.UserID, userName, req.Message)
	if err != nil {
		writeBackendError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, msg)
}
