package handler

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/harvardpoops/app/internal/model"
	"github.com/harvardpoops/app/internal/service"
)

// VoteHandler holds the contest-voting HTTP surface.
type VoteHandler struct {
	voting *service.VotingService
}

// NewVoteHandler constructs a VoteHandler.
func NewVoteHandler(voting *service.VotingService) *VoteHandler {
	return &VoteHandler{voting: voting}
}

// Tally handles GET /events/{id}/votes
// Returns per-option counts, labels and the total.
func (h *VoteHandler) Tally(w http.ResponseWriter, r *http.Request) {
	tally, err := h.voting.Tally(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to tally votes")
		return
	}
	writeJSON(w, http.StatusOK, tally)
}

// Mine handles GET /events/{id}/votes/mine
// Returns the caller's vote, or 404 if they have not voted.
func (h *VoteHandler) Mine(w http.ResponseWriter, r *http.Request) {
	sess := sessionFrom(r)

	vote, err := h.voting.UserVote(r.Context(), chi.URLParam(r, "id"), sess.UserID)
	if err != nil {
		writeBackendError(w, err)
		return
	}
	if vote == nil {
		writeError(w, http.StatusNotFound, "no vote cast")
		return
	}
	writeJSON(w, http.StatusOK, vote)
}

// Cast handles POST /events/{id}/votes
// Votes are immutable: one per user per event, no changes.
func (h *VoteHandler) Cast(w http.ResponseWriter, r *http.Request) {
	sess := sessionFrom(r)

	var req model.CastVoteRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	vote, err := h.voting.Cast(r.Context(), chi.URLParam(r, "id"), req.OptionID, req.OptionLabel, sess.UserID)
	if err != nil {
		if errors.Is(err, service.ErrAlreadyVoted) {
			writeError(w, http.StatusConflict, "you already voted in this contest")
			return
		}
		writeBackendError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, vote)
}
