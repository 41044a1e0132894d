package handler

import (
	"errors"
	"net/http"

	"github.com/harvardpoops/app/internal/auth"
	"github.com/harvardpoops/app/internal/model"
)

// AuthHandler holds the signup/login/referral HTTP surface.
type AuthHandler struct {
	mgr *auth.Manager
}

// NewAuthHandler constructs an AuthHandler.
func NewAuthHandler(mgr *auth.Manager) *AuthHandler {
	return &AuthHandler{mgr: mgr}
}

// authResponse pairs a profile with its access token.
type authResponse struct {
	Profile     *model.Profile `json:"profile"`
	AccessToken string         `json:"access_token"`
}

// SignUp handles POST /auth/signup
// Creates an account gated on a valid, unused referral code.
func (h *AuthHandler) SignUp(w http.ResponseWriter, r *http.Request) {
	var req model.SignUpRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	profile, err := h.mgr.SignUp(r.Context(), req)
	if err != nil {
		switch {
		case errors.Is(err, auth.ErrCodeInvalid):
			writeError(w, http.StatusBadRequest, "invalid referral code")
		case errors.Is(err, auth.ErrCodeUsed):
			writeError(w, http.StatusConflict, "referral code already used")
		default:
			writeBackendError(w, err)
		}
		return
	}

	writeJSON(w, http.StatusCreated, authResponse{
		Profile:     profile,
		AccessToken: h.mgr.Session().AccessToken,
	})
}

// SignIn handles POST /auth/login
func (h *AuthHandler) SignIn(w http.ResponseWriter, r *http.Request) {
	var req model.SignInRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	profile, err := h.mgr.SignIn(r.Context(), req)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "invalid email or password")
		return
	}

	writeJSON(w, http.StatusOK, authResponse{
		Profile:     profile,
		AccessToken: h.mgr.Session().AccessToken,
	})
}

// SignOut handles POST /auth/logout
func (h *AuthHandler) SignOut(w http.ResponseWriter, r *http.Request) {
	if err := h.mgr.SignOut(r.Context()); err != nil {
		writeBackendError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "signed out"})
}

// Me handles GET /auth/me
// Returns the authenticated user's profile.
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	sess := sessionFrom(r)
	profile, err := h.mgr.ProfileByID(r.Context(), sess.UserID)
	if err != nil {
		writeBackendError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, profile)
}

// GenerateReferralCode handles POST /auth/referral-codes
// Mints a single-use code against the caller's quota.
func (h *AuthHandler) GenerateReferralCode(w http.ResponseWriter, r *http.Request) {
	sess := sessionFrom(r)
	code, err := h.mgr.GenerateReferralCodeFor(r.Context(), sess.UserID)
	if err != nil {
		writeBackendError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"code": code})
}
