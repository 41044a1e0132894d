package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harvardpoops/app/internal/auth"
	"github.com/harvardpoops/app/internal/backend"
	"github.com/harvardpoops/app/internal/backend/memory"
	"github.com/harvardpoops/app/internal/model"
	"github.com/harvardpoops/app/internal/service"
)

// testServer is the API wired over the in-memory backend.
type testServer struct {
	router  chi.Router
	backend *memory.Backend
	mgr     *auth.Manager
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	b := memory.New()

	_, err := b.CreateRecord(context.Background(), backend.TableReferralCodes, backend.Record{
		"code": "HP-SEED01", "created_by": "system", "is_used": false,
	})
	require.NoError(t, err)

	mgr := auth.NewManager(b, b)
	events := service.NewEventService(b, b)
	rsvps := service.NewRSVPService(b, b)
	chat := service.NewChatService(b, b)
	voting := service.NewVotingService(b, b)
	images := service.NewImageService(b)

	authHandler := NewAuthHandler(mgr)
	eventHandler := NewEventHandler(events, images, mgr)
	rsvpHandler := NewRSVPHandler(rsvps, mgr)
	chatHandler := NewChatHandler(chat, mgr)
	voteHandler := NewVoteHandler(voting)

	r := chi.NewRouter()
	r.Get("/health", HealthCheck)
	r.Route("/auth", func(r chi.Router) {
		r.Post("/signup", authHandler.SignUp)
		r.Post("/login", authHandler.SignIn)
		r.Group(func(r chi.Router) {
			r.Use(RequireAuth(b))
			r.Post("/logout", authHandler.SignOut)
			r.Get("/me", authHandler.Me)
			r.Post("/referral-codes", authHandler.GenerateReferralCode)
		})
	})
	r.Route("/events", func(r chi.Router) {
		r.Use(RequireAuth(b))
		r.Post("/", eventHandler.Create)
		r.Get("/", eventHandler.ListUpcoming)
		r.Get("/mine", eventHandler.ListMine)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", eventHandler.Get)
			r.Patch("/", eventHandler.Update)
			r.Delete("/", eventHandler.Delete)
			r.Post("/rsvp", rsvpHandler.Create)
			r.Delete("/rsvp", rsvpHandler.Delete)
			r.Get("/rsvp", rsvpHandler.Status)
			r.Get("/messages", chatHandler.List)
			r.Post("/messages", chatHandler.Send)
			r.Get("/votes", voteHandler.Tally)
			r.Post("/votes", voteHandler.Cast)
			r.Get("/votes/mine", voteHandler.Mine)
		})
	})
	r.Group(func(r chi.Router) {
		r.Use(RequireAuth(b))
		r.Get("/me/rsvps", rsvpHandler.ListMine)
	})

	return &testServer{router: r, backend: b, mgr: mgr}
}

func (s *testServer) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

// signUp registers a user through the API and returns their token.
func (s *testServer) signUp(t *testing.T, email, name, code string) string {
	t.Helper()
	w := s.do(t, http.MethodPost, "/auth/signup", "", model.SignUpRequest{
		Email:        email,
		Password:     "correct-horse",
		FullName:     name,
		ReferralCode: code,
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var resp struct {
		AccessToken string `json:"access_token"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.AccessToken)
	return resp.AccessToken
}

func decodeBody[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v))
	return v
}

func TestSignUpAndMe(t *testing.T) {
	s := newTestServer(t)
	token := s.signUp(t, "alice@college.harvard.edu", "Alice Adams", "HP-SEED01")

	w := s.do(t, http.MethodGet, "/auth/me", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	profile := decodeBody[model.Profile](t, w)
	assert.Equal(t, "Alice Adams", profile.FullName)
	assert.Equal(t, auth.DefaultReferralQuota, profile.ReferralCodesRemaining)
}

func TestSignUpUsedCodeRejected(t *testing.T) {
	s := newTestServer(t)
	s.signUp(t, "alice@college.harvard.edu", "Alice Adams", "HP-SEED01")

	w := s.do(t, http.MethodPost, "/auth/signup", "", model.SignUpRequest{
		Email:        "bob@harvard.edu",
		Password:     "correct-horse",
		FullName:     "Bob Brown",
		ReferralCode: "HP-SEED01",
	})
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestSignUpBadCodeRejected(t *testing.T) {
	s := newTestServer(t)
	w := s.do(t, http.MethodPost, "/auth/signup", "", model.SignUpRequest{
		Email:        "alice@college.harvard.edu",
		Password:     "correct-horse",
		FullName:     "Alice Adams",
		ReferralCode: "HP-NOSUCH",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestLoginWrongPassword(t *testing.T) {
	s := newTestServer(t)
	s.signUp(t, "alice@college.harvard.edu", "Alice Adams", "HP-SEED01")

	w := s.do(t, http.MethodPost, "/auth/login", "", model.SignInRequest{
		Email:    "alice@college.harvard.edu",
		Password: "wrong-horse",
	})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestProtectedRoutesRequireToken(t *testing.T) {
	s := newTestServer(t)

	w := s.do(t, http.MethodGet, "/events/", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = s.do(t, http.MethodGet, "/events/", "not-a-token", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestReferralCodeGenerationAndQuota(t *testing.T) {
	s := newTestServer(t)
	token := s.signUp(t, "alice@college.harvard.edu", "Alice Adams", "HP-SEED01")

	for i := 0; i < auth.DefaultReferralQuota; i++ {
		w := s.do(t, http.MethodPost, "/auth/referral-codes", token, nil)
		require.Equal(t, http.StatusCreated, w.Code)
		resp := decodeBody[map[string]string](t, w)
		assert.True(t, strings.HasPrefix(resp["code"], "HP-"))
	}

	w := s.do(t, http.MethodPost, "/auth/referral-codes", token, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestEventLifecycle(t *testing.T) {
	s := newTestServer(t)
	token := s.signUp(t, "alice@college.harvard.edu", "Alice Adams", "HP-SEED01")

	w := s.do(t, http.MethodPost, "/events/", token, model.CreateEventRequest{
		Title: "Tailgate",
		Date:  time.Now().UTC().AddDate(0, 0, 2),
		Type:  model.EventTypeTailgate,
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	event := decodeBody[model.Event](t, w)
	assert.Equal(t, "Alice Adams", event.HostName)
	assert.Equal(t, model.EventStatusPublished, event.Status)

	w = s.do(t, http.MethodGet, "/events/", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	listed := decodeBody[[]model.Event](t, w)
	require.Len(t, listed, 1)

	newTitle := "Harvard-Yale Tailgate"
	w = s.do(t, http.MethodPatch, "/events/"+event.ID, token, model.UpdateEventRequest{Title: &newTitle})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, newTitle, decodeBody[model.Event](t, w).Title)

	w = s.do(t, http.MethodDelete, "/events/"+event.ID, token, nil)
	require.Equal(t, http.StatusNoContent, w.Code)

	w = s.do(t, http.MethodGet, "/events/"+event.ID, token, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestUpdateForbiddenForNonHost(t *testing.T) {
	s := newTestServer(t)
	hostToken := s.signUp(t, "alice@college.harvard.edu", "Alice Adams", "HP-SEED01")

	w := s.do(t, http.MethodPost, "/auth/referral-codes", hostToken, nil)
	require.Equal(t, http.StatusCreated, w.Code)
	code := decodeBody[map[string]string](t, w)["code"]
	guestToken := s.signUp(t, "bob@harvard.edu", "Bob Brown", code)

	w = s.do(t, http.MethodPost, "/events/", hostToken, model.CreateEventRequest{
		Title: "Mixer",
		Date:  time.Now().UTC().AddDate(0, 0, 1),
		Type:  model.EventTypeMixer,
	})
	require.Equal(t, http.StatusCreated, w.Code)
	event := decodeBody[model.Event](t, w)

	newTitle := "Hijacked"
	w = s.do(t, http.MethodPatch, "/events/"+event.ID, guestToken, model.UpdateEventRequest{Title: &newTitle})
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = s.do(t, http.MethodDelete, "/events/"+event.ID, guestToken, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestRSVPRoundTrip(t *testing.T) {
	s := newTestServer(t)
	token := s.signUp(t, "alice@college.harvard.edu", "Alice Adams", "HP-SEED01")

	w := s.do(t, http.MethodPost, "/events/", token, model.CreateEventRequest{
		Title: "Party",
		Date:  time.Now().UTC().AddDate(0, 0, 1),
		Type:  model.EventTypeParty,
	})
	require.Equal(t, http.StatusCreated, w.Code)
	event := decodeBody[model.Event](t, w)
	base := "/events/" + event.ID + "/rsvp"

	w = s.do(t, http.MethodPost, base, token, nil)
	require.Equal(t, http.StatusCreated, w.Code)

	w = s.do(t, http.MethodPost, base, token, nil)
	assert.Equal(t, http.StatusConflict, w.Code)

	w = s.do(t, http.MethodGet, base, token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	status := decodeBody[map[string]any](t, w)
	assert.Equal(t, true, status["rsvped"])
	assert.Equal(t, float64(1), status["count"])

	w = s.do(t, http.MethodGet, "/me/rsvps", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	mine := decodeBody[[]service.RSVPWithEvent](t, w)
	require.Len(t, mine, 1)
	assert.Equal(t, event.ID, mine[0].Event.ID)

	w = s.do(t, http.MethodDelete, base, token, nil)
	require.Equal(t, http.StatusNoContent, w.Code)

	// Cancelling again is still a success.
	w = s.do(t, http.MethodDelete, base, token, nil)
	assert.Equal(t, http.StatusNoContent, w.Code)
}

func TestChatSendAndList(t *testing.T) {
	s := newTestServer(t)
	token := s.signUp(t, "alice@college.harvard.edu", "Alice Adams", "HP-SEED01")

	w := s.do(t, http.MethodPost, "/events/", token, model.CreateEventRequest{
		Title:   "Study Night",
		Date:    time.Now().UTC().AddDate(0, 0, 1),
		Type:    model.EventTypeStudy,
		HasChat: true,
	})
	require.Equal(t, http.StatusCreated, w.Code)
	event := decodeBody[model.Event](t, w)
	base := "/events/" + event.ID + "/messages"

	w = s.do(t, http.MethodPost, base, token, model.SendMessageRequest{Message: "lamont at 8?"})
	require.Equal(t, http.StatusCreated, w.Code)

	w = s.do(t, http.MethodPost, base, token, model.SendMessageRequest{Message: "   "})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(t, http.MethodPost, base, token, model.SendMessageRequest{
		Message: strings.Repeat("x", model.MaxChatMessageLen+1),
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(t, http.MethodGet, base, token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	msgs := decodeBody[[]model.ChatMessage](t, w)
	require.Len(t, msgs, 1)
	assert.Equal(t, "lamont at 8?", msgs[0].Message)
	assert.Equal(t, "Alice Adams", msgs[0].UserName)
}

func TestVoteOncePerUser(t *testing.T) {
	s := newTestServer(t)
	token := s.signUp(t, "alice@college.harvard.edu", "Alice Adams", "HP-SEED01")

	w := s.do(t, http.MethodPost, "/events/", token, model.CreateEventRequest{
		Title:     "Costume Contest",
		Date:      time.Now().UTC().AddDate(0, 0, 1),
		Type:      model.EventTypeContest,
		HasVoting: true,
		VotingOptions: []model.VotingOption{
			{ID: "opt-1", Label: "Best Costume"},
			{ID: "opt-2", Label: "Funniest"},
		},
	})
	require.Equal(t, http.StatusCreated, w.Code)
	event := decodeBody[model.Event](t, w)
	base := "/events/" + event.ID + "/votes"

	w = s.do(t, http.MethodGet, base+"/mine", token, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = s.do(t, http.MethodPost, base, token, model.CastVoteRequest{OptionID: "opt-1", OptionLabel: "Best Costume"})
	require.Equal(t, http.StatusCreated, w.Code)

	w = s.do(t, http.MethodPost, base, token, model.CastVoteRequest{OptionID: "opt-2", OptionLabel: "Funniest"})
	assert.Equal(t, http.StatusConflict, w.Code)

	w = s.do(t, http.MethodGet, base, token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	tally := decodeBody[service.VoteTally](t, w)
	assert.Equal(t, 1, tally.Total)
	assert.Equal(t, 1, tally.Counts["opt-1"])

	w = s.do(t, http.MethodGet, base+"/mine", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "opt-1", decodeBody[model.Vote](t, w).OptionID)
}

func TestHealth(t *testing.T) {
	s := newTestServer(t)
	w := s.do(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
}
