package controller

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/harvardpoops/app/internal/auth"
	"github.com/harvardpoops/app/internal/backend"
	"github.com/harvardpoops/app/internal/backend/memory"
	"github.com/harvardpoops/app/internal/model"
	"github.com/harvardpoops/app/internal/service"
	"github.com/harvardpoops/app/internal/store"
)

// testEnv wires a full app core over the in-memory backend with one
// signed-in user.
type testEnv struct {
	backend *memory.Backend
	store   *store.Store
	auth    *auth.Manager
	events  *service.EventService
	rsvps   *service.RSVPService
	chat    *service.ChatService
	voting  *service.VotingService
	userID  string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	b := memory.New()
	ctx := context.Background()

	_, err := b.CreateRecord(ctx, backend.TableReferralCodes, backend.Record{
		"code": "HP-TESTER", "created_by": "founder", "is_used": false,
	})
	require.NoError(t, err)

	mgr := auth.NewManager(b, b)
	_, err = mgr.SignUp(ctx, model.SignUpRequest{
		Email:        "alice@college.harvard.edu",
		Password:     "correct-horse",
		FullName:     "Alice Adams",
		ReferralCode: "HP-TESTER",
	})
	require.NoError(t, err)

	return &testEnv{
		backend: b,
		store:   store.New(),
		auth:    mgr,
		events:  service.NewEventService(b, b),
		rsvps:   service.NewRSVPService(b, b),
		chat:    service.NewChatService(b, b),
		voting:  service.NewVotingService(b, b),
		userID:  mgr.Session().UserID,
	}
}

// seedEvents creates n published future events hosted by someone else.
func (env *testEnv) seedEvents(t *testing.T, n int) []model.Event {
	t.Helper()
	out := make([]model.Event, n)
	base := time.Now().UTC().AddDate(0, 0, 1)
	for i := range out {
		event, err := env.events.Create(context.Background(), model.CreateEventRequest{
			Title: "Event " + string(rune('A'+i)),
			Date:  base.AddDate(0, 0, i),
			Type:  model.EventTypeParty,
		}, "host-1", "Host One")
		require.NoError(t, err)
		out[i] = *event
	}
	return out
}
