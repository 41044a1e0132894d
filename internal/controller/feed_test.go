package controller

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harvardpoops/app/internal/feed"
	"github.com/harvardpoops/app/internal/model"
)

func TestFeedUnlockProgression(t *testing.T) {
	env := newTestEnv(t)
	events := env.seedEvents(t, 10)
	ctx := context.Background()

	f := NewFeed(env.events, env.rsvps, env.store)
	require.NoError(t, f.Start(ctx, env.userID))
	defer f.Stop()

	// 0 RSVPs: 3 visible, 7 locked.
	v := f.Visibility()
	assert.Len(t, v.Visible, 3)
	assert.Len(t, v.Locked, 7)
	assert.Equal(t, feed.MessageNoRSVPs, v.Message)

	// RSVP once: 6 visible, 4 locked.
	toggle := NewRSVPToggle(env.rsvps, env.store, env.auth, events[0].ID)
	require.NoError(t, toggle.Toggle(ctx))
	v = f.Visibility()
	assert.Len(t, v.Visible, 6)
	assert.Len(t, v.Locked, 4)
	assert.Equal(t, feed.MessageOneRSVP, v.Message)

	// RSVP a second time: everything unlocks.
	toggle2 := NewRSVPToggle(env.rsvps, env.store, env.auth, events[1].ID)
	require.NoError(t, toggle2.Toggle(ctx))
	v = f.Visibility()
	assert.Len(t, v.Visible, 10)
	assert.Empty(t, v.Locked)
	assert.Equal(t, feed.MessageUnlocked, v.Message)
}

func TestFeedRealtimeInsertMergesSorted(t *testing.T) {
	env := newTestEnv(t)
	env.seedEvents(t, 2)
	ctx := context.Background()

	f := NewFeed(env.events, env.rsvps, env.store)
	require.NoError(t, f.Start(ctx, env.userID))
	defer f.Stop()

	require.Len(t, env.store.Events(), 2)

	// A new event published elsewhere arrives over the change feed only.
	created, err := env.events.Create(ctx, model.CreateEventRequest{
		Title: "Breaking",
		Date:  time.Now().UTC().AddDate(0, 0, 1),
		Type:  model.EventTypeParty,
	}, "host-2", "Host Two")
	require.NoError(t, err)

	events := env.store.Events()
	require.Len(t, events, 3)
	assert.Equal(t, created.ID, events[0].ID, "new event sorts by date")
}

func TestFeedRealtimeEchoDoesNotDuplicate(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	f := NewFeed(env.events, env.rsvps, env.store)
	require.NoError(t, f.Start(ctx, env.userID))
	defer f.Stop()

	// The local optimistic path inserts the event into the store first;
	// the realtime echo then arrives for the same id.
	event := model.Event{
		ID:     "evt-1",
		Title:  "Mine",
		Date:   time.Now().UTC().AddDate(0, 0, 1),
		Status: model.EventStatusPublished,
	}
	env.store.ApplyEventChange("INSERT", &event, "")

	_, err := env.backend.CreateRecord(ctx, "events", map[string]any{
		"id":     "evt-1",
		"title":  "Mine",
		"date":   event.Date,
		"type":   "party",
		"status": model.EventStatusPublished,
	})
	require.NoError(t, err)

	assert.Len(t, env.store.Events(), 1)
}

func TestFeedRealtimeDelete(t *testing.T) {
	env := newTestEnv(t)
	events := env.seedEvents(t, 3)
	ctx := context.Background()

	f := NewFeed(env.events, env.rsvps, env.store)
	require.NoError(t, f.Start(ctx, env.userID))
	defer f.Stop()

	require.NoError(t, env.events.Delete(ctx, events[1].ID))

	remaining := env.store.Events()
	require.Len(t, remaining, 2)
	for _, e := range remaining {
		assert.NotEqual(t, events[1].ID, e.ID)
	}
}

func TestFeedStopTearsDownSubscription(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	f := NewFeed(env.events, env.rsvps, env.store)
	require.NoError(t, f.Start(ctx, env.userID))
	f.Stop()

	// Changes after Stop never reach the store.
	env.seedEvents(t, 1)
	assert.Empty(t, env.store.Events())
}
