// Package controller wires services, the state store and the optimistic
// executor into the per-view interaction logic: feed loading with
// realtime merge, RSVP toggling, chat, and contest voting.
package controller

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/harvardpoops/app/internal/backend"
	"github.com/harvardpoops/app/internal/feed"
	"github.com/harvardpoops/app/internal/optimistic"
	"github.com/harvardpoops/app/internal/service"
	"github.com/harvardpoops/app/internal/store"
)

// Feed owns the event feed: initial load, realtime reconciliation into
// the store, and the unlock computation.
type Feed struct {
	events *service.EventService
	rsvps  *service.RSVPService
	st     *store.Store

	gate optimistic.Gate
	sub  backend.Subscription
}

// NewFeed constructs a Feed over the shared store.
func NewFeed(events *service.EventService, rsvps *service.RSVPService, st *store.Store) *Feed {
	return &Feed{events: events, rsvps: rsvps, st: st}
}

// Start loads the published upcoming events (and, when signed in, the
// user's RSVP set) into the store, then subscribes to the event change
// feed. Call Stop when the feed view goes away.
func (f *Feed) Start(ctx context.Context, userID string) error {
	if err := f.Refresh(ctx); err != nil {
		return err
	}
	if userID != "" {
		if err := f.RefreshUserRSVPs(ctx, userID); err != nil {
			return err
		}
	}

	f.sub = f.events.Subscribe(func(ev backend.ChangeEvent) {
		f.gate.Do(func() { f.applyChange(ev) })
	})
	return nil
}

// Refresh reloads the event list wholesale.
func (f *Feed) Refresh(ctx context.Context) error {
	events, err := f.events.ListPublishedUpcoming(ctx)
	if err != nil {
		return fmt.Errorf("load feed: %w", err)
	}
	f.gate.Do(func() { f.st.SetEvents(events) })
	return nil
}

// RefreshUserRSVPs reloads the acting user's RSVP set.
func (f *Feed) RefreshUserRSVPs(ctx context.Context, userID string) error {
	rsvps, err := f.rsvps.ListForUser(ctx, userID)
	if err != nil {
		return fmt.Errorf("load user rsvps: %w", err)
	}
	f.gate.Do(func() { f.st.SetUserRSVPs(rsvps) })
	return nil
}

// Visibility applies the unlock rule to the current store state.
func (f *Feed) Visibility() feed.Visibility {
	return feed.ComputeVisibility(f.st.Events(), f.st.UserRSVPCount())
}

// Stop tears down the subscription and drops any in-flight results.
func (f *Feed) Stop() {
	if f.sub != nil {
		f.sub.Unsubscribe()
		f.sub = nil
	}
	f.gate.Close()
}

// applyChange merges one realtime notification into the store.
func (f *Feed) applyChange(ev backend.ChangeEvent) {
	switch ev.Type {
	case backend.ChangeInsert, backend.ChangeUpdate:
		if ev.New == nil {
			log.Warn().Str("table", ev.Table).Msg("change event without record, dropped")
			return
		}
		event := service.DecodeEvent(ev.New)
		f.st.ApplyEventChange(ev.Type, &event, "")
	case backend.ChangeDelete:
		if ev.Old == nil {
			return
		}
		f.st.ApplyEventChange(ev.Type, nil, ev.Old.String("id"))
	}
}
