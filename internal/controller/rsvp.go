package controller

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/harvardpoops/app/internal/auth"
	"github.com/harvardpoops/app/internal/backend"
	"github.com/harvardpoops/app/internal/model"
	"github.com/harvardpoops/app/internal/optimistic"
	"github.com/harvardpoops/app/internal/service"
	"github.com/harvardpoops/app/internal/store"
)

// RSVPToggle is the RSVP button for one event. The attendee count and
// the user's RSVP flag live in the shared store, so the feed card and
// the detail page for the same event always agree.
type RSVPToggle struct {
	svc     *service.RSVPService
	st      *store.Store
	auth    *auth.Manager
	eventID string

	exec optimistic.Executor
}

// NewRSVPToggle constructs the toggle for one event.
func NewRSVPToggle(svc *service.RSVPService, st *store.Store, auth *auth.Manager, eventID string) *RSVPToggle {
	return &RSVPToggle{svc: svc, st: st, auth: auth, eventID: eventID}
}

// Load seeds the shared attendee-count cache from the backend.
func (c *RSVPToggle) Load(ctx context.Context) error {
	n, err := c.svc.CountForEvent(ctx, c.eventID)
	if err != nil {
		return fmt.Errorf("load rsvp count: %w", err)
	}
	c.st.SetRSVPCount(c.eventID, n)
	return nil
}

// IsRSVPed reports whether the acting user has RSVPed to this event.
func (c *RSVPToggle) IsRSVPed() bool {
	return c.st.HasUserRSVP(c.eventID)
}

// Count returns the cached attendee count for this event.
func (c *RSVPToggle) Count() int {
	return c.st.RSVPCount(c.eventID)
}

// Busy reports whether a toggle is in flight.
func (c *RSVPToggle) Busy() bool {
	return c.exec.Busy()
}

// Toggle creates or cancels the user's RSVP based on current state. The
// local flag and count flip immediately; on failure both are restored to
// their exact pre-invoke values.
func (c *RSVPToggle) Toggle(ctx context.Context) error {
	sess := c.auth.Session()
	profile := c.auth.Profile()
	if sess == nil || profile == nil {
		return fmt.Errorf("must be logged in to RSVP: %w", backend.ErrUnauthenticated)
	}

	prevCount := c.st.RSVPCount(c.eventID)

	if prev, ok := c.st.UserRSVP(c.eventID); ok {
		return c.exec.Do(ctx, optimistic.Command{
			Tentative: func() {
				c.st.RemoveUserRSVP(c.eventID)
				c.st.AdjustRSVPCount(c.eventID, -1)
			},
			Remote: func(ctx context.Context) error {
				return c.svc.Cancel(ctx, sess.UserID, c.eventID)
			},
			Rollback: func() {
				// Restore the exact record that was removed.
				c.st.AddUserRSVP(prev)
				c.st.SetRSVPCount(c.eventID, prevCount)
			},
		})
	}

	var created *model.RSVP
	return c.exec.Do(ctx, optimistic.Command{
		Tentative: func() {
			c.st.AddUserRSVP(model.RSVP{
				ID:        "temp-" + uuid.New().String(),
				EventID:   c.eventID,
				UserID:    sess.UserID,
				UserEmail: profile.Email,
				UserName:  profile.FullName,
			})
			c.st.AdjustRSVPCount(c.eventID, 1)
		},
		Remote: func(ctx context.Context) error {
			rsvp, err := c.svc.Create(ctx, c.eventID, sess.UserID, profile.Email, profile.FullName)
			if err != nil {
				return err
			}
			created = rsvp
			return nil
		},
		Commit: func() {
			// Replace the placeholder with the canonical record.
			c.st.AddUserRSVP(*created)
		},
		Rollback: func() {
			c.st.RemoveUserRSVP(c.eventID)
			c.st.SetRSVPCount(c.eventID, prevCount)
		},
	})
}
