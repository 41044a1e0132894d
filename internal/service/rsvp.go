package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/harvardpoops/app/internal/backend"
	"github.com/harvardpoops/app/internal/model"
)

// ErrAlreadyRSVPed is returned when a user RSVPs twice to the same event.
// The rsvps table's uniqueness constraint is the enforcement mechanism;
// this sentinel is the domain translation of the resulting conflict.
var ErrAlreadyRSVPed = errors.New("already RSVPed to this event")

// RSVPService handles RSVP creation, cancellation and counting.
type RSVPService struct {
	store    backend.Store
	realtime backend.Realtime
}

// NewRSVPService constructs an RSVPService.
func NewRSVPService(store backend.Store, realtime backend.Realtime) *RSVPService {
	return &RSVPService{store: store, realtime: realtime}
}

// RSVPWithEvent pairs an RSVP with a summary of its event.
type RSVPWithEvent struct {
	RSVP  model.RSVP  `json:"rsvp"`
	Event model.Event `json:"event"`
}

// Create records a user's RSVP for an event.
func (s *RSVPService) Create(ctx context.Context, eventID, userID, userEmail, userName string) (*model.RSVP, error) {
	if eventID == "" {
		return nil, fmt.Errorf("event id is required: %w", backend.ErrValidation)
	}
	if userID == "" {
		return nil, backend.ErrUnauthenticated
	}

	rec, err := s.store.CreateRecord(ctx, backend.TableRSVPs, backend.Record{
		"event_id":   eventID,
		"user_id":    userID,
		"user_email": userEmail,
		"user_name":  userName,
	})
	if err != nil {
		if errors.Is(err, backend.ErrConflict) {
			return nil, ErrAlreadyRSVPed
		}
		return nil, fmt.Errorf("create rsvp: %w", err)
	}
	rsvp := DecodeRSVP(rec)
	return &rsvp, nil
}

// Cancel removes a user's RSVP. Cancelling an RSVP that does not exist
// is a no-op.
func (s *RSVPService) Cancel(ctx context.Context, userID, eventID string) error {
	if err := s.store.DeleteRecord(ctx, backend.TableRSVPs,
		backend.Filter{"user_id": userID, "event_id": eventID}); err != nil {
		return fmt.Errorf("cancel rsvp: %w", err)
	}
	return nil
}

// HasRSVPed reports whether the user has an RSVP for the event.
func (s *RSVPService) HasRSVPed(ctx context.Context, userID, eventID string) (bool, error) {
	_, err := s.store.ReadRecord(ctx, backend.TableRSVPs,
		backend.Filter{"user_id": userID, "event_id": eventID})
	if err != nil {
		if errors.Is(err, backend.ErrNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("check rsvp: %w", err)
	}
	return true, nil
}

// CountForEvent returns the attendee count for an event.
func (s *RSVPService) CountForEvent(ctx context.Context, eventID string) (int, error) {
	n, err := s.store.CountRecords(ctx, backend.TableRSVPs, backend.Filter{"event_id": eventID})
	if err != nil {
		return 0, fmt.Errorf("count event rsvps: %w", err)
	}
	return n, nil
}

// CountForUser returns the user's total RSVP count, which drives the
// feed unlock.
func (s *RSVPService) CountForUser(ctx context.Context, userID string) (int, error) {
	n, err := s.store.CountRecords(ctx, backend.TableRSVPs, backend.Filter{"user_id": userID})
	if err != nil {
		return 0, fmt.Errorf("count user rsvps: %w", err)
	}
	return n, nil
}

// ListForUser returns a user's RSVPs, newest first.
func (s *RSVPService) ListForUser(ctx context.Context, userID string) ([]model.RSVP, error) {
	recs, err := s.store.ListRecords(ctx, backend.TableRSVPs,
		backend.Filter{"user_id": userID},
		&backend.Order{Field: "created_at", Desc: true}, 0)
	if err != nil {
		return nil, fmt.Errorf("list user rsvps: %w", err)
	}
	rsvps := make([]model.RSVP, 0, len(recs))
	for _, rec := range recs {
		rsvps = append(rsvps, DecodeRSVP(rec))
	}
	return rsvps, nil
}

// ListForUserWithEvents joins a user's RSVPs with event summaries,
// dropping RSVPs whose event is missing or no longer published.
func (s *RSVPService) ListForUserWithEvents(ctx context.Context, userID string) ([]RSVPWithEvent, error) {
	rsvps, err := s.ListForUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	var out []RSVPWithEvent
	for _, rsvp := range rsvps {
		rec, err := s.store.ReadRecord(ctx, backend.TableEvents, backend.Filter{"id": rsvp.EventID})
		if err != nil {
			if errors.Is(err, backend.ErrNotFound) {
				continue
			}
			return nil, fmt.Errorf("read rsvp event: %w", err)
		}
		event := DecodeEvent(rec)
		if !event.IsPublished() {
			continue
		}
		out = append(out, RSVPWithEvent{RSVP: rsvp, Event: event})
	}
	return out, nil
}

// SubscribeEvent delivers change notifications for one event's RSVPs.
func (s *RSVPService) SubscribeEvent(eventID string, fn backend.ChangeHandler) backend.Subscription {
	return s.realtime.Subscribe(backend.TableRSVPs, backend.Filter{"event_id": eventID}, fn)
}
