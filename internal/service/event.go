// Package service implements the thin domain services between
// controllers and the backend: validation, record translation, and
// mapping of raw backend failures into the domain error taxonomy.
package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/harvardpoops/app/internal/backend"
	"github.com/harvardpoops/app/internal/model"
)

// EventService handles event CRUD and the event change feed.
type EventService struct {
	store    backend.Store
	realtime backend.Realtime
}

// NewEventService constructs an EventService.
func NewEventService(store backend.Store, realtime backend.Realtime) *EventService {
	return &EventService{store: store, realtime: realtime}
}

// Create validates and inserts a host-authored event. Events are
// auto-published and always RSVP-able.
func (s *EventService) Create(ctx context.Context, req model.CreateEventRequest, hostID, hostName string) (*model.Event, error) {
	req.Title = strings.TrimSpace(req.Title)
	if req.Title == "" {
		return nil, fmt.Errorf("event title is required: %w", backend.ErrValidation)
	}
	if req.Date.IsZero() {
		return nil, fmt.Errorf("event date is required: %w", backend.ErrValidation)
	}
	if !model.ValidEventType(req.Type) {
		return nil, fmt.Errorf("unknown event type %q: %w", req.Type, backend.ErrValidation)
	}
	if req.MaxAttendees < 0 {
		return nil, fmt.Errorf("max attendees cannot be negative: %w", backend.ErrValidation)
	}
	if hostID == "" {
		return nil, backend.ErrUnauthenticated
	}

	now := time.Now().UTC()
	rec, err := s.store.CreateRecord(ctx, backend.TableEvents, backend.Record{
		"title":           req.Title,
		"description":     req.Description,
		"date":            req.Date,
		"time":            req.Time,
		"location":        req.Location,
		"type":            string(req.Type),
		"host_id":         hostID,
		"host_name":       hostName,
		"cover_image_url": req.CoverImageURL,
		"status":          model.EventStatusPublished,
		"max_attendees":   req.MaxAttendees,
		"is_invite_only":  req.IsInviteOnly,
		"has_rsvp":        true,
		"has_chat":        req.HasChat,
		"has_voting":      req.HasVoting,
		"voting_options":  req.VotingOptions,
		"updated_at":      now,
	})
	if err != nil {
		return nil, fmt.Errorf("create event: %w", err)
	}
	event := DecodeEvent(rec)
	return &event, nil
}

// GetByID returns a single event or backend.ErrNotFound.
func (s *EventService) GetByID(ctx context.Context, id string) (*model.Event, error) {
	if id == "" {
		return nil, fmt.Errorf("event id is required: %w", backend.ErrValidation)
	}
	rec, err := s.store.ReadRecord(ctx, backend.TableEvents, backend.Filter{"id": id})
	if err != nil {
		return nil, fmt.Errorf("get event: %w", err)
	}
	event := DecodeEvent(rec)
	return &event, nil
}

// ListPublishedUpcoming returns published events dated today or later,
// sorted by date ascending, the order the feed expects.
func (s *EventService) ListPublishedUpcoming(ctx context.Context) ([]model.Event, error) {
	recs, err := s.store.ListRecords(ctx, backend.TableEvents,
		backend.Filter{"status": model.EventStatusPublished},
		&backend.Order{Field: "date"}, 0)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}

	today := startOfDay(time.Now().UTC())
	var events []model.Event
	for _, rec := range recs {
		e := DecodeEvent(rec)
		if e.Date.Before(today) {
			continue
		}
		events = append(events, e)
	}
	return events, nil
}

// ListByHost returns all of a host's events, newest first.
func (s *EventService) ListByHost(ctx context.Context, hostID string) ([]model.Event, error) {
	recs, err := s.store.ListRecords(ctx, backend.TableEvents,
		backend.Filter{"host_id": hostID},
		&backend.Order{Field: "created_at", Desc: true}, 0)
	if err != nil {
		return nil, fmt.Errorf("list host events: %w", err)
	}
	events := make([]model.Event, 0, len(recs))
	for _, rec := range recs {
		events = append(events, DecodeEvent(rec))
	}
	return events, nil
}

// Update applies a partial edit and stamps updated_at. Host-only by
// convention; enforcement lives at the HTTP layer.
func (s *EventService) Update(ctx context.Context, id string, req model.UpdateEventRequest) (*model.Event, error) {
	if id == "" {
		return nil, fmt.Errorf("event id is required: %w", backend.ErrValidation)
	}

	fields := backend.Record{"updated_at": time.Now().UTC()}
	if req.Title != nil {
		title := strings.TrimSpace(*req.Title)
		if title == "" {
			return nil, fmt.Errorf("event title cannot be empty: %w", backend.ErrValidation)
		}
		fields["title"] = title
	}
	if req.Description != nil {
		fields["description"] = *req.Description
	}
	if req.Date != nil {
		fields["date"] = *req.Date
	}
	if req.Time != nil {
		fields["time"] = *req.Time
	}
	if req.Location != nil {
		fields["location"] = *req.Location
	}
	if req.Type != nil {
		if !model.ValidEventType(*req.Type) {
			return nil, fmt.Errorf("unknown event type %q: %w", *req.Type, backend.ErrValidation)
		}
		fields["type"] = string(*req.Type)
	}
	if req.CoverImageURL != nil {
		fields["cover_image_url"] = *req.CoverImageURL
	}
	if req.MaxAttendees != nil {
		fields["max_attendees"] = *req.MaxAttendees
	}
	if req.IsInviteOnly != nil {
		fields["is_invite_only"] = *req.IsInviteOnly
	}
	if req.HasChat != nil {
		fields["has_chat"] = *req.HasChat
	}
	if req.HasVoting != nil {
		fields["has_voting"] = *req.HasVoting
	}
	if req.VotingOptions != nil {
		fields["voting_options"] = req.VotingOptions
	}

	rec, err := s.store.UpdateRecord(ctx, backend.TableEvents, backend.Filter{"id": id}, fields)
	if err != nil {
		return nil, fmt.Errorf("update event: %w", err)
	}
	event := DecodeEvent(rec)
	return &event, nil
}

// Delete removes an event. RSVPs, messages and votes cascade at the
// storage layer.
func (s *EventService) Delete(ctx context.Context, id string) error {
	if id == "" {
		return fmt.Errorf("event id is required: %w", backend.ErrValidation)
	}
	if err := s.store.DeleteRecord(ctx, backend.TableEvents, backend.Filter{"id": id}); err != nil {
		return fmt.Errorf("delete event: %w", err)
	}
	return nil
}

// Subscribe delivers change notifications for the whole event set.
func (s *EventService) Subscribe(fn backend.ChangeHandler) backend.Subscription {
	return s.realtime.Subscribe(backend.TableEvents, nil, fn)
}

func startOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}
