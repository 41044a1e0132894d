// Package store holds the single source of truth for feed state: the
// published event list, the acting user's RSVP set, and a per-event
// attendee-count cache shared by every view of the same event.
package store

import (
	"sort"
	"sync"

	"github.com/harvardpoops/app/internal/backend"
	"github.com/harvardpoops/app/internal/model"
)

// Store is safe for concurrent use. Realtime merges and optimistic
// mutations funnel through the same methods, so a change applied twice
// for the same id is a no-op.
type Store struct {
	mu         sync.Mutex
	events     []model.Event         // sorted by date ascending
	userRSVPs  map[string]model.RSVP // acting user's RSVPs, keyed by event id
	rsvpCounts map[string]int        // attendee counts, keyed by event id

	listeners map[int]func()
	nextID    int
}

// New returns an empty store.
func New() *Store {
	return &Store{
		userRSVPs:  make(map[string]model.RSVP),
		rsvpCounts: make(map[string]int),
		listeners:  make(map[int]func()),
	}
}

// Subscribe registers fn to run after every mutation. The returned
// function removes the listener.
func (s *Store) Subscribe(fn func()) func() {
	s.mu.Lock()
	s.nextID++
	id := s.nextID
	s.listeners[id] = fn
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.listeners, id)
		s.mu.Unlock()
	}
}

// notifyLocked snapshots the listener set; callers invoke the result
// after releasing the lock.
func (s *Store) notifyLocked() []func() {
	out := make([]func(), 0, len(s.listeners))
	for _, fn := range s.listeners {
		out = append(out, fn)
	}
	return out
}

func run(fns []func()) {
	for _, fn := range fns {
		fn()
	}
}

// ─── Events ───────────────────────────────────────────────────────────────

// Events returns a copy of the event list, sorted by date ascending.
func (s *Store) Events() []model.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.Event, len(s.events))
	copy(out, s.events)
	return out
}

// Event returns the event with the given id, if present.
func (s *Store) Event(id string) (model.Event, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.events {
		if e.ID == id {
			return e, true
		}
	}
	return model.Event{}, false
}

// SetEvents replaces the event list wholesale (initial load, refresh).
func (s *Store) SetEvents(events []model.Event) {
	s.mu.Lock()
	s.events = make([]model.Event, len(events))
	copy(s.events, events)
	sortByDate(s.events)
	fns := s.notifyLocked()
	s.mu.Unlock()
	run(fns)
}

// ApplyEventChange merges one realtime change notification into the
// event list. Inserts are deduplicated by id so the echo of this
// client's own write never produces a double entry; updates with no
// matching id are dropped; deletes of absent ids are no-ops.
func (s *Store) ApplyEventChange(t backend.ChangeType, newEvent *model.Event, oldID string) {
	s.mu.Lock()
	switch t {
	case backend.ChangeInsert:
		if newEvent == nil || !newEvent.IsPublished() || s.indexOfLocked(newEvent.ID) >= 0 {
			break
		}
		s.events = append(s.events, *newEvent)
		sortByDate(s.events)
	case backend.ChangeUpdate:
		if newEvent == nil {
			break
		}
		if i := s.indexOfLocked(newEvent.ID); i >= 0 {
			s.events[i] = *newEvent
			sortByDate(s.events)
		}
	case backend.ChangeDelete:
		if i := s.indexOfLocked(oldID); i >= 0 {
			s.events = append(s.events[:i], s.events[i+1:]...)
			delete(s.rsvpCounts, oldID)
			delete(s.userRSVPs, oldID)
		}
	}
	fns := s.notifyLocked()
	s.mu.Unlock()
	run(fns)
}

func (s *Store) indexOfLocked(id string) int {
	for i, e := range s.events {
		if e.ID == id {
			return i
		}
	}
	return -1
}

func sortByDate(events []model.Event) {
	sort.SliceStable(events, func(i, j int) bool {
		return events[i].Date.Before(events[j].Date)
	})
}

// ─── Acting user's RSVPs ──────────────────────────────────────────────────

// SetUserRSVPs replaces the acting user's RSVP set.
func (s *Store) SetUserRSVPs(rsvps []model.RSVP) {
	s.mu.Lock()
	s.userRSVPs = make(map[string]model.RSVP, len(rsvps))
	for _, r := range rsvps {
		s.userRSVPs[r.EventID] = r
	}
	fns := s.notifyLocked()
	s.mu.Unlock()
	run(fns)
}

// AddUserRSVP records an RSVP by the acting user. Idempotent per event.
func (s *Store) AddUserRSVP(r model.RSVP) {
	s.mu.Lock()
	s.userRSVPs[r.EventID] = r
	fns := s.notifyLocked()
	s.mu.Unlock()
	run(fns)
}

// RemoveUserRSVP drops the acting user's RSVP for an event, if any.
func (s *Store) RemoveUserRSVP(eventID string) {
	s.mu.Lock()
	delete(s.userRSVPs, eventID)
	fns := s.notifyLocked()
	s.mu.Unlock()
	run(fns)
}

// HasUserRSVP reports whether the acting user has RSVPed to the event.
func (s *Store) HasUserRSVP(eventID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.userRSVPs[eventID]
	return ok
}

// UserRSVP returns the acting user's RSVP record for the event, if any.
func (s *Store) UserRSVP(eventID string) (model.RSVP, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.userRSVPs[eventID]
	return r, ok
}

// UserRSVPCount is the acting user's total RSVP count, the input to the
// feed unlock rule.
func (s *Store) UserRSVPCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.userRSVPs)
}

// ─── Per-event attendee counts ────────────────────────────────────────────

// RSVPCount returns the cached attendee count for an event.
func (s *Store) RSVPCount(eventID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rsvpCounts[eventID]
}

// SetRSVPCount seeds the attendee count for an event from a fetch.
func (s *Store) SetRSVPCount(eventID string, n int) {
	s.mu.Lock()
	s.rsvpCounts[eventID] = n
	fns := s.notifyLocked()
	s.mu.Unlock()
	run(fns)
}

// AdjustRSVPCount shifts the attendee count, flooring at zero.
func (s *Store) AdjustRSVPCount(eventID string, delta int) {
	s.mu.Lock()
	n := s.rsvpCounts[eventID] + delta
	if n < 0 {
		n = 0
	}
	s.rsvpCounts[eventID] = n
	fns := s.notifyLocked()
	s.mu.Unlock()
	run(fns)
}

// Clear wipes all state. Called on sign-out.
func (s *Store) Clear() {
	s.mu.Lock()
	s.events = nil
	s.userRSVPs = make(map[string]model.RSVP)
	s.rsvpCounts = make(map[string]int)
	fns := s.notifyLocked()
	s.mu.Unlock()
	run(fns)
}
