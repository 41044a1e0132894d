// Package feed implements the RSVP-gated event-unlock rule.
package feed

import "github.com/harvardpoops/app/internal/model"

// Unlock thresholds: how many feed events a user sees as a step function
// of their RSVP count. Two RSVPs unlock everything.
const (
	ThresholdNoRSVPs = 3
	ThresholdOneRSVP = 6
)

// Unlock progress messages shown above the feed.
const (
	MessageNoRSVPs  = "RSVP to 1 event to see 6 events total"
	MessageOneRSVP  = "RSVP to 1 more event to unlock all events"
	MessageUnlocked = "All events unlocked!"
)

// Visibility is the result of applying the unlock rule to a feed.
type Visibility struct {
	Visible         []model.Event
	Locked          []model.Event
	UnlockThreshold int // number of visible slots; len(events) when fully unlocked
	Message         string
}

// HasLocked reports whether any events remain locked.
func (v Visibility) HasLocked() bool {
	return len(v.Locked) > 0
}

// ComputeVisibility splits events, already sorted by date ascending, into
// visible and locked slices based on the user's RSVP count. It is total:
// any event list and any non-negative count produce a result.
func ComputeVisibility(events []model.Event, rsvpCount int) Visibility {
	threshold := len(events)
	switch {
	case rsvpCount == 0:
		threshold = ThresholdNoRSVPs
	case rsvpCount == 1:
		threshold = ThresholdOneRSVP
	}
	if threshold > len(events) {
		threshold = len(events)
	}

	v := Visibility{
		Visible:         events[:threshold],
		Locked:          events[threshold:],
		UnlockThreshold: threshold,
	}

	switch {
	case rsvpCount == 0 && v.HasLocked():
		v.Message = MessageNoRSVPs
	case rsvpCount == 1 && v.HasLocked():
		v.Message = MessageOneRSVP
	case rsvpCount >= 2:
		v.Message = MessageUnlocked
	}
	return v
}
