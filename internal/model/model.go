// Package model defines the core domain types for the Harvard Poops app.
package model

import "time"

// EventType classifies an event for filtering and placeholder art.
type EventType string

// All recognised event types.
const (
	EventTypeParty    EventType = "party"
	EventTypeSocial   EventType = "social"
	EventTypeStudy    EventType = "study"
	EventTypeSports   EventType = "sports"
	EventTypeCulture  EventType = "culture"
	EventTypeFood     EventType = "food"
	EventTypeContest  EventType = "contest"
	EventTypeTailgate EventType = "tailgate"
	EventTypeMixer    EventType = "mixer"
	EventTypeOther    EventType = "other"
)

// ValidEventType reports whether t is one of the recognised event types.
func ValidEventType(t EventType) bool {
	switch t {
	case EventTypeParty, EventTypeSocial, EventTypeStudy, EventTypeSports,
		EventTypeCulture, EventTypeFood, EventTypeContest, EventTypeTailgate,
		EventTypeMixer, EventTypeOther:
		return true
	}
	return false
}

// Event statuses. Events are auto-published on creation; draft exists for
// host-side editing flows.
const (
	EventStatusDraft     = "draft"
	EventStatusPublished = "published"
)

// VotingOption is a single contest-poll choice, ordered within the event.
type VotingOption struct {
	ID    string `json:"id"`
	Label string `json:"label"`
}

// Event represents a feed event created by a host.
type Event struct {
	ID            string         `json:"id"`
	Title         string         `json:"title"`
	Description   string         `json:"description"`
	Date          time.Time      `json:"date"`
	Time          string         `json:"time"`
	Location      string         `json:"location"`
	Type          EventType      `json:"type"`
	HostID        string         `json:"host_id"`
	HostName      string         `json:"host_name"`
	CoverImageURL string         `json:"cover_image_url,omitempty"`
	Status        string         `json:"status"`
	MaxAttendees  int            `json:"max_attendees,omitempty"` // 0 = uncapped
	IsInviteOnly  bool           `json:"is_invite_only"`
	HasRSVP       bool           `json:"has_rsvp"`
	HasChat       bool           `json:"has_chat"`
	HasVoting     bool           `json:"has_voting"`
	VotingOptions []VotingOption `json:"voting_options,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
}

// IsPublished reports whether the event is visible to non-hosts.
func (e *Event) IsPublished() bool {
	return e.Status == EventStatusPublished
}

// RSVP represents a user's confirmed intent to attend an event.
// At most one exists per (event, user) pair.
type RSVP struct {
	ID        string    `json:"id"`
	EventID   string    `json:"event_id"`
	UserID    string    `json:"user_id"`
	UserEmail string    `json:"user_email"`
	UserName  string    `json:"user_name"`
	CreatedAt time.Time `json:"created_at"`
}

// MaxChatMessageLen bounds the body of a single chat message.
const MaxChatMessageLen = 500

// ChatMessage is one append-only message in an event's chat.
// UserName is denormalised at write time so history survives profile edits.
type ChatMessage struct {
	ID        string    `json:"id"`
	EventID   string    `json:"event_id"`
	UserID    string    `json:"user_id"`
	UserName  string    `json:"user_name"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"created_at"`
}

// Vote is a single immutable contest-poll vote. At most one exists per
// (event, voter) pair.
type Vote struct {
	ID          string    `json:"id"`
	EventID     string    `json:"event_id"`
	OptionID    string    `json:"option_id"`
	OptionLabel string    `json:"option_label"`
	VoterID     string    `json:"voter_id"`
	CreatedAt   time.Time `json:"created_at"`
}

// Profile holds the user-visible account data plus referral bookkeeping.
type Profile struct {
	ID                     string     `json:"id"`
	FullName               string     `json:"full_name"`
	Email                  string     `json:"email"`
	Year                   string     `json:"year"`
	House                  string     `json:"house"`
	PhoneNumber            string     `json:"phone_number"`
	ReferredByCode         string     `json:"referred_by_code,omitempty"`
	ReferralCodesGenerated int        `json:"referral_codes_generated"`
	ReferralCodesRemaining int        `json:"referral_codes_remaining"`
	LastLoginAt            *time.Time `json:"last_login_at,omitempty"`
	CreatedAt              time.Time  `json:"created_at"`
}

// ReferralCode is a single-use invite token in the form HP-XXXXXX.
type ReferralCode struct {
	ID        string     `json:"id"`
	Code      string     `json:"code"`
	CreatedBy string     `json:"created_by"`
	IsUsed    bool       `json:"is_used"`
	UsedBy    string     `json:"used_by,omitempty"`
	UsedAt    *time.Time `json:"used_at,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}

// ErrorResponse is a standard JSON error envelope.
type ErrorResponse struct {
	Error string `json:"error"`
}
