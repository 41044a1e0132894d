package model

import "time"

// CreateEventRequest is the payload for creating a new event.
type CreateEventRequest struct {
	Title         string         `json:"title"`
	Description   string         `json:"description"`
	Date          time.Time      `json:"date"`
	Time          string         `json:"time"`
	Location      string         `json:"location"`
	Type          EventType      `json:"type"`
	CoverImageURL string         `json:"cover_image_url,omitempty"`
	MaxAttendees  int            `json:"max_attendees,omitempty"`
	IsInviteOnly  bool           `json:"is_invite_only"`
	HasChat       bool           `json:"has_chat"`
	HasVoting     bool           `json:"has_voting"`
	VotingOptions []VotingOption `json:"voting_options,omitempty"`
}

// UpdateEventRequest is a partial update; nil fields are left unchanged.
type UpdateEventRequest struct {
	Title         *string         `json:"title,omitempty"`
	Description   *string         `json:"description,omitempty"`
	Date          *time.Time      `json:"date,omitempty"`
	Time          *string         `json:"time,omitempty"`
	Location      *string         `json:"location,omitempty"`
	Type          *EventType      `json:"type,omitempty"`
	CoverImageURL *string         `json:"cover_image_url,omitempty"`
	MaxAttendees  *int            `json:"max_attendees,omitempty"`
	IsInviteOnly  *bool           `json:"is_invite_only,omitempty"`
	HasChat       *bool           `json:"has_chat,omitempty"`
	HasVoting     *bool           `json:"has_voting,omitempty"`
	VotingOptions []VotingOption  `json:"voting_options,omitempty"`
}

// SignUpRequest is the payload for creating a new account.
type SignUpRequest struct {
	Email        string `json:"email"`
	Password     string `json:"password"`
	FullName     string `json:"full_name"`
	Year         string `json:"year"`
	House        string `json:"house"`
	PhoneNumber  string `json:"phone_number"`
	ReferralCode string `json:"referral_code"`
}

// SignInRequest is the payload for logging in.
type SignInRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// SendMessageRequest is the payload for posting a chat message.
type SendMessageRequest struct {
	Message string `json:"message"`
}

// CastVoteRequest is the payload for casting a contest-poll vote.
type CastVoteRequest struct {
	OptionID    string `json:"option_id"`
	OptionLabel string `json:"option_label"`
}
