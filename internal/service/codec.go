package service

import (
	"encoding/json"

	"github.com/harvardpoops/app/internal/backend"
	"github.com/harvardpoops/app/internal/model"
)

// Translation between backend records and domain models. The memory
// backend hands field values back as the Go types they were stored with;
// the postgres backend hands back scanned column types, so the accessors
// on backend.Record absorb the difference.

// DecodeEvent converts an events-table record into a model.Event.
func DecodeEvent(r backend.Record) model.Event {
	return model.Event{
		ID:            r.String("id"),
		Title:         r.String("title"),
		Description:   r.String("description"),
		Date:          r.Time("date"),
		Time:          r.String("time"),
		Location:      r.String("location"),
		Type:          model.EventType(r.String("type")),
		HostID:        r.String("host_id"),
		HostName:      r.String("host_name"),
		CoverImageURL: r.String("cover_image_url"),
		Status:        r.String("status"),
		MaxAttendees:  r.Int("max_attendees"),
		IsInviteOnly:  r.Bool("is_invite_only"),
		HasRSVP:       r.Bool("has_rsvp"),
		HasChat:       r.Bool("has_chat"),
		HasVoting:     r.Bool("has_voting"),
		VotingOptions: decodeVotingOptions(r["voting_options"]),
		CreatedAt:     r.Time("created_at"),
		UpdatedAt:     r.Time("updated_at"),
	}
}

// DecodeRSVP converts an rsvps-table record into a model.RSVP.
func DecodeRSVP(r backend.Record) model.RSVP {
	return model.RSVP{
		ID:        r.String("id"),
		EventID:   r.String("event_id"),
		UserID:    r.String("user_id"),
		UserEmail: r.String("user_email"),
		UserName:  r.String("user_name"),
		CreatedAt: r.Time("created_at"),
	}
}

// DecodeChatMessage converts a chat_messages-table record.
func DecodeChatMessage(r backend.Record) model.ChatMessage {
	return model.ChatMessage{
		ID:        r.String("id"),
		EventID:   r.String("event_id"),
		UserID:    r.String("user_id"),
		UserName:  r.String("user_name"),
		Message:   r.String("message"),
		CreatedAt: r.Time("created_at"),
	}
}

// DecodeVote converts a votes-table record.
func DecodeVote(r backend.Record) model.Vote {
	return model.Vote{
		ID:          r.String("id"),
		EventID:     r.String("event_id"),
		OptionID:    r.String("option_id"),
		OptionLabel: r.String("option_label"),
		VoterID:     r.String("voter_id"),
		CreatedAt:   r.Time("created_at"),
	}
}

// DecodeProfile converts a profiles-table record.
func DecodeProfile(r backend.Record) model.Profile {
	return model.Profile{
		ID:                     r.String("id"),
		FullName:               r.String("full_name"),
		Email:                  r.String("email"),
		Year:                   r.String("year"),
		House:                  r.String("house"),
		PhoneNumber:            r.String("phone_number"),
		ReferredByCode:         r.String("referred_by_code"),
		ReferralCodesGenerated: r.Int("referral_codes_generated"),
		ReferralCodesRemaining: r.Int("referral_codes_remaining"),
		LastLoginAt:            r.TimePtr("last_login_at"),
		CreatedAt:              r.Time("created_at"),
	}
}

// DecodeReferralCode converts a referral_codes-table record.
func DecodeReferralCode(r backend.Record) model.ReferralCode {
	return model.ReferralCode{
		ID:        r.String("id"),
		Code:      r.String("code"),
		CreatedBy: r.String("created_by"),
		IsUsed:    r.Bool("is_used"),
		UsedBy:    r.String("used_by"),
		UsedAt:    r.TimePtr("used_at"),
		CreatedAt: r.Time("created_at"),
	}
}

// decodeVotingOptions accepts the stored slice (memory backend), raw
// JSONB bytes (postgres backend), or generic decoded JSON.
func decodeVotingOptions(v any) []model.VotingOption {
	switch t := v.(type) {
	case nil:
		return nil
	case []model.VotingOption:
		out := make([]model.VotingOption, len(t))
		copy(out, t)
		return out
	case []byte:
		var out []model.VotingOption
		if err := json.Unmarshal(t, &out); err != nil {
			return nil
		}
		return out
	case string:
		var out []model.VotingOption
		if err := json.Unmarshal([]byte(t), &out); err != nil {
			return nil
		}
		return out
	case []any:
		out := make([]model.VotingOption, 0, len(t))
		for _, item := range t {
			m, ok := item.(map[string]any)
			if !ok {
				continue
			}
			id, _ := m["id"].(string)
			label, _ := m["label"].(string)
			out = append(out, model.VotingOption{ID: id, Label: label})
		}
		return out
	}
	return nil
}
