package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/harvardpoops/app/internal/backend"
	"github.com/harvardpoops/app/internal/model"
)

// ErrAlreadyVoted is returned when a voter casts a second vote for the
// same event. Votes are immutable; there is no vote-changing.
var ErrAlreadyVoted = errors.New("already voted")

// VotingService handles contest-poll votes.
type VotingService struct {
	store    backend.Store
	realtime backend.Realtime
}

// NewVotingService constructs a VotingService.
func NewVotingService(store backend.Store, realtime backend.Realtime) *VotingService {
	return &VotingService{store: store, realtime: realtime}
}

// VoteTally aggregates an event's votes by option.
type VoteTally struct {
	Counts map[string]int    `json:"counts"` // option id → vote count
	Labels map[string]string `json:"labels"` // option id → label as denormalised at cast time
	Total  int               `json:"total"`
}

// Votes returns the raw vote records for an event.
func (s *VotingService) Votes(ctx context.Context, eventID string) ([]model.Vote, error) {
	recs, err := s.store.ListRecords(ctx, backend.TableVotes,
		backend.Filter{"event_id": eventID}, nil, 0)
	if err != nil {
		return nil, fmt.Errorf("list votes: %w", err)
	}
	votes := make([]model.Vote, 0, len(recs))
	for _, rec := range recs {
		votes = append(votes, DecodeVote(rec))
	}
	return votes, nil
}

// Tally aggregates counts and labels by option.
func (s *VotingService) Tally(ctx context.Context, eventID string) (*VoteTally, error) {
	votes, err := s.Votes(ctx, eventID)
	if err != nil {
		return nil, err
	}
	tally := &VoteTally{
		Counts: make(map[string]int),
		Labels: make(map[string]string),
	}
	for _, v := range votes {
		tally.Counts[v.OptionID]++
		tally.Labels[v.OptionID] = v.OptionLabel
		tally.Total++
	}
	return tally, nil
}

// UserVote returns the voter's vote for an event, or nil if none.
func (s *VotingService) UserVote(ctx context.Context, eventID, voterID string) (*model.Vote, error) {
	rec, err := s.store.ReadRecord(ctx, backend.TableVotes,
		backend.Filter{"event_id": eventID, "voter_id": voterID})
	if err != nil {
		if errors.Is(err, backend.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("get user vote: %w", err)
	}
	vote := DecodeVote(rec)
	return &vote, nil
}

// Cast records an immutable vote. The read-before-insert is only the
// fast path for a friendly error; the votes table's uniqueness
// constraint on (event_id, voter_id) is what actually holds under
// concurrent double-submission.
func (s *VotingService) Cast(ctx context.Context, eventID, optionID, optionLabel, voterID string) (*model.Vote, error) {
	if voterID == "" {
		return nil, backend.ErrUnauthenticated
	}
	if eventID == "" || optionID == "" {
		return nil, fmt.Errorf("event and option are required: %w", backend.ErrValidation)
	}

	existing, err := s.UserVote(ctx, eventID, voterID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, ErrAlreadyVoted
	}

	rec, err := s.store.CreateRecord(ctx, backend.TableVotes, backend.Record{
		"event_id":     eventID,
		"option_id":    optionID,
		"option_label": optionLabel,
		"voter_id":     voterID,
	})
	if err != nil {
		if errors.Is(err, backend.ErrConflict) {
			return nil, ErrAlreadyVoted
		}
		return nil, fmt.Errorf("cast vote: %w", err)
	}
	vote := DecodeVote(rec)
	return &vote, nil
}

// Subscribe delivers change notifications for one event's votes.
func (s *VotingService) Subscribe(eventID string, fn backend.ChangeHandler) backend.Subscription {
	return s.realtime.Subscribe(backend.TableVotes, backend.Filter{"event_id": eventID}, fn)
}
