package controller

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/harvardpoops/app/internal/auth"
	"github.com/harvardpoops/app/internal/backend"
	"github.com/harvardpoops/app/internal/model"
	"github.com/harvardpoops/app/internal/optimistic"
	"github.com/harvardpoops/app/internal/service"
)

// Voting is the contest-poll panel for one event. It tracks per-option
// counts and the acting user's single vote.
type Voting struct {
	svc     *service.VotingService
	auth    *auth.Manager
	eventID string

	exec optimistic.Executor
	gate optimistic.Gate

	mu       sync.Mutex
	counts   map[string]int
	labels   map[string]string
	userVote *model.Vote
	onChange func()
	sub      backend.Subscription
}

// NewVoting constructs the voting panel for one event.
func NewVoting(svc *service.VotingService, auth *auth.Manager, eventID string) *Voting {
	return &Voting{
		svc:     svc,
		auth:    auth,
		eventID: eventID,
		counts:  make(map[string]int),
		labels:  make(map[string]string),
	}
}

// SetOnChange registers a callback run after every tally change.
func (c *Voting) SetOnChange(fn func()) {
	c.mu.Lock()
	c.onChange = fn
	c.mu.Unlock()
}

// Load fetches the tally and the user's existing vote, then subscribes.
// Any vote change from the feed triggers a tally refetch, which is
// idempotent with respect to this client's own optimistic adjustment.
func (c *Voting) Load(ctx context.Context) error {
	if err := c.refetch(ctx); err != nil {
		return err
	}

	if sess := c.auth.Session(); sess != nil {
		vote, err := c.svc.UserVote(ctx, c.eventID, sess.UserID)
		if err != nil {
			return err
		}
		c.mu.Lock()
		c.userVote = vote
		c.mu.Unlock()
	}

	c.sub = c.svc.Subscribe(c.eventID, func(backend.ChangeEvent) {
		c.gate.Do(func() {
			if err := c.refetch(context.Background()); err != nil {
				log.Error().Err(err).Str("event_id", c.eventID).Msg("vote tally refetch failed")
			}
		})
	})
	return nil
}

// Close tears down the subscription and drops in-flight results.
func (c *Voting) Close() {
	if c.sub != nil {
		c.sub.Unsubscribe()
		c.sub = nil
	}
	c.gate.Close()
}

// Counts returns a copy of the per-option vote counts.
func (c *Voting) Counts() map[string]int {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]int, len(c.counts))
	for k, v := range c.counts {
		out[k] = v
	}
	return out
}

// Total returns the total number of votes cast.
func (c *Voting) Total() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	total := 0
	for _, n := range c.counts {
		total += n
	}
	return total
}

// Percent returns the option's share of the vote, 0–100.
func (c *Voting) Percent(optionID string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	total := 0
	for _, n := range c.counts {
		total += n
	}
	if total == 0 {
		return 0
	}
	return int(float64(c.counts[optionID])/float64(total)*100 + 0.5)
}

// UserVote returns the acting user's vote, or nil.
func (c *Voting) UserVote() *model.Vote {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.userVote == nil {
		return nil
	}
	v := *c.userVote
	return &v
}

// Vote casts a vote for an option. The tally shifts immediately (−1 for
// any previous selection, +1 for the new one); on failure both the tally
// and the tracked vote are restored to their exact pre-invoke snapshots.
func (c *Voting) Vote(ctx context.Context, optionID, optionLabel string) error {
	sess := c.auth.Session()
	if sess == nil {
		return fmt.Errorf("must be logged in to vote: %w", backend.ErrUnauthenticated)
	}

	c.mu.Lock()
	prevCounts := make(map[string]int, len(c.counts))
	for k, v := range c.counts {
		prevCounts[k] = v
	}
	prevVote := c.userVote
	c.mu.Unlock()

	var cast *model.Vote
	return c.exec.Do(ctx, optimistic.Command{
		Tentative: func() {
			c.mu.Lock()
			if c.userVote != nil {
				if n := c.counts[c.userVote.OptionID]; n > 0 {
					c.counts[c.userVote.OptionID] = n - 1
				}
			}
			c.counts[optionID]++
			c.labels[optionID] = optionLabel
			c.userVote = &model.Vote{
				EventID:     c.eventID,
				OptionID:    optionID,
				OptionLabel: optionLabel,
				VoterID:     sess.UserID,
			}
			c.mu.Unlock()
			c.fireChange()
		},
		Remote: func(ctx context.Context) error {
			vote, err := c.svc.Cast(ctx, c.eventID, optionID, optionLabel, sess.UserID)
			if err != nil {
				return err
			}
			cast = vote
			return nil
		},
		Commit: func() {
			c.mu.Lock()
			c.userVote = cast
			c.mu.Unlock()
		},
		Rollback: func() {
			c.mu.Lock()
			c.counts = prevCounts
			c.userVote = prevVote
			c.mu.Unlock()
			c.fireChange()
		},
	})
}

// VoteErrorMessage maps a Vote failure to its user-visible message. The
// already-voted case gets a friendlier message than generic failure.
func VoteErrorMessage(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, service.ErrAlreadyVoted):
		return "You already voted!"
	case errors.Is(err, backend.ErrUnauthenticated):
		return "Sign in to vote"
	default:
		return "Failed to cast vote"
	}
}

// refetch reloads the authoritative tally.
func (c *Voting) refetch(ctx context.Context) error {
	tally, err := c.svc.Tally(ctx, c.eventID)
	if err != nil {
		return fmt.Errorf("load votes: %w", err)
	}
	c.mu.Lock()
	c.counts = tally.Counts
	for k, v := range tally.Labels {
		c.labels[k] = v
	}
	c.mu.Unlock()
	c.fireChange()
	return nil
}

func (c *Voting) fireChange() {
	c.mu.Lock()
	fn := c.onChange
	c.mu.Unlock()
	if fn != nil {
		fn()
	}
}
