package controller

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/harvardpoops/app/internal/auth"
	"github.com/harvardpoops/app/internal/backend"
	"github.com/harvardpoops/app/internal/model"
	"github.com/harvardpoops/app/internal/optimistic"
	"github.com/harvardpoops/app/internal/service"
)

// Chat is the chat panel for one event: it owns the message list, the
// compose draft, and the subscription to the event's message feed.
type Chat struct {
	svc     *service.ChatService
	auth    *auth.Manager
	eventID string

	exec optimistic.Executor
	gate optimistic.Gate

	mu       sync.Mutex
	messages []model.ChatMessage
	draft    string
	onChange func()
	sub      backend.Subscription
}

// NewChat constructs the chat panel for one event.
func NewChat(svc *service.ChatService, auth *auth.Manager, eventID string) *Chat {
	return &Chat{svc: svc, auth: auth, eventID: eventID}
}

// SetOnChange registers a callback run after every message-list change.
func (c *Chat) SetOnChange(fn func()) {
	c.mu.Lock()
	c.onChange = fn
	c.mu.Unlock()
}

// Open loads the message window and subscribes to new messages. The
// merge checks for id collisions so the realtime echo of this client's
// own send never duplicates an entry.
func (c *Chat) Open(ctx context.Context) error {
	msgs, err := c.svc.Messages(ctx, c.eventID, 0)
	if err != nil {
		return fmt.Errorf("load chat: %w", err)
	}

	c.mu.Lock()
	c.messages = msgs
	c.mu.Unlock()
	c.fireChange()

	c.sub = c.svc.Subscribe(c.eventID, func(ev backend.ChangeEvent) {
		if ev.Type != backend.ChangeInsert || ev.New == nil {
			return
		}
		msg := service.DecodeChatMessage(ev.New)
		c.gate.Do(func() { c.appendIfAbsent(msg) })
	})
	return nil
}

// Close tears down the subscription and drops in-flight results.
func (c *Chat) Close() {
	if c.sub != nil {
		c.sub.Unsubscribe()
		c.sub = nil
	}
	c.gate.Close()
}

// Messages returns a copy of the current message list, oldest first.
func (c *Chat) Messages() []model.ChatMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]model.ChatMessage, len(c.messages))
	copy(out, c.messages)
	return out
}

// Draft returns the compose field's contents.
func (c *Chat) Draft() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.draft
}

// SetDraft replaces the compose field's contents.
func (c *Chat) SetDraft(text string) {
	c.mu.Lock()
	c.draft = text
	c.mu.Unlock()
}

// CanSend reports whether the send control should be enabled.
func (c *Chat) CanSend() bool {
	return c.auth.Session() != nil && c.auth.Profile() != nil && !c.exec.Busy()
}

// Send posts the current draft. The message appears immediately under a
// temporary id and is swapped for the canonical record on success; on
// failure it is removed entirely and the draft is restored so the user
// can retry.
func (c *Chat) Send(ctx context.Context) error {
	sess := c.auth.Session()
	profile := c.auth.Profile()
	if sess == nil || profile == nil {
		return backend.ErrUnauthenticated
	}

	text := strings.TrimSpace(c.Draft())
	if text == "" {
		return nil
	}

	tempID := "temp-" + uuid.New().String()
	var sent *model.ChatMessage

	return c.exec.Do(ctx, optimistic.Command{
		Tentative: func() {
			c.mu.Lock()
			c.draft = ""
			c.messages = append(c.messages, model.ChatMessage{
				ID:       tempID,
				EventID:  c.eventID,
				UserID:   sess.UserID,
				UserName: profile.FullName,
				Message:  text,
			})
			c.mu.Unlock()
			c.fireChange()
		},
		Remote: func(ctx context.Context) error {
			msg, err := c.svc.Send(ctx, c.eventID, sess.UserID, profile.FullName, text)
			if err != nil {
				return err
			}
			sent = msg
			return nil
		},
		Commit: func() {
			c.replaceTemp(tempID, *sent)
		},
		Rollback: func() {
			c.removeMessage(tempID)
			c.SetDraft(text)
			c.fireChange()
		},
	})
}

// appendIfAbsent merges a realtime message, skipping ids already present.
func (c *Chat) appendIfAbsent(msg model.ChatMessage) {
	c.mu.Lock()
	for _, m := range c.messages {
		if m.ID == msg.ID {
			c.mu.Unlock()
			return
		}
	}
	c.messages = append(c.messages, msg)
	c.mu.Unlock()
	c.fireChange()
}

// replaceTemp swaps the placeholder for the canonical record. If the
// realtime echo already delivered the canonical message, the placeholder
// is simply dropped.
func (c *Chat) replaceTemp(tempID string, msg model.ChatMessage) {
	c.mu.Lock()
	canonicalPresent := false
	for _, m := range c.messages {
		if m.ID == msg.ID {
			canonicalPresent = true
			break
		}
	}
	kept := c.messages[:0]
	for _, m := range c.messages {
		if m.ID == tempID {
			if !canonicalPresent {
				kept = append(kept, msg)
			}
			continue
		}
		kept = append(kept, m)
	}
	c.messages = kept
	c.mu.Unlock()
	c.fireChange()
}

func (c *Chat) removeMessage(id string) {
	c.mu.Lock()
	kept := c.messages[:0]
	for _, m := range c.messages {
		if m.ID != id {
			kept = append(kept, m)
		}
	}
	c.messages = kept
	c.mu.Unlock()
}

func (c *Chat) fireChange() {
	c.mu.Lock()
	fn := c.onChange
	c.mu.Unlock()
	if fn != nil {
		fn()
	}
}
