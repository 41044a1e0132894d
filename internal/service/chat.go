package service

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/harvardpoops/app/internal/backend"
	"github.com/harvardpoops/app/internal/model"
)

// DefaultMessageWindow bounds a single message fetch.
const DefaultMessageWindow = 100

// ChatService handles per-event chat threads.
type ChatService struct {
	store    backend.Store
	realtime backend.Realtime
}

// NewChatService constructs a ChatService.
func NewChatService(store backend.Store, realtime backend.Realtime) *ChatService {
	return &ChatService{store: store, realtime: realtime}
}

// Messages returns the most recent window of an event's messages,
// oldest-first, bounded by limit (DefaultMessageWindow when limit <= 0).
func (s *ChatService) Messages(ctx context.Context, eventID string, limit int) ([]model.ChatMessage, error) {
	if limit <= 0 {
		limit = DefaultMessageWindow
	}
	// Newest-first to take the recent window, then reversed so the
	// thread reads top-down.
	recs, err := s.store.ListRecords(ctx, backend.TableChatMessages,
		backend.Filter{"event_id": eventID},
		&backend.Order{Field: "created_at", Desc: true}, limit)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	msgs := make([]model.ChatMessage, len(recs))
	for i, rec := range recs {
		msgs[len(recs)-1-i] = DecodeChatMessage(rec)
	}
	return msgs, nil
}

// Send appends a message to an event's chat. The body is trimmed and
// must be non-empty and at most model.MaxChatMessageLen characters.
func (s *ChatService) Send(ctx context.Context, eventID, userID, userName, body string) (*model.ChatMessage, error) {
	if userID == "" {
		return nil, backend.ErrUnauthenticated
	}
	body = strings.TrimSpace(body)
	if body == "" {
		return nil, fmt.Errorf("message cannot be empty: %w", backend.ErrValidation)
	}
	if utf8.RuneCountInString(body) > model.MaxChatMessageLen {
		return nil, fmt.Errorf("message exceeds %d characters: %w", model.MaxChatMessageLen, backend.ErrValidation)
	}

	rec, err := s.store.CreateRecord(ctx, backend.TableChatMessages, backend.Record{
		"event_id":  eventID,
		"user_id":   userID,
		"user_name": userName,
		"message":   body,
	})
	if err != nil {
		return nil, fmt.Errorf("send message: %w", err)
	}
	msg := DecodeChatMessage(rec)
	return &msg, nil
}

// Subscribe delivers change notifications for one event's chat thread.
func (s *ChatService) Subscribe(eventID string, fn backend.ChangeHandler) backend.Subscription {
	return s.realtime.Subscribe(backend.TableChatMessages, backend.Filter{"event_id": eventID}, fn)
}
