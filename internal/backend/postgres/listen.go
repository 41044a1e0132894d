package postgres

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"

	"github.com/harvardpoops/app/internal/backend"
)

// notifyChannel is the pg_notify channel the schema's triggers publish on.
const notifyChannel = "record_changes"

// notifyPayload mirrors the JSON built by the notify_record_change()
// trigger function in schema.sql.
type notifyPayload struct {
	Op    string         `json:"op"`
	Table string         `json:"table"`
	New   backend.Record `json:"new"`
	Old   backend.Record `json:"old"`
}

type feedSubscriber struct {
	id     int
	table  string
	filter backend.Filter
	fn     backend.ChangeHandler
}

// changeFeed bridges LISTEN/NOTIFY to in-process change handlers.
type changeFeed struct {
	pool *pgxpool.Pool

	mu     sync.Mutex
	subs   map[int]*feedSubscriber
	nextID int
}

func newChangeFeed(pool *pgxpool.Pool) *changeFeed {
	return &changeFeed{pool: pool, subs: make(map[int]*feedSubscriber)}
}

func (f *changeFeed) subscribe(table string, filter backend.Filter, fn backend.ChangeHandler) backend.Subscription {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := f.nextID
	f.nextID++
	f.subs[id] = &feedSubscriber{id: id, table: table, filter: filter, fn: fn}
	return &feedSubscription{feed: f, id: id}
}

type feedSubscription struct {
	feed *changeFeed
	id   int
}

func (s *feedSubscription) Unsubscribe() {
	s.feed.mu.Lock()
	delete(s.feed.subs, s.id)
	s.feed.mu.Unlock()
}

// run holds a dedicated connection on LISTEN and dispatches every
// notification. The connection is re-acquired after failures so a
// database restart does not permanently kill the feed.
func (f *changeFeed) run(ctx context.Context) error {
	for {
		if err := f.listen(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			log.Warn().Err(err).Msg("change feed disconnected, reconnecting in 2s")
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(2 * time.Second):
		}
	}
}

func (f *changeFeed) listen(ctx context.Context) error {
	conn, err := f.pool.Acquire(ctx)
	if err != nil {
		return err
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, "LISTEN "+notifyChannel); err != nil {
		return err
	}

	for {
		notification, err := conn.Conn().WaitForNotification(ctx)
		if err != nil {
			return err
		}
		f.dispatch(notification.Payload)
	}
}

func (f *changeFeed) dispatch(payload string) {
	var p notifyPayload
	if err := json.Unmarshal([]byte(payload), &p); err != nil {
		log.Warn().Err(err).Msg("malformed change notification")
		return
	}

	ev := backend.ChangeEvent{
		Type:  backend.ChangeType(p.Op),
		Table: p.Table,
		New:   p.New,
		Old:   p.Old,
	}

	f.mu.Lock()
	matched := make([]backend.ChangeHandler, 0, len(f.subs))
	for _, sub := range f.subs {
		if sub.table != p.Table {
			continue
		}
		if sub.filter.Matches(p.New) || sub.filter.Matches(p.Old) {
			matched = append(matched, sub.fn)
		}
	}
	f.mu.Unlock()

	for _, fn := range matched {
		fn(ev)
	}
}
