// Package memory implements the backend contract entirely in-process.
// It backs the test suite and local development, and mirrors the
// postgres schema's uniqueness constraints and cascade deletes so both
// implementations fail the same way.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/harvardpoops/app/internal/backend"
)

// uniqueIndexes mirrors schema.sql. A create that collides on any of
// these column sets returns backend.ErrConflict.
var uniqueIndexes = map[string][][]string{
	backend.TableRSVPs:         {{"event_id", "user_id"}},
	backend.TableVotes:         {{"event_id", "voter_id"}},
	backend.TableReferralCodes: {{"code"}},
	backend.TableProfiles:      {{"id"}, {"email"}},
}

// cascades mirrors the schema's ON DELETE CASCADE: deleting an event
// removes its RSVPs, messages and votes.
var cascades = map[string]map[string]string{
	backend.TableEvents: {
		backend.TableRSVPs:        "event_id",
		backend.TableChatMessages: "event_id",
		backend.TableVotes:        "event_id",
	},
}

type subscriber struct {
	id     int
	table  string
	filter backend.Filter
	fn     backend.ChangeHandler
}

type credentials struct {
	userID   string
	password string
}

// Backend is the in-memory implementation of backend.Backend.
type Backend struct {
	mu      sync.Mutex
	tables  map[string][]backend.Record
	blobs   map[string][]byte
	subs    map[int]*subscriber
	nextSub int

	creds    map[string]credentials // keyed by email
	tokens   map[string]backend.Session
	session  *backend.Session
	authSubs map[int]func(*backend.Session)

	writeErr map[string]error // forced failures, keyed by table
}

var _ backend.Backend = (*Backend)(nil)

// New returns an empty in-memory backend.
func New() *Backend {
	return &Backend{
		tables:   make(map[string][]backend.Record),
		blobs:    make(map[string][]byte),
		subs:     make(map[int]*subscriber),
		creds:    make(map[string]credentials),
		tokens:   make(map[string]backend.Session),
		authSubs: make(map[int]func(*backend.Session)),
		writeErr: make(map[string]error),
	}
}

// FailWrites forces every write to table to fail with err until cleared
// with a nil err. Used by tests to exercise rollback paths.
func (b *Backend) FailWrites(table string, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err == nil {
		delete(b.writeErr, table)
		return
	}
	b.writeErr[table] = err
}

// ─── Store ────────────────────────────────────────────────────────────────

// CreateRecord inserts fields into table, filling id and created_at if
// absent, and notifies subscribers.
func (b *Backend) CreateRecord(ctx context.Context, table string, fields backend.Record) (backend.Record, error) {
	b.mu.Lock()
	if err := b.writeErr[table]; err != nil {
		b.mu.Unlock()
		return nil, err
	}

	rec := cloneRecord(fields)
	if rec["id"] == nil {
		rec["id"] = uuid.New().String()
	}
	if rec["created_at"] == nil {
		rec["created_at"] = time.Now().UTC()
	}

	for _, cols := range uniqueIndexes[table] {
		if b.lookupByColumns(table, rec, cols) != nil {
			b.mu.Unlock()
			return nil, fmt.Errorf("duplicate %s on (%s): %w", table, strings.Join(cols, ","), backend.ErrConflict)
		}
	}

	b.tables[table] = append(b.tables[table], rec)
	out := cloneRecord(rec)
	subs := b.matchingSubs(table, rec, nil)
	b.mu.Unlock()

	notify(subs, backend.ChangeEvent{Type: backend.ChangeInsert, Table: table, New: cloneRecord(rec)})
	return out, nil
}

// ReadRecord returns the single record matching filter, or ErrNotFound.
func (b *Backend) ReadRecord(ctx context.Context, table string, filter backend.Filter) (backend.Record, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, rec := range b.tables[table] {
		if filter.Matches(rec) {
			return cloneRecord(rec), nil
		}
	}
	return nil, fmt.Errorf("%s: %w", table, backend.ErrNotFound)
}

// ListRecords returns matching records, sorted and bounded.
func (b *Backend) ListRecords(ctx context.Context, table string, filter backend.Filter, order *backend.Order, limit int) ([]backend.Record, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	var out []backend.Record
	for _, rec := range b.tables[table] {
		if filter.Matches(rec) {
			out = append(out, cloneRecord(rec))
		}
	}
	if order != nil {
		sort.SliceStable(out, func(i, j int) bool {
			less := lessValue(out[i][order.Field], out[j][order.Field])
			if order.Desc {
				return !less && !equalValue(out[i][order.Field], out[j][order.Field])
			}
			return less
		})
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// CountRecords returns the number of records matching filter.
func (b *Backend) CountRecords(ctx context.Context, table string, filter backend.Filter) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, rec := range b.tables[table] {
		if filter.Matches(rec) {
			n++
		}
	}
	return n, nil
}

// UpdateRecord applies fields to the single record matching filter.
func (b *Backend) UpdateRecord(ctx context.Context, table string, filter backend.Filter, fields backend.Record) (backend.Record, error) {
	b.mu.Lock()
	if err := b.writeErr[table]; err != nil {
		b.mu.Unlock()
		return nil, err
	}

	for i, rec := range b.tables[table] {
		if !filter.Matches(rec) {
			continue
		}
		updated := cloneRecord(rec)
		for k, v := range fields {
			updated[k] = v
		}
		b.tables[table][i] = updated
		out := cloneRecord(updated)
		subs := b.matchingSubs(table, updated, rec)
		b.mu.Unlock()

		notify(subs, backend.ChangeEvent{
			Type:  backend.ChangeUpdate,
			Table: table,
			New:   cloneRecord(updated),
			Old:   cloneRecord(rec),
		})
		return out, nil
	}
	b.mu.Unlock()
	return nil, fmt.Errorf("%s: %w", table, backend.ErrNotFound)
}

// DeleteRecord removes all records matching filter, cascading per the
// schema. Deleting nothing is a no-op.
func (b *Backend) DeleteRecord(ctx context.Context, table string, filter backend.Filter) error {
	b.mu.Lock()
	if err := b.writeErr[table]; err != nil {
		b.mu.Unlock()
		return err
	}

	type pending struct {
		subs []*subscriber
		ev   backend.ChangeEvent
	}
	var events []pending

	remove := func(table string, filter backend.Filter) {
		kept := b.tables[table][:0]
		for _, rec := range b.tables[table] {
			if filter.Matches(rec) {
				events = append(events, pending{
					subs: b.matchingSubs(table, nil, rec),
					ev:   backend.ChangeEvent{Type: backend.ChangeDelete, Table: table, Old: cloneRecord(rec)},
				})
				for child, fk := range cascades[table] {
					childKept := b.tables[child][:0]
					for _, crec := range b.tables[child] {
						if crec[fk] == rec["id"] {
							events = append(events, pending{
								subs: b.matchingSubs(child, nil, crec),
								ev:   backend.ChangeEvent{Type: backend.ChangeDelete, Table: child, Old: cloneRecord(crec)},
							})
							continue
						}
						childKept = append(childKept, crec)
					}
					b.tables[child] = childKept
				}
				continue
			}
			kept = append(kept, rec)
		}
		b.tables[table] = kept
	}
	remove(table, filter)
	b.mu.Unlock()

	for _, p := range events {
		notify(p.subs, p.ev)
	}
	return nil
}

// ─── Realtime ─────────────────────────────────────────────────────────────

type subscription struct {
	b  *Backend
	id int
}

func (s *subscription) Unsubscribe() {
	s.b.mu.Lock()
	defer s.b.mu.Unlock()
	delete(s.b.subs, s.id)
	delete(s.b.authSubs, s.id)
}

// Subscribe registers a change-feed listener for table rows matching
// filter. Events are delivered synchronously in mutation order.
func (b *Backend) Subscribe(table string, filter backend.Filter, fn backend.ChangeHandler) backend.Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextSub++
	id := b.nextSub
	b.subs[id] = &subscriber{id: id, table: table, filter: filter, fn: fn}
	return &subscription{b: b, id: id}
}

// matchingSubs must be called with the lock held. A subscriber matches if
// its filter matches either side of the change.
func (b *Backend) matchingSubs(table string, newRec, oldRec backend.Record) []*subscriber {
	var out []*subscriber
	for _, s := range b.subs {
		if s.table != table {
			continue
		}
		if (newRec != nil && s.filter.Matches(newRec)) || (oldRec != nil && s.filter.Matches(oldRec)) {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].id < out[j].id })
	return out
}

func notify(subs []*subscriber, ev backend.ChangeEvent) {
	for _, s := range subs {
		s.fn(ev)
	}
}

// ─── Authenticator ────────────────────────────────────────────────────────

// SignUp registers a credential pair and opens a session.
func (b *Backend) SignUp(ctx context.Context, email, password string) (backend.Session, error) {
	b.mu.Lock()
	email = strings.ToLower(strings.TrimSpace(email))
	if _, exists := b.creds[email]; exists {
		b.mu.Unlock()
		return backend.Session{}, fmt.Errorf("email already registered: %w", backend.ErrConflict)
	}
	userID := uuid.New().String()
	b.creds[email] = credentials{userID: userID, password: password}
	sess := backend.Session{
		UserID:      userID,
		Email:       email,
		AccessToken: uuid.New().String(),
		ExpiresAt:   time.Now().Add(24 * time.Hour),
	}
	b.session = &sess
	b.tokens[sess.AccessToken] = sess
	fns := b.authHandlers()
	b.mu.Unlock()

	fireAuth(fns, &sess)
	return sess, nil
}

// Authenticate verifies credentials and opens a session.
func (b *Backend) Authenticate(ctx context.Context, email, password string) (backend.Session, error) {
	b.mu.Lock()
	email = strings.ToLower(strings.TrimSpace(email))
	cred, ok := b.creds[email]
	if !ok || cred.password != password {
		b.mu.Unlock()
		return backend.Session{}, fmt.Errorf("invalid credentials: %w", backend.ErrUnauthenticated)
	}
	sess := backend.Session{
		UserID:      cred.userID,
		Email:       email,
		AccessToken: uuid.New().String(),
		ExpiresAt:   time.Now().Add(24 * time.Hour),
	}
	b.session = &sess
	b.tokens[sess.AccessToken] = sess
	fns := b.authHandlers()
	b.mu.Unlock()

	fireAuth(fns, &sess)
	return sess, nil
}

// GetSession returns the current session, or nil.
func (b *Backend) GetSession(ctx context.Context) (*backend.Session, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.session == nil {
		return nil, nil
	}
	sess := *b.session
	return &sess, nil
}

// SignOut drops the current session and revokes its token.
func (b *Backend) SignOut(ctx context.Context) error {
	b.mu.Lock()
	if b.session != nil {
		delete(b.tokens, b.session.AccessToken)
	}
	b.session = nil
	fns := b.authHandlers()
	b.mu.Unlock()

	fireAuth(fns, nil)
	return nil
}

// VerifyToken resolves a bearer token to the session it was issued for.
// Used by the HTTP auth middleware.
func (b *Backend) VerifyToken(token string) (*backend.Session, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	sess, ok := b.tokens[token]
	if !ok || time.Now().After(sess.ExpiresAt) {
		return nil, fmt.Errorf("invalid token: %w", backend.ErrUnauthenticated)
	}
	s := sess
	return &s, nil
}

// OnAuthStateChange registers a login/logout listener.
func (b *Backend) OnAuthStateChange(fn func(*backend.Session)) backend.Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextSub++
	id := b.nextSub
	b.authSubs[id] = fn
	return &subscription{b: b, id: id}
}

func (b *Backend) authHandlers() []func(*backend.Session) {
	out := make([]func(*backend.Session), 0, len(b.authSubs))
	for _, fn := range b.authSubs {
		out = append(out, fn)
	}
	return out
}

func fireAuth(fns []func(*backend.Session), sess *backend.Session) {
	for _, fn := range fns {
		fn(sess)
	}
}

// ─── BlobStore ────────────────────────────────────────────────────────────

// UploadBlob stores data and returns a stable fake public URL.
func (b *Backend) UploadBlob(ctx context.Context, bucket, path string, data []byte, contentType string) (string, error) {
	if len(data) > backend.MaxBlobSize {
		return "", fmt.Errorf("blob exceeds %d bytes: %w", backend.MaxBlobSize, backend.ErrValidation)
	}
	if !backend.AllowedBlobType(contentType) {
		return "", fmt.Errorf("content type %q not allowed: %w", contentType, backend.ErrValidation)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	key := bucket + "/" + path
	b.blobs[key] = append([]byte(nil), data...)
	return "https://storage.local/" + key, nil
}

// DeleteBlob removes a stored blob; absent blobs are a no-op.
func (b *Backend) DeleteBlob(ctx context.Context, bucket, path string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.blobs, bucket+"/"+path)
	return nil
}

// ─── helpers ──────────────────────────────────────────────────────────────

// lookupByColumns must be called with the lock held.
func (b *Backend) lookupByColumns(table string, rec backend.Record, cols []string) backend.Record {
	for _, existing := range b.tables[table] {
		match := true
		for _, c := range cols {
			if existing[c] != rec[c] {
				match = false
				break
			}
		}
		if match {
			return existing
		}
	}
	return nil
}

func cloneRecord(r backend.Record) backend.Record {
	if r == nil {
		return nil
	}
	out := make(backend.Record, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

func lessValue(a, b any) bool {
	switch av := a.(type) {
	case time.Time:
		if bv, ok := b.(time.Time); ok {
			return av.Before(bv)
		}
	case string:
		if bv, ok := b.(string); ok {
			return av < bv
		}
	case int:
		if bv, ok := b.(int); ok {
			return av < bv
		}
	}
	return false
}

func equalValue(a, b any) bool {
	return !lessValue(a, b) && !lessValue(b, a)
}
