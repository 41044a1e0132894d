// Package postgres implements the backend contract over PostgreSQL:
// records in tables mirroring the in-memory store's schema, sessions as
// signed JWTs over bcrypt credentials, blobs on local disk, and the
// change feed over LISTEN/NOTIFY (see listen.go). Uniqueness and
// cascade rules live in schema.sql so they hold under concurrent
// clients, not just under this process's checks.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/crypto/bcrypt"

	"github.com/harvardpoops/app/internal/backend"
)

// SessionTTL is how long issued access tokens stay valid.
const SessionTTL = 7 * 24 * time.Hour

// Config carries the non-pool settings for a postgres Backend.
type Config struct {
	// JWTSecret signs access tokens. Required.
	JWTSecret []byte
	// BlobDir is the local directory blobs are written under.
	BlobDir string
	// BlobBaseURL prefixes returned blob URLs, e.g. "http://localhost:8080/storage".
	BlobBaseURL string
}

// Backend implements backend.Backend over a pgx connection pool.
type Backend struct {
	pool *pgxpool.Pool
	cfg  Config

	mu       sync.Mutex
	session  *backend.Session
	authSubs map[int]func(*backend.Session)
	nextSub  int

	feed *changeFeed
}

var _ backend.Backend = (*Backend)(nil)

// New constructs a postgres Backend. Call Run to start the change feed.
func New(pool *pgxpool.Pool, cfg Config) *Backend {
	b := &Backend{
		pool:     pool,
		cfg:      cfg,
		authSubs: make(map[int]func(*backend.Session)),
	}
	b.feed = newChangeFeed(pool)
	return b
}

// Run blocks servicing the LISTEN/NOTIFY change feed until ctx is done.
func (b *Backend) Run(ctx context.Context) error {
	return b.feed.run(ctx)
}

// ─── Store ────────────────────────────────────────────────────────────────────

func (b *Backend) CreateRecord(ctx context.Context, table string, fields backend.Record) (backend.Record, error) {
	if err := checkIdent(table); err != nil {
		return nil, err
	}
	rec := make(backend.Record, len(fields)+2)
	for k, v := range fields {
		rec[k] = v
	}
	if rec.String("id") == "" {
		rec["id"] = uuid.New().String()
	}
	if _, ok := rec["created_at"]; !ok {
		rec["created_at"] = time.Now().UTC()
	}

	cols := sortedKeys(rec)
	placeholders := make([]string, len(cols))
	args := make([]any, len(cols))
	for i, col := range cols {
		if err := checkIdent(col); err != nil {
			return nil, err
		}
		placeholders[i] = fmt.Sprintf("$%d", i+1)
		args[i] = encodeValue(rec[col])
	}

	sql := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) RETURNING *",
		table, strings.Join(cols, ", "), strings.Join(placeholders, ", "))
	rows, err := b.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, translateErr(err)
	}
	out, err := collectRecords(rows)
	if err != nil {
		return nil, translateErr(err)
	}
	if len(out) == 0 {
		return nil, backend.ErrNetwork
	}
	return out[0], nil
}

func (b *Backend) ReadRecord(ctx context.Context, table string, filter backend.Filter) (backend.Record, error) {
	recs, err := b.ListRecords(ctx, table, filter, nil, 1)
	if err != nil {
		return nil, err
	}
	if len(recs) == 0 {
		return nil, backend.ErrNotFound
	}
	return recs[0], nil
}

func (b *Backend) ListRecords(ctx context.Context, table string, filter backend.Filter, order *backend.Order, limit int) ([]backend.Record, error) {
	if err := checkIdent(table); err != nil {
		return nil, err
	}
	where, args, err := buildWhere(filter)
	if err != nil {
		return nil, err
	}

	sql := "SELECT * FROM " + table + where
	if order != nil {
		if err := checkIdent(order.Field); err != nil {
			return nil, err
		}
		sql += " ORDER BY " + order.Field
		if order.Desc {
			sql += " DESC"
		}
	}
	if limit > 0 {
		sql += fmt.Sprintf(" LIMIT %d", limit)
	}

	rows, err := b.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, translateErr(err)
	}
	recs, err := collectRecords(rows)
	if err != nil {
		return nil, translateErr(err)
	}
	return recs, nil
}

func (b *Backend) CountRecords(ctx context.Context, table string, filter backend.Filter) (int, error) {
	if err := checkIdent(table); err != nil {
		return 0, err
	}
	where, args, err := buildWhere(filter)
	if err != nil {
		return 0, err
	}
	var n int
	if err := b.pool.QueryRow(ctx, "SELECT COUNT(*) FROM "+table+where, args...).Scan(&n); err != nil {
		return 0, translateErr(err)
	}
	return n, nil
}

func (b *Backend) UpdateRecord(ctx context.Context, table string, filter backend.Filter, fields backend.Record) (backend.Record, error) {
	if err := checkIdent(table); err != nil {
		return nil, err
	}

	cols := sortedKeys(fields)
	sets := make([]string, len(cols))
	args := make([]any, 0, len(cols)+len(filter))
	for i, col := range cols {
		if err := checkIdent(col); err != nil {
			return nil, err
		}
		sets[i] = fmt.Sprintf("%s = $%d", col, i+1)
		args = append(args, encodeValue(fields[col]))
	}

	conds := make([]string, 0, len(filter))
	for _, col := range sortedKeys(backend.Record(filter)) {
		if err := checkIdent(col); err != nil {
			return nil, err
		}
		conds = append(conds, fmt.Sprintf("%s = $%d", col, len(args)+1))
		args = append(args, encodeValue(filter[col]))
	}

	sql := fmt.Sprintf("UPDATE %s SET %s", table, strings.Join(sets, ", "))
	if len(conds) > 0 {
		sql += " WHERE " + strings.Join(conds, " AND ")
	}
	sql += " RETURNING *"

	rows, err := b.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, translateErr(err)
	}
	recs, err := collectRecords(rows)
	if err != nil {
		return nil, translateErr(err)
	}
	if len(recs) == 0 {
		return nil, backend.ErrNotFound
	}
	return recs[0], nil
}

func (b *Backend) DeleteRecord(ctx context.Context, table string, filter backend.Filter) error {
	if err := checkIdent(table); err != nil {
		return err
	}
	where, args, err := buildWhere(filter)
	if err != nil {
		return err
	}
	if _, err := b.pool.Exec(ctx, "DELETE FROM "+table+where, args...); err != nil {
		return translateErr(err)
	}
	return nil
}

// ─── Authenticator ────────────────────────────────────────────────────────────

type sessionClaims struct {
	Email string `json:"email"`
	jwt.RegisteredClaims
}

func (b *Backend) SignUp(ctx context.Context, email, password string) (backend.Session, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || password == "" {
		return backend.Session{}, fmt.Errorf("email and password are required: %w", backend.ErrValidation)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return backend.Session{}, fmt.Errorf("hash password: %w", err)
	}

	userID := uuid.New().String()
	_, err = b.pool.Exec(ctx,
		"INSERT INTO auth_users (id, email, password_hash) VALUES ($1, $2, $3)",
		userID, email, string(hash))
	if err != nil {
		if errors.Is(translateErr(err), backend.ErrConflict) {
			return backend.Session{}, fmt.Errorf("email already registered: %w", backend.ErrConflict)
		}
		return backend.Session{}, translateErr(err)
	}

	return b.issueSession(userID, email)
}

func (b *Backend) Authenticate(ctx context.Context, email, password string) (backend.Session, error) {
	email = strings.ToLower(strings.TrimSpace(email))

	var userID, hash string
	err := b.pool.QueryRow(ctx,
		"SELECT id, password_hash FROM auth_users WHERE email = $1", email).Scan(&userID, &hash)
	if errors.Is(err, pgx.ErrNoRows) {
		return backend.Session{}, fmt.Errorf("invalid credentials: %w", backend.ErrUnauthenticated)
	}
	if err != nil {
		return backend.Session{}, translateErr(err)
	}
	if bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) != nil {
		return backend.Session{}, fmt.Errorf("invalid credentials: %w", backend.ErrUnauthenticated)
	}

	return b.issueSession(userID, email)
}

func (b *Backend) GetSession(ctx context.Context) (*backend.Session, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.session == nil || time.Now().After(b.session.ExpiresAt) {
		return nil, nil
	}
	s := *b.session
	return &s, nil
}

func (b *Backend) SignOut(ctx context.Context) error {
	b.mu.Lock()
	b.session = nil
	fns := b.authHandlers()
	b.mu.Unlock()
	fireAuth(fns, nil)
	return nil
}

func (b *Backend) OnAuthStateChange(fn func(*backend.Session)) backend.Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.nextSub
	b.nextSub++
	b.authSubs[id] = fn
	return &authSubscription{b: b, id: id}
}

// VerifyToken parses and validates a bearer token issued by this backend,
// returning the session it encodes. Used by the HTTP auth middleware.
func (b *Backend) VerifyToken(token string) (*backend.Session, error) {
	claims := &sessionClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return b.cfg.JWTSecret, nil
	})
	if err != nil || !parsed.Valid || claims.ExpiresAt == nil {
		return nil, fmt.Errorf("invalid token: %w", backend.ErrUnauthenticated)
	}
	return &backend.Session{
		UserID:      claims.Subject,
		Email:       claims.Email,
		AccessToken: token,
		ExpiresAt:   claims.ExpiresAt.Time,
	}, nil
}

func (b *Backend) issueSession(userID, email string) (backend.Session, error) {
	expires := time.Now().Add(SessionTTL)
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, sessionClaims{
		Email: email,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ExpiresAt: jwt.NewNumericDate(expires),
		},
	})
	signed, err := token.SignedString(b.cfg.JWTSecret)
	if err != nil {
		return backend.Session{}, fmt.Errorf("sign token: %w", err)
	}

	sess := backend.Session{
		UserID:      userID,
		Email:       email,
		AccessToken: signed,
		ExpiresAt:   expires,
	}
	b.mu.Lock()
	b.session = &sess
	fns := b.authHandlers()
	b.mu.Unlock()
	fireAuth(fns, &sess)
	return sess, nil
}

func (b *Backend) authHandlers() []func(*backend.Session) {
	fns := make([]func(*backend.Session), 0, len(b.authSubs))
	for _, fn := range b.authSubs {
		fns = append(fns, fn)
	}
	return fns
}

func fireAuth(fns []func(*backend.Session), sess *backend.Session) {
	for _, fn := range fns {
		var copied *backend.Session
		if sess != nil {
			s := *sess
			copied = &s
		}
		fn(copied)
	}
}

type authSubscription struct {
	b  *Backend
	id int
}

func (s *authSubscription) Unsubscribe() {
	s.b.mu.Lock()
	delete(s.b.authSubs, s.id)
	s.b.mu.Unlock()
}

// ─── BlobStore ────────────────────────────────────────────────────────────────

func (b *Backend) UploadBlob(ctx context.Context, bucket, path string, data []byte, contentType string) (string, error) {
	if len(data) == 0 || len(data) > backend.MaxBlobSize {
		return "", fmt.Errorf("blob size %d out of range: %w", len(data), backend.ErrValidation)
	}
	if !backend.AllowedBlobType(contentType) {
		return "", fmt.Errorf("blob type %q not allowed: %w", contentType, backend.ErrValidation)
	}
	if strings.Contains(bucket, "..") || strings.Contains(path, "..") {
		return "", fmt.Errorf("blob path not allowed: %w", backend.ErrValidation)
	}

	full := filepath.Join(b.cfg.BlobDir, bucket, filepath.FromSlash(path))
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return "", fmt.Errorf("create blob dir: %w", err)
	}
	if err := os.WriteFile(full, data, 0o644); err != nil {
		return "", fmt.Errorf("write blob: %w", err)
	}
	return b.cfg.BlobBaseURL + "/" + bucket + "/" + path, nil
}

func (b *Backend) DeleteBlob(ctx context.Context, bucket, path string) error {
	if strings.Contains(bucket, "..") || strings.Contains(path, "..") {
		return fmt.Errorf("blob path not allowed: %w", backend.ErrValidation)
	}
	full := filepath.Join(b.cfg.BlobDir, bucket, filepath.FromSlash(path))
	if err := os.Remove(full); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete blob: %w", err)
	}
	return nil
}

// ─── Realtime ─────────────────────────────────────────────────────────────────

func (b *Backend) Subscribe(table string, filter backend.Filter, fn backend.ChangeHandler) backend.Subscription {
	return b.feed.subscribe(table, filter, fn)
}

// ─── SQL helpers ──────────────────────────────────────────────────────────────

// checkIdent rejects identifiers outside snake_case ASCII. Table and
// column names come from code constants, never user input, so a failure
// here is a programming error surfaced loudly.
func checkIdent(name string) error {
	if name == "" {
		return fmt.Errorf("empty identifier: %w", backend.ErrValidation)
	}
	for _, r := range name {
		if (r < 'a' || r > 'z') && (r < '0' || r > '9') && r != '_' {
			return fmt.Errorf("bad identifier %q: %w", name, backend.ErrValidation)
		}
	}
	return nil
}

func sortedKeys(r backend.Record) []string {
	keys := make([]string, 0, len(r))
	for k := range r {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func buildWhere(filter backend.Filter) (string, []any, error) {
	if len(filter) == 0 {
		return "", nil, nil
	}
	conds := make([]string, 0, len(filter))
	args := make([]any, 0, len(filter))
	for _, col := range sortedKeys(backend.Record(filter)) {
		if err := checkIdent(col); err != nil {
			return "", nil, err
		}
		conds = append(conds, fmt.Sprintf("%s = $%d", col, len(args)+1))
		args = append(args, encodeValue(filter[col]))
	}
	return " WHERE " + strings.Join(conds, " AND "), args, nil
}

// encodeValue maps record values to pgx bind parameters. Primitives and
// times pass through; anything structured (voting options) is stored as
// JSON.
func encodeValue(v any) any {
	switch v.(type) {
	case nil, string, bool, int, int32, int64, float64, time.Time, *time.Time, []byte:
		return v
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return data
}

// collectRecords drains rows into Records keyed by column name.
func collectRecords(rows pgx.Rows) ([]backend.Record, error) {
	defer rows.Close()
	var out []backend.Record
	fields := rows.FieldDescriptions()
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, err
		}
		rec := make(backend.Record, len(fields))
		for i, fd := range fields {
			rec[fd.Name] = normalizeValue(values[i])
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// normalizeValue maps pgx scan results onto the value shapes the Record
// accessors and codecs expect.
func normalizeValue(v any) any {
	switch t := v.(type) {
	case [16]byte: // uuid columns scan as raw bytes
		return uuid.UUID(t).String()
	case time.Time:
		return t.UTC()
	}
	return v
}

// translateErr folds pgx failures into the backend error taxonomy.
func translateErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return backend.ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505": // unique_violation
			return fmt.Errorf("%s: %w", pgErr.ConstraintName, backend.ErrConflict)
		case "23502", "23514", "22P02": // not-null, check, bad text representation
			return fmt.Errorf("%s: %w", pgErr.Message, backend.ErrValidation)
		case "23503": // foreign key
			return fmt.Errorf("%s: %w", pgErr.ConstraintName, backend.ErrNotFound)
		}
		return fmt.Errorf("postgres: %s: %w", pgErr.Message, err)
	}
	return fmt.Errorf("%v: %w", err, backend.ErrNetwork)
}
