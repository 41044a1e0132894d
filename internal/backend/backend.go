// Package backend defines the contract this app expects from its hosted
// auth + storage + realtime provider. Two implementations exist: memory
// (tests, local development) and postgres.
package backend

import (
	"context"
	"errors"
	"time"
)

// Error taxonomy. Implementations translate their raw failures into these
// sentinels; services and controllers match with errors.Is.
var (
	// ErrUnauthenticated is returned when no valid session backs a call.
	ErrUnauthenticated = errors.New("not authenticated")

	// ErrValidation is returned for input the backend rejects by shape.
	ErrValidation = errors.New("validation failed")

	// ErrConflict is returned when a uniqueness constraint is violated.
	ErrConflict = errors.New("conflict")

	// ErrNotFound is returned when a requested record does not exist.
	ErrNotFound = errors.New("not found")

	// ErrNetwork is returned for transport failures.
	ErrNetwork = errors.New("network failure")

	// ErrQuotaExceeded is returned when a per-user quota is exhausted.
	ErrQuotaExceeded = errors.New("quota exceeded")
)

// Table names understood by every Backend implementation.
const (
	TableEvents        = "events"
	TableRSVPs         = "rsvps"
	TableChatMessages  = "chat_messages"
	TableVotes         = "votes"
	TableProfiles      = "profiles"
	TableReferralCodes = "referral_codes"
)

// Blob upload limits enforced at the storage boundary.
const MaxBlobSize = 5 << 20 // 5 MB

// AllowedBlobTypes lists the MIME types the blob store accepts.
var AllowedBlobTypes = []string{"image/jpeg", "image/jpg", "image/png", "image/webp", "image/gif"}

// AllowedBlobType reports whether contentType may be uploaded.
func AllowedBlobType(contentType string) bool {
	for _, t := range AllowedBlobTypes {
		if t == contentType {
			return true
		}
	}
	return false
}

// Record is an untyped row as the backend stores it. Services translate
// Records to and from domain models.
type Record map[string]any

// Filter matches records by field equality. A nil Filter matches all.
type Filter map[string]any

// Order sorts a listing by a single field.
type Order struct {
	Field string
	Desc  bool
}

// Session identifies an authenticated user.
type Session struct {
	UserID      string
	Email       string
	AccessToken string
	ExpiresAt   time.Time
}

// ChangeType classifies a change-feed notification.
type ChangeType string

const (
	ChangeInsert ChangeType = "INSERT"
	ChangeUpdate ChangeType = "UPDATE"
	ChangeDelete ChangeType = "DELETE"
)

// ChangeEvent is one change-feed notification. New carries the record for
// inserts and updates; Old carries the prior identity for deletes.
type ChangeEvent struct {
	Type  ChangeType
	Table string
	New   Record
	Old   Record
}

// Subscription is a handle on an active change-feed or auth-state listener.
type Subscription interface {
	Unsubscribe()
}

// ChangeHandler receives change-feed notifications in receipt order.
type ChangeHandler func(ChangeEvent)

// Authenticator covers session management.
type Authenticator interface {
	// SignUp creates a credential pair and returns a fresh session.
	SignUp(ctx context.Context, email, password string) (Session, error)
	// Authenticate verifies a credential pair and returns a session.
	Authenticate(ctx context.Context, email, password string) (Session, error)
	// GetSession returns the resumable session, or nil if none exists.
	GetSession(ctx context.Context) (*Session, error)
	// SignOut invalidates the current session.
	SignOut(ctx context.Context) error
	// OnAuthStateChange pushes login/logout transitions; a nil session
	// means logged out.
	OnAuthStateChange(fn func(*Session)) Subscription
}

// Store covers relational record CRUD.
type Store interface {
	// CreateRecord inserts fields into table and returns the canonical
	// record, with id and created_at filled if absent.
	CreateRecord(ctx context.Context, table string, fields Record) (Record, error)
	// ReadRecord returns the single record matching filter, or ErrNotFound.
	ReadRecord(ctx context.Context, table string, filter Filter) (Record, error)
	// ListRecords returns records matching filter, sorted by order if
	// non-nil, bounded by limit if positive.
	ListRecords(ctx context.Context, table string, filter Filter, order *Order, limit int) ([]Record, error)
	// CountRecords returns the number of records matching filter.
	CountRecords(ctx context.Context, table string, filter Filter) (int, error)
	// UpdateRecord applies fields to the single record matching filter and
	// returns the updated record, or ErrNotFound if nothing matches.
	UpdateRecord(ctx context.Context, table string, filter Filter, fields Record) (Record, error)
	// DeleteRecord removes all records matching filter. Deleting nothing
	// is not an error.
	DeleteRecord(ctx context.Context, table string, filter Filter) error
}

// BlobStore covers file uploads.
type BlobStore interface {
	// UploadBlob stores data under bucket/path and returns its public URL.
	UploadBlob(ctx context.Context, bucket, path string, data []byte, contentType string) (string, error)
	// DeleteBlob removes a previously uploaded blob.
	DeleteBlob(ctx context.Context, bucket, path string) error
}

// Realtime covers change-feed subscriptions.
type Realtime interface {
	// Subscribe delivers change events for table rows matching filter.
	Subscribe(table string, filter Filter, fn ChangeHandler) Subscription
}

// Backend is the full provider contract.
type Backend interface {
	Authenticator
	Store
	BlobStore
	Realtime
}
