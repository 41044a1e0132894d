package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harvardpoops/app/internal/backend"
)

func TestCreateRecordFillsIdentity(t *testing.T) {
	b := New()
	ctx := context.Background()

	rec, err := b.CreateRecord(ctx, backend.TableEvents, backend.Record{"title": "Party"})
	require.NoError(t, err)
	assert.NotEmpty(t, rec.String("id"))
	assert.False(t, rec.Time("created_at").IsZero())
}

func TestUniqueIndexesReturnConflict(t *testing.T) {
	b := New()
	ctx := context.Background()

	_, err := b.CreateRecord(ctx, backend.TableRSVPs, backend.Record{"event_id": "e1", "user_id": "u1"})
	require.NoError(t, err)

	_, err = b.CreateRecord(ctx, backend.TableRSVPs, backend.Record{"event_id": "e1", "user_id": "u1"})
	assert.ErrorIs(t, err, backend.ErrConflict)

	// Same user, different event is fine.
	_, err = b.CreateRecord(ctx, backend.TableRSVPs, backend.Record{"event_id": "e2", "user_id": "u1"})
	assert.NoError(t, err)

	// One vote per (event, voter) holds at the storage layer even when
	// two inserts race past any client-side check.
	_, err = b.CreateRecord(ctx, backend.TableVotes, backend.Record{"event_id": "e1", "voter_id": "u1", "option_id": "a"})
	require.NoError(t, err)
	_, err = b.CreateRecord(ctx, backend.TableVotes, backend.Record{"event_id": "e1", "voter_id": "u1", "option_id": "b"})
	assert.ErrorIs(t, err, backend.ErrConflict)

	n, err := b.CountRecords(ctx, backend.TableVotes, backend.Filter{"event_id": "e1", "voter_id": "u1"})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestDeleteCascades(t *testing.T) {
	b := New()
	ctx := context.Background()

	event, err := b.CreateRecord(ctx, backend.TableEvents, backend.Record{"title": "Party"})
	require.NoError(t, err)
	eventID := event.String("id")

	for _, table := range []string{backend.TableRSVPs, backend.TableChatMessages, backend.TableVotes} {
		_, err := b.CreateRecord(ctx, table, backend.Record{"event_id": eventID, "user_id": "u1", "voter_id": "u1"})
		require.NoError(t, err)
	}

	require.NoError(t, b.DeleteRecord(ctx, backend.TableEvents, backend.Filter{"id": eventID}))

	for _, table := range []string{backend.TableRSVPs, backend.TableChatMessages, backend.TableVotes} {
		n, err := b.CountRecords(ctx, table, backend.Filter{"event_id": eventID})
		require.NoError(t, err)
		assert.Zero(t, n, "%s should cascade", table)
	}
}

func TestDeleteAbsentIsNoOp(t *testing.T) {
	b := New()
	err := b.DeleteRecord(context.Background(), backend.TableRSVPs, backend.Filter{"id": "missing"})
	assert.NoError(t, err)
}

func TestUpdateRecordConditionalFilter(t *testing.T) {
	b := New()
	ctx := context.Background()

	_, err := b.CreateRecord(ctx, backend.TableReferralCodes, backend.Record{"code": "HP-ABC123", "is_used": false})
	require.NoError(t, err)

	// First consumption wins.
	_, err = b.UpdateRecord(ctx, backend.TableReferralCodes,
		backend.Filter{"code": "HP-ABC123", "is_used": false},
		backend.Record{"is_used": true, "used_by": "u1"})
	require.NoError(t, err)

	// Second attempt matches nothing.
	_, err = b.UpdateRecord(ctx, backend.TableReferralCodes,
		backend.Filter{"code": "HP-ABC123", "is_used": false},
		backend.Record{"is_used": true, "used_by": "u2"})
	assert.ErrorIs(t, err, backend.ErrNotFound)
}

func TestSubscribeDeliversFilteredChanges(t *testing.T) {
	b := New()
	ctx := context.Background()

	var got []backend.ChangeEvent
	sub := b.Subscribe(backend.TableChatMessages, backend.Filter{"event_id": "e1"}, func(ev backend.ChangeEvent) {
		got = append(got, ev)
	})
	defer sub.Unsubscribe()

	_, err := b.CreateRecord(ctx, backend.TableChatMessages, backend.Record{"event_id": "e1", "message": "hi"})
	require.NoError(t, err)
	_, err = b.CreateRecord(ctx, backend.TableChatMessages, backend.Record{"event_id": "e2", "message": "elsewhere"})
	require.NoError(t, err)

	require.Len(t, got, 1)
	assert.Equal(t, backend.ChangeInsert, got[0].Type)
	assert.Equal(t, "hi", got[0].New.String("message"))
}

func TestSubscribeStopsAfterUnsubscribe(t *testing.T) {
	b := New()
	ctx := context.Background()

	calls := 0
	sub := b.Subscribe(backend.TableEvents, nil, func(backend.ChangeEvent) { calls++ })

	_, err := b.CreateRecord(ctx, backend.TableEvents, backend.Record{"title": "one"})
	require.NoError(t, err)
	sub.Unsubscribe()
	_, err = b.CreateRecord(ctx, backend.TableEvents, backend.Record{"title": "two"})
	require.NoError(t, err)

	assert.Equal(t, 1, calls)
}

func TestAuthLifecycle(t *testing.T) {
	b := New()
	ctx := context.Background()

	var transitions []*backend.Session
	b.OnAuthStateChange(func(s *backend.Session) { transitions = append(transitions, s) })

	sess, err := b.SignUp(ctx, "alice@college.harvard.edu", "hunter2hunter2")
	require.NoError(t, err)
	assert.NotEmpty(t, sess.UserID)

	resumed, err := b.GetSession(ctx)
	require.NoError(t, err)
	require.NotNil(t, resumed)
	assert.Equal(t, sess.UserID, resumed.UserID)

	require.NoError(t, b.SignOut(ctx))
	resumed, err = b.GetSession(ctx)
	require.NoError(t, err)
	assert.Nil(t, resumed)

	_, err = b.Authenticate(ctx, "alice@college.harvard.edu", "wrong")
	assert.ErrorIs(t, err, backend.ErrUnauthenticated)

	again, err := b.Authenticate(ctx, "alice@college.harvard.edu", "hunter2hunter2")
	require.NoError(t, err)
	assert.Equal(t, sess.UserID, again.UserID)

	require.Len(t, transitions, 3)
	assert.Nil(t, transitions[1])
}

func TestFailWritesInjection(t *testing.T) {
	b := New()
	ctx := context.Background()
	boom := errors.New("boom")

	b.FailWrites(backend.TableVotes, boom)
	_, err := b.CreateRecord(ctx, backend.TableVotes, backend.Record{"event_id": "e1", "voter_id": "u1"})
	assert.ErrorIs(t, err, boom)

	b.FailWrites(backend.TableVotes, nil)
	_, err = b.CreateRecord(ctx, backend.TableVotes, backend.Record{"event_id": "e1", "voter_id": "u1"})
	assert.NoError(t, err)
}

func TestUploadBlobValidates(t *testing.T) {
	b := New()
	ctx := context.Background()

	url, err := b.UploadBlob(ctx, "event-images", "events/u1/a.png", []byte{1, 2, 3}, "image/png")
	require.NoError(t, err)
	assert.Contains(t, url, "event-images/events/u1/a.png")

	_, err = b.UploadBlob(ctx, "event-images", "a.exe", []byte{1}, "application/octet-stream")
	assert.ErrorIs(t, err, backend.ErrValidation)
}
