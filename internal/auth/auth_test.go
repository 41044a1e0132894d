package auth

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harvardpoops/app/internal/backend"
	"github.com/harvardpoops/app/internal/backend/memory"
	"github.com/harvardpoops/app/internal/model"
)

func seedCode(t *testing.T, b *memory.Backend, code string) {
	t.Helper()
	_, err := b.CreateRecord(context.Background(), backend.TableReferralCodes, backend.Record{
		"code":       code,
		"created_by": "founder",
		"is_used":    false,
	})
	require.NoError(t, err)
}

func signUpRequest(code string) model.SignUpRequest {
	return model.SignUpRequest{
		Email:        "alice@college.harvard.edu",
		Password:     "correct-horse",
		FullName:     "Alice Adams",
		Year:         "2027",
		House:        "Lowell",
		PhoneNumber:  "617-555-0100",
		ReferralCode: code,
	}
}

func TestSignUpHappyPath(t *testing.T) {
	b := memory.New()
	seedCode(t, b, "HP-AAAAAA")
	m := NewManager(b, b)
	ctx := context.Background()

	profile, err := m.SignUp(ctx, signUpRequest("hp-aaaaaa")) // case-insensitive code
	require.NoError(t, err)
	assert.Equal(t, "Alice Adams", profile.FullName)
	assert.Equal(t, DefaultReferralQuota, profile.ReferralCodesRemaining)
	require.NotNil(t, m.Session())

	// The code is now consumed and attributed.
	rec, err := b.ReadRecord(ctx, backend.TableReferralCodes, backend.Filter{"code": "HP-AAAAAA"})
	require.NoError(t, err)
	assert.True(t, rec.Bool("is_used"))
	assert.Equal(t, m.Session().UserID, rec.String("used_by"))
	assert.NotNil(t, rec["used_at"])
}

func TestSignUpValidatesLocally(t *testing.T) {
	b := memory.New()
	m := NewManager(b, b)
	ctx := context.Background()

	tests := []struct {
		name   string
		mutate func(*model.SignUpRequest)
	}{
		{"wrong email domain", func(r *model.SignUpRequest) { r.Email = "alice@yale.edu" }},
		{"not an email", func(r *model.SignUpRequest) { r.Email = "alice" }},
		{"short password", func(r *model.SignUpRequest) { r.Password = "short" }},
		{"missing name", func(r *model.SignUpRequest) { r.FullName = "  " }},
		{"missing code", func(r *model.SignUpRequest) { r.ReferralCode = "" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := signUpRequest("HP-AAAAAA")
			tt.mutate(&req)
			_, err := m.SignUp(ctx, req)
			assert.ErrorIs(t, err, backend.ErrValidation)
		})
	}
}

func TestSignUpRejectsBadCodes(t *testing.T) {
	b := memory.New()
	seedCode(t, b, "HP-AAAAAA")
	m := NewManager(b, b)
	ctx := context.Background()

	_, err := m.SignUp(ctx, signUpRequest("HP-NOPE99"))
	assert.ErrorIs(t, err, ErrCodeInvalid)

	_, err = m.SignUp(ctx, signUpRequest("HP-AAAAAA"))
	require.NoError(t, err)

	// Single-use: the same code cannot admit a second account.
	req := signUpRequest("HP-AAAAAA")
	req.Email = "bob@harvard.edu"
	_, err = m.SignUp(ctx, req)
	assert.ErrorIs(t, err, ErrCodeUsed)
}

func TestSignInAndOut(t *testing.T) {
	b := memory.New()
	seedCode(t, b, "HP-AAAAAA")
	m := NewManager(b, b)
	ctx := context.Background()

	_, err := m.SignUp(ctx, signUpRequest("HP-AAAAAA"))
	require.NoError(t, err)
	require.NoError(t, m.SignOut(ctx))
	assert.Nil(t, m.Session())
	assert.Nil(t, m.Profile())

	profile, err := m.SignIn(ctx, model.SignInRequest{
		Email:    "alice@college.harvard.edu",
		Password: "correct-horse",
	})
	require.NoError(t, err)
	assert.Equal(t, "Alice Adams", profile.FullName)
	assert.NotNil(t, profile.LastLoginAt)

	_, err = m.SignIn(ctx, model.SignInRequest{Email: "alice@college.harvard.edu", Password: "wrong"})
	assert.ErrorIs(t, err, backend.ErrUnauthenticated)
}

func TestResume(t *testing.T) {
	b := memory.New()
	seedCode(t, b, "HP-AAAAAA")

	boot := NewManager(b, b)
	_, err := boot.SignUp(context.Background(), signUpRequest("HP-AAAAAA"))
	require.NoError(t, err)

	// A fresh manager over the same backend resumes the session.
	m := NewManager(b, b)
	require.NoError(t, m.Resume(context.Background()))
	require.NotNil(t, m.Session())
	require.NotNil(t, m.Profile())
	assert.Equal(t, "Alice Adams", m.Profile().FullName)
}

func TestGenerateReferralCode(t *testing.T) {
	b := memory.New()
	seedCode(t, b, "HP-AAAAAA")
	m := NewManager(b, b)
	ctx := context.Background()

	_, err := m.GenerateReferralCode(ctx)
	assert.ErrorIs(t, err, backend.ErrUnauthenticated)

	_, err = m.SignUp(ctx, signUpRequest("HP-AAAAAA"))
	require.NoError(t, err)

	code, err := m.GenerateReferralCode(ctx)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(code, "HP-"))
	assert.Len(t, code, 9)

	profile := m.Profile()
	assert.Equal(t, 1, profile.ReferralCodesGenerated)
	assert.Equal(t, DefaultReferralQuota-1, profile.ReferralCodesRemaining)
}

func TestGenerateReferralCodeQuota(t *testing.T) {
	b := memory.New()
	seedCode(t, b, "HP-AAAAAA")
	m := NewManager(b, b)
	ctx := context.Background()

	_, err := m.SignUp(ctx, signUpRequest("HP-AAAAAA"))
	require.NoError(t, err)

	for i := 0; i < DefaultReferralQuota; i++ {
		_, err := m.GenerateReferralCode(ctx)
		require.NoError(t, err)
	}

	_, err = m.GenerateReferralCode(ctx)
	assert.ErrorIs(t, err, backend.ErrQuotaExceeded)
}

func TestOnChangeFanOut(t *testing.T) {
	b := memory.New()
	seedCode(t, b, "HP-AAAAAA")
	m := NewManager(b, b)
	ctx := context.Background()

	var sessions []*backend.Session
	unsubscribe := m.OnChange(func(s *backend.Session, _ *model.Profile) {
		sessions = append(sessions, s)
	})

	_, err := m.SignUp(ctx, signUpRequest("HP-AAAAAA"))
	require.NoError(t, err)
	require.NoError(t, m.SignOut(ctx))

	require.NotEmpty(t, sessions)
	assert.Nil(t, sessions[len(sessions)-1], "last transition is the sign-out")

	unsubscribe()
	seen := len(sessions)
	_, err = m.SignIn(ctx, model.SignInRequest{Email: "alice@college.harvard.edu", Password: "correct-horse"})
	require.NoError(t, err)
	assert.Equal(t, seen, len(sessions))
}
