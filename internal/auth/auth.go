// Package auth manages the session lifecycle: sign-up with referral-code
// consumption, sign-in, sign-out, session resume, and auth-state fan-out.
package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/harvardpoops/app/internal/backend"
	"github.com/harvardpoops/app/internal/model"
	"github.com/harvardpoops/app/internal/service"
)

// AllowedEmailDomains is the institutional allow-list checked locally
// before any network call.
var AllowedEmailDomains = []string{"harvard.edu", "college.harvard.edu"}

// MinPasswordLen is the minimum accepted password length.
const MinPasswordLen = 8

// DefaultReferralQuota is how many codes a fresh account may generate.
const DefaultReferralQuota = 5

// Referral-code errors.
var (
	ErrCodeInvalid = errors.New("invalid referral code")
	ErrCodeUsed    = errors.New("referral code already used")
)

// Manager owns the current session and profile. All reads are served
// from memory; mutations go through the backend.
type Manager struct {
	auth  backend.Authenticator
	store backend.Store

	mu        sync.Mutex
	session   *backend.Session
	profile   *model.Profile
	listeners map[int]func(*backend.Session, *model.Profile)
	nextID    int
}

// NewManager constructs a Manager and begins tracking backend auth-state
// pushes (e.g. session expiry from another tab under last-write-wins).
func NewManager(auth backend.Authenticator, store backend.Store) *Manager {
	m := &Manager{
		auth:      auth,
		store:     store,
		listeners: make(map[int]func(*backend.Session, *model.Profile)),
	}
	auth.OnAuthStateChange(func(sess *backend.Session) {
		m.applySession(context.Background(), sess)
	})
	return m
}

// Resume restores the session persisted by the backend, if any, and
// loads its profile. Called once at startup.
func (m *Manager) Resume(ctx context.Context) error {
	sess, err := m.auth.GetSession(ctx)
	if err != nil {
		return fmt.Errorf("resume session: %w", err)
	}
	m.applySession(ctx, sess)
	return nil
}

// Session returns the current session, or nil when signed out.
func (m *Manager) Session() *backend.Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session == nil {
		return nil
	}
	sess := *m.session
	return &sess
}

// Profile returns the loaded profile, or nil.
func (m *Manager) Profile() *model.Profile {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.profile == nil {
		return nil
	}
	p := *m.profile
	return &p
}

// OnChange registers a listener for session/profile transitions. The
// returned function removes it.
func (m *Manager) OnChange(fn func(*backend.Session, *model.Profile)) func() {
	m.mu.Lock()
	m.nextID++
	id := m.nextID
	m.listeners[id] = fn
	m.mu.Unlock()
	return func() {
		m.mu.Lock()
		delete(m.listeners, id)
		m.mu.Unlock()
	}
}

// SignUp validates the request locally, checks the referral code,
// creates the account and profile, and marks the code used. The
// code-consumption step is sequential, not transactional: the
// conditional is_used=false update means a lost race surfaces as
// ErrCodeUsed rather than silently double-consuming.
func (m *Manager) SignUp(ctx context.Context, req model.SignUpRequest) (*model.Profile, error) {
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	req.FullName = strings.TrimSpace(req.FullName)
	code := strings.ToUpper(strings.TrimSpace(req.ReferralCode))

	if req.FullName == "" {
		return nil, fmt.Errorf("full name is required: %w", backend.ErrValidation)
	}
	if !allowedDomain(req.Email) {
		return nil, fmt.Errorf("please use a Harvard email address (@harvard.edu or @college.harvard.edu): %w", backend.ErrValidation)
	}
	if len(req.Password) < MinPasswordLen {
		return nil, fmt.Errorf("password must be at least %d characters: %w", MinPasswordLen, backend.ErrValidation)
	}
	if code == "" {
		return nil, fmt.Errorf("referral code is required: %w", backend.ErrValidation)
	}

	codeRec, err := m.store.ReadRecord(ctx, backend.TableReferralCodes, backend.Filter{"code": code})
	if err != nil {
		if errors.Is(err, backend.ErrNotFound) {
			return nil, ErrCodeInvalid
		}
		return nil, fmt.Errorf("check referral code: %w", err)
	}
	if service.DecodeReferralCode(codeRec).IsUsed {
		return nil, ErrCodeUsed
	}

	sess, err := m.auth.SignUp(ctx, req.Email, req.Password)
	if err != nil {
		return nil, fmt.Errorf("sign up: %w", err)
	}

	profileRec, err := m.store.CreateRecord(ctx, backend.TableProfiles, backend.Record{
		"id":                       sess.UserID,
		"full_name":                req.FullName,
		"email":                    req.Email,
		"year":                     req.Year,
		"house":                    req.House,
		"phone_number":             req.PhoneNumber,
		"referred_by_code":         code,
		"referral_codes_generated": 0,
		"referral_codes_remaining": DefaultReferralQuota,
	})
	if err != nil {
		return nil, fmt.Errorf("create profile: %w", err)
	}

	// Conditional on is_used=false so a concurrent signup with the same
	// code loses deterministically.
	_, err = m.store.UpdateRecord(ctx, backend.TableReferralCodes,
		backend.Filter{"code": code, "is_used": false},
		backend.Record{
			"is_used": true,
			"used_by": sess.UserID,
			"used_at": time.Now().UTC(),
		})
	if err != nil {
		if errors.Is(err, backend.ErrNotFound) {
			return nil, ErrCodeUsed
		}
		return nil, fmt.Errorf("consume referral code: %w", err)
	}

	profile := service.DecodeProfile(profileRec)
	m.setState(&sess, &profile)
	return &profile, nil
}

// SignIn authenticates, stamps last_login_at, and loads the profile.
func (m *Manager) SignIn(ctx context.Context, req model.SignInRequest) (*model.Profile, error) {
	sess, err := m.auth.Authenticate(ctx, strings.ToLower(strings.TrimSpace(req.Email)), req.Password)
	if err != nil {
		return nil, fmt.Errorf("sign in: %w", err)
	}

	if _, err := m.store.UpdateRecord(ctx, backend.TableProfiles,
		backend.Filter{"id": sess.UserID},
		backend.Record{"last_login_at": time.Now().UTC()}); err != nil {
		// Non-fatal: the login itself succeeded.
		log.Warn().Err(err).Str("user_id", sess.UserID).Msg("failed to stamp last login")
	}

	profile, err := m.fetchProfile(ctx, sess.UserID)
	if err != nil {
		return nil, err
	}
	m.setState(&sess, profile)
	return profile, nil
}

// SignOut invalidates the session and clears local auth state.
func (m *Manager) SignOut(ctx context.Context) error {
	if err := m.auth.SignOut(ctx); err != nil {
		return fmt.Errorf("sign out: %w", err)
	}
	m.setState(nil, nil)
	return nil
}

// GenerateReferralCode mints a fresh single-use HP-XXXXXX code, charges
// it against the caller's quota, and refreshes the cached profile.
func (m *Manager) GenerateReferralCode(ctx context.Context) (string, error) {
	m.mu.Lock()
	sess, profile := m.session, m.profile
	m.mu.Unlock()

	if sess == nil || profile == nil {
		return "", backend.ErrUnauthenticated
	}

	code, err := m.mintCode(ctx, sess.UserID, profile)
	if err != nil {
		return "", err
	}

	refreshed, err := m.fetchProfile(ctx, sess.UserID)
	if err != nil {
		return "", err
	}
	m.setState(sess, refreshed)
	return code, nil
}

// GenerateReferralCodeFor mints a code on behalf of an explicit user,
// bypassing the cached session. Used by the HTTP layer, where identity
// comes from the request token rather than this manager's state.
func (m *Manager) GenerateReferralCodeFor(ctx context.Context, userID string) (string, error) {
	if userID == "" {
		return "", backend.ErrUnauthenticated
	}
	profile, err := m.fetchProfile(ctx, userID)
	if err != nil {
		return "", err
	}
	return m.mintCode(ctx, userID, profile)
}

// ProfileByID fetches any user's profile.
func (m *Manager) ProfileByID(ctx context.Context, userID string) (*model.Profile, error) {
	return m.fetchProfile(ctx, userID)
}

// mintCode creates one referral code and charges it against the user's
// quota.
func (m *Manager) mintCode(ctx context.Context, userID string, profile *model.Profile) (string, error) {
	if profile.ReferralCodesRemaining <= 0 {
		return "", fmt.Errorf("no referral codes remaining: %w", backend.ErrQuotaExceeded)
	}

	// Retry on the (unlikely) code collision; the unique index on code
	// is what guarantees global uniqueness.
	var code string
	for attempt := 0; ; attempt++ {
		code = newCode()
		_, err := m.store.CreateRecord(ctx, backend.TableReferralCodes, backend.Record{
			"code":       code,
			"created_by": userID,
			"is_used":    false,
		})
		if err == nil {
			break
		}
		if errors.Is(err, backend.ErrConflict) && attempt < 3 {
			continue
		}
		return "", fmt.Errorf("create referral code: %w", err)
	}

	if _, err := m.store.UpdateRecord(ctx, backend.TableProfiles,
		backend.Filter{"id": userID},
		backend.Record{
			"referral_codes_generated": profile.ReferralCodesGenerated + 1,
			"referral_codes_remaining": profile.ReferralCodesRemaining - 1,
		}); err != nil {
		return "", fmt.Errorf("update referral quota: %w", err)
	}
	return code, nil
}

// ─── internals ────────────────────────────────────────────────────────────

func (m *Manager) applySession(ctx context.Context, sess *backend.Session) {
	if sess == nil {
		m.setState(nil, nil)
		return
	}
	profile, err := m.fetchProfile(ctx, sess.UserID)
	if err != nil {
		log.Error().Err(err).Str("user_id", sess.UserID).Msg("failed to load profile")
		profile = nil
	}
	m.setState(sess, profile)
}

func (m *Manager) fetchProfile(ctx context.Context, userID string) (*model.Profile, error) {
	rec, err := m.store.ReadRecord(ctx, backend.TableProfiles, backend.Filter{"id": userID})
	if err != nil {
		return nil, fmt.Errorf("fetch profile: %w", err)
	}
	profile := service.DecodeProfile(rec)
	return &profile, nil
}

func (m *Manager) setState(sess *backend.Session, profile *model.Profile) {
	m.mu.Lock()
	m.session = sess
	m.profile = profile
	fns := make([]func(*backend.Session, *model.Profile), 0, len(m.listeners))
	for _, fn := range m.listeners {
		fns = append(fns, fn)
	}
	m.mu.Unlock()

	for _, fn := range fns {
		fn(sess, profile)
	}
}

func allowedDomain(email string) bool {
	parts := strings.Split(email, "@")
	if len(parts) != 2 {
		return false
	}
	for _, d := range AllowedEmailDomains {
		if parts[1] == d {
			return true
		}
	}
	return false
}

// newCode builds an HP-XXXXXX code from uuid entropy.
func newCode() string {
	raw := strings.ReplaceAll(uuid.New().String(), "-", "")
	return "HP-" + strings.ToUpper(raw[:6])
}
