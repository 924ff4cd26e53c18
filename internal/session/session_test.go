package session

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/intentgate/intentgate/internal/models"
	"github.com/intentgate/intentgate/internal/store"
)

func newTestManager(t *testing.T) (*Manager, *store.MemoryStore, *time.Time) {
	t.Helper()
	st := store.NewMemory()
	now := time.Now()
	st.Now = func() time.Time { return now }
	m := NewManager(st, "test-secret", 30*time.Minute)
	m.now = func() time.Time { return now }
	return m, st, &now
}

func TestLoginAndResolve(t *testing.T) {
	ctx := context.Background()
	m, _, _ := newTestManager(t)

	token, err := m.Login(ctx, "alice")
	require.NoError(t, err)
	require.NotEmpty(t, token)

	res, err := m.Resolve(ctx, token)
	require.NoError(t, err)
	assert.Equal(t, "alice", res.CallerID)
	assert.Greater(t, res.RemainingTTL, time.Duration(0))
}

func TestSecondLoginRejected(t *testing.T) {
	ctx := context.Background()
	m, _, _ := newTestManager(t)

	_, err := m.Login(ctx, "alice")
	require.NoError(t, err)

	_, err = m.Login(ctx, "alice")
	assert.ErrorIs(t, err, ErrSessionActive)
}

func TestLoginRejectsReservedCallerIDs(t *testing.T) {
	ctx := context.Background()
	m, _, _ := newTestManager(t)

	// A `:` in the caller id would let session and credential keys
	// alias another caller's; glob characters would match as patterns.
	for _, callerID := range []string{"alice:x", "al*ce", "al?ce", "al[i]ce", `al\ice`} {
		_, err := m.Login(ctx, callerID)
		assert.ErrorIs(t, err, ErrInvalidCallerID, callerID)
	}
}

func TestLoginAfterExpiryAllowed(t *testing.T) {
	ctx := context.Background()
	m, _, now := newTestManager(t)

	_, err := m.Login(ctx, "alice")
	require.NoError(t, err)

	*now = now.Add(time.Hour)

	token, err := m.Login(ctx, "alice")
	require.NoError(t, err)
	assert.NotEmpty(t, token)
}

func TestLogoutInvalidatesToken(t *testing.T) {
	ctx := context.Background()
	m, _, _ := newTestManager(t)

	token, err := m.Login(ctx, "alice")
	require.NoError(t, err)

	require.NoError(t, m.Logout(ctx, "alice"))

	_, err = m.Resolve(ctx, token)
	assert.ErrorIs(t, err, ErrInvalidToken)

	assert.ErrorIs(t, m.Logout(ctx, "alice"), ErrNoSession)
}

func TestResolveEmptyToken(t *testing.T) {
	ctx := context.Background()
	m, _, _ := newTestManager(t)

	_, err := m.Resolve(ctx, "")
	assert.ErrorIs(t, err, ErrInvalidToken)
	_, err = m.Resolve(ctx, "   ")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestResolveExpiredSession(t *testing.T) {
	ctx := context.Background()
	m, _, now := newTestManager(t)

	token, err := m.Login(ctx, "alice")
	require.NoError(t, err)

	*now = now.Add(31 * time.Minute)

	_, err = m.Resolve(ctx, token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

// A record that is still readable but whose TTL is gone must resolve
// invalid: the read-time guard, not record presence, decides validity.
func TestResolveRecordWithoutLiveTTL(t *testing.T) {
	ctx := context.Background()
	m, st, _ := newTestManager(t)

	record := models.Session{
		CallerID:    "bob",
		Status:      models.SessionActive,
		Token:       "stale-token",
		ActivatedAt: time.Now(),
	}
	raw, err := json.Marshal(record)
	require.NoError(t, err)
	// Persistent record (legacy write, no index): the scan finds it and
	// the NoExpiry TTL keeps it valid.
	require.NoError(t, st.Set(ctx, SessionKey("bob"), string(raw), 0))

	res, err := m.Resolve(ctx, "stale-token")
	require.NoError(t, err)
	assert.Equal(t, "bob", res.CallerID)

	// Flip it inactive: same record, now invalid.
	record.Status = models.SessionInactive
	raw, err = json.Marshal(record)
	require.NoError(t, err)
	require.NoError(t, st.Set(ctx, SessionKey("bob"), string(raw), 0))

	_, err = m.Resolve(ctx, "stale-token")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestResolveLegacyScanFallback(t *testing.T) {
	ctx := context.Background()
	m, st, _ := newTestManager(t)

	token, err := m.Login(ctx, "carol")
	require.NoError(t, err)

	// Drop the index entry; resolution must fall back to the scan.
	require.NoError(t, st.Delete(ctx, "session_token:"+token))

	res, err := m.Resolve(ctx, token)
	require.NoError(t, err)
	assert.Equal(t, "carol", res.CallerID)
}

func TestRemainingTTL(t *testing.T) {
	ctx := context.Background()
	m, _, now := newTestManager(t)

	_, err := m.RemainingTTL(ctx, "alice")
	assert.ErrorIs(t, err, ErrNoSession)

	_, err = m.Login(ctx, "alice")
	require.NoError(t, err)

	ttl, err := m.RemainingTTL(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, 30*time.Minute, ttl)

	*now = now.Add(time.Hour)
	_, err = m.RemainingTTL(ctx, "alice")
	assert.ErrorIs(t, err, ErrNoSession)
}

func TestTokenReturnsCurrent(t *testing.T) {
	ctx := context.Background()
	m, _, _ := newTestManager(t)

	token, err := m.Login(ctx, "alice")
	require.NoError(t, err)

	got, err := m.Token(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, token, got)
}
