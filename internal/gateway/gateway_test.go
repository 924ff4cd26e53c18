package gateway

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/intentgate/intentgate/internal/analytics"
	"github.com/intentgate/intentgate/internal/cache"
	"github.com/intentgate/intentgate/internal/config"
	"github.com/intentgate/intentgate/internal/credential"
	"github.com/intentgate/intentgate/internal/events"
	"github.com/intentgate/intentgate/internal/match"
	"github.com/intentgate/intentgate/internal/models"
	"github.com/intentgate/intentgate/internal/session"
	"github.com/intentgate/intentgate/internal/store"
	"github.com/intentgate/intentgate/internal/upstream"
)

type memoryRecorder struct {
	rows []analytics.RequestLog
}

func (r *memoryRecorder) LogRequest(ctx context.Context, row analytics.RequestLog) error {
	r.rows = append(r.rows, row)
	return nil
}

type fixture struct {
	gw       *Gateway
	store    *store.MemoryStore
	creds    *credential.Service
	upstream *upstream.StaticClient
	recorder *memoryRecorder
	events   *events.Service
	token    string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()

	st := store.NewMemory()
	sessions := session.NewManager(st, "test-secret", 30*time.Minute)
	creds := credential.NewService(st, sessions, config.DefaultConflictThreshold)
	semCache := cache.New(st, config.DefaultCacheSimilarity, config.DefaultMaxCacheEntries, config.DefaultCacheBucketTTL)
	matcher := match.New(creds, config.DefaultMatchThreshold, config.DefaultConflictThreshold)
	up := &upstream.StaticClient{}
	ev := events.NewService(st)
	rec := &memoryRecorder{}

	gw := New(sessions, creds, semCache, matcher, up, ev, rec)

	token, err := sessions.Login(ctx, "alice")
	require.NoError(t, err)

	for _, in := range []credential.Input{
		{Name: "img", Description: "image generation", Secret: "sk-img"},
		{Name: "chat", Description: "chat completion", Secret: "sk-chat"},
	} {
		_, err := creds.Add(ctx, "alice", in)
		require.NoError(t, err)
	}

	return &fixture{gw: gw, store: st, creds: creds, upstream: up, recorder: rec, events: ev, token: token}
}

func TestHandleFullFlow(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.upstream.Result = &upstream.Result{
		Success:    true,
		Data:       json.RawMessage(`{"url":"https://img.example/cat.png"}`),
		TokensUsed: 42,
	}

	resp, err := f.gw.Handle(ctx, Request{
		Token:   f.token,
		Intent:  "draw me a cat",
		Payload: json.RawMessage(`{"size":"512x512"}`),
	})
	require.NoError(t, err)
	require.True(t, resp.Success)
	assert.Equal(t, "img", resp.Template)
	assert.False(t, resp.Cached)
	assert.Equal(t, 42, resp.TokensUsed)
	assert.GreaterOrEqual(t, resp.Confidence, 0.75)

	// The decrypted secret reached the upstream client.
	require.Len(t, f.upstream.Calls, 1)
	assert.Equal(t, "sk-img", f.upstream.Calls[0].Secret)

	// Usage was bumped once.
	cred, err := f.creds.Get(ctx, "alice", "img")
	require.NoError(t, err)
	assert.Equal(t, 1, cred.Usage.DailyRequests)
	assert.Equal(t, 42, cred.Usage.DailyTokens)

	// Second identical request is served from cache: no new upstream
	// call, no new usage.
	resp2, err := f.gw.Handle(ctx, Request{
		Token:   f.token,
		Intent:  "draw me a cat",
		Payload: json.RawMessage(`{"size":"512x512"}`),
	})
	require.NoError(t, err)
	require.True(t, resp2.Success)
	assert.True(t, resp2.Cached)
	assert.JSONEq(t, string(f.upstream.Result.Data), string(resp2.Data))
	assert.Len(t, f.upstream.Calls, 1)

	cred, err = f.creds.Get(ctx, "alice", "img")
	require.NoError(t, err)
	assert.Equal(t, 1, cred.Usage.DailyRequests)
}

func TestHandleInvalidToken(t *testing.T) {
	f := newFixture(t)
	_, err := f.gw.Handle(context.Background(), Request{Token: "bogus", Intent: "draw me a cat"})
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestHandleMissingIntent(t *testing.T) {
	f := newFixture(t)
	_, err := f.gw.Handle(context.Background(), Request{Token: f.token, Intent: "   "})
	assert.ErrorIs(t, err, ErrMissingIntent)
}

func TestHandleNoMatchReturnsSuggestions(t *testing.T) {
	f := newFixture(t)

	resp, err := f.gw.Handle(context.Background(), Request{
		Token:  f.token,
		Intent: "transcribe this audio recording",
	})
	require.NoError(t, err)
	assert.False(t, resp.Success)
	assert.Contains(t, resp.Reason, "no template")
	assert.NotEmpty(t, resp.Suggested, "misses carry ranked suggestions")
	assert.Empty(t, f.upstream.Calls)
}

func TestHandleAccessDenied(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.creds.Update(ctx, "alice", "img", credential.Update{
		AllowedOrigins: []string{"*.example.com"},
	})
	require.NoError(t, err)

	resp, err := f.gw.Handle(ctx, Request{
		Token:  f.token,
		Intent: "draw me a cat",
		Origin: "evil.com",
	})
	require.NoError(t, err)
	assert.False(t, resp.Success)
	assert.False(t, resp.Retryable)
	assert.Contains(t, resp.Reason, "evil.com")
	assert.Empty(t, f.upstream.Calls)

	// The denial is visible in the caller's recent events.
	recent, err := f.events.Recent(ctx, "alice", 10)
	require.NoError(t, err)
	require.NotEmpty(t, recent)
	assert.Equal(t, events.TypeDenied, recent[0].Type)
}

func TestHandleQuotaDeniedIsRetryable(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	limits := models.Limits{MaxRequestsPerDay: 1, MaxRequestsPerWeek: 500, MaxTokensPerDay: 10000, MaxPayloadKB: 1024}
	_, err := f.creds.Update(ctx, "alice", "img", credential.Update{Limits: &limits})
	require.NoError(t, err)

	resp, err := f.gw.Handle(ctx, Request{Token: f.token, Intent: "draw me a cat"})
	require.NoError(t, err)
	require.True(t, resp.Success)

	// Quota is now exhausted; use a different intent so the cache
	// cannot answer.
	resp, err = f.gw.Handle(ctx, Request{Token: f.token, Intent: "generate a drawing of a sunset"})
	require.NoError(t, err)
	assert.False(t, resp.Success)
	assert.True(t, resp.Retryable)
}

func TestHandleUpstreamFailureNotCachedNotCounted(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.upstream.Result = &upstream.Result{Success: false, Error: "provider unavailable"}

	resp, err := f.gw.Handle(ctx, Request{Token: f.token, Intent: "draw me a cat"})
	require.NoError(t, err)
	assert.False(t, resp.Success)
	assert.Contains(t, resp.Reason, "provider unavailable")

	cred, err := f.creds.Get(ctx, "alice", "img")
	require.NoError(t, err)
	assert.Equal(t, 0, cred.Usage.DailyRequests)

	entries, err := f.gw.cache.Entries(ctx, "alice")
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestHandleRetryPolicy(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.upstream.Result = &upstream.Result{Success: false, Error: "flaky"}

	retry := &models.RetryPolicy{Enabled: true, MaxRetries: 2}
	_, err := f.creds.Update(ctx, "alice", "img", credential.Update{Retry: retry})
	require.NoError(t, err)

	_, err = f.gw.Handle(ctx, Request{Token: f.token, Intent: "draw me a cat"})
	require.NoError(t, err)
	assert.Len(t, f.upstream.Calls, 3, "one attempt plus two retries")
}

func TestHandleRecordsAnalytics(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.gw.Handle(ctx, Request{Token: f.token, Intent: "draw me a cat"})
	require.NoError(t, err)

	require.Len(t, f.recorder.rows, 1)
	row := f.recorder.rows[0]
	assert.Equal(t, "alice", row.CallerID)
	assert.Equal(t, "img", row.Template)
	assert.True(t, row.Allowed)
	assert.False(t, row.CacheHit)
}
