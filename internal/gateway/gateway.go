// Package gateway orchestrates one request end to end: token
// resolution, semantic cache lookup, template matching, access control,
// the upstream call, then the best-effort cache, usage, event and
// analytics writes.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/intentgate/intentgate/internal/access"
	"github.com/intentgate/intentgate/internal/analytics"
	"github.com/intentgate/intentgate/internal/cache"
	"github.com/intentgate/intentgate/internal/credential"
	"github.com/intentgate/intentgate/internal/crypto"
	"github.com/intentgate/intentgate/internal/events"
	"github.com/intentgate/intentgate/internal/match"
	"github.com/intentgate/intentgate/internal/models"
	"github.com/intentgate/intentgate/internal/session"
	"github.com/intentgate/intentgate/internal/upstream"
)

// ErrInvalidToken mirrors the session error at this boundary so HTTP
// callers need only one sentinel.
var ErrInvalidToken = session.ErrInvalidToken

// ErrDecryptSecret means the credential secret could not be opened
// under the current session key. Terminal for the request.
var ErrDecryptSecret = errors.New("gateway: credential secret cannot be decrypted")

// ErrMissingIntent is an input validation failure, never retried.
var ErrMissingIntent = errors.New("gateway: intent is required")

// Recorder receives best-effort request log rows.
type Recorder interface {
	LogRequest(ctx context.Context, row analytics.RequestLog) error
}

// Request is one caller submission.
type Request struct {
	Token   string          `json:"-"`
	Intent  string          `json:"intent"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Origin  string          `json:"origin,omitempty"`
}

// Response is the typed outcome. Success false with a Reason covers
// matching misses, access denials and upstream failures; Go errors are
// reserved for identity and infrastructure failures.
type Response struct {
	Success    bool              `json:"success"`
	Data       json.RawMessage   `json:"data,omitempty"`
	Template   string            `json:"template,omitempty"`
	Confidence float64           `json:"confidence,omitempty"`
	Cached     bool              `json:"cached"`
	TokensUsed int               `json:"tokens_used,omitempty"`
	Warning    string            `json:"warning,omitempty"`
	Reason     string            `json:"reason,omitempty"`
	Denied     bool              `json:"denied,omitempty"`
	Retryable  bool              `json:"retryable,omitempty"`
	Conflict   bool              `json:"conflict,omitempty"`
	Suggested  []match.Candidate `json:"suggestions,omitempty"`
}

type Gateway struct {
	sessions *session.Manager
	creds    *credential.Service
	cache    *cache.SemanticCache
	matcher  *match.Matcher
	upstream upstream.Client
	events   *events.Service
	recorder Recorder // optional

	now func() time.Time
}

func New(sessions *session.Manager, creds *credential.Service, semCache *cache.SemanticCache,
	matcher *match.Matcher, up upstream.Client, ev *events.Service, recorder Recorder) *Gateway {
	return &Gateway{
		sessions: sessions,
		creds:    creds,
		cache:    semCache,
		matcher:  matcher,
		upstream: up,
		events:   ev,
		recorder: recorder,
		now:      time.Now,
	}
}

// Handle serves one request.
func (g *Gateway) Handle(ctx context.Context, req Request) (*Response, error) {
	started := g.now()

	res, err := g.sessions.Resolve(ctx, req.Token)
	if err != nil {
		return nil, err
	}
	callerID := res.CallerID

	if strings.TrimSpace(req.Intent) == "" {
		return nil, ErrMissingIntent
	}

	// Cache reads are an optimization: a failed lookup degrades to a
	// miss instead of failing the request.
	hit, err := g.cache.Lookup(ctx, callerID, req.Intent, req.Payload)
	if err != nil {
		log.Printf("gateway: cache lookup failed for %s, treating as miss: %v", callerID, err)
		hit = nil
	}
	if hit != nil {
		resp := &Response{
			Success:    true,
			Data:       hit.Entry.Response,
			Template:   hit.Entry.Template,
			Confidence: hit.Confidence,
			Cached:     true,
		}
		g.record(ctx, callerID, req.Intent, hit.Entry.Template, true, true, "", 0, started)
		return resp, nil
	}

	matched, err := g.matcher.Match(ctx, callerID, req.Intent)
	if err != nil {
		return nil, err
	}
	if !matched.Found {
		suggestions, serr := g.matcher.TopK(ctx, callerID, req.Intent, 3)
		if serr != nil {
			log.Printf("gateway: ranking suggestions failed for %s: %v", callerID, serr)
		}
		g.record(ctx, callerID, req.Intent, "", false, false, "no matching template", 0, started)
		return &Response{
			Success:   false,
			Reason:    "no template matches this intent",
			Suggested: suggestions,
		}, nil
	}

	best := *matched.Best
	if matched.Conflict {
		// Ambiguity is reported, never blocking.
		names := make([]string, 0, len(matched.Conflicting))
		for _, c := range matched.Conflicting {
			names = append(names, c.Name)
		}
		g.emit(ctx, events.Event{
			Type:     events.TypeConflict,
			CallerID: callerID,
			Template: best.Name,
			Intent:   req.Intent,
			Detail:   fmt.Sprintf("ambiguous between %s", strings.Join(names, ", ")),
		})
	}

	// A credential that outlived a missed sync gets repaired before use.
	if g.creds.StaleTTL(ctx, callerID, best.Name) {
		if _, err := g.creds.SyncTTLs(ctx, callerID); err != nil {
			log.Printf("gateway: lazy ttl sync failed for %s: %v", callerID, err)
		}
	}

	cred, err := g.creds.Get(ctx, callerID, best.Name)
	if err != nil {
		return nil, err
	}

	decision := access.Validate(cred, req.Payload, req.Origin, g.now())
	if !decision.Allowed {
		g.emit(ctx, events.Event{
			Type:     events.TypeDenied,
			CallerID: callerID,
			Template: best.Name,
			Detail:   decision.Reason,
		})
		g.record(ctx, callerID, req.Intent, best.Name, false, false, decision.Reason, 0, started)
		return &Response{
			Success:   false,
			Template:  best.Name,
			Reason:    decision.Reason,
			Denied:    true,
			Retryable: decision.Retryable,
			Conflict:  matched.Conflict,
		}, nil
	}

	secret, err := crypto.Decrypt(cred.Secret, crypto.DeriveKey(req.Token))
	if err != nil {
		return nil, ErrDecryptSecret
	}

	result, err := g.invoke(ctx, cred, best.Name, secret, req.Payload)
	if err != nil {
		return nil, fmt.Errorf("gateway: upstream call: %w", err)
	}
	if !result.Success {
		g.record(ctx, callerID, req.Intent, best.Name, false, true, result.Error, 0, started)
		return &Response{
			Success:  false,
			Template: best.Name,
			Reason:   result.Error,
			Warning:  decision.Warning(),
			Conflict: matched.Conflict,
		}, nil
	}

	// Everything past this point is best-effort: the request already
	// succeeded and must not fail on bookkeeping.
	if err := g.cache.Store(ctx, callerID, req.Intent, req.Payload, result.Data, best.Name, best.Confidence); err != nil {
		log.Printf("gateway: cache write failed for %s: %v", callerID, err)
	}
	if err := g.creds.UpdateUsage(ctx, callerID, best.Name, result.TokensUsed); err != nil {
		log.Printf("gateway: usage update failed for %s/%s: %v", callerID, best.Name, err)
	}
	g.emit(ctx, events.Event{
		Type:     events.TypeUsage,
		CallerID: callerID,
		Template: best.Name,
		Detail:   fmt.Sprintf("tokens=%d", result.TokensUsed),
	})
	g.record(ctx, callerID, req.Intent, best.Name, false, true, "", result.TokensUsed, started)

	return &Response{
		Success:    true,
		Data:       result.Data,
		Template:   best.Name,
		Confidence: best.Confidence,
		TokensUsed: result.TokensUsed,
		Warning:    decision.Warning(),
		Conflict:   matched.Conflict,
	}, nil
}

// invoke runs the upstream call under the credential's retry policy.
func (g *Gateway) invoke(ctx context.Context, cred *models.Credential, template, secret string, payload json.RawMessage) (*upstream.Result, error) {
	attempts := 1
	backoff := time.Duration(0)
	if cred.Retry != nil && cred.Retry.Enabled {
		attempts += cred.Retry.MaxRetries
		backoff = time.Duration(cred.Retry.BackoffMs) * time.Millisecond
	}

	var result *upstream.Result
	var err error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			log.Printf("gateway: retrying upstream call %d/%d for %s", attempt, attempts-1, template)
			time.Sleep(time.Duration(attempt) * backoff)
		}
		result, err = g.upstream.Invoke(ctx, template, secret, payload)
		if err == nil && result.Success {
			return result, nil
		}
	}
	return result, err
}

func (g *Gateway) emit(ctx context.Context, event events.Event) {
	if err := g.events.Emit(ctx, event); err != nil {
		log.Printf("gateway: dropping event %s for %s: %v", event.Type, event.CallerID, err)
	}
}

func (g *Gateway) record(ctx context.Context, callerID, intent, template string, cacheHit, allowed bool, reason string, tokens int, started time.Time) {
	if g.recorder == nil {
		return
	}
	row := analytics.RequestLog{
		CallerID:   callerID,
		Intent:     intent,
		Template:   template,
		CacheHit:   cacheHit,
		Allowed:    allowed,
		Reason:     reason,
		TokensUsed: tokens,
		LatencyMs:  int(g.now().Sub(started).Milliseconds()),
		Timestamp:  started.UTC(),
	}
	if err := g.recorder.LogRequest(ctx, row); err != nil {
		log.Printf("gateway: request log write failed for %s: %v", callerID, err)
	}
}
