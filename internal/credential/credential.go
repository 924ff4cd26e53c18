// Package credential manages the per-caller template records: named
// encrypted secrets plus their usage policies. Records live in the
// shared store under a TTL that always mirrors the owning session's
// remaining TTL, so credentials self-destruct with the login that
// created them.
package credential

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/intentgate/intentgate/internal/crypto"
	"github.com/intentgate/intentgate/internal/models"
	"github.com/intentgate/intentgate/internal/session"
	"github.com/intentgate/intentgate/internal/store"
	"github.com/intentgate/intentgate/internal/vector"
)

var (
	ErrNoActiveSession = errors.New("credential: no active session")
	ErrNameExists      = errors.New("credential: template name already exists")
	ErrNotFound        = errors.New("credential: template not found")
	ErrInvalidInput    = errors.New("credential: invalid input")
)

// ConflictError reports the existing templates whose descriptions are
// semantically too close to the one being registered.
type ConflictError struct {
	Names []string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("credential: description conflicts with existing templates: %s",
		strings.Join(e.Names, ", "))
}

const keyPrefix = "credential:"

// Key returns the store key of one credential record.
func Key(callerID, name string) string {
	return keyPrefix + callerID + ":" + name
}

func callerPattern(callerID string) string {
	return keyPrefix + callerID + ":*"
}

// Sessions is the slice of the session manager this package needs.
type Sessions interface {
	RemainingTTL(ctx context.Context, callerID string) (time.Duration, error)
	Token(ctx context.Context, callerID string) (string, error)
}

// Service implements the credential lifecycle.
type Service struct {
	store             store.Store
	sessions          Sessions
	conflictThreshold float64

	now func() time.Time
}

func NewService(st store.Store, sessions Sessions, conflictThreshold float64) *Service {
	return &Service{
		store:             st,
		sessions:          sessions,
		conflictThreshold: conflictThreshold,
		now:               time.Now,
	}
}

// Input carries the caller-supplied fields of a new credential.
type Input struct {
	Name           string
	Description    string
	Secret         string
	Limits         models.Limits
	ExpiresAt      *time.Time
	AllowedOrigins []string
	Scopes         []string
	Retry          *models.RetryPolicy
}

// Default limits applied when a caller registers a credential without
// configuring its own.
var defaultLimits = models.Limits{
	MaxRequestsPerDay:  500,
	MaxRequestsPerWeek: 2000,
	MaxTokensPerDay:    100000,
	MaxPayloadKB:       1024,
}

// Add registers a new credential. It fails when no session is active,
// when the name is taken, or when the description is semantically too
// close to an existing one.
func (s *Service) Add(ctx context.Context, callerID string, in Input) (*models.Credential, error) {
	if in.Name == "" || in.Description == "" || in.Secret == "" {
		return nil, fmt.Errorf("%w: name, description and secret are required", ErrInvalidInput)
	}
	// Names become key segments; a `:` would collide with another
	// caller's keys and glob metacharacters would match as patterns.
	if strings.ContainsAny(in.Name, `:*?[]\`) {
		return nil, fmt.Errorf("%w: name contains reserved characters", ErrInvalidInput)
	}

	ttl, err := s.sessionTTL(ctx, callerID)
	if err != nil {
		return nil, err
	}

	key := Key(callerID, in.Name)
	exists, err := s.store.Exists(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("credential: checking name: %w", err)
	}
	if exists {
		return nil, ErrNameExists
	}

	if err := s.checkConflicts(ctx, callerID, in.Name, in.Description); err != nil {
		return nil, err
	}

	token, err := s.sessions.Token(ctx, callerID)
	if err != nil {
		return nil, ErrNoActiveSession
	}
	sealed, err := crypto.Encrypt(in.Secret, crypto.DeriveKey(token))
	if err != nil {
		return nil, fmt.Errorf("credential: sealing secret: %w", err)
	}

	now := s.now().UTC()
	cred := &models.Credential{
		SchemaVersion:  models.CredentialSchemaVersion,
		Name:           in.Name,
		Description:    in.Description,
		Secret:         sealed,
		Limits:         applyLimitDefaults(in.Limits),
		ExpiresAt:      in.ExpiresAt,
		AllowedOrigins: in.AllowedOrigins,
		Scopes:         in.Scopes,
		Retry:          in.Retry,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	cred.Normalize(now)

	if err := s.save(ctx, key, cred, ttl); err != nil {
		return nil, err
	}
	return cred, nil
}

// Update mutates an existing credential. A changed description re-runs
// the conflict check against the caller's other templates; a changed
// secret is re-sealed under the current session token.
func (s *Service) Update(ctx context.Context, callerID, name string, in Update) (*models.Credential, error) {
	ttl, err := s.sessionTTL(ctx, callerID)
	if err != nil {
		return nil, err
	}

	cred, err := s.Get(ctx, callerID, name)
	if err != nil {
		return nil, err
	}

	if in.Description != nil && *in.Description != cred.Description {
		if err := s.checkConflicts(ctx, callerID, name, *in.Description); err != nil {
			return nil, err
		}
		cred.Description = *in.Description
	}
	if in.Secret != nil {
		token, err := s.sessions.Token(ctx, callerID)
		if err != nil {
			return nil, ErrNoActiveSession
		}
		sealed, err := crypto.Encrypt(*in.Secret, crypto.DeriveKey(token))
		if err != nil {
			return nil, fmt.Errorf("credential: sealing secret: %w", err)
		}
		cred.Secret = sealed
	}
	if in.Limits != nil {
		cred.Limits = applyLimitDefaults(*in.Limits)
	}
	if in.ExpiresAt != nil {
		cred.ExpiresAt = in.ExpiresAt
	}
	if in.AllowedOrigins != nil {
		cred.AllowedOrigins = in.AllowedOrigins
	}
	if in.Scopes != nil {
		cred.Scopes = in.Scopes
	}
	if in.Retry != nil {
		cred.Retry = in.Retry
	}
	cred.UpdatedAt = s.now().UTC()

	if err := s.save(ctx, Key(callerID, name), cred, ttl); err != nil {
		return nil, err
	}
	return cred, nil
}

// Update lists the mutable fields; nil means leave unchanged.
type Update struct {
	Description    *string
	Secret         *string
	Limits         *models.Limits
	ExpiresAt      *time.Time
	AllowedOrigins []string
	Scopes         []string
	Retry          *models.RetryPolicy
}

// Get loads one credential, rolling stale usage periods forward.
func (s *Service) Get(ctx context.Context, callerID, name string) (*models.Credential, error) {
	raw, err := s.store.Get(ctx, Key(callerID, name))
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("credential: reading record: %w", err)
	}

	var cred models.Credential
	if err := json.Unmarshal([]byte(raw), &cred); err != nil {
		return nil, fmt.Errorf("credential: corrupt record %q: %w", name, err)
	}
	cred.Normalize(s.now().UTC())
	return &cred, nil
}

// List returns all of the caller's credentials. Corrupt records are
// skipped, not fatal.
func (s *Service) List(ctx context.Context, callerID string) ([]*models.Credential, error) {
	keys, err := s.store.Keys(ctx, callerPattern(callerID))
	if err != nil {
		return nil, fmt.Errorf("credential: enumerating records: %w", err)
	}

	creds := make([]*models.Credential, 0, len(keys))
	for _, key := range keys {
		raw, err := s.store.Get(ctx, key)
		if err != nil {
			continue
		}
		var cred models.Credential
		if err := json.Unmarshal([]byte(raw), &cred); err != nil {
			log.Printf("credential: skipping corrupt record %s: %v", key, err)
			continue
		}
		cred.Normalize(s.now().UTC())
		creds = append(creds, &cred)
	}
	return creds, nil
}

// Delete removes one credential record.
func (s *Service) Delete(ctx context.Context, callerID, name string) error {
	key := Key(callerID, name)
	exists, err := s.store.Exists(ctx, key)
	if err != nil {
		return err
	}
	if !exists {
		return ErrNotFound
	}
	return s.store.Delete(ctx, key)
}

// UpdateUsage bumps the counters after a successful upstream call: one
// request against the daily and weekly counts plus the reported tokens.
// A read-then-write race between concurrent requests can lose an
// update; quotas are soft bounds.
func (s *Service) UpdateUsage(ctx context.Context, callerID, name string, tokensUsed int) error {
	key := Key(callerID, name)
	cred, err := s.Get(ctx, callerID, name)
	if err != nil {
		return err
	}

	cred.Usage.DailyRequests++
	cred.Usage.WeeklyRequests++
	if tokensUsed > 0 {
		cred.Usage.DailyTokens += tokensUsed
	}
	cred.UpdatedAt = s.now().UTC()

	ttl, err := s.store.TTL(ctx, key)
	if err != nil {
		return fmt.Errorf("credential: reading record ttl: %w", err)
	}
	if ttl == store.NoExpiry {
		ttl = 0
	}
	return s.save(ctx, key, cred, ttl)
}

// SyncTTLs is the idempotent reconciliation pass that sets every
// credential record's expiry to the session's current remaining TTL.
// It is safe to re-run and best-effort across keys: a key that fails
// is logged and skipped, the rest still sync.
func (s *Service) SyncTTLs(ctx context.Context, callerID string) (int, error) {
	ttl, err := s.sessionTTL(ctx, callerID)
	if err != nil {
		return 0, err
	}

	keys, err := s.store.Keys(ctx, callerPattern(callerID))
	if err != nil {
		return 0, fmt.Errorf("credential: enumerating records: %w", err)
	}

	synced := 0
	for _, key := range keys {
		if err := s.store.Expire(ctx, key, ttl); err != nil {
			log.Printf("credential: ttl sync failed for %s: %v", key, err)
			continue
		}
		synced++
	}
	return synced, nil
}

// StaleTTL reports whether a credential's remaining TTL exceeds its
// session's, which means a sync was missed and a repair pass is due.
func (s *Service) StaleTTL(ctx context.Context, callerID, name string) bool {
	sessionTTL, err := s.sessionTTL(ctx, callerID)
	if err != nil {
		return false
	}
	credTTL, err := s.store.TTL(ctx, Key(callerID, name))
	if err != nil {
		return false
	}
	return credTTL == store.NoExpiry || credTTL > sessionTTL
}

func (s *Service) sessionTTL(ctx context.Context, callerID string) (time.Duration, error) {
	ttl, err := s.sessions.RemainingTTL(ctx, callerID)
	if errors.Is(err, session.ErrNoSession) {
		return 0, ErrNoActiveSession
	}
	if err != nil {
		return 0, fmt.Errorf("credential: reading session ttl: %w", err)
	}
	return ttl, nil
}

func (s *Service) checkConflicts(ctx context.Context, callerID, name, description string) error {
	existing, err := s.List(ctx, callerID)
	if err != nil {
		return err
	}

	candidate := vector.Embed(description)
	var conflicting []string
	for _, cred := range existing {
		if cred.Name == name {
			continue
		}
		if vector.Similarity(candidate, vector.Embed(cred.Description)) >= s.conflictThreshold {
			conflicting = append(conflicting, cred.Name)
		}
	}
	if len(conflicting) > 0 {
		return &ConflictError{Names: conflicting}
	}
	return nil
}

func (s *Service) save(ctx context.Context, key string, cred *models.Credential, ttl time.Duration) error {
	raw, err := json.Marshal(cred)
	if err != nil {
		return err
	}
	if err := s.store.Set(ctx, key, string(raw), ttl); err != nil {
		return fmt.Errorf("credential: writing record: %w", err)
	}
	return nil
}

func applyLimitDefaults(l models.Limits) models.Limits {
	if l.MaxRequestsPerDay == 0 {
		l.MaxRequestsPerDay = defaultLimits.MaxRequestsPerDay
	}
	if l.MaxRequestsPerWeek == 0 {
		l.MaxRequestsPerWeek = defaultLimits.MaxRequestsPerWeek
	}
	if l.MaxTokensPerDay == 0 {
		l.MaxTokensPerDay = defaultLimits.MaxTokensPerDay
	}
	if l.MaxPayloadKB == 0 {
		l.MaxPayloadKB = defaultLimits.MaxPayloadKB
	}
	return l
}
