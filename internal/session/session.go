// Package session owns the per-caller login records and token-to-identity
// resolution. Sessions live in the shared store under a TTL; credentials
// belonging to a caller mirror that TTL and die with it.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/intentgate/intentgate/internal/models"
	"github.com/intentgate/intentgate/internal/store"
)

var (
	// ErrSessionActive means a login was attempted while another
	// session for the same caller is still alive.
	ErrSessionActive = errors.New("session: an active session already exists")
	// ErrInvalidToken covers missing, unknown and expired tokens alike.
	ErrInvalidToken = errors.New("session: invalid or expired token")
	// ErrInvalidCallerID rejects caller ids that would break the
	// `:`-delimited key space or match as glob patterns.
	ErrInvalidCallerID = errors.New("session: caller id contains reserved characters")
	// ErrNoSession means the caller has no live session record.
	ErrNoSession = errors.New("session: no active session")
)

const (
	sessionPrefix = "session:"
	tokenPrefix   = "session_token:"
)

// Resolution is the identity a token resolved to.
type Resolution struct {
	CallerID     string
	RemainingTTL time.Duration
}

// Manager creates, destroys and resolves sessions.
type Manager struct {
	store     store.Store
	jwtSecret string
	ttl       time.Duration

	now func() time.Time
}

func NewManager(st store.Store, jwtSecret string, ttl time.Duration) *Manager {
	return &Manager{
		store:     st,
		jwtSecret: jwtSecret,
		ttl:       ttl,
		now:       time.Now,
	}
}

// SessionKey returns the store key of a caller's session record.
func SessionKey(callerID string) string {
	return sessionPrefix + callerID
}

func tokenKey(token string) string {
	return tokenPrefix + token
}

type claims struct {
	CallerID string `json:"caller_id"`
	jwt.RegisteredClaims
}

// Login creates a session for callerID and returns its token. A second
// login while one session is still active is rejected, never overwritten.
func (m *Manager) Login(ctx context.Context, callerID string) (string, error) {
	if callerID == "" {
		return "", fmt.Errorf("session: caller id is required")
	}
	// Caller ids become key segments; a `:` would alias another
	// caller's keys and glob metacharacters would match as patterns.
	if strings.ContainsAny(callerID, `:*?[]\`) {
		return "", ErrInvalidCallerID
	}

	key := SessionKey(callerID)
	if raw, err := m.store.Get(ctx, key); err == nil {
		var existing models.Session
		if json.Unmarshal([]byte(raw), &existing) == nil && existing.Status == models.SessionActive {
			return "", ErrSessionActive
		}
	} else if !errors.Is(err, store.ErrNotFound) {
		return "", fmt.Errorf("session: reading existing session: %w", err)
	}

	token, err := m.mintToken(callerID)
	if err != nil {
		return "", fmt.Errorf("session: minting token: %w", err)
	}

	record := models.Session{
		CallerID:    callerID,
		Status:      models.SessionActive,
		Token:       token,
		ActivatedAt: m.now().UTC(),
	}
	raw, err := json.Marshal(record)
	if err != nil {
		return "", err
	}

	if err := m.store.Set(ctx, key, string(raw), m.ttl); err != nil {
		return "", fmt.Errorf("session: writing session record: %w", err)
	}
	// Secondary index: token -> caller, written alongside the record so
	// resolution is a point lookup instead of a keyspace scan.
	if err := m.store.Set(ctx, tokenKey(token), callerID, m.ttl); err != nil {
		return "", fmt.Errorf("session: writing token index: %w", err)
	}

	return token, nil
}

// Logout deletes the caller's session record and its token index entry.
func (m *Manager) Logout(ctx context.Context, callerID string) error {
	key := SessionKey(callerID)
	raw, err := m.store.Get(ctx, key)
	if errors.Is(err, store.ErrNotFound) {
		return ErrNoSession
	}
	if err != nil {
		return fmt.Errorf("session: reading session record: %w", err)
	}

	var record models.Session
	if json.Unmarshal([]byte(raw), &record) == nil && record.Token != "" {
		if err := m.store.Delete(ctx, tokenKey(record.Token)); err != nil {
			return fmt.Errorf("session: deleting token index: %w", err)
		}
	}
	return m.store.Delete(ctx, key)
}

// Resolve maps a token to its caller identity. A record whose
// store-level TTL has already hit zero resolves invalid even if the
// record itself is transiently still readable.
func (m *Manager) Resolve(ctx context.Context, token string) (*Resolution, error) {
	if strings.TrimSpace(token) == "" {
		return nil, ErrInvalidToken
	}

	callerID, err := m.store.Get(ctx, tokenKey(token))
	if errors.Is(err, store.ErrNotFound) {
		// Sessions written before the index existed still resolve via
		// the legacy scan.
		return m.resolveByScan(ctx, token)
	}
	if err != nil {
		return nil, fmt.Errorf("session: token index lookup: %w", err)
	}

	return m.verify(ctx, callerID, token)
}

func (m *Manager) resolveByScan(ctx context.Context, token string) (*Resolution, error) {
	keys, err := m.store.Keys(ctx, sessionPrefix+"*")
	if err != nil {
		return nil, fmt.Errorf("session: scanning sessions: %w", err)
	}

	for _, key := range keys {
		raw, err := m.store.Get(ctx, key)
		if err != nil {
			continue
		}
		var record models.Session
		if json.Unmarshal([]byte(raw), &record) != nil {
			continue
		}
		if record.Token != token {
			continue
		}
		// First match wins; token entropy makes collisions theoretical.
		return m.verify(ctx, record.CallerID, token)
	}
	return nil, ErrInvalidToken
}

func (m *Manager) verify(ctx context.Context, callerID, token string) (*Resolution, error) {
	key := SessionKey(callerID)
	raw, err := m.store.Get(ctx, key)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrInvalidToken
	}
	if err != nil {
		return nil, fmt.Errorf("session: reading session record: %w", err)
	}

	var record models.Session
	if err := json.Unmarshal([]byte(raw), &record); err != nil {
		return nil, ErrInvalidToken
	}
	if record.Status != models.SessionActive || record.Token != token {
		return nil, ErrInvalidToken
	}

	ttl, err := m.store.TTL(ctx, key)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrInvalidToken
	}
	if err != nil {
		return nil, fmt.Errorf("session: reading session ttl: %w", err)
	}
	if ttl != store.NoExpiry && ttl <= 0 {
		return nil, ErrInvalidToken
	}

	return &Resolution{CallerID: callerID, RemainingTTL: ttl}, nil
}

// RemainingTTL reports how long the caller's session record has left.
// Callers with no live session get ErrNoSession.
func (m *Manager) RemainingTTL(ctx context.Context, callerID string) (time.Duration, error) {
	ttl, err := m.store.TTL(ctx, SessionKey(callerID))
	if errors.Is(err, store.ErrNotFound) {
		return 0, ErrNoSession
	}
	if err != nil {
		return 0, err
	}
	if ttl != store.NoExpiry && ttl <= 0 {
		return 0, ErrNoSession
	}
	return ttl, nil
}

// Token returns the caller's current session token.
func (m *Manager) Token(ctx context.Context, callerID string) (string, error) {
	raw, err := m.store.Get(ctx, SessionKey(callerID))
	if errors.Is(err, store.ErrNotFound) {
		return "", ErrNoSession
	}
	if err != nil {
		return "", err
	}
	var record models.Session
	if err := json.Unmarshal([]byte(raw), &record); err != nil {
		return "", ErrNoSession
	}
	if record.Status != models.SessionActive {
		return "", ErrNoSession
	}
	return record.Token, nil
}

func (m *Manager) mintToken(callerID string) (string, error) {
	now := m.now()
	c := &claims{
		CallerID: callerID,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(m.ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			ID:        fmt.Sprintf("%d", now.UnixNano()),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, c)
	return token.SignedString([]byte(m.jwtSecret))
}
