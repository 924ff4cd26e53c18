package models

import (
	"encoding/json"
	"fmt"
	"time"
)

const CredentialSchemaVersion = 1

// Session statuses as stored in the session record.
const (
	SessionActive   = "active"
	SessionInactive = "inactive"
)

// Session is the per-caller login record. At most one active session
// exists per caller at any time.
type Session struct {
	CallerID    string    `json:"caller_id"`
	Status      string    `json:"status"`
	Token       string    `json:"token"`
	ActivatedAt time.Time `json:"activated_at"`
}

// EncryptedSecret is a ciphertext plus the nonce it was sealed with.
// The key is derived from the owning session's token, so the secret
// becomes unreadable the moment the session is gone.
type EncryptedSecret struct {
	Ciphertext string `json:"ciphertext"`
	IV         string `json:"iv"`
}

// Limits are the static per-credential quotas. A zero value means the
// corresponding check is skipped.
type Limits struct {
	MaxRequestsPerDay  int     `json:"max_requests_per_day"`
	MaxRequestsPerWeek int     `json:"max_requests_per_week"`
	MaxTokensPerDay    int     `json:"max_tokens_per_day"`
	MaxPayloadKB       float64 `json:"max_payload_kb"`
}

// Usage holds the rolling counters. Day and Week record which period
// the counters belong to; stale periods are zeroed at the decode
// boundary, not at every call site.
type Usage struct {
	DailyRequests  int    `json:"daily_requests"`
	WeeklyRequests int    `json:"weekly_requests"`
	DailyTokens    int    `json:"daily_tokens"`
	Day            string `json:"day,omitempty"`
	Week           string `json:"week,omitempty"`
}

// RetryPolicy controls upstream retries for one credential.
type RetryPolicy struct {
	Enabled    bool `json:"enabled"`
	MaxRetries int  `json:"max_retries"`
	BackoffMs  int  `json:"backoff_ms"`
}

// Credential is a caller-registered named secret plus its usage policy.
// Its description is the corpus the template matcher scores against.
type Credential struct {
	SchemaVersion  int             `json:"schema_version"`
	Name           string          `json:"name"`
	Description    string          `json:"description"`
	Secret         EncryptedSecret `json:"secret"`
	Usage          Usage           `json:"usage"`
	Limits         Limits          `json:"limits"`
	ExpiresAt      *time.Time      `json:"expires_at,omitempty"`
	AllowedOrigins []string        `json:"allowed_origins,omitempty"`
	Scopes         []string        `json:"scopes,omitempty"`
	Retry          *RetryPolicy    `json:"retry,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// CacheEntry is one stored (intent, payload) -> response pair in a
// caller's semantic cache bucket.
type CacheEntry struct {
	ID          string          `json:"id"`
	Intent      string          `json:"intent"`
	Payload     json.RawMessage `json:"payload"`
	Response    json.RawMessage `json:"response"`
	Template    string          `json:"template"`
	Confidence  float64         `json:"confidence"`
	Fingerprint string          `json:"fingerprint"`
	CreatedAt   time.Time       `json:"created_at"`
}

// DayKey formats t as the daily usage period key.
func DayKey(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

// WeekKey formats t as the ISO-week usage period key.
func WeekKey(t time.Time) string {
	year, week := t.UTC().ISOWeek()
	return fmt.Sprintf("%04d-W%02d", year, week)
}

// Normalize applies schema defaults and rolls stale usage periods
// forward so counters never carry over across days or weeks.
func (c *Credential) Normalize(now time.Time) {
	if c.SchemaVersion == 0 {
		c.SchemaVersion = CredentialSchemaVersion
	}
	day := DayKey(now)
	if c.Usage.Day != day {
		c.Usage.Day = day
		c.Usage.DailyRequests = 0
		c.Usage.DailyTokens = 0
	}
	week := WeekKey(now)
	if c.Usage.Week != week {
		c.Usage.Week = week
		c.Usage.WeeklyRequests = 0
	}
}
