// Package access applies the layered checks a credential must pass
// before it is used: expiry, payload size, origin allowlist, usage
// quotas. Checks run in that order and the first hard failure wins;
// soft findings accumulate as warnings.
package access

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/intentgate/intentgate/internal/models"
)

// Warning percentages for quota metrics; the higher band overrides the
// lower one per metric.
const (
	quotaWarnPct     = 75.0
	quotaCriticalPct = 90.0
	payloadWarnRatio = 0.8
	expiryWarnDays   = 7
)

// Decision is the outcome of a validation pass. A denial carries
// exactly one reason; an allowance carries zero or more warnings.
type Decision struct {
	Allowed  bool
	Reason   string
	Warnings []string
	// Retryable marks quota-type denials, which clear on their own.
	// Structural denials (expiry, origin) need caller reconfiguration.
	Retryable bool
}

// Warning joins the accumulated warnings into one string.
func (d Decision) Warning() string {
	return strings.Join(d.Warnings, "; ")
}

func deny(retryable bool, format string, args ...interface{}) Decision {
	return Decision{Allowed: false, Retryable: retryable, Reason: fmt.Sprintf(format, args...)}
}

// Validate runs the pipeline against one credential. payload is the
// raw request payload; origin may be empty when the caller sent none.
func Validate(cred *models.Credential, payload []byte, origin string, now time.Time) Decision {
	var warnings []string

	// 1. Expiry.
	if cred.ExpiresAt != nil {
		if now.After(*cred.ExpiresAt) {
			return deny(false, "credential %q expired on %s", cred.Name, cred.ExpiresAt.Format("2006-01-02"))
		}
		daysLeft := int(math.Ceil(cred.ExpiresAt.Sub(now).Hours() / 24))
		if daysLeft <= expiryWarnDays {
			warnings = append(warnings, fmt.Sprintf("credential %q expires in %d days", cred.Name, daysLeft))
		}
	}

	// 2. Payload size.
	sizeKB := float64(len(payload)) / 1024
	if limit := cred.Limits.MaxPayloadKB; limit > 0 {
		if sizeKB > limit {
			return deny(false, "payload size %.1fKB exceeds the %.1fKB limit", sizeKB, limit)
		}
		if sizeKB > payloadWarnRatio*limit {
			warnings = append(warnings, fmt.Sprintf("payload at %.0f%% of the size limit", sizeKB/limit*100))
		}
	}

	// 3. Origin allowlist.
	if len(cred.AllowedOrigins) > 0 {
		if origin == "" {
			return deny(false, "credential %q restricts origins but the request carried none", cred.Name)
		}
		if !originAllowed(origin, cred.AllowedOrigins) {
			return deny(false, "origin %q is not allowed for credential %q", origin, cred.Name)
		}
	}

	// 4. Usage quotas, each checked independently.
	quotas := []struct {
		metric string
		used   int
		max    int
	}{
		{"daily request", cred.Usage.DailyRequests, cred.Limits.MaxRequestsPerDay},
		{"weekly request", cred.Usage.WeeklyRequests, cred.Limits.MaxRequestsPerWeek},
		{"daily token", cred.Usage.DailyTokens, cred.Limits.MaxTokensPerDay},
	}
	for _, q := range quotas {
		if q.max <= 0 {
			continue
		}
		if q.used >= q.max {
			return deny(true, "%s quota exhausted (%d of %d)", q.metric, q.used, q.max)
		}
	}
	for _, q := range quotas {
		if q.max <= 0 {
			continue
		}
		pct := float64(q.used) / float64(q.max) * 100
		switch {
		case pct >= quotaCriticalPct:
			warnings = append(warnings, fmt.Sprintf("%s usage critical at %.0f%%", q.metric, pct))
		case pct >= quotaWarnPct:
			warnings = append(warnings, fmt.Sprintf("%s usage at %.0f%%", q.metric, pct))
		}
	}

	return Decision{Allowed: true, Warnings: warnings}
}

// originAllowed accepts exact matches and leading-wildcard patterns.
// "*.example.com" matches any origin ending in ".example.com"; the bare
// domain only passes when listed explicitly.
func originAllowed(origin string, allowed []string) bool {
	for _, pattern := range allowed {
		if pattern == origin {
			return true
		}
		if strings.HasPrefix(pattern, "*.") && strings.HasSuffix(origin, pattern[1:]) {
			return true
		}
	}
	return false
}
