// Package match selects the caller's credential whose description best
// fits an intent, and flags ambiguous near-ties so they can be reported
// upstream without blocking the request.
package match

import (
	"context"
	"fmt"
	"sort"

	"github.com/intentgate/intentgate/internal/models"
	"github.com/intentgate/intentgate/internal/vector"
)

// Lister supplies the caller's registered credentials.
type Lister interface {
	List(ctx context.Context, callerID string) ([]*models.Credential, error)
}

// Candidate is one scored template.
type Candidate struct {
	Name        string  `json:"name"`
	Description string  `json:"description"`
	Confidence  float64 `json:"confidence"`
}

// Result is the outcome of a match. When Conflict is set, more than one
// template cleared the conflict threshold; Best still carries the
// single highest-scoring one.
type Result struct {
	Found       bool        `json:"found"`
	Best        *Candidate  `json:"best,omitempty"`
	Conflict    bool        `json:"conflict"`
	Conflicting []Candidate `json:"conflicting,omitempty"`
}

// Matcher scores intents against credential descriptions.
type Matcher struct {
	creds             Lister
	matchThreshold    float64
	conflictThreshold float64
}

func New(creds Lister, matchThreshold, conflictThreshold float64) *Matcher {
	return &Matcher{
		creds:             creds,
		matchThreshold:    matchThreshold,
		conflictThreshold: conflictThreshold,
	}
}

// Match scores every registered template against the intent. Templates
// below the match threshold never qualify; callers must not fall back
// to an arbitrary one.
func (m *Matcher) Match(ctx context.Context, callerID, intent string) (*Result, error) {
	candidates, err := m.rank(ctx, callerID, intent)
	if err != nil {
		return nil, err
	}

	result := &Result{}
	for _, c := range candidates {
		if c.Confidence < m.matchThreshold {
			continue
		}
		if result.Best == nil {
			best := c
			result.Found = true
			result.Best = &best
		}
		if c.Confidence >= m.conflictThreshold {
			result.Conflicting = append(result.Conflicting, c)
		}
	}
	if len(result.Conflicting) > 1 {
		result.Conflict = true
	} else {
		result.Conflicting = nil
	}
	return result, nil
}

// TopK returns the k highest-ranked templates regardless of absolute
// score, annotated with their raw confidence.
func (m *Matcher) TopK(ctx context.Context, callerID, intent string, k int) ([]Candidate, error) {
	candidates, err := m.rank(ctx, callerID, intent)
	if err != nil {
		return nil, err
	}
	if k > 0 && len(candidates) > k {
		candidates = candidates[:k]
	}
	return candidates, nil
}

// Suggest ranks templates against a partial intent for autocomplete-
// style diagnostics. No threshold applies.
func (m *Matcher) Suggest(ctx context.Context, callerID, partialIntent string, limit int) ([]Candidate, error) {
	return m.TopK(ctx, callerID, partialIntent, limit)
}

// rank scores all templates, highest confidence first. Ordering is
// stable across calls: ties break on name.
func (m *Matcher) rank(ctx context.Context, callerID, intent string) ([]Candidate, error) {
	creds, err := m.creds.List(ctx, callerID)
	if err != nil {
		return nil, fmt.Errorf("match: listing templates: %w", err)
	}

	query := vector.Embed(intent)
	candidates := make([]Candidate, 0, len(creds))
	for _, cred := range creds {
		candidates = append(candidates, Candidate{
			Name:        cred.Name,
			Description: cred.Description,
			Confidence:  vector.Similarity(query, vector.Embed(cred.Description)),
		})
	}
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].Confidence == candidates[j].Confidence {
			return candidates[i].Name < candidates[j].Name
		}
		return candidates[i].Confidence > candidates[j].Confidence
	})
	return candidates, nil
}
