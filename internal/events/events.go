// Package events streams gateway notifications (template conflicts,
// usage updates) through the shared store: an append-only stream for
// consumers, a pub/sub channel for live listeners, and a short
// per-caller recent list for diagnostics. Emission is best-effort;
// callers log and swallow failures.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/intentgate/intentgate/internal/store"
)

const (
	streamKey    = "intentgate:events"
	channel      = "intentgate:notifications"
	recentPrefix = "events:recent:"

	streamMaxLen = 1000
	recentKept   = 50
)

// Event types.
const (
	TypeConflict = "template_conflict"
	TypeUsage    = "usage_update"
	TypeDenied   = "access_denied"
)

type Event struct {
	Type      string    `json:"type"`
	CallerID  string    `json:"caller_id"`
	Template  string    `json:"template,omitempty"`
	Intent    string    `json:"intent,omitempty"`
	Detail    string    `json:"detail,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

type Service struct {
	store store.Store
	now   func() time.Time
}

func NewService(st store.Store) *Service {
	return &Service{store: st, now: time.Now}
}

// Emit fans one event out to the stream, the channel and the caller's
// recent list. The first failure aborts and is returned for the caller
// to log.
func (s *Service) Emit(ctx context.Context, event Event) error {
	event.Timestamp = s.now().UTC()
	raw, err := json.Marshal(event)
	if err != nil {
		return err
	}

	if _, err := s.store.XAdd(ctx, streamKey, streamMaxLen, map[string]string{
		"type":    event.Type,
		"caller":  event.CallerID,
		"payload": string(raw),
	}); err != nil {
		return fmt.Errorf("events: appending to stream: %w", err)
	}
	if err := s.store.Publish(ctx, channel, string(raw)); err != nil {
		return fmt.Errorf("events: publishing: %w", err)
	}

	recentKey := recentPrefix + event.CallerID
	if err := s.store.LPush(ctx, recentKey, string(raw)); err != nil {
		return fmt.Errorf("events: pushing recent: %w", err)
	}
	if err := s.store.LTrim(ctx, recentKey, 0, recentKept-1); err != nil {
		return fmt.Errorf("events: trimming recent: %w", err)
	}
	return nil
}

// Recent returns the caller's latest events, newest first.
func (s *Service) Recent(ctx context.Context, callerID string, limit int) ([]Event, error) {
	if limit <= 0 || limit > recentKept {
		limit = recentKept
	}
	raws, err := s.store.LRange(ctx, recentPrefix+callerID, 0, int64(limit-1))
	if err != nil {
		return nil, err
	}
	events := make([]Event, 0, len(raws))
	for _, raw := range raws {
		var e Event
		if json.Unmarshal([]byte(raw), &e) == nil {
			events = append(events, e)
		}
	}
	return events, nil
}
