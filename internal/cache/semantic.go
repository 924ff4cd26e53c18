// Package cache is the bounded per-caller semantic cache: previously
// served (intent, payload) pairs matched by embedding similarity, not
// exact equality. Caching is a performance optimization only; callers
// swallow write failures.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sort"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/google/uuid"

	"github.com/intentgate/intentgate/internal/models"
	"github.com/intentgate/intentgate/internal/store"
	"github.com/intentgate/intentgate/internal/vector"
)

const bucketPrefix = "semcache:"

// SemanticCache holds at most MaxEntries live entries per caller in a
// single store hash whose TTL is refreshed on every write.
type SemanticCache struct {
	store               store.Store
	similarityThreshold float64
	maxEntries          int
	bucketTTL           time.Duration

	now func() time.Time
}

func New(st store.Store, similarityThreshold float64, maxEntries int, bucketTTL time.Duration) *SemanticCache {
	return &SemanticCache{
		store:               st,
		similarityThreshold: similarityThreshold,
		maxEntries:          maxEntries,
		bucketTTL:           bucketTTL,
		now:                 time.Now,
	}
}

// Hit is a successful lookup: the stored entry plus the similarity
// that selected it.
type Hit struct {
	Entry      models.CacheEntry
	Confidence float64
}

func bucketKey(callerID string) string {
	return bucketPrefix + callerID
}

// Lookup returns the best stored entry whose (intent, payload) pair is
// judged equivalent to the query, or nil on a miss. Corrupt entries are
// skipped; an empty bucket behaves like a missing one.
func (c *SemanticCache) Lookup(ctx context.Context, callerID, intent string, payload json.RawMessage) (*Hit, error) {
	fields, err := c.store.HGetAll(ctx, bucketKey(callerID))
	if err != nil {
		return nil, fmt.Errorf("cache: reading bucket: %w", err)
	}
	if len(fields) == 0 {
		return nil, nil
	}

	query := vector.Embed(comparisonString(intent, payload))

	var best *Hit
	for _, entry := range parseEntries(fields) {
		stored := vector.Embed(comparisonString(entry.Intent, entry.Payload))
		score := vector.Similarity(query, stored)
		if score < c.similarityThreshold {
			continue
		}
		// Strict > keeps the first maximal match.
		if best == nil || score > best.Confidence {
			best = &Hit{Entry: entry, Confidence: score}
		}
	}
	return best, nil
}

// Store inserts a new entry for the caller, evicting the oldest entries
// first once the bucket holds maxEntries, then refreshes the bucket TTL.
func (c *SemanticCache) Store(ctx context.Context, callerID, intent string, payload, response json.RawMessage, template string, confidence float64) error {
	key := bucketKey(callerID)
	fields, err := c.store.HGetAll(ctx, key)
	if err != nil {
		return fmt.Errorf("cache: reading bucket: %w", err)
	}

	if len(fields) >= c.maxEntries {
		if err := c.evictOldest(ctx, key, fields, c.maxEntries-1); err != nil {
			return err
		}
	}

	entry := models.CacheEntry{
		ID:          uuid.NewString(),
		Intent:      intent,
		Payload:     payload,
		Response:    response,
		Template:    template,
		Confidence:  confidence,
		Fingerprint: Fingerprint(payload),
		CreatedAt:   c.now().UTC(),
	}
	raw, err := json.Marshal(entry)
	if err != nil {
		return err
	}

	if err := c.store.HSet(ctx, key, entry.ID, string(raw)); err != nil {
		return fmt.Errorf("cache: writing entry: %w", err)
	}
	// The bucket expires as a whole; individual entries never refresh it.
	if err := c.store.Expire(ctx, key, c.bucketTTL); err != nil {
		return fmt.Errorf("cache: refreshing bucket ttl: %w", err)
	}
	return nil
}

// evictOldest trims the bucket down to keep entries, oldest first.
// Unparseable entries count as oldest and go first.
func (c *SemanticCache) evictOldest(ctx context.Context, key string, fields map[string]string, keep int) error {
	type aged struct {
		field   string
		created time.Time
	}
	entries := make([]aged, 0, len(fields))
	for field, raw := range fields {
		var entry models.CacheEntry
		if err := json.Unmarshal([]byte(raw), &entry); err != nil {
			entries = append(entries, aged{field: field}) // zero time sorts first
			continue
		}
		entries = append(entries, aged{field: field, created: entry.CreatedAt})
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].created.Equal(entries[j].created) {
			return entries[i].field < entries[j].field
		}
		return entries[i].created.Before(entries[j].created)
	})

	evict := len(entries) - keep
	if evict <= 0 {
		return nil
	}
	victims := make([]string, 0, evict)
	for _, e := range entries[:evict] {
		victims = append(victims, e.field)
	}
	if err := c.store.HDel(ctx, key, victims...); err != nil {
		return fmt.Errorf("cache: evicting entries: %w", err)
	}
	return nil
}

// Entries returns the caller's live entries, oldest first. Diagnostics
// only.
func (c *SemanticCache) Entries(ctx context.Context, callerID string) ([]models.CacheEntry, error) {
	fields, err := c.store.HGetAll(ctx, bucketKey(callerID))
	if err != nil {
		return nil, err
	}
	entries := parseEntries(fields)
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].CreatedAt.Before(entries[j].CreatedAt)
	})
	return entries, nil
}

func parseEntries(fields map[string]string) []models.CacheEntry {
	entries := make([]models.CacheEntry, 0, len(fields))
	for field, raw := range fields {
		var entry models.CacheEntry
		if err := json.Unmarshal([]byte(raw), &entry); err != nil {
			log.Printf("cache: skipping corrupt entry %s: %v", field, err)
			continue
		}
		entries = append(entries, entry)
	}
	// Stable scan order regardless of map iteration.
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].CreatedAt.Before(entries[j].CreatedAt)
	})
	return entries
}

// comparisonString is the text the embedding sees: the intent plus the
// key-order-normalized payload, so structurally equal payloads compare
// identically no matter how their keys were ordered.
func comparisonString(intent string, payload json.RawMessage) string {
	return intent + "\n" + CanonicalPayload(payload)
}

// CanonicalPayload re-serializes a JSON payload with sorted object keys.
// Non-JSON input falls back to its raw string form; an empty payload
// normalizes to "null".
func CanonicalPayload(payload json.RawMessage) string {
	if len(payload) == 0 {
		return "null"
	}
	var v interface{}
	if err := json.Unmarshal(payload, &v); err != nil {
		return string(payload)
	}
	canonical, err := json.Marshal(v)
	if err != nil {
		return string(payload)
	}
	return string(canonical)
}

// Fingerprint is a short hash of the canonical payload, used as an
// auxiliary identifier only. Equality is always similarity-based.
func Fingerprint(payload json.RawMessage) string {
	return fmt.Sprintf("%016x", xxhash.Sum64String(CanonicalPayload(payload)))
}
