package store

import (
	"context"
	"fmt"
	"path"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-process Store used by tests and local
// development. TTL semantics mirror Redis: expired keys vanish on
// access, Set with ttl 0 writes a persistent key.
type MemoryStore struct {
	mu      sync.Mutex
	records map[string]*record
	nextID  int64

	// Now is swappable so tests can move time forward.
	Now func() time.Time
}

type record struct {
	value     string
	hash      map[string]string
	list      []string
	stream    []StreamEntry
	expiresAt time.Time // zero means no expiry
}

// NewMemory returns an empty in-memory store.
func NewMemory() *MemoryStore {
	return &MemoryStore{
		records: make(map[string]*record),
		Now:     time.Now,
	}
}

// get returns the live record at key, purging it if expired. Callers
// hold mu.
func (s *MemoryStore) get(key string) *record {
	rec, ok := s.records[key]
	if !ok {
		return nil
	}
	if !rec.expiresAt.IsZero() && !s.Now().Before(rec.expiresAt) {
		delete(s.records, key)
		return nil
	}
	return rec
}

func (s *MemoryStore) ensure(key string) *record {
	rec := s.get(key)
	if rec == nil {
		rec = &record{}
		s.records[key] = rec
	}
	return rec
}

func (s *MemoryStore) Get(ctx context.Context, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec := s.get(key)
	if rec == nil {
		return "", ErrNotFound
	}
	return rec.value, nil
}

func (s *MemoryStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec := &record{value: value}
	if ttl > 0 {
		rec.expiresAt = s.Now().Add(ttl)
	}
	s.records[key] = rec
	return nil
}

func (s *MemoryStore) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, key)
	return nil
}

func (s *MemoryStore) Exists(ctx context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.get(key) != nil, nil
}

func (s *MemoryStore) TTL(ctx context.Context, key string) (time.Duration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec := s.get(key)
	if rec == nil {
		return 0, ErrNotFound
	}
	if rec.expiresAt.IsZero() {
		return NoExpiry, nil
	}
	return rec.expiresAt.Sub(s.Now()), nil
}

func (s *MemoryStore) Expire(ctx context.Context, key string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec := s.get(key)
	if rec == nil {
		return nil
	}
	if ttl <= 0 {
		delete(s.records, key)
		return nil
	}
	rec.expiresAt = s.Now().Add(ttl)
	return nil
}

func (s *MemoryStore) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]string)
	rec := s.get(key)
	if rec == nil {
		return out, nil
	}
	for f, v := range rec.hash {
		out[f] = v
	}
	return out, nil
}

func (s *MemoryStore) HSet(ctx context.Context, key, field, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec := s.ensure(key)
	if rec.hash == nil {
		rec.hash = make(map[string]string)
	}
	rec.hash[field] = value
	return nil
}

func (s *MemoryStore) HDel(ctx context.Context, key string, fields ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec := s.get(key)
	if rec == nil {
		return nil
	}
	for _, f := range fields {
		delete(rec.hash, f)
	}
	if len(rec.hash) == 0 && rec.value == "" && len(rec.list) == 0 && len(rec.stream) == 0 {
		delete(s.records, key)
	}
	return nil
}

func (s *MemoryStore) LPush(ctx context.Context, key string, values ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec := s.ensure(key)
	for _, v := range values {
		rec.list = append([]string{v}, rec.list...)
	}
	return nil
}

func (s *MemoryStore) LRange(ctx context.Context, key string, start, stop int64) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec := s.get(key)
	if rec == nil {
		return nil, nil
	}
	n := int64(len(rec.list))
	if start < 0 {
		start += n
	}
	if stop < 0 {
		stop += n
	}
	if start < 0 {
		start = 0
	}
	if stop >= n {
		stop = n - 1
	}
	if start > stop || n == 0 {
		return nil, nil
	}
	out := make([]string, stop-start+1)
	copy(out, rec.list[start:stop+1])
	return out, nil
}

func (s *MemoryStore) LTrim(ctx context.Context, key string, start, stop int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec := s.get(key)
	if rec == nil {
		return nil
	}
	n := int64(len(rec.list))
	if start < 0 {
		start += n
	}
	if stop < 0 {
		stop += n
	}
	if start < 0 {
		start = 0
	}
	if stop >= n {
		stop = n - 1
	}
	if start > stop || n == 0 {
		rec.list = nil
		return nil
	}
	rec.list = rec.list[start : stop+1]
	return nil
}

func (s *MemoryStore) XAdd(ctx context.Context, stream string, maxLen int64, values map[string]string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec := s.ensure(stream)
	s.nextID++
	id := fmt.Sprintf("%d-%d", s.Now().UnixMilli(), s.nextID)
	copied := make(map[string]string, len(values))
	for k, v := range values {
		copied[k] = v
	}
	rec.stream = append(rec.stream, StreamEntry{ID: id, Values: copied})
	if maxLen > 0 && int64(len(rec.stream)) > maxLen {
		rec.stream = rec.stream[int64(len(rec.stream))-maxLen:]
	}
	return id, nil
}

func (s *MemoryStore) XRange(ctx context.Context, stream, start, stop string) ([]StreamEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec := s.get(stream)
	if rec == nil {
		return nil, nil
	}
	out := make([]StreamEntry, 0, len(rec.stream))
	for _, e := range rec.stream {
		if start != "-" && e.ID < start {
			continue
		}
		if stop != "+" && e.ID > stop {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

func (s *MemoryStore) Publish(ctx context.Context, channel, message string) error {
	// No in-process subscribers; publishing is a no-op here.
	return nil
}

func (s *MemoryStore) Keys(ctx context.Context, pattern string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var keys []string
	for key := range s.records {
		if s.get(key) == nil {
			continue
		}
		ok, err := path.Match(pattern, key)
		if err != nil {
			return nil, err
		}
		if ok {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

func (s *MemoryStore) Close() error {
	return nil
}
