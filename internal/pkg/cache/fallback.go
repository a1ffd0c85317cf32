package cache

import (
	"sort"
	"sync"
	"time"
)

const fallbackFreshness = time.Hour

type fallbackEntry struct {
	key      string
	value    []byte
	storedAt time.Time
}

// memoryStore is the per-process fallback for namespaces whose values are
// expensive to rebuild. It holds at most one entry per namespace; a put for
// another key replaces it. Entries older than an hour are treated as absent.
type memoryStore struct {
	mu      sync.RWMutex
	entries map[Namespace]fallbackEntry
	now     func() time.Time
}

func newMemoryStore(now func() time.Time) *memoryStore {
	return &memoryStore{
		entries: make(map[Namespace]fallbackEntry),
		now:     now,
	}
}

func (s *memoryStore) get(ns Namespace, key string) ([]byte, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, ok := s.entries[ns]
	if !ok || entry.key != key || s.now().Sub(entry.storedAt) > fallbackFreshness {
		return nil, false
	}
	return entry.value, true
}

func (s *memoryStore) put(ns Namespace, key string, value []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[ns] = fallbackEntry{key: key, value: value, storedAt: s.now()}
}

func (s *memoryStore) delete(ns Namespace, key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if entry, ok := s.entries[ns]; ok && entry.key == key {
		delete(s.entries, ns)
	}
}

func (s *memoryStore) clear(ns Namespace) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entries[ns]; !ok {
		return 0
	}
	delete(s.entries, ns)
	return 1
}

// FallbackEntry describes one memory-resident value for status reports.
type FallbackEntry struct {
	Namespace Namespace     `json:"namespace"`
	Key       string        `json:"key"`
	Bytes     int           `json:"bytes"`
	Age       time.Duration `json:"age"`
	Fresh     bool          `json:"fresh"`
}

func (s *memoryStore) snapshot() []FallbackEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	now := s.now()
	var out []FallbackEntry
	for ns, entry := range s.entries {
		age := now.Sub(entry.storedAt)
		out = append(out, FallbackEntry{
			Namespace: ns,
			Key:       entry.key,
			Bytes:     len(entry.value),
			Age:       age,
			Fresh:     age <= fallbackFreshness,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Namespace < out[j].Namespace
	})
	return out
}
