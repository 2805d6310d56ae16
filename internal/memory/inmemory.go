package memory

import (
	"context"
	"sync"
	"time"
)

// InMemoryStore is a simple in-process memory store for local/dev use.
type InMemoryStore struct {
	mu      sync.RWMutex
	records map[string][]Record
	now     func() time.Time
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		records: make(map[string][]Record),
		now:     time.Now,
	}
}

func (s *InMemoryStore) Add(_ context.Context, characterID, content string, typ Type, importance int) (Record, error) {
	rec, err := NewRecord(characterID, content, typ, importance, s.now())
	if err != nil {
		return Record{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[rec.CharacterID] = append(s.records[rec.CharacterID], rec)
	return rec, nil
}

func (s *InMemoryStore) List(_ context.Context, characterID string) ([]Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	arr := s.records[characterID]
	if len(arr) == 0 {
		return nil, nil
	}
	out := make([]Record, len(arr))
	copy(out, arr)
	return out, nil
}

func (s *InMemoryStore) Delete(_ context.Context, characterID, memoryID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	arr := s.records[characterID]
	for i, rec := range arr {
		if rec.ID != memoryID {
			continue
		}
		next := make([]Record, 0, len(arr)-1)
		next = append(next, arr[:i]...)
		next = append(next, arr[i+1:]...)
		s.records[characterID] = next
		return true, nil
	}
	return false, nil
}

func (s *InMemoryStore) DeleteAll(_ context.Context, characterID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, characterID)
	return nil
}

func (s *InMemoryStore) Close() error { return nil }
