package memory

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
)

func storeFactories(t *testing.T) map[string]func(t *testing.T) Store {
	t.Helper()
	factories := map[string]func(t *testing.T) Store{
		"inmemory": func(t *testing.T) Store { return NewInMemoryStore() },
		"sqlite": func(t *testing.T) Store {
			s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "memory.db"), nil)
			if err != nil {
				t.Fatalf("NewSQLiteStore() error = %v", err)
			}
			t.Cleanup(func() { _ = s.Close() })
			return s
		},
	}
	if url := os.Getenv("TEST_DATABASE_URL"); url != "" {
		factories["postgres"] = func(t *testing.T) Store {
			s, err := NewPostgresStore(context.Background(), url)
			if err != nil {
				t.Fatalf("NewPostgresStore() error = %v", err)
			}
			t.Cleanup(func() { _ = s.Close() })
			return s
		}
	}
	return factories
}

func TestStoreAddListDelete(t *testing.T) {
	for name, newStore := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := newStore(t)
			charID := "char-" + name + "-" + t.Name()

			first, err := s.Add(ctx, charID, "I dislike spiders", TypePreference, 8)
			if err != nil {
				t.Fatalf("Add() error = %v", err)
			}
			if first.ID == "" || first.Timestamp == "" {
				t.Fatalf("Add() returned incomplete record: %+v", first)
			}
			second, err := s.Add(ctx, charID, "The sun was setting", TypeEvent, 42)
			if err != nil {
				t.Fatalf("Add() error = %v", err)
			}
			if second.Importance != MaxImportance {
				t.Fatalf("Importance = %d, want clamp to %d", second.Importance, MaxImportance)
			}

			got, err := s.List(ctx, charID)
			if err != nil {
				t.Fatalf("List() error = %v", err)
			}
			if len(got) != 2 || got[0].ID != first.ID || got[1].ID != second.ID {
				t.Fatalf("List() = %+v, want insertion order", got)
			}

			ok, err := s.Delete(ctx, charID, first.ID)
			if err != nil || !ok {
				t.Fatalf("Delete() = %v, %v; want true, nil", ok, err)
			}
			ok, err = s.Delete(ctx, charID, first.ID)
			if err != nil || ok {
				t.Fatalf("second Delete() = %v, %v; want false, nil", ok, err)
			}

			if err := s.DeleteAll(ctx, charID); err != nil {
				t.Fatalf("DeleteAll() error = %v", err)
			}
			got, err = s.List(ctx, charID)
			if err != nil {
				t.Fatalf("List() error = %v", err)
			}
			if len(got) != 0 {
				t.Fatalf("List() after DeleteAll = %+v, want empty", got)
			}
		})
	}
}

func TestStoreRejectsInvalidInput(t *testing.T) {
	s := NewInMemoryStore()
	if _, err := s.Add(context.Background(), " ", "x", TypeFact, 5); !errors.Is(err, ErrEmptyCharacterID) {
		t.Fatalf("error = %v, want ErrEmptyCharacterID", err)
	}
	if _, err := s.Add(context.Background(), "c1", "  ", TypeFact, 5); !errors.Is(err, ErrEmptyContent) {
		t.Fatalf("error = %v, want ErrEmptyContent", err)
	}
}

func TestStoreConcurrentAddsKeepEveryRecord(t *testing.T) {
	for name, newStore := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := newStore(t)
			charID := "race-" + name

			const writers = 16
			var wg sync.WaitGroup
			for i := 0; i < writers; i++ {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					if _, err := s.Add(ctx, charID, fmt.Sprintf("memory %d", i), TypeEvent, 5); err != nil {
						t.Errorf("Add(%d) error = %v", i, err)
					}
				}(i)
			}
			wg.Wait()

			got, err := s.List(ctx, charID)
			if err != nil {
				t.Fatalf("List() error = %v", err)
			}
			if len(got) != writers {
				t.Fatalf("len(List()) = %d, want %d", len(got), writers)
			}
		})
	}
}

func TestSQLiteStoreTreatsCorruptLogAsEmpty(t *testing.T) {
	ctx := context.Background()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "memory.db"), nil)
	if err != nil {
		t.Fatalf("NewSQLiteStore() error = %v", err)
	}
	defer s.Close()

	if _, err := s.db.Exec(`INSERT INTO memory_logs (character_id, records, updated_at) VALUES ('c1', '{"not":"a list"}', '')`); err != nil {
		t.Fatalf("seed corrupt row: %v", err)
	}

	got, err := s.List(ctx, "c1")
	if err != nil {
		t.Fatalf("List() error = %v, want nil for corrupt log", err)
	}
	if len(got) != 0 {
		t.Fatalf("List() = %+v, want empty", got)
	}

	if _, err := s.Add(ctx, "c1", "fresh start", TypeFact, 5); err != nil {
		t.Fatalf("Add() on corrupt log error = %v", err)
	}
	got, err = s.List(ctx, "c1")
	if err != nil || len(got) != 1 {
		t.Fatalf("List() = %+v, %v; want one record", got, err)
	}
}

func TestNewStoreSelectsDriver(t *testing.T) {
	ctx := context.Background()
	s, err := NewStore(ctx, Options{})
	if err != nil {
		t.Fatalf("NewStore() error = %v", err)
	}
	if _, ok := s.(*InMemoryStore); !ok {
		t.Fatalf("NewStore() = %T, want *InMemoryStore", s)
	}

	s, err = NewStore(ctx, Options{SQLitePath: filepath.Join(t.TempDir(), "m.db")})
	if err != nil {
		t.Fatalf("NewStore(sqlite) error = %v", err)
	}
	defer s.Close()
	if _, ok := s.(*SQLiteStore); !ok {
		t.Fatalf("NewStore() = %T, want *SQLiteStore", s)
	}

	if _, err := NewStore(ctx, Options{Driver: "redis"}); err == nil {
		t.Fatalf("NewStore(redis) error = nil, want error")
	}
}
