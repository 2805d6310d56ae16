package memory

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/ent0n29/taleweaver/internal/logging"
)

// SQLiteStore keeps one JSON array per character, the same record shape
// browser-side stores persisted. Mutations are read-modify-write, so every
// write for a character runs under that character's lock inside a transaction.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
	now    func() time.Time

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex
}

// NewSQLiteStore opens or creates a SQLite database at the given path.
func NewSQLiteStore(dbPath string, logger *slog.Logger) (*SQLiteStore, error) {
	if dir := filepath.Dir(dbPath); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(wal)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{
		db:     db,
		logger: logging.OrDiscard(logger),
		now:    time.Now,
		locks:  make(map[string]*sync.Mutex),
	}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	_, err := s.db.Exec(`
	CREATE TABLE IF NOT EXISTS memory_logs (
		character_id TEXT PRIMARY KEY,
		records      TEXT NOT NULL DEFAULT '[]',
		updated_at   TEXT NOT NULL
	);`)
	return err
}

func (s *SQLiteStore) lockFor(characterID string) *sync.Mutex {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()
	mu, ok := s.locks[characterID]
	if !ok {
		mu = &sync.Mutex{}
		s.locks[characterID] = mu
	}
	return mu
}

func (s *SQLiteStore) Add(ctx context.Context, characterID, content string, typ Type, importance int) (Record, error) {
	rec, err := NewRecord(characterID, content, typ, importance, s.now())
	if err != nil {
		return Record{}, err
	}
	err = s.mutate(ctx, rec.CharacterID, func(records []Record) ([]Record, bool) {
		return append(records, rec), true
	})
	if err != nil {
		return Record{}, fmt.Errorf("add memory: %w", err)
	}
	return rec, nil
}

func (s *SQLiteStore) List(ctx context.Context, characterID string) ([]Record, error) {
	var raw string
	err := s.db.QueryRowContext(ctx, `SELECT records FROM memory_logs WHERE character_id = ?`, characterID).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read memory log: %w", err)
	}
	return s.decode(characterID, raw), nil
}

func (s *SQLiteStore) Delete(ctx context.Context, characterID, memoryID string) (bool, error) {
	found := false
	err := s.mutate(ctx, characterID, func(records []Record) ([]Record, bool) {
		out := records[:0:0]
		for _, r := range records {
			if r.ID == memoryID {
				found = true
				continue
			}
			out = append(out, r)
		}
		return out, found
	})
	if err != nil {
		return false, fmt.Errorf("delete memory: %w", err)
	}
	return found, nil
}

func (s *SQLiteStore) DeleteAll(ctx context.Context, characterID string) error {
	mu := s.lockFor(characterID)
	mu.Lock()
	defer mu.Unlock()
	if _, err := s.db.ExecContext(ctx, `DELETE FROM memory_logs WHERE character_id = ?`, characterID); err != nil {
		return fmt.Errorf("delete memory log: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// mutate applies fn to the character's log and persists the result when fn
// reports a change.
func (s *SQLiteStore) mutate(ctx context.Context, characterID string, fn func([]Record) ([]Record, bool)) error {
	mu := s.lockFor(characterID)
	mu.Lock()
	defer mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var raw string
	err = tx.QueryRowContext(ctx, `SELECT records FROM memory_logs WHERE character_id = ?`, characterID).Scan(&raw)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("read memory log: %w", err)
	}

	next, changed := fn(s.decode(characterID, raw))
	if !changed {
		return nil
	}
	encoded, err := EncodeLog(next)
	if err != nil {
		return fmt.Errorf("encode memory log: %w", err)
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO memory_logs (character_id, records, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(character_id) DO UPDATE SET records = excluded.records, updated_at = excluded.updated_at`,
		characterID, string(encoded), s.now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("write memory log: %w", err)
	}
	return tx.Commit()
}

func (s *SQLiteStore) decode(characterID, raw string) []Record {
	records, err := DecodeLog([]byte(raw))
	if err != nil {
		s.logger.Warn("memory log unreadable, treating as empty", "character_id", characterID, "error", err)
		return nil
	}
	return records
}
