package memory

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore persists memories one row per record. Add is a plain INSERT,
// so concurrent writers for the same character never overwrite each other.
type PostgresStore struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}

	if err := initSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}

	return &PostgresStore{pool: pool, now: time.Now}, nil
}

func initSchema(ctx context.Context, pool *pgxpool.Pool) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS character_memories (
			seq BIGSERIAL UNIQUE,
			id TEXT PRIMARY KEY,
			character_id TEXT NOT NULL,
			content TEXT NOT NULL,
			type TEXT NOT NULL DEFAULT 'unknown',
			importance INTEGER NOT NULL DEFAULT 5,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);`,
		`CREATE INDEX IF NOT EXISTS idx_character_memories_character_seq ON character_memories (character_id, seq);`,
	}

	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("init schema failed on %q: %w", stmt, err)
		}
	}
	return nil
}

func (s *PostgresStore) Add(ctx context.Context, characterID, content string, typ Type, importance int) (Record, error) {
	now := s.now().UTC()
	rec, err := NewRecord(characterID, content, typ, importance, now)
	if err != nil {
		return Record{}, err
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO character_memories (id, character_id, content, type, importance, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		rec.ID,
		rec.CharacterID,
		rec.Content,
		string(rec.Type),
		rec.Importance,
		now,
	)
	if err != nil {
		return Record{}, fmt.Errorf("save memory: %w", err)
	}
	return rec, nil
}

func (s *PostgresStore) List(ctx context.Context, characterID string) ([]Record, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, character_id, content, type, importance, created_at
		 FROM character_memories WHERE character_id=$1 ORDER BY seq ASC`,
		characterID,
	)
	if err != nil {
		return nil, fmt.Errorf("query memories: %w", err)
	}
	defer rows.Close()

	var items []Record
	for rows.Next() {
		var (
			r         Record
			typ       string
			createdAt time.Time
		)
		if err := rows.Scan(&r.ID, &r.CharacterID, &r.Content, &typ, &r.Importance, &createdAt); err != nil {
			return nil, fmt.Errorf("scan memory row: %w", err)
		}
		r.Type = Type(typ)
		r.Timestamp = createdAt.UTC().Format(time.RFC3339Nano)
		items = append(items, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate memory rows: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) Delete(ctx context.Context, characterID, memoryID string) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM character_memories WHERE character_id=$1 AND id=$2`,
		characterID, memoryID,
	)
	if err != nil {
		return false, fmt.Errorf("delete memory: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (s *PostgresStore) DeleteAll(ctx context.Context, characterID string) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM character_memories WHERE character_id=$1`, characterID); err != nil {
		return fmt.Errorf("delete memories: %w", err)
	}
	return nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
