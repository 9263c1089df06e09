package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	appLog "planner/internal/log"
	"planner/internal/model"
)

// PgStore is a PostgreSQL-backed store. Items are kept as JSONB specs so the
// schema does not follow every field of model.ItemSpec.
type PgStore struct {
	pool *pgxpool.Pool
	// loc is the zone completion timestamps are reported in, so their
	// calendar date matches the one they were recorded on.
	loc *time.Location
}

// NewPgStore creates a PgStore.
func NewPgStore(pool *pgxpool.Pool, loc *time.Location) *PgStore {
	if loc == nil {
		loc = time.Local
	}
	return &PgStore{pool: pool, loc: loc}
}

// OpenPg connects to databaseURL and ensures the schema exists.
func OpenPg(ctx context.Context, databaseURL string, loc *time.Location) (*PgStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	s := NewPgStore(pool, loc)
	if err := s.EnsureTable(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ensure tables: %w", err)
	}
	return s, nil
}

// EnsureTable creates the planner tables if they don't exist.
func (s *PgStore) EnsureTable(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS planner_items (
			id         TEXT PRIMARY KEY,
			source     TEXT NOT NULL DEFAULT '',
			spec       JSONB NOT NULL,
			seq        BIGSERIAL,
			updated_at TIMESTAMPTZ DEFAULT NOW()
		)`)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, `CREATE INDEX IF NOT EXISTS idx_planner_items_source ON planner_items(source)`)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS planner_completions (
			id           TEXT PRIMARY KEY,
			completed_at TIMESTAMPTZ NOT NULL,
			kind         TEXT NOT NULL,
			title        TEXT NOT NULL,
			details      TEXT NOT NULL DEFAULT '',
			dedupe_key   TEXT UNIQUE
		)`)
	return err
}

func (s *PgStore) Items(ctx context.Context) ([]model.Item, error) {
	rows, err := s.pool.Query(ctx, `SELECT id, spec FROM planner_items ORDER BY seq`)
	if err != nil {
		return nil, fmt.Errorf("list items: %w", err)
	}
	defer rows.Close()

	var out []model.Item
	for rows.Next() {
		var id string
		var raw []byte
		if err := rows.Scan(&id, &raw); err != nil {
			return nil, fmt.Errorf("scan item: %w", err)
		}
		it, err := decodeItem(raw)
		if err != nil {
			appLog.Error("skipping invalid stored item", err, "id", id)
			continue
		}
		out = append(out, it)
	}
	return out, rows.Err()
}

func (s *PgStore) Item(ctx context.Context, id string) (model.Item, error) {
	var raw []byte
	err := s.pool.QueryRow(ctx, `SELECT spec FROM planner_items WHERE id = $1`, id).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Item{}, ErrNotFound
	}
	if err != nil {
		return model.Item{}, fmt.Errorf("get item %s: %w", id, err)
	}
	return decodeItem(raw)
}

func decodeItem(raw []byte) (model.Item, error) {
	var spec model.ItemSpec
	if err := json.Unmarshal(raw, &spec); err != nil {
		return model.Item{}, fmt.Errorf("decode item: %w", err)
	}
	return spec.Build()
}

func encodeItem(it model.Item) (string, error) {
	data, err := json.Marshal(model.SpecOf(it))
	if err != nil {
		return "", fmt.Errorf("marshal item: %w", err)
	}
	return string(data), nil
}

func (s *PgStore) PutItem(ctx context.Context, it model.Item) (model.Item, error) {
	if it.ID == "" {
		it.ID = newID()
	}
	spec, err := encodeItem(it)
	if err != nil {
		return model.Item{}, err
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO planner_items (id, source, spec, updated_at)
		VALUES ($1, $2, $3::jsonb, NOW())
		ON CONFLICT (id) DO UPDATE SET source = EXCLUDED.source, spec = EXCLUDED.spec, updated_at = NOW()`,
		it.ID, it.Source, spec)
	if err != nil {
		return model.Item{}, fmt.Errorf("put item: %w", err)
	}
	return it, nil
}

func (s *PgStore) DeleteItem(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM planner_items WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete item %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PgStore) ReplaceSource(ctx context.Context, source string, items []model.Item) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin replace: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM planner_items WHERE source = $1`, source); err != nil {
		return fmt.Errorf("clear source %s: %w", source, err)
	}
	for _, it := range items {
		it.Source = source
		if it.ID == "" {
			it.ID = newID()
		}
		spec, err := encodeItem(it)
		if err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `
			INSERT INTO planner_items (id, source, spec) VALUES ($1, $2, $3::jsonb)
			ON CONFLICT (id) DO UPDATE SET source = EXCLUDED.source, spec = EXCLUDED.spec, updated_at = NOW()`,
			it.ID, source, spec); err != nil {
			return fmt.Errorf("insert item %s: %w", it.ID, err)
		}
	}
	return tx.Commit(ctx)
}

func (s *PgStore) Completions(ctx context.Context) ([]model.Completion, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, completed_at, kind, title, details
		FROM planner_completions ORDER BY completed_at, id`)
	if err != nil {
		return nil, fmt.Errorf("list completions: %w", err)
	}
	defer rows.Close()

	var out []model.Completion
	for rows.Next() {
		var c model.Completion
		var kind string
		if err := rows.Scan(&c.ID, &c.At, &kind, &c.Title, &c.Details); err != nil {
			return nil, fmt.Errorf("scan completion: %w", err)
		}
		c.Kind = model.CompletionKind(kind)
		c.At = c.At.In(s.loc)
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *PgStore) RecordCompletion(ctx context.Context, c model.Completion) (model.Completion, bool, error) {
	if c.ID == "" {
		c.ID = newID()
	}
	c.At = c.At.In(s.loc).Truncate(time.Microsecond)

	var key *string
	if k := c.DedupeKey(); k != "" {
		key = &k
	}
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO planner_completions (id, completed_at, kind, title, details, dedupe_key)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (dedupe_key) DO NOTHING`,
		c.ID, c.At, string(c.Kind), c.Title, c.Details, key)
	if err != nil {
		return model.Completion{}, false, fmt.Errorf("record completion: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return c, true, nil
	}

	var existing model.Completion
	var kind string
	err = s.pool.QueryRow(ctx, `
		SELECT id, completed_at, kind, title, details
		FROM planner_completions WHERE dedupe_key = $1`, key).
		Scan(&existing.ID, &existing.At, &kind, &existing.Title, &existing.Details)
	if err != nil {
		return model.Completion{}, false, fmt.Errorf("load duplicate completion: %w", err)
	}
	existing.Kind = model.CompletionKind(kind)
	existing.At = existing.At.In(s.loc)
	return existing, false, nil
}

func (s *PgStore) Close() error {
	s.pool.Close()
	return nil
}
