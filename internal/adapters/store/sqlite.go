package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "modernc.org/sqlite"

	"github.com/melih/lighthouse/internal/core/domain"
)

const schema = `
	CREATE TABLE IF NOT EXISTS builds (
		id TEXT PRIMARY KEY,
		recipe TEXT NOT NULL,
		image TEXT NOT NULL DEFAULT '',
		state TEXT NOT NULL,
		step TEXT NOT NULL DEFAULT '',
		error TEXT NOT NULL DEFAULT '',
		started_at DATETIME NOT NULL,
		finished_at DATETIME
	)
`

// SQLite implements ports.BuildStore on a SQLite database file.
type SQLite struct {
	db *sql.DB
}

// Open opens (creating if needed) the build history at path.
// ":memory:" gives a private in-memory store.
func Open(path string) (*SQLite, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open build store: %w", err)
	}
	// One connection keeps :memory: databases shared and serialises writers.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init build store: %w", err)
	}
	return &SQLite{db: db}, nil
}

func (s *SQLite) Close() error {
	return s.db.Close()
}

func (s *SQLite) Create(ctx context.Context, b *domain.Build) error {
	if b.State != domain.StateBuilding {
		return fmt.Errorf("%w: new build must be %s, got %s", domain.ErrInvalidTransition, domain.StateBuilding, b.State)
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO builds (id, recipe, state, started_at)
		VALUES (?, ?, ?, ?)
	`, b.ID, b.Recipe, string(b.State), b.StartedAt.UTC())
	if err != nil {
		return fmt.Errorf("insert build %s: %w", b.ID, err)
	}
	return nil
}

// Finish stores a terminal build. The update only applies to rows still in
// the building state, so a terminal row is never rewritten.
func (s *SQLite) Finish(ctx context.Context, b *domain.Build) error {
	if !b.State.Terminal() {
		return fmt.Errorf("%w: cannot finish in state %s", domain.ErrInvalidTransition, b.State)
	}
	var finished any
	if b.FinishedAt != nil {
		finished = b.FinishedAt.UTC()
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE builds SET image = ?, state = ?, step = ?, error = ?, finished_at = ?
		WHERE id = ? AND state = ?
	`, b.Image, string(b.State), string(b.Step), b.Error, finished, b.ID, string(domain.StateBuilding))
	if err != nil {
		return fmt.Errorf("update build %s: %w", b.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update build %s: %w", b.ID, err)
	}
	if n == 0 {
		if _, err := s.Get(ctx, b.ID); err != nil {
			return err
		}
		return fmt.Errorf("%w: build %s is already terminal", domain.ErrInvalidTransition, b.ID)
	}
	return nil
}

func (s *SQLite) Get(ctx context.Context, id string) (*domain.Build, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, recipe, image, state, step, error, started_at, finished_at
		FROM builds WHERE id = ?
	`, id)
	b, err := scan(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("build %s: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get build %s: %w", id, err)
	}
	return b, nil
}

// List returns builds newest first.
func (s *SQLite) List(ctx context.Context) ([]domain.Build, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, recipe, image, state, step, error, started_at, finished_at
		FROM builds ORDER BY started_at DESC, id
	`)
	if err != nil {
		return nil, fmt.Errorf("list builds: %w", err)
	}
	defer rows.Close()

	var out []domain.Build
	for rows.Next() {
		b, err := scan(rows)
		if err != nil {
			return nil, fmt.Errorf("list builds: %w", err)
		}
		out = append(out, *b)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scan(s scanner) (*domain.Build, error) {
	var (
		b        domain.Build
		state    string
		step     string
		finished sql.NullTime
	)
	if err := s.Scan(&b.ID, &b.Recipe, &b.Image, &state, &step, &b.Error, &b.StartedAt, &finished); err != nil {
		return nil, err
	}
	b.State = domain.BuildState(state)
	b.Step = domain.StepName(step)
	if finished.Valid {
		t := finished.Time
		b.FinishedAt = &t
	}
	return &b, nil
}
