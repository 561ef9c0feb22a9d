package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/dbchat/dbchat/internal/history"
)

// Store keeps query history in the query_history table created by the migrations package.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

var _ history.Store = (*Store)(nil)

func NewStore(db *sql.DB) *Store {
	return &Store{db: db, now: time.Now}
}

func (s *Store) HealthCheck(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping history db: %w", err)
	}
	return nil
}

func (s *Store) Save(ctx context.Context, entry history.Entry) (history.Entry, error) {
	entry, err := history.Prepare(entry, s.now())
	if err != nil {
		return history.Entry{}, err
	}
	query := `
INSERT INTO query_history (id, connection_name, prompt, summary, query, favorite, created_by, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`
	if _, err := s.db.ExecContext(ctx, query,
		entry.ID, entry.ConnectionName, entry.Prompt, entry.Summary, entry.Query,
		entry.Favorite, entry.CreatedBy, entry.CreatedAt,
	); err != nil {
		return history.Entry{}, fmt.Errorf("insert history entry: %w", err)
	}
	return entry, nil
}

func (s *Store) List(ctx context.Context, connectionName string, favoritesOnly bool) ([]history.Entry, error) {
	query := `
SELECT id, connection_name, prompt, summary, query, favorite, created_by, created_at
FROM query_history
WHERE connection_name = $1 AND ($2 = FALSE OR favorite)
ORDER BY created_at DESC, id ASC`
	rows, err := s.db.QueryContext(ctx, query, connectionName, favoritesOnly)
	if err != nil {
		return nil, fmt.Errorf("list history entries: %w", err)
	}
	defer func() { _ = rows.Close() }()

	entries := make([]history.Entry, 0)
	for rows.Next() {
		var entry history.Entry
		if err := rows.Scan(
			&entry.ID, &entry.ConnectionName, &entry.Prompt, &entry.Summary, &entry.Query,
			&entry.Favorite, &entry.CreatedBy, &entry.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan history entry: %w", err)
		}
		entry.CreatedAt = entry.CreatedAt.UTC()
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("history rows: %w", err)
	}
	return entries, nil
}

func (s *Store) SetFavorite(ctx context.Context, connectionName, id string, favorite bool) (history.Entry, error) {
	query := `
UPDATE query_history
SET favorite = $3
WHERE connection_name = $1 AND id = $2
RETURNING id, connection_name, prompt, summary, query, favorite, created_by, created_at`
	var entry history.Entry
	err := s.db.QueryRowContext(ctx, query, connectionName, id, favorite).Scan(
		&entry.ID, &entry.ConnectionName, &entry.Prompt, &entry.Summary, &entry.Query,
		&entry.Favorite, &entry.CreatedBy, &entry.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return history.Entry{}, history.ErrNotFound
		}
		return history.Entry{}, fmt.Errorf("update history favorite: %w", err)
	}
	entry.CreatedAt = entry.CreatedAt.UTC()
	return entry, nil
}

func (s *Store) Delete(ctx context.Context, connectionName, id string) error {
	result, err := s.db.ExecContext(ctx, `
DELETE FROM query_history
WHERE connection_name = $1 AND id = $2`, connectionName, id)
	if err != nil {
		return fmt.Errorf("delete history entry: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete history rows affected: %w", err)
	}
	if rows == 0 {
		return history.ErrNotFound
	}
	return nil
}
