package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// SaveConfiguration stores the redacted configuration blob of identifier,
// replacing any earlier one.
func (s *Store) SaveConfiguration(ctx context.Context, identifier, blob string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO configurations (identifier, blob, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(identifier) DO UPDATE SET
			blob = excluded.blob,
			updated_at = excluded.updated_at
	`, identifier, blob, time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("save configuration: %w", err)
	}
	return nil
}

// ReadConfiguration returns the stored blob of identifier, or ErrNotFound.
func (s *Store) ReadConfiguration(ctx context.Context, identifier string) (string, error) {
	var blob string
	err := s.db.QueryRowContext(ctx, `
		SELECT blob FROM configurations WHERE identifier = ?
	`, identifier).Scan(&blob)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("configuration %s: %w", identifier, ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("read configuration: %w", err)
	}
	return blob, nil
}
