package inventory

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/zombor/kitcheniq/internal/imagery"
)

var _ imagery.Cache = (*SQLiteDB)(nil)

// GetImage returns the image_cache row for fingerprint
func (s *SQLiteDB) GetImage(ctx context.Context, fingerprint string) (*imagery.CacheEntry, error) {
	var (
		entry     imagery.CacheEntry
		localPath sql.NullString
		sourceURL sql.NullString
		cachedAt  string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT query_hash, query, local_path, source_url, date_cached FROM image_cache WHERE query_hash = ?`,
		fingerprint,
	).Scan(&entry.Fingerprint, &entry.Query, &localPath, &sourceURL, &cachedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, imagery.ErrCacheMiss
	}
	if err != nil {
		return nil, fmt.Errorf("reading image cache: %w", err)
	}

	entry.LocalPath = localPath.String
	entry.SourceURL = sourceURL.String
	if entry.CachedAt, err = parseTime(cachedAt); err != nil {
		return nil, err
	}
	return &entry, nil
}

// PutImage inserts or replaces the image_cache row for entry.Fingerprint
func (s *SQLiteDB) PutImage(ctx context.Context, entry *imagery.CacheEntry) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO image_cache (query_hash, query, local_path, source_url, date_cached) VALUES (?, ?, ?, ?, ?)`,
		entry.Fingerprint, entry.Query, nullString(entry.LocalPath), nullString(entry.SourceURL), formatTime(entry.CachedAt),
	)
	if err != nil {
		return fmt.Errorf("writing image cache: %w", err)
	}
	return nil
}

// DeleteImage removes the image_cache row for fingerprint
func (s *SQLiteDB) DeleteImage(ctx context.Context, fingerprint string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM image_cache WHERE query_hash = ?`, fingerprint); err != nil {
		return fmt.Errorf("deleting image cache: %w", err)
	}
	return nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
