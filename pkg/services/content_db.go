package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"sba-cms/pkg/models"
)

// DBContentStore is the database tier for content entries: one row per
// (collection, slug) holding the canonical JSON document.
type DBContentStore struct {
	db *Database
}

func NewDBContentStore(db *Database) *DBContentStore {
	return &DBContentStore{db: db}
}

func (s *DBContentStore) Get(ctx context.Context, collection, slug string) ([]byte, error) {
	var data string
	err := s.db.Do(ctx, func(db *sql.DB) error {
		return db.QueryRowContext(ctx,
			`SELECT data FROM content WHERE collection = $1 AND slug = $2`,
			collection, slug,
		).Scan(&data)
	})
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return []byte(data), nil
}

func (s *DBContentStore) List(ctx context.Context, collection string) ([]models.ContentEntry, error) {
	entries := []models.ContentEntry{}
	err := s.db.Do(ctx, func(db *sql.DB) error {
		rows, err := db.QueryContext(ctx,
			`SELECT slug, data FROM content WHERE collection = $1 ORDER BY slug`,
			collection,
		)
		if err != nil {
			return fmt.Errorf("querying content: %w", err)
		}
		defer rows.Close()

		for rows.Next() {
			var slug, data string
			if err := rows.Scan(&slug, &data); err != nil {
				return fmt.Errorf("scanning content: %w", err)
			}
			if models.Collection(collection).Hides(slug) {
				continue
			}
			entries = append(entries, models.ContentEntry{Collection: collection, Slug: slug, Data: []byte(data)})
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return entries, nil
}

// Save upserts the document; the last write wins.
func (s *DBContentStore) Save(ctx context.Context, collection, slug string, doc []byte) error {
	return s.db.Do(ctx, func(db *sql.DB) error {
		_, err := db.ExecContext(ctx, `
			INSERT INTO content (collection, slug, data, updated_at)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (collection, slug) DO UPDATE SET
				data = excluded.data,
				updated_at = excluded.updated_at
		`, collection, slug, string(doc), time.Now().UTC())
		return err
	})
}
