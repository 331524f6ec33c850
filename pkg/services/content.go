package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"sba-cms/pkg/logging"
	"sba-cms/pkg/metrics"
	"sba-cms/pkg/models"
)

// ContentRepository unifies the database and file tiers. Reads prefer the
// database and fall back to files when it is unavailable, fails, or has
// nothing. Writes go to the database when it is available and always to
// files. The tiers are never reconciled, so they can diverge.
type ContentRepository struct {
	db     *DBContentStore
	files  *FileStore
	logger zerolog.Logger
}

func NewContentRepository(db *Database, files *FileStore) *ContentRepository {
	return &ContentRepository{
		db:     NewDBContentStore(db),
		files:  files,
		logger: logging.With().Str("component", "content").Logger(),
	}
}

// Get returns the stored document or ErrNotFound.
func (r *ContentRepository) Get(ctx context.Context, collection, slug string) ([]byte, error) {
	if err := validateEntryKey(collection, slug); err != nil {
		return nil, err
	}

	data, err := r.db.Get(ctx, collection, slug)
	if err == nil {
		metrics.TierOperations.WithLabelValues("get", metrics.TierDatabase).Inc()
		return data, nil
	}
	r.fallback("get", err)

	data, err = r.files.Get(collection, slug)
	if err != nil {
		return nil, err
	}
	metrics.TierOperations.WithLabelValues("get", metrics.TierFile).Inc()
	return data, nil
}

// List returns the collection's entries sorted by slug.
func (r *ContentRepository) List(ctx context.Context, collection string) ([]models.ContentEntry, error) {
	entries, err := r.db.List(ctx, collection)
	if err == nil && len(entries) > 0 {
		metrics.TierOperations.WithLabelValues("list", metrics.TierDatabase).Inc()
		return entries, nil
	}
	if err == nil {
		err = ErrNotFound
	}
	r.fallback("list", err)

	entries, err = r.files.List(collection)
	if err != nil {
		return nil, err
	}
	metrics.TierOperations.WithLabelValues("list", metrics.TierFile).Inc()
	return entries, nil
}

// Save stores data in canonical form. A database write failure aborts before
// the file tier is touched; an unavailable database is skipped. When the
// database commit succeeds but the file write fails, Save returns
// ErrPersistence and the database keeps the new document, so reads served by
// the database see it while the file tier still holds the old one.
func (r *ContentRepository) Save(ctx context.Context, collection, slug string, data []byte) error {
	if err := validateEntryKey(collection, slug); err != nil {
		return err
	}

	doc, err := CanonicalJSON(data)
	if err != nil {
		return err
	}

	committed := false
	err = r.db.Save(ctx, collection, slug, doc)
	switch {
	case err == nil:
		committed = true
		metrics.TierOperations.WithLabelValues("save", metrics.TierDatabase).Inc()
	case errors.Is(err, ErrUnavailable):
		r.fallback("save", err)
	default:
		metrics.PersistenceErrors.WithLabelValues(metrics.TierDatabase).Inc()
		return fmt.Errorf("%w: database: %v", ErrPersistence, err)
	}

	if err := r.files.Save(collection, slug, doc); err != nil {
		metrics.PersistenceErrors.WithLabelValues(metrics.TierFile).Inc()
		if committed {
			r.logger.Error().Err(err).Str("collection", collection).Str("slug", slug).
				Msg("file write failed after database commit, tiers diverged")
		}
		return fmt.Errorf("%w: file: %v", ErrPersistence, err)
	}
	metrics.TierOperations.WithLabelValues("save", metrics.TierFile).Inc()

	r.logger.Info().Str("collection", collection).Str("slug", slug).Msg("entry saved")
	return nil
}

func (r *ContentRepository) fallback(op string, err error) {
	reason := "error"
	switch {
	case errors.Is(err, ErrUnavailable):
		reason = "unavailable"
	case errors.Is(err, ErrNotFound):
		reason = "empty"
	}
	metrics.TierFallbacks.WithLabelValues(op, reason).Inc()

	if reason == "error" {
		r.logger.Warn().Err(err).Str("op", op).Msg("database tier failed, using files")
		return
	}
	r.logger.Debug().Str("op", op).Str("reason", reason).Msg("using file tier")
}

func validateEntryKey(collection, slug string) error {
	if collection == "" {
		return invalidInput("collection is required")
	}
	if models.Collection(collection).Layout() == models.LayoutSingleFile {
		if slug == "" {
			return invalidInput("slug is required")
		}
		return nil
	}
	return ValidateSlug(slug)
}
