package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/rs/zerolog"

	"sba-cms/pkg/logging"
	"sba-cms/pkg/metrics"
	"sba-cms/pkg/models"
)

// mediaExtensions are the files a directory scan reports.
var mediaExtensions = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
	".webp": true,
	".svg":  true,
}

// maxNameAttempts bounds the timestamp bumps used to find a free file name.
const maxNameAttempts = 100

// MediaStore keeps uploaded assets in one directory, with metadata mirrored
// to the database tier when it is available.
type MediaStore struct {
	dir        string
	publicPath string
	db         *Database
	images     ImageProcessor
	now        func() time.Time
	logger     zerolog.Logger
}

func NewMediaStore(dir, publicPath string, db *Database, images ImageProcessor) *MediaStore {
	return &MediaStore{
		dir:        filepath.Clean(dir),
		publicPath: strings.Trim(publicPath, "/"),
		db:         db,
		images:     images,
		now:        time.Now,
		logger:     logging.With().Str("component", "media").Logger(),
	}
}

// Upload stores src under <base>_<unix>.<ext>. Decodable images are stored as
// WebP; anything else is stored verbatim with its original extension.
func (m *MediaStore) Upload(ctx context.Context, src io.Reader, originalName string) (*models.MediaAsset, error) {
	raw, err := io.ReadAll(src)
	if err != nil {
		return nil, fmt.Errorf("reading upload: %w", err)
	}

	base, ext := splitUploadName(originalName)
	body, kind := raw, "verbatim"

	processed, err := m.images.Process(raw)
	switch {
	case err == nil:
		body, ext, kind = processed, ".webp", "webp"
	case errors.Is(err, ErrNotImage):
	default:
		m.logger.Warn().Err(err).Str("file", originalName).Msg("image processing failed, storing original")
	}

	if err := os.MkdirAll(m.dir, 0755); err != nil {
		return nil, fmt.Errorf("%w: creating media dir: %v", ErrPersistence, err)
	}

	name, err := m.createUnique(base, ext, body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPersistence, err)
	}

	asset := m.asset(name, int64(len(body)), mimetype.Detect(body).String())

	err = m.db.Do(ctx, func(db *sql.DB) error {
		_, err := db.ExecContext(ctx,
			`INSERT INTO media (filename, path, size, mime_type, created_at) VALUES ($1, $2, $3, $4, $5)`,
			asset.Name, asset.URL, asset.Size, asset.MimeType, m.now().UTC(),
		)
		return err
	})
	if err != nil && !errors.Is(err, ErrUnavailable) {
		m.logger.Warn().Err(err).Str("file", name).Msg("recording media metadata failed")
	}

	metrics.MediaUploads.WithLabelValues(kind).Inc()
	m.logger.Info().Str("file", name).Str("kind", kind).Int64("size", asset.Size).Msg("media uploaded")
	return asset, nil
}

// createUnique writes body to the first free <base>_<ts><ext>, starting at
// the current unix time and counting up.
func (m *MediaStore) createUnique(base, ext string, body []byte) (string, error) {
	ts := m.now().Unix()
	for i := 0; i < maxNameAttempts; i++ {
		name := fmt.Sprintf("%s_%d%s", base, ts+int64(i), ext)
		full, err := SafeJoin(m.dir, name)
		if err != nil {
			return "", err
		}

		f, err := os.OpenFile(full, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
		if errors.Is(err, fs.ErrExist) {
			continue
		}
		if err != nil {
			return "", fmt.Errorf("creating %s: %w", name, err)
		}

		_, werr := f.Write(body)
		cerr := f.Close()
		if werr != nil || cerr != nil {
			os.Remove(full)
			return "", fmt.Errorf("writing %s: %w", name, errors.Join(werr, cerr))
		}
		return name, nil
	}
	return "", fmt.Errorf("no free name for %s%s", base, ext)
}

// List returns database metadata newest first when the tier has any, else
// the image files in the media directory sorted by name.
func (m *MediaStore) List(ctx context.Context) ([]models.MediaAsset, error) {
	assets := []models.MediaAsset{}
	err := m.db.Do(ctx, func(db *sql.DB) error {
		rows, err := db.QueryContext(ctx,
			`SELECT filename, size, mime_type FROM media ORDER BY created_at DESC, filename DESC`,
		)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			var (
				name, mime string
				size       int64
			)
			if err := rows.Scan(&name, &size, &mime); err != nil {
				return err
			}
			assets = append(assets, *m.asset(name, size, mime))
		}
		return rows.Err()
	})
	if err == nil && len(assets) > 0 {
		metrics.TierOperations.WithLabelValues("media_list", metrics.TierDatabase).Inc()
		return assets, nil
	}
	if err != nil && !errors.Is(err, ErrUnavailable) {
		m.logger.Warn().Err(err).Msg("listing media from database failed, scanning directory")
	}

	return m.scan()
}

func (m *MediaStore) scan() ([]models.MediaAsset, error) {
	assets := []models.MediaAsset{}
	entries, err := os.ReadDir(m.dir)
	if errors.Is(err, fs.ErrNotExist) {
		return assets, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading media dir: %w", err)
	}

	for _, entry := range entries {
		if entry.IsDir() || !mediaExtensions[strings.ToLower(filepath.Ext(entry.Name()))] {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		mime := ""
		if mt, err := mimetype.DetectFile(filepath.Join(m.dir, entry.Name())); err == nil {
			mime = mt.String()
		}
		assets = append(assets, *m.asset(entry.Name(), info.Size(), mime))
	}

	sort.Slice(assets, func(i, j int) bool { return assets[i].Name < assets[j].Name })
	metrics.TierOperations.WithLabelValues("media_list", metrics.TierFile).Inc()
	return assets, nil
}

// Delete removes the named asset. Only the final path segment of p is used;
// deleting an asset that does not exist succeeds.
func (m *MediaStore) Delete(ctx context.Context, p string) error {
	name := lastSegment(p)
	if name == "" || name == "." || name == ".." {
		return nil
	}
	full, err := SafeJoin(m.dir, name)
	if err != nil {
		return nil
	}

	if err := os.Remove(full); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%w: removing %s: %v", ErrPersistence, name, err)
	}

	err = m.db.Do(ctx, func(db *sql.DB) error {
		_, err := db.ExecContext(ctx, `DELETE FROM media WHERE filename = $1`, name)
		return err
	})
	if err != nil && !errors.Is(err, ErrUnavailable) {
		m.logger.Warn().Err(err).Str("file", name).Msg("removing media metadata failed")
	}

	m.logger.Info().Str("file", name).Msg("media deleted")
	return nil
}

func (m *MediaStore) asset(name string, size int64, mime string) *models.MediaAsset {
	rel := path.Join(m.publicPath, name)
	return &models.MediaAsset{
		ID:       name,
		Name:     name,
		URL:      "/" + rel,
		Path:     rel,
		Size:     size,
		MimeType: mime,
	}
}

// splitUploadName strips directories from a client file name and returns a
// file-system friendly base and a lowercased extension (with dot).
func splitUploadName(name string) (string, string) {
	name = lastSegment(name)
	name = strings.ReplaceAll(name, " ", "_")

	ext := filepath.Ext(name)
	base := strings.TrimLeft(strings.TrimSuffix(name, ext), ".")
	if base == "" {
		base = "upload"
	}
	return base, strings.ToLower(ext)
}

func lastSegment(p string) string {
	if i := strings.LastIndexAny(p, `/\`); i >= 0 {
		p = p[i+1:]
	}
	return p
}
