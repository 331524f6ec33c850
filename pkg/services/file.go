package services

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"sba-cms/pkg/logging"
	"sba-cms/pkg/models"
)

// FileStore is the file tier: one JSON document per entry, laid out by
// PathResolver.
type FileStore struct {
	paths  *PathResolver
	cache  *documentCache
	logger zerolog.Logger
}

func NewFileStore(paths *PathResolver) *FileStore {
	return &FileStore{
		paths:  paths,
		cache:  newDocumentCache(),
		logger: logging.With().Str("component", "filestore").Logger(),
	}
}

func (f *FileStore) Get(collection, slug string) ([]byte, error) {
	path, err := f.paths.Resolve(collection, slug)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	return data, nil
}

// List returns the collection's documents sorted by slug. Files that are not
// valid JSON are skipped.
func (f *FileStore) List(collection string) ([]models.ContentEntry, error) {
	if models.Collection(collection).Layout() == models.LayoutSingleFile {
		data, err := f.Get(collection, models.PortfolioSlug)
		if errors.Is(err, ErrNotFound) {
			return []models.ContentEntry{}, nil
		}
		if err != nil {
			return nil, err
		}
		return []models.ContentEntry{{Collection: collection, Slug: models.PortfolioSlug, Data: data}}, nil
	}

	dir := f.paths.Dir(collection)
	dirEntries, err := os.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return []models.ContentEntry{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", dir, err)
	}

	entries := []models.ContentEntry{}
	seen := make(map[string]struct{}, len(dirEntries))
	for _, de := range dirEntries {
		if de.IsDir() || !strings.HasSuffix(de.Name(), ".json") {
			continue
		}
		slug := strings.TrimSuffix(de.Name(), ".json")
		if models.Collection(collection).Hides(slug) {
			continue
		}

		path := filepath.Join(dir, de.Name())
		seen[path] = struct{}{}
		data, ok := f.readDocument(path, de)
		if !ok {
			continue
		}
		entries = append(entries, models.ContentEntry{Collection: collection, Slug: slug, Data: data})
	}

	f.cache.prune(dir, seen)

	sort.Slice(entries, func(i, j int) bool { return entries[i].Slug < entries[j].Slug })
	return entries, nil
}

// readDocument returns the file's contents when it holds valid JSON, reusing
// the cached copy while the file's mtime and size are unchanged.
func (f *FileStore) readDocument(path string, de fs.DirEntry) ([]byte, bool) {
	info, err := de.Info()
	if err != nil {
		f.cache.forget(path)
		f.logger.Warn().Err(err).Str("file", de.Name()).Msg("skipping unreadable entry")
		return nil, false
	}
	if data, valid, ok := f.cache.get(path, info); ok {
		return data, valid
	}

	data, err := os.ReadFile(path)
	if err != nil {
		f.cache.forget(path)
		f.logger.Warn().Err(err).Str("file", de.Name()).Msg("skipping unreadable entry")
		return nil, false
	}
	valid := json.Valid(data)
	if !valid {
		f.logger.Warn().Str("file", de.Name()).Msg("skipping entry with invalid JSON")
	}
	f.cache.put(path, info, data, valid)
	return data, valid
}

// Save overwrites the entry's file with doc.
func (f *FileStore) Save(collection, slug string, doc []byte) error {
	path, err := f.paths.Resolve(collection, slug)
	if err != nil {
		return err
	}
	defer f.cache.forget(path)
	return writeFileAtomic(path, doc)
}

// writeFileAtomic replaces path with data via a temp file and rename, so
// readers never observe a partial document.
func writeFileAtomic(path string, data []byte) (err error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("creating %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	defer func() {
		if err != nil {
			os.Remove(tmp.Name())
		}
	}()

	if _, err = tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("writing %s: %w", path, err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("closing %s: %w", path, err)
	}
	if err = os.Chmod(tmp.Name(), 0644); err != nil {
		return fmt.Errorf("chmod %s: %w", path, err)
	}
	if err = os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("renaming into %s: %w", path, err)
	}
	return nil
}

// CanonicalJSON validates data and pretty-prints it with four-space indent,
// keeping key order and characters exactly as sent, plus a trailing newline.
func CanonicalJSON(data []byte) ([]byte, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || !json.Valid(data) {
		return nil, invalidInput("Invalid JSON data")
	}
	var buf bytes.Buffer
	if err := json.Indent(&buf, data, "", "    "); err != nil {
		return nil, invalidInput("Invalid JSON data")
	}
	buf.WriteByte('\n')
	return buf.Bytes(), nil
}
