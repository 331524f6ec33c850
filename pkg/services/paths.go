package services

import (
	"path/filepath"
	"strings"

	"sba-cms/pkg/models"
)

// PathResolver maps (collection, slug) to a JSON file in the file tier.
type PathResolver struct {
	dataDir string
	i18nDir string
}

func NewPathResolver(dataDir, i18nDir string) *PathResolver {
	return &PathResolver{
		dataDir: filepath.Clean(dataDir),
		i18nDir: filepath.Clean(i18nDir),
	}
}

// Dir is the directory a collection's per-slug files are listed from.
func (p *PathResolver) Dir(collection string) string {
	switch models.Collection(collection) {
	case models.CollectionPages:
		return filepath.Join(p.dataDir, "pages")
	case models.CollectionTranslations:
		return p.i18nDir
	default:
		return p.dataDir
	}
}

// Resolve returns the file holding the entry. The slug is ignored for
// single-file collections and must otherwise be one path segment.
func (p *PathResolver) Resolve(collection, slug string) (string, error) {
	if models.Collection(collection).Layout() == models.LayoutSingleFile {
		return filepath.Join(p.dataDir, models.PortfolioSlug+".json"), nil
	}
	if err := ValidateSlug(slug); err != nil {
		return "", err
	}
	return SafeJoin(p.Dir(collection), slug+".json")
}

// ValidateSlug rejects anything that is not a single, non-relative path segment.
func ValidateSlug(slug string) error {
	if slug == "" || slug == "." || slug == ".." || strings.ContainsAny(slug, "/\\\x00") {
		return ErrInvalidSlug
	}
	return nil
}

// SafeJoin joins name under root and fails if the result would leave root.
func SafeJoin(root, name string) (string, error) {
	full := filepath.Join(root, name)
	rel, err := filepath.Rel(root, full)
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", ErrInvalidSlug
	}
	return full, nil
}
