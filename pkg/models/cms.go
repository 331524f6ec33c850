package models

// Collection names a category of content entries sharing one storage layout.
type Collection string

const (
	CollectionPages        Collection = "pages"
	CollectionTranslations Collection = "translations"
	CollectionSettings     Collection = "settings"
	CollectionPortfolio    Collection = "portfolio"
)

// Layout describes where a collection's documents live on disk.
type Layout int

const (
	// LayoutPerSlug stores <base>/<slug>.json.
	LayoutPerSlug Layout = iota
	// LayoutSingleFile stores every entry in one fixed document.
	LayoutSingleFile
)

// ReservedSettingsSlugs are structural documents under the data root that are
// not user settings and are hidden from the settings listing.
var ReservedSettingsSlugs = map[string]bool{
	"portfolio":  true,
	"pages":      true,
	"navigation": true,
}

// PortfolioSlug is the file name (and listing slug) of the portfolio document.
const PortfolioSlug = "portfolio"

func (c Collection) Layout() Layout {
	if c == CollectionPortfolio {
		return LayoutSingleFile
	}
	return LayoutPerSlug
}

// Hides reports whether slug is excluded when listing this collection.
func (c Collection) Hides(slug string) bool {
	return c == CollectionSettings && ReservedSettingsSlugs[slug]
}
