package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type contentFixture struct {
	dataDir string
	i18nDir string
	db      *Database
	repo    *ContentRepository
}

func newContentFixture(t *testing.T, db *Database) *contentFixture {
	t.Helper()
	root := t.TempDir()
	f := &contentFixture{
		dataDir: filepath.Join(root, "data"),
		i18nDir: filepath.Join(root, "i18n"),
		db:      db,
	}
	if f.db == nil {
		f.db = NewDatabase(DriverSQLite, "", time.Second)
	}
	f.repo = NewContentRepository(f.db, NewFileStore(NewPathResolver(f.dataDir, f.i18nDir)))
	return f
}

func openSQLite(t *testing.T) *Database {
	t.Helper()
	db := NewDatabase(DriverSQLite, filepath.Join(t.TempDir(), "cms.db"), time.Second)
	t.Cleanup(func() { db.Close() })
	require.True(t, db.Available(context.Background()))
	return db
}

func writeJSON(t *testing.T, path, body string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
}

func TestSaveWritesCanonicalFile(t *testing.T) {
	ctx := context.Background()
	f := newContentFixture(t, nil)

	require.NoError(t, f.repo.Save(ctx, "pages", "home", []byte(`{"title":"Hi","tags":["a","b"]}`)))

	raw, err := os.ReadFile(filepath.Join(f.dataDir, "pages", "home.json"))
	require.NoError(t, err)
	assert.Equal(t, "{\n    \"title\": \"Hi\",\n    \"tags\": [\n        \"a\",\n        \"b\"\n    ]\n}\n", string(raw))

	got, err := f.repo.Get(ctx, "pages", "home")
	require.NoError(t, err)
	assert.JSONEq(t, `{"title":"Hi","tags":["a","b"]}`, string(got))
}

func TestCanonicalJSONKeepsCharacters(t *testing.T) {
	out, err := CanonicalJSON([]byte(`  {"html":"<b>Café & co</b>","path":"a/b"}  `))
	require.NoError(t, err)
	assert.Equal(t, "{\n    \"html\": \"<b>Café & co</b>\",\n    \"path\": \"a/b\"\n}\n", string(out))

	_, err = CanonicalJSON([]byte(`{"title":`))
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = CanonicalJSON(nil)
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestSaveOverwritesWholeFile(t *testing.T) {
	ctx := context.Background()
	f := newContentFixture(t, nil)

	require.NoError(t, f.repo.Save(ctx, "translations", "en", []byte(`{"hello":"Hello","bye":"Bye"}`)))
	require.NoError(t, f.repo.Save(ctx, "translations", "en", []byte(`{"hello":"Hi"}`)))

	got, err := f.repo.Get(ctx, "translations", "en")
	require.NoError(t, err)
	assert.JSONEq(t, `{"hello":"Hi"}`, string(got))

	leftovers, err := filepath.Glob(filepath.Join(f.i18nDir, ".tmp-*"))
	require.NoError(t, err)
	assert.Empty(t, leftovers)
}

func TestSaveRejectsBadInput(t *testing.T) {
	ctx := context.Background()
	f := newContentFixture(t, nil)

	err := f.repo.Save(ctx, "pages", "../../etc/passwd", []byte(`{}`))
	assert.ErrorIs(t, err, ErrInvalidSlug)

	err = f.repo.Save(ctx, "", "home", []byte(`{}`))
	assert.ErrorIs(t, err, ErrInvalidInput)

	err = f.repo.Save(ctx, "pages", "home", []byte(`not json`))
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, statErr := os.Stat(filepath.Join(f.dataDir, "pages", "home.json"))
	assert.True(t, errors.Is(statErr, os.ErrNotExist))
}

func TestGetMissingEntry(t *testing.T) {
	f := newContentFixture(t, nil)

	_, err := f.repo.Get(context.Background(), "pages", "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListFilesSortedAndFiltered(t *testing.T) {
	f := newContentFixture(t, nil)
	writeJSON(t, filepath.Join(f.dataDir, "pages", "zeta.json"), `{"n":3}`)
	writeJSON(t, filepath.Join(f.dataDir, "pages", "alpha.json"), `{"n":1}`)
	writeJSON(t, filepath.Join(f.dataDir, "pages", "broken.json"), `{"n":`)
	writeJSON(t, filepath.Join(f.dataDir, "pages", "notes.txt"), `ignored`)

	entries, err := f.repo.List(context.Background(), "pages")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "alpha", entries[0].Slug)
	assert.Equal(t, "zeta", entries[1].Slug)
	assert.JSONEq(t, `{"n":3}`, string(entries[1].Data))
}

func TestListSettingsHidesStructuralDocuments(t *testing.T) {
	f := newContentFixture(t, nil)
	for _, slug := range []string{"site", "contact", "portfolio", "pages", "navigation"} {
		writeJSON(t, filepath.Join(f.dataDir, slug+".json"), `{}`)
	}
	writeJSON(t, filepath.Join(f.dataDir, "pages", "home.json"), `{}`)

	entries, err := f.repo.List(context.Background(), "settings")
	require.NoError(t, err)

	var slugs []string
	for _, e := range entries {
		slugs = append(slugs, e.Slug)
	}
	assert.Equal(t, []string{"contact", "site"}, slugs)
}

func TestPortfolioIsOneDocument(t *testing.T) {
	ctx := context.Background()
	f := newContentFixture(t, nil)

	entries, err := f.repo.List(ctx, "portfolio")
	require.NoError(t, err)
	assert.Empty(t, entries)

	require.NoError(t, f.repo.Save(ctx, "portfolio", "whatever", []byte(`{"items":[1,2]}`)))
	assert.FileExists(t, filepath.Join(f.dataDir, "portfolio.json"))

	got, err := f.repo.Get(ctx, "portfolio", "other")
	require.NoError(t, err)
	assert.JSONEq(t, `{"items":[1,2]}`, string(got))

	entries, err = f.repo.List(ctx, "portfolio")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "portfolio", entries[0].Slug)
}

func TestListMissingDirectoryIsEmpty(t *testing.T) {
	f := newContentFixture(t, nil)

	entries, err := f.repo.List(context.Background(), "translations")
	require.NoError(t, err)
	assert.NotNil(t, entries)
	assert.Empty(t, entries)
}

func TestSaveWritesBothTiers(t *testing.T) {
	ctx := context.Background()
	f := newContentFixture(t, openSQLite(t))

	require.NoError(t, f.repo.Save(ctx, "pages", "about", []byte(`{"title":"About"}`)))
	require.NoError(t, f.repo.Save(ctx, "pages", "about", []byte(`{"title":"About us"}`)))
	assert.FileExists(t, filepath.Join(f.dataDir, "pages", "about.json"))

	// The database answers even after the file is gone.
	require.NoError(t, os.Remove(filepath.Join(f.dataDir, "pages", "about.json")))

	got, err := f.repo.Get(ctx, "pages", "about")
	require.NoError(t, err)
	assert.JSONEq(t, `{"title":"About us"}`, string(got))

	entries, err := f.repo.List(ctx, "pages")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "about", entries[0].Slug)
}

func TestReadsFallBackToFilesWhenDatabaseIsEmpty(t *testing.T) {
	ctx := context.Background()
	f := newContentFixture(t, openSQLite(t))
	writeJSON(t, filepath.Join(f.i18nDir, "fr.json"), `{"hello":"Bonjour"}`)

	got, err := f.repo.Get(ctx, "translations", "fr")
	require.NoError(t, err)
	assert.JSONEq(t, `{"hello":"Bonjour"}`, string(got))

	entries, err := f.repo.List(ctx, "translations")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "fr", entries[0].Slug)
}

func TestDatabaseListHidesStructuralDocuments(t *testing.T) {
	ctx := context.Background()
	f := newContentFixture(t, openSQLite(t))

	require.NoError(t, f.repo.Save(ctx, "settings", "site", []byte(`{"name":"SBA"}`)))
	require.NoError(t, f.repo.Save(ctx, "settings", "navigation", []byte(`{"links":[]}`)))

	entries, err := f.repo.List(ctx, "settings")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "site", entries[0].Slug)
}

func newMockDatabase(t *testing.T) (*Database, sqlmock.Sqlmock) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })
	return NewDatabaseFromDB(sqlDB, DriverPostgres), mock
}

func TestFailedUpsertWritesNoFile(t *testing.T) {
	db, mock := newMockDatabase(t)
	f := newContentFixture(t, db)

	mock.ExpectExec("INSERT INTO content").
		WithArgs("pages", "home", "{\n    \"title\": \"Hi\"\n}\n", sqlmock.AnyArg()).
		WillReturnError(errors.New("disk full"))

	err := f.repo.Save(context.Background(), "pages", "home", []byte(`{"title":"Hi"}`))
	assert.ErrorIs(t, err, ErrPersistence)
	assert.NoFileExists(t, filepath.Join(f.dataDir, "pages", "home.json"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReadErrorFallsBackToFiles(t *testing.T) {
	db, mock := newMockDatabase(t)
	f := newContentFixture(t, db)
	writeJSON(t, filepath.Join(f.dataDir, "pages", "home.json"), `{"title":"From file"}`)

	mock.ExpectQuery("SELECT data FROM content").
		WithArgs("pages", "home").
		WillReturnError(errors.New("connection reset"))
	mock.ExpectQuery("SELECT slug, data FROM content").
		WithArgs("pages").
		WillReturnRows(sqlmock.NewRows([]string{"slug", "data"}))

	got, err := f.repo.Get(context.Background(), "pages", "home")
	require.NoError(t, err)
	assert.JSONEq(t, `{"title":"From file"}`, string(got))

	entries, err := f.repo.List(context.Background(), "pages")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "home", entries[0].Slug)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDatabaseRowWins(t *testing.T) {
	db, mock := newMockDatabase(t)
	f := newContentFixture(t, db)
	writeJSON(t, filepath.Join(f.dataDir, "pages", "home.json"), `{"title":"From file"}`)

	mock.ExpectQuery("SELECT data FROM content").
		WithArgs("pages", "home").
		WillReturnRows(sqlmock.NewRows([]string{"data"}).AddRow(`{"title":"From database"}`))

	got, err := f.repo.Get(context.Background(), "pages", "home")
	require.NoError(t, err)
	assert.JSONEq(t, `{"title":"From database"}`, string(got))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUnconfiguredDatabase(t *testing.T) {
	db := NewDatabase(DriverSQLite, "", time.Second)
	assert.False(t, db.Configured())
	assert.False(t, db.Available(context.Background()))

	err := db.Do(context.Background(), func(*sql.DB) error { return nil })
	assert.ErrorIs(t, err, ErrUnavailable)

	var nilDB *Database
	assert.False(t, nilDB.Configured())
	assert.NoError(t, nilDB.Close())
}

func TestListSeesInPlaceEdits(t *testing.T) {
	ctx := context.Background()
	f := newContentFixture(t, nil)
	path := filepath.Join(f.dataDir, "pages", "home.json")
	writeJSON(t, path, `{"title":"Old"}`)

	entries, err := f.repo.List(ctx, "pages")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.JSONEq(t, `{"title":"Old"}`, string(entries[0].Data))

	// Truncating rewrite of the same file, as an editor would do.
	require.NoError(t, os.WriteFile(path, []byte(`{"title":"New and longer"}`), 0644))

	entries, err = f.repo.List(ctx, "pages")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.JSONEq(t, `{"title":"New and longer"}`, string(entries[0].Data))
}

func TestDocumentCacheBoundedByFilesOnDisk(t *testing.T) {
	root := t.TempDir()
	files := NewFileStore(NewPathResolver(filepath.Join(root, "data"), filepath.Join(root, "i18n")))
	writeJSON(t, filepath.Join(root, "data", "site.json"), `{"name":"SBA"}`)
	writeJSON(t, filepath.Join(root, "data", "contact.json"), `{"email":"a@b.c"}`)

	for i := 0; i < 500; i++ {
		entries, err := files.List(fmt.Sprintf("x%d", i))
		require.NoError(t, err)
		require.Len(t, entries, 2)
	}
	assert.Equal(t, 2, files.cache.len())

	require.NoError(t, os.Remove(filepath.Join(root, "data", "contact.json")))
	entries, err := files.List("settings")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, 1, files.cache.len())
}

func TestCanceledCallsDoNotTripBreaker(t *testing.T) {
	db := openSQLite(t)

	for i := 0; i < 5; i++ {
		ctx, cancel := context.WithCancel(context.Background())
		err := db.Do(ctx, func(conn *sql.DB) error {
			cancel()
			_, err := conn.ExecContext(ctx, "SELECT 1")
			return err
		})
		assert.ErrorIs(t, err, context.Canceled)
	}

	canceled, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, db.Do(canceled, func(*sql.DB) error { return nil }), context.Canceled)

	assert.Equal(t, gobreaker.StateClosed, db.breaker.State())
	assert.True(t, db.Available(context.Background()))
}

func TestCanceledReadsKeepDatabaseTier(t *testing.T) {
	ctx := context.Background()
	f := newContentFixture(t, openSQLite(t))
	require.NoError(t, f.repo.Save(ctx, "pages", "home", []byte(`{"v":"old"}`)))

	canceled, cancel := context.WithCancel(ctx)
	cancel()
	for i := 0; i < 5; i++ {
		got, err := f.repo.Get(canceled, "pages", "home")
		require.NoError(t, err)
		assert.JSONEq(t, `{"v":"old"}`, string(got))
	}
	assert.True(t, f.db.Available(ctx))

	require.NoError(t, f.repo.Save(ctx, "pages", "home", []byte(`{"v":"new"}`)))
	require.NoError(t, os.Remove(filepath.Join(f.dataDir, "pages", "home.json")))

	got, err := f.repo.Get(ctx, "pages", "home")
	require.NoError(t, err)
	assert.JSONEq(t, `{"v":"new"}`, string(got))
}

func TestBreakerOpensAndRecovers(t *testing.T) {
	db, mock := newMockDatabase(t)
	db.breaker = newBreaker(db.logger, 50*time.Millisecond)
	f := newContentFixture(t, db)
	writeJSON(t, filepath.Join(f.dataDir, "pages", "home.json"), `{"title":"From file"}`)

	for i := 0; i < 3; i++ {
		mock.ExpectQuery("SELECT data FROM content").
			WithArgs("pages", "home").
			WillReturnError(errors.New("connection refused"))
	}
	for i := 0; i < 3; i++ {
		got, err := f.repo.Get(context.Background(), "pages", "home")
		require.NoError(t, err)
		assert.JSONEq(t, `{"title":"From file"}`, string(got))
	}
	assert.Equal(t, gobreaker.StateOpen, db.breaker.State())

	// While open, no query reaches the server.
	got, err := f.repo.Get(context.Background(), "pages", "home")
	require.NoError(t, err)
	assert.JSONEq(t, `{"title":"From file"}`, string(got))
	assert.ErrorIs(t, db.Do(context.Background(), func(*sql.DB) error { return nil }), ErrUnavailable)
	require.NoError(t, mock.ExpectationsWereMet())

	time.Sleep(80 * time.Millisecond)
	mock.ExpectQuery("SELECT data FROM content").
		WithArgs("pages", "home").
		WillReturnRows(sqlmock.NewRows([]string{"data"}).AddRow(`{"title":"From database"}`))

	got, err = f.repo.Get(context.Background(), "pages", "home")
	require.NoError(t, err)
	assert.JSONEq(t, `{"title":"From database"}`, string(got))
	assert.Equal(t, gobreaker.StateClosed, db.breaker.State())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFileFailureAfterCommitLeavesDatabaseCopy(t *testing.T) {
	ctx := context.Background()
	f := newContentFixture(t, openSQLite(t))
	// A regular file where the pages directory belongs makes the file write fail.
	writeJSON(t, filepath.Join(f.dataDir, "pages"), `not a directory`)

	err := f.repo.Save(ctx, "pages", "home", []byte(`{"title":"Committed"}`))
	assert.ErrorIs(t, err, ErrPersistence)

	got, err := f.repo.Get(ctx, "pages", "home")
	require.NoError(t, err)
	assert.JSONEq(t, `{"title":"Committed"}`, string(got))
}
