package services

import (
	"context"
	"database/sql"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"sba-cms/pkg/models"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func TestTokenRoundTrip(t *testing.T) {
	issuer, err := NewTokenIssuer(testSecret, time.Hour)
	require.NoError(t, err)

	user := &models.User{Name: "Admin", Username: "admin", Role: RoleAdmin}
	token, err := issuer.Issue(user)
	require.NoError(t, err)

	got, err := issuer.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, user, got)
}

func TestTokenRejections(t *testing.T) {
	issuer, err := NewTokenIssuer(testSecret, time.Hour)
	require.NoError(t, err)

	now := time.Now()
	issuer.now = func() time.Time { return now }
	token, err := issuer.Issue(&models.User{Username: "admin", Role: RoleAdmin})
	require.NoError(t, err)

	t.Run("expired", func(t *testing.T) {
		later := &TokenIssuer{secret: issuer.secret, ttl: time.Hour, now: func() time.Time { return now.Add(2 * time.Hour) }}
		_, err := later.Verify(token)
		assert.ErrorIs(t, err, ErrUnauthorized)
	})

	t.Run("other secret", func(t *testing.T) {
		other, err := NewTokenIssuer(strings.Repeat("x", 32), time.Hour)
		require.NoError(t, err)
		_, err = other.Verify(token)
		assert.ErrorIs(t, err, ErrUnauthorized)
	})

	t.Run("random secret per process", func(t *testing.T) {
		random, err := NewTokenIssuer("", time.Hour)
		require.NoError(t, err)
		_, err = random.Verify(token)
		assert.ErrorIs(t, err, ErrUnauthorized)
	})

	t.Run("garbage", func(t *testing.T) {
		for _, raw := range []string{"", "mock-jwt-token-123", "a.b.c"} {
			_, err := issuer.Verify(raw)
			assert.ErrorIs(t, err, ErrUnauthorized, raw)
		}
	})
}

func TestOperatorLogin(t *testing.T) {
	ctx := context.Background()
	auth := NewAuthenticator(NewDatabase(DriverSQLite, "", time.Second), "admin", "correct horse")

	user, err := auth.Authenticate(ctx, "admin", "correct horse")
	require.NoError(t, err)
	assert.Equal(t, &models.User{Name: "Admin", Username: "admin", Role: RoleAdmin}, user)

	_, err = auth.Authenticate(ctx, "admin", "wrong")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	_, err = auth.Authenticate(ctx, "root", "correct horse")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestOperatorLoginDisabledWithoutPassword(t *testing.T) {
	auth := NewAuthenticator(NewDatabase(DriverSQLite, "", time.Second), "admin", "")

	for _, password := range []string{"", "admin", "anything"} {
		_, err := auth.Authenticate(context.Background(), "admin", password)
		assert.ErrorIs(t, err, ErrInvalidCredentials, password)
	}
}

func TestDatabaseUserLogin(t *testing.T) {
	ctx := context.Background()
	auth := NewAuthenticator(openSQLite(t), "admin", "")

	require.NoError(t, auth.SaveUser(ctx, "editor", "s3cret-pass", ""))

	user, err := auth.Authenticate(ctx, "editor", "s3cret-pass")
	require.NoError(t, err)
	assert.Equal(t, "editor", user.Username)
	assert.Equal(t, RoleAdmin, user.Role)

	_, err = auth.Authenticate(ctx, "editor", "nope")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	_, err = auth.Authenticate(ctx, "ghost", "s3cret-pass")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	require.NoError(t, auth.SaveUser(ctx, "editor", "rotated-pass", "editor"))
	user, err = auth.Authenticate(ctx, "editor", "rotated-pass")
	require.NoError(t, err)
	assert.Equal(t, "editor", user.Role)
}

func TestPHPStyleHashesVerify(t *testing.T) {
	ctx := context.Background()
	db := openSQLite(t)
	auth := NewAuthenticator(db, "admin", "")

	hash, err := bcrypt.GenerateFromPassword([]byte("legacy-pass"), bcrypt.MinCost)
	require.NoError(t, err)
	phpHash := "$2y$" + strings.TrimPrefix(string(hash), "$2a$")

	require.NoError(t, db.Do(ctx, func(sqlDB *sql.DB) error {
		_, err := sqlDB.ExecContext(ctx,
			`INSERT INTO users (username, password_hash, role) VALUES ($1, $2, $3)`,
			"legacy", phpHash, RoleAdmin)
		return err
	}))

	user, err := auth.Authenticate(ctx, "legacy", "legacy-pass")
	require.NoError(t, err)
	assert.Equal(t, "legacy", user.Username)
}

func TestSaveUserRequiresDatabase(t *testing.T) {
	auth := NewAuthenticator(NewDatabase(DriverSQLite, "", time.Second), "admin", "")

	err := auth.SaveUser(context.Background(), "editor", "pw", "")
	assert.ErrorIs(t, err, ErrPersistence)

	err = auth.SaveUser(context.Background(), "", "pw", "")
	assert.ErrorIs(t, err, ErrInvalidInput)
}
