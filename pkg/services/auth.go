package services

import (
	"context"
	"crypto/subtle"
	"database/sql"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"

	"sba-cms/pkg/logging"
	"sba-cms/pkg/metrics"
	"sba-cms/pkg/models"
)

const (
	RoleAdmin    = "admin"
	operatorName = "Admin"
)

// Authenticator checks a username and password against the configured
// operator account and then the database users table.
type Authenticator struct {
	db               *Database
	operatorUsername string
	operatorPassword string
	logger           zerolog.Logger
}

// NewAuthenticator disables the operator account when operatorPassword is empty.
func NewAuthenticator(db *Database, operatorUsername, operatorPassword string) *Authenticator {
	return &Authenticator{
		db:               db,
		operatorUsername: operatorUsername,
		operatorPassword: operatorPassword,
		logger:           logging.With().Str("component", "auth").Logger(),
	}
}

func (a *Authenticator) Authenticate(ctx context.Context, username, password string) (*models.User, error) {
	if username == "" || password == "" {
		return nil, ErrInvalidCredentials
	}

	if a.operatorPassword != "" &&
		subtle.ConstantTimeCompare([]byte(username), []byte(a.operatorUsername)) == 1 &&
		subtle.ConstantTimeCompare([]byte(password), []byte(a.operatorPassword)) == 1 {
		metrics.LoginAttempts.WithLabelValues("operator", "success").Inc()
		return &models.User{Name: operatorName, Username: username, Role: RoleAdmin}, nil
	}

	var hash, role string
	err := a.db.Do(ctx, func(db *sql.DB) error {
		return db.QueryRowContext(ctx,
			`SELECT password_hash, role FROM users WHERE username = $1`, username,
		).Scan(&hash, &role)
	})
	if err != nil {
		if !errors.Is(err, sql.ErrNoRows) && !errors.Is(err, ErrUnavailable) {
			a.logger.Warn().Err(err).Msg("user lookup failed")
		}
		metrics.LoginAttempts.WithLabelValues("database", "failure").Inc()
		return nil, ErrInvalidCredentials
	}

	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)); err != nil {
		metrics.LoginAttempts.WithLabelValues("database", "failure").Inc()
		return nil, ErrInvalidCredentials
	}

	metrics.LoginAttempts.WithLabelValues("database", "success").Inc()
	return &models.User{Name: username, Username: username, Role: role}, nil
}

// SaveUser creates or replaces a database user with a bcrypt hash of password.
func (a *Authenticator) SaveUser(ctx context.Context, username, password, role string) error {
	if username == "" || password == "" {
		return invalidInput("username and password are required")
	}
	if role == "" {
		role = RoleAdmin
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hashing password: %w", err)
	}

	err = a.db.Do(ctx, func(db *sql.DB) error {
		_, err := db.ExecContext(ctx, `
			INSERT INTO users (username, password_hash, role)
			VALUES ($1, $2, $3)
			ON CONFLICT (username) DO UPDATE SET
				password_hash = excluded.password_hash,
				role = excluded.role
		`, username, string(hash), role)
		return err
	})
	if err != nil {
		return fmt.Errorf("%w: saving user: %v", ErrPersistence, err)
	}
	return nil
}
