package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/goccy/go-json"

	"sba-cms/pkg/metrics"
	"sba-cms/pkg/models"
)

// RequestLog persists contact submissions to the requests table, or appends
// them as JSON lines to a file when the database tier is unavailable.
type RequestLog struct {
	db   *Database
	path string
	mu   sync.Mutex
}

func NewRequestLog(db *Database, path string) *RequestLog {
	return &RequestLog{db: db, path: path}
}

func (l *RequestLog) Append(ctx context.Context, req models.ContactRequest) error {
	err := l.db.Do(ctx, func(db *sql.DB) error {
		_, err := db.ExecContext(ctx,
			`INSERT INTO requests (type, name, email, data, created_at) VALUES ($1, $2, $3, $4, $5)`,
			req.Type, req.Name, req.Email, string(req.Data), req.CreatedAt,
		)
		return err
	})
	if err == nil {
		metrics.TierOperations.WithLabelValues("request_log", metrics.TierDatabase).Inc()
		return nil
	}
	if !errors.Is(err, ErrUnavailable) {
		metrics.PersistenceErrors.WithLabelValues(metrics.TierDatabase).Inc()
		return fmt.Errorf("%w: recording request: %v", ErrPersistence, err)
	}

	if err := l.appendLine(req); err != nil {
		metrics.PersistenceErrors.WithLabelValues(metrics.TierFile).Inc()
		return fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	metrics.TierOperations.WithLabelValues("request_log", metrics.TierFile).Inc()
	return nil
}

func (l *RequestLog) appendLine(req models.ContactRequest) error {
	line, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("encoding request: %w", err)
	}
	line = append(line, '\n')

	l.mu.Lock()
	defer l.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(l.path), 0755); err != nil {
		return fmt.Errorf("creating request log dir: %w", err)
	}
	f, err := os.OpenFile(l.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("opening request log: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(line); err != nil {
		return fmt.Errorf("writing request log: %w", err)
	}
	return nil
}
