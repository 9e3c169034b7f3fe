package state

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/capitalize-ai/docchat/pkg/logger"
	"github.com/capitalize-ai/docchat/pkg/metrics"
)

const stateKey = "client-state"

// SQLiteStore keeps the state blob in a single-row key-value table.
type SQLiteStore struct {
	db  *sql.DB
	log *logger.Logger
}

// NewSQLite opens (or creates) a SQLite database at dbPath.
func NewSQLite(dbPath string, log *logger.Logger) (*SQLiteStore, error) {
	if log == nil {
		log = logger.Global()
	}
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	dsn := dbPath + "?_journal=WAL&_sync=NORMAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	schema := `
	CREATE TABLE IF NOT EXISTS client_state (
		key TEXT PRIMARY KEY,
		value BLOB NOT NULL,
		updated_at INTEGER NOT NULL
	);
	`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing schema: %w", err)
	}

	return &SQLiteStore{db: db, log: log}, nil
}

func (s *SQLiteStore) Save(ctx context.Context, data []byte) error {
	start := time.Now()

	query := `
	INSERT INTO client_state (key, value, updated_at) VALUES (?, ?, ?)
	ON CONFLICT(key) DO UPDATE SET
		value = excluded.value,
		updated_at = excluded.updated_at
	`
	if _, err := s.db.ExecContext(ctx, query, stateKey, data, time.Now().Unix()); err != nil {
		return fmt.Errorf("saving state: %w", err)
	}

	metrics.StateSaveDuration.WithLabelValues("sqlite").Observe(time.Since(start).Seconds())
	s.log.Debug("state saved", "backend", "sqlite", "bytes", len(data))
	return nil
}

func (s *SQLiteStore) Load(ctx context.Context) ([]byte, error) {
	var data []byte
	row := s.db.QueryRowContext(ctx, `SELECT value FROM client_state WHERE key = ?`, stateKey)
	if err := row.Scan(&data); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNoState
		}
		return nil, fmt.Errorf("loading state: %w", err)
	}
	return data, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
