package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"
)

// SQLStore is the sqlx-backed AccessStore. The default driver is the
// CGo-free modernc sqlite build.
type SQLStore struct {
	db *sqlx.DB
}

var _ AccessStore = (*SQLStore)(nil)

var pragmas = []string{
	`PRAGMA journal_mode = WAL`,
	`PRAGMA busy_timeout = 5000`,
	`PRAGMA synchronous = NORMAL`,
}

// Open opens (or creates) the access log database and initializes the
// schema. Use DSN "file:x?mode=memory&cache=shared" for tests.
func Open(driver, dsn string) (*SQLStore, error) {
	db, err := sqlx.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	for _, stmt := range pragmas {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("execute pragma: %w", err)
		}
	}

	s := &SQLStore{db: db}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return s, nil
}

func (s *SQLStore) initSchema() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS access_log (
request_id TEXT PRIMARY KEY,
identifier TEXT NOT NULL,
class TEXT NOT NULL,
service TEXT NOT NULL,
method TEXT NOT NULL,
path TEXT NOT NULL,
status INTEGER NOT NULL,
duration_ms INTEGER NOT NULL,
batch_size INTEGER NOT NULL DEFAULT 0,
created_at TIMESTAMP NOT NULL
)`,
		`CREATE INDEX IF NOT EXISTS idx_access_log_class_identifier_created
ON access_log (class, identifier, created_at)`,
	}

	for _, stmt := range statements {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// Record inserts one access record.
func (s *SQLStore) Record(ctx context.Context, rec AccessRecord) error {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.NamedExecContext(ctx, `
INSERT INTO access_log (request_id, identifier, class, service, method, path, status, duration_ms, batch_size, created_at)
VALUES (:request_id, :identifier, :class, :service, :method, :path, :status, :duration_ms, :batch_size, :created_at)`, rec)
	if err != nil {
		return fmt.Errorf("insert access record: %w", err)
	}
	return nil
}

// CountClassSince counts records for (class, identifier) created at or
// after since.
func (s *SQLStore) CountClassSince(ctx context.Context, class, identifier string, since time.Time) (int, error) {
	var count int
	err := s.db.GetContext(ctx, &count, `
SELECT COUNT(*) FROM access_log WHERE class = ? AND identifier = ? AND created_at >= ?`,
		class, identifier, since)
	if err != nil {
		return 0, fmt.Errorf("count access records: %w", err)
	}
	return count, nil
}

// Prune deletes records older than the retention cutoff. Called
// periodically by the gateway, never on the request path.
func (s *SQLStore) Prune(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM access_log WHERE created_at < ?`, before)
	if err != nil {
		return 0, fmt.Errorf("prune access records: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

func (s *SQLStore) Close() error {
	return s.db.Close()
}
