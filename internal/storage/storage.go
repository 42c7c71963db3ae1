package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"

	log "github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"
)

// MemoryPath opens a private in-memory database.
const MemoryPath = ":memory:"

var (
	ErrOpenFailed       = errors.New("open failed")
	ErrSchemaFailed     = errors.New("schema failed")
	ErrQueryFailed      = errors.New("query failed")
	ErrWriteFailed      = errors.New("write failed")
	ErrStoreUnavailable = errors.New("store unavailable")
)

// Scanner is the row cursor handed to Query callbacks.
type Scanner interface {
	Scan(dest ...any) error
}

// Store owns the single connection to the on-disk task database.
type Store struct {
	// mu is held shared by every statement and exclusively by Close, so
	// Close waits for statements already running.
	mu     sync.RWMutex
	db     *sql.DB
	logger log.FieldLogger
}

// Open opens (creating if absent) the database at dbPath and ensures the
// todos table exists. A nil logger falls back to the standard logrus logger.
func Open(dbPath string, logger log.FieldLogger) (*Store, error) {
	if logger == nil {
		logger = log.StandardLogger()
	}
	if dbPath == "" {
		return nil, fmt.Errorf("%w: db path is empty", ErrOpenFailed)
	}
	if dbPath != MemoryPath && !strings.HasPrefix(dbPath, "file:") {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil && !errors.Is(err, os.ErrExist) {
			return nil, fmt.Errorf("%w: %v", ErrOpenFailed, err)
		}
	}
	db, err := sql.Open("sqlite", sqliteDSN(dbPath))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrOpenFailed, err)
	}
	// One connection: statements run in issuance order and an in-memory
	// database stays the same database for the lifetime of the store.
	db.SetMaxOpenConns(1)
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: %v", ErrOpenFailed, err)
	}

	s := &Store{db: db, logger: logger.WithField("db", dbPath)}
	if err := s.Initialize(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	s.logger.Debug("store ready")
	return s, nil
}

func (s *Store) Close() error {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

// Initialize ensures the todos table exists with the columns the repository
// relies on. It never drops or rewrites existing rows.
func (s *Store) Initialize(ctx context.Context) error {
	if s == nil {
		return ErrStoreUnavailable
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.db == nil {
		return ErrStoreUnavailable
	}
	const ddl = `
CREATE TABLE IF NOT EXISTS todos (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	title TEXT NOT NULL,
	completed INTEGER NOT NULL DEFAULT 0
);`
	if _, err := s.db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("%w: %v", ErrSchemaFailed, err)
	}
	return s.checkColumns(ctx)
}

func (s *Store) checkColumns(ctx context.Context) error {
	required := []string{"id", "title", "completed"}
	existing := map[string]struct{}{}
	rows, err := s.db.QueryContext(ctx, `PRAGMA table_info(todos);`)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSchemaFailed, err)
	}
	defer rows.Close()
	for rows.Next() {
		var cid int
		var name, ctype string
		var notnull, pk int
		var dflt sql.NullString
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dflt, &pk); err != nil {
			return fmt.Errorf("%w: %v", ErrSchemaFailed, err)
		}
		existing[name] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrSchemaFailed, err)
	}
	for _, col := range required {
		if _, ok := existing[col]; !ok {
			return fmt.Errorf("%w: todos table is missing column %q", ErrSchemaFailed, col)
		}
	}
	return nil
}

// Exec runs one parameterized write.
func (s *Store) Exec(ctx context.Context, stmt string, args ...any) (sql.Result, error) {
	if s == nil {
		return nil, ErrStoreUnavailable
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.db == nil {
		return nil, ErrStoreUnavailable
	}
	res, err := s.db.ExecContext(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrWriteFailed, err)
	}
	return res, nil
}

// Query runs one parameterized read and calls scan once per row, in the
// order the engine returns them.
func (s *Store) Query(ctx context.Context, scan func(Scanner) error, stmt string, args ...any) error {
	if s == nil {
		return ErrStoreUnavailable
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.db == nil {
		return ErrStoreUnavailable
	}
	rows, err := s.db.QueryContext(ctx, stmt, args...)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrQueryFailed, err)
	}
	defer rows.Close()
	for rows.Next() {
		if err := scan(rows); err != nil {
			return fmt.Errorf("%w: %v", ErrQueryFailed, err)
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrQueryFailed, err)
	}
	return nil
}

func sqliteDSN(path string) string {
	if path == MemoryPath || strings.HasPrefix(path, "file:") {
		return path
	}
	abs, err := filepath.Abs(path)
	if err == nil {
		path = abs
	}
	u := url.URL{
		Scheme: "file",
		Path:   path,
	}
	q := u.Query()
	q.Set("mode", "rwc")
	q.Set("_pragma", "busy_timeout(5000)")
	u.RawQuery = q.Encode()
	return u.String()
}
