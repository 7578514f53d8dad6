// Package revdb persists the last agreed state of every synced path: the
// local content hash and the device revision recorded after the most
// recent successful sync.
//
// The database is a single SQLite file that lives inside the sync
// directory, so it is versioned together with the documents it describes.
// It runs in rollback-journal mode to keep WAL side files out of the
// checkpoint history.
package revdb

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"
)

// Exported constants.
const (
	// FileName is the name of the revision database inside the sync directory.
	FileName = ".rev"
)

// Exported variables.
var (
	ErrClosed = errors.New("revision store is closed")
)

// Config holds the parameters for opening a Store.
type Config struct {
	// Path is the database file. It is created if missing.
	Path string
	// Logger is optional.
	Logger *zap.Logger
}

// Record is one synced path.
type Record struct {
	RelPath   string
	LocalRev  string
	RemoteRev string
}

// Store is the revision database.
type Store struct {
	pool   *sqlitex.Pool
	logger *zap.Logger
	path   string
}

// Open opens or creates the store at cfg.Path.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.Path == "" {
		return nil, errors.New("revdb: Path is required")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	pool, err := sqlitex.NewPool(cfg.Path, sqlitex.PoolOptions{
		Flags:       sqlite.OpenReadWrite | sqlite.OpenCreate,
		PoolSize:    1,
		PrepareConn: prepareConnection,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open revision store %s: %w", cfg.Path, err)
	}

	store := &Store{pool: pool, logger: logger, path: cfg.Path}

	// Force schema creation so a broken file fails here rather than mid-sync.
	conn, err := store.take(ctx)
	if err != nil {
		_ = pool.Close()
		return nil, err
	}
	store.pool.Put(conn)

	logger.Debug("revision store opened", zap.String("path", cfg.Path))

	return store, nil
}

// Close releases the database file.
func (s *Store) Close() error {
	if s.pool == nil {
		return nil
	}

	err := s.pool.Close()
	s.pool = nil
	if err != nil {
		return fmt.Errorf("failed to close revision store %s: %w", s.path, err)
	}

	s.logger.Debug("revision store closed", zap.String("path", s.path))

	return nil
}

// GetByPath returns the record for relPath.
func (s *Store) GetByPath(ctx context.Context, relPath string) (Record, bool, error) {
	return s.getOne(ctx, "SELECT rel_path, local_rev, remote_rev FROM files WHERE rel_path = ?;", relPath)
}

// GetByLocalRev returns a record whose local hash is rev.
func (s *Store) GetByLocalRev(ctx context.Context, rev string) (Record, bool, error) {
	return s.getOne(ctx,
		"SELECT rel_path, local_rev, remote_rev FROM files WHERE local_rev = ? ORDER BY rel_path LIMIT 1;", rev)
}

// GetByRemoteRev returns a record whose device revision is rev.
func (s *Store) GetByRemoteRev(ctx context.Context, rev string) (Record, bool, error) {
	return s.getOne(ctx,
		"SELECT rel_path, local_rev, remote_rev FROM files WHERE remote_rev = ? ORDER BY rel_path LIMIT 1;", rev)
}

// Put inserts or replaces the record for rec.RelPath.
func (s *Store) Put(ctx context.Context, rec Record) error {
	conn, err := s.take(ctx)
	if err != nil {
		return err
	}
	defer s.pool.Put(conn)

	return putRecord(conn, rec)
}

// ResetAll removes every record.
func (s *Store) ResetAll(ctx context.Context) error {
	conn, err := s.take(ctx)
	if err != nil {
		return err
	}
	defer s.pool.Put(conn)

	if err := sqlitex.Execute(conn, "DELETE FROM files;", nil); err != nil {
		return fmt.Errorf("failed to reset revision store: %w", err)
	}

	return nil
}

// Rebuild replaces every record with the ones written by fill, in a single
// transaction. If fill returns an error the previous records are kept.
func (s *Store) Rebuild(ctx context.Context, fill func(put func(Record) error) error) (err error) {
	conn, err := s.take(ctx)
	if err != nil {
		return err
	}
	defer s.pool.Put(conn)

	endFn, err := sqlitex.ImmediateTransaction(conn)
	if err != nil {
		return fmt.Errorf("failed to begin rebuild: %w", err)
	}
	defer endFn(&err)

	if err := sqlitex.Execute(conn, "DELETE FROM files;", nil); err != nil {
		return fmt.Errorf("failed to reset revision store: %w", err)
	}

	written := 0
	err = fill(func(rec Record) error {
		written++
		return putRecord(conn, rec)
	})
	if err != nil {
		return err
	}

	s.logger.Debug("revision store rebuilt", zap.Int("records", written))

	return nil
}

// All returns every record ordered by path.
func (s *Store) All(ctx context.Context) ([]Record, error) {
	conn, err := s.take(ctx)
	if err != nil {
		return nil, err
	}
	defer s.pool.Put(conn)

	var records []Record
	err = sqlitex.Execute(conn, "SELECT rel_path, local_rev, remote_rev FROM files ORDER BY rel_path;",
		&sqlitex.ExecOptions{
			ResultFunc: func(stmt *sqlite.Stmt) error {
				records = append(records, scanRecord(stmt))
				return nil
			},
		})
	if err != nil {
		return nil, fmt.Errorf("failed to list revision records: %w", err)
	}

	return records, nil
}

func (s *Store) getOne(ctx context.Context, query string, arg string) (Record, bool, error) {
	conn, err := s.take(ctx)
	if err != nil {
		return Record{}, false, err
	}
	defer s.pool.Put(conn)

	var (
		rec   Record
		found bool
	)
	err = sqlitex.Execute(conn, query, &sqlitex.ExecOptions{
		Args: []any{arg},
		ResultFunc: func(stmt *sqlite.Stmt) error {
			rec = scanRecord(stmt)
			found = true
			return nil
		},
	})
	if err != nil {
		return Record{}, false, fmt.Errorf("failed to query revision store: %w", err)
	}

	return rec, found, nil
}

func (s *Store) take(ctx context.Context) (*sqlite.Conn, error) {
	if s.pool == nil {
		return nil, ErrClosed
	}

	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire revision store connection: %w", err)
	}

	return conn, nil
}

func putRecord(conn *sqlite.Conn, rec Record) error {
	err := sqlitex.Execute(conn,
		"INSERT OR REPLACE INTO files (rel_path, local_rev, remote_rev) VALUES (?, ?, ?);",
		&sqlitex.ExecOptions{Args: []any{rec.RelPath, rec.LocalRev, rec.RemoteRev}})
	if err != nil {
		return fmt.Errorf("failed to store revision for %q: %w", rec.RelPath, err)
	}

	return nil
}

func scanRecord(stmt *sqlite.Stmt) Record {
	return Record{
		RelPath:   stmt.ColumnText(0),
		LocalRev:  stmt.ColumnText(1),
		RemoteRev: stmt.ColumnText(2),
	}
}

const schema = `
CREATE TABLE IF NOT EXISTS files (
	rel_path   TEXT PRIMARY KEY,
	local_rev  TEXT NOT NULL,
	remote_rev TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS files_local_rev ON files (local_rev);
CREATE INDEX IF NOT EXISTS files_remote_rev ON files (remote_rev);
`

func prepareConnection(conn *sqlite.Conn) error {
	pragmas := []string{
		"PRAGMA journal_mode=DELETE",
		"PRAGMA synchronous=FULL",
		"PRAGMA busy_timeout=5000",
	}

	for _, pragma := range pragmas {
		if err := sqlitex.ExecuteTransient(conn, pragma, nil); err != nil {
			return fmt.Errorf("revdb: %s: %w", pragma, err)
		}
	}

	if err := sqlitex.ExecuteScript(conn, schema, nil); err != nil {
		return fmt.Errorf("revdb: schema: %w", err)
	}

	return nil
}
