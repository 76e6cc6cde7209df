package store

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/florianRadureau/dulien-orchestration/pkg/models"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// sqliteStore is the SQLite implementation of Store (internal to this package).
type sqliteStore struct {
	DB *sql.DB
}

// OpenOptions configures how to open the store (driver and location).
type OpenOptions struct {
	Driver string // "sqlite" (default) or "postgres"
	Home   string // for sqlite: directory containing protected/db.sqlite
	DSN    string // for postgres: connection string; or env DATABASE_URL
}

// Open opens the default SQLite store at home/protected/db.sqlite.
func Open(home string) (Store, error) {
	return openSQLite(home)
}

// OpenWithOptions opens a store based on driver and options. Driver "" or
// "sqlite" uses Home. For driver "postgres", the caller must use
// postgres.Open(dsn) from internal/store/postgres to avoid import cycles.
func OpenWithOptions(opts OpenOptions) (Store, error) {
	if opts.Driver == "postgres" {
		return nil, errors.New("for postgres use postgres.Open(dsn) from internal/store/postgres")
	}
	return openSQLite(opts.Home)
}

// EnsureSchema creates the store at home, runs migrations, and closes it;
// used by init to bootstrap the DB.
func EnsureSchema(home string) error {
	s, err := Open(home)
	if err != nil {
		return err
	}
	return s.Close()
}

func openSQLite(home string) (*sqliteStore, error) {
	if home == "" {
		return nil, errors.New("store home required")
	}
	dbPath := filepath.Join(home, "protected", "db.sqlite")
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, err
	}
	dsn := "file:" + dbPath + "?_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(5 * time.Minute)

	s := &sqliteStore{DB: db}
	if err := s.initPragmas(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := s.Migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *sqliteStore) Close() error {
	if s == nil || s.DB == nil {
		return nil
	}
	return s.DB.Close()
}

func (s *sqliteStore) initPragmas(ctx context.Context) error {
	// WAL allows the watch daemon and ad-hoc CLI invocations to coexist.
	stmts := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA foreign_keys=ON;",
		"PRAGMA temp_store=MEMORY;",
	}
	for _, q := range stmts {
		if _, err := s.DB.ExecContext(ctx, q); err != nil {
			return err
		}
	}
	return nil
}

func (s *sqliteStore) Load(ctx context.Context) (models.Document, int64, error) {
	var (
		version int64
		body    string
	)
	err := s.DB.QueryRowContext(ctx, `SELECT version, body FROM workflow_document WHERE id = 1`).Scan(&version, &body)
	if err != nil {
		return models.Document{}, 0, fmt.Errorf("load workflow document: %w", err)
	}
	var doc models.Document
	if err := json.Unmarshal([]byte(body), &doc); err != nil {
		return models.Document{}, 0, fmt.Errorf("decode workflow document: %w", err)
	}
	if doc.Epics == nil {
		doc.Epics = make(map[string]*models.Epic)
	}
	return doc, version, nil
}

func (s *sqliteStore) Save(ctx context.Context, doc models.Document, version int64) error {
	body, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode workflow document: %w", err)
	}
	res, err := s.DB.ExecContext(ctx,
		`UPDATE workflow_document SET version = version + 1, body = ?, updated_at = ? WHERE id = 1 AND version = ?`,
		string(body), time.Now().Unix(), version)
	if err != nil {
		return fmt.Errorf("save workflow document: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrVersionConflict
	}
	return nil
}

func (s *sqliteStore) SeenMention(ctx context.Context, hash string) (bool, error) {
	var one int
	err := s.DB.QueryRowContext(ctx, `SELECT 1 FROM mention_events WHERE hash = ?`, hash).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *sqliteStore) RecordMention(ctx context.Context, hash string) error {
	_, err := s.DB.ExecContext(ctx,
		`INSERT OR IGNORE INTO mention_events(hash, recorded_at) VALUES(?, ?)`,
		hash, time.Now().Unix())
	return err
}

func (s *sqliteStore) AcquireLease(ctx context.Context, name, owner string, ttl time.Duration) (bool, error) {
	now := time.Now().Unix()
	expires := time.Now().Add(ttl).Unix()

	// Single atomic upsert: a new lease inserts; an existing one changes
	// hands only for its own owner (renewal) or after expiry (stale steal).
	// Concurrent first-time acquirers race on the insert and the loser sees
	// zero affected rows, not a constraint error.
	res, err := s.DB.ExecContext(ctx, `
		INSERT INTO leases(name, owner, expires_at) VALUES(?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET owner = excluded.owner, expires_at = excluded.expires_at
		WHERE leases.owner = excluded.owner OR leases.expires_at < ?`,
		name, owner, expires, now)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *sqliteStore) ReleaseLease(ctx context.Context, name, owner string) error {
	_, err := s.DB.ExecContext(ctx, `DELETE FROM leases WHERE name = ? AND owner = ?`, name, owner)
	return err
}

func (s *sqliteStore) SaveArtifact(ctx context.Context, key, body string) error {
	_, err := s.DB.ExecContext(ctx,
		`INSERT INTO artifacts(key, body, created_at) VALUES(?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET body = excluded.body, created_at = excluded.created_at`,
		key, body, time.Now().Unix())
	return err
}

func (s *sqliteStore) GetArtifact(ctx context.Context, key string) (string, error) {
	var body string
	err := s.DB.QueryRowContext(ctx, `SELECT body FROM artifacts WHERE key = ?`, key).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", err
	}
	return body, nil
}

func (s *sqliteStore) Migrate(ctx context.Context) error {
	if s == nil || s.DB == nil {
		return errors.New("store not initialized")
	}

	if _, err := s.DB.ExecContext(ctx, `
CREATE TABLE IF NOT EXISTS schema_migrations (
  version INTEGER PRIMARY KEY,
  applied_at INTEGER NOT NULL
);`); err != nil {
		return err
	}

	applied, err := s.appliedVersions(ctx)
	if err != nil {
		return err
	}

	files, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return err
	}
	var migs []migration
	for _, f := range files {
		if f.IsDir() || !strings.HasSuffix(f.Name(), ".sql") {
			continue
		}
		v, err := parseMigrationVersion(f.Name())
		if err != nil {
			return err
		}
		body, err := migrationsFS.ReadFile("migrations/" + f.Name())
		if err != nil {
			return err
		}
		migs = append(migs, migration{Version: v, Name: f.Name(), SQL: string(body)})
	}
	sort.Slice(migs, func(i, j int) bool { return migs[i].Version < migs[j].Version })

	for _, m := range migs {
		if applied[m.Version] {
			continue
		}
		if err := s.applyMigration(ctx, m); err != nil {
			return fmt.Errorf("migration %s failed: %w", m.Name, err)
		}
	}
	return nil
}

type migration struct {
	Version int
	Name    string
	SQL     string
}

func (s *sqliteStore) appliedVersions(ctx context.Context) (map[int]bool, error) {
	rows, err := s.DB.QueryContext(ctx, `SELECT version FROM schema_migrations`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	out := make(map[int]bool)
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		out[v] = true
	}
	return out, rows.Err()
}

func (s *sqliteStore) applyMigration(ctx context.Context, m migration) error {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, m.SQL); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO schema_migrations(version, applied_at) VALUES(?, ?)`, m.Version, time.Now().Unix()); err != nil {
		return err
	}
	return tx.Commit()
}

func parseMigrationVersion(filename string) (int, error) {
	base := strings.TrimSuffix(filename, ".sql")
	parts := strings.SplitN(base, "_", 2)
	if len(parts) < 1 {
		return 0, fmt.Errorf("invalid migration filename: %s", filename)
	}
	v, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, fmt.Errorf("invalid migration version in %s", filename)
	}
	return v, nil
}
