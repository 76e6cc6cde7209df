// Package postgres is the PostgreSQL implementation of store.Store, for
// deployments where the workflow document must live off-box.
package postgres

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/florianRadureau/dulien-orchestration/internal/store"
	"github.com/florianRadureau/dulien-orchestration/pkg/models"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store is the PostgreSQL implementation of store.Store.
type Store struct {
	Pool *pgxpool.Pool
}

// Open opens a PostgreSQL connection pool and runs migrations. dsn may be
// empty to use DATABASE_URL env.
func Open(dsn string) (store.Store, error) {
	if dsn == "" {
		dsn = os.Getenv("DATABASE_URL")
	}
	if dsn == "" {
		return nil, errors.New("postgres DSN or DATABASE_URL required")
	}
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, err
	}
	cfg.MaxConns = 10
	pool, err := pgxpool.NewWithConfig(context.Background(), cfg)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(context.Background()); err != nil {
		pool.Close()
		return nil, err
	}
	s := &Store{Pool: pool}
	if err := s.Migrate(context.Background()); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the connection pool.
func (s *Store) Close() error {
	if s == nil || s.Pool == nil {
		return nil
	}
	s.Pool.Close()
	return nil
}

func (s *Store) Load(ctx context.Context) (models.Document, int64, error) {
	var (
		version int64
		body    string
	)
	err := s.Pool.QueryRow(ctx, `SELECT version, body FROM workflow_document WHERE id = 1`).Scan(&version, &body)
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

func (s *Store) Save(ctx context.Context, doc models.Document, version int64) error {
	body, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode workflow document: %w", err)
	}
	tag, err := s.Pool.Exec(ctx,
		`UPDATE workflow_document SET version = version + 1, body = $1, updated_at = $2 WHERE id = 1 AND version = $3`,
		string(body), time.Now().Unix(), version)
	if err != nil {
		return fmt.Errorf("save workflow document: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrVersionConflict
	}
	return nil
}

func (s *Store) SeenMention(ctx context.Context, hash string) (bool, error) {
	var one int
	err := s.Pool.QueryRow(ctx, `SELECT 1 FROM mention_events WHERE hash = $1`, hash).Scan(&one)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *Store) RecordMention(ctx context.Context, hash string) error {
	_, err := s.Pool.Exec(ctx,
		`INSERT INTO mention_events(hash, recorded_at) VALUES($1, $2) ON CONFLICT (hash) DO NOTHING`,
		hash, time.Now().Unix())
	return err
}

func (s *Store) AcquireLease(ctx context.Context, name, owner string, ttl time.Duration) (bool, error) {
	now := time.Now().Unix()
	expires := time.Now().Add(ttl).Unix()

	// Single atomic upsert; a losing concurrent acquirer sees zero affected
	// rows instead of a primary-key violation.
	tag, err := s.Pool.Exec(ctx, `
		INSERT INTO leases(name, owner, expires_at) VALUES($1, $2, $3)
		ON CONFLICT (name) DO UPDATE SET owner = excluded.owner, expires_at = excluded.expires_at
		WHERE leases.owner = excluded.owner OR leases.expires_at < $4`,
		name, owner, expires, now)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (s *Store) ReleaseLease(ctx context.Context, name, owner string) error {
	_, err := s.Pool.Exec(ctx, `DELETE FROM leases WHERE name = $1 AND owner = $2`, name, owner)
	return err
}

func (s *Store) SaveArtifact(ctx context.Context, key, body string) error {
	_, err := s.Pool.Exec(ctx,
		`INSERT INTO artifacts(key, body, created_at) VALUES($1, $2, $3)
		 ON CONFLICT (key) DO UPDATE SET body = EXCLUDED.body, created_at = EXCLUDED.created_at`,
		key, body, time.Now().Unix())
	return err
}

func (s *Store) GetArtifact(ctx context.Context, key string) (string, error) {
	var body string
	err := s.Pool.QueryRow(ctx, `SELECT body FROM artifacts WHERE key = $1`, key).Scan(&body)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", store.ErrNotFound
	}
	if err != nil {
		return "", err
	}
	return body, nil
}

// Migrate runs pending migrations (only those not already in schema_migrations).
func (s *Store) Migrate(ctx context.Context) error {
	applied := make(map[int]bool)
	rows, err := s.Pool.Query(ctx, `SELECT version FROM schema_migrations`)
	if err == nil {
		defer rows.Close()
		for rows.Next() {
			var v int
			if err := rows.Scan(&v); err != nil {
				break
			}
			applied[v] = true
		}
	}

	type mig struct {
		version int
		name    string
		sql     string
	}
	var migs []mig
	files, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return err
	}
	for _, f := range files {
		if f.IsDir() || !strings.HasSuffix(f.Name(), ".sql") {
			continue
		}
		v, err := strconv.Atoi(strings.SplitN(strings.TrimSuffix(f.Name(), ".sql"), "_", 2)[0])
		if err != nil {
			continue
		}
		if applied[v] {
			continue
		}
		body, _ := migrationsFS.ReadFile("migrations/" + f.Name())
		migs = append(migs, mig{v, f.Name(), string(body)})
	}
	sort.Slice(migs, func(i, j int) bool { return migs[i].version < migs[j].version })

	for _, m := range migs {
		if _, err := s.Pool.Exec(ctx, m.sql); err != nil && !strings.Contains(err.Error(), "already exists") {
			return err
		}
		if _, err := s.Pool.Exec(ctx, `INSERT INTO schema_migrations(version, applied_at) VALUES($1, $2) ON CONFLICT (version) DO NOTHING`, m.version, time.Now().Unix()); err != nil {
			return err
		}
	}
	return nil
}
