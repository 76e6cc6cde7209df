// Package store defines the persistence interface for the workflow document,
// mention dedup set, router leases, and raw debug artifacts.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/florianRadureau/dulien-orchestration/pkg/models"
)

// ErrVersionConflict is returned by Save when the document changed since it
// was loaded. Callers reload and re-derive their decision; last writer wins
// is the accepted outcome of overlapping cycles.
var ErrVersionConflict = errors.New("workflow document version conflict")

// ErrNotFound is returned by GetArtifact for an unknown key.
var ErrNotFound = errors.New("not found")

// Store is the persistence interface. The workflow document is always
// replaced whole: Load returns the document with its version, Save performs a
// compare-and-swap on that version. There is no partial mutation.
//
// Implementations: SQLite (default, lives under home) and PostgreSQL.
type Store interface {
	// Workflow document
	Load(ctx context.Context) (models.Document, int64, error)
	Save(ctx context.Context, doc models.Document, version int64) error

	// Mention dedup set: write-once, append-only, never removed.
	SeenMention(ctx context.Context, hash string) (bool, error)
	RecordMention(ctx context.Context, hash string) error

	// Router lease: owner-scoped mutual exclusion with TTL staleness.
	// Acquire returns false when another live owner holds the lease; an
	// expired lease is stolen. Release is a no-op for a non-owner.
	AcquireLease(ctx context.Context, name, owner string, ttl time.Duration) (bool, error)
	ReleaseLease(ctx context.Context, name, owner string) error

	// Raw artifacts (e.g. unparseable agent output) kept verbatim for
	// operator inspection.
	SaveArtifact(ctx context.Context, key, body string) error
	GetArtifact(ctx context.Context, key string) (string, error)

	Close() error
}
