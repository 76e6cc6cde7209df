package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/florianRadureau/dulien-orchestration/pkg/models"
)

// updateAttempts bounds the reload loop under contention; overlapping cycles
// are rare and short, so a handful of retries is plenty.
const updateAttempts = 5

// ErrSkipSave lets an Update callback bail out without writing, e.g. when a
// reload shows the change was already applied by an overlapping cycle.
var ErrSkipSave = errors.New("skip save")

// Update performs a read-modify-write of the workflow document with
// compare-and-swap retries. The callback receives the freshly loaded document
// and mutates it in place; on version conflict the document is reloaded and
// the callback runs again against the new state.
func Update(ctx context.Context, s Store, fn func(doc *models.Document) error) error {
	for attempt := 0; attempt < updateAttempts; attempt++ {
		doc, version, err := s.Load(ctx)
		if err != nil {
			return err
		}
		if err := fn(&doc); err != nil {
			if errors.Is(err, ErrSkipSave) {
				return nil
			}
			return err
		}
		err = s.Save(ctx, doc, version)
		if err == nil {
			return nil
		}
		if !errors.Is(err, ErrVersionConflict) {
			return err
		}
	}
	return fmt.Errorf("update workflow document: %w", ErrVersionConflict)
}
