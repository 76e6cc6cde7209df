package store

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/florianRadureau/dulien-orchestration/pkg/models"
)

func openTestStore(t *testing.T) Store {
	t.Helper()
	s, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestLoadEmptyDocument(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	doc, version, err := s.Load(context.Background())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if version != 0 {
		t.Fatalf("initial version: got %d, want 0", version)
	}
	if len(doc.Epics) != 0 {
		t.Fatalf("initial doc should be empty, got %d epics", len(doc.Epics))
	}
}

func TestSaveLoadRoundtrip(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()

	doc, version, _ := s.Load(ctx)
	doc.Epics["42"] = &models.Epic{
		Analysis: "one webapp change",
		TasksCreated: []models.TaskRef{
			{Repo: "webapp", IssueNumber: 101, Title: "Add profile page", Agent: models.RoleWebapp},
		},
		Workflow: []models.WorkflowEntry{
			{TaskID: "webapp-101", DependsOn: []string{}, Status: models.StatusPending, Priority: 1},
		},
	}
	if err := s.Save(ctx, doc, version); err != nil {
		t.Fatalf("Save: %v", err)
	}

	got, v2, err := s.Load(ctx)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if v2 != version+1 {
		t.Fatalf("version after save: got %d, want %d", v2, version+1)
	}
	e := got.Epics["42"]
	if e == nil || len(e.TasksCreated) != 1 || e.TasksCreated[0].ID() != "webapp-101" {
		t.Fatalf("roundtrip mismatch: %+v", e)
	}
	if e.Workflow[0].EffectiveStatus() != models.StatusPending {
		t.Fatalf("status: got %q", e.Workflow[0].Status)
	}
}

func TestSaveVersionConflict(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()

	doc, version, _ := s.Load(ctx)
	if err := s.Save(ctx, doc, version); err != nil {
		t.Fatalf("first save: %v", err)
	}
	// Second save with the stale version must fail.
	err := s.Save(ctx, doc, version)
	if !errors.Is(err, ErrVersionConflict) {
		t.Fatalf("stale save: got %v, want ErrVersionConflict", err)
	}
}

func TestMentionSetIsWriteOnce(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()

	seen, err := s.SeenMention(ctx, "abc")
	if err != nil || seen {
		t.Fatalf("fresh hash: seen=%v err=%v", seen, err)
	}
	if err := s.RecordMention(ctx, "abc"); err != nil {
		t.Fatalf("RecordMention: %v", err)
	}
	// Recording the same hash again is a no-op, not an error.
	if err := s.RecordMention(ctx, "abc"); err != nil {
		t.Fatalf("RecordMention twice: %v", err)
	}
	seen, err = s.SeenMention(ctx, "abc")
	if err != nil || !seen {
		t.Fatalf("recorded hash: seen=%v err=%v", seen, err)
	}
}

func TestLeaseExclusionAndSteal(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()

	ok, err := s.AcquireLease(ctx, "mentions", "owner-a", time.Hour)
	if err != nil || !ok {
		t.Fatalf("first acquire: ok=%v err=%v", ok, err)
	}
	// A second owner is refused while the lease is live.
	ok, err = s.AcquireLease(ctx, "mentions", "owner-b", time.Hour)
	if err != nil || ok {
		t.Fatalf("contended acquire: ok=%v err=%v", ok, err)
	}
	// The holder can renew.
	ok, err = s.AcquireLease(ctx, "mentions", "owner-a", time.Hour)
	if err != nil || !ok {
		t.Fatalf("renew: ok=%v err=%v", ok, err)
	}
	// Release by a non-owner is a no-op; the lease stays held.
	if err := s.ReleaseLease(ctx, "mentions", "owner-b"); err != nil {
		t.Fatalf("non-owner release: %v", err)
	}
	ok, _ = s.AcquireLease(ctx, "mentions", "owner-b", time.Hour)
	if ok {
		t.Fatal("lease should survive a non-owner release")
	}
	if err := s.ReleaseLease(ctx, "mentions", "owner-a"); err != nil {
		t.Fatalf("release: %v", err)
	}
	ok, err = s.AcquireLease(ctx, "mentions", "owner-b", time.Hour)
	if err != nil || !ok {
		t.Fatalf("acquire after release: ok=%v err=%v", ok, err)
	}
}

func TestLeaseStaleIsStolen(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()

	// A negative TTL produces an immediately expired lease.
	ok, err := s.AcquireLease(ctx, "mentions", "dead-owner", -time.Second)
	if err != nil || !ok {
		t.Fatalf("expired acquire: ok=%v err=%v", ok, err)
	}
	ok, err = s.AcquireLease(ctx, "mentions", "live-owner", time.Hour)
	if err != nil || !ok {
		t.Fatalf("steal stale lease: ok=%v err=%v", ok, err)
	}
}

func TestLeaseConcurrentFirstAcquire(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()

	// Concurrent first-time acquirers: exactly one wins, the losers get a
	// clean ok=false rather than a constraint error.
	const contenders = 8
	var wg sync.WaitGroup
	var acquired atomic.Int32
	errs := make(chan error, contenders)
	for i := 0; i < contenders; i++ {
		owner := fmt.Sprintf("owner-%d", i)
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := s.AcquireLease(ctx, "mentions", owner, time.Hour)
			if err != nil {
				errs <- err
				return
			}
			if ok {
				acquired.Add(1)
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Errorf("AcquireLease: %v", err)
	}
	if n := acquired.Load(); n != 1 {
		t.Fatalf("acquired = %d, want exactly 1", n)
	}
}

func TestArtifacts(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()

	if _, err := s.GetArtifact(ctx, "epic-9"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("missing artifact: got %v, want ErrNotFound", err)
	}
	raw := "not json at all\nsecond line"
	if err := s.SaveArtifact(ctx, "epic-9", raw); err != nil {
		t.Fatalf("SaveArtifact: %v", err)
	}
	got, err := s.GetArtifact(ctx, "epic-9")
	if err != nil || got != raw {
		t.Fatalf("GetArtifact: got %q err %v", got, err)
	}
	// Overwrite keeps the latest body.
	if err := s.SaveArtifact(ctx, "epic-9", "v2"); err != nil {
		t.Fatal(err)
	}
	got, _ = s.GetArtifact(ctx, "epic-9")
	if got != "v2" {
		t.Fatalf("overwrite: got %q", got)
	}
}
