package session_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"avsync/internal/session"
)

func openStore(t *testing.T) *session.Store {
	t.Helper()
	store, err := session.OpenPath(filepath.Join(t.TempDir(), "sessions.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestNewSessionDefaults(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()

	sess, err := store.NewSession(ctx, "holiday.mp4", "/tmp/upload-1")
	if err != nil {
		t.Fatalf("new session: %v", err)
	}
	if sess.Status != session.StatusReceived {
		t.Fatalf("expected received status, got %s", sess.Status)
	}
	if sess.OriginalContainer != "mp4" {
		t.Fatalf("expected container mp4, got %q", sess.OriginalContainer)
	}
	if len(sess.RefTag) != 8 {
		t.Fatalf("expected 8-char ref tag, got %q", sess.RefTag)
	}
	if sess.CumulativeShiftMs != 0 {
		t.Fatalf("expected zero cumulative shift, got %d", sess.CumulativeShiftMs)
	}
}

func TestGetByIDMissing(t *testing.T) {
	store := openStore(t)
	if _, err := store.GetByID(context.Background(), "nope"); !errors.Is(err, session.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestUpdateRoundTrip(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()

	sess, err := store.NewSession(ctx, "clip.avi", "/tmp/upload-2")
	if err != nil {
		t.Fatal(err)
	}
	sess.Status = session.StatusStaging
	sess.WorkingPath = "/work/clip.avi"
	sess.CumulativeShiftMs = 120
	sess.FPS = 25
	if err := store.Update(ctx, sess); err != nil {
		t.Fatalf("update: %v", err)
	}

	loaded, err := store.GetByID(ctx, sess.ID)
	if err != nil {
		t.Fatal(err)
	}
	if loaded.Status != session.StatusStaging || loaded.WorkingPath != "/work/clip.avi" || loaded.CumulativeShiftMs != 120 {
		t.Fatalf("round trip mismatch: %+v", loaded)
	}
	if loaded.FPS != 25 {
		t.Fatalf("expected fps 25, got %v", loaded.FPS)
	}
}

func TestUpdateRefusedOnTerminalSession(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()

	sess, err := store.NewSession(ctx, "clip.mkv", "/tmp/upload-3")
	if err != nil {
		t.Fatal(err)
	}
	sess.Status = session.StatusFailed
	sess.FailingStage = "staging"
	if err := store.Update(ctx, sess); err != nil {
		t.Fatalf("fail session: %v", err)
	}

	sess.Status = session.StatusCompleted
	err = store.Update(ctx, sess)
	if !errors.Is(err, session.ErrTerminal) {
		t.Fatalf("expected ErrTerminal, got %v", err)
	}
}

func TestNextForStatusesOrdersByAge(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()

	first, err := store.NewSession(ctx, "a.mp4", "")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := store.NewSession(ctx, "b.mp4", ""); err != nil {
		t.Fatal(err)
	}

	next, err := store.NextForStatuses(ctx, session.StatusReceived)
	if err != nil {
		t.Fatal(err)
	}
	if next == nil || next.ID != first.ID {
		t.Fatalf("expected oldest session %s, got %+v", first.ID, next)
	}

	none, err := store.NextForStatuses(ctx, session.StatusSynced)
	if err != nil {
		t.Fatal(err)
	}
	if none != nil {
		t.Fatalf("expected no synced sessions, got %+v", none)
	}
}

func TestIterationAuditTrail(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()

	sess, err := store.NewSession(ctx, "c.mp4", "")
	if err != nil {
		t.Fatal(err)
	}

	offset := int64(120)
	entries := []session.IterationResult{
		{Index: 0, OffsetMs: &offset, Confidence: 9.1, AppliedShiftMs: 120},
		{Index: 1, AppliedShiftMs: 0},
	}
	for _, entry := range entries {
		if err := store.AppendIteration(ctx, sess.ID, entry); err != nil {
			t.Fatalf("append iteration %d: %v", entry.Index, err)
		}
	}

	// Rewriting an existing index must be rejected: the trail is append-only.
	if err := store.AppendIteration(ctx, sess.ID, session.IterationResult{Index: 0}); err == nil {
		t.Fatal("expected duplicate index to be rejected")
	}
	// So must an index that skips ahead of the trail.
	if err := store.AppendIteration(ctx, sess.ID, session.IterationResult{Index: 5}); err == nil {
		t.Fatal("expected gapped index to be rejected")
	}

	results, err := store.Iterations(ctx, sess.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 iterations, got %d", len(results))
	}
	for i, result := range results {
		if result.Index != i {
			t.Fatalf("iteration %d has index %d", i, result.Index)
		}
	}
	if !results[0].HasReading() || *results[0].OffsetMs != 120 {
		t.Fatalf("expected first pass reading 120, got %+v", results[0])
	}
	if results[1].HasReading() {
		t.Fatalf("expected second pass without reading, got %+v", results[1])
	}
}

func TestHealthAggregates(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()

	a, _ := store.NewSession(ctx, "a.mp4", "")
	b, _ := store.NewSession(ctx, "b.mp4", "")
	if _, err := store.NewSession(ctx, "c.mp4", ""); err != nil {
		t.Fatal(err)
	}

	a.Status = session.StatusSyncing
	if err := store.Update(ctx, a); err != nil {
		t.Fatal(err)
	}
	b.Status = session.StatusFailed
	if err := store.Update(ctx, b); err != nil {
		t.Fatal(err)
	}

	summary, err := store.Health(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if summary.Total != 3 || summary.Processing != 1 || summary.Failed != 1 || summary.Waiting != 1 {
		t.Fatalf("unexpected summary %+v", summary)
	}
}
