package workflow_test

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"avsync/internal/config"
	"avsync/internal/events"
	"avsync/internal/logging"
	"avsync/internal/services"
	"avsync/internal/session"
	"avsync/internal/stage"
	"avsync/internal/workflow"
)

type scriptedHandler struct {
	name    string
	prepare func(*session.Session) error
	execute func(*session.Session) error
}

func (h *scriptedHandler) Prepare(_ context.Context, sess *session.Session) error {
	if h.prepare != nil {
		return h.prepare(sess)
	}
	return nil
}

func (h *scriptedHandler) Execute(_ context.Context, sess *session.Session) error {
	if h.execute != nil {
		return h.execute(sess)
	}
	return nil
}

func (h *scriptedHandler) HealthCheck(context.Context) stage.Health {
	return stage.Healthy(h.name)
}

type recordingNotifier struct {
	syncStarted int
	completed   int
	budget      int
	failed      int
	reason      string
}

func (r *recordingNotifier) NotifySessionReceived(context.Context, string) error { return nil }

func (r *recordingNotifier) NotifySyncStarted(context.Context, string) error {
	r.syncStarted++
	return nil
}

func (r *recordingNotifier) NotifySessionCompleted(context.Context, string, int64, int) error {
	r.completed++
	return nil
}

func (r *recordingNotifier) NotifyBudgetExhausted(context.Context, string, int) error {
	r.budget++
	return nil
}

func (r *recordingNotifier) NotifySessionFailed(_ context.Context, _ string, reason string) error {
	r.failed++
	r.reason = reason
	return nil
}

func (r *recordingNotifier) TestNotification(context.Context) error { return nil }

func testManager(t *testing.T, set workflow.StageSet, notifier *recordingNotifier) (*workflow.Manager, *session.Store, *events.Bus) {
	t.Helper()
	cfg := config.Default()
	base := t.TempDir()
	cfg.Paths.StagingDir = filepath.Join(base, "staging")
	cfg.Paths.WorkDir = filepath.Join(base, "work")
	cfg.Paths.OutputDir = filepath.Join(base, "output")
	cfg.Paths.LogDir = filepath.Join(base, "logs")
	cfg.Workflow.PollInterval = 1
	cfg.Workflow.ErrorRetryInterval = 1
	cfg.Workflow.MaxConcurrent = 2

	store, err := session.OpenPath(filepath.Join(base, "sessions.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	bus := events.NewBus(64)
	manager := workflow.NewManagerWithNotifier(&cfg, store, logging.NewNop(), bus, notifier)
	manager.ConfigureStages(set)
	return manager, store, bus
}

func passthroughStages() workflow.StageSet {
	return workflow.StageSet{
		Stager:       &scriptedHandler{name: "stager"},
		Preparer:     &scriptedHandler{name: "preparer"},
		Synchronizer: &scriptedHandler{name: "synchronizer"},
		Finalizer:    &scriptedHandler{name: "finalizer"},
	}
}

func waitForStatus(t *testing.T, store *session.Store, id string, want session.Status) *session.Session {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		sess, err := store.GetByID(context.Background(), id)
		if err != nil {
			t.Fatalf("get session: %v", err)
		}
		if sess.Status == want {
			return sess
		}
		time.Sleep(20 * time.Millisecond)
	}
	sess, _ := store.GetByID(context.Background(), id)
	t.Fatalf("session never reached %s, last status %s", want, sess.Status)
	return nil
}

func TestManagerDrivesSessionToCompletion(t *testing.T) {
	notifier := &recordingNotifier{}
	set := passthroughStages()
	set.Synchronizer = &scriptedHandler{name: "synchronizer", execute: func(sess *session.Session) error {
		sess.CumulativeShiftMs = 139
		sess.TerminationReason = session.TerminationConverged
		return nil
	}}
	set.Finalizer = &scriptedHandler{name: "finalizer", execute: func(sess *session.Session) error {
		sess.FinalPath = "/output/corrected_clip.mp4"
		return nil
	}}

	manager, store, _ := testManager(t, set, notifier)

	sess, err := store.NewSession(context.Background(), "clip.mp4", "/uploads/tmp-1")
	if err != nil {
		t.Fatalf("new session: %v", err)
	}

	if err := manager.Start(context.Background()); err != nil {
		t.Fatalf("start manager: %v", err)
	}
	defer manager.Stop()

	final := waitForStatus(t, store, sess.ID, session.StatusCompleted)
	if final.CumulativeShiftMs != 139 {
		t.Fatalf("CumulativeShiftMs = %d, want 139", final.CumulativeShiftMs)
	}
	if final.TerminationReason != session.TerminationConverged {
		t.Fatalf("TerminationReason = %q, want converged", final.TerminationReason)
	}
	if final.FinalPath == "" {
		t.Fatal("expected final path")
	}

	manager.Stop()
	if notifier.syncStarted != 1 {
		t.Fatalf("sync started notifications = %d, want 1", notifier.syncStarted)
	}
	if notifier.completed != 1 {
		t.Fatalf("completed notifications = %d, want 1", notifier.completed)
	}
}

func TestManagerMarksFailureAndStripsOutput(t *testing.T) {
	notifier := &recordingNotifier{}
	set := passthroughStages()
	set.Synchronizer = &scriptedHandler{name: "synchronizer", execute: func(sess *session.Session) error {
		sess.CumulativeShiftMs = 50
		return services.Wrap(services.ErrExternalTool, "syncing", "shift", "shift by 30ms failed", errors.New("exit status 1"))
	}}

	manager, store, _ := testManager(t, set, notifier)

	sess, err := store.NewSession(context.Background(), "clip.mp4", "/uploads/tmp-1")
	if err != nil {
		t.Fatalf("new session: %v", err)
	}

	if err := manager.Start(context.Background()); err != nil {
		t.Fatalf("start manager: %v", err)
	}
	defer manager.Stop()

	final := waitForStatus(t, store, sess.ID, session.StatusFailed)
	if final.FailingStage != "syncing" {
		t.Fatalf("FailingStage = %q, want syncing", final.FailingStage)
	}
	if final.ErrorMessage == "" {
		t.Fatal("expected error message")
	}
	if final.FinalPath != "" {
		t.Fatalf("FinalPath = %q, want empty for failed session", final.FinalPath)
	}
	if final.CumulativeShiftMs != 50 {
		t.Fatalf("CumulativeShiftMs = %d, want 50 preserved for audit", final.CumulativeShiftMs)
	}

	manager.Stop()
	if notifier.failed != 1 {
		t.Fatalf("failure notifications = %d, want 1", notifier.failed)
	}
}

func TestManagerFailsSessionsStrandedByRestart(t *testing.T) {
	notifier := &recordingNotifier{}
	manager, store, _ := testManager(t, passthroughStages(), notifier)

	sess, err := store.NewSession(context.Background(), "clip.mp4", "/uploads/tmp-1")
	if err != nil {
		t.Fatalf("new session: %v", err)
	}
	// Simulate a daemon crash mid-stage: a forward-only state machine never
	// revisits syncing, so no worker would ever pick this session up again.
	sess.Status = session.StatusSyncing
	if err := store.Update(context.Background(), sess); err != nil {
		t.Fatalf("update session: %v", err)
	}

	if err := manager.Start(context.Background()); err != nil {
		t.Fatalf("start manager: %v", err)
	}
	defer manager.Stop()

	final := waitForStatus(t, store, sess.ID, session.StatusFailed)
	if final.FailingStage != "syncing" {
		t.Fatalf("FailingStage = %q, want syncing", final.FailingStage)
	}
	if !strings.Contains(final.ErrorMessage, "interrupted") {
		t.Fatalf("ErrorMessage = %q, want mention of the interruption", final.ErrorMessage)
	}
	if final.FinalPath != "" {
		t.Fatalf("FinalPath = %q, want empty for failed session", final.FinalPath)
	}

	manager.Stop()
	if notifier.failed != 1 {
		t.Fatalf("failure notifications = %d, want 1", notifier.failed)
	}
}

func TestManagerPublishesLifecycleEvents(t *testing.T) {
	manager, store, bus := testManager(t, passthroughStages(), &recordingNotifier{})

	sess, err := store.NewSession(context.Background(), "clip.mp4", "/uploads/tmp-1")
	if err != nil {
		t.Fatalf("new session: %v", err)
	}
	ch, cancel := bus.Subscribe(sess.ID)
	defer cancel()

	if err := manager.Start(context.Background()); err != nil {
		t.Fatalf("start manager: %v", err)
	}
	defer manager.Stop()

	waitForStatus(t, store, sess.ID, session.StatusCompleted)
	manager.Stop()

	var sawSucceeded bool
	var lastSeq uint64
	drained := false
	for !drained {
		select {
		case evt := <-ch:
			if evt.Sequence <= lastSeq {
				t.Fatalf("sequence regressed: %d after %d", evt.Sequence, lastSeq)
			}
			lastSeq = evt.Sequence
			if evt.Type == events.TypeSucceeded {
				sawSucceeded = true
			}
		default:
			drained = true
		}
	}
	if !sawSucceeded {
		t.Fatal("expected a succeeded event")
	}
}

func TestManagerStartRequiresStages(t *testing.T) {
	cfg := config.Default()
	base := t.TempDir()
	cfg.Paths.LogDir = filepath.Join(base, "logs")
	store, err := session.OpenPath(filepath.Join(base, "sessions.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer store.Close()

	manager := workflow.NewManagerWithNotifier(&cfg, store, logging.NewNop(), nil, &recordingNotifier{})
	if err := manager.Start(context.Background()); err == nil {
		manager.Stop()
		t.Fatal("expected error without configured stages")
	}
}
