package syncing_test

import (
	"context"
	"errors"
	"testing"

	"avsync/internal/config"
	"avsync/internal/logging"
	"avsync/internal/services"
	"avsync/internal/session"
	"avsync/internal/syncing"
)

func TestPrepareRequiresWorkingCopy(t *testing.T) {
	cfg := config.Default()
	sync := syncing.NewSynchronizerWithEngine(&cfg, logging.NewNop(), nil)

	err := sync.Prepare(context.Background(), &session.Session{RefTag: "abc123ef"})
	if !errors.Is(err, services.ErrValidation) {
		t.Fatalf("err = %v, want validation marker", err)
	}
}

func TestExecuteRunsEngine(t *testing.T) {
	pipeline := &fakePipeline{}
	recorder := &fakeRecorder{}
	engine := newEngine(t, 10, 10, pipeline, &fakeShifter{}, recorder, nil)
	engine.SetAnalyzeFunc(outcomesByPass(reading(5)))

	cfg := config.Default()
	sync := syncing.NewSynchronizerWithEngine(&cfg, logging.NewNop(), engine)

	sess := newSession()
	if err := sync.Prepare(context.Background(), sess); err != nil {
		t.Fatalf("Prepare returned error: %v", err)
	}
	if err := sync.Execute(context.Background(), sess); err != nil {
		t.Fatalf("Execute returned error: %v", err)
	}
	if sess.TerminationReason != session.TerminationConverged {
		t.Fatalf("TerminationReason = %q, want converged", sess.TerminationReason)
	}
}

func TestHealthCheckReportsMissingInterpreter(t *testing.T) {
	cfg := config.Default()
	cfg.Sync.PythonBinary = ""
	sync := syncing.NewSynchronizerWithEngine(&cfg, logging.NewNop(), nil)

	health := sync.HealthCheck(context.Background())
	if health.Ready {
		t.Fatal("expected unhealthy stage")
	}
}
