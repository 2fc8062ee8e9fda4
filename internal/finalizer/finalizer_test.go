package finalizer_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"avsync/internal/analysis"
	"avsync/internal/config"
	"avsync/internal/finalizer"
	"avsync/internal/logging"
	"avsync/internal/services"
	"avsync/internal/session"
)

type fakeMedia struct {
	shiftDelta      int64
	shiftInput      string
	shiftDeadline   bool
	shiftErr        error
	restoreInput    string
	restoreOutput   string
	restoreDeadline bool
	videoCodec      string
	audioCodec      string
}

func (f *fakeMedia) ShiftAudio(ctx context.Context, input, output string, deltaMs int64) error {
	_, f.shiftDeadline = ctx.Deadline()
	f.shiftInput = input
	f.shiftDelta = deltaMs
	if f.shiftErr != nil {
		return f.shiftErr
	}
	return os.WriteFile(output, []byte("corrected"), 0o644)
}

func (f *fakeMedia) RestoreContainer(ctx context.Context, input, output, videoCodec, audioCodec string) error {
	_, f.restoreDeadline = ctx.Deadline()
	f.restoreInput = input
	f.restoreOutput = output
	f.videoCodec = videoCodec
	f.audioCodec = audioCodec
	return os.WriteFile(output, []byte("restored"), 0o644)
}

type fakePipeline struct {
	pipelineErr error
	modelErr    error
}

func (f *fakePipeline) RunPipeline(context.Context, string, string) error { return f.pipelineErr }

func (f *fakePipeline) RunModel(context.Context, string) (string, error) {
	return "verify-report", f.modelErr
}

func fixedAnalyze(outcome analysis.Outcome) func(string, float64) analysis.Outcome {
	return func(string, float64) analysis.Outcome { return outcome }
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	base := t.TempDir()
	cfg.Paths.WorkDir = filepath.Join(base, "work")
	cfg.Paths.OutputDir = filepath.Join(base, "output")
	if err := os.MkdirAll(cfg.Paths.WorkDir, 0o755); err != nil {
		t.Fatal(err)
	}
	return &cfg
}

func stagedSession(t *testing.T, cfg *config.Config, cumulative int64) *session.Session {
	t.Helper()
	staged := filepath.Join(t.TempDir(), "abc123ef_clip.mp4")
	if err := os.WriteFile(staged, []byte("original"), 0o644); err != nil {
		t.Fatal(err)
	}
	return &session.Session{
		ID:                "sess-1",
		RefTag:            "abc123ef",
		SourceFilename:    "clip.mp4",
		OriginalContainer: "mp4",
		VideoCodec:        "h264",
		AudioCodec:        "aac",
		FPS:               25,
		StagedPath:        staged,
		CumulativeShiftMs: cumulative,
		TerminationReason: session.TerminationConverged,
	}
}

func TestExecuteAppliesConsolidatedShift(t *testing.T) {
	cfg := testConfig(t)
	media := &fakeMedia{}
	fin := finalizer.NewFinalizerWithDependencies(cfg, logging.NewNop(), media, &fakePipeline{},
		fixedAnalyze(analysis.Outcome{OffsetMs: 2, Confidence: 5, OK: true}))

	sess := stagedSession(t, cfg, 139)
	if err := fin.Execute(context.Background(), sess); err != nil {
		t.Fatalf("Execute returned error: %v", err)
	}

	if media.shiftInput != sess.StagedPath {
		t.Fatalf("shift input = %q, want pristine staged copy", media.shiftInput)
	}
	if media.shiftDelta != 139 {
		t.Fatalf("shift delta = %d, want 139", media.shiftDelta)
	}
	if media.videoCodec != "h264" || media.audioCodec != "aac" {
		t.Fatalf("restore codecs = %q/%q", media.videoCodec, media.audioCodec)
	}

	want := filepath.Join(cfg.Paths.OutputDir, "corrected_clip.mp4")
	if sess.FinalPath != want {
		t.Fatalf("FinalPath = %q, want %q", sess.FinalPath, want)
	}
	if _, err := os.Stat(want); err != nil {
		t.Fatalf("output missing: %v", err)
	}
}

func TestExecuteRunsMediaUnderStepDeadline(t *testing.T) {
	cfg := testConfig(t)
	media := &fakeMedia{}
	fin := finalizer.NewFinalizerWithDependencies(cfg, logging.NewNop(), media, &fakePipeline{},
		fixedAnalyze(analysis.Outcome{OffsetMs: 2, Confidence: 5, OK: true}))

	sess := stagedSession(t, cfg, 139)
	if err := fin.Execute(context.Background(), sess); err != nil {
		t.Fatalf("Execute returned error: %v", err)
	}
	if !media.shiftDeadline {
		t.Fatal("consolidated shift ran without a step deadline")
	}
	if !media.restoreDeadline {
		t.Fatal("container restore ran without a step deadline")
	}
}

func TestExecuteZeroShiftShortCircuits(t *testing.T) {
	cfg := testConfig(t)
	media := &fakeMedia{}
	fin := finalizer.NewFinalizerWithDependencies(cfg, logging.NewNop(), media, &fakePipeline{}, nil)

	sess := stagedSession(t, cfg, 0)
	if err := fin.Execute(context.Background(), sess); err != nil {
		t.Fatalf("Execute returned error: %v", err)
	}
	if media.shiftInput != "" {
		t.Fatal("no shift expected for zero cumulative")
	}

	want := filepath.Join(cfg.Paths.OutputDir, "corrected_clip.mp4")
	data, err := os.ReadFile(want)
	if err != nil {
		t.Fatalf("read output: %v", err)
	}
	if string(data) != "original" {
		t.Fatalf("output contents = %q, want original bytes", data)
	}
	if sess.FinalPath != want {
		t.Fatalf("FinalPath = %q, want %q", sess.FinalPath, want)
	}
}

func TestExecuteVerificationRejectsResidual(t *testing.T) {
	cfg := testConfig(t)
	media := &fakeMedia{}
	fin := finalizer.NewFinalizerWithDependencies(cfg, logging.NewNop(), media, &fakePipeline{},
		fixedAnalyze(analysis.Outcome{OffsetMs: 80, Confidence: 5, OK: true}))

	sess := stagedSession(t, cfg, 139)
	err := fin.Execute(context.Background(), sess)
	if !errors.Is(err, services.ErrValidation) {
		t.Fatalf("err = %v, want validation marker", err)
	}
	if sess.FinalPath != "" {
		t.Fatalf("FinalPath = %q, want empty for failed verification", sess.FinalPath)
	}
}

func TestExecuteVerificationToleratesNoReading(t *testing.T) {
	cfg := testConfig(t)
	media := &fakeMedia{}
	fin := finalizer.NewFinalizerWithDependencies(cfg, logging.NewNop(), media, &fakePipeline{},
		fixedAnalyze(analysis.Outcome{}))

	sess := stagedSession(t, cfg, 139)
	if err := fin.Execute(context.Background(), sess); err != nil {
		t.Fatalf("Execute returned error: %v", err)
	}
	if sess.FinalPath == "" {
		t.Fatal("expected output despite missing verification reading")
	}
}

func TestExecuteSkipsVerificationForBestEffort(t *testing.T) {
	cfg := testConfig(t)
	media := &fakeMedia{}
	// Analyzer would reject, but budget-exhausted sessions publish as-is.
	fin := finalizer.NewFinalizerWithDependencies(cfg, logging.NewNop(), media, &fakePipeline{},
		fixedAnalyze(analysis.Outcome{OffsetMs: 500, Confidence: 5, OK: true}))

	sess := stagedSession(t, cfg, 40)
	sess.TerminationReason = session.TerminationBudgetExhausted
	if err := fin.Execute(context.Background(), sess); err != nil {
		t.Fatalf("Execute returned error: %v", err)
	}
	if sess.FinalPath == "" {
		t.Fatal("expected best-effort output")
	}
}

func TestExecuteShiftFailurePropagates(t *testing.T) {
	cfg := testConfig(t)
	shiftErr := services.Wrap(services.ErrExternalTool, "shift", "apply", "shift by 139ms", errors.New("boom"))
	media := &fakeMedia{shiftErr: shiftErr}
	fin := finalizer.NewFinalizerWithDependencies(cfg, logging.NewNop(), media, &fakePipeline{}, nil)

	sess := stagedSession(t, cfg, 139)
	if err := fin.Execute(context.Background(), sess); !errors.Is(err, services.ErrExternalTool) {
		t.Fatalf("err = %v, want external tool marker", err)
	}
}
