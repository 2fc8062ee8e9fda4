// Package finalizer produces the deliverable file for a synchronized session:
// one consolidated audio shift applied to the pristine staged upload, an
// optional verification pass, and restoration of the original container.
package finalizer

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"avsync/internal/analysis"
	"avsync/internal/config"
	"avsync/internal/logging"
	"avsync/internal/services"
	"avsync/internal/services/ffmpeg"
	"avsync/internal/services/syncnet"
	"avsync/internal/session"
	"avsync/internal/stage"
	"avsync/internal/syncing"
)

// Media is the slice of the ffmpeg client the finalizer needs.
type Media interface {
	ShiftAudio(ctx context.Context, input, output string, deltaMs int64) error
	RestoreContainer(ctx context.Context, input, output, videoCodec, audioCodec string) error
}

// Finalizer builds the corrected output file from the pristine staged copy.
// The per-pass shifts during syncing each re-encode the audio track; applying
// the cumulative shift once to the original avoids stacking those generations
// in the deliverable.
type Finalizer struct {
	cfg      *config.Config
	logger   *slog.Logger
	media    Media
	pipeline syncing.PipelineRunner
	analyze  syncing.AnalyzeFunc
}

// NewFinalizer constructs the finalizing stage with production collaborators.
func NewFinalizer(cfg *config.Config, logger *slog.Logger) *Finalizer {
	return NewFinalizerWithDependencies(cfg, logger, ffmpeg.New(cfg, logger), syncnet.New(cfg, logger), analysis.AnalyzeFile)
}

// NewFinalizerWithDependencies allows injecting collaborators (used in tests).
func NewFinalizerWithDependencies(cfg *config.Config, logger *slog.Logger, media Media, pipeline syncing.PipelineRunner, analyze syncing.AnalyzeFunc) *Finalizer {
	stageLogger := logger
	if stageLogger != nil {
		stageLogger = stageLogger.With(logging.String(logging.FieldComponent, "finalizer"))
	}
	if analyze == nil {
		analyze = analysis.AnalyzeFile
	}
	return &Finalizer{cfg: cfg, logger: stageLogger, media: media, pipeline: pipeline, analyze: analyze}
}

func (f *Finalizer) Prepare(ctx context.Context, sess *session.Session) error {
	if strings.TrimSpace(sess.StagedPath) == "" {
		return services.Wrap(services.ErrValidation, "finalizing", "validate inputs",
			"session has no staged copy", nil)
	}
	sess.ProgressStage = "Finalizing"
	sess.ProgressMessage = "Building corrected output"
	sess.ErrorMessage = ""
	return nil
}

func (f *Finalizer) Execute(ctx context.Context, sess *session.Session) error {
	logger := logging.WithContext(ctx, f.logger)

	if err := os.MkdirAll(f.cfg.Paths.OutputDir, 0o755); err != nil {
		return services.Wrap(services.ErrTransient, "finalizing", "create output directory", "", err)
	}
	finalPath := filepath.Join(f.cfg.Paths.OutputDir, sess.OutputFilename())

	if sess.CumulativeShiftMs == 0 {
		// Already in sync; the original is the deliverable.
		if err := copyFile(sess.StagedPath, finalPath); err != nil {
			return services.Wrap(services.ErrTransient, "finalizing", "copy output",
				"copy in-sync original to output", err)
		}
		sess.FinalPath = finalPath
		sess.ProgressMessage = "Original already in sync"
		logger.Info("output published without correction", logging.String("final_path", finalPath))
		return nil
	}

	timeout := f.cfg.PerStepTimeoutDuration()

	corrected := filepath.Join(f.cfg.Paths.WorkDir, fmt.Sprintf("%s_corrected.avi", sess.RefTag))
	sess.ProgressMessage = fmt.Sprintf("Applying consolidated shift of %dms", sess.CumulativeShiftMs)
	stepCtx, cancel := context.WithTimeout(ctx, timeout)
	err := f.media.ShiftAudio(stepCtx, sess.StagedPath, corrected, sess.CumulativeShiftMs)
	cancel()
	if err != nil {
		return err
	}

	if err := f.verify(ctx, sess, corrected); err != nil {
		return err
	}

	sess.ProgressMessage = "Restoring original container"
	stepCtx, cancel = context.WithTimeout(ctx, timeout)
	err = f.media.RestoreContainer(stepCtx, corrected, finalPath, sess.VideoCodec, sess.AudioCodec)
	cancel()
	if err != nil {
		return err
	}

	sess.FinalPath = finalPath
	sess.ProgressMessage = "Corrected output ready"
	logger.Info("corrected output published",
		logging.String("final_path", finalPath),
		logging.Int64("cumulative_shift_ms", sess.CumulativeShiftMs))
	return nil
}

// verify measures the corrected file once. A confirmed residual outside
// tolerance fails the session; a pass with no reading is tolerated because the
// loop already converged or spent its budget on the working copy.
func (f *Finalizer) verify(ctx context.Context, sess *session.Session, corrected string) error {
	if sess.TerminationReason != session.TerminationConverged {
		// Best-effort outputs are published as-is.
		return nil
	}

	sess.ProgressMessage = "Verifying corrected output"
	passTag := fmt.Sprintf("%s-final", sess.RefTag)
	timeout := f.cfg.PerStepTimeoutDuration()

	stepCtx, cancel := context.WithTimeout(ctx, timeout)
	err := f.pipeline.RunPipeline(stepCtx, corrected, passTag)
	cancel()
	if err != nil {
		return nil
	}

	stepCtx, cancel = context.WithTimeout(ctx, timeout)
	logPath, err := f.pipeline.RunModel(stepCtx, passTag)
	cancel()
	if err != nil {
		return nil
	}

	outcome := f.analyze(logPath, sess.FPS)
	if !outcome.OK {
		return nil
	}
	if abs64(outcome.OffsetMs) > f.cfg.Sync.OffsetToleranceMs {
		return services.Wrap(services.ErrValidation, "finalizing", "verify",
			fmt.Sprintf("corrected output still measures %dms offset", outcome.OffsetMs), nil)
	}
	return nil
}

func (f *Finalizer) HealthCheck(ctx context.Context) stage.Health {
	if strings.TrimSpace(f.cfg.Paths.OutputDir) == "" {
		return stage.Unhealthy("finalizer", "output_dir not configured")
	}
	return stage.Healthy("finalizer")
}

func copyFile(source, target string) error {
	in, err := os.Open(source)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(target)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(target)
		return err
	}
	return out.Close()
}

func abs64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
