// Package preparation inspects staged uploads and produces the working copy
// the synchronization loop operates on.
package preparation

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"avsync/internal/config"
	"avsync/internal/logging"
	"avsync/internal/media/ffprobe"
	"avsync/internal/services"
	"avsync/internal/services/ffmpeg"
	"avsync/internal/session"
	"avsync/internal/stage"
)

// workingContainer is the extension of the container the analysis pipeline
// consumes.
const workingContainer = "avi"

// Prober abstracts media inspection for tests.
type Prober func(ctx context.Context, binary, path string) (ffprobe.Result, error)

// Encoder abstracts the working-container conversion for tests.
type Encoder interface {
	EncodeToWorking(ctx context.Context, input, output string) error
}

// Preparer probes the staged file, records its codecs and frame rate, and
// converts it into the working container when the original is not already one.
type Preparer struct {
	store   *session.Store
	cfg     *config.Config
	logger  *slog.Logger
	probe   Prober
	encoder Encoder
}

// NewPreparer constructs the preparation stage handler with production
// collaborators.
func NewPreparer(cfg *config.Config, store *session.Store, logger *slog.Logger) *Preparer {
	return NewPreparerWithDependencies(cfg, store, logger, ffprobe.Inspect, ffmpeg.New(cfg, logger))
}

// NewPreparerWithDependencies allows injecting collaborators (used in tests).
func NewPreparerWithDependencies(cfg *config.Config, store *session.Store, logger *slog.Logger, probe Prober, encoder Encoder) *Preparer {
	stageLogger := logger
	if stageLogger != nil {
		stageLogger = stageLogger.With(logging.String(logging.FieldComponent, "preparer"))
	}
	return &Preparer{store: store, cfg: cfg, logger: stageLogger, probe: probe, encoder: encoder}
}

func (p *Preparer) Prepare(ctx context.Context, sess *session.Session) error {
	sess.ProgressStage = "Preparing"
	sess.ProgressMessage = "Inspecting media"
	sess.ErrorMessage = ""
	return nil
}

func (p *Preparer) Execute(ctx context.Context, sess *session.Session) error {
	logger := logging.WithContext(ctx, p.logger)

	staged := strings.TrimSpace(sess.StagedPath)
	if staged == "" {
		return services.Wrap(services.ErrValidation, "preparing", "validate inputs",
			"session has no staged file", nil)
	}

	stepCtx, cancel := context.WithTimeout(ctx, p.cfg.PerStepTimeoutDuration())
	result, err := p.probe(stepCtx, p.cfg.FFprobeBinary(), staged)
	cancel()
	if err != nil {
		return services.Wrap(services.ErrExternalTool, "preparing", "probe",
			"inspect staged file", err)
	}

	video, hasVideo := result.VideoStream()
	audio, hasAudio := result.AudioStream()
	if !hasVideo {
		return services.Wrap(services.ErrValidation, "preparing", "probe",
			"uploaded file has no video stream", nil)
	}
	if !hasAudio {
		return services.Wrap(services.ErrValidation, "preparing", "probe",
			"uploaded file has no audio stream", nil)
	}

	sess.VideoCodec = video.CodecName
	sess.AudioCodec = audio.CodecName
	sess.FPS = result.FrameRate()
	if sess.FPS <= 0 {
		return services.Wrap(services.ErrValidation, "preparing", "probe",
			"could not determine video frame rate", nil)
	}

	logger.Info("media inspected",
		logging.String("video_codec", sess.VideoCodec),
		logging.String("audio_codec", sess.AudioCodec),
		logging.Float64("fps", sess.FPS))

	if sess.OriginalContainer == workingContainer {
		// Already in the container the pipeline consumes.
		sess.WorkingPath = staged
		sess.ProgressMessage = "Media ready"
		return nil
	}

	if err := os.MkdirAll(p.cfg.Paths.WorkDir, 0o755); err != nil {
		return services.Wrap(services.ErrTransient, "preparing", "create work directory", "", err)
	}
	working := filepath.Join(p.cfg.Paths.WorkDir, fmt.Sprintf("%s_working.%s", sess.RefTag, workingContainer))
	sess.ProgressMessage = "Converting to working container"
	stepCtx, cancel = context.WithTimeout(ctx, p.cfg.PerStepTimeoutDuration())
	err = p.encoder.EncodeToWorking(stepCtx, staged, working)
	cancel()
	if err != nil {
		return err
	}
	sess.WorkingPath = working
	sess.ProgressMessage = "Media ready"
	logger.Info("working copy created", logging.String("working_path", working))
	return nil
}

func (p *Preparer) HealthCheck(ctx context.Context) stage.Health {
	if strings.TrimSpace(p.cfg.Paths.WorkDir) == "" {
		return stage.Unhealthy("preparer", "work_dir not configured")
	}
	return stage.Healthy("preparer")
}
