package syncing

import (
	"context"
	"log/slog"
	"strings"

	"avsync/internal/config"
	"avsync/internal/events"
	"avsync/internal/logging"
	"avsync/internal/services"
	"avsync/internal/services/ffmpeg"
	"avsync/internal/services/syncnet"
	"avsync/internal/session"
	"avsync/internal/stage"
)

// Synchronizer adapts the correction engine to the stage contract.
type Synchronizer struct {
	cfg    *config.Config
	logger *slog.Logger
	engine *Engine
}

// NewSynchronizer constructs the syncing stage with production collaborators.
func NewSynchronizer(cfg *config.Config, store *session.Store, logger *slog.Logger, bus *events.Bus) *Synchronizer {
	engine := NewEngine(cfg, logger, syncnet.New(cfg, logger), ffmpeg.New(cfg, logger), store, bus)
	return NewSynchronizerWithEngine(cfg, logger, engine)
}

// NewSynchronizerWithEngine allows injecting a prebuilt engine (used in tests).
func NewSynchronizerWithEngine(cfg *config.Config, logger *slog.Logger, engine *Engine) *Synchronizer {
	stageLogger := logger
	if stageLogger != nil {
		stageLogger = stageLogger.With(logging.String(logging.FieldComponent, "synchronizer"))
	}
	return &Synchronizer{cfg: cfg, logger: stageLogger, engine: engine}
}

func (s *Synchronizer) Prepare(ctx context.Context, sess *session.Session) error {
	if strings.TrimSpace(sess.WorkingPath) == "" {
		return services.Wrap(services.ErrValidation, "syncing", "validate inputs",
			"session has no working copy; preparation must run first", nil)
	}
	sess.ProgressStage = "Synchronizing"
	sess.ProgressMessage = "Starting correction loop"
	sess.ErrorMessage = ""
	return nil
}

func (s *Synchronizer) Execute(ctx context.Context, sess *session.Session) error {
	logger := logging.WithContext(ctx, s.logger)

	result, err := s.engine.Run(ctx, sess)
	if err != nil {
		return err
	}

	switch result.Reason {
	case session.TerminationConverged:
		sess.ProgressMessage = "Offset within tolerance"
	case session.TerminationBudgetExhausted:
		sess.ProgressMessage = "Iteration budget exhausted; keeping best effort"
	}
	logger.Info("correction loop finished",
		logging.String("reason", string(result.Reason)),
		logging.Int("passes", result.Passes),
		logging.Int64("cumulative_shift_ms", sess.CumulativeShiftMs))
	return nil
}

func (s *Synchronizer) HealthCheck(ctx context.Context) stage.Health {
	if strings.TrimSpace(s.cfg.Sync.PythonBinary) == "" {
		return stage.Unhealthy("synchronizer", "python_binary not configured")
	}
	if s.cfg.Sync.MaxIterations < 1 {
		return stage.Unhealthy("synchronizer", "max_iterations must be at least 1")
	}
	return stage.Healthy("synchronizer")
}
