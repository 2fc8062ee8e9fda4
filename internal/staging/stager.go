// Package staging moves uploaded files from the intake area into the staging
// directory where the rest of the workflow operates on them.
package staging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"avsync/internal/config"
	"avsync/internal/logging"
	"avsync/internal/services"
	"avsync/internal/session"
	"avsync/internal/stage"
)

// Stager claims the uploaded file for a session and relocates it under the
// staging directory with a reference-tagged name.
type Stager struct {
	store  *session.Store
	cfg    *config.Config
	logger *slog.Logger
}

// NewStager constructs the staging stage handler.
func NewStager(cfg *config.Config, store *session.Store, logger *slog.Logger) *Stager {
	stageLogger := logger
	if stageLogger != nil {
		stageLogger = stageLogger.With(logging.String(logging.FieldComponent, "stager"))
	}
	return &Stager{store: store, cfg: cfg, logger: stageLogger}
}

func (s *Stager) Prepare(ctx context.Context, sess *session.Session) error {
	sess.ProgressStage = "Staging"
	sess.ProgressMessage = "Claiming uploaded file"
	sess.ErrorMessage = ""
	return nil
}

func (s *Stager) Execute(ctx context.Context, sess *session.Session) error {
	logger := logging.WithContext(ctx, s.logger)

	source := strings.TrimSpace(sess.UploadPath)
	if source == "" {
		return services.Wrap(services.ErrValidation, "staging", "validate inputs",
			"session has no upload path", nil)
	}
	if _, err := os.Stat(source); err != nil {
		return services.Wrap(services.ErrValidation, "staging", "locate upload",
			fmt.Sprintf("uploaded file missing at %s", source), err)
	}

	if err := os.MkdirAll(s.cfg.Paths.StagingDir, 0o755); err != nil {
		return services.Wrap(services.ErrTransient, "staging", "create staging directory", "", err)
	}

	target := filepath.Join(s.cfg.Paths.StagingDir, fmt.Sprintf("%s_%s", sess.RefTag, filepath.Base(sess.SourceFilename)))
	if err := moveFile(source, target); err != nil {
		return services.Wrap(services.ErrTransient, "staging", "move upload",
			fmt.Sprintf("move %s into staging", filepath.Base(source)), err)
	}

	sess.StagedPath = target
	sess.UploadPath = ""
	sess.ProgressMessage = "File staged"
	logger.Info("upload staged",
		logging.String("staged_path", target),
		logging.String(logging.FieldEventType, "upload_staged"))
	return nil
}

func (s *Stager) HealthCheck(ctx context.Context) stage.Health {
	if strings.TrimSpace(s.cfg.Paths.StagingDir) == "" {
		return stage.Unhealthy("stager", "staging_dir not configured")
	}
	if err := os.MkdirAll(s.cfg.Paths.StagingDir, 0o755); err != nil {
		return stage.Unhealthy("stager", fmt.Sprintf("staging_dir unavailable: %v", err))
	}
	return stage.Healthy("stager")
}

// moveFile renames when possible and falls back to copy-and-remove for
// cross-device moves between the intake and staging filesystems.
func moveFile(source, target string) error {
	if err := os.Rename(source, target); err == nil {
		return nil
	}

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
	if err := out.Close(); err != nil {
		os.Remove(target)
		return err
	}
	return os.Remove(source)
}
