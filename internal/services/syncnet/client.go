// Package syncnet drives the external SyncNet analysis pipeline. Each
// measurement pass runs two Python modules: the face-tracking pipeline that
// prepares crops for a reference tag, then the scoring model that emits the
// offset report consumed by the analysis package.
package syncnet

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"

	"avsync/internal/config"
	"avsync/internal/logging"
	"avsync/internal/services"
)

const stageName = "analysis"

// Client invokes the SyncNet pipeline and model modules and captures their
// combined output under the report log directory.
type Client struct {
	cfg      *config.Config
	logger   *slog.Logger
	executor services.Executor
}

// New creates a client that executes the configured Python interpreter.
func New(cfg *config.Config, logger *slog.Logger) *Client {
	return NewWithExecutor(cfg, logger, services.CommandExecutor{})
}

// NewWithExecutor creates a client with a custom executor, used by tests to
// substitute canned pipeline output.
func NewWithExecutor(cfg *config.Config, logger *slog.Logger, executor services.Executor) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{cfg: cfg, logger: logger, executor: executor}
}

// RunPipeline executes the face-tracking pipeline for one video under the
// given reference tag. Its output is captured to pipeline_<tag>.log for
// diagnosis; the pipeline produces no readings itself.
func (c *Client) RunPipeline(ctx context.Context, videoFile, refTag string) error {
	args := []string{
		"-m", c.cfg.Sync.PipelineModule,
		"--videofile", videoFile,
		"--reference", refTag,
		"--data_dir", c.cfg.Paths.WorkDir,
	}
	_, err := c.run(ctx, "pipeline", refTag, fmt.Sprintf("pipeline_%s.log", refTag), args)
	return err
}

// RunModel executes the scoring model for a reference tag previously fed
// through RunPipeline. It returns the path of the captured report log, which
// holds the offset and confidence lines the analyzer parses.
func (c *Client) RunModel(ctx context.Context, refTag string) (string, error) {
	args := []string{
		"-m", c.cfg.Sync.ModelModule,
		"--reference", refTag,
		"--data_dir", c.cfg.Paths.WorkDir,
	}
	return c.run(ctx, "model", refTag, fmt.Sprintf("run_%s.log", refTag), args)
}

func (c *Client) run(ctx context.Context, operation, refTag, logName string, args []string) (string, error) {
	logDir := c.cfg.ReportLogDir()
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		return "", services.Wrap(services.ErrTransient, stageName, operation, "create report log directory", err)
	}
	logPath := filepath.Join(logDir, logName)

	logFile, err := os.Create(logPath)
	if err != nil {
		return "", services.Wrap(services.ErrTransient, stageName, operation, "create report log", err)
	}
	defer logFile.Close()

	c.logger.Debug("running analysis module",
		logging.String("operation", operation),
		logging.String("ref_tag", refTag),
		logging.String("log_path", logPath))

	runErr := c.executor.Run(ctx, c.cfg.Sync.PythonBinary, args, func(line string) {
		fmt.Fprintln(logFile, line)
	})
	if runErr != nil {
		return logPath, c.classify(operation, refTag, runErr)
	}
	return logPath, nil
}

// classify maps executor failures onto the service error markers. A missing
// interpreter is a configuration fault and stops the session rather than
// burning iteration budget on passes that can never succeed.
func (c *Client) classify(operation, refTag string, err error) error {
	switch {
	case errors.Is(err, exec.ErrNotFound):
		return services.Wrap(services.ErrConfiguration, stageName, operation,
			fmt.Sprintf("analysis interpreter %q not found", c.cfg.Sync.PythonBinary), err)
	case errors.Is(err, context.DeadlineExceeded):
		return services.Wrap(services.ErrTimeout, stageName, operation,
			fmt.Sprintf("analysis pass %s timed out", refTag), err)
	default:
		return services.Wrap(services.ErrExternalTool, stageName, operation,
			fmt.Sprintf("analysis pass %s failed", refTag), err)
	}
}
