// Package ffmpeg wraps the ffmpeg invocations the sync workflow needs: audio
// shifting, conversion into the analysis working container, and restoration of
// the original container at finalization.
package ffmpeg

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"avsync/internal/config"
	"avsync/internal/logging"
	"avsync/internal/services"
)

// ErrShiftFailed marks a shift invocation that ran but produced no usable
// output. Unlike a missing reading it is fatal to the session.
var ErrShiftFailed = errors.New("audio shift failed")

// Client executes ffmpeg commands through an injectable executor.
type Client struct {
	cfg      *config.Config
	logger   *slog.Logger
	executor services.Executor
}

// New creates a client backed by the real ffmpeg binary.
func New(cfg *config.Config, logger *slog.Logger) *Client {
	return NewWithExecutor(cfg, logger, services.CommandExecutor{})
}

// NewWithExecutor creates a client with a custom executor for tests.
func NewWithExecutor(cfg *config.Config, logger *slog.Logger, executor services.Executor) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{cfg: cfg, logger: logger, executor: executor}
}

// ShiftAudio writes a copy of input with its audio track moved by deltaMs
// milliseconds. Positive deltas delay the audio (audio was leading the
// video); negative deltas trim the leading audio. Video is stream-copied and
// audio re-encoded as PCM so repeated shifts do not accumulate lossy
// generations inside the working container.
func (c *Client) ShiftAudio(ctx context.Context, input, output string, deltaMs int64) error {
	if deltaMs == 0 {
		return services.Wrap(ErrShiftFailed, "shift", "plan", "zero shift requested", nil)
	}

	var filter string
	if deltaMs > 0 {
		filter = fmt.Sprintf("adelay=%d:all=1", deltaMs)
	} else {
		filter = fmt.Sprintf("atrim=start=%s,asetpts=PTS-STARTPTS", formatSeconds(-deltaMs))
	}

	args := []string{
		"-y", "-nostdin", "-hide_banner", "-loglevel", "error",
		"-i", input,
		"-af", filter,
		"-c:v", "copy",
		"-c:a", "pcm_s16le",
		output,
	}
	if err := c.run(ctx, "shift", args); err != nil {
		return services.Wrap(ErrShiftFailed, "shift", "apply", fmt.Sprintf("shift by %dms", deltaMs), err)
	}
	if err := verifyOutput(output); err != nil {
		return services.Wrap(ErrShiftFailed, "shift", "verify", fmt.Sprintf("shift by %dms", deltaMs), err)
	}
	return nil
}

// EncodeToWorking transcodes input into the AVI working container the
// analysis pipeline expects: MPEG-4 video with 16-bit PCM audio.
func (c *Client) EncodeToWorking(ctx context.Context, input, output string) error {
	args := []string{
		"-y", "-nostdin", "-hide_banner", "-loglevel", "error",
		"-i", input,
		"-c:v", "mpeg4",
		"-qscale:v", "2",
		"-c:a", "pcm_s16le",
		output,
	}
	if err := c.run(ctx, "prepare", args); err != nil {
		return services.Wrap(services.ErrExternalTool, "prepare", "encode", "convert to working container", err)
	}
	if err := verifyOutput(output); err != nil {
		return services.Wrap(services.ErrExternalTool, "prepare", "verify", "convert to working container", err)
	}
	return nil
}

// RestoreContainer re-wraps the corrected working file into the session's
// original container, re-encoding with the original codecs when they are
// known and stream-copying otherwise.
func (c *Client) RestoreContainer(ctx context.Context, input, output, videoCodec, audioCodec string) error {
	args := []string{
		"-y", "-nostdin", "-hide_banner", "-loglevel", "error",
		"-i", input,
	}
	if videoCodec = strings.TrimSpace(videoCodec); videoCodec != "" {
		args = append(args, "-c:v", videoCodec)
	} else {
		args = append(args, "-c:v", "copy")
	}
	if audioCodec = strings.TrimSpace(audioCodec); audioCodec != "" {
		args = append(args, "-c:a", audioCodec)
	} else {
		args = append(args, "-c:a", "copy")
	}
	args = append(args, output)

	if err := c.run(ctx, "finalize", args); err != nil {
		return services.Wrap(services.ErrExternalTool, "finalize", "restore", "restore original container", err)
	}
	if err := verifyOutput(output); err != nil {
		return services.Wrap(services.ErrExternalTool, "finalize", "verify", "restore original container", err)
	}
	return nil
}

func (c *Client) run(ctx context.Context, operation string, args []string) error {
	binary := c.cfg.FFmpegBinary()
	c.logger.Debug("running ffmpeg",
		logging.String("operation", operation),
		logging.String("args", strings.Join(args, " ")))

	var tail []string
	err := c.executor.Run(ctx, binary, args, func(line string) {
		// Keep the last few stderr lines for the error message.
		tail = append(tail, line)
		if len(tail) > 5 {
			tail = tail[1:]
		}
	})
	if err != nil {
		if len(tail) > 0 {
			return fmt.Errorf("%w: %s", err, strings.Join(tail, "; "))
		}
		return err
	}
	return nil
}

func verifyOutput(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("output missing: %w", err)
	}
	if info.Size() == 0 {
		return fmt.Errorf("output %s is empty", path)
	}
	return nil
}

// formatSeconds renders a millisecond count as a decimal seconds value for
// ffmpeg filter arguments, e.g. 1250 -> "1.250".
func formatSeconds(ms int64) string {
	return fmt.Sprintf("%d.%03d", ms/1000, ms%1000)
}
