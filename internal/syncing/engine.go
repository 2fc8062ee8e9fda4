// Package syncing implements the iterative correction loop: measure the
// audio/video offset, shift the audio by the measurement, and repeat until the
// residual falls within tolerance or the iteration budget runs out.
package syncing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"avsync/internal/analysis"
	"avsync/internal/config"
	"avsync/internal/events"
	"avsync/internal/logging"
	"avsync/internal/services"
	"avsync/internal/session"
)

// PipelineRunner is the slice of the SyncNet client the engine needs.
type PipelineRunner interface {
	RunPipeline(ctx context.Context, videoFile, refTag string) error
	RunModel(ctx context.Context, refTag string) (string, error)
}

// Shifter is the slice of the ffmpeg client the engine needs.
type Shifter interface {
	ShiftAudio(ctx context.Context, input, output string, deltaMs int64) error
}

// Recorder persists per-pass progress. *session.Store satisfies it.
type Recorder interface {
	Update(ctx context.Context, sess *session.Session) error
	AppendIteration(ctx context.Context, sessionID string, result session.IterationResult) error
}

// AnalyzeFunc reduces a captured report to an outcome.
type AnalyzeFunc func(path string, fps float64) analysis.Outcome

// Result reports how the correction loop ended for a session that did not
// fail outright.
type Result struct {
	Reason session.TerminationReason
	Passes int
}

// Engine drives the measure/shift loop for one session at a time.
type Engine struct {
	cfg      *config.Config
	logger   *slog.Logger
	pipeline PipelineRunner
	shifter  Shifter
	recorder Recorder
	bus      *events.Bus
	analyze  AnalyzeFunc
}

// NewEngine constructs the correction loop with injectable collaborators.
func NewEngine(cfg *config.Config, logger *slog.Logger, pipeline PipelineRunner, shifter Shifter, recorder Recorder, bus *events.Bus) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		cfg:      cfg,
		logger:   logger.With(logging.String(logging.FieldComponent, "sync-engine")),
		pipeline: pipeline,
		shifter:  shifter,
		recorder: recorder,
		bus:      bus,
		analyze:  analysis.AnalyzeFile,
	}
}

// SetAnalyzeFunc overrides report reduction, used by tests.
func (e *Engine) SetAnalyzeFunc(fn AnalyzeFunc) {
	if fn != nil {
		e.analyze = fn
	}
}

// Run executes correction passes against the session's working copy until
// convergence or budget exhaustion. Every pass appends an iteration record,
// including passes where the analyzer produced no reading; those passes still
// consume budget. Once a shift has landed, a pass whose measurement falls
// within tolerance is applied before the loop ends, so the residual it
// measured is corrected too. If the tolerance is met before any shift was
// applied the material is already in sync and the loop converges without
// touching the audio.
//
// Run returns an error only for fatal conditions: an unexecutable analysis
// tool, a failed shift, or context cancellation. Budget exhaustion is a
// successful termination; the partial correction proceeds to finalization.
func (e *Engine) Run(ctx context.Context, sess *session.Session) (Result, error) {
	loop := session.ConvergenceConfig{
		MaxIterations:     e.cfg.Sync.MaxIterations,
		OffsetToleranceMs: e.cfg.Sync.OffsetToleranceMs,
		PerStepTimeout:    e.cfg.PerStepTimeoutDuration(),
	}
	logger := logging.WithContext(ctx, e.logger)

	shiftApplied := false
	for pass := 1; pass <= loop.MaxIterations; pass++ {
		if err := ctx.Err(); err != nil {
			return Result{}, services.Wrap(services.ErrTransient, "syncing", "loop", "synchronization interrupted", err)
		}

		passTag := fmt.Sprintf("%s-%03d", sess.RefTag, pass)
		sess.ProgressMessage = fmt.Sprintf("Measuring offset (pass %d of %d)", pass, loop.MaxIterations)
		if err := e.recorder.Update(ctx, sess); err != nil {
			return Result{}, services.Wrap(services.ErrTransient, "syncing", "persist progress", "", err)
		}

		outcome, fatal := e.measure(ctx, sess, passTag, loop.PerStepTimeout)
		if fatal != nil {
			sess.TerminationReason = session.TerminationAnalysisUnavailable
			return Result{}, fatal
		}

		if !outcome.OK {
			logger.Warn("analysis produced no reading",
				logging.Int("pass", pass),
				logging.String("ref_tag", passTag))
			if e.bus != nil {
				e.bus.Publish(events.Event{
					SessionID: sess.ID,
					Type:      events.TypeDiagnostic,
					Status:    string(sess.Status),
					Stage:     "syncing",
					Message:   fmt.Sprintf("Analysis produced no usable reading on pass %d", pass),
				})
			}
			if err := e.record(ctx, sess, session.IterationResult{Index: pass - 1}); err != nil {
				return Result{}, err
			}
			continue
		}

		inTolerance := abs64(outcome.OffsetMs) <= loop.OffsetToleranceMs

		applied := int64(0)
		if outcome.OffsetMs != 0 && (shiftApplied || !inTolerance) {
			shifted := filepath.Join(e.cfg.Paths.WorkDir, fmt.Sprintf("%s_shifted.avi", passTag))
			sess.ProgressMessage = fmt.Sprintf("Shifting audio %dms (pass %d)", outcome.OffsetMs, pass)
			stepCtx, cancel := context.WithTimeout(ctx, loop.PerStepTimeout)
			err := e.shifter.ShiftAudio(stepCtx, sess.WorkingPath, shifted, outcome.OffsetMs)
			cancel()
			if err != nil {
				return Result{}, err
			}
			sess.WorkingPath = shifted
			sess.CumulativeShiftMs += outcome.OffsetMs
			applied = outcome.OffsetMs
			shiftApplied = true
		}

		offset := outcome.OffsetMs
		result := session.IterationResult{
			Index:          pass - 1,
			OffsetMs:       &offset,
			Confidence:     outcome.Confidence,
			AppliedShiftMs: applied,
		}
		if err := e.record(ctx, sess, result); err != nil {
			return Result{}, err
		}

		logger.Info("correction pass completed",
			logging.Int("pass", pass),
			logging.Int64("offset_ms", outcome.OffsetMs),
			logging.Float64("confidence", outcome.Confidence),
			logging.Int64("cumulative_shift_ms", sess.CumulativeShiftMs))

		if inTolerance {
			sess.TerminationReason = session.TerminationConverged
			return Result{Reason: session.TerminationConverged, Passes: pass}, nil
		}
	}

	sess.TerminationReason = session.TerminationBudgetExhausted
	return Result{Reason: session.TerminationBudgetExhausted, Passes: loop.MaxIterations}, nil
}

// measure runs one pipeline-then-model pass and reduces the captured report.
// A configuration failure (unexecutable interpreter) is fatal; every other
// tool failure degrades to a no-reading outcome so the budget decides.
func (e *Engine) measure(ctx context.Context, sess *session.Session, passTag string, timeout time.Duration) (analysis.Outcome, error) {
	stepCtx, cancel := context.WithTimeout(ctx, timeout)
	err := e.pipeline.RunPipeline(stepCtx, sess.WorkingPath, passTag)
	cancel()
	if err != nil {
		if errors.Is(err, services.ErrConfiguration) {
			return analysis.Outcome{}, err
		}
		return analysis.Outcome{}, nil
	}

	stepCtx, cancel = context.WithTimeout(ctx, timeout)
	logPath, err := e.pipeline.RunModel(stepCtx, passTag)
	cancel()
	if err != nil {
		if errors.Is(err, services.ErrConfiguration) {
			return analysis.Outcome{}, err
		}
		return analysis.Outcome{}, nil
	}

	return e.analyze(logPath, sess.FPS), nil
}

func (e *Engine) record(ctx context.Context, sess *session.Session, result session.IterationResult) error {
	if err := e.recorder.AppendIteration(ctx, sess.ID, result); err != nil {
		return services.Wrap(services.ErrTransient, "syncing", "record pass", "", err)
	}
	if err := e.recorder.Update(ctx, sess); err != nil {
		return services.Wrap(services.ErrTransient, "syncing", "persist progress", "", err)
	}
	if e.bus != nil {
		e.bus.Publish(events.Event{
			SessionID: sess.ID,
			Type:      events.TypeIterationCompleted,
			Status:    string(sess.Status),
			Stage:     "syncing",
			Message:   iterationMessage(result),
			Iteration: &events.Iteration{
				Index:             result.Index,
				OffsetMs:          result.OffsetMs,
				AppliedShiftMs:    result.AppliedShiftMs,
				CumulativeShiftMs: sess.CumulativeShiftMs,
			},
		})
	}
	return nil
}

func iterationMessage(result session.IterationResult) string {
	pass := result.Index + 1
	if !result.HasReading() {
		return fmt.Sprintf("Pass %d produced no reading", pass)
	}
	return fmt.Sprintf("Pass %d measured %dms", pass, *result.OffsetMs)
}

func abs64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
