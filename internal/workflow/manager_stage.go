package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"avsync/internal/events"
	"avsync/internal/logging"
	"avsync/internal/services"
	"avsync/internal/session"
)

func (m *Manager) processSession(ctx context.Context, workerLogger *slog.Logger, stg pipelineStage, sess *session.Session) error {
	stageCtx := services.WithSessionID(ctx, sess.ID)
	stageCtx = services.WithStage(stageCtx, stg.name)
	stageCtx = services.WithRequestID(stageCtx, uuid.NewString())
	stageLogger := logging.WithContext(stageCtx, workerLogger)

	return m.executeStage(stageCtx, stageLogger, stg, sess)
}

func (m *Manager) executeStage(ctx context.Context, stageLogger *slog.Logger, stg pipelineStage, sess *session.Session) error {
	stageStart := time.Now()
	stageLogger.Info("stage started",
		logging.String(logging.FieldEventType, "stage_start"),
		logging.String("processing_status", string(stg.processingStatus)),
		logging.String("source_file", strings.TrimSpace(sess.SourceFilename)))

	handler := stg.handler
	if handler == nil {
		err := fmt.Errorf("stage %s missing handler", stg.name)
		m.handleStageFailure(ctx, stg.name, sess, err)
		m.setLastError(err)
		return err
	}

	if err := handler.Prepare(ctx, sess); err != nil {
		m.handleStageFailure(ctx, stg.name, sess, err)
		m.setLastError(err)
		return err
	}
	if err := m.store.Update(ctx, sess); err != nil {
		wrapped := fmt.Errorf("persist stage preparation: %w", err)
		stageLogger.Error("failed to persist stage preparation", logging.Error(wrapped))
		m.setLastError(wrapped)
		return wrapped
	}

	if stg.processingStatus == session.StatusSyncing && m.notifier != nil {
		if err := m.notifier.NotifySyncStarted(ctx, sess.SourceFilename); err != nil {
			stageLogger.Warn("sync started notification failed", logging.Error(err))
		}
	}

	if err := handler.Execute(ctx, sess); err != nil {
		if errors.Is(err, context.Canceled) {
			stageLogger.Debug("stage interrupted by shutdown")
			return err
		}
		m.handleStageFailure(ctx, stg.name, sess, err)
		m.setLastError(err)
		return err
	}

	if sess.Status == stg.processingStatus {
		sess.Status = stg.doneStatus
	}
	if sess.Status == session.StatusCompleted && strings.TrimSpace(sess.ProgressStage) != "" {
		sess.ProgressStage = "Completed"
	}
	if err := m.store.Update(ctx, sess); err != nil {
		wrapped := fmt.Errorf("persist stage result: %w", err)
		stageLogger.Error("failed to persist stage result", logging.Error(wrapped))
		m.setLastError(wrapped)
		return wrapped
	}

	m.publishStateChanged(sess, stg.name)
	stageLogger.Info("stage completed",
		logging.String(logging.FieldEventType, "stage_complete"),
		logging.String("next_status", string(sess.Status)),
		logging.Duration("stage_duration", time.Since(stageStart)))

	if sess.Status == session.StatusCompleted {
		m.onSessionCompleted(ctx, sess)
	}
	return nil
}

func (m *Manager) transitionToProcessing(ctx context.Context, stg pipelineStage, sess *session.Session) error {
	if !session.CanTransition(sess.Status, stg.processingStatus) {
		return fmt.Errorf("invalid transition %s -> %s", sess.Status, stg.processingStatus)
	}
	sess.Status = stg.processingStatus
	sess.ErrorMessage = ""
	if err := m.store.Update(ctx, sess); err != nil {
		return fmt.Errorf("persist processing transition: %w", err)
	}
	m.publishStateChanged(sess, stg.name)
	return nil
}

func (m *Manager) publishStateChanged(sess *session.Session, stageName string) {
	if m.bus == nil {
		return
	}
	m.bus.Publish(events.Event{
		SessionID: sess.ID,
		Type:      events.TypeStateChanged,
		Status:    string(sess.Status),
		Stage:     stageName,
		Message:   strings.TrimSpace(sess.ProgressMessage),
	})
}

func (m *Manager) onSessionCompleted(ctx context.Context, sess *session.Session) {
	if m.bus != nil {
		m.bus.Publish(events.Event{
			SessionID: sess.ID,
			Type:      events.TypeSucceeded,
			Status:    string(sess.Status),
			Stage:     "finalizing",
			Message:   fmt.Sprintf("Output ready: %s", sess.OutputFilename()),
		})
	}
	if m.notifier == nil {
		return
	}

	passes := 0
	if iterations, err := m.store.Iterations(ctx, sess.ID); err == nil {
		passes = len(iterations)
	}

	var err error
	if sess.TerminationReason == session.TerminationBudgetExhausted {
		err = m.notifier.NotifyBudgetExhausted(ctx, sess.SourceFilename, passes)
	} else {
		err = m.notifier.NotifySessionCompleted(ctx, sess.SourceFilename, sess.CumulativeShiftMs, passes)
	}
	if err != nil {
		m.logger.Warn("completion notification failed", logging.Error(err))
	}
}
