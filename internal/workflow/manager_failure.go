package workflow

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"avsync/internal/events"
	"avsync/internal/logging"
	"avsync/internal/services"
	"avsync/internal/session"
)

func (m *Manager) handleStageFailure(ctx context.Context, stageName string, sess *session.Session, stageErr error) {
	logger := logging.WithContext(ctx, m.logger)

	message := m.classifyStageFailure(stageName, stageErr)
	sess.Status = session.StatusFailed
	sess.FailingStage = stageName
	sess.ErrorMessage = message
	sess.ProgressMessage = message
	// Failed sessions expose no output.
	sess.FinalPath = ""

	logger.Error("stage failed",
		logging.String(logging.FieldStage, stageName),
		logging.String("error_message", message),
		logging.Error(stageErr),
		logging.String(logging.FieldEventType, "stage_failure"))

	if err := m.store.Update(ctx, sess); err != nil {
		if errors.Is(err, context.Canceled) {
			logger.Debug("daemon shutting down, could not persist stage failure")
		} else {
			logger.Error("failed to persist stage failure", logging.Error(err))
		}
	}

	if m.bus != nil {
		m.bus.Publish(events.Event{
			SessionID: sess.ID,
			Type:      events.TypeFailed,
			Status:    string(session.StatusFailed),
			Stage:     stageName,
			Message:   message,
		})
	}
	if m.notifier != nil {
		if err := m.notifier.NotifySessionFailed(ctx, sess.SourceFilename, message); err != nil {
			logger.Warn("failure notification failed", logging.Error(err))
		}
	}
}

func (m *Manager) classifyStageFailure(stageName string, stageErr error) string {
	if stageErr == nil {
		return fmt.Sprintf("%s failed without error detail", stageName)
	}
	message := strings.TrimSpace(services.UserFacingMessage(stageErr))
	if message == "" {
		message = fmt.Sprintf("%s failed", stageName)
	}
	return message
}
