package workflow

import (
	"context"

	"avsync/internal/logging"
	"avsync/internal/services"
	"avsync/internal/session"
)

// reclaimInterrupted fails sessions a previous daemon run left mid-stage.
// Statuses only move forward, so a session stuck in a processing status has
// no worker that will ever finish it; marking it failed keeps the audit
// trail intact and tells the operator to resubmit.
func (m *Manager) reclaimInterrupted(ctx context.Context) {
	logger := logging.WithContext(ctx, m.logger)

	processing := []session.Status{
		session.StatusStaging,
		session.StatusPreparing,
		session.StatusSyncing,
		session.StatusFinalizing,
	}
	for {
		sess, err := m.store.NextForStatuses(ctx, processing...)
		if err != nil {
			logger.Error("failed to scan for interrupted sessions", logging.Error(err))
			return
		}
		if sess == nil {
			return
		}

		stageName := m.stageNameForProcessing(sess.Status)
		logger.Warn("failing session interrupted by restart",
			logging.String(logging.FieldSessionID, sess.ID),
			logging.String(logging.FieldStage, stageName))
		stageErr := services.Wrap(services.ErrTransient, stageName, "resume",
			"processing was interrupted by a daemon restart, submit the file again", nil)
		m.handleStageFailure(ctx, stageName, sess, stageErr)
	}
}

func (m *Manager) stageNameForProcessing(status session.Status) string {
	for _, stg := range m.stages {
		if stg.processingStatus == status {
			return stg.name
		}
	}
	return string(status)
}
