package workflow

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"avsync/internal/logging"
	"avsync/internal/session"
)

func (m *Manager) runWorker(ctx context.Context, index int) {
	defer m.wg.Done()
	logger := m.logger.With(logging.Int("worker", index))

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		sess, stg, err := m.claimNext(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			m.handleClaimError(ctx, logger, err)
			continue
		}
		if sess == nil {
			m.waitForSessionOrShutdown(ctx)
			continue
		}

		if err := m.processSession(ctx, logger, stg, sess); err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
		}
	}
}

// claimNext atomically picks the oldest eligible session and moves it into
// its processing status. The claim mutex serializes the pick-and-transition
// window so two workers never grab the same session.
func (m *Manager) claimNext(ctx context.Context) (*session.Session, pipelineStage, error) {
	m.claimMu.Lock()
	defer m.claimMu.Unlock()

	sess, err := m.store.NextForStatuses(ctx, m.startOrder...)
	if err != nil || sess == nil {
		return nil, pipelineStage{}, err
	}

	stg, ok := m.stageByStart[sess.Status]
	if !ok {
		return nil, pipelineStage{}, nil
	}
	if err := m.transitionToProcessing(ctx, stg, sess); err != nil {
		return nil, pipelineStage{}, err
	}
	return sess, stg, nil
}

func (m *Manager) handleClaimError(ctx context.Context, logger *slog.Logger, err error) {
	m.setLastError(err)
	logger.Error("failed to claim next session",
		logging.Error(err),
		logging.String(logging.FieldEventType, "session_claim_failed"))
	select {
	case <-ctx.Done():
	case <-time.After(time.Duration(m.cfg.Workflow.ErrorRetryInterval) * time.Second):
	}
}

func (m *Manager) waitForSessionOrShutdown(ctx context.Context) {
	select {
	case <-ctx.Done():
	case <-time.After(m.pollInterval):
	}
}
