// Package workflow coordinates session processing. A pool of workers polls
// the store for sessions whose status marks them ready for a stage, claims
// them, and drives the stage handlers through the forward-only lifecycle.
package workflow

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"avsync/internal/config"
	"avsync/internal/events"
	"avsync/internal/logging"
	"avsync/internal/notifications"
	"avsync/internal/session"
	"avsync/internal/stage"
)

// StageSet bundles the concrete workflow handlers the manager orchestrates.
type StageSet struct {
	Stager       stage.Handler
	Preparer     stage.Handler
	Synchronizer stage.Handler
	Finalizer    stage.Handler
}

type pipelineStage struct {
	name             string
	handler          stage.Handler
	startStatus      session.Status
	processingStatus session.Status
	doneStatus       session.Status
}

// Manager coordinates session processing using registered stage handlers.
type Manager struct {
	cfg          *config.Config
	store        *session.Store
	logger       *slog.Logger
	notifier     notifications.Service
	bus          *events.Bus
	pollInterval time.Duration

	stages       []pipelineStage
	stageByStart map[session.Status]pipelineStage
	startOrder   []session.Status

	claimMu sync.Mutex

	mu      sync.RWMutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	lastErr error
}

// NewManager constructs a workflow manager with production collaborators.
func NewManager(cfg *config.Config, store *session.Store, logger *slog.Logger, bus *events.Bus) *Manager {
	return NewManagerWithNotifier(cfg, store, logger, bus, notifications.NewService(cfg))
}

// NewManagerWithNotifier constructs a workflow manager with a custom notifier
// (used in tests).
func NewManagerWithNotifier(cfg *config.Config, store *session.Store, logger *slog.Logger, bus *events.Bus, notifier notifications.Service) *Manager {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Manager{
		cfg:          cfg,
		store:        store,
		logger:       logger.With(logging.String(logging.FieldComponent, "workflow-manager")),
		notifier:     notifier,
		bus:          bus,
		pollInterval: time.Duration(cfg.Workflow.PollInterval) * time.Second,
		stageByStart: make(map[session.Status]pipelineStage),
	}
}

// ConfigureStages registers the handlers for each lifecycle stage.
func (m *Manager) ConfigureStages(set StageSet) {
	m.stages = []pipelineStage{
		{name: "staging", handler: set.Stager, startStatus: session.StatusReceived, processingStatus: session.StatusStaging, doneStatus: session.StatusStaged},
		{name: "preparing", handler: set.Preparer, startStatus: session.StatusStaged, processingStatus: session.StatusPreparing, doneStatus: session.StatusPrepared},
		{name: "syncing", handler: set.Synchronizer, startStatus: session.StatusPrepared, processingStatus: session.StatusSyncing, doneStatus: session.StatusSynced},
		{name: "finalizing", handler: set.Finalizer, startStatus: session.StatusSynced, processingStatus: session.StatusFinalizing, doneStatus: session.StatusCompleted},
	}
	m.stageByStart = make(map[session.Status]pipelineStage, len(m.stages))
	m.startOrder = m.startOrder[:0]
	for _, stg := range m.stages {
		m.stageByStart[stg.startStatus] = stg
		m.startOrder = append(m.startOrder, stg.startStatus)
	}
}

// Start begins background processing.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return errors.New("workflow already running")
	}
	if len(m.stages) == 0 {
		m.mu.Unlock()
		return errors.New("workflow stages not configured")
	}

	workers := m.cfg.Workflow.MaxConcurrent
	if workers < 1 {
		workers = 1
	}

	runCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.running = true
	m.wg.Add(workers)
	m.mu.Unlock()

	// Sessions stranded mid-stage by a previous run are failed before any
	// worker starts claiming, so the reclaim never races a live claim.
	m.reclaimInterrupted(runCtx)

	for i := 0; i < workers; i++ {
		go m.runWorker(runCtx, i)
	}
	return nil
}

// Stop terminates background processing and waits for workers to drain.
func (m *Manager) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	cancel := m.cancel
	m.running = false
	m.cancel = nil
	m.mu.Unlock()

	cancel()
	m.wg.Wait()
}
