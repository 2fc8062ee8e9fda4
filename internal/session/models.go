package session

import (
	"strings"
	"time"
)

// Status represents the lifecycle of a session.
type Status string

const (
	StatusReceived   Status = "received"
	StatusStaging    Status = "staging"
	StatusStaged     Status = "staged"
	StatusPreparing  Status = "preparing"
	StatusPrepared   Status = "prepared"
	StatusSyncing    Status = "syncing"
	StatusSynced     Status = "synced"
	StatusFinalizing Status = "finalizing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

var allStatuses = []Status{
	StatusReceived,
	StatusStaging,
	StatusStaged,
	StatusPreparing,
	StatusPrepared,
	StatusSyncing,
	StatusSynced,
	StatusFinalizing,
	StatusCompleted,
	StatusFailed,
}

var statusSet = func() map[Status]struct{} {
	set := make(map[Status]struct{}, len(allStatuses))
	for _, status := range allStatuses {
		set[status] = struct{}{}
	}
	return set
}()

// forwardTransitions encodes the strictly forward state machine. Failed is
// additionally reachable from every non-terminal status.
var forwardTransitions = map[Status]Status{
	StatusReceived:   StatusStaging,
	StatusStaging:    StatusStaged,
	StatusStaged:     StatusPreparing,
	StatusPreparing:  StatusPrepared,
	StatusPrepared:   StatusSyncing,
	StatusSyncing:    StatusSynced,
	StatusSynced:     StatusFinalizing,
	StatusFinalizing: StatusCompleted,
}

// IsValid reports whether the status is a known lifecycle value.
func (s Status) IsValid() bool {
	_, ok := statusSet[s]
	return ok
}

// IsTerminal reports whether the status permits no further transitions.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// IsProcessing reports whether a stage handler is actively working the session.
func (s Status) IsProcessing() bool {
	switch s {
	case StatusStaging, StatusPreparing, StatusSyncing, StatusFinalizing:
		return true
	}
	return false
}

// CanTransition reports whether moving from one status to another respects the
// strictly forward state machine.
func CanTransition(from, to Status) bool {
	if from.IsTerminal() {
		return false
	}
	if to == StatusFailed {
		return true
	}
	return forwardTransitions[from] == to
}

// TerminationReason describes why the correction loop stopped.
type TerminationReason string

const (
	// TerminationConverged means the measured offset fell within tolerance.
	TerminationConverged TerminationReason = "converged"
	// TerminationBudgetExhausted means the iteration budget ran out before
	// convergence; the partial correction still proceeds to finalization.
	TerminationBudgetExhausted TerminationReason = "budget_exhausted"
	// TerminationAnalysisUnavailable means the analysis tool itself could not
	// be executed; the session fails.
	TerminationAnalysisUnavailable TerminationReason = "analysis_unavailable"
)

// Session represents one uploaded video moving through synchronization.
type Session struct {
	ID                string
	RefTag            string
	SourceFilename    string
	OriginalContainer string
	VideoCodec        string
	AudioCodec        string
	FPS               float64
	UploadPath        string
	StagedPath        string
	WorkingPath       string
	FinalPath         string
	CumulativeShiftMs int64
	Status            Status
	TerminationReason TerminationReason
	FailingStage      string
	ErrorMessage      string
	ProgressStage     string
	ProgressMessage   string
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// OutputFilename is the container-restored name the corrected file is served under.
func (s *Session) OutputFilename() string {
	name := strings.TrimSpace(s.SourceFilename)
	if name == "" {
		name = s.ID
	}
	return "corrected_" + name
}

// IterationResult captures the outcome of one correction loop pass. Entries
// are append-only; once written they form the audit trail of the run.
type IterationResult struct {
	// Index is the 0-based position in the audit trail; entry i always has
	// index i. Operator-facing output renders it as pass index+1.
	Index          int
	OffsetMs       *int64
	Confidence     float64
	AppliedShiftMs int64
	CreatedAt      time.Time
}

// HasReading reports whether the analyzer produced a usable offset this pass.
func (r IterationResult) HasReading() bool {
	return r.OffsetMs != nil
}

// ConvergenceConfig holds the immutable per-run loop parameters.
type ConvergenceConfig struct {
	MaxIterations     int
	OffsetToleranceMs int64
	PerStepTimeout    time.Duration
}
