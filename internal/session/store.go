package session

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"avsync/internal/config"
)

var (
	// ErrNotFound indicates no session exists with the given identifier.
	ErrNotFound = errors.New("session not found")
	// ErrTerminal indicates an attempt to mutate a completed or failed session.
	ErrTerminal = errors.New("session is terminal")
)

// Store manages session persistence backed by SQLite.
type Store struct {
	db   *sql.DB
	path string
}

// Open initializes or connects to the sessions database.
func Open(cfg *config.Config) (*Store, error) {
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("ensure directories: %w", err)
	}

	dbPath := filepath.Join(cfg.Paths.LogDir, "sessions.db")
	return OpenPath(dbPath)
}

// OpenPath opens the sessions database at an explicit location.
func OpenPath(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	store := &Store{db: db, path: dbPath}
	if err := store.initSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}

	return store, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Path returns the database file location.
func (s *Store) Path() string {
	return s.path
}

// NewSession inserts a session for a freshly received upload. The reference
// tag correlating external pipeline artifacts is derived from the session ID.
func (s *Store) NewSession(ctx context.Context, sourceFilename, uploadPath string) (*Session, error) {
	sourceFilename = strings.TrimSpace(sourceFilename)
	if sourceFilename == "" {
		return nil, errors.New("source filename required")
	}

	id := uuid.NewString()
	refTag := strings.ReplaceAll(id, "-", "")[:8]
	container := strings.TrimPrefix(strings.ToLower(filepath.Ext(sourceFilename)), ".")
	now := time.Now().UTC().Format(time.RFC3339Nano)

	_, err := s.db.ExecContext(
		ctx,
		`INSERT INTO sessions (
            id, ref_tag, source_filename, original_container, upload_path,
            status, created_at, updated_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		id,
		refTag,
		sourceFilename,
		container,
		uploadPath,
		StatusReceived,
		now,
		now,
	)
	if err != nil {
		return nil, fmt.Errorf("insert session: %w", err)
	}

	return s.GetByID(ctx, id)
}

const sessionColumns = `id, ref_tag, source_filename, original_container, video_codec,
    audio_codec, fps, upload_path, staged_path, working_path, final_path,
    cumulative_shift_ms, status, termination_reason, failing_stage,
    error_message, progress_stage, progress_message, created_at, updated_at`

// GetByID fetches a session by identifier.
func (s *Store) GetByID(ctx context.Context, id string) (*Session, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+sessionColumns+` FROM sessions WHERE id = ?`, id)
	sess, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	return sess, nil
}

// Update persists mutable session fields. Terminal sessions refuse updates so
// the state machine can never move backwards out of completed or failed.
func (s *Store) Update(ctx context.Context, sess *Session) error {
	if sess == nil {
		return errors.New("session required")
	}
	if !sess.Status.IsValid() {
		return fmt.Errorf("invalid status %q", sess.Status)
	}

	now := time.Now().UTC()
	res, err := s.db.ExecContext(
		ctx,
		`UPDATE sessions SET
            original_container = ?, video_codec = ?, audio_codec = ?, fps = ?,
            upload_path = ?, staged_path = ?, working_path = ?, final_path = ?,
            cumulative_shift_ms = ?, status = ?, termination_reason = ?,
            failing_stage = ?, error_message = ?, progress_stage = ?,
            progress_message = ?, updated_at = ?
        WHERE id = ? AND status NOT IN (?, ?)`,
		sess.OriginalContainer,
		sess.VideoCodec,
		sess.AudioCodec,
		sess.FPS,
		sess.UploadPath,
		sess.StagedPath,
		sess.WorkingPath,
		sess.FinalPath,
		sess.CumulativeShiftMs,
		sess.Status,
		sess.TerminationReason,
		sess.FailingStage,
		sess.ErrorMessage,
		sess.ProgressStage,
		sess.ProgressMessage,
		now.Format(time.RFC3339Nano),
		sess.ID,
		StatusCompleted,
		StatusFailed,
	)
	if err != nil {
		return fmt.Errorf("update session: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update session rows: %w", err)
	}
	if affected == 0 {
		if _, getErr := s.GetByID(ctx, sess.ID); getErr != nil {
			return getErr
		}
		return ErrTerminal
	}
	sess.UpdatedAt = now
	return nil
}

// NextForStatuses returns the oldest session whose status matches any of the
// provided values, or nil when none are waiting.
func (s *Store) NextForStatuses(ctx context.Context, statuses ...Status) (*Session, error) {
	if len(statuses) == 0 {
		return nil, nil
	}
	placeholders := make([]string, len(statuses))
	args := make([]any, len(statuses))
	for i, status := range statuses {
		placeholders[i] = "?"
		args[i] = status
	}
	row := s.db.QueryRowContext(ctx,
		`SELECT `+sessionColumns+` FROM sessions
         WHERE status IN (`+strings.Join(placeholders, ", ")+`)
         ORDER BY created_at ASC, id ASC LIMIT 1`, args...)
	sess, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("next session: %w", err)
	}
	return sess, nil
}

// List returns all sessions ordered newest first.
func (s *Store) List(ctx context.Context) ([]*Session, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+sessionColumns+` FROM sessions ORDER BY created_at DESC, id DESC`)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		sessions = append(sessions, sess)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sessions: %w", err)
	}
	return sessions, nil
}

// AppendIteration records one correction pass in the append-only audit trail.
// The index must equal the current history length; rewrites are rejected by
// the primary key and gaps by the length check.
func (s *Store) AppendIteration(ctx context.Context, sessionID string, result IterationResult) error {
	var count int
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM iteration_results WHERE session_id = ?`, sessionID).Scan(&count); err != nil {
		return fmt.Errorf("append iteration: %w", err)
	}
	if result.Index != count {
		return fmt.Errorf("append iteration: index %d does not extend a trail of length %d", result.Index, count)
	}

	var offset any
	if result.OffsetMs != nil {
		offset = *result.OffsetMs
	}
	createdAt := result.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(
		ctx,
		`INSERT INTO iteration_results (session_id, idx, offset_ms, confidence, applied_shift_ms, created_at)
         VALUES (?, ?, ?, ?, ?, ?)`,
		sessionID,
		result.Index,
		offset,
		result.Confidence,
		result.AppliedShiftMs,
		createdAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("append iteration: %w", err)
	}
	return nil
}

// Iterations returns the full audit trail for a session in pass order.
func (s *Store) Iterations(ctx context.Context, sessionID string) ([]IterationResult, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT idx, offset_ms, confidence, applied_shift_ms, created_at
         FROM iteration_results WHERE session_id = ? ORDER BY idx ASC`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("load iterations: %w", err)
	}
	defer rows.Close()

	var results []IterationResult
	for rows.Next() {
		var result IterationResult
		var offset sql.NullInt64
		var createdAt string
		if err := rows.Scan(&result.Index, &offset, &result.Confidence, &result.AppliedShiftMs, &createdAt); err != nil {
			return nil, fmt.Errorf("scan iteration: %w", err)
		}
		if offset.Valid {
			value := offset.Int64
			result.OffsetMs = &value
		}
		result.CreatedAt = parseTime(createdAt)
		results = append(results, result)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate results: %w", err)
	}
	return results, nil
}

// HealthSummary describes aggregated session counts per key lifecycle states.
type HealthSummary struct {
	Total      int `json:"total"`
	Waiting    int `json:"waiting"`
	Processing int `json:"processing"`
	Completed  int `json:"completed"`
	Failed     int `json:"failed"`
}

// Health aggregates session counts for status reporting.
func (s *Store) Health(ctx context.Context) (HealthSummary, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(1) FROM sessions GROUP BY status`)
	if err != nil {
		return HealthSummary{}, fmt.Errorf("aggregate sessions: %w", err)
	}
	defer rows.Close()

	var summary HealthSummary
	for rows.Next() {
		var status Status
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return HealthSummary{}, fmt.Errorf("scan aggregate: %w", err)
		}
		summary.Total += count
		switch {
		case status == StatusCompleted:
			summary.Completed += count
		case status == StatusFailed:
			summary.Failed += count
		case status.IsProcessing():
			summary.Processing += count
		default:
			summary.Waiting += count
		}
	}
	if err := rows.Err(); err != nil {
		return HealthSummary{}, fmt.Errorf("iterate aggregates: %w", err)
	}
	return summary, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*Session, error) {
	var sess Session
	var createdAt, updatedAt string
	err := row.Scan(
		&sess.ID,
		&sess.RefTag,
		&sess.SourceFilename,
		&sess.OriginalContainer,
		&sess.VideoCodec,
		&sess.AudioCodec,
		&sess.FPS,
		&sess.UploadPath,
		&sess.StagedPath,
		&sess.WorkingPath,
		&sess.FinalPath,
		&sess.CumulativeShiftMs,
		&sess.Status,
		&sess.TerminationReason,
		&sess.FailingStage,
		&sess.ErrorMessage,
		&sess.ProgressStage,
		&sess.ProgressMessage,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}
	sess.CreatedAt = parseTime(createdAt)
	sess.UpdatedAt = parseTime(updatedAt)
	return &sess, nil
}

func parseTime(value string) time.Time {
	parsed, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return time.Time{}
	}
	return parsed
}
