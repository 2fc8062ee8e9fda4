package api

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"avsync/internal/config"
	"avsync/internal/events"
	"avsync/internal/notifications"
	"avsync/internal/session"
)

// maxUploadBytes caps the multipart form memory buffer; larger bodies spill
// to disk.
const maxUploadBytes = 64 << 20

// SessionHandler handles session-related HTTP requests.
type SessionHandler struct {
	cfg      *config.Config
	store    *session.Store
	bus      *events.Bus
	notifier notifications.Service
}

// NewSessionHandler creates a new session handler.
func NewSessionHandler(cfg *config.Config, store *session.Store, bus *events.Bus, notifier notifications.Service) *SessionHandler {
	return &SessionHandler{cfg: cfg, store: store, bus: bus, notifier: notifier}
}

// SessionView is the JSON representation of a session.
type SessionView struct {
	ID                string    `json:"id"`
	RefTag            string    `json:"ref_tag"`
	SourceFilename    string    `json:"source_filename"`
	OriginalContainer string    `json:"original_container,omitempty"`
	Status            string    `json:"status"`
	TerminationReason string    `json:"termination_reason,omitempty"`
	CumulativeShiftMs int64     `json:"cumulative_shift_ms"`
	FailingStage      string    `json:"failing_stage,omitempty"`
	ErrorMessage      string    `json:"error_message,omitempty"`
	ProgressStage     string    `json:"progress_stage,omitempty"`
	ProgressMessage   string    `json:"progress_message,omitempty"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

func viewOf(sess *session.Session) SessionView {
	return SessionView{
		ID:                sess.ID,
		RefTag:            sess.RefTag,
		SourceFilename:    sess.SourceFilename,
		OriginalContainer: sess.OriginalContainer,
		Status:            string(sess.Status),
		TerminationReason: string(sess.TerminationReason),
		CumulativeShiftMs: sess.CumulativeShiftMs,
		FailingStage:      sess.FailingStage,
		ErrorMessage:      sess.ErrorMessage,
		ProgressStage:     sess.ProgressStage,
		ProgressMessage:   sess.ProgressMessage,
		CreatedAt:         sess.CreatedAt,
		UpdatedAt:         sess.UpdatedAt,
	}
}

// IterationView is the JSON representation of one correction pass.
type IterationView struct {
	Index          int       `json:"index"`
	OffsetMs       *int64    `json:"offset_ms,omitempty"`
	Confidence     float64   `json:"confidence"`
	AppliedShiftMs int64     `json:"applied_shift_ms"`
	NoReading      bool      `json:"no_reading"`
	CreatedAt      time.Time `json:"created_at"`
}

// Submit handles POST /sessions: a multipart upload with the video under the
// "file" field. The upload lands in a spool directory and the session enters
// the workflow as received.
func (h *SessionHandler) Submit(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		writeError(w, http.StatusBadRequest, "invalid multipart request: "+err.Error())
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "missing file field")
		return
	}
	defer file.Close()

	filename := filepath.Base(strings.TrimSpace(header.Filename))
	if filename == "" || filename == "." {
		writeError(w, http.StatusBadRequest, "upload has no filename")
		return
	}

	spoolDir := filepath.Join(h.cfg.Paths.WorkDir, "uploads")
	if err := os.MkdirAll(spoolDir, 0o755); err != nil {
		writeError(w, http.StatusInternalServerError, "create upload spool: "+err.Error())
		return
	}
	spoolPath := filepath.Join(spoolDir, uuid.NewString())

	out, err := os.Create(spoolPath)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "spool upload: "+err.Error())
		return
	}
	if _, err := io.Copy(out, file); err != nil {
		out.Close()
		os.Remove(spoolPath)
		writeError(w, http.StatusInternalServerError, "spool upload: "+err.Error())
		return
	}
	if err := out.Close(); err != nil {
		os.Remove(spoolPath)
		writeError(w, http.StatusInternalServerError, "spool upload: "+err.Error())
		return
	}

	sess, err := h.store.NewSession(r.Context(), filename, spoolPath)
	if err != nil {
		os.Remove(spoolPath)
		writeError(w, http.StatusInternalServerError, "create session: "+err.Error())
		return
	}

	if h.bus != nil {
		h.bus.Publish(events.Event{
			SessionID: sess.ID,
			Type:      events.TypeStateChanged,
			Status:    string(sess.Status),
			Message:   fmt.Sprintf("Received %s", filename),
		})
	}
	if h.notifier != nil {
		_ = h.notifier.NotifySessionReceived(r.Context(), filename)
	}

	writeJSON(w, http.StatusAccepted, viewOf(sess))
}

// List handles GET /sessions.
func (h *SessionHandler) List(w http.ResponseWriter, r *http.Request) {
	all, err := h.store.List(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "list sessions: "+err.Error())
		return
	}
	views := make([]SessionView, 0, len(all))
	for _, sess := range all {
		views = append(views, viewOf(sess))
	}
	writeJSON(w, http.StatusOK, views)
}

// Get handles GET /sessions/{id}.
func (h *SessionHandler) Get(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.lookup(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, viewOf(sess))
}

// Iterations handles GET /sessions/{id}/iterations.
func (h *SessionHandler) Iterations(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.lookup(w, r)
	if !ok {
		return
	}
	iterations, err := h.store.Iterations(r.Context(), sess.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "list iterations: "+err.Error())
		return
	}
	views := make([]IterationView, 0, len(iterations))
	for _, iter := range iterations {
		views = append(views, IterationView{
			Index:          iter.Index,
			OffsetMs:       iter.OffsetMs,
			Confidence:     iter.Confidence,
			AppliedShiftMs: iter.AppliedShiftMs,
			NoReading:      !iter.HasReading(),
			CreatedAt:      iter.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, views)
}

// Result handles GET /sessions/{id}/result. A session that has not finished
// answers 409; a failed session answers 410 and never serves partial output.
func (h *SessionHandler) Result(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.lookup(w, r)
	if !ok {
		return
	}

	switch {
	case sess.Status == session.StatusFailed:
		writeError(w, http.StatusGone, "session failed: "+sess.ErrorMessage)
		return
	case sess.Status != session.StatusCompleted:
		writeError(w, http.StatusConflict, "session still processing")
		return
	}

	final := strings.TrimSpace(sess.FinalPath)
	if final == "" {
		writeError(w, http.StatusGone, "session output unavailable")
		return
	}
	f, err := os.Open(final)
	if err != nil {
		writeError(w, http.StatusGone, "session output unavailable")
		return
	}
	defer f.Close()

	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", sess.OutputFilename()))
	if info, err := f.Stat(); err == nil {
		w.Header().Set("Content-Length", fmt.Sprintf("%d", info.Size()))
	}
	w.WriteHeader(http.StatusOK)
	_, _ = io.Copy(w, f)
}

// Events handles GET /sessions/{id}/events as a server-sent event stream.
// The subscription is best effort: a client that stops reading is dropped
// once its buffer fills, and the stream ends.
func (h *SessionHandler) Events(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.lookup(w, r)
	if !ok {
		return
	}
	flusher, canFlush := w.(http.Flusher)
	if !canFlush {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}
	if h.bus == nil {
		writeError(w, http.StatusServiceUnavailable, "event feed disabled")
		return
	}

	ch, cancel := h.bus.Subscribe(sess.ID)
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case evt, open := <-ch:
			if !open {
				return
			}
			if err := writeSSE(w, evt); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func (h *SessionHandler) lookup(w http.ResponseWriter, r *http.Request) (*session.Session, bool) {
	id := strings.TrimSpace(chi.URLParam(r, "id"))
	sess, err := h.store.GetByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			writeError(w, http.StatusNotFound, "unknown session")
		} else {
			writeError(w, http.StatusInternalServerError, "load session: "+err.Error())
		}
		return nil, false
	}
	return sess, true
}
