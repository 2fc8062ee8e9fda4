package session_test

import (
	"testing"

	"avsync/internal/session"
)

func TestCanTransitionForwardOnly(t *testing.T) {
	tests := []struct {
		from, to session.Status
		want     bool
	}{
		{session.StatusReceived, session.StatusStaging, true},
		{session.StatusStaging, session.StatusStaged, true},
		{session.StatusStaged, session.StatusPreparing, true},
		{session.StatusPrepared, session.StatusSyncing, true},
		{session.StatusSyncing, session.StatusSynced, true},
		{session.StatusSynced, session.StatusFinalizing, true},
		{session.StatusFinalizing, session.StatusCompleted, true},
		{session.StatusStaged, session.StatusReceived, false},
		{session.StatusSynced, session.StatusSyncing, false},
		{session.StatusReceived, session.StatusSyncing, false},
		{session.StatusSyncing, session.StatusFailed, true},
		{session.StatusReceived, session.StatusFailed, true},
		{session.StatusCompleted, session.StatusFailed, false},
		{session.StatusFailed, session.StatusReceived, false},
	}
	for _, tc := range tests {
		if got := session.CanTransition(tc.from, tc.to); got != tc.want {
			t.Errorf("CanTransition(%s, %s) = %v, want %v", tc.from, tc.to, got, tc.want)
		}
	}
}

func TestStatusClassifiers(t *testing.T) {
	if !session.StatusCompleted.IsTerminal() || !session.StatusFailed.IsTerminal() {
		t.Fatal("completed and failed must be terminal")
	}
	if session.StatusSyncing.IsTerminal() {
		t.Fatal("syncing must not be terminal")
	}
	if !session.StatusSyncing.IsProcessing() || session.StatusStaged.IsProcessing() {
		t.Fatal("processing classification wrong")
	}
	if session.Status("bogus").IsValid() {
		t.Fatal("unknown status must not validate")
	}
}

func TestOutputFilename(t *testing.T) {
	sess := &session.Session{ID: "abc", SourceFilename: "clip.mp4"}
	if got := sess.OutputFilename(); got != "corrected_clip.mp4" {
		t.Fatalf("unexpected output filename %q", got)
	}
	sess.SourceFilename = " "
	if got := sess.OutputFilename(); got != "corrected_abc" {
		t.Fatalf("unexpected fallback filename %q", got)
	}
}
