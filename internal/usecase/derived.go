package usecase

import "scribedock/internal/domain"

// Derived panel flags. Each is a pure function over a snapshot, recomputed on
// demand so cached copies cannot drift from the authoritative state.

// CanStart reports whether a new recording may begin.
func CanStart(snap Snapshot) bool {
	return snap.Mode == domain.UIModeReady
}

// CanStop reports whether the active recording may be stopped.
func CanStop(snap Snapshot) bool {
	state := snap.Status.State
	return state == domain.SessionStatePreparing || state == domain.SessionStateRecording
}

// CanCopy reports whether there is transcript text worth copying.
func CanCopy(snap Snapshot) bool {
	return snap.Mode == domain.UIModeReview && snap.Edited != ""
}

// CanGenerate reports whether note generation is applicable.
func CanGenerate(snap Snapshot) bool {
	return snap.Mode == domain.UIModeReview && snap.Transcript.FinalizedText != ""
}
