package domain

// SessionState models the recording session lifecycle as reported by the backend.
type SessionState string

const (
	SessionStateIdle      SessionState = "idle"
	SessionStatePreparing SessionState = "preparing"
	SessionStateRecording SessionState = "recording"
	SessionStateStopping  SessionState = "stopping"
	SessionStateCompleted SessionState = "completed"
	SessionStateError     SessionState = "error"
)

// UIMode is the panel-level mode derived from the session state.
type UIMode string

const (
	UIModeReady     UIMode = "ready"
	UIModeRecording UIMode = "recording"
	UIModeReview    UIMode = "review"
)

// ModeFor derives the panel mode from a session state. It depends on nothing
// but the latest state value.
func ModeFor(state SessionState) UIMode {
	switch state {
	case SessionStatePreparing, SessionStateRecording, SessionStateStopping:
		return UIModeRecording
	case SessionStateCompleted:
		return UIModeReview
	default:
		return UIModeReady
	}
}

// SessionStatus is the backend's authoritative view of the session. Each
// session_status event replaces the previous value wholesale.
type SessionStatus struct {
	State              SessionState `json:"state"`
	Provider           string       `json:"provider,omitempty"`
	ElapsedMS          int64        `json:"elapsed_ms"`
	IsProcessingBehind bool         `json:"is_processing_behind"`
	ErrorMessage       string       `json:"error_message,omitempty"`
	SessionID          string       `json:"session_id,omitempty"`
}

// TranscriptUpdate carries the cumulative transcript for the session.
type TranscriptUpdate struct {
	FinalizedText string `json:"finalized_text"`
	DraftText     string `json:"draft_text,omitempty"`
	SegmentCount  int    `json:"segment_count"`
}

// BiomarkerUpdate is a point-in-time snapshot of conversational biomarkers.
type BiomarkerUpdate struct {
	CoughCount        int      `json:"cough_count"`
	CoughRatePerMin   float64  `json:"cough_rate_per_min"`
	TurnCount         int      `json:"turn_count"`
	AvgTurnDurationMS float64  `json:"avg_turn_duration_ms"`
	TalkTimeRatio     *float64 `json:"talk_time_ratio,omitempty"`
}

// AudioQualitySnapshot is a point-in-time capture-quality report.
type AudioQualitySnapshot struct {
	TimestampMS    int64   `json:"timestamp_ms"`
	PeakDB         float64 `json:"peak_db"`
	RMSDB          float64 `json:"rms_db"`
	ClippedSamples int     `json:"clipped_samples"`
	ClippedRatio   float64 `json:"clipped_ratio"`
	SNRDB          float64 `json:"snr_db"`
	LevelOK        bool    `json:"level_ok"`
	ClippingOK     bool    `json:"clipping_ok"`
	SNROK          bool    `json:"snr_ok"`
}

// ListeningStatus mirrors the backend's passive-listening pipeline state.
type ListeningStatus struct {
	IsListening      bool  `json:"is_listening"`
	SpeechDetected   bool  `json:"speech_detected"`
	Analyzing        bool  `json:"analyzing"`
	SpeechDurationMS int64 `json:"speech_duration_ms"`
}

// AutoDetectState is the coordinator-side view of auto session detection.
// IsPendingConfirmation is true only between an optimistic start and its
// confirmation or rejection.
type AutoDetectState struct {
	IsListening           bool            `json:"isListening"`
	IsPendingConfirmation bool            `json:"isPendingConfirmation"`
	ListeningStatus       ListeningStatus `json:"listeningStatus"`
}

// PatientNote is one per-patient note inside a generation result.
type PatientNote struct {
	PatientLabel string `json:"patient_label"`
	SpeakerID    string `json:"speaker_id"`
	Content      string `json:"content"`
}

// NoteResult is the outcome of one note generation. Immutable once produced;
// regeneration replaces it entirely.
type NoteResult struct {
	Notes            []PatientNote `json:"notes"`
	PhysicianSpeaker string        `json:"physician_speaker,omitempty"`
	GeneratedAt      string        `json:"generated_at"`
	ModelUsed        string        `json:"model_used"`
}

// MultiPatient reports whether the result contains more than one patient note.
func (r NoteResult) MultiPatient() bool { return len(r.Notes) > 1 }

// SyncedEncounter records the remote EMR encounter this session synced to.
// At most one exists per session; once set, note generation attaches to it
// instead of creating a new encounter.
type SyncedEncounter struct {
	EncounterID     string `json:"encounter_id"`
	EncounterFHIRID string `json:"encounter_fhir_id"`
	SyncedAt        string `json:"synced_at"`
	HasSoap         bool   `json:"has_soap"`
}

// SyncIndicator is the combined sync/generation status shown in the panel.
type SyncIndicator string

const (
	SyncIndicatorIdle    SyncIndicator = "idle"
	SyncIndicatorSyncing SyncIndicator = "syncing"
	SyncIndicatorError   SyncIndicator = "error"
	SyncIndicatorSuccess SyncIndicator = "success"
)

// Connectivity is the best-effort backend/EMR reachability probe result.
type Connectivity struct {
	Connected     bool `json:"connected"`
	Authenticated bool `json:"authenticated"`
}

// ErrorCode identifies the panel slot an error is surfaced in.
type ErrorCode string

const (
	ErrorCodeCommand    ErrorCode = "command"
	ErrorCodePermission ErrorCode = "permission"
	ErrorCodeGeneration ErrorCode = "generation"
	ErrorCodeSync       ErrorCode = "sync"
	ErrorCodeChat       ErrorCode = "chat"
)

// ChatMessage is one turn in the clinical chat thread.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// AudioEvent is a non-speech acoustic event forwarded to note generation.
type AudioEvent struct {
	Kind        string  `json:"kind"`
	TimestampMS int64   `json:"timestamp_ms"`
	Confidence  float64 `json:"confidence"`
}

// NoteOptions tunes note generation.
type NoteOptions struct {
	DetectMultiplePatients bool   `json:"detect_multiple_patients"`
	Language               string `json:"language,omitempty"`
}
