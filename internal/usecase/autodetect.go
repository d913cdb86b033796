package usecase

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"scribedock/internal/backend"
	"scribedock/internal/domain"
	"scribedock/internal/ports"
)

// Listening event types pushed on the listening_event topic.
const (
	listeningEventStarted        = "started"
	listeningEventStopped        = "stopped"
	listeningEventSpeechDetected = "speech_detected"
	listeningEventAnalyzing      = "analyzing"
	listeningEventStartRecording = "start_recording"
	listeningEventConfirmed      = "greeting_confirmed"
	listeningEventRejected       = "greeting_rejected"
	listeningEventError          = "error"
)

type listeningEvent struct {
	Type       string  `json:"type"`
	DurationMS int64   `json:"duration_ms,omitempty"`
	Transcript string  `json:"transcript,omitempty"`
	Confidence float64 `json:"confidence,omitempty"`
	Reason     string  `json:"reason,omitempty"`
}

// AutoDetectCoordinator drives the optimistic auto-start flow: recording
// begins the moment the backend detects speech, before the greeting check has
// confirmed intent, so no early audio is lost. A rejected greeting rolls the
// speculative session back; a session the user has taken over is never torn
// down.
type AutoDetectCoordinator struct {
	client     *backend.Client
	controller *SessionController
	settings   ports.SettingsSource
	sink       ports.PanelSink
	log        *slog.Logger

	// reconcileMu serializes Reconcile passes so concurrent callers (state
	// listener, settings watcher) cannot both act on the same stale level.
	reconcileMu sync.Mutex

	mu        sync.Mutex
	pending   bool
	listening bool
	status    domain.ListeningStatus
}

func NewAutoDetectCoordinator(
	client *backend.Client,
	controller *SessionController,
	settings ports.SettingsSource,
	sink ports.PanelSink,
	log *slog.Logger,
) *AutoDetectCoordinator {
	if log == nil {
		log = slog.Default()
	}
	return &AutoDetectCoordinator{
		client:     client,
		controller: controller,
		settings:   settings,
		sink:       sink,
		log:        log,
	}
}

// State returns the coordinator's current view.
func (a *AutoDetectCoordinator) State() domain.AutoDetectState {
	a.mu.Lock()
	defer a.mu.Unlock()
	return domain.AutoDetectState{
		IsListening:           a.listening,
		IsPendingConfirmation: a.pending,
		ListeningStatus:       a.status,
	}
}

// ManualStart is the user-initiated start path. The pending flag is cleared
// before the command is issued so a rejection callback arriving afterwards
// reads pending=false and leaves the session alone. This ordering must not
// change.
func (a *AutoDetectCoordinator) ManualStart(ctx context.Context, deviceID string) {
	a.mu.Lock()
	a.pending = false
	a.mu.Unlock()
	a.publish()

	a.controller.Start(ctx, deviceID)
}

// Reconcile converges the backend listening pipeline to the desired level:
// listening iff the panel is in ready mode and auto-start is enabled. It is
// re-evaluated on every relevant state or settings change, so it is correct
// regardless of which input moved.
func (a *AutoDetectCoordinator) Reconcile(ctx context.Context) {
	a.reconcileMu.Lock()
	defer a.reconcileMu.Unlock()

	mode := a.controller.Snapshot().Mode
	want := mode == domain.UIModeReady && a.settings.AutoStartEnabled()

	a.mu.Lock()
	have := a.listening
	a.mu.Unlock()

	switch {
	case want && !have:
		if err := a.client.StartListening(ctx, a.settings.InputDevice()); err != nil {
			a.log.Warn("start_listening failed", "error", err)
			return
		}
		a.mu.Lock()
		a.listening = true
		a.mu.Unlock()
		a.publish()
	case !want && have:
		if err := a.client.StopListening(ctx); err != nil {
			a.log.Warn("stop_listening failed", "error", err)
		}
		a.mu.Lock()
		a.listening = false
		a.pending = false
		a.status = domain.ListeningStatus{}
		a.mu.Unlock()
		a.publish()
	}
}

// HandleListeningEvent decodes one listening_event payload and applies it.
func (a *AutoDetectCoordinator) HandleListeningEvent(payload []byte) {
	var event listeningEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		a.log.Warn("malformed listening_event payload", "error", err)
		return
	}

	ctx := context.Background()
	switch event.Type {
	case listeningEventStarted:
		a.setStatus(func(s *domain.ListeningStatus) {
			s.IsListening = true
			s.SpeechDetected = false
			s.Analyzing = false
		})
	case listeningEventStopped:
		a.setStatus(func(s *domain.ListeningStatus) {
			*s = domain.ListeningStatus{}
		})
	case listeningEventSpeechDetected:
		a.setStatus(func(s *domain.ListeningStatus) {
			s.SpeechDetected = true
			s.SpeechDurationMS = event.DurationMS
		})
	case listeningEventAnalyzing:
		a.setStatus(func(s *domain.ListeningStatus) {
			s.Analyzing = true
		})
	case listeningEventStartRecording:
		a.OnStartRecording(ctx)
	case listeningEventConfirmed:
		a.OnGreetingConfirmed(event.Transcript, event.Confidence)
	case listeningEventRejected:
		a.OnGreetingRejected(ctx, event.Reason)
	case listeningEventError:
		a.log.Warn("listening pipeline error", "reason", event.Reason)
		a.setStatus(func(s *domain.ListeningStatus) {
			s.Analyzing = false
		})
	}
}

// OnStartRecording begins an optimistic session: pending confirmation is
// raised, leftover per-session text is cleared, and the session starts
// exactly as the manual path would.
func (a *AutoDetectCoordinator) OnStartRecording(ctx context.Context) {
	a.mu.Lock()
	a.pending = true
	a.status.Analyzing = true
	a.mu.Unlock()
	a.publish()

	a.controller.ClearTranscript()
	a.controller.Start(ctx, a.settings.InputDevice())
}

// OnGreetingConfirmed lowers the pending flag. The session is already
// running; nothing else to do.
func (a *AutoDetectCoordinator) OnGreetingConfirmed(transcript string, confidence float64) {
	a.log.Info("greeting confirmed", "confidence", confidence, "chars", len(transcript))
	a.mu.Lock()
	a.pending = false
	a.status.Analyzing = false
	a.status.SpeechDetected = false
	a.status.SpeechDurationMS = 0
	a.mu.Unlock()
	a.publish()
}

// OnGreetingRejected rolls the speculative session back, but only when
// pending is still raised at the time this runs. If confirmation happened or
// a manual start already cleared the flag, the rejection is a no-op: a
// session the user trusts must never be silently discarded.
func (a *AutoDetectCoordinator) OnGreetingRejected(ctx context.Context, reason string) {
	a.mu.Lock()
	wasPending := a.pending
	a.pending = false
	a.status.Analyzing = false
	a.status.SpeechDetected = false
	a.status.SpeechDurationMS = 0
	a.mu.Unlock()
	a.publish()

	if !wasPending {
		a.log.Info("greeting rejected after takeover, keeping session", "reason", reason)
		return
	}

	a.log.Info("greeting rejected, rolling back speculative session", "reason", reason)
	a.controller.Reset(ctx)
}

func (a *AutoDetectCoordinator) setStatus(apply func(*domain.ListeningStatus)) {
	a.mu.Lock()
	apply(&a.status)
	a.mu.Unlock()
	a.publish()
}

func (a *AutoDetectCoordinator) publish() {
	if a.sink != nil {
		a.sink.AutoDetectChanged(a.State())
	}
}
