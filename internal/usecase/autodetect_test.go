package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"scribedock/internal/backend"
	"scribedock/internal/domain"
)

func newTestAutoDetect(gw *fakeGateway, settings *fakeSettings) (*AutoDetectCoordinator, *SessionController) {
	controller := newTestController(gw, &fakeClock{})
	client := backend.NewClient(gw, nil)
	coordinator := NewAutoDetectCoordinator(client, controller, settings, &fakeSink{}, nil)
	return coordinator, controller
}

func TestAutoDetectRejectionRollsBackSpeculativeSession(t *testing.T) {
	t.Parallel()

	gw := newFakeGateway()
	coordinator, _ := newTestAutoDetect(gw, &fakeSettings{autoStart: true, device: "mic-1"})
	ctx := context.Background()

	coordinator.OnStartRecording(ctx)
	if !coordinator.State().IsPendingConfirmation {
		t.Fatalf("expected pending confirmation after optimistic start")
	}
	if gw.count("start_session") != 1 {
		t.Fatalf("expected optimistic start to issue start_session")
	}

	coordinator.OnGreetingRejected(ctx, "not a greeting")
	if coordinator.State().IsPendingConfirmation {
		t.Fatalf("pending flag should drop on rejection")
	}
	if gw.count("reset_session") != 1 {
		t.Fatalf("expected rejection to roll the session back")
	}
}

func TestAutoDetectManualStartWinsRejectionRace(t *testing.T) {
	t.Parallel()

	gw := newFakeGateway()
	coordinator, _ := newTestAutoDetect(gw, &fakeSettings{autoStart: true})
	ctx := context.Background()

	// Optimistic start, then the user starts manually before the pending
	// rejection callback fires.
	coordinator.OnStartRecording(ctx)
	coordinator.ManualStart(ctx, "mic-1")
	coordinator.OnGreetingRejected(ctx, "not a greeting")

	if gw.count("reset_session") != 0 {
		t.Fatalf("a user-initiated session must never be torn down by a late rejection")
	}
	if gw.count("start_session") != 2 {
		t.Fatalf("expected both start paths to issue start_session, got %d", gw.count("start_session"))
	}
}

func TestAutoDetectConfirmationThenRejectionIsNoop(t *testing.T) {
	t.Parallel()

	gw := newFakeGateway()
	coordinator, _ := newTestAutoDetect(gw, &fakeSettings{autoStart: true})
	ctx := context.Background()

	coordinator.OnStartRecording(ctx)
	coordinator.OnGreetingConfirmed("good morning", 0.93)
	if coordinator.State().IsPendingConfirmation {
		t.Fatalf("confirmation should clear pending")
	}

	coordinator.OnGreetingRejected(ctx, "late duplicate")
	if gw.count("reset_session") != 0 {
		t.Fatalf("rejection after confirmation must not reset")
	}
}

func TestAutoDetectReconcileIsLevelTriggered(t *testing.T) {
	t.Parallel()

	gw := newFakeGateway()
	settings := &fakeSettings{autoStart: true, device: "mic-1"}
	coordinator, controller := newTestAutoDetect(gw, settings)
	ctx := context.Background()

	coordinator.Reconcile(ctx)
	coordinator.Reconcile(ctx)
	if gw.count("start_listening") != 1 {
		t.Fatalf("reconcile must converge, not re-issue: %d starts", gw.count("start_listening"))
	}
	if !coordinator.State().IsListening {
		t.Fatalf("expected listening after reconcile")
	}

	// Mode leaves ready: listening stops.
	controller.ApplyStatus(domain.SessionStatus{State: domain.SessionStateRecording})
	coordinator.Reconcile(ctx)
	if gw.count("stop_listening") != 1 {
		t.Fatalf("expected listening stop when mode leaves ready")
	}

	// Back to ready with auto-start now disabled: stays stopped.
	controller.ApplyStatus(domain.SessionStatus{State: domain.SessionStateIdle})
	settings.set(false, false)
	coordinator.Reconcile(ctx)
	if gw.count("start_listening") != 1 {
		t.Fatalf("listening must not restart while auto-start is disabled")
	}
}

func TestAutoDetectReconcileStartFailureRetriesNextPass(t *testing.T) {
	t.Parallel()

	gw := newFakeGateway()
	gw.errs["start_listening"] = errors.New("no device")
	coordinator, _ := newTestAutoDetect(gw, &fakeSettings{autoStart: true})
	ctx := context.Background()

	coordinator.Reconcile(ctx)
	if coordinator.State().IsListening {
		t.Fatalf("failed start must not mark listening")
	}

	gw.mu.Lock()
	delete(gw.errs, "start_listening")
	gw.mu.Unlock()

	coordinator.Reconcile(ctx)
	if !coordinator.State().IsListening {
		t.Fatalf("expected listening after retry")
	}
	if gw.count("start_listening") != 2 {
		t.Fatalf("expected two start attempts, got %d", gw.count("start_listening"))
	}
}

func TestAutoDetectHandlesListeningEventPayloads(t *testing.T) {
	t.Parallel()

	gw := newFakeGateway()
	coordinator, _ := newTestAutoDetect(gw, &fakeSettings{autoStart: true, device: "mic-2"})

	deliver := func(event listeningEvent) {
		raw, err := json.Marshal(event)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		coordinator.HandleListeningEvent(raw)
	}

	deliver(listeningEvent{Type: listeningEventStarted})
	if !coordinator.State().ListeningStatus.IsListening {
		t.Fatalf("expected listening status after started event")
	}

	deliver(listeningEvent{Type: listeningEventSpeechDetected, DurationMS: 2100})
	status := coordinator.State().ListeningStatus
	if !status.SpeechDetected || status.SpeechDurationMS != 2100 {
		t.Fatalf("unexpected status after speech: %+v", status)
	}

	deliver(listeningEvent{Type: listeningEventStartRecording})
	if !coordinator.State().IsPendingConfirmation {
		t.Fatalf("start_recording event should raise pending")
	}
	if gw.count("start_session") != 1 {
		t.Fatalf("start_recording event should start the session")
	}

	var args struct {
		DeviceID string `json:"device_id"`
	}
	if err := json.Unmarshal(gw.lastArgs("start_session"), &args); err != nil {
		t.Fatalf("unmarshal args: %v", err)
	}
	if args.DeviceID != "mic-2" {
		t.Fatalf("optimistic start should use the configured device, got %q", args.DeviceID)
	}

	deliver(listeningEvent{Type: listeningEventConfirmed, Transcript: "hello doctor", Confidence: 0.9})
	if coordinator.State().IsPendingConfirmation {
		t.Fatalf("confirmed event should clear pending")
	}

	coordinator.HandleListeningEvent([]byte("{broken"))
}

func TestAutoDetectOptimisticStartClearsLeftoverText(t *testing.T) {
	t.Parallel()

	gw := newFakeGateway()
	coordinator, controller := newTestAutoDetect(gw, &fakeSettings{autoStart: true})

	// Finalized text surviving from an errored prior session; Start copies
	// finalized into the editable slot, so both must be gone.
	controller.ApplyTranscript(domain.TranscriptUpdate{FinalizedText: "leftover from last session", SegmentCount: 3})
	controller.EditTranscript("leftover, edited")
	coordinator.OnStartRecording(context.Background())

	snap := controller.Snapshot()
	if snap.Edited != "" {
		t.Fatalf("optimistic start should clear leftover edited text, got %q", snap.Edited)
	}
	if snap.Transcript.FinalizedText != "" || snap.Transcript.SegmentCount != 0 {
		t.Fatalf("optimistic start should drop the stale transcript, got %+v", snap.Transcript)
	}
}

func TestAutoDetectConcurrentReconcileStartsListeningOnce(t *testing.T) {
	t.Parallel()

	gw := newFakeGateway()
	gate := make(chan struct{})
	gw.blockOn["start_listening"] = gate
	coordinator, _ := newTestAutoDetect(gw, &fakeSettings{autoStart: true})

	// State listener and settings watcher both reconcile at the same time.
	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			coordinator.Reconcile(context.Background())
		}()
	}
	close(gate)
	wg.Wait()

	if got := gw.count("start_listening"); got != 1 {
		t.Fatalf("expected a single start_listening, got %d", got)
	}
	if !coordinator.State().IsListening {
		t.Fatalf("expected listening after reconcile")
	}
}
