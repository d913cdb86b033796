package usecase

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"scribedock/internal/backend"
	"scribedock/internal/domain"
	"scribedock/internal/ports"
)

// ErrGenerationInFlight is returned when a note generation is already
// running; the busy flag is an idempotence guard, not a UI nicety.
var ErrGenerationInFlight = errors.New("note generation already in flight")

// NoteSyncCoordinator orchestrates note generation and remote EMR sync for
// the review phase. It guarantees at most one generation and at most one sync
// in flight per session, and that a session never creates two encounters:
// once a SyncedEncounter exists, later notes attach to it.
type NoteSyncCoordinator struct {
	client   *backend.Client
	settings ports.SettingsSource
	sink     ports.PanelSink
	log      *slog.Logger

	// syncMu serializes remote sync operations so the post-generation
	// dispatch observes the result of any auto-sync that beat it.
	syncMu sync.Mutex

	mu           sync.Mutex
	generating   bool
	syncing      bool
	result       *domain.NoteResult
	encounter    *domain.SyncedEncounter
	genErr       string
	syncErr      string
	dismissed    bool
	connectivity domain.Connectivity
	sessionID    string
	durationMS   int64
	audioEvents  []domain.AudioEvent
	lastSnap     Snapshot

	wg sync.WaitGroup
}

func NewNoteSyncCoordinator(
	client *backend.Client,
	settings ports.SettingsSource,
	sink ports.PanelSink,
	log *slog.Logger,
) *NoteSyncCoordinator {
	if log == nil {
		log = slog.Default()
	}
	return &NoteSyncCoordinator{
		client:   client,
		settings: settings,
		sink:     sink,
		log:      log,
	}
}

// SetConnectivity records the latest connectivity probe result. A probe that
// resolves after the session already completed re-evaluates the auto triggers;
// their guard sets keep each at-most-once.
func (n *NoteSyncCoordinator) SetConnectivity(conn domain.Connectivity) {
	n.mu.Lock()
	n.connectivity = conn
	snap := n.lastSnap
	n.mu.Unlock()

	if snap.Status.State != domain.SessionStateCompleted {
		return
	}
	n.maybeAutoSync(context.Background(), snap)
	n.maybeAutoGenerate(context.Background(), snap)
}

// SetAudioEvents records acoustic events forwarded to note generation.
func (n *NoteSyncCoordinator) SetAudioEvents(events []domain.AudioEvent) {
	n.mu.Lock()
	n.audioEvents = append([]domain.AudioEvent(nil), events...)
	n.mu.Unlock()
}

// Result returns the current generation result, or nil.
func (n *NoteSyncCoordinator) Result() *domain.NoteResult {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.result == nil {
		return nil
	}
	r := *n.result
	return &r
}

// Encounter returns the synced encounter, or nil.
func (n *NoteSyncCoordinator) Encounter() *domain.SyncedEncounter {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.encounter == nil {
		return nil
	}
	e := *n.encounter
	return &e
}

// Busy reports whether a generation is in flight.
func (n *NoteSyncCoordinator) Busy() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.generating
}

// Indicator derives the combined sync/generation status. Pure priority
// order: in-flight work, then retained errors, then success, then idle. A
// dismissed indicator reads idle until the next sync or generation starts.
func (n *NoteSyncCoordinator) Indicator() domain.SyncIndicator {
	n.mu.Lock()
	defer n.mu.Unlock()
	return combinedIndicator(
		n.syncing || n.generating,
		n.genErr != "" || n.syncErr != "",
		n.result != nil || n.encounter != nil,
		n.dismissed,
	)
}

func combinedIndicator(busy, failed, succeeded, dismissed bool) domain.SyncIndicator {
	switch {
	case busy:
		return domain.SyncIndicatorSyncing
	case dismissed:
		return domain.SyncIndicatorIdle
	case failed:
		return domain.SyncIndicatorError
	case succeeded:
		return domain.SyncIndicatorSuccess
	default:
		return domain.SyncIndicatorIdle
	}
}

// Dismiss hides the indicator until the next sync or generation begins.
func (n *NoteSyncCoordinator) Dismiss() {
	n.mu.Lock()
	n.dismissed = true
	n.mu.Unlock()
	n.publish()
}

// OnReset clears every per-session generation and sync artifact. Registered
// as a controller reset hook.
func (n *NoteSyncCoordinator) OnReset() {
	n.mu.Lock()
	n.result = nil
	n.encounter = nil
	n.genErr = ""
	n.syncErr = ""
	n.dismissed = false
	n.sessionID = ""
	n.durationMS = 0
	n.audioEvents = nil
	n.lastSnap = Snapshot{}
	n.mu.Unlock()
	n.publish()
}

// OnSnapshot reacts to controller state. When the session completes, the
// auto-generation and auto-sync triggers are evaluated; their guard sets make
// each fire at most once even when the completed status is re-delivered.
func (n *NoteSyncCoordinator) OnSnapshot(ctx context.Context, snap Snapshot) {
	n.mu.Lock()
	n.lastSnap = snap
	if snap.Status.SessionID != "" {
		n.sessionID = snap.Status.SessionID
	}
	if snap.Status.ElapsedMS > 0 {
		n.durationMS = snap.Status.ElapsedMS
	}
	n.mu.Unlock()

	if snap.Status.State != domain.SessionStateCompleted {
		return
	}
	n.maybeAutoSync(ctx, snap)
	n.maybeAutoGenerate(ctx, snap)
}

// GenerateNote runs a user-initiated generation. Callers should consult Busy
// first; a concurrent call fails with ErrGenerationInFlight.
func (n *NoteSyncCoordinator) GenerateNote(ctx context.Context, transcript string, options domain.NoteOptions) error {
	n.mu.Lock()
	if n.generating {
		n.mu.Unlock()
		return ErrGenerationInFlight
	}
	n.generating = true
	n.dismissed = false
	sessionID := n.sessionID
	events := n.audioEvents
	n.mu.Unlock()
	n.publish()

	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		n.generate(ctx, transcript, events, options, sessionID, true)
	}()
	return nil
}

// Wait blocks until background generation and sync work settles. Used by
// shutdown and tests.
func (n *NoteSyncCoordinator) Wait() {
	n.wg.Wait()
}

func (n *NoteSyncCoordinator) maybeAutoGenerate(ctx context.Context, snap Snapshot) {
	transcript := snap.Transcript.FinalizedText

	n.mu.Lock()
	ready := n.connectivity.Connected &&
		!n.generating &&
		n.result == nil &&
		transcript != ""
	if !ready {
		n.mu.Unlock()
		return
	}
	n.generating = true
	n.dismissed = false
	sessionID := n.sessionID
	events := n.audioEvents
	n.mu.Unlock()
	n.publish()

	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		n.generate(ctx, transcript, events, domain.NoteOptions{DetectMultiplePatients: true}, sessionID, false)
	}()
}

func (n *NoteSyncCoordinator) maybeAutoSync(ctx context.Context, snap Snapshot) {
	transcript := snap.Transcript.FinalizedText

	n.mu.Lock()
	ready := n.connectivity.Authenticated &&
		n.settings.AutoSyncEnabled() &&
		!n.syncing &&
		n.encounter == nil &&
		transcript != ""
	if !ready {
		n.mu.Unlock()
		return
	}
	n.syncing = true
	n.dismissed = false
	durationMS := n.durationMS
	n.mu.Unlock()
	n.publish()

	// syncMu is taken before the goroutine launches so a generation finishing
	// moments later blocks in dispatchSync until this sync has recorded its
	// encounter, and attaches instead of creating a duplicate.
	n.syncMu.Lock()
	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		defer n.syncMu.Unlock()
		n.transcriptOnlySync(ctx, transcript, durationMS)
	}()
}

func (n *NoteSyncCoordinator) generate(
	ctx context.Context,
	transcript string,
	events []domain.AudioEvent,
	options domain.NoteOptions,
	sessionID string,
	userInitiated bool,
) {
	result, err := n.client.GenerateNote(ctx, transcript, events, options, sessionID)

	n.mu.Lock()
	n.generating = false
	if err != nil {
		n.genErr = err.Error()
		n.mu.Unlock()
		n.publish()
		if userInitiated {
			n.reportError(domain.ErrorCodeGeneration, err.Error())
		} else {
			n.log.Warn("auto note generation failed", "error", err)
		}
		return
	}
	n.genErr = ""
	n.result = &result
	authenticated := n.connectivity.Authenticated
	n.mu.Unlock()
	n.publish()

	if !authenticated {
		return
	}
	n.dispatchSync(ctx, transcript, result)
}

// dispatchSync pushes a fresh generation result to the EMR. Exactly one of
// four outcomes applies: multi-patient sync, attach to an encounter missing
// its note, create encounter-with-note, or nothing when the encounter already
// carries a note.
func (n *NoteSyncCoordinator) dispatchSync(ctx context.Context, transcript string, result domain.NoteResult) {
	n.syncMu.Lock()
	defer n.syncMu.Unlock()

	n.mu.Lock()
	encounter := n.encounter
	durationMS := n.durationMS
	n.syncing = true
	n.dismissed = false
	n.mu.Unlock()
	n.publish()

	switch {
	case result.MultiPatient():
		n.multiPatientSync(ctx, transcript, result)
	case encounter != nil && !encounter.HasSoap:
		n.attachNote(ctx, *encounter, result)
	case encounter == nil:
		n.createWithNote(ctx, transcript, result, durationMS)
	default:
		// Single patient, already synced with a note: nothing to do.
		n.mu.Lock()
		n.syncing = false
		n.mu.Unlock()
		n.publish()
	}
}

// transcriptOnlySync runs with syncMu held. The encounter check repeats here
// because another sync may have created one between this sync's guard check
// and its turn on syncMu; a session must never own two remote encounters.
func (n *NoteSyncCoordinator) transcriptOnlySync(ctx context.Context, transcript string, durationMS int64) {
	n.mu.Lock()
	if n.encounter != nil {
		n.syncing = false
		n.mu.Unlock()
		n.publish()
		return
	}
	n.mu.Unlock()

	sync, err := n.client.QuickSync(ctx, transcript, "", durationMS)

	n.mu.Lock()
	n.syncing = false
	if err != nil {
		n.syncErr = err.Error()
		n.mu.Unlock()
		n.publish()
		n.log.Warn("auto transcript sync failed", "error", err)
		return
	}
	n.syncErr = ""
	n.encounter = &domain.SyncedEncounter{
		EncounterID:     sync.EncounterID,
		EncounterFHIRID: sync.EncounterFHIRID,
		SyncedAt:        sync.SyncedAt,
		HasSoap:         sync.SoapSynced,
	}
	n.mu.Unlock()
	n.publish()
}

func (n *NoteSyncCoordinator) multiPatientSync(ctx context.Context, transcript string, result domain.NoteResult) {
	reply, err := n.client.MultiPatientQuickSync(ctx, transcript, result)

	n.mu.Lock()
	n.syncing = false
	if err != nil {
		n.syncErr = err.Error()
		n.mu.Unlock()
		n.publish()
		n.reportError(domain.ErrorCodeSync, err.Error())
		return
	}
	n.syncErr = ""
	if len(reply.Patients) > 0 {
		first := reply.Patients[0]
		n.encounter = &domain.SyncedEncounter{
			EncounterID:     first.EncounterFHIRID,
			EncounterFHIRID: first.EncounterFHIRID,
			HasSoap:         first.HasSoap,
		}
	}
	n.mu.Unlock()
	n.publish()
}

func (n *NoteSyncCoordinator) attachNote(ctx context.Context, encounter domain.SyncedEncounter, result domain.NoteResult) {
	err := n.client.AddSoapToEncounter(ctx, encounter.EncounterFHIRID, result.Notes[0].Content)

	n.mu.Lock()
	n.syncing = false
	if err != nil {
		n.syncErr = err.Error()
		n.mu.Unlock()
		n.publish()
		n.reportError(domain.ErrorCodeSync, err.Error())
		return
	}
	n.syncErr = ""
	if n.encounter != nil {
		n.encounter.HasSoap = true
	}
	n.mu.Unlock()
	n.publish()
}

func (n *NoteSyncCoordinator) createWithNote(ctx context.Context, transcript string, result domain.NoteResult, durationMS int64) {
	sync, err := n.client.QuickSync(ctx, transcript, result.Notes[0].Content, durationMS)

	n.mu.Lock()
	n.syncing = false
	if err != nil {
		n.syncErr = err.Error()
		n.mu.Unlock()
		n.publish()
		n.reportError(domain.ErrorCodeSync, err.Error())
		return
	}
	n.syncErr = ""
	n.encounter = &domain.SyncedEncounter{
		EncounterID:     sync.EncounterID,
		EncounterFHIRID: sync.EncounterFHIRID,
		SyncedAt:        sync.SyncedAt,
		HasSoap:         true,
	}
	n.mu.Unlock()
	n.publish()
}

func (n *NoteSyncCoordinator) publish() {
	if n.sink != nil {
		n.sink.SyncIndicatorChanged(n.Indicator())
	}
}

func (n *NoteSyncCoordinator) reportError(code domain.ErrorCode, detail string) {
	if n.sink != nil {
		n.sink.PanelError(code, detail)
	}
}
