package usecase

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"scribedock/internal/backend"
	"scribedock/internal/domain"
	"scribedock/internal/ports"
)

// Snapshot is a read-only copy of the controller's session state handed to
// listeners and derived-flag functions.
type Snapshot struct {
	Status       domain.SessionStatus
	Mode         domain.UIMode
	Transcript   domain.TranscriptUpdate
	Edited       string
	Biomarkers   *domain.BiomarkerUpdate
	AudioQuality *domain.AudioQualitySnapshot
}

// Listener observes controller state after each mutation. Listeners run
// outside the controller lock, so reentrant calls back into the controller
// are allowed.
type Listener func(snap Snapshot)

// SessionController owns the session state machine and all snapshots fed by
// backend push events. It is the single writer; every other component reads
// through Snapshot.
type SessionController struct {
	client *backend.Client
	clock  ports.Clock
	log    *slog.Logger
	tick   time.Duration

	mu           sync.Mutex
	status       domain.SessionStatus
	transcript   domain.TranscriptUpdate
	edited       string
	biomarkers   *domain.BiomarkerUpdate
	audioQuality *domain.AudioQualitySnapshot

	recordingStartMS int64
	timing           bool
	tickerStop       chan struct{}

	listeners  []Listener
	resetHooks []func()
}

func NewSessionController(client *backend.Client, clock ports.Clock, log *slog.Logger, tick time.Duration) *SessionController {
	if log == nil {
		log = slog.Default()
	}
	if tick <= 0 || tick > 200*time.Millisecond {
		tick = 200 * time.Millisecond
	}
	return &SessionController{
		client: client,
		clock:  clock,
		log:    log,
		tick:   tick,
		status: domain.SessionStatus{State: domain.SessionStateIdle},
	}
}

// AddListener registers a state observer. Not safe to call once events flow.
func (c *SessionController) AddListener(l Listener) {
	c.listeners = append(c.listeners, l)
}

// AddResetHook registers cleanup run on every Reset, after local state is
// cleared.
func (c *SessionController) AddResetHook(hook func()) {
	c.resetHooks = append(c.resetHooks, hook)
}

// Snapshot returns a copy of the current session state.
func (c *SessionController) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

func (c *SessionController) snapshotLocked() Snapshot {
	snap := Snapshot{
		Status:     c.status,
		Mode:       domain.ModeFor(c.status.State),
		Transcript: c.transcript,
		Edited:     c.edited,
	}
	if c.biomarkers != nil {
		b := *c.biomarkers
		snap.Biomarkers = &b
	}
	if c.audioQuality != nil {
		q := *c.audioQuality
		snap.AudioQuality = &q
	}
	return snap
}

// Start issues start_session. It performs no optimistic local transition; the
// resulting session_status event moves the state machine. Command failure is
// logged and the panel stays in its current state.
func (c *SessionController) Start(ctx context.Context, deviceID string) {
	c.mu.Lock()
	c.edited = c.transcript.FinalizedText
	snap := c.snapshotLocked()
	c.mu.Unlock()
	c.notify(snap)

	if err := c.client.StartSession(ctx, deviceID); err != nil {
		c.log.Warn("start_session failed", "error", err)
	}
}

// Stop issues stop_session with the same non-optimistic contract as Start.
func (c *SessionController) Stop(ctx context.Context) {
	if err := c.client.StopSession(ctx); err != nil {
		c.log.Warn("stop_session failed", "error", err)
	}
}

// Reset issues reset_session and clears all local session state regardless of
// whether the command succeeded. The backend is expected to honor the reset;
// local cleanup is immediate.
func (c *SessionController) Reset(ctx context.Context) {
	if err := c.client.ResetSession(ctx); err != nil {
		c.log.Warn("reset_session failed", "error", err)
	}

	c.mu.Lock()
	c.transcript = domain.TranscriptUpdate{}
	c.edited = ""
	c.biomarkers = nil
	c.audioQuality = nil
	snap := c.snapshotLocked()
	c.mu.Unlock()

	for _, hook := range c.resetHooks {
		hook()
	}
	c.notify(snap)
}

// ClearTranscript drops both transcript snapshots ahead of a new session, so
// a subsequent Start cannot restore leftover finalized text into the
// editable copy.
func (c *SessionController) ClearTranscript() {
	c.mu.Lock()
	c.transcript = domain.TranscriptUpdate{}
	c.edited = ""
	snap := c.snapshotLocked()
	c.mu.Unlock()
	c.notify(snap)
}

// EditTranscript replaces the user-mutable transcript copy.
func (c *SessionController) EditTranscript(text string) {
	c.mu.Lock()
	c.edited = text
	snap := c.snapshotLocked()
	c.mu.Unlock()
	c.notify(snap)
}

// ApplyStatus applies a session_status event. The event is authoritative:
// whatever transition it implies is accepted as-is, with no validation
// against the previous state.
func (c *SessionController) ApplyStatus(status domain.SessionStatus) {
	c.mu.Lock()
	prevElapsed := c.status.ElapsedMS
	c.status = status

	switch {
	case timedState(status.State):
		if !c.timing {
			c.timing = true
			c.recordingStartMS = c.clock.NowMS() - status.ElapsedMS
		}
		c.startTickerLocked()
	case status.State == domain.SessionStateStopping || status.State == domain.SessionStateCompleted:
		// Freeze the last computed duration as the session's display value.
		if status.ElapsedMS == 0 && prevElapsed > 0 {
			c.status.ElapsedMS = prevElapsed
		}
		c.timing = false
		c.stopTickerLocked()
	default:
		c.status.ElapsedMS = 0
		c.timing = false
		c.stopTickerLocked()
	}

	snap := c.snapshotLocked()
	c.mu.Unlock()
	c.notify(snap)
}

// ApplyTranscript replaces the transcript snapshot wholesale.
func (c *SessionController) ApplyTranscript(update domain.TranscriptUpdate) {
	c.mu.Lock()
	prevFinal := c.transcript.FinalizedText
	c.transcript = update
	// Keep the editable copy tracking the backend until the user diverges.
	if c.edited == prevFinal {
		c.edited = update.FinalizedText
	}
	snap := c.snapshotLocked()
	c.mu.Unlock()
	c.notify(snap)
}

// ApplyBiomarkers replaces the biomarker snapshot wholesale.
func (c *SessionController) ApplyBiomarkers(update domain.BiomarkerUpdate) {
	c.mu.Lock()
	c.biomarkers = &update
	snap := c.snapshotLocked()
	c.mu.Unlock()
	c.notify(snap)
}

// ApplyAudioQuality replaces the audio quality snapshot wholesale.
func (c *SessionController) ApplyAudioQuality(update domain.AudioQualitySnapshot) {
	c.mu.Lock()
	c.audioQuality = &update
	snap := c.snapshotLocked()
	c.mu.Unlock()
	c.notify(snap)
}

// Close stops the elapsed ticker if it is running.
func (c *SessionController) Close() {
	c.mu.Lock()
	c.stopTickerLocked()
	c.mu.Unlock()
}

func (c *SessionController) notify(snap Snapshot) {
	for _, l := range c.listeners {
		l(snap)
	}
}

func timedState(state domain.SessionState) bool {
	return state == domain.SessionStatePreparing || state == domain.SessionStateRecording
}

func (c *SessionController) startTickerLocked() {
	if c.tickerStop != nil {
		return
	}
	stop := make(chan struct{})
	c.tickerStop = stop
	go c.runTicker(stop)
}

func (c *SessionController) stopTickerLocked() {
	if c.tickerStop == nil {
		return
	}
	close(c.tickerStop)
	c.tickerStop = nil
}

// runTicker recomputes elapsed time between status events while the session
// is in a timed state.
func (c *SessionController) runTicker(stop chan struct{}) {
	ticker := time.NewTicker(c.tick)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			c.mu.Lock()
			if !c.timing || !timedState(c.status.State) {
				c.mu.Unlock()
				continue
			}
			c.status.ElapsedMS = c.clock.NowMS() - c.recordingStartMS
			snap := c.snapshotLocked()
			c.mu.Unlock()
			c.notify(snap)
		}
	}
}
