package main

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/wailsapp/wails/v2/pkg/runtime"

	"scribedock/internal/bootstrap"
	"scribedock/internal/bridge"
	"scribedock/internal/config"
	"scribedock/internal/domain"
	"scribedock/internal/settings"
	"scribedock/internal/usecase"
)

const (
	eventPanel      = "scribedock:panel"
	eventTranscript = "scribedock:transcript"
	eventAutoDetect = "scribedock:autodetect"
	eventSync       = "scribedock:sync"
	eventError      = "scribedock:error"
)

// PanelView is the full derived panel model handed to the webview.
type PanelView struct {
	Status       domain.SessionStatus         `json:"status"`
	Mode         domain.UIMode                `json:"mode"`
	Transcript   domain.TranscriptUpdate      `json:"transcript"`
	Edited       string                       `json:"edited"`
	Biomarkers   *domain.BiomarkerUpdate      `json:"biomarkers"`
	AudioQuality *domain.AudioQualitySnapshot `json:"audioQuality"`
	AutoDetect   domain.AutoDetectState       `json:"autoDetect"`
	Sync         domain.SyncIndicator         `json:"sync"`
	Note         *domain.NoteResult           `json:"note"`
	Encounter    *domain.SyncedEncounter      `json:"encounter"`
	CanStart     bool                         `json:"canStart"`
	CanStop      bool                         `json:"canStop"`
	CanCopy      bool                         `json:"canCopy"`
	CanGenerate  bool                         `json:"canGenerate"`
	Permission   string                       `json:"permissionError,omitempty"`
}

// App is the Wails application root.
type App struct {
	ctx context.Context
	log *slog.Logger

	services bootstrap.Services
	bootErr  error

	mu            sync.Mutex
	permissionErr string
}

func NewApp() *App {
	return &App{log: slog.Default()}
}

func (a *App) startup(ctx context.Context) {
	a.ctx = ctx

	cfg, err := config.Load()
	if err != nil {
		a.bootErr = err
		a.PanelError(domain.ErrorCodeCommand, err.Error())
		return
	}

	gw := bridge.New(ctx, cfg.Gateway.CommandTimeout, a.log)
	services, err := bootstrap.Build(cfg, gw, gw, a, a.log)
	if err != nil {
		a.bootErr = err
		a.PanelError(domain.ErrorCodeCommand, err.Error())
		return
	}

	a.services = services
	a.services.Subscriptions.Open()
	a.services.AutoDetect.Reconcile(ctx)

	go a.probeConnectivity()
}

func (a *App) shutdown(ctx context.Context) {
	if a.services.Subscriptions != nil {
		a.services.Subscriptions.Close()
	}
	if a.services.Controller != nil {
		a.services.Controller.Close()
	}
	if a.services.NoteSync != nil {
		a.services.NoteSync.Wait()
	}
	if a.services.Chat != nil {
		a.services.Chat.Wait()
	}
	if a.services.Settings != nil {
		a.services.Settings.Close()
	}
	_ = ctx
}

// probeConnectivity is best effort: failures are absorbed and simply leave
// the panel in a disconnected state.
func (a *App) probeConnectivity() {
	conn, err := a.services.Client.CheckConnection(a.ctx)
	if err != nil {
		a.log.Warn("connectivity probe failed", "error", err)
		return
	}
	a.services.NoteSync.SetConnectivity(conn)
}

// StartSession begins a recording session from the panel's record button.
func (a *App) StartSession(deviceID string) error {
	if err := a.requireReady(); err != nil {
		return err
	}
	if deviceID == "" {
		deviceID = a.services.Settings.InputDevice()
	}
	a.services.AutoDetect.ManualStart(a.ctx, deviceID)
	return nil
}

// StopSession stops the active recording session.
func (a *App) StopSession() error {
	if err := a.requireReady(); err != nil {
		return err
	}
	a.services.Controller.Stop(a.ctx)
	return nil
}

// ResetSession discards the session and returns the panel to ready.
func (a *App) ResetSession() error {
	if err := a.requireReady(); err != nil {
		return err
	}
	a.services.Controller.Reset(a.ctx)
	return nil
}

// EditTranscript stores the user's edited transcript copy.
func (a *App) EditTranscript(text string) error {
	if err := a.requireReady(); err != nil {
		return err
	}
	a.services.Controller.EditTranscript(text)
	return nil
}

// GenerateNote runs note generation over the current transcript.
func (a *App) GenerateNote(options domain.NoteOptions) error {
	if err := a.requireReady(); err != nil {
		return err
	}
	snap := a.services.Controller.Snapshot()
	if !usecase.CanGenerate(snap) {
		return fmt.Errorf("no completed transcript to generate from")
	}
	if err := a.services.NoteSync.GenerateNote(a.ctx, snap.Transcript.FinalizedText, options); err != nil {
		a.PanelError(domain.ErrorCodeGeneration, err.Error())
		return err
	}
	return nil
}

// DismissSyncIndicator hides the sync status until the next attempt.
func (a *App) DismissSyncIndicator() error {
	if err := a.requireReady(); err != nil {
		return err
	}
	a.services.NoteSync.Dismiss()
	return nil
}

// SendChatMessage appends a user message to the clinical chat.
func (a *App) SendChatMessage(content string) error {
	if err := a.requireReady(); err != nil {
		return err
	}
	a.services.Chat.Send(a.ctx, content)
	return nil
}

// ClearChat drops the chat thread.
func (a *App) ClearChat() error {
	if err := a.requireReady(); err != nil {
		return err
	}
	a.services.Chat.Clear()
	return nil
}

// GetChatMessages returns the chat thread.
func (a *App) GetChatMessages() []domain.ChatMessage {
	if a.requireReady() != nil {
		return nil
	}
	return a.services.Chat.Messages()
}

// GetSettings returns the persisted panel settings.
func (a *App) GetSettings() (settings.Settings, error) {
	if err := a.requireReady(); err != nil {
		return settings.Settings{}, err
	}
	return a.services.Settings.Current(), nil
}

// UpdateSettings persists new panel settings. Failures surface inline, next
// to the settings form that triggered them.
func (a *App) UpdateSettings(updated settings.Settings) error {
	if err := a.requireReady(); err != nil {
		return err
	}
	if err := a.services.Settings.Update(updated); err != nil {
		a.PanelError(domain.ErrorCodeCommand, err.Error())
		return err
	}
	return nil
}

// RefreshConnectivity re-probes the backend and EMR reachability.
func (a *App) RefreshConnectivity() error {
	if err := a.requireReady(); err != nil {
		return err
	}
	go a.probeConnectivity()
	return nil
}

// DismissPermissionError clears the microphone-permission error slot.
func (a *App) DismissPermissionError() {
	a.mu.Lock()
	a.permissionErr = ""
	a.mu.Unlock()
}

// GetPanelState returns the complete derived panel model.
func (a *App) GetPanelState() PanelView {
	if a.requireReady() != nil {
		return PanelView{
			Status: domain.SessionStatus{State: domain.SessionStateIdle},
			Mode:   domain.UIModeReady,
			Sync:   domain.SyncIndicatorIdle,
		}
	}

	snap := a.services.Controller.Snapshot()
	a.mu.Lock()
	permission := a.permissionErr
	a.mu.Unlock()

	return PanelView{
		Status:       snap.Status,
		Mode:         snap.Mode,
		Transcript:   snap.Transcript,
		Edited:       snap.Edited,
		Biomarkers:   snap.Biomarkers,
		AudioQuality: snap.AudioQuality,
		AutoDetect:   a.services.AutoDetect.State(),
		Sync:         a.services.NoteSync.Indicator(),
		Note:         a.services.NoteSync.Result(),
		Encounter:    a.services.NoteSync.Encounter(),
		CanStart:     usecase.CanStart(snap),
		CanStop:      usecase.CanStop(snap),
		CanCopy:      usecase.CanCopy(snap),
		CanGenerate:  usecase.CanGenerate(snap),
		Permission:   permission,
	}
}

func (a *App) requireReady() error {
	if a.bootErr != nil {
		return a.bootErr
	}
	if a.services.Controller == nil {
		return fmt.Errorf("application is not initialized")
	}
	return nil
}

// PanelChanged emits session status updates to the webview.
func (a *App) PanelChanged(status domain.SessionStatus, mode domain.UIMode) {
	if a.ctx == nil {
		return
	}
	runtime.EventsEmit(a.ctx, eventPanel, map[string]any{
		"status": status,
		"mode":   mode,
	})
}

// TranscriptChanged emits transcript updates to the webview.
func (a *App) TranscriptChanged(update domain.TranscriptUpdate, edited string) {
	if a.ctx == nil {
		return
	}
	runtime.EventsEmit(a.ctx, eventTranscript, map[string]any{
		"transcript": update,
		"edited":     edited,
	})
}

// AutoDetectChanged emits auto-detection state to the webview.
func (a *App) AutoDetectChanged(state domain.AutoDetectState) {
	if a.ctx == nil {
		return
	}
	runtime.EventsEmit(a.ctx, eventAutoDetect, state)
}

// SyncIndicatorChanged emits the combined sync status to the webview.
func (a *App) SyncIndicatorChanged(indicator domain.SyncIndicator) {
	if a.ctx == nil {
		return
	}
	runtime.EventsEmit(a.ctx, eventSync, map[string]string{"indicator": string(indicator)})
}

// PanelError routes an error to its panel slot. Microphone permission
// failures get their own dismissable slot; everything else lands in the
// generic error event.
func (a *App) PanelError(code domain.ErrorCode, detail string) {
	if code == domain.ErrorCodePermission {
		a.mu.Lock()
		a.permissionErr = detail
		a.mu.Unlock()
	}
	if a.ctx == nil {
		return
	}
	runtime.EventsEmit(a.ctx, eventError, map[string]string{
		"code":    string(code),
		"message": errorMessage(code, detail),
		"detail":  detail,
	})
}

func errorMessage(code domain.ErrorCode, detail string) string {
	switch code {
	case domain.ErrorCodeCommand:
		return "Backend command failed"
	case domain.ErrorCodePermission:
		return "Microphone permission denied"
	case domain.ErrorCodeGeneration:
		return "Note generation failed"
	case domain.ErrorCodeSync:
		return "EMR sync failed"
	case domain.ErrorCodeChat:
		return "Chat request failed"
	default:
		if detail == "" {
			return "Unknown error"
		}
		return detail
	}
}
