// Package backend wraps the raw command gateway with typed session, listening,
// generation, and EMR sync commands.
package backend

import (
	"context"
	"fmt"
	"log/slog"

	"scribedock/internal/domain"
	"scribedock/internal/ports"
)

// Command names understood by the backend.
const (
	cmdStartSession    = "start_session"
	cmdStopSession     = "stop_session"
	cmdResetSession    = "reset_session"
	cmdStartListening  = "start_listening"
	cmdStopListening   = "stop_listening"
	cmdGenerateNote    = "generate_note"
	cmdQuickSync       = "quick_sync"
	cmdMultiQuickSync  = "multi_patient_quick_sync"
	cmdAddSoap         = "add_soap_to_encounter"
	cmdCheckConnection = "check_connection"
	cmdClinicalChat    = "clinical_chat"
)

// SyncResult is the backend's reply to the encounter-creating sync commands.
type SyncResult struct {
	EncounterID     string `json:"encounter_id"`
	EncounterFHIRID string `json:"encounter_fhir_id"`
	SyncedAt        string `json:"synced_at"`
	SoapSynced      bool   `json:"soap_synced"`
}

// PatientSyncInfo describes one patient/encounter pair created by a
// multi-patient sync.
type PatientSyncInfo struct {
	PatientLabel    string `json:"patient_label"`
	SpeakerID       string `json:"speaker_id"`
	PatientFHIRID   string `json:"patient_fhir_id"`
	EncounterFHIRID string `json:"encounter_fhir_id"`
	HasSoap         bool   `json:"has_soap"`
}

// MultiSyncResult is the backend's reply to multi_patient_quick_sync.
type MultiSyncResult struct {
	Success  bool              `json:"success"`
	Patients []PatientSyncInfo `json:"patients"`
	Error    string            `json:"error,omitempty"`
}

// Client issues backend commands through the gateway.
type Client struct {
	gw  ports.Gateway
	log *slog.Logger
}

func NewClient(gw ports.Gateway, log *slog.Logger) *Client {
	if log == nil {
		log = slog.Default()
	}
	return &Client{gw: gw, log: log}
}

func (c *Client) StartSession(ctx context.Context, deviceID string) error {
	args := struct {
		DeviceID string `json:"device_id,omitempty"`
	}{DeviceID: deviceID}
	return c.invoke(ctx, cmdStartSession, args, nil)
}

func (c *Client) StopSession(ctx context.Context) error {
	return c.invoke(ctx, cmdStopSession, struct{}{}, nil)
}

func (c *Client) ResetSession(ctx context.Context) error {
	return c.invoke(ctx, cmdResetSession, struct{}{}, nil)
}

func (c *Client) StartListening(ctx context.Context, deviceID string) error {
	args := struct {
		DeviceID string `json:"device_id,omitempty"`
	}{DeviceID: deviceID}
	return c.invoke(ctx, cmdStartListening, args, nil)
}

func (c *Client) StopListening(ctx context.Context) error {
	return c.invoke(ctx, cmdStopListening, struct{}{}, nil)
}

// GenerateNote runs note generation for the given transcript and returns the
// structured result.
func (c *Client) GenerateNote(
	ctx context.Context,
	transcript string,
	events []domain.AudioEvent,
	options domain.NoteOptions,
	sessionID string,
) (domain.NoteResult, error) {
	args := struct {
		Transcript  string              `json:"transcript"`
		AudioEvents []domain.AudioEvent `json:"audio_events,omitempty"`
		Options     domain.NoteOptions  `json:"options"`
		SessionID   string              `json:"session_id,omitempty"`
	}{Transcript: transcript, AudioEvents: events, Options: options, SessionID: sessionID}

	var result domain.NoteResult
	if err := c.invoke(ctx, cmdGenerateNote, args, &result); err != nil {
		return domain.NoteResult{}, err
	}
	if len(result.Notes) == 0 {
		return domain.NoteResult{}, fmt.Errorf("generation produced no notes")
	}
	return result, nil
}

// QuickSync creates a placeholder patient plus encounter and uploads the
// transcript, and the note when present, in one backend call.
func (c *Client) QuickSync(ctx context.Context, transcript string, soapNote string, durationMS int64) (SyncResult, error) {
	args := struct {
		Transcript        string `json:"transcript"`
		SoapNote          string `json:"soap_note,omitempty"`
		SessionDurationMS int64  `json:"session_duration_ms"`
	}{Transcript: transcript, SoapNote: soapNote, SessionDurationMS: durationMS}

	var result SyncResult
	if err := c.invoke(ctx, cmdQuickSync, args, &result); err != nil {
		return SyncResult{}, err
	}
	return result, nil
}

// MultiPatientQuickSync creates one patient and encounter per note in the
// generation result.
func (c *Client) MultiPatientQuickSync(ctx context.Context, transcript string, result domain.NoteResult) (MultiSyncResult, error) {
	args := struct {
		Transcript string            `json:"transcript"`
		SoapResult domain.NoteResult `json:"soap_result"`
	}{Transcript: transcript, SoapResult: result}

	var reply MultiSyncResult
	if err := c.invoke(ctx, cmdMultiQuickSync, args, &reply); err != nil {
		return MultiSyncResult{}, err
	}
	return reply, nil
}

// AddSoapToEncounter attaches a note to an already-synced encounter.
func (c *Client) AddSoapToEncounter(ctx context.Context, encounterFHIRID string, soapNote string) error {
	args := struct {
		EncounterFHIRID string `json:"encounter_fhir_id"`
		SoapNote        string `json:"soap_note"`
	}{EncounterFHIRID: encounterFHIRID, SoapNote: soapNote}
	return c.invoke(ctx, cmdAddSoap, args, nil)
}

// CheckConnection probes backend and EMR reachability. Best effort; callers
// treat failures as "not connected" rather than errors worth surfacing.
func (c *Client) CheckConnection(ctx context.Context) (domain.Connectivity, error) {
	var conn domain.Connectivity
	if err := c.invoke(ctx, cmdCheckConnection, struct{}{}, &conn); err != nil {
		return domain.Connectivity{}, err
	}
	return conn, nil
}

// ClinicalChat sends the chat thread and returns the assistant reply.
func (c *Client) ClinicalChat(ctx context.Context, messages []domain.ChatMessage) (domain.ChatMessage, error) {
	args := struct {
		Messages []domain.ChatMessage `json:"messages"`
	}{Messages: messages}

	var reply domain.ChatMessage
	if err := c.invoke(ctx, cmdClinicalChat, args, &reply); err != nil {
		return domain.ChatMessage{}, err
	}
	return reply, nil
}

func (c *Client) invoke(ctx context.Context, command string, args any, reply any) error {
	if err := c.gw.Invoke(ctx, command, args, reply); err != nil {
		c.log.Warn("backend command failed", "command", command, "error", err)
		return fmt.Errorf("%s: %w", command, err)
	}
	return nil
}
