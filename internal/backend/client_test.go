package backend

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"scribedock/internal/domain"
)

type stubGateway struct {
	lastCommand string
	lastArgs    []byte
	reply       any
	err         error
}

func (s *stubGateway) Invoke(_ context.Context, command string, args any, reply any) error {
	s.lastCommand = command
	s.lastArgs, _ = json.Marshal(args)
	if s.err != nil {
		return s.err
	}
	if reply != nil && s.reply != nil {
		raw, err := json.Marshal(s.reply)
		if err != nil {
			return err
		}
		return json.Unmarshal(raw, reply)
	}
	return nil
}

func TestClientWrapsErrorsWithCommandName(t *testing.T) {
	t.Parallel()

	gw := &stubGateway{err: errors.New("backend gone")}
	client := NewClient(gw, nil)

	err := client.StopSession(context.Background())
	if err == nil || !strings.Contains(err.Error(), "stop_session") {
		t.Fatalf("expected error naming the command, got %v", err)
	}
	if !errors.Is(err, gw.err) {
		t.Fatalf("expected wrapped cause, got %v", err)
	}
}

func TestClientStartSessionSendsDevice(t *testing.T) {
	t.Parallel()

	gw := &stubGateway{}
	client := NewClient(gw, nil)

	if err := client.StartSession(context.Background(), "usb-mic"); err != nil {
		t.Fatalf("StartSession: %v", err)
	}
	var args struct {
		DeviceID string `json:"device_id"`
	}
	if err := json.Unmarshal(gw.lastArgs, &args); err != nil {
		t.Fatalf("decode args: %v", err)
	}
	if args.DeviceID != "usb-mic" {
		t.Fatalf("device_id = %q", args.DeviceID)
	}
}

func TestClientGenerateNoteRejectsEmptyResult(t *testing.T) {
	t.Parallel()

	gw := &stubGateway{reply: domain.NoteResult{GeneratedAt: "now", ModelUsed: "m"}}
	client := NewClient(gw, nil)

	_, err := client.GenerateNote(context.Background(), "transcript", nil, domain.NoteOptions{}, "sess")
	if err == nil {
		t.Fatalf("expected error for a result with no notes")
	}
}

func TestClientQuickSyncArgs(t *testing.T) {
	t.Parallel()

	gw := &stubGateway{reply: SyncResult{EncounterID: "enc", EncounterFHIRID: "Encounter/1"}}
	client := NewClient(gw, nil)

	result, err := client.QuickSync(context.Background(), "words", "note body", 42_000)
	if err != nil {
		t.Fatalf("QuickSync: %v", err)
	}
	if result.EncounterFHIRID != "Encounter/1" {
		t.Fatalf("unexpected result %+v", result)
	}
	var args struct {
		Transcript        string `json:"transcript"`
		SoapNote          string `json:"soap_note"`
		SessionDurationMS int64  `json:"session_duration_ms"`
	}
	if err := json.Unmarshal(gw.lastArgs, &args); err != nil {
		t.Fatalf("decode args: %v", err)
	}
	if args.Transcript != "words" || args.SoapNote != "note body" || args.SessionDurationMS != 42_000 {
		t.Fatalf("unexpected args %+v", args)
	}
}
