package ports

import (
	"context"

	"scribedock/internal/domain"
)

// Gateway is the async request/response channel to the capture backend.
// Args are JSON-marshalled; the reply, if any, is JSON-unmarshalled into
// reply. Implementations must never panic on backend failure; callers always
// receive an error value.
type Gateway interface {
	Invoke(ctx context.Context, command string, args any, reply any) error
}

// EventStream delivers backend push events for a named topic. The returned
// unbind func must be safe to call exactly once, at any time, including
// before the subscription has fully settled.
type EventStream interface {
	Subscribe(topic string, handler func(payload []byte)) (func(), error)
}

// PanelSink receives derived panel state destined for the webview.
type PanelSink interface {
	PanelChanged(snapshot domain.SessionStatus, mode domain.UIMode)
	TranscriptChanged(update domain.TranscriptUpdate, edited string)
	AutoDetectChanged(state domain.AutoDetectState)
	SyncIndicatorChanged(indicator domain.SyncIndicator)
	PanelError(code domain.ErrorCode, detail string)
}

// Clock abstracts wall time so the elapsed ticker is testable.
type Clock interface {
	NowMS() int64
}

// SettingsSource exposes the user-tunable flags the coordinators react to.
// Watch registers a callback invoked after every settings change.
type SettingsSource interface {
	AutoStartEnabled() bool
	AutoSyncEnabled() bool
	InputDevice() string
	Watch(onChange func())
}
