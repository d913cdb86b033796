package bootstrap

import (
	"context"
	"log/slog"
	"time"

	"scribedock/internal/backend"
	"scribedock/internal/config"
	"scribedock/internal/ports"
	"scribedock/internal/settings"
	"scribedock/internal/usecase"
)

// Services is the assembled runtime graph.
type Services struct {
	Config        config.Config
	Settings      *settings.Store
	Client        *backend.Client
	Controller    *usecase.SessionController
	AutoDetect    *usecase.AutoDetectCoordinator
	NoteSync      *usecase.NoteSyncCoordinator
	Chat          *usecase.ChatCoordinator
	Subscriptions *usecase.SubscriptionManager
}

type systemClock struct{}

func (systemClock) NowMS() int64 { return time.Now().UnixMilli() }

// Build wires the orchestration layer for the current runtime. The sink
// receives derived state for the webview; gateway and stream are the two
// channels into the backend.
func Build(cfg config.Config, gateway ports.Gateway, stream ports.EventStream, sink ports.PanelSink, log *slog.Logger) (Services, error) {
	if log == nil {
		log = slog.Default()
	}

	store, err := settings.NewStore(cfg.Settings.Path, log)
	if err != nil {
		return Services{}, err
	}

	client := backend.NewClient(gateway, log)
	controller := usecase.NewSessionController(client, systemClock{}, log, cfg.Session.TickInterval)
	autodetect := usecase.NewAutoDetectCoordinator(client, controller, store, sink, log)
	notesync := usecase.NewNoteSyncCoordinator(client, store, sink, log)
	chat := usecase.NewChatCoordinator(client, sink, log)
	subs := usecase.NewSubscriptionManager(stream, controller, autodetect, log)

	controller.AddResetHook(notesync.OnReset)
	controller.AddListener(func(snap usecase.Snapshot) {
		sink.PanelChanged(snap.Status, snap.Mode)
		sink.TranscriptChanged(snap.Transcript, snap.Edited)
		notesync.OnSnapshot(context.Background(), snap)
		autodetect.Reconcile(context.Background())
	})
	store.Watch(func() {
		autodetect.Reconcile(context.Background())
	})

	return Services{
		Config:        cfg,
		Settings:      store,
		Client:        client,
		Controller:    controller,
		AutoDetect:    autodetect,
		NoteSync:      notesync,
		Chat:          chat,
		Subscriptions: subs,
	}, nil
}
