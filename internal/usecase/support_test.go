package usecase

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"

	"scribedock/internal/backend"
	"scribedock/internal/domain"
	"scribedock/internal/ports"
)

type gatewayCall struct {
	command string
	args    []byte
}

// fakeGateway records every command and answers from canned replies. A
// command listed in blockOn parks until its gate is closed or the context is
// cancelled.
type fakeGateway struct {
	mu      sync.Mutex
	calls   []gatewayCall
	replies map[string]any
	errs    map[string]error
	blockOn map[string]chan struct{}
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{
		replies: make(map[string]any),
		errs:    make(map[string]error),
		blockOn: make(map[string]chan struct{}),
	}
}

func (g *fakeGateway) Invoke(ctx context.Context, command string, args any, reply any) error {
	encoded, err := json.Marshal(args)
	if err != nil {
		return err
	}

	g.mu.Lock()
	g.calls = append(g.calls, gatewayCall{command: command, args: encoded})
	gate := g.blockOn[command]
	cmdErr := g.errs[command]
	canned := g.replies[command]
	g.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if cmdErr != nil {
		return cmdErr
	}
	if reply != nil && canned != nil {
		raw, err := json.Marshal(canned)
		if err != nil {
			return err
		}
		return json.Unmarshal(raw, reply)
	}
	return nil
}

func (g *fakeGateway) count(command string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	n := 0
	for _, call := range g.calls {
		if call.command == command {
			n++
		}
	}
	return n
}

func (g *fakeGateway) lastArgs(command string) []byte {
	g.mu.Lock()
	defer g.mu.Unlock()
	for i := len(g.calls) - 1; i >= 0; i-- {
		if g.calls[i].command == command {
			return g.calls[i].args
		}
	}
	return nil
}

type fakeSettings struct {
	mu        sync.Mutex
	autoStart bool
	autoSync  bool
	device    string
	watchers  []func()
}

func (f *fakeSettings) AutoStartEnabled() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.autoStart
}

func (f *fakeSettings) AutoSyncEnabled() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.autoSync
}

func (f *fakeSettings) InputDevice() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.device
}

func (f *fakeSettings) Watch(onChange func()) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.watchers = append(f.watchers, onChange)
}

func (f *fakeSettings) set(autoStart, autoSync bool) {
	f.mu.Lock()
	f.autoStart = autoStart
	f.autoSync = autoSync
	watchers := f.watchers
	f.mu.Unlock()
	for _, w := range watchers {
		w()
	}
}

type panelErr struct {
	code   domain.ErrorCode
	detail string
}

type fakeSink struct {
	mu         sync.Mutex
	panels     []domain.SessionStatus
	modes      []domain.UIMode
	autoDetect []domain.AutoDetectState
	indicators []domain.SyncIndicator
	errors     []panelErr
}

func (f *fakeSink) PanelChanged(status domain.SessionStatus, mode domain.UIMode) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.panels = append(f.panels, status)
	f.modes = append(f.modes, mode)
}

func (f *fakeSink) TranscriptChanged(domain.TranscriptUpdate, string) {}

func (f *fakeSink) AutoDetectChanged(state domain.AutoDetectState) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.autoDetect = append(f.autoDetect, state)
}

func (f *fakeSink) SyncIndicatorChanged(indicator domain.SyncIndicator) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.indicators = append(f.indicators, indicator)
}

func (f *fakeSink) PanelError(code domain.ErrorCode, detail string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errors = append(f.errors, panelErr{code: code, detail: detail})
}

func (f *fakeSink) snapshotErrors() []panelErr {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]panelErr, len(f.errors))
	copy(out, f.errors)
	return out
}

type fakeClock struct {
	ms atomic.Int64
}

func (f *fakeClock) NowMS() int64 { return f.ms.Load() }

func (f *fakeClock) advance(deltaMS int64) { f.ms.Add(deltaMS) }

var _ ports.Gateway = (*fakeGateway)(nil)
var _ ports.SettingsSource = (*fakeSettings)(nil)
var _ ports.PanelSink = (*fakeSink)(nil)
var _ ports.Clock = (*fakeClock)(nil)

func newTestController(gw *fakeGateway, clock ports.Clock) *SessionController {
	return NewSessionController(backend.NewClient(gw, nil), clock, nil, 0)
}
