// Package bridge adapts the Wails runtime event system into the command
// gateway and push-event stream the orchestration layer consumes. Commands
// travel as correlated request/reply event pairs; push topics map directly to
// runtime event subscriptions.
package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/wailsapp/wails/v2/pkg/runtime"
)

const (
	commandEvent     = "scribedock:command"
	replyEventPrefix = "scribedock:reply:"
)

type commandEnvelope struct {
	ID      string          `json:"id"`
	Command string          `json:"command"`
	Args    json.RawMessage `json:"args"`
}

type replyEnvelope struct {
	Ok     bool            `json:"ok"`
	Error  string          `json:"error,omitempty"`
	Result json.RawMessage `json:"result,omitempty"`
}

// Bridge implements ports.Gateway and ports.EventStream over the Wails
// runtime bound to ctx.
type Bridge struct {
	ctx     context.Context
	timeout time.Duration
	log     *slog.Logger
}

func New(ctx context.Context, timeout time.Duration, log *slog.Logger) *Bridge {
	if log == nil {
		log = slog.Default()
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Bridge{ctx: ctx, timeout: timeout, log: log}
}

// Invoke sends one command envelope and waits for its correlated reply.
func (b *Bridge) Invoke(ctx context.Context, command string, args any, reply any) error {
	encoded, err := json.Marshal(args)
	if err != nil {
		return fmt.Errorf("failed to encode %s args: %w", command, err)
	}

	id := uuid.NewString()
	replies := make(chan replyEnvelope, 1)

	unbind := runtime.EventsOnce(b.ctx, replyEventPrefix+id, func(data ...interface{}) {
		var envelope replyEnvelope
		if len(data) > 0 {
			raw, err := json.Marshal(data[0])
			if err == nil {
				_ = json.Unmarshal(raw, &envelope)
			}
		}
		replies <- envelope
	})
	defer unbind()

	runtime.EventsEmit(b.ctx, commandEvent, commandEnvelope{ID: id, Command: command, Args: encoded})

	timer := time.NewTimer(b.timeout)
	defer timer.Stop()

	select {
	case envelope := <-replies:
		if !envelope.Ok {
			return fmt.Errorf("backend rejected %s: %s", command, envelope.Error)
		}
		if reply == nil || len(envelope.Result) == 0 {
			return nil
		}
		if err := json.Unmarshal(envelope.Result, reply); err != nil {
			return fmt.Errorf("failed to decode %s reply: %w", command, err)
		}
		return nil
	case <-timer.C:
		return fmt.Errorf("%s timed out after %s", command, b.timeout)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Subscribe binds a push-event topic. The returned unbind delegates to the
// Wails runtime and is safe to call exactly once at any time.
func (b *Bridge) Subscribe(topic string, handler func(payload []byte)) (func(), error) {
	unbind := runtime.EventsOn(b.ctx, topic, func(data ...interface{}) {
		if len(data) == 0 {
			return
		}
		payload, err := json.Marshal(data[0])
		if err != nil {
			b.log.Warn("undecodable push event", "topic", topic, "error", err)
			return
		}
		handler(payload)
	})
	return unbind, nil
}
