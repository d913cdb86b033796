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

// ChatCoordinator manages the clinical chat thread. Only one request is
// outstanding at a time: sending a new message cancels the previous request
// and its result is discarded.
type ChatCoordinator struct {
	client *backend.Client
	sink   ports.PanelSink
	log    *slog.Logger

	mu       sync.Mutex
	messages []domain.ChatMessage
	cancel   context.CancelFunc
	seq      int

	wg sync.WaitGroup
}

func NewChatCoordinator(client *backend.Client, sink ports.PanelSink, log *slog.Logger) *ChatCoordinator {
	if log == nil {
		log = slog.Default()
	}
	return &ChatCoordinator{client: client, sink: sink, log: log}
}

// Messages returns a copy of the chat thread.
func (c *ChatCoordinator) Messages() []domain.ChatMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]domain.ChatMessage(nil), c.messages...)
}

// Send appends a user message and requests the assistant reply. Any
// still-outstanding request is cancelled first.
func (c *ChatCoordinator) Send(ctx context.Context, content string) {
	c.mu.Lock()
	if c.cancel != nil {
		c.cancel()
	}
	reqCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.seq++
	seq := c.seq
	c.messages = append(c.messages, domain.ChatMessage{Role: "user", Content: content})
	thread := append([]domain.ChatMessage(nil), c.messages...)
	c.mu.Unlock()

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer cancel()

		reply, err := c.client.ClinicalChat(reqCtx, thread)

		c.mu.Lock()
		stale := seq != c.seq
		c.mu.Unlock()
		if stale || errors.Is(reqCtx.Err(), context.Canceled) {
			return
		}

		if err != nil {
			c.sink.PanelError(domain.ErrorCodeChat, err.Error())
			return
		}
		c.mu.Lock()
		c.messages = append(c.messages, reply)
		c.mu.Unlock()
	}()
}

// Clear drops the thread and cancels outstanding work.
func (c *ChatCoordinator) Clear() {
	c.mu.Lock()
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	c.seq++
	c.messages = nil
	c.mu.Unlock()
}

// Wait blocks until outstanding chat requests settle.
func (c *ChatCoordinator) Wait() {
	c.wg.Wait()
}
