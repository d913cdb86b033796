package usecase

import (
	"encoding/json"
	"log/slog"
	"sync"

	"scribedock/internal/domain"
	"scribedock/internal/ports"
)

// Push-event topics emitted by the backend.
const (
	TopicSessionStatus   = "session_status"
	TopicTranscript      = "transcript_update"
	TopicBiomarkers      = "biomarker_update"
	TopicAudioQuality    = "audio_quality"
	TopicListeningEvents = "listening_event"
)

// topicQueueSize bounds each per-topic queue. Payloads replace prior state
// wholesale, so dropping the oldest entry under pressure is safe.
const topicQueueSize = 64

// SubscriptionManager owns the push-event subscriptions for one mounted
// session. Each topic feeds a bounded queue drained by a single dispatch
// goroutine, preserving per-topic ordering without imposing any cross-topic
// order.
type SubscriptionManager struct {
	stream     ports.EventStream
	controller *SessionController
	autodetect *AutoDetectCoordinator
	log        *slog.Logger

	mu      sync.Mutex
	closed  bool
	unbinds []func()

	queues map[string]chan []byte
	stop   chan struct{}
	done   chan struct{}
}

func NewSubscriptionManager(
	stream ports.EventStream,
	controller *SessionController,
	autodetect *AutoDetectCoordinator,
	log *slog.Logger,
) *SubscriptionManager {
	if log == nil {
		log = slog.Default()
	}
	topics := []string{
		TopicSessionStatus,
		TopicTranscript,
		TopicBiomarkers,
		TopicAudioQuality,
		TopicListeningEvents,
	}
	queues := make(map[string]chan []byte, len(topics))
	for _, topic := range topics {
		queues[topic] = make(chan []byte, topicQueueSize)
	}
	return &SubscriptionManager{
		stream:     stream,
		controller: controller,
		autodetect: autodetect,
		log:        log,
		queues:     queues,
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
	}
}

// Open starts the dispatch loop and subscribes every topic. Subscription
// setup runs asynchronously; a failed subscribe is logged and not retried,
// since the backend guarantees eventual delivery once available.
func (m *SubscriptionManager) Open() {
	go m.dispatch()

	go func() {
		for topic, queue := range m.queues {
			topic, queue := topic, queue
			unbind, err := m.stream.Subscribe(topic, func(payload []byte) {
				m.enqueue(topic, queue, payload)
			})
			if err != nil {
				m.log.Warn("subscribe failed", "topic", topic, "error", err)
				continue
			}
			m.register(unbind)
		}
	}()
}

// register records an unbind token, or invokes it immediately when the
// manager was closed while the subscribe call was still pending.
func (m *SubscriptionManager) register(unbind func()) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		unbind()
		return
	}
	m.unbinds = append(m.unbinds, unbind)
	m.mu.Unlock()
}

// Close tears down every subscription exactly once and stops the dispatch
// loop. Safe to call while Open's subscription setup is still in flight.
func (m *SubscriptionManager) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	unbinds := m.unbinds
	m.unbinds = nil
	m.mu.Unlock()

	for _, unbind := range unbinds {
		unbind()
	}
	close(m.stop)
	<-m.done
}

// enqueue adds a payload to a topic queue, discarding the oldest entry when
// the queue is full so the latest event always lands.
func (m *SubscriptionManager) enqueue(topic string, queue chan []byte, payload []byte) {
	for {
		select {
		case queue <- payload:
			return
		default:
		}
		select {
		case stale := <-queue:
			m.log.Warn("topic queue full, dropping oldest event", "topic", topic, "bytes", len(stale))
		default:
		}
	}
}

func (m *SubscriptionManager) dispatch() {
	defer close(m.done)
	for {
		select {
		case <-m.stop:
			return
		case payload := <-m.queues[TopicSessionStatus]:
			m.applyStatus(payload)
		case payload := <-m.queues[TopicTranscript]:
			m.applyTranscript(payload)
		case payload := <-m.queues[TopicBiomarkers]:
			m.applyBiomarkers(payload)
		case payload := <-m.queues[TopicAudioQuality]:
			m.applyAudioQuality(payload)
		case payload := <-m.queues[TopicListeningEvents]:
			m.applyListening(payload)
		}
	}
}

func (m *SubscriptionManager) applyStatus(payload []byte) {
	var status domain.SessionStatus
	if err := json.Unmarshal(payload, &status); err != nil {
		m.log.Warn("malformed session_status payload", "error", err)
		return
	}
	m.controller.ApplyStatus(status)
}

func (m *SubscriptionManager) applyTranscript(payload []byte) {
	var update domain.TranscriptUpdate
	if err := json.Unmarshal(payload, &update); err != nil {
		m.log.Warn("malformed transcript_update payload", "error", err)
		return
	}
	m.controller.ApplyTranscript(update)
}

func (m *SubscriptionManager) applyBiomarkers(payload []byte) {
	var update domain.BiomarkerUpdate
	if err := json.Unmarshal(payload, &update); err != nil {
		m.log.Warn("malformed biomarker_update payload", "error", err)
		return
	}
	m.controller.ApplyBiomarkers(update)
}

func (m *SubscriptionManager) applyAudioQuality(payload []byte) {
	var update domain.AudioQualitySnapshot
	if err := json.Unmarshal(payload, &update); err != nil {
		m.log.Warn("malformed audio_quality payload", "error", err)
		return
	}
	m.controller.ApplyAudioQuality(update)
}

func (m *SubscriptionManager) applyListening(payload []byte) {
	if m.autodetect == nil {
		return
	}
	m.autodetect.HandleListeningEvent(payload)
}
