// Package stream distributes machine events to live subscribers.
package stream

import (
	"sync"
	"time"

	"trend-trader/internal/models"
)

// HubConfig holds configuration for the event hub.
type HubConfig struct {
	// SubscriberBufferSize is the size of each subscriber's channel buffer.
	SubscriberBufferSize int
}

// DefaultHubConfig returns the default hub configuration.
func DefaultHubConfig() HubConfig {
	return HubConfig{
		SubscriberBufferSize: 100,
	}
}

// Hub fans transition events out to subscribers. Sends never block the
// publisher: a subscriber whose buffer is full misses the event.
type Hub struct {
	config      HubConfig
	mu          sync.RWMutex
	subscribers []*Subscriber
	closed      bool

	metricsMu       sync.Mutex
	eventsReceived  uint64
	eventsDelivered uint64
	eventsDropped   uint64
}

// Subscriber represents a channel subscriber with metadata.
type Subscriber struct {
	ID           string
	Channel      chan models.Event
	DroppedCount int
	CreatedAt    time.Time
}

// NewHub creates a new hub with default configuration.
func NewHub() *Hub {
	return NewHubWithConfig(DefaultHubConfig())
}

// NewHubWithConfig creates a new hub with custom configuration.
func NewHubWithConfig(config HubConfig) *Hub {
	if config.SubscriberBufferSize <= 0 {
		config.SubscriberBufferSize = DefaultHubConfig().SubscriberBufferSize
	}
	return &Hub{config: config}
}

// Subscribe adds a subscriber and returns the channel it receives on. The
// channel is closed by Unsubscribe or Close.
func (h *Hub) Subscribe(id string) <-chan models.Event {
	ch := make(chan models.Event, h.config.SubscriberBufferSize)

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		close(ch)
		return ch
	}
	h.subscribers = append(h.subscribers, &Subscriber{
		ID:        id,
		Channel:   ch,
		CreatedAt: time.Now(),
	})
	return ch
}

// Unsubscribe removes a subscriber channel.
func (h *Hub) Unsubscribe(ch <-chan models.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for i, sub := range h.subscribers {
		if sub.Channel == ch {
			close(sub.Channel)
			h.subscribers = append(h.subscribers[:i], h.subscribers[i+1:]...)
			return
		}
	}
}

// Record implements trading.EventSink.
func (h *Hub) Record(ev models.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}

	var delivered, dropped uint64
	for _, sub := range h.subscribers {
		select {
		case sub.Channel <- ev:
			delivered++
		default:
			sub.DroppedCount++
			dropped++
		}
	}

	h.metricsMu.Lock()
	h.eventsReceived++
	h.eventsDelivered += delivered
	h.eventsDropped += dropped
	h.metricsMu.Unlock()
}

// Close closes every subscriber channel. Later events are discarded.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for _, sub := range h.subscribers {
		close(sub.Channel)
	}
	h.subscribers = nil
}

// SubscriberCount returns the number of live subscribers.
func (h *Hub) SubscriberCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers)
}

// HubMetrics holds hub counters.
type HubMetrics struct {
	EventsReceived  uint64
	EventsDelivered uint64
	EventsDropped   uint64
	Subscribers     int
}

// GetMetrics returns the hub counters.
func (h *Hub) GetMetrics() HubMetrics {
	subs := h.SubscriberCount()
	h.metricsMu.Lock()
	defer h.metricsMu.Unlock()
	return HubMetrics{
		EventsReceived:  h.eventsReceived,
		EventsDelivered: h.eventsDelivered,
		EventsDropped:   h.eventsDropped,
		Subscribers:     subs,
	}
}
