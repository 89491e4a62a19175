package service

import (
	"sync"
	"time"

	"restaurant-pos/internal/apperr"
	"restaurant-pos/internal/common/logger"
	"restaurant-pos/internal/common/metrics"
	"restaurant-pos/internal/domain"
)

// Frame is what display clients receive. Event frames carry a hint only;
// clients refetch the entity over REST.
type Frame struct {
	Type    string         `json:"type"`
	Channel string         `json:"channel,omitempty"`
	Event   string         `json:"event,omitempty"`
	Hint    map[string]any `json:"hint,omitempty"`
	Message string         `json:"message,omitempty"`
	At      time.Time      `json:"at"`
}

const (
	FrameEvent  = "event"
	FrameJoined = "joined"
	FrameLeft   = "left"
	FrameError  = "error"
)

// Subscriber is one connected display.
type Subscriber struct {
	send     chan Frame
	channels map[string]bool
}

func (s *Subscriber) Frames() <-chan Frame { return s.send }

// Hub fans events out to subscribers joined to a channel. Publish never
// blocks: a subscriber whose buffer is full misses the event.
type Hub struct {
	mu      sync.RWMutex
	subs    map[*Subscriber]struct{}
	buffer  int
	metrics *metrics.Metrics
	lg      *logger.Logger
	now     func() time.Time
}

func NewHub(buffer int, m *metrics.Metrics) *Hub {
	if buffer <= 0 {
		buffer = 64
	}
	return &Hub{
		subs:    make(map[*Subscriber]struct{}),
		buffer:  buffer,
		metrics: m,
		lg:      logger.New("notifier"),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

func (h *Hub) Subscribe() *Subscriber {
	s := &Subscriber{send: make(chan Frame, h.buffer), channels: make(map[string]bool)}
	h.mu.Lock()
	h.subs[s] = struct{}{}
	h.mu.Unlock()
	return s
}

// Unsubscribe removes s and closes its frame channel.
func (h *Hub) Unsubscribe(s *Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.subs[s]; !ok {
		return
	}
	delete(h.subs, s)
	close(s.send)
}

func validChannel(channel string) bool {
	return channel == domain.ChannelKitchen || channel == domain.ChannelOrders
}

func (h *Hub) Join(s *Subscriber, channel string) error {
	if !validChannel(channel) {
		return apperr.Validation("unknown channel %q", channel)
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.subs[s]; !ok {
		return apperr.InvalidState("subscriber is closed")
	}
	s.channels[channel] = true
	return nil
}

func (h *Hub) Leave(s *Subscriber, channel string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(s.channels, channel)
}

// Deliver queues a frame for one subscriber without blocking.
func (h *Hub) Deliver(s *Subscriber, f Frame) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if _, ok := h.subs[s]; !ok {
		return false
	}
	if f.At.IsZero() {
		f.At = h.now()
	}
	select {
	case s.send <- f:
		return true
	default:
		return false
	}
}

func (h *Hub) Publish(channel, event string, hint map[string]any) {
	f := Frame{Type: FrameEvent, Channel: channel, Event: event, Hint: hint, At: h.now()}

	h.mu.RLock()
	dropped := 0
	for s := range h.subs {
		if !s.channels[channel] {
			continue
		}
		select {
		case s.send <- f:
		default:
			dropped++
		}
	}
	h.mu.RUnlock()

	if h.metrics != nil {
		h.metrics.EventsPublished.WithLabelValues(channel, event).Inc()
		if dropped > 0 {
			h.metrics.EventsDropped.WithLabelValues(channel).Add(float64(dropped))
		}
	}
	if dropped > 0 {
		h.lg.Warn("events_dropped", map[string]any{"channel": channel, "event": event, "subscribers": dropped})
	}
}

// Subscribers returns the number of connected displays.
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Fanout publishes every event to each notifier in order.
type Fanout []domain.Notifier

func (f Fanout) Publish(channel, event string, hint map[string]any) {
	for _, n := range f {
		n.Publish(channel, event, hint)
	}
}
