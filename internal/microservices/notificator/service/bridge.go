package service

import (
	"context"
	"encoding/json"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"restaurant-pos/internal/common/logger"
	"restaurant-pos/internal/common/metrics"
	"restaurant-pos/internal/connections/rabbitmq"
)

// Publisher is satisfied by *rabbitmq.Client.
type Publisher interface {
	Publish(ctx context.Context, exchange, key string, body []byte, headers amqp.Table, contentType string, persistent bool) error
}

// Bridge mirrors notifier events onto the notifications exchange. Events are
// queued in memory and published by Run; a full queue drops.
type Bridge struct {
	pub     Publisher
	queue   chan Frame
	timeout time.Duration
	metrics *metrics.Metrics
	lg      *logger.Logger
}

func NewBridge(pub Publisher, buffer int, m *metrics.Metrics) *Bridge {
	if buffer <= 0 {
		buffer = 256
	}
	return &Bridge{
		pub:     pub,
		queue:   make(chan Frame, buffer),
		timeout: 5 * time.Second,
		metrics: m,
		lg:      logger.New("notification-bridge"),
	}
}

func (b *Bridge) Publish(channel, event string, hint map[string]any) {
	f := Frame{Type: FrameEvent, Channel: channel, Event: event, Hint: hint, At: time.Now().UTC()}
	select {
	case b.queue <- f:
	default:
		if b.metrics != nil {
			b.metrics.EventsDropped.WithLabelValues("amqp").Inc()
		}
		b.lg.Warn("bridge_queue_full", map[string]any{"channel": channel, "event": event})
	}
}

// Run publishes queued events until ctx is done.
func (b *Bridge) Run(ctx context.Context) {
	b.lg.Info("bridge_started", map[string]any{"exchange": rabbitmq.NotificationsExchange})
	for {
		select {
		case <-ctx.Done():
			b.lg.Info("bridge_stopped", nil)
			return
		case f := <-b.queue:
			if err := b.send(ctx, f); err != nil {
				b.lg.Error("bridge_publish_failed", err, map[string]any{"channel": f.Channel, "event": f.Event})
			}
		}
	}
}

func (b *Bridge) send(ctx context.Context, f Frame) error {
	body, err := json.Marshal(f)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()
	headers := amqp.Table{
		"x-source":  "restaurant-pos",
		"x-channel": f.Channel,
		"x-event":   f.Event,
	}
	return b.pub.Publish(ctx, rabbitmq.NotificationsExchange, "", body, headers, "application/json", false)
}
