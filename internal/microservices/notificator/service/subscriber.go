package service

import (
	"context"
	"encoding/json"
	"errors"

	amqp "github.com/rabbitmq/amqp091-go"

	"restaurant-pos/internal/common/logger"
	"restaurant-pos/internal/connections/rabbitmq"
)

// Consumer is satisfied by *rabbitmq.Client.
type Consumer interface {
	Consume(exchange, consumer string) (<-chan amqp.Delivery, error)
}

// SubscriberService tails the notifications exchange and logs every event.
type SubscriberService struct {
	consumer Consumer
	lg       *logger.Logger
}

func NewSubscriberService(consumer Consumer) *SubscriberService {
	return &SubscriberService{consumer: consumer, lg: logger.New("notification-subscriber")}
}

func (s *SubscriberService) Run(ctx context.Context) error {
	msgs, err := s.consumer.Consume(rabbitmq.NotificationsExchange, "notification-subscriber")
	if err != nil {
		return err
	}
	s.lg.Info("subscriber_started", map[string]any{"exchange": rabbitmq.NotificationsExchange})
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-msgs:
			if !ok {
				return errors.New("delivery channel closed")
			}
			s.handle(msg)
		}
	}
}

func (s *SubscriberService) handle(msg amqp.Delivery) {
	var f Frame
	if err := json.Unmarshal(msg.Body, &f); err != nil {
		s.lg.Warn("notification_malformed", map[string]any{"body": string(msg.Body)})
		return
	}
	s.lg.Info("notification_received", map[string]any{
		"channel": f.Channel,
		"event":   f.Event,
		"hint":    f.Hint,
		"at":      f.At,
	})
}
