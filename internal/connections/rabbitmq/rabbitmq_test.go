package rabbitmq

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"restaurant-pos/internal/config"
)

func TestURL(t *testing.T) {
	tests := []struct {
		name string
		cfg  config.RabbitMQConfig
		want string
	}{
		{
			name: "default vhost",
			cfg:  config.RabbitMQConfig{Host: "mq", Port: 5672, User: "pos", Password: "secret"},
			want: "amqp://pos:secret@mq:5672/%2F",
		},
		{
			name: "named vhost over tls",
			cfg:  config.RabbitMQConfig{Host: "mq", Port: 5671, User: "pos", Password: "p@ss", VHost: "shop", UseTLS: true},
			want: "amqps://pos:p%40ss@mq:5671/shop",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, URL(tt.cfg))
		})
	}
}
