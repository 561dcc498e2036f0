package messaging

import "context"

// Publisher sends JSON payloads to a routing key
type Publisher interface {
	Publish(ctx context.Context, routingKey string, payload interface{}) error
	IsConnected() bool
}
