package port

import (
	"context"
	"errors"
)

// ErrResourcesLost means the broker dropped a session's channel, and with it the
// queue, consumer and every binding. The next registration starts from scratch.
var ErrResourcesLost = errors.New("session broker resources lost")

// Delivery is one message handed to a session by its broker consumer.
type Delivery struct {
	RoutingKey string
	Body       []byte
}

// DeliveryHandler receives deliveries for a single session, one at a time.
type DeliveryHandler func(Delivery)

// EventBridge manages the broker resources owned by each session id.
// Calls for the same id are never issued concurrently.
type EventBridge interface {
	RegisterConsumer(ctx context.Context, id string, handler DeliveryHandler) (string, error)
	Subscribe(ctx context.Context, id, routingKey string) error
	Unsubscribe(ctx context.Context, id, routingKey string) error
	Teardown(id string)
}

// EventPublisher sends an event into the relay's topic exchange.
type EventPublisher interface {
	Publish(ctx context.Context, routingKey string, body []byte) error
}

// TokenVerifier validates the token presented by the auth command.
type TokenVerifier interface {
	Verify(token string) error
}
