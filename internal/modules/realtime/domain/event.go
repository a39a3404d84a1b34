package domain

import (
	"fmt"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

const (
	ExchangeName = "events"
	ExchangeKind = "topic"

	EventFieldSessionID  = "session_id"
	EventFieldRoutingKey = "routing_key"

	// MaxRoutingKeyLength is the AMQP short string limit.
	MaxRoutingKeyLength = 255
)

// EventOutcome tells the push path what to do with a broker delivery.
type EventOutcome int

const (
	EventForward EventOutcome = iota
	EventSuppressed
)

// PrepareEvent turns a broker body into the frame pushed to a session whose correlation
// id is ownSessionID. Events whose session_id matches it are suppressed, since the
// originating client already applied the change locally.
func PrepareEvent(body []byte, routingKey, ownSessionID string) ([]byte, EventOutcome, error) {
	if !gjson.ValidBytes(body) {
		return nil, EventSuppressed, fmt.Errorf("%w: invalid json", ErrMalformedEvent)
	}
	root := gjson.ParseBytes(body)
	if !root.IsObject() {
		return nil, EventSuppressed, fmt.Errorf("%w: expected object", ErrMalformedEvent)
	}
	if origin := member(root, EventFieldSessionID); origin.Type == gjson.String && origin.String() == ownSessionID {
		return nil, EventSuppressed, nil
	}
	out, err := sjson.SetBytes(body, EventFieldRoutingKey, routingKey)
	if err != nil {
		return nil, EventSuppressed, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	return out, EventForward, nil
}

// ValidateRoutingKey rejects keys the broker cannot bind. An empty key is a valid
// binding on a topic exchange and matches messages published without a key.
func ValidateRoutingKey(key string) error {
	if len(key) > MaxRoutingKeyLength {
		return invalidArgument(FieldRoutingKey)
	}
	return nil
}
