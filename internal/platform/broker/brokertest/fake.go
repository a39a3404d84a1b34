// Package brokertest provides in-memory AMQP fakes for driving broker.Bridge and
// broker.Publisher in tests.
package brokertest

import (
	"context"
	"errors"
	"fmt"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"

	"eventsWs/internal/platform/broker"
)

var ErrClosed = errors.New("channel closed")

type ExchangeDecl struct {
	Name       string
	Kind       string
	Durable    bool
	AutoDelete bool
}

type QueueDecl struct {
	Name       string
	Durable    bool
	AutoDelete bool
	Exclusive  bool
}

type Published struct {
	Exchange   string
	RoutingKey string
	Body       []byte
}

// Connection hands out fake channels and remembers every one it opened.
type Connection struct {
	mu       sync.Mutex
	channels []*Channel
	// FailChannel makes the next Channel call fail once.
	FailChannel error
	// Configure runs on every new channel before it is returned.
	Configure func(*Channel)
}

func NewConnection() *Connection {
	return &Connection{}
}

func (c *Connection) Channel() (broker.Channel, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.FailChannel != nil {
		err := c.FailChannel
		c.FailChannel = nil
		return nil, err
	}
	ch := &Channel{queueName: fmt.Sprintf("amq.gen-%d", len(c.channels)+1)}
	if c.Configure != nil {
		c.Configure(ch)
	}
	c.channels = append(c.channels, ch)
	return ch, nil
}

// Channels returns every channel opened so far.
func (c *Connection) Channels() []*Channel {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*Channel(nil), c.channels...)
}

// Last returns the most recently opened channel, or nil.
func (c *Connection) Last() *Channel {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.channels) == 0 {
		return nil
	}
	return c.channels[len(c.channels)-1]
}

// Channel records declarations and bindings; Deliver feeds its consumer.
type Channel struct {
	mu         sync.Mutex
	queueName  string
	closed     bool
	closeCalls int
	exchanges  []ExchangeDecl
	queues     []QueueDecl
	bindings   map[string]struct{}
	consumers  []string
	deliveries chan amqp.Delivery
	published  []Published

	FailExchange error
	FailQueue    error
	FailConsume  error
	FailBind     error
	FailUnbind   error
	FailPublish  error
	// CloseOnFailure mimics a broker channel exception after a failed call.
	CloseOnFailure bool
}

func (ch *Channel) ExchangeDeclare(name, kind string, durable, autoDelete, _, _ bool, _ amqp.Table) error {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	if err := ch.failLocked(ch.FailExchange); err != nil {
		return err
	}
	ch.exchanges = append(ch.exchanges, ExchangeDecl{Name: name, Kind: kind, Durable: durable, AutoDelete: autoDelete})
	return nil
}

func (ch *Channel) QueueDeclare(name string, durable, autoDelete, exclusive, _ bool, _ amqp.Table) (amqp.Queue, error) {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	if err := ch.failLocked(ch.FailQueue); err != nil {
		return amqp.Queue{}, err
	}
	ch.queues = append(ch.queues, QueueDecl{Name: name, Durable: durable, AutoDelete: autoDelete, Exclusive: exclusive})
	if name == "" {
		name = ch.queueName
	}
	return amqp.Queue{Name: name}, nil
}

func (ch *Channel) QueueBind(name, key, _ string, _ bool, _ amqp.Table) error {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	if err := ch.failLocked(ch.FailBind); err != nil {
		return err
	}
	if ch.bindings == nil {
		ch.bindings = make(map[string]struct{})
	}
	ch.bindings[key] = struct{}{}
	return nil
}

func (ch *Channel) QueueUnbind(name, key, _ string, _ amqp.Table) error {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	if err := ch.failLocked(ch.FailUnbind); err != nil {
		return err
	}
	delete(ch.bindings, key)
	return nil
}

func (ch *Channel) Consume(queue, consumer string, _, _, _, _ bool, _ amqp.Table) (<-chan amqp.Delivery, error) {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	if err := ch.failLocked(ch.FailConsume); err != nil {
		return nil, err
	}
	ch.consumers = append(ch.consumers, consumer)
	if ch.deliveries == nil {
		ch.deliveries = make(chan amqp.Delivery, 64)
	}
	return ch.deliveries, nil
}

func (ch *Channel) PublishWithContext(_ context.Context, exchange, key string, _, _ bool, msg amqp.Publishing) error {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	if err := ch.failLocked(ch.FailPublish); err != nil {
		return err
	}
	ch.published = append(ch.published, Published{Exchange: exchange, RoutingKey: key, Body: msg.Body})
	return nil
}

func (ch *Channel) IsClosed() bool {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	return ch.closed
}

func (ch *Channel) Close() error {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	ch.closeCalls++
	if ch.closed {
		return ErrClosed
	}
	ch.closeLocked()
	return nil
}

// Deliver pushes a message to the channel's consumer. It reports false when
// there is no consumer or the channel is closed.
func (ch *Channel) Deliver(routingKey string, body []byte) bool {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	if ch.closed || ch.deliveries == nil {
		return false
	}
	ch.deliveries <- amqp.Delivery{RoutingKey: routingKey, Body: body}
	return true
}

func (ch *Channel) Exchanges() []ExchangeDecl {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	return append([]ExchangeDecl(nil), ch.exchanges...)
}

func (ch *Channel) Queues() []QueueDecl {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	return append([]QueueDecl(nil), ch.queues...)
}

func (ch *Channel) Consumers() []string {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	return append([]string(nil), ch.consumers...)
}

func (ch *Channel) Published() []Published {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	return append([]Published(nil), ch.published...)
}

// HasBinding reports whether routingKey is currently bound.
func (ch *Channel) HasBinding(routingKey string) bool {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	_, ok := ch.bindings[routingKey]
	return ok
}

func (ch *Channel) Closed() bool {
	return ch.IsClosed()
}

// CloseCalls counts Close invocations, including ones on an already closed channel.
func (ch *Channel) CloseCalls() int {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	return ch.closeCalls
}

func (ch *Channel) failLocked(err error) error {
	if ch.closed {
		return ErrClosed
	}
	if err == nil {
		return nil
	}
	if ch.CloseOnFailure {
		ch.closeLocked()
	}
	return err
}

func (ch *Channel) closeLocked() {
	ch.closed = true
	if ch.deliveries != nil {
		close(ch.deliveries)
	}
}
