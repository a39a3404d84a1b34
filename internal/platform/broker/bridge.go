package broker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/alphadose/haxmap"
	amqp "github.com/rabbitmq/amqp091-go"

	"eventsWs/internal/modules/realtime/application/port"
	"eventsWs/internal/modules/realtime/domain"
	"eventsWs/internal/platform/metrics"
	"eventsWs/internal/shared/logging"
)

var ErrNoQueue = errors.New("session has no queue")

// sessionResources is the channel, queue and consumer owned by one session id.
// Fields are filled in that order and reset together.
type sessionResources struct {
	mu          sync.Mutex
	channel     Channel
	queue       string
	consumerTag string
}

// Bridge owns the per-session broker resources. Each session id has its own entry
// and lock, so sessions never contend with each other.
type Bridge struct {
	conn      Connection
	exchange  string
	resources *haxmap.Map[string, *sessionResources]
}

func NewBridge(conn Connection) *Bridge {
	return &Bridge{
		conn:      conn,
		exchange:  domain.ExchangeName,
		resources: haxmap.New[string, *sessionResources](),
	}
}

// Sessions returns how many session ids currently hold broker resources.
func (b *Bridge) Sessions() int {
	return int(b.resources.Len())
}

// lockEntry returns the locked entry for id, creating it if needed. An entry removed
// by a concurrent Teardown before the lock was taken is discarded and looked up again.
func (b *Bridge) lockEntry(id string) *sessionResources {
	for {
		res, _ := b.resources.GetOrCompute(id, func() *sessionResources {
			return &sessionResources{}
		})
		res.mu.Lock()
		if cur, ok := b.resources.Get(id); ok && cur == res {
			return res
		}
		res.mu.Unlock()
	}
}

// EnsureChannel opens the session channel on first use.
func (b *Bridge) EnsureChannel(ctx context.Context, id string) (Channel, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	res := b.lockEntry(id)
	defer res.mu.Unlock()
	return b.ensureChannelLocked(id, res)
}

// EnsureQueue declares the events exchange and the session's exclusive queue on first use.
func (b *Bridge) EnsureQueue(ctx context.Context, id string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	res := b.lockEntry(id)
	defer res.mu.Unlock()
	return b.ensureQueueLocked(id, res)
}

// RegisterConsumer starts delivering the session queue to handler without acknowledgements.
func (b *Bridge) RegisterConsumer(ctx context.Context, id string, handler port.DeliveryHandler) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if handler == nil {
		return "", errors.New("delivery handler is required")
	}
	res := b.lockEntry(id)
	defer res.mu.Unlock()

	if res.consumerTag != "" {
		return res.consumerTag, nil
	}
	queue, err := b.ensureQueueLocked(id, res)
	if err != nil {
		return "", err
	}
	tag := "relay-" + id
	deliveries, err := res.channel.Consume(queue, tag, true, false, false, false, nil)
	if err != nil {
		b.resetLocked(id, res)
		metrics.BrokerErrors.WithLabelValues("consume").Inc()
		return "", fmt.Errorf("consume %s: %w", queue, err)
	}
	res.consumerTag = tag
	go forwardDeliveries(id, deliveries, handler)
	slog.Debug("amqp consumer registered", slog.String("clientId", id), slog.String("queue", queue), slog.String("consumerTag", tag))
	return tag, nil
}

// Subscribe binds the session queue to routingKey on the events exchange.
func (b *Bridge) Subscribe(ctx context.Context, id, routingKey string) error {
	return b.binding(ctx, id, routingKey, "bind", func(ch Channel, queue string) error {
		return ch.QueueBind(queue, routingKey, b.exchange, false, nil)
	})
}

// Unsubscribe removes the binding created by Subscribe.
func (b *Bridge) Unsubscribe(ctx context.Context, id, routingKey string) error {
	return b.binding(ctx, id, routingKey, "unbind", func(ch Channel, queue string) error {
		return ch.QueueUnbind(queue, routingKey, b.exchange, nil)
	})
}

func (b *Bridge) binding(ctx context.Context, id, routingKey, op string, call func(Channel, string) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	res, ok := b.resources.Get(id)
	if !ok {
		return fmt.Errorf("%w: %s", ErrNoQueue, id)
	}
	res.mu.Lock()
	defer res.mu.Unlock()
	if res.queue == "" {
		return fmt.Errorf("%w: %s", ErrNoQueue, id)
	}

	if err := call(res.channel, res.queue); err != nil {
		metrics.BrokerErrors.WithLabelValues(op).Inc()
		slog.Error("amqp "+op+" failed", slog.String("clientId", id), slog.String("routingKey", routingKey), logging.Err(err))
		if res.channel.IsClosed() {
			// A failed bind raises a channel exception; the queue and consumer went with it.
			b.resetLocked(id, res)
			return fmt.Errorf("%s %q: %w: %v", op, routingKey, port.ErrResourcesLost, err)
		}
		return fmt.Errorf("%s %q: %w", op, routingKey, err)
	}
	return nil
}

// Teardown closes the session channel, if any, and forgets the session.
func (b *Bridge) Teardown(id string) {
	res, ok := b.resources.Get(id)
	if !ok {
		return
	}
	res.mu.Lock()
	defer res.mu.Unlock()
	b.resetLocked(id, res)
}

func (b *Bridge) ensureChannelLocked(id string, res *sessionResources) (Channel, error) {
	if res.channel != nil {
		return res.channel, nil
	}
	ch, err := b.conn.Channel()
	if err != nil {
		b.forgetLocked(id, res)
		metrics.BrokerErrors.WithLabelValues("channel").Inc()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	res.channel = ch
	return ch, nil
}

func (b *Bridge) ensureQueueLocked(id string, res *sessionResources) (string, error) {
	if res.queue != "" {
		return res.queue, nil
	}
	ch, err := b.ensureChannelLocked(id, res)
	if err != nil {
		return "", err
	}
	// The exchange auto-deletes with its last binding, so it is declared again for every new queue.
	if err := ch.ExchangeDeclare(b.exchange, domain.ExchangeKind, false, true, false, false, nil); err != nil {
		b.resetLocked(id, res)
		metrics.BrokerErrors.WithLabelValues("exchange").Inc()
		return "", fmt.Errorf("declare exchange %s: %w", b.exchange, err)
	}
	q, err := ch.QueueDeclare("", true, true, true, false, nil)
	if err != nil {
		b.resetLocked(id, res)
		metrics.BrokerErrors.WithLabelValues("queue").Inc()
		return "", fmt.Errorf("declare queue: %w", err)
	}
	res.queue = q.Name
	return q.Name, nil
}

func (b *Bridge) resetLocked(id string, res *sessionResources) {
	if res.channel != nil && !res.channel.IsClosed() {
		if err := res.channel.Close(); err != nil {
			slog.Warn("amqp channel close failed", slog.String("clientId", id), logging.Err(err))
		}
	}
	res.channel = nil
	res.queue = ""
	res.consumerTag = ""
	b.forgetLocked(id, res)
}

// forgetLocked removes res from the map unless a newer entry already replaced it.
func (b *Bridge) forgetLocked(id string, res *sessionResources) {
	if cur, ok := b.resources.Get(id); ok && cur == res {
		b.resources.Del(id)
	}
}

func forwardDeliveries(id string, deliveries <-chan amqp.Delivery, handler port.DeliveryHandler) {
	for d := range deliveries {
		handler(port.Delivery{RoutingKey: d.RoutingKey, Body: d.Body})
	}
	slog.Debug("amqp consumer stopped", slog.String("clientId", id))
}
