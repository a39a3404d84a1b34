package broker

import (
	"context"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"eventsWs/internal/modules/realtime/domain"
	"eventsWs/internal/platform/metrics"
)

// Publisher sends events into the topic exchange over a dedicated channel.
type Publisher struct {
	conn     Connection
	exchange string

	mu      sync.Mutex
	channel Channel
}

func NewPublisher(conn Connection) *Publisher {
	return &Publisher{conn: conn, exchange: domain.ExchangeName}
}

// Publish sends body with routingKey. The channel is reopened after a failure.
func (p *Publisher) Publish(ctx context.Context, routingKey string, body []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	ch, err := p.channelLocked()
	if err != nil {
		return err
	}
	err = ch.PublishWithContext(ctx, p.exchange, routingKey, false, false, amqp.Publishing{
		ContentType: "application/json",
		Timestamp:   time.Now().UTC(),
		Body:        body,
	})
	if err != nil {
		p.resetLocked()
		metrics.BrokerErrors.WithLabelValues("publish").Inc()
		return fmt.Errorf("publish %q: %w", routingKey, err)
	}
	return nil
}

// Close releases the publishing channel.
func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.channel == nil {
		return nil
	}
	err := p.channel.Close()
	p.channel = nil
	return err
}

func (p *Publisher) channelLocked() (Channel, error) {
	if p.channel != nil && !p.channel.IsClosed() {
		return p.channel, nil
	}
	ch, err := p.conn.Channel()
	if err != nil {
		metrics.BrokerErrors.WithLabelValues("channel").Inc()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	if err := ch.ExchangeDeclare(p.exchange, domain.ExchangeKind, false, true, false, false, nil); err != nil {
		_ = ch.Close()
		metrics.BrokerErrors.WithLabelValues("exchange").Inc()
		return nil, fmt.Errorf("declare exchange %s: %w", p.exchange, err)
	}
	p.channel = ch
	return ch, nil
}

func (p *Publisher) resetLocked() {
	if p.channel != nil {
		_ = p.channel.Close()
	}
	p.channel = nil
}
