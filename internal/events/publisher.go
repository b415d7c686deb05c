// Package events publishes billing events to RabbitMQ.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rabbitmq/amqp091-go"
)

// Publisher is implemented by event publishers.
type Publisher interface {
	Publish(ctx context.Context, routingKey string, body any) error
	Close()
}

// LogPublisher is used when no broker is configured; it only logs.
type LogPublisher struct{}

func (LogPublisher) Publish(ctx context.Context, routingKey string, body any) error {
	slog.Info("event not published (no broker)", "routing_key", routingKey, "body", body)
	return nil
}

func (LogPublisher) Close() {}

// RabbitPublisher publishes JSON messages to a durable topic exchange. A
// dropped connection or channel is redialed on the next Publish.
type RabbitPublisher struct {
	url      string
	exchange string
	dial     func(url string) (*amqp091.Connection, error)

	mu       sync.Mutex
	conn     *amqp091.Connection
	channel  *amqp091.Channel
	declared bool
}

func dialRabbit(url string) (*amqp091.Connection, error) {
	return amqp091.DialConfig(url, amqp091.Config{Dial: amqp091.DefaultDial(10 * time.Second)})
}

func sanitizeAMQPURL(raw string) (string, error) {
	clean := strings.Trim(strings.TrimSpace(raw), "\"'")
	u, err := url.Parse(clean)
	if err != nil {
		return "", fmt.Errorf("parse amqp url: %w", err)
	}
	if u.Scheme != "amqp" && u.Scheme != "amqps" {
		return "", errors.New("amqp url scheme must be amqp:// or amqps://")
	}
	return clean, nil
}

func NewRabbitPublisher(amqpURL, exchange string) (*RabbitPublisher, error) {
	cleanURL, err := sanitizeAMQPURL(amqpURL)
	if err != nil {
		return nil, err
	}

	p := &RabbitPublisher{url: cleanURL, exchange: exchange, dial: dialRabbit}
	if err := p.connect(); err != nil {
		return nil, err
	}
	return p, nil
}

// connect replaces the current connection and channel. Callers hold p.mu
// except during construction.
func (p *RabbitPublisher) connect() error {
	p.closeLocked()

	conn, err := p.dial(p.url)
	if err != nil {
		return fmt.Errorf("dial rabbitmq: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("open channel: %w", err)
	}

	p.conn = conn
	p.channel = ch
	p.declared = false
	return nil
}

func (p *RabbitPublisher) healthy() bool {
	return p.conn != nil && !p.conn.IsClosed() && p.channel != nil && !p.channel.IsClosed()
}

func (p *RabbitPublisher) Publish(ctx context.Context, routingKey string, body any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	err = p.publishLocked(ctx, routingKey, payload)
	if errors.Is(err, amqp091.ErrClosed) {
		slog.Warn("rabbitmq channel closed during publish, reconnecting", "routing_key", routingKey)
		p.closeLocked()
		err = p.publishLocked(ctx, routingKey, payload)
	}
	return err
}

func (p *RabbitPublisher) publishLocked(ctx context.Context, routingKey string, payload []byte) error {
	if !p.healthy() {
		if p.conn != nil {
			slog.Warn("rabbitmq connection lost, reconnecting")
		}
		if err := p.connect(); err != nil {
			return err
		}
	}
	if !p.declared {
		if err := p.channel.ExchangeDeclare(p.exchange, "topic", true, false, false, false, nil); err != nil {
			return fmt.Errorf("declare exchange: %w", err)
		}
		p.declared = true
	}

	return p.channel.PublishWithContext(ctx, p.exchange, routingKey, false, false, amqp091.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp091.Persistent,
		MessageId:    uuid.NewString(),
		Timestamp:    time.Now().UTC(),
		Body:         payload,
	})
}

func (p *RabbitPublisher) closeLocked() {
	if p.channel != nil {
		_ = p.channel.Close()
	}
	if p.conn != nil {
		_ = p.conn.Close()
	}
	p.channel = nil
	p.conn = nil
	p.declared = false
}

func (p *RabbitPublisher) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closeLocked()
}
