package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/goccy/go-json"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"

	"cine-agenda/internal/domain"
	"cine-agenda/internal/infra/metrics"
)

// DefaultEventsQueue задаёт имя очереди событий обновления.
const DefaultEventsQueue = "schedule_events"

// RabbitPublisher публикует события обновления в очередь RabbitMQ.
// Соединение открывается при первой публикации и восстанавливается после обрыва.
type RabbitPublisher struct {
	url    string
	queue  string
	logger zerolog.Logger

	mu   sync.Mutex
	conn *amqp.Connection
	ch   *amqp.Channel
}

// NewRabbitPublisher создаёт издателя для очереди queue.
func NewRabbitPublisher(amqpURL, queue string, logger zerolog.Logger) (*RabbitPublisher, error) {
	if amqpURL == "" {
		return nil, errors.New("amqp url is empty")
	}
	if queue == "" {
		queue = DefaultEventsQueue
	}
	return &RabbitPublisher{url: amqpURL, queue: queue, logger: logger}, nil
}

func (p *RabbitPublisher) channel() (*amqp.Channel, error) {
	if p.ch != nil && !p.ch.IsClosed() {
		return p.ch, nil
	}
	p.closeLocked()
	conn, err := amqp.Dial(p.url)
	if err != nil {
		return nil, fmt.Errorf("dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	if _, err := ch.QueueDeclare(p.queue, true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("declare queue: %w", err)
	}
	p.conn, p.ch = conn, ch
	p.logger.Info().Str("queue", p.queue).Msg("queue: rabbitmq connected")
	return ch, nil
}

// Publish отправляет событие как постоянное JSON-сообщение.
func (p *RabbitPublisher) Publish(ctx context.Context, event domain.RefreshEvent) (err error) {
	body, err := encodeEvent(event)
	if err != nil {
		return err
	}
	start := time.Now()
	defer func() {
		metrics.ObserveNetworkRequest("rabbitmq", "publish", p.queue, start, err)
	}()

	p.mu.Lock()
	defer p.mu.Unlock()
	ch, err := p.channel()
	if err != nil {
		return fmt.Errorf("rabbitmq: %w", err)
	}
	err = ch.PublishWithContext(ctx, "", p.queue, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    event.ID,
		Type:         string(event.Kind),
		Timestamp:    event.At.UTC(),
		Body:         body,
	})
	if err != nil {
		p.closeLocked()
		return fmt.Errorf("rabbitmq: publish: %w", err)
	}
	return nil
}

func (p *RabbitPublisher) closeLocked() {
	if p.ch != nil {
		_ = p.ch.Close()
		p.ch = nil
	}
	if p.conn != nil {
		_ = p.conn.Close()
		p.conn = nil
	}
}

// Close закрывает соединение.
func (p *RabbitPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closeLocked()
	return nil
}

func encodeEvent(event domain.RefreshEvent) ([]byte, error) {
	body, err := json.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("marshal event: %w", err)
	}
	return body, nil
}

// Multi рассылает событие всем издателям. Ошибки объединяются.
type Multi []domain.EventPublisher

// Publish вызывает каждого издателя независимо от ошибок остальных.
func (m Multi) Publish(ctx context.Context, event domain.RefreshEvent) error {
	var errs []error
	for _, p := range m {
		if err := p.Publish(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
