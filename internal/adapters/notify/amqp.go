package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"

	"clan-sync-bot/internal/domain"
	"clan-sync-bot/internal/infra/metrics"
)

// AMQPSink публикует намерения уведомлений в обменник RabbitMQ, откуда их
// разбирают внешние подписчики (оверлеи, дашборды).
type AMQPSink struct {
	mu         sync.Mutex
	conn       *amqp.Connection
	channel    *amqp.Channel
	url        string
	exchange   string
	routingKey string
	log        zerolog.Logger
}

var _ domain.IntentSink = (*AMQPSink)(nil)

// NewAMQPSink подключается к брокеру и объявляет обменник.
func NewAMQPSink(url, exchange, routingKey string, log zerolog.Logger) (*AMQPSink, error) {
	s := &AMQPSink{
		url:        url,
		exchange:   exchange,
		routingKey: routingKey,
		log:        log,
	}
	if err := s.connect(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *AMQPSink) connect() error {
	conn, err := amqp.Dial(s.url)
	if err != nil {
		return fmt.Errorf("подключение к amqp: %w", err)
	}
	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return fmt.Errorf("открытие канала amqp: %w", err)
	}
	if err := channel.ExchangeDeclare(s.exchange, "topic", true, false, false, false, nil); err != nil {
		channel.Close()
		conn.Close()
		return fmt.Errorf("объявление обменника %q: %w", s.exchange, err)
	}
	s.conn = conn
	s.channel = channel
	return nil
}

// Deliver публикует намерение как JSON. При закрытом соединении выполняется
// одна попытка переподключения.
func (s *AMQPSink) Deliver(ctx context.Context, intent domain.NotificationIntent) error {
	payload, err := json.Marshal(intent)
	if err != nil {
		return fmt.Errorf("сериализация намерения: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil || s.conn.IsClosed() {
		s.log.Warn().Msg("notify: соединение amqp потеряно, переподключение")
		if err := s.connect(); err != nil {
			return err
		}
	}

	start := time.Now()
	err = s.channel.PublishWithContext(ctx, s.exchange, s.routingKey, false, false, amqp.Publishing{
		ContentType: "application/json",
		Timestamp:   time.Now(),
		Body:        payload,
	})
	metrics.ObserveNetworkRequest("amqp", "publish", start, err)
	if err != nil {
		return fmt.Errorf("публикация в %q: %w", s.exchange, err)
	}
	return nil
}

// Close закрывает канал и соединение.
func (s *AMQPSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.channel != nil {
		s.channel.Close()
		s.channel = nil
	}
	if s.conn != nil {
		err := s.conn.Close()
		s.conn = nil
		return err
	}
	return nil
}
