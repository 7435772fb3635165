package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"hmsauth.org/internal/auth"
)

const defaultPublishTimeout = 2 * time.Second

// Publisher is the subset of *amqp.Channel used by AMQPSink.
type Publisher interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

// Message is the JSON body published for each event.
type Message struct {
	Type       string         `json:"type"`
	Outcome    string         `json:"outcome"`
	Reason     string         `json:"reason,omitempty"`
	AccountID  string         `json:"accountId,omitempty"`
	Email      string         `json:"email,omitempty"`
	RequestID  string         `json:"requestId,omitempty"`
	OccurredAt time.Time      `json:"occurredAt"`
	Fields     map[string]any `json:"fields,omitempty"`
}

// AMQPSink publishes events to a queue through the default exchange.
// Publish errors are logged and swallowed so a broker outage never fails a
// login.
type AMQPSink struct {
	pub     Publisher
	queue   string
	timeout time.Duration
	logger  *slog.Logger
}

var _ auth.EventSink = (*AMQPSink)(nil)

// NewAMQPSink returns a sink publishing to queue via pub.
func NewAMQPSink(pub Publisher, queue string, logger *slog.Logger) *AMQPSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &AMQPSink{pub: pub, queue: queue, timeout: defaultPublishTimeout, logger: logger}
}

func (s *AMQPSink) Emit(ctx context.Context, ev auth.Event) {
	body, err := json.Marshal(Message{
		Type:       ev.Type,
		Outcome:    ev.Outcome,
		Reason:     ev.Reason,
		AccountID:  ev.AccountID,
		Email:      ev.Email,
		RequestID:  RequestIDFromContext(ctx),
		OccurredAt: ev.OccurredAt,
		Fields:     ev.Fields,
	})
	if err != nil {
		s.logger.Warn("rabbitmq: marshal event failed", "event", ev.Type, "error", err)
		return
	}

	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.timeout)
	defer cancel()
	err = s.pub.PublishWithContext(pctx,
		"",      // default exchange
		s.queue, // routing key = queue name
		false,   // mandatory
		false,   // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Timestamp:    ev.OccurredAt,
			Type:         ev.Type,
			Body:         body,
		},
	)
	if err != nil {
		s.logger.Warn("rabbitmq: publish failed", "event", ev.Type, "error", err)
	}
}

// AMQPConn owns the broker connection backing an AMQPSink.
type AMQPConn struct {
	conn *amqp.Connection
	ch   *amqp.Channel
	Sink *AMQPSink
}

// DialAMQP connects to url and declares queue as durable.
func DialAMQP(url, queue string, logger *slog.Logger) (*AMQPConn, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("rabbitmq: dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("rabbitmq: channel open: %w", err)
	}
	if _, err := ch.QueueDeclare(
		queue, // name
		true,  // durable
		false, // autoDelete
		false, // exclusive
		false, // noWait
		nil,   // args
	); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("rabbitmq: queue declare: %w", err)
	}
	return &AMQPConn{conn: conn, ch: ch, Sink: NewAMQPSink(ch, queue, logger)}, nil
}

func (c *AMQPConn) Close() error {
	_ = c.ch.Close()
	return c.conn.Close()
}
