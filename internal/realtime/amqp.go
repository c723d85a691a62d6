package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/rabbitmq/amqp091-go"
)

// AMQPPublisher publishes change events to a durable topic exchange. Routing
// key is the topic ("org.<id>.conversation.<id>"), so consumers can bind per
// organization or per conversation.
type AMQPPublisher struct {
	conn     *amqp091.Connection
	exchange string
	log      *slog.Logger
}

// ConnectionOptions configures the broker dial.
type ConnectionOptions struct {
	URL           string
	Exchange      string
	RetryAttempts int
	Delay         time.Duration
	Logger        *slog.Logger
}

const maxDialDelay = 60 * time.Second

// NewAMQPPublisher dials the broker with exponential backoff and declares the
// exchange. It respects context cancellation for graceful startup aborts.
func NewAMQPPublisher(ctx context.Context, opts ConnectionOptions) (*AMQPPublisher, error) {
	conn, err := dialWithRetry(ctx, opts)
	if err != nil {
		return nil, err
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, err
	}
	defer ch.Close()
	if err := ch.ExchangeDeclare(
		opts.Exchange, "topic", true, false, false, false, nil,
	); err != nil {
		conn.Close()
		return nil, err
	}

	return &AMQPPublisher{
		conn:     conn,
		exchange: opts.Exchange,
		log:      opts.Logger,
	}, nil
}

func (p *AMQPPublisher) Publish(ctx context.Context, topic string, event ChangeEvent) error {
	ch, err := p.conn.Channel()
	if err != nil {
		return err
	}
	defer ch.Close()

	body, err := json.Marshal(event)
	if err != nil {
		return err
	}

	err = ch.PublishWithContext(
		ctx, p.exchange, topic, false, false,
		amqp091.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp091.Persistent,
			MessageId:    uuid.NewString(),
			Timestamp:    time.Now(),
			Body:         body,
		},
	)
	if err == nil {
		p.log.Info("published", slog.String("topic", topic), slog.String("kind", event.EventKind))
	}
	return err
}

func (p *AMQPPublisher) Close() error {
	return p.conn.Close()
}

func dialWithRetry(ctx context.Context, opts ConnectionOptions) (*amqp091.Connection, error) {
	var lastErr error

	for i := 1; i <= opts.RetryAttempts; i++ {
		conn, err := amqp091.Dial(opts.URL)
		if err == nil {
			if i > 1 {
				opts.Logger.Info("broker connected", slog.Int("attempt", i))
			}
			return conn, nil
		}
		lastErr = err

		sleep := opts.Delay * time.Duration(math.Pow(2, float64(i-1)))
		if sleep > maxDialDelay {
			sleep = maxDialDelay
		}

		opts.Logger.Warn("broker dial failed",
			slog.Int("attempt", i),
			slog.Duration("sleep", sleep),
			slog.Any("error", err),
		)

		timer := time.NewTimer(sleep)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, errors.New("dial cancelled: " + ctx.Err().Error())
		case <-timer.C:
		}
	}

	return nil, lastErr
}
