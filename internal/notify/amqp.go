package notify

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/rabbitmq/amqp091-go"
)

type publisher interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp091.Publishing) error
}

// AMQP publishes notifications to a topic exchange. The routing key is
// "receipt.<kind>".
type AMQP struct {
	conn         *amqp091.Connection
	channel      *amqp091.Channel
	publisher    publisher
	exchangeName string
	timeout      time.Duration
}

// NewAMQP connects to url and declares the exchange and a durable queue
// bound to every receipt notification
func NewAMQP(url, exchangeName, queueName string) (*AMQP, error) {
	conn, err := amqp091.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dial AMQP: %w", err)
	}

	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}

	a := &AMQP{
		conn:         conn,
		channel:      channel,
		publisher:    channel,
		exchangeName: exchangeName,
		timeout:      5 * time.Second,
	}

	if err := a.setup(queueName); err != nil {
		a.Close()
		return nil, fmt.Errorf("setup exchange and queue: %w", err)
	}

	return a, nil
}

func (a *AMQP) setup(queueName string) error {
	err := a.channel.ExchangeDeclare(
		a.exchangeName, // name
		"topic",        // type
		true,           // durable
		false,          // auto-deleted
		false,          // internal
		false,          // no-wait
		nil,            // arguments
	)
	if err != nil {
		return fmt.Errorf("declare exchange: %w", err)
	}

	if queueName == "" {
		return nil
	}

	_, err = a.channel.QueueDeclare(
		queueName, // name
		true,      // durable
		false,     // delete when unused
		false,     // exclusive
		false,     // no-wait
		nil,       // arguments
	)
	if err != nil {
		return fmt.Errorf("declare queue: %w", err)
	}

	err = a.channel.QueueBind(
		queueName,      // queue name
		"receipt.*",    // routing key
		a.exchangeName, // exchange
		false,
		nil,
	)
	if err != nil {
		return fmt.Errorf("bind queue: %w", err)
	}

	return nil
}

// Notify publishes n as a persistent JSON message
func (a *AMQP) Notify(ctx context.Context, n Notification) error {
	body, err := n.ToJSON()
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	routingKey := "receipt." + string(n.Kind)
	err = a.publisher.PublishWithContext(
		ctx,
		a.exchangeName, // exchange
		routingKey,     // routing key
		false,          // mandatory
		false,          // immediate
		amqp091.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp091.Persistent,
			Timestamp:    n.At,
			Body:         body,
		},
	)
	if err != nil {
		return fmt.Errorf("publish notification: %w", err)
	}

	slog.DebugContext(ctx, "Published notification",
		"exchange", a.exchangeName,
		"routing_key", routingKey,
		"user_id", n.UserID)

	return nil
}

// Close closes the channel and the connection
func (a *AMQP) Close() error {
	if a.channel != nil {
		a.channel.Close()
	}
	if a.conn != nil {
		return a.conn.Close()
	}
	return nil
}
