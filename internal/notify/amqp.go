package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rabbitmq/amqp091-go"
)

const publishTimeout = 5 * time.Second

// channelPublisher is the part of *amqp091.Channel used for publishing.
type channelPublisher interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp091.Publishing) error
}

// AMQPPublisher publishes committed transactions as persistent JSON
// messages to a durable direct exchange.
type AMQPPublisher struct {
	conn       *amqp091.Connection
	channel    channelPublisher
	closer     func() error
	exchange   string
	routingKey string
	now        func() time.Time
}

// NewAMQPPublisher dials url and declares the exchange.
func NewAMQPPublisher(url, exchange, routingKey string) (*AMQPPublisher, error) {
	conn, err := amqp091.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("NewAMQPPublisher: dial: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("NewAMQPPublisher: open channel: %w", err)
	}

	err = ch.ExchangeDeclare(
		exchange, // name
		"direct", // type
		true,     // durable
		false,    // auto-deleted
		false,    // internal
		false,    // no-wait
		nil,      // arguments
	)
	if err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("NewAMQPPublisher: declare exchange %q: %w", exchange, err)
	}

	p := newAMQPPublisher(ch, exchange, routingKey)
	p.conn = conn
	p.closer = ch.Close
	return p, nil
}

func newAMQPPublisher(ch channelPublisher, exchange, routingKey string) *AMQPPublisher {
	return &AMQPPublisher{
		channel:    ch,
		exchange:   exchange,
		routingKey: routingKey,
		now:        time.Now,
	}
}

func (p *AMQPPublisher) TransactionCommitted(ctx context.Context, ev TransactionEvent) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("AMQPPublisher: marshal: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	err = p.channel.PublishWithContext(
		ctx,
		p.exchange,
		p.routingKey,
		false, // mandatory
		false, // immediate
		amqp091.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp091.Persistent,
			MessageId:    ev.Transaction.ID,
			Type:         "transaction.committed",
			Timestamp:    p.now(),
			Body:         body,
		},
	)
	if err != nil {
		return fmt.Errorf("AMQPPublisher: publish %s: %w", ev.Transaction.ID, err)
	}
	return nil
}

func (p *AMQPPublisher) Close() error {
	if p.closer != nil {
		p.closer()
	}
	if p.conn != nil {
		return p.conn.Close()
	}
	return nil
}
