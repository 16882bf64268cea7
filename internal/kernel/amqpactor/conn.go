package amqpactor

import (
	"context"

	amqplib "github.com/rabbitmq/amqp091-go"
)

// connection and channel are the thin seams the listener/sender state
// machines depend on, so tests can substitute a fake broker without a
// live RabbitMQ. The default dialer wraps amqp091-go directly.
type connection interface {
	Channel() (channelIface, error)
	Close() error
	NotifyClose(receiver chan *amqplib.Error) chan *amqplib.Error
}

type channelIface interface {
	Qos(prefetchCount, prefetchSize int, global bool) error
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqplib.Table) error
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqplib.Table) (amqplib.Queue, error)
	QueueBind(name, key, exchange string, noWait bool, args amqplib.Table) error
	Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqplib.Table) (<-chan amqplib.Delivery, error)
	Confirm(noWait bool) error
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqplib.Publishing) error
	NotifyPublish(confirm chan amqplib.Confirmation) chan amqplib.Confirmation
	Close() error
}

// dialer opens a broker connection. Production uses defaultDialer;
// tests inject a fake.
type dialer func(url string) (connection, error)

func defaultDialer(url string) (connection, error) {
	conn, err := amqplib.Dial(url)
	if err != nil {
		return nil, err
	}
	return connAdapter{conn}, nil
}

type connAdapter struct{ conn *amqplib.Connection }

func (a connAdapter) Channel() (channelIface, error) {
	ch, err := a.conn.Channel()
	if err != nil {
		return nil, err
	}
	return ch, nil
}

func (a connAdapter) Close() error { return a.conn.Close() }

func (a connAdapter) NotifyClose(receiver chan *amqplib.Error) chan *amqplib.Error {
	return a.conn.NotifyClose(receiver)
}
