package amqpactor

import (
	"context"
	"sync"
	"time"

	amqplib "github.com/rabbitmq/amqp091-go"

	"github.com/besok/parallax/internal/kernel/brokeremu"
)

// DialBroker returns a dialer that routes Listener/Sender traffic
// directly into an in-process brokeremu.Broker instead of a live
// amqp091-go connection. brokeremu's data plane (frame.go, server.go)
// is a hand-rolled, non-AMQP-0-9-1 frame codec (spec.md §4.10
// deliberately permits this approximation), so it cannot be dialed by
// the real amqp091-go client used elsewhere in this package. This
// bridge gives the mandatory broker-emulator end-to-end scenario
// (spec.md §8 scenario 4) a way to drive the real Listener/Sender
// state machines against the C11 fixture's pub/sub state without
// either side speaking a wire protocol: it satisfies the same
// connection/channelIface seam fakeConnection/fakeChannel do in
// amqp_test.go, just backed by a shared *brokeremu.Broker instead of
// in-memory test state.
func DialBroker(broker *brokeremu.Broker) dialer {
	return func(url string) (connection, error) {
		return &brokerConn{broker: broker}, nil
	}
}

type brokerConn struct {
	broker *brokeremu.Broker
}

func (c *brokerConn) Channel() (channelIface, error) {
	return &brokerChannel{broker: c.broker, stop: make(chan struct{})}, nil
}

func (c *brokerConn) Close() error { return nil }

func (c *brokerConn) NotifyClose(receiver chan *amqplib.Error) chan *amqplib.Error {
	return receiver
}

// brokerChannel implements channelIface against the broker's
// topic/subscription pub-sub directly: QueueBind registers the
// subscription (mirroring the wire protocol's Attach), Consume polls
// it on a short interval (mirroring the connection-timeout delivery
// tick brokeremu's own dataPlane.deliverLoop uses), and
// PublishWithContext fans straight into the topic (mirroring
// Transfer).
type brokerChannel struct {
	broker *brokeremu.Broker

	topic string
	sub   string

	closeOnce sync.Once
	stop      chan struct{}
}

func (c *brokerChannel) Qos(int, int, bool) error { return nil }

func (c *brokerChannel) ExchangeDeclare(string, string, bool, bool, bool, bool, amqplib.Table) error {
	return nil
}

func (c *brokerChannel) QueueDeclare(name string, _, _, _, _ bool, _ amqplib.Table) (amqplib.Queue, error) {
	return amqplib.Queue{Name: name}, nil
}

func (c *brokerChannel) QueueBind(_ string, key, exchange string, _ bool, _ amqplib.Table) error {
	c.topic = exchange
	c.sub = key
	c.broker.EnsureSubscription(exchange, key)
	return nil
}

func (c *brokerChannel) Consume(string, string, bool, bool, bool, bool, amqplib.Table) (<-chan amqplib.Delivery, error) {
	out := make(chan amqplib.Delivery, 16)
	go func() {
		defer close(out)
		ticker := time.NewTicker(20 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-c.stop:
				return
			case <-ticker.C:
				for _, body := range c.broker.DrainSubscription(c.topic, c.sub) {
					select {
					case out <- amqplib.Delivery{Acknowledger: noopAcknowledger{}, Body: body}:
					case <-c.stop:
						return
					}
				}
			}
		}
	}()
	return out, nil
}

func (c *brokerChannel) Confirm(bool) error { return nil }

func (c *brokerChannel) PublishWithContext(_ context.Context, exchange, _ string, _, _ bool, msg amqplib.Publishing) error {
	c.broker.PublishTopic(exchange, msg.Body)
	return nil
}

func (c *brokerChannel) NotifyPublish(confirm chan amqplib.Confirmation) chan amqplib.Confirmation {
	go func() { confirm <- amqplib.Confirmation{DeliveryTag: 1, Ack: true} }()
	return confirm
}

func (c *brokerChannel) Close() error {
	c.closeOnce.Do(func() { close(c.stop) })
	return nil
}

// noopAcknowledger satisfies amqplib.Delivery's Acknowledger: the
// broker fixture has no redelivery/requeue story, so settlement is a
// no-op the way the real listener's delivery.Ack(false) expects to
// succeed.
type noopAcknowledger struct{}

func (noopAcknowledger) Ack(tag uint64, multiple bool) error             { return nil }
func (noopAcknowledger) Nack(tag uint64, multiple bool, requeue bool) error { return nil }
func (noopAcknowledger) Reject(tag uint64, requeue bool) error           { return nil }
