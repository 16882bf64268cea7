// Package amqpactor implements the AMQP topic listener/sender worked
// example (C8): a listener driving the Disconnected/Connecting/
// Connected/Waiting state machine of spec.md §4.7 over amqp091-go, and
// a sender draining a pending-message queue onto a publisher link with
// confirms. It generalizes the teacher's reconnecting consumer
// (worker/internal/delivery/amqp/consumer.go) and publisher
// (api/internal/publisher/rabbitmq.go).
package amqpactor

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	amqplib "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/besok/parallax/internal/kernel/actor"
	"github.com/besok/parallax/internal/kernel/kernerr"
)

// Decoder turns a delivery body into the user's subscriber message type.
type Decoder func(body []byte) (any, error)

// DecodeJSON is the default Decoder: unmarshal into a map.
func DecodeJSON(body []byte) (any, error) {
	var v map[string]any
	if err := json.Unmarshal(body, &v); err != nil {
		return nil, err
	}
	return v, nil
}

// Subscriber is the minimal handle surface the listener fans out to.
type Subscriber interface {
	TrySend(msg any) error
}

// ListenerConfig configures a Listener.
type ListenerConfig struct {
	URL          string
	Topic        string
	Subscription string
	Decode       Decoder
}

// Listener is the AMQP topic listener actor.
type Listener struct {
	key    string
	cfg    ListenerConfig
	dial   dialer
	sink   *kernerr.Sink
	logger *zap.Logger

	mu   sync.Mutex
	subs []Subscriber

	cancel context.CancelFunc
	done   chan struct{}
}

var _ actor.Actor = (*Listener)(nil)

// NewListener creates an AMQP topic listener actor bound to key.
func NewListener(key string, cfg ListenerConfig, sink *kernerr.Sink, logger *zap.Logger) *Listener {
	if cfg.Decode == nil {
		cfg.Decode = DecodeJSON
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Listener{key: key, cfg: cfg, dial: defaultDialer, sink: sink, logger: logger}
}

func (l *Listener) Key() string { return l.key }

// Subscribe appends a subscriber handle.
func (l *Listener) Subscribe(sub Subscriber) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.subs = append(l.subs, sub)
}

func (l *Listener) Start(ctx context.Context) error {
	loopCtx, cancel := context.WithCancel(ctx)
	l.cancel = cancel
	l.done = make(chan struct{})

	go l.run(loopCtx)

	return nil
}

// bindingAddress mirrors the spec's <topic>/Subscriptions/<subscription>
// link address, layered on AMQP 0-9-1 exchange/queue/routing-key
// primitives the way the teacher layers its queueName/exchangeName
// constants over amqp091-go calls.
func (l *Listener) bindingAddress() string {
	return fmt.Sprintf("%s.subscriptions.%s", l.cfg.Topic, l.cfg.Subscription)
}

func (l *Listener) run(ctx context.Context) {
	defer close(l.done)

	st := stateDisconnected
	attempt := 0

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		switch st {
		case stateDisconnected:
			st = stateConnecting

		case stateConnecting:
			attempt++
			conn, ch, deliveries, err := l.connectAndAttach()
			if err != nil {
				l.sink.Report(kernerr.NewProtocol(kernerr.ProtocolAMQP, l.key,
					fmt.Sprintf("connect attempt %d failed", attempt), err))
				st = stateWaiting
				continue
			}
			st = l.serve(ctx, conn, ch, deliveries)

		case stateWaiting:
			select {
			case <-ctx.Done():
				return
			case <-time.After(reconnectDelaySeconds * time.Second):
				st = stateConnecting
			}
		}
	}
}

func (l *Listener) connectAndAttach() (connection, channelIface, <-chan amqplib.Delivery, error) {
	conn, err := l.dial(l.cfg.URL)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("amqpactor: dial: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, nil, nil, fmt.Errorf("amqpactor: channel: %w", err)
	}

	if err := ch.Qos(1, 0, false); err != nil {
		ch.Close()
		conn.Close()
		return nil, nil, nil, fmt.Errorf("amqpactor: qos: %w", err)
	}

	if err := ch.ExchangeDeclare(l.cfg.Topic, "topic", true, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, nil, nil, fmt.Errorf("amqpactor: exchange declare: %w", err)
	}

	queueName := l.bindingAddress()
	q, err := ch.QueueDeclare(queueName, true, false, false, false, nil)
	if err != nil {
		ch.Close()
		conn.Close()
		return nil, nil, nil, fmt.Errorf("amqpactor: queue declare: %w", err)
	}

	if err := ch.QueueBind(q.Name, l.cfg.Subscription, l.cfg.Topic, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, nil, nil, fmt.Errorf("amqpactor: queue bind: %w", err)
	}

	deliveries, err := ch.Consume(q.Name, "", false, false, false, false, nil)
	if err != nil {
		ch.Close()
		conn.Close()
		return nil, nil, nil, fmt.Errorf("amqpactor: consume: %w", err)
	}

	return conn, ch, deliveries, nil
}

// serve runs the Connected loop until a receive error (-> Waiting) or
// shutdown (-> terminal, signalled by returning stateWaiting after
// ctx.Done() tears the link down, with the caller's select exiting on
// the next ctx.Done() check).
func (l *Listener) serve(ctx context.Context, conn connection, ch channelIface, deliveries <-chan amqplib.Delivery) state {
	defer func() {
		ch.Close()
		conn.Close()
	}()

	for {
		select {
		case <-ctx.Done():
			return stateWaiting
		case delivery, ok := <-deliveries:
			if !ok {
				l.sink.Report(kernerr.NewProtocol(kernerr.ProtocolAMQP, l.key, "delivery channel closed", nil))
				return stateWaiting
			}

			if err := delivery.Ack(false); err != nil {
				l.sink.Report(kernerr.NewProtocol(kernerr.ProtocolAMQP, l.key, "settle (accept) failed", err))
				return stateWaiting
			}

			msg, err := l.cfg.Decode(delivery.Body)
			if err != nil {
				l.sink.Report(kernerr.NewProtocol(kernerr.ProtocolAMQP, l.key, "decode failed", err))
				continue
			}

			l.fanOut(msg)
		}
	}
}

func (l *Listener) fanOut(msg any) {
	l.mu.Lock()
	defer l.mu.Unlock()

	live := l.subs[:0]
	for _, sub := range l.subs {
		switch err := sub.TrySend(msg); err {
		case nil:
			live = append(live, sub)
		case actor.ErrClosed:
			// Stale subscriber: pruned by omission.
		default:
			l.logger.Warn("dropping AMQP fan-out message", zap.String("actor_key", l.key), zap.Error(err))
			live = append(live, sub)
		}
	}
	l.subs = live
}

func (l *Listener) Process(ctx context.Context, msg any) (actor.Outcome, error) {
	outcome, _ := actor.HandleServiceMsg(msg)
	return outcome, nil
}

func (l *Listener) Stop(ctx context.Context) error {
	if l.cancel != nil {
		l.cancel()
	}
	select {
	case <-l.done:
	case <-ctx.Done():
	}
	return nil
}
