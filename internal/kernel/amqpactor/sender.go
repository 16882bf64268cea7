package amqpactor

import (
	"context"
	"fmt"
	"sync"
	"time"

	amqplib "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/besok/parallax/internal/kernel/actor"
	"github.com/besok/parallax/internal/kernel/kernerr"
)

const senderPublishTimeout = 5 * time.Second

// SenderConfig configures a Sender.
type SenderConfig struct {
	URL          string
	Topic        string
	Subscription string
}

// Sender is the AMQP topic sender actor. It holds a FIFO pending queue
// of outbound payloads; a background goroutine drains it one message
// at a time over a publisher-confirms link, preserving the queue
// across reconnects.
type Sender struct {
	key    string
	cfg    SenderConfig
	dial   dialer
	sink   *kernerr.Sink
	logger *zap.Logger

	mu      sync.Mutex
	pending [][]byte
	notify  chan struct{}

	cancel context.CancelFunc
	done   chan struct{}
}

var _ actor.Actor = (*Sender)(nil)

// NewSender creates an AMQP topic sender actor bound to key.
func NewSender(key string, cfg SenderConfig, sink *kernerr.Sink, logger *zap.Logger) *Sender {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sender{key: key, cfg: cfg, dial: defaultDialer, sink: sink, logger: logger, notify: make(chan struct{}, 1)}
}

func (s *Sender) Key() string { return s.key }

// SendMessage enqueues payload for delivery. It never blocks.
func (s *Sender) SendMessage(payload []byte) {
	s.mu.Lock()
	s.pending = append(s.pending, payload)
	s.mu.Unlock()

	select {
	case s.notify <- struct{}{}:
	default:
	}
}

func (s *Sender) Start(ctx context.Context) error {
	loopCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})

	go s.run(loopCtx)

	return nil
}

func (s *Sender) run(ctx context.Context) {
	defer close(s.done)

	st := stateDisconnected
	attempt := 0

	var conn connection
	var ch channelIface

	defer func() {
		if ch != nil {
			ch.Close()
		}
		if conn != nil {
			conn.Close()
		}
	}()

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
			var err error
			conn, ch, err = s.connect()
			if err != nil {
				s.sink.Report(kernerr.NewProtocol(kernerr.ProtocolAMQP, s.key,
					fmt.Sprintf("connect attempt %d failed", attempt), err))
				st = stateWaiting
				continue
			}
			st = stateConnected

		case stateWaiting:
			select {
			case <-ctx.Done():
				return
			case <-time.After(reconnectDelaySeconds * time.Second):
				st = stateConnecting
			}

		case stateConnected:
			lost := s.drain(ctx, ch)
			ch.Close()
			conn.Close()
			ch, conn = nil, nil
			if lost {
				st = stateWaiting
			} else {
				return
			}
		}
	}
}

func (s *Sender) connect() (connection, channelIface, error) {
	conn, err := s.dial(s.cfg.URL)
	if err != nil {
		return nil, nil, fmt.Errorf("amqpactor: dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, nil, fmt.Errorf("amqpactor: channel: %w", err)
	}
	if err := ch.Confirm(false); err != nil {
		ch.Close()
		conn.Close()
		return nil, nil, fmt.Errorf("amqpactor: confirm: %w", err)
	}
	if err := ch.ExchangeDeclare(s.cfg.Topic, "topic", true, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, nil, fmt.Errorf("amqpactor: exchange declare: %w", err)
	}
	return conn, ch, nil
}

// drain sends pending messages one at a time until the queue empties
// and ctx is cancelled (returns false, clean stop) or a publish fails
// (returns true, connection presumed lost, pending preserved).
func (s *Sender) drain(ctx context.Context, ch channelIface) bool {
	for {
		select {
		case <-ctx.Done():
			return false
		default:
		}

		payload, ok := s.peek()
		if !ok {
			select {
			case <-ctx.Done():
				return false
			case <-s.notify:
				continue
			case <-time.After(200 * time.Millisecond):
				continue
			}
		}

		if err := s.publish(ctx, ch, payload); err != nil {
			s.sink.Report(kernerr.NewProtocol(kernerr.ProtocolAMQP, s.key, "publish failed", err))
			return true
		}
		s.pop()
	}
}

func (s *Sender) publish(ctx context.Context, ch channelIface, payload []byte) error {
	confirm := ch.NotifyPublish(make(chan amqplib.Confirmation, 1))

	pubCtx, cancel := context.WithTimeout(ctx, senderPublishTimeout)
	defer cancel()

	err := ch.PublishWithContext(pubCtx, s.cfg.Topic, s.cfg.Subscription, false, false, amqplib.Publishing{
		ContentType:  "application/octet-stream",
		DeliveryMode: amqplib.Persistent,
		Timestamp:    time.Now(),
		Body:         payload,
	})
	if err != nil {
		return err
	}

	select {
	case ack := <-confirm:
		if !ack.Ack {
			return fmt.Errorf("amqpactor: broker nacked message")
		}
		return nil
	case <-pubCtx.Done():
		return fmt.Errorf("amqpactor: publish confirmation timeout")
	}
}

func (s *Sender) peek() ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.pending) == 0 {
		return nil, false
	}
	return s.pending[0], true
}

func (s *Sender) pop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.pending) > 0 {
		s.pending = s.pending[1:]
	}
}

func (s *Sender) Process(ctx context.Context, msg any) (actor.Outcome, error) {
	outcome, _ := actor.HandleServiceMsg(msg)
	return outcome, nil
}

func (s *Sender) Stop(ctx context.Context) error {
	if s.cancel != nil {
		s.cancel()
	}
	select {
	case <-s.done:
	case <-ctx.Done():
	}
	return nil
}
