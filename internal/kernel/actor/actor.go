// Package actor implements the kernel's single actor runtime shape: every
// long-lived endpoint (HTTP, AMQP, OPC UA, SSH, SQL poller, periodic
// worker, child process) is spawned behind this runtime and accepts the
// shared Start/Stop service-control protocol.
package actor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/besok/parallax/internal/kernel/kernerr"
)

// defaultMailboxCapacity bounds the number of in-flight messages per
// actor. Producers either await (Send) or fail fast (TrySend).
const defaultMailboxCapacity = 32

// defaultGracePeriod is the deadline of the context handed to the
// actor's own Stop method once the run loop has exited. The runtime does
// not abort a Stop that overruns it (Go has no goroutine abort); the
// actor's Stop is expected to return when that context is done.
const defaultGracePeriod = 60 * time.Second

// Outcome is returned by Process after handling one message.
type Outcome int

const (
	// OutcomeContinue keeps the run loop going.
	OutcomeContinue Outcome = iota
	// OutcomeShutdown aborts the run loop immediately, as if Stop had
	// been called.
	OutcomeShutdown
)

// Actor is the contract every endpoint implements. The actor's concrete
// state is owned by the implementation, not exposed here.
type Actor interface {
	// Key is the actor's stable identifier, used for logging and the
	// error sink.
	Key() string

	// Start is invoked once before the message loop begins. It may spawn
	// subordinate actors (nesting, owned by this actor) and open network
	// resources. A returned error aborts the spawn.
	Start(ctx context.Context) error

	// Process handles one inbound message. A Runtime-kind error returned
	// through the error sink keeps the loop going; OutcomeShutdown ends
	// it.
	Process(ctx context.Context, msg any) (Outcome, error)

	// Stop runs graceful teardown. Errors are reported, not propagated;
	// the actor exits regardless.
	Stop(ctx context.Context) error
}

// envelope wraps one inbound message for FIFO delivery.
type envelope struct {
	msg any
}

// Handle is a lightweight, cheaply cloneable reference to a running
// actor's mailbox. Dropping every Handle (letting them become
// unreachable) does not stop the actor, and the mailbox channel is never
// closed: Stop cancels the actor's context, and once the run loop has
// exited the mailbox is no longer read. Handles never own actor state
// directly.
type Handle struct {
	key      string
	mailbox  chan envelope
	done     chan struct{}
	closeMu  sync.Mutex
	closed   bool
	cancel   context.CancelFunc
}

// Key returns the stable identifier of the actor behind this handle.
func (h *Handle) Key() string { return h.key }

// Send delivers msg to the actor's mailbox, suspending the caller if the
// mailbox is full (the async-context backpressure behavior from the
// spec). It returns false if the mailbox is closed.
func (h *Handle) Send(ctx context.Context, msg any) bool {
	select {
	case h.mailbox <- envelope{msg: msg}:
		return true
	case <-h.done:
		return false
	case <-ctx.Done():
		return false
	}
}

// TrySend is the sync-context counterpart: it never blocks. It returns
// ErrChannelFull if the mailbox has no free capacity, or ErrClosed if the
// actor has already terminated.
func (h *Handle) TrySend(msg any) error {
	select {
	case <-h.done:
		return ErrClosed
	default:
	}
	select {
	case h.mailbox <- envelope{msg: msg}:
		return nil
	default:
		return ErrChannelFull
	}
}

// Stop requests graceful shutdown. Idempotent: calling it twice produces
// at most one teardown.
func (h *Handle) Stop() {
	h.closeMu.Lock()
	defer h.closeMu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	h.cancel()
}

// Done returns a channel closed once the actor's run loop has exited.
func (h *Handle) Done() <-chan struct{} { return h.done }

// ErrChannelFull is returned by TrySend against a saturated mailbox.
var ErrChannelFull = fmt.Errorf("actor: mailbox full")

// ErrClosed is returned by TrySend against a terminated actor (Send
// reports the same condition by returning false).
var ErrClosed = fmt.Errorf("actor: mailbox closed")

// Option configures a Spawn call.
type Option func(*options)

type options struct {
	mailboxCapacity int
	gracePeriod     time.Duration
	logger          *zap.Logger
}

// WithMailboxCapacity overrides the default 32-message mailbox bound.
func WithMailboxCapacity(n int) Option {
	return func(o *options) { o.mailboxCapacity = n }
}

// WithGracePeriod overrides the default 60s shutdown grace period.
func WithGracePeriod(d time.Duration) Option {
	return func(o *options) { o.gracePeriod = d }
}

// WithLogger attaches a logger; defaults to zap.NewNop() when omitted.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) { o.logger = l }
}

// Spawn performs Start, and on success launches the actor's message loop
// in its own goroutine, returning a Handle. If Start fails the failure is
// forwarded to sink (when non-nil) and Spawn returns a Startup error; no
// message loop is ever entered.
func Spawn(parent context.Context, a Actor, sink *kernerr.Sink, opts ...Option) (*Handle, error) {
	cfg := options{
		mailboxCapacity: defaultMailboxCapacity,
		gracePeriod:     defaultGracePeriod,
		logger:          zap.NewNop(),
	}
	for _, o := range opts {
		o(&cfg)
	}

	ctx, cancel := context.WithCancel(parent)

	if err := a.Start(ctx); err != nil {
		cancel()
		rec := kernerr.New(kernerr.Startup, a.Key(), "actor start failed", err)
		sink.Report(rec)
		return nil, rec
	}

	h := &Handle{
		key:     a.Key(),
		mailbox: make(chan envelope, cfg.mailboxCapacity),
		done:    make(chan struct{}),
		cancel:  cancel,
	}

	go runLoop(ctx, a, h, sink, cfg)

	return h, nil
}

func runLoop(ctx context.Context, a Actor, h *Handle, sink *kernerr.Sink, cfg options) {
	defer close(h.done)

	process := func(env envelope) (shutdown bool) {
		outcome, err := a.Process(ctx, env.msg)
		if err != nil {
			sink.Report(kernerr.New(kernerr.Runtime, a.Key(), "actor process error", err))
		}
		return outcome == OutcomeShutdown
	}

loop:
	for {
		select {
		case <-ctx.Done():
			// Messages already queued when cancellation is observed are
			// still processed, in order; sends racing with shutdown may
			// be left unread.
			for {
				select {
				case env := <-h.mailbox:
					if process(env) {
						break loop
					}
				default:
					break loop
				}
			}
		case env := <-h.mailbox:
			if process(env) {
				break loop
			}
		}
	}

	stopCtx, stopCancel := context.WithTimeout(context.Background(), cfg.gracePeriod)
	defer stopCancel()

	if err := a.Stop(stopCtx); err != nil {
		sink.Report(kernerr.New(kernerr.Shutdown, a.Key(), "actor stop error", err))
	}

	cfg.logger.Debug("actor terminated", zap.String("actor_key", a.Key()))
}
