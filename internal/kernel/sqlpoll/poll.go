// Package sqlpoll implements the SQL poll actor (C7): it runs a
// parameterless query on an interval and fans result rows out to
// subscriber actor handles. It generalizes the pgx-based job repository
// pattern from the execution worker into a reusable polling producer,
// and also accepts a database/sql pool (e.g. mattn/go-sqlite3) for the
// spec's in-memory-SQLite end-to-end scenario.
package sqlpoll

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/besok/parallax/internal/kernel/actor"
	"github.com/besok/parallax/internal/kernel/kernerr"
)

// Rows is the minimal row-cursor surface the poller needs; pgx.Rows
// satisfies it directly, and *sql.Rows is wrapped by sqlRowsAdapter in
// adapter.go.
type Rows interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
	Close()
}

// Queryer runs a query and returns a Rows cursor. PgxPool adapts
// *pgxpool.Pool and SQLPool adapts database/sql (both in adapter.go).
type Queryer interface {
	Query(ctx context.Context, query string, args ...any) (Rows, error)
}

// QueryFactory produces a fresh parameterless query (and its args, if
// any) for each tick.
type QueryFactory func(ctx context.Context) (query string, args []any)

// RowMapper maps one fully-scanned row batch into the user's chosen
// result message. It receives Rows already positioned for iteration.
type RowMapper func(rows Rows) (any, error)

// Subscriber is the minimal handle surface the poller fans out to.
type Subscriber interface {
	TrySend(msg any) error
}

// Poller is the SQL poll actor.
type Poller struct {
	key      string
	pool     Queryer
	interval time.Duration
	factory  QueryFactory
	mapper   RowMapper
	sink     *kernerr.Sink
	logger   *zap.Logger

	mu   sync.Mutex
	subs []Subscriber

	cancel context.CancelFunc
	done   chan struct{}
}

var _ actor.Actor = (*Poller)(nil)

// New creates a SQL poll actor.
func New(key string, pool Queryer, interval time.Duration, factory QueryFactory, mapper RowMapper, sink *kernerr.Sink, logger *zap.Logger) *Poller {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Poller{
		key:      key,
		pool:     pool,
		interval: interval,
		factory:  factory,
		mapper:   mapper,
		sink:     sink,
		logger:   logger,
	}
}

func (p *Poller) Key() string { return p.key }

// Subscribe appends a subscriber handle. There is no unsubscribe;
// handles go stale once their mailbox closes and TrySend starts
// returning actor.ErrClosed, at which point they are pruned lazily on
// the next fan-out.
func (p *Poller) Subscribe(sub Subscriber) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.subs = append(p.subs, sub)
}

func (p *Poller) Start(ctx context.Context) error {
	loopCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.done = make(chan struct{})

	go p.run(loopCtx)

	return nil
}

func (p *Poller) run(ctx context.Context) {
	defer close(p.done)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.tick(ctx)
		}
	}
}

func (p *Poller) tick(ctx context.Context) {
	query, args := p.factory(ctx)

	rows, err := p.pool.Query(ctx, query, args...)
	if err != nil {
		p.sink.Report(kernerr.NewProtocol(kernerr.ProtocolSQL, p.key, "query failed", err))
		return
	}
	defer rows.Close()

	msg, err := p.mapper(rows)
	if err != nil {
		p.sink.Report(kernerr.NewProtocol(kernerr.ProtocolSQL, p.key, "row mapping failed", err))
		return
	}
	if err := rows.Err(); err != nil {
		p.sink.Report(kernerr.NewProtocol(kernerr.ProtocolSQL, p.key, "row iteration failed", err))
		return
	}

	p.fanOut(msg)
}

func (p *Poller) fanOut(msg any) {
	p.mu.Lock()
	defer p.mu.Unlock()

	live := p.subs[:0]
	for _, sub := range p.subs {
		err := sub.TrySend(msg)
		switch err {
		case nil:
			live = append(live, sub)
		case actor.ErrChannelFull:
			p.logger.Warn("dropping fan-out message, subscriber mailbox full",
				zap.String("actor_key", p.key))
			live = append(live, sub)
		case actor.ErrClosed:
			// Stale subscriber: pruned by omission from live.
		default:
			p.logger.Warn("dropping fan-out message", zap.String("actor_key", p.key), zap.Error(err))
			live = append(live, sub)
		}
	}
	p.subs = live
}

func (p *Poller) Process(ctx context.Context, msg any) (actor.Outcome, error) {
	outcome, _ := actor.HandleServiceMsg(msg)
	return outcome, nil
}

func (p *Poller) Stop(ctx context.Context) error {
	if p.cancel != nil {
		p.cancel()
	}
	select {
	case <-p.done:
	case <-ctx.Done():
	}
	return nil
}
