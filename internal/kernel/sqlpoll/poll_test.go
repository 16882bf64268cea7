package sqlpoll_test

import (
	"context"
	"database/sql"
	"sync"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/besok/parallax/internal/kernel/actor"
	"github.com/besok/parallax/internal/kernel/kernerr"
	"github.com/besok/parallax/internal/kernel/sqlpoll"
)

func newSink(t *testing.T) *kernerr.Sink {
	t.Helper()
	sink := kernerr.NewSink(zap.NewNop())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		sink.Close(ctx)
	})
	return sink
}

// countingSubscriber collects descriptions reported to it.
type countingSubscriber struct {
	mu   sync.Mutex
	msgs []string
}

func (c *countingSubscriber) TrySend(msg any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.msgs = append(c.msgs, msg.(string))
	return nil
}

func (c *countingSubscriber) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.msgs)
}

func TestPoller_SQLiteTasksEndToEnd(t *testing.T) {
	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	defer db.Close()

	_, err = db.Exec(`CREATE TABLE tasks (
		id INTEGER PRIMARY KEY,
		description TEXT NOT NULL,
		completed BOOLEAN NOT NULL DEFAULT 0,
		created_at DATETIME NOT NULL
	)`)
	if err != nil {
		t.Fatalf("create table: %v", err)
	}
	_, err = db.Exec(`INSERT INTO tasks (description, completed, created_at) VALUES (?, ?, ?)`,
		"Sample Task", false, time.Now().UTC())
	if err != nil {
		t.Fatalf("insert row: %v", err)
	}

	sub := &countingSubscriber{}
	p := sqlpoll.New(
		"task-poller",
		sqlpoll.SQLPool{DB: db},
		time.Second,
		func(ctx context.Context) (string, []any) {
			return "SELECT description FROM tasks LIMIT 1", nil
		},
		func(rows sqlpoll.Rows) (any, error) {
			var description string
			for rows.Next() {
				if err := rows.Scan(&description); err != nil {
					return nil, err
				}
			}
			return description, nil
		},
		newSink(t),
		zap.NewNop(),
	)
	p.Subscribe(sub)

	h, err := actor.Spawn(context.Background(), p, newSink(t))
	if err != nil {
		t.Fatalf("spawn failed: %v", err)
	}
	defer func() {
		h.Stop()
		<-h.Done()
	}()

	deadline := time.Now().Add(2500 * time.Millisecond)
	for time.Now().Before(deadline) && sub.count() < 2 {
		time.Sleep(50 * time.Millisecond)
	}

	if sub.count() < 2 {
		t.Fatalf("expected at least 2 fan-out messages after 2s, got %d", sub.count())
	}
	for _, msg := range sub.msgs {
		if msg != "Sample Task" {
			t.Errorf("expected every message to be %q, got %q", "Sample Task", msg)
		}
	}
}

func TestPoller_StaleSubscriberDoesNotBlockLiveOne(t *testing.T) {
	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	defer db.Close()
	if _, err := db.Exec(`CREATE TABLE tasks (description TEXT NOT NULL)`); err != nil {
		t.Fatalf("create table: %v", err)
	}
	if _, err := db.Exec(`INSERT INTO tasks (description) VALUES ('x')`); err != nil {
		t.Fatalf("insert row: %v", err)
	}

	sink := newSink(t)
	p := sqlpoll.New(
		"prune-poller",
		sqlpoll.SQLPool{DB: db},
		50*time.Millisecond,
		func(ctx context.Context) (string, []any) {
			return "SELECT description FROM tasks LIMIT 1", nil
		},
		func(rows sqlpoll.Rows) (any, error) {
			var description string
			for rows.Next() {
				if err := rows.Scan(&description); err != nil {
					return nil, err
				}
			}
			return description, nil
		},
		sink,
		zap.NewNop(),
	)

	stale := &alwaysClosedSubscriber{}
	live := &countingSubscriber{}
	p.Subscribe(stale)
	p.Subscribe(live)

	h, err := actor.Spawn(context.Background(), p, sink)
	if err != nil {
		t.Fatalf("spawn failed: %v", err)
	}
	defer func() {
		h.Stop()
		<-h.Done()
	}()

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) && live.count() < 1 {
		time.Sleep(10 * time.Millisecond)
	}
	if live.count() < 1 {
		t.Fatal("expected live subscriber to still receive messages")
	}
}

type alwaysClosedSubscriber struct{}

func (alwaysClosedSubscriber) TrySend(msg any) error { return actor.ErrClosed }
