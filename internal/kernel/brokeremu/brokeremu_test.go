package brokeremu_test

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/besok/parallax/internal/kernel/actor"
	"github.com/besok/parallax/internal/kernel/brokeremu"
	"github.com/besok/parallax/internal/kernel/kernerr"
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

func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to find free port: %v", err)
	}
	defer ln.Close()
	return ln.Addr().(*net.TCPAddr).Port
}

// TestBroker_TopicRoundTrip is the literal AMQP round-trip law from
// spec.md §8: sending payload x on topic T then receiving from
// subscription S of T yields x, exercised directly against the mock
// broker's pub/sub state.
func TestBroker_TopicRoundTrip(t *testing.T) {
	b := brokeremu.NewBroker()
	b.EnsureSubscription("test-topic", "test-sub")

	b.PublishTopic("test-topic", []byte("Hello World"))

	msgs := b.DrainSubscription("test-topic", "test-sub")
	if len(msgs) != 1 || string(msgs[0]) != "Hello World" {
		t.Fatalf("expected [\"Hello World\"], got %v", msgs)
	}

	// Draining again yields nothing further: no duplicate delivery.
	if msgs := b.DrainSubscription("test-topic", "test-sub"); len(msgs) != 0 {
		t.Fatalf("expected no further messages, got %v", msgs)
	}
}

func TestBroker_PublishBeforeSubscriptionIsNotRetroactive(t *testing.T) {
	b := brokeremu.NewBroker()
	b.PublishTopic("orders", []byte("missed"))
	b.EnsureSubscription("orders", "late-sub")

	if msgs := b.DrainSubscription("orders", "late-sub"); len(msgs) != 0 {
		t.Fatalf("expected no messages published before the subscription existed, got %v", msgs)
	}
}

func TestEmulator_DataPlaneStartsAndStops(t *testing.T) {
	httpPort := freePort(t)
	tcpPort := freePort(t)

	e := brokeremu.New("broker-1", brokeremu.Config{
		HTTPHost: "127.0.0.1",
		HTTPPort: httpPort,
		TCPHost:  "127.0.0.1",
		TCPPort:  tcpPort,
	}, zap.NewNop())

	h, err := actor.Spawn(context.Background(), e, newSink(t))
	if err != nil {
		t.Fatalf("spawn failed: %v", err)
	}
	defer func() {
		h.Stop()
		<-h.Done()
	}()

	deadline := time.Now().Add(2 * time.Second)
	var dialErr error
	for time.Now().Before(deadline) {
		conn, err := net.DialTimeout("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(tcpPort)), 200*time.Millisecond)
		if err == nil {
			conn.Close()
			dialErr = nil
			break
		}
		dialErr = err
		time.Sleep(25 * time.Millisecond)
	}
	if dialErr != nil {
		t.Fatalf("tcp data plane never came up: %v", dialErr)
	}
}

// TestEmulator_ConnectionStringFormat asserts /connection-string
// returns spec.md §6's literal Azure Service Bus emulator SAS format,
// naming the data-plane host:port as the sb:// endpoint.
func TestEmulator_ConnectionStringFormat(t *testing.T) {
	httpPort := freePort(t)
	tcpPort := freePort(t)

	e := brokeremu.New("broker-2", brokeremu.Config{
		HTTPHost: "127.0.0.1",
		HTTPPort: httpPort,
		TCPHost:  "127.0.0.1",
		TCPPort:  tcpPort,
	}, zap.NewNop())

	h, err := actor.Spawn(context.Background(), e, newSink(t))
	if err != nil {
		t.Fatalf("spawn failed: %v", err)
	}
	defer func() {
		h.Stop()
		<-h.Done()
	}()

	url := fmt.Sprintf("http://127.0.0.1:%d/connection-string", httpPort)
	var resp *http.Response
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		resp, err = http.Get(url)
		if err == nil {
			break
		}
		time.Sleep(25 * time.Millisecond)
	}
	if err != nil {
		t.Fatalf("GET /connection-string failed: %v", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	var payload struct {
		ConnectionString string `json:"connection_string"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		t.Fatalf("invalid JSON body: %v, body=%s", err, body)
	}

	wantPrefix := fmt.Sprintf("Endpoint=sb://127.0.0.1:%d/;SharedAccessKeyName=RootManageSharedAccessKey;SharedAccessKey=", tcpPort)
	if !strings.HasPrefix(payload.ConnectionString, wantPrefix) {
		t.Fatalf("expected connection string to start with %q, got %q", wantPrefix, payload.ConnectionString)
	}
	if !strings.HasSuffix(payload.ConnectionString, ";UseDevelopmentEmulator=true") {
		t.Fatalf("expected connection string to end with %q, got %q", ";UseDevelopmentEmulator=true", payload.ConnectionString)
	}
}

