package brokeremu

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/besok/parallax/internal/kernel/actor"
)

// Config configures the broker emulator actor's two planes.
type Config struct {
	HTTPHost string
	HTTPPort int
	TCPHost  string
	TCPPort  int
}

// Emulator is the broker emulation actor (C11): it serves the
// management HTTP endpoints and the raw-TCP data plane side by side.
type Emulator struct {
	key    string
	cfg    Config
	logger *zap.Logger

	broker *Broker
	sasKey string

	httpSrv *http.Server
	tcpLn   net.Listener
	stop    chan struct{}
	httpErr chan error
}

var _ actor.Actor = (*Emulator)(nil)

// shutdownTimeout bounds the management HTTP server's graceful shutdown.
const shutdownTimeout = 5 * time.Second

// New creates a broker emulator actor bound to key.
func New(key string, cfg Config, logger *zap.Logger) *Emulator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Emulator{key: key, cfg: cfg, logger: logger, broker: NewBroker(), sasKey: uuid.NewString()}
}

// Broker returns the underlying pub/sub state for direct Go-level
// assertions in tests.
func (e *Emulator) Broker() *Broker { return e.broker }

func (e *Emulator) Key() string { return e.key }

func (e *Emulator) Start(ctx context.Context) error {
	httpAddr := fmt.Sprintf("%s:%d", e.cfg.HTTPHost, e.cfg.HTTPPort)
	tcpAddr := fmt.Sprintf("%s:%d", e.cfg.TCPHost, e.cfg.TCPPort)

	router := managementRouter(fmt.Sprintf("http://%s", httpAddr), e.cfg.TCPHost, e.cfg.TCPPort, e.sasKey)
	e.httpSrv = &http.Server{Addr: httpAddr, Handler: router}

	httpLn, err := net.Listen("tcp", httpAddr)
	if err != nil {
		return fmt.Errorf("brokeremu: http bind failed: %w", err)
	}
	e.httpErr = make(chan error, 1)
	go func() {
		if err := e.httpSrv.Serve(httpLn); err != nil && !errors.Is(err, http.ErrServerClosed) {
			e.httpErr <- err
			return
		}
		e.httpErr <- nil
	}()

	tcpLn, err := net.Listen("tcp", tcpAddr)
	if err != nil {
		httpLn.Close()
		return fmt.Errorf("brokeremu: tcp bind failed: %w", err)
	}
	e.tcpLn = tcpLn
	e.stop = make(chan struct{})

	dp := &dataPlane{broker: e.broker, logger: e.logger}
	go dp.serve(tcpLn, e.stop)

	return nil
}

func (e *Emulator) Process(ctx context.Context, msg any) (actor.Outcome, error) {
	outcome, _ := actor.HandleServiceMsg(msg)
	return outcome, nil
}

func (e *Emulator) Stop(ctx context.Context) error {
	close(e.stop)
	if e.tcpLn != nil {
		e.tcpLn.Close()
	}
	if e.httpSrv != nil {
		shutdownCtx, cancel := context.WithTimeout(ctx, shutdownTimeout)
		defer cancel()
		if err := e.httpSrv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("brokeremu: http shutdown: %w", err)
		}
	}
	return nil
}
