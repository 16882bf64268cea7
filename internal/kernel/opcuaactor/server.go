package opcuaactor

import (
	"context"
	"fmt"

	"github.com/gopcua/opcua/server"
	"go.uber.org/zap"

	"github.com/besok/parallax/internal/kernel/actor"
	"github.com/besok/parallax/internal/kernel/kernerr"
)

// uaServer is the thin seam over github.com/gopcua/opcua/server's
// functional-options Server, so tests can substitute a fake without an
// OPC UA stack listening on a real socket.
type uaServer interface {
	Start(ctx context.Context) error
	Close() error
	RegisterNamespace(uri string) (uint16, error)
}

type gopcuaServer struct {
	srv *server.Server
}

func newGopcuaServer(host string, port int) *gopcuaServer {
	addr := fmt.Sprintf("opc.tcp://%s:%d", host, port)
	srv := server.New(server.EndPoint(addr, "None"))
	return &gopcuaServer{srv: srv}
}

func (g *gopcuaServer) Start(ctx context.Context) error {
	return g.srv.Start(ctx)
}

func (g *gopcuaServer) Close() error {
	return g.srv.Close()
}

func (g *gopcuaServer) RegisterNamespace(uri string) (uint16, error) {
	idx := g.srv.NamespaceManager().Register(uri)
	return idx, nil
}

// Config configures an OPC UA server actor.
type Config struct {
	Host         string
	Port         int
	Namespaces   []NamespaceConfig
	AddressSpace *AddressSpace
}

// Server is the OPC UA server actor.
type Server struct {
	key    string
	cfg    Config
	sink   *kernerr.Sink
	logger *zap.Logger

	newServer func(host string, port int) uaServer
	ua        uaServer

	cancel context.CancelFunc
	done   chan struct{}
}

var _ actor.Actor = (*Server)(nil)

// New creates an OPC UA server actor bound to key.
func New(key string, cfg Config, sink *kernerr.Sink, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		key:    key,
		cfg:    cfg,
		sink:   sink,
		logger: logger,
		newServer: func(host string, port int) uaServer {
			return newGopcuaServer(host, port)
		},
	}
}

func (s *Server) Key() string { return s.key }

func (s *Server) Start(ctx context.Context) error {
	if err := validateNamespaces(s.cfg.Namespaces); err != nil {
		return fmt.Errorf("opcuaactor: %w", err)
	}

	ua := s.newServer(s.cfg.Host, s.cfg.Port)

	for _, ns := range s.cfg.Namespaces {
		got, err := ua.RegisterNamespace(ns.URI)
		if err != nil {
			return fmt.Errorf("opcuaactor: register namespace %q: %w", ns.URI, err)
		}
		if got != ns.Index {
			return &ErrNamespaceMismatch{Requested: ns.Index, Got: got}
		}
	}

	loopCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	s.ua = ua

	go func() {
		defer close(s.done)
		if err := ua.Start(loopCtx); err != nil && loopCtx.Err() == nil {
			s.sink.Report(kernerr.NewProtocol(kernerr.ProtocolOPCUA, s.key, "server loop exited unexpectedly", err))
		}
	}()

	return nil
}

// UpdateValueMsg is the actor message form of UpdateValue, routed
// through Process/the mailbox like sshactor's AddFileMsg, for callers
// that hold a Handle rather than a *Server.
type UpdateValueMsg struct {
	NodeID string
	Value  any
}

// UpdateValue writes to a variable node directly, bypassing the
// mailbox, for callers that already hold a *Server (e.g. tests and
// in-process wiring). Handle-based callers should send UpdateValueMsg
// instead; failures from that path are reported to the sink as
// Runtime errors per spec.md §4.8.
func (s *Server) UpdateValue(nodeID string, value any) error {
	return s.applyUpdate(nodeID, value)
}

func (s *Server) applyUpdate(nodeID string, value any) error {
	if s.cfg.AddressSpace == nil {
		return fmt.Errorf("opcuaactor: no address space configured")
	}
	return s.cfg.AddressSpace.UpdateValue(nodeID, value)
}

func (s *Server) Process(ctx context.Context, msg any) (actor.Outcome, error) {
	if outcome, ok := actor.HandleServiceMsg(msg); ok {
		return outcome, nil
	}

	switch m := msg.(type) {
	case UpdateValueMsg:
		if err := s.applyUpdate(m.NodeID, m.Value); err != nil {
			s.sink.Report(kernerr.New(kernerr.Runtime, s.key,
				fmt.Sprintf("update value failed for node %q", m.NodeID), err))
		}
	}

	return actor.OutcomeContinue, nil
}

func (s *Server) Stop(ctx context.Context) error {
	if s.cancel != nil {
		s.cancel()
	}
	if s.ua != nil {
		if err := s.ua.Close(); err != nil {
			s.logger.Warn("opc ua server close error", zap.Error(err))
		}
	}
	select {
	case <-s.done:
	case <-ctx.Done():
	}
	return nil
}
