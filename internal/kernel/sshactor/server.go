package sshactor

import (
	"context"
	"fmt"
	"io"
	"net"
	"sync"

	gossh "github.com/gliderlabs/ssh"
	"go.uber.org/zap"

	"github.com/besok/parallax/internal/kernel/actor"
	"github.com/besok/parallax/internal/kernel/kernerr"
)

// AddFileMsg is a control message adding/overwriting a virtual file.
type AddFileMsg struct {
	Path  string
	Bytes []byte
}

// RemoveFileMsg is a control message removing a virtual file.
type RemoveFileMsg struct {
	Path string
}

// AddProcessorMsg prepends a user processor, so it shadows the built-ins.
type AddProcessorMsg struct {
	Processor Processor
}

// Config configures an SSH server actor.
type Config struct {
	Host string
	Port int
}

// Server is the SSH server actor: it binds Config.Host:Port, accepts any
// password/public key (demo-grade, per spec.md §4.9), and dispatches
// each exec request through an ordered processor chain.
type Server struct {
	key    string
	cfg    Config
	sink   *kernerr.Sink
	logger *zap.Logger

	files *FileStore

	procMu     sync.Mutex
	processors []Processor

	historyMu sync.Mutex
	history   []string

	srv      *gossh.Server
	serveErr chan error
}

var _ actor.Actor = (*Server)(nil)

// New creates an SSH server actor bound to key, with the built-in ls
// and ssh_test_server processors installed.
func New(key string, cfg Config, sink *kernerr.Sink, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		key:        key,
		cfg:        cfg,
		sink:       sink,
		logger:     logger,
		files:      NewFileStore(),
		processors: []Processor{LsProcessor, SSHTestServerProcessor},
	}
}

func (s *Server) Key() string { return s.key }

// AddFile adds/overwrites a virtual file directly (bypassing the mailbox,
// safe from any goroutine).
func (s *Server) AddFile(path string, bytes []byte) { s.files.Add(path, bytes) }

// RemoveFile removes a virtual file directly.
func (s *Server) RemoveFile(path string) { s.files.Remove(path) }

// AddProcessor prepends a user processor so it shadows the built-ins.
func (s *Server) AddProcessor(p Processor) {
	s.procMu.Lock()
	defer s.procMu.Unlock()
	s.processors = append([]Processor{p}, s.processors...)
}

// History returns every command received so far, in arrival order.
func (s *Server) History() []string {
	s.historyMu.Lock()
	defer s.historyMu.Unlock()
	out := make([]string, len(s.history))
	copy(out, s.history)
	return out
}

func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)

	s.srv = &gossh.Server{
		Addr:    addr,
		Handler: s.handleSession,
		PasswordHandler: func(ctx gossh.Context, password string) bool {
			return true
		},
		PublicKeyHandler: func(ctx gossh.Context, key gossh.PublicKey) bool {
			return true
		},
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("sshactor: bind failed: %w", err)
	}

	s.serveErr = make(chan error, 1)
	go func() {
		err := s.srv.Serve(ln)
		if err != nil && err != gossh.ErrServerClosed {
			s.serveErr <- err
			return
		}
		s.serveErr <- nil
	}()

	return nil
}

// handleSession dispatches one exec request through the processor
// chain. The processor-list mutex is released before the (blocking)
// write back to the client.
func (s *Server) handleSession(sess gossh.Session) {
	cmd := ""
	if cmds := sess.Command(); len(cmds) > 0 {
		cmd = cmds[0]
		for _, c := range cmds[1:] {
			cmd += " " + c
		}
	}

	s.historyMu.Lock()
	s.history = append(s.history, cmd)
	s.historyMu.Unlock()

	s.procMu.Lock()
	chain := make([]Processor, len(s.processors))
	copy(chain, s.processors)
	s.procMu.Unlock()

	output := processorChain(chain, cmd, s.files)

	io.WriteString(sess, output)
	sess.Exit(0)
}

func (s *Server) Process(ctx context.Context, msg any) (actor.Outcome, error) {
	if outcome, ok := actor.HandleServiceMsg(msg); ok {
		return outcome, nil
	}

	switch m := msg.(type) {
	case AddFileMsg:
		s.files.Add(m.Path, m.Bytes)
	case RemoveFileMsg:
		s.files.Remove(m.Path)
	case AddProcessorMsg:
		s.AddProcessor(m.Processor)
	}

	return actor.OutcomeContinue, nil
}

func (s *Server) Stop(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	if err := s.srv.Close(); err != nil {
		return fmt.Errorf("sshactor: close: %w", err)
	}
	select {
	case err := <-s.serveErr:
		if err != nil {
			s.logger.Warn("ssh server reported error after close", zap.Error(err))
		}
	case <-ctx.Done():
	}
	return nil
}
