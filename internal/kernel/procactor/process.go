// Package procactor spawns a single long-lived OS process for the
// duration of the actor's lifetime, piping stdout/stderr line-by-line
// into the kernel log under the actor's key. It generalizes the
// per-invocation nsjail sandbox pattern from the code-execution worker
// (one process per job) into one persistent child process per actor.
package procactor

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/besok/parallax/internal/kernel/actor"
)

// killGracePeriod bounds how long the actor waits for the child to exit
// after sending a terminate intent before escalating to SIGKILL.
const killGracePeriod = 5 * time.Second

// Spec describes the child process to launch.
type Spec struct {
	// Executable is the fixed binary path or name.
	Executable string
	// Arg is the single argument passed to Executable (per the kernel's
	// fixed-executable/single-argument contract).
	Arg string
	// Env is added on top of the actor process's own environment.
	Env map[string]string
}

// Process is the child-process actor (C5).
type Process struct {
	key    string
	spec   Spec
	logger *zap.Logger

	mu       sync.Mutex
	cmd      *exec.Cmd
	exited   chan struct{}
	termOnce chan struct{}
}

var _ actor.Actor = (*Process)(nil)

// New creates a child-process actor for the given spec.
func New(key string, spec Spec, logger *zap.Logger) *Process {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Process{key: key, spec: spec, logger: logger}
}

func (p *Process) Key() string { return p.key }

func (p *Process) Start(ctx context.Context) error {
	cmd := exec.Command(p.spec.Executable, p.spec.Arg)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	env := os.Environ()
	for k, v := range p.spec.Env {
		env = append(env, fmt.Sprintf("%s=%s", k, v))
	}
	if looksLikePython(p.spec.Executable) {
		env = append(env, "PYTHONUNBUFFERED=1")
	}
	cmd.Env = env

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("procactor: stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("procactor: stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("procactor: spawn failed: %w", err)
	}

	p.mu.Lock()
	p.cmd = cmd
	p.exited = make(chan struct{})
	p.termOnce = make(chan struct{})
	p.mu.Unlock()

	go p.pipeLines(stdout, "stdout")
	go p.pipeLines(stderr, "stderr")
	go p.reap()

	return nil
}

func looksLikePython(executable string) bool {
	base := executable
	if idx := strings.LastIndexByte(base, '/'); idx >= 0 {
		base = base[idx+1:]
	}
	return strings.HasPrefix(base, "python")
}

func (p *Process) pipeLines(r io.Reader, stream string) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		p.logger.Info(scanner.Text(),
			zap.String("actor_key", p.key),
			zap.String("stream", stream),
		)
	}
}

func (p *Process) reap() {
	p.mu.Lock()
	cmd := p.cmd
	exited := p.exited
	p.mu.Unlock()

	err := cmd.Wait()
	if err != nil {
		p.logger.Info("child process exited",
			zap.String("actor_key", p.key),
			zap.Error(err),
		)
	} else {
		p.logger.Info("child process exited successfully",
			zap.String("actor_key", p.key),
		)
	}
	close(exited)
}

// Process has no actor-specific messages beyond Start/Stop.
func (p *Process) Process(ctx context.Context, msg any) (actor.Outcome, error) {
	outcome, _ := actor.HandleServiceMsg(msg)
	return outcome, nil
}

func (p *Process) Stop(ctx context.Context) error {
	p.mu.Lock()
	cmd := p.cmd
	exited := p.exited
	termOnce := p.termOnce
	p.mu.Unlock()

	if cmd == nil || cmd.Process == nil {
		return nil
	}

	// Send a terminate intent first (SIGTERM to the process group).
	select {
	case <-termOnce:
	default:
		close(termOnce)
		_ = syscall.Kill(-cmd.Process.Pid, syscall.SIGTERM)
	}

	select {
	case <-exited:
		return nil
	case <-time.After(killGracePeriod):
	case <-ctx.Done():
	}

	select {
	case <-exited:
		return nil
	default:
	}

	if err := syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL); err != nil {
		return fmt.Errorf("procactor: kill failed: %w", err)
	}

	<-exited
	return nil
}
