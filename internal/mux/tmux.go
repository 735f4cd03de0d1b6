package mux

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
	"time"
)

// waitDelay bounds how long Run waits for output pipes after the process
// was killed, in case it left children holding them open.
const waitDelay = 500 * time.Millisecond

// Tmux implements the Multiplexer interface for tmux.
type Tmux struct {
	// Binary is the tmux executable; empty means "tmux" from $PATH.
	Binary string
	// Socket, when set, is passed as tmux -S so a server without $TMUX
	// (e.g., daemonized) can still reach the user's session.
	Socket string
}

// NewTmux creates a new tmux multiplexer.
func NewTmux(binary string) *Tmux {
	return &Tmux{Binary: binary}
}

// Name returns "tmux".
func (t *Tmux) Name() string {
	return "tmux"
}

// WithSocket returns a copy bound to the given socket path.
// An empty socket returns t unchanged.
func (t *Tmux) WithSocket(socket string) *Tmux {
	if socket == "" {
		return t
	}
	c := *t
	c.Socket = socket
	return &c
}

// BindSocket implements SocketBinder.
func (t *Tmux) BindSocket(socket string) Multiplexer {
	return t.WithSocket(socket)
}

// Run executes tmux with args, capturing stdout and stderr separately.
func (t *Tmux) Run(ctx context.Context, args []string) (*Output, error) {
	cmd := exec.CommandContext(ctx, t.binary(), t.argv(args)...)
	cmd.WaitDelay = waitDelay

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	out := &Output{
		Stdout: stdout.Bytes(),
		Stderr: stderr.Bytes(),
	}
	if cmd.ProcessState != nil {
		out.ExitCode = cmd.ProcessState.ExitCode()
		out.Status = cmd.ProcessState.String()
	}

	if err == nil {
		return out, nil
	}
	// The process exited cleanly but something it spawned kept our pipes.
	if errors.Is(err, exec.ErrWaitDelay) && cmd.ProcessState != nil && cmd.ProcessState.Success() {
		return out, nil
	}
	if errors.Is(ctx.Err(), context.DeadlineExceeded) && cmd.ProcessState != nil {
		return out, ErrTimeout
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return out, &ExitError{Output: out}
	}
	return nil, err
}

func (t *Tmux) binary() string {
	if t.Binary == "" {
		return "tmux"
	}
	return t.Binary
}

// argv prepends global tmux options to the subcommand args.
func (t *Tmux) argv(args []string) []string {
	if t.Socket == "" {
		return args
	}
	return append([]string{"-S", t.Socket}, args...)
}
