// Package mux runs terminal multiplexer commands on behalf of the relay.
//
// It is transport only: callers hand it a fully assembled argument vector and
// get back the captured output and exit status. Deciding what to run lives in
// the enter package and SplitWindowArgs.
package mux

import (
	"context"
	"errors"
	"fmt"
)

// Multiplexer abstracts running a multiplexer CLI.
type Multiplexer interface {
	// Name returns the multiplexer name (e.g., "tmux").
	Name() string

	// Run executes the multiplexer binary with args and waits for it.
	// A non-zero exit returns the output together with an *ExitError.
	// A context deadline returns ErrTimeout after the child is killed.
	Run(ctx context.Context, args []string) (*Output, error)
}

// Output is what a finished multiplexer process produced.
type Output struct {
	Stdout   []byte
	Stderr   []byte
	ExitCode int
	// Status is the human-readable exit status (e.g., "exit status 1").
	Status string
}

// ErrTimeout is returned when the process outlived its context deadline.
var ErrTimeout = errors.New("multiplexer command timed out")

// ExitError reports a process that ran but exited non-zero.
type ExitError struct {
	Output *Output
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("multiplexer command failed: %s", e.Output.Status)
}

// SocketBinder is implemented by multiplexers that can be pointed at an
// explicit server socket per call.
type SocketBinder interface {
	BindSocket(socket string) Multiplexer
}
