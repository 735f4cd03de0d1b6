// Package executor runs an assembled multiplexer argv and turns the outcome
// into the relay's JSON response.
package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/timvw/pane-relay/internal/logging"
	"github.com/timvw/pane-relay/internal/model"
	"github.com/timvw/pane-relay/internal/mux"
	telem "github.com/timvw/pane-relay/internal/otel"
)

// Outcome values, also used as the relay.outcome metric attribute.
const (
	OutcomeSuccess     = "success"
	OutcomeExitNonZero = "exit_nonzero"
	OutcomeSpawnFailed = "spawn_failed"
	OutcomeTimeout     = "timeout"
)

// Result is a classified multiplexer invocation.
type Result struct {
	Response model.Response
	// Status is the HTTP status to answer with.
	Status  int
	Outcome string
}

// Executor runs multiplexer commands with an optional time bound.
type Executor struct {
	Mux mux.Multiplexer
	// Timeout bounds each invocation; zero or negative disables it.
	Timeout time.Duration
	Logger  *slog.Logger
	Metrics *telem.Metrics
}

// New creates an Executor.
func New(m mux.Multiplexer, timeout time.Duration, logger *slog.Logger, metrics *telem.Metrics) *Executor {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Executor{Mux: m, Timeout: timeout, Logger: logger, Metrics: metrics}
}

// Execute runs args through the multiplexer and classifies the result.
// It never returns an error: every failure becomes a success:false response.
func (e *Executor) Execute(ctx context.Context, args []string) Result {
	return e.ExecuteWith(ctx, e.Mux, args)
}

// ExecuteWith is Execute against a specific multiplexer, e.g. one bound to
// a per-request tmux socket.
func (e *Executor) ExecuteWith(ctx context.Context, m mux.Multiplexer, args []string) Result {
	if e.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.Timeout)
		defer cancel()
	}

	start := time.Now()
	out, err := m.Run(ctx, args)
	elapsed := time.Since(start)

	res := classify(out, err, e.Timeout)
	e.Metrics.RecordExecution(ctx, res.Outcome, elapsed)

	level := slog.LevelInfo
	if res.Outcome != OutcomeSuccess {
		level = slog.LevelWarn
	}
	attrs := []any{
		"mux", m.Name(),
		"args", args,
		"outcome", res.Outcome,
		"duration_ms", elapsed.Milliseconds(),
	}
	if err != nil {
		attrs = append(attrs, "err", err)
	}
	e.Logger.Log(ctx, level, "multiplexer command finished", attrs...)

	return res
}

func classify(out *mux.Output, err error, timeout time.Duration) Result {
	var exitErr *mux.ExitError
	switch {
	case err == nil:
		return Result{
			Response: model.NewResponse(true, fmt.Sprintf(
				"Command executed successfully. Stdout: %s, Stderr: %s",
				Decode(out.Stdout), Decode(out.Stderr))),
			Status:  http.StatusOK,
			Outcome: OutcomeSuccess,
		}
	case errors.Is(err, mux.ErrTimeout):
		var stdout, stderr string
		if out != nil {
			stdout, stderr = Decode(out.Stdout), Decode(out.Stderr)
		}
		return Result{
			Response: model.NewResponse(false, fmt.Sprintf(
				"Command timed out after %s. Stdout: %s, Stderr: %s", timeout, stdout, stderr)),
			Status:  http.StatusInternalServerError,
			Outcome: OutcomeTimeout,
		}
	case errors.As(err, &exitErr):
		o := exitErr.Output
		return Result{
			Response: model.NewResponse(false, fmt.Sprintf(
				"Command failed with status code: %s. Stdout: %s, Stderr: %s",
				o.Status, Decode(o.Stdout), Decode(o.Stderr))),
			Status:  http.StatusInternalServerError,
			Outcome: OutcomeExitNonZero,
		}
	default:
		return Result{
			Response: model.NewResponse(false, fmt.Sprintf("Failed to execute a command: %v", err)),
			Status:   http.StatusInternalServerError,
			Outcome:  OutcomeSpawnFailed,
		}
	}
}

// Decode converts captured process output to text. Invalid UTF-8 sequences
// are replaced with U+FFFD rather than passed through.
func Decode(b []byte) string {
	return strings.ToValidUTF8(string(b), "�")
}
