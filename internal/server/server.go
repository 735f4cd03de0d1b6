// Package server exposes the relay over HTTP.
//
// A request names a split direction, an optional inner command and an
// optional container id. The server decides how the new pane enters its
// target, assembles the tmux split-window argv and runs it.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/timvw/pane-relay/internal/enter"
	"github.com/timvw/pane-relay/internal/executor"
	"github.com/timvw/pane-relay/internal/logging"
	"github.com/timvw/pane-relay/internal/model"
	"github.com/timvw/pane-relay/internal/mux"
	telem "github.com/timvw/pane-relay/internal/otel"
)

// shutdownTimeout bounds how long in-flight requests may finish after the
// serving context is cancelled.
const shutdownTimeout = 5 * time.Second

// Resolution failure types, used as the error.type metric attribute.
const (
	failureNoEnterMethod    = "no_enter_method"
	failureMalformedEnter   = "malformed_enter_command"
	failureInvalidContainer = "invalid_container_id"
	failureInvalidRequest   = "invalid_request"
	failureUnknownResolver  = "unknown"
)

// Options configures a Server.
type Options struct {
	// Addr is the host:port to listen on.
	Addr string
	// Enter is the server-wide enter configuration, fixed at startup.
	Enter    enter.Spec
	Executor *executor.Executor
	Logger   *slog.Logger
	// Telemetry is optional; nil disables tracing.
	Telemetry *telem.Telemetry
}

// Server is the relay HTTP server.
type Server struct {
	echo    *echo.Echo
	addr    string
	enter   enter.Spec
	exec    *executor.Executor
	logger  *slog.Logger
	tracer  trace.Tracer
	metrics *telem.Metrics
}

// New builds a Server and registers its routes.
func New(opts Options) *Server {
	s := &Server{
		addr:   opts.Addr,
		enter:  opts.Enter,
		exec:   opts.Executor,
		logger: opts.Logger,
		tracer: noop.NewTracerProvider().Tracer("pane-relay"),
	}
	if s.logger == nil {
		s.logger = logging.Discard()
	}
	if opts.Telemetry != nil {
		if opts.Telemetry.Tracer != nil {
			s.tracer = opts.Telemetry.Tracer
		}
		s.metrics = opts.Telemetry.Metrics
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recover())
	e.Use(middleware.RequestIDWithConfig(middleware.RequestIDConfig{
		Generator: uuid.NewString,
	}))
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:    true,
		LogURI:       true,
		LogStatus:    true,
		LogLatency:   true,
		LogRemoteIP:  true,
		LogRequestID: true,
		LogError:     true,
		HandleError:  true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			attrs := []any{
				"method", v.Method,
				"uri", v.URI,
				"status", v.Status,
				"latency_ms", v.Latency.Milliseconds(),
				"remote_ip", v.RemoteIP,
				"request_id", v.RequestID,
			}
			if v.Error != nil {
				attrs = append(attrs, "err", v.Error)
			}
			s.logger.InfoContext(c.Request().Context(), "request", attrs...)
			return nil
		},
	}))

	e.POST("/", s.handleExecute)
	e.POST("/execute", s.handleExecute)
	e.GET("/healthz", s.handleHealth)

	s.echo = e
	return s
}

// Handler returns the server's HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Start listens on the configured address and serves until ctx is
// cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve is Start on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.echo.Listener = ln
	s.logger.Info("relay server listening", "addr", ln.Addr().String())

	errCh := make(chan error, 1)
	go func() {
		errCh <- s.echo.Start(ln.Addr().String())
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	s.logger.Info("relay server shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := s.echo.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleExecute(c echo.Context) error {
	ctx, span := s.tracer.Start(c.Request().Context(), "relay.execute")
	defer span.End()

	logger := s.logger.With("request_id", c.Response().Header().Get(echo.HeaderXRequestID))

	req, err := bindRequest(c)
	if err != nil {
		s.metrics.RecordResolutionFailure(ctx, failureInvalidRequest)
		span.SetStatus(codes.Error, failureInvalidRequest)
		logger.Warn("rejecting request", "err", err)
		return c.JSON(http.StatusBadRequest, model.NewResponse(false, fmt.Sprintf("Invalid request: %v", err)))
	}

	method := enter.Method(s.enter, req.ContainerID)
	span.SetAttributes(
		attribute.String("tmux.action", req.TmuxAction.String()),
		attribute.String("enter.method", method),
	)

	enterArgs, err := enter.Resolve(s.enter, req.ContainerID)
	if err != nil {
		kind := failureType(err)
		s.metrics.RecordResolutionFailure(ctx, kind)
		span.SetStatus(codes.Error, kind)
		logger.Warn("cannot resolve enter command", "method", method, "err", err)
		return c.JSON(http.StatusOK, model.NewResponse(false, err.Error()))
	}

	inner, err := enter.SplitInnerStrict(req.Command)
	if err != nil {
		logger.Warn("ignoring malformed inner command", "command", *req.Command, "err", err)
	}

	args := mux.SplitWindowArgs(req.TmuxAction, enterArgs, inner)

	m := s.exec.Mux
	if req.TmuxSocket != nil {
		if b, ok := m.(mux.SocketBinder); ok {
			m = b.BindSocket(*req.TmuxSocket)
		} else {
			logger.Warn("multiplexer cannot bind a socket, ignoring tmux_socket", "mux", m.Name())
		}
	}

	res := s.exec.ExecuteWith(ctx, m, args)
	span.SetAttributes(attribute.String("relay.outcome", res.Outcome))
	if res.Outcome != executor.OutcomeSuccess {
		span.SetStatus(codes.Error, res.Outcome)
	}
	return c.JSON(res.Status, res.Response)
}

// bindRequest decodes and validates the JSON body.
func bindRequest(c echo.Context) (model.Request, error) {
	var req model.Request
	if c.Request().ContentLength == 0 {
		return req, errors.New("empty request body")
	}
	if err := (&echo.DefaultBinder{}).BindBody(c, &req); err != nil {
		var he *echo.HTTPError
		if errors.As(err, &he) {
			return req, fmt.Errorf("%v", he.Message)
		}
		return req, err
	}
	if err := req.Validate(); err != nil {
		return req, err
	}
	return req, nil
}

func failureType(err error) string {
	switch {
	case errors.Is(err, enter.ErrNoEnterMethod):
		return failureNoEnterMethod
	case errors.Is(err, enter.ErrMalformedEnterCommand):
		return failureMalformedEnter
	case errors.Is(err, enter.ErrInvalidContainerID):
		return failureInvalidContainer
	default:
		return failureUnknownResolver
	}
}
