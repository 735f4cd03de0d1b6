package cmd

import (
	"context"
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"
	"github.com/timvw/pane-relay/internal/config"
	"github.com/timvw/pane-relay/internal/daemon"
	"github.com/timvw/pane-relay/internal/enter"
	"github.com/timvw/pane-relay/internal/executor"
	"github.com/timvw/pane-relay/internal/mux"
	telem "github.com/timvw/pane-relay/internal/otel"
	"github.com/timvw/pane-relay/internal/server"
)

var (
	flagServerIP      string
	flagServerPort    int
	flagServerTimeout string
	flagTmux          string
	flagTmuxSocket    string
	flagDaemon        bool
)

var serverCmd = &cobra.Command{
	Use:   "server [enter_command] [port]",
	Short: "Serve split requests and run tmux split-window on this host",
	Long: `Start the relay server. Run it on the host, inside the tmux session that
should receive new panes.

enter_command, when given, is how every new pane enters its target
(e.g. "docker exec -it mybox bash"). It is split with shell quoting rules
and always wins over the container id a client sends. Without it, the
server builds "docker exec -it <container_id> /bin/bash -C" from the
request. Pass "" to leave it unset while still giving a port.

With --daemon the server detaches from the terminal. A daemon has no $TMUX
of its own, so clients should forward the host socket via $TMUX_SOCKET or
the server should be given --tmux-socket.`,
	Args: cobra.MaximumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServer(cmd, args)
	},
}

func init() {
	serverCmd.Flags().StringVar(&flagServerIP, "ip", "", "address to listen on (default: 127.0.0.1)")
	serverCmd.Flags().IntVar(&flagServerPort, "port", 0, "port to listen on (default: 3000)")
	serverCmd.Flags().StringVar(&flagServerTimeout, "timeout", "", `bound on each tmux invocation, e.g. "30s"; "0" or "off" disables`)
	serverCmd.Flags().StringVar(&flagTmux, "tmux", "", "tmux binary (default: tmux from $PATH)")
	serverCmd.Flags().StringVar(&flagTmuxSocket, "tmux-socket", "", "tmux server socket used when a request names none")
	serverCmd.Flags().BoolVarP(&flagDaemon, "daemon", "d", false, "detach and run in the background")
	rootCmd.AddCommand(serverCmd)
}

func runServer(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := applyServerArgs(cmd, cfg, args); err != nil {
		return err
	}

	daemonOpts := daemon.Options{
		Stdout:  cfg.Daemon.Stdout,
		Stderr:  cfg.Daemon.Stderr,
		PIDFile: cfg.Daemon.PIDFile,
		WorkDir: cfg.Daemon.WorkDir,
	}
	if flagDaemon {
		detached, err := daemon.Detach(daemonOpts)
		if err != nil {
			return fmt.Errorf("daemon: %w", err)
		}
		if detached {
			fmt.Fprintf(os.Stderr, "daemonized: logs in %s and %s, pid in %s\n",
				cfg.Daemon.Stdout, cfg.Daemon.Stderr, cfg.Daemon.PIDFile)
			return nil
		}
		if err := daemon.Prepare(daemonOpts); err != nil {
			return fmt.Errorf("daemon: %w", err)
		}
		defer func() { _ = daemon.RemovePIDFile(cfg.Daemon.PIDFile) }()
	}

	logger := newLogger(cfg, "server")
	if cfg.ConfigFile != "" {
		logger.Info("config loaded", "path", cfg.ConfigFile)
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	// Wire build version into OTEL service metadata
	telem.Version = Version

	// Initialize OTEL (no-op if no endpoint configured)
	tel, err := telem.Init(ctx, telem.OTELConfig{
		Endpoint: cfg.OTELEndpoint,
		Headers:  cfg.OTELHeaders,
	})
	if err != nil {
		logger.Warn("otel init failed", "err", err)
		tel = telem.Noop()
	}
	defer tel.Shutdown(context.Background())

	tmux, err := mux.FromName("tmux", cfg.Tmux)
	if err != nil {
		return err
	}
	tmux = tmux.WithSocket(cfg.TmuxSocket)
	if err := mux.Detect(tmux); err != nil {
		logger.Warn("tmux not available, requests will fail until it is", "err", err)
	}

	spec := enter.NewSpec(cfg.EnterCommand)
	if command, ok := spec.Command(); ok {
		logger.Info("enter command configured", "command", command)
	} else {
		logger.Info("no enter command configured, using container ids from requests")
	}

	srv := server.New(server.Options{
		Addr:      cfg.Addr(),
		Enter:     spec,
		Executor:  executor.New(tmux, cfg.TimeoutDuration, logger, tel.Metrics),
		Logger:    logger,
		Telemetry: tel,
	})
	return srv.Start(ctx)
}

// applyServerArgs layers positional arguments and flags over cfg.
func applyServerArgs(cmd *cobra.Command, cfg *config.Config, args []string) error {
	if len(args) > 0 {
		cfg.EnterCommand = args[0]
	}
	if len(args) > 1 {
		port, err := strconv.Atoi(args[1])
		if err != nil {
			return fmt.Errorf("invalid port %q: %w", args[1], err)
		}
		cfg.Port = port
	} else if cmd.Flags().Changed("port") {
		cfg.Port = flagServerPort
	}
	if flagServerIP != "" {
		cfg.IP = flagServerIP
	}
	if cmd.Flags().Changed("timeout") {
		cfg.Timeout = flagServerTimeout
	}
	if flagTmux != "" {
		cfg.Tmux = flagTmux
	}
	if flagTmuxSocket != "" {
		cfg.TmuxSocket = flagTmuxSocket
	}
	return cfg.Finalize()
}
