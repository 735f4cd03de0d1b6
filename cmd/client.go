package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/timvw/pane-relay/internal/client"
	"github.com/timvw/pane-relay/internal/container"
	"github.com/timvw/pane-relay/internal/model"
)

var (
	flagClientIP     string
	flagClientPort   int
	flagTmuxAction   model.Action
	flagContainerID  string
	flagNoDiscover   bool
	flagClientSocket string
)

// errRequestFailed makes the client exit non-zero after the outcome was printed.
var errRequestFailed = errors.New("request failed")

var clientCmd = &cobra.Command{
	Use:   "client [command]",
	Short: "Ask the relay server to split the current tmux window",
	Long: `Send a split request to the relay server. Run it inside a docker container.

The container id is read from /proc/self/mountinfo unless --container-id or
--no-discover is given. command, when given, runs in the new pane after it
has entered the container.

--tmux-action accepts SplitWindowVertical or SplitWindowHorizontal (or the
short forms vertical, horizontal, v, h).`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runClient(cmd, args)
	},
}

func init() {
	clientCmd.Flags().StringVarP(&flagClientIP, "ip", "i", "", "server address (default: 127.0.0.1)")
	clientCmd.Flags().IntVarP(&flagClientPort, "port", "p", 0, "server port (default: 3000)")
	clientCmd.Flags().VarP(&flagTmuxAction, "tmux-action", "t", "SplitWindowVertical or SplitWindowHorizontal")
	clientCmd.Flags().StringVar(&flagContainerID, "container-id", "", "container id to send instead of discovering it")
	clientCmd.Flags().BoolVar(&flagNoDiscover, "no-discover", false, "do not read /proc/self/mountinfo")
	clientCmd.Flags().StringVar(&flagClientSocket, "tmux-socket", os.Getenv("TMUX_SOCKET"), "host tmux socket to forward (default: $TMUX_SOCKET)")
	_ = clientCmd.MarkFlagRequired("tmux-action")
	rootCmd.AddCommand(clientCmd)
}

func runClient(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if flagClientIP != "" {
		cfg.IP = flagClientIP
	}
	if cmd.Flags().Changed("port") {
		cfg.Port = flagClientPort
	}
	if err := cfg.Finalize(); err != nil {
		return err
	}

	containerID, err := resolveContainerID()
	if err != nil {
		return err
	}

	var command string
	if len(args) > 0 {
		command = args[0]
	}
	req := model.NewRequest(flagTmuxAction, command, containerID).WithTmuxSocket(flagClientSocket)

	c := client.New(client.URL(cfg.IP, cfg.Port))
	p := client.NewPrinter(cmd.OutOrStdout())
	p.Request(req, c.Endpoint())

	resp, status, err := c.Execute(cmd.Context(), req)
	if err != nil {
		p.Error(err)
		return errRequestFailed
	}
	p.Response(resp, status)
	if !resp.Success {
		return errRequestFailed
	}
	return nil
}

// resolveContainerID returns the id to send, or "" for none. A mount table
// that cannot be read is fatal; one without a container id is not.
func resolveContainerID() (string, error) {
	if flagContainerID != "" {
		if !model.IsContainerID(flagContainerID) {
			return "", fmt.Errorf("invalid --container-id %q: want %d lowercase hex characters",
				flagContainerID, model.ContainerIDLength)
		}
		return flagContainerID, nil
	}
	if flagNoDiscover {
		return "", nil
	}
	id, ok, err := container.DiscoverID(container.DefaultMountInfoPath)
	if err != nil {
		return "", fmt.Errorf("failed to get the container id: %w", err)
	}
	if !ok {
		return "", nil
	}
	return id, nil
}
