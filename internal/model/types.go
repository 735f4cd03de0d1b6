package model

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Action is the tmux split orientation requested by a client.
type Action int

const (
	// SplitVertical splits the current pane top/bottom (tmux default).
	SplitVertical Action = iota
	// SplitHorizontal splits the current pane left/right (tmux -h).
	SplitHorizontal
)

// Wire names used in JSON bodies and on the command line.
const (
	splitVerticalName   = "SplitWindowVertical"
	splitHorizontalName = "SplitWindowHorizontal"
)

// Actions lists every supported action in wire order.
var Actions = []Action{SplitVertical, SplitHorizontal}

// String returns the wire name of the action.
func (a Action) String() string {
	switch a {
	case SplitVertical:
		return splitVerticalName
	case SplitHorizontal:
		return splitHorizontalName
	default:
		return fmt.Sprintf("Action(%d)", int(a))
	}
}

// ParseAction parses a wire name. The CLI short forms "vertical",
// "horizontal", "v" and "h" are accepted case-insensitively.
func ParseAction(s string) (Action, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case strings.ToLower(splitVerticalName), "vertical", "v":
		return SplitVertical, nil
	case strings.ToLower(splitHorizontalName), "horizontal", "h":
		return SplitHorizontal, nil
	}
	return 0, fmt.Errorf("unknown tmux action %q (supported: %s, %s)", s, splitVerticalName, splitHorizontalName)
}

// MarshalJSON encodes the action as its wire name.
func (a Action) MarshalJSON() ([]byte, error) {
	switch a {
	case SplitVertical, SplitHorizontal:
		return json.Marshal(a.String())
	}
	return nil, fmt.Errorf("cannot marshal unknown tmux action %d", int(a))
}

// UnmarshalJSON decodes a wire name. Only the exact wire names are accepted
// over HTTP; the short forms are a CLI convenience.
func (a *Action) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("tmux_action must be a string: %w", err)
	}
	switch s {
	case splitVerticalName:
		*a = SplitVertical
	case splitHorizontalName:
		*a = SplitHorizontal
	default:
		return fmt.Errorf("unknown tmux action %q", s)
	}
	return nil
}

// Set implements pflag.Value so the action can be bound to a cobra flag.
func (a *Action) Set(s string) error {
	v, err := ParseAction(s)
	if err != nil {
		return err
	}
	*a = v
	return nil
}

// Type implements pflag.Value.
func (a *Action) Type() string {
	return "action"
}

// Request is the JSON body posted by the client.
type Request struct {
	TmuxAction Action `json:"tmux_action"`
	// Command is the optional inner command run after entering.
	Command *string `json:"command"`
	// ContainerID is the docker container the client runs in, if discovered.
	ContainerID *string `json:"container_id"`
	// TmuxSocket is the host tmux socket path. A daemonized server has no
	// $TMUX of its own, so the client forwards it.
	TmuxSocket *string `json:"tmux_socket,omitempty"`
}

// NewRequest builds a request. Empty strings are treated as absent.
func NewRequest(action Action, command, containerID string) Request {
	return Request{
		TmuxAction:  action,
		Command:     optional(command),
		ContainerID: optional(containerID),
	}
}

// WithTmuxSocket returns a copy of the request carrying the given socket.
func (r Request) WithTmuxSocket(socket string) Request {
	r.TmuxSocket = optional(socket)
	return r
}

// UnmarshalJSON decodes a request body. tmux_action is required; the
// optional fields may be absent or null.
func (r *Request) UnmarshalJSON(data []byte) error {
	type plain Request
	var wire struct {
		TmuxAction *Action `json:"tmux_action"`
		plain
	}
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	if wire.TmuxAction == nil {
		return fmt.Errorf("missing field tmux_action")
	}
	*r = Request(wire.plain)
	r.TmuxAction = *wire.TmuxAction
	return nil
}

// Validate checks the fields every request needs. The container id is
// checked only when it is used to enter the container.
func (r Request) Validate() error {
	switch r.TmuxAction {
	case SplitVertical, SplitHorizontal:
	default:
		return fmt.Errorf("unknown tmux action %d", int(r.TmuxAction))
	}
	return nil
}

// String renders the request for human-readable client output.
func (r Request) String() string {
	return fmt.Sprintf("Request{tmux_action: %s, command: %s, container_id: %s}",
		r.TmuxAction, show(r.Command), show(r.ContainerID))
}

// Response is the JSON body returned by the server.
type Response struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// NewResponse builds a response.
func NewResponse(success bool, message string) Response {
	return Response{Success: success, Message: message}
}

// ContainerIDLength is the length of a full docker container id.
const ContainerIDLength = 64

// IsContainerID reports whether s is a full docker container id:
// exactly 64 lowercase hexadecimal characters.
func IsContainerID(s string) bool {
	if len(s) != ContainerIDLength {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func show(s *string) string {
	if s == nil {
		return "<none>"
	}
	return fmt.Sprintf("%q", *s)
}
