// Package enter resolves how a new tmux pane enters its target environment.
//
// Two forms exist. An explicit enter command is configured once at server
// startup and always wins. Otherwise the client's container id is turned into
// a fixed docker exec invocation. Both forms produce plain argv tokens that
// are appended to tmux split-window.
package enter

import (
	"errors"
	"fmt"
	"strings"

	"github.com/kballard/go-shellquote"

	"github.com/timvw/pane-relay/internal/model"
)

var (
	// ErrNoEnterMethod means neither an enter command nor a container id is available.
	ErrNoEnterMethod = errors.New("no method to enter into the docker container is available")

	// ErrMalformedEnterCommand means the configured enter command could not be tokenized.
	ErrMalformedEnterCommand = errors.New("failed to split enter command")

	// ErrInvalidContainerID means the container id would be used but is not
	// a full docker id.
	ErrInvalidContainerID = errors.New("invalid container id")
)

// Method names reported by Method.
const (
	MethodCommand = "command"
	MethodDocker  = "docker"
	MethodNone    = "none"
)

// Spec is the server-wide enter configuration. Build it once before the
// listener starts and pass it by value; it has no setters.
type Spec struct {
	command string
	set     bool
}

// NewSpec returns a Spec with the given explicit enter command.
// An empty (or all-whitespace) command leaves the spec unset.
func NewSpec(command string) Spec {
	if strings.TrimSpace(command) == "" {
		return Spec{}
	}
	return Spec{command: command, set: true}
}

// Command returns the raw enter command and whether one is configured.
func (s Spec) Command() (string, bool) {
	return s.command, s.set
}

// Method reports which enter form Resolve would use.
func Method(spec Spec, containerID *string) string {
	switch {
	case spec.set:
		return MethodCommand
	case containerID != nil:
		return MethodDocker
	default:
		return MethodNone
	}
}

// Resolve returns the tokens that enter the target environment.
//
// The configured command takes precedence over the container id regardless
// of whether both are present. The id is only checked when it is used.
func Resolve(spec Spec, containerID *string) ([]string, error) {
	if !spec.set && containerID == nil {
		return nil, ErrNoEnterMethod
	}

	if spec.set {
		tokens, err := split(spec.command)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedEnterCommand, err)
		}
		return tokens, nil
	}

	if !model.IsContainerID(*containerID) {
		return nil, fmt.Errorf("%w %q: want %d lowercase hex characters",
			ErrInvalidContainerID, *containerID, model.ContainerIDLength)
	}
	return DockerExec(*containerID), nil
}

// DockerExec returns the docker exec invocation for a container. The id is
// inserted as a single literal token.
func DockerExec(containerID string) []string {
	return []string{"docker", "exec", "-it", containerID, "/bin/bash", "-C"}
}

// SplitInner tokenizes the optional inner command. Malformed quoting yields
// no tokens: the inner command is best-effort, the enter method is not.
func SplitInner(command *string) []string {
	tokens, _ := SplitInnerStrict(command)
	return tokens
}

// SplitInnerStrict is SplitInner but also returns the tokenizer error, so
// callers can report it. The token slice is always non-nil.
func SplitInnerStrict(command *string) ([]string, error) {
	if command == nil {
		return []string{}, nil
	}
	tokens, err := split(*command)
	if err != nil {
		return []string{}, err
	}
	if tokens == nil {
		tokens = []string{}
	}
	return tokens, nil
}

// split tokenizes s with shell quoting rules. An unquoted word starting
// with '#' begins a comment that runs to the end of the line.
func split(s string) ([]string, error) {
	return shellquote.Split(stripComment(s))
}

// stripComment cuts s at the first unquoted '#' that starts a word. Quoting
// errors are left in place for the tokenizer to report.
func stripComment(s string) string {
	var (
		single, double, escaped bool
		wordStart               = true
	)
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case escaped:
			escaped = false
			wordStart = false
		case single:
			single = c != '\''
		case double:
			switch c {
			case '\\':
				escaped = true
			case '"':
				double = false
			}
		default:
			switch c {
			case '\\':
				escaped = true
				wordStart = false
			case '\'':
				single = true
				wordStart = false
			case '"':
				double = true
				wordStart = false
			case ' ', '\t', '\n':
				wordStart = true
			case '#':
				if wordStart {
					if nl := strings.IndexByte(s[i:], '\n'); nl >= 0 {
						return s[:i] + stripComment(s[i+nl:])
					}
					return s[:i]
				}
			default:
				wordStart = false
			}
		}
	}
	return s
}
