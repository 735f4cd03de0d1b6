package mux

import "github.com/timvw/pane-relay/internal/model"

// SplitWindowArgs builds: split-window [-h] <enter...> <inner...>
func SplitWindowArgs(action model.Action, enter, inner []string) []string {
	args := make([]string, 0, 2+len(enter)+len(inner))
	args = append(args, "split-window")

	switch action {
	case model.SplitHorizontal:
		args = append(args, "-h")
	case model.SplitVertical:
		// tmux splits top/bottom without a flag.
	}

	args = append(args, enter...)
	args = append(args, inner...)
	return args
}
