package mux

import (
	"fmt"
	"os/exec"
)

// FromName creates a Multiplexer by name. binary overrides the executable
// path; empty means look it up in $PATH.
func FromName(name, binary string) (*Tmux, error) {
	switch name {
	case "", "tmux":
		return NewTmux(binary), nil
	case "zellij":
		return nil, fmt.Errorf("zellij support is not yet implemented")
	default:
		return nil, fmt.Errorf("unknown multiplexer: %q (supported: tmux)", name)
	}
}

// Detect checks that the multiplexer binary can be found. The server still
// starts without it; every request will then report a spawn failure.
func Detect(t *Tmux) error {
	if _, err := exec.LookPath(t.binary()); err != nil {
		return fmt.Errorf("tmux binary %q not found: %w", t.binary(), err)
	}
	return nil
}
