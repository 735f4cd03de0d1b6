// Package daemon detaches the relay server from its terminal.
//
// The parent re-executes the current binary in a new session with a marker
// in its environment, then exits. The child sees the marker, skips detaching
// and runs the server with its output going to fixed log files.
package daemon

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"syscall"

	"golang.org/x/sys/unix"
)

// ChildEnv marks a process that was started by Detach.
const ChildEnv = "PANE_RELAY_DAEMON_CHILD"

// Umask is applied in the child before any file is created.
const Umask = 0o027

// Options holds the fixed paths a daemonized server uses.
type Options struct {
	Stdout  string
	Stderr  string
	PIDFile string
	WorkDir string

	// Executable and Args override os.Executable() and os.Args[1:].
	Executable string
	Args       []string
}

// IsChild reports whether this process is the detached child.
func IsChild() bool {
	return os.Getenv(ChildEnv) == "1"
}

// Detach starts a detached copy of the current process. It returns
// detached=true in the parent, which should then exit. In the child it
// returns false and does nothing.
func Detach(opts Options) (bool, error) {
	if IsChild() {
		return false, nil
	}

	executable := opts.Executable
	if executable == "" {
		var err error
		executable, err = os.Executable()
		if err != nil {
			return false, fmt.Errorf("failed to get executable path: %w", err)
		}
	}
	args := opts.Args
	if args == nil {
		args = os.Args[1:]
	}

	devNull, err := os.OpenFile(os.DevNull, os.O_RDWR, 0)
	if err != nil {
		return false, fmt.Errorf("failed to open %s: %w", os.DevNull, err)
	}
	defer devNull.Close()

	stdout, err := openLog(opts.Stdout)
	if err != nil {
		return false, err
	}
	defer stdout.Close()
	stderr, err := openLog(opts.Stderr)
	if err != nil {
		return false, err
	}
	defer stderr.Close()

	cmd := exec.Command(executable, args...)
	cmd.Env = append(os.Environ(), ChildEnv+"=1")
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
	cmd.Stdin = devNull
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	if err := cmd.Start(); err != nil {
		return false, fmt.Errorf("failed to start daemon: %w", err)
	}
	// The child outlives us; only release the handle.
	_ = cmd.Process.Release()
	return true, nil
}

// Prepare runs in the child before serving: it sets the umask, changes to
// the working directory and writes the pid file.
func Prepare(opts Options) error {
	unix.Umask(Umask)

	if opts.WorkDir != "" {
		if err := os.Chdir(opts.WorkDir); err != nil {
			return fmt.Errorf("chdir %s: %w", opts.WorkDir, err)
		}
	}

	if opts.PIDFile == "" {
		return nil
	}
	if pid, err := ReadPID(opts.PIDFile); err == nil && pid != os.Getpid() && alive(pid) {
		return fmt.Errorf("already running with pid %d (%s)", pid, opts.PIDFile)
	}
	return WritePIDFile(opts.PIDFile, os.Getpid())
}

// WritePIDFile writes pid followed by a newline.
func WritePIDFile(path string, pid int) error {
	if err := os.WriteFile(path, []byte(strconv.Itoa(pid)+"\n"), 0o644); err != nil {
		return fmt.Errorf("writing pid file: %w", err)
	}
	return nil
}

// ReadPID reads the pid stored at path.
func ReadPID(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("invalid pid file %s: %w", path, err)
	}
	return pid, nil
}

// RemovePIDFile removes the pid file if it still belongs to this process.
func RemovePIDFile(path string) error {
	if path == "" {
		return nil
	}
	pid, err := ReadPID(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err == nil && pid != os.Getpid() {
		return nil
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("removing pid file: %w", err)
	}
	return nil
}

func alive(pid int) bool {
	if pid <= 0 {
		return false
	}
	err := unix.Kill(pid, 0)
	return err == nil || errors.Is(err, unix.EPERM)
}

func openLog(path string) (*os.File, error) {
	if path == "" {
		return os.OpenFile(os.DevNull, os.O_WRONLY, 0)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file %s: %w", path, err)
	}
	return f, nil
}
