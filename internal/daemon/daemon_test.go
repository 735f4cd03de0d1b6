package daemon

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"golang.org/x/sys/unix"
)

func TestIsChild(t *testing.T) {
	t.Setenv(ChildEnv, "")
	if IsChild() {
		t.Error("IsChild() = true without marker")
	}
	t.Setenv(ChildEnv, "1")
	if !IsChild() {
		t.Error("IsChild() = false with marker")
	}
}

func TestDetach_ChildDoesNothing(t *testing.T) {
	t.Setenv(ChildEnv, "1")
	detached, err := Detach(Options{Executable: "/nonexistent"})
	if err != nil {
		t.Fatalf("Detach() error: %v", err)
	}
	if detached {
		t.Error("child must not detach again")
	}
}

func TestDetach_StartsMarkedChild(t *testing.T) {
	t.Setenv(ChildEnv, "")
	dir := t.TempDir()
	stdout := filepath.Join(dir, "relay.out")
	stderr := filepath.Join(dir, "relay.err")

	detached, err := Detach(Options{
		Stdout:     stdout,
		Stderr:     stderr,
		Executable: "/bin/sh",
		Args:       []string{"-c", "echo child=$" + ChildEnv + "; echo oops >&2"},
	})
	if err != nil {
		t.Fatalf("Detach() error: %v", err)
	}
	if !detached {
		t.Fatal("parent should report detached")
	}

	deadline := time.Now().Add(5 * time.Second)
	for {
		out, _ := os.ReadFile(stdout)
		errOut, _ := os.ReadFile(stderr)
		if strings.Contains(string(out), "child=1") && strings.Contains(string(errOut), "oops") {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("child output not seen: stdout=%q stderr=%q", out, errOut)
		}
		time.Sleep(20 * time.Millisecond)
	}
}

func TestDetach_UnwritableLog(t *testing.T) {
	t.Setenv(ChildEnv, "")
	_, err := Detach(Options{
		Stdout:     filepath.Join(t.TempDir(), "missing", "relay.out"),
		Executable: "/bin/true",
		Args:       []string{},
	})
	if err == nil {
		t.Fatal("expected error for unwritable log path")
	}
}

func TestPrepare(t *testing.T) {
	t.Chdir(t.TempDir())
	old := unix.Umask(0o022)
	t.Cleanup(func() { unix.Umask(old) })

	work := t.TempDir()
	pidFile := filepath.Join(work, "relay.pid")

	if err := Prepare(Options{WorkDir: work, PIDFile: pidFile}); err != nil {
		t.Fatalf("Prepare() error: %v", err)
	}

	if got := unix.Umask(Umask); got != Umask {
		t.Errorf("umask = %o, want %o", got, Umask)
	}
	wd, _ := os.Getwd()
	if resolved, _ := filepath.EvalSymlinks(work); wd != work && wd != resolved {
		t.Errorf("cwd = %q, want %q", wd, work)
	}
	pid, err := ReadPID(pidFile)
	if err != nil {
		t.Fatalf("ReadPID() error: %v", err)
	}
	if pid != os.Getpid() {
		t.Errorf("pid = %d, want %d", pid, os.Getpid())
	}
}

func TestPrepare_RefusesLiveOwner(t *testing.T) {
	t.Chdir(t.TempDir())
	old := unix.Umask(0o022)
	t.Cleanup(func() { unix.Umask(old) })

	pidFile := filepath.Join(t.TempDir(), "relay.pid")
	// The parent of the test binary is alive for the duration of the test.
	if err := WritePIDFile(pidFile, os.Getppid()); err != nil {
		t.Fatal(err)
	}
	if err := Prepare(Options{PIDFile: pidFile}); err == nil {
		t.Fatal("expected error when pid file names a live process")
	}
}

func TestRemovePIDFile(t *testing.T) {
	dir := t.TempDir()

	own := filepath.Join(dir, "own.pid")
	if err := WritePIDFile(own, os.Getpid()); err != nil {
		t.Fatal(err)
	}
	if err := RemovePIDFile(own); err != nil {
		t.Fatalf("RemovePIDFile() error: %v", err)
	}
	if _, err := os.Stat(own); !os.IsNotExist(err) {
		t.Error("own pid file should be removed")
	}

	other := filepath.Join(dir, "other.pid")
	if err := os.WriteFile(other, []byte(strconv.Itoa(os.Getpid()+1)+"\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := RemovePIDFile(other); err != nil {
		t.Fatalf("RemovePIDFile() error: %v", err)
	}
	if _, err := os.Stat(other); err != nil {
		t.Error("pid file owned by another process must be kept")
	}

	if err := RemovePIDFile(filepath.Join(dir, "missing.pid")); err != nil {
		t.Errorf("missing pid file: %v", err)
	}
}
