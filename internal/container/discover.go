// Package container discovers the docker container the current process runs in.
package container

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"regexp"
	"strings"
)

// DefaultMountInfoPath is the calling process's own mount table.
const DefaultMountInfoPath = "/proc/self/mountinfo"

// marker appears in mount entries that docker bind-mounts into a container
// (hostname, hosts, resolv.conf), each of which embeds the container id.
const marker = "/docker/containers/"

var idPattern = regexp.MustCompile(`[0-9a-f]{64}`)

// DiscoveryError means the mount descriptor could not be opened or read.
type DiscoveryError struct {
	Path string
	Err  error
}

func (e *DiscoveryError) Error() string {
	return fmt.Sprintf("failed to read %s: %v", e.Path, e.Err)
}

func (e *DiscoveryError) Unwrap() error { return e.Err }

// DiscoverID reads the mount descriptor at path and returns the container id.
// ok is false when no line carries one; that is not an error.
func DiscoverID(path string) (id string, ok bool, err error) {
	f, err := os.Open(path)
	if err != nil {
		return "", false, &DiscoveryError{Path: path, Err: err}
	}
	defer f.Close()

	id, ok, err = ScanMountInfo(f)
	if err != nil {
		return "", false, &DiscoveryError{Path: path, Err: err}
	}
	return id, ok, nil
}

// ScanMountInfo returns the first 64-hex run found on a line containing the
// docker containers marker. Marker lines without an id are skipped.
func ScanMountInfo(r io.Reader) (string, bool, error) {
	s := bufio.NewScanner(r)
	// mountinfo lines with long overlay option lists exceed the 64K default.
	s.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for s.Scan() {
		line := s.Text()
		if !strings.Contains(line, marker) {
			continue
		}
		if id := idPattern.FindString(line); id != "" {
			return id, true, nil
		}
	}
	if err := s.Err(); err != nil {
		return "", false, err
	}
	return "", false, nil
}
