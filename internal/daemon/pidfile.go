package daemon

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"
)

// PIDFile tracks the single daemon instance on disk. A file whose process
// is gone is treated as stale and cleaned up.
type PIDFile struct {
	path string
}

// NewPIDFile constructs a PIDFile at path.
func NewPIDFile(path string) *PIDFile {
	return &PIDFile{path: path}
}

// Path returns the on-disk location.
func (p *PIDFile) Path() string {
	return p.path
}

// Running returns the recorded pid when a live daemon holds the file.
// A stale file is removed.
func (p *PIDFile) Running() (int, bool) {
	raw, err := os.ReadFile(p.path)
	if err != nil {
		return 0, false
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(raw)))
	if err != nil || pid <= 0 {
		_ = os.Remove(p.path)
		return 0, false
	}
	if !processAlive(pid) {
		_ = os.Remove(p.path)
		return 0, false
	}
	return pid, true
}

// Write records the current process as the daemon instance.
func (p *PIDFile) Write() error {
	if pid, ok := p.Running(); ok {
		return fmt.Errorf("daemon already running (pid %d)", pid)
	}
	if err := os.MkdirAll(filepath.Dir(p.path), 0o755); err != nil {
		return fmt.Errorf("create pid dir: %w", err)
	}
	return os.WriteFile(p.path, []byte(strconv.Itoa(os.Getpid())), 0o644)
}

// Remove deletes the pid file. A missing file is not an error.
func (p *PIDFile) Remove() error {
	err := os.Remove(p.path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

// Stop signals the recorded daemon with SIGTERM and waits briefly for it
// to exit. Returns the signalled pid.
func (p *PIDFile) Stop(wait time.Duration) (int, error) {
	pid, ok := p.Running()
	if !ok {
		return 0, fmt.Errorf("daemon is not running")
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return pid, err
	}
	if err := proc.Signal(syscall.SIGTERM); err != nil {
		return pid, fmt.Errorf("signal daemon: %w", err)
	}
	deadline := time.Now().Add(wait)
	for time.Now().Before(deadline) {
		if _, ok := p.Running(); !ok {
			return pid, nil
		}
		time.Sleep(100 * time.Millisecond)
	}
	return pid, fmt.Errorf("daemon (pid %d) did not stop in %s", pid, wait)
}

// processAlive probes pid with the null signal.
func processAlive(pid int) bool {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return proc.Signal(syscall.Signal(0)) == nil
}
