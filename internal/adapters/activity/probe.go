// Package activity detects operator interaction with the agent CLI.
package activity

import (
	"context"
	"os/exec"
	"strings"
	"time"
)

// probeTimeout bounds one process scan.
const probeTimeout = 5 * time.Second

// Probe reports operator activity by looking for running agent CLI
// processes. A missing pgrep binary reads as inactive.
type Probe struct {
	pattern string
}

// New constructs a Probe matching the given process pattern.
func New(pattern string) *Probe {
	if pattern == "" {
		pattern = "claude"
	}
	return &Probe{pattern: pattern}
}

// Active reports whether any matching process is running.
func (p *Probe) Active(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()
	out, err := exec.CommandContext(ctx, "pgrep", "-f", p.pattern).Output()
	if err != nil {
		// pgrep exits 1 when nothing matches.
		return false
	}
	return strings.TrimSpace(string(out)) != ""
}
