// Package gitws implements workspace isolation over the git CLI.
package gitws

import (
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

// docExtensions are file suffixes that do not count as code changes.
var docExtensions = []string{".md", ".rst", ".txt"}

// Workspace shells out to git for branch isolation and history checks.
type Workspace struct{}

// New constructs a Workspace.
func New() *Workspace {
	return &Workspace{}
}

// run executes a git subcommand in dir and returns trimmed stdout.
func (w *Workspace) run(dir string, args ...string) (string, error) {
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	out, err := cmd.CombinedOutput()
	text := strings.TrimSpace(string(out))
	if err != nil {
		return text, fmt.Errorf("git %s: %w: %s", args[0], err, text)
	}
	return text, nil
}

// IsRepo reports whether dir is inside a git work tree.
func (w *Workspace) IsRepo(dir string) bool {
	out, err := w.run(dir, "rev-parse", "--is-inside-work-tree")
	return err == nil && out == "true"
}

// CurrentBranch returns the checked-out branch name.
func (w *Workspace) CurrentBranch(dir string) (string, error) {
	return w.run(dir, "rev-parse", "--abbrev-ref", "HEAD")
}

// HasUncommittedChanges reports whether the work tree is dirty.
func (w *Workspace) HasUncommittedChanges(dir string) (bool, error) {
	out, err := w.run(dir, "status", "--porcelain")
	if err != nil {
		return false, err
	}
	return out != "", nil
}

// BranchExists reports whether a local branch exists.
func (w *Workspace) BranchExists(dir, name string) (bool, error) {
	_, err := w.run(dir, "rev-parse", "--verify", "--quiet", "refs/heads/"+name)
	if err != nil {
		// rev-parse --verify exits nonzero for a missing ref.
		return false, nil
	}
	return true, nil
}

// CreateBranch creates and checks out a new branch.
func (w *Workspace) CreateBranch(dir, name string) error {
	_, err := w.run(dir, "checkout", "-b", name)
	return err
}

// Checkout switches to an existing branch.
func (w *Workspace) Checkout(dir, branch string) error {
	_, err := w.run(dir, "checkout", branch)
	return err
}

// Merge merges branch into target with a merge commit. A failed merge is
// aborted so the work tree is left clean.
func (w *Workspace) Merge(dir, branch, target string) error {
	prior, err := w.CurrentBranch(dir)
	if err != nil {
		return err
	}
	if _, err := w.run(dir, "checkout", target); err != nil {
		return err
	}
	if _, err := w.run(dir, "merge", "--no-ff", branch, "-m", fmt.Sprintf("Merge %s", branch)); err != nil {
		_, _ = w.run(dir, "merge", "--abort")
		_, _ = w.run(dir, "checkout", prior)
		return err
	}
	return nil
}

// DeleteBranch force-deletes a local branch.
func (w *Workspace) DeleteBranch(dir, branch string) error {
	_, err := w.run(dir, "branch", "-D", branch)
	return err
}

// Diff returns the changes branch carries over base.
func (w *Workspace) Diff(dir, branch, base string) (string, error) {
	return w.run(dir, "diff", base+"..."+branch)
}

// Log returns the one-line commit log branch carries over base.
func (w *Workspace) Log(dir, branch, base string) (string, error) {
	return w.run(dir, "log", "--oneline", base+".."+branch)
}

// TrackedFiles lists version-controlled files relative to dir.
func (w *Workspace) TrackedFiles(dir string) ([]string, error) {
	out, err := w.run(dir, "ls-files")
	if err != nil {
		return nil, err
	}
	if out == "" {
		return nil, nil
	}
	return strings.Split(out, "\n"), nil
}

// HasCommitsSince reports whether any commit landed after since.
func (w *Workspace) HasCommitsSince(dir string, since time.Time) (bool, error) {
	out, err := w.run(dir, "log", "-1", "--since="+since.UTC().Format(time.RFC3339), "--pretty=%H")
	if err != nil {
		return false, err
	}
	return out != "", nil
}

// HasCodeChangesSince reports whether any non-documentation file changed
// after since.
func (w *Workspace) HasCodeChangesSince(dir string, since time.Time) (bool, error) {
	out, err := w.run(dir, "log", "--since="+since.UTC().Format(time.RFC3339), "--name-only", "--pretty=format:")
	if err != nil {
		return false, err
	}
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if !isDocFile(line) {
			return true, nil
		}
	}
	return false, nil
}

// BranchCommitCount counts commits reachable from the current branch.
func (w *Workspace) BranchCommitCount(dir string) (int, error) {
	out, err := w.run(dir, "rev-list", "--count", "HEAD")
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(out)
}

// isDocFile reports whether path is documentation-only.
func isDocFile(path string) bool {
	lower := strings.ToLower(path)
	for _, ext := range docExtensions {
		if strings.HasSuffix(lower, ext) {
			return true
		}
	}
	return false
}
