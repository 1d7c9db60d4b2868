package app

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/hylla/magpie/internal/domain"
)

// checklistLine matches markdown-style unchecked task list items.
var checklistLine = regexp.MustCompile(`^-\s*\[\s*\]\s+(.+)$`)

// markdownQueueNames are the recognized checklist queue file names.
var markdownQueueNames = []string{
	".magpie-queue",
	"magpie-queue.md",
}

// yamlQueueNames are the recognized structured queue file names.
var yamlQueueNames = []string{
	".magpie-queue.yaml",
	".magpie-queue.yml",
}

// queueEntry is one structured queue file entry.
type queueEntry struct {
	Title  string `yaml:"title"`
	Detail string `yaml:"detail"`
	Tier   string `yaml:"tier"`
}

// queueDocument is the structured queue file layout.
type queueDocument struct {
	Tasks []queueEntry `yaml:"tasks"`
}

// QueueSource reads pending tasks from checklist and structured queue
// files in the scanned directory.
type QueueSource struct{}

// NewQueueSource constructs a QueueSource.
func NewQueueSource() *QueueSource {
	return &QueueSource{}
}

// Scan parses queue files under dir. Candidates are keyed by
// "<filename>:<position>" so re-scans do not duplicate entries.
func (s *QueueSource) Scan(_ context.Context, dir string) ([]Candidate, error) {
	var out []Candidate
	out = append(out, s.scanChecklists(dir)...)
	out = append(out, s.scanStructured(dir)...)
	return out, nil
}

// scanChecklists parses "- [ ] task" lines from markdown queue files.
func (s *QueueSource) scanChecklists(dir string) []Candidate {
	var out []Candidate
	for _, name := range markdownQueueNames {
		content, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			continue
		}
		for i, line := range strings.Split(string(content), "\n") {
			match := checklistLine.FindStringSubmatch(strings.TrimSpace(line))
			if match == nil {
				continue
			}
			title := strings.TrimSpace(match[1])
			if title == "" {
				continue
			}
			out = append(out, Candidate{
				Title:     title,
				Origin:    domain.OriginQueueFile,
				OriginRef: fmt.Sprintf("%s:%d", name, i+1),
			})
		}
	}
	return out
}

// scanStructured parses the YAML queue file form.
func (s *QueueSource) scanStructured(dir string) []Candidate {
	var out []Candidate
	for _, name := range yamlQueueNames {
		content, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			continue
		}
		var doc queueDocument
		if err := yaml.Unmarshal(content, &doc); err != nil {
			// Degraded data: an unparsable queue file is skipped, not fatal.
			continue
		}
		for i, entry := range doc.Tasks {
			title := strings.TrimSpace(entry.Title)
			if title == "" {
				continue
			}
			tier := domain.Tier(strings.TrimSpace(entry.Tier))
			if tier != "" && !domain.IsValidTier(tier) {
				tier = ""
			}
			out = append(out, Candidate{
				Title:     title,
				Detail:    strings.TrimSpace(entry.Detail),
				Origin:    domain.OriginQueueFile,
				OriginRef: fmt.Sprintf("%s:%d", name, i+1),
				Tier:      tier,
			})
		}
	}
	return out
}
