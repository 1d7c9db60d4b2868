package app

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/hylla/magpie/internal/domain"
)

// todoPattern matches comment leaders followed by a TODO-style keyword and
// its trailing text.
var todoPattern = regexp.MustCompile(`(?i)(?:#|//|/\*|\*|--|;)\s*(TODO|FIXME|HACK|XXX)[\s:(\-]*(.+?)$`)

// testDirNames are directory components treated as test locations.
var testDirNames = map[string]struct{}{
	"tests": {}, "test": {}, "spec": {}, "testdata": {}, "__tests__": {},
}

// testFilePatterns are filename globs treated as test files.
var testFilePatterns = []string{
	"*_test.go",
	"test_*.py",
	"*_test.py",
	"*_spec.py",
	"conftest.py",
	"*.test.js",
	"*.test.ts",
	"*.spec.js",
	"*.spec.ts",
}

// isTestFile reports whether relPath should be excluded from scanning.
func isTestFile(relPath string) bool {
	parts := strings.Split(filepath.ToSlash(relPath), "/")
	for _, part := range parts[:len(parts)-1] {
		if _, ok := testDirNames[part]; ok {
			return true
		}
	}
	name := parts[len(parts)-1]
	for _, pattern := range testFilePatterns {
		if ok, _ := filepath.Match(pattern, name); ok {
			return true
		}
	}
	return false
}

// CommentSource scans version-controlled files for TODO-style comments.
type CommentSource struct {
	ws Workspace
}

// NewCommentSource constructs a CommentSource.
func NewCommentSource(ws Workspace) *CommentSource {
	return &CommentSource{ws: ws}
}

// Scan walks tracked files under dir and emits one candidate per
// TODO/FIXME/HACK/XXX comment, keyed by "<file>:<line>".
func (s *CommentSource) Scan(ctx context.Context, dir string) ([]Candidate, error) {
	if !s.ws.IsRepo(dir) {
		return nil, nil
	}
	tracked, err := s.ws.TrackedFiles(dir)
	if err != nil {
		return nil, err
	}

	var out []Candidate
	for _, relPath := range tracked {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		if isTestFile(relPath) {
			continue
		}
		content, err := os.ReadFile(filepath.Join(dir, relPath))
		if err != nil {
			continue
		}
		for i, line := range strings.Split(string(content), "\n") {
			match := todoPattern.FindStringSubmatch(line)
			if match == nil {
				continue
			}
			keyword := strings.ToUpper(match[1])
			body := strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(match[2]), "*/"))
			if body == "" {
				continue
			}
			out = append(out, Candidate{
				Title:     fmt.Sprintf("[%s] %s", keyword, body),
				Origin:    domain.OriginCodeComment,
				OriginRef: fmt.Sprintf("%s:%d", relPath, i+1),
			})
		}
	}
	return out, nil
}
