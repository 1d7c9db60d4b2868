package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	charmLog "github.com/charmbracelet/log"

	"github.com/hylla/magpie/internal/app"
	"github.com/hylla/magpie/internal/domain"
)

// defaultMaxTurns bounds one CLI invocation's agent loop.
const defaultMaxTurns = 50

// ModelResolver maps a resource tier to a concrete model identifier.
type ModelResolver func(tier domain.Tier) string

// Runner invokes the claude CLI in headless mode and parses its JSON
// output. Every failure mode lands in the returned result; the scheduler
// never sees an error from execution itself.
type Runner struct {
	binary     string
	models     ModelResolver
	extraFlags []string
	maxTurns   int
	log        *charmLog.Logger
}

// NewRunner constructs a Runner.
func NewRunner(binary string, models ModelResolver, extraFlags []string, maxTurns int, logger *charmLog.Logger) *Runner {
	if binary == "" {
		binary = "claude"
	}
	if maxTurns <= 0 {
		maxTurns = defaultMaxTurns
	}
	if logger == nil {
		logger = charmLog.Default()
	}
	return &Runner{binary: binary, models: models, extraFlags: extraFlags, maxTurns: maxTurns, log: logger}
}

// cliOutput is the claude CLI JSON result envelope.
type cliOutput struct {
	Result       string  `json:"result"`
	InputTokens  int     `json:"input_tokens"`
	OutputTokens int     `json:"output_tokens"`
	CostUSD      float64 `json:"cost_usd"`
	Usage        *struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

// Run executes one prompt against the CLI. The context carries the
// execution deadline; on expiry the result reports a timeout.
func (r *Runner) Run(ctx context.Context, req app.AgentRequest) app.AgentResult {
	args := []string{
		"-p", req.Prompt,
		"--output-format", "json",
		"--max-turns", fmt.Sprintf("%d", r.maxTurns),
		fmt.Sprintf("--max-budget-usd=%g", req.MaxBudgetUSD),
	}
	if r.models != nil {
		if model := r.models(req.Tier); model != "" {
			args = append(args, "--model", model)
		}
	}
	args = append(args, r.extraFlags...)

	cmd := exec.CommandContext(ctx, r.binary, args...)
	cmd.Dir = req.WorkDir
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()
	duration := time.Since(start)

	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return app.AgentResult{Duration: duration, ErrorText: "task timed out"}
		}
		if errors.Is(err, exec.ErrNotFound) {
			return app.AgentResult{Duration: duration, ErrorText: fmt.Sprintf("%s CLI not found", r.binary)}
		}
		// Nonzero exit still carries parseable output and usage.
		result := r.parse(stdout.Bytes(), duration)
		result.ErrorText = strings.TrimSpace(stderr.String())
		if result.ErrorText == "" {
			result.ErrorText = err.Error()
		}
		return result
	}

	result := r.parse(stdout.Bytes(), duration)
	result.Success = true
	return result
}

// parse decodes the CLI JSON envelope. Undecodable output degrades to the
// raw text with zero usage.
func (r *Runner) parse(raw []byte, duration time.Duration) app.AgentResult {
	result := app.AgentResult{Output: string(raw), Duration: duration}
	var out cliOutput
	if err := json.Unmarshal(raw, &out); err != nil {
		r.log.Debug("unparsable agent output", "err", err)
		return result
	}
	if out.Result != "" {
		result.Output = out.Result
	}
	result.InputTokens = out.InputTokens
	result.OutputTokens = out.OutputTokens
	result.CostUSD = out.CostUSD
	if out.Usage != nil {
		result.InputTokens = out.Usage.InputTokens
		result.OutputTokens = out.Usage.OutputTokens
	}
	return result
}
