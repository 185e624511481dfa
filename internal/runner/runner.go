// Package runner defines the contract for the repair engine that does the
// actual inference work for one task. The orchestrator treats it as opaque
// beyond its run and fault-localization entry points.
package runner

import (
	"context"

	"repairbench/internal/logger"
	"repairbench/internal/task"
)

// Usage accumulates the token and cost telemetry reported by a runner.
type Usage struct {
	InputTokens  int64   `json:"input_tokens"`
	OutputTokens int64   `json:"output_tokens"`
	Cost         float64 `json:"cost"`
}

// Runner performs the repair work for a single task.
type Runner interface {
	// Run executes full inference against the problem statement. The bool
	// reports logical success; the error reports abnormal termination.
	Run(ctx context.Context, problemStatement string) (bool, error)
	// LocalizeFaults runs only the fault-localization step.
	LocalizeFaults(ctx context.Context) (bool, error)
	// DumpTrace persists the runner's tool-call trace into outputDir.
	DumpTrace(outputDir string) error
	// Usage returns telemetry collected so far.
	Usage() Usage
}

// Spec is everything a factory needs to construct a Runner for one task.
type Spec struct {
	TaskID     string
	OutputDir  string
	Setup      task.SetupInfo
	Info       task.Info
	Model      string
	Command    string
	TimeoutSec int
	DoInstall  bool
	Log        *logger.Logger
}

// Factory constructs a Runner. A failing factory is an initialization
// failure for the task: the workspace has not been mutated yet.
type Factory func(ctx context.Context, spec Spec) (Runner, error)
