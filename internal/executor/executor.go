package executor

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"repairbench/internal/config"
	ilogger "repairbench/internal/logger"
	"repairbench/internal/runner"
	"repairbench/internal/task"
)

// Overridable for tests.
var (
	timeNow          = time.Now
	workspaceResetFn = gitResetAndClean
)

const dirTimestampLayout = "2006-01-02_15-04-05"

// Executor runs a single task end to end: isolated output directory,
// artifact snapshot, delegate runner, telemetry, and guaranteed cleanup.
type Executor struct {
	OutputRoot    string
	Model         string
	Commit        string
	RunnerFactory runner.Factory
	RunnerCommand string
	RunnerTimeout int
	DoInstall     bool
	LocalizeOnly  bool
}

// Execute runs one task. The error return is used only when the output
// directory cannot be created; every other failure is contained in the
// RunResult. One status line is emitted regardless of outcome.
//
// The returns are named so the deferred cleanup below can attach the cost
// record to the result actually handed back to the caller.
func (e *Executor) Execute(ctx context.Context, d *task.Descriptor) (result RunResult, err error) {
	startTime := timeNow()
	outputDir := filepath.Join(e.OutputRoot, d.ID+"_"+startTime.Format(dirTimestampLayout))
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return RunResult{}, fmt.Errorf("create task output dir %s: %w", outputDir, err)
	}

	result = RunResult{TaskID: d.ID, OutputDir: outputDir}

	if err := persistArtifacts(outputDir, d); err != nil {
		result.StatusMessage = fmt.Sprintf("Task %s failed to persist artifacts: %v.", d.ID, err)
		ilogger.Progress(result.StatusMessage)
		return result, nil
	}

	taskLog, err := ilogger.NewTaskLogger(d.ID, outputDir)
	if err != nil {
		result.StatusMessage = fmt.Sprintf("Task %s failed to create its logger: %v.", d.ID, err)
		ilogger.Progress(result.StatusMessage)
		return result, nil
	}

	taskLog.Info(fmt.Sprintf("============= Running task %s (%s) =============", d.ID, d.SequenceLabel))

	rn, err := e.RunnerFactory(ctx, runner.Spec{
		TaskID:     d.ID,
		OutputDir:  outputDir,
		Setup:      d.Setup,
		Info:       d.Info,
		Model:      e.Model,
		Command:    e.RunnerCommand,
		TimeoutSec: e.RunnerTimeout,
		DoInstall:  e.DoInstall,
		Log:        taskLog,
	})
	if err != nil {
		// Initialization failure: nothing has mutated the workspace yet,
		// so only directory bookkeeping is owed.
		result.InitFailed = true
		result.StatusMessage = fmt.Sprintf("Task %s failed with exception when creating runner: %v.", d.ID, err)
		taskLog.Error(result.StatusMessage)
		taskLog.Flush()
		_ = taskLog.Close()
		ilogger.Progress(result.StatusMessage)
		return result, nil
	}

	if e.LocalizeOnly {
		ok, locErr := rn.LocalizeFaults(ctx)
		result.Success = ok && locErr == nil
		if result.Success {
			result.StatusMessage = fmt.Sprintf("[Localization only] Task %s completed successfully.", d.ID)
		} else if locErr != nil {
			result.StatusMessage = fmt.Sprintf("[Localization only] Task %s failed with exception: %v.", d.ID, locErr)
		} else {
			result.StatusMessage = fmt.Sprintf("[Localization only] Task %s failed to produce result.", d.ID)
		}
		taskLog.Info(result.StatusMessage)
		taskLog.Flush()
		_ = taskLog.Close()
		ilogger.Progress(result.StatusMessage)
		return result, nil
	}

	// Guaranteed-cleanup scope: runs on success, logical failure, and
	// panic alike. Order matters: trace and cost are persisted before the
	// workspace is wiped.
	defer func() {
		if dumpErr := rn.DumpTrace(outputDir); dumpErr != nil {
			taskLog.Warn(fmt.Sprintf("Failed to dump runner trace: %v", dumpErr))
		}

		endTime := timeNow()
		cost := e.buildCostRecord(startTime, endTime, rn.Usage())
		result.Cost = &cost
		if costErr := writeJSONFile(filepath.Join(outputDir, "cost.json"), cost); costErr != nil {
			taskLog.Warn(fmt.Sprintf("Failed to write cost record: %v", costErr))
		}

		if resetErr := workspaceResetFn(ctx, d.Setup.RepoPath, d.Info.BaseCommit, taskLog); resetErr != nil {
			taskLog.Error(fmt.Sprintf("Failed to reset workspace: %v", resetErr))
		}

		taskLog.Info(result.StatusMessage)
		taskLog.Flush()
		_ = taskLog.Close()
		ilogger.Progress(result.StatusMessage)
	}()

	result.Success, result.StatusMessage = e.runContained(ctx, rn, d, taskLog)
	return result, nil
}

// runContained invokes the runner's full run capability, converting errors
// and panics into a failure message so nothing task-level escapes.
func (e *Executor) runContained(ctx context.Context, rn runner.Runner, d *task.Descriptor, taskLog *ilogger.Logger) (ok bool, msg string) {
	defer func() {
		if p := recover(); p != nil {
			ok = false
			msg = fmt.Sprintf("Task %s failed with exception: %v.", d.ID, p)
			taskLog.Error(msg)
		}
	}()

	ok, err := rn.Run(ctx, d.Info.ProblemStatement)
	switch {
	case err != nil:
		taskLog.Error(fmt.Sprintf("Runner error: %v", err))
		return false, fmt.Sprintf("Task %s failed with exception: %v.", d.ID, err)
	case ok:
		return true, fmt.Sprintf("Task %s completed successfully.", d.ID)
	default:
		return false, fmt.Sprintf("Task %s failed without exception.", d.ID)
	}
}

func (e *Executor) buildCostRecord(start, end time.Time, usage runner.Usage) CostRecord {
	pricing := config.PricingFor(e.Model)
	totalCost := usage.Cost
	if totalCost == 0 {
		totalCost = float64(usage.InputTokens)*pricing.InputCostPerToken +
			float64(usage.OutputTokens)*pricing.OutputCostPerToken
	}
	return CostRecord{
		Model:              e.Model,
		Commit:             e.Commit,
		InputCostPerToken:  pricing.InputCostPerToken,
		OutputCostPerToken: pricing.OutputCostPerToken,
		TotalInputTokens:   usage.InputTokens,
		TotalOutputTokens:  usage.OutputTokens,
		TotalTokens:        usage.InputTokens + usage.OutputTokens,
		TotalCost:          totalCost,
		StartEpoch:         start.Unix(),
		EndEpoch:           end.Unix(),
		ElapsedSeconds:     end.Sub(start).Seconds(),
	}
}
