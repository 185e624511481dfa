package app

import (
	"context"
	"fmt"
	"strings"

	"repairbench/internal/aggregate"
	"repairbench/internal/config"
	"repairbench/internal/executor"
	"repairbench/internal/logger"
	"repairbench/internal/runner"
	"repairbench/internal/scheduler"
	"repairbench/internal/task"
)

// runMode dispatches to the selected entry point. Returns a process exit
// code; everything below here reports through the run logger.
func runMode(ctx context.Context, cfg *config.Config) int {
	if ctx == nil {
		ctx = context.Background()
	}

	switch {
	case cfg.ExtractDir != "":
		return runExtraction(cfg, cfg.ExtractDir, false)
	case cfg.ReExtractDir != "":
		return runExtraction(cfg, cfg.ReExtractDir, true)
	}

	logger.LogInfo(fmt.Sprintf("Starting run: mode=%s, output=%s, workers=%d, model=%s",
		cfg.Mode, cfg.OutputDir, cfg.NumWorkers, cfg.Model))
	if config.PricingFor(cfg.Model) == (config.ModelPricing{}) {
		logger.LogWarn(fmt.Sprintf("Model %q has no pricing entry, costs will be recorded as zero. Priced models: %s",
			cfg.Model, strings.Join(config.KnownModels(), ", ")))
	}

	var descriptors []*task.Descriptor
	var err error
	switch cfg.Mode {
	case config.ModeFreshIssue:
		descriptors, err = buildFreshIssueDescriptor(ctx, cfg)
	default:
		descriptors, err = buildBenchDescriptors(cfg)
	}
	if err != nil {
		logger.LogError(err.Error())
		return 1
	}
	if len(descriptors) == 0 {
		logger.LogError("No runnable tasks after filtering.")
		return 1
	}

	groups := task.PartitionByEnvironment(descriptors)

	factory, err := runner.Select(cfg.RunnerName)
	if err != nil {
		logger.LogError(err.Error())
		return 1
	}

	exec := &executor.Executor{
		OutputRoot:    cfg.OutputDir,
		Model:         cfg.Model,
		Commit:        executor.CurrentCommitHash(ctx),
		RunnerFactory: factory,
		RunnerCommand: cfg.RunnerCommand,
		RunnerTimeout: cfg.RunnerTimeout,
		DoInstall:     cfg.DoInstall,
		LocalizeOnly:  cfg.LocalizeOnly,
	}

	s := &scheduler.Scheduler{Execute: exec.Execute}
	if err := s.Dispatch(ctx, descriptors, groups, cfg.NumWorkers); err != nil {
		// Pool-level failure: the run is compromised, do not aggregate.
		logger.LogError(fmt.Sprintf("Dispatch aborted: %v", err))
		return 1
	}

	if cfg.LocalizeOnly {
		logger.Progress("Localization-only run finished; skipping patch aggregation.")
		return 0
	}

	agg := &aggregate.Aggregator{Model: cfg.Model}
	if err := agg.Aggregate(cfg.OutputDir); err != nil {
		logger.LogError(fmt.Sprintf("Aggregation failed: %v", err))
		return 1
	}
	logger.Progress("Run finished.")
	return 0
}

// runExtraction consolidates an existing results directory without running
// any task.
func runExtraction(cfg *config.Config, dir string, force bool) int {
	agg := &aggregate.Aggregator{Model: cfg.Model}
	var err error
	if force {
		err = agg.ReExtractPatches(dir)
	} else {
		err = agg.ExtractPatches(dir)
	}
	if err != nil {
		logger.LogError(fmt.Sprintf("Patch extraction failed: %v", err))
		return 1
	}
	logger.Progress(fmt.Sprintf("Patch extraction over %s finished.", dir))
	return 0
}

// buildBenchDescriptors loads both maps, resolves the requested task ids and
// filters out ids missing from either map.
func buildBenchDescriptors(cfg *config.Config) ([]*task.Descriptor, error) {
	setupMap, err := task.LoadSetupMap(cfg.SetupMapFile)
	if err != nil {
		return nil, err
	}
	tasksMap, err := task.LoadTasksMap(cfg.TasksMapFile)
	if err != nil {
		return nil, err
	}

	var ids []string
	if cfg.TaskID != "" {
		ids = []string{cfg.TaskID}
	} else {
		ids, err = task.ParseTaskListFile(cfg.TaskListFile)
		if err != nil {
			return nil, err
		}
	}

	descriptors, missing := task.BuildDescriptors(ids, setupMap, tasksMap)
	if len(missing) > 0 {
		logger.LogWarn(fmt.Sprintf("Skipping %d task(s) missing from the maps: %s",
			len(missing), strings.Join(missing, ", ")))
	}
	logger.LogInfo(fmt.Sprintf("Resolved %d of %d requested task(s).", len(descriptors), len(ids)))
	return descriptors, nil
}
