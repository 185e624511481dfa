package app

import (
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"repairbench/internal/config"
	"repairbench/internal/runner"
)

// buildConfig resolves flags, environment and config file into a validated
// run configuration. All invalid combinations surface here, before any task
// starts, wrapping config.ErrConfiguration.
func buildConfig(cmd *cobra.Command, opts *cliOptions) (*config.Config, error) {
	v, err := config.NewViper(opts.ConfigFile)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", config.ErrConfiguration, err)
	}

	cfg := &config.Config{
		Mode:          stringSetting(cmd, v, "mode", opts.Mode),
		OutputDir:     stringSetting(cmd, v, "output-dir", opts.OutputDir),
		NumWorkers:    intSetting(cmd, v, "num-workers", opts.NumWorkers),
		Model:         stringSetting(cmd, v, "model", opts.Model),
		RunnerName:    stringSetting(cmd, v, "runner", opts.RunnerName),
		RunnerCommand: stringSetting(cmd, v, "runner-command", opts.RunnerCommand),
		RunnerTimeout: intSetting(cmd, v, "runner-timeout", opts.RunnerTimeout),
		DoInstall:     opts.DoInstall,
		LocalizeOnly:  opts.LocalizeOnly,
		ExtractDir:    strings.TrimSpace(opts.ExtractDir),
		ReExtractDir:  strings.TrimSpace(opts.ReExtractDir),
		SetupMapFile:  stringSetting(cmd, v, "setup-map", opts.SetupMapFile),
		TasksMapFile:  stringSetting(cmd, v, "tasks-map", opts.TasksMapFile),
		TaskID:        strings.TrimSpace(opts.TaskID),
		TaskListFile:  strings.TrimSpace(opts.TaskListFile),
		FreshTaskID:   strings.TrimSpace(opts.FreshTaskID),
		CloneLink:     strings.TrimSpace(opts.CloneLink),
		CommitHash:    strings.TrimSpace(opts.CommitHash),
		SetupDir:      stringSetting(cmd, v, "setup-dir", opts.SetupDir),
		LocalRepo:     strings.TrimSpace(opts.LocalRepo),
		IssueFile:     strings.TrimSpace(opts.IssueFile),
	}

	if envWorkers := config.ResolveMaxWorkers(); envWorkers > 0 {
		cfg.NumWorkers = envWorkers
	}

	// Boolean toggles can also come from the environment.
	if !cfg.DoInstall {
		cfg.DoInstall = config.EnvFlagEnabled("REPAIRBENCH_INSTALL")
	}
	if !cfg.LocalizeOnly {
		cfg.LocalizeOnly = config.EnvFlagEnabled("REPAIRBENCH_SAVE_LOCALIZATION_ONLY")
	}

	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func validate(cfg *config.Config) error {
	fail := func(format string, args ...any) error {
		return fmt.Errorf("%w: %s", config.ErrConfiguration, fmt.Sprintf(format, args...))
	}

	if cfg.Mode != config.ModeSWEBench && cfg.Mode != config.ModeFreshIssue {
		return fail("unknown mode %q (want %s or %s)", cfg.Mode, config.ModeSWEBench, config.ModeFreshIssue)
	}
	if cfg.NumWorkers < 1 {
		return fail("--num-workers must be at least 1, got %d", cfg.NumWorkers)
	}
	if cfg.ExtractDir != "" && cfg.ReExtractDir != "" {
		return fail("--extract-patches and --re-extract-patches are mutually exclusive")
	}
	if cfg.LocalizeOnly && (cfg.ExtractDir != "" || cfg.ReExtractDir != "") {
		return fail("--save-localization-only cannot be combined with patch extraction")
	}
	if _, err := runner.Select(cfg.RunnerName); err != nil {
		return fail("%v (available: %s)", err, strings.Join(runnerNames(), ", "))
	}

	// Extraction short-circuits never run tasks; nothing else to check.
	if cfg.ExtractDir != "" || cfg.ReExtractDir != "" {
		return nil
	}

	if cfg.RunnerCommand == "" {
		return fail("--runner-command is required")
	}

	switch cfg.Mode {
	case config.ModeSWEBench:
		if cfg.SetupMapFile == "" || cfg.TasksMapFile == "" {
			return fail("swe_bench mode requires --setup-map and --tasks-map")
		}
		if (cfg.TaskID == "") == (cfg.TaskListFile == "") {
			return fail("specify exactly one of --task and --task-list-file")
		}
	case config.ModeFreshIssue:
		if cfg.FreshTaskID == "" {
			return fail("fresh_issue mode requires --fresh-task-id")
		}
		if cfg.IssueFile == "" {
			return fail("fresh_issue mode requires --issue-file")
		}
		hasLocal := cfg.LocalRepo != ""
		hasClone := cfg.CloneLink != ""
		if hasLocal == hasClone {
			return fail("specify exactly one of --local-repo and --clone-link")
		}
		if hasClone && (cfg.CommitHash == "" || cfg.SetupDir == "") {
			return fail("--clone-link requires --commit-hash and --setup-dir")
		}
	}

	return nil
}

func runnerNames() []string {
	names := make([]string, 0, len(runner.Registry()))
	for name := range runner.Registry() {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// stringSetting prefers an explicitly changed flag, then the viper layer
// (env var or config file), then the flag default.
func stringSetting(cmd *cobra.Command, v *viper.Viper, name, flagValue string) string {
	if cmd.Flags().Changed(name) {
		return strings.TrimSpace(flagValue)
	}
	if val := strings.TrimSpace(v.GetString(name)); val != "" {
		return val
	}
	return strings.TrimSpace(flagValue)
}

func intSetting(cmd *cobra.Command, v *viper.Viper, name string, flagValue int) int {
	if cmd.Flags().Changed(name) {
		return flagValue
	}
	if v.IsSet(name) {
		return v.GetInt(name)
	}
	return flagValue
}
