// Package app wires the command line to the orchestrator: flag parsing,
// configuration assembly, run-wide logging, and the per-mode entry points.
package app

import (
	"errors"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"repairbench/internal/config"
	"repairbench/internal/logger"
)

const version = "1.2.0"

var exitFn = os.Exit

type exitError struct {
	code int
}

func (e exitError) Error() string {
	return fmt.Sprintf("exit %d", e.code)
}

// Run is the program entrypoint for cmd/repairbench/main.go.
func Run() {
	exitFn(run())
}

func run() int {
	cmd := newRootCommand()
	cmd.SetArgs(os.Args[1:])
	if err := cmd.Execute(); err != nil {
		var ee exitError
		if errors.As(err, &ee) {
			return ee.code
		}
		fmt.Fprintf(os.Stderr, "ERROR: %v\n", err)
		return 1
	}
	return 0
}

type cliOptions struct {
	Mode       string
	OutputDir  string
	NumWorkers int
	Model      string
	ConfigFile string

	RunnerName    string
	RunnerCommand string
	RunnerTimeout int
	DoInstall     bool

	LocalizeOnly bool
	ExtractDir   string
	ReExtractDir string

	SetupMapFile string
	TasksMapFile string
	TaskID       string
	TaskListFile string

	FreshTaskID string
	CloneLink   string
	CommitHash  string
	SetupDir    string
	LocalRepo   string
	IssueFile   string

	Version bool
}

func newRootCommand() *cobra.Command {
	opts := &cliOptions{}

	cmd := &cobra.Command{
		Use:           "repairbench [flags]",
		Short:         "Batch-evaluate repair tasks against software repositories",
		SilenceErrors: true,
		SilenceUsage:  true,
		Args:          cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.Version {
				fmt.Printf("repairbench version %s\n", version)
				return nil
			}

			// .env is optional; real environment variables win.
			_ = godotenv.Load()

			cfg, err := buildConfig(cmd, opts)
			if err != nil {
				fmt.Fprintf(os.Stderr, "ERROR: %v\n", err)
				return exitError{code: 2}
			}

			exitCode := runWithLoggerAndCleanup(cfg.OutputDir, func() int {
				return runMode(cmd.Context(), cfg)
			})
			if exitCode == 0 {
				return nil
			}
			return exitError{code: exitCode}
		},
	}
	cmd.CompletionOptions.DisableDefaultCmd = true

	addRootFlags(cmd.Flags(), opts)
	cmd.AddCommand(newVersionCommand())

	return cmd
}

func addRootFlags(fs *pflag.FlagSet, opts *cliOptions) {
	fs.StringVar(&opts.ConfigFile, "config", "", "Config file path (default: $HOME/.repairbench/config.*)")
	fs.BoolVarP(&opts.Version, "version", "v", false, "Print version and exit")

	fs.StringVar(&opts.Mode, "mode", "swe_bench", "Run mode: swe_bench or fresh_issue")
	fs.StringVar(&opts.OutputDir, "output-dir", "output", "Root directory for per-task results")
	fs.IntVar(&opts.NumWorkers, "num-workers", 1, "Maximum concurrent environment groups")
	fs.StringVar(&opts.Model, "model", "gpt-3.5-turbo-0125", "Model name used for the repair agent and cost accounting")

	fs.StringVar(&opts.RunnerName, "runner", "", "Runner implementation (default: command)")
	fs.StringVar(&opts.RunnerCommand, "runner-command", "", "Repair agent command to run for each task")
	fs.IntVar(&opts.RunnerTimeout, "runner-timeout", 0, "Per-task runner timeout in seconds (0 = none)")
	fs.BoolVar(&opts.DoInstall, "install", false, "Run each task's pre-install and install steps before the agent (also via REPAIRBENCH_INSTALL)")

	fs.BoolVar(&opts.LocalizeOnly, "save-localization-only", false, "Only run fault localization and persist its result")
	fs.StringVar(&opts.ExtractDir, "extract-patches", "", "Only consolidate patches from an existing results dir and exit")
	fs.StringVar(&opts.ReExtractDir, "re-extract-patches", "", "Redo patch selection over an existing results dir and exit")

	fs.StringVar(&opts.SetupMapFile, "setup-map", "", "swe_bench: JSON map of task id to environment setup")
	fs.StringVar(&opts.TasksMapFile, "tasks-map", "", "swe_bench: JSON map of task id to task info")
	fs.StringVar(&opts.TaskID, "task", "", "swe_bench: run a single task id")
	fs.StringVar(&opts.TaskListFile, "task-list-file", "", "swe_bench: file with one task id per line")

	fs.StringVar(&opts.FreshTaskID, "fresh-task-id", "fresh", "fresh_issue: id for the ad-hoc task")
	fs.StringVar(&opts.CloneLink, "clone-link", "", "fresh_issue: git URL of the target project")
	fs.StringVar(&opts.CommitHash, "commit-hash", "", "fresh_issue: commit to check out after cloning")
	fs.StringVar(&opts.SetupDir, "setup-dir", "", "fresh_issue: directory to clone the project into")
	fs.StringVar(&opts.LocalRepo, "local-repo", "", "fresh_issue: path to an existing local checkout")
	fs.StringVar(&opts.IssueFile, "issue-file", "", "fresh_issue: file containing the issue text")
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:           "version",
		Short:         "Print version and exit",
		SilenceErrors: true,
		SilenceUsage:  true,
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Printf("repairbench version %s\n", version)
			return nil
		},
	}
}

// runWithLoggerAndCleanup installs the run-wide logger for the duration of
// fn and tears it down afterwards, echoing recent errors on failure.
func runWithLoggerAndCleanup(outputDir string, fn func() int) (exitCode int) {
	runLog, err := logger.NewRunLogger(outputDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: failed to initialize logger: %v\n", err)
		return 1
	}
	logger.SetRunLogger(runLog)

	defer func() {
		l := logger.ActiveRunLogger()
		if l != nil {
			l.Flush()
		}
		if err := logger.CloseRunLogger(); err != nil {
			fmt.Fprintf(os.Stderr, "ERROR: failed to close logger: %v\n", err)
		}
		if l == nil {
			return
		}
		if exitCode != 0 {
			// Keep the run log around for diagnosis.
			if entries := l.ExtractRecentErrors(10); len(entries) > 0 {
				fmt.Fprintln(os.Stderr, "\n=== Recent Errors ===")
				for _, entry := range entries {
					fmt.Fprintln(os.Stderr, entry)
				}
				fmt.Fprintf(os.Stderr, "Log file: %s\n", l.Path())
			}
			return
		}
		// Clean exit: the per-task logs hold the detail, so the PID-named
		// run log has served its purpose.
		_ = l.RemoveLogFile()
	}()

	// Stale run logs from dead processes pile up in the output root.
	// REPAIRBENCH_LOG_CLEANUP=0 disables the sweep.
	if config.EnvFlagDefaultTrue("REPAIRBENCH_LOG_CLEANUP") {
		go func() {
			if _, err := logger.CleanupOldLogs(outputDir); err != nil {
				logger.LogWarn(fmt.Sprintf("Startup log cleanup failed: %v", err))
			}
		}()
	}

	return fn()
}
