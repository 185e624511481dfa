package runner

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/goccy/go-json"

	"repairbench/internal/utils"
)

// Overridable for tests.
var commandContext = exec.CommandContext

// forceKillDelay is the grace period, in seconds, between SIGTERM and
// SIGKILL when a runner process must be torn down.
var forceKillDelay atomic.Int32

func init() { forceKillDelay.Store(5) }

type traceEntry struct {
	Phase      string   `json:"phase"`
	Command    string   `json:"command"`
	Args       []string `json:"args,omitempty"`
	StartEpoch int64    `json:"start_epoch"`
	EndEpoch   int64    `json:"end_epoch"`
	ExitCode   int      `json:"exit_code"`
}

// commandRunner drives an external repair-agent executable. The agent runs
// inside the task's repository checkout, receives the problem statement on
// stdin, and may emit usage events on stdout.
type commandRunner struct {
	spec Spec

	mu    sync.Mutex
	usage Usage
	trace []traceEntry
}

// NewCommandRunner validates the task environment and, when installs are
// enabled, prepares it by running the setup's pre-install and install
// commands. Any failure here means the workspace was never mutated by
// inference, so no reset is owed.
func NewCommandRunner(ctx context.Context, spec Spec) (Runner, error) {
	if strings.TrimSpace(spec.Command) == "" {
		return nil, fmt.Errorf("runner command is empty")
	}
	info, err := os.Stat(spec.Setup.RepoPath)
	if err != nil {
		return nil, fmt.Errorf("task repo %s: %w", spec.Setup.RepoPath, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("task repo %s is not a directory", spec.Setup.RepoPath)
	}

	r := &commandRunner{spec: spec}

	if spec.DoInstall {
		for _, cmd := range spec.Setup.PreInstall {
			if _, err := r.runShell(ctx, "pre_install", cmd); err != nil {
				return nil, fmt.Errorf("pre-install %q: %w", cmd, err)
			}
		}
		if install := strings.TrimSpace(spec.Setup.Install); install != "" {
			if _, err := r.runShell(ctx, "install", install); err != nil {
				return nil, fmt.Errorf("install %q: %w", install, err)
			}
		}
	}

	return r, nil
}

func (r *commandRunner) Run(ctx context.Context, problemStatement string) (bool, error) {
	code, err := r.runAgent(ctx, "inference", problemStatement)
	if err != nil {
		return false, err
	}
	return code == 0, nil
}

func (r *commandRunner) LocalizeFaults(ctx context.Context) (bool, error) {
	code, err := r.runAgent(ctx, "localization", "")
	if err != nil {
		return false, err
	}
	return code == 0, nil
}

func (r *commandRunner) Usage() Usage {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.usage
}

// DumpTrace writes the recorded command invocations to tool_calls.json.
func (r *commandRunner) DumpTrace(outputDir string) error {
	r.mu.Lock()
	trace := make([]traceEntry, len(r.trace))
	copy(trace, r.trace)
	r.mu.Unlock()

	data, err := json.MarshalIndent(trace, "", "    ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(outputDir, "tool_calls.json"), data, 0o644)
}

// runAgent executes the configured agent command. The command string is
// split on whitespace and executed directly, not through a shell.
func (r *commandRunner) runAgent(ctx context.Context, phase, stdin string) (int, error) {
	fields := strings.Fields(r.spec.Command)
	name, args := fields[0], fields[1:]

	if r.spec.TimeoutSec > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(r.spec.TimeoutSec)*time.Second)
		defer cancel()
	}

	cmd := commandContext(ctx, name, args...)
	cmd.Dir = r.spec.Setup.RepoPath
	cmd.Env = append(os.Environ(),
		"REPAIRBENCH_TASK_ID="+r.spec.TaskID,
		"REPAIRBENCH_OUTPUT_DIR="+r.spec.OutputDir,
		"REPAIRBENCH_PHASE="+phase,
		"REPAIRBENCH_MODEL="+r.spec.Model,
		"REPAIRBENCH_TEST_CMD="+r.spec.Setup.TestCmd,
	)
	if stdin != "" {
		cmd.Stdin = strings.NewReader(stdin)
	}

	tail := &tailBuffer{limit: 2048}
	stdoutLog := newLogWriter(phase+" stdout: ", logLineLimit, r.logLine)
	stderrLog := newLogWriter(phase+" stderr: ", logLineLimit, r.logLine)
	usage := &usageLineWriter{runner: r}
	cmd.Stdout = io.MultiWriter(stdoutLog, usage, tail)
	cmd.Stderr = io.MultiWriter(stderrLog, tail)

	code, err := r.runProcess(ctx, cmd, phase, name, args)
	stdoutLog.Flush()
	stderrLog.Flush()
	usage.Flush()
	if err != nil {
		if out := utils.SanitizeOutput(strings.TrimSpace(tail.String())); out != "" {
			return code, fmt.Errorf("%w; output tail: %s", err, utils.SafeTruncate(out, 500))
		}
		return code, err
	}
	return code, nil
}

// runShell runs an environment-setup command through the shell inside the
// task repository.
func (r *commandRunner) runShell(ctx context.Context, phase, script string) (int, error) {
	cmd := commandContext(ctx, "bash", "-c", script)
	cmd.Dir = r.spec.Setup.RepoPath

	tail := &tailBuffer{limit: 2048}
	outLog := newLogWriter(phase+": ", logLineLimit, r.logLine)
	cmd.Stdout = io.MultiWriter(outLog, tail)
	cmd.Stderr = io.MultiWriter(outLog, tail)

	code, err := r.runProcess(ctx, cmd, phase, "bash", []string{"-c", script})
	outLog.Flush()
	if err != nil {
		if out := utils.SanitizeOutput(strings.TrimSpace(tail.String())); out != "" {
			return code, fmt.Errorf("%w; output tail: %s", err, utils.SafeTruncate(out, 500))
		}
		return code, err
	}
	if code != 0 {
		return code, fmt.Errorf("exit status %d; output tail: %s", code, utils.SafeTruncate(utils.SanitizeOutput(strings.TrimSpace(tail.String())), 500))
	}
	return code, nil
}

// runProcess starts the command, waits for it, and tears it down with
// SIGTERM then SIGKILL when the context is canceled first. Every invocation
// is recorded in the trace.
func (r *commandRunner) runProcess(ctx context.Context, cmd *exec.Cmd, phase, name string, args []string) (exitCode int, err error) {
	start := time.Now()
	defer func() {
		r.mu.Lock()
		r.trace = append(r.trace, traceEntry{
			Phase:      phase,
			Command:    name,
			Args:       args,
			StartEpoch: start.Unix(),
			EndEpoch:   time.Now().Unix(),
			ExitCode:   exitCode,
		})
		r.mu.Unlock()
	}()

	if err := cmd.Start(); err != nil {
		return -1, fmt.Errorf("start %s: %w", name, err)
	}

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	select {
	case waitErr := <-done:
		code := cmd.ProcessState.ExitCode()
		if waitErr != nil {
			if _, isExit := waitErr.(*exec.ExitError); isExit {
				return code, nil
			}
			return code, waitErr
		}
		return code, nil

	case <-ctx.Done():
		_ = sendTermSignal(cmd.Process)
		select {
		case <-done:
		case <-time.After(time.Duration(forceKillDelay.Load()) * time.Second):
			_ = cmd.Process.Kill()
			<-done
		}
		return -1, fmt.Errorf("%s canceled: %w", name, ctx.Err())
	}
}

func (r *commandRunner) logLine(line string) {
	if r.spec.Log != nil {
		r.spec.Log.Info(line)
	}
}

func (r *commandRunner) addUsage(ev usageEvent) {
	r.mu.Lock()
	r.usage.InputTokens += ev.InputTokens
	r.usage.OutputTokens += ev.OutputTokens
	r.usage.Cost += ev.Cost
	r.mu.Unlock()
}

// usageLineWriter scans a stream line by line for usage events.
type usageLineWriter struct {
	runner *commandRunner
	buf    []byte
}

func (w *usageLineWriter) Write(p []byte) (int, error) {
	w.buf = append(w.buf, p...)
	for {
		idx := -1
		for i, b := range w.buf {
			if b == '\n' {
				idx = i
				break
			}
		}
		if idx < 0 {
			return len(p), nil
		}
		if ev, ok := parseUsageLine(string(w.buf[:idx])); ok {
			w.runner.addUsage(ev)
		}
		w.buf = w.buf[idx+1:]
	}
}

func (w *usageLineWriter) Flush() {
	if len(w.buf) == 0 {
		return
	}
	if ev, ok := parseUsageLine(string(w.buf)); ok {
		w.runner.addUsage(ev)
	}
	w.buf = nil
}
