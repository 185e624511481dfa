package executor

import (
	"context"
	"os/exec"
	"time"

	"repairbench/internal/logger"
)

func SetTimeNowFn(fn func() time.Time) (restore func()) {
	prev := timeNow
	if fn != nil {
		timeNow = fn
	} else {
		timeNow = time.Now
	}
	return func() { timeNow = prev }
}

func SetWorkspaceResetFn(fn func(context.Context, string, string, *logger.Logger) error) (restore func()) {
	prev := workspaceResetFn
	if fn != nil {
		workspaceResetFn = fn
	} else {
		workspaceResetFn = gitResetAndClean
	}
	return func() { workspaceResetFn = prev }
}

func SetGitCommandContextFn(fn func(context.Context, string, ...string) *exec.Cmd) (restore func()) {
	prev := gitCommandContext
	if fn != nil {
		gitCommandContext = fn
	} else {
		gitCommandContext = exec.CommandContext
	}
	return func() { gitCommandContext = prev }
}
