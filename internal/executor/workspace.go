package executor

import (
	"context"
	"fmt"
	"os/exec"
	"strings"

	"repairbench/internal/logger"
	"repairbench/internal/utils"
)

var gitCommandContext = exec.CommandContext

// gitResetAndClean discards every mutation the run left in the task's
// repository, restoring a clean checkout at the given commit.
func gitResetAndClean(ctx context.Context, repoPath, commit string, log *logger.Logger) error {
	steps := [][]string{
		{"git", "reset", "--hard", commit},
		{"git", "clean", "-fd"},
	}
	for _, step := range steps {
		cmd := gitCommandContext(ctx, step[0], step[1:]...)
		cmd.Dir = repoPath
		out, err := cmd.CombinedOutput()
		line := utils.SafeTruncate(utils.SanitizeOutput(strings.TrimSpace(string(out))), 300)
		if log != nil && line != "" {
			log.Info(strings.Join(step, " ") + ": " + line)
		}
		if err != nil {
			return fmt.Errorf("%s in %s: %w (%s)", strings.Join(step, " "), repoPath, err, line)
		}
	}
	return nil
}

// CurrentCommitHash returns the commit hash of this tool's own checkout,
// recorded in cost.json for reproducibility. Best effort: empty when the
// binary does not run from a git checkout.
func CurrentCommitHash(ctx context.Context) string {
	cmd := gitCommandContext(ctx, "git", "rev-parse", "HEAD")
	out, err := cmd.Output()
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(out))
}
