package app

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"repairbench/internal/config"
	"repairbench/internal/logger"
	"repairbench/internal/task"
	"repairbench/internal/utils"
)

// Overridable for tests.
var gitRunFn = runGit

// buildFreshIssueDescriptor prepares the single ad-hoc task of a fresh_issue
// run: the target checkout (local or freshly cloned) plus the issue text.
func buildFreshIssueDescriptor(ctx context.Context, cfg *config.Config) ([]*task.Descriptor, error) {
	issue, err := os.ReadFile(cfg.IssueFile)
	if err != nil {
		return nil, fmt.Errorf("read issue file: %w", err)
	}
	if strings.TrimSpace(string(issue)) == "" {
		return nil, fmt.Errorf("issue file %s is empty", cfg.IssueFile)
	}
	logger.LogInfo("Issue: " + utils.SafeTruncate(utils.FirstLine(string(issue)), 120))

	repoPath := cfg.LocalRepo
	commit := cfg.CommitHash
	if cfg.CloneLink != "" {
		repoPath, err = cloneProject(ctx, cfg)
		if err != nil {
			return nil, err
		}
	}
	if info, err := os.Stat(repoPath); err != nil || !info.IsDir() {
		return nil, fmt.Errorf("project path %s is not a directory", repoPath)
	}
	if commit == "" {
		commit = headCommit(ctx, repoPath)
	}

	d := &task.Descriptor{
		SequenceLabel: "1/1",
		ID:            cfg.FreshTaskID,
		Setup: task.SetupInfo{
			RepoPath: repoPath,
			EnvName:  cfg.FreshTaskID,
		},
		Info: task.Info{
			BaseCommit:       commit,
			ProblemStatement: string(issue),
		},
	}
	return []*task.Descriptor{d}, nil
}

// cloneProject clones the target into setupDir/<task-id> and checks out the
// requested commit. An existing clone is reused after a checkout.
func cloneProject(ctx context.Context, cfg *config.Config) (string, error) {
	if err := os.MkdirAll(cfg.SetupDir, 0o755); err != nil {
		return "", fmt.Errorf("create setup dir: %w", err)
	}
	dest := filepath.Join(cfg.SetupDir, cfg.FreshTaskID)

	if _, err := os.Stat(filepath.Join(dest, ".git")); err != nil {
		logger.LogInfo(fmt.Sprintf("Cloning %s into %s", cfg.CloneLink, dest))
		if err := gitRunFn(ctx, cfg.SetupDir, "clone", cfg.CloneLink, dest); err != nil {
			return "", fmt.Errorf("clone %s: %w", cfg.CloneLink, err)
		}
	} else {
		logger.LogInfo(fmt.Sprintf("Reusing existing clone at %s", dest))
	}

	if err := gitRunFn(ctx, dest, "checkout", cfg.CommitHash); err != nil {
		return "", fmt.Errorf("checkout %s: %w", cfg.CommitHash, err)
	}
	return dest, nil
}

func runGit(ctx context.Context, dir string, args ...string) error {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = dir
	out, err := cmd.CombinedOutput()
	if err != nil {
		detail := utils.SafeTruncate(utils.SanitizeOutput(strings.TrimSpace(string(out))), 300)
		return fmt.Errorf("git %s: %w (%s)", strings.Join(args, " "), err, detail)
	}
	return nil
}

func headCommit(ctx context.Context, repoPath string) string {
	cmd := exec.CommandContext(ctx, "git", "rev-parse", "HEAD")
	cmd.Dir = repoPath
	out, err := cmd.Output()
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(out))
}
