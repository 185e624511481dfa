package task

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/goccy/go-json"
)

// SetupInfo describes how a task's execution environment is prepared.
type SetupInfo struct {
	RepoPath   string   `json:"repo_path"`
	EnvName    string   `json:"env_name"`
	PreInstall []string `json:"pre_install"`
	Install    string   `json:"install"`
	TestCmd    string   `json:"test_cmd"`
}

// Info carries the benchmark-provided description of one task instance.
type Info struct {
	BaseCommit             string   `json:"base_commit"`
	ProblemStatement       string   `json:"problem_statement"`
	Patch                  string   `json:"patch"`
	TestPatch              string   `json:"test_patch"`
	Repo                   string   `json:"repo"`
	Version                string   `json:"version,omitempty"`
	InstanceID             string   `json:"instance_id,omitempty"`
	HintsText              string   `json:"hints_text,omitempty"`
	CreatedAt              string   `json:"created_at,omitempty"`
	EnvironmentSetupCommit string   `json:"environment_setup_commit,omitempty"`
	PassToPass             []string `json:"PASS_TO_PASS"`
	FailToPass             []string `json:"FAIL_TO_PASS"`
}

// Descriptor bundles everything required to run one task. Built once per
// run and never mutated afterwards; owned by whichever worker executes it.
type Descriptor struct {
	// SequenceLabel is display-only, e.g. "3/150".
	SequenceLabel string
	ID            string
	Setup         SetupInfo
	Info          Info
}

// EnvironmentKey identifies the shared mutable execution context. Two tasks
// with the same key must never run concurrently.
func (d *Descriptor) EnvironmentKey() string {
	return d.Setup.EnvName
}

// LoadSetupMap reads the task-id → setup-info JSON object.
func LoadSetupMap(path string) (map[string]SetupInfo, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read setup map %s: %w", path, err)
	}
	var m map[string]SetupInfo
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse setup map %s: %w", path, err)
	}
	return m, nil
}

// LoadTasksMap reads the task-id → task-info JSON object.
func LoadTasksMap(path string) (map[string]Info, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read tasks map %s: %w", path, err)
	}
	var m map[string]Info
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse tasks map %s: %w", path, err)
	}
	return m, nil
}

// ParseTaskListFile reads a file with one task id per line, trimming
// whitespace and skipping blank lines.
func ParseTaskListFile(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read task list %s: %w", path, err)
	}
	var ids []string
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			ids = append(ids, line)
		}
	}
	return ids, nil
}

// BuildDescriptors resolves task ids against both maps and returns immutable
// descriptors in sorted id order, plus the ids missing from either map.
// Missing ids are dropped, not fatal.
func BuildDescriptors(taskIDs []string, setupMap map[string]SetupInfo, tasksMap map[string]Info) ([]*Descriptor, []string) {
	var present, missing []string
	for _, id := range taskIDs {
		if _, okSetup := setupMap[id]; !okSetup {
			missing = append(missing, id)
			continue
		}
		if _, okTask := tasksMap[id]; !okTask {
			missing = append(missing, id)
			continue
		}
		present = append(present, id)
	}
	sort.Strings(present)
	sort.Strings(missing)

	total := len(present)
	descriptors := make([]*Descriptor, 0, total)
	for i, id := range present {
		descriptors = append(descriptors, &Descriptor{
			SequenceLabel: fmt.Sprintf("%d/%d", i+1, total),
			ID:            id,
			Setup:         setupMap[id],
			Info:          tasksMap[id],
		})
	}
	return descriptors, missing
}
