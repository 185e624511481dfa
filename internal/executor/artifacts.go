package executor

import (
	"os"
	"path/filepath"

	"github.com/goccy/go-json"

	"repairbench/internal/task"
)

// taskMeta mirrors the original descriptor so a completed output directory
// is self-describing and reproducible. Never read back by the orchestrator.
type taskMeta struct {
	TaskID    string         `json:"task_id"`
	SetupInfo task.SetupInfo `json:"setup_info"`
	TaskInfo  task.Info      `json:"task_info"`
}

func writeJSONFile(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "    ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// persistArtifacts snapshots the descriptor into the task output directory:
// meta.json, problem_statement.txt and developer_patch.diff.
func persistArtifacts(outputDir string, d *task.Descriptor) error {
	meta := taskMeta{TaskID: d.ID, SetupInfo: d.Setup, TaskInfo: d.Info}
	if err := writeJSONFile(filepath.Join(outputDir, "meta.json"), meta); err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(outputDir, "problem_statement.txt"), []byte(d.Info.ProblemStatement), 0o644); err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(outputDir, "developer_patch.diff"), []byte(d.Info.Patch), 0o644)
}
