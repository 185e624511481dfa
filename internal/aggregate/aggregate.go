// Package aggregate consolidates per-task results into a single
// predictions.json suitable for downstream evaluation harnesses.
package aggregate

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"

	"github.com/goccy/go-json"

	"repairbench/internal/logger"
)

// Prediction is one consolidated entry: a task and the patch proposed for it.
// The patch is empty when the run produced no usable candidate.
type Prediction struct {
	InstanceID      string `json:"instance_id"`
	ModelNameOrPath string `json:"model_name_or_path"`
	ModelPatch      string `json:"model_patch"`
}

const (
	predictionsFile = "predictions.json"
	selectedPatch   = "selected_patch.diff"
)

var (
	candidatePatchRe = regexp.MustCompile(`^extracted_patch_(\d+)\.diff$`)
	taskDirRe        = regexp.MustCompile(`^(.+)_\d{4}-\d{2}-\d{2}_\d{2}-\d{2}-\d{2}$`)
)

// Aggregator scans a completed output root and forms the predictions file.
type Aggregator struct {
	Model string
}

// Aggregate is the post-run consolidation pass: selects a patch per task dir
// where none has been selected yet and writes predictions.json at the root.
func (a *Aggregator) Aggregate(root string) error {
	return a.consolidate(root, false)
}

// ExtractPatches consolidates an existing results directory without
// re-running anything; already-selected patches are kept.
func (a *Aggregator) ExtractPatches(root string) error {
	return a.consolidate(root, false)
}

// ReExtractPatches discards every previous patch selection and picks again
// from the recorded candidates before consolidating.
func (a *Aggregator) ReExtractPatches(root string) error {
	return a.consolidate(root, true)
}

func (a *Aggregator) consolidate(root string, force bool) error {
	entries, err := os.ReadDir(root)
	if err != nil {
		return fmt.Errorf("read results dir %s: %w", root, err)
	}

	var predictions []Prediction
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		taskID, ok := taskIDFromDirName(entry.Name())
		if !ok {
			continue
		}
		dir := filepath.Join(root, entry.Name())
		if id := taskIDFromMeta(dir); id != "" {
			taskID = id
		}

		patch, err := selectPatch(dir, force)
		if err != nil {
			return fmt.Errorf("select patch for %s: %w", taskID, err)
		}
		if patch == "" {
			logger.LogWarn(fmt.Sprintf("No patch extracted for task %s.", taskID))
		}
		predictions = append(predictions, Prediction{
			InstanceID:      taskID,
			ModelNameOrPath: a.Model,
			ModelPatch:      patch,
		})
	}

	sort.Slice(predictions, func(i, j int) bool {
		return predictions[i].InstanceID < predictions[j].InstanceID
	})

	data, err := json.MarshalIndent(predictions, "", "    ")
	if err != nil {
		return err
	}
	out := filepath.Join(root, predictionsFile)
	if err := os.WriteFile(out, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", out, err)
	}
	logger.LogInfo(fmt.Sprintf("Wrote %d predictions to %s.", len(predictions), out))
	return nil
}

// selectPatch returns the patch content for one task directory. The chosen
// candidate is persisted as selected_patch.diff so repeated consolidation is
// stable; force discards that memo and picks again.
func selectPatch(dir string, force bool) (string, error) {
	selected := filepath.Join(dir, selectedPatch)
	if !force {
		if data, err := os.ReadFile(selected); err == nil {
			return string(data), nil
		}
	}

	candidate, err := latestCandidate(dir)
	if err != nil {
		return "", err
	}
	if candidate == "" {
		if force {
			_ = os.Remove(selected)
		}
		return "", nil
	}

	data, err := os.ReadFile(candidate)
	if err != nil {
		return "", err
	}
	if err := os.WriteFile(selected, data, 0o644); err != nil {
		return "", err
	}
	return string(data), nil
}

// latestCandidate finds the highest-numbered extracted_patch_<n>.diff, the
// last attempt the runner recorded. Empty when there are no candidates.
func latestCandidate(dir string) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", err
	}
	best, bestN := "", -1
	for _, entry := range entries {
		m := candidatePatchRe.FindStringSubmatch(entry.Name())
		if m == nil {
			continue
		}
		n, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		if n > bestN {
			bestN = n
			best = filepath.Join(dir, entry.Name())
		}
	}
	return best, nil
}

// taskIDFromDirName strips the run timestamp suffix from a task output
// directory name. Reports false for directories that are not task outputs.
func taskIDFromDirName(name string) (string, bool) {
	m := taskDirRe.FindStringSubmatch(name)
	if m == nil {
		return "", false
	}
	return m[1], true
}

func taskIDFromMeta(dir string) string {
	data, err := os.ReadFile(filepath.Join(dir, "meta.json"))
	if err != nil {
		return ""
	}
	var meta struct {
		TaskID string `json:"task_id"`
	}
	if err := json.Unmarshal(data, &meta); err != nil {
		return ""
	}
	return meta.TaskID
}
