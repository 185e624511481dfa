package aggregate

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/goccy/go-json"
)

func writeTaskDir(t *testing.T, root, name string, files map[string]string) string {
	t.Helper()
	dir := filepath.Join(root, name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}
	for fname, content := range files {
		if err := os.WriteFile(filepath.Join(dir, fname), []byte(content), 0o644); err != nil {
			t.Fatalf("WriteFile %s: %v", fname, err)
		}
	}
	return dir
}

func readPredictions(t *testing.T, root string) []Prediction {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(root, "predictions.json"))
	if err != nil {
		t.Fatalf("read predictions.json: %v", err)
	}
	var preds []Prediction
	if err := json.Unmarshal(data, &preds); err != nil {
		t.Fatalf("unmarshal predictions.json: %v", err)
	}
	return preds
}

func TestTaskIDFromDirName(t *testing.T) {
	tests := []struct {
		name   string
		wantID string
		wantOK bool
	}{
		{"django-12345_2024-03-01_10-30-00", "django-12345", true},
		{"pkg_with_underscores_2024-03-01_10-30-00", "pkg_with_underscores", true},
		{"not-a-task-dir", "", false},
		{"missing-time_2024-03-01", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id, ok := taskIDFromDirName(tt.name)
			if id != tt.wantID || ok != tt.wantOK {
				t.Fatalf("taskIDFromDirName(%q) = (%q, %v), want (%q, %v)", tt.name, id, ok, tt.wantID, tt.wantOK)
			}
		})
	}
}

func TestAggregateCollectsPatches(t *testing.T) {
	root := t.TempDir()
	writeTaskDir(t, root, "task-b_2024-03-01_10-30-00", map[string]string{
		"extracted_patch_0.diff": "old attempt",
		"extracted_patch_1.diff": "patch for b",
	})
	writeTaskDir(t, root, "task-a_2024-03-01_10-30-05", map[string]string{
		"extracted_patch_0.diff": "patch for a",
	})
	// No candidates at all: still listed, with an empty patch.
	writeTaskDir(t, root, "task-c_2024-03-01_10-31-00", nil)
	// Stray non-task content must be ignored.
	writeTaskDir(t, root, "not-a-task-dir", map[string]string{"extracted_patch_0.diff": "noise"})
	if err := os.WriteFile(filepath.Join(root, "run.log"), []byte("log"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	a := &Aggregator{Model: "test-model"}
	if err := a.Aggregate(root); err != nil {
		t.Fatalf("Aggregate() error = %v", err)
	}

	preds := readPredictions(t, root)
	if len(preds) != 3 {
		t.Fatalf("got %d predictions, want 3: %+v", len(preds), preds)
	}
	// Sorted by instance id.
	want := []Prediction{
		{InstanceID: "task-a", ModelNameOrPath: "test-model", ModelPatch: "patch for a"},
		{InstanceID: "task-b", ModelNameOrPath: "test-model", ModelPatch: "patch for b"},
		{InstanceID: "task-c", ModelNameOrPath: "test-model", ModelPatch: ""},
	}
	for i := range want {
		if preds[i] != want[i] {
			t.Fatalf("preds[%d] = %+v, want %+v", i, preds[i], want[i])
		}
	}
}

func TestAggregatePrefersMetaTaskID(t *testing.T) {
	root := t.TempDir()
	writeTaskDir(t, root, "mangled_2024-03-01_10-30-00", map[string]string{
		"meta.json":              `{"task_id": "real-id"}`,
		"extracted_patch_0.diff": "p",
	})

	a := &Aggregator{Model: "m"}
	if err := a.Aggregate(root); err != nil {
		t.Fatalf("Aggregate() error = %v", err)
	}
	preds := readPredictions(t, root)
	if len(preds) != 1 || preds[0].InstanceID != "real-id" {
		t.Fatalf("preds = %+v, want instance id from meta.json", preds)
	}
}

func TestSelectionIsStableAcrossRuns(t *testing.T) {
	root := t.TempDir()
	dir := writeTaskDir(t, root, "t1_2024-03-01_10-30-00", map[string]string{
		"extracted_patch_0.diff": "first",
	})

	a := &Aggregator{Model: "m"}
	if err := a.Aggregate(root); err != nil {
		t.Fatalf("Aggregate() error = %v", err)
	}

	// A later candidate appears, but the earlier selection is kept.
	if err := os.WriteFile(filepath.Join(dir, "extracted_patch_1.diff"), []byte("second"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if err := a.ExtractPatches(root); err != nil {
		t.Fatalf("ExtractPatches() error = %v", err)
	}
	if preds := readPredictions(t, root); preds[0].ModelPatch != "first" {
		t.Fatalf("ModelPatch = %q, want earlier selection kept", preds[0].ModelPatch)
	}

	// Re-extraction discards the memo and picks the latest candidate.
	if err := a.ReExtractPatches(root); err != nil {
		t.Fatalf("ReExtractPatches() error = %v", err)
	}
	if preds := readPredictions(t, root); preds[0].ModelPatch != "second" {
		t.Fatalf("ModelPatch = %q, want re-selected candidate", preds[0].ModelPatch)
	}
}

func TestAggregateMissingRoot(t *testing.T) {
	a := &Aggregator{Model: "m"}
	if err := a.Aggregate(filepath.Join(t.TempDir(), "nope")); err == nil {
		t.Fatalf("Aggregate() = nil error for missing root")
	}
}
