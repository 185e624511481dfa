package config

import (
	"os"
	"path/filepath"
	"sort"
	"testing"
)

func TestParseBoolFlag(t *testing.T) {
	tests := []struct {
		name string
		val  string
		def  bool
		want bool
	}{
		{name: "one", val: "1", def: false, want: true},
		{name: "true upper", val: "TRUE", def: false, want: true},
		{name: "yes", val: "yes", def: false, want: true},
		{name: "zero", val: "0", def: true, want: false},
		{name: "off", val: "off", def: true, want: false},
		{name: "garbage keeps default", val: "maybe", def: true, want: true},
		{name: "empty keeps default", val: "", def: false, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ParseBoolFlag(tt.val, tt.def); got != tt.want {
				t.Fatalf("ParseBoolFlag(%q, %v) = %v, want %v", tt.val, tt.def, got, tt.want)
			}
		})
	}
}

func TestEnvFlagEnabled(t *testing.T) {
	const key = "REPAIRBENCH_TEST_FLAG"

	if EnvFlagEnabled(key) {
		t.Fatalf("unset env var reported enabled")
	}
	t.Setenv(key, "false")
	if EnvFlagEnabled(key) {
		t.Fatalf("false env var reported enabled")
	}
	t.Setenv(key, "1")
	if !EnvFlagEnabled(key) {
		t.Fatalf("truthy env var reported disabled")
	}
}

func TestEnvFlagDefaultTrue(t *testing.T) {
	const key = "REPAIRBENCH_TEST_DEFAULT_TRUE"

	os.Unsetenv(key)
	if !EnvFlagDefaultTrue(key) {
		t.Fatalf("EnvFlagDefaultTrue(unset) = false, want true")
	}

	tests := []struct {
		value string
		want  bool
	}{
		{"1", true},
		{"true", true},
		{"0", false},
		{"no", false},
		{"off", false},
		{"garbage", true},
	}
	for _, tt := range tests {
		t.Run(tt.value, func(t *testing.T) {
			t.Setenv(key, tt.value)
			if got := EnvFlagDefaultTrue(key); got != tt.want {
				t.Fatalf("EnvFlagDefaultTrue(%q) = %v, want %v", tt.value, got, tt.want)
			}
		})
	}
}

func TestResolveMaxWorkers(t *testing.T) {
	tests := []struct {
		name string
		val  string
		want int
	}{
		{name: "unset", val: "", want: 0},
		{name: "valid", val: "8", want: 8},
		{name: "negative", val: "-2", want: 0},
		{name: "garbage", val: "many", want: 0},
		{name: "clamped", val: "5000", want: 100},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("REPAIRBENCH_MAX_WORKERS", tt.val)
			if got := ResolveMaxWorkers(); got != tt.want {
				t.Fatalf("ResolveMaxWorkers() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestNewViperReadsEnv(t *testing.T) {
	t.Setenv("REPAIRBENCH_NUM_WORKERS", "7")
	v, err := NewViper("")
	if err != nil {
		t.Fatalf("NewViper() error = %v", err)
	}
	if got := v.GetInt("num-workers"); got != 7 {
		t.Fatalf("num-workers = %d, want 7", got)
	}
}

func TestNewViperExplicitFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("model: gpt-4-0125-preview\n"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	v, err := NewViper(path)
	if err != nil {
		t.Fatalf("NewViper(%s) error = %v", path, err)
	}
	if got := v.GetString("model"); got != "gpt-4-0125-preview" {
		t.Fatalf("model = %q", got)
	}

	if _, err := NewViper(filepath.Join(dir, "missing.yaml")); err == nil {
		t.Fatalf("expected error for missing explicit config file")
	}
}

func TestPricingForDefaults(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	t.Cleanup(ResetPricingCacheForTest)
	ResetPricingCacheForTest()

	p := PricingFor("gpt-3.5-turbo-0125")
	if p.InputCostPerToken <= 0 || p.OutputCostPerToken <= 0 {
		t.Fatalf("default pricing missing: %+v", p)
	}

	unknown := PricingFor("no-such-model")
	if unknown.InputCostPerToken != 0 || unknown.OutputCostPerToken != 0 {
		t.Fatalf("unknown model should cost zero, got %+v", unknown)
	}
}

func TestKnownModelsSorted(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	t.Cleanup(ResetPricingCacheForTest)
	ResetPricingCacheForTest()

	names := KnownModels()
	if len(names) == 0 {
		t.Fatalf("KnownModels() is empty")
	}
	if !sort.StringsAreSorted(names) {
		t.Fatalf("KnownModels() not sorted: %v", names)
	}
	found := false
	for _, name := range names {
		if name == "gpt-3.5-turbo-0125" {
			found = true
		}
	}
	if !found {
		t.Fatalf("default model missing from %v", names)
	}
}

func TestPricingUserOverride(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Cleanup(ResetPricingCacheForTest)
	ResetPricingCacheForTest()

	dir := filepath.Join(home, ".repairbench")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}
	content := `{"models": {"custom-model": {"input_cost_per_token": 0.001, "output_cost_per_token": 0.002}}}`
	if err := os.WriteFile(filepath.Join(dir, "pricing.json"), []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	p := PricingFor("custom-model")
	if p.InputCostPerToken != 0.001 || p.OutputCostPerToken != 0.002 {
		t.Fatalf("user pricing not applied: %+v", p)
	}
	// Defaults survive the merge.
	if PricingFor("gpt-3.5-turbo-0125").InputCostPerToken == 0 {
		t.Fatalf("default pricing lost after user override")
	}
}
