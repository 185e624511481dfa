package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
)

// Modes selectable on the command line.
const (
	ModeSWEBench   = "swe_bench"
	ModeFreshIssue = "fresh_issue"
)

// ErrConfiguration marks an invalid flag or option combination. Surfaced
// before any task starts; wrap it with %w so callers can errors.Is it.
var ErrConfiguration = errors.New("invalid configuration")

// Config holds the resolved run configuration.
type Config struct {
	Mode       string
	OutputDir  string
	NumWorkers int
	Model      string

	// Runner selection for the repair engine.
	RunnerName     string
	RunnerCommand  string
	RunnerTimeout  int // seconds; 0 means no deadline
	DoInstall      bool
	LocalizeOnly   bool
	ExtractDir     string
	ReExtractDir   string

	// swe_bench inputs
	SetupMapFile string
	TasksMapFile string
	TaskID       string
	TaskListFile string

	// fresh_issue inputs
	FreshTaskID string
	CloneLink   string
	CommitHash  string
	SetupDir    string
	LocalRepo   string
	IssueFile   string
}

// EnvFlagEnabled returns true when the environment variable exists and is
// not explicitly set to a falsey value ("0/false/no/off").
func EnvFlagEnabled(key string) bool {
	val, ok := os.LookupEnv(key)
	if !ok {
		return false
	}
	val = strings.TrimSpace(strings.ToLower(val))
	switch val {
	case "", "0", "false", "no", "off":
		return false
	default:
		return true
	}
}

func ParseBoolFlag(val string, defaultValue bool) bool {
	val = strings.TrimSpace(strings.ToLower(val))
	switch val {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return defaultValue
	}
}

// EnvFlagDefaultTrue returns true unless the env var is explicitly set to
// false/0/no/off.
func EnvFlagDefaultTrue(key string) bool {
	val, ok := os.LookupEnv(key)
	if !ok {
		return true
	}
	return ParseBoolFlag(val, true)
}

const maxWorkersLimit = 100

// ResolveMaxWorkers reads REPAIRBENCH_MAX_WORKERS and clamps it to a sane
// range. Returns 0 when unset or invalid, meaning "use the flag value".
func ResolveMaxWorkers() int {
	raw := strings.TrimSpace(os.Getenv("REPAIRBENCH_MAX_WORKERS"))
	if raw == "" {
		return 0
	}

	value, err := strconv.Atoi(raw)
	if err != nil || value < 0 {
		return 0
	}
	if value > maxWorkersLimit {
		return maxWorkersLimit
	}
	return value
}
