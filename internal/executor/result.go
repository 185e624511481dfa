package executor

// RunResult is the per-task outcome. Failures below the scheduler are
// carried here as values; the executor never propagates a task-level error
// except the hard filesystem failure creating the output directory.
type RunResult struct {
	TaskID        string `json:"task_id"`
	Success       bool   `json:"success"`
	StatusMessage string `json:"status_message"`
	// InitFailed marks a runner-construction failure, which skips the
	// workspace reset because nothing was mutated.
	InitFailed bool        `json:"init_failed,omitempty"`
	OutputDir  string      `json:"output_dir"`
	Cost       *CostRecord `json:"cost,omitempty"`
}

// CostRecord is the telemetry persisted to cost.json.
type CostRecord struct {
	Model              string  `json:"model"`
	Commit             string  `json:"commit"`
	InputCostPerToken  float64 `json:"input_cost_per_token"`
	OutputCostPerToken float64 `json:"output_cost_per_token"`
	TotalInputTokens   int64   `json:"total_input_tokens"`
	TotalOutputTokens  int64   `json:"total_output_tokens"`
	TotalTokens        int64   `json:"total_tokens"`
	TotalCost          float64 `json:"total_cost"`
	StartEpoch         int64   `json:"start_epoch"`
	EndEpoch           int64   `json:"end_epoch"`
	ElapsedSeconds     float64 `json:"elapsed_seconds"`
}
