package domain

// StepMetrics aggregates executions of one step across processes
type StepMetrics struct {
	TotalExecutions      int     `json:"total_executions"`
	SuccessfulExecutions int     `json:"successful_executions"`
	AverageDurationMs    float64 `json:"average_duration_ms"`
	ErrorRate            float64 `json:"error_rate"`
}

// Metrics is a point-in-time rollup of process and step outcomes
type Metrics struct {
	TotalProcesses          int                    `json:"total_processes"`
	CompletedProcesses      int                    `json:"completed_processes"`
	FailedProcesses         int                    `json:"failed_processes"`
	ActiveProcesses         int                    `json:"active_processes"`
	AverageCompletionTimeMs float64                `json:"average_completion_time_ms"`
	SuccessRate             float64                `json:"success_rate"`
	Steps                   map[string]StepMetrics `json:"steps"`
}
