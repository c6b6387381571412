package domain

import "time"

// Pipeline statuses observed on the CI platform.
const (
	PipelineCreated  = "created"
	PipelinePending  = "pending"
	PipelineRunning  = "running"
	PipelineSuccess  = "success"
	PipelineFailed   = "failed"
	PipelineCanceled = "canceled"
	PipelineSkipped  = "skipped"
)

// PipelineRun is a read-only view of a CI run.
type PipelineRun struct {
	ID        string    `json:"id"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Terminal reports whether the run has finished.
func (r PipelineRun) Terminal() bool {
	return PipelineTerminal(r.Status)
}

// PipelineTerminal reports whether status is a finished state.
func PipelineTerminal(status string) bool {
	switch status {
	case PipelineSuccess, PipelineFailed, PipelineCanceled, PipelineSkipped:
		return true
	}
	return false
}

// TerminationReason describes why a pipeline is no longer running.
func TerminationReason(status string) string {
	switch status {
	case PipelineSuccess:
		return "Pipeline finished successfully"
	case PipelineFailed:
		return "Pipeline failed"
	case PipelineCanceled:
		return "Pipeline was cancelled"
	default:
		return "Pipeline completed"
	}
}
