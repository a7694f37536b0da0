// Package pipelinerun holds the Temporal workflow/activity pair that
// drives one project's graph when EXECUTOR=temporal (spec.md §4.4
// "PARALLEL vs SEQUENTIAL" execution modes, generalized here to a second
// execution substrate rather than a second execution order).
//
// Grounded on the teacher's internal/temporalx/jobrun package (a
// tick-loop workflow polling one job row's status via an activity,
// sleeping between ticks, signaled to wake early), retargeted from a
// single job row's status column to a project's checkpoint-driven stage
// graph.
package pipelinerun

import "time"

const (
	WorkflowName  = "pipeline_run"
	ActivityTick  = "pipeline_run_tick"
	SignalResume  = "pipeline_resume"
)

// TickResult is what one activity invocation reports back to the
// workflow loop.
type TickResult struct {
	ProjectID string     `json:"project_id"`
	Status    string     `json:"status"` // running | suspended | completed | failed
	Stage     string     `json:"stage,omitempty"`
	Error     string     `json:"error,omitempty"`
	WaitUntil *time.Time `json:"wait_until,omitempty"`
}
