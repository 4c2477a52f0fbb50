package tracker

import "context"

// TaskSubmitter creates remote long-running tasks.
type TaskSubmitter interface {
	Submit(ctx context.Context, prompt string, capabilities []string) (TaskHandle, TaskStatus, error)
}

// TaskQuerier reads the status of a remote task.
type TaskQuerier interface {
	Query(ctx context.Context, taskID string) (TaskStatus, error)
}

// AgentService is the remote agent execution service.
type AgentService interface {
	TaskSubmitter
	TaskQuerier
}

// ShapeFetcher observes a watched resource in the plan store.
type ShapeFetcher interface {
	FetchShape(ctx context.Context, ref ResourceRef) (Shape, error)
}

// PromptBuilder renders the prompt for a workflow.
type PromptBuilder interface {
	Build(kind WorkflowKind, pc PromptContext) (string, error)
}

// Notifier receives fire-and-forget run events. Implementations must not block.
type Notifier interface {
	Notify(event, detail string)
}

// RunRecorder persists terminal run records.
type RunRecorder interface {
	RecordRun(ctx context.Context, rec RunRecord) error
	ListRuns(ctx context.Context, filter RunFilter) ([]RunRecord, error)
}
