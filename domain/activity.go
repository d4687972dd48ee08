package domain

import "time"

// ActivityKind names an audit record type.
type ActivityKind string

const (
	ActivityTaskCreated   ActivityKind = "task_created"
	ActivityTaskUpdated   ActivityKind = "task_updated"
	ActivityTaskCompleted ActivityKind = "task_completed"
	ActivityBoardUpdated  ActivityKind = "board_updated"
)

// Activity is one audit entry emitted per successful mutation.
type Activity struct {
	ID          string         `json:"id"`
	Kind        ActivityKind   `json:"type"`
	ActorID     string         `json:"userId"`
	ProjectID   string         `json:"projectId"`
	BoardID     string         `json:"boardId,omitempty"`
	TaskID      string         `json:"taskId,omitempty"`
	Description string         `json:"description"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	CreatedAt   time.Time      `json:"createdAt"`
}
