package domain

// Status is the logical workflow state of a task.
type Status string

const (
	StatusBacklog    Status = "backlog"
	StatusTodo       Status = "todo"
	StatusInProgress Status = "in_progress"
	StatusReview     Status = "review"
	StatusDone       Status = "done"
	StatusCanceled   Status = "canceled"
)

var columnStatus = map[string]Status{
	"backlog":     StatusBacklog,
	"todo":        StatusTodo,
	"in_progress": StatusInProgress,
	"review":      StatusReview,
	"done":        StatusDone,
	"canceled":    StatusCanceled,
}

// StatusForColumn maps a column identifier to the status a task takes when it
// enters that column. Custom columns map to StatusTodo.
func StatusForColumn(columnID string) Status {
	if s, ok := columnStatus[columnID]; ok {
		return s
	}
	return StatusTodo
}

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	for _, known := range columnStatus {
		if s == known {
			return true
		}
	}
	return false
}

// Closed reports whether s carries a completion timestamp.
func (s Status) Closed() bool {
	return s == StatusDone || s == StatusCanceled
}

// Priority of a task.
type Priority string

const (
	PriorityNone   Priority = "no_priority"
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

func (p Priority) Valid() bool {
	switch p {
	case PriorityNone, PriorityLow, PriorityMedium, PriorityHigh, PriorityUrgent:
		return true
	}
	return false
}
