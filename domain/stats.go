package domain

import (
	"math"
	"time"
)

// ColumnStats aggregates the active tasks of one column.
type ColumnStats struct {
	Count          int `json:"count"`
	HighPriority   int `json:"highPriority"`
	UrgentPriority int `json:"urgentPriority"`
	Overdue        int `json:"overdue"`
}

type WorkflowEfficiency struct {
	ActiveTasks    int `json:"activeTasks"`
	BlockedTasks   int `json:"blockedTasks"`
	CompletedTasks int `json:"completedTasks"`
	CanceledTasks  int `json:"canceledTasks"`
}

// BoardStatistics is the dashboard view of a board.
type BoardStatistics struct {
	BoardID            string                 `json:"boardId"`
	TotalTasks         int                    `json:"totalTasks"`
	Columns            map[string]ColumnStats `json:"columnStats"`
	CompletionRate     float64                `json:"completionRate"`
	WorkflowEfficiency WorkflowEfficiency     `json:"workflowEfficiency"`
	GeneratedAt        time.Time              `json:"generatedAt"`
}

// ComputeStatistics aggregates the non-archived tasks of b. Every fixed
// column id and every column of b appears in the result even when empty.
func ComputeStatistics(b Board, tasks []Task, now time.Time) BoardStatistics {
	cols := make(map[string]ColumnStats, len(columnStatus)+len(b.Columns))
	for id := range columnStatus {
		cols[id] = ColumnStats{}
	}
	for _, c := range b.Columns {
		cols[c.ID] = ColumnStats{}
	}

	total := 0
	for _, t := range tasks {
		if t.Archived || t.BoardID != b.ID {
			continue
		}
		total++
		cs := cols[t.ColumnID]
		cs.Count++
		switch t.Priority {
		case PriorityHigh:
			cs.HighPriority++
		case PriorityUrgent:
			cs.UrgentPriority++
		}
		if t.Overdue(now) {
			cs.Overdue++
		}
		cols[t.ColumnID] = cs
	}

	stats := BoardStatistics{
		BoardID:     b.ID,
		TotalTasks:  total,
		Columns:     cols,
		GeneratedAt: now,
		WorkflowEfficiency: WorkflowEfficiency{
			ActiveTasks:    cols["todo"].Count + cols["in_progress"].Count + cols["review"].Count,
			BlockedTasks:   cols["backlog"].Count,
			CompletedTasks: cols["done"].Count,
			CanceledTasks:  cols["canceled"].Count,
		},
	}
	if total > 0 {
		stats.CompletionRate = math.Round(float64(cols["done"].Count)/float64(total)*1000) / 10
	}
	return stats
}
