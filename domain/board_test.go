package domain

import (
	"errors"
	"testing"
	"time"
)

func TestDefaultColumnsAreValid(t *testing.T) {
	cols := DefaultColumns()
	if len(cols) != 6 {
		t.Fatalf("expected six default columns, got %d", len(cols))
	}
	if err := ValidateColumns(cols); err != nil {
		t.Fatalf("default columns invalid: %v", err)
	}
	for i, c := range cols {
		if c.Position != i {
			t.Fatalf("column %s at position %d, want %d", c.ID, c.Position, i)
		}
		if c.Color == nil || c.TaskLimit != nil {
			t.Fatalf("column %s: unexpected color/limit %+v", c.ID, c)
		}
	}
	if DefaultBoardName("Apollo") != "Apollo Board" {
		t.Fatalf("unexpected default board name %q", DefaultBoardName("Apollo"))
	}
}

func TestValidateColumns(t *testing.T) {
	tests := []struct {
		name string
		cols []Column
	}{
		{name: "empty", cols: nil},
		{name: "duplicate id", cols: []Column{{ID: "a", Name: "A", Position: 0}, {ID: "a", Name: "B", Position: 1}}},
		{name: "duplicate position", cols: []Column{{ID: "a", Name: "A", Position: 0}, {ID: "b", Name: "B", Position: 0}}},
		{name: "missing id", cols: []Column{{Name: "A"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := ValidateColumns(tt.cols); !errors.Is(err, ErrInvalidColumnSet) {
				t.Fatalf("expected ErrInvalidColumnSet, got %v", err)
			}
		})
	}
}

func TestFirstColumnUsesPosition(t *testing.T) {
	b := Board{Columns: []Column{{ID: "done", Position: 7}, {ID: "todo", Position: 2}}}
	first, ok := b.FirstColumn()
	if !ok || first.ID != "todo" {
		t.Fatalf("expected todo as first column, got %+v", first)
	}
	if b.Columns[0].ID != "done" {
		t.Fatalf("OrderedColumns must not reorder the board")
	}
}

func TestKindOfWrappedErrors(t *testing.T) {
	err := errors.Join(errors.New("ctx"), ErrBoardNotFound)
	if KindOf(err) != KindNotFound {
		t.Fatalf("expected not found kind, got %v", KindOf(err))
	}
	if KindOf(ErrConcurrencyConflict) != KindUnknown {
		t.Fatalf("storage conflicts are untagged")
	}
	if CodeOf(ErrBoardNotEmpty) != "board_not_empty" {
		t.Fatalf("unexpected code %s", CodeOf(ErrBoardNotEmpty))
	}
}

func TestComputeStatistics(t *testing.T) {
	now := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	past := now.Add(-48 * time.Hour)
	b := Board{ID: "b1", Columns: DefaultColumns()}
	tasks := []Task{
		{BoardID: "b1", ColumnID: "todo", Status: StatusTodo, Priority: PriorityHigh, DueDate: &past},
		{BoardID: "b1", ColumnID: "todo", Status: StatusTodo, Priority: PriorityUrgent},
		{BoardID: "b1", ColumnID: "done", Status: StatusDone, DueDate: &past},
		{BoardID: "b1", ColumnID: "backlog", Status: StatusBacklog},
		{BoardID: "b1", ColumnID: "done", Status: StatusDone, Archived: true},
		{BoardID: "b2", ColumnID: "done", Status: StatusDone},
	}

	stats := ComputeStatistics(b, tasks, now)
	if stats.TotalTasks != 4 {
		t.Fatalf("expected 4 active tasks, got %d", stats.TotalTasks)
	}
	todo := stats.Columns["todo"]
	if todo.Count != 2 || todo.HighPriority != 1 || todo.UrgentPriority != 1 || todo.Overdue != 1 {
		t.Fatalf("unexpected todo stats %+v", todo)
	}
	if stats.Columns["done"].Overdue != 0 {
		t.Fatalf("done tasks are never overdue")
	}
	if _, ok := stats.Columns["review"]; !ok {
		t.Fatalf("empty columns must be reported")
	}
	if stats.CompletionRate != 25 {
		t.Fatalf("expected completion rate 25, got %v", stats.CompletionRate)
	}
	want := WorkflowEfficiency{ActiveTasks: 2, BlockedTasks: 1, CompletedTasks: 1}
	if stats.WorkflowEfficiency != want {
		t.Fatalf("unexpected efficiency %+v", stats.WorkflowEfficiency)
	}
}

func TestComputeStatisticsEmptyBoard(t *testing.T) {
	stats := ComputeStatistics(Board{ID: "b1"}, nil, time.Now())
	if stats.CompletionRate != 0 || stats.TotalTasks != 0 {
		t.Fatalf("unexpected stats for empty board: %+v", stats)
	}
}
