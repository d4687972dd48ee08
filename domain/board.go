package domain

import (
	"fmt"
	"sort"
	"time"
)

// Column is a lane on a board. Position orders columns left to right.
type Column struct {
	ID        string  `json:"id"`
	Name      string  `json:"name"`
	Position  int     `json:"position"`
	Color     *string `json:"color,omitempty"`
	TaskLimit *int    `json:"taskLimit,omitempty"`
}

// Board holds a project's columns.
type Board struct {
	ID        string    `json:"id"`
	ProjectID string    `json:"projectId"`
	Name      string    `json:"name"`
	Columns   []Column  `json:"columns"`
	IsDefault bool      `json:"isDefault"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
	ETag      string    `json:"-"`
}

// MaxBoardNameLength bounds board names.
const MaxBoardNameLength = 100

func color(c string) *string { return &c }

// DefaultColumns returns the column set every new project starts with.
func DefaultColumns() []Column {
	return []Column{
		{ID: "backlog", Name: "Backlog", Position: 0, Color: color("#6B7280")},
		{ID: "todo", Name: "To Do", Position: 1, Color: color("#94A3B8")},
		{ID: "in_progress", Name: "In Progress", Position: 2, Color: color("#3B82F6")},
		{ID: "review", Name: "Review", Position: 3, Color: color("#F59E0B")},
		{ID: "done", Name: "Done", Position: 4, Color: color("#10B981")},
		{ID: "canceled", Name: "Canceled", Position: 5, Color: color("#EF4444")},
	}
}

// DefaultBoardName names the board created together with a project.
func DefaultBoardName(projectName string) string {
	return projectName + " Board"
}

// ValidateColumns checks that a column set is non-empty and that ids and
// positions are unique.
func ValidateColumns(cols []Column) error {
	if len(cols) == 0 {
		return fmt.Errorf("%w: board must have at least one column", ErrInvalidColumnSet)
	}
	ids := make(map[string]struct{}, len(cols))
	positions := make(map[int]struct{}, len(cols))
	for _, c := range cols {
		if c.ID == "" {
			return fmt.Errorf("%w: column id is required", ErrInvalidColumnSet)
		}
		if c.Name == "" {
			return fmt.Errorf("%w: column %q has no name", ErrInvalidColumnSet, c.ID)
		}
		if c.TaskLimit != nil && *c.TaskLimit < 0 {
			return fmt.Errorf("%w: column %q has a negative task limit", ErrInvalidColumnSet, c.ID)
		}
		if _, dup := ids[c.ID]; dup {
			return fmt.Errorf("%w: duplicate column id %q", ErrInvalidColumnSet, c.ID)
		}
		if _, dup := positions[c.Position]; dup {
			return fmt.Errorf("%w: duplicate column position %d", ErrInvalidColumnSet, c.Position)
		}
		ids[c.ID] = struct{}{}
		positions[c.Position] = struct{}{}
	}
	return nil
}

// OrderedColumns returns a copy of the columns sorted by position.
func (b Board) OrderedColumns() []Column {
	out := make([]Column, len(b.Columns))
	copy(out, b.Columns)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Position < out[j].Position })
	return out
}

// FirstColumn is the leftmost column, the fallback for relocated tasks.
func (b Board) FirstColumn() (Column, bool) {
	cols := b.OrderedColumns()
	if len(cols) == 0 {
		return Column{}, false
	}
	return cols[0], true
}

func (b Board) Column(id string) (Column, bool) {
	for _, c := range b.Columns {
		if c.ID == id {
			return c, true
		}
	}
	return Column{}, false
}

func (b Board) HasColumn(id string) bool {
	_, ok := b.Column(id)
	return ok
}

// BoardSummary pairs a board with its active task count.
type BoardSummary struct {
	Board
	TaskCount int `json:"taskCount"`
}

// BoardTasks is a board with its active tasks grouped by column.
type BoardTasks struct {
	Board   Board             `json:"board"`
	Columns map[string][]Task `json:"tasks"`
}

// BoardChange describes a committed mutation on a board.
type BoardChange struct {
	BoardID   string `json:"boardId"`
	ProjectID string `json:"projectId"`
	Action    string `json:"action"`
}
