package domain

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"
)

// MaxTitleLength bounds task titles in characters.
const MaxTitleLength = 200

// Task is a work item. Tasks without a board are unassigned and have no column.
type Task struct {
	ID             string     `json:"id"`
	ProjectID      string     `json:"projectId"`
	BoardID        string     `json:"boardId,omitempty"`
	ColumnID       string     `json:"columnId,omitempty"`
	Title          string     `json:"title"`
	Description    string     `json:"description,omitempty"`
	Status         Status     `json:"status"`
	Priority       Priority   `json:"priority"`
	AssigneeID     string     `json:"assigneeId,omitempty"`
	CreatorID      string     `json:"creatorId,omitempty"`
	Labels         []string   `json:"labels,omitempty"`
	EstimatedHours *float64   `json:"estimatedHours,omitempty"`
	DueDate        *time.Time `json:"dueDate,omitempty"`
	CompletedAt    *time.Time `json:"completedAt,omitempty"`
	Position       float64    `json:"position"`
	Archived       bool       `json:"archived"`
	ArchivedAt     *time.Time `json:"archivedAt,omitempty"`
	CreatedAt      time.Time  `json:"createdAt"`
	UpdatedAt      time.Time  `json:"updatedAt"`
	ETag           string     `json:"-"`
}

// OnBoard reports whether the task is placed in a board column.
func (t Task) OnBoard() bool { return t.BoardID != "" }

// SetStatus changes the status and maintains CompletedAt: it is stamped when
// the task enters done or canceled from an open status, kept while moving
// between the two, and cleared when the task reopens.
func (t *Task) SetStatus(s Status, now time.Time) {
	switch {
	case s.Closed() && !t.Status.Closed():
		ts := now
		t.CompletedAt = &ts
	case !s.Closed():
		t.CompletedAt = nil
	}
	t.Status = s
	t.UpdatedAt = now
}

// EnterColumn moves the task into columnID and derives its status from it.
func (t *Task) EnterColumn(columnID string, now time.Time) {
	t.ColumnID = columnID
	t.SetStatus(StatusForColumn(columnID), now)
}

// Overdue reports whether the task is open and past its due date.
func (t Task) Overdue(now time.Time) bool {
	return t.DueDate != nil && t.DueDate.Before(now) && !t.Status.Closed()
}

// ValidateTitle trims and checks a task title.
func ValidateTitle(title string) (string, error) {
	title = strings.TrimSpace(title)
	n := utf8.RuneCountInString(title)
	if n == 0 {
		return "", fmt.Errorf("%w: title is required", ErrInvalidInput)
	}
	if n > MaxTitleLength {
		return "", fmt.Errorf("%w: title exceeds %d characters", ErrInvalidInput, MaxTitleLength)
	}
	return title, nil
}

// TaskQuery selects tasks of one board.
type TaskQuery struct {
	ProjectID       string
	BoardID         string
	ColumnID        string
	IncludeArchived bool
}

// Matches reports whether t satisfies q.
func (q TaskQuery) Matches(t Task) bool {
	if q.ProjectID != "" && t.ProjectID != q.ProjectID {
		return false
	}
	if t.BoardID != q.BoardID {
		return false
	}
	if q.ColumnID != "" && t.ColumnID != q.ColumnID {
		return false
	}
	return q.IncludeArchived || !t.Archived
}

// TaskBatch is a set of task writes that must be applied together. Every
// entry carries the ETag it was read with.
type TaskBatch struct {
	Updates []Task
	Deletes []Task
}

func (b TaskBatch) Len() int { return len(b.Updates) + len(b.Deletes) }
