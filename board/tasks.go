package board

import (
	"context"
	"errors"
	"fmt"
	"time"

	"taskforge-board/domain"
)

// NewTask carries the fields of a task to create. BoardID and ColumnID are
// optional: a column without a board targets the project's default board,
// and neither leaves the task unassigned.
type NewTask struct {
	ProjectID      string          `json:"projectId"`
	BoardID        string          `json:"boardId,omitempty"`
	ColumnID       string          `json:"columnId,omitempty"`
	Title          string          `json:"title"`
	Description    string          `json:"description,omitempty"`
	Status         domain.Status   `json:"status,omitempty"`
	Priority       domain.Priority `json:"priority,omitempty"`
	AssigneeID     string          `json:"assigneeId,omitempty"`
	CreatorID      string          `json:"creatorId,omitempty"`
	Labels         []string        `json:"labels,omitempty"`
	EstimatedHours *float64        `json:"estimatedHours,omitempty"`
	DueDate        *time.Time      `json:"dueDate,omitempty"`
}

// Move is one entry of a bulk move.
type Move struct {
	TaskID   string  `json:"taskId"`
	ColumnID string  `json:"targetColumnId"`
	Position float64 `json:"position"`
}

// MoveFailure reports a move rejected by validation.
type MoveFailure struct {
	TaskID string `json:"taskId"`
	Code   string `json:"code"`
	Reason string `json:"reason"`
	Err    error  `json:"-"`
}

// BulkResult summarises a bulk move.
type BulkResult struct {
	Moved  int           `json:"moved"`
	Failed []MoveFailure `json:"failed,omitempty"`
}

func moveFailure(taskID string, err error) MoveFailure {
	return MoveFailure{TaskID: taskID, Code: domain.CodeOf(err), Reason: err.Error(), Err: err}
}

// CreateTask validates placement and appends the task to its column.
func (e *Engine) CreateTask(ctx context.Context, in NewTask) (domain.Task, error) {
	if in.ProjectID == "" {
		return domain.Task{}, fmt.Errorf("%w: project id is required", domain.ErrInvalidInput)
	}
	title, err := domain.ValidateTitle(in.Title)
	if err != nil {
		return domain.Task{}, err
	}
	if in.Priority == "" {
		in.Priority = domain.PriorityNone
	}
	if !in.Priority.Valid() {
		return domain.Task{}, fmt.Errorf("%w: unknown priority %q", domain.ErrInvalidInput, in.Priority)
	}

	now := e.now()
	t := domain.Task{
		ID:             e.newID(),
		ProjectID:      in.ProjectID,
		Title:          title,
		Description:    in.Description,
		Priority:       in.Priority,
		AssigneeID:     in.AssigneeID,
		CreatorID:      in.CreatorID,
		Labels:         in.Labels,
		EstimatedHours: in.EstimatedHours,
		DueDate:        in.DueDate,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	if in.BoardID == "" && in.ColumnID == "" {
		status := in.Status
		if status == "" {
			status = domain.StatusTodo
		}
		if !status.Valid() {
			return domain.Task{}, fmt.Errorf("%w: unknown status %q", domain.ErrInvalidInput, status)
		}
		t.SetStatus(status, now)
		created, err := e.store.InsertTask(ctx, t)
		if err != nil {
			return domain.Task{}, err
		}
		e.auditCreated(ctx, created)
		return created, nil
	}

	var b domain.Board
	if in.BoardID == "" {
		b, err = e.store.DefaultBoard(ctx, in.ProjectID)
	} else {
		b, err = e.store.GetBoard(ctx, in.BoardID)
	}
	if err != nil {
		return domain.Task{}, err
	}
	if b.ProjectID != in.ProjectID {
		return domain.Task{}, domain.ErrProjectMismatch
	}
	columnID := in.ColumnID
	if columnID == "" {
		first, ok := b.FirstColumn()
		if !ok {
			return domain.Task{}, fmt.Errorf("%w: board has no columns", domain.ErrColumnNotFound)
		}
		columnID = first.ID
	} else if !b.HasColumn(columnID) {
		return domain.Task{}, fmt.Errorf("%w: %q", domain.ErrColumnNotFound, columnID)
	}

	unlock := e.locks.lockColumns(b.ID, columnID)
	defer unlock()

	// UpdateBoard may have replaced the column set before the lock was taken.
	b, _, err = e.freshColumn(ctx, b.ID, columnID)
	if err != nil {
		return domain.Task{}, err
	}
	column, err := e.activeInColumn(ctx, b, columnID)
	if err != nil {
		return domain.Task{}, err
	}
	t.BoardID = b.ID
	t.EnterColumn(columnID, now)
	t.Position = domain.NextPosition(column)
	created, err := e.store.InsertTask(ctx, t)
	if err != nil {
		return domain.Task{}, err
	}

	// Positions past a gap are pulled back so the column stays dense.
	if _, err := e.renumberLocked(ctx, b, columnID); err != nil {
		e.log.WithError(err).WithField("column", columnID).Warn("renumber after create failed")
	} else if fresh, err := e.store.GetTask(ctx, created.ID); err == nil {
		created = fresh
	}

	e.auditCreated(ctx, created)
	e.notify(ctx, b, "task.created")
	return created, nil
}

func (e *Engine) auditCreated(ctx context.Context, t domain.Task) {
	e.audit(ctx, domain.Activity{
		Kind:        domain.ActivityTaskCreated,
		ProjectID:   t.ProjectID,
		BoardID:     t.BoardID,
		TaskID:      t.ID,
		Description: fmt.Sprintf("Created task '%s'", t.Title),
	})
}

func (e *Engine) GetTask(ctx context.Context, taskID string) (domain.Task, error) {
	return e.store.GetTask(ctx, taskID)
}

// boardOf loads the task and its board. The task must be placed on a board.
func (e *Engine) boardOf(ctx context.Context, taskID string) (domain.Task, domain.Board, error) {
	t, err := e.store.GetTask(ctx, taskID)
	if err != nil {
		return domain.Task{}, domain.Board{}, err
	}
	if !t.OnBoard() {
		return t, domain.Board{}, nil
	}
	b, err := e.store.GetBoard(ctx, t.BoardID)
	if err != nil {
		return domain.Task{}, domain.Board{}, err
	}
	return t, b, nil
}

// Reposition moves a task to newIndex within its current column. columnID,
// when set, must be the task's column.
func (e *Engine) Reposition(ctx context.Context, taskID string, newIndex int, columnID string) (domain.Task, error) {
	t, b, err := e.boardOf(ctx, taskID)
	if err != nil {
		return domain.Task{}, err
	}
	if !t.OnBoard() {
		return domain.Task{}, fmt.Errorf("%w: task is not on a board", domain.ErrInvalidInput)
	}
	if columnID != "" && columnID != t.ColumnID {
		return domain.Task{}, domain.ErrUseStatusChangeInstead
	}
	if t.Archived {
		return domain.Task{}, fmt.Errorf("%w: task is archived", domain.ErrInvalidInput)
	}

	unlock := e.locks.lockColumns(b.ID, t.ColumnID)
	defer unlock()

	var result domain.Task
	err = e.retry(ctx, "reposition", func() error {
		cur, err := e.store.GetTask(ctx, taskID)
		if err != nil {
			return err
		}
		if cur.ColumnID != t.ColumnID || cur.BoardID != b.ID {
			// Another process moved it between our read and the lock.
			return domain.ErrConcurrencyConflict
		}
		fresh, _, err := e.freshColumn(ctx, b.ID, cur.ColumnID)
		if err != nil {
			return err
		}
		b = fresh
		column, err := e.activeInColumn(ctx, b, cur.ColumnID)
		if err != nil {
			return err
		}
		from := -1
		for i := range column {
			if column[i].ID == cur.ID {
				from = i
				break
			}
		}
		if from < 0 {
			return domain.ErrConcurrencyConflict
		}
		ordered, err := domain.Reinsert(column, from, newIndex)
		if err != nil {
			return err
		}
		now := e.now()
		changed := domain.Renumber(ordered)
		result = cur
		result.Position = float64(newIndex)
		for i := range changed {
			changed[i].UpdatedAt = now
			if changed[i].ID == cur.ID {
				result = changed[i]
			}
		}
		if len(changed) == 0 {
			return nil
		}
		return e.store.CommitTasks(ctx, domain.TaskBatch{Updates: changed})
	})
	if err != nil {
		return domain.Task{}, err
	}

	e.audit(ctx, domain.Activity{
		Kind:        domain.ActivityTaskUpdated,
		ProjectID:   result.ProjectID,
		BoardID:     b.ID,
		TaskID:      result.ID,
		Description: fmt.Sprintf("Repositioned task '%s'", result.Title),
		Metadata:    map[string]any{"column_id": result.ColumnID, "position": result.Position},
	})
	e.notify(ctx, b, "task.repositioned")
	return result, nil
}

// ChangeStatus moves a task to the tail of newColumnID, derives its status
// and closes the gap it left in its source column, in one batch.
func (e *Engine) ChangeStatus(ctx context.Context, taskID, newColumnID string) (domain.Task, error) {
	t, b, err := e.boardOf(ctx, taskID)
	if err != nil {
		return domain.Task{}, err
	}
	if !t.OnBoard() {
		return e.changeUnassignedStatus(ctx, t, newColumnID)
	}
	if !b.HasColumn(newColumnID) {
		return domain.Task{}, fmt.Errorf("%w: %q", domain.ErrColumnNotFound, newColumnID)
	}
	if t.ColumnID == newColumnID {
		return t, nil
	}
	if t.Archived {
		return domain.Task{}, fmt.Errorf("%w: task is archived", domain.ErrInvalidInput)
	}

	source := t.ColumnID
	unlock := e.locks.lockColumns(b.ID, source, newColumnID)
	defer unlock()

	var result domain.Task
	var col domain.Column
	var noop bool
	err = e.retry(ctx, "change_status", func() error {
		fresh, c, err := e.freshColumn(ctx, b.ID, newColumnID)
		if err != nil {
			return err
		}
		b, col = fresh, c
		cur, err := e.store.GetTask(ctx, taskID)
		if err != nil {
			return err
		}
		if cur.ColumnID == newColumnID {
			// The task already arrived, possibly through a batch that
			// committed only in part. The source column may still have a gap.
			n, err := e.renumberLocked(ctx, b, source)
			if err != nil {
				return err
			}
			result, noop = cur, n == 0
			return nil
		}
		if cur.ColumnID != source || cur.BoardID != b.ID {
			return domain.ErrConcurrencyConflict
		}
		dest, err := e.activeInColumn(ctx, b, newColumnID)
		if err != nil {
			return err
		}
		src, err := e.activeInColumn(ctx, b, source)
		if err != nil {
			return err
		}

		now := e.now()
		moved := cur
		moved.EnterColumn(newColumnID, now)
		moved.Position = domain.NextPosition(dest)

		// The moved task must be the last write; storage may split the batch
		// into several transactions.
		var updates []domain.Task
		for _, r := range domain.Renumber(without(src, cur.ID)) {
			r.UpdatedAt = now
			updates = append(updates, r)
		}
		updates = append(updates, moved)
		if err := e.store.CommitTasks(ctx, domain.TaskBatch{Updates: updates}); err != nil {
			return err
		}
		result = moved
		return nil
	})
	if err != nil {
		return domain.Task{}, err
	}
	if noop {
		return result, nil
	}

	kind := domain.ActivityTaskUpdated
	desc := fmt.Sprintf("Moved task '%s' to %s", result.Title, col.Name)
	if result.Status == domain.StatusDone {
		kind = domain.ActivityTaskCompleted
		desc = fmt.Sprintf("Completed task '%s'", result.Title)
	}
	e.audit(ctx, domain.Activity{
		Kind:        kind,
		ProjectID:   result.ProjectID,
		BoardID:     b.ID,
		TaskID:      result.ID,
		Description: desc,
		Metadata:    map[string]any{"from_column": source, "to_column": newColumnID, "status": string(result.Status)},
	})
	e.notify(ctx, b, "task.moved")
	return result, nil
}

// changeUnassignedStatus updates the status of a task that has no board;
// there is no column to validate or renumber.
func (e *Engine) changeUnassignedStatus(ctx context.Context, t domain.Task, columnID string) (domain.Task, error) {
	status := domain.StatusForColumn(columnID)
	if t.Status == status {
		return t, nil
	}
	var result domain.Task
	err := e.retry(ctx, "change_status", func() error {
		cur, err := e.store.GetTask(ctx, t.ID)
		if err != nil {
			return err
		}
		cur.SetStatus(status, e.now())
		if err := e.store.CommitTasks(ctx, domain.TaskBatch{Updates: []domain.Task{cur}}); err != nil {
			return err
		}
		result = cur
		return nil
	})
	if err != nil {
		return domain.Task{}, err
	}
	e.audit(ctx, domain.Activity{
		Kind:        domain.ActivityTaskUpdated,
		ProjectID:   result.ProjectID,
		TaskID:      result.ID,
		Description: fmt.Sprintf("Changed status of task '%s' to %s", result.Title, result.Status),
	})
	return result, nil
}

// BulkMove applies caller-positioned moves on one board in a single batch.
// Moves that fail validation are reported and skipped; a storage error aborts
// the whole batch. Columns are not renumbered afterwards: callers supply a
// complete dense ordering for every column they touch.
func (e *Engine) BulkMove(ctx context.Context, boardID string, moves []Move) (BulkResult, error) {
	b, err := e.store.GetBoard(ctx, boardID)
	if err != nil {
		return BulkResult{}, err
	}

	var res BulkResult
	err = e.retry(ctx, "bulk_move", func() error {
		res = BulkResult{}
		valid := make([]Move, 0, len(moves))
		idx := make(map[string]int, len(moves))
		for _, m := range moves {
			switch {
			case !b.HasColumn(m.ColumnID):
				res.Failed = append(res.Failed, moveFailure(m.TaskID, fmt.Errorf("%w: column '%s' does not exist", domain.ErrColumnNotFound, m.ColumnID)))
				continue
			case m.Position < 0:
				res.Failed = append(res.Failed, moveFailure(m.TaskID, fmt.Errorf("%w: negative position", domain.ErrInvalidInput)))
				continue
			}
			if i, dup := idx[m.TaskID]; dup {
				valid[i] = m
				continue
			}
			idx[m.TaskID] = len(valid)
			valid = append(valid, m)
		}

		tasks := make(map[string]domain.Task, len(valid))
		columns := make([]string, 0, 2*len(valid))
		kept := valid[:0]
		for _, m := range valid {
			t, err := e.store.GetTask(ctx, m.TaskID)
			if errors.Is(err, domain.ErrTaskNotFound) || (err == nil && (t.BoardID != b.ID || t.Archived)) {
				if err == nil {
					err = fmt.Errorf("%w: task is not active on this board", domain.ErrTaskNotFound)
				}
				res.Failed = append(res.Failed, moveFailure(m.TaskID, err))
				continue
			}
			if err != nil {
				return err
			}
			tasks[t.ID] = t
			columns = append(columns, t.ColumnID, m.ColumnID)
			kept = append(kept, m)
		}
		if len(kept) == 0 {
			return nil
		}

		unlock := e.locks.lockColumns(b.ID, columns...)
		defer unlock()

		fresh, err := e.store.GetBoard(ctx, b.ID)
		if err != nil {
			return err
		}
		b = fresh

		now := e.now()
		updates := make([]domain.Task, 0, len(kept))
		for _, m := range kept {
			if !b.HasColumn(m.ColumnID) {
				res.Failed = append(res.Failed, moveFailure(m.TaskID, fmt.Errorf("%w: column '%s' does not exist", domain.ErrColumnNotFound, m.ColumnID)))
				continue
			}
			cur, err := e.store.GetTask(ctx, m.TaskID)
			if err != nil {
				return err
			}
			if cur.ETag != tasks[cur.ID].ETag {
				return domain.ErrConcurrencyConflict
			}
			cur.EnterColumn(m.ColumnID, now)
			cur.Position = m.Position
			updates = append(updates, cur)
		}
		if len(updates) == 0 {
			return nil
		}
		if err := e.store.CommitTasks(ctx, domain.TaskBatch{Updates: updates}); err != nil {
			return err
		}
		res.Moved = len(updates)
		return nil
	})
	if err != nil {
		return BulkResult{}, err
	}

	if res.Moved > 0 {
		e.audit(ctx, domain.Activity{
			Kind:        domain.ActivityBoardUpdated,
			ProjectID:   b.ProjectID,
			BoardID:     b.ID,
			Description: fmt.Sprintf("Bulk moved %d tasks in board '%s'", res.Moved, b.Name),
			Metadata:    map[string]any{"moved": res.Moved, "failed": len(res.Failed)},
		})
		e.notify(ctx, b, "tasks.bulk_moved")
	}
	return res, nil
}

// DeleteTask removes a task and closes the gap in its former column.
func (e *Engine) DeleteTask(ctx context.Context, taskID string) error {
	t, b, err := e.boardOf(ctx, taskID)
	if err != nil {
		return err
	}
	if !t.OnBoard() {
		err := e.retry(ctx, "delete_task", func() error {
			cur, err := e.store.GetTask(ctx, taskID)
			if err != nil {
				return err
			}
			return e.store.CommitTasks(ctx, domain.TaskBatch{Deletes: []domain.Task{cur}})
		})
		if err != nil {
			return err
		}
		e.auditDeleted(ctx, t)
		return nil
	}

	unlock := e.locks.lockColumns(b.ID, t.ColumnID)
	defer unlock()

	err = e.retry(ctx, "delete_task", func() error {
		cur, err := e.store.GetTask(ctx, taskID)
		if err != nil {
			return err
		}
		if cur.ColumnID != t.ColumnID || cur.BoardID != b.ID {
			return domain.ErrConcurrencyConflict
		}
		batch := domain.TaskBatch{Deletes: []domain.Task{cur}}
		if !cur.Archived {
			column, err := e.activeInColumn(ctx, b, cur.ColumnID)
			if err != nil {
				return err
			}
			now := e.now()
			for _, r := range domain.Renumber(without(column, cur.ID)) {
				r.UpdatedAt = now
				batch.Updates = append(batch.Updates, r)
			}
		}
		return e.store.CommitTasks(ctx, batch)
	})
	if err != nil {
		return err
	}
	e.auditDeleted(ctx, t)
	e.notify(ctx, b, "task.deleted")
	return nil
}

func (e *Engine) auditDeleted(ctx context.Context, t domain.Task) {
	e.audit(ctx, domain.Activity{
		Kind:        domain.ActivityTaskUpdated,
		ProjectID:   t.ProjectID,
		BoardID:     t.BoardID,
		TaskID:      t.ID,
		Description: fmt.Sprintf("Deleted task '%s'", t.Title),
	})
}

// Renumber restores positions 0..N-1 in one column and returns the number of
// tasks written. A dense column is left untouched.
func (e *Engine) Renumber(ctx context.Context, boardID, columnID string) (int, error) {
	b, err := e.store.GetBoard(ctx, boardID)
	if err != nil {
		return 0, err
	}
	if !b.HasColumn(columnID) {
		return 0, fmt.Errorf("%w: %q", domain.ErrColumnNotFound, columnID)
	}
	unlock := e.locks.lockColumns(b.ID, columnID)
	defer unlock()

	var written int
	err = e.retry(ctx, "renumber", func() error {
		n, err := e.renumberLocked(ctx, b, columnID)
		written = n
		return err
	})
	return written, err
}

// renumberLocked expects the caller to hold the column lock.
func (e *Engine) renumberLocked(ctx context.Context, b domain.Board, columnID string) (int, error) {
	column, err := e.activeInColumn(ctx, b, columnID)
	if err != nil {
		return 0, err
	}
	changed := domain.Renumber(column)
	if len(changed) == 0 {
		return 0, nil
	}
	now := e.now()
	for i := range changed {
		changed[i].UpdatedAt = now
	}
	if err := e.store.CommitTasks(ctx, domain.TaskBatch{Updates: changed}); err != nil {
		return 0, err
	}
	return len(changed), nil
}
