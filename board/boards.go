package board

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	log "github.com/sirupsen/logrus"

	"taskforge-board/domain"
)

// BoardUpdate carries the optional fields of UpdateBoard. A nil Columns
// leaves the column set untouched; a non-nil empty slice is rejected.
type BoardUpdate struct {
	Name    *string         `json:"name,omitempty"`
	Columns []domain.Column `json:"columns,omitempty"`
}

func validBoardName(name string) (string, error) {
	name = strings.TrimSpace(name)
	n := utf8.RuneCountInString(name)
	if n == 0 || n > domain.MaxBoardNameLength {
		return "", fmt.Errorf("%w: board name must be 1-%d characters", domain.ErrInvalidInput, domain.MaxBoardNameLength)
	}
	return name, nil
}

// CreateDefaultBoard creates the project's default board with the standard
// columns. When the project already has one it is returned unchanged.
func (e *Engine) CreateDefaultBoard(ctx context.Context, projectID, projectName string) (domain.Board, error) {
	if projectID == "" {
		return domain.Board{}, fmt.Errorf("%w: project id is required", domain.ErrInvalidInput)
	}
	unlock := e.locks.lockProject(projectID)
	defer unlock()

	existing, err := e.store.DefaultBoard(ctx, projectID)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, domain.ErrBoardNotFound) {
		return domain.Board{}, err
	}

	now := e.now()
	b, err := e.store.InsertBoard(ctx, domain.Board{
		ID:        e.newID(),
		ProjectID: projectID,
		Name:      domain.DefaultBoardName(projectName),
		Columns:   domain.DefaultColumns(),
		IsDefault: true,
		CreatedAt: now,
		UpdatedAt: now,
	})
	if err != nil {
		return domain.Board{}, err
	}
	e.audit(ctx, domain.Activity{
		Kind:        domain.ActivityBoardUpdated,
		ProjectID:   projectID,
		BoardID:     b.ID,
		Description: fmt.Sprintf("Created board '%s'", b.Name),
	})
	e.notify(ctx, b, "board.created")
	return b, nil
}

// CreateBoard adds a non-default board. nil columns selects the standard set.
func (e *Engine) CreateBoard(ctx context.Context, projectID, name string, columns []domain.Column) (domain.Board, error) {
	if projectID == "" {
		return domain.Board{}, fmt.Errorf("%w: project id is required", domain.ErrInvalidInput)
	}
	name, err := validBoardName(name)
	if err != nil {
		return domain.Board{}, err
	}
	if columns == nil {
		columns = domain.DefaultColumns()
	}
	if err := domain.ValidateColumns(columns); err != nil {
		return domain.Board{}, err
	}

	now := e.now()
	b, err := e.store.InsertBoard(ctx, domain.Board{
		ID:        e.newID(),
		ProjectID: projectID,
		Name:      name,
		Columns:   columns,
		CreatedAt: now,
		UpdatedAt: now,
	})
	if err != nil {
		return domain.Board{}, err
	}
	e.audit(ctx, domain.Activity{
		Kind:        domain.ActivityBoardUpdated,
		ProjectID:   projectID,
		BoardID:     b.ID,
		Description: fmt.Sprintf("Created board '%s'", b.Name),
	})
	e.notify(ctx, b, "board.created")
	return b, nil
}

func (e *Engine) GetBoard(ctx context.Context, boardID string) (domain.Board, error) {
	return e.store.GetBoard(ctx, boardID)
}

// DefaultBoard resolves a project to its default board.
func (e *Engine) DefaultBoard(ctx context.Context, projectID string) (domain.Board, error) {
	return e.store.DefaultBoard(ctx, projectID)
}

// ListBoards returns the project's boards, default first, with active task counts.
func (e *Engine) ListBoards(ctx context.Context, projectID string) ([]domain.BoardSummary, error) {
	boards, err := e.store.ListBoards(ctx, projectID)
	if err != nil {
		return nil, err
	}
	out := make([]domain.BoardSummary, 0, len(boards))
	for _, b := range boards {
		tasks, err := e.store.ListTasks(ctx, domain.TaskQuery{ProjectID: projectID, BoardID: b.ID})
		if err != nil {
			return nil, err
		}
		out = append(out, domain.BoardSummary{Board: b, TaskCount: len(tasks)})
	}
	for i, s := range out {
		if s.IsDefault && i > 0 {
			copy(out[1:i+1], out[:i])
			out[0] = s
			break
		}
	}
	return out, nil
}

// BoardTasks returns the board with its active tasks grouped by column.
func (e *Engine) BoardTasks(ctx context.Context, boardID string) (domain.BoardTasks, error) {
	b, err := e.store.GetBoard(ctx, boardID)
	if err != nil {
		return domain.BoardTasks{}, err
	}
	tasks, err := e.store.ListTasks(ctx, domain.TaskQuery{ProjectID: b.ProjectID, BoardID: b.ID})
	if err != nil {
		return domain.BoardTasks{}, err
	}
	domain.SortByPosition(tasks)
	grouped := make(map[string][]domain.Task, len(b.Columns))
	for _, c := range b.Columns {
		grouped[c.ID] = []domain.Task{}
	}
	for _, t := range tasks {
		grouped[t.ColumnID] = append(grouped[t.ColumnID], t)
	}
	return domain.BoardTasks{Board: b, Columns: grouped}, nil
}

// UpdateBoard renames the board and/or replaces its column set. Tasks left in
// a removed column move to the tail of the new first column.
func (e *Engine) UpdateBoard(ctx context.Context, boardID string, upd BoardUpdate) (domain.Board, error) {
	var name string
	if upd.Name != nil {
		n, err := validBoardName(*upd.Name)
		if err != nil {
			return domain.Board{}, err
		}
		name = n
	}
	if upd.Columns != nil {
		if err := domain.ValidateColumns(upd.Columns); err != nil {
			return domain.Board{}, err
		}
	}

	unlock := e.locks.lockBoard(boardID)
	defer unlock()

	var b domain.Board
	err := e.retry(ctx, "update_board", func() error {
		cur, err := e.store.GetBoard(ctx, boardID)
		if err != nil {
			return err
		}
		if upd.Name != nil {
			cur.Name = name
		}
		if upd.Columns != nil {
			cur.Columns = append([]domain.Column(nil), upd.Columns...)
		}
		cur.UpdatedAt = e.now()
		b, err = e.store.UpdateBoard(ctx, cur)
		return err
	})
	if err != nil {
		return domain.Board{}, err
	}

	if upd.Columns != nil {
		var moved int
		err := e.retry(ctx, "relocate_tasks", func() error {
			p, err := e.relocationPlan(ctx, b)
			if err != nil {
				return err
			}
			moved = p.len()
			if moved == 0 {
				return nil
			}
			return e.store.CommitTasks(ctx, domain.TaskBatch{Updates: p.list()})
		})
		if err != nil {
			// The board already carries the new columns; Reconcile finishes the move.
			e.log.WithError(err).WithField("board", b.ID).Error("task relocation failed")
			return domain.Board{}, err
		}
		if moved > 0 {
			e.log.WithFields(log.Fields{"board": b.ID, "tasks": moved}).Info("tasks relocated after column change")
		}
	}

	e.audit(ctx, domain.Activity{
		Kind:        domain.ActivityBoardUpdated,
		ProjectID:   b.ProjectID,
		BoardID:     b.ID,
		Description: fmt.Sprintf("Updated board '%s'", b.Name),
	})
	e.notify(ctx, b, "board.updated")
	return b, nil
}

// relocationPlan moves tasks whose column no longer exists into the first
// column. Active orphans are appended after the column's current tasks in
// their previous relative order; archived orphans keep their position.
func (e *Engine) relocationPlan(ctx context.Context, b domain.Board) (*pending, error) {
	p := newPending()
	first, ok := b.FirstColumn()
	if !ok {
		return p, nil
	}
	all, err := e.store.ListTasks(ctx, domain.TaskQuery{ProjectID: b.ProjectID, BoardID: b.ID, IncludeArchived: true})
	if err != nil {
		return nil, err
	}
	domain.SortByPosition(all)

	now := e.now()
	var target, orphans []domain.Task
	for _, t := range all {
		switch {
		case b.HasColumn(t.ColumnID):
			if t.ColumnID == first.ID && !t.Archived {
				target = append(target, t)
			}
		case t.Archived:
			t.EnterColumn(first.ID, now)
			p.add(t)
		default:
			t.EnterColumn(first.ID, now)
			orphans = append(orphans, t)
		}
	}
	if len(orphans) == 0 {
		return p, nil
	}
	ordered := append(target, orphans...)
	p.add(orphans...)
	for _, t := range domain.Renumber(ordered) {
		t.UpdatedAt = now
		p.add(t)
	}
	return p, nil
}

// ReorderColumns sets each column's position to its index in columnIDs,
// which must name exactly the board's current columns.
func (e *Engine) ReorderColumns(ctx context.Context, boardID string, columnIDs []string) (domain.Board, error) {
	unlock := e.locks.lockBoard(boardID)
	defer unlock()

	seen := make(map[string]struct{}, len(columnIDs))
	order := make([]string, 0, len(columnIDs))
	for _, id := range columnIDs {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		order = append(order, id)
	}

	var b domain.Board
	err := e.retry(ctx, "reorder_columns", func() error {
		cur, err := e.store.GetBoard(ctx, boardID)
		if err != nil {
			return err
		}
		if len(order) != len(cur.Columns) {
			return domain.ErrColumnSetMismatch
		}
		index := make(map[string]int, len(order))
		for i, id := range order {
			if !cur.HasColumn(id) {
				return fmt.Errorf("%w: unknown column %q", domain.ErrColumnSetMismatch, id)
			}
			index[id] = i
		}
		cols := make([]domain.Column, len(cur.Columns))
		for i, c := range cur.Columns {
			c.Position = index[c.ID]
			cols[i] = c
		}
		cur.Columns = cols
		cur.UpdatedAt = e.now()
		b, err = e.store.UpdateBoard(ctx, cur)
		return err
	})
	if err != nil {
		return domain.Board{}, err
	}

	e.audit(ctx, domain.Activity{
		Kind:        domain.ActivityBoardUpdated,
		ProjectID:   b.ProjectID,
		BoardID:     b.ID,
		Description: fmt.Sprintf("Reordered columns in board '%s'", b.Name),
		Metadata:    map[string]any{"column_order": order},
	})
	e.notify(ctx, b, "board.columns_reordered")
	return b, nil
}

// DeleteBoard removes a non-default board that holds no active tasks.
// Archived tasks are left in place.
func (e *Engine) DeleteBoard(ctx context.Context, boardID string) error {
	unlock := e.locks.lockBoard(boardID)
	defer unlock()

	var b domain.Board
	err := e.retry(ctx, "delete_board", func() error {
		cur, err := e.store.GetBoard(ctx, boardID)
		if err != nil {
			return err
		}
		if cur.IsDefault {
			return domain.ErrCannotDeleteDefaultBoard
		}
		active, err := e.store.ListTasks(ctx, domain.TaskQuery{ProjectID: cur.ProjectID, BoardID: cur.ID})
		if err != nil {
			return err
		}
		if n := len(active); n > 0 {
			return fmt.Errorf("%w: board has %d active tasks", domain.ErrBoardNotEmpty, n)
		}
		b = cur
		return e.store.DeleteBoard(ctx, cur)
	})
	if err != nil {
		return err
	}

	e.audit(ctx, domain.Activity{
		Kind:        domain.ActivityBoardUpdated,
		ProjectID:   b.ProjectID,
		BoardID:     b.ID,
		Description: fmt.Sprintf("Deleted board '%s'", b.Name),
	})
	e.notify(ctx, b, "board.deleted")
	return nil
}

// ArchiveColumnTasks archives every active task in the column and returns
// how many were archived.
func (e *Engine) ArchiveColumnTasks(ctx context.Context, boardID, columnID string) (int, error) {
	b, err := e.store.GetBoard(ctx, boardID)
	if err != nil {
		return 0, err
	}
	col, ok := b.Column(columnID)
	if !ok {
		return 0, fmt.Errorf("%w: %q", domain.ErrColumnNotFound, columnID)
	}

	unlock := e.locks.lockColumns(b.ID, columnID)
	defer unlock()

	var count int
	err = e.retry(ctx, "archive_column", func() error {
		tasks, err := e.activeInColumn(ctx, b, columnID)
		if err != nil {
			return err
		}
		count = len(tasks)
		if count == 0 {
			return nil
		}
		now := e.now()
		for i := range tasks {
			ts := now
			tasks[i].Archived = true
			tasks[i].ArchivedAt = &ts
			tasks[i].UpdatedAt = now
		}
		return e.store.CommitTasks(ctx, domain.TaskBatch{Updates: tasks})
	})
	if err != nil {
		return 0, err
	}
	if count == 0 {
		return 0, nil
	}

	e.audit(ctx, domain.Activity{
		Kind:        domain.ActivityBoardUpdated,
		ProjectID:   b.ProjectID,
		BoardID:     b.ID,
		Description: fmt.Sprintf("Archived %d tasks from column '%s'", count, col.Name),
		Metadata:    map[string]any{"column_id": columnID, "archived_count": count},
	})
	e.notify(ctx, b, "column.archived")
	return count, nil
}

// Reconcile relocates tasks that reference missing columns and renumbers
// every column of the board. It returns the number of tasks written.
func (e *Engine) Reconcile(ctx context.Context, boardID string) (int, error) {
	unlock := e.locks.lockBoard(boardID)
	defer unlock()

	var b domain.Board
	var written int
	err := e.retry(ctx, "reconcile", func() error {
		cur, err := e.store.GetBoard(ctx, boardID)
		if err != nil {
			return err
		}
		b = cur
		p, err := e.relocationPlan(ctx, b)
		if err != nil {
			return err
		}
		active, err := e.store.ListTasks(ctx, domain.TaskQuery{ProjectID: b.ProjectID, BoardID: b.ID})
		if err != nil {
			return err
		}
		byColumn := make(map[string][]domain.Task)
		for _, t := range active {
			if moved, ok := p.get(t.ID); ok {
				t = moved
			}
			byColumn[t.ColumnID] = append(byColumn[t.ColumnID], t)
		}
		now := e.now()
		for _, c := range b.OrderedColumns() {
			tasks := byColumn[c.ID]
			domain.SortByPosition(tasks)
			for _, t := range domain.Renumber(tasks) {
				t.UpdatedAt = now
				p.add(t)
			}
		}
		written = p.len()
		if written == 0 {
			return nil
		}
		return e.store.CommitTasks(ctx, domain.TaskBatch{Updates: p.list()})
	})
	if err != nil {
		return 0, err
	}
	if written > 0 {
		e.log.WithFields(log.Fields{"board": b.ID, "tasks": written}).Info("board reconciled")
		e.notify(ctx, b, "board.reconciled")
	}
	return written, nil
}
