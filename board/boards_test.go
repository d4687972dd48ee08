package board

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"taskforge-board/domain"
)

func TestCreateDefaultBoardIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	b, err := f.engine.CreateDefaultBoard(ctx, "p1", "Apollo")
	require.NoError(t, err)
	require.True(t, b.IsDefault)
	require.Equal(t, "Apollo Board", b.Name)
	require.Len(t, b.Columns, 6)

	again, err := f.engine.CreateDefaultBoard(ctx, "p1", "Apollo")
	require.NoError(t, err)
	require.Equal(t, b.ID, again.ID)

	boards, err := f.store.ListBoards(ctx, "p1")
	require.NoError(t, err)
	require.Len(t, boards, 1)
}

func TestCreateBoardValidatesColumns(t *testing.T) {
	f := newFixture(t)
	_, err := f.engine.CreateBoard(context.Background(), "p1", "Dup", []domain.Column{
		{ID: "a", Name: "A", Position: 0},
		{ID: "a", Name: "B", Position: 1},
	})
	require.ErrorIs(t, err, domain.ErrInvalidColumnSet)

	_, err = f.engine.CreateBoard(context.Background(), "p1", "  ", nil)
	require.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestReorderColumnsScenario(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	b := f.smallBoard(t)
	a := f.task(t, b, "todo", "A")

	updated, err := f.engine.ReorderColumns(ctx, b.ID, []string{"done", "backlog", "todo"})
	require.NoError(t, err)

	pos := map[string]int{}
	for _, c := range updated.Columns {
		pos[c.ID] = c.Position
	}
	require.Equal(t, map[string]int{"done": 0, "backlog": 1, "todo": 2}, pos)

	got, err := f.store.GetTask(ctx, a.ID)
	require.NoError(t, err)
	require.Equal(t, "todo", got.ColumnID)
	require.Equal(t, a.ETag, got.ETag, "reordering columns must not touch tasks")
}

func TestReorderColumnsRejectsMismatch(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	b := f.smallBoard(t)

	for _, ids := range [][]string{
		{"done", "todo"},
		{"done", "todo", "review"},
		{"done", "todo", "backlog", "review"},
		nil,
	} {
		_, err := f.engine.ReorderColumns(ctx, b.ID, ids)
		require.ErrorIs(t, err, domain.ErrColumnSetMismatch, "ids %v", ids)
	}

	// Duplicates collapse to a set.
	_, err := f.engine.ReorderColumns(ctx, b.ID, []string{"todo", "todo", "done", "backlog"})
	require.NoError(t, err)

	_, err = f.engine.ReorderColumns(ctx, "missing", []string{"todo"})
	require.ErrorIs(t, err, domain.ErrBoardNotFound)
}

func TestUpdateBoardRelocatesOrphanedTasks(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	b := f.smallBoard(t)
	f.task(t, b, "todo", "T1")
	f.task(t, b, "todo", "T2")
	orphan := f.task(t, b, "backlog", "B1")

	updated, err := f.engine.UpdateBoard(ctx, b.ID, BoardUpdate{Columns: []domain.Column{
		{ID: "done", Name: "Done", Position: 5},
		{ID: "todo", Name: "To Do", Position: 1},
	}})
	require.NoError(t, err)
	require.Len(t, updated.Columns, 2)

	got, err := f.store.GetTask(ctx, orphan.ID)
	require.NoError(t, err)
	require.Equal(t, "todo", got.ColumnID)
	require.Equal(t, domain.StatusTodo, got.Status)
	require.Equal(t, float64(2), got.Position, "orphan goes to the tail")
	require.Equal(t, []string{"T1", "T2", "B1"}, titles(f.column(t, b, "todo")))
	f.requireBoardInvariants(t, b.ID)
}

func TestUpdateBoardRelocatesArchivedOrphans(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	b := f.smallBoard(t)
	f.task(t, b, "backlog", "old")
	_, err := f.engine.ArchiveColumnTasks(ctx, b.ID, "backlog")
	require.NoError(t, err)
	f.task(t, b, "todo", "T1")

	_, err = f.engine.UpdateBoard(ctx, b.ID, BoardUpdate{Columns: []domain.Column{
		{ID: "todo", Name: "To Do", Position: 0},
		{ID: "done", Name: "Done", Position: 1},
	}})
	require.NoError(t, err)

	all, err := f.store.ListTasks(ctx, domain.TaskQuery{ProjectID: "p1", BoardID: b.ID, IncludeArchived: true})
	require.NoError(t, err)
	for _, task := range all {
		require.NotEqual(t, "backlog", task.ColumnID)
	}
	require.Equal(t, []string{"T1"}, titles(f.column(t, b, "todo")))
	f.requireBoardInvariants(t, b.ID)
}

func TestUpdateBoardValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	b := f.smallBoard(t)

	_, err := f.engine.UpdateBoard(ctx, b.ID, BoardUpdate{Columns: []domain.Column{}})
	require.ErrorIs(t, err, domain.ErrInvalidColumnSet)

	_, err = f.engine.UpdateBoard(ctx, b.ID, BoardUpdate{Columns: []domain.Column{
		{ID: "a", Name: "A", Position: 0}, {ID: "b", Name: "B", Position: 0},
	}})
	require.ErrorIs(t, err, domain.ErrInvalidColumnSet)

	name := "Renamed"
	_, err = f.engine.UpdateBoard(ctx, "missing", BoardUpdate{Name: &name})
	require.ErrorIs(t, err, domain.ErrBoardNotFound)

	renamed, err := f.engine.UpdateBoard(ctx, b.ID, BoardUpdate{Name: &name})
	require.NoError(t, err)
	require.Equal(t, "Renamed", renamed.Name)
	require.Len(t, renamed.Columns, 3)
}

func TestDeleteBoardProtectsDefault(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	def, err := f.engine.CreateDefaultBoard(ctx, "p1", "Apollo")
	require.NoError(t, err)

	err = f.engine.DeleteBoard(ctx, def.ID)
	require.ErrorIs(t, err, domain.ErrCannotDeleteDefaultBoard)
	require.Equal(t, domain.KindConflict, domain.KindOf(err))

	f.task(t, def, "todo", "A")
	require.ErrorIs(t, f.engine.DeleteBoard(ctx, def.ID), domain.ErrCannotDeleteDefaultBoard)
}

func TestDeleteBoardRequiresNoActiveTasks(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	b := f.smallBoard(t)
	a := f.task(t, b, "todo", "A")

	err := f.engine.DeleteBoard(ctx, b.ID)
	require.ErrorIs(t, err, domain.ErrBoardNotEmpty)

	_, err = f.engine.ArchiveColumnTasks(ctx, b.ID, "todo")
	require.NoError(t, err)
	require.NoError(t, f.engine.DeleteBoard(ctx, b.ID))

	_, err = f.store.GetBoard(ctx, b.ID)
	require.ErrorIs(t, err, domain.ErrBoardNotFound)
	kept, err := f.store.GetTask(ctx, a.ID)
	require.NoError(t, err, "archived tasks are not cascade-deleted")
	require.True(t, kept.Archived)
}

func TestArchiveColumnTasks(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	b := f.smallBoard(t)
	f.task(t, b, "todo", "A")
	f.task(t, b, "todo", "B")
	f.task(t, b, "done", "C")

	n, err := f.engine.ArchiveColumnTasks(ctx, b.ID, "todo")
	require.NoError(t, err)
	require.Equal(t, 2, n)
	require.Empty(t, f.column(t, b, "todo"))
	require.Len(t, f.column(t, b, "done"), 1)

	n, err = f.engine.ArchiveColumnTasks(ctx, b.ID, "todo")
	require.NoError(t, err)
	require.Zero(t, n)

	_, err = f.engine.ArchiveColumnTasks(ctx, b.ID, "nope")
	require.ErrorIs(t, err, domain.ErrColumnNotFound)

	fresh := f.task(t, b, "todo", "D")
	require.Equal(t, float64(0), fresh.Position, "a cleared column starts over at zero")

	archived, err := f.store.ListTasks(ctx, domain.TaskQuery{ProjectID: "p1", BoardID: b.ID, ColumnID: "todo", IncludeArchived: true})
	require.NoError(t, err)
	for _, task := range archived {
		if task.Archived {
			require.NotNil(t, task.ArchivedAt)
		}
	}
}

func TestListBoardsDefaultFirstWithCounts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	other := f.smallBoard(t)
	def, err := f.engine.CreateDefaultBoard(ctx, "p1", "Apollo")
	require.NoError(t, err)
	f.task(t, other, "todo", "A")
	f.task(t, other, "todo", "B")

	boards, err := f.engine.ListBoards(ctx, "p1")
	require.NoError(t, err)
	require.Len(t, boards, 2)
	require.Equal(t, def.ID, boards[0].ID)
	require.Equal(t, 0, boards[0].TaskCount)
	require.Equal(t, 2, boards[1].TaskCount)
}

func TestBoardTasksGroupsByColumn(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	b := f.smallBoard(t)
	f.task(t, b, "todo", "A")
	f.task(t, b, "todo", "B")
	f.task(t, b, "done", "C")

	bt, err := f.engine.BoardTasks(ctx, b.ID)
	require.NoError(t, err)
	require.Equal(t, []string{"A", "B"}, titles(bt.Columns["todo"]))
	require.Equal(t, []string{"C"}, titles(bt.Columns["done"]))
	require.NotNil(t, bt.Columns["backlog"])
	require.Empty(t, bt.Columns["backlog"])
}

func TestReconcileRepairsInterruptedColumnChange(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	b := f.smallBoard(t)
	f.task(t, b, "todo", "T1")
	orphan := f.task(t, b, "backlog", "B1")

	// Simulate a crash after the board write but before task relocation.
	cur, err := f.store.GetBoard(ctx, b.ID)
	require.NoError(t, err)
	cur.Columns = []domain.Column{{ID: "todo", Name: "To Do", Position: 0}, {ID: "done", Name: "Done", Position: 1}}
	_, err = f.store.UpdateBoard(ctx, cur)
	require.NoError(t, err)

	// And a gap left in done.
	gap, err := f.store.InsertTask(ctx, domain.Task{ID: "gap", ProjectID: "p1", BoardID: b.ID, ColumnID: "done", Status: domain.StatusDone, Title: "G", Position: 4})
	require.NoError(t, err)

	n, err := f.engine.Reconcile(ctx, b.ID)
	require.NoError(t, err)
	require.Equal(t, 2, n)

	got, err := f.store.GetTask(ctx, orphan.ID)
	require.NoError(t, err)
	require.Equal(t, "todo", got.ColumnID)
	require.Equal(t, float64(1), got.Position)
	g, err := f.store.GetTask(ctx, gap.ID)
	require.NoError(t, err)
	require.Equal(t, float64(0), g.Position)
	f.requireBoardInvariants(t, b.ID)

	n, err = f.engine.Reconcile(ctx, b.ID)
	require.NoError(t, err)
	require.Zero(t, n, "reconciling a healthy board writes nothing")
}
