package storage

import (
	"context"
	"fmt"

	"github.com/Azure/azure-sdk-for-go/sdk/data/aztables"

	"taskforge-board/domain"
)

func (s *Storage) InsertTask(ctx context.Context, t domain.Task) (domain.Task, error) {
	payload, err := encodeTask(t)
	if err != nil {
		return domain.Task{}, err
	}
	resp, err := s.taskTable.AddEntity(ctx, payload, nil)
	if err != nil {
		return domain.Task{}, err
	}
	t.ETag = string(resp.ETag)
	return t, nil
}

func (s *Storage) findTasks(ctx context.Context, filter string) ([]domain.Task, error) {
	tasks := []domain.Task{}
	err := list(ctx, s.taskTable, filter, func(data []byte) error {
		t, err := decodeTask(data)
		if err != nil {
			return err
		}
		tasks = append(tasks, t)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return tasks, nil
}

func (s *Storage) GetTask(ctx context.Context, taskID string) (domain.Task, error) {
	tasks, err := s.findTasks(ctx, filterEq("RowKey", taskID))
	if err != nil {
		return domain.Task{}, err
	}
	if len(tasks) == 0 {
		return domain.Task{}, domain.ErrTaskNotFound
	}
	return tasks[0], nil
}

func taskFilter(q domain.TaskQuery) string {
	f := filterEq("BoardId", q.BoardID)
	if q.ProjectID != "" {
		f = filterEq("PartitionKey", q.ProjectID) + " and " + f
	}
	if q.ColumnID != "" {
		f += " and " + filterEq("ColumnId", q.ColumnID)
	}
	if !q.IncludeArchived {
		f += " and Archived eq false"
	}
	return f
}

func (s *Storage) ListTasks(ctx context.Context, q domain.TaskQuery) ([]domain.Task, error) {
	tasks, err := s.findTasks(ctx, taskFilter(q))
	if err != nil {
		return nil, err
	}
	domain.SortByPosition(tasks)
	return tasks, nil
}

// CommitTasks writes the batch as entity group transactions. Every action is
// conditional on the ETag the task was read with. A batch touching more than
// one project, or more than maxTransactionActions tasks, is split into
// several transactions that commit independently.
func (s *Storage) CommitTasks(ctx context.Context, batch domain.TaskBatch) error {
	if batch.Len() == 0 {
		return nil
	}
	if batch.Len() == 1 {
		return s.commitSingle(ctx, batch)
	}

	byPartition := map[string][]aztables.TransactionAction{}
	var partitions []string
	add := func(pk string, a aztables.TransactionAction) {
		if _, ok := byPartition[pk]; !ok {
			partitions = append(partitions, pk)
		}
		byPartition[pk] = append(byPartition[pk], a)
	}
	for _, t := range batch.Updates {
		payload, err := encodeTask(t)
		if err != nil {
			return err
		}
		add(t.ProjectID, aztables.TransactionAction{
			ActionType: aztables.TransactionTypeUpdateReplace,
			Entity:     payload,
			IfMatch:    etagOf(t.ETag),
		})
	}
	for _, t := range batch.Deletes {
		payload, err := encodeTask(domain.Task{ID: t.ID, ProjectID: t.ProjectID})
		if err != nil {
			return err
		}
		add(t.ProjectID, aztables.TransactionAction{
			ActionType: aztables.TransactionTypeDelete,
			Entity:     payload,
			IfMatch:    etagOf(t.ETag),
		})
	}

	for _, pk := range partitions {
		actions := byPartition[pk]
		for start := 0; start < len(actions); start += maxTransactionActions {
			end := min(start+maxTransactionActions, len(actions))
			if _, err := s.taskTable.SubmitTransaction(ctx, actions[start:end], nil); err != nil {
				return mapTransactionError(err)
			}
		}
	}
	return nil
}

func (s *Storage) commitSingle(ctx context.Context, batch domain.TaskBatch) error {
	if len(batch.Deletes) == 1 {
		t := batch.Deletes[0]
		_, err := s.taskTable.DeleteEntity(ctx, t.ProjectID, t.ID, &aztables.DeleteEntityOptions{IfMatch: etagOf(t.ETag)})
		return mapWriteError(err, domain.ErrTaskNotFound)
	}
	t := batch.Updates[0]
	payload, err := encodeTask(t)
	if err != nil {
		return err
	}
	_, err = s.taskTable.UpdateEntity(ctx, payload, &aztables.UpdateEntityOptions{
		IfMatch:    etagOf(t.ETag),
		UpdateMode: aztables.UpdateModeReplace,
	})
	return mapWriteError(err, domain.ErrTaskNotFound)
}

// mapTransactionError reports a failed precondition inside a transaction as a
// version conflict. A missing entity means another writer deleted it, which
// is also retried.
func mapTransactionError(err error) error {
	switch statusCode(err) {
	case 404, 412:
		return fmt.Errorf("%w: %v", domain.ErrConcurrencyConflict, err)
	}
	return err
}
