package board

import (
	"context"

	"taskforge-board/domain"
)

// Statistics aggregates a board's active tasks. It takes no locks and may
// observe a column mid-renumber.
func (e *Engine) Statistics(ctx context.Context, boardID string) (domain.BoardStatistics, error) {
	gen := int64(-1)
	if e.stats != nil {
		s, g, ok := e.stats.LoadStatistics(ctx, boardID)
		if ok {
			return s, nil
		}
		gen = g
	}
	b, err := e.store.GetBoard(ctx, boardID)
	if err != nil {
		return domain.BoardStatistics{}, err
	}
	tasks, err := e.store.ListTasks(ctx, domain.TaskQuery{ProjectID: b.ProjectID, BoardID: b.ID})
	if err != nil {
		return domain.BoardStatistics{}, err
	}
	s := domain.ComputeStatistics(b, tasks, e.now())
	if e.stats != nil {
		e.stats.StoreStatistics(ctx, s, gen)
	}
	return s, nil
}
