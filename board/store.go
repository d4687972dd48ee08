package board

import (
	"context"

	"taskforge-board/domain"
)

// Store persists boards and tasks. Implementations return
// domain.ErrBoardNotFound and domain.ErrTaskNotFound for missing records and
// domain.ErrConcurrencyConflict when an ETag no longer matches.
type Store interface {
	InsertBoard(ctx context.Context, b domain.Board) (domain.Board, error)
	GetBoard(ctx context.Context, boardID string) (domain.Board, error)
	DefaultBoard(ctx context.Context, projectID string) (domain.Board, error)
	ListBoards(ctx context.Context, projectID string) ([]domain.Board, error)
	UpdateBoard(ctx context.Context, b domain.Board) (domain.Board, error)
	DeleteBoard(ctx context.Context, b domain.Board) error

	GetTask(ctx context.Context, taskID string) (domain.Task, error)
	ListTasks(ctx context.Context, q domain.TaskQuery) ([]domain.Task, error)
	InsertTask(ctx context.Context, t domain.Task) (domain.Task, error)
	// CommitTasks applies every write in the batch or none of them.
	CommitTasks(ctx context.Context, batch domain.TaskBatch) error
}

// ActivitySink receives audit records.
type ActivitySink interface {
	Record(ctx context.Context, a domain.Activity) error
}

// Observer is notified after a mutation has been committed.
type Observer interface {
	BoardChanged(ctx context.Context, change domain.BoardChange)
}

// StatsCache holds computed board statistics. LoadStatistics returns a
// generation on a miss; StoreStatistics must not make statistics computed at
// an older generation visible once the board has changed.
type StatsCache interface {
	LoadStatistics(ctx context.Context, boardID string) (domain.BoardStatistics, int64, bool)
	StoreStatistics(ctx context.Context, stats domain.BoardStatistics, gen int64)
}
