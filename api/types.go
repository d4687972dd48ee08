package api

import (
	"context"

	"taskforge-board/board"
	"taskforge-board/domain"
)

// Engine is the board engine surface used by the handlers.
type Engine interface {
	CreateDefaultBoard(ctx context.Context, projectID, projectName string) (domain.Board, error)
	CreateBoard(ctx context.Context, projectID, name string, columns []domain.Column) (domain.Board, error)
	GetBoard(ctx context.Context, boardID string) (domain.Board, error)
	DefaultBoard(ctx context.Context, projectID string) (domain.Board, error)
	ListBoards(ctx context.Context, projectID string) ([]domain.BoardSummary, error)
	BoardTasks(ctx context.Context, boardID string) (domain.BoardTasks, error)
	UpdateBoard(ctx context.Context, boardID string, upd board.BoardUpdate) (domain.Board, error)
	ReorderColumns(ctx context.Context, boardID string, columnIDs []string) (domain.Board, error)
	DeleteBoard(ctx context.Context, boardID string) error
	ArchiveColumnTasks(ctx context.Context, boardID, columnID string) (int, error)
	Reconcile(ctx context.Context, boardID string) (int, error)
	Statistics(ctx context.Context, boardID string) (domain.BoardStatistics, error)

	CreateTask(ctx context.Context, in board.NewTask) (domain.Task, error)
	GetTask(ctx context.Context, taskID string) (domain.Task, error)
	Reposition(ctx context.Context, taskID string, newIndex int, columnID string) (domain.Task, error)
	ChangeStatus(ctx context.Context, taskID, newColumnID string) (domain.Task, error)
	BulkMove(ctx context.Context, boardID string, moves []board.Move) (board.BulkResult, error)
	DeleteTask(ctx context.Context, taskID string) error
	Renumber(ctx context.Context, boardID, columnID string) (int, error)
}

// Authenticator is implemented by types able to resolve the caller from headers.
type Authenticator interface {
	PrincipalFromAuthHeader(string) (Principal, error)
}

// Deduper prevents a bulk move from being applied twice.
type Deduper interface {
	// Add records the idempotency key and returns true if it was newly added.
	Add(ctx context.Context, userID, key string) (bool, error)
	// Remove deletes a previously added key, used when the move fails.
	Remove(ctx context.Context, userID, key string) error
}
