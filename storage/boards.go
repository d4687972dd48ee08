package storage

import (
	"context"
	"sort"

	"github.com/Azure/azure-sdk-for-go/sdk/data/aztables"

	"taskforge-board/domain"
)

func (s *Storage) InsertBoard(ctx context.Context, b domain.Board) (domain.Board, error) {
	payload, err := encodeBoard(b)
	if err != nil {
		return domain.Board{}, err
	}
	resp, err := s.boardTable.AddEntity(ctx, payload, nil)
	if err != nil {
		return domain.Board{}, err
	}
	b.ETag = string(resp.ETag)
	return b, nil
}

func (s *Storage) findBoards(ctx context.Context, filter string) ([]domain.Board, error) {
	boards := []domain.Board{}
	err := list(ctx, s.boardTable, filter, func(data []byte) error {
		b, err := decodeBoard(data)
		if err != nil {
			return err
		}
		boards = append(boards, b)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return boards, nil
}

// GetBoard looks a board up by id across project partitions.
func (s *Storage) GetBoard(ctx context.Context, boardID string) (domain.Board, error) {
	boards, err := s.findBoards(ctx, filterEq("RowKey", boardID))
	if err != nil {
		return domain.Board{}, err
	}
	if len(boards) == 0 {
		return domain.Board{}, domain.ErrBoardNotFound
	}
	return boards[0], nil
}

func (s *Storage) DefaultBoard(ctx context.Context, projectID string) (domain.Board, error) {
	boards, err := s.findBoards(ctx, filterEq("PartitionKey", projectID)+" and IsDefault eq true")
	if err != nil {
		return domain.Board{}, err
	}
	if len(boards) == 0 {
		return domain.Board{}, domain.ErrBoardNotFound
	}
	return boards[0], nil
}

func (s *Storage) ListBoards(ctx context.Context, projectID string) ([]domain.Board, error) {
	boards, err := s.findBoards(ctx, filterEq("PartitionKey", projectID))
	if err != nil {
		return nil, err
	}
	sort.SliceStable(boards, func(i, j int) bool { return boards[i].CreatedAt.Before(boards[j].CreatedAt) })
	return boards, nil
}

// UpdateBoard replaces the board if its ETag still matches.
func (s *Storage) UpdateBoard(ctx context.Context, b domain.Board) (domain.Board, error) {
	payload, err := encodeBoard(b)
	if err != nil {
		return domain.Board{}, err
	}
	resp, err := s.boardTable.UpdateEntity(ctx, payload, &aztables.UpdateEntityOptions{
		IfMatch:    etagOf(b.ETag),
		UpdateMode: aztables.UpdateModeReplace,
	})
	if err != nil {
		return domain.Board{}, mapWriteError(err, domain.ErrBoardNotFound)
	}
	b.ETag = string(resp.ETag)
	return b, nil
}

func (s *Storage) DeleteBoard(ctx context.Context, b domain.Board) error {
	_, err := s.boardTable.DeleteEntity(ctx, b.ProjectID, b.ID, &aztables.DeleteEntityOptions{IfMatch: etagOf(b.ETag)})
	return mapWriteError(err, domain.ErrBoardNotFound)
}
