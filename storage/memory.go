package storage

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"taskforge-board/domain"
)

var errDuplicateDefault = errors.New("project already has a default board")

// Memory is a process-local store with the same ETag semantics as Storage.
// It backs STORAGE_MODE=memory and the tests.
type Memory struct {
	mu      sync.Mutex
	version uint64
	boards  map[string]domain.Board
	tasks   map[string]domain.Task
	writes  int
}

func NewMemory() *Memory {
	return &Memory{
		boards: make(map[string]domain.Board),
		tasks:  make(map[string]domain.Task),
	}
}

func (m *Memory) nextETag() string {
	m.version++
	return fmt.Sprintf("W/\"%d\"", m.version)
}

func cloneBoard(b domain.Board) domain.Board {
	b.Columns = append([]domain.Column(nil), b.Columns...)
	return b
}

func cloneTask(t domain.Task) domain.Task {
	if t.Labels != nil {
		t.Labels = append([]string(nil), t.Labels...)
	}
	return t
}

// TaskWrites counts task inserts, updates and deletes since creation.
func (m *Memory) TaskWrites() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.writes
}

func (m *Memory) InsertBoard(_ context.Context, b domain.Board) (domain.Board, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.boards[b.ID]; ok {
		return domain.Board{}, fmt.Errorf("board %s already exists", b.ID)
	}
	if b.IsDefault {
		for _, other := range m.boards {
			if other.ProjectID == b.ProjectID && other.IsDefault {
				return domain.Board{}, errDuplicateDefault
			}
		}
	}
	b = cloneBoard(b)
	b.ETag = m.nextETag()
	m.boards[b.ID] = b
	return cloneBoard(b), nil
}

func (m *Memory) GetBoard(_ context.Context, boardID string) (domain.Board, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.boards[boardID]
	if !ok {
		return domain.Board{}, domain.ErrBoardNotFound
	}
	return cloneBoard(b), nil
}

func (m *Memory) DefaultBoard(_ context.Context, projectID string) (domain.Board, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, b := range m.boards {
		if b.ProjectID == projectID && b.IsDefault {
			return cloneBoard(b), nil
		}
	}
	return domain.Board{}, domain.ErrBoardNotFound
}

func (m *Memory) ListBoards(_ context.Context, projectID string) ([]domain.Board, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []domain.Board{}
	for _, b := range m.boards {
		if b.ProjectID == projectID {
			out = append(out, cloneBoard(b))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (m *Memory) UpdateBoard(_ context.Context, b domain.Board) (domain.Board, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.boards[b.ID]
	if !ok {
		return domain.Board{}, domain.ErrBoardNotFound
	}
	if b.ETag != "" && b.ETag != cur.ETag {
		return domain.Board{}, domain.ErrConcurrencyConflict
	}
	b = cloneBoard(b)
	b.ETag = m.nextETag()
	m.boards[b.ID] = b
	return cloneBoard(b), nil
}

func (m *Memory) DeleteBoard(_ context.Context, b domain.Board) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.boards[b.ID]
	if !ok {
		return domain.ErrBoardNotFound
	}
	if b.ETag != "" && b.ETag != cur.ETag {
		return domain.ErrConcurrencyConflict
	}
	delete(m.boards, b.ID)
	return nil
}

func (m *Memory) GetTask(_ context.Context, taskID string) (domain.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[taskID]
	if !ok {
		return domain.Task{}, domain.ErrTaskNotFound
	}
	return cloneTask(t), nil
}

func (m *Memory) ListTasks(_ context.Context, q domain.TaskQuery) ([]domain.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []domain.Task{}
	for _, t := range m.tasks {
		if q.Matches(t) {
			out = append(out, cloneTask(t))
		}
	}
	domain.SortByPosition(out)
	return out, nil
}

func (m *Memory) InsertTask(_ context.Context, t domain.Task) (domain.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.tasks[t.ID]; ok {
		return domain.Task{}, fmt.Errorf("task %s already exists", t.ID)
	}
	t = cloneTask(t)
	t.ETag = m.nextETag()
	m.tasks[t.ID] = t
	m.writes++
	return cloneTask(t), nil
}

// CommitTasks validates every ETag before applying any write.
func (m *Memory) CommitTasks(_ context.Context, batch domain.TaskBatch) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	check := func(t domain.Task) error {
		cur, ok := m.tasks[t.ID]
		if !ok {
			return domain.ErrConcurrencyConflict
		}
		if t.ETag != "" && t.ETag != cur.ETag {
			return domain.ErrConcurrencyConflict
		}
		return nil
	}
	for _, t := range batch.Updates {
		if err := check(t); err != nil {
			return err
		}
	}
	for _, t := range batch.Deletes {
		if err := check(t); err != nil {
			return err
		}
	}
	for _, t := range batch.Updates {
		t = cloneTask(t)
		t.ETag = m.nextETag()
		m.tasks[t.ID] = t
	}
	for _, t := range batch.Deletes {
		delete(m.tasks, t.ID)
	}
	m.writes += batch.Len()
	return nil
}
