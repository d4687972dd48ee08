package domain

import (
	"fmt"
	"sort"
)

// SortByPosition orders tasks by position. Equal positions fall back to
// creation time and then id so renumbering is deterministic.
func SortByPosition(tasks []Task) {
	sort.SliceStable(tasks, func(i, j int) bool {
		a, b := tasks[i], tasks[j]
		if a.Position != b.Position {
			return a.Position < b.Position
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID < b.ID
	})
}

// NextPosition is one past the highest position among the active tasks, or 0.
func NextPosition(tasks []Task) float64 {
	next := 0.0
	seen := false
	for _, t := range tasks {
		if t.Archived {
			continue
		}
		if !seen || t.Position+1 > next {
			next = t.Position + 1
			seen = true
		}
	}
	return next
}

// Reinsert moves the element at from to index to. Both indexes must lie in
// [0, len(tasks)). The input slice is not modified.
func Reinsert(tasks []Task, from, to int) ([]Task, error) {
	n := len(tasks)
	if from < 0 || from >= n {
		return nil, fmt.Errorf("%w: from index %d not in [0, %d)", ErrIndexOutOfRange, from, n)
	}
	if to < 0 || to >= n {
		return nil, fmt.Errorf("%w: index %d not in [0, %d)", ErrIndexOutOfRange, to, n)
	}
	return reinsert(tasks, from, to), nil
}

// ReinsertClamped is Reinsert for append-style moves: to is clamped into range.
func ReinsertClamped(tasks []Task, from, to int) ([]Task, error) {
	n := len(tasks)
	if from < 0 || from >= n {
		return nil, fmt.Errorf("%w: from index %d not in [0, %d)", ErrIndexOutOfRange, from, n)
	}
	if to < 0 {
		to = 0
	}
	if to > n-1 {
		to = n - 1
	}
	return reinsert(tasks, from, to), nil
}

func reinsert(tasks []Task, from, to int) []Task {
	moved := tasks[from]
	out := make([]Task, 0, len(tasks))
	out = append(out, tasks[:from]...)
	out = append(out, tasks[from+1:]...)
	out = append(out[:to], append([]Task{moved}, out[to:]...)...)
	return out
}

// Renumber assigns positions 0..N-1 in slice order and returns only the tasks
// whose position changed. An already dense sequence yields nothing.
func Renumber(ordered []Task) []Task {
	var changed []Task
	for i, t := range ordered {
		if t.Position == float64(i) {
			continue
		}
		t.Position = float64(i)
		changed = append(changed, t)
	}
	return changed
}

// IsDense reports whether the active tasks occupy positions 0..N-1 exactly.
func IsDense(tasks []Task) bool {
	seen := make(map[float64]bool, len(tasks))
	n := 0
	for _, t := range tasks {
		if t.Archived {
			continue
		}
		if seen[t.Position] {
			return false
		}
		seen[t.Position] = true
		n++
	}
	for i := 0; i < n; i++ {
		if !seen[float64(i)] {
			return false
		}
	}
	return true
}
