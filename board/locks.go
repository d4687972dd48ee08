package board

import (
	"sort"
	"sync"
)

type refLock struct {
	sync.RWMutex
	refs int
}

// lockTable hands out one RWMutex per key and forgets keys nobody holds.
type lockTable struct {
	mu    sync.Mutex
	locks map[string]*refLock
}

func newLockTable() *lockTable {
	return &lockTable{locks: make(map[string]*refLock)}
}

func (t *lockTable) get(key string) *refLock {
	t.mu.Lock()
	defer t.mu.Unlock()
	l, ok := t.locks[key]
	if !ok {
		l = &refLock{}
		t.locks[key] = l
	}
	l.refs++
	return l
}

func (t *lockTable) put(key string, l *refLock) {
	t.mu.Lock()
	defer t.mu.Unlock()
	l.refs--
	if l.refs == 0 {
		delete(t.locks, key)
	}
}

func (t *lockTable) lock(key string) func() {
	l := t.get(key)
	l.Lock()
	return func() {
		l.Unlock()
		t.put(key, l)
	}
}

func (t *lockTable) rlock(key string) func() {
	l := t.get(key)
	l.RLock()
	return func() {
		l.RUnlock()
		t.put(key, l)
	}
}

func (t *lockTable) size() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.locks)
}

func boardKey(boardID string) string { return "board/" + boardID }

func columnKey(boardID, columnID string) string { return "column/" + boardID + "/" + columnID }

func projectKey(projectID string) string { return "project/" + projectID }

// lockBoard excludes every other operation on the board.
func (t *lockTable) lockBoard(boardID string) func() {
	return t.lock(boardKey(boardID))
}

// lockColumns shares the board and takes the named columns exclusively.
// Columns are locked in sorted order so two movers crossing the same pair of
// columns in opposite directions cannot deadlock.
func (t *lockTable) lockColumns(boardID string, columnIDs ...string) func() {
	uniq := make(map[string]struct{}, len(columnIDs))
	keys := make([]string, 0, len(columnIDs))
	for _, id := range columnIDs {
		if _, ok := uniq[id]; ok {
			continue
		}
		uniq[id] = struct{}{}
		keys = append(keys, id)
	}
	sort.Strings(keys)

	unlocks := make([]func(), 0, len(keys)+1)
	unlocks = append(unlocks, t.rlock(boardKey(boardID)))
	for _, id := range keys {
		unlocks = append(unlocks, t.lock(columnKey(boardID, id)))
	}
	return func() {
		for i := len(unlocks) - 1; i >= 0; i-- {
			unlocks[i]()
		}
	}
}

func (t *lockTable) lockProject(projectID string) func() {
	return t.lock(projectKey(projectID))
}
