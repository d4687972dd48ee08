package board

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"taskforge-board/domain"
)

const defaultMaxAttempts = 3

// Engine keeps column ordering dense and task status consistent with column
// membership. It serialises writers per column in-process and relies on
// storage ETags to detect writers in other processes.
type Engine struct {
	store       Store
	activity    ActivitySink
	observers   []Observer
	stats       StatsCache
	log         *log.Logger
	locks       *lockTable
	now         func() time.Time
	newID       func() string
	maxAttempts int
}

// Option configures an Engine.
type Option func(*Engine)

func WithObserver(o Observer) Option {
	return func(e *Engine) { e.observers = append(e.observers, o) }
}

func WithStatsCache(c StatsCache) Option {
	return func(e *Engine) { e.stats = c }
}

func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

func WithIDGenerator(f func() string) Option {
	return func(e *Engine) { e.newID = f }
}

// WithMaxAttempts bounds optimistic retries. Values below 1 are ignored.
func WithMaxAttempts(n int) Option {
	return func(e *Engine) {
		if n >= 1 {
			e.maxAttempts = n
		}
	}
}

// New creates an Engine. sink may be nil when audit records are not needed.
func New(store Store, sink ActivitySink, logger *log.Logger, opts ...Option) *Engine {
	if store == nil {
		panic("board.New: store is nil")
	}
	if logger == nil {
		panic("Logger is not initialized")
	}
	e := &Engine{
		store:       store,
		activity:    sink,
		log:         logger,
		locks:       newLockTable(),
		now:         func() time.Time { return time.Now().UTC() },
		newID:       uuid.NewString,
		maxAttempts: defaultMaxAttempts,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

type actorKey struct{}

// WithActor attaches the acting user to ctx for audit records.
func WithActor(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, actorKey{}, userID)
}

// ActorFromContext returns the user set by WithActor.
func ActorFromContext(ctx context.Context) string {
	id, _ := ctx.Value(actorKey{}).(string)
	return id
}

// retry runs a read-modify-write cycle until it commits, fails for a reason
// other than a version conflict, or runs out of attempts.
func (e *Engine) retry(ctx context.Context, op string, fn func() error) error {
	for attempt := 1; ; attempt++ {
		err := fn()
		if err == nil || !errors.Is(err, domain.ErrConcurrencyConflict) {
			return err
		}
		if attempt >= e.maxAttempts {
			e.log.WithFields(log.Fields{"op": op, "attempts": attempt}).Warn("optimistic retries exhausted")
			return fmt.Errorf("%w: %s", domain.ErrConcurrentModification, op)
		}
		if cerr := ctx.Err(); cerr != nil {
			return cerr
		}
		e.log.WithFields(log.Fields{"op": op, "attempt": attempt}).Debug("version conflict, retrying")
	}
}

func (e *Engine) audit(ctx context.Context, a domain.Activity) {
	if e.activity == nil {
		return
	}
	a.ID = e.newID()
	a.ActorID = ActorFromContext(ctx)
	a.CreatedAt = e.now()
	if err := e.activity.Record(ctx, a); err != nil {
		e.log.WithError(err).WithFields(log.Fields{"kind": a.Kind, "project": a.ProjectID}).Error("activity record failed")
	}
}

func (e *Engine) notify(ctx context.Context, b domain.Board, action string) {
	change := domain.BoardChange{BoardID: b.ID, ProjectID: b.ProjectID, Action: action}
	for _, o := range e.observers {
		o.BoardChanged(ctx, change)
	}
}

// activeInColumn returns the non-archived tasks of a column in position order.
func (e *Engine) activeInColumn(ctx context.Context, b domain.Board, columnID string) ([]domain.Task, error) {
	tasks, err := e.store.ListTasks(ctx, domain.TaskQuery{ProjectID: b.ProjectID, BoardID: b.ID, ColumnID: columnID})
	if err != nil {
		return nil, err
	}
	domain.SortByPosition(tasks)
	return tasks, nil
}

// freshColumn re-reads the board under a held column lock and checks that
// the column still exists.
func (e *Engine) freshColumn(ctx context.Context, boardID, columnID string) (domain.Board, domain.Column, error) {
	b, err := e.store.GetBoard(ctx, boardID)
	if err != nil {
		return domain.Board{}, domain.Column{}, err
	}
	c, ok := b.Column(columnID)
	if !ok {
		return domain.Board{}, domain.Column{}, fmt.Errorf("%w: %q", domain.ErrColumnNotFound, columnID)
	}
	return b, c, nil
}

func without(tasks []domain.Task, id string) []domain.Task {
	out := make([]domain.Task, 0, len(tasks))
	for _, t := range tasks {
		if t.ID != id {
			out = append(out, t)
		}
	}
	return out
}

// pending collects the final version of each task written in one batch.
type pending struct {
	order []string
	tasks map[string]domain.Task
}

func newPending() *pending {
	return &pending{tasks: make(map[string]domain.Task)}
}

func (p *pending) add(ts ...domain.Task) {
	for _, t := range ts {
		if _, ok := p.tasks[t.ID]; !ok {
			p.order = append(p.order, t.ID)
		}
		p.tasks[t.ID] = t
	}
}

func (p *pending) get(id string) (domain.Task, bool) {
	t, ok := p.tasks[id]
	return t, ok
}

func (p *pending) list() []domain.Task {
	out := make([]domain.Task, 0, len(p.order))
	for _, id := range p.order {
		out = append(out, p.tasks[id])
	}
	return out
}

func (p *pending) len() int { return len(p.order) }
