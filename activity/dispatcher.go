package activity

import (
	"context"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"taskforge-board/domain"
)

// Recorder is the downstream activity log.
type Recorder interface {
	Record(ctx context.Context, a domain.Activity) error
}

// Options tunes the worker pool.
type Options struct {
	Workers        int
	Buffer         int
	Timeout        time.Duration
	HandoffTimeout time.Duration
}

// Dispatcher records activities on background workers so audit logging never
// holds up a board mutation. When the buffer is full the record is written
// inline instead.
type Dispatcher struct {
	sink    Recorder
	log     *log.Logger
	jobs    chan domain.Activity
	timeout time.Duration
	handoff time.Duration

	closeOnce sync.Once
	wg        sync.WaitGroup
}

// NewDispatcher starts the workers.
func NewDispatcher(sink Recorder, logger *log.Logger, opts Options) *Dispatcher {
	if logger == nil {
		panic("Logger is not initialized")
	}
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.Buffer < 0 {
		opts.Buffer = 0
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	d := &Dispatcher{
		sink:    sink,
		log:     logger,
		jobs:    make(chan domain.Activity, opts.Buffer),
		timeout: opts.Timeout,
		handoff: opts.HandoffTimeout,
	}
	for i := 0; i < opts.Workers; i++ {
		d.wg.Add(1)
		go d.worker(i)
	}
	logger.Infof("activity dispatcher started, workers: %d, buffer: %d, timeout: %v, handoff: %v", opts.Workers, opts.Buffer, opts.Timeout, opts.HandoffTimeout)
	return d
}

func (d *Dispatcher) worker(id int) {
	defer d.wg.Done()
	for a := range d.jobs {
		ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
		err := d.sink.Record(ctx, a)
		cancel()
		if err != nil {
			d.log.WithError(err).WithFields(log.Fields{"kind": a.Kind, "project": a.ProjectID, "worker": id}).Error("activity record failed")
		}
	}
}

// Record queues a for a worker. If no worker takes it within the handoff
// timeout it is written inline and the sink's error is returned.
func (d *Dispatcher) Record(ctx context.Context, a domain.Activity) error {
	if d.tryEnqueue(a) {
		return nil
	}
	d.log.Warn("activity buffer saturated; recording inline")
	inline, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.timeout)
	defer cancel()
	return d.sink.Record(inline, a)
}

func (d *Dispatcher) tryEnqueue(a domain.Activity) bool {
	if ok, closed := trySendNonBlocking(d.jobs, a); closed {
		return false
	} else if ok {
		return true
	}
	if d.handoff <= 0 {
		return false
	}
	timer := time.NewTimer(d.handoff)
	defer timer.Stop()
	ok, _ := sendWithTimer(d.jobs, a, timer.C)
	return ok
}

// Close stops accepting work and waits for queued records to drain.
func (d *Dispatcher) Close() {
	d.closeOnce.Do(func() { close(d.jobs) })
	d.wg.Wait()
}

func trySendNonBlocking(ch chan domain.Activity, a domain.Activity) (ok bool, closed bool) {
	defer func() {
		if r := recover(); r != nil {
			ok = false
			closed = true
		}
	}()

	select {
	case ch <- a:
		return true, false
	default:
		return false, false
	}
}

func sendWithTimer(ch chan domain.Activity, a domain.Activity, timer <-chan time.Time) (ok bool, closed bool) {
	defer func() {
		if r := recover(); r != nil {
			ok = false
			closed = true
		}
	}()

	select {
	case ch <- a:
		return true, false
	case <-timer:
		return false, false
	}
}
