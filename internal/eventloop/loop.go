package eventloop

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync/atomic"
	"time"

	"github.com/roach88/botscript/internal/fifo"
)

// Loop is the shared single-goroutine event loop.
//
// Thread-safety model:
//   - Post, AfterFunc, Stop, Running: safe from any goroutine
//   - Start: must be called exactly once, from a dedicated goroutine
type Loop struct {
	queue     *fifo.Queue[task]
	logger    *slog.Logger
	keepAlive bool

	seq       atomic.Int64 // stamps posted tasks in post order
	started   atomic.Bool
	running   atomic.Bool
	pending   atomic.Int64 // armed timers
	processed atomic.Uint64
	faults    atomic.Uint64
}

// Option configures a Loop.
type Option func(*Loop)

// WithLogger sets the loop logger.
func WithLogger(l *slog.Logger) Option {
	return func(lp *Loop) {
		if l != nil {
			lp.logger = l
		}
	}
}

// WithKeepAlive controls whether Start keeps waiting when there is no
// queued work and no armed timer. Default: true.
func WithKeepAlive(keep bool) Option {
	return func(lp *Loop) {
		lp.keepAlive = keep
	}
}

// New creates a loop. It does not run until Start is called.
func New(opts ...Option) *Loop {
	l := &Loop{
		queue:     fifo.New[task](64),
		logger:    slog.Default(),
		keepAlive: true,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Start runs the loop on the calling goroutine. It blocks until ctx is
// cancelled, Stop is called and the queue is drained, or (without
// keep-alive) no work remains.
func (l *Loop) Start(ctx context.Context) error {
	if !l.started.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}
	l.running.Store(true)
	defer l.running.Store(false)

	l.logger.Info("event loop starting", "keep_alive", l.keepAlive)

	for {
		if t, ok := l.queue.Pop(); ok {
			l.runTask(ctx, t)
			continue
		}

		if l.queue.Closed() {
			l.logger.Info("event loop stopping: stopped")
			return nil
		}

		if !l.keepAlive && l.pending.Load() == 0 {
			l.logger.Info("event loop stopping: no more work")
			return nil
		}

		select {
		case <-ctx.Done():
			l.logger.Info("event loop stopping: context cancelled")
			l.queue.Close()
			return ctx.Err()

		case <-l.queue.Wait():
			// Loop back to tryPop. A closed queue wakes immediately and is
			// drained before Start returns.
		}
	}
}

// Stop closes the queue. Work already queued still runs; new work is
// rejected. Stop is idempotent.
func (l *Loop) Stop() {
	l.queue.Close()
}

// Running reports whether Start is currently executing.
func (l *Loop) Running() bool {
	return l.running.Load()
}

// Post queues work for the loop goroutine. Returns false if the loop is
// stopped.
func (l *Loop) Post(owner Owner, name string, w Work) bool {
	return l.queue.Push(task{
		seq:   l.seq.Add(1),
		name:  name,
		owner: owner,
		work:  w,
	})
}

// AfterFunc posts work once d has elapsed. The returned timer may be
// stopped before it fires.
func (l *Loop) AfterFunc(d time.Duration, owner Owner, name string, w Work) *Timer {
	t := &Timer{loop: l}
	l.pending.Add(1)
	t.timer = time.AfterFunc(d, func() {
		if !t.done.CompareAndSwap(false, true) {
			return
		}
		if !l.Post(owner, name, w) {
			l.logger.Debug("timer fired after stop", "work", name)
		}
		l.pending.Add(-1)
	})
	return t
}

// Pending returns the number of queued tasks.
func (l *Loop) Pending() int {
	return l.queue.Len()
}

// Processed returns the number of tasks run so far.
func (l *Loop) Processed() uint64 {
	return l.processed.Load()
}

// Faults returns the number of tasks that failed or panicked.
func (l *Loop) Faults() uint64 {
	return l.faults.Load()
}

// runTask executes one task, converting panics and errors into owner
// faults. Called only from the loop goroutine.
func (l *Loop) runTask(ctx context.Context, t task) {
	l.processed.Add(1)

	err := l.invoke(ctx, t)
	if err == nil {
		return
	}

	l.faults.Add(1)
	l.logger.Warn("work failed",
		"work", t.name,
		"seq", t.seq,
		"error", err,
	)
	if t.owner == nil {
		return
	}
	if ferr := l.notifyOwner(t, err); ferr != nil {
		l.logger.Error("fault handler failed", "work", t.name, "error", ferr)
	}
}

func (l *Loop) invoke(ctx context.Context, t task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &Fault{Work: t.name, Value: r, Stack: debug.Stack()}
		}
	}()
	return t.work(ctx)
}

func (l *Loop) notifyOwner(t task, cause error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	t.owner.HandleFault(t.name, cause)
	return nil
}

// Timer is a cancellable delayed post.
type Timer struct {
	loop  *Loop
	timer *time.Timer
	done  atomic.Bool
}

// Stop prevents the timer from posting its work. Returns false if the work
// was already posted or the timer was already stopped.
func (t *Timer) Stop() bool {
	if t == nil || !t.done.CompareAndSwap(false, true) {
		return false
	}
	t.timer.Stop()
	t.loop.pending.Add(-1)
	return true
}
