package notify

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/roach88/botscript/internal/fifo"
)

// Channel is the ordered, asynchronous delivery path of one engine
// instance.
//
// Thread-safety model:
//   - Publish, SetSource, Close: safe from any goroutine
//   - the sink: invoked from the channel's own delivery goroutine only
type Channel struct {
	q      *fifo.Queue[Record]
	sink   Sink
	logger *slog.Logger
	now    func() time.Time

	mu     sync.Mutex // orders seq assignment with queue insertion
	seq    int64
	source string

	done      chan struct{}
	delivered atomic.Uint64
	failed    atomic.Uint64
}

// Option configures a Channel.
type Option func(*Channel)

// WithLogger sets the logger used to report sink failures.
func WithLogger(l *slog.Logger) Option {
	return func(c *Channel) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithClock sets the time source used to stamp records.
func WithClock(now func() time.Time) Option {
	return func(c *Channel) {
		if now != nil {
			c.now = now
		}
	}
}

// NewChannel creates a channel delivering to sink and starts its delivery
// goroutine. A nil sink discards.
func NewChannel(sink Sink, opts ...Option) *Channel {
	if sink == nil {
		sink = Discard
	}
	c := &Channel{
		q:      fifo.New[Record](16),
		sink:   sink,
		logger: slog.Default(),
		now:    time.Now,
		done:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}

	go c.run()
	return c
}

// SetSource sets the identifier stamped on subsequent records.
func (c *Channel) SetSource(source string) {
	c.mu.Lock()
	c.source = source
	c.mu.Unlock()
}

// Publish enqueues a message and returns without waiting for the sink.
// Returns false once the channel is closed.
func (c *Channel) Publish(m Message) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	r := Record{
		Seq:     c.seq + 1,
		Source:  c.source,
		Time:    c.now(),
		Message: m,
	}
	if !c.q.Push(r) {
		return false
	}
	c.seq++
	return true
}

// Close stops accepting messages. Messages already published are still
// delivered; Done is closed afterwards. Close is idempotent.
func (c *Channel) Close() {
	c.q.Close()
}

// Done is closed when the channel is closed and fully drained.
func (c *Channel) Done() <-chan struct{} {
	return c.done
}

// Pending returns the number of queued, undelivered messages.
func (c *Channel) Pending() int {
	return c.q.Len()
}

// Delivered returns the number of records handed to the sink without
// a failure.
func (c *Channel) Delivered() uint64 {
	return c.delivered.Load()
}

// Failed returns the number of records whose sink invocation panicked.
func (c *Channel) Failed() uint64 {
	return c.failed.Load()
}

func (c *Channel) run() {
	defer close(c.done)

	for {
		if r, ok := c.q.Pop(); ok {
			c.deliver(r)
			continue
		}

		if _, open := <-c.q.Wait(); !open {
			// Closed: drain what is left, then stop.
			for {
				r, ok := c.q.Pop()
				if !ok {
					return
				}
				c.deliver(r)
			}
		}
	}
}

func (c *Channel) deliver(r Record) {
	if err := deliverGuarded(c.sink, r); err != nil {
		c.failed.Add(1)
		c.logger.Error("notification sink failed",
			"source", r.Source,
			"seq", r.Seq,
			"category", r.Category,
			"error", err,
		)
		return
	}
	c.delivered.Add(1)
}
