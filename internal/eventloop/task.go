package eventloop

import "context"

// Work is a unit of asynchronous work. The context is cancelled when the
// loop stops.
type Work func(ctx context.Context) error

// Owner receives failures of the work units it posted.
type Owner interface {
	HandleFault(work string, err error)
}

// task is a queued unit of work.
type task struct {
	seq   int64
	name  string
	owner Owner
	work  Work
}
