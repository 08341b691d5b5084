// Package eventloop implements the process-wide event loop that drives
// all asynchronous engine work.
//
// ARCHITECTURE:
//
// Single-Goroutine Loop:
// One Loop per process runs every scheduled unit of work (login
// completions, module runs, timer expiries, shutdown finalization) for
// every engine instance, in FIFO order, on the goroutine that called Start.
// Engine state touched only by work units therefore needs no further
// synchronization with other work units.
//
// Start must be called from a goroutine dedicated to the loop. Callers that
// construct instances or issue commands must never be that goroutine;
// operations that wait for the loop would otherwise deadlock.
//
// Keep-Alive:
// By default the loop keeps running with an empty queue, because instances
// may be constructed long after Start. WithKeepAlive(false) makes Start
// return once the queue is empty and no timers are pending.
//
// Fault Isolation:
// A work unit that returns an error or panics does not stop the loop. The
// failure is wrapped (panics become *Fault) and handed to the unit's Owner,
// which converts it into a notification for the originating instance.
package eventloop
