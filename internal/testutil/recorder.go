package testutil

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/roach88/botscript/internal/notify"
)

// DefaultWait bounds the waits of Recorder helpers.
const DefaultWait = 2 * time.Second

// Recorder is a notify.Sink that keeps every record it receives.
type Recorder struct {
	mu      sync.Mutex
	records []notify.Record
	changed chan struct{}
}

// NewRecorder returns an empty recorder.
func NewRecorder() *Recorder {
	return &Recorder{changed: make(chan struct{}, 1)}
}

// Deliver implements notify.Sink.
func (r *Recorder) Deliver(rec notify.Record) {
	r.mu.Lock()
	r.records = append(r.records, rec)
	r.mu.Unlock()

	select {
	case r.changed <- struct{}{}:
	default:
	}
}

// Records returns a copy of the received records.
func (r *Recorder) Records() []notify.Record {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]notify.Record(nil), r.records...)
}

// Encoded returns the received messages in their string form.
func (r *Recorder) Encoded() []string {
	records := r.Records()
	out := make([]string, len(records))
	for i, rec := range records {
		out[i] = rec.Encode()
	}
	return out
}

// Category returns the encoded messages of one category.
func (r *Recorder) Category(category string) []string {
	var out []string
	for _, rec := range r.Records() {
		if rec.Category == category {
			out = append(out, rec.Encode())
		}
	}
	return out
}

// WaitFor blocks until match accepts a received record, failing the test
// after DefaultWait.
func (r *Recorder) WaitFor(t testing.TB, match func(notify.Record) bool) notify.Record {
	t.Helper()

	deadline := time.After(DefaultWait)
	seen := 0
	for {
		records := r.Records()
		for _, rec := range records[seen:] {
			if match(rec) {
				return rec
			}
		}
		seen = len(records)

		select {
		case <-r.changed:
		case <-deadline:
			require.FailNow(t, "timed out waiting for notification", "received: %v", r.Encoded())
			return notify.Record{}
		}
	}
}

// WaitForEncoded waits for a record whose encoded form equals encoded.
func (r *Recorder) WaitForEncoded(t testing.TB, encoded string) {
	t.Helper()
	r.WaitFor(t, func(rec notify.Record) bool { return rec.Encode() == encoded })
}
