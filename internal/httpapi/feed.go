package httpapi

import "sync"

// DefaultFeedCapacity bounds the notifications kept per handle.
const DefaultFeedCapacity = 1000

// Entry is one buffered notification.
type Entry struct {
	Seq     uint64 `json:"seq"`
	Message string `json:"message"`
}

// feed buffers encoded notifications of one instance. It implements
// notify.Handler. The oldest entries are dropped once capacity is reached.
type feed struct {
	mu      sync.Mutex
	cap     int
	next    uint64
	entries []Entry
}

func newFeed(capacity int) *feed {
	if capacity <= 0 {
		capacity = DefaultFeedCapacity
	}
	return &feed{cap: capacity}
}

// Call implements notify.Handler.
func (f *feed) Call(msg string) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.next++
	f.entries = append(f.entries, Entry{Seq: f.next, Message: msg})
	if over := len(f.entries) - f.cap; over > 0 {
		f.entries = append(f.entries[:0:0], f.entries[over:]...)
	}
}

// after returns the entries with Seq > seq and the highest seq seen.
func (f *feed) after(seq uint64) ([]Entry, uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()

	out := []Entry{}
	for _, e := range f.entries {
		if e.Seq > seq {
			out = append(out, e)
		}
	}
	return out, f.next
}
