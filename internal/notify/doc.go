// Package notify delivers engine notifications to the caller that created
// an engine instance.
//
// A notification is a three-field record: an error text (empty for success
// and informational messages), a category ("log", "status", "state",
// "command", "fault") and a free-form payload. At the string boundary the
// record is encoded as
//
//	errorOrEmpty|category|payload
//
// Inside a field a backslash is written as `\\` and the separator as `\|`,
// so payloads may contain the separator without corrupting the record.
// Fields without either character encode exactly as the plain
// pipe-delimited form.
//
// # Delivery
//
// Each engine instance owns one Channel. Producers call Publish, which only
// appends to an unbounded FIFO queue and returns. A single delivery
// goroutine per channel drains the queue and invokes the sink, so messages
// of one instance are observed in production order while different
// instances have no relative ordering. A panicking sink is recovered and
// logged; later messages are still delivered in order.
package notify
