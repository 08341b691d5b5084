package notify

import (
	"errors"
	"strings"
	"time"
)

// Separator is the reserved field separator of the encoded form.
const Separator = '|'

const escape = '\\'

// Well-known categories.
const (
	CategoryLog     = "log"
	CategoryStatus  = "status"
	CategoryState   = "state"
	CategoryCommand = "command"
	CategoryFault   = "fault"
)

// ErrMalformed is returned by Decode for strings that do not hold exactly
// three fields or end in a dangling escape.
var ErrMalformed = errors.New("malformed notification")

// Message is a single notification.
type Message struct {
	Err      string
	Category string
	Payload  string
}

// Info builds a message with an empty error field.
func Info(category, payload string) Message {
	return Message{Category: category, Payload: payload}
}

// Failure builds a message carrying err's text.
func Failure(err error, category, payload string) Message {
	m := Message{Category: category, Payload: payload}
	if err != nil {
		m.Err = err.Error()
	}
	return m
}

// OK reports whether the error field is empty.
func (m Message) OK() bool {
	return m.Err == ""
}

// Encode renders the message in its boundary string form.
func (m Message) Encode() string {
	var b strings.Builder
	b.Grow(len(m.Err) + len(m.Category) + len(m.Payload) + 2)
	writeField(&b, m.Err)
	b.WriteByte(Separator)
	writeField(&b, m.Category)
	b.WriteByte(Separator)
	writeField(&b, m.Payload)
	return b.String()
}

// String implements fmt.Stringer.
func (m Message) String() string {
	return m.Encode()
}

func writeField(b *strings.Builder, s string) {
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c == Separator || c == escape {
			b.WriteByte(escape)
		}
		b.WriteByte(c)
	}
}

// Decode parses the boundary string form.
func Decode(s string) (Message, error) {
	fields := make([]string, 0, 3)
	var cur strings.Builder
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c == escape:
			if i+1 >= len(s) {
				return Message{}, ErrMalformed
			}
			i++
			cur.WriteByte(s[i])
		case c == Separator:
			fields = append(fields, cur.String())
			cur.Reset()
		default:
			cur.WriteByte(c)
		}
	}
	fields = append(fields, cur.String())

	if len(fields) != 3 {
		return Message{}, ErrMalformed
	}
	return Message{Err: fields[0], Category: fields[1], Payload: fields[2]}, nil
}

// Record is a message together with its delivery metadata.
type Record struct {
	// Seq is the per-channel sequence number, starting at 1.
	Seq int64
	// Source is the identifier of the producing instance. Empty until the
	// instance has loaded a configuration.
	Source string
	Time   time.Time
	Message
}
