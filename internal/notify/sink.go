package notify

import (
	"fmt"
	"log/slog"
)

// Handler is the string-level callback of the construction boundary. It
// receives encoded messages.
type Handler interface {
	Call(msg string)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(msg string)

// Call implements Handler.
func (f HandlerFunc) Call(msg string) {
	f(msg)
}

// Sink consumes delivered records.
type Sink interface {
	Deliver(r Record)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(r Record)

// Deliver implements Sink.
func (f SinkFunc) Deliver(r Record) {
	f(r)
}

// Encoded adapts a string Handler to a Sink. A nil handler discards.
func Encoded(h Handler) Sink {
	return SinkFunc(func(r Record) {
		if h != nil {
			h.Call(r.Encode())
		}
	})
}

// Discard drops every record.
var Discard Sink = SinkFunc(func(Record) {})

// Multi fans each record out to every sink in order. A panicking sink does
// not keep the record from the remaining sinks.
func Multi(sinks ...Sink) Sink {
	filtered := make([]Sink, 0, len(sinks))
	for _, s := range sinks {
		if s != nil {
			filtered = append(filtered, s)
		}
	}
	if len(filtered) == 1 {
		return filtered[0]
	}
	return multiSink(filtered)
}

type multiSink []Sink

func (m multiSink) Deliver(r Record) {
	for _, s := range m {
		if err := deliverGuarded(s, r); err != nil {
			slog.Error("notification sink failed", "source", r.Source, "seq", r.Seq, "error", err)
		}
	}
}

// deliverGuarded invokes the sink and converts a panic into an error.
func deliverGuarded(s Sink, r Record) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("sink panic: %v", p)
		}
	}()
	s.Deliver(r)
	return nil
}
