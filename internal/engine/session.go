package engine

import "github.com/google/uuid"

// SessionGenerator produces the session id assigned on each load. The id
// tags the instance's log records so the runs of one bot can be told apart.
type SessionGenerator interface {
	Generate() string
}

// UUIDv7Generator yields time-ordered UUIDv7 session ids. It is the
// default generator.
type UUIDv7Generator struct{}

// Generate returns a new hyphenated UUIDv7.
func (UUIDv7Generator) Generate() string {
	return uuid.Must(uuid.NewV7()).String()
}
