package store

import (
	"context"
	"log/slog"
	"time"

	"github.com/roach88/botscript/internal/notify"
)

// writeTimeout bounds a single notification insert.
const writeTimeout = 5 * time.Second

// Sink persists every delivered record. Write failures are logged.
type Sink struct {
	store  *Store
	logger *slog.Logger
}

// NewSink returns a notify.Sink writing to s.
func NewSink(s *Store, logger *slog.Logger) *Sink {
	if logger == nil {
		logger = slog.Default()
	}
	return &Sink{store: s, logger: logger}
}

// Deliver implements notify.Sink.
func (k *Sink) Deliver(r notify.Record) {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	if _, err := k.store.WriteNotification(ctx, r); err != nil {
		k.logger.Error("persisting notification failed",
			"identifier", r.Source,
			"seq", r.Seq,
			"error", err,
		)
	}
}
