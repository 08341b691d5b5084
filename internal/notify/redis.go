package notify

import (
	"context"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// Publisher is the subset of *redis.Client used by RedisSink.
type Publisher interface {
	Publish(ctx context.Context, channel string, message any) *redis.IntCmd
}

// RedisSink publishes encoded messages on a Redis pub/sub channel per
// source: "<prefix>:<identifier>". Records without a source go to the bare
// prefix.
type RedisSink struct {
	client  Publisher
	prefix  string
	timeout time.Duration
	logger  *slog.Logger
}

// NewRedisSink creates a sink publishing through client.
func NewRedisSink(client Publisher, prefix string, logger *slog.Logger) *RedisSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisSink{
		client:  client,
		prefix:  prefix,
		timeout: 2 * time.Second,
		logger:  logger,
	}
}

// Channel returns the pub/sub channel for a source.
func (s *RedisSink) Channel(source string) string {
	if source == "" {
		return s.prefix
	}
	return s.prefix + ":" + source
}

// Deliver implements Sink. Publish failures are logged and dropped.
func (s *RedisSink) Deliver(r Record) {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	if err := s.client.Publish(ctx, s.Channel(r.Source), r.Encode()).Err(); err != nil {
		s.logger.Warn("redis publish failed",
			"channel", s.Channel(r.Source),
			"seq", r.Seq,
			"error", err,
		)
	}
}
