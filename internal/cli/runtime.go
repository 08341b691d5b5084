package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/roach88/botscript/internal/bridge"
	"github.com/roach88/botscript/internal/engine"
	"github.com/roach88/botscript/internal/eventloop"
	"github.com/roach88/botscript/internal/notify"
	"github.com/roach88/botscript/internal/pkgloader"
	"github.com/roach88/botscript/internal/settings"
	"github.com/roach88/botscript/internal/store"
)

// runtime is the assembled daemon: event loop, bridge and the optional
// store and Redis tees.
type runtime struct {
	loop   *eventloop.Loop
	bridge *bridge.Bridge
	store  *store.Store
	redis  *redis.Client
	logger *slog.Logger

	errc chan error
}

// startRuntime wires the components named by s and starts the loop.
// Close must be called to stop it.
func startRuntime(ctx context.Context, s *settings.Settings, logger *slog.Logger) (*runtime, error) {
	rt := &runtime{logger: logger, errc: make(chan error, 1)}

	var tees []notify.Sink
	bridgeOpts := []bridge.Option{
		bridge.WithResolver(pkgloader.NewDirResolver(s.PackagesDir)),
		bridge.WithShutdownTimeout(s.ShutdownTimeout),
		bridge.WithLogger(logger),
		bridge.WithEngineOptions(engine.WithLoginTries(s.LoginTries)),
	}

	if s.Database != "" {
		logger.Info("opening database", "path", s.Database)
		st, err := store.Open(s.Database)
		if err != nil {
			return nil, WrapExitError(ExitCommandError, "failed to open database", err)
		}
		rt.store = st
		tees = append(tees, store.NewSink(st, logger))
		bridgeOpts = append(bridgeOpts, bridge.WithConfigSaver(st))
	}

	if s.RedisURL != "" {
		redisOpts, err := redis.ParseURL(s.RedisURL)
		if err != nil {
			rt.closeStores()
			return nil, WrapExitError(ExitCommandError, "failed to parse redis url", err)
		}
		rt.redis = redis.NewClient(redisOpts)
		if err := rt.redis.Ping(ctx).Err(); err != nil {
			rt.closeStores()
			return nil, WrapExitError(ExitCommandError, "failed to ping redis", err)
		}
		logger.Info("redis connected", "channel", s.RedisChannel)
		tees = append(tees, notify.NewRedisSink(rt.redis, s.RedisChannel, logger))
	}

	if len(tees) > 0 {
		bridgeOpts = append(bridgeOpts, bridge.WithTee(tees...))
	}

	rt.loop = eventloop.New(eventloop.WithLogger(logger))
	rt.bridge = bridge.New(rt.loop, bridgeOpts...)

	go func() { rt.errc <- rt.loop.Start(context.WithoutCancel(ctx)) }()
	return rt, nil
}

// Close shuts every bot down, stops the loop and closes the tees.
func (rt *runtime) Close() error {
	var errs []error
	if err := rt.bridge.Close(); err != nil {
		errs = append(errs, fmt.Errorf("shutting down bots: %w", err))
	}

	rt.loop.Stop()
	if err := <-rt.errc; err != nil && !errors.Is(err, context.Canceled) {
		errs = append(errs, fmt.Errorf("event loop: %w", err))
	}

	if err := rt.closeStores(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (rt *runtime) closeStores() error {
	var errs []error
	if rt.redis != nil {
		if err := rt.redis.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing redis: %w", err))
		}
	}
	if rt.store != nil {
		if err := rt.store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing database: %w", err))
		}
	}
	return errors.Join(errs...)
}
