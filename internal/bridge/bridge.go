package bridge

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/roach88/botscript/internal/engine"
	"github.com/roach88/botscript/internal/eventloop"
	"github.com/roach88/botscript/internal/identity"
	"github.com/roach88/botscript/internal/notify"
	"github.com/roach88/botscript/internal/pkgloader"
)

// DefaultShutdownTimeout bounds how long Shutdown waits for Terminated.
const DefaultShutdownTimeout = 10 * time.Second

// Handle addresses an instance in a Bridge.
type Handle uint64

// AsyncHandler receives completion results and notifications as strings.
type AsyncHandler = notify.Handler

// ConfigSaver persists the redacted configuration of a bot.
type ConfigSaver interface {
	SaveConfiguration(ctx context.Context, identifier, blob string) error
}

// Bridge owns a table of engine instances sharing one event loop.
//
// Thread-safety: all methods are safe for concurrent use.
type Bridge struct {
	loop     *eventloop.Loop
	registry *engine.MemoryRegistry
	resolver pkgloader.Resolver
	tees     []notify.Sink
	saver    ConfigSaver
	opts     []engine.Option
	timeout  time.Duration
	logger   *slog.Logger

	mu        sync.Mutex
	next      Handle
	instances map[Handle]*engine.Instance
}

// Option configures a Bridge.
type Option func(*Bridge)

// WithTee adds sinks receiving every notification of every instance, in
// addition to the instance's own handler.
func WithTee(sinks ...notify.Sink) Option {
	return func(b *Bridge) {
		b.tees = append(b.tees, sinks...)
	}
}

// WithResolver sets the package resolver of new instances.
func WithResolver(r pkgloader.Resolver) Option {
	return func(b *Bridge) {
		b.resolver = r
	}
}

// WithConfigSaver persists configurations after load and on shutdown.
func WithConfigSaver(s ConfigSaver) Option {
	return func(b *Bridge) {
		b.saver = s
	}
}

// WithEngineOptions adds options applied to every new instance.
func WithEngineOptions(opts ...engine.Option) Option {
	return func(b *Bridge) {
		b.opts = append(b.opts, opts...)
	}
}

// WithShutdownTimeout bounds Shutdown. Default: 10s.
func WithShutdownTimeout(d time.Duration) Option {
	return func(b *Bridge) {
		if d > 0 {
			b.timeout = d
		}
	}
}

// WithLogger sets the bridge logger, also passed to instances.
func WithLogger(l *slog.Logger) Option {
	return func(b *Bridge) {
		if l != nil {
			b.logger = l
		}
	}
}

// New creates a bridge driving its instances on loop. The loop must be
// started by the caller, on its own goroutine.
func New(loop *eventloop.Loop, opts ...Option) *Bridge {
	b := &Bridge{
		loop:      loop,
		registry:  engine.NewMemoryRegistry(),
		timeout:   DefaultShutdownTimeout,
		logger:    slog.Default(),
		instances: make(map[Handle]*engine.Instance),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Construct allocates a new instance whose notifications go to handler.
// It performs no I/O and always succeeds.
func (b *Bridge) Construct(handler AsyncHandler) Handle {
	sinks := make([]notify.Sink, 0, len(b.tees)+1)
	if handler != nil {
		sinks = append(sinks, notify.Encoded(handler))
	}
	sinks = append(sinks, b.tees...)

	opts := []engine.Option{
		engine.WithRegistry(b.registry),
		engine.WithLogger(b.logger),
	}
	if b.resolver != nil {
		opts = append(opts, engine.WithResolver(b.resolver))
	}
	opts = append(opts, b.opts...)

	inst := engine.New(b.loop, notify.Multi(sinks...), opts...)

	b.mu.Lock()
	defer b.mu.Unlock()
	b.next++
	b.instances[b.next] = inst
	return b.next
}

// Instance returns the instance behind h.
func (b *Bridge) Instance(h Handle) (*engine.Instance, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	inst, ok := b.instances[h]
	if !ok {
		return nil, unknownHandle(h)
	}
	return inst, nil
}

// Handles returns the live handles in ascending order.
func (b *Bridge) Handles() []Handle {
	b.mu.Lock()
	defer b.mu.Unlock()
	return slices.Sorted(maps.Keys(b.instances))
}

// Load starts loading configJSON. done is called exactly once, from
// another goroutine, with "" on success or "<Kind>: <message>".
func (b *Bridge) Load(h Handle, configJSON string, done AsyncHandler) {
	inst, err := b.Instance(h)
	if err != nil {
		go complete(done, err)
		return
	}

	result := inst.Load([]byte(configJSON))
	go func() {
		err := <-result
		if err == nil {
			b.save(inst)
		}
		complete(done, err)
	}()
}

// LoadWait is Load for callers that want the typed result.
func (b *Bridge) LoadWait(ctx context.Context, h Handle, configJSON string) error {
	inst, err := b.Instance(h)
	if err != nil {
		return err
	}

	result := inst.Load([]byte(configJSON))
	select {
	case err := <-result:
		if err == nil {
			b.save(inst)
		}
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Execute applies one command. Failures are returned and also published
// on the instance's notification channel.
func (b *Bridge) Execute(h Handle, cmd, arg string) error {
	inst, err := b.Instance(h)
	if err != nil {
		return err
	}
	return inst.Execute(cmd, arg)
}

// Shutdown stops the instance and waits until it is Terminated or the
// shutdown timeout passes. Repeated calls are no-ops.
func (b *Bridge) Shutdown(h Handle) error {
	inst, err := b.Instance(h)
	if err != nil {
		return err
	}

	if inst.Status() == engine.StatusActive {
		b.save(inst)
	}
	inst.Shutdown()

	select {
	case <-inst.Done():
		return nil
	case <-time.After(b.timeout):
		return &engine.Error{
			Kind:    engine.KindEngineFault,
			Message: fmt.Sprintf("instance %d did not terminate within %s", h, b.timeout),
		}
	}
}

// Release removes a terminated instance from the table. The handle is
// invalid afterwards.
func (b *Bridge) Release(h Handle) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	inst, ok := b.instances[h]
	if !ok {
		return unknownHandle(h)
	}
	if s := inst.Status(); s != engine.StatusTerminated {
		return &engine.Error{
			Kind:    engine.KindLifecycleViolation,
			Message: fmt.Sprintf("release requires state Terminated, instance %d is %s", h, s),
		}
	}
	delete(b.instances, h)
	return nil
}

// Close shuts down every instance and releases it.
func (b *Bridge) Close() error {
	var firstErr error
	for _, h := range b.Handles() {
		if err := b.Shutdown(h); err != nil && firstErr == nil {
			firstErr = err
		}
		_ = b.Release(h)
	}
	return firstErr
}

// Status returns the lifecycle state of h.
func (b *Bridge) Status(h Handle) (engine.Status, error) {
	inst, err := b.Instance(h)
	if err != nil {
		return 0, err
	}
	return inst.Status(), nil
}

// Identifier returns the identifier of h, or "" for an unknown handle.
func (b *Bridge) Identifier(h Handle) string {
	return b.query(h, (*engine.Instance).Identifier)
}

// Username returns the username of h.
func (b *Bridge) Username(h Handle) string {
	return b.query(h, (*engine.Instance).Username)
}

// Package returns the package name of h.
func (b *Bridge) Package(h Handle) string {
	return b.query(h, (*engine.Instance).Package)
}

// Server returns the server of h.
func (b *Bridge) Server(h Handle) string {
	return b.query(h, (*engine.Instance).Server)
}

// Configuration serializes the configuration of h.
func (b *Bridge) Configuration(h Handle, includePassword bool) string {
	return b.query(h, func(i *engine.Instance) string {
		return i.Configuration(includePassword)
	})
}

func (b *Bridge) query(h Handle, fn func(*engine.Instance) string) string {
	inst, err := b.Instance(h)
	if err != nil {
		return ""
	}
	return fn(inst)
}

// LoadPackages lists the valid packages below path, sorted.
func (b *Bridge) LoadPackages(path string) []string {
	return pkgloader.LoadPackages(path, b.logger)
}

// CreateIdentifier predicts the identifier of a bot without creating it.
func CreateIdentifier(username, pkg, server string) string {
	return identity.New(username, pkg, server)
}

func (b *Bridge) save(inst *engine.Instance) {
	if b.saver == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := b.saver.SaveConfiguration(ctx, inst.Identifier(), inst.Configuration(false)); err != nil {
		b.logger.Warn("saving configuration failed", "identifier", inst.Identifier(), "error", err)
	}
}

func unknownHandle(h Handle) error {
	return &engine.Error{
		Kind:    engine.KindLifecycleViolation,
		Message: fmt.Sprintf("unknown handle %d", h),
	}
}

// complete reports err to done in the string convention.
func complete(done AsyncHandler, err error) {
	if done == nil {
		return
	}
	done.Call(ErrorString(err))
}

// ErrorString renders err as "" or "<Kind>: <message>".
func ErrorString(err error) string {
	if err == nil {
		return ""
	}
	if engine.KindOf(err) != "" {
		return err.Error()
	}
	return fmt.Sprintf("%s: %v", engine.KindEngineFault, err)
}
