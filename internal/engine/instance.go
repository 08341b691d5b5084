package engine

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"math/rand/v2"
	"slices"
	"strconv"
	"sync"
	"time"

	"github.com/roach88/botscript/internal/command"
	"github.com/roach88/botscript/internal/config"
	"github.com/roach88/botscript/internal/eventloop"
	"github.com/roach88/botscript/internal/identity"
	"github.com/roach88/botscript/internal/notify"
	"github.com/roach88/botscript/internal/pkgloader"
)

// DefaultLoginTries is the number of login attempts per load.
const DefaultLoginTries = 3

// Instance is one bot engine session.
//
// Thread-safety model:
//   - Load, Execute, Shutdown and all accessors: safe from any goroutine
//   - module runs, timers, load completion and finalization: loop goroutine
type Instance struct {
	loop     *eventloop.Loop
	notify   *notify.Channel
	auth     Authenticator
	resolver pkgloader.Resolver
	registry Registry
	sessions SessionGenerator
	logger   *slog.Logger
	now      func() time.Time
	random   func() float64
	unit     time.Duration
	tries    int

	// opMu serializes Load, Execute and Shutdown.
	opMu sync.Mutex

	// mu guards everything below.
	mu         sync.RWMutex
	status     Status
	cfg        *config.Config
	username   string
	pkgName    string
	server     string
	identifier string
	session    string
	claimed    bool
	inactive   bool
	modules    map[string]*module
	wtf        float64
	logs       *logRing
	ctx        context.Context
	cancel     context.CancelFunc

	done chan struct{}
}

// Option configures an Instance.
type Option func(*Instance)

// WithLogger sets the instance logger.
func WithLogger(l *slog.Logger) Option {
	return func(i *Instance) {
		if l != nil {
			i.logger = l
		}
	}
}

// WithAuthenticator sets the login implementation.
// Default: LuaAuthenticator.
func WithAuthenticator(a Authenticator) Option {
	return func(i *Instance) {
		if a != nil {
			i.auth = a
		}
	}
}

// WithResolver sets how package names are resolved.
// Default: pkgloader.BareResolver, which knows no modules.
func WithResolver(r pkgloader.Resolver) Option {
	return func(i *Instance) {
		if r != nil {
			i.resolver = r
		}
	}
}

// WithRegistry rejects loads of identifiers already claimed in r.
func WithRegistry(r Registry) Option {
	return func(i *Instance) {
		i.registry = r
	}
}

// WithSessionGenerator sets the session id source.
// Default: UUIDv7Generator.
func WithSessionGenerator(g SessionGenerator) Option {
	return func(i *Instance) {
		if g != nil {
			i.sessions = g
		}
	}
}

// WithClock sets the time source for log lines and notifications.
func WithClock(now func() time.Time) Option {
	return func(i *Instance) {
		if now != nil {
			i.now = now
		}
	}
}

// WithRandom sets the [0,1) source used to pick module wait times.
func WithRandom(f func() float64) Option {
	return func(i *Instance) {
		if f != nil {
			i.random = f
		}
	}
}

// WithTimeUnit sets the unit of module wait times. Default: time.Second.
// Tests use time.Millisecond.
func WithTimeUnit(d time.Duration) Option {
	return func(i *Instance) {
		if d > 0 {
			i.unit = d
		}
	}
}

// WithLoginTries sets the number of login attempts. Default: 3.
func WithLoginTries(n int) Option {
	return func(i *Instance) {
		if n > 0 {
			i.tries = n
		}
	}
}

// New constructs an instance in state Created. Notifications are delivered
// to sink. New performs no I/O.
func New(loop *eventloop.Loop, sink notify.Sink, opts ...Option) *Instance {
	i := &Instance{
		loop:     loop,
		auth:     LuaAuthenticator{},
		resolver: pkgloader.BareResolver{},
		sessions: UUIDv7Generator{},
		logger:   slog.Default(),
		now:      time.Now,
		random:   rand.Float64,
		unit:     time.Second,
		tries:    DefaultLoginTries,
		status:   StatusCreated,
		wtf:      1,
		logs:     newLogRing(),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(i)
	}
	i.notify = notify.NewChannel(sink, notify.WithLogger(i.logger), notify.WithClock(i.now))
	return i
}

// Status returns the lifecycle state.
func (i *Instance) Status() Status {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.status
}

// Identifier returns the identifier of the loaded bot.
func (i *Instance) Identifier() string {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.identifier
}

// Username returns the loaded username.
func (i *Instance) Username() string {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.username
}

// Package returns the loaded package name, as given in the configuration.
func (i *Instance) Package() string {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.pkgName
}

// Server returns the loaded server.
func (i *Instance) Server() string {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.server
}

// Session returns the session id of the last load.
func (i *Instance) Session() string {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.session
}

// Configuration serializes the current configuration. Without
// includePassword, password fields are omitted. Empty before a load.
func (i *Instance) Configuration(includePassword bool) string {
	i.mu.RLock()
	defer i.mu.RUnlock()
	if i.cfg == nil {
		return ""
	}
	return i.cfg.JSON(includePassword)
}

// Get returns the current value of module.key.
func (i *Instance) Get(module, key string) (string, bool) {
	i.mu.RLock()
	defer i.mu.RUnlock()
	if i.cfg == nil {
		return "", false
	}
	return i.cfg.Get(module, key)
}

// Modules returns the registered module names, sorted.
func (i *Instance) Modules() []string {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return slices.Sorted(maps.Keys(i.modules))
}

// RunState returns the run loop state of module.
func (i *Instance) RunState(module string) RunState {
	i.mu.RLock()
	defer i.mu.RUnlock()
	if m, ok := i.modules[module]; ok {
		return m.run
	}
	return RunOff
}

// LogMessages returns the most recent log lines, oldest first.
func (i *Instance) LogMessages() []string {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.logs.snapshot()
}

// Done is closed once the instance is Terminated and every notification
// has been handed to the sink.
func (i *Instance) Done() <-chan struct{} {
	return i.done
}

// Load starts loading the configuration in data. The returned channel
// receives exactly one value: nil on success, an *Error otherwise.
func (i *Instance) Load(data []byte) <-chan error {
	result := make(chan error, 1)

	i.opMu.Lock()
	defer i.opMu.Unlock()

	i.mu.Lock()
	if i.status != StatusCreated {
		status := i.status
		i.mu.Unlock()
		result <- newError(KindLifecycleViolation, "load requires state Created, instance is %s", status)
		return result
	}
	i.setStatusLocked(StatusLoading)
	i.mu.Unlock()

	cfg, err := config.Parse(data)
	if err != nil {
		result <- i.failLoad(wrapError(KindConfigValidation, err), "")
		return result
	}

	id := identity.New(cfg.Username, cfg.Package, cfg.Server)
	if i.registry != nil && !i.registry.Claim(id) {
		result <- i.failLoad(newError(KindLifecycleViolation, "bot already registered: %s", id), "")
		return result
	}

	pkg, err := i.resolver.Resolve(cfg.Package)
	if err != nil {
		result <- i.failLoad(&Error{Kind: KindConfigValidation, Message: "package: " + err.Error(), Err: err}, id)
		return result
	}

	ctx, cancel := context.WithCancel(context.Background())

	i.mu.Lock()
	i.username = cfg.Username
	i.pkgName = cfg.Package
	i.server = cfg.Server
	i.identifier = id
	i.session = i.sessions.Generate()
	i.claimed = i.registry != nil
	i.inactive = cfg.Inactive
	i.ctx = ctx
	i.cancel = cancel
	i.mu.Unlock()

	i.notify.SetSource(id)
	i.logger.Info("loading bot", "identifier", id, "session", i.Session(), "package", pkg.Name)

	go i.login(ctx, cfg, pkg, result)
	return result
}

// failLoad reverts a failed load to Created. Caller holds opMu.
func (i *Instance) failLoad(err *Error, claimed string) error {
	if claimed != "" && i.registry != nil {
		i.registry.Release(claimed)
	}
	i.mu.Lock()
	i.claimed = false
	if i.status == StatusLoading {
		i.setStatusLocked(StatusCreated)
	}
	i.mu.Unlock()
	i.logger.Warn("load failed", "error", err)
	return err
}

// login authenticates off the loop, then completes the load on it.
func (i *Instance) login(ctx context.Context, cfg *config.Config, pkg *pkgloader.Package, result chan<- error) {
	var err error
	for try := 1; try <= i.tries; try++ {
		i.logf(levelInfo, config.ModuleBase, "login: %d. try", try)
		if err = i.auth.Login(ctx, pkg, cfg.Username, cfg.Password, cfg.Server); err == nil {
			break
		}
		if ctx.Err() != nil {
			break
		}
		i.logf(levelError, config.ModuleBase, "login failed: %v", err)
	}

	complete := func(context.Context) error {
		result <- i.completeLoad(ctx, cfg, pkg, err)
		return nil
	}
	if !i.loop.Post(i, "load", complete) {
		result <- i.completeLoad(ctx, cfg, pkg, eventloop.ErrStopped)
	}
}

// completeLoad runs on the loop goroutine.
func (i *Instance) completeLoad(ctx context.Context, cfg *config.Config, pkg *pkgloader.Package, loginErr error) error {
	i.mu.Lock()
	if i.status != StatusLoading {
		// Shutdown arrived while logging in.
		i.mu.Unlock()
		i.finalize()
		return newError(KindCancelled, "load cancelled by shutdown")
	}
	if loginErr != nil {
		i.revertLocked()
		i.mu.Unlock()
		if ctx.Err() != nil {
			return newError(KindCancelled, "load cancelled")
		}
		return &Error{Kind: KindEngineFault, Message: "login failed: " + loginErr.Error(), Err: loginErr}
	}

	live := config.New(cfg.Username, cfg.Password, cfg.Package, cfg.Server)
	live.Inactive = cfg.Inactive
	for _, spec := range pkg.Modules {
		for k, v := range spec.Defaults {
			live.Set(spec.Name, k, v)
		}
	}
	i.cfg = live
	i.mu.Unlock()

	// Module code may call back into the instance, so it is instantiated
	// without holding mu.
	modules := map[string]*module{config.ModuleBase: newBaseModule()}
	for _, spec := range pkg.Modules {
		m, err := i.newScriptModule(spec)
		if err != nil {
			closeModules(modules)
			i.mu.Lock()
			i.revertLocked()
			i.mu.Unlock()
			return &Error{Kind: KindEngineFault, Message: fmt.Sprintf("module %s: %v", spec.Name, err), Err: err}
		}
		modules[spec.Name] = m
	}
	for _, name := range cfg.Modules() {
		if _, ok := modules[name]; !ok {
			modules[name] = &module{name: name}
		}
	}

	i.mu.Lock()
	if i.status != StatusLoading {
		i.mu.Unlock()
		closeModules(modules)
		i.finalize()
		return newError(KindCancelled, "load cancelled by shutdown")
	}

	i.modules = modules

	// Active before the replay so activated modules may run.
	i.setStatusLocked(StatusActive)
	for _, cmd := range cfg.Commands() {
		if err := i.applyLocked(cmd.Address, cmd.Argument, !i.inactive); err != nil {
			i.notify.Publish(notify.Failure(err, notify.CategoryCommand, cmd.Address.String()))
		}
	}
	count := len(i.modules)
	i.mu.Unlock()

	i.logger.Info("bot active", "identifier", i.Identifier(), "modules", count)
	return nil
}

// revertLocked returns a failed load to Created. Caller holds mu.
func (i *Instance) revertLocked() {
	if i.claimed && i.registry != nil {
		i.registry.Release(i.identifier)
	}
	i.claimed = false
	if i.cancel != nil {
		i.cancel()
	}
	i.cfg = nil
	i.modules = nil
	i.setStatusLocked(StatusCreated)
}

// Execute applies one command. It is valid only while Active. Failures
// are returned and also published on the command category.
func (i *Instance) Execute(cmd, arg string) error {
	i.opMu.Lock()
	defer i.opMu.Unlock()

	err := i.execute(cmd, arg)
	if err != nil {
		i.notify.Publish(notify.Failure(err, notify.CategoryCommand, cmd))
		i.logger.Debug("command rejected", "identifier", i.Identifier(), "command", cmd, "error", err)
	}
	return err
}

func (i *Instance) execute(cmd, arg string) error {
	addr, err := command.Parse(cmd)
	if err != nil {
		// Reported in any state: it is a property of the input alone.
		return commandError(KindMalformedCommand, cmd, err)
	}

	i.mu.Lock()
	defer i.mu.Unlock()

	if i.status != StatusActive {
		return &Error{
			Kind:    KindLifecycleViolation,
			Message: fmt.Sprintf("execute requires state Active, instance is %s", i.status),
			Command: cmd,
		}
	}
	return i.applyLocked(addr, arg, true)
}

// applyLocked validates and applies one set command. Nothing changes on
// error. Caller holds mu.
func (i *Instance) applyLocked(addr command.Address, value string, start bool) error {
	cmd := addr.String()

	if addr.Global() {
		if addr.Action != command.ActionSet {
			return commandError(KindUnsupportedAction, cmd, fmt.Errorf("action %q not supported", addr.Action))
		}
		targets := i.globalTargetsLocked(addr.Key)
		for _, m := range targets {
			if err := m.validate(addr.Key, value); err != nil {
				return commandError(KindInvalidValue, cmd, fmt.Errorf("%s: %w", m.name, err))
			}
		}
		for _, m := range targets {
			i.assignLocked(m, addr.Key, value, start)
		}
		return nil
	}

	m, ok := i.modules[addr.Module]
	if !ok {
		return commandError(KindUnknownModule, cmd, fmt.Errorf("module %q not registered", addr.Module))
	}
	if addr.Action != command.ActionSet {
		return commandError(KindUnsupportedAction, cmd, fmt.Errorf("action %q not supported by %s", addr.Action, m.name))
	}
	if err := m.validate(addr.Key, value); err != nil {
		return commandError(KindInvalidValue, cmd, err)
	}
	i.assignLocked(m, addr.Key, value, start)
	return nil
}

// globalTargetsLocked returns the non-base modules affected by a global
// set of key, sorted by name.
func (i *Instance) globalTargetsLocked(key string) []*module {
	var out []*module
	for _, name := range i.cfg.Modules() {
		m, ok := i.modules[name]
		if !ok || name == config.ModuleBase {
			continue
		}
		if _, has := i.cfg.Get(name, key); has || key == config.KeyActive {
			out = append(out, m)
		}
	}
	return out
}

// assignLocked stores a validated value and applies its side effects.
func (i *Instance) assignLocked(m *module, key, value string, start bool) {
	i.cfg.Set(m.name, key, value)

	switch {
	case m.name == config.ModuleBase && key == config.KeyWaitFactor:
		if f, err := strconv.ParseFloat(value, 64); err == nil && f > 0 {
			i.wtf = f
		}
	case key == config.KeyActive && m.name != config.ModuleBase:
		if value == "1" && start {
			i.startLocked(m)
		} else if value == "0" {
			i.stopLocked(m)
		}
	}

	i.notify.Publish(notify.Info(notify.CategoryStatus, statusPayload(m.name, key, value)))
}

// setStatus is the set_status host function: an unvalidated write by
// module code.
func (i *Instance) setStatus(module, key, value string) {
	i.mu.Lock()
	defer i.mu.Unlock()

	if i.cfg == nil {
		return
	}
	i.cfg.Set(module, key, value)
	i.notify.Publish(notify.Info(notify.CategoryStatus, statusPayload(module, key, value)))
}

// maskedValue replaces secret values in status notifications.
const maskedValue = "***"

func statusPayload(module, key, value string) string {
	if config.IsSecret(key) {
		value = maskedValue
	}
	return module + "_" + key + "=" + value
}

// Shutdown stops the instance. It returns immediately; Done is closed
// once Terminated. Calling Shutdown again is a no-op.
func (i *Instance) Shutdown() {
	i.opMu.Lock()
	defer i.opMu.Unlock()

	i.mu.Lock()
	switch i.status {
	case StatusShuttingDown, StatusTerminated:
		i.mu.Unlock()
		return

	case StatusCreated:
		i.setStatusLocked(StatusShuttingDown)
		i.mu.Unlock()
		i.finalize()
		return

	case StatusLoading:
		// The pending load completes as Cancelled and finalizes.
		i.setStatusLocked(StatusShuttingDown)
		i.cancel()
		i.mu.Unlock()
		return
	}

	i.setStatusLocked(StatusShuttingDown)
	i.cancel()
	for _, m := range i.modules {
		i.stopLocked(m)
	}
	i.mu.Unlock()

	// Queued behind any module work already on the loop.
	finalize := func(context.Context) error {
		i.finalize()
		return nil
	}
	if !i.loop.Post(i, "shutdown", finalize) {
		i.finalize()
	}
}

// finalize moves a ShuttingDown instance to Terminated exactly once.
func (i *Instance) finalize() {
	i.mu.Lock()
	if i.status != StatusShuttingDown {
		i.mu.Unlock()
		return
	}
	closeModules(i.modules)
	if i.claimed && i.registry != nil {
		i.registry.Release(i.identifier)
		i.claimed = false
	}
	if i.cancel != nil {
		i.cancel()
	}
	i.setStatusLocked(StatusTerminated)
	i.mu.Unlock()

	i.logger.Info("bot terminated", "identifier", i.Identifier())
	i.notify.Close()
	go func() {
		<-i.notify.Done()
		close(i.done)
	}()
}

func closeModules(modules map[string]*module) {
	for _, m := range modules {
		if m.timer != nil {
			m.timer.Stop()
			m.timer = nil
		}
		if m.state != nil {
			m.state.Close()
		}
	}
}

// HandleFault implements eventloop.Owner. Faults of work scheduled for
// this instance are published on the fault category.
func (i *Instance) HandleFault(work string, err error) {
	fault := &Error{Kind: KindEngineFault, Message: err.Error(), Err: err}
	i.logf(levelError, work, "%v", err)
	i.notify.Publish(notify.Failure(fault, notify.CategoryFault, work))
}

// setStatusLocked records a transition and publishes it. Caller holds mu.
func (i *Instance) setStatusLocked(s Status) {
	i.status = s
	i.notify.Publish(notify.Info(notify.CategoryState, s.String()))
}

// logf appends a log line and publishes it.
func (i *Instance) logf(level, source, format string, args ...any) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.logLocked(level, source, fmt.Sprintf(format, args...))
}

func (i *Instance) logLocked(level, source, msg string) {
	line := formatLogLine(level, i.now(), i.identifier, source, msg)
	i.logs.add(line)
	i.notify.Publish(notify.Info(notify.CategoryLog, line))
	i.logger.Debug("bot log", "identifier", i.identifier, "source", source, "message", msg)
}
