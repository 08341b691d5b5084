package engine

import (
	"context"
	"fmt"
	"time"

	lua "github.com/yuin/gopher-lua"

	"github.com/roach88/botscript/internal/config"
	"github.com/roach88/botscript/internal/eventloop"
	"github.com/roach88/botscript/internal/pkgloader"
	"github.com/roach88/botscript/internal/script"
)

// RunState is the state of a module's run loop.
type RunState int

const (
	// RunOff: not scheduled.
	RunOff RunState = iota
	// RunRunning: run_<module> is queued or executing.
	RunRunning
	// RunWaiting: sleeping until the next run.
	RunWaiting
	// RunStopping: deactivated while running; becomes RunOff when the run ends.
	RunStopping
)

func (s RunState) String() string {
	switch s {
	case RunOff:
		return "OFF"
	case RunRunning:
		return "RUN"
	case RunWaiting:
		return "WAIT"
	case RunStopping:
		return "STOP_RUN"
	}
	return "UNKNOWN"
}

// Default wait between runs, in seconds, before scaling by the wait time
// factor.
const (
	DefaultWaitMin = 60
	DefaultWaitMax = 120
)

// module is one registered module of an instance. All fields are guarded
// by the instance mutex.
type module struct {
	name string

	// fields is nil for config-only modules, which accept any key.
	fields []pkgloader.Field

	// state is nil when the module has no run function.
	state *script.State

	run   RunState
	timer *eventloop.Timer

	// gen invalidates work scheduled by an earlier activation.
	gen uint64
}

func (m *module) runFunc() string {
	return "run_" + m.name
}

func (m *module) validate(key, value string) error {
	if key == config.KeyActive {
		return pkgloader.ValidateFlag(key, value)
	}
	for _, f := range m.fields {
		if f.Name == key {
			return f.Validate(value)
		}
	}
	return nil
}

// newBaseModule returns the pseudo-module holding instance-wide settings.
func newBaseModule() *module {
	return &module{name: config.ModuleBase, fields: pkgloader.BaseFields()}
}

// newScriptModule instantiates a package module with its own Lua state.
func (i *Instance) newScriptModule(spec *pkgloader.Module) (*module, error) {
	m := &module{name: spec.Name, fields: spec.Fields}
	if m.fields == nil {
		m.fields = []pkgloader.Field{}
	}

	s := script.NewState()
	i.registerHostFuncs(s, spec.Name)
	if err := s.LoadString(spec.Name+".lua", spec.Source); err != nil {
		s.Close()
		return nil, err
	}
	if s.Has(m.runFunc()) {
		m.state = s
	} else {
		s.Close()
	}
	return m, nil
}

// registerHostFuncs exposes the instance to module code.
func (i *Instance) registerHostFuncs(s *script.State, source string) {
	s.Register("log", func(L *lua.LState) int {
		i.logf(levelInfo, source, "%s", L.CheckString(1))
		return 0
	})
	s.Register("log_error", func(L *lua.LState) int {
		i.logf(levelError, source, "%s", L.CheckString(1))
		return 0
	})
	s.Register("set_status", func(L *lua.LState) int {
		i.setStatus(source, L.CheckString(1), script.String(L.CheckAny(2)))
		return 0
	})
	s.Register("get_status", func(L *lua.LState) int {
		i.mu.RLock()
		v, _ := i.cfg.Get(source, L.CheckString(1))
		i.mu.RUnlock()
		L.Push(lua.LString(v))
		return 1
	})
}

// startLocked activates the run loop of m. Caller holds i.mu.
func (i *Instance) startLocked(m *module) {
	if m.state == nil {
		return
	}
	switch m.run {
	case RunOff:
		m.run = RunRunning
		m.gen++
		if !i.loop.Post(i, m.runFunc(), i.runWork(m, m.gen)) {
			m.run = RunOff
		}
	case RunStopping:
		// The run in flight reschedules when it returns.
		m.run = RunRunning
	}
}

// stopLocked deactivates the run loop of m. Caller holds i.mu.
func (i *Instance) stopLocked(m *module) {
	switch m.run {
	case RunRunning:
		m.run = RunStopping
	case RunWaiting:
		m.timer.Stop()
		m.timer = nil
		m.run = RunOff
	}
}

// runWork returns the loop work executing one run of m.
func (i *Instance) runWork(m *module, gen uint64) eventloop.Work {
	return func(context.Context) error {
		i.mu.Lock()
		if i.status != StatusActive || m.gen != gen || m.run != RunRunning {
			if m.gen == gen && m.run == RunStopping {
				m.run = RunOff
			}
			i.mu.Unlock()
			return nil
		}
		ctx := i.ctx
		i.mu.Unlock()

		out, callErr := m.state.Call(ctx, m.runFunc())

		i.mu.Lock()
		defer i.mu.Unlock()

		if m.gen != gen {
			return nil
		}
		if i.status != StatusActive || m.run == RunStopping {
			m.run = RunOff
			return nil
		}

		lo, hi := float64(DefaultWaitMin), float64(DefaultWaitMax)
		if callErr == nil {
			if len(out) > 0 {
				if reason := script.String(out[0]); reason != "" {
					i.logLocked(levelError, m.name, reason)
				}
			}
			if len(out) > 2 {
				if n, ok := script.Number(out[1]); ok {
					lo = n
				}
				if n, ok := script.Number(out[2]); ok {
					hi = n
				}
			}
		}
		if hi < lo {
			lo, hi = hi, lo
		}

		seconds := (lo + i.random()*(hi-lo)) * i.wtf
		wait := time.Duration(seconds * float64(i.unit))

		m.run = RunWaiting
		m.timer = i.loop.AfterFunc(wait, i, m.runFunc(), func(ctx context.Context) error {
			i.mu.Lock()
			if m.gen == gen && m.run == RunWaiting {
				m.run = RunRunning
				m.timer = nil
			}
			i.mu.Unlock()
			return i.runWork(m, gen)(ctx)
		})

		if callErr != nil {
			return fmt.Errorf("%s: %w", m.runFunc(), callErr)
		}
		return nil
	}
}
