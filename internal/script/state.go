package script

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	lua "github.com/yuin/gopher-lua"
)

var (
	// ErrClosed is returned by operations on a closed State.
	ErrClosed = errors.New("script: state closed")

	// ErrNotDefined is returned by Call when the global is not a function.
	ErrNotDefined = errors.New("script: function not defined")
)

// unsafeGlobals are removed after the libraries are opened.
var unsafeGlobals = []string{"dofile", "loadfile", "load", "loadstring", "require", "module"}

// State wraps a gopher-lua state.
type State struct {
	mu     sync.Mutex
	L      *lua.LState
	closed bool
}

// NewState returns a sandboxed Lua state.
func NewState() *State {
	L := lua.NewState(lua.Options{SkipOpenLibs: true})
	lua.OpenBase(L)
	lua.OpenTable(L)
	lua.OpenString(L)
	lua.OpenMath(L)
	for _, name := range unsafeGlobals {
		L.SetGlobal(name, lua.LNil)
	}
	return &State{L: L}
}

// Load compiles and runs a chunk. name is used in error messages.
func (s *State) Load(name string, src io.Reader) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}

	fn, err := s.L.Load(src, name)
	if err != nil {
		return fmt.Errorf("compile %s: %w", name, err)
	}
	return s.protect(func() error {
		s.L.Push(fn)
		if err := s.L.PCall(0, 0, nil); err != nil {
			return fmt.Errorf("run %s: %w", name, err)
		}
		return nil
	})
}

// LoadString is Load for in-memory source.
func (s *State) LoadString(name, src string) error {
	return s.Load(name, strings.NewReader(src))
}

// Has reports whether the global fn is a function.
func (s *State) Has(fn string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return false
	}
	return s.L.GetGlobal(fn).Type() == lua.LTFunction
}

// Call invokes the global function fn and returns its results.
//
// Cancelling ctx aborts the running Lua code at its next instruction.
func (s *State) Call(ctx context.Context, fn string, args ...lua.LValue) ([]lua.LValue, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ErrClosed
	}

	f := s.L.GetGlobal(fn)
	if f.Type() != lua.LTFunction {
		return nil, fmt.Errorf("%w: %s", ErrNotDefined, fn)
	}

	if ctx != nil {
		s.L.SetContext(ctx)
		defer s.L.RemoveContext()
	}

	top := s.L.GetTop()
	err := s.protect(func() error {
		s.L.Push(f)
		for _, arg := range args {
			s.L.Push(arg)
		}
		return s.L.PCall(len(args), lua.MultRet, nil)
	})
	if err != nil {
		s.L.SetTop(top)
		if ctx != nil && ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("call %s: %w", fn, err)
	}

	n := s.L.GetTop() - top
	results := make([]lua.LValue, n)
	for i := range n {
		results[i] = s.L.Get(top + i + 1)
	}
	s.L.SetTop(top)
	return results, nil
}

// Register exposes a Go function as a Lua global.
func (s *State) Register(name string, fn lua.LGFunction) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	s.L.SetGlobal(name, s.L.NewFunction(fn))
}

// Table returns the global table name.
func (s *State) Table(name string) (*lua.LTable, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, false
	}
	t, ok := s.L.GetGlobal(name).(*lua.LTable)
	return t, ok
}

// Close releases the state. It is safe to call more than once.
func (s *State) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	s.closed = true
	s.L.Close()
}

// protect converts a Go panic raised inside the interpreter into an error.
func (s *State) protect(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("lua panic: %v", r)
		}
	}()
	return fn()
}
