package testutil

import (
	"context"
	"sync"

	"github.com/roach88/botscript/internal/pkgloader"
)

// LoginCall records one Login invocation.
type LoginCall struct {
	Package  string
	Username string
	Password string
	Server   string
}

// ScriptedAuthenticator answers logins from a script of results. Once the
// script is exhausted every login succeeds. With Block set, each login
// waits for its context to be cancelled and returns the context error.
type ScriptedAuthenticator struct {
	mu      sync.Mutex
	results []error
	calls   []LoginCall
	block   bool
	started chan struct{}
}

// NewScriptedAuthenticator returns an authenticator answering with results
// in order.
func NewScriptedAuthenticator(results ...error) *ScriptedAuthenticator {
	return &ScriptedAuthenticator{results: results, started: make(chan struct{}, 16)}
}

// NewBlockingAuthenticator returns an authenticator whose logins only end
// by cancellation.
func NewBlockingAuthenticator() *ScriptedAuthenticator {
	a := NewScriptedAuthenticator()
	a.block = true
	return a
}

// Login implements engine.Authenticator.
func (a *ScriptedAuthenticator) Login(ctx context.Context, pkg *pkgloader.Package, username, password, server string) error {
	a.mu.Lock()
	call := LoginCall{Username: username, Password: password, Server: server}
	if pkg != nil {
		call.Package = pkg.Name
	}
	a.calls = append(a.calls, call)

	var result error
	if len(a.results) > 0 {
		result = a.results[0]
		a.results = a.results[1:]
	}
	block := a.block
	a.mu.Unlock()

	select {
	case a.started <- struct{}{}:
	default:
	}

	if block {
		<-ctx.Done()
		return ctx.Err()
	}
	return result
}

// Started receives once per Login call (up to a small buffer).
func (a *ScriptedAuthenticator) Started() <-chan struct{} {
	return a.started
}

// Calls returns the recorded logins.
func (a *ScriptedAuthenticator) Calls() []LoginCall {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]LoginCall(nil), a.calls...)
}
