package engine

import (
	"context"
	"errors"

	lua "github.com/yuin/gopher-lua"

	"github.com/roach88/botscript/internal/pkgloader"
	"github.com/roach88/botscript/internal/script"
)

// Authenticator performs the session bootstrap against the server.
type Authenticator interface {
	Login(ctx context.Context, pkg *pkgloader.Package, username, password, server string) error
}

// AuthenticatorFunc adapts a function to Authenticator.
type AuthenticatorFunc func(ctx context.Context, pkg *pkgloader.Package, username, password, server string) error

// Login implements Authenticator.
func (f AuthenticatorFunc) Login(ctx context.Context, pkg *pkgloader.Package, username, password, server string) error {
	return f(ctx, pkg, username, password, server)
}

// LuaAuthenticator calls login(username, password, server) from the
// package's base.lua. A non-empty string result is the failure reason.
// Packages without a login function authenticate trivially.
type LuaAuthenticator struct{}

// Login implements Authenticator.
func (LuaAuthenticator) Login(ctx context.Context, pkg *pkgloader.Package, username, password, server string) error {
	if pkg == nil || pkg.BaseSource == "" {
		return nil
	}

	s := script.NewState()
	defer s.Close()

	if err := s.LoadString(pkgloader.BaseFile, pkg.BaseSource); err != nil {
		return err
	}
	if !s.Has("login") {
		return nil
	}

	out, err := s.Call(ctx, "login", lua.LString(username), lua.LString(password), lua.LString(server))
	if err != nil {
		return err
	}
	if len(out) > 0 {
		if reason, ok := out[0].(lua.LString); ok && reason != "" {
			return errors.New(string(reason))
		}
	}
	return nil
}
