// Package script hosts the sandboxed Lua interpreter that runs package
// code: servers.lua, the optional base.lua login script and one state per
// module.
//
// Only the base, table, string and math libraries are opened. File
// loading primitives are removed, so a script can reach the host only
// through functions registered with State.Register.
//
// A State is not goroutine-safe on the Lua side; the mutex serializes Go
// callers, and long calls are bounded with a context.
package script
