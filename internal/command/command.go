// Package command parses the addressed command strings applied to engine
// modules.
//
// An address has the form module_action_key, split on the first two
// underscores, so keys may themselves contain underscores:
//
//	base_set_wait_time_factor -> (base, set, wait_time_factor)
package command

import (
	"errors"
	"fmt"
	"strings"
)

// Separator is the reserved address separator.
const Separator = "_"

// ActionSet is the only action modules support.
const ActionSet = "set"

// ModuleGlobal addresses every module of an instance.
const ModuleGlobal = "global"

// ErrMalformed marks addresses that do not split into three non-empty
// module and key parts.
var ErrMalformed = errors.New("malformed command")

// Address is a parsed command address.
type Address struct {
	Module string
	Action string
	Key    string
}

// Parse splits a command into its address parts.
func Parse(cmd string) (Address, error) {
	parts := strings.SplitN(cmd, Separator, 3)
	if len(parts) != 3 {
		return Address{}, fmt.Errorf("%w: %q needs module%saction%skey", ErrMalformed, cmd, Separator, Separator)
	}
	if parts[0] == "" || parts[2] == "" {
		return Address{}, fmt.Errorf("%w: %q has an empty module or key", ErrMalformed, cmd)
	}
	return Address{Module: parts[0], Action: parts[1], Key: parts[2]}, nil
}

// Set builds the address that sets key on module.
func Set(module, key string) Address {
	return Address{Module: module, Action: ActionSet, Key: key}
}

// String renders the address in its command form.
func (a Address) String() string {
	return a.Module + Separator + a.Action + Separator + a.Key
}

// Global reports whether the address targets every module.
func (a Address) Global() bool {
	return a.Module == ModuleGlobal
}

// Command is an address paired with its argument.
type Command struct {
	Address  Address
	Argument string
}

// Sequence is an ordered list of commands.
type Sequence []Command
