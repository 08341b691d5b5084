package config

import (
	"maps"
	"slices"
	"strings"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/roach88/botscript/internal/command"
)

// Well-known module and key names.
const (
	ModuleBase     = "base"
	KeyActive      = "active"
	KeyWaitFactor  = "wait_time_factor"
	KeyProxy       = "proxy"
	keyModuleName  = "name"
	defaultFactor  = "1"
	passwordMarker = "password"
)

// Config is a parsed configuration blob.
//
// Config is not safe for concurrent mutation; the engine guards it.
type Config struct {
	Username string
	Password string
	Package  string
	Server   string

	// Inactive marks a bot that should be loaded but not started.
	Inactive bool

	modules map[string]map[string]string
}

// New returns an empty configuration with the base module defaults.
func New(username, password, pkg, server string) *Config {
	c := &Config{
		Username: username,
		Password: password,
		Package:  pkg,
		Server:   server,
		modules:  make(map[string]map[string]string),
	}
	c.applyDefaults()
	return c
}

// Parse validates data and returns the configuration it describes.
//
// Errors are always *ValidationError.
func Parse(data []byte) (*Config, error) {
	if !gjson.ValidBytes(data) {
		return nil, &ValidationError{Message: "invalid JSON"}
	}

	root := gjson.ParseBytes(data)
	if !root.IsObject() {
		return nil, &ValidationError{Message: "expected a JSON object"}
	}
	if !root.Get("modules").Exists() {
		return nil, &ValidationError{Field: "modules", Message: "field is required"}
	}

	if err := defaultValidator.validate(data); err != nil {
		return nil, err
	}

	c := New(
		root.Get("username").String(),
		root.Get("password").String(),
		root.Get("package").String(),
		root.Get("server").String(),
	)
	c.Inactive = root.Get("inactive").Bool()

	root.Get("modules").ForEach(func(name, mod gjson.Result) bool {
		module := c.module(name.String())
		mod.ForEach(func(key, value gjson.Result) bool {
			if key.String() == keyModuleName {
				return true
			}
			module[key.String()] = value.String()
			return true
		})
		return true
	})

	// Top-level legacy fields only fill gaps in the base module.
	base := c.module(ModuleBase)
	for _, key := range []string{KeyWaitFactor, KeyProxy} {
		if legacy := root.Get(key); legacy.Exists() {
			if _, ok := base[key]; !ok {
				base[key] = legacy.String()
			}
		}
	}

	c.applyDefaults()
	return c, nil
}

func (c *Config) applyDefaults() {
	base := c.module(ModuleBase)
	if base[KeyWaitFactor] == "" {
		base[KeyWaitFactor] = defaultFactor
	}
	if _, ok := base[KeyProxy]; !ok {
		base[KeyProxy] = ""
	}
}

// module returns the named module map, creating it if necessary.
func (c *Config) module(name string) map[string]string {
	m, ok := c.modules[name]
	if !ok {
		m = make(map[string]string)
		c.modules[name] = m
	}
	return m
}

// Modules returns the module names in sorted order.
func (c *Config) Modules() []string {
	return slices.Sorted(maps.Keys(c.modules))
}

// HasModule reports whether the configuration names module.
func (c *Config) HasModule(module string) bool {
	_, ok := c.modules[module]
	return ok
}

// Module returns a copy of the key/value pairs of module.
func (c *Config) Module(module string) map[string]string {
	return maps.Clone(c.modules[module])
}

// Get returns the value stored under module.key.
func (c *Config) Get(module, key string) (string, bool) {
	v, ok := c.modules[module][key]
	return v, ok
}

// Set stores value under module.key, creating the module if needed.
func (c *Config) Set(module, key, value string) {
	c.module(module)[key] = value
}

// Active reports whether module is switched on.
func (c *Config) Active(module string) bool {
	return c.modules[module][KeyActive] == "1"
}

// Clone returns a deep copy.
func (c *Config) Clone() *Config {
	out := *c
	out.modules = make(map[string]map[string]string, len(c.modules))
	for name, m := range c.modules {
		out.modules[name] = maps.Clone(m)
	}
	return &out
}

// Commands returns the command sequence that replays this configuration
// onto a freshly loaded engine.
//
// Base settings come first, wait_time_factor then proxy. Every other
// module follows in sorted order with its keys sorted, and ends with its
// active flag so the module starts only once fully configured.
func (c *Config) Commands() command.Sequence {
	var seq command.Sequence

	base := c.modules[ModuleBase]
	seq = append(seq,
		command.Command{Address: command.Set(ModuleBase, KeyWaitFactor), Argument: base[KeyWaitFactor]},
		command.Command{Address: command.Set(ModuleBase, KeyProxy), Argument: base[KeyProxy]},
	)

	for _, name := range c.Modules() {
		if name == ModuleBase {
			continue
		}
		m := c.modules[name]
		for _, key := range slices.Sorted(maps.Keys(m)) {
			if key == KeyActive {
				continue
			}
			seq = append(seq, command.Command{Address: command.Set(name, key), Argument: m[key]})
		}

		active := m[KeyActive]
		if active == "" {
			active = "0"
		}
		seq = append(seq, command.Command{Address: command.Set(name, KeyActive), Argument: active})
	}
	return seq
}

// JSON serializes the configuration.
//
// Without includePassword, the password and every module key containing
// "password" are omitted entirely.
func (c *Config) JSON(includePassword bool) string {
	out := []byte(`{}`)

	out = set(out, "username", c.Username)
	if includePassword {
		out = set(out, "password", c.Password)
	}
	out = set(out, "package", c.Package)
	out = set(out, "server", c.Server)
	if c.Inactive {
		out = set(out, "inactive", true)
	}

	out = setRaw(out, "modules", `{}`)
	for _, name := range c.Modules() {
		prefix := "modules." + EscapePath(name)
		out = setRaw(out, prefix, `{}`)

		m := c.modules[name]
		for _, key := range slices.Sorted(maps.Keys(m)) {
			if !includePassword && IsSecret(key) {
				continue
			}
			out = set(out, prefix+"."+EscapePath(key), m[key])
		}
	}
	return string(out)
}

// IsSecret reports whether key names a password. Secret values are left
// out of redacted configurations and masked in status notifications.
func IsSecret(key string) bool {
	return strings.Contains(strings.ToLower(key), passwordMarker)
}

// set and setRaw only fail on malformed paths, which EscapePath rules out.
func set(doc []byte, path string, value any) []byte {
	out, err := sjson.SetBytes(doc, path, value)
	if err != nil {
		return doc
	}
	return out
}

func setRaw(doc []byte, path, raw string) []byte {
	out, err := sjson.SetRawBytes(doc, path, []byte(raw))
	if err != nil {
		return doc
	}
	return out
}

// EscapePath escapes every byte with meaning in a gjson/sjson path.
func EscapePath(key string) string {
	var b strings.Builder
	for i := 0; i < len(key); i++ {
		ch := key[i]
		switch {
		case ch >= 'a' && ch <= 'z', ch >= 'A' && ch <= 'Z', ch >= '0' && ch <= '9',
			ch == '_', ch == '-', ch >= 0x80:
		default:
			b.WriteByte('\\')
		}
		b.WriteByte(ch)
	}
	return b.String()
}
