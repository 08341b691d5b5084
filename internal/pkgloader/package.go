package pkgloader

import (
	"compress/gzip"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/tidwall/sjson"

	"github.com/roach88/botscript/internal/config"
	"github.com/roach88/botscript/internal/identity"
	"github.com/roach88/botscript/internal/script"
)

// Well-known file names.
const (
	ServersFile = "servers.lua"
	BaseFile    = "base.lua"

	extLua   = ".lua"
	extLuaGz = ".lua.gz"
)

// Package is a loaded package directory.
type Package struct {
	// Name is the directory base name.
	Name string

	// Path is the directory the package was loaded from.
	Path string

	// Servers lists the server URLs. A servers table written as a
	// URL to tag map yields its keys, sorted.
	Servers []string

	// ServerTags maps a server URL to its tag when servers.lua declares one.
	ServerTags map[string]string

	// BaseSource is the content of base.lua, empty when absent.
	BaseSource string

	// Modules are sorted by name.
	Modules []*Module
}

// Module is one module file of a package.
type Module struct {
	Name   string
	Source string

	// Fields are sorted by name.
	Fields []Field

	// Defaults come from the status_<name> table.
	Defaults map[string]string
}

// Field returns the named field.
func (m *Module) Field(name string) (Field, bool) {
	for _, f := range m.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}

// Module returns the named module.
func (p *Package) Module(name string) (*Module, bool) {
	for _, m := range p.Modules {
		if m.Name == name {
			return m, true
		}
	}
	return nil, false
}

// Bare returns a package with no servers, modules or login script.
func Bare(name string) *Package {
	return &Package{Name: name}
}

// Open loads the package in dir.
func Open(dir string) (*Package, error) {
	serversSrc, err := os.ReadFile(filepath.Join(dir, ServersFile))
	if err != nil {
		return nil, &Warning{Path: dir, Reason: "missing " + ServersFile}
	}

	servers, tags, err := readServers(string(serversSrc))
	if err != nil {
		return nil, &Warning{Path: dir, Reason: err.Error()}
	}

	p := &Package{
		Name:       filepath.Base(dir),
		Path:       dir,
		Servers:    servers,
		ServerTags: tags,
	}

	if base, err := os.ReadFile(filepath.Join(dir, BaseFile)); err == nil {
		p.BaseSource = string(base)
	} else if !errors.Is(err, fs.ErrNotExist) {
		return nil, &Warning{Path: dir, Reason: err.Error()}
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, &Warning{Path: dir, Reason: err.Error()}
	}
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || strings.HasPrefix(name, ".") || name == ServersFile || name == BaseFile {
			continue
		}
		stem, ok := moduleStem(name)
		if !ok {
			continue
		}

		src, err := readModule(filepath.Join(dir, name))
		if err != nil {
			return nil, &Warning{Path: dir, Reason: fmt.Sprintf("%s: %v", name, err)}
		}
		m, err := parseModule(stem, name, src)
		if err != nil {
			return nil, &Warning{Path: dir, Reason: err.Error()}
		}
		p.Modules = append(p.Modules, m)
	}
	sort.Slice(p.Modules, func(i, j int) bool { return p.Modules[i].Name < p.Modules[j].Name })

	return p, nil
}

func moduleStem(name string) (string, bool) {
	switch {
	case strings.HasSuffix(name, extLuaGz):
		return strings.TrimSuffix(name, extLuaGz), true
	case strings.HasSuffix(name, extLua):
		return strings.TrimSuffix(name, extLua), true
	}
	return "", false
}

func readModule(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	var r io.Reader = f
	if strings.HasSuffix(path, extLuaGz) {
		gz, err := gzip.NewReader(f)
		if err != nil {
			return "", err
		}
		defer gz.Close()
		r = gz
	}

	b, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// readServers accepts a list of URLs or a URL to tag map.
func readServers(src string) ([]string, map[string]string, error) {
	s := script.NewState()
	defer s.Close()

	if err := s.LoadString(ServersFile, src); err != nil {
		return nil, nil, err
	}
	t, ok := s.Table("servers")
	if !ok {
		return nil, nil, errors.New("servers table not defined")
	}
	if servers := script.StringList(t); len(servers) > 0 {
		return servers, nil, nil
	}

	tags := script.StringMap(t)
	if len(tags) == 0 {
		return nil, nil, errors.New("servers table is empty")
	}
	servers := make([]string, 0, len(tags))
	for server := range tags {
		servers = append(servers, server)
	}
	sort.Strings(servers)
	return servers, tags, nil
}

// ServerTag returns the tag servers.lua assigns to server, falling back
// to the tag derived from the URL.
func (p *Package) ServerTag(server string) string {
	if tag, ok := p.ServerTags[server]; ok && tag != "" {
		return tag
	}
	return identity.ServerTag(server)
}

// Identifier is identity.New with the server tag taken from servers.lua.
func (p *Package) Identifier(username, server string) string {
	return identity.Join(p.Name, p.ServerTag(server), username)
}

func parseModule(name, file, src string) (*Module, error) {
	s := script.NewState()
	defer s.Close()

	if err := s.LoadString(file, src); err != nil {
		return nil, err
	}

	m := &Module{Name: name, Source: src, Defaults: map[string]string{}}
	if t, ok := s.Table("interface_" + name); ok {
		fields, err := fieldsFromTable(t)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", file, err)
		}
		m.Fields = fields
	}
	if t, ok := s.Table("status_" + name); ok {
		m.Defaults = script.StringMap(t)
	}
	return m, nil
}

// Discover loads every valid package directly below path. Invalid
// directories are returned as warnings. A missing path yields nothing.
func Discover(path string) ([]*Package, []*Warning) {
	entries, err := os.ReadDir(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, []*Warning{{Path: path, Reason: err.Error()}}
	}

	var (
		pkgs     []*Package
		warnings []*Warning
	)
	for _, entry := range entries {
		if !entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		p, err := Open(filepath.Join(path, entry.Name()))
		if err != nil {
			var w *Warning
			if errors.As(err, &w) {
				warnings = append(warnings, w)
			} else {
				warnings = append(warnings, &Warning{Path: entry.Name(), Reason: err.Error()})
			}
			continue
		}
		pkgs = append(pkgs, p)
	}
	sort.Slice(pkgs, func(i, j int) bool { return pkgs[i].Name < pkgs[j].Name })
	return pkgs, warnings
}

// LoadPackages returns the sorted names of the valid packages below path,
// logging skipped directories.
func LoadPackages(path string, logger *slog.Logger) []string {
	if logger == nil {
		logger = slog.Default()
	}

	pkgs, warnings := Discover(path)
	for _, w := range warnings {
		logger.Warn("package skipped", "path", w.Path, "reason", w.Reason)
	}

	names := make([]string, 0, len(pkgs))
	for _, p := range pkgs {
		names = append(names, p.Name)
	}
	return names
}

// Description returns the package interface as JSON:
//
//	{"name":"du","servers":[...],"base":{<field>:{...}},"<module>":{...}}
func (p *Package) Description() string {
	out := []byte(`{}`)
	out, _ = sjson.SetBytes(out, "name", p.Name)
	servers := p.Servers
	if servers == nil {
		servers = []string{}
	}
	out, _ = sjson.SetBytes(out, "servers", servers)
	if len(p.ServerTags) > 0 {
		out, _ = sjson.SetBytes(out, "server_tags", p.ServerTags)
	}

	out = describeFields(out, "base", BaseFields())
	for _, m := range p.Modules {
		out = describeFields(out, m.Name, m.Fields)
	}
	return string(out)
}

func describeFields(out []byte, module string, fields []Field) []byte {
	prefix := config.EscapePath(module)
	out, _ = sjson.SetRawBytes(out, prefix, []byte(`{}`))
	for _, f := range fields {
		path := prefix + "." + config.EscapePath(f.Name)
		out, _ = sjson.SetRawBytes(out, path, []byte(`{}`))
		out, _ = sjson.SetBytes(out, path+".input_type", f.InputType)
		out, _ = sjson.SetBytes(out, path+".display_name", f.DisplayName)
		if f.ValueRange != "" {
			out, _ = sjson.SetBytes(out, path+".value_range", f.ValueRange)
		}
		if len(f.Values) > 0 {
			out, _ = sjson.SetBytes(out, path+".values", f.Values)
		}
	}
	return out
}
