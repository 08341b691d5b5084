package pkgloader

import (
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
)

// Resolver maps the package named in a configuration to a loaded Package.
type Resolver interface {
	Resolve(name string) (*Package, error)
}

// DirResolver resolves package names against a root directory and caches
// the result. A name is tried as given first, then by its base name below
// Root, so both "du" and "packages/du" resolve.
type DirResolver struct {
	Root string

	mu    sync.Mutex
	cache map[string]*Package
}

// NewDirResolver returns a resolver rooted at root.
func NewDirResolver(root string) *DirResolver {
	return &DirResolver{Root: root, cache: make(map[string]*Package)}
}

// Resolve implements Resolver.
func (r *DirResolver) Resolve(name string) (*Package, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if p, ok := r.cache[name]; ok {
		return p, nil
	}

	for _, dir := range r.candidates(name) {
		info, err := os.Stat(dir)
		if err != nil || !info.IsDir() {
			continue
		}
		p, err := Open(dir)
		if err != nil {
			return nil, err
		}
		r.cache[name] = p
		return p, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
}

func (r *DirResolver) candidates(name string) []string {
	clean := strings.Trim(strings.ReplaceAll(name, `\`, "/"), "/")
	if clean == "" {
		return nil
	}
	out := []string{filepath.FromSlash(clean)}
	if r.Root != "" {
		out = append(out, filepath.Join(r.Root, path.Base(clean)))
	}
	return out
}

// BareResolver resolves every name to a bare package.
type BareResolver struct{}

// Resolve implements Resolver.
func (BareResolver) Resolve(name string) (*Package, error) {
	return Bare(path.Base(strings.ReplaceAll(name, `\`, "/"))), nil
}
