package pkgloader

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned by a Resolver for an unknown package.
var ErrNotFound = errors.New("package not found")

// Warning describes a package directory that was skipped.
type Warning struct {
	Path   string
	Reason string
}

// Error implements the error interface.
func (w *Warning) Error() string {
	return fmt.Sprintf("PackageDiscoveryWarning: %s: %s", w.Path, w.Reason)
}

// IsWarning reports whether err is, or wraps, a Warning.
func IsWarning(err error) bool {
	var w *Warning
	return errors.As(err, &w)
}
