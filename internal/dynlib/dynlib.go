// Package dynlib loads native shared libraries and resolves their exported symbols.
// It is the lowest layer of native plugin support: the nativeep package builds the
// plugin ABI on top of it.
//
// On linux, darwin and freebsd it uses github.com/ebitengine/purego
// (dlopen/dlsym/dlclose), on Windows the system loader via
// golang.org/x/sys/windows. Load fails with ErrUnsupported everywhere else.
package dynlib

import (
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// ErrUnsupported is returned by Load on platforms without dynamic library support.
var ErrUnsupported = errors.New("dynamic library loading is not supported on this platform")

// Lib is a loaded shared library.
type Lib struct {
	path   string
	handle uintptr
}

// Load opens the shared library at path. The path is used as given: relative paths
// resolve against the process working directory and the platform's library search
// rules.
func Load(path string) (*Lib, error) {
	handle, err := loadLibrary(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to load dynamic library %q", path)
	}
	if handle == 0 {
		return nil, errors.Errorf("failed to load dynamic library %q", path)
	}
	klog.V(1).Infof("dynlib: loaded %q", path)
	return &Lib{path: path, handle: handle}, nil
}

// Path returns the path the library was loaded from.
func (l *Lib) Path() string { return l.path }

// Lookup resolves an exported symbol to its address.
func (l *Lib) Lookup(symbol string) (uintptr, error) {
	if l.handle == 0 {
		return 0, errors.Errorf("library %q is already closed", l.path)
	}
	addr, err := getSymbol(l.handle, symbol)
	if err != nil {
		return 0, errors.Wrapf(err, "symbol %q not found in %q", symbol, l.path)
	}
	if addr == 0 {
		return 0, errors.Errorf("symbol %q not found in %q", symbol, l.path)
	}
	return addr, nil
}

// Close unloads the library. Symbol addresses previously resolved from it become
// invalid. Close is idempotent.
func (l *Lib) Close() error {
	if l.handle == 0 {
		return nil
	}
	handle := l.handle
	l.handle = 0
	if err := closeLibrary(handle); err != nil {
		return errors.Wrapf(err, "failed to close dynamic library %q", l.path)
	}
	klog.V(1).Infof("dynlib: closed %q", l.path)
	return nil
}
