//go:build linux || darwin || freebsd

package dynlib

import (
	"github.com/ebitengine/purego"
)

func loadLibrary(path string) (uintptr, error) {
	// RTLD_LOCAL keeps each plugin's symbols out of the global table, so two plugins
	// exporting the same entry points don't collide.
	return purego.Dlopen(path, purego.RTLD_NOW|purego.RTLD_LOCAL)
}

func getSymbol(handle uintptr, symbol string) (uintptr, error) {
	return purego.Dlsym(handle, symbol)
}

func closeLibrary(handle uintptr) error {
	return purego.Dlclose(handle)
}
