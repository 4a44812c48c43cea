//go:build !windows && !linux && !darwin && !freebsd

package dynlib

// Platforms with neither dlopen (via purego) nor the Windows loader.

func loadLibrary(path string) (uintptr, error) {
	return 0, ErrUnsupported
}

func getSymbol(handle uintptr, symbol string) (uintptr, error) {
	return 0, ErrUnsupported
}

func closeLibrary(handle uintptr) error {
	return ErrUnsupported
}
