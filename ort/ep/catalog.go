package ep

import (
	"path/filepath"
	"slices"
	"strings"

	"golang.org/x/exp/maps"
)

// OpenFunc opens an in-process plugin library.
type OpenFunc func() (Library, error)

var catalog = make(map[string]OpenFunc)

// Register an in-process plugin library under the given library stem (see Stem).
// When a library path whose stem matches is registered with the runtime, the catalog
// entry is used instead of loading a native library from the filesystem.
//
// To be safe, call Register during initialization of a package.
func Register(stem string, open OpenFunc) {
	catalog[stem] = open
}

// Lookup returns the catalog entry for the given library stem, if any.
func Lookup(stem string) (OpenFunc, bool) {
	open, found := catalog[stem]
	return open, found
}

// Stems returns the sorted library stems present in the catalog.
func Stems() []string {
	stems := maps.Keys(catalog)
	slices.Sort(stems)
	return stems
}

// Stem returns the platform-independent core of a plugin library filename: the base
// name with the conventional "lib" prefix and shared-library extension removed. So
// "../build/libsample_ep.so", "sample_ep.dll" and "libsample_ep.dylib" all map to
// "sample_ep".
func Stem(path string) string {
	base := filepath.Base(path)
	if idx := strings.Index(base, ".so"); idx >= 0 {
		// Covers versioned names like "libfoo.so.1.2".
		base = base[:idx]
	} else {
		base = strings.TrimSuffix(base, filepath.Ext(base))
	}
	return strings.TrimPrefix(base, "lib")
}
