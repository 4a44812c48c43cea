// Package nativeep adapts native plugin libraries to the execution-provider contract.
//
// A conformant native library exports two symbols:
//
//	const char* miniort_ep_manifest(void);
//	int32_t miniort_ep_compute(int32_t op, int32_t n,
//	                           const float* x, const float* y, float* out);
//
// The manifest is a JSON document (see Manifest) naming the provider, its vendor, the
// ABI version it was built against, the operators it implements and the device types it
// drives. The compute entry point executes one elementwise binary operation over n
// float32 elements and returns 0 on success.
//
// The op codes of the compute call are fixed by the ABI: Add=0, Sub=1, Mul=2, Div=3.
package nativeep

import (
	"github.com/ebitengine/purego"
	"github.com/miniort/miniort/internal/dynlib"
	"github.com/miniort/miniort/ort/ep"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Exported symbol names of the plugin ABI.
const (
	ManifestSymbol = "miniort_ep_manifest"
	ComputeSymbol  = "miniort_ep_compute"
)

// Op codes of the compute entry point.
var opCodes = map[string]int32{
	"Add": 0,
	"Sub": 1,
	"Mul": 2,
	"Div": 3,
}

// computeFunc is the Go view of the native compute entry point.
type computeFunc func(op int32, n int32, x, y, out *float32) int32

// library implements ep.Library over a loaded native plugin.
type library struct {
	lib      *dynlib.Lib
	manifest *Manifest
	compute  computeFunc
}

// Open loads the native plugin at path, reads and validates its manifest, and binds its
// compute entry point. The returned library stays loaded until Close.
func Open(path string) (ep.Library, error) {
	lib, err := dynlib.Load(path)
	if err != nil {
		return nil, err
	}
	closeOnError := func(err error) (ep.Library, error) {
		_ = lib.Close()
		return nil, err
	}

	manifestAddr, err := lib.Lookup(ManifestSymbol)
	if err != nil {
		return closeOnError(errors.WithMessagef(err, "%q does not look like a miniort plugin", path))
	}
	var manifestFn func() string
	purego.RegisterFunc(&manifestFn, manifestAddr)
	manifest, err := ParseManifest([]byte(manifestFn()))
	if err != nil {
		return closeOnError(errors.WithMessagef(err, "rejecting plugin %q", path))
	}

	computeAddr, err := lib.Lookup(ComputeSymbol)
	if err != nil {
		return closeOnError(errors.WithMessagef(err, "plugin %q has a manifest but no compute entry point", path))
	}
	var compute computeFunc
	purego.RegisterFunc(&compute, computeAddr)

	klog.V(1).Infof("nativeep: loaded %q from %q (version %s, ABI %s, %d ops)",
		manifest.Name, path, manifest.Version, manifest.ABI, len(manifest.Ops))
	return &library{lib: lib, manifest: manifest, compute: compute}, nil
}

// CreateFactories implements ep.Library. The registration name is ignored: native
// plugins name their provider in the manifest.
func (l *library) CreateFactories(registrationName string) ([]ep.Factory, error) {
	_ = registrationName
	return []ep.Factory{newFactory(l.manifest, l.compute)}, nil
}

// Close implements ep.Library, unloading the native library.
func (l *library) Close() error {
	return l.lib.Close()
}
