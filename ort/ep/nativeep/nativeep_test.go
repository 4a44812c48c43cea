package nativeep

import (
	"os"
	"testing"

	"github.com/miniort/miniort/model"
	"github.com/miniort/miniort/ort/ep"
	"github.com/stretchr/testify/require"
)

const validManifest = `{
	"name": "SampleNativeExecutionProvider",
	"vendor": "SampleVendor",
	"vendor_id": 4660,
	"version": "1.0.0",
	"abi": "1.0",
	"ops": ["Add", "Mul"],
	"devices": ["CPU"]
}`

func TestParseManifest(t *testing.T) {
	m, err := ParseManifest([]byte(validManifest))
	require.NoError(t, err)
	require.Equal(t, "SampleNativeExecutionProvider", m.Name)
	require.Equal(t, "SampleVendor", m.Vendor)
	require.Equal(t, uint32(0x1234), m.VendorID)
	require.Equal(t, []string{"Add", "Mul"}, m.Ops)
}

func TestParseManifestRejects(t *testing.T) {
	testCases := []struct {
		name     string
		manifest string
	}{
		{"not json", `also sprach der plugin`},
		{"no name", `{"version": "1.0.0", "abi": "1.0", "ops": ["Add"]}`},
		{"no ops", `{"name": "P", "version": "1.0.0", "abi": "1.0"}`},
		{"bad version", `{"name": "P", "version": "latest", "abi": "1.0", "ops": ["Add"]}`},
		{"bad abi", `{"name": "P", "version": "1.0.0", "abi": "new", "ops": ["Add"]}`},
		{"future abi", `{"name": "P", "version": "1.0.0", "abi": "2.0", "ops": ["Add"]}`},
	}
	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			_, err := ParseManifest([]byte(testCase.manifest))
			require.Error(t, err)
		})
	}
}

func TestFactoryFromManifest(t *testing.T) {
	m, err := ParseManifest([]byte(validManifest))
	require.NoError(t, err)
	f := newFactory(m, nil)

	require.Equal(t, "SampleNativeExecutionProvider", f.Name())
	vendor, vendorID := f.Vendor()
	require.Equal(t, "SampleVendor", vendor)
	require.Equal(t, uint32(0x1234), vendorID)
	require.Equal(t, "1.0.0", f.Version())

	hardware := []ep.DeviceInfo{
		{Type: ep.DeviceCPU, Vendor: "x86_64"},
		{Type: ep.DeviceGPU, Vendor: "acme"},
	}
	supported := f.SupportedDevices(hardware)
	require.Len(t, supported, 1)
	require.Equal(t, ep.DeviceCPU, supported[0].Type)
}

func TestQueryCapabilityClaimsDispatchableNodes(t *testing.T) {
	m, err := ParseManifest([]byte(validManifest))
	require.NoError(t, err)
	f := newFactory(m, nil)
	p, err := f.New(nil)
	require.NoError(t, err)
	defer func() { require.NoError(t, p.Close()) }()

	claimed := p.QueryCapability(model.FourOpDemoModel().Graph)
	require.Equal(t, []string{"add_node", "mul_node"}, claimed)
}

func TestOpenMissingLibrary(t *testing.T) {
	_, err := Open("/no/such/plugin.so")
	require.Error(t, err)
}

// TestOpenRealPlugin runs the full native path against a real conformant plugin built
// from C (see the plugin ABI in the package documentation). Set MINIORT_NATIVE_EP to
// the plugin path to enable it.
func TestOpenRealPlugin(t *testing.T) {
	path := os.Getenv("MINIORT_NATIVE_EP")
	if path == "" {
		t.Skip("MINIORT_NATIVE_EP not set, skipping native plugin test")
	}
	lib, err := Open(path)
	require.NoError(t, err)
	defer func() { require.NoError(t, lib.Close()) }()

	factories, err := lib.CreateFactories("NativeEP")
	require.NoError(t, err)
	require.NotEmpty(t, factories)
	require.NotEmpty(t, factories[0].Name())
}
