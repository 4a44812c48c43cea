package nativeep

import (
	"encoding/json"

	"github.com/Masterminds/semver/v3"
	"github.com/pkg/errors"
)

// CurrentABI is the plugin ABI constraint this runtime accepts: any 1.x plugin.
const CurrentABI = "^1"

// Manifest is the JSON document a native plugin returns from its manifest entry point,
// describing the execution provider the library implements.
type Manifest struct {
	// Name of the execution provider, e.g. "SampleNativeExecutionProvider".
	Name string `json:"name"`

	// Vendor name and numeric vendor id.
	Vendor   string `json:"vendor"`
	VendorID uint32 `json:"vendor_id"`

	// Version of the provider implementation, semantic versioning.
	Version string `json:"version"`

	// ABI is the plugin ABI version the library was built against. The runtime
	// rejects libraries whose ABI it does not satisfy (see CurrentABI).
	ABI string `json:"abi"`

	// Ops lists the operator names the provider can execute.
	Ops []string `json:"ops"`

	// Devices lists the hardware device types the provider drives: "CPU", "GPU", "NPU".
	Devices []string `json:"devices"`
}

// ParseManifest decodes and validates a plugin manifest.
func ParseManifest(data []byte) (*Manifest, error) {
	m := &Manifest{}
	if err := json.Unmarshal(data, m); err != nil {
		return nil, errors.Wrapf(err, "plugin manifest is not valid JSON")
	}
	if m.Name == "" {
		return nil, errors.New("plugin manifest has no provider name")
	}
	if len(m.Ops) == 0 {
		return nil, errors.Errorf("plugin manifest for %q declares no ops", m.Name)
	}
	if _, err := semver.NewVersion(m.Version); err != nil {
		return nil, errors.Wrapf(err, "plugin manifest for %q has invalid version %q", m.Name, m.Version)
	}

	abiVersion, err := semver.NewVersion(m.ABI)
	if err != nil {
		return nil, errors.Wrapf(err, "plugin manifest for %q has invalid ABI version %q", m.Name, m.ABI)
	}
	constraint, err := semver.NewConstraint(CurrentABI)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid ABI constraint %q", CurrentABI)
	}
	if !constraint.Check(abiVersion) {
		return nil, errors.Errorf("plugin %q was built against ABI %s, this runtime requires %s",
			m.Name, m.ABI, CurrentABI)
	}
	return m, nil
}
