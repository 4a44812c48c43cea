// Package ep defines the execution-provider contract of the miniort runtime: the
// interface a pluggable backend implements to claim and execute a subset of a
// computation graph's nodes.
//
// A plugin library (in-process or loaded from a native file, see the nativeep package)
// yields Factories. A Factory advertises which hardware devices it can drive and
// creates Providers. A Provider negotiates in two phases: QueryCapability answers which
// nodes it can execute, then Compile turns the claimed nodes into NodeExecutors. Nodes
// no provider claims fall back to the runtime's default CPU provider.
//
// Providers that don't implement every operation simply leave the node unclaimed; the
// runtime never calls Compile for a node the provider didn't claim.
package ep

import (
	"fmt"

	"github.com/miniort/miniort/model"
	"github.com/miniort/miniort/tensors"
)

// DeviceType is the enumerated category of a hardware device.
type DeviceType int32

const (
	// DeviceCPU is a host CPU device.
	DeviceCPU DeviceType = iota

	// DeviceGPU is a graphics/compute accelerator device.
	DeviceGPU

	// DeviceNPU is a neural processing unit device.
	DeviceNPU
)

// String implements fmt.Stringer.
func (t DeviceType) String() string {
	switch t {
	case DeviceCPU:
		return "CPU"
	case DeviceGPU:
		return "GPU"
	case DeviceNPU:
		return "NPU"
	}
	return fmt.Sprintf("DeviceType(%d)", int32(t))
}

// DeviceInfo identifies one hardware device: its category, the vendor string and the
// numeric vendor/device identifiers. Read-only once discovered.
type DeviceInfo struct {
	Type     DeviceType
	Vendor   string
	VendorID uint32
	DeviceID uint32
}

// String implements fmt.Stringer.
func (d DeviceInfo) String() string {
	return fmt.Sprintf("%s(%s, vendor=0x%04x, device=0x%04x)", d.Type, d.Vendor, d.VendorID, d.DeviceID)
}

// NodeExecutor executes one compiled graph node: it consumes the node's input tensors
// in declaration order and returns the node's output tensors in declaration order.
type NodeExecutor func(inputs []*tensors.Tensor) ([]*tensors.Tensor, error)

// Factory creates Providers and describes them: one Factory corresponds to one
// execution-provider implementation made available by a plugin library.
type Factory interface {
	// Name returns the execution-provider name, e.g. "CPUExecutionProvider".
	// Device enumeration and provider selection are keyed by this name.
	Name() string

	// Vendor returns the provider vendor name and its numeric vendor id.
	Vendor() (name string, id uint32)

	// Version returns the provider implementation version.
	Version() string

	// SupportedDevices filters the discovered hardware devices down to the ones this
	// provider can drive. An empty result means the provider advertises no devices.
	SupportedDevices(hardware []DeviceInfo) []DeviceInfo

	// New creates a Provider configured with the given options (keys are provider
	// specific, an empty or nil map selects defaults).
	New(options map[string]string) (Provider, error)
}

// Provider is one configured execution-provider instance, bound to a session for its
// lifetime. The runtime calls QueryCapability once, Compile once with a subset of the
// claimed nodes, and Close when the session is released.
type Provider interface {
	// Name returns the same name as the Factory that created the provider.
	Name() string

	// QueryCapability returns the names of the graph nodes this provider can execute.
	// Returning a node the provider cannot later compile is an error; returning fewer
	// nodes than it could handle is always safe.
	QueryCapability(graph *model.Graph) []string

	// Compile prepares executors for the claimed nodes. Every name in claimed was
	// previously returned by QueryCapability for the same graph.
	Compile(graph *model.Graph, claimed []string) (map[string]NodeExecutor, error)

	// Close releases any resources held by the provider.
	Close() error
}

// Library is a loaded plugin: the bridge between a registered library name and the
// factories it provides. In-process implementations register an OpenFunc in the catalog
// (see Register); native libraries are adapted by the nativeep package.
type Library interface {
	// CreateFactories instantiates the library's factories under the logical name the
	// library was registered with. Some libraries derive their provider names from it.
	CreateFactories(registrationName string) ([]Factory, error)

	// Close unloads the library. Called when the library is unregistered.
	Close() error
}
