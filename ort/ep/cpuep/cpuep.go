// Package cpuep implements the runtime's built-in CPU execution provider.
//
// It is the fallback every environment installs at construction: nodes that no plugin
// provider claims are compiled here, so sessions over supported graphs always have a
// complete execution plan. It is a plain Go implementation, no cgo or SIMD, favoring
// simplicity over speed.
package cpuep

import (
	"github.com/miniort/miniort/dtypes"
	"github.com/miniort/miniort/model"
	"github.com/miniort/miniort/ort/ep"
	"github.com/miniort/miniort/shapes"
	"github.com/miniort/miniort/tensors"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

const (
	// Name is the provider name sessions and device filters see.
	Name = "CPUExecutionProvider"

	// Vendor and VendorID identify the runtime itself as the provider's vendor.
	Vendor   = "miniort"
	VendorID = 0x0001

	// Version of the CPU provider implementation.
	Version = "0.1.0"
)

// Capabilities lists the operations and dtypes the CPU provider handles. Treat as
// read-only; the provider works on a Clone.
var Capabilities = ep.Capabilities{
	Operations: map[string]bool{
		model.OpAdd:      true,
		model.OpSub:      true,
		model.OpMul:      true,
		model.OpDiv:      true,
		model.OpIdentity: true,
	},
	DTypes: map[dtypes.DType]bool{
		dtypes.Float16: true,
		dtypes.Float32: true,
		dtypes.Float64: true,
		dtypes.Int32:   true,
		dtypes.Int64:   true,
	},
}

// Factory creates CPU providers. The zero value is ready to use: the environment
// installs one directly at construction, it never goes through the plugin catalog.
type Factory struct{}

// Compile-time check.
var _ ep.Factory = Factory{}

// Name implements ep.Factory.
func (Factory) Name() string { return Name }

// Vendor implements ep.Factory.
func (Factory) Vendor() (string, uint32) { return Vendor, VendorID }

// Version implements ep.Factory.
func (Factory) Version() string { return Version }

// SupportedDevices implements ep.Factory: the CPU provider drives CPU devices only.
func (Factory) SupportedDevices(hardware []ep.DeviceInfo) []ep.DeviceInfo {
	var cpus []ep.DeviceInfo
	for _, device := range hardware {
		if device.Type == ep.DeviceCPU {
			cpus = append(cpus, device)
		}
	}
	return cpus
}

// New implements ep.Factory. The CPU provider takes no options; unknown keys are
// logged and ignored.
func (Factory) New(options map[string]string) (ep.Provider, error) {
	for key, value := range options {
		klog.V(1).Infof("%s: ignoring unknown option %q=%q", Name, key, value)
	}
	return &Provider{capabilities: Capabilities.Clone()}, nil
}

// Provider executes elementwise nodes on the host CPU.
type Provider struct {
	capabilities ep.Capabilities
}

// Compile-time check.
var _ ep.Provider = (*Provider)(nil)

// Name implements ep.Provider.
func (p *Provider) Name() string { return Name }

// QueryCapability implements ep.Provider: it claims every default-domain node whose
// operation is implemented and whose value shapes are all inferable with supported
// dtypes. Arity mismatches surface as non-inferable outputs, so they are left
// unclaimed here and rejected later by graph validation.
func (p *Provider) QueryCapability(graph *model.Graph) []string {
	valueShapes := ep.InferValueShapes(graph)
	var claimed []string
	for _, node := range graph.Nodes {
		if p.claims(node, valueShapes) {
			claimed = append(claimed, node.Name)
			klog.V(1).Infof("%s claims node %q (%s)", Name, node.Name, node.OpType)
		}
	}
	return claimed
}

func (p *Provider) claims(node model.Node, valueShapes map[string]shapes.Shape) bool {
	if node.Domain != "" || !p.capabilities.SupportsOp(node.OpType) {
		return false
	}
	for _, values := range [][]string{node.Inputs, node.Outputs} {
		for _, name := range values {
			shape, ok := valueShapes[name]
			if !ok || !p.capabilities.SupportsDType(shape.DType) {
				return false
			}
		}
	}
	return true
}

// Compile implements ep.Provider.
func (p *Provider) Compile(graph *model.Graph, claimed []string) (map[string]ep.NodeExecutor, error) {
	executors := make(map[string]ep.NodeExecutor, len(claimed))
	for _, nodeName := range claimed {
		node := graph.Node(nodeName)
		if node == nil {
			return nil, errors.Errorf("%s asked to compile unknown node %q", Name, nodeName)
		}
		executor, err := newExecutor(node)
		if err != nil {
			return nil, err
		}
		executors[nodeName] = executor
	}
	return executors, nil
}

func newExecutor(node *model.Node) (ep.NodeExecutor, error) {
	nodeName, opType := node.Name, node.OpType
	switch opType {
	case model.OpIdentity:
		return func(inputs []*tensors.Tensor) ([]*tensors.Tensor, error) {
			if len(inputs) != 1 {
				return nil, errors.Errorf("node %q (%s) takes 1 input, got %d", nodeName, opType, len(inputs))
			}
			return []*tensors.Tensor{inputs[0].Clone()}, nil
		}, nil

	case model.OpAdd, model.OpSub, model.OpMul, model.OpDiv:
		return func(inputs []*tensors.Tensor) ([]*tensors.Tensor, error) {
			if len(inputs) != 2 {
				return nil, errors.Errorf("node %q (%s) takes 2 inputs, got %d", nodeName, opType, len(inputs))
			}
			output, err := execBinary(opType, inputs[0], inputs[1])
			if err != nil {
				return nil, errors.WithMessagef(err, "node %q", nodeName)
			}
			return []*tensors.Tensor{output}, nil
		}, nil
	}
	return nil, errors.Errorf("%s cannot compile op %s (node %q)", Name, opType, nodeName)
}

// Close implements ep.Provider. The CPU provider holds no resources.
func (p *Provider) Close() error { return nil }
