package nativeep

import (
	"runtime"

	"github.com/miniort/miniort/dtypes"
	"github.com/miniort/miniort/model"
	"github.com/miniort/miniort/ort/ep"
	"github.com/miniort/miniort/tensors"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

var deviceTypeByName = map[string]ep.DeviceType{
	"CPU": ep.DeviceCPU,
	"GPU": ep.DeviceGPU,
	"NPU": ep.DeviceNPU,
}

type factory struct {
	manifest    *Manifest
	compute     computeFunc
	caps        ep.Capabilities
	deviceTypes map[ep.DeviceType]bool
}

func newFactory(manifest *Manifest, compute computeFunc) *factory {
	f := &factory{
		manifest: manifest,
		compute:  compute,
		caps: ep.Capabilities{
			Operations: make(map[string]bool, len(manifest.Ops)),
			// The compute entry point is float32 only.
			DTypes: map[dtypes.DType]bool{dtypes.Float32: true},
		},
		deviceTypes: make(map[ep.DeviceType]bool, len(manifest.Devices)),
	}
	for _, op := range manifest.Ops {
		if _, found := opCodes[op]; !found {
			klog.Warningf("nativeep: plugin %q declares op %q, which the plugin ABI cannot dispatch, ignoring",
				manifest.Name, op)
			continue
		}
		f.caps.Operations[op] = true
	}
	for _, name := range manifest.Devices {
		deviceType, found := deviceTypeByName[name]
		if !found {
			klog.Warningf("nativeep: plugin %q declares unknown device type %q, ignoring", manifest.Name, name)
			continue
		}
		f.deviceTypes[deviceType] = true
	}
	return f
}

func (f *factory) Name() string { return f.manifest.Name }

func (f *factory) Vendor() (string, uint32) { return f.manifest.Vendor, f.manifest.VendorID }

func (f *factory) Version() string { return f.manifest.Version }

func (f *factory) SupportedDevices(hardware []ep.DeviceInfo) []ep.DeviceInfo {
	var supported []ep.DeviceInfo
	for _, device := range hardware {
		if f.deviceTypes[device.Type] {
			supported = append(supported, device)
		}
	}
	return supported
}

func (f *factory) New(options map[string]string) (ep.Provider, error) {
	if len(options) > 0 {
		klog.V(2).Infof("nativeep: plugin %q ignores provider options %v (not part of the plugin ABI)",
			f.manifest.Name, options)
	}
	return &provider{name: f.manifest.Name, caps: f.caps, compute: f.compute}, nil
}

type provider struct {
	name    string
	caps    ep.Capabilities
	compute computeFunc
}

func (p *provider) Name() string { return p.name }

// QueryCapability claims every node the compute entry point can dispatch: a supported
// binary op over two equally shaped float32 operands. The flat compute call has no
// notion of broadcasting, so nodes with mismatched operand shapes are left to the
// fallback provider.
func (p *provider) QueryCapability(graph *model.Graph) []string {
	known := ep.InferValueShapes(graph)
	var claimed []string
	for _, node := range graph.Nodes {
		if node.Domain != "" || !p.caps.SupportsOp(node.OpType) {
			continue
		}
		if len(node.Inputs) != 2 || len(node.Outputs) != 1 {
			continue
		}
		lhs, lhsOk := known[node.Inputs[0]]
		rhs, rhsOk := known[node.Inputs[1]]
		if !lhsOk || !rhsOk || !lhs.Equal(rhs) || !p.caps.SupportsDType(lhs.DType) {
			continue
		}
		klog.V(1).Infof("nativeep: %s claiming node %q (op %s)", p.name, node.Name, node.OpType)
		claimed = append(claimed, node.Name)
	}
	return claimed
}

func (p *provider) Compile(graph *model.Graph, claimed []string) (map[string]ep.NodeExecutor, error) {
	executors := make(map[string]ep.NodeExecutor, len(claimed))
	for _, name := range claimed {
		node := graph.Node(name)
		if node == nil {
			return nil, errors.Errorf("%s asked to compile unknown node %q", p.name, name)
		}
		code, found := opCodes[node.OpType]
		if !found {
			return nil, errors.Errorf("%s asked to compile node %q with undispatchable op %q", p.name, name, node.OpType)
		}
		executors[name] = p.newExecutor(node.Name, code)
	}
	return executors, nil
}

func (p *provider) newExecutor(nodeName string, code int32) ep.NodeExecutor {
	return func(inputs []*tensors.Tensor) ([]*tensors.Tensor, error) {
		if len(inputs) != 2 {
			return nil, errors.Errorf("node %q expects 2 inputs, got %d", nodeName, len(inputs))
		}
		lhs, rhs := inputs[0], inputs[1]
		if !lhs.Shape().Equal(rhs.Shape()) {
			return nil, errors.Errorf("node %q operands have mismatched shapes %s vs %s",
				nodeName, lhs.Shape(), rhs.Shape())
		}
		output := tensors.FromShape(lhs.Shape())
		var rc int32
		tensors.ConstFlatData(lhs, func(lhsFlat []float32) {
			tensors.ConstFlatData(rhs, func(rhsFlat []float32) {
				tensors.MutableFlatData(output, func(outFlat []float32) {
					rc = p.compute(code, int32(len(lhsFlat)), &lhsFlat[0], &rhsFlat[0], &outFlat[0])
					runtime.KeepAlive(lhsFlat)
					runtime.KeepAlive(rhsFlat)
					runtime.KeepAlive(outFlat)
				})
			})
		})
		if rc != 0 {
			return nil, errors.Errorf("native kernel for node %q failed with code %d", nodeName, rc)
		}
		return []*tensors.Tensor{output}, nil
	}
}

func (p *provider) Close() error { return nil }
