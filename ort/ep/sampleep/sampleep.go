// Package sampleep is the sample plugin execution provider, compiled into the runtime.
//
// It plays the role a native sample plugin would: it registers itself in the ep catalog
// under the stem "sample_ep", so registering a library path like
// "/anything/libsample_ep.so" resolves to this package without touching the dynamic
// loader. That keeps the full plugin lifecycle (register, enumerate, claim, compile,
// unregister) exercisable on machines that have no compiled plugin binary.
//
// The provider it creates is deliberately narrow: float32 Add and Mul over operands of
// equal shapes, nothing else. Unclaimed nodes fall back to the CPU provider, which is
// exactly the negotiation the sample exists to demonstrate.
package sampleep

import (
	"github.com/miniort/miniort/dtypes"
	"github.com/miniort/miniort/model"
	"github.com/miniort/miniort/ort/ep"
	"github.com/miniort/miniort/tensors"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

const (
	// Stem is the library-path stem the package registers under: paths whose base name
	// reduces to this stem (e.g. "libsample_ep.so") resolve to this package.
	Stem = "sample_ep"

	// NameSuffix is appended to the registration name to form the provider name, so
	// registering the library as "SampleEP" yields "SampleEPPluginExecutionProvider".
	NameSuffix = "PluginExecutionProvider"

	// Vendor identification reported by the factory.
	Vendor   = "SampleVendor"
	VendorID = 0x1234

	// Version of the sample provider.
	Version = "1.0.0"
)

func init() {
	ep.Register(Stem, func() (ep.Library, error) { return library{}, nil })
}

// library implements ep.Library. It is stateless: the registration name flows into the
// factories it creates.
type library struct{}

var _ ep.Library = library{}

// CreateFactories implements ep.Library. The provider name is derived from the
// registration name, so the same library can be registered twice under different names.
func (library) CreateFactories(registrationName string) ([]ep.Factory, error) {
	return []ep.Factory{&factory{name: registrationName + NameSuffix}}, nil
}

// Close implements ep.Library. Nothing to unload for an in-process library.
func (library) Close() error { return nil }

type factory struct {
	name string
}

var _ ep.Factory = (*factory)(nil)

func (f *factory) Name() string             { return f.name }
func (f *factory) Vendor() (string, uint32) { return Vendor, VendorID }
func (f *factory) Version() string          { return Version }

// SupportedDevices implements ep.Factory: the sample runs on CPU devices only.
func (f *factory) SupportedDevices(hardware []ep.DeviceInfo) []ep.DeviceInfo {
	var cpus []ep.DeviceInfo
	for _, device := range hardware {
		if device.Type == ep.DeviceCPU {
			cpus = append(cpus, device)
		}
	}
	return cpus
}

// New implements ep.Factory. The sample provider takes no options.
func (f *factory) New(options map[string]string) (ep.Provider, error) {
	for key, value := range options {
		klog.V(1).Infof("%s: ignoring unknown option %q=%q", f.name, key, value)
	}
	return &provider{name: f.name}, nil
}

// claimableOps are the operations the sample provider implements.
var claimableOps = map[string]bool{
	model.OpAdd: true,
	model.OpMul: true,
}

type provider struct {
	name string
}

var _ ep.Provider = (*provider)(nil)

func (p *provider) Name() string { return p.name }

// QueryCapability implements ep.Provider: default-domain Add and Mul nodes over float32
// operands of equal shapes. No broadcasting, on purpose.
func (p *provider) QueryCapability(graph *model.Graph) []string {
	valueShapes := ep.InferValueShapes(graph)
	var claimed []string
	for _, node := range graph.Nodes {
		if node.Domain != "" || !claimableOps[node.OpType] {
			continue
		}
		if len(node.Inputs) != 2 || len(node.Outputs) != 1 {
			continue
		}
		lhs, lhsOk := valueShapes[node.Inputs[0]]
		rhs, rhsOk := valueShapes[node.Inputs[1]]
		if !lhsOk || !rhsOk || lhs.DType != dtypes.Float32 || !lhs.Equal(rhs) {
			continue
		}
		claimed = append(claimed, node.Name)
		klog.V(1).Infof("%s claims node %q (%s)", p.name, node.Name, node.OpType)
	}
	return claimed
}

// Compile implements ep.Provider. Each claimed node gets the kernel of its own
// operation, so an Add node adds and a Mul node multiplies.
func (p *provider) Compile(graph *model.Graph, claimed []string) (map[string]ep.NodeExecutor, error) {
	executors := make(map[string]ep.NodeExecutor, len(claimed))
	for _, nodeName := range claimed {
		node := graph.Node(nodeName)
		if node == nil {
			return nil, errors.Errorf("%s asked to compile unknown node %q", p.name, nodeName)
		}
		var combine func(a, b float32) float32
		switch node.OpType {
		case model.OpAdd:
			combine = func(a, b float32) float32 { return a + b }
		case model.OpMul:
			combine = func(a, b float32) float32 { return a * b }
		default:
			return nil, errors.Errorf("%s asked to compile unclaimable node %q (%s)", p.name, nodeName, node.OpType)
		}
		executors[nodeName] = newExecutor(nodeName, combine)
	}
	return executors, nil
}

func newExecutor(nodeName string, combine func(a, b float32) float32) ep.NodeExecutor {
	return func(inputs []*tensors.Tensor) ([]*tensors.Tensor, error) {
		if len(inputs) != 2 {
			return nil, errors.Errorf("node %q takes 2 inputs, got %d", nodeName, len(inputs))
		}
		if !inputs[0].Shape().Equal(inputs[1].Shape()) {
			return nil, errors.Errorf("node %q requires operands of equal shapes, got %s and %s",
				nodeName, inputs[0].Shape(), inputs[1].Shape())
		}
		output := tensors.FromShape(inputs[0].Shape())
		tensors.ConstFlatData(inputs[0], func(lhsFlat []float32) {
			tensors.ConstFlatData(inputs[1], func(rhsFlat []float32) {
				tensors.MutableFlatData(output, func(outFlat []float32) {
					for ii := range outFlat {
						outFlat[ii] = combine(lhsFlat[ii], rhsFlat[ii])
					}
				})
			})
		})
		return []*tensors.Tensor{output}, nil
	}
}

// Close implements ep.Provider.
func (p *provider) Close() error { return nil }
