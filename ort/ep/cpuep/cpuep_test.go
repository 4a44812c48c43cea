package cpuep

import (
	"math"
	"testing"

	"github.com/miniort/miniort/dtypes"
	"github.com/miniort/miniort/model"
	"github.com/miniort/miniort/ort/ep"
	"github.com/miniort/miniort/shapes"
	"github.com/miniort/miniort/tensors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/x448/float16"
)

func TestFactory(t *testing.T) {
	f := Factory{}
	require.Equal(t, "CPUExecutionProvider", f.Name())
	vendor, vendorID := f.Vendor()
	require.Equal(t, "miniort", vendor)
	require.Equal(t, uint32(0x0001), vendorID)
	require.NotEmpty(t, f.Version())

	hardware := []ep.DeviceInfo{
		{Type: ep.DeviceGPU, Vendor: "acme", VendorID: 0xa000, DeviceID: 0},
		{Type: ep.DeviceCPU, Vendor: "generic", VendorID: 0, DeviceID: 0},
		{Type: ep.DeviceNPU, Vendor: "acme", VendorID: 0xa000, DeviceID: 1},
	}
	cpus := f.SupportedDevices(hardware)
	require.Len(t, cpus, 1)
	assert.Equal(t, ep.DeviceCPU, cpus[0].Type)
}

func TestQueryCapabilityClaimsDemoGraph(t *testing.T) {
	m := model.FourOpDemoModel()
	p, err := Factory{}.New(nil)
	require.NoError(t, err)
	defer func() { require.NoError(t, p.Close()) }()

	claimed := p.QueryCapability(m.Graph)
	assert.Equal(t, []string{"add_node", "sub_node", "mul_node", "div_node"}, claimed)
}

func TestQueryCapabilitySkipsUnsupported(t *testing.T) {
	p, err := Factory{}.New(nil)
	require.NoError(t, err)
	defer func() { _ = p.Close() }()

	// Unknown op and non-default domain nodes are left unclaimed; the plain Add between
	// them still is.
	vector := shapes.Make(dtypes.Float32, 1, 4)
	graph := model.NewGraph("mixed").
		AddInput("X", vector).
		AddInput("Y", vector).
		AddNode(model.Node{Name: "soft", OpType: "Softmax", Inputs: []string{"X"}, Outputs: []string{"S"}}).
		AddNode(model.Node{Name: "add", OpType: model.OpAdd, Inputs: []string{"X", "Y"}, Outputs: []string{"A"}}).
		AddNode(model.Node{Name: "acme_add", OpType: model.OpAdd, Domain: "com.acme", Inputs: []string{"X", "Y"}, Outputs: []string{"B"}}).
		AddOutput("A", vector)
	assert.Equal(t, []string{"add"}, p.QueryCapability(graph))

	// Known op over an unsupported dtype.
	bytes := shapes.Make(dtypes.Uint8, 4)
	bytesGraph := model.NewGraph("bytes").
		AddInput("X", bytes).
		AddInput("Y", bytes).
		AddNode(model.Node{Name: "add", OpType: model.OpAdd, Inputs: []string{"X", "Y"}, Outputs: []string{"Z"}}).
		AddOutput("Z", bytes)
	assert.Empty(t, p.QueryCapability(bytesGraph))
}

// compileDemo compiles the full demo graph and returns the executors keyed by node name.
func compileDemo(t *testing.T) map[string]ep.NodeExecutor {
	m := model.FourOpDemoModel()
	p, err := Factory{}.New(nil)
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, p.Close()) })

	claimed := p.QueryCapability(m.Graph)
	require.Len(t, claimed, 4)
	executors, err := p.Compile(m.Graph, claimed)
	require.NoError(t, err)
	return executors
}

func TestExecuteDemoGraph(t *testing.T) {
	executors := compileDemo(t)
	x := tensors.FromFlatDataAndDimensions([]float32{1, 2, 3, 4}, 1, 4)
	y := tensors.FromFlatDataAndDimensions([]float32{2, 3, 4, 5}, 1, 4)

	want := map[string][]float32{
		"add_node": {3, 5, 7, 9},
		"sub_node": {-1, -1, -1, -1},
		"mul_node": {2, 6, 12, 20},
		"div_node": {0.5, 2.0 / 3.0, 0.75, 0.8},
	}
	for nodeName, wantFlat := range want {
		outputs, err := executors[nodeName]([]*tensors.Tensor{x, y})
		require.NoErrorf(t, err, "node %s", nodeName)
		require.Len(t, outputs, 1)
		assert.Equal(t, []int{1, 4}, outputs[0].Shape().Dimensions)
		gotFlat := tensors.CopyFlatData[float32](outputs[0])
		for ii := range wantFlat {
			assert.InDeltaf(t, wantFlat[ii], gotFlat[ii], 1e-6, "node %s element %d", nodeName, ii)
		}
	}
}

func TestExecBinaryBroadcast(t *testing.T) {
	lhs := tensors.FromValue([][]float32{{1}, {10}}) // shape [2 1]
	rhs := tensors.FromValue([][]float32{{1, 2, 3}}) // shape [1 3]
	output, err := execBinary(model.OpMul, lhs, rhs)
	require.NoError(t, err)
	require.Equal(t, []int{2, 3}, output.Shape().Dimensions)
	assert.Equal(t, []float32{1, 2, 3, 10, 20, 30}, tensors.CopyFlatData[float32](output))

	// A scalar operand broadcasts over everything.
	scalar := tensors.FromValue(float32(2))
	output, err = execBinary(model.OpAdd, rhs, scalar)
	require.NoError(t, err)
	assert.Equal(t, []float32{3, 4, 5}, tensors.CopyFlatData[float32](output))
}

func TestIntegerDivisionByZero(t *testing.T) {
	lhs := tensors.FromFlatDataAndDimensions([]int32{6, 8}, 2)
	rhs := tensors.FromFlatDataAndDimensions([]int32{2, 0}, 2)
	_, err := execBinary(model.OpDiv, lhs, rhs)
	require.ErrorContains(t, err, "division by zero")

	// Float division by zero is defined, it yields +Inf.
	flhs := tensors.FromFlatDataAndDimensions([]float32{6}, 1)
	frhs := tensors.FromFlatDataAndDimensions([]float32{0}, 1)
	output, err := execBinary(model.OpDiv, flhs, frhs)
	require.NoError(t, err)
	assert.True(t, math.IsInf(float64(tensors.CopyFlatData[float32](output)[0]), 1))
}

func TestFloat16Kernels(t *testing.T) {
	toHalf := func(values ...float32) []float16.Float16 {
		halves := make([]float16.Float16, len(values))
		for ii, v := range values {
			halves[ii] = float16.Fromfloat32(v)
		}
		return halves
	}
	lhs := tensors.FromFlatDataAndDimensions(toHalf(1, 2, 3, 4), 4)
	rhs := tensors.FromFlatDataAndDimensions(toHalf(2, 3, 4, 5), 4)
	output, err := execBinary(model.OpAdd, lhs, rhs)
	require.NoError(t, err)
	got := tensors.CopyFlatData[float16.Float16](output)
	for ii, want := range []float32{3, 5, 7, 9} {
		assert.Equal(t, want, got[ii].Float32())
	}
}

func TestIdentityExecutor(t *testing.T) {
	node := &model.Node{Name: "id", OpType: model.OpIdentity, Inputs: []string{"X"}, Outputs: []string{"Z"}}
	executor, err := newExecutor(node)
	require.NoError(t, err)

	input := tensors.FromFlatDataAndDimensions([]float32{1, 2}, 2)
	outputs, err := executor([]*tensors.Tensor{input})
	require.NoError(t, err)
	require.Len(t, outputs, 1)
	require.True(t, outputs[0].Equal(input))

	// The output is a copy, not an alias.
	tensors.MutableFlatData(outputs[0], func(flat []float32) { flat[0] = 100 })
	assert.Equal(t, []float32{1, 2}, tensors.CopyFlatData[float32](input))

	_, err = executor(nil)
	require.ErrorContains(t, err, "takes 1 input")
}

func TestCompileRejectsUnknownNode(t *testing.T) {
	m := model.FourOpDemoModel()
	p, err := Factory{}.New(nil)
	require.NoError(t, err)
	defer func() { _ = p.Close() }()

	_, err = p.Compile(m.Graph, []string{"no_such_node"})
	require.ErrorContains(t, err, "unknown node")
}
