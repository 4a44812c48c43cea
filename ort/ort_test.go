package ort

import (
	"context"
	"strings"
	"testing"

	"github.com/miniort/miniort/dtypes"
	"github.com/miniort/miniort/model"
	"github.com/miniort/miniort/ort/ep"
	"github.com/miniort/miniort/shapes"
	"github.com/miniort/miniort/tensors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	_ "github.com/miniort/miniort/ort/ep/sampleep"
)

const samplePath = "../build/libsample_ep.so"

// newTestEnv builds an Env over one fixed CPU device, so enumeration is identical on
// every machine the tests run on.
func newTestEnv(t *testing.T) *Env {
	env := NewEnv(WithHardware([]ep.DeviceInfo{
		{Type: ep.DeviceCPU, Vendor: "generic", VendorID: 0x0000, DeviceID: 0x0000},
	}))
	t.Cleanup(func() { _ = env.Close() })
	return env
}

func serializedDemoModel(t *testing.T) []byte {
	data, err := model.FourOpDemoModel().Serialize()
	require.NoError(t, err)
	return data
}

func demoInputs() map[string]*tensors.Tensor {
	return map[string]*tensors.Tensor{
		"X": tensors.FromFlatDataAndDimensions([]float32{1, 2, 3, 4}, 1, 4),
		"Y": tensors.FromFlatDataAndDimensions([]float32{2, 3, 4, 5}, 1, 4),
	}
}

func devicesByName(devices []EpDevice, substr string) []EpDevice {
	var matched []EpDevice
	for _, device := range devices {
		if strings.Contains(device.EpName, substr) {
			matched = append(matched, device)
		}
	}
	return matched
}

func TestRegisterAndEnumerate(t *testing.T) {
	env := newTestEnv(t)

	devices := env.EpDevices()
	require.Len(t, devices, 1, "a fresh environment only has the built-in CPU provider")
	assert.Equal(t, "CPUExecutionProvider", devices[0].EpName)
	assert.Equal(t, "miniort", devices[0].EpVendor)
	assert.Equal(t, ep.DeviceCPU, devices[0].Device.Type)

	require.NoError(t, env.RegisterExecutionProviderLibrary("SampleEP", samplePath))
	devices = env.EpDevices()
	require.Len(t, devices, 2)
	assert.Equal(t, "CPUExecutionProvider", devices[0].EpName, "built-in provider enumerates first")
	assert.Equal(t, "SampleEPPluginExecutionProvider", devices[1].EpName)
	assert.Equal(t, "SampleVendor", devices[1].EpVendor)
	assert.Equal(t, uint32(0x1234), devices[1].EpVendorID)
	assert.Equal(t, "1.0.0", devices[1].EpVersion)

	require.NoError(t, env.UnregisterExecutionProviderLibrary("SampleEP"))
	require.Len(t, env.EpDevices(), 1)
}

func TestRegisterDuplicateName(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, env.RegisterExecutionProviderLibrary("SampleEP", samplePath))

	err := env.RegisterExecutionProviderLibrary("SampleEP", samplePath)
	var regErr *RegistrationError
	require.ErrorAs(t, err, &regErr)
	assert.Equal(t, "SampleEP", regErr.Name)
	assert.Contains(t, regErr.Reason, "already registered")

	// A different logical name for the same library is fine.
	require.NoError(t, env.RegisterExecutionProviderLibrary("SampleEP2", samplePath))
}

func TestRegisterUnloadableLibrary(t *testing.T) {
	env := newTestEnv(t)
	err := env.RegisterExecutionProviderLibrary("Missing", "/no/such/dir/libmissing_ep.so")
	var regErr *RegistrationError
	require.ErrorAs(t, err, &regErr)
	assert.Contains(t, regErr.Reason, "cannot be loaded")
	require.Empty(t, devicesByName(env.EpDevices(), "Missing"))
}

func TestUnregisterUnknownName(t *testing.T) {
	env := newTestEnv(t)
	err := env.UnregisterExecutionProviderLibrary("NeverRegistered")
	var unregErr *UnregistrationError
	require.ErrorAs(t, err, &unregErr)
	assert.Contains(t, unregErr.Reason, "not registered")
}

func TestCPUOnlySessionRunsAllOps(t *testing.T) {
	env := newTestEnv(t)
	session, err := NewSession(env, serializedDemoModel(t), nil)
	require.NoError(t, err)

	for _, nodeName := range []string{"add_node", "sub_node", "mul_node", "div_node"} {
		assert.Equal(t, "CPUExecutionProvider", session.ClaimedBy(nodeName))
	}

	outputs, err := session.Run(context.Background(), demoInputs())
	require.NoError(t, err)
	require.Len(t, outputs, 4)
	want := [][]float32{
		{3, 5, 7, 9},
		{-1, -1, -1, -1},
		{2, 6, 12, 20},
		{0.5, 2.0 / 3.0, 0.75, 0.8},
	}
	for ii, wantFlat := range want {
		gotFlat := tensors.CopyFlatData[float32](outputs[ii])
		for jj := range wantFlat {
			assert.InDelta(t, wantFlat[jj], gotFlat[jj], 1e-4)
		}
	}

	require.NoError(t, session.Close())
	require.NoError(t, session.Close(), "Close is idempotent")
	_, err = session.Run(context.Background(), demoInputs())
	require.ErrorIs(t, err, ErrSessionClosed)
}

func TestPluginClaimsAndTeardownOrdering(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, env.RegisterExecutionProviderLibrary("SampleEP", samplePath))

	sampleDevices := devicesByName(env.EpDevices(), "SampleEP")
	require.NotEmpty(t, sampleDevices)
	so := &SessionOptions{}
	require.NoError(t, so.AppendExecutionProviderForDevices(sampleDevices, nil))

	session, err := NewSession(env, serializedDemoModel(t), so)
	require.NoError(t, err)
	require.NotEmpty(t, session.ID())

	// The plugin was appended first, so it wins the nodes it claims; the rest falls
	// back to the built-in CPU provider.
	assert.Equal(t, "SampleEPPluginExecutionProvider", session.ClaimedBy("add_node"))
	assert.Equal(t, "SampleEPPluginExecutionProvider", session.ClaimedBy("mul_node"))
	assert.Equal(t, "CPUExecutionProvider", session.ClaimedBy("sub_node"))
	assert.Equal(t, "CPUExecutionProvider", session.ClaimedBy("div_node"))

	outputs, err := session.Run(context.Background(), demoInputs())
	require.NoError(t, err)
	require.Len(t, outputs, 4)
	assert.Equal(t, []float32{3, 5, 7, 9}, tensors.CopyFlatData[float32](outputs[0]))
	assert.Equal(t, []float32{2, 6, 12, 20}, tensors.CopyFlatData[float32](outputs[2]))

	// The library cannot go away under a live session.
	err = env.UnregisterExecutionProviderLibrary("SampleEP")
	var unregErr *UnregistrationError
	require.ErrorAs(t, err, &unregErr)
	assert.Contains(t, unregErr.Reason, session.ID())

	require.NoError(t, session.Close())
	require.NoError(t, env.UnregisterExecutionProviderLibrary("SampleEP"))
}

func TestSessionCreationFailsWhenNoProviderSupportsANode(t *testing.T) {
	env := newTestEnv(t)
	vector := shapes.Make(dtypes.Float32, 1, 4)
	graph := model.NewGraph("softmax").
		AddInput("X", vector).
		AddNode(model.Node{Name: "soft", OpType: "Softmax", Inputs: []string{"X"}, Outputs: []string{"Z"}}).
		AddOutput("Z", vector)
	data, err := model.NewModel(graph).Serialize()
	require.NoError(t, err)

	_, err = NewSession(env, data, nil)
	var createErr *SessionCreationError
	require.ErrorAs(t, err, &createErr)
	assert.Contains(t, createErr.Reason, "no execution provider supports node")
	assert.Contains(t, createErr.Reason, "soft")
}

func TestSessionCreationSurfacesValidation(t *testing.T) {
	env := newTestEnv(t)

	// Bad wiring: the node consumes a value nobody declares.
	vector := shapes.Make(dtypes.Float32, 1, 4)
	graph := model.NewGraph("broken").
		AddInput("X", vector).
		AddNode(model.Node{Name: "add", OpType: model.OpAdd, Inputs: []string{"X", "ghost"}, Outputs: []string{"Z"}}).
		AddOutput("Z", vector)
	data, err := model.NewModel(graph).Serialize()
	require.NoError(t, err)

	_, err = NewSession(env, data, nil)
	var valErr *model.ValidationError
	require.ErrorAs(t, err, &valErr)
	assert.Contains(t, valErr.Reason, "ghost")

	// Bytes that are not a model at all.
	_, err = NewSession(env, []byte("not a model"), nil)
	var createErr *SessionCreationError
	require.ErrorAs(t, err, &createErr)
	assert.Contains(t, createErr.Reason, "deserializing model")
}

func TestRunValidatesInputs(t *testing.T) {
	env := newTestEnv(t)
	session, err := NewSession(env, serializedDemoModel(t), nil)
	require.NoError(t, err)
	defer func() { require.NoError(t, session.Close()) }()

	ctx := context.Background()
	var execErr *ExecutionError

	inputs := demoInputs()
	delete(inputs, "Y")
	_, err = session.Run(ctx, inputs)
	require.ErrorAs(t, err, &execErr)
	assert.Contains(t, execErr.Reason, "missing input")

	inputs = demoInputs()
	inputs["Y"] = tensors.FromFlatDataAndDimensions([]float32{1, 2}, 1, 2)
	_, err = session.Run(ctx, inputs)
	require.ErrorAs(t, err, &execErr)
	assert.Contains(t, execErr.Reason, "shape")

	inputs = demoInputs()
	inputs["Extra"] = tensors.FromFlatDataAndDimensions([]float32{1}, 1)
	_, err = session.Run(ctx, inputs)
	require.ErrorAs(t, err, &execErr)
	assert.Contains(t, execErr.Reason, "unknown input")
}

func TestRunHonorsContext(t *testing.T) {
	env := newTestEnv(t)
	session, err := NewSession(env, serializedDemoModel(t), nil)
	require.NoError(t, err)
	defer func() { require.NoError(t, session.Close()) }()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = session.Run(ctx, demoInputs())
	var execErr *ExecutionError
	require.ErrorAs(t, err, &execErr)
	require.ErrorIs(t, err, context.Canceled)
}

func TestKernelFailureSurfacesAsExecutionError(t *testing.T) {
	env := newTestEnv(t)
	pair := shapes.Make(dtypes.Int32, 2)
	graph := model.NewGraph("intdiv").
		AddInput("X", pair).
		AddInput("Y", pair).
		AddNode(model.Node{Name: "div", OpType: model.OpDiv, Inputs: []string{"X", "Y"}, Outputs: []string{"Z"}}).
		AddOutput("Z", pair)
	data, err := model.NewModel(graph).Serialize()
	require.NoError(t, err)
	session, err := NewSession(env, data, nil)
	require.NoError(t, err)
	defer func() { require.NoError(t, session.Close()) }()

	_, err = session.Run(context.Background(), map[string]*tensors.Tensor{
		"X": tensors.FromFlatDataAndDimensions([]int32{6, 8}, 2),
		"Y": tensors.FromFlatDataAndDimensions([]int32{2, 0}, 2),
	})
	var execErr *ExecutionError
	require.ErrorAs(t, err, &execErr)
	assert.Equal(t, "div", execErr.Node)
	assert.Contains(t, execErr.Cause.Error(), "division by zero")
}

func TestAppendExecutionProviderForDevices(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, env.RegisterExecutionProviderLibrary("SampleEP", samplePath))
	devices := env.EpDevices()
	require.Len(t, devices, 2)

	var so SessionOptions
	require.ErrorContains(t, so.AppendExecutionProviderForDevices(nil, nil), "no devices")
	require.ErrorContains(t, so.AppendExecutionProviderForDevices([]EpDevice{{EpName: "handmade"}}, nil),
		"must come from Env.EpDevices")
	require.ErrorContains(t, so.AppendExecutionProviderForDevices(devices, nil),
		"more than one execution provider")

	// One provider per append works, and preference follows append order.
	require.NoError(t, so.AppendExecutionProviderForDevices(devicesByName(devices, "SampleEP"), nil))
	require.NoError(t, so.AppendExecutionProviderForDevices(devicesByName(devices, "CPU"), nil))
	session, err := NewSession(env, serializedDemoModel(t), &so)
	require.NoError(t, err)
	assert.Equal(t, "SampleEPPluginExecutionProvider", session.ClaimedBy("add_node"))
	assert.Equal(t, "CPUExecutionProvider", session.ClaimedBy("sub_node"))
	require.NoError(t, session.Close())
	require.NoError(t, env.UnregisterExecutionProviderLibrary("SampleEP"))
}

func TestEnvCloseRefusesWithOpenSessions(t *testing.T) {
	env := NewEnv(WithHardware([]ep.DeviceInfo{{Type: ep.DeviceCPU, Vendor: "generic"}}))
	session, err := NewSession(env, serializedDemoModel(t), nil)
	require.NoError(t, err)

	require.ErrorContains(t, env.Close(), "still open")
	require.NoError(t, session.Close())
	require.NoError(t, env.Close())
	require.NoError(t, env.Close(), "Close is idempotent")

	// A closed environment accepts no new registrations.
	err = env.RegisterExecutionProviderLibrary("SampleEP", samplePath)
	var regErr *RegistrationError
	require.ErrorAs(t, err, &regErr)
	assert.Contains(t, regErr.Reason, "closed")
}
