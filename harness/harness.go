// Package harness runs the end-to-end plugin demonstration: register a sample
// execution-provider library, enumerate and filter devices, build and serialize the
// four-op demo graph, create a session bound to the plugin's devices, run one
// inference, report which provider handled each op, and tear everything down in LIFO
// order (session first, then the library).
//
// The sequence is a library function rather than a main so tests can drive it against
// injected environments and golden-check the report; cmd/eptest is the thin CLI over
// it.
package harness

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/miniort/miniort/model"
	"github.com/miniort/miniort/ort"
	"github.com/miniort/miniort/tensors"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	// The sample plugin registers its library stem in the ep catalog, making the
	// default plugin path resolvable without a native build.
	_ "github.com/miniort/miniort/ort/ep/sampleep"
)

const (
	// DefaultRegistrationName is the logical name the plugin library is registered
	// under when the config leaves it empty.
	DefaultRegistrationName = "SampleEP"

	// defaultPluginRelPath is the conventional build-output location of the sample
	// plugin, relative to the executable's directory.
	defaultPluginRelPath = "../build/libsample_ep.so"
)

// PathResolutionError reports a plugin path that could not be resolved to an absolute
// path.
type PathResolutionError struct {
	Path  string
	Cause error
}

func (e *PathResolutionError) Error() string {
	msg := fmt.Sprintf("resolving plugin path %q", e.Path)
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *PathResolutionError) Unwrap() error { return e.Cause }

// Config parameterizes a harness run. The zero value reproduces the original
// demonstration: the sample plugin from the conventional build location, registered as
// "SampleEP" and filtered by that same name.
type Config struct {
	// PluginPath locates the plugin library. Empty selects the conventional build
	// output next to the executable. Resolved to an absolute path before use.
	PluginPath string

	// RegistrationName is the logical name the library is registered under. Empty
	// means DefaultRegistrationName.
	RegistrationName string

	// FilterSubstring selects the session's devices: enumerated devices whose
	// provider name contains it. Empty means the registration name. Matching is
	// by substring, so a short filter can select more providers than intended.
	FilterSubstring string

	// EpOptions is handed to the bound execution provider at session creation.
	// Usually empty.
	EpOptions map[string]string
}

// withDefaults resolves the config to a runnable one: names defaulted, plugin path
// made absolute.
func (cfg Config) withDefaults() (Config, error) {
	if cfg.RegistrationName == "" {
		cfg.RegistrationName = DefaultRegistrationName
	}
	if cfg.FilterSubstring == "" {
		cfg.FilterSubstring = cfg.RegistrationName
	}
	if cfg.PluginPath == "" {
		executable, err := os.Executable()
		if err != nil {
			return cfg, &PathResolutionError{Path: defaultPluginRelPath, Cause: err}
		}
		cfg.PluginPath = filepath.Join(filepath.Dir(executable), defaultPluginRelPath)
	}
	abs, err := filepath.Abs(cfg.PluginPath)
	if err != nil {
		return cfg, &PathResolutionError{Path: cfg.PluginPath, Cause: err}
	}
	cfg.PluginPath = abs
	return cfg, nil
}

// Run executes the demonstration sequence against env, writing the human-readable
// report to out. It returns nil on full success; the error taxonomy of the runtime
// flows through unchanged, so callers can map failures to exit codes with ExitCode.
//
// The one locally handled failure is device discovery: when no enumerated device
// matches the filter, Run prints the error line to the report and returns
// *ort.DiscoveryError instead of a fatal failure.
func Run(ctx context.Context, env *ort.Env, cfg Config, out io.Writer) error {
	cfg, err := cfg.withDefaults()
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "miniort version %s\n", ort.Version)
	fmt.Fprintf(out, "Runtime loaded successfully\n\n")

	fmt.Fprintf(out, "Registering plugin EP from: %s\n", cfg.PluginPath)
	if err := env.RegisterExecutionProviderLibrary(cfg.RegistrationName, cfg.PluginPath); err != nil {
		return err
	}
	fmt.Fprintf(out, "Plugin EP registered successfully!\n\n")

	devices := env.EpDevices()
	fmt.Fprintf(out, "Found %d EP device(s):\n\n", len(devices))
	var matched []ort.EpDevice
	for ii, device := range devices {
		fmt.Fprintf(out, "  EP Device %d:\n", ii)
		fmt.Fprintf(out, "    Name:           %s\n", device.EpName)
		fmt.Fprintf(out, "    Vendor:         %s\n", device.EpVendor)
		fmt.Fprintf(out, "    HW Device Type: %s\n", device.Device.Type)
		fmt.Fprintf(out, "    HW Vendor:      %s\n", device.Device.Vendor)
		fmt.Fprintf(out, "    HW Vendor ID:   0x%04x\n", device.Device.VendorID)
		fmt.Fprintf(out, "    HW Device ID:   0x%04x\n\n", device.Device.DeviceID)
		if strings.Contains(device.EpName, cfg.FilterSubstring) {
			matched = append(matched, device)
		}
	}
	if len(matched) == 0 {
		fmt.Fprintf(out, "ERROR: Could not find %s device\n", cfg.FilterSubstring)
		return &ort.DiscoveryError{
			Reason: fmt.Sprintf("no enumerated device matches %q", cfg.FilterSubstring),
		}
	}

	fmt.Fprintf(out, "Building test model with ops: Add, Sub, Mul, Div...\n")
	m := model.FourOpDemoModel()
	if err := m.Validate(); err != nil {
		return errors.WithMessage(err, "validating demo model")
	}
	modelBytes, err := m.Serialize()
	if err != nil {
		return errors.WithMessage(err, "serializing demo model")
	}
	klog.V(1).Infof("harness: serialized demo model is %s", humanize.Bytes(uint64(len(modelBytes))))

	so := &ort.SessionOptions{}
	if err := so.AppendExecutionProviderForDevices(matched, cfg.EpOptions); err != nil {
		return errors.WithMessage(err, "binding plugin devices")
	}

	fmt.Fprintf(out, "\nCreating session (EP will report claimed ops):\n")
	session, err := ort.NewSession(env, modelBytes, so)
	if err != nil {
		return err
	}
	// The session holds the graph it deserialized itself; reporting claims from it
	// exercises the full serialize/deserialize round trip.
	graph := session.Model().Graph
	for _, node := range graph.Nodes {
		fmt.Fprintf(out, "  %s (%s) -> %s\n", node.Name, node.OpType, session.ClaimedBy(node.Name))
	}
	fmt.Fprintf(out, "Session created successfully!\n\n")

	fmt.Fprintf(out, "Running inference...\n")
	x := tensors.FromFlatDataAndDimensions([]float32{1, 2, 3, 4}, 1, 4)
	y := tensors.FromFlatDataAndDimensions([]float32{2, 3, 4, 5}, 1, 4)
	outputs, err := session.Run(ctx, map[string]*tensors.Tensor{"X": x, "Y": y})
	if err != nil {
		_ = session.Close()
		return err
	}

	fmt.Fprintf(out, "  X       = %v\n", tensors.CopyFlatData[float32](x))
	fmt.Fprintf(out, "  Y       = %v\n", tensors.CopyFlatData[float32](y))
	results := []struct {
		symbol string
		op     string
		node   string
	}{
		{"+", "Add", "add_node"},
		{"-", "Sub", "sub_node"},
		{"*", "Mul", "mul_node"},
		{"/", "Div", "div_node"},
	}
	for ii, result := range results {
		fmt.Fprintf(out, "  X %s Y   = %v  (%s - handled by %s)\n",
			result.symbol, tensors.CopyFlatData[float32](outputs[ii]),
			result.op, session.ClaimedBy(result.node))
	}

	if err := session.Close(); err != nil {
		return errors.WithMessage(err, "releasing session")
	}
	fmt.Fprintf(out, "\nUnregistering plugin EP...\n")
	if err := env.UnregisterExecutionProviderLibrary(cfg.RegistrationName); err != nil {
		return err
	}
	fmt.Fprintf(out, "Plugin EP unregistered successfully\n\n")
	fmt.Fprintf(out, "Test completed successfully!\n")
	return nil
}

// ExitCode maps a Run error to the process exit status: 0 on success, 1 on device
// discovery failure (the expected, checkable misconfiguration), 2 on everything else.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	var discovery *ort.DiscoveryError
	if errors.As(err, &discovery) {
		return 1
	}
	return 2
}
