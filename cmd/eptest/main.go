// eptest demonstrates the execution-provider plugin lifecycle end to end: it registers
// a plugin library, enumerates devices, runs the four-op demo graph on the plugin plus
// the CPU fallback, and tears everything down.
//
// Usage:
//
//	eptest [flags] [plugin-library-path]
//
// The optional positional argument overrides the plugin library location; by default
// the sample plugin is expected at ../build/libsample_ep.so relative to the executable.
// Exit status: 0 on success, 1 when no enumerated device matches the filter, 2 on any
// other failure.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/charmbracelet/lipgloss"
	lgtable "github.com/charmbracelet/lipgloss/table"
	"github.com/janpfeifer/must"
	"github.com/miniort/miniort/harness"
	"github.com/miniort/miniort/ort"
	"gopkg.in/yaml.v3"
	"k8s.io/klog/v2"
)

var (
	flagName = flag.String("name", harness.DefaultRegistrationName,
		"Logical name to register the plugin library under. Plugins may derive their "+
			"provider names from it.")
	flagFilter = flag.String("filter", "",
		"Substring selecting which enumerated execution-provider devices the session binds. "+
			"Defaults to the registration name.")
	flagEpOptions = flag.String("ep_options", "",
		"YAML file with a string-to-string map of options passed to the execution provider "+
			"when the session instantiates it.")
	flagDevices = flag.Bool("devices", false,
		"Register the plugin, print the table of enumerated execution-provider devices and exit.")
)

func main() {
	klog.InitFlags(nil)
	flag.Parse()

	args := flag.Args()
	if len(args) > 1 {
		klog.Errorf("Too many arguments: at most one plugin library path. See 'eptest -help'.")
		os.Exit(2)
	}
	cfg := harness.Config{
		RegistrationName: *flagName,
		FilterSubstring:  *flagFilter,
	}
	if len(args) == 1 {
		cfg.PluginPath = args[0]
	}
	if *flagEpOptions != "" {
		cfg.EpOptions = loadEpOptions(*flagEpOptions)
	}

	env := ort.NewEnv()
	if *flagDevices {
		deviceTable(env, cfg)
		return
	}

	err := harness.Run(context.Background(), env, cfg, os.Stdout)
	if err != nil {
		klog.Errorf("Harness failed: %+v", err)
	}
	os.Exit(harness.ExitCode(err))
}

func loadEpOptions(path string) map[string]string {
	options := make(map[string]string)
	must.M(yaml.Unmarshal(must.M1(os.ReadFile(path)), &options))
	return options
}

var (
	headerRowStyle = lipgloss.NewStyle().Reverse(true).
			Padding(0, 1, 0, 1).Align(lipgloss.Center)
	oddRowStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#FFF")).
			PaddingLeft(1).PaddingRight(1)
	evenRowStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#999")).
			PaddingLeft(1).PaddingRight(1)
)

func newDeviceTable() *lgtable.Table {
	return lgtable.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(lipgloss.Color("99"))).
		StyleFunc(func(row, col int) (s lipgloss.Style) {
			if row < 0 {
				s = headerRowStyle
				return
			}
			switch {
			case row%2 == 0:
				// Even row style.
				s = oddRowStyle
			default:
				// Odd row style
				s = evenRowStyle
			}
			return
		})
}

// deviceTable registers the plugin (best effort) and renders every enumerated
// (provider, hardware device) pair.
func deviceTable(env *ort.Env, cfg harness.Config) {
	if cfg.PluginPath != "" {
		if err := env.RegisterExecutionProviderLibrary(cfg.RegistrationName, cfg.PluginPath); err != nil {
			klog.Warningf("Plugin not registered, showing built-in providers only: %v", err)
		}
	}
	table := newDeviceTable()
	table.Headers("EP Name", "EP Vendor", "EP Version", "HW Type", "HW Vendor", "HW Vendor ID", "HW Device ID")
	for _, device := range env.EpDevices() {
		table.Row(
			device.EpName,
			device.EpVendor,
			device.EpVersion,
			device.Device.Type.String(),
			device.Device.Vendor,
			fmt.Sprintf("0x%04x", device.Device.VendorID),
			fmt.Sprintf("0x%04x", device.Device.DeviceID),
		)
	}
	fmt.Println(table.Render())
}
