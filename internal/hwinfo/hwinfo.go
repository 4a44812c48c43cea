// Package hwinfo discovers the hardware devices of the host that execution providers
// can advertise support for.
//
// Discovery is deliberately conservative: it reports the host CPU, labeled by
// architecture, and nothing else. Providers driving accelerators are expected to probe
// their own hardware; the runtime only needs a stable device list to pair providers
// with (see ort.Env).
package hwinfo

import (
	"runtime"

	"github.com/miniort/miniort/ort/ep"
	"k8s.io/klog/v2"
)

var cpuVendorByArch = map[string]string{
	"386":     "x86",
	"amd64":   "x86_64",
	"arm":     "arm",
	"arm64":   "aarch64",
	"riscv64": "riscv64",
	"wasm":    "wasm",
}

// Devices enumerates the hardware devices of the host. The result is deterministic
// within a process: same devices, same order.
func Devices() []ep.DeviceInfo {
	vendor, found := cpuVendorByArch[runtime.GOARCH]
	if !found {
		vendor = runtime.GOARCH
	}
	devices := []ep.DeviceInfo{
		{
			Type:     ep.DeviceCPU,
			Vendor:   vendor,
			VendorID: 0x0000,
			DeviceID: 0x0000,
		},
	}
	klog.V(2).Infof("hwinfo: discovered %d device(s): %v", len(devices), devices)
	return devices
}
