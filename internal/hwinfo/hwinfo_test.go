package hwinfo

import (
	"testing"

	"github.com/miniort/miniort/ort/ep"
	"github.com/stretchr/testify/require"
)

func TestDevices(t *testing.T) {
	devices := Devices()
	require.NotEmpty(t, devices)
	require.Equal(t, ep.DeviceCPU, devices[0].Type)
	require.NotEmpty(t, devices[0].Vendor)

	// Deterministic within a process.
	require.Equal(t, devices, Devices())
}
