// Package device picks the compute device an embedding model is bound to.
package device

import (
	"fmt"
	"os"
	"runtime"
	"strings"
)

// Device is a compute target for inference.
type Device string

const (
	// CoreML is the Apple Neural Engine / Metal path (preferred when present).
	CoreML Device = "coreml"
	// CUDA is an NVIDIA GPU.
	CUDA Device = "cuda"
	// CPU is always available.
	CPU Device = "cpu"
	// Auto asks the Selector to probe.
	Auto Device = "auto"
)

// Parse converts a config string to a Device. Empty means Auto.
func Parse(s string) (Device, error) {
	switch d := Device(strings.ToLower(strings.TrimSpace(s))); d {
	case "":
		return Auto, nil
	case Auto, CoreML, CUDA, CPU:
		return d, nil
	case "mps":
		return CoreML, nil
	case "gpu":
		return CUDA, nil
	default:
		return "", fmt.Errorf("unknown device %q (want auto, coreml, cuda or cpu)", s)
	}
}

// Probes report whether an accelerator is usable. A nil probe means unavailable.
type Probes struct {
	CoreML func() bool
	CUDA   func() bool
}

// Selector chooses a device in fixed priority order: CoreML, CUDA, CPU.
type Selector struct {
	probes Probes
	pinned Device
}

// NewSelector returns a selector using the given probes. pinned other than Auto (or empty)
// skips probing and is returned as-is.
func NewSelector(probes Probes, pinned Device) *Selector {
	if pinned == "" {
		pinned = Auto
	}
	return &Selector{probes: probes, pinned: pinned}
}

// Select returns the best available device. It never fails; CPU is the fallback.
func (s *Selector) Select() Device {
	if s.pinned != Auto {
		return s.pinned
	}
	if s.probes.CoreML != nil && s.probes.CoreML() {
		return CoreML
	}
	if s.probes.CUDA != nil && s.probes.CUDA() {
		return CUDA
	}
	return CPU
}

// DefaultProbes inspects the host.
func DefaultProbes() Probes {
	return Probes{
		CoreML: coreMLAvailable,
		CUDA:   cudaAvailable,
	}
}

func coreMLAvailable() bool {
	return runtime.GOOS == "darwin" && runtime.GOARCH == "arm64"
}

// cudaVisibleDevicesEnv hides GPUs from CUDA when set to "" or "-1".
const cudaVisibleDevicesEnv = "CUDA_VISIBLE_DEVICES"

var cudaMarkers = []string{
	"/proc/driver/nvidia/version",
	"/dev/nvidiactl",
}

func cudaAvailable() bool {
	if runtime.GOOS != "linux" && runtime.GOOS != "windows" {
		return false
	}
	if v, ok := os.LookupEnv(cudaVisibleDevicesEnv); ok {
		v = strings.TrimSpace(v)
		if v == "" || v == "-1" {
			return false
		}
	}
	for _, p := range cudaMarkers {
		if _, err := os.Stat(p); err == nil {
			return true
		}
	}
	return false
}
