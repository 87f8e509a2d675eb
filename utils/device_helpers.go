package utils

import (
	"errors"
	"fmt"

	"github.com/notargets/gocca"
	"github.com/notargets/vecbench/backends/host"
	"github.com/notargets/vecbench/backends/occa"
	"github.com/notargets/vecbench/backends/webgpu"
	"github.com/notargets/vecbench/runner"
)

// Backend names accepted by OpenBackend
const (
	BackendHost   = "host"
	BackendOCCA   = "occa"
	BackendWebGPU = "webgpu"
)

// CreateTestDevice creates a Device for testing, preferring parallel backends
func CreateTestDevice() *gocca.OCCADevice {
	d, err := occa.New(occa.Config{})
	if err != nil {
		// Serial is always compiled into OCCA
		panic(fmt.Sprintf("Failed to create any Device: %v", err))
	}
	device := d.OCCA()
	fmt.Printf("Created %s Device\n", device.Mode())
	return device
}

// OpenBackend creates the named backend. mode selects the OCCA mode and is
// ignored by the others; width <= 0 keeps the backend's preferred width.
func OpenBackend(name, mode string, width int) (runner.Backend, error) {
	switch name {
	case BackendHost:
		return host.New(host.Config{Width: width}), nil
	case BackendOCCA:
		d, err := occa.New(occa.Config{Mode: mode, Width: width})
		if err != nil {
			return nil, err
		}
		return d, nil
	case BackendWebGPU:
		d, err := webgpu.New(width)
		if err != nil {
			return nil, err
		}
		return d, nil
	default:
		return nil, fmt.Errorf("unknown backend %q (want %s, %s or %s)",
			name, BackendHost, BackendOCCA, BackendWebGPU)
	}
}

// IsUnavailable reports whether err means the backend cannot run on this
// platform, as opposed to failing while it ran.
func IsUnavailable(err error) bool {
	return errors.Is(err, occa.ErrUnavailable) || errors.Is(err, webgpu.ErrUnavailable)
}
