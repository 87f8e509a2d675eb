//go:build !windows

package webgpu

import "github.com/notargets/vecbench/runner"

// New reports ErrUnavailable: the WebGPU backend is only built on Windows,
// where wgpu-native is loaded without cgo.
func New(width int) (runner.Backend, error) {
	return nil, ErrUnavailable
}
