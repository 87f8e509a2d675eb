package webgpu

import "errors"

// ErrUnavailable is returned when WebGPU cannot be initialized here
var ErrUnavailable = errors.New("webgpu: not available")
