package runner

import (
	"fmt"
)

// LaunchGeometry computes the grid and group extents for a dispatch over
// left: one work-item per element, groups ExecutionWidth wide.
func LaunchGeometry(k *CompiledKernel, left *DeviceBuffer) (grid, group Size) {
	grid = Size{Width: left.Count(), Height: 1, Depth: 1}
	group = Size{Width: k.ExecutionWidth(), Height: 1, Depth: 1}
	return
}

// Dispatch runs k once over left and right into a freshly allocated output
// sized like left, and blocks until the device has finished. Every call
// creates its own command buffer and synchronizes, so it is the slow path.
//
// left and right must have the same length; anything else is out of
// contract and the result is undefined.
func (kr *Runner) Dispatch(k *CompiledKernel, left, right *DeviceBuffer) (*DeviceBuffer, error) {
	out, err := kr.Allocate(left.Length())
	if err != nil {
		return nil, err
	}
	cmdBuffer := kr.NewCommandBuffer()
	if _, err = kr.DispatchInto(k, left, right, out, cmdBuffer); err != nil {
		out.Free()
		return nil, err
	}
	if err = cmdBuffer.Commit(); err != nil {
		out.Free()
		return nil, fmt.Errorf("commit failed: %w", err)
	}
	if err = cmdBuffer.Wait(); err != nil {
		out.Free()
		return nil, fmt.Errorf("kernel execution failed: %w", err)
	}
	return out, nil
}

// DispatchInto encodes one invocation of k into cmdBuffer, writing out. It
// neither commits nor waits: the caller commits once after encoding a batch
// and waits if it needs the results. out must not alias left or right.
func (kr *Runner) DispatchInto(k *CompiledKernel, left, right, out *DeviceBuffer,
	cmdBuffer *CommandBuffer) (*DeviceBuffer, error) {
	if k == nil {
		return nil, fmt.Errorf("dispatch: nil kernel")
	}
	grid, group := LaunchGeometry(k, left)
	program := k.program
	lmem, rmem, omem := left.mem, right.mem, out.mem

	err := cmdBuffer.encode(func() error {
		return program.Launch(grid, group, lmem, rmem, omem)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s: %w", program.Name(), err)
	}
	return out, nil
}
