package bench

import (
	"fmt"

	"github.com/notargets/vecbench/runner"
	"github.com/notargets/vecbench/vecadd"
)

// DemoLeft and DemoRight are the fixed inputs of the demo scenario
var (
	DemoLeft  = []float32{1, 2, 3, 4}
	DemoRight = []float32{-1, 0, 1, 2}
)

// DemoOutput is the result one implementation produced for the demo inputs
type DemoOutput struct {
	Implementation string
	Values         []float32
}

// Demo adds DemoLeft and DemoRight with every implementation, prints each
// result and returns them. Accelerator results are read back after a wait.
func (h *Harness) Demo() ([]DemoOutput, error) {
	a := runner.AlignedFloat32s(len(DemoLeft))
	b := runner.AlignedFloat32s(len(DemoRight))
	copy(a, DemoLeft)
	copy(b, DemoRight)

	aBuf, _, err := h.deviceInput(a)
	if err != nil {
		return nil, err
	}
	defer aBuf.Free()
	bBuf, _, err := h.deviceInput(b)
	if err != nil {
		return nil, err
	}
	defer bBuf.Free()

	outputs := []DemoOutput{
		{CPUSimple, vecadd.Naive(a, b)},
		{CPUArray, vecadd.Array(a, b)},
		{CPUBuffer, vecadd.AddViews(vecadd.ViewOf(a), vecadd.ViewOf(b)).Slice()},
	}

	out, err := h.runner.Dispatch(h.kernel, aBuf, bBuf)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", GPU, err)
	}
	values, err := readBack(out)
	out.Free()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", GPU, err)
	}
	outputs = append(outputs, DemoOutput{GPU, values})

	outBuf, err := h.runner.Allocate(aBuf.Length())
	if err != nil {
		return nil, err
	}
	defer outBuf.Free()
	cmdBuffer := h.runner.NewCommandBuffer()
	if _, err = h.runner.DispatchInto(h.kernel, aBuf, bBuf, outBuf, cmdBuffer); err == nil {
		if err = cmdBuffer.Commit(); err == nil {
			err = cmdBuffer.Wait()
		}
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", GPUPreallocated, err)
	}
	if values, err = readBack(outBuf); err != nil {
		return nil, fmt.Errorf("%s: %w", GPUPreallocated, err)
	}
	outputs = append(outputs, DemoOutput{GPUPreallocated, values})

	for _, o := range outputs {
		fmt.Fprintf(h.cfg.Out, "%s result => %v\n", o.Implementation, o.Values)
	}
	return outputs, nil
}

func readBack(b *runner.DeviceBuffer) ([]float32, error) {
	values, err := b.Float32s()
	if err != nil {
		return nil, err
	}
	return append([]float32(nil), values...), nil
}
