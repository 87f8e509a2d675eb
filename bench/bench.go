// Package bench times vector addition across the CPU implementations and
// the accelerator dispatch modes for a list of input sizes.
package bench

import (
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"os"
	"time"

	"github.com/notargets/vecbench/kernel"
	"github.com/notargets/vecbench/runner"
	"github.com/notargets/vecbench/vecadd"
	"gonum.org/v1/gonum/stat"
)

// Implementation labels, in the order they are measured
const (
	CPUSimple       = "CPU simple"
	CPUArray        = "CPU array vectorized"
	CPUBuffer       = "CPU buffer vectorized"
	GPU             = "GPU"
	GPUPreallocated = "GPU preallocate buffer with wait"
)

// Implementations lists every label in measurement order
var Implementations = []string{CPUSimple, CPUArray, CPUBuffer, GPU, GPUPreallocated}

// DefaultSizes are the input lengths benchmarked when Config.Sizes is empty
var DefaultSizes = []int{256, 4096, 262144, 1048576}

// DefaultIterations is the number of repetitions per measurement
const DefaultIterations = 10

// ErrMismatch is returned when an implementation's output differs from the
// naive reference beyond the tolerance
var ErrMismatch = errors.New("result does not match reference")

// Config holds configuration for creating a Harness
type Config struct {
	Sizes        []int
	Iterations   int
	CheckResults bool
	Seed         uint64
	Tolerance    vecadd.Tolerance
	Out          io.Writer // report destination; defaults to os.Stdout
}

// DeviceTimings are device-measured times per iteration, in milliseconds
type DeviceTimings struct {
	GPUMillis   float64
	TotalMillis float64
}

// Result is the measurement of one implementation at one input size
type Result struct {
	Size           int
	Implementation string
	MeanMillis     float64
	StdDevMillis   float64
	Checked        bool
	CopiedInputs   bool           // inputs were uploaded because the backend cannot alias host memory
	Device         *DeviceTimings // reusable accelerator mode without checks only
}

// Harness drives the benchmark on one Runner
type Harness struct {
	runner *runner.Runner
	kernel *runner.CompiledKernel
	cfg    Config
	rng    *rand.Rand
}

// New compiles the add kernel on kr and returns a Harness
func New(kr *runner.Runner, cfg Config) (*Harness, error) {
	if len(cfg.Sizes) == 0 {
		cfg.Sizes = DefaultSizes
	}
	if cfg.Iterations <= 0 {
		cfg.Iterations = DefaultIterations
	}
	if cfg.Tolerance == (vecadd.Tolerance{}) {
		cfg.Tolerance = vecadd.DefaultTolerance
	}
	if cfg.Out == nil {
		cfg.Out = os.Stdout
	}
	for _, n := range cfg.Sizes {
		if n <= 0 {
			return nil, fmt.Errorf("input size must be positive, got %d", n)
		}
	}
	k, err := kr.Compile(kernel.SimpleAddition)
	if err != nil {
		return nil, err
	}
	return &Harness{
		runner: kr,
		kernel: k,
		cfg:    cfg,
		rng:    rand.New(rand.NewPCG(cfg.Seed, cfg.Seed^0x9e3779b97f4a7c15)),
	}, nil
}

// Config returns the effective configuration
func (h *Harness) Config() Config {
	return h.cfg
}

// Run benchmarks every configured size and returns all results
func (h *Harness) Run() ([]Result, error) {
	var results []Result
	for _, n := range h.cfg.Sizes {
		rs, err := h.RunSize(n)
		results = append(results, rs...)
		if err != nil {
			return results, err
		}
	}
	return results, nil
}

// RunSize benchmarks all implementations on random inputs of length n
func (h *Harness) RunSize(n int) ([]Result, error) {
	a := h.randomVector(n)
	b := h.randomVector(n)
	reference := vecadd.Naive(a, b)

	aBuf, copied, err := h.deviceInput(a)
	if err != nil {
		return nil, err
	}
	defer aBuf.Free()
	bBuf, _, err := h.deviceInput(b)
	if err != nil {
		return nil, err
	}
	defer bBuf.Free()
	outBuf, err := h.runner.Allocate(runner.ByteLength(n))
	if err != nil {
		return nil, err
	}
	defer outBuf.Free()

	viewA, viewB := vecadd.ViewOf(a), vecadd.ViewOf(b)

	fmt.Fprintf(h.cfg.Out, "======== %d ========\n", n)
	results := make([]Result, 0, len(Implementations))
	record := func(r Result) {
		r.Size = n
		r.Checked = h.cfg.CheckResults
		results = append(results, r)
		fmt.Fprintf(h.cfg.Out, "%s => %v ms\n", r.Implementation, r.MeanMillis)
	}

	r, err := h.measure(CPUSimple, reference, func() ([]float32, error) {
		return vecadd.Naive(a, b), nil
	})
	if err != nil {
		return results, err
	}
	record(r)

	r, err = h.measure(CPUArray, reference, func() ([]float32, error) {
		return vecadd.Array(a, b), nil
	})
	if err != nil {
		return results, err
	}
	record(r)

	r, err = h.measure(CPUBuffer, reference, func() ([]float32, error) {
		return vecadd.AddViews(viewA, viewB).Slice(), nil
	})
	if err != nil {
		return results, err
	}
	record(r)

	r, err = h.measure(GPU, reference, func() ([]float32, error) {
		out, err := h.runner.Dispatch(h.kernel, aBuf, bBuf)
		if err != nil {
			return nil, err
		}
		defer out.Free()
		if !h.cfg.CheckResults {
			return nil, nil
		}
		values, err := out.Float32s()
		if err != nil {
			return nil, err
		}
		return append([]float32(nil), values...), nil
	})
	if err != nil {
		return results, err
	}
	r.CopiedInputs = copied
	record(r)

	r, err = h.measurePreallocated(aBuf, bBuf, outBuf, reference)
	if err != nil {
		return results, err
	}
	r.CopiedInputs = copied
	if r.Device != nil {
		fmt.Fprintf(h.cfg.Out, "Time spend on GPU Total: %.3f ms GPU: %.3f ms\n",
			r.Device.TotalMillis, r.Device.GPUMillis)
	}
	record(r)

	fmt.Fprintf(h.cfg.Out, "======== %d ========\n", n)
	return results, nil
}

// measure times Iterations calls of fn. With CheckResults every output is
// compared against reference; fn may return nil when checks are off.
func (h *Harness) measure(label string, reference []float32, fn func() ([]float32, error)) (Result, error) {
	iterations := h.cfg.Iterations
	samples := make([]float64, iterations)

	start := time.Now()
	for i := 0; i < iterations; i++ {
		iterStart := time.Now()
		c, err := fn()
		if err != nil {
			return Result{}, fmt.Errorf("%s: %w", label, err)
		}
		samples[i] = millis(time.Since(iterStart))
		if h.cfg.CheckResults {
			if err := h.check(label, c, reference); err != nil {
				return Result{}, err
			}
		}
	}
	elapsed := time.Since(start)

	return Result{
		Implementation: label,
		MeanMillis:     millis(elapsed) / float64(iterations),
		StdDevMillis:   stdDev(samples),
	}, nil
}

// measurePreallocated encodes every iteration into one command buffer and
// commits once, so encoder setup and synchronization are paid a single time.
func (h *Harness) measurePreallocated(aBuf, bBuf, outBuf *runner.DeviceBuffer, reference []float32) (Result, error) {
	iterations := h.cfg.Iterations
	var timings chan DeviceTimings

	start := time.Now()
	cmdBuffer := h.runner.NewCommandBuffer()
	for i := 0; i < iterations; i++ {
		if _, err := h.runner.DispatchInto(h.kernel, aBuf, bBuf, outBuf, cmdBuffer); err != nil {
			return Result{}, fmt.Errorf("%s: %w", GPUPreallocated, err)
		}
	}
	if h.cfg.CheckResults {
		if _, err := h.runner.DispatchInto(h.kernel, aBuf, bBuf, outBuf, cmdBuffer); err != nil {
			return Result{}, fmt.Errorf("%s: %w", GPUPreallocated, err)
		}
	} else {
		timings = make(chan DeviceTimings, 1)
		err := cmdBuffer.AddCompletedHandler(func(cb *runner.CommandBuffer) {
			t := cb.Timings()
			timings <- DeviceTimings{
				GPUMillis:   millis(t.GPUTime()) / float64(iterations),
				TotalMillis: millis(t.TotalTime()) / float64(iterations),
			}
		})
		if err != nil {
			return Result{}, fmt.Errorf("%s: %w", GPUPreallocated, err)
		}
	}
	if err := cmdBuffer.Commit(); err != nil {
		return Result{}, fmt.Errorf("%s: %w", GPUPreallocated, err)
	}
	if err := cmdBuffer.Wait(); err != nil {
		return Result{}, fmt.Errorf("%s: %w", GPUPreallocated, err)
	}
	if h.cfg.CheckResults {
		c, err := outBuf.Float32s()
		if err != nil {
			return Result{}, fmt.Errorf("%s: %w", GPUPreallocated, err)
		}
		if err := h.check(GPUPreallocated, c, reference); err != nil {
			return Result{}, err
		}
	}
	elapsed := time.Since(start)

	r := Result{
		Implementation: GPUPreallocated,
		MeanMillis:     millis(elapsed) / float64(iterations),
	}
	if timings != nil {
		t := <-timings
		r.Device = &t
	}
	return r, nil
}

func (h *Harness) check(label string, got, want []float32) error {
	if i := vecadd.Mismatch(got, want, h.cfg.Tolerance); i >= 0 {
		if i >= len(got) || i >= len(want) {
			return fmt.Errorf("%w: %s produced %d elements, want %d", ErrMismatch, label, len(got), len(want))
		}
		return fmt.Errorf("%w: %s element %d = %v, want %v", ErrMismatch, label, i, got[i], want[i])
	}
	return nil
}

// deviceInput wraps host without copying, or uploads it on backends that
// cannot alias host memory.
func (h *Harness) deviceInput(host []float32) (*runner.DeviceBuffer, bool, error) {
	buf, err := h.runner.WrapZeroCopy(host)
	if errors.Is(err, runner.ErrZeroCopyUnsupported) {
		buf, err = h.runner.Upload(host)
		return buf, true, err
	}
	return buf, false, err
}

func (h *Harness) randomVector(n int) []float32 {
	v := runner.AlignedFloat32s(n)
	for i := range v {
		v[i] = h.rng.Float32()
	}
	return v
}

func millis(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}

func stdDev(samples []float64) float64 {
	if len(samples) < 2 {
		return 0
	}
	_, std := stat.MeanStdDev(samples, nil)
	return std
}
