// Package host is a backend that executes kernels as Go code on the CPU.
// A launch fans the grid's work-groups out over worker goroutines and
// returns immediately. Launches execute one after another in launch order;
// Finish waits for every outstanding launch.
// Device memory is ordinary Go memory, so host slices are aliased as is.
package host

import (
	"fmt"
	"runtime"
	"sync"

	"github.com/notargets/vecbench/kernel"
	"github.com/notargets/vecbench/runner"
)

const defaultWidth = 256

// Config holds configuration for creating a Device
type Config struct {
	Workers   int // goroutines per launch; defaults to runtime.NumCPU()
	Width     int // preferred work-group width; defaults to 256
	Alignment int // host alignment for zero-copy wraps; defaults to runner.PageSize
}

// Device is the host backend
type Device struct {
	workers  int
	width    int
	align    int
	inflight sync.WaitGroup

	mu   sync.Mutex
	tail chan struct{} // closed when the most recent launch has finished
}

var _ runner.Backend = (*Device)(nil)

// New creates a host Device
func New(cfg Config) *Device {
	d := &Device{
		workers: cfg.Workers,
		width:   cfg.Width,
		align:   cfg.Alignment,
	}
	if d.workers <= 0 {
		d.workers = runtime.NumCPU()
	}
	if d.width <= 0 {
		d.width = defaultWidth
	}
	if d.align <= 0 {
		d.align = runner.PageSize
	}
	return d
}

func (d *Device) Mode() string {
	return fmt.Sprintf("Host (%d workers)", d.workers)
}

func (d *Device) PreferredWidth() int { return d.width }

func (d *Device) HostAlignment() int { return d.align }

func (d *Device) BuildProgram(name string, width int) (runner.Program, error) {
	fn, err := kernel.HostFunc(name)
	if err != nil {
		return nil, err
	}
	return &program{device: d, name: name, width: width, fn: fn}, nil
}

func (d *Device) WrapHost(host []float32) (runner.Memory, error) {
	return &memory{data: host, shared: true}, nil
}

func (d *Device) Upload(host []float32) (runner.Memory, error) {
	data := make([]float32, len(host))
	copy(data, host)
	return &memory{data: data}, nil
}

func (d *Device) Malloc(bytes int64) (runner.Memory, error) {
	return &memory{data: make([]float32, runner.ElementCount(bytes))}, nil
}

func (d *Device) Finish() error {
	d.inflight.Wait()
	return nil
}

func (d *Device) Free() {
	d.inflight.Wait()
}

type memory struct {
	data   []float32
	shared bool
}

func (m *memory) Bytes() int64 { return runner.ByteLength(len(m.data)) }

func (m *memory) Shared() bool { return m.shared }

func (m *memory) Float32s() ([]float32, error) { return m.data, nil }

func (m *memory) Free() {
	if !m.shared {
		m.data = nil
	}
}

type program struct {
	device *Device
	name   string
	width  int
	fn     kernel.Func
}

func (p *program) Name() string { return p.name }

func (p *program) ExecutionWidth() int { return p.width }

func (p *program) Free() {}

// Launch runs the program once per work-item in the grid. Work-groups are
// split evenly across workers; items inside a group run sequentially.
func (p *program) Launch(grid, group runner.Size, buffers ...runner.Memory) error {
	if len(buffers) != 3 {
		return fmt.Errorf("%s expects 3 buffers, got %d", p.name, len(buffers))
	}
	views := make([][]float32, len(buffers))
	for i, b := range buffers {
		m, ok := b.(*memory)
		if !ok {
			return fmt.Errorf("buffer %d was not allocated by the host backend", i)
		}
		views[i] = m.data
	}
	n := grid.Count()
	if n == 0 {
		return nil
	}
	for i, v := range views {
		if len(v) < n {
			return fmt.Errorf("buffer %d holds %d elements, grid needs %d", i, len(v), n)
		}
	}
	groupWidth := group.Count()
	if groupWidth <= 0 {
		groupWidth = p.width
	}
	numGroups := (n + groupWidth - 1) / groupWidth

	numWorkers := p.device.workers
	if numGroups < numWorkers {
		numWorkers = numGroups
	}
	groupsPerWorker := (numGroups + numWorkers - 1) / numWorkers

	left, right, out := views[kernel.SlotLeft], views[kernel.SlotRight], views[kernel.SlotOutput]
	fn := p.fn

	d := p.device
	d.mu.Lock()
	prev := d.tail
	done := make(chan struct{})
	d.tail = done
	d.mu.Unlock()

	d.inflight.Add(1)
	go func() {
		defer d.inflight.Done()
		defer close(done)
		if prev != nil {
			<-prev
		}
		var wg sync.WaitGroup
		for w := 0; w < numWorkers; w++ {
			start := w * groupsPerWorker * groupWidth
			end := min(start+groupsPerWorker*groupWidth, n)
			if start >= end {
				continue
			}
			wg.Add(1)
			go func(start, end int) {
				defer wg.Done()
				for idx := start; idx < end; idx++ {
					fn(idx, left, right, out)
				}
			}(start, end)
		}
		wg.Wait()
	}()
	return nil
}
