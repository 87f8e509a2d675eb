package main

import (
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"strconv"
	"strings"

	"github.com/notargets/vecbench/bench"
	"github.com/notargets/vecbench/kernel"
	"github.com/notargets/vecbench/runner"
	"github.com/notargets/vecbench/utils"
	"github.com/notargets/vecbench/vecadd"
)

func main() {
	var (
		backendName = flag.String("backend", utils.BackendOCCA, "accelerator backend: host, occa or webgpu")
		mode        = flag.String("mode", "", "OCCA mode (Serial, OpenMP, CUDA, OpenCL); empty tries OpenMP, CUDA, Serial")
		sizesFlag   = flag.String("sizes", joinInts(bench.DefaultSizes), "comma separated input lengths")
		iterations  = flag.Int("iterations", bench.DefaultIterations, "repetitions per measurement")
		check       = flag.Bool("check", false, "compare every result against the naive reference")
		seed        = flag.Uint64("seed", 1, "seed for the random inputs")
		width       = flag.Int("width", 0, "work-group width; 0 uses the backend's preferred width")
		require     = flag.Bool("require", false, "fail instead of skipping when the backend is unavailable")
		demo        = flag.Bool("demo", false, "add [1,2,3,4] and [-1,0,1,2] with every implementation first")
		verbose     = flag.Bool("verbose", false, "report why the benchmark was skipped")
	)
	flag.Parse()

	sizes, err := parseSizes(*sizesFlag)
	if err != nil {
		log.Fatalf("Invalid -sizes: %v", err)
	}

	backend, err := openOrSkip(utils.OpenBackend, *backendName, *mode, *width, *require, *verbose, os.Stderr)
	if err != nil {
		log.Fatalf("Failed to open backend: %v", err)
	}
	if backend == nil {
		return
	}

	fmt.Printf("=== Vector Addition Benchmark ===\n")
	fmt.Printf("CPU: %s\n", vecadd.Describe())
	fmt.Printf("Device: %s\n", backend.Mode())

	kr := runner.NewRunner(backend, runner.Config{Width: *width})
	defer backend.Free()
	defer kr.Free()

	k := kr.MustCompile(kernel.SimpleAddition)
	fmt.Printf("Kernel: %s (execution width %d)\n", k.Name(), k.ExecutionWidth())

	harness, err := bench.New(kr, bench.Config{
		Sizes:        sizes,
		Iterations:   *iterations,
		CheckResults: *check,
		Seed:         *seed,
	})
	if err != nil {
		log.Fatalf("Failed to create harness: %v", err)
	}

	if *demo {
		if _, err := harness.Demo(); err != nil {
			log.Fatalf("Demo failed: %v", err)
		}
	}

	if _, err := harness.Run(); err != nil {
		log.Fatalf("Benchmark failed: %v", err)
	}
}

type openFunc func(name, mode string, width int) (runner.Backend, error)

// openOrSkip opens the backend. An unavailable backend returns nil with no
// error unless required; nothing is written unless verbose.
func openOrSkip(open openFunc, name, mode string, width int, required, verbose bool,
	out io.Writer) (runner.Backend, error) {
	backend, err := open(name, mode, width)
	if err == nil {
		return backend, nil
	}
	if utils.IsUnavailable(err) && !required {
		if verbose {
			fmt.Fprintf(out, "Skipping benchmark: %v\n", err)
		}
		return nil, nil
	}
	return nil, err
}

func parseSizes(s string) ([]int, error) {
	var sizes []int
	for _, field := range strings.Split(s, ",") {
		field = strings.TrimSpace(field)
		if field == "" {
			continue
		}
		n, err := strconv.Atoi(field)
		if err != nil {
			return nil, err
		}
		if n <= 0 {
			return nil, fmt.Errorf("size must be positive, got %d", n)
		}
		sizes = append(sizes, n)
	}
	if len(sizes) == 0 {
		return nil, fmt.Errorf("no sizes given")
	}
	return sizes, nil
}

func joinInts(values []int) string {
	parts := make([]string, len(values))
	for i, v := range values {
		parts[i] = strconv.Itoa(v)
	}
	return strings.Join(parts, ",")
}
