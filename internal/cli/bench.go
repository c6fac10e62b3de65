package cli

import (
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/spf13/cobra"

	cuteshm "github.com/MPI-IS/cute-shm"
	"github.com/MPI-IS/cute-shm/dataset"
)

var (
	benchIterations int
	benchWorkers    []int
)

var benchCmd = &cobra.Command{
	Use:   "bench <project> <dataset.json>",
	Short: "Compare shared-memory reads against in-process copies",
	Long: `bench publishes the dataset as an ephemeral project, then times
random-element access over every array: once with each worker holding
its own attachment to the shared segments, once over per-worker
in-process copies. The project is unlinked when the run ends.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		project, file := args[0], args[1]
		m := newManager()
		src := dataset.OpenJSON(file)

		var paths [][]string
		var arrays []*cuteshm.Array
		if err := src.Walk(func(path []string, ds dataset.Dataset) error {
			paths = append(paths, append([]string{}, path...))
			arrays = append(arrays, ds.Array)
			return nil
		}); err != nil {
			return err
		}
		if len(arrays) == 0 {
			return fmt.Errorf("dataset file %s holds no arrays", file)
		}

		total, count, err := dataset.TotalBytes(src)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Benchmarking %d array(s), %s, %d iteration(s) per worker\n",
			count, cuteshm.BytesToHuman(total), benchIterations)

		t := newTable("Workers", "Shared Memory (it/s)", "In-Process (it/s)")
		err = dataset.WithTransfer(m, project, src, dataset.TransferOptions{Overwrite: true}, func() error {
			for _, n := range benchWorkers {
				if n < 1 {
					return fmt.Errorf("worker count must be positive, got %d", n)
				}
				sharedFreq, err := benchShared(m, project, paths, n, benchIterations)
				if err != nil {
					return err
				}
				directFreq := benchDirect(arrays, n, benchIterations)
				t.Row(fmt.Sprintf("%d", n),
					fmt.Sprintf("%.1f", sharedFreq),
					fmt.Sprintf("%.1f", directFreq))
			}
			return nil
		})
		if err != nil {
			return err
		}
		fmt.Fprintln(out, t)
		return nil
	},
}

func init() {
	benchCmd.Flags().IntVar(&benchIterations, "iterations", 1000, "random-element accesses per worker")
	benchCmd.Flags().IntSliceVar(&benchWorkers, "workers", []int{1, 5, 10, 15}, "concurrent worker counts to measure")
	rootCmd.AddCommand(benchCmd)
}

// benchSink keeps the access loops observable.
var benchSink byte

// benchShared times reads through shared memory. Every worker performs
// its own attach cycle, standing in for a separate consumer process.
func benchShared(m *cuteshm.Manager, project string, paths [][]string, workers, iterations int) (float64, error) {
	freqs := make([]float64, workers)
	sinks := make([]byte, workers)
	errs := make([]error, workers)
	var wg sync.WaitGroup
	for w := range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			shared, err := m.Read(project)
			if err != nil {
				errs[w] = err
				return
			}
			defer shared.Close()
			local := make([]*cuteshm.Array, len(paths))
			for i, p := range paths {
				local[i] = shared.Array(p...).Array
			}
			freqs[w], sinks[w] = accessLoop(local, iterations)
		}()
	}
	wg.Wait()
	for _, err := range errs {
		if err != nil {
			return 0, err
		}
	}
	for _, s := range sinks {
		benchSink ^= s
	}
	return mean(freqs), nil
}

// benchDirect times the same accesses over in-process copies of the
// arrays, one copy per worker.
func benchDirect(arrays []*cuteshm.Array, workers, iterations int) float64 {
	freqs := make([]float64, workers)
	sinks := make([]byte, workers)
	var wg sync.WaitGroup
	for w := range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			local := make([]*cuteshm.Array, len(arrays))
			for i, a := range arrays {
				data := make([]byte, len(a.Data))
				copy(data, a.Data)
				local[i] = &cuteshm.Array{DType: a.DType, Shape: a.Shape, Data: data}
			}
			freqs[w], sinks[w] = accessLoop(local, iterations)
		}()
	}
	wg.Wait()
	for _, s := range sinks {
		benchSink ^= s
	}
	return mean(freqs)
}

func accessLoop(arrays []*cuteshm.Array, iterations int) (float64, byte) {
	start := time.Now()
	var sink byte
	for range iterations {
		for _, a := range arrays {
			if len(a.Data) == 0 {
				continue
			}
			sink ^= a.Data[rand.IntN(len(a.Data))]
		}
	}
	elapsed := time.Since(start)
	if elapsed <= 0 {
		elapsed = time.Nanosecond
	}
	return float64(iterations) / elapsed.Seconds(), sink
}

func mean(vs []float64) float64 {
	var sum float64
	for _, v := range vs {
		sum += v
	}
	return sum / float64(len(vs))
}
