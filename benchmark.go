package feeddev

import (
	"fmt"
	"io"
	"time"

	"gonum.org/v1/gonum/stat"
)

// refillsPerBenchmark is how many pushes feed one reported rolling average.
const refillsPerBenchmark = 10

// mibThreshold is the instantaneous rate above which the report switches
// from KiB/s to MiB/s.
const mibThreshold = 1000000.0

// benchmarkWindow accumulates per-push throughput measurements and emits one
// rolling-average line per full window, then resets. In benchmark mode the
// loop never reads standard input, so the buffer contents are whatever was
// resident; only the push timing matters.
type benchmarkWindow struct {
	bytesPerPush float64
	rates        []float64
	out          io.Writer
}

func newBenchmarkWindow(bufferSamples, sampleSize int, out io.Writer) *benchmarkWindow {
	return &benchmarkWindow{
		bytesPerPush: float64(bufferSamples) * float64(sampleSize),
		rates:        make([]float64, 0, refillsPerBenchmark),
		out:          out,
	}
}

// record notes the elapsed wall-clock time of one push. Every
// refillsPerBenchmark pushes it prints the windowed average throughput and
// starts a fresh window.
func (b *benchmarkWindow) record(elapsed time.Duration) {
	rate := b.bytesPerPush / elapsed.Seconds()
	b.rates = append(b.rates, rate)
	if len(b.rates) < refillsPerBenchmark {
		return
	}

	mean := stat.Mean(b.rates, nil)
	unit, div := byte('K'), 1000.0
	if rate > mibThreshold {
		unit, div = 'M', 1000.0*1000.0
	}
	fmt.Fprintf(b.out, "\x1b[2K\rThroughput: %d %ciB/s", uint64(mean/div), unit)
	b.rates = b.rates[:0]
}
