package feeddev

import (
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"time"

	"github.com/davecgh/go-spew/spew"
	"github.com/oklog/ulid/v2"

	"github.com/usnistgov/feeddev/device"
)

// cyclicIdleTick is the poll interval of the cyclic-mode idle wait. It is a
// variable so the tests can shorten it.
var cyclicIdleTick = time.Second

// Config holds the transfer parameters that drive the loop.
type Config struct {
	BufferSize int    // transmit buffer capacity, in samples
	Samples    uint64 // total sample budget; 0 = unbounded
	Cyclic     bool   // push once, then let the device replay the buffer
	Benchmark  bool   // never read input; time repeated pushes
	Verbose    bool   // dump the configured session before the loop starts
}

// Validate rejects configurations before any device resource is allocated.
func (c Config) Validate() error {
	if c.BufferSize < 1 {
		return fmt.Errorf("buffer size must be at least 1 sample, not %d", c.BufferSize)
	}
	if c.Benchmark && c.Cyclic {
		return errors.New("cannot benchmark in cyclic mode")
	}
	return nil
}

// Session owns one transfer from a sample stream into a device buffer: the
// buffer handle, the cancellation state, the source adapter, and the
// benchmark window. Create it with NewSession only after the device's
// channels are enabled; Run releases the buffer and the device context on
// every exit path.
type Session struct {
	// ID labels this transfer in logs, status messages, and run records.
	ID string

	ctx        device.Context
	dev        device.Device
	buf        device.Buffer
	src        *SampleSource
	cancel     *CancelState
	cfg        Config
	sampleSize int

	bench    *benchmarkWindow
	pub      *Publisher
	problems *log.Logger

	nPushes     uint64
	bytesPushed uint64
}

// NewSession allocates the transmit buffer and assembles a session around
// it. The device must already have its output channels enabled, since the
// sample size and the buffer layout derive from the enabled set.
func NewSession(ctx device.Context, dev device.Device, input io.Reader, cfg Config) (*Session, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	sampleSize, err := dev.SampleSize()
	if err != nil {
		return nil, fmt.Errorf("unable to get sample size: %w", err)
	}
	// Zero isn't normally an error code, but in this case it is an error.
	if sampleSize == 0 {
		return nil, errors.New("unable to get sample size, returned 0")
	}
	buf, err := dev.CreateBuffer(cfg.BufferSize, cfg.Cyclic)
	if err != nil {
		return nil, fmt.Errorf("unable to allocate buffer: %w", err)
	}
	s := &Session{
		ID:         ulid.Make().String(),
		ctx:        ctx,
		dev:        dev,
		buf:        buf,
		src:        NewSampleSource(input, sampleSize, cfg.Samples),
		cancel:     NewCancelState(buf),
		cfg:        cfg,
		sampleSize: sampleSize,
		problems:   ProblemLogger,
	}
	if cfg.Benchmark {
		s.bench = newBenchmarkWindow(cfg.BufferSize, sampleSize, os.Stderr)
	}
	return s, nil
}

// Cancel exposes the session's cancellation state, for the signal monitor
// and for programmatic termination.
func (s *Session) Cancel() *CancelState {
	return s.cancel
}

// SetPublisher attaches an optional status publisher. Call before Run.
func (s *Session) SetPublisher(p *Publisher) {
	s.pub = p
}

// Pushes reports how many buffers have been submitted so far.
func (s *Session) Pushes() uint64 {
	return s.nPushes
}

// BytesPushed reports the total bytes submitted to the device so far.
func (s *Session) BytesPushed() uint64 {
	return s.bytesPushed
}

// SamplesConsumed reports the whole samples read from the input stream.
func (s *Session) SamplesConsumed() uint64 {
	return s.src.Consumed()
}

// Run drives the transfer loop until the budget is exhausted, a stop is
// requested, or a fatal error occurs, and returns the process exit status.
// The buffer and the device context are destroyed on every exit path,
// exactly once. Within one iteration the fill strictly precedes the push,
// and the push's completion strictly precedes the benchmark accounting.
func (s *Session) Run() int {
	defer func() {
		s.buf.Destroy()
		if err := s.ctx.Destroy(); err != nil {
			s.problems.Printf("could not destroy device context: %v", err)
		}
	}()

	if s.cfg.Verbose {
		s.problems.Printf("session %s configured:\n%s", s.ID, spew.Sdump(s.cfg))
	}
	s.publish("start")

	for s.cancel.Running() {
		var before time.Time
		switch {
		case s.cfg.Benchmark:
			// Whatever is resident in the buffer gets pushed again;
			// only the submission is timed.
			before = time.Now()

		case s.buf.Step() == s.sampleSize:
			// The buffer holds only the samples we requested, so no
			// demultiplexing is needed: one contiguous fill.
			exhausted, err := s.src.FillBulk(s.buf.Bytes())
			if err != nil {
				s.problems.Printf("could not refill buffer: %v", err)
				s.cancel.RequestStop(1)
				return s.finish()
			}
			if exhausted && !s.cfg.Cyclic {
				s.cancel.RequestStop(0)
			}

		default:
			// Device layout requires demultiplexing: fill one channel
			// sample per slot.
			if _, err := s.buf.ForEachSample(s.src.ReadSample); err != nil {
				if errors.Is(err, ErrSourceExhausted) {
					s.problems.Printf("could not refill buffer: %v", err)
					s.cancel.RequestStop(1)
					return s.finish()
				}
				// Best effort on this path: report the failure and
				// still push what was filled.
				s.problems.Printf("buffer processing failed: %v", err)
			}
			if s.src.Exhausted() && !s.cfg.Cyclic {
				s.cancel.RequestStop(0)
			}
		}

		if err := s.buf.Push(); err != nil {
			// A cancelled push is the signal monitor unblocking us;
			// its exit status is already recorded.
			if !errors.Is(err, device.ErrCancelled) {
				s.problems.Printf("unable to push buffer: %v", err)
			}
			s.cancel.RequestStop(1)
			return s.finish()
		}
		s.nPushes++
		s.bytesPushed += uint64(len(s.buf.Bytes()))

		if s.cfg.Benchmark {
			s.bench.record(time.Since(before))
		}
		s.publish("running")

		// A cyclic buffer is replayed by the device itself after one
		// push; idle here, polling for termination each tick.
		for s.cfg.Cyclic && s.cancel.Running() {
			time.Sleep(cyclicIdleTick)
		}
	}
	return s.finish()
}

func (s *Session) finish() int {
	code := s.cancel.ExitCode()
	s.publish("exit")
	return code
}

func (s *Session) publish(state string) {
	if s.pub == nil {
		return
	}
	s.pub.Publish("transfer", SessionStatus{
		ID:     s.ID,
		Device: s.dev.ID(),
		State:  state,
		Pushes: s.nPushes,
		Bytes:  s.bytesPushed,
		Exit:   s.cancel.ExitCode(),
	})
}
