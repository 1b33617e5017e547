package feeddev

import (
	"errors"
	"fmt"
	"io"

	"github.com/usnistgov/feeddev/device"
)

// ErrSourceExhausted reports that the sample source ended while the device
// buffer still owed bytes. A buffer is never pushed with a stale tail after
// a bulk fill, so this condition is fatal for the transfer.
var ErrSourceExhausted = errors.New("sample source exhausted before buffer was filled")

// SampleSource adapts a blocking byte stream (normally standard input) into
// device buffer fills, enforcing the remaining-sample budget. A budget of 0
// means unbounded. The budget never goes negative: once it reaches zero the
// source stops supplying samples.
type SampleSource struct {
	r          io.Reader
	sampleSize int
	bounded    bool
	remaining  uint64
	consumed   uint64
}

// NewSampleSource returns a source reading sampleSize-byte samples from r,
// supplying at most budget samples (0 = unbounded).
func NewSampleSource(r io.Reader, sampleSize int, budget uint64) *SampleSource {
	return &SampleSource{r: r, sampleSize: sampleSize, bounded: budget > 0, remaining: budget}
}

// FillBulk fills the contiguous writable region of a buffer in one pass,
// clamped to the remaining budget. It reads until the clamped region is full;
// end-of-input short of that is reported as ErrSourceExhausted. On success it
// reports whether the budget is now exhausted.
func (s *SampleSource) FillBulk(region []byte) (exhausted bool, err error) {
	if s.bounded {
		if max := s.remaining * uint64(s.sampleSize); uint64(len(region)) > max {
			region = region[:max]
		}
	}
	if _, err := io.ReadFull(s.r, region); err != nil {
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return false, fmt.Errorf("%w: %v", ErrSourceExhausted, err)
		}
		return false, err
	}
	samples := uint64(len(region) / s.sampleSize)
	s.consumed += samples
	if s.bounded {
		s.remaining -= samples
		return s.remaining == 0, nil
	}
	return false, nil
}

// ReadSample is the per-slot callback for the demultiplexing fill path: it
// reads exactly one channel sample from the stream into slot. When a bounded
// budget has already reached zero it returns io.EOF, which ends the buffer
// iteration short without error; reaching zero is an expected termination,
// not an I/O failure. End-of-input before that point is ErrSourceExhausted.
func (s *SampleSource) ReadSample(ch device.Channel, slot []byte) (int, error) {
	if s.bounded && s.remaining == 0 {
		return 0, io.EOF
	}
	n, err := io.ReadFull(s.r, slot)
	if err != nil {
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return n, fmt.Errorf("%w: %v", ErrSourceExhausted, err)
		}
		return n, err
	}
	s.consumed++
	if s.bounded {
		s.remaining--
	}
	return n, nil
}

// Exhausted reports whether a bounded budget has been fully consumed.
func (s *SampleSource) Exhausted() bool {
	return s.bounded && s.remaining == 0
}

// Consumed returns the number of whole samples read from the stream so far.
func (s *SampleSource) Consumed() uint64 {
	return s.consumed
}

// Remaining returns the unconsumed part of a bounded budget, or 0 when the
// source is unbounded.
func (s *SampleSource) Remaining() uint64 {
	return s.remaining
}
