// Package device defines the boundary to the acquisition hardware: contexts,
// devices, channels, triggers, and transmit buffers. The interfaces follow
// the shape of the industrial-I/O device libraries, so a hardware-backed
// implementation can be mounted behind them without touching the streaming
// core. The package also provides an in-memory simulated implementation used
// for testing and for running the tool without hardware attached.
package device

import "errors"

// ErrCancelled is returned by Buffer.Push when the submission was cancelled
// from another goroutine while it was blocked.
var ErrCancelled = errors.New("device: buffer push cancelled")

// Context is one connection to a set of devices. Destroy must be called
// exactly once when the context is no longer needed.
type Context interface {
	Devices() []Device
	// FindDevice looks a device up by its ID or its name, returning nil
	// when there is no match.
	FindDevice(name string) Device
	Destroy() error
}

// Device is a single acquisition device (or trigger) within a context.
type Device interface {
	ID() string
	Name() string
	Channels() []Channel
	FindChannel(name string) Channel
	IsTrigger() bool
	SetTrigger(t Device) error
	WriteAttr(name, value string) error
	WriteAttrInt64(name string, value int64) error
	// SampleSize returns the size in bytes of one full sample across all
	// currently enabled channels. Zero means no channels are enabled.
	SampleSize() (int, error)
	CreateBuffer(samples int, cyclic bool) (Buffer, error)
}

// Channel is one input or output channel of a device. Channels must be
// enabled before a buffer is created for samples to be allotted to them.
type Channel interface {
	ID() string
	Name() string
	IsOutput() bool
	Enable()
	Disable()
	Enabled() bool
	// SampleBytes is the storage size of one sample of this channel.
	SampleBytes() int
}

// SampleFunc is called by Buffer.ForEachSample once per addressable sample
// slot, in device layout order. It returns the number of bytes it filled in.
// Returning io.EOF stops the iteration early without error; any other error
// aborts the iteration and is returned to the caller.
type SampleFunc func(ch Channel, sample []byte) (int, error)

// Buffer is a transmit buffer bound to one device.
//
// Push blocks until the device accepts the buffer contents. Cancel is the
// only method safe to call concurrently with an in-progress Push: it unblocks
// the push, which then returns ErrCancelled. No other method may be called
// while a Push is outstanding. Destroy releases the buffer; the buffer must
// not be used afterward.
type Buffer interface {
	// Bytes exposes the writable region between the buffer's start and
	// end pointers. It is only meaningful for bulk fills, i.e. when
	// Step() equals the device sample size.
	Bytes() []byte
	// Step is the distance in bytes between two consecutive directly
	// addressable samples of the buffer.
	Step() int
	// ForEachSample iterates over every sample slot of every enabled
	// channel and reports how many bytes the callback processed in total.
	ForEachSample(fn SampleFunc) (int, error)
	Push() error
	Cancel()
	Destroy()
}
