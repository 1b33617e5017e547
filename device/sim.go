package device

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/sbinet/npyio"
)

// SimContext is a drop-in replacement for a hardware-backed Context that
// requires no hardware. It is used by the tests and by runs without a device
// attached.
type SimContext struct {
	devices   []*SimDevice
	mu        sync.Mutex
	destroyed int
}

// NewSimContext returns a context holding the given simulated devices.
func NewSimContext(devs ...*SimDevice) *SimContext {
	return &SimContext{devices: devs}
}

// Devices lists the devices of the context.
func (c *SimContext) Devices() []Device {
	out := make([]Device, len(c.devices))
	for i, d := range c.devices {
		out[i] = d
	}
	return out
}

// FindDevice matches a device by ID or by name, returning nil on no match.
func (c *SimContext) FindDevice(name string) Device {
	for _, d := range c.devices {
		if d.id == name || d.name == name {
			return d
		}
	}
	return nil
}

// Destroy errors if the context was already destroyed.
func (c *SimContext) Destroy() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.destroyed++
	if c.destroyed > 1 {
		return fmt.Errorf("SimContext.Destroy: already destroyed")
	}
	return nil
}

// DestroyCount reports how many times Destroy has been called.
func (c *SimContext) DestroyCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.destroyed
}

// SimDevice emulates one output device. The zero value is not usable; use
// NewSimDevice and AddOutputChannel.
type SimDevice struct {
	id      string
	name    string
	trigger bool

	channels []*SimChannel
	attrs    map[string]string

	// StepOverride forces Buffer.Step() to the given value, so that the
	// per-sample (demultiplexing) fill path can be exercised. Zero means
	// the step equals the sample size.
	StepOverride int
	// PushDelay is how long each Push blocks before the device accepts
	// the buffer.
	PushDelay time.Duration
	// FailPushAfter injects a push failure: the Nth push returns an
	// error. Zero disables the injection.
	FailPushAfter int
	// CapturePath, when non-empty, names a NumPy .npy file to which all
	// pushed bytes are written when the buffer is destroyed.
	CapturePath string

	mu      sync.Mutex
	pushed  [][]byte
	npushes int
}

// NewSimDevice returns a simulated device with no channels.
func NewSimDevice(id, name string) *SimDevice {
	return &SimDevice{id: id, name: name, attrs: make(map[string]string)}
}

// NewSimTrigger returns a simulated trigger device.
func NewSimTrigger(id, name string) *SimDevice {
	d := NewSimDevice(id, name)
	d.trigger = true
	return d
}

// AddOutputChannel appends an output channel of the given sample width.
func (d *SimDevice) AddOutputChannel(id, name string, sampleBytes int) *SimChannel {
	ch := &SimChannel{id: id, name: name, output: true, sampleBytes: sampleBytes}
	d.channels = append(d.channels, ch)
	return ch
}

// AddInputChannel appends an input (capture-direction) channel.
func (d *SimDevice) AddInputChannel(id, name string, sampleBytes int) *SimChannel {
	ch := &SimChannel{id: id, name: name, sampleBytes: sampleBytes}
	d.channels = append(d.channels, ch)
	return ch
}

// ID returns the device ID.
func (d *SimDevice) ID() string { return d.id }

// Name returns the device name.
func (d *SimDevice) Name() string { return d.name }

// IsTrigger reports whether this device is a trigger.
func (d *SimDevice) IsTrigger() bool { return d.trigger }

// Channels lists all channels of the device.
func (d *SimDevice) Channels() []Channel {
	out := make([]Channel, len(d.channels))
	for i, ch := range d.channels {
		out[i] = ch
	}
	return out
}

// FindChannel matches a channel by ID or name, returning nil on no match.
func (d *SimDevice) FindChannel(name string) Channel {
	for _, ch := range d.channels {
		if ch.id == name || ch.name == name {
			return ch
		}
	}
	return nil
}

// SetTrigger associates a trigger device. It errors when t is not a trigger.
func (d *SimDevice) SetTrigger(t Device) error {
	if t != nil && !t.IsTrigger() {
		return fmt.Errorf("device %s is not a trigger", t.ID())
	}
	return nil
}

// WriteAttr stores a device attribute.
func (d *SimDevice) WriteAttr(name, value string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.attrs[name] = value
	return nil
}

// WriteAttrInt64 stores an integer device attribute.
func (d *SimDevice) WriteAttrInt64(name string, value int64) error {
	return d.WriteAttr(name, fmt.Sprintf("%d", value))
}

// Attr returns a previously written attribute value.
func (d *SimDevice) Attr(name string) string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.attrs[name]
}

// SampleSize sums the sample widths of all enabled channels.
func (d *SimDevice) SampleSize() (int, error) {
	size := 0
	for _, ch := range d.channels {
		if ch.Enabled() {
			size += ch.sampleBytes
		}
	}
	return size, nil
}

// CreateBuffer allocates a transmit buffer holding the given number of
// samples across the currently enabled channels.
func (d *SimDevice) CreateBuffer(samples int, cyclic bool) (Buffer, error) {
	if samples < 1 {
		return nil, fmt.Errorf("buffer size must be at least 1 sample, not %d", samples)
	}
	size, err := d.SampleSize()
	if err != nil {
		return nil, err
	}
	if size == 0 {
		return nil, fmt.Errorf("cannot create a buffer with no enabled channels")
	}
	step := size
	if d.StepOverride > 0 {
		step = d.StepOverride
	}
	if step < size {
		return nil, fmt.Errorf("step %d smaller than sample size %d", step, size)
	}
	b := &SimBuffer{
		dev:       d,
		data:      make([]byte, samples*step),
		samples:   samples,
		step:      step,
		cyclic:    cyclic,
		cancelled: make(chan struct{}),
	}
	return b, nil
}

// Pushes reports how many buffers the device has accepted.
func (d *SimDevice) Pushes() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.npushes
}

// Pushed returns copies of the byte contents of every accepted buffer, in
// push order.
func (d *SimDevice) Pushed() [][]byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([][]byte, len(d.pushed))
	copy(out, d.pushed)
	return out
}

func (d *SimDevice) acceptPush(data []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.npushes++
	if d.FailPushAfter > 0 && d.npushes >= d.FailPushAfter {
		return fmt.Errorf("device %s rejected buffer", d.id)
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	d.pushed = append(d.pushed, cp)
	return nil
}

// SimChannel is one channel of a SimDevice.
type SimChannel struct {
	id          string
	name        string
	output      bool
	sampleBytes int

	mu      sync.Mutex
	enabled bool
}

// ID returns the channel ID.
func (ch *SimChannel) ID() string { return ch.id }

// Name returns the channel name.
func (ch *SimChannel) Name() string { return ch.name }

// IsOutput reports whether the channel is in the transmit direction.
func (ch *SimChannel) IsOutput() bool { return ch.output }

// Enable marks the channel active for the next buffer creation.
func (ch *SimChannel) Enable() {
	ch.mu.Lock()
	ch.enabled = true
	ch.mu.Unlock()
}

// Disable marks the channel inactive.
func (ch *SimChannel) Disable() {
	ch.mu.Lock()
	ch.enabled = false
	ch.mu.Unlock()
}

// Enabled reports whether the channel is active.
func (ch *SimChannel) Enabled() bool {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	return ch.enabled
}

// SampleBytes is the storage size of one sample of this channel.
func (ch *SimChannel) SampleBytes() int { return ch.sampleBytes }

// SimBuffer is the transmit buffer of a SimDevice. Push blocks for the
// device's PushDelay and is unblocked early by Cancel, matching the contract
// real device buffers give their submission call.
type SimBuffer struct {
	dev     *SimDevice
	data    []byte
	samples int
	step    int
	cyclic  bool

	cancelled  chan struct{}
	cancelOnce sync.Once

	mu        sync.Mutex
	destroyed int
}

// Bytes exposes the whole writable region of the buffer.
func (b *SimBuffer) Bytes() []byte { return b.data }

// Step is the distance in bytes between consecutive addressable samples.
func (b *SimBuffer) Step() int { return b.step }

// Samples is the buffer capacity in samples.
func (b *SimBuffer) Samples() int { return b.samples }

// ForEachSample iterates the enabled channels of every sample slot in layout
// order: samples outermost, channels innermost.
func (b *SimBuffer) ForEachSample(fn SampleFunc) (int, error) {
	var enabled []*SimChannel
	for _, ch := range b.dev.channels {
		if ch.Enabled() {
			enabled = append(enabled, ch)
		}
	}
	processed := 0
	for i := 0; i < b.samples; i++ {
		off := i * b.step
		for _, ch := range enabled {
			slot := b.data[off : off+ch.sampleBytes]
			n, err := fn(ch, slot)
			if err == io.EOF {
				return processed, nil
			}
			if err != nil {
				return processed, err
			}
			processed += n
			off += ch.sampleBytes
		}
	}
	return processed, nil
}

// Push blocks until the device accepts the buffer, or until Cancel unblocks
// it, in which case it returns ErrCancelled.
func (b *SimBuffer) Push() error {
	if b.dev.PushDelay > 0 {
		timer := time.NewTimer(b.dev.PushDelay)
		defer timer.Stop()
		select {
		case <-b.cancelled:
			return ErrCancelled
		case <-timer.C:
		}
	} else {
		select {
		case <-b.cancelled:
			return ErrCancelled
		default:
		}
	}
	return b.dev.acceptPush(b.data)
}

// Cancel unblocks an in-progress or future Push. It is idempotent and safe
// to call from any goroutine.
func (b *SimBuffer) Cancel() {
	b.cancelOnce.Do(func() { close(b.cancelled) })
}

// Destroy releases the buffer, writing the capture file if one was named.
func (b *SimBuffer) Destroy() {
	b.mu.Lock()
	b.destroyed++
	b.mu.Unlock()
	if b.dev.CapturePath != "" && b.destroyed == 1 {
		if err := b.writeCapture(); err != nil {
			fmt.Fprintf(os.Stderr, "could not write capture file: %v\n", err)
		}
	}
}

// DestroyCount reports how many times Destroy has been called.
func (b *SimBuffer) DestroyCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.destroyed
}

// writeCapture saves every pushed byte to a NumPy file for offline checks.
func (b *SimBuffer) writeCapture() error {
	f, err := os.Create(b.dev.CapturePath)
	if err != nil {
		return err
	}
	defer f.Close()
	var all []uint8
	for _, frame := range b.dev.Pushed() {
		all = append(all, frame...)
	}
	return npyio.Write(f, all)
}
