package device

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sbinet/npyio"
	"github.com/stretchr/testify/assert"
)

func newTestDevice() *SimDevice {
	d := NewSimDevice("dac0", "sim-dac")
	d.AddOutputChannel("voltage0", "V0", 2)
	d.AddOutputChannel("voltage1", "V1", 2)
	d.AddInputChannel("voltage2", "V2", 2)
	return d
}

func TestFindDevice(t *testing.T) {
	dac := newTestDevice()
	trig := NewSimTrigger("trigger0", "sim-trigger")
	ctx := NewSimContext(dac, trig)

	if len(ctx.Devices()) != 2 {
		t.Errorf("Devices() has %d entries, want 2", len(ctx.Devices()))
	}
	for _, name := range []string{"dac0", "sim-dac"} {
		if ctx.FindDevice(name) != Device(dac) {
			t.Errorf("FindDevice(%q) did not find the DAC", name)
		}
	}
	if ctx.FindDevice("nosuchdevice") != nil {
		t.Errorf("FindDevice of a missing name should return nil")
	}
	if !trig.IsTrigger() || dac.IsTrigger() {
		t.Errorf("IsTrigger wrong: trig=%v dac=%v", trig.IsTrigger(), dac.IsTrigger())
	}
	if err := dac.SetTrigger(trig); err != nil {
		t.Errorf("SetTrigger(trigger) failed: %v", err)
	}
	if err := dac.SetTrigger(NewSimDevice("x", "y")); err == nil {
		t.Errorf("SetTrigger of a non-trigger should fail")
	}
	if err := trig.WriteAttrInt64("sampling_frequency", 100); err != nil {
		t.Errorf("WriteAttrInt64 failed: %v", err)
	}
	assert.Equal(t, "100", trig.Attr("sampling_frequency"))

	if err := ctx.Destroy(); err != nil {
		t.Errorf("first Destroy failed: %v", err)
	}
	if err := ctx.Destroy(); err == nil {
		t.Errorf("second Destroy should fail")
	}
	assert.Equal(t, 2, ctx.DestroyCount(), "DestroyCount should count both calls")
}

func TestSampleSize(t *testing.T) {
	d := newTestDevice()
	size, err := d.SampleSize()
	if err != nil || size != 0 {
		t.Errorf("SampleSize with nothing enabled = %d, %v; want 0, nil", size, err)
	}
	for _, ch := range d.Channels() {
		if ch.IsOutput() {
			ch.Enable()
		}
	}
	size, _ = d.SampleSize()
	if size != 4 {
		t.Errorf("SampleSize with 2 output channels enabled = %d, want 4", size)
	}
	d.FindChannel("voltage1").Disable()
	size, _ = d.SampleSize()
	if size != 2 {
		t.Errorf("SampleSize after disabling one channel = %d, want 2", size)
	}
}

func TestCreateBuffer(t *testing.T) {
	d := newTestDevice()
	if _, err := d.CreateBuffer(16, false); err == nil {
		t.Errorf("CreateBuffer with no enabled channels should fail")
	}
	d.FindChannel("voltage0").Enable()
	d.FindChannel("voltage1").Enable()
	if _, err := d.CreateBuffer(0, false); err == nil {
		t.Errorf("CreateBuffer(0) should fail")
	}
	b, err := d.CreateBuffer(16, false)
	if err != nil {
		t.Fatalf("CreateBuffer failed: %v", err)
	}
	sb := b.(*SimBuffer)
	assert.Equal(t, 64, len(b.Bytes()), "16 samples of 4 bytes")
	assert.Equal(t, 4, b.Step(), "step equals sample size without override")
	assert.Equal(t, 16, sb.Samples())

	d.StepOverride = 6
	b2, err := d.CreateBuffer(16, false)
	if err != nil {
		t.Fatalf("CreateBuffer with step override failed: %v", err)
	}
	assert.Equal(t, 6, b2.Step())
	assert.Equal(t, 96, len(b2.Bytes()))
}

func TestPushCancelDestroy(t *testing.T) {
	d := newTestDevice()
	d.FindChannel("voltage0").Enable()
	d.FindChannel("voltage1").Enable()
	b, err := d.CreateBuffer(4, false)
	if err != nil {
		t.Fatalf("CreateBuffer failed: %v", err)
	}
	sb := b.(*SimBuffer)

	copy(b.Bytes(), []byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15, 16})
	if err := b.Push(); err != nil {
		t.Fatalf("Push failed: %v", err)
	}
	pushed := d.Pushed()
	if len(pushed) != 1 || pushed[0][0] != 1 || pushed[0][15] != 16 {
		t.Errorf("Pushed() did not record the buffer contents")
	}

	// A blocked push must be unblocked by Cancel from another goroutine.
	d.PushDelay = 10 * time.Second
	errs := make(chan error)
	go func() { errs <- b.Push() }()
	time.Sleep(10 * time.Millisecond)
	b.Cancel()
	select {
	case err := <-errs:
		assert.ErrorIs(t, err, ErrCancelled, "cancelled push error")
	case <-time.After(2 * time.Second):
		t.Fatal("Cancel did not unblock Push")
	}
	b.Cancel() // idempotent

	b.Destroy()
	assert.Equal(t, 1, sb.DestroyCount())
}

func TestPushFailureInjection(t *testing.T) {
	d := newTestDevice()
	d.FindChannel("voltage0").Enable()
	d.FailPushAfter = 2
	b, err := d.CreateBuffer(4, false)
	if err != nil {
		t.Fatalf("CreateBuffer failed: %v", err)
	}
	if err := b.Push(); err != nil {
		t.Errorf("push 1 should succeed: %v", err)
	}
	if err := b.Push(); err == nil {
		t.Errorf("push 2 should fail")
	}
}

func TestForEachSample(t *testing.T) {
	d := newTestDevice()
	d.FindChannel("voltage0").Enable()
	d.FindChannel("voltage1").Enable()
	d.StepOverride = 6
	b, err := d.CreateBuffer(3, false)
	if err != nil {
		t.Fatalf("CreateBuffer failed: %v", err)
	}

	// Slots must come in layout order: each sample's enabled channels in
	// device channel order.
	var order []string
	value := byte(0)
	n, err := b.ForEachSample(func(ch Channel, slot []byte) (int, error) {
		order = append(order, ch.ID())
		for i := range slot {
			slot[i] = value
			value++
		}
		return len(slot), nil
	})
	if err != nil {
		t.Fatalf("ForEachSample failed: %v", err)
	}
	assert.Equal(t, 12, n, "3 samples x 2 channels x 2 bytes")
	want := []string{"voltage0", "voltage1", "voltage0", "voltage1", "voltage0", "voltage1"}
	assert.Equal(t, want, order, "slot iteration order")

	// Returning io.EOF stops the iteration short without error.
	count := 0
	n, err = b.ForEachSample(func(ch Channel, slot []byte) (int, error) {
		if count == 3 {
			return 0, io.EOF
		}
		count++
		return len(slot), nil
	})
	if err != nil {
		t.Errorf("short iteration should not error: %v", err)
	}
	assert.Equal(t, 6, n, "bytes processed before the EOF stop")

	// Any other error aborts and is returned.
	boom := fmt.Errorf("boom")
	if _, err = b.ForEachSample(func(ch Channel, slot []byte) (int, error) {
		return 0, boom
	}); err != boom {
		t.Errorf("ForEachSample error = %v, want boom", err)
	}
}

func TestCaptureFile(t *testing.T) {
	d := newTestDevice()
	d.FindChannel("voltage0").Enable()
	d.CapturePath = filepath.Join(t.TempDir(), "pushed.npy")
	b, err := d.CreateBuffer(4, false)
	if err != nil {
		t.Fatalf("CreateBuffer failed: %v", err)
	}
	copy(b.Bytes(), []byte{0xde, 0xad, 0xbe, 0xef, 0x56, 0x78, 0x9a, 0xbc})
	if err := b.Push(); err != nil {
		t.Fatalf("Push failed: %v", err)
	}
	b.Destroy()

	f, err := os.Open(d.CapturePath)
	if err != nil {
		t.Fatalf("capture file was not written: %v", err)
	}
	defer f.Close()
	var data []uint8
	if err := npyio.Read(f, &data); err != nil {
		t.Fatalf("could not read capture file: %v", err)
	}
	assert.Equal(t, []uint8{0xde, 0xad, 0xbe, 0xef, 0x56, 0x78, 0x9a, 0xbc}, data)
}
