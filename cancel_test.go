package feeddev

import (
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/usnistgov/feeddev/device"
)

func newCancelBuffer(t *testing.T) (*device.SimDevice, *device.SimBuffer) {
	t.Helper()
	d := device.NewSimDevice("dac0", "sim-dac")
	d.AddOutputChannel("voltage0", "V0", 2)
	d.FindChannel("voltage0").Enable()
	b, err := d.CreateBuffer(4, false)
	if err != nil {
		t.Fatalf("CreateBuffer failed: %v", err)
	}
	return d, b.(*device.SimBuffer)
}

func TestCancelStateTransitions(t *testing.T) {
	_, buf := newCancelBuffer(t)
	cs := NewCancelState(buf)
	if !cs.Running() {
		t.Error("new CancelState should be running")
	}
	assert.Equal(t, 0, cs.ExitCode(), "exit code while running")

	// A clean stop flips the flag but leaves any in-flight push alone.
	cs.RequestStop(0)
	if cs.Running() {
		t.Error("CancelState should not be running after RequestStop")
	}
	assert.Equal(t, 0, cs.ExitCode())
	if err := buf.Push(); err != nil {
		t.Errorf("clean stop should not cancel the buffer: %v", err)
	}

	// Only the first request counts.
	cs.RequestStop(15)
	assert.Equal(t, 0, cs.ExitCode(), "later stop requests are no-ops")
}

func TestCancelStateFatalStopCancelsPush(t *testing.T) {
	dev, buf := newCancelBuffer(t)
	dev.PushDelay = 10 * time.Second
	cs := NewCancelState(buf)

	errs := make(chan error)
	go func() { errs <- buf.Push() }()
	time.Sleep(10 * time.Millisecond)
	cs.RequestStop(int(syscall.SIGTERM))

	select {
	case err := <-errs:
		assert.ErrorIs(t, err, device.ErrCancelled)
	case <-time.After(2 * time.Second):
		t.Fatal("fatal stop did not unblock the push")
	}
	assert.Equal(t, 15, cs.ExitCode())
}

func TestCancelStateConcurrentRequests(t *testing.T) {
	_, buf := newCancelBuffer(t)
	cs := NewCancelState(buf)

	var wg sync.WaitGroup
	for i := 1; i <= 8; i++ {
		wg.Add(1)
		go func(code int) {
			defer wg.Done()
			cs.RequestStop(code)
		}(i)
	}
	wg.Wait()
	code := cs.ExitCode()
	if code < 1 || code > 8 {
		t.Errorf("exit code %d is not one of the requested codes", code)
	}
}

func TestSignalCode(t *testing.T) {
	assert.Equal(t, 2, signalCode(syscall.SIGINT))
	assert.Equal(t, 15, signalCode(syscall.SIGTERM))
}
