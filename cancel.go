package feeddev

import (
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"

	"github.com/usnistgov/feeddev/device"
)

// codeRunning is the CancelState sentinel meaning no stop has been requested.
const codeRunning int32 = -1

// CancelState is the shared cancellation flag for one transfer session. It
// holds one of three states: running, stop-requested-clean (exit 0), or
// stop-requested-fatal (nonzero exit status, usually a signal number). The
// first stop request wins; all later requests are no-ops. The transfer loop
// polls it between blocking calls, and a fatal stop additionally cancels any
// buffer submission in flight so the loop's blocked Push returns promptly.
type CancelState struct {
	code atomic.Int32
	buf  device.Buffer
}

// NewCancelState returns a running CancelState bound to the given buffer.
// The buffer may be nil, in which case stop requests only flip the flag.
func NewCancelState(buf device.Buffer) *CancelState {
	cs := &CancelState{buf: buf}
	cs.code.Store(codeRunning)
	return cs
}

// Running reports whether no stop has been requested yet.
func (cs *CancelState) Running() bool {
	return cs.code.Load() == codeRunning
}

// RequestStop records code as the exit status of the transfer. Only the
// first call has any effect. A fatal stop (code != 0) also cancels the
// buffer, unblocking a Push that may be outstanding; a clean stop leaves the
// in-flight submission to complete normally.
func (cs *CancelState) RequestStop(code int) {
	if !cs.code.CompareAndSwap(codeRunning, int32(code)) {
		return
	}
	if code != 0 && cs.buf != nil {
		cs.buf.Cancel()
	}
}

// ExitCode returns the recorded exit status, or 0 while still running.
func (cs *CancelState) ExitCode() int {
	if c := cs.code.Load(); c != codeRunning {
		return int(c)
	}
	return 0
}

// StartSignalMonitor converts termination-class signals into stop requests
// on cs. Device-library calls are not safe from asynchronous signal context,
// so the conversion happens on a dedicated goroutine that receives signals
// synchronously and then performs the cancellation call. A repeated signal
// while a stop is already pending is a no-op. The returned function stops
// the monitor and releases the signal registration.
func StartSignalMonitor(cs *CancelState) (stop func()) {
	sigs := signalChannel()
	done := make(chan struct{})
	finished := make(chan struct{})
	go func() {
		defer close(finished)
		for {
			select {
			case sig := <-sigs:
				cs.RequestStop(signalCode(sig))
			case <-done:
				return
			}
		}
	}()
	return func() {
		signal.Stop(sigs)
		close(done)
		<-finished
	}
}

// signalCode maps a received signal to the process exit status it demands.
func signalCode(sig os.Signal) int {
	if s, ok := sig.(syscall.Signal); ok {
		return int(s)
	}
	return int(syscall.SIGTERM)
}
