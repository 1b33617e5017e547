//go:build !windows

package feeddev

import (
	"os"
	"os/signal"
	"syscall"
)

// signalChannel returns a buffered channel that receives the termination
// signals a streaming run must honor: interrupt, hangup, broken pipe, and
// terminate. The buffer of 1 keeps a signal from being lost while the
// monitor goroutine is briefly busy.
func signalChannel() chan os.Signal {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGHUP, syscall.SIGPIPE, syscall.SIGTERM)
	return ch
}
