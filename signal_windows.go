//go:build windows

package feeddev

import (
	"os"
	"os/signal"
)

// signalChannel returns a buffered channel that receives os.Interrupt
// (Ctrl+C). Windows has no POSIX signals; the Go runtime maps
// CTRL_BREAK_EVENT and console-close events to os.Interrupt as well, which
// covers the shutdown cases this tool cares about.
func signalChannel() chan os.Signal {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, os.Interrupt)
	return ch
}
