// Package feeddev streams sample data from standard input into the transmit
// buffer of an acquisition device. The device itself sits behind the device
// package boundary; this package owns the transfer loop, its cooperative
// cancellation, the sample budget, and the benchmark accounting.
package feeddev

import (
	"log"
	"os"
	"time"
)

// BuildInfo can contain compile-time information about the build
type BuildInfo struct {
	Version string
	Githash string
	Date    string
}

// Build is a global holding compile-time information about the build
var Build = BuildInfo{
	Version: "0.1.0",
	Githash: "no git hash computed",
	Date:    "no build date computed",
}

// StartTime is a global holding the time init() was run
var StartTime time.Time

// ProblemLogger will log warning messages to a file
var ProblemLogger *log.Logger

func init() {
	StartTime = time.Now()

	// The feeddev main program will override this, but at least initialize
	// with a sensible value
	ProblemLogger = log.New(os.Stderr, "", log.LstdFlags)
}
