package runlog

import "time"

// The composite types used for messages to the ClickHouse database.

// TransferMessage is the information recorded in the transfers table for
// one streaming run.
type TransferMessage struct {
	ID        string
	Hostname  string
	Version   string
	GoVersion string
	Device    string
	Nchannels int
	Cyclic    bool
	Benchmark bool
	Pushes    uint64
	Bytes     uint64
	ExitCode  int
	Start     time.Time
	End       time.Time
}
