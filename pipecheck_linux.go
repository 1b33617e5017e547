//go:build linux

package feeddev

import (
	"strconv"

	sysctl "github.com/lorenzosaino/go-sysctl"
)

// pipeMaxBytes returns the kernel's fs.pipe-max-size, or 0 when it cannot
// be read.
func pipeMaxBytes() int {
	v, err := sysctl.Get("fs.pipe-max-size")
	if err != nil {
		return 0
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0
	}
	return n
}
