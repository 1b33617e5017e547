//go:build !linux

package feeddev

// pipeMaxBytes is a stub on platforms without the fs.pipe-max-size sysctl.
func pipeMaxBytes() int {
	return 0
}
