package feeddev

import "log"

// WarnSmallPipe logs a diagnostic when the kernel's maximum pipe capacity is
// smaller than one device buffer. Standard input is usually a pipe, and a
// pipe smaller than a buffer forces multiple read syscalls per refill, which
// can matter at high sample rates. Purely advisory; does nothing on
// platforms where the limit can't be read.
func WarnSmallPipe(bufferBytes int, logger *log.Logger) {
	max := pipeMaxBytes()
	if max == 0 || bufferBytes <= max {
		return
	}
	logger.Printf("one buffer is %d bytes but fs.pipe-max-size is %d; "+
		"input refills will take several reads", bufferBytes, max)
}
