package common

import (
	"os"
	"strconv"
)

// DefaultConcurrency returns the work-queue concurrency to use for the named
// queue when the caller hasn't configured one explicitly: the value of the
// environment variable IMAGEPIPELINE_<QUEUE>_CONCURRENCY if it is a positive
// integer, else fallback.
func DefaultConcurrency(queueName string, fallback int) int {
	if v := os.Getenv("IMAGEPIPELINE_" + queueName + "_CONCURRENCY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return fallback
}
