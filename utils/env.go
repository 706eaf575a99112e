package utils

import (
	"os"
	"runtime"
	"strconv"

	"go.viam.com/articulated/logging"
)

const (
	// NumWorkersEnvVar overrides the number of solver worker goroutines.
	NumWorkersEnvVar = "IK_NUM_WORKERS"

	// maxDefaultWorkers bounds the default worker count on large machines.
	maxDefaultWorkers = 8
)

// GetenvInt returns the integer value of an environment variable, or defaultVal when it is unset.
// Unparseable values fall back to the default with a warning.
func GetenvInt(key string, defaultVal int, logger logging.Logger) int {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultVal
	}
	val, err := strconv.Atoi(raw)
	if err != nil {
		logger.Warnf("Failed to parse %s env var, falling back to default %d", key, defaultVal)
		return defaultVal
	}
	return val
}

// DefaultNumWorkers is the worker count used when none is configured: one less than the number
// of usable CPUs, so the calling goroutine keeps a core, bounded to a small pool.
func DefaultNumWorkers(logger logging.Logger) int {
	n := runtime.GOMAXPROCS(0) - 1
	if n > maxDefaultWorkers {
		n = maxDefaultWorkers
	}
	if n < 0 {
		n = 0
	}
	return GetenvInt(NumWorkersEnvVar, n, logger)
}
