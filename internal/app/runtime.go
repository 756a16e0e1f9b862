package app

import (
	"os"
	"strconv"
	"sync"
	"sync/atomic"
)

// STOCKVAL_TEST_MODE makes the binaries exit before touching Postgres or Redis.
const testModeEnv = "STOCKVAL_TEST_MODE"

var (
	testMode     atomic.Bool
	testModeOnce sync.Once
)

func loadTestMode() {
	on, err := strconv.ParseBool(os.Getenv(testModeEnv))
	testMode.Store(err == nil && on)
}

// InTestMode reports whether the binaries should skip starting servers.
func InTestMode() bool {
	testModeOnce.Do(loadTestMode)
	return testMode.Load()
}

// RefreshTestMode re-reads the environment.
func RefreshTestMode() {
	testModeOnce.Do(func() {})
	loadTestMode()
}
