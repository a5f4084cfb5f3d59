package app

import (
	"os"
	"strconv"
	"sync/atomic"
)

// TestModeEnv, when set to a true value, makes the binaries return before
// opening any connection.
const TestModeEnv = "TALLY_TEST_MODE"

var testMode atomic.Pointer[bool]

// InTestMode reports whether runtime side effects should be skipped. The
// environment is read on first use and cached.
func InTestMode() bool {
	if v := testMode.Load(); v != nil {
		return *v
	}
	return RefreshTestMode()
}

// RefreshTestMode re-reads TestModeEnv, caches and returns the result.
func RefreshTestMode() bool {
	on, _ := strconv.ParseBool(os.Getenv(TestModeEnv))
	testMode.Store(&on)
	return on
}
