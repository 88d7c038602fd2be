package app

import (
	"os"
	"strconv"
)

// TestModeEnv disables process side effects such as listening and connecting.
const TestModeEnv = "VENDOR_PORTAL_TEST_MODE"

// InTestMode reports whether cmd binaries should return before dialing Redis
// or binding ports. Any value accepted by strconv.ParseBool as true enables it.
func InTestMode() bool {
	on, err := strconv.ParseBool(os.Getenv(TestModeEnv))
	return err == nil && on
}
