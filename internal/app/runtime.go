package app

import "os"

// TestModeEnv disables runtime side effects (rate limiting, binaries' startup).
const TestModeEnv = "BACKOFFICE_TEST_MODE"

// InTestMode reports whether the application should skip runtime side effects.
func InTestMode() bool {
	return os.Getenv(TestModeEnv) == "1"
}
