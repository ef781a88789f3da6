package goroutine

import (
	"runtime"
	"strings"
	"testing"
	"time"
)

// modulePrefix marks stack frames that belong to this module.
const modulePrefix = "threatgate/"

// AssertNoLeaks registers a cleanup that fails the test if goroutines running
// threatgate code are still alive five seconds after the test returns.
// Goroutines owned by the runtime, the testing package or third-party
// libraries are ignored.
func AssertNoLeaks(t testing.TB) {
	t.Helper()
	AssertNoLeaksWithTimeout(t, 5*time.Second, 50*time.Millisecond)
}

// AssertNoLeaksWithTimeout is AssertNoLeaks with a custom deadline and poll interval.
func AssertNoLeaksWithTimeout(t testing.TB, timeout, pollInterval time.Duration) {
	t.Helper()
	before := len(moduleGoroutines())

	t.Cleanup(func() {
		deadline := time.Now().Add(timeout)
		var leaked []string
		for {
			leaked = moduleGoroutines()
			if len(leaked) <= before || time.Now().After(deadline) {
				break
			}
			time.Sleep(pollInterval)
		}
		if len(leaked) > before {
			t.Errorf("goroutine leak: %d module goroutines still running (started with %d)", len(leaked), before)
			t.Logf("Leaked goroutines:\n%s", strings.Join(leaked, "\n\n"))
		}
	})
}

// moduleGoroutines returns the stacks of goroutines that execute module code
// outside of a test runner.
func moduleGoroutines() []string {
	buf := make([]byte, 1<<20)
	for {
		n := runtime.Stack(buf, true)
		if n < len(buf) {
			buf = buf[:n]
			break
		}
		buf = make([]byte, 2*len(buf))
	}

	var stacks []string
	for _, g := range strings.Split(string(buf), "\n\n") {
		if !strings.Contains(g, modulePrefix) || strings.Contains(g, "testing.tRunner") {
			continue
		}
		stacks = append(stacks, g)
	}
	return stacks
}
