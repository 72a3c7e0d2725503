// Package testutil holds shared helpers for deterministic tests.
package testutil

import (
	"testing"
	"time"
)

// FixedTime returns a time source pinned to the given instant, for engines
// whose output embeds creation timestamps.
func FixedTime(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

// WaitFor polls cond until it returns true or two seconds elapse, then
// fails the test with msg. Used to observe work done by background
// goroutines without racing them.
func WaitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		if cond() {
			return
		}
		select {
		case <-deadline:
			t.Fatal(msg)
		case <-time.After(5 * time.Millisecond):
		}
	}
}
