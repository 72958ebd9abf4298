// Package testutil holds helpers shared by package tests.
package testutil

import (
	"context"
	"testing"
	"time"

	"github.com/coder/quartz"
)

// Epoch is the wall time mock clocks start at. It has no sub-second part
// so values survive the store's millisecond round trip unchanged.
var Epoch = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// WaitLong bounds how long a test waits on a goroutine it drives.
const WaitLong = 15 * time.Second

// Clock returns a mock clock set to Epoch.
func Clock(t testing.TB) *quartz.Mock {
	t.Helper()
	clock := quartz.NewMock(t)
	clock.Set(Epoch)
	return clock
}

// Context returns a context that is cancelled after WaitLong or when the
// test ends.
func Context(t testing.TB) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), WaitLong)
	t.Cleanup(cancel)
	return ctx
}
