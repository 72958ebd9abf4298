package testutil

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestClock_StartsAtEpoch(t *testing.T) {
	clock := Clock(t)
	assert.Equal(t, Epoch, clock.Now())

	clock.Advance(time.Minute)
	assert.Equal(t, Epoch.Add(time.Minute), clock.Now())
}

func TestContext_HasDeadline(t *testing.T) {
	ctx := Context(t)
	deadline, ok := ctx.Deadline()
	assert.True(t, ok)
	assert.WithinDuration(t, time.Now().Add(WaitLong), deadline, time.Second)
}

func TestSequence(t *testing.T) {
	next := Sequence(0.1, 0.5, 0.9)
	assert.Equal(t, []float64{0.1, 0.5, 0.9, 0.9}, []float64{next(), next(), next(), next()})

	assert.Zero(t, Sequence()())
}

func TestSequence_ThreadSafe(t *testing.T) {
	next := Sequence(1, 2, 3)
	var wg sync.WaitGroup
	for range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			next()
		}()
	}
	wg.Wait()
	assert.Equal(t, 3.0, next())
}
