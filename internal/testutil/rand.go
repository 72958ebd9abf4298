package testutil

import "sync"

// Sequence returns a func() float64 that yields values in order and then
// repeats the last one. It stands in for rand.Float64 in jitter tests.
func Sequence(values ...float64) func() float64 {
	if len(values) == 0 {
		values = []float64{0}
	}
	var (
		mu sync.Mutex
		i  int
	)
	return func() float64 {
		mu.Lock()
		defer mu.Unlock()
		v := values[i]
		if i < len(values)-1 {
			i++
		}
		return v
	}
}
