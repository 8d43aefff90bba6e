package main

import "time"

// serve runs fn in its own goroutine. The returned channel is closed when fn returns.
func serve(fn func()) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		fn()
	}()
	return done
}

// awaitStopped waits for every channel to be closed, at most timeout in total.
func awaitStopped(timeout time.Duration, stopped ...<-chan struct{}) bool {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	for _, done := range stopped {
		select {
		case <-done:
		case <-deadline.C:
			return false
		}
	}
	return true
}
