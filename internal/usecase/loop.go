package usecase

import (
	"sync"
	"time"
)

// waitFor waits up to grace for wg and reports whether it drained.
func waitFor(wg *sync.WaitGroup, grace time.Duration) bool {
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return true
	case <-time.After(grace):
		return false
	}
}
