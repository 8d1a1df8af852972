// Package wg_timeout bounds how long a caller waits on a sync.WaitGroup.
package wg_timeout

import (
	"sync"
	"time"
)

// WaitGroupTimeout waits for wg for at most timeout. It reports whether wg
// finished in time. On timeout emitter is called and the wait is abandoned;
// the goroutines tracked by wg keep running.
func WaitGroupTimeout(wg *sync.WaitGroup, timeout time.Duration, emitter func()) bool {
	c := make(chan struct{})

	go func() {
		defer close(c)
		wg.Wait()
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-c:
		return true
	case <-timer.C:
		if emitter != nil {
			emitter()
		}
		return false
	}
}
