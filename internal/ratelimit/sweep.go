package ratelimit

import (
	"sync"
	"time"
)

// sweeper runs fn on a fixed interval until stopped.
type sweeper struct {
	done chan struct{}
	once sync.Once
	wg   sync.WaitGroup
}

// startSweeper starts the background loop. A non-positive interval returns a
// sweeper whose stop is a no-op.
func startSweeper(interval time.Duration, fn func()) *sweeper {
	s := &sweeper{done: make(chan struct{})}
	if interval <= 0 {
		return s
	}
	s.wg.Add(1)
	go s.run(interval, fn)
	return s
}

func (s *sweeper) run(interval time.Duration, fn func()) {
	defer s.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			fn()
		}
	}
}

// stop ends the loop and waits for an in-flight sweep to finish. Safe to call
// more than once.
func (s *sweeper) stop() {
	s.once.Do(func() {
		close(s.done)
	})
	s.wg.Wait()
}
