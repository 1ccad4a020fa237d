// Package lock provides bounded-wait acquisition of a sync.Mutex.
package lock

import (
	"fmt"
	"sync"
	"time"

	appErrors "github.com/noah-isme/course-registry/pkg/errors"
)

const (
	// DefaultTimeout bounds every collection manager operation.
	DefaultTimeout = 5 * time.Second
	// PollInterval is the wait between TryLock attempts.
	PollInterval = 10 * time.Millisecond
)

// Guard releases the mutex it was acquired on. Release may be called any number of times.
type Guard struct {
	mu   *sync.Mutex
	once sync.Once
}

// Acquire locks mu. A positive timeout polls TryLock every PollInterval until the timeout elapses;
// zero blocks until the lock is available.
func Acquire(mu *sync.Mutex, timeout time.Duration) (*Guard, error) {
	if mu == nil {
		return nil, appErrors.Clone(appErrors.ErrLockFailure, "nil mutex")
	}
	if timeout < 0 {
		return nil, appErrors.Clone(appErrors.ErrLockFailure, fmt.Sprintf("negative lock timeout %s", timeout))
	}
	if timeout == 0 {
		mu.Lock()
		return &Guard{mu: mu}, nil
	}

	deadline := time.Now().Add(timeout)
	for {
		if mu.TryLock() {
			return &Guard{mu: mu}, nil
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, appErrors.Clone(appErrors.ErrLockTimeout, fmt.Sprintf("lock not acquired within %s", timeout))
		}
		if remaining < PollInterval {
			time.Sleep(remaining)
		} else {
			time.Sleep(PollInterval)
		}
	}
}

// Release unlocks the guarded mutex once.
func (g *Guard) Release() {
	if g == nil {
		return
	}
	g.once.Do(func() {
		g.mu.Unlock()
	})
}
