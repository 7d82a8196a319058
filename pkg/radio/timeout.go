package radio

import (
	"time"
)

// callWithTimeout runs fn on its own goroutine and races it against the
// deadline. A result arriving after the timeout is discarded: the spawned
// goroutine writes into a buffered channel nobody reads, so a late native
// completion cannot mutate state the caller no longer expects.
func callWithTimeout(d time.Duration, fn func() error) error {
	done := make(chan error, 1)
	go func() {
		done <- fn()
	}()

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case err := <-done:
		return err
	case <-timer.C:
		return Errf(ErrOperationTimeout, "operation did not complete within %s", d)
	}
}

// getWithTimeout is callWithTimeout for operations producing a value.
func getWithTimeout[T any](d time.Duration, fn func() (T, error)) (T, error) {
	type result struct {
		val T
		err error
	}
	done := make(chan result, 1)
	go func() {
		v, err := fn()
		done <- result{v, err}
	}()

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case r := <-done:
		return r.val, r.err
	case <-timer.C:
		var zero T
		return zero, Errf(ErrOperationTimeout, "operation did not complete within %s", d)
	}
}
