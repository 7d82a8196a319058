package radio

import (
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestCallWithTimeout(t *testing.T) {
	t.Run("Fast Call Passes Through", func(t *testing.T) {
		want := errors.New("op failed")
		if got := callWithTimeout(time.Second, func() error { return want }); got != want {
			t.Errorf("Expected the op's own error, got %v", got)
		}
		if err := callWithTimeout(time.Second, func() error { return nil }); err != nil {
			t.Errorf("Expected nil, got %v", err)
		}
	})

	t.Run("Slow Call Times Out", func(t *testing.T) {
		err := callWithTimeout(20*time.Millisecond, func() error {
			time.Sleep(500 * time.Millisecond)
			return nil
		})
		if KindOf(err) != ErrOperationTimeout {
			t.Errorf("Expected ErrOperationTimeout, got %v", err)
		}
	})

	t.Run("Late Completion Does Not Block", func(t *testing.T) {
		var finished atomic.Bool
		callWithTimeout(10*time.Millisecond, func() error {
			time.Sleep(50 * time.Millisecond)
			finished.Store(true)
			return nil
		})
		// the goroutine must be able to finish into the buffered channel
		time.Sleep(100 * time.Millisecond)
		if !finished.Load() {
			t.Error("Expected the late operation to run to completion")
		}
	})
}

func TestGetWithTimeout(t *testing.T) {
	t.Run("Returns Value", func(t *testing.T) {
		v, err := getWithTimeout(time.Second, func() (int64, error) { return 14074000, nil })
		if err != nil {
			t.Fatalf("Expected no error, got: %v", err)
		}
		if v != 14074000 {
			t.Errorf("Expected 14074000, got %d", v)
		}
	})

	t.Run("Timeout Yields Zero Value", func(t *testing.T) {
		v, err := getWithTimeout(20*time.Millisecond, func() (string, error) {
			time.Sleep(500 * time.Millisecond)
			return "late", nil
		})
		if KindOf(err) != ErrOperationTimeout {
			t.Errorf("Expected ErrOperationTimeout, got %v", err)
		}
		if v != "" {
			t.Errorf("Expected zero value, got %q", v)
		}
	})
}
