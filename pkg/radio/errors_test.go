package radio

import (
	"errors"
	"fmt"
	"testing"
)

func TestConnError(t *testing.T) {
	t.Run("Wraps Cause", func(t *testing.T) {
		cause := errors.New("read /dev/ttyUSB0: input/output error")
		err := NewConnError(ErrConnectionLost, cause)
		if !errors.Is(err, cause) {
			t.Error("Expected errors.Is to find the cause")
		}
		if KindOf(err) != ErrConnectionLost {
			t.Errorf("Expected ErrConnectionLost, got %v", KindOf(err))
		}
	})

	t.Run("Kind Survives Wrapping", func(t *testing.T) {
		err := fmt.Errorf("while polling: %w", Errf(ErrOperationTimeout, "no reply"))
		if KindOf(err) != ErrOperationTimeout {
			t.Errorf("Expected ErrOperationTimeout, got %v", KindOf(err))
		}
	})

	t.Run("Unstructured Defaults", func(t *testing.T) {
		if KindOf(errors.New("whatever")) != ErrConnectionFailed {
			t.Error("Expected ErrConnectionFailed for an unstructured error")
		}
	})
}

func TestIsCritical(t *testing.T) {
	critical := []error{
		Errf(ErrConnectionLost, "udp session lost"),
		Errf(ErrOperationTimeout, "no reply"),
		errors.New("write /dev/ttyUSB0: broken pipe"),
		errors.New("open /dev/ttyUSB1: no such file or directory"),
		errors.New("read tcp 127.0.0.1:4532: connection reset by peer"),
		errors.New("Device or resource busy"),
	}
	for _, err := range critical {
		if !IsCritical(err) {
			t.Errorf("Expected %v to be critical", err)
		}
	}

	benign := []error{
		nil,
		Errf(ErrInvalidState, "rig rejected command"),
		errors.New("unparseable frequency reply"),
	}
	for _, err := range benign {
		if IsCritical(err) {
			t.Errorf("Expected %v to be non-critical", err)
		}
	}
}

func TestClassifyTransportError(t *testing.T) {
	cases := []struct {
		text string
		kind ErrKind
	}{
		{"dial tcp: i/o timeout", ErrConnectionTimeout},
		{"open /dev/ttyUSB0: no such file or directory", ErrDeviceNotFound},
		{"open /dev/ttyUSB0: device or resource busy", ErrDeviceBusy},
		{"write: broken pipe", ErrConnectionLost},
		{"something else entirely", ErrConnectionFailed},
	}
	for _, tc := range cases {
		got := ClassifyTransportError(errors.New(tc.text))
		if got.Kind != tc.kind {
			t.Errorf("Expected %v for %q, got %v", tc.kind, tc.text, got.Kind)
		}
	}

	t.Run("Nil Stays Nil", func(t *testing.T) {
		if ClassifyTransportError(nil) != nil {
			t.Error("Expected nil for nil input")
		}
	})

	t.Run("Structured Error Untouched", func(t *testing.T) {
		in := Errf(ErrDeviceBusy, "port busy")
		if got := ClassifyTransportError(in); got.Kind != ErrDeviceBusy {
			t.Errorf("Expected existing kind preserved, got %v", got.Kind)
		}
	})
}
