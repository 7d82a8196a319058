package radio

import (
	"errors"
	"fmt"
	"strings"
)

// ErrKind classifies connection-layer failures.
type ErrKind int

const (
	ErrConnectionFailed ErrKind = iota
	ErrConnectionTimeout
	ErrConnectionLost
	ErrReconnectFailed
	ErrReconnectMaxAttempts
	ErrInvalidConfig
	ErrDeviceNotFound
	ErrDeviceBusy
	ErrOperationTimeout
	ErrInvalidState
	ErrNotInitialized
)

func (k ErrKind) String() string {
	switch k {
	case ErrConnectionFailed:
		return "connection failed"
	case ErrConnectionTimeout:
		return "connection timeout"
	case ErrConnectionLost:
		return "connection lost"
	case ErrReconnectFailed:
		return "reconnect failed"
	case ErrReconnectMaxAttempts:
		return "reconnect max attempts reached"
	case ErrInvalidConfig:
		return "invalid config"
	case ErrDeviceNotFound:
		return "device not found"
	case ErrDeviceBusy:
		return "device busy"
	case ErrOperationTimeout:
		return "operation timeout"
	case ErrInvalidState:
		return "invalid state"
	case ErrNotInitialized:
		return "not initialized"
	default:
		return "unknown error"
	}
}

// ConnError pairs a structured kind with the underlying cause.
type ConnError struct {
	Kind  ErrKind
	Cause error
}

func (e *ConnError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Kind, e.Cause)
	}
	return e.Kind.String()
}

func (e *ConnError) Unwrap() error { return e.Cause }

// NewConnError wraps cause with a structured kind.
func NewConnError(kind ErrKind, cause error) *ConnError {
	return &ConnError{Kind: kind, Cause: cause}
}

// Errf builds a ConnError from a format string.
func Errf(kind ErrKind, format string, args ...interface{}) *ConnError {
	return &ConnError{Kind: kind, Cause: fmt.Errorf(format, args...)}
}

// KindOf extracts the ErrKind from err, or ErrConnectionFailed if err
// carries no structured kind.
func KindOf(err error) ErrKind {
	var ce *ConnError
	if errors.As(err, &ce) {
		return ce.Kind
	}
	return ErrConnectionFailed
}

// criticalSignatures are failure-text fragments that indicate a hard
// hardware/transport fault rather than a transient command error. The
// list is a heuristic over unstructured native error text and is known to
// be incomplete; the manager's stall-timeout fallback catches what this
// misses.
var criticalSignatures = []string{
	"timeout",
	"timed out",
	"broken pipe",
	"no such file or directory",
	"no such device",
	"device not configured",
	"permission denied",
	"connection refused",
	"connection reset",
	"input/output error",
	"resource busy",
	"device or resource busy",
	"use of closed network connection",
	"network is unreachable",
	"serial port closed",
	"session lost",
}

// IsCritical reports whether err matches a known hardware-I/O failure
// signature. Structured kinds short-circuit the text match.
func IsCritical(err error) bool {
	if err == nil {
		return false
	}

	switch KindOf(err) {
	case ErrConnectionLost, ErrConnectionTimeout, ErrDeviceNotFound,
		ErrDeviceBusy, ErrOperationTimeout:
		return true
	}

	text := strings.ToLower(err.Error())
	for _, sig := range criticalSignatures {
		if strings.Contains(text, sig) {
			return true
		}
	}
	return false
}

// ClassifyTransportError maps raw transport error text to a structured
// kind at the boundary where the native library's error surface is
// unstructured.
func ClassifyTransportError(err error) *ConnError {
	if err == nil {
		return nil
	}
	var ce *ConnError
	if errors.As(err, &ce) {
		return ce
	}

	text := strings.ToLower(err.Error())
	switch {
	case strings.Contains(text, "timeout") || strings.Contains(text, "timed out"):
		return NewConnError(ErrConnectionTimeout, err)
	case strings.Contains(text, "no such file") || strings.Contains(text, "no such device") ||
		strings.Contains(text, "device not configured"):
		return NewConnError(ErrDeviceNotFound, err)
	case strings.Contains(text, "busy"):
		return NewConnError(ErrDeviceBusy, err)
	case strings.Contains(text, "broken pipe") || strings.Contains(text, "connection reset") ||
		strings.Contains(text, "closed network connection"):
		return NewConnError(ErrConnectionLost, err)
	default:
		return NewConnError(ErrConnectionFailed, err)
	}
}
