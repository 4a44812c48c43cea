package ort

import (
	"fmt"

	"github.com/pkg/errors"
)

// ErrSessionClosed is returned by Session.Run after Session.Close.
var ErrSessionClosed = errors.New("session is closed")

// RegistrationError reports a failed Env.RegisterExecutionProviderLibrary: duplicate
// logical name, unloadable library, incompatible plugin.
type RegistrationError struct {
	Name   string // logical registration name
	Path   string // library path as given
	Reason string
	Cause  error
}

func (e *RegistrationError) Error() string {
	msg := fmt.Sprintf("registering execution-provider library %q (%s): %s", e.Name, e.Path, e.Reason)
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

// Unwrap exposes the underlying cause to errors.Is/As.
func (e *RegistrationError) Unwrap() error { return e.Cause }

// UnregistrationError reports a failed Env.UnregisterExecutionProviderLibrary: unknown
// name, a live session still using the library, or a failing library Close.
type UnregistrationError struct {
	Name   string
	Reason string
	Cause  error
}

func (e *UnregistrationError) Error() string {
	msg := fmt.Sprintf("unregistering execution-provider library %q: %s", e.Name, e.Reason)
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *UnregistrationError) Unwrap() error { return e.Cause }

// DiscoveryError reports a device-discovery or device-selection failure, e.g. a device
// filter that matches nothing. Callers conventionally treat it as the one recoverable
// failure class (report and exit 1, everything else exits 2).
type DiscoveryError struct {
	Reason string
}

func (e *DiscoveryError) Error() string {
	return "discovering execution-provider devices: " + e.Reason
}

// SessionCreationError reports a NewSession failure after the model itself passed
// validation: provider construction, capability negotiation or compilation.
type SessionCreationError struct {
	Reason string
	Cause  error
}

func (e *SessionCreationError) Error() string {
	msg := "creating session: " + e.Reason
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *SessionCreationError) Unwrap() error { return e.Cause }

// ExecutionError reports a Session.Run failure: bad inputs, a failing kernel or a
// canceled context. Node is empty when the failure is not tied to one node.
type ExecutionError struct {
	Node   string
	Reason string
	Cause  error
}

func (e *ExecutionError) Error() string {
	msg := "executing session"
	if e.Node != "" {
		msg += fmt.Sprintf(" at node %q", e.Node)
	}
	msg += ": " + e.Reason
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *ExecutionError) Unwrap() error { return e.Cause }
