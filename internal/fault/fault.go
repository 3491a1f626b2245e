// Package fault maps camera, transport and protocol failures onto the closed
// set of kinds the streaming client reports to its presenter.
package fault

import (
	"fmt"
	"strings"
)

// Kind is one entry of the failure taxonomy
type Kind int

const (
	Unknown Kind = iota
	DeviceNotFound
	PermissionDenied
	DeviceBusy
	ConstraintUnsatisfiable
	CaptureUnsupported
	InvalidModelSelection
	ConnectionTimeout
	ConnectionClosed
	NotConnected
	MalformedServerMessage
)

var kindNames = map[Kind]string{
	Unknown:                 "Unknown",
	DeviceNotFound:          "DeviceNotFound",
	PermissionDenied:        "PermissionDenied",
	DeviceBusy:              "DeviceBusy",
	ConstraintUnsatisfiable: "ConstraintUnsatisfiable",
	CaptureUnsupported:      "CaptureUnsupported",
	InvalidModelSelection:   "InvalidModelSelection",
	ConnectionTimeout:       "ConnectionTimeout",
	ConnectionClosed:        "ConnectionClosed",
	NotConnected:            "NotConnected",
	MalformedServerMessage:  "MalformedServerMessage",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// MarshalText lets kinds show up by name in JSON status payloads
func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

func (k *Kind) UnmarshalText(text []byte) error {
	for kind, name := range kindNames {
		if name == string(text) {
			*k = kind
			return nil
		}
	}
	return fmt.Errorf("unknown fault kind %q", text)
}

// Default guidance per kind, shown to the user alongside the kind
var hints = map[Kind]string{
	Unknown:                 "an unexpected error occurred",
	DeviceNotFound:          "no camera was detected; make sure the device has a camera and it is enabled",
	PermissionDenied:        "camera access was denied; allow camera access in your system settings",
	DeviceBusy:              "the camera could not be read; it may be in use by another application",
	ConstraintUnsatisfiable: "the camera does not support the requested configuration; try another camera",
	CaptureUnsupported:      "camera capture is not supported on this platform",
	InvalidModelSelection:   "both a detector and a recognizer model must be selected",
	ConnectionTimeout:       "the detection service did not accept the connection within the handshake deadline",
	ConnectionClosed:        "the connection to the detection service was closed",
	NotConnected:            "the detection service is not connected",
	MalformedServerMessage:  "the detection service sent a message that could not be parsed",
}

// InsecureHint is appended when capture fails outside a secure context
const InsecureHint = "note: camera access requires a secure (TLS) transport unless running on localhost"

// Hint returns the default guidance for a kind
func Hint(k Kind) string {
	if h, ok := hints[k]; ok {
		return h
	}
	return hints[Unknown]
}

// Error is a classified failure
type Error struct {
	Kind Kind
	Hint string
	Err  error
}

// New creates an error of the given kind with the default hint
func New(kind Kind, err error) *Error {
	return &Error{Kind: kind, Hint: Hint(kind), Err: err}
}

// Newf creates an error of the given kind wrapping a formatted cause
func Newf(kind Kind, format string, args ...any) *Error {
	return New(kind, fmt.Errorf(format, args...))
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Kind.String())
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	if e.Hint != "" {
		b.WriteString(" (")
		b.WriteString(e.Hint)
		b.WriteString(")")
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error of the same kind, so the sentinels below work with errors.Is
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// WithHint returns a copy with a replaced hint
func (e *Error) WithHint(hint string) *Error {
	cp := *e
	cp.Hint = hint
	return &cp
}

// WithInsecureHint returns a copy whose hint carries the secure transport note
func (e *Error) WithInsecureHint() *Error {
	if strings.Contains(e.Hint, InsecureHint) {
		return e
	}
	cp := *e
	if cp.Hint == "" {
		cp.Hint = InsecureHint
	} else {
		cp.Hint = cp.Hint + "; " + InsecureHint
	}
	return &cp
}

// Sentinels for errors.Is
var (
	ErrUnknown                 = &Error{Kind: Unknown}
	ErrDeviceNotFound          = &Error{Kind: DeviceNotFound}
	ErrPermissionDenied        = &Error{Kind: PermissionDenied}
	ErrDeviceBusy              = &Error{Kind: DeviceBusy}
	ErrConstraintUnsatisfiable = &Error{Kind: ConstraintUnsatisfiable}
	ErrCaptureUnsupported      = &Error{Kind: CaptureUnsupported}
	ErrInvalidModelSelection   = &Error{Kind: InvalidModelSelection}
	ErrConnectionTimeout       = &Error{Kind: ConnectionTimeout}
	ErrConnectionClosed        = &Error{Kind: ConnectionClosed}
	ErrNotConnected            = &Error{Kind: NotConnected}
	ErrMalformedServerMessage  = &Error{Kind: MalformedServerMessage}
)
