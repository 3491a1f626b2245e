package fault

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"os"
	"strings"
	"syscall"

	"github.com/gorilla/websocket"
)

// Named is implemented by platform errors that carry a browser-style
// error name such as "NotFoundError" or "NotAllowedError"
type Named interface {
	Name() string
}

var platformNames = map[string]Kind{
	"NotFoundError":               DeviceNotFound,
	"DevicesNotFoundError":        DeviceNotFound,
	"NotAllowedError":             PermissionDenied,
	"PermissionDeniedError":       PermissionDenied,
	"SecurityError":               PermissionDenied,
	"NotReadableError":            DeviceBusy,
	"TrackStartError":             DeviceBusy,
	"AbortError":                  DeviceBusy,
	"OverconstrainedError":        ConstraintUnsatisfiable,
	"ConstraintNotSatisfiedError": ConstraintUnsatisfiable,
	"TypeError":                   CaptureUnsupported,
	"NotSupportedError":           CaptureUnsupported,
}

// Classify maps any error onto the taxonomy. It never panics; nil stays nil
// and anything it cannot recognize becomes Unknown.
func Classify(err error) (classified *Error) {
	if err == nil {
		return nil
	}
	defer func() {
		if r := recover(); r != nil {
			classified = New(Unknown, err)
		}
	}()

	var fe *Error
	if errors.As(err, &fe) {
		return fe
	}
	return New(kindOf(err), err)
}

// KindOf is Classify(err).Kind, Unknown for nil
func KindOf(err error) Kind {
	if fe := Classify(err); fe != nil {
		return fe.Kind
	}
	return Unknown
}

func kindOf(err error) Kind {
	var named Named
	if errors.As(err, &named) {
		if kind, ok := platformNames[named.Name()]; ok {
			return kind
		}
	}

	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return ConnectionTimeout
	case errors.Is(err, os.ErrPermission), errors.Is(err, syscall.EACCES), errors.Is(err, syscall.EPERM):
		return PermissionDenied
	case errors.Is(err, syscall.EBUSY):
		return DeviceBusy
	case errors.Is(err, os.ErrNotExist), errors.Is(err, syscall.ENODEV), errors.Is(err, syscall.ENOENT):
		return DeviceNotFound
	case errors.Is(err, websocket.ErrCloseSent), errors.Is(err, net.ErrClosed):
		return ConnectionClosed
	}

	var closeErr *websocket.CloseError
	if errors.As(err, &closeErr) {
		return ConnectionClosed
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ConnectionTimeout
	}

	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &syntaxErr) || errors.As(err, &typeErr) {
		return MalformedServerMessage
	}

	return kindFromMessage(strings.ToLower(err.Error()))
}

// Last resort for drivers that only return strings
func kindFromMessage(msg string) Kind {
	switch {
	case strings.Contains(msg, "permission denied"), strings.Contains(msg, "not allowed"),
		strings.Contains(msg, "not authorized"):
		return PermissionDenied
	case strings.Contains(msg, "busy"), strings.Contains(msg, "in use"),
		strings.Contains(msg, "could not start"):
		return DeviceBusy
	// checked before constraints: mediadevices reports a missing device as
	// "failed to find the best driver that fits the constraints"
	case strings.Contains(msg, "not found"), strings.Contains(msg, "no such device"),
		strings.Contains(msg, "failed to find"):
		return DeviceNotFound
	case strings.Contains(msg, "overconstrained"), strings.Contains(msg, "constraint"):
		return ConstraintUnsatisfiable
	case strings.Contains(msg, "not supported"), strings.Contains(msg, "unsupported"),
		strings.Contains(msg, "undefined"):
		return CaptureUnsupported
	case strings.Contains(msg, "timeout"), strings.Contains(msg, "timed out"):
		return ConnectionTimeout
	}
	return Unknown
}

// IsSecureOrigin reports whether capture runs in a secure context: an
// encrypted scheme, or a loopback host
func IsSecureOrigin(scheme, host string) bool {
	switch strings.ToLower(scheme) {
	case "https", "wss":
		return true
	}

	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	host = strings.Trim(host, "[]")
	if strings.EqualFold(host, "localhost") {
		return true
	}
	if ip := net.ParseIP(host); ip != nil {
		return ip.IsLoopback()
	}
	return false
}
