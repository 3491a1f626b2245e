package fault

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"syscall"
	"testing"

	"github.com/gorilla/websocket"
)

type namedErr string

func (n namedErr) Error() string { return "platform: " + string(n) }
func (n namedErr) Name() string  { return string(n) }

func TestClassify(t *testing.T) {
	var syntaxErr error
	if err := json.Unmarshal([]byte("not json"), &struct{}{}); err != nil {
		syntaxErr = err
	}

	cases := []struct {
		name string
		err  error
		want Kind
	}{
		{"not found name", namedErr("NotFoundError"), DeviceNotFound},
		{"legacy not found name", namedErr("DevicesNotFoundError"), DeviceNotFound},
		{"not allowed name", namedErr("NotAllowedError"), PermissionDenied},
		{"permission denied name", namedErr("PermissionDeniedError"), PermissionDenied},
		{"not readable name", namedErr("NotReadableError"), DeviceBusy},
		{"track start name", namedErr("TrackStartError"), DeviceBusy},
		{"overconstrained name", namedErr("OverconstrainedError"), ConstraintUnsatisfiable},
		{"constraint name", namedErr("ConstraintNotSatisfiedError"), ConstraintUnsatisfiable},
		{"type error name", namedErr("TypeError"), CaptureUnsupported},
		{"wrapped name", fmt.Errorf("acquire: %w", namedErr("NotAllowedError")), PermissionDenied},
		{"deadline", context.DeadlineExceeded, ConnectionTimeout},
		{"os permission", os.ErrPermission, PermissionDenied},
		{"ebusy", syscall.EBUSY, DeviceBusy},
		{"enodev", syscall.ENODEV, DeviceNotFound},
		{"close error", &websocket.CloseError{Code: websocket.CloseGoingAway}, ConnectionClosed},
		{"json syntax", syntaxErr, MalformedServerMessage},
		{"message busy", errors.New("device or resource busy"), DeviceBusy},
		{"message not found", errors.New("failed to find the best driver that fits the constraints"), DeviceNotFound},
		{"unrecognized", errors.New("something odd"), Unknown},
		{"unknown name", namedErr("WeirdError"), Unknown},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := Classify(tc.err)
			if got == nil {
				t.Fatal("expected a classified error")
			}
			if got.Kind != tc.want {
				t.Errorf("expected %s, got %s", tc.want, got.Kind)
			}
			if got.Hint == "" {
				t.Error("expected a hint")
			}
		})
	}
}

func TestClassifyNil(t *testing.T) {
	if Classify(nil) != nil {
		t.Error("expected nil for nil input")
	}
	if KindOf(nil) != Unknown {
		t.Error("expected Unknown kind for nil")
	}
}

func TestClassifyPassesThroughClassified(t *testing.T) {
	orig := New(DeviceBusy, errors.New("camera locked"))
	wrapped := fmt.Errorf("setup: %w", orig)

	got := Classify(wrapped)
	if got != orig {
		t.Errorf("expected the original classified error back, got %v", got)
	}
}

type panicky struct{}

func (panicky) Error() string { panic("boom") }

func TestClassifyNeverPanics(t *testing.T) {
	got := Classify(panicky{})
	if got == nil || got.Kind != Unknown {
		t.Errorf("expected Unknown, got %v", got)
	}
}

func TestErrorsIsMatchesByKind(t *testing.T) {
	err := fmt.Errorf("send: %w", New(NotConnected, nil))
	if !errors.Is(err, ErrNotConnected) {
		t.Error("expected errors.Is to match the NotConnected sentinel")
	}
	if errors.Is(err, ErrConnectionClosed) {
		t.Error("did not expect a ConnectionClosed match")
	}
}

func TestWithInsecureHint(t *testing.T) {
	e := New(PermissionDenied, nil).WithInsecureHint()
	if !strings.Contains(e.Hint, InsecureHint) {
		t.Errorf("expected insecure note in hint, got %q", e.Hint)
	}
	if !strings.HasPrefix(e.Hint, Hint(PermissionDenied)) {
		t.Errorf("expected kind guidance to stay first, got %q", e.Hint)
	}

	again := e.WithInsecureHint()
	if strings.Count(again.Hint, InsecureHint) != 1 {
		t.Errorf("expected the note once, got %q", again.Hint)
	}
}

func TestIsSecureOrigin(t *testing.T) {
	cases := []struct {
		scheme, host string
		want         bool
	}{
		{"ws", "localhost:8000", true},
		{"ws", "127.0.0.1:8000", true},
		{"ws", "[::1]:8000", true},
		{"wss", "detector.example.com", true},
		{"https", "detector.example.com", true},
		{"ws", "192.168.1.20:8000", false},
		{"http", "detector.example.com", false},
	}
	for _, tc := range cases {
		if got := IsSecureOrigin(tc.scheme, tc.host); got != tc.want {
			t.Errorf("IsSecureOrigin(%q, %q) = %v, want %v", tc.scheme, tc.host, got, tc.want)
		}
	}
}

func TestKindString(t *testing.T) {
	if MalformedServerMessage.String() != "MalformedServerMessage" {
		t.Errorf("unexpected name %q", MalformedServerMessage.String())
	}
	if Kind(99).String() != "Kind(99)" {
		t.Errorf("unexpected name %q", Kind(99).String())
	}
}

func TestKindTextRoundTrip(t *testing.T) {
	var k Kind
	if err := k.UnmarshalText([]byte("DeviceBusy")); err != nil || k != DeviceBusy {
		t.Errorf("expected DeviceBusy, got %v (%v)", k, err)
	}
	if err := k.UnmarshalText([]byte("Sideways")); err == nil {
		t.Error("expected an error for an unknown name")
	}
}
