package domain

import (
	"errors"
	"fmt"
)

// ErrorKind classifies failures crossing a component boundary.
type ErrorKind int

const (
	KindUnknown ErrorKind = iota
	// KindPermission: the user denied access or no device is present.
	KindPermission
	// KindDevice: the device is busy or otherwise unavailable.
	KindDevice
	// KindTransport: the backend could not be reached.
	KindTransport
	// KindBackend: the backend answered but declined or returned an incomplete payload.
	KindBackend
	// KindState: the caller violated an operation's preconditions.
	KindState
)

func (k ErrorKind) String() string {
	switch k {
	case KindPermission:
		return "permission"
	case KindDevice:
		return "device"
	case KindTransport:
		return "transport"
	case KindBackend:
		return "backend"
	case KindState:
		return "state"
	default:
		return "unknown"
	}
}

// Error is the typed error stored on sessions and returned by adapters.
type Error struct {
	Kind ErrorKind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s error", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches another *Error of the same kind, so callers can test
// errors.Is(err, &domain.Error{Kind: domain.KindTransport}).
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && (t.Op == "" || t.Op == e.Op)
}

func NewError(kind ErrorKind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

func Errorf(kind ErrorKind, op, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

// KindOf returns the kind of the first *Error in err's chain.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

var (
	ErrNoFile   = &Error{Kind: KindState, Op: "upload", Err: errors.New("no file selected")}
	ErrNoResult = &Error{Kind: KindState, Op: "presentation", Err: errors.New("no generated presentation")}
)
