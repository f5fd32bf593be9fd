package engine

import (
	"context"
	"errors"
	"fmt"

	"gridsim/models"
)

// Kind is a class of failure in the error taxonomy.
type Kind string

// Error kinds; the string values are also the wire names.
const (
	KindNone              Kind = ""
	KindConfigInvalid     Kind = "config_invalid"
	KindSessionNotFound   Kind = "session_not_found"
	KindSessionBusy       Kind = "session_busy"
	KindEngineRuntime     Kind = "engine_runtime_error"
	KindEngineUnavailable Kind = "engine_unavailable"
)

// Sentinels for use with errors.Is.
var (
	ErrConfigInvalid     = models.ErrConfigInvalid
	ErrSessionNotFound   = errors.New("session not found")
	ErrSessionBusy       = errors.New("session busy")
	ErrEngineRuntime     = errors.New("engine runtime error")
	ErrEngineUnavailable = errors.New("engine unavailable")
)

var sentinels = map[Kind]error{
	KindConfigInvalid:     ErrConfigInvalid,
	KindSessionNotFound:   ErrSessionNotFound,
	KindSessionBusy:       ErrSessionBusy,
	KindEngineRuntime:     ErrEngineRuntime,
	KindEngineUnavailable: ErrEngineUnavailable,
}

// Sentinel returns the sentinel error of the kind, nil for KindNone or unknown kinds.
func (kind Kind) Sentinel() error {
	return sentinels[kind]
}

// ParseKind maps a wire name to a kind. Unknown names are runtime errors, since the engine
// raised something.
func ParseKind(s string) Kind {
	kind := Kind(s)
	if _, ok := sentinels[kind]; ok {
		return kind
	}
	if s == "" {
		return KindNone
	}
	return KindEngineRuntime
}

// Error is a classified failure of an engine operation.
type Error struct {
	Kind      Kind
	Op        string
	SessionID string
	Message   string
	// Err is the underlying cause, if any.
	Err error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.Op == "" {
		return fmt.Sprintf("%s: %s", e.Kind, msg)
	}
	return fmt.Sprintf("%s %s: %s: %s", e.Op, e.SessionID, e.Kind, msg)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches the sentinel of the error's kind.
func (e *Error) Is(target error) bool {
	sentinel := e.Kind.Sentinel()
	return sentinel != nil && target == sentinel
}

// NewError returns a classified error for op on the session.
func NewError(kind Kind, op, sessionID, message string) *Error {
	return &Error{
		Kind:      kind,
		Op:        op,
		SessionID: sessionID,
		Message:   message,
	}
}

// Classify maps any error onto the taxonomy. Context expiry and transport failures count as
// the engine being unavailable; anything unrecognized is a runtime error.
func Classify(err error) Kind {
	if err == nil {
		return KindNone
	}
	var engineErr *Error
	if errors.As(err, &engineErr) {
		return engineErr.Kind
	}
	for kind, sentinel := range sentinels {
		if errors.Is(err, sentinel) {
			return kind
		}
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return KindEngineUnavailable
	}
	return KindEngineRuntime
}

// Wrap classifies err and attributes it to op on the session. Existing *Error values keep
// their kind and message, gaining op and session if they lacked them.
func Wrap(op, sessionID string, err error) error {
	if err == nil {
		return nil
	}
	var engineErr *Error
	if errors.As(err, &engineErr) {
		wrapped := *engineErr
		if wrapped.Op == "" {
			wrapped.Op = op
		}
		if wrapped.SessionID == "" {
			wrapped.SessionID = sessionID
		}
		return &wrapped
	}
	return &Error{
		Kind:      Classify(err),
		Op:        op,
		SessionID: sessionID,
		Err:       err,
	}
}
