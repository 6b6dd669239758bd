package protocol

import (
	"errors"
	"fmt"
)

// Error exposes methods useful for categorizing errors.
type Error interface {
	error

	// Temporary returns true if the Error might be the result of a transient condition. Radio
	// errors are usually temporary: the peer walked out of range, or the controller was busy
	// servicing another connection.
	Temporary() bool
}

var (
	// ErrDecode indicates a payload received from a peer could not be parsed.
	ErrDecode = NewError("malformed contact payload", false)
	// ErrNotConnected indicates an operation targeted a peer without an active connection.
	ErrNotConnected = NewError("peer not connected", true)
	// ErrRadioUnavailable indicates the radio is powered off, resetting or unsupported.
	ErrRadioUnavailable = NewError("bluetooth radio unavailable", true)
	// ErrUnauthorized indicates the host has not granted this process access to the radio.
	ErrUnauthorized = NewError("bluetooth access not authorized", false)
	// ErrNoIdentifier indicates the local ephemeral identifier is not available yet.
	ErrNoIdentifier = NewError("no ephemeral identifier available", true)
	// ErrUnknownCharacteristic indicates a request addressed a characteristic this engine does not
	// serve.
	ErrUnknownCharacteristic = errors.New("unknown characteristic")
)

type ProximityError struct {
	Err               error
	PossibleTemporary bool
}

func NewError(message string, temporary bool) error {
	return &ProximityError{Err: errors.New(message), PossibleTemporary: temporary}
}

func (e *ProximityError) Error() string {
	return e.Err.Error()
}

func (e *ProximityError) Unwrap() error {
	return e.Err
}

func (e *ProximityError) Temporary() bool {
	return e.PossibleTemporary
}

// TransportError wraps a failure reported by the radio layer for a single peer operation.
type TransportError struct {
	Op   string
	Peer string
	Err  error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s %s: %s", e.Op, e.Peer, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// Temporary is always true: a transport failure only affects the peer it was reported for, and the
// peer can be rediscovered.
func (e *TransportError) Temporary() bool {
	return true
}

// NewTransportError returns nil if err is nil.
func NewTransportError(op, peer string, err error) error {
	if err == nil {
		return nil
	}
	return &TransportError{Op: op, Peer: peer, Err: err}
}

// Temporary returns true if err indicates a failure due to possibly transient conditions that do
// not require user action to resolve.
func Temporary(err error) bool {
	var e Error
	if errors.As(err, &e) {
		return e.Temporary()
	}
	return false
}

// ShouldRetry returns true if a later attempt at the operation that triggered err might succeed.
func ShouldRetry(err error) bool {
	if err == nil {
		return false
	}
	return Temporary(err)
}
