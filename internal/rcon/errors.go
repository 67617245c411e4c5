package rcon

import (
	"errors"
	"fmt"
)

var (
	ErrAuth            = errors.New("rcon: authentication failed")
	ErrPacketTooLarge  = errors.New("rcon: packet exceeds 4096 bytes")
	ErrMalformedPacket = errors.New("rcon: malformed packet")
	ErrClosed          = errors.New("rcon: connection closed")
)

// AuthError wraps the reason a connect attempt was rejected. It matches ErrAuth.
type AuthError struct {
	Reason string
	Err    error
}

func (e *AuthError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("rcon: authentication failed: %s: %v", e.Reason, e.Err)
	}
	return "rcon: authentication failed: " + e.Reason
}

func (e *AuthError) Unwrap() error { return e.Err }

func (e *AuthError) Is(target error) bool { return target == ErrAuth }

// TransportError is an I/O failure on an established session
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("rcon: %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// CommandError is returned when the server answered a command with an error message
type CommandError struct {
	Command string
	Message string
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("server rejected %q: %s", e.Command, e.Message)
}

// IsTransport reports whether err came from the connection rather than the server
func IsTransport(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}
