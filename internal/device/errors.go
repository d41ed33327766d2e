package device

import (
	"errors"
	"fmt"
)

// Kind classifies protocol failures for user-facing messaging.
type Kind int

const (
	KindUnexpectedResponse Kind = iota
	KindInvalidCredential
	KindUnreachable
)

func (k Kind) String() string {
	switch k {
	case KindInvalidCredential:
		return "invalid_credential"
	case KindUnreachable:
		return "unreachable"
	default:
		return "unexpected_response"
	}
}

// InvalidCredentialMessage tells the user how to recover from a rejected pairing file.
const InvalidCredentialMessage = "your pairing file is invalid. Regenerate it with jitterbug pair."

// ProtocolError is returned by every Client and Session operation.
type ProtocolError struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *ProtocolError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *ProtocolError) Unwrap() error { return e.Err }

// UserMessage returns text safe to show the requesting user.
func (e *ProtocolError) UserMessage() string {
	switch e.Kind {
	case KindInvalidCredential:
		return InvalidCredentialMessage
	case KindUnreachable:
		return "device is unreachable; make sure it is connected to the VPN and unlocked"
	default:
		return fmt.Sprintf("unexpected response from device during %s", e.Op)
	}
}

// NewError builds a ProtocolError.
func NewError(kind Kind, op string, err error) *ProtocolError {
	return &ProtocolError{Kind: kind, Op: op, Err: err}
}

// UserMessage renders err for the user, preferring the protocol-specific text.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	var perr *ProtocolError
	if errors.As(err, &perr) {
		return perr.UserMessage()
	}
	return err.Error()
}

// IsInvalidCredential reports whether err is a rejected pairing file.
func IsInvalidCredential(err error) bool {
	var perr *ProtocolError
	return errors.As(err, &perr) && perr.Kind == KindInvalidCredential
}
