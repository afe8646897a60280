package rfb

import (
	"errors"
	"fmt"
)

// Authentication precondition errors. These fail fast, before any credential
// bytes are written to the wire.
var (
	// ErrPasswordRequired - the negotiated mechanism needs a password
	ErrPasswordRequired = errors.New("security type requires a password but none was configured")

	// ErrCredentialsRequired - the negotiated mechanism needs username and password
	ErrCredentialsRequired = errors.New("security type requires username and password but they were not configured")
)

// HandshakeError is a handshake or security negotiation failure. It is fatal
// to the connection attempt; reconnection policy belongs to the caller.
type HandshakeError struct {
	Stage  string // "version", "security", "auth", "serverinit"
	Reason string // server-supplied reason text, when available
	Err    error
}

func (e *HandshakeError) Error() string {
	switch {
	case e.Reason != "" && e.Err != nil:
		return fmt.Sprintf("%s handshake failed: %s: %v", e.Stage, e.Reason, e.Err)
	case e.Reason != "":
		return fmt.Sprintf("%s handshake failed: %s", e.Stage, e.Reason)
	case e.Err != nil:
		return fmt.Sprintf("%s handshake failed: %v", e.Stage, e.Err)
	default:
		return fmt.Sprintf("%s handshake failed", e.Stage)
	}
}

func (e *HandshakeError) Unwrap() error {
	return e.Err
}
