package rfb

import (
	"encoding/binary"
	"fmt"

	"github.com/rs/zerolog/log"
)

// Handshake states. The flow is version exchange, security negotiation,
// authentication (auth.go), then ClientInit/ServerInit and the steady-state
// message loop (update.go). Every step is gated by the reassembler.

// autoPriority is the security type preference used by AuthModeAuto, best
// first
var autoPriority = []SecurityType{
	SecurityTypeVeNCrypt,
	SecurityTypeVNCAuth,
	SecurityTypeARD,
	SecurityTypeNone,
}

func (c *Client) handleVersion(chunk []byte) error {
	version, err := ParseProtocolVersion(chunk)
	if err != nil {
		return &HandshakeError{Stage: "version", Err: err}
	}

	if version.Major != 3 {
		return &HandshakeError{Stage: "version", Err: fmt.Errorf("unsupported server version: %s", version)}
	}

	c.serverVersion = version
	c.apple = version.IsApple()

	log.Debug().
		Str("component", "rfb").
		Str("server_version", version.String()).
		Bool("apple_server", c.apple).
		Msg("Server version received")

	// Always reply 3.8 regardless of the banner; Apple servers accept it
	if err := c.send([]byte(ProtocolVersion38)); err != nil {
		return &HandshakeError{Stage: "version", Err: err}
	}

	c.state = stateSecurityCount
	return nil
}

func (c *Client) handleSecurityCount(chunk []byte) error {
	count := int(chunk[0])

	// A count of zero means the server refused the connection and a
	// length-prefixed reason string follows instead of a type list
	if count == 0 {
		c.reasonStage = "security"
		c.state = stateReasonLength
		return nil
	}

	c.secCount = count
	c.state = stateSecurityList
	return nil
}

func (c *Client) handleSecurityList(chunk []byte) error {
	selected, err := c.selectSecurityType(chunk)
	if err != nil {
		return err
	}

	log.Debug().
		Str("component", "rfb").
		Str("security_type", selected.String()).
		Str("auth_mode", string(c.cfg.AuthMode)).
		Msg("Security type selected")

	if err := c.send([]byte{uint8(selected)}); err != nil {
		return &HandshakeError{Stage: "security", Err: err}
	}

	c.secType = selected

	switch selected {
	case SecurityTypeNone:
		c.state = stateSecurityResult

	case SecurityTypeVNCAuth:
		if c.cfg.Password == "" {
			return &HandshakeError{Stage: "auth", Err: ErrPasswordRequired}
		}
		c.state = stateVNCAuthChallenge

	case SecurityTypeARD:
		if c.cfg.Username == "" || c.cfg.Password == "" {
			return &HandshakeError{Stage: "auth", Err: ErrCredentialsRequired}
		}
		c.state = stateARDHeader

	case SecurityTypeVeNCrypt:
		c.state = stateVeNCryptVersion
	}

	return nil
}

// selectSecurityType resolves the server's offered list to one type. Mode
// none demands type None be present; mode auto walks a fixed priority order.
func (c *Client) selectSecurityType(offered []byte) (SecurityType, error) {
	if c.cfg.AuthMode == AuthModeNone {
		for _, t := range offered {
			if SecurityType(t) == SecurityTypeNone {
				return SecurityTypeNone, nil
			}
		}
		return SecurityTypeInvalid, &HandshakeError{
			Stage:  "security",
			Reason: fmt.Sprintf("server does not offer security type None (available: %s)", formatSecurityTypes(offered)),
		}
	}

	for _, want := range autoPriority {
		for _, t := range offered {
			if SecurityType(t) == want {
				return want, nil
			}
		}
	}

	return SecurityTypeInvalid, &HandshakeError{
		Stage:  "security",
		Reason: fmt.Sprintf("no supported security type offered by server (available: %s)", formatSecurityTypes(offered)),
	}
}

func (c *Client) handleReasonLength(chunk []byte) error {
	length := binary.BigEndian.Uint32(chunk)
	if length > maxReasonLength {
		return &HandshakeError{Stage: c.reasonStage, Err: fmt.Errorf("reason length too large: %d bytes", length)}
	}

	c.reasonLen = int(length)
	c.state = stateReason
	return nil
}

func (c *Client) handleReason(chunk []byte) error {
	reason := string(chunk)

	log.Warn().
		Str("component", "rfb").
		Str("stage", c.reasonStage).
		Str("reason", reason).
		Msg("Server reported failure")

	return &HandshakeError{Stage: c.reasonStage, Reason: reason}
}

// handleSecurityResult processes the shared 4-byte security result. Zero
// means success and advances to ClientInit; non-zero is followed by a
// length-prefixed reason surfaced as a hard authentication failure.
func (c *Client) handleSecurityResult(chunk []byte) error {
	result := binary.BigEndian.Uint32(chunk)

	if result != SecurityResultOK {
		c.reasonStage = "auth"
		c.state = stateReasonLength
		return nil
	}

	log.Debug().
		Str("component", "rfb").
		Str("security_type", c.secType.String()).
		Msg("Authentication succeeded")

	// ClientInit: shared-flag=1 so we do not kick other clients
	if err := c.send([]byte{1}); err != nil {
		return &HandshakeError{Stage: "serverinit", Err: err}
	}

	c.state = stateServerInit
	return nil
}

// handleServerInit parses the fixed 24-byte ServerInit prefix:
// width(2) + height(2) + pixel-format(16) + name-length(4)
func (c *Client) handleServerInit(chunk []byte) error {
	c.width = int(binary.BigEndian.Uint16(chunk[0:2]))
	c.height = int(binary.BigEndian.Uint16(chunk[2:4]))

	serverFormat, err := ParsePixelFormat(chunk[4:20])
	if err != nil {
		return &HandshakeError{Stage: "serverinit", Err: err}
	}
	c.serverFormat = serverFormat

	nameLen := binary.BigEndian.Uint32(chunk[20:24])
	if nameLen > maxNameLength {
		return &HandshakeError{Stage: "serverinit", Err: fmt.Errorf("desktop name length too large: %d bytes", nameLen)}
	}

	c.nameLen = int(nameLen)
	c.state = stateServerName
	return nil
}

func (c *Client) handleServerName(chunk []byte) error {
	c.name = string(chunk)

	// The server's pixel format is recorded but immediately overridden: the
	// client always works in 32bpp little-endian true-colour
	c.pixelFormat = ClientPixelFormat()
	c.fb = NewFramebuffer(c.width, c.height)

	if err := c.send(encodeSetPixelFormat(c.pixelFormat)); err != nil {
		return &HandshakeError{Stage: "serverinit", Err: err}
	}
	if err := c.send(encodeSetEncodings([]int32{EncodingRaw, EncodingCopyRect, EncodingDesktopSize})); err != nil {
		return &HandshakeError{Stage: "serverinit", Err: err}
	}

	c.ready = true
	c.state = stateMessage

	log.Info().
		Str("component", "rfb").
		Int("width", c.width).
		Int("height", c.height).
		Str("desktop_name", c.name).
		Str("security_type", c.secType.String()).
		Msg("RFB handshake complete")

	if c.handlers.Ready != nil {
		c.handlers.Ready(c.width, c.height, c.name)
	}

	return nil
}

// formatSecurityTypes formats a list of security type bytes for error messages
func formatSecurityTypes(types []byte) string {
	if len(types) == 0 {
		return "none"
	}

	result := ""
	for i, t := range types {
		if i > 0 {
			result += ", "
		}
		result += SecurityType(t).String()
	}
	return result
}
