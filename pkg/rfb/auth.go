package rfb

import (
	"encoding/binary"
	"fmt"

	"github.com/rs/zerolog/log"
)

// Authentication sub-protocols. Each negotiated security type drives its own
// branch of states; all of them converge on the shared security result read
// in handshake.go.

// venCryptVersion - the client always speaks VeNCrypt 0.2
var venCryptVersion = []byte{0, 2}

// venCryptPriority is the sub-type preference used during VeNCrypt
// negotiation, best first
var venCryptPriority = []VeNCryptSubtype{
	VeNCryptTLSPlain,
	VeNCryptTLSVNC,
	VeNCryptTLSNone,
	VeNCryptX509Plain,
	VeNCryptX509VNC,
	VeNCryptX509None,
	VeNCryptPlain,
}

// handleVNCAuthChallenge answers the 16-byte VNC Authentication challenge:
// two 8-byte DES-ECB blocks under the bit-reversed password key.
func (c *Client) handleVNCAuthChallenge(chunk []byte) error {
	response, err := encryptVNCChallenge(chunk, c.cfg.Password)
	if err != nil {
		return &HandshakeError{Stage: "auth", Err: err}
	}

	if err := c.send(response); err != nil {
		return &HandshakeError{Stage: "auth", Err: err}
	}

	c.state = stateSecurityResult
	return nil
}

// handleARDHeader parses the ARD key exchange header: generator(2) +
// key-length(2). The prime and server public key follow, each key-length
// bytes long.
func (c *Client) handleARDHeader(chunk []byte) error {
	c.ardGenerator = binary.BigEndian.Uint16(chunk[0:2])
	keyLen := int(binary.BigEndian.Uint16(chunk[2:4]))

	if keyLen == 0 || keyLen > maxARDKeyLength {
		return &HandshakeError{Stage: "auth", Err: fmt.Errorf("invalid ARD key length: %d", keyLen)}
	}

	c.ardKeyLen = keyLen
	c.state = stateARDKeyMaterial
	return nil
}

// handleARDKeyMaterial completes Apple Remote Desktop authentication once the
// full variable-length payload (prime + server public key) is buffered.
func (c *Client) handleARDKeyMaterial(chunk []byte) error {
	prime := chunk[:c.ardKeyLen]
	serverPublic := chunk[c.ardKeyLen:]

	ciphertext, clientPublic, err := ardAuthResponse(c.cfg.Username, c.cfg.Password, c.ardGenerator, prime, serverPublic)
	if err != nil {
		return &HandshakeError{Stage: "auth", Err: err}
	}

	log.Debug().
		Str("component", "rfb").
		Int("key_length", c.ardKeyLen).
		Msg("ARD key exchange complete, sending encrypted credentials")

	if err := c.send(append(ciphertext, clientPublic...)); err != nil {
		return &HandshakeError{Stage: "auth", Err: err}
	}

	c.state = stateSecurityResult
	return nil
}

func (c *Client) handleVeNCryptVersion(chunk []byte) error {
	log.Debug().
		Str("component", "rfb").
		Uint8("server_major", chunk[0]).
		Uint8("server_minor", chunk[1]).
		Msg("VeNCrypt version received")

	if err := c.send(venCryptVersion); err != nil {
		return &HandshakeError{Stage: "auth", Err: err}
	}

	c.state = stateVeNCryptVersionAck
	return nil
}

func (c *Client) handleVeNCryptVersionAck(chunk []byte) error {
	if chunk[0] != 0 {
		return &HandshakeError{Stage: "auth", Err: fmt.Errorf("server rejected VeNCrypt version 0.2 (ack=%d)", chunk[0])}
	}

	c.state = stateVeNCryptSubtypeCount
	return nil
}

func (c *Client) handleVeNCryptSubtypeCount(chunk []byte) error {
	count := int(chunk[0])
	if count == 0 {
		return &HandshakeError{Stage: "auth", Err: fmt.Errorf("server offered no VeNCrypt sub-types")}
	}

	c.venSubCount = count
	c.state = stateVeNCryptSubtypeList
	return nil
}

func (c *Client) handleVeNCryptSubtypeList(chunk []byte) error {
	offered := make([]VeNCryptSubtype, c.venSubCount)
	for i := range offered {
		offered[i] = VeNCryptSubtype(binary.BigEndian.Uint32(chunk[4*i : 4*i+4]))
	}

	selected, err := c.selectVeNCryptSubtype(offered)
	if err != nil {
		return err
	}

	log.Debug().
		Str("component", "rfb").
		Str("subtype", selected.String()).
		Bool("requires_tls", selected.RequiresTLS()).
		Msg("VeNCrypt sub-type selected")

	if selected == VeNCryptPlain {
		// Plain without TLS sends credentials in clear. Mirrors common server
		// deployments, but worth a warning every time it happens.
		log.Warn().
			Str("component", "rfb").
			Msg("VeNCrypt Plain sends credentials without TLS protection")
	}

	buf := make([]byte, 4)
	binary.BigEndian.PutUint32(buf, uint32(selected))
	if err := c.send(buf); err != nil {
		return &HandshakeError{Stage: "auth", Err: err}
	}

	c.venSubtype = selected
	c.state = stateVeNCryptSubtypeAck
	return nil
}

// selectVeNCryptSubtype picks a sub-type by priority. Missing credentials for
// the chosen mechanism fail the negotiation here, before a single credential
// byte is written.
func (c *Client) selectVeNCryptSubtype(offered []VeNCryptSubtype) (VeNCryptSubtype, error) {
	for _, want := range venCryptPriority {
		for _, got := range offered {
			if got != want {
				continue
			}
			if err := c.checkVeNCryptCredentials(want); err != nil {
				return 0, err
			}
			return want, nil
		}
	}

	return 0, &HandshakeError{
		Stage:  "auth",
		Reason: fmt.Sprintf("no supported VeNCrypt sub-type offered (available: %v)", offered),
	}
}

func (c *Client) checkVeNCryptCredentials(subtype VeNCryptSubtype) error {
	switch subtype {
	case VeNCryptPlain, VeNCryptTLSPlain, VeNCryptX509Plain:
		if c.cfg.Username == "" || c.cfg.Password == "" {
			return &HandshakeError{Stage: "auth", Err: ErrCredentialsRequired}
		}
	case VeNCryptTLSVNC, VeNCryptX509VNC:
		if c.cfg.Password == "" {
			return &HandshakeError{Stage: "auth", Err: ErrPasswordRequired}
		}
	}
	return nil
}

func (c *Client) handleVeNCryptSubtypeAck(chunk []byte) error {
	if chunk[0] != 1 {
		return &HandshakeError{Stage: "auth", Err: fmt.Errorf("server rejected VeNCrypt sub-type %s (ack=%d)", c.venSubtype, chunk[0])}
	}

	if c.venSubtype.RequiresTLS() {
		if err := c.upgradeTLS(); err != nil {
			return err
		}
	}

	switch c.venSubtype {
	case VeNCryptPlain, VeNCryptTLSPlain, VeNCryptX509Plain:
		return c.sendPlainCredentials()

	case VeNCryptTLSVNC, VeNCryptX509VNC:
		c.state = stateVNCAuthChallenge
		return nil

	default: // TLSNone, X509None
		c.state = stateSecurityResult
		return nil
	}
}

// upgradeTLS promotes the transport to TLS mid-stream. Bytes buffered before
// the upgrade belong to the pre-TLS framing; they are discarded, never
// replayed into the encrypted channel.
func (c *Client) upgradeTLS() error {
	if c.cfg.StartTLS == nil {
		return &HandshakeError{Stage: "auth", Err: fmt.Errorf("sub-type %s requires TLS but the transport cannot upgrade", c.venSubtype)}
	}

	discarded := c.buf.pending()

	w, err := c.cfg.StartTLS()
	if err != nil {
		return &HandshakeError{Stage: "auth", Err: fmt.Errorf("TLS upgrade failed: %w", err)}
	}

	c.w = w
	c.buf.reset()

	log.Debug().
		Str("component", "rfb").
		Int("discarded_bytes", discarded).
		Msg("Transport upgraded to TLS")

	return nil
}

// sendPlainCredentials performs the VeNCrypt Plain inner auth: an 8-byte
// length header (username length, password length, both u32) followed by the
// raw credential bytes. Self-contained; independent of VNC-Auth and ARD.
func (c *Client) sendPlainCredentials() error {
	username := []byte(c.cfg.Username)
	password := []byte(c.cfg.Password)

	msg := make([]byte, 8, 8+len(username)+len(password))
	binary.BigEndian.PutUint32(msg[0:4], uint32(len(username)))
	binary.BigEndian.PutUint32(msg[4:8], uint32(len(password)))
	msg = append(msg, username...)
	msg = append(msg, password...)

	if err := c.send(msg); err != nil {
		return &HandshakeError{Stage: "auth", Err: err}
	}

	c.state = stateSecurityResult
	return nil
}
