package rfb

import (
	"fmt"
	"io"
)

// AuthMode controls security type selection during the handshake
type AuthMode string

const (
	// AuthModeAuto - pick the strongest offered type the client supports
	AuthModeAuto AuthMode = "auto"

	// AuthModeNone - require the server to offer security type None
	AuthModeNone AuthMode = "none"
)

// Config carries the immutable per-connection client configuration
type Config struct {
	Username string
	Password string
	AuthMode AuthMode

	// StartTLS promotes the underlying transport to TLS mid-stream and
	// returns the writer for the encrypted channel. Required only when the
	// server negotiates a VeNCrypt sub-type that runs over TLS.
	StartTLS func() (io.Writer, error)
}

// Handlers receives protocol events. All callbacks fire synchronously on the
// goroutine driving Feed, after the triggering message is fully decoded; they
// must not block or re-enter the client.
type Handlers struct {
	// Ready fires once, after ServerInit is parsed and the framebuffer is
	// allocated
	Ready func(width, height int, name string)

	// Frame fires after every fully decoded framebuffer update
	Frame func()

	// Resize fires when a DesktopSize pseudo-rectangle replaces the
	// framebuffer
	Resize func(width, height int)

	// CutText fires when the server pushes clipboard contents
	CutText func(text string)
}

// protoState enumerates the parser states. Exactly one state is active at a
// time, and each state declares the exact byte count it needs before the
// parser may advance; the reassembler never releases more than that boundary.
type protoState int

const (
	stateVersion protoState = iota
	stateSecurityCount
	stateSecurityList
	stateReasonLength
	stateReason
	stateVNCAuthChallenge
	stateARDHeader
	stateARDKeyMaterial
	stateVeNCryptVersion
	stateVeNCryptVersionAck
	stateVeNCryptSubtypeCount
	stateVeNCryptSubtypeList
	stateVeNCryptSubtypeAck
	stateSecurityResult
	stateServerInit
	stateServerName
	stateMessage
	stateUpdateHeader
	stateRectHeader
	stateRectRaw
	stateRectCopy
	stateColourMapHeader
	stateColourMapEntries
	stateCutTextHeader
	stateCutText
)

// Sanity bounds on server-declared variable lengths, so a malformed or
// hostile server cannot make the reassembler buffer without limit.
const (
	maxReasonLength  = 4096
	maxARDKeyLength  = 8192
	maxCutTextLength = 1 << 20
	maxNameLength    = 4096
)

// Client is the RFB protocol engine: a state machine over partially
// delivered transport bytes. Bytes go in through Feed; decoded effects come
// out through the Handlers and the framebuffer. The engine itself never
// blocks and never reads from a socket.
//
// Client is not safe for concurrent use. The caller must serialize Feed and
// the outbound message methods, guarding the full decode-then-notify
// sequence rather than individual fields.
type Client struct {
	cfg      Config
	handlers Handlers
	w        io.Writer
	buf      reassembler
	state    protoState

	serverVersion *ProtocolVersion
	apple         bool

	secType     SecurityType
	secCount    int
	venSubtype  VeNCryptSubtype
	venSubCount int

	// reasonStage records which handshake stage triggered a pending
	// length-prefixed reason read
	reasonStage string
	reasonLen   int

	ardGenerator uint16
	ardKeyLen    int

	serverFormat PixelFormat
	pixelFormat  PixelFormat
	width        int
	height       int
	nameLen      int
	name         string
	fb           *Framebuffer
	ready        bool

	rectsRemaining int
	rectX          int
	rectY          int
	rectW          int
	rectH          int
	rectEncoding   int32

	colourEntries int
	cutLen        int
}

// NewClient creates a protocol engine writing outbound messages to w. The
// server speaks first, so nothing is written until Feed delivers the server's
// version banner.
func NewClient(w io.Writer, cfg Config, handlers Handlers) *Client {
	if cfg.AuthMode == "" {
		cfg.AuthMode = AuthModeAuto
	}
	return &Client{
		cfg:      cfg,
		handlers: handlers,
		w:        w,
		state:    stateVersion,
	}
}

// Ready reports whether the handshake completed and the framebuffer exists
func (c *Client) Ready() bool { return c.ready }

// Framebuffer returns the live pixel buffer, or nil before ready. Callers
// must only read it through Snapshot while no Feed call is in flight.
func (c *Client) Framebuffer() *Framebuffer { return c.fb }

// Size returns the current display dimensions in pixels
func (c *Client) Size() (width, height int) { return c.width, c.height }

// DesktopName returns the name the server sent in ServerInit
func (c *Client) DesktopName() string { return c.name }

// ServerVersion returns the parsed server version banner, or nil before the
// version exchange completes
func (c *Client) ServerVersion() *ProtocolVersion { return c.serverVersion }

// SecurityType returns the negotiated security type
func (c *Client) SecurityType() SecurityType { return c.secType }

// Feed appends newly delivered transport bytes and advances the state
// machine as far as the buffered bytes allow. It returns nil when more bytes
// are needed; the next Feed call picks up exactly where this one stopped. A
// non-nil error is fatal to the connection.
func (c *Client) Feed(data []byte) error {
	c.buf.append(data)

	for {
		n := c.need()
		if !c.buf.have(n) {
			return nil
		}
		if err := c.advance(c.buf.consume(n)); err != nil {
			return err
		}
	}
}

// need returns the exact byte count the current state requires
func (c *Client) need() int {
	switch c.state {
	case stateVersion:
		return ProtocolVersionLength
	case stateSecurityCount:
		return 1
	case stateSecurityList:
		return c.secCount
	case stateReasonLength:
		return 4
	case stateReason:
		return c.reasonLen
	case stateVNCAuthChallenge:
		return VNCAuthChallengeLength
	case stateARDHeader:
		return 4
	case stateARDKeyMaterial:
		return 2 * c.ardKeyLen
	case stateVeNCryptVersion:
		return 2
	case stateVeNCryptVersionAck:
		return 1
	case stateVeNCryptSubtypeCount:
		return 1
	case stateVeNCryptSubtypeList:
		return 4 * c.venSubCount
	case stateVeNCryptSubtypeAck:
		return 1
	case stateSecurityResult:
		return 4
	case stateServerInit:
		return 24
	case stateServerName:
		return c.nameLen
	case stateMessage:
		return 1
	case stateUpdateHeader:
		return 3
	case stateRectHeader:
		return 12
	case stateRectRaw:
		return c.rectW * c.rectH * c.pixelFormat.BytesPerPixel()
	case stateRectCopy:
		return 4
	case stateColourMapHeader:
		return 5
	case stateColourMapEntries:
		return c.colourEntries * 6
	case stateCutTextHeader:
		return 7
	case stateCutText:
		return c.cutLen
	default:
		return 1
	}
}

// advance processes exactly one released chunk for the current state
func (c *Client) advance(chunk []byte) error {
	switch c.state {
	case stateVersion:
		return c.handleVersion(chunk)
	case stateSecurityCount:
		return c.handleSecurityCount(chunk)
	case stateSecurityList:
		return c.handleSecurityList(chunk)
	case stateReasonLength:
		return c.handleReasonLength(chunk)
	case stateReason:
		return c.handleReason(chunk)
	case stateVNCAuthChallenge:
		return c.handleVNCAuthChallenge(chunk)
	case stateARDHeader:
		return c.handleARDHeader(chunk)
	case stateARDKeyMaterial:
		return c.handleARDKeyMaterial(chunk)
	case stateVeNCryptVersion:
		return c.handleVeNCryptVersion(chunk)
	case stateVeNCryptVersionAck:
		return c.handleVeNCryptVersionAck(chunk)
	case stateVeNCryptSubtypeCount:
		return c.handleVeNCryptSubtypeCount(chunk)
	case stateVeNCryptSubtypeList:
		return c.handleVeNCryptSubtypeList(chunk)
	case stateVeNCryptSubtypeAck:
		return c.handleVeNCryptSubtypeAck(chunk)
	case stateSecurityResult:
		return c.handleSecurityResult(chunk)
	case stateServerInit:
		return c.handleServerInit(chunk)
	case stateServerName:
		return c.handleServerName(chunk)
	case stateMessage:
		return c.handleMessage(chunk)
	case stateUpdateHeader:
		return c.handleUpdateHeader(chunk)
	case stateRectHeader:
		return c.handleRectHeader(chunk)
	case stateRectRaw:
		return c.handleRectRaw(chunk)
	case stateRectCopy:
		return c.handleRectCopy(chunk)
	case stateColourMapHeader:
		return c.handleColourMapHeader(chunk)
	case stateColourMapEntries:
		return c.handleColourMapEntries(chunk)
	case stateCutTextHeader:
		return c.handleCutTextHeader(chunk)
	case stateCutText:
		return c.handleCutText(chunk)
	default:
		return fmt.Errorf("invalid protocol state %d", c.state)
	}
}

// send writes a complete outbound message to the transport
func (c *Client) send(msg []byte) error {
	n, err := c.w.Write(msg)
	if err != nil {
		return fmt.Errorf("write failed: %w", err)
	}
	if n != len(msg) {
		return fmt.Errorf("incomplete write: wrote %d of %d bytes", n, len(msg))
	}
	return nil
}

// PointerEvent sends a pointer position and button mask. Coordinates are
// clamped to the current display bounds.
func (c *Client) PointerEvent(x, y int, buttonMask uint8) error {
	if !c.ready {
		return fmt.Errorf("not ready: handshake has not completed")
	}
	return c.send(encodePointerEvent(buttonMask, clampCoord(x, c.width), clampCoord(y, c.height)))
}

// KeyEvent sends a key press or release for an X11 keysym. When the server
// announced an Apple version banner, Super keysyms are remapped to Meta so
// the Command key works.
func (c *Client) KeyEvent(keysym uint32, down bool) error {
	if !c.ready {
		return fmt.Errorf("not ready: handshake has not completed")
	}
	if c.apple {
		keysym = remapAppleKeysym(keysym)
	}
	return c.send(encodeKeyEvent(keysym, down))
}

// SetClipboard sends the client's clipboard contents to the server
func (c *Client) SetClipboard(text string) error {
	if !c.ready {
		return fmt.Errorf("not ready: handshake has not completed")
	}
	return c.send(encodeClientCutText(text))
}

// RequestUpdate asks the server for a framebuffer update covering the whole
// display. Incremental requests only return regions changed since the last
// update; non-incremental requests force a full repaint.
func (c *Client) RequestUpdate(incremental bool) error {
	if !c.ready {
		return fmt.Errorf("not ready: handshake has not completed")
	}
	return c.send(encodeFramebufferUpdateRequest(incremental, 0, 0, uint16(c.width), uint16(c.height)))
}
