package rfb

import (
	"encoding/binary"
	"fmt"

	"github.com/rs/zerolog/log"
)

// Steady-state server messages. FramebufferUpdate is decoded rectangle by
// rectangle into the live pixel buffer; SetColourMap and Bell are skipped,
// ServerCutText is surfaced to the caller.

func (c *Client) handleMessage(chunk []byte) error {
	switch chunk[0] {
	case MsgFramebufferUpdate:
		c.state = stateUpdateHeader
		return nil

	case MsgSetColourMap:
		c.state = stateColourMapHeader
		return nil

	case MsgBell:
		// No payload; nothing to do
		return nil

	case MsgServerCutText:
		c.state = stateCutTextHeader
		return nil

	default:
		// Unlike an unknown encoding, an unknown message type cannot be
		// skipped: its length is unknowable and the stream is lost
		return fmt.Errorf("unknown server message type %d", chunk[0])
	}
}

// handleUpdateHeader parses padding(1) + rectangle-count(2)
func (c *Client) handleUpdateHeader(chunk []byte) error {
	c.rectsRemaining = int(binary.BigEndian.Uint16(chunk[1:3]))

	if c.rectsRemaining == 0 {
		c.finishUpdate()
		c.state = stateMessage
		return nil
	}

	c.state = stateRectHeader
	return nil
}

// handleRectHeader parses one rectangle header: x(2) + y(2) + w(2) + h(2) +
// encoding(4, signed) and dispatches on the encoding.
func (c *Client) handleRectHeader(chunk []byte) error {
	c.rectX = int(binary.BigEndian.Uint16(chunk[0:2]))
	c.rectY = int(binary.BigEndian.Uint16(chunk[2:4]))
	c.rectW = int(binary.BigEndian.Uint16(chunk[4:6]))
	c.rectH = int(binary.BigEndian.Uint16(chunk[6:8]))
	c.rectEncoding = int32(binary.BigEndian.Uint32(chunk[8:12]))

	switch c.rectEncoding {
	case EncodingRaw:
		// Bounds-check before buffering: the payload size is derived from the
		// declared geometry, and an out-of-bounds rectangle would otherwise
		// make the reassembler wait for an arbitrarily large payload
		if err := c.checkRectBounds(); err != nil {
			return err
		}
		c.state = stateRectRaw
		return nil

	case EncodingCopyRect:
		if err := c.checkRectBounds(); err != nil {
			return err
		}
		c.state = stateRectCopy
		return nil

	case EncodingDesktopSize:
		// Pseudo-encoding: (w, h) is the new display size, no payload. The
		// framebuffer is replaced wholesale, zero-filled.
		c.width = c.rectW
		c.height = c.rectH
		c.fb.Resize(c.rectW, c.rectH)

		log.Info().
			Str("component", "rfb").
			Int("width", c.width).
			Int("height", c.height).
			Msg("Desktop resized")

		if c.handlers.Resize != nil {
			c.handlers.Resize(c.width, c.height)
		}
		return c.rectDone()

	default:
		// There is no way to know an unknown encoding's payload length, so
		// the rest of this update is unparseable. Abandon it and resume at
		// the next message boundary; the connection stays up.
		log.Warn().
			Str("component", "rfb").
			Int32("encoding", c.rectEncoding).
			Int("rects_abandoned", c.rectsRemaining).
			Msg("Unknown encoding, abandoning remainder of update")

		c.rectsRemaining = 0
		c.state = stateMessage
		return nil
	}
}

// checkRectBounds rejects rectangles outside the current framebuffer
// (RFC 6143 §7.6.1)
func (c *Client) checkRectBounds() error {
	if c.rectX+c.rectW > c.width || c.rectY+c.rectH > c.height {
		return fmt.Errorf("rectangle %dx%d at (%d,%d) exceeds framebuffer %dx%d",
			c.rectW, c.rectH, c.rectX, c.rectY, c.width, c.height)
	}
	return nil
}

func (c *Client) handleRectRaw(chunk []byte) error {
	c.fb.BlitRaw(c.rectX, c.rectY, c.rectW, c.rectH, chunk)
	return c.rectDone()
}

func (c *Client) handleRectCopy(chunk []byte) error {
	srcX := int(binary.BigEndian.Uint16(chunk[0:2]))
	srcY := int(binary.BigEndian.Uint16(chunk[2:4]))
	c.fb.CopyRect(srcX, srcY, c.rectX, c.rectY, c.rectW, c.rectH)
	return c.rectDone()
}

// rectDone advances past a completed rectangle, finishing the update when it
// was the last one
func (c *Client) rectDone() error {
	c.rectsRemaining--
	if c.rectsRemaining <= 0 {
		c.finishUpdate()
		c.state = stateMessage
		return nil
	}
	c.state = stateRectHeader
	return nil
}

// finishUpdate fires the frame event after every rectangle in the update has
// been decoded. The framebuffer is never observed mid-mutation because this
// is the only point a waiter can be resolved.
func (c *Client) finishUpdate() {
	if c.handlers.Frame != nil {
		c.handlers.Frame()
	}
}

// handleColourMapHeader parses padding(1) + first-colour(2) + n-colours(2).
// The entries (6 bytes each) are read only to be discarded.
func (c *Client) handleColourMapHeader(chunk []byte) error {
	c.colourEntries = int(binary.BigEndian.Uint16(chunk[3:5]))
	c.state = stateColourMapEntries
	return nil
}

func (c *Client) handleColourMapEntries(chunk []byte) error {
	c.state = stateMessage
	return nil
}

// handleCutTextHeader parses padding(3) + length(4)
func (c *Client) handleCutTextHeader(chunk []byte) error {
	length := binary.BigEndian.Uint32(chunk[3:7])
	if length > maxCutTextLength {
		return fmt.Errorf("server cut text too large: %d bytes", length)
	}

	c.cutLen = int(length)
	c.state = stateCutText
	return nil
}

func (c *Client) handleCutText(chunk []byte) error {
	text := string(chunk)
	c.state = stateMessage

	if c.handlers.CutText != nil {
		c.handlers.CutText(text)
	}
	return nil
}
