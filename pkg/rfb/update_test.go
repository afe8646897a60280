package rfb

import (
	"bytes"
	"encoding/binary"
	"strings"
	"testing"
)

// readyClient completes an unauthenticated handshake against a 4x3 display and
// returns the client with its output buffer reset
func readyClient(t *testing.T, handlers Handlers) (*Client, *bytes.Buffer) {
	t.Helper()
	out := &bytes.Buffer{}
	c := NewClient(out, Config{}, handlers)
	feedAll(t, c, noneHandshake())
	if !c.Ready() {
		t.Fatal("handshake did not complete")
	}
	out.Reset()
	return c, out
}

func rectHeader(x, y, w, h uint16, encoding int32) []byte {
	buf := make([]byte, 0, 12)
	buf = binary.BigEndian.AppendUint16(buf, x)
	buf = binary.BigEndian.AppendUint16(buf, y)
	buf = binary.BigEndian.AppendUint16(buf, w)
	buf = binary.BigEndian.AppendUint16(buf, h)
	return binary.BigEndian.AppendUint32(buf, uint32(encoding))
}

func updateHeader(rects uint16) []byte {
	return binary.BigEndian.AppendUint16([]byte{MsgFramebufferUpdate, 0}, rects)
}

func TestFramebufferUpdateRaw(t *testing.T) {
	frames := 0
	c, _ := readyClient(t, Handlers{Frame: func() { frames++ }})

	msg := updateHeader(1)
	msg = append(msg, rectHeader(1, 1, 2, 1, EncodingRaw)...)
	msg = append(msg,
		255, 0, 0, 0, // red
		0, 255, 0, 0, // green
	)
	feedAll(t, c, msg)

	if frames != 1 {
		t.Errorf("frame events = %d, want 1", frames)
	}
	if r, g, b, a := c.Framebuffer().PixelAt(1, 1); r != 255 || g != 0 || b != 0 || a != 255 {
		t.Errorf("pixel (1,1) = %d,%d,%d,%d, want 255,0,0,255", r, g, b, a)
	}
	if _, g, _, _ := c.Framebuffer().PixelAt(2, 1); g != 255 {
		t.Error("pixel (2,1) not written")
	}
	if _, _, _, a := c.Framebuffer().PixelAt(0, 0); a != 0 {
		t.Error("pixel outside the rectangle was modified")
	}
}

func TestFramebufferUpdateMultipleRects(t *testing.T) {
	frames := 0
	c, _ := readyClient(t, Handlers{Frame: func() { frames++ }})

	msg := updateHeader(2)
	msg = append(msg, rectHeader(0, 0, 1, 1, EncodingRaw)...)
	msg = append(msg, 10, 0, 0, 0)
	msg = append(msg, rectHeader(1, 0, 1, 1, EncodingRaw)...)
	msg = append(msg, 20, 0, 0, 0)
	feedAll(t, c, msg)

	// One frame event per update, not per rectangle
	if frames != 1 {
		t.Errorf("frame events = %d, want 1", frames)
	}
	if r, _, _, _ := c.Framebuffer().PixelAt(0, 0); r != 10 {
		t.Error("first rectangle not applied")
	}
	if r, _, _, _ := c.Framebuffer().PixelAt(1, 0); r != 20 {
		t.Error("second rectangle not applied")
	}
}

func TestFramebufferUpdateZeroRects(t *testing.T) {
	frames := 0
	c, _ := readyClient(t, Handlers{Frame: func() { frames++ }})

	feedAll(t, c, updateHeader(0))

	if frames != 1 {
		t.Errorf("frame events = %d, want 1 for an empty update", frames)
	}
}

func TestFramebufferUpdateEmptyRect(t *testing.T) {
	frames := 0
	c, _ := readyClient(t, Handlers{Frame: func() { frames++ }})

	// Zero-area Raw rectangle has a zero-length payload; the parser must not
	// stall waiting for bytes that will never come
	msg := updateHeader(1)
	msg = append(msg, rectHeader(0, 0, 0, 0, EncodingRaw)...)
	feedAll(t, c, msg)

	if frames != 1 {
		t.Errorf("frame events = %d, want 1", frames)
	}
}

func TestCopyRectUpdate(t *testing.T) {
	c, _ := readyClient(t, Handlers{})

	seed := updateHeader(1)
	seed = append(seed, rectHeader(0, 0, 1, 1, EncodingRaw)...)
	seed = append(seed, 77, 0, 0, 0)
	feedAll(t, c, seed)

	// CopyRect payload is just the source position
	msg := updateHeader(1)
	msg = append(msg, rectHeader(3, 2, 1, 1, EncodingCopyRect)...)
	msg = binary.BigEndian.AppendUint16(msg, 0) // src x
	msg = binary.BigEndian.AppendUint16(msg, 0) // src y
	feedAll(t, c, msg)

	if r, _, _, _ := c.Framebuffer().PixelAt(3, 2); r != 77 {
		t.Errorf("copied pixel = %d, want 77", r)
	}
}

func TestDesktopSizeUpdate(t *testing.T) {
	frames := 0
	var resizeW, resizeH int
	c, _ := readyClient(t, Handlers{
		Frame:  func() { frames++ },
		Resize: func(w, h int) { resizeW, resizeH = w, h },
	})

	// Paint something first to prove the resize discards it
	seed := updateHeader(1)
	seed = append(seed, rectHeader(0, 0, 1, 1, EncodingRaw)...)
	seed = append(seed, 99, 0, 0, 0)
	feedAll(t, c, seed)

	msg := updateHeader(1)
	msg = append(msg, rectHeader(0, 0, 8, 6, EncodingDesktopSize)...)
	feedAll(t, c, msg)

	if w, h := c.Size(); w != 8 || h != 6 {
		t.Errorf("size = %dx%d, want 8x6", w, h)
	}
	if resizeW != 8 || resizeH != 6 {
		t.Errorf("resize event = %dx%d, want 8x6", resizeW, resizeH)
	}
	if frames != 2 {
		t.Errorf("frame events = %d, want 2", frames)
	}

	snap := c.Framebuffer().Snapshot()
	if len(snap) != 8*6*4 {
		t.Fatalf("snapshot length = %d, want %d", len(snap), 8*6*4)
	}
	if !bytes.Equal(snap, make([]byte, 8*6*4)) {
		t.Error("framebuffer not zeroed after resize")
	}
}

// TestUnknownEncodingRecovery checks the degradation path: a rectangle with an
// encoding this client never advertised abandons the remainder of that update
// but keeps the connection alive for subsequent updates.
func TestUnknownEncodingRecovery(t *testing.T) {
	frames := 0
	c, _ := readyClient(t, Handlers{Frame: func() { frames++ }})

	msg := updateHeader(2)
	msg = append(msg, rectHeader(0, 0, 2, 2, 7)...) // Tight, never advertised
	if err := c.Feed(msg); err != nil {
		t.Fatalf("unknown encoding must not be fatal, got: %v", err)
	}
	if frames != 0 {
		t.Error("abandoned update must not fire a frame event")
	}

	// The stream resumes at the next message boundary
	next := updateHeader(1)
	next = append(next, rectHeader(0, 0, 1, 1, EncodingRaw)...)
	next = append(next, 55, 0, 0, 0)
	feedAll(t, c, next)

	if frames != 1 {
		t.Errorf("frame events after recovery = %d, want 1", frames)
	}
	if r, _, _, _ := c.Framebuffer().PixelAt(0, 0); r != 55 {
		t.Error("update after recovery not applied")
	}
}

func TestRectOutOfBoundsRejected(t *testing.T) {
	c, _ := readyClient(t, Handlers{})

	// 4x3 display; a 5-wide rectangle cannot fit
	msg := updateHeader(1)
	msg = append(msg, rectHeader(0, 0, 5, 1, EncodingRaw)...)

	if err := c.Feed(msg); err == nil || !strings.Contains(err.Error(), "exceeds framebuffer") {
		t.Errorf("error = %v, want out-of-bounds rejection", err)
	}
}

func TestUnknownMessageTypeFatal(t *testing.T) {
	c, _ := readyClient(t, Handlers{})

	err := c.Feed([]byte{99})
	if err == nil || !strings.Contains(err.Error(), "unknown server message type") {
		t.Errorf("error = %v, want fatal unknown message type", err)
	}
}

func TestBellIgnored(t *testing.T) {
	frames := 0
	c, _ := readyClient(t, Handlers{Frame: func() { frames++ }})

	msg := []byte{MsgBell}
	msg = append(msg, updateHeader(0)...)
	feedAll(t, c, msg)

	if frames != 1 {
		t.Error("stream did not resume after Bell")
	}
}

func TestColourMapDiscarded(t *testing.T) {
	frames := 0
	c, _ := readyClient(t, Handlers{Frame: func() { frames++ }})

	msg := []byte{MsgSetColourMap, 0, 0, 0, 0, 2} // pad, first colour, 2 entries
	msg = append(msg, make([]byte, 12)...)        // 6 bytes per entry
	msg = append(msg, updateHeader(0)...)
	feedAll(t, c, msg)

	if frames != 1 {
		t.Error("stream did not resume after SetColourMap")
	}
}

func TestServerCutText(t *testing.T) {
	var got string
	c, _ := readyClient(t, Handlers{CutText: func(text string) { got = text }})

	msg := []byte{MsgServerCutText, 0, 0, 0}
	msg = binary.BigEndian.AppendUint32(msg, 5)
	msg = append(msg, "hello"...)
	feedAll(t, c, msg)

	if got != "hello" {
		t.Errorf("cut text = %q, want %q", got, "hello")
	}
}

func TestServerCutTextEmpty(t *testing.T) {
	fired := false
	c, _ := readyClient(t, Handlers{CutText: func(string) { fired = true }})

	msg := []byte{MsgServerCutText, 0, 0, 0, 0, 0, 0, 0}
	feedAll(t, c, msg)

	if !fired {
		t.Error("empty cut text did not fire the handler")
	}
}

func TestServerCutTextTooLarge(t *testing.T) {
	c, _ := readyClient(t, Handlers{})

	msg := []byte{MsgServerCutText, 0, 0, 0}
	msg = binary.BigEndian.AppendUint32(msg, maxCutTextLength+1)

	if err := c.Feed(msg); err == nil || !strings.Contains(err.Error(), "cut text too large") {
		t.Errorf("error = %v, want oversize cut text rejection", err)
	}
}

// TestUpdateByteAtATime re-runs a full update delivered one byte per Feed call
func TestUpdateByteAtATime(t *testing.T) {
	frames := 0
	c, _ := readyClient(t, Handlers{Frame: func() { frames++ }})

	msg := updateHeader(1)
	msg = append(msg, rectHeader(0, 0, 2, 1, EncodingRaw)...)
	msg = append(msg, 1, 2, 3, 0, 4, 5, 6, 0)

	for i := range msg {
		feedAll(t, c, msg[i:i+1])
		if i < len(msg)-1 && frames != 0 {
			t.Fatal("frame fired before the update was complete")
		}
	}

	if frames != 1 {
		t.Errorf("frame events = %d, want 1", frames)
	}
	if r, g, b, _ := c.Framebuffer().PixelAt(0, 0); r != 1 || g != 2 || b != 3 {
		t.Errorf("pixel (0,0) = %d,%d,%d, want 1,2,3", r, g, b)
	}
	if r, _, _, _ := c.Framebuffer().PixelAt(1, 0); r != 4 {
		t.Error("pixel (1,0) not written")
	}
}
