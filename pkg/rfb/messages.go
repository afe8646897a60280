package rfb

import "encoding/binary"

// Outbound client-to-server message encoders. Every message has a fixed wire
// layout with big-endian multi-byte integers (RFC 6143 §7.5).

// encodeSetPixelFormat builds a SetPixelFormat message:
// type(1) + padding(3) + pixel-format(16)
func encodeSetPixelFormat(pf PixelFormat) []byte {
	buf := make([]byte, 4, 4+PixelFormatLength)
	buf[0] = MsgSetPixelFormat
	return append(buf, pf.Encode()...)
}

// encodeSetEncodings builds a SetEncodings message:
// type(1) + padding(1) + count(2) + count*encoding(4, signed)
func encodeSetEncodings(encodings []int32) []byte {
	buf := make([]byte, 4+4*len(encodings))
	buf[0] = MsgSetEncodings
	binary.BigEndian.PutUint16(buf[2:4], uint16(len(encodings)))
	for i, enc := range encodings {
		binary.BigEndian.PutUint32(buf[4+4*i:], uint32(enc))
	}
	return buf
}

// encodeFramebufferUpdateRequest builds a FramebufferUpdateRequest message:
// type(1) + incremental(1) + x(2) + y(2) + w(2) + h(2)
func encodeFramebufferUpdateRequest(incremental bool, x, y, w, h uint16) []byte {
	buf := make([]byte, 10)
	buf[0] = MsgFramebufferUpdateRequest
	if incremental {
		buf[1] = 1
	}
	binary.BigEndian.PutUint16(buf[2:4], x)
	binary.BigEndian.PutUint16(buf[4:6], y)
	binary.BigEndian.PutUint16(buf[6:8], w)
	binary.BigEndian.PutUint16(buf[8:10], h)
	return buf
}

// encodeKeyEvent builds a KeyEvent message:
// type(1) + down(1) + padding(2) + keysym(4)
func encodeKeyEvent(keysym uint32, down bool) []byte {
	buf := make([]byte, 8)
	buf[0] = MsgKeyEvent
	if down {
		buf[1] = 1
	}
	binary.BigEndian.PutUint32(buf[4:8], keysym)
	return buf
}

// encodePointerEvent builds a PointerEvent message:
// type(1) + button-mask(1) + x(2) + y(2)
func encodePointerEvent(buttonMask uint8, x, y uint16) []byte {
	buf := make([]byte, 6)
	buf[0] = MsgPointerEvent
	buf[1] = buttonMask
	binary.BigEndian.PutUint16(buf[2:4], x)
	binary.BigEndian.PutUint16(buf[4:6], y)
	return buf
}

// encodeClientCutText builds a ClientCutText message:
// type(1) + padding(3) + length(4) + text
func encodeClientCutText(text string) []byte {
	buf := make([]byte, 8, 8+len(text))
	buf[0] = MsgClientCutText
	binary.BigEndian.PutUint32(buf[4:8], uint32(len(text)))
	return append(buf, text...)
}

// X11 keysyms involved in the Apple modifier remap. macOS Screen Sharing
// servers interpret Meta, not Super, as the Command key.
const (
	KeysymSuperL uint32 = 0xffeb
	KeysymSuperR uint32 = 0xffec
	KeysymMetaL  uint32 = 0xffe7
	KeysymMetaR  uint32 = 0xffe8
)

// remapAppleKeysym substitutes Meta keysyms for Super keysyms; applied only
// when the server announced an Apple version banner.
func remapAppleKeysym(keysym uint32) uint32 {
	switch keysym {
	case KeysymSuperL:
		return KeysymMetaL
	case KeysymSuperR:
		return KeysymMetaR
	default:
		return keysym
	}
}

// clampCoord clamps a pointer coordinate to [0, dimension-1]
func clampCoord(v, dimension int) uint16 {
	if v < 0 {
		return 0
	}
	if dimension > 0 && v > dimension-1 {
		return uint16(dimension - 1)
	}
	return uint16(v)
}
