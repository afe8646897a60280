package rfb

import (
	"encoding/binary"
	"fmt"
)

// RFB protocol version constants
const (
	// ProtocolVersion38 - RFB 3.8, the version this client always replies with
	ProtocolVersion38 = "RFB 003.008\n"

	// ProtocolVersionLength - All RFB version strings are exactly 12 bytes
	ProtocolVersionLength = 12

	// appleVersionMinor - macOS Screen Sharing / Apple Remote Desktop servers
	// announce themselves with the non-standard banner "RFB 003.889\n"
	appleVersionMinor = 889
)

// SecurityType represents an RFB security type
type SecurityType uint8

// Security type constants (RFC 6143 §7.1.2 plus common extensions)
const (
	// SecurityTypeInvalid - Invalid security type (count 0 = connection failed)
	SecurityTypeInvalid SecurityType = 0

	// SecurityTypeNone - No authentication required
	SecurityTypeNone SecurityType = 1

	// SecurityTypeVNCAuth - VNC Authentication (DES challenge-response)
	SecurityTypeVNCAuth SecurityType = 2

	// SecurityTypeVeNCrypt - VeNCrypt sub-type negotiation, optionally over TLS
	SecurityTypeVeNCrypt SecurityType = 19

	// SecurityTypeARD - Apple Remote Desktop (Diffie-Hellman + AES-128-ECB)
	SecurityTypeARD SecurityType = 30

	// VNCAuthChallengeLength - VNC Authentication uses a 16-byte challenge
	VNCAuthChallengeLength = 16
)

// VeNCryptSubtype represents a VeNCrypt 0.2 security sub-type
type VeNCryptSubtype uint32

// VeNCrypt 0.2 sub-type constants
const (
	VeNCryptPlain     VeNCryptSubtype = 256
	VeNCryptTLSNone   VeNCryptSubtype = 257
	VeNCryptTLSVNC    VeNCryptSubtype = 258
	VeNCryptTLSPlain  VeNCryptSubtype = 259
	VeNCryptX509None  VeNCryptSubtype = 260
	VeNCryptX509VNC   VeNCryptSubtype = 261
	VeNCryptX509Plain VeNCryptSubtype = 262
)

// Security result constants
const (
	SecurityResultOK     uint32 = 0
	SecurityResultFailed uint32 = 1
)

// Client-to-server message types
const (
	MsgSetPixelFormat           uint8 = 0
	MsgSetEncodings             uint8 = 2
	MsgFramebufferUpdateRequest uint8 = 3
	MsgKeyEvent                 uint8 = 4
	MsgPointerEvent             uint8 = 5
	MsgClientCutText            uint8 = 6
)

// Server-to-client message types
const (
	MsgFramebufferUpdate uint8 = 0
	MsgSetColourMap      uint8 = 1
	MsgBell              uint8 = 2
	MsgServerCutText     uint8 = 3
)

// Encoding identifiers in scope for this client
const (
	EncodingRaw         int32 = 0
	EncodingCopyRect    int32 = 1
	EncodingDesktopSize int32 = -223 // pseudo-encoding, signals a resize
)

// String returns the security type name
func (s SecurityType) String() string {
	switch s {
	case SecurityTypeNone:
		return "None"
	case SecurityTypeVNCAuth:
		return "VNC Authentication"
	case SecurityTypeVeNCrypt:
		return "VeNCrypt"
	case SecurityTypeARD:
		return "Apple Remote Desktop"
	default:
		return fmt.Sprintf("Unknown(%d)", uint8(s))
	}
}

// String returns the VeNCrypt sub-type name
func (s VeNCryptSubtype) String() string {
	switch s {
	case VeNCryptPlain:
		return "Plain"
	case VeNCryptTLSNone:
		return "TLSNone"
	case VeNCryptTLSVNC:
		return "TLSVNC"
	case VeNCryptTLSPlain:
		return "TLSPlain"
	case VeNCryptX509None:
		return "X509None"
	case VeNCryptX509VNC:
		return "X509VNC"
	case VeNCryptX509Plain:
		return "X509Plain"
	default:
		return fmt.Sprintf("Unknown(%d)", uint32(s))
	}
}

// RequiresTLS returns true if the sub-type runs its inner auth over a
// TLS-upgraded channel. VeNCrypt Plain does not, even though it carries
// cleartext credentials; that mirrors the servers deployed in the wild.
func (s VeNCryptSubtype) RequiresTLS() bool {
	switch s {
	case VeNCryptTLSNone, VeNCryptTLSVNC, VeNCryptTLSPlain,
		VeNCryptX509None, VeNCryptX509VNC, VeNCryptX509Plain:
		return true
	default:
		return false
	}
}

// ProtocolVersion represents a parsed RFB protocol version banner
type ProtocolVersion struct {
	Major int
	Minor int
	Raw   string // Original 12-byte version string
}

// String returns the version as "RFB x.y"
func (v ProtocolVersion) String() string {
	return fmt.Sprintf("RFB %d.%d", v.Major, v.Minor)
}

// IsApple reports whether the banner identifies a macOS Screen Sharing
// server. Those servers need Super keysyms remapped to Meta on KeyEvent.
func (v ProtocolVersion) IsApple() bool {
	return v.Major == 3 && v.Minor == appleVersionMinor
}

// ParseProtocolVersion parses a 12-byte RFB version banner
// Format: "RFB xxx.yyy\n" (e.g., "RFB 003.008\n")
func ParseProtocolVersion(data []byte) (*ProtocolVersion, error) {
	if len(data) != ProtocolVersionLength {
		return nil, fmt.Errorf("invalid version length: got %d bytes, expected %d", len(data), ProtocolVersionLength)
	}

	if string(data[0:4]) != "RFB " {
		return nil, fmt.Errorf("invalid version format: expected 'RFB ' prefix, got %q", string(data[0:4]))
	}

	if data[11] != '\n' {
		return nil, fmt.Errorf("invalid version format: expected newline suffix, got %q", data[11])
	}

	major := 0
	for i := 4; i < 7; i++ {
		if data[i] < '0' || data[i] > '9' {
			return nil, fmt.Errorf("invalid major version: non-digit character %q", data[i])
		}
		major = major*10 + int(data[i]-'0')
	}

	if data[7] != '.' {
		return nil, fmt.Errorf("invalid version format: expected '.' separator, got %q", data[7])
	}

	minor := 0
	for i := 8; i < 11; i++ {
		if data[i] < '0' || data[i] > '9' {
			return nil, fmt.Errorf("invalid minor version: non-digit character %q", data[i])
		}
		minor = minor*10 + int(data[i]-'0')
	}

	return &ProtocolVersion{
		Major: major,
		Minor: minor,
		Raw:   string(data),
	}, nil
}

// PixelFormat describes the layout of one pixel on the wire (RFC 6143 §7.4)
type PixelFormat struct {
	BitsPerPixel uint8
	Depth        uint8
	BigEndian    bool
	TrueColour   bool
	RedMax       uint16
	GreenMax     uint16
	BlueMax      uint16
	RedShift     uint8
	GreenShift   uint8
	BlueShift    uint8
}

// PixelFormatLength - a pixel format is 16 bytes on the wire (3 bytes padding)
const PixelFormatLength = 16

// ClientPixelFormat returns the format this client always requests after the
// handshake: 32bpp, 24-bit depth, little-endian, true-colour, channel shifts
// 0/8/16. The server's own format from ServerInit is read but then overridden
// by a SetPixelFormat carrying this one.
func ClientPixelFormat() PixelFormat {
	return PixelFormat{
		BitsPerPixel: 32,
		Depth:        24,
		BigEndian:    false,
		TrueColour:   true,
		RedMax:       255,
		GreenMax:     255,
		BlueMax:      255,
		RedShift:     0,
		GreenShift:   8,
		BlueShift:    16,
	}
}

// BytesPerPixel returns the per-pixel byte width on the wire
func (pf PixelFormat) BytesPerPixel() int {
	return int(pf.BitsPerPixel) / 8
}

// ParsePixelFormat parses the 16-byte wire representation of a pixel format
func ParsePixelFormat(data []byte) (PixelFormat, error) {
	if len(data) != PixelFormatLength {
		return PixelFormat{}, fmt.Errorf("invalid pixel format length: got %d bytes, expected %d", len(data), PixelFormatLength)
	}

	return PixelFormat{
		BitsPerPixel: data[0],
		Depth:        data[1],
		BigEndian:    data[2] != 0,
		TrueColour:   data[3] != 0,
		RedMax:       binary.BigEndian.Uint16(data[4:6]),
		GreenMax:     binary.BigEndian.Uint16(data[6:8]),
		BlueMax:      binary.BigEndian.Uint16(data[8:10]),
		RedShift:     data[10],
		GreenShift:   data[11],
		BlueShift:    data[12],
	}, nil
}

// Encode returns the 16-byte wire representation of the pixel format
func (pf PixelFormat) Encode() []byte {
	buf := make([]byte, PixelFormatLength)
	buf[0] = pf.BitsPerPixel
	buf[1] = pf.Depth
	if pf.BigEndian {
		buf[2] = 1
	}
	if pf.TrueColour {
		buf[3] = 1
	}
	binary.BigEndian.PutUint16(buf[4:6], pf.RedMax)
	binary.BigEndian.PutUint16(buf[6:8], pf.GreenMax)
	binary.BigEndian.PutUint16(buf[8:10], pf.BlueMax)
	buf[10] = pf.RedShift
	buf[11] = pf.GreenShift
	buf[12] = pf.BlueShift
	// bytes 13-15 are padding
	return buf
}
