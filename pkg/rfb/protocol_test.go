package rfb

import (
	"bytes"
	"strings"
	"testing"
)

func TestParseProtocolVersion(t *testing.T) {
	tests := []struct {
		name        string
		data        []byte
		wantMajor   int
		wantMinor   int
		wantErr     bool
		errContains string
	}{
		{
			name:      "standard 3.8",
			data:      []byte("RFB 003.008\n"),
			wantMajor: 3,
			wantMinor: 8,
		},
		{
			name:      "legacy 3.3",
			data:      []byte("RFB 003.003\n"),
			wantMajor: 3,
			wantMinor: 3,
		},
		{
			name:      "apple 3.889",
			data:      []byte("RFB 003.889\n"),
			wantMajor: 3,
			wantMinor: 889,
		},
		{
			name:        "wrong length",
			data:        []byte("RFB 3.8\n"),
			wantErr:     true,
			errContains: "invalid version length",
		},
		{
			name:        "bad prefix",
			data:        []byte("VNC 003.008\n"),
			wantErr:     true,
			errContains: "expected 'RFB ' prefix",
		},
		{
			name:        "missing newline",
			data:        []byte("RFB 003.008X"),
			wantErr:     true,
			errContains: "expected newline",
		},
		{
			name:        "non-digit major",
			data:        []byte("RFB 0a3.008\n"),
			wantErr:     true,
			errContains: "invalid major version",
		},
		{
			name:        "non-digit minor",
			data:        []byte("RFB 003.0x8\n"),
			wantErr:     true,
			errContains: "invalid minor version",
		},
		{
			name:        "missing separator",
			data:        []byte("RFB 003-008\n"),
			wantErr:     true,
			errContains: "expected '.' separator",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, err := ParseProtocolVersion(tt.data)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error, got version %v", v)
				}
				if !strings.Contains(err.Error(), tt.errContains) {
					t.Errorf("error %q does not contain %q", err.Error(), tt.errContains)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if v.Major != tt.wantMajor || v.Minor != tt.wantMinor {
				t.Errorf("got %d.%d, want %d.%d", v.Major, v.Minor, tt.wantMajor, tt.wantMinor)
			}
			if v.Raw != string(tt.data) {
				t.Errorf("raw = %q, want %q", v.Raw, string(tt.data))
			}
		})
	}
}

func TestProtocolVersionIsApple(t *testing.T) {
	tests := []struct {
		version ProtocolVersion
		want    bool
	}{
		{ProtocolVersion{Major: 3, Minor: 889}, true},
		{ProtocolVersion{Major: 3, Minor: 8}, false},
		{ProtocolVersion{Major: 3, Minor: 3}, false},
		{ProtocolVersion{Major: 4, Minor: 889}, false},
	}

	for _, tt := range tests {
		if got := tt.version.IsApple(); got != tt.want {
			t.Errorf("%s: IsApple() = %v, want %v", tt.version, got, tt.want)
		}
	}
}

func TestSecurityTypeString(t *testing.T) {
	tests := []struct {
		secType SecurityType
		want    string
	}{
		{SecurityTypeNone, "None"},
		{SecurityTypeVNCAuth, "VNC Authentication"},
		{SecurityTypeVeNCrypt, "VeNCrypt"},
		{SecurityTypeARD, "Apple Remote Desktop"},
		{SecurityType(99), "Unknown(99)"},
	}

	for _, tt := range tests {
		if got := tt.secType.String(); got != tt.want {
			t.Errorf("SecurityType(%d).String() = %q, want %q", tt.secType, got, tt.want)
		}
	}
}

func TestVeNCryptSubtypeRequiresTLS(t *testing.T) {
	tests := []struct {
		subtype VeNCryptSubtype
		want    bool
	}{
		{VeNCryptPlain, false},
		{VeNCryptTLSNone, true},
		{VeNCryptTLSVNC, true},
		{VeNCryptTLSPlain, true},
		{VeNCryptX509None, true},
		{VeNCryptX509VNC, true},
		{VeNCryptX509Plain, true},
		{VeNCryptSubtype(2), false},
	}

	for _, tt := range tests {
		if got := tt.subtype.RequiresTLS(); got != tt.want {
			t.Errorf("%s.RequiresTLS() = %v, want %v", tt.subtype, got, tt.want)
		}
	}
}

func TestPixelFormatRoundTrip(t *testing.T) {
	pf := ClientPixelFormat()

	encoded := pf.Encode()
	if len(encoded) != PixelFormatLength {
		t.Fatalf("encoded length = %d, want %d", len(encoded), PixelFormatLength)
	}

	decoded, err := ParsePixelFormat(encoded)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if decoded != pf {
		t.Errorf("round trip mismatch: got %+v, want %+v", decoded, pf)
	}
}

func TestClientPixelFormat(t *testing.T) {
	pf := ClientPixelFormat()

	if pf.BitsPerPixel != 32 || pf.Depth != 24 {
		t.Errorf("got %d bpp depth %d, want 32 bpp depth 24", pf.BitsPerPixel, pf.Depth)
	}
	if pf.BigEndian {
		t.Error("client format must be little-endian")
	}
	if !pf.TrueColour {
		t.Error("client format must be true-colour")
	}
	if pf.RedShift != 0 || pf.GreenShift != 8 || pf.BlueShift != 16 {
		t.Errorf("shifts = %d/%d/%d, want 0/8/16", pf.RedShift, pf.GreenShift, pf.BlueShift)
	}
	if pf.BytesPerPixel() != 4 {
		t.Errorf("BytesPerPixel() = %d, want 4", pf.BytesPerPixel())
	}
}

func TestParsePixelFormat(t *testing.T) {
	data := []byte{
		32, 24, 1, 1, // bpp, depth, big-endian, true-colour
		0, 255, 0, 255, 0, 255, // maxes
		16, 8, 0, // shifts
		0, 0, 0, // padding
	}

	pf, err := ParsePixelFormat(data)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !pf.BigEndian || !pf.TrueColour {
		t.Error("flags not parsed")
	}
	if pf.RedMax != 255 || pf.GreenMax != 255 || pf.BlueMax != 255 {
		t.Errorf("maxes = %d/%d/%d, want 255/255/255", pf.RedMax, pf.GreenMax, pf.BlueMax)
	}
	if pf.RedShift != 16 || pf.GreenShift != 8 || pf.BlueShift != 0 {
		t.Errorf("shifts = %d/%d/%d, want 16/8/0", pf.RedShift, pf.GreenShift, pf.BlueShift)
	}

	if _, err := ParsePixelFormat(data[:10]); err == nil {
		t.Error("expected error for short pixel format")
	}
}

func TestPixelFormatEncodePadding(t *testing.T) {
	encoded := ClientPixelFormat().Encode()
	if !bytes.Equal(encoded[13:16], []byte{0, 0, 0}) {
		t.Errorf("padding bytes = %v, want zeros", encoded[13:16])
	}
}
