package rfb

// Framebuffer is the client's live copy of the remote display: a contiguous
// RGBA buffer of width*height*4 bytes, zero-initialized at allocation and at
// every resize. It is owned exclusively by the protocol engine; callers read
// it only through Snapshot.
type Framebuffer struct {
	width  int
	height int
	data   []byte
}

// NewFramebuffer allocates a zeroed framebuffer of the given dimensions
func NewFramebuffer(width, height int) *Framebuffer {
	return &Framebuffer{
		width:  width,
		height: height,
		data:   make([]byte, width*height*4),
	}
}

// Width returns the framebuffer width in pixels
func (f *Framebuffer) Width() int { return f.width }

// Height returns the framebuffer height in pixels
func (f *Framebuffer) Height() int { return f.height }

// Snapshot returns a copy of the raw RGBA contents. The copy never aliases
// the live buffer, so a caller can hold it across later updates.
func (f *Framebuffer) Snapshot() []byte {
	out := make([]byte, len(f.data))
	copy(out, f.data)
	return out
}

// Resize reallocates the buffer for new dimensions, discarding all previous
// contents. The new buffer is fully zeroed; stale coordinates from before the
// resize are never dereferenced because the old backing array is dropped.
func (f *Framebuffer) Resize(width, height int) {
	f.width = width
	f.height = height
	f.data = make([]byte, width*height*4)
}

// BlitRaw copies a Raw-encoded rectangle into the framebuffer at (x, y).
// src holds w*h pixels in the client's negotiated 32bpp little-endian layout
// (R, G, B, padding); the alpha channel is forced opaque per pixel. Rows and
// columns falling outside the framebuffer are clipped rather than trusted,
// since rectangle geometry comes straight off the wire.
func (f *Framebuffer) BlitRaw(x, y, w, h int, src []byte) {
	bpp := 4
	for row := 0; row < h; row++ {
		dy := y + row
		if dy < 0 || dy >= f.height {
			continue
		}
		for col := 0; col < w; col++ {
			dx := x + col
			if dx < 0 || dx >= f.width {
				continue
			}
			si := (row*w + col) * bpp
			di := (dy*f.width + dx) * 4
			f.data[di+0] = src[si+0]
			f.data[di+1] = src[si+1]
			f.data[di+2] = src[si+2]
			f.data[di+3] = 0xFF
		}
	}
}

// CopyRect copies a w*h rectangle from (srcX, srcY) to (dstX, dstY) within
// the framebuffer itself. The source is staged through a scratch buffer first
// because source and destination regions may overlap. Out-of-bounds source
// pixels read as zero and out-of-bounds destination pixels are dropped.
func (f *Framebuffer) CopyRect(srcX, srcY, dstX, dstY, w, h int) {
	scratch := make([]byte, w*h*4)

	for row := 0; row < h; row++ {
		sy := srcY + row
		if sy < 0 || sy >= f.height {
			continue
		}
		for col := 0; col < w; col++ {
			sx := srcX + col
			if sx < 0 || sx >= f.width {
				continue
			}
			si := (sy*f.width + sx) * 4
			ti := (row*w + col) * 4
			copy(scratch[ti:ti+4], f.data[si:si+4])
		}
	}

	for row := 0; row < h; row++ {
		dy := dstY + row
		if dy < 0 || dy >= f.height {
			continue
		}
		for col := 0; col < w; col++ {
			dx := dstX + col
			if dx < 0 || dx >= f.width {
				continue
			}
			ti := (row*w + col) * 4
			di := (dy*f.width + dx) * 4
			copy(f.data[di:di+4], scratch[ti:ti+4])
		}
	}
}

// PixelAt returns the RGBA value at (x, y). Intended for tests and
// diagnostics; returns zeros when out of bounds.
func (f *Framebuffer) PixelAt(x, y int) (r, g, b, a byte) {
	if x < 0 || x >= f.width || y < 0 || y >= f.height {
		return 0, 0, 0, 0
	}
	i := (y*f.width + x) * 4
	return f.data[i], f.data[i+1], f.data[i+2], f.data[i+3]
}
