package rfb

// reassembler accumulates inbound transport bytes and releases them to the
// parser only once a full logical field is buffered. The parser asks "do I
// have n bytes?" and either consumes exactly n or returns control to wait for
// the next delivery; no partial parse is ever attempted.
//
// Consumption slides a read offset forward instead of reslicing the front on
// every field, so a burst of small fields costs no allocations. The backing
// array is compacted once the consumed prefix dominates the buffer.
type reassembler struct {
	data []byte
	off  int
}

// append adds newly delivered transport bytes. A zero-length delivery is a
// no-op.
func (r *reassembler) append(p []byte) {
	if len(p) == 0 {
		return
	}

	// Compact before growing when more than half the buffer is dead prefix
	if r.off > 0 && r.off >= len(r.data)-r.off {
		n := copy(r.data, r.data[r.off:])
		r.data = r.data[:n]
		r.off = 0
	}

	r.data = append(r.data, p...)
}

// have reports whether at least n unconsumed bytes are buffered
func (r *reassembler) have(n int) bool {
	return len(r.data)-r.off >= n
}

// consume releases the front n bytes and retains the remainder. The returned
// slice aliases the internal buffer and is only valid until the next append;
// callers that keep the bytes must copy them.
func (r *reassembler) consume(n int) []byte {
	b := r.data[r.off : r.off+n]
	r.off += n
	return b
}

// reset discards all buffered bytes. Used after a mid-stream TLS upgrade:
// anything buffered before the upgrade belongs to the old framing and must
// not be replayed into the encrypted channel's parse.
func (r *reassembler) reset() {
	r.data = r.data[:0]
	r.off = 0
}

// pending returns the number of unconsumed bytes currently buffered
func (r *reassembler) pending() int {
	return len(r.data) - r.off
}
