package proxy

import (
	"fmt"

	"github.com/wireproxy/mysqlwire/internal/wire"
)

// initialBufSize is the reference's starting buffer capacity (spec.md
// §4.2): "the initial capacity is an implementation choice (the reference
// uses 4096); grow geometrically."
const initialBufSize = 4096

// maxFrameSize is the largest a single packet can ever be: a 4-byte header
// plus the largest payload the 3-byte length field can express. Per
// spec.md §9, buffers must grow up to at least this size and reject
// larger claimed frames at read time — which in practice can never happen,
// since the length field itself cannot express more.
const maxFrameSize = wire.HeaderLen + wire.MaxPayloadLen

// Reader reassembles MySQL packets out of a raw byte stream. It owns a
// growable buffer and a read cursor; Feed appends newly-read bytes, Next
// extracts complete packets. Reader never touches a socket directly —
// socket I/O lives in the pump goroutines in pipe.go, which is the
// Go-native analogue of spec.md §4.2's "non-blocking read loop."
type Reader struct {
	buf     []byte
	readPos int
}

// NewReader returns a Reader with the reference's initial buffer capacity.
func NewReader() *Reader {
	return &Reader{buf: make([]byte, initialBufSize)}
}

// Feed appends data to the buffer, growing it geometrically as needed, up
// to maxFrameSize. It returns an error only if a single frame would need
// to exceed maxFrameSize, which the wire format itself makes impossible —
// the check exists to fail loudly instead of corrupting state if that
// invariant is ever violated.
func (r *Reader) Feed(data []byte) error {
	needed := r.readPos + len(data)
	if needed > maxFrameSize {
		return fmt.Errorf("proxy: read buffer would exceed max frame size (%d > %d)", needed, maxFrameSize)
	}
	r.grow(needed)
	copy(r.buf[r.readPos:needed], data)
	r.readPos = needed
	return nil
}

func (r *Reader) grow(needed int) {
	if needed <= len(r.buf) {
		return
	}
	newCap := len(r.buf)
	if newCap == 0 {
		newCap = initialBufSize
	}
	for newCap < needed {
		newCap *= 2
	}
	if newCap > maxFrameSize {
		newCap = maxFrameSize
	}
	grown := make([]byte, newCap)
	copy(grown, r.buf[:r.readPos])
	r.buf = grown
}

// Next extracts one complete packet from the front of the buffer, if one
// is present, shifting the remaining bytes down to the start (spec.md
// §4.1). It never blocks and never errors.
func (r *Reader) Next() (wire.Packet, bool) {
	pkt, consumed, ok := wire.ExtractPacket(r.buf, r.readPos)
	if !ok {
		return wire.Packet{}, false
	}
	copy(r.buf, r.buf[consumed:r.readPos])
	r.readPos -= consumed
	return pkt, true
}

// Writer queues whole packets for delivery to a socket. Like Reader, it
// never touches a socket directly; Drain hands ownership of the pending
// bytes to a pump goroutine.
type Writer struct {
	buf      []byte
	writePos int
}

// NewWriter returns an empty Writer.
func NewWriter() *Writer {
	return &Writer{buf: make([]byte, initialBufSize)}
}

// Push appends a whole packet's bytes to the pending buffer (spec.md
// §4.3: "whole packets only — partial packets are never pushed").
func (w *Writer) Push(p wire.Packet) {
	needed := w.writePos + len(p.Bytes)
	w.grow(needed)
	copy(w.buf[w.writePos:needed], p.Bytes)
	w.writePos = needed
}

func (w *Writer) grow(needed int) {
	if needed <= len(w.buf) {
		return
	}
	newCap := len(w.buf)
	if newCap == 0 {
		newCap = initialBufSize
	}
	for newCap < needed {
		newCap *= 2
	}
	grown := make([]byte, newCap)
	copy(grown, w.buf[:w.writePos])
	w.buf = grown
}

// Pending returns the number of bytes currently queued for write.
func (w *Writer) Pending() int {
	return w.writePos
}

// Drain hands off every pending byte to the caller and resets the writer
// to empty. The caller now owns the returned slice.
func (w *Writer) Drain() []byte {
	if w.writePos == 0 {
		return nil
	}
	out := make([]byte, w.writePos)
	copy(out, w.buf[:w.writePos])
	w.writePos = 0
	return out
}
