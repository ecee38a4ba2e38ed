// Package replay implements the binary replay format emitted when a match
// ends. All integers are packed (base-128, little-endian groups) the same way
// the game's own message writer packs them, so the blob can be read back with
// the client-side reader without any extra framing.
package replay

import (
	"bytes"
	"fmt"
)

// Writer builds a replay blob. The zero value is ready to use.
type Writer struct {
	buf bytes.Buffer
}

// NewWriter creates a new Writer.
func NewWriter() *Writer {
	return &Writer{}
}

// Reset clears the writer for reuse.
func (w *Writer) Reset() {
	w.buf.Reset()
}

// WriteBool writes a single byte, 1 for true and 0 for false.
func (w *Writer) WriteBool(v bool) *Writer {
	if v {
		w.buf.WriteByte(1)
	} else {
		w.buf.WriteByte(0)
	}
	return w
}

// WriteUint8 writes a single byte.
func (w *Writer) WriteUint8(v uint8) *Writer {
	w.buf.WriteByte(v)
	return w
}

// WritePackedUint32 writes v as a packed varint (1 to 5 bytes).
func (w *Writer) WritePackedUint32(v uint32) *Writer {
	for {
		b := byte(v & 0x7F)
		v >>= 7
		if v != 0 {
			b |= 0x80
		}
		w.buf.WriteByte(b)
		if v == 0 {
			return w
		}
	}
}

// WriteBytesAndSize writes a packed length followed by the raw bytes.
func (w *Writer) WriteBytesAndSize(data []byte) *Writer {
	w.WritePackedUint32(uint32(len(data)))
	w.buf.Write(data)
	return w
}

// Bytes returns a copy of the bytes written so far.
func (w *Writer) Bytes() []byte {
	out := make([]byte, w.buf.Len())
	copy(out, w.buf.Bytes())
	return out
}

// Len returns the number of bytes written so far.
func (w *Writer) Len() int {
	return w.buf.Len()
}

// String returns a hex dump for debugging.
func (w *Writer) String() string {
	return fmt.Sprintf("replay.Writer[%d bytes]: %x", w.buf.Len(), w.buf.Bytes())
}
