package replay

import (
	"errors"
	"fmt"
)

var (
	// ErrTruncated is returned when the blob ends in the middle of a value.
	ErrTruncated = errors.New("replay: truncated data")

	// ErrVarintOverflow is returned when a packed integer does not fit in 32 bits.
	ErrVarintOverflow = errors.New("replay: packed integer overflows uint32")

	// ErrInvalidDirection is returned when a direction flag is neither 0 nor 1.
	ErrInvalidDirection = errors.New("replay: invalid direction flag")
)

// Reader reads values written by Writer.
type Reader struct {
	data []byte
	pos  int
}

// NewReader creates a Reader over data. The slice is not copied.
func NewReader(data []byte) *Reader {
	return &Reader{data: data}
}

// Remaining returns the number of unread bytes.
func (r *Reader) Remaining() int {
	return len(r.data) - r.pos
}

// Offset returns the current read offset.
func (r *Reader) Offset() int {
	return r.pos
}

// ReadUint8 reads a single byte.
func (r *Reader) ReadUint8() (uint8, error) {
	if r.pos >= len(r.data) {
		return 0, ErrTruncated
	}
	b := r.data[r.pos]
	r.pos++
	return b, nil
}

// ReadBool reads a strict 0/1 boolean byte.
func (r *Reader) ReadBool() (bool, error) {
	b, err := r.ReadUint8()
	if err != nil {
		return false, err
	}
	switch b {
	case 0:
		return false, nil
	case 1:
		return true, nil
	default:
		return false, fmt.Errorf("%w: 0x%02X at offset %d", ErrInvalidDirection, b, r.pos-1)
	}
}

// ReadPackedUint32 reads a packed varint.
func (r *Reader) ReadPackedUint32() (uint32, error) {
	var v uint32
	for shift := uint(0); shift < 35; shift += 7 {
		b, err := r.ReadUint8()
		if err != nil {
			return 0, err
		}
		if shift == 28 && b > 0x0F {
			return 0, ErrVarintOverflow
		}
		v |= uint32(b&0x7F) << shift
		if b&0x80 == 0 {
			return v, nil
		}
	}
	return 0, ErrVarintOverflow
}

// ReadBytesAndSize reads a packed length followed by that many bytes.
// The returned slice is a copy.
func (r *Reader) ReadBytesAndSize() ([]byte, error) {
	n, err := r.ReadPackedUint32()
	if err != nil {
		return nil, err
	}
	if uint64(n) > uint64(r.Remaining()) {
		return nil, fmt.Errorf("%w: need %d bytes, have %d", ErrTruncated, n, r.Remaining())
	}
	out := make([]byte, n)
	copy(out, r.data[r.pos:r.pos+int(n)])
	r.pos += int(n)
	return out, nil
}
