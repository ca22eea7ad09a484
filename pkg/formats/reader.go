package formats

import (
	"bytes"
	"encoding/binary"
	"errors"
	gomath "math"

	"github.com/Faultbox/midgard-nav/pkg/math"
)

// ErrShortRead is returned when a read would run past the end of the buffer.
var ErrShortRead = errors.New("short read")

// Reader is a little-endian cursor over a byte slice. Every read is bounds
// checked and fails with ErrShortRead instead of reading past the end.
type Reader struct {
	data []byte
	off  int
}

// NewReader creates a reader positioned at the start of data.
func NewReader(data []byte) *Reader {
	return &Reader{data: data}
}

// Offset returns the current read position.
func (r *Reader) Offset() int {
	return r.off
}

// Remaining returns the number of unread bytes.
func (r *Reader) Remaining() int {
	return len(r.data) - r.off
}

func (r *Reader) take(n int) ([]byte, error) {
	if n < 0 || n > r.Remaining() {
		return nil, ErrShortRead
	}
	b := r.data[r.off : r.off+n]
	r.off += n
	return b, nil
}

// Skip advances the cursor by n bytes.
func (r *Reader) Skip(n int) error {
	_, err := r.take(n)
	return err
}

// Bytes returns the next n bytes without copying.
func (r *Reader) Bytes(n int) ([]byte, error) {
	return r.take(n)
}

// U8 reads a byte.
func (r *Reader) U8() (uint8, error) {
	b, err := r.take(1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

// U16 reads a little-endian uint16.
func (r *Reader) U16() (uint16, error) {
	b, err := r.take(2)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(b), nil
}

// U32 reads a little-endian uint32.
func (r *Reader) U32() (uint32, error) {
	b, err := r.take(4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

// I32 reads a little-endian int32.
func (r *Reader) I32() (int32, error) {
	v, err := r.U32()
	return int32(v), err
}

// F32 reads a little-endian IEEE-754 float.
func (r *Reader) F32() (float32, error) {
	v, err := r.U32()
	if err != nil {
		return 0, err
	}
	return gomath.Float32frombits(v), nil
}

// Vec3 reads three consecutive floats.
func (r *Reader) Vec3() (math.Vec3, error) {
	b, err := r.take(12)
	if err != nil {
		return math.Vec3{}, err
	}
	return math.Vec3{
		X: gomath.Float32frombits(binary.LittleEndian.Uint32(b[0:])),
		Y: gomath.Float32frombits(binary.LittleEndian.Uint32(b[4:])),
		Z: gomath.Float32frombits(binary.LittleEndian.Uint32(b[8:])),
	}, nil
}

// U32s reads consecutive uint32 values into dst in order.
func (r *Reader) U32s(dst ...*uint32) error {
	for _, d := range dst {
		v, err := r.U32()
		if err != nil {
			return err
		}
		*d = v
	}
	return nil
}

// CString reads a null-terminated string and consumes the terminator.
func (r *Reader) CString() (string, error) {
	idx := bytes.IndexByte(r.data[r.off:], 0)
	if idx < 0 {
		return "", ErrShortRead
	}
	s := string(r.data[r.off : r.off+idx])
	r.off += idx + 1
	return s, nil
}
