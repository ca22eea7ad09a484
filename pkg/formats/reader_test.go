package formats

import (
	"bytes"
	"encoding/binary"
	"errors"
	"testing"
)

func TestReader_Sequential(t *testing.T) {
	buf := new(bytes.Buffer)
	buf.WriteByte(7)
	binary.Write(buf, binary.LittleEndian, uint16(0xBEEF))
	binary.Write(buf, binary.LittleEndian, int32(-5))
	binary.Write(buf, binary.LittleEndian, float32(1.5))
	binary.Write(buf, binary.LittleEndian, [3]float32{1, 2, 3})
	buf.WriteString("wall\x00")

	r := NewReader(buf.Bytes())

	if b, err := r.U8(); err != nil || b != 7 {
		t.Errorf("U8: got %d, %v", b, err)
	}
	if v, err := r.U16(); err != nil || v != 0xBEEF {
		t.Errorf("U16: got %x, %v", v, err)
	}
	if v, err := r.I32(); err != nil || v != -5 {
		t.Errorf("I32: got %d, %v", v, err)
	}
	if v, err := r.F32(); err != nil || v != 1.5 {
		t.Errorf("F32: got %f, %v", v, err)
	}
	if v, err := r.Vec3(); err != nil || v != v3(1, 2, 3) {
		t.Errorf("Vec3: got %v, %v", v, err)
	}
	if s, err := r.CString(); err != nil || s != "wall" {
		t.Errorf("CString: got %q, %v", s, err)
	}
	if r.Remaining() != 0 {
		t.Errorf("expected 0 remaining, got %d", r.Remaining())
	}
}

func TestReader_ShortReads(t *testing.T) {
	tests := []struct {
		name string
		data []byte
		read func(r *Reader) error
	}{
		{"u8", nil, func(r *Reader) error { _, err := r.U8(); return err }},
		{"u16", []byte{1}, func(r *Reader) error { _, err := r.U16(); return err }},
		{"u32", []byte{1, 2, 3}, func(r *Reader) error { _, err := r.U32(); return err }},
		{"f32", []byte{1, 2}, func(r *Reader) error { _, err := r.F32(); return err }},
		{"vec3", make([]byte, 11), func(r *Reader) error { _, err := r.Vec3(); return err }},
		{"cstring", []byte("abc"), func(r *Reader) error { _, err := r.CString(); return err }},
		{"bytes", []byte{1}, func(r *Reader) error { _, err := r.Bytes(2); return err }},
		{"negative", []byte{1}, func(r *Reader) error { return r.Skip(-1) }},
		{"u32s", make([]byte, 6), func(r *Reader) error {
			var a, b uint32
			return r.U32s(&a, &b)
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewReader(tt.data)
			start := r.Offset()
			if err := tt.read(r); !errors.Is(err, ErrShortRead) {
				t.Errorf("expected ErrShortRead, got %v", err)
			}
			if tt.name != "u32s" && r.Offset() != start {
				t.Errorf("failed read moved the cursor to %d", r.Offset())
			}
		})
	}
}
