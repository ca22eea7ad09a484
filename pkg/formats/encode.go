package formats

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/klauspost/compress/zlib"

	"github.com/Faultbox/midgard-nav/pkg/math"
)

// EncodeMapV1 writes triangles in the V1 layout. Input coordinates are in
// file space (Z-up).
func EncodeMapV1(tris [][3]math.Vec3) []byte {
	buf := new(bytes.Buffer)
	le := binary.LittleEndian

	binary.Write(buf, le, uint32(MapV1))
	binary.Write(buf, le, uint32(len(tris)))
	binary.Write(buf, le, uint16(0)) // node count
	binary.Write(buf, le, uint32(0)) // face list count

	for _, t := range tris {
		for _, v := range t {
			binary.Write(buf, le, v)
		}
		binary.Write(buf, le, [4]float32{})
	}
	return buf.Bytes()
}

// EncodeMapV2Payload serialises d into the uncompressed V2 payload layout.
func EncodeMapV2Payload(d *MapV2Data) []byte {
	buf := new(bytes.Buffer)
	le := binary.LittleEndian

	binary.Write(buf, le, []uint32{
		uint32(len(d.Vertices)),
		uint32(len(d.Indices)),
		uint32(len(d.NCVertices)),
		uint32(len(d.NCIndices)),
		uint32(len(d.Models)),
		uint32(len(d.Placements)),
		uint32(len(d.Groups)),
		uint32(len(d.Tiles)),
		d.QuadsPerTile,
	})
	binary.Write(buf, le, d.UnitsPerVertex)

	binary.Write(buf, le, d.Vertices)
	binary.Write(buf, le, d.Indices)
	binary.Write(buf, le, d.NCVertices)
	binary.Write(buf, le, d.NCIndices)

	for _, m := range d.Models {
		writeCString(buf, m.Name)
		binary.Write(buf, le, uint32(len(m.Vertices)))
		binary.Write(buf, le, uint32(len(m.Polys)))
		binary.Write(buf, le, m.Vertices)
		for _, p := range m.Polys {
			binary.Write(buf, le, p.V)
			buf.WriteByte(p.Vis)
		}
	}

	for _, p := range d.Placements {
		writePlacement(buf, p)
	}

	for _, g := range d.Groups {
		binary.Write(buf, le, g.Position)
		binary.Write(buf, le, g.Rotation)
		binary.Write(buf, le, g.Scale)
		binary.Write(buf, le, g.TileOffset)
		binary.Write(buf, le, uint32(len(g.Placements)))
		for _, p := range g.Placements {
			writePlacement(buf, p)
		}
	}

	for _, t := range d.Tiles {
		if t.Flat {
			buf.WriteByte(1)
		} else {
			buf.WriteByte(0)
		}
		binary.Write(buf, le, t.X)
		binary.Write(buf, le, t.Y)
		if t.Flat {
			binary.Write(buf, le, t.Height)
			continue
		}
		buf.Write(t.Flags)
		binary.Write(buf, le, t.Heights)
	}

	return buf.Bytes()
}

// EncodeMapV2 writes a complete V2 file with a zlib-compressed payload.
func EncodeMapV2(d *MapV2Data) ([]byte, error) {
	payload := EncodeMapV2Payload(d)

	var compressed bytes.Buffer
	zw := zlib.NewWriter(&compressed)
	if _, err := zw.Write(payload); err != nil {
		return nil, fmt.Errorf("compressing payload: %w", err)
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("compressing payload: %w", err)
	}

	out := new(bytes.Buffer)
	le := binary.LittleEndian
	binary.Write(out, le, uint32(MapV2))
	binary.Write(out, le, uint32(compressed.Len()))
	binary.Write(out, le, uint32(len(payload)))
	out.Write(compressed.Bytes())
	return out.Bytes(), nil
}

// EncodeWTRV2 writes a box-list liquid file.
func EncodeWTRV2(regions []WTRRegion) []byte {
	buf := new(bytes.Buffer)
	le := binary.LittleEndian

	buf.WriteString(WTRMagic)
	binary.Write(buf, le, uint32(2))
	binary.Write(buf, le, uint32(len(regions)))
	for _, r := range regions {
		binary.Write(buf, le, uint32(r.Type))
		binary.Write(buf, le, r.Position)
		binary.Write(buf, le, r.Rotation)
		binary.Write(buf, le, r.Scale)
		binary.Write(buf, le, r.Extents)
	}
	return buf.Bytes()
}

// EncodeWTRV1 writes a BSP liquid file.
func EncodeWTRV1(nodes []WTRBSPNode) []byte {
	buf := new(bytes.Buffer)
	le := binary.LittleEndian

	buf.WriteString(WTRMagic)
	binary.Write(buf, le, uint32(1))
	binary.Write(buf, le, uint32(len(nodes)))
	for _, n := range nodes {
		binary.Write(buf, le, n.ID)
		binary.Write(buf, le, n.Normal)
		binary.Write(buf, le, n.Dist)
		binary.Write(buf, le, n.Region)
		binary.Write(buf, le, n.Special)
		binary.Write(buf, le, n.Left)
		binary.Write(buf, le, n.Right)
	}
	return buf.Bytes()
}

func writeCString(buf *bytes.Buffer, s string) {
	buf.WriteString(s)
	buf.WriteByte(0)
}

func writePlacement(buf *bytes.Buffer, p Placement) {
	le := binary.LittleEndian
	writeCString(buf, p.Model)
	binary.Write(buf, le, p.Position)
	binary.Write(buf, le, p.Rotation)
	binary.Write(buf, le, p.Scale)
}
