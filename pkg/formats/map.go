// Package formats provides decoders for zone geometry (.map) and liquid volume (.wtr) files.
package formats

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/klauspost/compress/zlib"

	"github.com/Faultbox/midgard-nav/pkg/math"
)

// Zone geometry format errors.
var (
	ErrUnsupportedMapVersion = errors.New("unsupported map version")
	ErrTruncatedMapData      = errors.New("truncated map data")
	ErrDecompress            = errors.New("map payload decompression failed")
	ErrDecompressedSize      = errors.New("map payload size mismatch")
	ErrInvalidMesh           = errors.New("invalid mesh")
)

// MapVersion is the leading 32-bit version word of a .map file.
// The version number lives in the most significant byte.
type MapVersion uint32

const (
	MapV1 MapVersion = 0x01000000
	MapV2 MapVersion = 0x02000000
)

// String returns "V1", "V2" or the raw word.
func (v MapVersion) String() string {
	switch v {
	case MapV1:
		return "V1"
	case MapV2:
		return "V2"
	default:
		return fmt.Sprintf("Unknown(0x%08x)", uint32(v))
	}
}

// Mesh is an indexed triangle soup. len(Indices) is always a multiple of 3.
type Mesh struct {
	Vertices []math.Vec3
	Indices  []uint32
}

// TriangleCount returns the number of triangles.
func (m *Mesh) TriangleCount() int {
	return len(m.Indices) / 3
}

// Triangle returns the three corners of triangle i.
func (m *Mesh) Triangle(i int) (a, b, c math.Vec3) {
	return m.Vertices[m.Indices[i*3]], m.Vertices[m.Indices[i*3+1]], m.Vertices[m.Indices[i*3+2]]
}

// Bounds returns the axis-aligned extents of the vertices.
// ok is false for an empty mesh.
func (m *Mesh) Bounds() (lo, hi math.Vec3, ok bool) {
	if len(m.Vertices) == 0 {
		return math.Vec3{}, math.Vec3{}, false
	}
	lo, hi = m.Vertices[0], m.Vertices[0]
	for _, v := range m.Vertices[1:] {
		lo = lo.Min(v)
		hi = hi.Max(v)
	}
	return lo, hi, true
}

// Validate checks the index stream shape and range.
func (m *Mesh) Validate() error {
	if len(m.Indices)%3 != 0 {
		return fmt.Errorf("%w: index count %d is not a multiple of 3", ErrInvalidMesh, len(m.Indices))
	}
	n := uint32(len(m.Vertices))
	for i, idx := range m.Indices {
		if idx >= n {
			return fmt.Errorf("%w: index %d at %d out of range (%d vertices)", ErrInvalidMesh, idx, i, n)
		}
	}
	return nil
}

func (m *Mesh) addTriangle(a, b, c math.Vec3) {
	base := uint32(len(m.Vertices))
	m.Vertices = append(m.Vertices, a, b, c)
	m.Indices = append(m.Indices, base, base+1, base+2)
}

func (m *Mesh) swapYZ() {
	for i, v := range m.Vertices {
		m.Vertices[i] = v.SwapYZ()
	}
}

// ZoneGeometry is a decoded zone: the collision mesh used for queries and the
// visual-only mesh (V2 only).
type ZoneGeometry struct {
	Version      MapVersion
	Collision    Mesh
	NonCollision Mesh
}

// ParseOptions controls decoding details that have more than one accepted behaviour.
type ParseOptions struct {
	// V1Fresh appends three fresh vertices per V1 face instead of sharing
	// vertices with identical coordinates.
	V1Fresh bool
}

// ParseMap decodes a zone geometry file with default options.
func ParseMap(data []byte) (*ZoneGeometry, error) {
	return ParseMapWithOptions(data, ParseOptions{})
}

// ParseMapWithOptions decodes a zone geometry file.
// No partial geometry is returned on error.
func ParseMapWithOptions(data []byte, opts ParseOptions) (*ZoneGeometry, error) {
	r := NewReader(data)
	word, err := r.U32()
	if err != nil {
		return nil, fmt.Errorf("%w: reading version", ErrTruncatedMapData)
	}

	var geom *ZoneGeometry
	switch MapVersion(word) {
	case MapV1:
		geom, err = parseMapV1(r, opts)
	case MapV2:
		geom, err = parseMapV2(r)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedMapVersion, MapVersion(word))
	}
	if err != nil {
		return nil, err
	}
	if err := geom.Collision.Validate(); err != nil {
		return nil, err
	}
	if err := geom.NonCollision.Validate(); err != nil {
		return nil, err
	}
	return geom, nil
}

// ParseMapFile decodes a zone geometry file from disk.
func ParseMapFile(path string) (*ZoneGeometry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading map file: %w", err)
	}
	return ParseMap(data)
}

// V1 face record: three vertices plus a legacy normal and plane distance.
const v1FaceSize = 3*12 + 4*4

func parseMapV1(r *Reader, opts ParseOptions) (*ZoneGeometry, error) {
	faceCount, err := r.U32()
	if err != nil {
		return nil, fmt.Errorf("%w: reading face count", ErrTruncatedMapData)
	}
	// node count (u16) and face list count (u32) describe the legacy BSP and are unused.
	if err := r.Skip(6); err != nil {
		return nil, fmt.Errorf("%w: reading node counts", ErrTruncatedMapData)
	}

	if uint64(faceCount)*v1FaceSize > uint64(r.Remaining()) {
		return nil, fmt.Errorf("%w: %d faces need %d bytes, %d left", ErrTruncatedMapData,
			faceCount, uint64(faceCount)*v1FaceSize, r.Remaining())
	}

	geom := &ZoneGeometry{Version: MapV1}
	mesh := &geom.Collision
	mesh.Indices = make([]uint32, 0, faceCount*3)

	shared := make(map[math.Vec3]uint32)
	for i := uint32(0); i < faceCount; i++ {
		var corners [3]math.Vec3
		for j := range corners {
			if corners[j], err = r.Vec3(); err != nil {
				return nil, fmt.Errorf("%w: reading face %d vertex %d", ErrTruncatedMapData, i, j)
			}
		}
		// legacy face normal + plane distance
		if err := r.Skip(16); err != nil {
			return nil, fmt.Errorf("%w: reading face %d normal", ErrTruncatedMapData, i)
		}

		if opts.V1Fresh {
			mesh.addTriangle(corners[0], corners[1], corners[2])
			continue
		}
		for _, v := range corners {
			idx, ok := shared[v]
			if !ok {
				idx = uint32(len(mesh.Vertices))
				mesh.Vertices = append(mesh.Vertices, v)
				shared[v] = idx
			}
			mesh.Indices = append(mesh.Indices, idx)
		}
	}

	mesh.swapYZ()
	return geom, nil
}

func parseMapV2(r *Reader) (*ZoneGeometry, error) {
	var compressedSize, declaredSize uint32
	if err := r.U32s(&compressedSize, &declaredSize); err != nil {
		return nil, fmt.Errorf("%w: reading payload sizes", ErrTruncatedMapData)
	}
	compressed, err := r.Bytes(int(compressedSize))
	if err != nil {
		return nil, fmt.Errorf("%w: reading compressed payload (%d bytes)", ErrTruncatedMapData, compressedSize)
	}

	payload, err := inflate(compressed, declaredSize)
	if err != nil {
		return nil, err
	}

	src, err := DecodeMapV2Payload(payload)
	if err != nil {
		return nil, err
	}
	return src.Bake(), nil
}

// MaxPayloadSize bounds the declared uncompressed size of a V2 payload.
const MaxPayloadSize = 1 << 30

// inflate decompresses a zlib stream and requires exactly declaredSize bytes.
func inflate(compressed []byte, declaredSize uint32) ([]byte, error) {
	if declaredSize > MaxPayloadSize {
		return nil, fmt.Errorf("%w: declared %d bytes exceeds limit", ErrDecompressedSize, declaredSize)
	}
	zr, err := zlib.NewReader(bytes.NewReader(compressed))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecompress, err)
	}
	defer zr.Close()

	out := make([]byte, declaredSize)
	n, err := io.ReadFull(zr, out)
	if err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%w: got %d bytes, declared %d", ErrDecompressedSize, n, declaredSize)
		}
		return nil, fmt.Errorf("%w: %v", ErrDecompress, err)
	}

	// Anything left in the stream means the declared size was too small.
	var extra [1]byte
	if m, _ := zr.Read(extra[:]); m > 0 {
		return nil, fmt.Errorf("%w: payload exceeds declared %d bytes", ErrDecompressedSize, declaredSize)
	}
	return out, nil
}
