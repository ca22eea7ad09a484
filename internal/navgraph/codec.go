package navgraph

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/Faultbox/midgard-nav/pkg/formats"
)

// ErrCorruptGraph is returned when decoding malformed graph bytes.
var ErrCorruptGraph = errors.New("corrupt nav graph data")

const (
	graphMagic   = "NAVG"
	graphVersion = uint16(1)
)

// MarshalBinary encodes the graph. Connections are stored by target ID.
func (g *Graph) MarshalBinary() ([]byte, error) {
	buf := new(bytes.Buffer)
	le := binary.LittleEndian

	buf.WriteString(graphMagic)
	binary.Write(buf, le, graphVersion)
	binary.Write(buf, le, uint32(g.Len()))

	for _, n := range g.Nodes {
		binary.Write(buf, le, uint32(n.ID))
		buf.WriteByte(byte(n.Type))
		binary.Write(buf, le, n.Position)
		binary.Write(buf, le, uint32(len(n.Connections)))
		for _, c := range n.Connections {
			binary.Write(buf, le, uint32(c.To.ID))
			binary.Write(buf, le, c.Weight)
			if c.Teleport {
				buf.WriteByte(1)
			} else {
				buf.WriteByte(0)
			}
		}
	}
	return buf.Bytes(), nil
}

// per-node and per-connection minimum sizes
const (
	nodeRecordSize = 4 + 1 + 12 + 4
	connRecordSize = 4 + 4 + 1
)

// UnmarshalGraph decodes bytes written by MarshalBinary.
func UnmarshalGraph(data []byte) (*Graph, error) {
	r := formats.NewReader(data)

	magic, err := r.Bytes(len(graphMagic))
	if err != nil || string(magic) != graphMagic {
		return nil, fmt.Errorf("%w: bad magic", ErrCorruptGraph)
	}
	version, err := r.U16()
	if err != nil {
		return nil, fmt.Errorf("%w: reading version", ErrCorruptGraph)
	}
	if version != graphVersion {
		return nil, fmt.Errorf("%w: unsupported version %d", ErrCorruptGraph, version)
	}
	count, err := r.U32()
	if err != nil {
		return nil, fmt.Errorf("%w: reading node count", ErrCorruptGraph)
	}
	if uint64(count)*nodeRecordSize > uint64(r.Remaining()) {
		return nil, fmt.Errorf("%w: %d nodes exceed data size", ErrCorruptGraph, count)
	}

	type pending struct {
		to       uint32
		weight   float32
		teleport bool
	}
	nodes := make([]*Node, count)
	edges := make([][]pending, count)
	byID := make(map[uint32]*Node, count)

	for i := range nodes {
		id, err := r.U32()
		if err != nil {
			return nil, fmt.Errorf("%w: reading node %d", ErrCorruptGraph, i)
		}
		typ, err := r.U8()
		if err != nil {
			return nil, fmt.Errorf("%w: reading node %d type", ErrCorruptGraph, i)
		}
		pos, err := r.Vec3()
		if err != nil {
			return nil, fmt.Errorf("%w: reading node %d position", ErrCorruptGraph, i)
		}
		conns, err := r.U32()
		if err != nil {
			return nil, fmt.Errorf("%w: reading node %d connection count", ErrCorruptGraph, i)
		}
		if uint64(conns)*connRecordSize > uint64(r.Remaining()) {
			return nil, fmt.Errorf("%w: node %d connections exceed data size", ErrCorruptGraph, i)
		}

		edges[i] = make([]pending, conns)
		for j := range edges[i] {
			e := &edges[i][j]
			if e.to, err = r.U32(); err != nil {
				return nil, fmt.Errorf("%w: reading node %d connection %d", ErrCorruptGraph, i, j)
			}
			if e.weight, err = r.F32(); err != nil {
				return nil, fmt.Errorf("%w: reading node %d connection %d", ErrCorruptGraph, i, j)
			}
			tp, err := r.U8()
			if err != nil {
				return nil, fmt.Errorf("%w: reading node %d connection %d", ErrCorruptGraph, i, j)
			}
			e.teleport = tp != 0
		}

		n := &Node{ID: int(id), Position: pos, Type: NodeType(typ)}
		if _, dup := byID[id]; dup {
			return nil, fmt.Errorf("%w: duplicate node id %d", ErrCorruptGraph, id)
		}
		byID[id] = n
		nodes[i] = n
	}

	for i, n := range nodes {
		n.Connections = make([]Connection, 0, len(edges[i]))
		for _, e := range edges[i] {
			to, ok := byID[e.to]
			if !ok {
				return nil, fmt.Errorf("%w: node %d links to unknown node %d", ErrCorruptGraph, n.ID, e.to)
			}
			n.Connections = append(n.Connections, Connection{To: to, Weight: e.weight, Teleport: e.teleport})
		}
	}
	return newGraph(nodes), nil
}
