// Package navgraph samples walkable and swimmable positions over a zone and
// connects them into a weighted navigation graph.
package navgraph

import (
	"errors"
	"sort"

	"github.com/Faultbox/midgard-nav/pkg/math"
)

// Navigation graph errors.
var (
	ErrBuildInProgress = errors.New("nav graph build already in progress")
	ErrNoGeometry      = errors.New("zone has no collision geometry")
	ErrCancelled       = errors.New("nav graph build cancelled")
	ErrNoPath          = errors.New("no path between nodes")
	ErrEmptyGraph      = errors.New("nav graph has no nodes")
	ErrGridTooFine     = errors.New("sampling grid too fine for zone bounds")
)

// NodeType tells how an agent moves through a node.
type NodeType uint8

const (
	NodeLand NodeType = iota
	NodeWater
)

func (t NodeType) String() string {
	if t == NodeWater {
		return "Water"
	}
	return "Land"
}

// Connection is a directed edge. Weight is the Euclidean length.
type Connection struct {
	To       *Node
	Weight   float32
	Teleport bool
}

// Node is a sampled position in the graph.
type Node struct {
	ID          int
	Position    math.Vec3
	Type        NodeType
	Connections []Connection
}

// ConnectedTo reports whether n has an edge to other.
func (n *Node) ConnectedTo(other *Node) bool {
	for _, c := range n.Connections {
		if c.To == other {
			return true
		}
	}
	return false
}

func (n *Node) link(other *Node, weight float32) {
	n.Connections = append(n.Connections, Connection{To: other, Weight: weight})
}

// Graph is an immutable navigation graph; nodes are sorted by ID.
type Graph struct {
	Nodes []*Node
}

func newGraph(nodes []*Node) *Graph {
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].ID < nodes[j].ID })
	return &Graph{Nodes: nodes}
}

// Len returns the number of nodes.
func (g *Graph) Len() int {
	if g == nil {
		return 0
	}
	return len(g.Nodes)
}

// Node returns the node with the given ID.
func (g *Graph) Node(id int) (*Node, bool) {
	if g == nil {
		return nil, false
	}
	i := sort.Search(len(g.Nodes), func(i int) bool { return g.Nodes[i].ID >= id })
	if i < len(g.Nodes) && g.Nodes[i].ID == id {
		return g.Nodes[i], true
	}
	return nil, false
}

// Nearest returns the node closest to p.
func (g *Graph) Nearest(p math.Vec3) (*Node, bool) {
	if g.Len() == 0 {
		return nil, false
	}
	var best *Node
	var bestSq float32
	for _, n := range g.Nodes {
		d := n.Position.Sub(p)
		if sq := d.Dot(d); best == nil || sq < bestSq {
			best, bestSq = n, sq
		}
	}
	return best, true
}

// Stats summarises a graph.
type Stats struct {
	Nodes      int     `json:"nodes"`
	LandNodes  int     `json:"land_nodes"`
	WaterNodes int     `json:"water_nodes"`
	Edges      int     `json:"edges"`
	AvgDegree  float32 `json:"avg_degree"`
}

// Stats counts nodes by type and directed edges.
func (g *Graph) Stats() Stats {
	var s Stats
	if g == nil {
		return s
	}
	s.Nodes = len(g.Nodes)
	for _, n := range g.Nodes {
		if n.Type == NodeWater {
			s.WaterNodes++
		} else {
			s.LandNodes++
		}
		s.Edges += len(n.Connections)
	}
	if s.Nodes > 0 {
		s.AvgDegree = float32(s.Edges) / float32(s.Nodes)
	}
	return s
}
