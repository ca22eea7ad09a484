package navgraph

import (
	"container/heap"

	"github.com/Faultbox/midgard-nav/pkg/math"
)

// pathNode is A* bookkeeping for one graph node.
type pathNode struct {
	node   *Node
	g      float32 // Cost from start
	f      float32 // g + heuristic
	parent *pathNode
	index  int // Index in heap
	closed bool
}

// pathHeap implements a priority queue for A*.
type pathHeap []*pathNode

func (h pathHeap) Len() int           { return len(h) }
func (h pathHeap) Less(i, j int) bool { return h[i].f < h[j].f }
func (h pathHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *pathHeap) Push(x any) {
	n := len(*h)
	node := x.(*pathNode)
	node.index = n
	*h = append(*h, node)
}

func (h *pathHeap) Pop() any {
	old := *h
	n := len(old)
	node := old[n-1]
	old[n-1] = nil
	node.index = -1
	*h = old[0 : n-1]
	return node
}

// FindPath snaps from and to onto their nearest nodes and returns the
// cheapest node sequence between them.
func (g *Graph) FindPath(from, to math.Vec3) ([]*Node, error) {
	start, ok := g.Nearest(from)
	if !ok {
		return nil, ErrEmptyGraph
	}
	goal, _ := g.Nearest(to)
	return g.FindNodePath(start, goal)
}

// FindNodePath runs A* with a straight-line heuristic. Edge weights are
// Euclidean, so the heuristic is admissible.
func (g *Graph) FindNodePath(start, goal *Node) ([]*Node, error) {
	if start == goal {
		return []*Node{start}, nil
	}

	openSet := &pathHeap{}
	heap.Init(openSet)
	visited := make(map[*Node]*pathNode)

	first := &pathNode{node: start, f: start.Position.Distance(goal.Position)}
	heap.Push(openSet, first)
	visited[start] = first

	for openSet.Len() > 0 {
		current := heap.Pop(openSet).(*pathNode)
		if current.node == goal {
			return reconstructPath(current), nil
		}
		current.closed = true

		for _, c := range current.node.Connections {
			cost := current.g + c.Weight

			neighbor, exists := visited[c.To]
			if !exists {
				neighbor = &pathNode{
					node:   c.To,
					g:      cost,
					f:      cost + c.To.Position.Distance(goal.Position),
					parent: current,
				}
				visited[c.To] = neighbor
				heap.Push(openSet, neighbor)
			} else if !neighbor.closed && cost < neighbor.g {
				// Found better path
				neighbor.f += cost - neighbor.g
				neighbor.g = cost
				neighbor.parent = current
				heap.Fix(openSet, neighbor.index)
			}
		}
	}

	return nil, ErrNoPath
}

func reconstructPath(n *pathNode) []*Node {
	var path []*Node
	for n != nil {
		path = append(path, n.node)
		n = n.parent
	}
	// Reverse path (it's built from goal to start)
	for i, j := 0, len(path)-1; i < j; i, j = i+1, j-1 {
		path[i], path[j] = path[j], path[i]
	}
	return path
}

// PathLength sums the distances along a node path.
func PathLength(path []*Node) float32 {
	var total float32
	for i := 1; i < len(path); i++ {
		total += path[i-1].Position.Distance(path[i].Position)
	}
	return total
}
