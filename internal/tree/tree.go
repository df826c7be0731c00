package tree

import (
	"fmt"

	"kataigo/internal/domain/game"
)

// Nodes live in an arena and are addressed by index, never by pointer.
// Pruning reclaims indices in bulk, and anything still holding a path into a
// pruned subtree fails a cheap liveness check instead of dangling.

type NodeID int32

const nilNode NodeID = -1

// Ref names a node together with the allocation stamp it was created under,
// so a reclaimed-and-reused slot is never mistaken for the node a stale path
// pointed at.
type Ref struct {
	ID    NodeID
	Stamp uint32
}

var NilRef = Ref{ID: nilNode}

// EdgePrior seeds one child edge at expansion time.
type EdgePrior struct {
	Vertex game.Vertex
	Prior  float64
}

type node struct {
	alive      bool
	stamp      uint32
	parent     NodeID
	move       game.Move  // the move that led here; zero value for the root
	toMove     game.Color // player to move at this position
	prior      float64
	visits     int
	totalValue float64 // sum of backpropagated values, from toMove's perspective
	pending    int     // in-flight evaluations touching this subtree
	expanded   bool
	terminal   bool
	children   []NodeID
}

type Tree struct {
	nodes     []node
	free      []NodeID
	root      NodeID
	nextStamp uint32
	live      int
}

// New creates a tree holding a single unexpanded root for the given player
// to move.
func New(toMove game.Color) *Tree {
	t := &Tree{root: nilNode}
	t.root = t.alloc(node{parent: nilNode, toMove: toMove, prior: 1})
	return t
}

func (t *Tree) alloc(n node) NodeID {
	t.nextStamp++
	n.alive = true
	n.stamp = t.nextStamp
	t.live++
	if len(t.free) > 0 {
		id := t.free[len(t.free)-1]
		t.free = t.free[:len(t.free)-1]
		t.nodes[id] = n
		return id
	}
	t.nodes = append(t.nodes, n)
	return NodeID(len(t.nodes) - 1)
}

func (t *Tree) reclaim(id NodeID) {
	t.nodes[id] = node{}
	t.free = append(t.free, id)
	t.live--
}

func (t *Tree) at(r Ref) *node {
	if r.ID < 0 || int(r.ID) >= len(t.nodes) {
		panic(fmt.Sprintf("node id %d out of range", r.ID))
	}
	return &t.nodes[r.ID]
}

// Alive reports whether the ref still names a live node of this tree.
func (t *Tree) Alive(r Ref) bool {
	if r.ID < 0 || int(r.ID) >= len(t.nodes) {
		return false
	}
	n := t.nodes[r.ID]
	return n.alive && n.stamp == r.Stamp
}

func (t *Tree) refOf(id NodeID) Ref {
	return Ref{ID: id, Stamp: t.nodes[id].stamp}
}

func (t *Tree) Root() Ref { return t.refOf(t.root) }

func (t *Tree) LiveCount() int { return t.live }

// Expand populates the node's edges, one child per entry, with priors from a
// completed evaluation. Expanding the same live node twice is a programming
// error and panics; expanding a reclaimed node is a stale completion and a
// no-op.
func (t *Tree) Expand(r Ref, priors []EdgePrior) bool {
	if !t.Alive(r) {
		return false
	}
	n := t.at(r)
	if n.expanded {
		panic(fmt.Sprintf("node %d expanded twice", r.ID))
	}
	if n.terminal {
		return false
	}
	childColor := n.toMove.Opponent()
	n.children = make([]NodeID, 0, len(priors))
	for _, p := range priors {
		child := t.alloc(node{
			parent: r.ID,
			move:   game.Move{Color: n.toMove, Vertex: p.Vertex},
			toMove: childColor,
			prior:  p.Prior,
		})
		// alloc may grow the arena; refetch.
		n = t.at(r)
		n.children = append(n.children, child)
	}
	n.expanded = true
	return true
}

func (t *Tree) MarkTerminal(r Ref) {
	if t.Alive(r) {
		t.at(r).terminal = true
	}
}

// AddVirtualLoss bumps the pending count along the path so concurrent
// selections spread out instead of piling onto the same leaf.
func (t *Tree) AddVirtualLoss(path []Ref) {
	for _, r := range path {
		if t.Alive(r) {
			t.at(r).pending++
		}
	}
}

// ReleaseVirtualLoss undoes AddVirtualLoss for a path whose evaluation
// failed or was abandoned.
func (t *Tree) ReleaseVirtualLoss(path []Ref) {
	for _, r := range path {
		if t.Alive(r) && t.at(r).pending > 0 {
			t.at(r).pending--
		}
	}
}

// Backpropagate adds one visit and the evaluation value to every node on the
// path, releasing the virtual loss as it goes. The value is from the
// perspective of the player to move at the leaf and flips sign each ply up.
// If any node on the path was reclaimed the statistics are left untouched
// and only the virtual loss on the survivors is released.
func (t *Tree) Backpropagate(path []Ref, value float64) bool {
	for _, r := range path {
		if !t.Alive(r) {
			t.ReleaseVirtualLoss(path)
			return false
		}
	}
	sign := 1.0
	if (len(path)-1)%2 == 1 {
		sign = -1.0
	}
	// sign now corresponds to path[0]; walking down flips it back to +1 at
	// the leaf.
	for _, r := range path {
		n := t.at(r)
		n.visits++
		n.totalValue += sign * value
		if n.pending > 0 {
			n.pending--
		}
		sign = -sign
	}
	return true
}

// Reroot makes the given node the new root and reclaims everything no longer
// reachable from it. Pending evaluations into reclaimed subtrees die at the
// liveness check.
func (t *Tree) Reroot(r Ref) error {
	if !t.Alive(r) {
		return fmt.Errorf("reroot target %d is not alive", r.ID)
	}
	keep := make(map[NodeID]bool, t.live)
	stack := []NodeID{r.ID}
	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if keep[id] {
			continue
		}
		keep[id] = true
		stack = append(stack, t.nodes[id].children...)
	}
	for id := range t.nodes {
		if t.nodes[id].alive && !keep[NodeID(id)] {
			t.reclaim(NodeID(id))
		}
	}
	t.root = r.ID
	t.nodes[r.ID].parent = nilNode
	return nil
}

// Child returns the root-ward node's child reached by playing at the vertex,
// or NilRef.
func (t *Tree) Child(r Ref, v game.Vertex) Ref {
	if !t.Alive(r) {
		return NilRef
	}
	for _, id := range t.at(r).children {
		if t.nodes[id].move.Vertex == v {
			return t.refOf(id)
		}
	}
	return NilRef
}

func (t *Tree) Children(r Ref) []Ref {
	if !t.Alive(r) {
		return nil
	}
	ids := t.at(r).children
	out := make([]Ref, 0, len(ids))
	for _, id := range ids {
		out = append(out, t.refOf(id))
	}
	return out
}

func (t *Tree) Visits(r Ref) int {
	if !t.Alive(r) {
		return 0
	}
	return t.at(r).visits
}

// Mean is the average backpropagated value from the perspective of the
// player to move at the node. Zero before the first visit.
func (t *Tree) Mean(r Ref) float64 {
	if !t.Alive(r) {
		return 0
	}
	n := t.at(r)
	if n.visits == 0 {
		return 0
	}
	return n.totalValue / float64(n.visits)
}

func (t *Tree) Prior(r Ref) float64 {
	if !t.Alive(r) {
		return 0
	}
	return t.at(r).prior
}

func (t *Tree) Pending(r Ref) int {
	if !t.Alive(r) {
		return 0
	}
	return t.at(r).pending
}

func (t *Tree) Expanded(r Ref) bool {
	if !t.Alive(r) {
		return false
	}
	return t.at(r).expanded
}

func (t *Tree) Terminal(r Ref) bool {
	if !t.Alive(r) {
		return false
	}
	return t.at(r).terminal
}

func (t *Tree) ToMove(r Ref) game.Color {
	if !t.Alive(r) {
		return game.Empty
	}
	return t.at(r).toMove
}

// MoveInto is the move that led from the parent into this node.
func (t *Tree) MoveInto(r Ref) game.Move {
	if !t.Alive(r) {
		return game.Move{}
	}
	return t.at(r).move
}
