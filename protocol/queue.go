package protocol

import "github.com/holiman/uint256"

// Node is one entry of an ordered queue. Prev and Next hold safe ids, zero
// meaning none.
type Node struct {
	Value *uint256.Int
	Prev  uint64
	Next  uint64
}

// OrderedList is a doubly-linked list over safe ids kept sorted by a ranking
// value. The liquidation queue sorts descending so the riskiest safe sits at
// the tail; the redemption queue sorts ascending so the next safe to redeem
// sits at the head. Ties insert after existing equal entries.
type OrderedList struct {
	ascending bool
	head      uint64
	tail      uint64
	nodes     map[uint64]*Node
}

// NewOrderedList returns an empty list with the given sort direction.
func NewOrderedList(ascending bool) *OrderedList {
	return &OrderedList{ascending: ascending, nodes: make(map[uint64]*Node)}
}

// Len returns the number of members.
func (l *OrderedList) Len() int { return len(l.nodes) }

// Head returns the first safe id, zero when empty.
func (l *OrderedList) Head() uint64 { return l.head }

// Tail returns the last safe id, zero when empty.
func (l *OrderedList) Tail() uint64 { return l.tail }

// Contains reports membership of a safe id.
func (l *OrderedList) Contains(id uint64) bool {
	_, ok := l.nodes[id]
	return ok
}

// Value returns the ranking value stored for id, nil when absent.
func (l *OrderedList) Value(id uint64) *uint256.Int {
	if n, ok := l.nodes[id]; ok {
		return n.Value.Clone()
	}
	return nil
}

// Upsert inserts id with the given ranking value, or re-ranks it when it is
// already a member.
func (l *OrderedList) Upsert(id uint64, value *uint256.Int) {
	if id == 0 || value == nil {
		return
	}
	l.Remove(id)
	node := &Node{Value: value.Clone()}
	l.nodes[id] = node

	if l.head == 0 {
		l.head = id
		l.tail = id
		return
	}

	// Walk from the head until the first member that must come after id.
	cursor := l.head
	for cursor != 0 {
		cur := l.nodes[cursor]
		if l.before(node.Value, cur.Value) {
			break
		}
		cursor = cur.Next
	}

	if cursor == 0 {
		// New tail.
		node.Prev = l.tail
		l.nodes[l.tail].Next = id
		l.tail = id
		return
	}
	cur := l.nodes[cursor]
	node.Next = cursor
	node.Prev = cur.Prev
	if cur.Prev == 0 {
		l.head = id
	} else {
		l.nodes[cur.Prev].Next = id
	}
	cur.Prev = id
}

// Remove drops id from the list; no-op when absent.
func (l *OrderedList) Remove(id uint64) {
	node, ok := l.nodes[id]
	if !ok {
		return
	}
	if node.Prev == 0 {
		l.head = node.Next
	} else {
		l.nodes[node.Prev].Next = node.Next
	}
	if node.Next == 0 {
		l.tail = node.Prev
	} else {
		l.nodes[node.Next].Prev = node.Prev
	}
	delete(l.nodes, id)
}

// Nodes returns a deep copy of the node table.
func (l *OrderedList) Nodes() map[uint64]Node {
	out := make(map[uint64]Node, len(l.nodes))
	for id, n := range l.nodes {
		out[id] = Node{Value: n.Value.Clone(), Prev: n.Prev, Next: n.Next}
	}
	return out
}

// before reports whether a sorts strictly ahead of b for this list.
func (l *OrderedList) before(a, b *uint256.Int) bool {
	if l.ascending {
		return a.Lt(b)
	}
	return a.Gt(b)
}
