package protocol

import (
	"testing"

	"github.com/holiman/uint256"
)

func chain(t *testing.T, l *OrderedList) []uint64 {
	t.Helper()
	var out []uint64
	nodes := l.Nodes()
	for id := l.Head(); id != 0; {
		node, ok := nodes[id]
		if !ok {
			t.Fatalf("chain reaches %d which is not a member", id)
		}
		out = append(out, id)
		if len(out) > l.Len() {
			t.Fatalf("chain longer than member count %d", l.Len())
		}
		id = node.Next
	}
	return out
}

func requireOrder(t *testing.T, l *OrderedList, want ...uint64) {
	t.Helper()
	got := chain(t, l)
	if len(got) != len(want) {
		t.Fatalf("order: got %v want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("order: got %v want %v", got, want)
		}
	}
	if len(want) == 0 {
		if l.Head() != 0 || l.Tail() != 0 {
			t.Fatalf("empty list pointers: head=%d tail=%d", l.Head(), l.Tail())
		}
		return
	}
	if l.Head() != want[0] || l.Tail() != want[len(want)-1] {
		t.Fatalf("pointers: head=%d tail=%d want head=%d tail=%d",
			l.Head(), l.Tail(), want[0], want[len(want)-1])
	}
}

func TestOrderedListAscending(t *testing.T) {
	l := NewOrderedList(true)
	l.Upsert(1, uint256.NewInt(30))
	l.Upsert(2, uint256.NewInt(10))
	l.Upsert(3, uint256.NewInt(20))
	requireOrder(t, l, 2, 3, 1)
}

func TestOrderedListDescending(t *testing.T) {
	l := NewOrderedList(false)
	l.Upsert(1, uint256.NewInt(30))
	l.Upsert(2, uint256.NewInt(10))
	l.Upsert(3, uint256.NewInt(20))
	requireOrder(t, l, 1, 3, 2)
}

func TestOrderedListTiesInsertAfterEquals(t *testing.T) {
	l := NewOrderedList(true)
	l.Upsert(1, uint256.NewInt(10))
	l.Upsert(2, uint256.NewInt(10))
	l.Upsert(3, uint256.NewInt(10))
	requireOrder(t, l, 1, 2, 3)
}

func TestOrderedListUpsertReRanks(t *testing.T) {
	l := NewOrderedList(true)
	l.Upsert(1, uint256.NewInt(10))
	l.Upsert(2, uint256.NewInt(20))
	l.Upsert(3, uint256.NewInt(30))

	l.Upsert(1, uint256.NewInt(40))
	requireOrder(t, l, 2, 3, 1)

	l.Upsert(3, uint256.NewInt(5))
	requireOrder(t, l, 3, 2, 1)

	if got := l.Value(3); !got.Eq(uint256.NewInt(5)) {
		t.Fatalf("re-ranked value: got %s want 5", got)
	}
}

func TestOrderedListRemove(t *testing.T) {
	l := NewOrderedList(true)
	l.Upsert(1, uint256.NewInt(10))
	l.Upsert(2, uint256.NewInt(20))
	l.Upsert(3, uint256.NewInt(30))

	l.Remove(2)
	requireOrder(t, l, 1, 3)
	l.Remove(1)
	requireOrder(t, l, 3)
	l.Remove(3)
	requireOrder(t, l)

	// Removing an absent id is a no-op.
	l.Remove(99)
	requireOrder(t, l)
}

func TestOrderedListBackLinks(t *testing.T) {
	l := NewOrderedList(true)
	l.Upsert(1, uint256.NewInt(10))
	l.Upsert(2, uint256.NewInt(20))
	l.Upsert(3, uint256.NewInt(15))

	nodes := l.Nodes()
	prev := uint64(0)
	for id := l.Head(); id != 0; {
		node := nodes[id]
		if node.Prev != prev {
			t.Fatalf("back link of %d: got %d want %d", id, node.Prev, prev)
		}
		prev = id
		id = node.Next
	}
	if l.Tail() != prev {
		t.Fatalf("tail: got %d want %d", l.Tail(), prev)
	}
}
