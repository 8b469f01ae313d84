package index

import (
	"EmberDB/types"
	"fmt"
	"sort"
)

/*
BPlusTree is the durable row index: row id keys, page id values, all
values in the leaves, leaves linked left to right for range scans.

Minimum degree t bounds node size: every node holds at most 2t-1 keys,
non-root nodes at least t-1. Splits are pre-emptive on the way down, so
an insert never backtracks. Leaf splits copy the median key up, leaving
it as the first key of the right leaf; internal splits move the median
up as in a B-tree.
*/

type node struct {
	leaf     bool
	keys     []types.RowId
	vals     []types.PageId // leaf only, parallel to keys
	children []*node        // internal only, len(keys)+1
	next     *node          // leaf sibling link
}

type BPlusTree struct {
	t    int
	root *node
	size int
}

// NewBPlusTree returns an empty tree with minimum degree t. t must be
// at least 2.
func NewBPlusTree(t int) *BPlusTree {
	if t < 2 {
		panic(fmt.Sprintf("bplustree: minimum degree %d < 2", t))
	}
	return &BPlusTree{t: t, root: &node{leaf: true}}
}

// LoadBPlusTree rebuilds a tree from a serialized index blob.
func LoadBPlusTree(t int, data []byte) (*BPlusTree, error) {
	entries, err := decodeEntries(data)
	if err != nil {
		return nil, err
	}
	tree := NewBPlusTree(t)
	for _, e := range entries {
		tree.Put(e.RowID, e.PageID)
	}
	return tree, nil
}

func (bt *BPlusTree) Len() int {
	return bt.size
}

// childIndex returns the index of the child to descend into. Keys equal
// to a separator live in the right subtree.
func (n *node) childIndex(key types.RowId) int {
	return sort.Search(len(n.keys), func(i int) bool { return key < n.keys[i] })
}

func (n *node) full(t int) bool {
	return len(n.keys) == 2*t-1
}

func (bt *BPlusTree) Get(rowID types.RowId) (types.PageId, bool) {
	n := bt.root
	for !n.leaf {
		n = n.children[n.childIndex(rowID)]
	}
	i := sort.Search(len(n.keys), func(i int) bool { return n.keys[i] >= rowID })
	if i < len(n.keys) && n.keys[i] == rowID {
		return n.vals[i], true
	}
	return 0, false
}

func (bt *BPlusTree) Put(rowID types.RowId, pageID types.PageId) {
	if bt.root.full(bt.t) {
		newRoot := &node{children: []*node{bt.root}}
		newRoot.splitChild(0, bt.t)
		bt.root = newRoot
	}
	bt.insertNonFull(bt.root, rowID, pageID)
}

func (bt *BPlusTree) insertNonFull(n *node, key types.RowId, val types.PageId) {
	for !n.leaf {
		i := n.childIndex(key)
		if n.children[i].full(bt.t) {
			n.splitChild(i, bt.t)
			if key >= n.keys[i] {
				i++
			}
		}
		n = n.children[i]
	}
	i := sort.Search(len(n.keys), func(i int) bool { return n.keys[i] >= key })
	if i < len(n.keys) && n.keys[i] == key {
		n.vals[i] = val
		return
	}
	n.keys = append(n.keys, 0)
	n.vals = append(n.vals, 0)
	copy(n.keys[i+1:], n.keys[i:])
	copy(n.vals[i+1:], n.vals[i:])
	n.keys[i] = key
	n.vals[i] = val
	bt.size++
}

// splitChild splits the full child at index i into two nodes and lifts
// a separator into n.
func (n *node) splitChild(i, t int) {
	child := n.children[i]
	mid := t - 1
	var sep types.RowId
	var right *node
	if child.leaf {
		right = &node{
			leaf: true,
			keys: append([]types.RowId(nil), child.keys[mid:]...),
			vals: append([]types.PageId(nil), child.vals[mid:]...),
			next: child.next,
		}
		child.keys = child.keys[:mid]
		child.vals = child.vals[:mid]
		child.next = right
		sep = right.keys[0]
	} else {
		sep = child.keys[mid]
		right = &node{
			keys:     append([]types.RowId(nil), child.keys[mid+1:]...),
			children: append([]*node(nil), child.children[mid+1:]...),
		}
		child.keys = child.keys[:mid]
		child.children = child.children[:mid+1]
	}
	n.keys = append(n.keys, 0)
	copy(n.keys[i+1:], n.keys[i:])
	n.keys[i] = sep
	n.children = append(n.children, nil)
	copy(n.children[i+2:], n.children[i+1:])
	n.children[i+1] = right
}

func (bt *BPlusTree) Delete(rowID types.RowId) bool {
	deleted := bt.delete(bt.root, rowID)
	if !bt.root.leaf && len(bt.root.keys) == 0 {
		bt.root = bt.root.children[0]
	}
	if deleted {
		bt.size--
	}
	return deleted
}

func (bt *BPlusTree) delete(n *node, key types.RowId) bool {
	if n.leaf {
		i := sort.Search(len(n.keys), func(i int) bool { return n.keys[i] >= key })
		if i >= len(n.keys) || n.keys[i] != key {
			return false
		}
		n.keys = append(n.keys[:i], n.keys[i+1:]...)
		n.vals = append(n.vals[:i], n.vals[i+1:]...)
		return true
	}
	i := n.childIndex(key)
	deleted := bt.delete(n.children[i], key)
	if len(n.children[i].keys) < bt.t-1 {
		bt.fixUnderflow(n, i)
	} else if i > 0 && len(n.children[i].keys) > 0 {
		// The deleted key may have been the separator copy.
		n.keys[i-1] = minKey(n.children[i])
	}
	return deleted
}

// fixUnderflow restores the minimum key count of child i by borrowing
// from a sibling or merging with one.
func (bt *BPlusTree) fixUnderflow(n *node, i int) {
	child := n.children[i]
	if i > 0 && len(n.children[i-1].keys) > bt.t-1 {
		left := n.children[i-1]
		last := len(left.keys) - 1
		if child.leaf {
			child.keys = append([]types.RowId{left.keys[last]}, child.keys...)
			child.vals = append([]types.PageId{left.vals[last]}, child.vals...)
			left.keys = left.keys[:last]
			left.vals = left.vals[:last]
			n.keys[i-1] = child.keys[0]
		} else {
			child.keys = append([]types.RowId{n.keys[i-1]}, child.keys...)
			child.children = append([]*node{left.children[last+1]}, child.children...)
			n.keys[i-1] = left.keys[last]
			left.keys = left.keys[:last]
			left.children = left.children[:last+1]
		}
		return
	}
	if i < len(n.children)-1 && len(n.children[i+1].keys) > bt.t-1 {
		right := n.children[i+1]
		if child.leaf {
			child.keys = append(child.keys, right.keys[0])
			child.vals = append(child.vals, right.vals[0])
			right.keys = right.keys[1:]
			right.vals = right.vals[1:]
			n.keys[i] = right.keys[0]
		} else {
			child.keys = append(child.keys, n.keys[i])
			child.children = append(child.children, right.children[0])
			n.keys[i] = right.keys[0]
			right.keys = right.keys[1:]
			right.children = right.children[1:]
		}
		return
	}
	// No sibling can lend; merge with one.
	if i == len(n.children)-1 {
		i--
		child = n.children[i]
	}
	right := n.children[i+1]
	if child.leaf {
		child.keys = append(child.keys, right.keys...)
		child.vals = append(child.vals, right.vals...)
		child.next = right.next
	} else {
		child.keys = append(child.keys, n.keys[i])
		child.keys = append(child.keys, right.keys...)
		child.children = append(child.children, right.children...)
	}
	n.keys = append(n.keys[:i], n.keys[i+1:]...)
	n.children = append(n.children[:i+1], n.children[i+2:]...)
}

func minKey(n *node) types.RowId {
	for !n.leaf {
		n = n.children[0]
	}
	return n.keys[0]
}

// Range walks the leaf chain from lo, collecting entries through hi
// inclusive.
func (bt *BPlusTree) Range(lo, hi types.RowId) []Entry {
	var out []Entry
	if hi < lo {
		return out
	}
	n := bt.root
	for !n.leaf {
		n = n.children[n.childIndex(lo)]
	}
	for n != nil {
		for i, k := range n.keys {
			if k < lo {
				continue
			}
			if k > hi {
				return out
			}
			out = append(out, Entry{RowID: k, PageID: n.vals[i]})
		}
		n = n.next
	}
	return out
}

func (bt *BPlusTree) Serialize() ([]byte, error) {
	entries := make([]Entry, 0, bt.size)
	n := bt.root
	for !n.leaf {
		n = n.children[0]
	}
	for n != nil {
		for i, k := range n.keys {
			entries = append(entries, Entry{RowID: k, PageID: n.vals[i]})
		}
		n = n.next
	}
	return encodeEntries(entries)
}
