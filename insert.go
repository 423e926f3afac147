package grove

import (
	"fmt"
	"slices"
)

// pathEntry records one level of a root-to-leaf descent: the node visited
// and the child index taken out of it.
type pathEntry struct {
	node *node
	idx  int
}

// Insert stores value under key, overwriting any existing entry
// (last-write-wins). The WAL records for every page the mutation touches
// are durable before any page write, per the configured sync mode.
//
// Size limits depend on the tree's order: capacity is counted in entries,
// so the per-entry byte budget is sized at Open so that a full node always
// fits one page. Oversized input fails here, never mid-split.
func (t *Tree) Insert(key, value []byte) error {
	if len(key) == 0 {
		return ErrKeyEmpty
	}
	if len(key) > t.maxKeyLen {
		return fmt.Errorf("key is %d bytes, limit %d at order %d: %w",
			len(key), t.maxKeyLen, t.order, ErrKeyTooLarge)
	}
	if len(value) > MaxValueSize || len(key)+len(value) > t.maxEntryLen {
		return fmt.Errorf("entry is %d bytes, limit %d at order %d: %w",
			len(key)+len(value), t.maxEntryLen, t.order, ErrValueTooLarge)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return ErrTreeClosed
	}

	m := t.newMutation(recordInsert)

	path, leafOrig, err := t.descend(m, key)
	if err != nil {
		m.abort()
		return err
	}

	leaf := m.modify(leafOrig)
	m.targetLeaf = leaf.pageID

	i, found := leaf.locate(t.cmp, key)
	if found {
		leaf.values[i] = append([]byte(nil), value...)
	} else {
		leaf.keys = slices.Insert(leaf.keys, i, append([]byte(nil), key...))
		leaf.values = slices.Insert(leaf.values, i, append([]byte(nil), value...))
	}

	if err := t.splitUpward(m, path, leaf); err != nil {
		m.abort()
		return err
	}

	return m.commit()
}

// descend walks from the root to the leaf responsible for key, recording
// the path for upward propagation.
func (t *Tree) descend(m *mutation, key []byte) ([]pathEntry, *node, error) {
	n, err := m.load(m.rootPageID)
	if err != nil {
		return nil, nil, err
	}

	var path []pathEntry
	for !n.isLeaf {
		if len(n.children) != len(n.keys)+1 {
			return nil, nil, ErrCorruptPage
		}
		i := n.childIndex(t.cmp, key)
		path = append(path, pathEntry{node: n, idx: i})
		n, err = m.load(n.children[i])
		if err != nil {
			return nil, nil, err
		}
	}
	return path, n, nil
}

// splitUpward splits cur while it overflows, inserting separators into
// ancestors along path. A root split allocates a new root and grows the
// tree by one level.
func (t *Tree) splitUpward(m *mutation, path []pathEntry, cur *node) error {
	for cur.overflows(t.order) {
		right, sep := cur.split()
		right.pageID = m.alloc()
		m.dirty[right.pageID] = right
		t.stats.splits.Add(1)

		if cur.isLeaf {
			// Splice the new leaf into the sibling chain.
			right.nextLeaf = cur.nextLeaf
			right.prevLeaf = cur.pageID
			cur.nextLeaf = right.pageID
			if right.nextLeaf != 0 {
				after, err := m.load(right.nextLeaf)
				if err != nil {
					return err
				}
				after = m.modify(after)
				after.prevLeaf = right.pageID
			}
		}

		if len(path) == 0 {
			// The root itself split: allocate a new root one level up.
			root := &node{
				pageID:   m.alloc(),
				keys:     [][]byte{sep},
				children: []PageID{cur.pageID, right.pageID},
			}
			m.dirty[root.pageID] = root
			m.setRoot(root.pageID, m.height+1)
			return nil
		}

		parentEntry := path[len(path)-1]
		path = path[:len(path)-1]

		parent := m.modify(parentEntry.node)
		parent.keys = slices.Insert(parent.keys, parentEntry.idx, sep)
		parent.children = slices.Insert(parent.children, parentEntry.idx+1, right.pageID)
		cur = parent
	}

	return nil
}
