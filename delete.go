package grove

import "slices"

// Delete removes the entry stored under key. Removing an absent key is a
// no-op, not an error.
func (t *Tree) Delete(key []byte) error {
	if len(key) == 0 {
		return ErrKeyEmpty
	}
	if len(key) > t.maxKeyLen {
		return nil // cannot exist
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return ErrTreeClosed
	}

	m := t.newMutation(recordDelete)

	path, leafOrig, err := t.descend(m, key)
	if err != nil {
		m.abort()
		return err
	}

	i, found := leafOrig.locate(t.cmp, key)
	if !found {
		m.abort()
		return nil
	}

	leaf := m.modify(leafOrig)
	m.targetLeaf = leaf.pageID
	leaf.keys = slices.Delete(leaf.keys, i, i+1)
	leaf.values = slices.Delete(leaf.values, i, i+1)

	if err := t.rebalanceUpward(m, path, leaf); err != nil {
		m.abort()
		return err
	}

	return m.commit()
}

// rebalanceUpward restores occupancy along the deletion path: redistribute
// from a sibling with spare capacity first, merge otherwise, exactly
// mirroring how splits propagate on insert. A branch root left with a
// single child is replaced by that child and the tree shrinks one level.
func (t *Tree) rebalanceUpward(m *mutation, path []pathEntry, cur *node) error {
	for len(path) > 0 && cur.underflows(t.order) {
		parentEntry := path[len(path)-1]
		path = path[:len(path)-1]

		parent := m.modify(parentEntry.node)
		idx := parentEntry.idx

		var left, right *node
		var err error
		if idx > 0 {
			left, err = m.load(parent.children[idx-1])
			if err != nil {
				return err
			}
		}
		if idx < len(parent.children)-1 {
			right, err = m.load(parent.children[idx+1])
			if err != nil {
				return err
			}
		}

		switch {
		case left != nil && len(left.keys) > minKeys(t.order):
			t.borrowFromLeft(cur, m.modify(left), parent, idx-1)

		case right != nil && len(right.keys) > minKeys(t.order):
			t.borrowFromRight(cur, m.modify(right), parent, idx)

		case left != nil && cur.canMergeWith(left, t.order):
			if err := t.mergeNodes(m, m.modify(left), cur, parent, idx-1); err != nil {
				return err
			}
			t.stats.merges.Add(1)

		case right != nil && cur.canMergeWith(right, t.order):
			if err := t.mergeNodes(m, cur, m.modify(right), parent, idx); err != nil {
				return err
			}
			t.stats.merges.Add(1)

		default:
			// A non-root node with no viable sibling means the parent's
			// child list is inconsistent.
			return ErrCorruptPage
		}

		cur = parent
	}

	if len(path) == 0 && !cur.isLeaf && len(cur.keys) == 0 {
		// Root collapse: the lone child becomes the new root.
		child := cur.children[0]
		m.setRoot(child, m.height-1)
		m.free(cur)
	}

	return nil
}

// borrowFromLeft moves left's greatest entry into cur through the parent
// separator at sepIdx. All three nodes are this mutation's dirty clones.
func (t *Tree) borrowFromLeft(cur, left, parent *node, sepIdx int) {
	if cur.isLeaf {
		last := len(left.keys) - 1
		cur.keys = slices.Insert(cur.keys, 0, left.keys[last])
		cur.values = slices.Insert(cur.values, 0, left.values[last])
		left.keys = slices.Delete(left.keys, last, last+1)
		left.values = slices.Delete(left.values, last, last+1)

		parent.keys[sepIdx] = append([]byte(nil), cur.keys[0]...)
		return
	}

	// Branch rotation: the separator comes down, left's greatest key goes up.
	lastKey := len(left.keys) - 1
	lastChild := len(left.children) - 1
	cur.keys = slices.Insert(cur.keys, 0, parent.keys[sepIdx])
	cur.children = slices.Insert(cur.children, 0, left.children[lastChild])
	parent.keys[sepIdx] = left.keys[lastKey]
	left.keys = slices.Delete(left.keys, lastKey, lastKey+1)
	left.children = slices.Delete(left.children, lastChild, lastChild+1)
}

// borrowFromRight moves right's least entry into cur through the parent
// separator at sepIdx.
func (t *Tree) borrowFromRight(cur, right, parent *node, sepIdx int) {
	if cur.isLeaf {
		cur.keys = append(cur.keys, right.keys[0])
		cur.values = append(cur.values, right.values[0])
		right.keys = slices.Delete(right.keys, 0, 1)
		right.values = slices.Delete(right.values, 0, 1)

		parent.keys[sepIdx] = append([]byte(nil), right.keys[0]...)
		return
	}

	cur.keys = append(cur.keys, parent.keys[sepIdx])
	cur.children = append(cur.children, right.children[0])
	parent.keys[sepIdx] = right.keys[0]
	right.keys = slices.Delete(right.keys, 0, 1)
	right.children = slices.Delete(right.children, 0, 1)
}

// mergeNodes absorbs right into left, removes the separator at sepIdx from
// the parent, and frees right's page. For leaves the sibling chain is
// respliced; for branches the separator comes down between the two halves.
func (t *Tree) mergeNodes(m *mutation, left, right, parent *node, sepIdx int) error {
	if left.isLeaf {
		left.keys = append(left.keys, right.keys...)
		left.values = append(left.values, right.values...)

		left.nextLeaf = right.nextLeaf
		if right.nextLeaf != 0 {
			after, err := m.load(right.nextLeaf)
			if err != nil {
				return err
			}
			after = m.modify(after)
			after.prevLeaf = left.pageID
		}
	} else {
		left.keys = append(left.keys, parent.keys[sepIdx])
		left.keys = append(left.keys, right.keys...)
		left.children = append(left.children, right.children...)
	}

	parent.keys = slices.Delete(parent.keys, sepIdx, sepIdx+1)
	parent.children = slices.Delete(parent.children, sepIdx+1, sepIdx+2)

	m.free(right)
	return nil
}
