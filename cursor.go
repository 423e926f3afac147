package grove

// Cursor is a positional handle for ordered, range-bounded iteration over
// leaf records. It tracks a leaf page and a slot index, advancing through
// the leaf sibling chain in its scan direction.
//
// A Cursor observes the tree by key, not by position: if a split or merge
// restructures the tree mid-iteration, raw leaf/slot positions are stale
// and continued advancement is undefined. The supported pattern is to
// Seek to the last returned key and continue from there.
type Cursor struct {
	tree    *Tree
	reverse bool

	// Inclusive bounds; nil means open on that side.
	start []byte
	end   []byte

	leafID PageID
	idx    int

	key   []byte
	value []byte
	valid bool
}

// Range returns a forward cursor over [start, end], both bounds inclusive
// and either one nil for an open end. The cursor is positioned on the
// first entry in range; check Valid before reading it.
func (t *Tree) Range(start, end []byte) (*Cursor, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if t.closed {
		return nil, ErrTreeClosed
	}

	c := &Cursor{tree: t, start: start, end: end}
	if err := c.seekForward(start); err != nil {
		return nil, err
	}
	return c, nil
}

// RangeReverse returns a descending cursor over the same inclusive
// [start, end] range, positioned on the last entry in range.
func (t *Tree) RangeReverse(start, end []byte) (*Cursor, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if t.closed {
		return nil, ErrTreeClosed
	}

	c := &Cursor{tree: t, reverse: true, start: start, end: end}
	if err := c.seekReverse(end); err != nil {
		return nil, err
	}
	return c, nil
}

// Valid reports whether the cursor is positioned on an entry. Once false
// the cursor stays invalid until a successful Seek.
func (c *Cursor) Valid() bool {
	return c.valid
}

// Key returns the current key. The slice is the cursor's copy; it is not
// aliased by tree pages and survives later mutations.
func (c *Cursor) Key() []byte {
	if !c.valid {
		return nil
	}
	return c.key
}

// Value returns the current value, same ownership as Key.
func (c *Cursor) Value() []byte {
	if !c.valid {
		return nil
	}
	return c.value
}

// Next advances one entry in the cursor's direction, following the leaf
// sibling link past the end of the current leaf. The cursor becomes
// invalid when the range bound is exceeded or the chain ends.
func (c *Cursor) Next() error {
	if !c.valid {
		return nil
	}

	t := c.tree
	t.mu.RLock()
	defer t.mu.RUnlock()

	if t.closed {
		c.valid = false
		return ErrTreeClosed
	}

	leaf, err := t.loadNode(c.leafID)
	if err != nil {
		c.valid = false
		return err
	}

	if c.reverse {
		return c.stepBackward(leaf, c.idx-1)
	}
	return c.stepForward(leaf, c.idx+1)
}

// Seek repositions the cursor at key: the first entry >= key going
// forward, the last entry <= key going in reverse. This is the recovery
// path after a structural change invalidated the raw position.
func (c *Cursor) Seek(key []byte) error {
	t := c.tree
	t.mu.RLock()
	defer t.mu.RUnlock()

	if t.closed {
		c.valid = false
		return ErrTreeClosed
	}

	if c.reverse {
		return c.seekReverse(key)
	}
	return c.seekForward(key)
}

// seekForward positions at the first entry >= key, or the first entry of
// the tree when key is nil. Caller holds the shared lock.
func (c *Cursor) seekForward(key []byte) error {
	t := c.tree
	c.valid = false

	var leaf *node
	var idx int
	var err error

	if key == nil {
		leaf, err = t.edgeLeaf(false)
		if err != nil {
			return err
		}
		idx = 0
	} else {
		leaf, err = t.findLeaf(key)
		if err != nil {
			return err
		}
		idx, _ = leaf.locate(t.cmp, key)
	}

	return c.stepForward(leaf, idx)
}

// seekReverse positions at the last entry <= key, or the last entry of
// the tree when key is nil.
func (c *Cursor) seekReverse(key []byte) error {
	t := c.tree
	c.valid = false

	var leaf *node
	var idx int
	var err error

	if key == nil {
		leaf, err = t.edgeLeaf(true)
		if err != nil {
			return err
		}
		idx = len(leaf.keys) - 1
	} else {
		leaf, err = t.findLeaf(key)
		if err != nil {
			return err
		}
		i, found := leaf.locate(t.cmp, key)
		if found {
			idx = i
		} else {
			idx = i - 1
		}
	}

	return c.stepBackward(leaf, idx)
}

// stepForward settles on slot idx of leaf, walking the forward sibling
// chain past empty or exhausted leaves, then applies the end bound.
func (c *Cursor) stepForward(leaf *node, idx int) error {
	t := c.tree

	for idx >= len(leaf.keys) {
		if leaf.nextLeaf == 0 {
			c.valid = false
			return nil
		}
		next, err := t.loadNode(leaf.nextLeaf)
		if err != nil {
			c.valid = false
			return err
		}
		leaf = next
		idx = 0
	}

	if c.end != nil && t.cmp(leaf.keys[idx], c.end) > 0 {
		c.valid = false
		return nil
	}

	c.capture(leaf, idx)
	return nil
}

// stepBackward is stepForward's mirror: it walks the previous-sibling
// chain and applies the start bound.
func (c *Cursor) stepBackward(leaf *node, idx int) error {
	t := c.tree

	for idx < 0 {
		if leaf.prevLeaf == 0 {
			c.valid = false
			return nil
		}
		prev, err := t.loadNode(leaf.prevLeaf)
		if err != nil {
			c.valid = false
			return err
		}
		leaf = prev
		idx = len(leaf.keys) - 1
	}

	if c.start != nil && t.cmp(leaf.keys[idx], c.start) < 0 {
		c.valid = false
		return nil
	}

	c.capture(leaf, idx)
	return nil
}

func (c *Cursor) capture(leaf *node, idx int) {
	c.leafID = leaf.pageID
	c.idx = idx
	c.key = append([]byte(nil), leaf.keys[idx]...)
	c.value = append([]byte(nil), leaf.values[idx]...)
	c.valid = true
}

// edgeLeaf descends to the leftmost (rightmost when last is true) leaf.
func (t *Tree) edgeLeaf(last bool) (*node, error) {
	m := t.pager.getMeta()

	n, err := t.loadNode(m.rootPageID)
	if err != nil {
		return nil, err
	}
	for !n.isLeaf {
		i := 0
		if last {
			i = len(n.children) - 1
		}
		n, err = t.loadNode(n.children[i])
		if err != nil {
			return nil, err
		}
	}
	return n, nil
}
