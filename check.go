package grove

import "fmt"

// Check verifies the structural invariants of the on-disk tree: sorted
// keys, occupancy bounds, uniform leaf depth, separator ranges, a
// consistent leaf sibling chain, and no page referenced twice or while on
// the free list. It reads every live page; cost is linear in tree size.
func (t *Tree) Check() error {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if t.closed {
		return ErrTreeClosed
	}

	m := t.pager.getMeta()

	c := &checker{
		tree:    t,
		height:  int(m.height),
		visited: make(map[PageID]bool),
	}
	if err := c.walk(m.rootPageID, 1, nil, nil, true); err != nil {
		return err
	}
	if err := c.verifyLeafChain(); err != nil {
		return err
	}

	t.pager.mu.Lock()
	free := append([]PageID(nil), t.pager.freelist.ids...)
	t.pager.mu.Unlock()
	for _, id := range free {
		if c.visited[id] {
			return fmt.Errorf("page %d is both live and free: %w", id, ErrCorruptPage)
		}
	}

	return nil
}

type checker struct {
	tree    *Tree
	height  int
	visited map[PageID]bool
	leaves  []*node // in left-to-right order
}

// walk validates the subtree rooted at id. lower/upper are the exclusive
// upper and inclusive lower key bounds inherited from ancestor separators;
// keys equal to a separator belong to the right subtree.
func (c *checker) walk(id PageID, depth int, lower, upper []byte, isRoot bool) error {
	if c.visited[id] {
		return fmt.Errorf("page %d referenced twice: %w", id, ErrCorruptPage)
	}
	c.visited[id] = true

	n, err := c.tree.loadNode(id)
	if err != nil {
		return err
	}

	order := c.tree.order
	cmp := c.tree.cmp

	if len(n.keys) > maxKeys(order) {
		return fmt.Errorf("page %d holds %d keys, max %d: %w", id, len(n.keys), maxKeys(order), ErrCorruptPage)
	}
	if !isRoot && len(n.keys) < minKeys(order) {
		return fmt.Errorf("page %d holds %d keys, min %d: %w", id, len(n.keys), minKeys(order), ErrCorruptPage)
	}

	for i := 1; i < len(n.keys); i++ {
		if cmp(n.keys[i-1], n.keys[i]) >= 0 {
			return fmt.Errorf("page %d keys not strictly ascending at slot %d: %w", id, i, ErrCorruptPage)
		}
	}
	for _, k := range n.keys {
		if lower != nil && cmp(k, lower) < 0 {
			return fmt.Errorf("page %d key %q below separator range: %w", id, k, ErrCorruptPage)
		}
		if upper != nil && cmp(k, upper) >= 0 {
			return fmt.Errorf("page %d key %q above separator range: %w", id, k, ErrCorruptPage)
		}
	}

	if n.isLeaf {
		if depth != c.height {
			return fmt.Errorf("leaf page %d at depth %d, expected %d: %w", id, depth, c.height, ErrCorruptPage)
		}
		if len(n.values) != len(n.keys) {
			return fmt.Errorf("leaf page %d has %d values for %d keys: %w", id, len(n.values), len(n.keys), ErrCorruptPage)
		}
		c.leaves = append(c.leaves, n)
		return nil
	}

	if len(n.children) != len(n.keys)+1 {
		return fmt.Errorf("branch page %d has %d children for %d keys: %w", id, len(n.children), len(n.keys), ErrCorruptPage)
	}
	if isRoot && len(n.keys) == 0 {
		return fmt.Errorf("branch root %d has no keys: %w", id, ErrCorruptPage)
	}

	for i, child := range n.children {
		childLower := lower
		childUpper := upper
		if i > 0 {
			childLower = n.keys[i-1]
		}
		if i < len(n.keys) {
			childUpper = n.keys[i]
		}
		if err := c.walk(child, depth+1, childLower, childUpper, false); err != nil {
			return err
		}
	}
	return nil
}

// verifyLeafChain checks that the sibling links reproduce exactly the
// left-to-right leaf order found by descent, with keys ascending across
// leaf boundaries.
func (c *checker) verifyLeafChain() error {
	for i, leaf := range c.leaves {
		wantPrev := PageID(0)
		if i > 0 {
			wantPrev = c.leaves[i-1].pageID
		}
		wantNext := PageID(0)
		if i < len(c.leaves)-1 {
			wantNext = c.leaves[i+1].pageID
		}

		if leaf.prevLeaf != wantPrev {
			return fmt.Errorf("leaf page %d prev link is %d, want %d: %w", leaf.pageID, leaf.prevLeaf, wantPrev, ErrCorruptPage)
		}
		if leaf.nextLeaf != wantNext {
			return fmt.Errorf("leaf page %d next link is %d, want %d: %w", leaf.pageID, leaf.nextLeaf, wantNext, ErrCorruptPage)
		}

		if i > 0 {
			prev := c.leaves[i-1]
			if len(prev.keys) > 0 && len(leaf.keys) > 0 &&
				c.tree.cmp(prev.keys[len(prev.keys)-1], leaf.keys[0]) >= 0 {
				return fmt.Errorf("leaf chain order broken between pages %d and %d: %w", prev.pageID, leaf.pageID, ErrCorruptPage)
			}
		}
	}
	return nil
}
