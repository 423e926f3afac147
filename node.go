package grove

import "sort"

// node is a decoded B+Tree node. The isLeaf tag selects the variant: leaf
// nodes carry values and sibling links, branch nodes carry child pointers
// with len(children) == len(keys)+1. The set of node kinds is closed, so a
// tag is used instead of an interface.
type node struct {
	pageID PageID

	isLeaf   bool
	keys     [][]byte
	values   [][]byte // leaf only
	children []PageID // branch only

	// Leaf sibling links in ascending key order (0 if none).
	nextLeaf PageID
	prevLeaf PageID
}

// locate finds key in the node by binary search under cmp. It returns the
// matching slot and true, or the insertion point and false. For branch
// nodes the insertion point is also the child index to descend into:
// children[i] holds keys < keys[i], so an exact separator match descends to
// the right of the separator (i+1).
func (n *node) locate(cmp Compare, key []byte) (int, bool) {
	i := sort.Search(len(n.keys), func(i int) bool {
		return cmp(n.keys[i], key) >= 0
	})
	if i < len(n.keys) && cmp(n.keys[i], key) == 0 {
		return i, true
	}
	return i, false
}

// childIndex returns which child to descend into for key.
func (n *node) childIndex(cmp Compare, key []byte) int {
	i, found := n.locate(cmp, key)
	if found {
		return i + 1
	}
	return i
}

// overflows reports whether the node holds more entries than order-1 allows.
func (n *node) overflows(order int) bool {
	return len(n.keys) > maxKeys(order)
}

// underflows reports whether a non-root node has fewer entries than
// ceil(order/2)-1 requires.
func (n *node) underflows(order int) bool {
	return len(n.keys) < minKeys(order)
}

// canMergeWith reports whether this node and sibling fit in one node.
// Merging branch nodes also pulls the parent separator down, which costs
// one extra slot.
func (n *node) canMergeWith(sibling *node, order int) bool {
	combined := len(n.keys) + len(sibling.keys)
	if !n.isLeaf {
		combined++
	}
	return combined <= maxKeys(order)
}

// split divides an overflowing node at the median and returns the new right
// sibling plus the separator key for the parent. For a leaf the separator is
// a copy of the right sibling's first key (the entry stays in the leaf); for
// a branch the median key moves up and is removed from both halves.
// Leaf sibling links are fixed up by the caller, which owns page allocation.
func (n *node) split() (*node, []byte) {
	mid := len(n.keys) / 2

	right := &node{isLeaf: n.isLeaf}

	if n.isLeaf {
		right.keys = append([][]byte(nil), n.keys[mid:]...)
		right.values = append([][]byte(nil), n.values[mid:]...)
		n.keys = n.keys[:mid:mid]
		n.values = n.values[:mid:mid]

		sep := make([]byte, len(right.keys[0]))
		copy(sep, right.keys[0])
		return right, sep
	}

	sep := n.keys[mid]
	right.keys = append([][]byte(nil), n.keys[mid+1:]...)
	right.children = append([]PageID(nil), n.children[mid+1:]...)
	n.keys = n.keys[:mid:mid]
	n.children = n.children[:mid+1 : mid+1]

	return right, sep
}

// serializedSize returns the on-page size of the node.
func (n *node) serializedSize() int {
	size := pageHeaderSize

	if n.isLeaf {
		size += len(n.keys) * leafElementSize
		for i := range n.keys {
			size += len(n.keys[i]) + len(n.values[i])
		}
	} else {
		size += len(n.keys) * branchElementSize
		size += 8 // children[0]
		for i := range n.keys {
			size += len(n.keys[i])
		}
	}

	return size
}

// serialize encodes the node into a fresh page. The checksum is not stamped
// here; the pager stamps it as the final step before the page leaves memory.
func (n *node) serialize() (*Page, error) {
	if n.serializedSize() > PageSize {
		return nil, ErrPageOverflow
	}

	page := &Page{}

	header := &pageHeader{
		pageID:   n.pageID,
		numKeys:  uint16(len(n.keys)),
		nextLeaf: n.nextLeaf,
		prevLeaf: n.prevLeaf,
	}
	if n.isLeaf {
		header.flags = leafPageFlag
	} else {
		header.flags = branchPageFlag
	}
	page.writeHeader(header)

	if n.isLeaf {
		// Pack key/value data from the end backward.
		dataOffset := uint16(PageSize)
		for i := len(n.keys) - 1; i >= 0; i-- {
			key := n.keys[i]
			value := n.values[i]

			dataOffset -= uint16(len(value))
			copy(page.data[dataOffset:], value)
			valueOffset := dataOffset

			dataOffset -= uint16(len(key))
			copy(page.data[dataOffset:], key)
			keyOffset := dataOffset

			elem := &leafElement{
				keyOffset:   keyOffset,
				keySize:     uint16(len(key)),
				valueOffset: valueOffset,
				valueSize:   uint16(len(value)),
			}
			page.writeLeafElement(i, elem)
		}
	} else {
		// children[0] lives at a fixed location (last 8 bytes).
		if len(n.children) > 0 {
			page.writeBranchFirstChild(n.children[0])
		}

		// Pack keys from the end backward, reserving the last 8 bytes.
		dataOffset := uint16(PageSize - 8)
		for i := len(n.keys) - 1; i >= 0; i-- {
			key := n.keys[i]

			dataOffset -= uint16(len(key))
			copy(page.data[dataOffset:], key)

			elem := &branchElement{
				keyOffset: dataOffset,
				keySize:   uint16(len(key)),
				childID:   n.children[i+1],
			}
			page.writeBranchElement(i, elem)
		}
	}

	return page, nil
}

// deserialize decodes page data into the node. Key and value bytes are
// copied out of the page so the node does not alias the read buffer.
func (n *node) deserialize(p *Page) error {
	header := p.header()
	n.pageID = header.pageID
	n.isLeaf = (header.flags & leafPageFlag) != 0
	n.nextLeaf = header.nextLeaf
	n.prevLeaf = header.prevLeaf

	numKeys := int(header.numKeys)

	if n.isLeaf {
		n.keys = make([][]byte, numKeys)
		n.values = make([][]byte, numKeys)
		n.children = nil

		elements := p.leafElements()
		for i := 0; i < numKeys; i++ {
			elem := elements[i]

			keyData, err := p.slice(elem.keyOffset, elem.keySize)
			if err != nil {
				return err
			}
			n.keys[i] = append([]byte(nil), keyData...)

			valueData, err := p.slice(elem.valueOffset, elem.valueSize)
			if err != nil {
				return err
			}
			n.values[i] = append([]byte(nil), valueData...)
		}
	} else {
		n.keys = make([][]byte, numKeys)
		n.values = nil
		n.children = make([]PageID, numKeys+1)

		n.children[0] = p.readBranchFirstChild()

		elements := p.branchElements()
		for i := 0; i < numKeys; i++ {
			elem := elements[i]

			keyData, err := p.slice(elem.keyOffset, elem.keySize)
			if err != nil {
				return err
			}
			n.keys[i] = append([]byte(nil), keyData...)

			n.children[i+1] = elem.childID
		}
	}

	return nil
}

// clone creates a deep copy of the node's structure. Key and value byte
// slices are shared; they are never mutated in place.
func (n *node) clone() *node {
	cloned := &node{
		pageID:   n.pageID,
		isLeaf:   n.isLeaf,
		nextLeaf: n.nextLeaf,
		prevLeaf: n.prevLeaf,
	}

	cloned.keys = append([][]byte(nil), n.keys...)
	if n.isLeaf {
		cloned.values = append([][]byte(nil), n.values...)
	} else {
		cloned.children = append([]PageID(nil), n.children...)
	}

	return cloned
}
