package grove

import (
	"bytes"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNodeLocate(t *testing.T) {
	t.Parallel()

	n := &node{
		isLeaf: true,
		keys:   [][]byte{[]byte("b"), []byte("d"), []byte("f")},
		values: [][]byte{[]byte("1"), []byte("2"), []byte("3")},
	}

	i, found := n.locate(DefaultCompare, []byte("d"))
	assert.True(t, found)
	assert.Equal(t, 1, i)

	i, found = n.locate(DefaultCompare, []byte("a"))
	assert.False(t, found)
	assert.Equal(t, 0, i)

	i, found = n.locate(DefaultCompare, []byte("c"))
	assert.False(t, found)
	assert.Equal(t, 1, i)

	i, found = n.locate(DefaultCompare, []byte("g"))
	assert.False(t, found)
	assert.Equal(t, 3, i)
}

func TestNodeChildIndex(t *testing.T) {
	t.Parallel()

	n := &node{
		keys:     [][]byte{[]byte("b"), []byte("d")},
		children: []PageID{10, 20, 30},
	}

	assert.Equal(t, 0, n.childIndex(DefaultCompare, []byte("a")))
	// An exact separator match descends right of the separator.
	assert.Equal(t, 1, n.childIndex(DefaultCompare, []byte("b")))
	assert.Equal(t, 1, n.childIndex(DefaultCompare, []byte("c")))
	assert.Equal(t, 2, n.childIndex(DefaultCompare, []byte("d")))
	assert.Equal(t, 2, n.childIndex(DefaultCompare, []byte("e")))
}

func TestNodeOccupancy(t *testing.T) {
	t.Parallel()

	// Order 4: max 3 keys, min 1 key.
	n := &node{isLeaf: true}
	for i := 0; i < 3; i++ {
		n.keys = append(n.keys, []byte{byte('a' + i)})
	}
	assert.False(t, n.overflows(4))
	n.keys = append(n.keys, []byte("z"))
	assert.True(t, n.overflows(4))

	u := &node{isLeaf: true, keys: [][]byte{[]byte("a")}}
	assert.False(t, u.underflows(4))
	u.keys = nil
	assert.True(t, u.underflows(4))
}

func TestNodeCanMergeWith(t *testing.T) {
	t.Parallel()

	// Order 5: max 4 keys. Two leaves of 2 keys fit exactly.
	left := &node{isLeaf: true, keys: [][]byte{[]byte("a"), []byte("b")}}
	right := &node{isLeaf: true, keys: [][]byte{[]byte("c"), []byte("d")}}
	assert.True(t, left.canMergeWith(right, 5))

	// Branch merge also pulls the parent separator down, costing one slot.
	bl := &node{keys: [][]byte{[]byte("a"), []byte("b")}, children: []PageID{1, 2, 3}}
	br := &node{keys: [][]byte{[]byte("x"), []byte("y")}, children: []PageID{4, 5, 6}}
	assert.False(t, bl.canMergeWith(br, 5))
	assert.True(t, bl.canMergeWith(br, 6))
}

func TestNodeSplitLeaf(t *testing.T) {
	t.Parallel()

	n := &node{isLeaf: true}
	for i := 0; i < 5; i++ {
		n.keys = append(n.keys, []byte(fmt.Sprintf("k%d", i)))
		n.values = append(n.values, []byte(fmt.Sprintf("v%d", i)))
	}

	right, sep := n.split()

	// Leaf split copies the separator up; the entry stays in the right leaf.
	require.Equal(t, 2, len(n.keys))
	require.Equal(t, 3, len(right.keys))
	assert.Equal(t, []byte("k2"), sep)
	assert.Equal(t, []byte("k2"), right.keys[0])
	assert.Equal(t, []byte("v2"), right.values[0])

	// The separator must not alias the right leaf's key.
	sep[0] = 'X'
	assert.Equal(t, []byte("k2"), right.keys[0])
}

func TestNodeSplitBranch(t *testing.T) {
	t.Parallel()

	n := &node{
		keys:     [][]byte{[]byte("b"), []byte("d"), []byte("f"), []byte("h"), []byte("j")},
		children: []PageID{10, 20, 30, 40, 50, 60},
	}

	right, sep := n.split()

	// Branch split moves the median up and out of both halves.
	assert.Equal(t, []byte("f"), sep)
	assert.Equal(t, [][]byte{[]byte("b"), []byte("d")}, n.keys)
	assert.Equal(t, []PageID{10, 20, 30}, n.children)
	assert.Equal(t, [][]byte{[]byte("h"), []byte("j")}, right.keys)
	assert.Equal(t, []PageID{40, 50, 60}, right.children)
}

func TestNodeSerializeLeaf(t *testing.T) {
	t.Parallel()

	n := &node{
		pageID:   7,
		isLeaf:   true,
		keys:     [][]byte{[]byte("alpha"), []byte("beta")},
		values:   [][]byte{[]byte("1"), bytes.Repeat([]byte("x"), 300)},
		nextLeaf: 9,
		prevLeaf: 5,
	}

	page, err := n.serialize()
	require.NoError(t, err)

	var out node
	require.NoError(t, out.deserialize(page))

	assert.Equal(t, n.pageID, out.pageID)
	assert.True(t, out.isLeaf)
	assert.Equal(t, n.keys, out.keys)
	assert.Equal(t, n.values, out.values)
	assert.Equal(t, PageID(9), out.nextLeaf)
	assert.Equal(t, PageID(5), out.prevLeaf)

	// Decoded bytes must not alias the page buffer.
	page.data[PageSize-1] ^= 0xff
	assert.Equal(t, n.values[1], out.values[1])
}

func TestNodeSerializeBranch(t *testing.T) {
	t.Parallel()

	n := &node{
		pageID:   11,
		keys:     [][]byte{[]byte("m"), []byte("t")},
		children: []PageID{3, 8, 12},
	}

	page, err := n.serialize()
	require.NoError(t, err)
	assert.Equal(t, branchPageFlag, page.header().flags)

	var out node
	require.NoError(t, out.deserialize(page))

	assert.False(t, out.isLeaf)
	assert.Equal(t, n.keys, out.keys)
	assert.Equal(t, n.children, out.children)
	assert.Nil(t, out.values)
}

func TestNodeSerializeOverflow(t *testing.T) {
	t.Parallel()

	n := &node{isLeaf: true}
	for i := 0; i < 2; i++ {
		n.keys = append(n.keys, bytes.Repeat([]byte{byte('a' + i)}, MaxKeySize))
		n.values = append(n.values, bytes.Repeat([]byte("v"), MaxValueSize))
	}
	require.Greater(t, n.serializedSize(), PageSize)

	_, err := n.serialize()
	assert.ErrorIs(t, err, ErrPageOverflow)
}

func TestNodeCloneIsolation(t *testing.T) {
	t.Parallel()

	n := &node{
		pageID: 3,
		isLeaf: true,
		keys:   [][]byte{[]byte("a"), []byte("b")},
		values: [][]byte{[]byte("1"), []byte("2")},
	}

	c := n.clone()
	c.keys = append(c.keys, []byte("c"))
	c.values = append(c.values, []byte("3"))
	c.values[0] = []byte("replaced")

	assert.Equal(t, 2, len(n.keys))
	assert.Equal(t, []byte("1"), n.values[0])
	assert.Equal(t, 3, len(c.keys))
}
