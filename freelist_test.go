package grove

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFreelistAllocateFree(t *testing.T) {
	t.Parallel()

	f := newFreelist()
	assert.Equal(t, PageID(0), f.allocate())

	f.free(10)
	f.free(30)
	f.free(20)

	assert.Equal(t, 3, f.size())
	assert.Equal(t, []PageID{10, 20, 30}, f.ids)

	// Highest id first keeps the low end of the file dense.
	assert.Equal(t, PageID(30), f.allocate())
	assert.Equal(t, PageID(20), f.allocate())
	assert.Equal(t, PageID(10), f.allocate())
	assert.Equal(t, PageID(0), f.allocate())
}

func TestFreelistDuplicateFree(t *testing.T) {
	t.Parallel()

	// WAL replay may free the same page twice; the list must not grow.
	f := newFreelist()
	f.free(5)
	f.free(5)
	assert.Equal(t, 1, f.size())
}

func TestFreelistSerializeRoundTrip(t *testing.T) {
	t.Parallel()

	f := newFreelist()
	for id := PageID(100); id < 150; id++ {
		f.free(id)
	}

	pages := make([]*Page, f.pagesNeeded())
	for i := range pages {
		pages[i] = &Page{}
	}
	f.serialize(pages)

	out := newFreelist()
	out.deserialize(pages)
	assert.Equal(t, f.ids, out.ids)
}

func TestFreelistPagesNeeded(t *testing.T) {
	t.Parallel()

	f := newFreelist()
	require.Equal(t, 1, f.pagesNeeded())

	// Fill past one page's capacity of ids.
	perPage := (PageSize - pageHeaderSize) / 8
	for i := 0; i < perPage; i++ {
		f.free(PageID(1000 + i))
	}
	assert.Equal(t, 2, f.pagesNeeded())
}
