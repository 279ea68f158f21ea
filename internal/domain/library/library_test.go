package library

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultCatalogue(t *testing.T) {
	c, err := Default()
	require.NoError(t, err)
	assert.Equal(t, 4, c.Len())
	assert.InDelta(t, 12.9, c.TotalSizeGB(), 1e-9)

	it, ok := c.ByID("1")
	require.True(t, ok)
	assert.Equal(t, "Eternal Sunshine of the Spotless Mind", it.Title)
	assert.Equal(t, 4.2, it.SizeGB)
	assert.Equal(t, CategoryMovies, it.Category)

	_, ok = c.ByID("missing")
	assert.False(t, ok)
}

func TestBrowse(t *testing.T) {
	c, err := Default()
	require.NoError(t, err)

	music := c.Browse(CategoryMusic, SortByPurchaseDate)
	require.Len(t, music, 1)
	assert.Equal(t, "In Rainbows", music[0].Title)

	bySize := c.Browse("", SortBySize)
	require.Len(t, bySize, 4)
	assert.Equal(t, "4", bySize[0].ID)
	assert.Equal(t, "3", bySize[3].ID)

	byDate := c.Browse("", SortByPurchaseDate)
	assert.Equal(t, "4", byDate[0].ID)
	assert.Equal(t, "1", byDate[3].ID)

	byAccess := c.Browse("", SortByLastAccessed)
	assert.Equal(t, "2", byAccess[0].ID)
	assert.Equal(t, "3", byAccess[3].ID)
}

func TestParseRejectsBadItems(t *testing.T) {
	_, err := Parse([]byte("items: [{id: a, size_gb: 1}, {id: a, size_gb: 2}]"))
	assert.ErrorContains(t, err, "duplicate")

	_, err = Parse([]byte("items: [{id: a, size_gb: 0}]"))
	assert.ErrorContains(t, err, "size_gb")

	_, err = Parse([]byte("items: [{size_gb: 1}]"))
	assert.ErrorContains(t, err, "missing id")
}

func TestAllReturnsCopy(t *testing.T) {
	c, err := Default()
	require.NoError(t, err)
	items := c.All()
	items[0].Title = "changed"
	orig, _ := c.ByID(items[0].ID)
	assert.NotEqual(t, "changed", orig.Title)
}
