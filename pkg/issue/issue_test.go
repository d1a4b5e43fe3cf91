package issue

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseCategory(t *testing.T) {
	c, err := ParseCategory(" water issue ")
	require.NoError(t, err)
	assert.Equal(t, CategoryWater, c)

	c, err = ParseCategory("Lost & Found")
	require.NoError(t, err)
	assert.Equal(t, CategoryLostFound, c)

	_, err = ParseCategory("Graffiti")
	assert.Error(t, err)
}

func TestParseStatus(t *testing.T) {
	s, err := ParseStatus("IN_PROGRESS")
	require.NoError(t, err)
	assert.Equal(t, StatusInProgress, s)

	_, err = ParseStatus("pending")
	assert.Error(t, err)
}
