package blocktree

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInsertAndGetSequential(t *testing.T) {
	tr := New(30, 3, 10)
	require.NoError(t, tr.Insert(0, 10, "a", InFile))
	require.NoError(t, tr.Insert(10, 10, "b", Sparse))
	require.NoError(t, tr.Insert(20, 10, "c", InFile))

	for off := int64(0); off < 10; off++ {
		r, ok := tr.Get(off)
		require.True(t, ok)
		assert.Equal(t, "a", r.Value)
		assert.Equal(t, InFile, r.Type)
	}
	for off := int64(10); off < 20; off++ {
		r, ok := tr.Get(off)
		require.True(t, ok)
		assert.Equal(t, "b", r.Value)
	}
	r, ok := tr.Get(29)
	require.True(t, ok)
	assert.Equal(t, "c", r.Value)
}

func TestGetOutOfBounds(t *testing.T) {
	tr := New(10, 1, 1)
	require.NoError(t, tr.Insert(0, 10, "a", InFile))
	_, ok := tr.Get(-1)
	assert.False(t, ok)
	_, ok = tr.Get(10)
	assert.False(t, ok)
}

func TestGetInGap(t *testing.T) {
	tr := New(30, 2, 1)
	require.NoError(t, tr.Insert(0, 5, "a", InFile))
	require.NoError(t, tr.Insert(10, 5, "b", InFile))
	_, ok := tr.Get(7)
	assert.False(t, ok)
	r, ok := tr.Get(10)
	assert.True(t, ok)
	assert.Equal(t, "b", r.Value)
}

func TestInsertRejectsOverlap(t *testing.T) {
	tr := New(20, 2, 1)
	require.NoError(t, tr.Insert(0, 10, "a", InFile))
	err := tr.Insert(5, 10, "b", InFile)
	assert.Error(t, err)
}

func TestInsertRejectsExceedingTotalSize(t *testing.T) {
	tr := New(10, 1, 1)
	err := tr.Insert(0, 20, "a", InFile)
	assert.Error(t, err)
}
