package vfs

import (
	"encoding/binary"
	"os"
	"testing"

	"github.com/keramics/keramics/internal/kerr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// buildMBRImage writes a minimal classic MBR with one primary FAT16
// partition starting at LBA 1, spanning 4 sectors.
func buildMBRImage(t *testing.T) string {
	t.Helper()
	const sectorSize = 512
	buf := make([]byte, 8*sectorSize)
	entry := buf[446:462]
	entry[4] = 0x06 // fat16
	binary.LittleEndian.PutUint32(entry[8:12], 1)
	binary.LittleEndian.PutUint32(entry[12:16], 4)
	buf[510], buf[511] = 0x55, 0xaa

	f, err := os.CreateTemp(t.TempDir(), "mbr-*.img")
	require.NoError(t, err)
	_, err = f.Write(buf)
	require.NoError(t, err)
	require.NoError(t, f.Close())
	return f.Name()
}

func TestResolverOsBase(t *testing.T) {
	f, err := os.CreateTemp(t.TempDir(), "plain-*.bin")
	require.NoError(t, err)
	_, err = f.Write([]byte("hello world"))
	require.NoError(t, err)
	require.NoError(t, f.Close())

	r := NewResolver()
	loc := Location{{Type: Os, Path: f.Name()}}
	s, err := r.GetDataStreamByPathAndName(loc, "")
	require.NoError(t, err)
	assert.EqualValues(t, 11, s.Size())
}

func TestResolverMbrPartitionResolve(t *testing.T) {
	path := buildMBRImage(t)
	r := NewResolver()
	loc := Location{{Type: Os, Path: path}, {Type: Mbr, Path: ""}}

	entry, err := r.GetFileEntryByLocation(append(loc, Segment{Type: Fake, Path: "/mbr1"}))
	require.NoError(t, err)
	assert.Equal(t, EntryPartitionLayer, entry.Type)
	assert.EqualValues(t, 4*512, entry.Size)
}

func TestResolverWrongVolumeSystemPrefixIsInvalidPath(t *testing.T) {
	path := buildMBRImage(t)
	r := NewResolver()
	loc := Location{{Type: Os, Path: path}, {Type: Mbr, Path: ""}}

	_, err := r.GetFileEntryByLocation(append(loc, Segment{Type: Fake, Path: "/apm1"}))
	require.Error(t, err)
	assert.ErrorIs(t, err, kerr.ErrInvalidPath)
}

func TestResolverOutOfRangeIndexIsNotFound(t *testing.T) {
	path := buildMBRImage(t)
	r := NewResolver()
	loc := Location{{Type: Os, Path: path}, {Type: Mbr, Path: ""}}

	_, err := r.GetFileEntryByLocation(append(loc, Segment{Type: Fake, Path: "/mbr9"}))
	require.Error(t, err)
	assert.ErrorIs(t, err, kerr.ErrNotFound)
}

func TestLocationWithLeafType(t *testing.T) {
	loc := Location{{Type: Os, Path: "/img"}, {Type: Mbr, Path: "/mbr1"}}
	swapped := loc.WithLeafType(Ext)
	assert.Equal(t, Ext, swapped.Leaf().Type)
	assert.Equal(t, "/mbr1", swapped.Leaf().Path)
	assert.Equal(t, Mbr, loc.Leaf().Type) // original untouched
}
