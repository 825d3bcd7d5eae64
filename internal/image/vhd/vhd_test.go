package vhd

import (
	"encoding/binary"
	"testing"

	"github.com/keramics/keramics/internal/image"
	"github.com/keramics/keramics/internal/stream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func putFooter(buf []byte, mediaSize int64, diskType uint32, dataOffset int64) {
	copy(buf[0:8], cookie[:])
	binary.BigEndian.PutUint64(buf[16:24], uint64(dataOffset))
	binary.BigEndian.PutUint64(buf[40:48], uint64(mediaSize))
	binary.BigEndian.PutUint32(buf[60:64], diskType)
}

func buildFixedImage(mediaSize int64, fill byte) []byte {
	buf := make([]byte, mediaSize+footerSize)
	for i := int64(0); i < mediaSize; i++ {
		buf[i] = fill
	}
	putFooter(buf[mediaSize:], mediaSize, DiskTypeFixed, 0xFFFFFFFFFFFFFFFF&0)
	return buf
}

func TestOpenFixedReadsMedia(t *testing.T) {
	data := buildFixedImage(4096, 0x42)
	layer, err := Open(stream.NewFake(data), image.NoBacking)
	require.NoError(t, err)
	assert.Equal(t, int64(4096), layer.Size())

	got := make([]byte, 4096)
	require.NoError(t, layer.ReadExactAt(0, got))
	for _, b := range got {
		assert.Equal(t, byte(0x42), b)
	}
}

func TestOpenRejectsBadCookie(t *testing.T) {
	data := make([]byte, footerSize)
	_, err := Open(stream.NewFake(data), image.NoBacking)
	assert.Error(t, err)
}

// buildDynamicImage lays out footer, dynamic header and a two-entry BAT
// with block 0 allocated and block 1 unallocated, followed by the
// trailing footer copy at the end of the file.
func buildDynamicImage(t *testing.T) []byte {
	t.Helper()
	const (
		blockSize       = 512
		sectorBitmap    = 512 // one 512-byte sector of bitmap, rounded up
		dataOffset      = 512
		headerLen       = 1024
		tableOffset     = dataOffset + headerLen
		maxTableEntries = 2
		block0Data      = 2048 // sector-aligned, as BAT entries are sector numbers
	)
	fileSize := block0Data + sectorBitmap + blockSize + footerSize
	buf := make([]byte, fileSize)

	putFooter(buf[0:footerSize], 2*blockSize, DiskTypeDynamic, dataOffset)
	putFooter(buf[fileSize-footerSize:], 2*blockSize, DiskTypeDynamic, dataOffset)

	hdr := buf[dataOffset : dataOffset+headerLen]
	copy(hdr[0:8], []byte("cxsparse"))
	binary.BigEndian.PutUint64(hdr[16:24], uint64(tableOffset))
	binary.BigEndian.PutUint32(hdr[28:32], maxTableEntries)
	binary.BigEndian.PutUint32(hdr[32:36], blockSize)

	bat := buf[tableOffset : tableOffset+maxTableEntries*4]
	binary.BigEndian.PutUint32(bat[0:4], uint32(block0Data/512))
	binary.BigEndian.PutUint32(bat[4:8], batEntryEnd)

	for i := 0; i < blockSize; i++ {
		buf[block0Data+sectorBitmap+i] = 0x99
	}
	return buf
}

func TestOpenDynamicReadsAllocatedBlock(t *testing.T) {
	data := buildDynamicImage(t)
	layer, err := Open(stream.NewFake(data), image.NoBacking)
	require.NoError(t, err)
	assert.Equal(t, int64(1024), layer.Size())

	got := make([]byte, 512)
	require.NoError(t, layer.ReadExactAt(0, got))
	for _, b := range got {
		assert.Equal(t, byte(0x99), b)
	}
}

func TestOpenDynamicZerosUnallocatedBlock(t *testing.T) {
	data := buildDynamicImage(t)
	layer, err := Open(stream.NewFake(data), image.NoBacking)
	require.NoError(t, err)

	got := make([]byte, 512)
	require.NoError(t, layer.ReadExactAt(512, got))
	for _, b := range got {
		assert.Equal(t, byte(0), b)
	}
}
