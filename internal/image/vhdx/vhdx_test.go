package vhdx

import (
	"encoding/binary"
	"testing"

	"github.com/google/uuid"
	"github.com/keramics/keramics/internal/image"
	"github.com/keramics/keramics/internal/stream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func putRegionEntry(buf []byte, off int, id uuid.UUID, offset int64, length uint32) {
	le := beGUIDToLE(id)
	copy(buf[off:off+16], le)
	binary.LittleEndian.PutUint64(buf[off+16:off+24], uint64(offset))
	binary.LittleEndian.PutUint32(buf[off+24:off+28], length)
}

func beGUIDToLE(id uuid.UUID) []byte {
	b, _ := id.MarshalBinary()
	out := make([]byte, 16)
	out[0], out[1], out[2], out[3] = b[3], b[2], b[1], b[0]
	out[4], out[5] = b[5], b[4]
	out[6], out[7] = b[7], b[6]
	copy(out[8:16], b[8:16])
	return out
}

func putMetadataEntry(buf []byte, off int, id uuid.UUID, itemOffset, length uint32) {
	le := beGUIDToLE(id)
	copy(buf[off:off+16], le)
	binary.LittleEndian.PutUint32(buf[off+16:off+20], itemOffset)
	binary.LittleEndian.PutUint32(buf[off+20:off+24], length)
}

// buildImage lays out a minimal VHDX: file signature, region table
// naming a BAT and a metadata region, the metadata table itself, and a
// one-block BAT with its single data block fully present.
func buildImage(t *testing.T) []byte {
	t.Helper()
	const (
		regionTableOffset = 192 * 1024
		metadataOffset    = 256 * 1024
		batOffset         = 320 * 1024
		blockSize         = 1 << 20 // 1 MiB
		dataOffset        = 2 << 20 // must land on a whole-MiB boundary
	)
	fileSize := int64(dataOffset + blockSize)
	buf := make([]byte, fileSize)
	copy(buf[0:8], fileSignature[:])

	binary.LittleEndian.PutUint32(buf[regionTableOffset:regionTableOffset+4], 0x72656769)
	binary.LittleEndian.PutUint32(buf[regionTableOffset+8:regionTableOffset+12], 2)
	putRegionEntry(buf, regionTableOffset+16, bATGUID, batOffset, 64*1024)
	putRegionEntry(buf, regionTableOffset+48, metadataGUID, metadataOffset, 64*1024)

	copy(buf[metadataOffset:metadataOffset+8], []byte(metadataTableSignature))
	binary.LittleEndian.PutUint16(buf[metadataOffset+8:metadataOffset+10], 3)
	const itemsStart = 4096 // item payload area, past the table header/entries
	putMetadataEntry(buf, metadataOffset+32, fileParamsID, itemsStart, 8)
	putMetadataEntry(buf, metadataOffset+56, virtualSizeID, itemsStart+8, 8)
	putMetadataEntry(buf, metadataOffset+80, logicalSectorID, itemsStart+16, 4)

	binary.LittleEndian.PutUint32(buf[metadataOffset+itemsStart:metadataOffset+itemsStart+4], blockSize)
	binary.LittleEndian.PutUint32(buf[metadataOffset+itemsStart+4:metadataOffset+itemsStart+8], 0) // flags: no parent
	binary.LittleEndian.PutUint64(buf[metadataOffset+itemsStart+8:metadataOffset+itemsStart+16], uint64(blockSize))
	binary.LittleEndian.PutUint32(buf[metadataOffset+itemsStart+16:metadataOffset+itemsStart+20], 512)

	batEntry := uint64(dataOffset/(1<<20))<<20 | payloadBlockFullyPresent
	binary.LittleEndian.PutUint64(buf[batOffset:batOffset+8], batEntry)

	for i := 0; i < blockSize; i++ {
		buf[dataOffset+i] = 0x5A
	}
	return buf
}

func TestOpenAndReadBlock(t *testing.T) {
	data := buildImage(t)
	layer, err := Open(stream.NewFake(data), image.NoBacking)
	require.NoError(t, err)
	assert.Equal(t, int64(1<<20), layer.Size())

	got := make([]byte, 4096)
	require.NoError(t, layer.ReadExactAt(0, got))
	for _, b := range got {
		assert.Equal(t, byte(0x5A), b)
	}
}

func TestOpenRejectsBadSignature(t *testing.T) {
	data := make([]byte, 8)
	_, err := Open(stream.NewFake(data), image.NoBacking)
	assert.Error(t, err)
}

func putUTF16LE(s string) []byte {
	out := make([]byte, len(s)*2)
	for i, r := range s {
		binary.LittleEndian.PutUint16(out[i*2:i*2+2], uint16(r))
	}
	return out
}

// buildDifferencingImage lays out a 2-block differencing VHDX: block 0
// is BAT state NotPresent (defers to the parent), block 1 is BAT state
// Zero (always zero, regardless of any parent).
func buildDifferencingImage(t *testing.T) []byte {
	t.Helper()
	const (
		regionTableOffset = 192 * 1024
		metadataOffset    = 256 * 1024
		batOffset         = 320 * 1024
		blockSize         = 1 << 20 // 1 MiB
	)
	buf := make([]byte, batOffset+64*1024)
	copy(buf[0:8], fileSignature[:])

	binary.LittleEndian.PutUint32(buf[regionTableOffset:regionTableOffset+4], 0x72656769)
	binary.LittleEndian.PutUint32(buf[regionTableOffset+8:regionTableOffset+12], 2)
	putRegionEntry(buf, regionTableOffset+16, bATGUID, batOffset, 64*1024)
	putRegionEntry(buf, regionTableOffset+48, metadataGUID, metadataOffset, 64*1024)

	copy(buf[metadataOffset:metadataOffset+8], []byte(metadataTableSignature))
	binary.LittleEndian.PutUint16(buf[metadataOffset+8:metadataOffset+10], 4)
	const itemsStart = 4096
	putMetadataEntry(buf, metadataOffset+32, fileParamsID, itemsStart, 8)
	putMetadataEntry(buf, metadataOffset+56, virtualSizeID, itemsStart+8, 8)
	putMetadataEntry(buf, metadataOffset+80, logicalSectorID, itemsStart+16, 4)
	putMetadataEntry(buf, metadataOffset+104, parentLocatorID, itemsStart+64, 80)

	binary.LittleEndian.PutUint32(buf[metadataOffset+itemsStart:metadataOffset+itemsStart+4], blockSize)
	binary.LittleEndian.PutUint32(buf[metadataOffset+itemsStart+4:metadataOffset+itemsStart+8], 2) // flags: has_parent
	binary.LittleEndian.PutUint64(buf[metadataOffset+itemsStart+8:metadataOffset+itemsStart+16], uint64(2*blockSize))
	binary.LittleEndian.PutUint32(buf[metadataOffset+itemsStart+16:metadataOffset+itemsStart+20], 512)

	// parent_locator item: header(20) + one key/value entry(12), then
	// the "relative_path" key and a placeholder value, both UTF-16LE.
	locBase := metadataOffset + itemsStart + 64
	binary.LittleEndian.PutUint16(buf[locBase+18:locBase+20], 1) // key/value count
	key := putUTF16LE("relative_path")
	value := putUTF16LE("parent.vhdx")
	keyOffset, valueOffset := uint32(32), uint32(32+len(key))
	binary.LittleEndian.PutUint32(buf[locBase+20:locBase+24], keyOffset)
	binary.LittleEndian.PutUint32(buf[locBase+24:locBase+28], valueOffset)
	binary.LittleEndian.PutUint16(buf[locBase+28:locBase+30], uint16(len(key)))
	binary.LittleEndian.PutUint16(buf[locBase+30:locBase+32], uint16(len(value)))
	copy(buf[locBase+int(keyOffset):locBase+int(keyOffset)+len(key)], key)
	copy(buf[locBase+int(valueOffset):locBase+int(valueOffset)+len(value)], value)

	binary.LittleEndian.PutUint64(buf[batOffset:batOffset+8], batStateNotPresent)
	binary.LittleEndian.PutUint64(buf[batOffset+8:batOffset+16], batStateZero)
	return buf
}

func TestOpenDifferencingResolvesParent(t *testing.T) {
	parent := buildImage(t)
	child := buildDifferencingImage(t)

	layer, err := Open(stream.NewFake(child), func(name string) (stream.Stream, error) {
		assert.Equal(t, "parent.vhdx", name)
		return stream.NewFake(parent), nil
	})
	require.NoError(t, err)
	assert.EqualValues(t, 2<<20, layer.Size())

	// Block 0 is NotPresent: content must come from the parent's 0x5A
	// fill rather than zero.
	got := make([]byte, 4096)
	require.NoError(t, layer.ReadExactAt(0, got))
	for _, b := range got {
		assert.Equal(t, byte(0x5A), b)
	}

	// Block 1 is Zero: always zero, even though it has no parent data
	// at that offset.
	got2 := make([]byte, 4096)
	require.NoError(t, layer.ReadExactAt(1<<20, got2))
	for _, b := range got2 {
		assert.Equal(t, byte(0), b)
	}
}

func TestReadRejectsPartiallyPresentBlock(t *testing.T) {
	data := buildImage(t)
	const batOffset = 320 * 1024
	binary.LittleEndian.PutUint64(data[batOffset:batOffset+8], batStatePartiallyPresent)

	layer, err := Open(stream.NewFake(data), image.NoBacking)
	require.NoError(t, err)

	got := make([]byte, 4096)
	err = layer.ReadExactAt(0, got)
	assert.Error(t, err)
}
