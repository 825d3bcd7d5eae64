package ewf

import (
	"encoding/binary"
	"testing"

	"github.com/keramics/keramics/internal/decode/checksum"
	"github.com/keramics/keramics/internal/stream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func putSection(buf []byte, offset int64, typ string, nextOffset, size int64) {
	sec := buf[offset : offset+sectionHeaderSize]
	copy(sec[0:16], []byte(typ))
	binary.LittleEndian.PutUint64(sec[16:24], uint64(nextOffset))
	binary.LittleEndian.PutUint64(sec[24:32], uint64(size))
	cksum := checksum.Adler32(1, sec[0:72])
	binary.LittleEndian.PutUint32(sec[72:76], cksum)
}

// buildSegment lays out a single-segment EWF file with a volume section
// and one uncompressed chunk of sector data referenced by a table
// section.
func buildSegment(t *testing.T, fill byte) []byte {
	t.Helper()
	const (
		headerOffset  = 13
		volumeOffset  = headerOffset
		volumeDataLen = 28
		sectorsOffset = volumeOffset + sectionHeaderSize + volumeDataLen
		chunkLen      = 1 * 512 // 1 sector per chunk
		tableOffset   = sectorsOffset + sectionHeaderSize + chunkLen
		doneOffset    = tableOffset + sectionHeaderSize + 24 + 4
	)
	buf := make([]byte, doneOffset+sectionHeaderSize)
	copy(buf[0:8], signatureE01)

	putSection(buf, volumeOffset, "volume", sectorsOffset, sectionHeaderSize+volumeDataLen)
	vol := buf[volumeOffset+sectionHeaderSize : volumeOffset+sectionHeaderSize+volumeDataLen]
	binary.LittleEndian.PutUint32(vol[8:12], 1) // sectors_per_chunk
	binary.LittleEndian.PutUint64(vol[16:24], 1) // number_of_sectors

	putSection(buf, sectorsOffset, "sectors", tableOffset, sectionHeaderSize+chunkLen)
	chunkData := buf[sectorsOffset+sectionHeaderSize : sectorsOffset+sectionHeaderSize+chunkLen]
	for i := range chunkData {
		chunkData[i] = fill
	}

	putSection(buf, tableOffset, "table", doneOffset, sectionHeaderSize+24+4)
	tableBody := buf[tableOffset+sectionHeaderSize:]
	binary.LittleEndian.PutUint32(tableBody[0:4], 1) // entry count
	binary.LittleEndian.PutUint32(tableBody[24:28], 0) // offset 0 into sectors data, uncompressed

	putSection(buf, doneOffset, "done", doneOffset, sectionHeaderSize)
	return buf
}

func TestOpenAndReadChunk(t *testing.T) {
	data := buildSegment(t, 0x3C)
	layer, err := Open([]stream.Stream{stream.NewFake(data)})
	require.NoError(t, err)
	assert.Equal(t, int64(512), layer.Size())

	got := make([]byte, 512)
	require.NoError(t, layer.ReadExactAt(0, got))
	for _, b := range got {
		assert.Equal(t, byte(0x3C), b)
	}
}

func TestOpenRejectsBadSignature(t *testing.T) {
	data := make([]byte, 13)
	_, err := Open([]stream.Stream{stream.NewFake(data)})
	assert.Error(t, err)
}

func TestOpenRejectsEmptySegmentList(t *testing.T) {
	_, err := Open(nil)
	assert.Error(t, err)
}
